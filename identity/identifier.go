// Package identity generates, encodes, and retains the anonymous
// identifiers devices exchange over the proximity link.
package identity

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
)

// IdentifierSize is the fixed wire size of an encoded identifier in bytes.
const IdentifierSize = 8

// ErrShortValue is returned when a payload is too short to hold an identifier.
var ErrShortValue = errors.New("identity: value shorter than 8 bytes")

// Identifier is an anonymous random 64-bit value a device answers by.
// It carries no device state and is never sequential.
type Identifier uint64

// NewIdentifier generates an identifier from the OS random source.
func NewIdentifier() (Identifier, error) {
	var buf [IdentifierSize]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, fmt.Errorf("identity: generate identifier: %w", err)
	}
	return Identifier(binary.LittleEndian.Uint64(buf[:])), nil
}

// String renders the identifier as fixed-width hex.
func (id Identifier) String() string {
	return fmt.Sprintf("%016x", uint64(id))
}

// ParseIdentifier reads the hex form produced by String.
func ParseIdentifier(s string) (Identifier, error) {
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("identity: parse identifier %q: %w", s, err)
	}
	return Identifier(v), nil
}

// EncodeIdentifier produces the 8-byte little-endian wire form.
// Byte order is fixed regardless of platform.
func EncodeIdentifier(id Identifier) []byte {
	buf := make([]byte, IdentifierSize)
	binary.LittleEndian.PutUint64(buf, uint64(id))
	return buf
}

// DecodeIdentifier reads an identifier from the first 8 bytes of value.
// Shorter input returns ErrShortValue: a truncated payload carries no
// usable data and is not treated as a transport failure.
func DecodeIdentifier(value []byte) (Identifier, error) {
	if len(value) < IdentifierSize {
		return 0, ErrShortValue
	}
	return Identifier(binary.LittleEndian.Uint64(value[:IdentifierSize])), nil
}

// ShortID truncates a device ID for log output (max 8 chars).
func ShortID(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	if s == "" {
		return "(empty)"
	}
	return s
}
