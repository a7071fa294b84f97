// Package storage provides the durable blob stores ledgers persist through.
package storage

import (
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
)

// ErrNotFound is returned by Load when no blob exists under the name.
var ErrNotFound = errors.New("storage: blob not found")

// BlobStore persists named opaque blobs. Save must be atomic: a crash
// mid-save leaves the previous blob intact.
type BlobStore interface {
	// Load returns the blob saved under name, or ErrNotFound.
	Load(name string) ([]byte, error)
	// Save overwrites the blob under name.
	Save(name string, data []byte) error
	// Close releases underlying resources.
	Close() error
}

// Open creates the blob store selected by backend ("file" or "pebble")
// rooted at dir.
func Open(backend, dir string, logger *zap.Logger) (BlobStore, error) {
	switch backend {
	case "", "file":
		return NewFileStore(dir)
	case "pebble":
		p := NewPebbleStore(filepath.Join(dir, "pebble"), logger)
		if err := p.Init(); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", backend)
	}
}
