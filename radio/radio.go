// Package radio abstracts the short-range link and ships an in-memory
// simulated medium as its backend.
package radio

import (
	"context"
	"errors"

	"github.com/MiSideKick/BLE-Proximity/link"
)

var (
	// ErrClosed is returned by operations on a closed device.
	ErrClosed = errors.New("radio: device closed")
	// ErrConnectFailed is returned when a connection attempt is lost.
	ErrConnectFailed = errors.New("radio: connect failed")
	// ErrLinkDropped is the disconnect reason for a severed connection.
	ErrLinkDropped = errors.New("radio: link dropped")
	// ErrOpFailed is delivered when a link operation is lost in transit.
	ErrOpFailed = errors.New("radio: operation failed")
	// ErrNotServing is returned for traffic to a peer that is not advertising.
	ErrNotServing = errors.New("radio: peer not serving")
)

// CharacteristicDef describes one attribute an advertised service carries.
type CharacteristicDef struct {
	UUID       string
	Properties []string
}

// Service is the attribute table a device advertises.
type Service struct {
	UUID            string
	Characteristics []CharacteristicDef
}

// Advertisement is one sighting of an advertising peer.
type Advertisement struct {
	PeerID      string
	Name        string
	ServiceUUID string
	RSSI        int
}

// Handler answers characteristic traffic on the advertiser side.
type Handler interface {
	HandleRead(peer link.Peer, c link.Characteristic) ([]byte, error)
	HandleWrite(peer link.Peer, c link.Characteristic, value []byte) error
}

// Radio is a device's handle on the medium. A hardware build would
// back this with the platform BLE stack; the simulated Device backs it
// here.
type Radio interface {
	LocalID() string
	Advertise(svc Service, h Handler) error
	StopAdvertising()
	Scan(serviceUUID string, found func(Advertisement)) error
	StopScan()
	Connect(ctx context.Context, peerID string) (link.Conn, error)
	Close() error
}
