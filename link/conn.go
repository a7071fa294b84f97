// Package link queues and sequences commands over one unreliable
// asynchronous connection to a peer.
package link

// Characteristic addresses one attribute on a peer's service.
type Characteristic struct {
	Service string
	UUID    string
}

// Peer identifies the remote device on a connection.
type Peer struct {
	ID   string
	Name string
}

// Conn is one live link to a peer. Operations are asynchronous:
// outcomes arrive on the registered delegate, with no latency bound,
// in whatever order the link delivers them.
type Conn interface {
	Peer() Peer
	SetDelegate(d ConnDelegate)
	ReadCharacteristic(c Characteristic)
	WriteCharacteristic(c Characteristic, value []byte)
	ReadRSSI()
	Disconnect()
}

// ConnDelegate receives operation outcomes and the connection's
// end-of-life notification. A connection may drop at any moment;
// Disconnected fires exactly once.
type ConnDelegate interface {
	CharacteristicRead(c Characteristic, value []byte, err error)
	CharacteristicWritten(c Characteristic, err error)
	RSSIRead(rssi int, err error)
	Disconnected(err error)
}
