package radio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/MiSideKick/BLE-Proximity/link"
)

// shortID truncates a device ID for log output (max 8 chars).
func shortID(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// Device is one simulated radio endpoint. It implements Radio.
type Device struct {
	id   string
	name string
	air  *Air
	log  *zap.Logger

	mu          sync.Mutex
	advertising bool
	service     Service
	handler     Handler
	scanning    bool
	scanStop    chan struct{}
	conns       map[*simConn]struct{}
	closed      bool
}

// LocalID returns the device's medium-level identity.
func (d *Device) LocalID() string {
	return d.id
}

// Name returns the device's human-readable name.
func (d *Device) Name() string {
	return d.name
}

// Advertise starts serving the service through h. Connections from
// scanners reach h until StopAdvertising or Close.
func (d *Device) Advertise(svc Service, h Handler) error {
	if h == nil {
		return fmt.Errorf("radio: nil handler")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.advertising = true
	d.service = svc
	d.handler = h
	d.log.Info("Advertising started", zap.String("service", svc.UUID))
	return nil
}

// StopAdvertising makes the device invisible and unconnectable.
func (d *Device) StopAdvertising() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.advertising = false
}

// Scan starts reporting advertisers for serviceUUID until StopScan.
// Peers are re-reported every discovery interval; deduplication is the
// caller's concern.
func (d *Device) Scan(serviceUUID string, found func(Advertisement)) error {
	if found == nil {
		return fmt.Errorf("radio: nil discovery callback")
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	if d.scanning {
		d.mu.Unlock()
		return fmt.Errorf("radio: scan already running")
	}
	stop := make(chan struct{})
	d.scanning = true
	d.scanStop = stop
	d.mu.Unlock()

	d.log.Info("Scan started", zap.String("service", serviceUUID))
	go d.scanLoop(serviceUUID, found, stop)
	return nil
}

// StopScan ends an active scan.
func (d *Device) StopScan() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopScanLocked()
}

func (d *Device) stopScanLocked() {
	if d.scanning {
		d.scanning = false
		close(d.scanStop)
	}
}

func (d *Device) scanLoop(serviceUUID string, found func(Advertisement), stop chan struct{}) {
	ticker := time.NewTicker(d.air.cfg.DiscoveryInterval)
	defer ticker.Stop()

	for {
		for _, adv := range d.air.snapshotAdvertisers(serviceUUID, d.id) {
			select {
			case <-stop:
				return
			default:
			}
			found(adv)
		}
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

// Connect establishes a link to an advertising peer. It applies the
// medium's latency and failure behavior and honors ctx during the
// connection delay.
func (d *Device) Connect(ctx context.Context, peerID string) (link.Conn, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrClosed
	}
	d.mu.Unlock()

	target := d.air.lookup(peerID)
	if target == nil {
		return nil, fmt.Errorf("radio: unknown peer %s", shortID(peerID))
	}

	delay := d.air.connectDelay()
	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	if d.air.rollFailure(d.air.cfg.ConnectFailureRate) {
		d.log.Debug("Connect attempt lost", zap.String("peer", shortID(peerID)))
		return nil, fmt.Errorf("radio: connect to %s: %w", shortID(peerID), ErrConnectFailed)
	}
	if !target.connectable() {
		return nil, fmt.Errorf("radio: connect to %s: %w", shortID(peerID), ErrNotServing)
	}

	c := &simConn{
		local:  d,
		remote: target,
		peer:   link.Peer{ID: target.id, Name: target.name},
	}
	d.track(c)
	target.track(c)

	d.log.Debug("Connected", zap.String("peer", shortID(peerID)))
	return c, nil
}

// SeverConnections force-drops every live connection this device is
// part of, delivering the reason to the other sides' delegates.
func (d *Device) SeverConnections(reason error) {
	for _, c := range d.snapshotConns() {
		c.sever(reason)
	}
}

// Close removes the device from the medium: advertising stops, the
// scan ends, and every live connection is severed.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.advertising = false
	d.handler = nil
	d.stopScanLocked()
	d.mu.Unlock()

	d.SeverConnections(ErrLinkDropped)
	d.air.remove(d.id)
	d.log.Debug("Device left air")
	return nil
}

func (d *Device) connectable() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.advertising && !d.closed
}

// advertisingInfo reports the advertised service if it matches filter.
func (d *Device) advertisingInfo(filter string) (svcUUID, name string, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.advertising || d.closed {
		return "", "", false
	}
	if filter != "" && d.service.UUID != filter {
		return "", "", false
	}
	return d.service.UUID, d.name, true
}

func (d *Device) track(c *simConn) {
	d.mu.Lock()
	d.conns[c] = struct{}{}
	d.mu.Unlock()
}

func (d *Device) forget(c *simConn) {
	d.mu.Lock()
	delete(d.conns, c)
	d.mu.Unlock()
}

func (d *Device) snapshotConns() []*simConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*simConn, 0, len(d.conns))
	for c := range d.conns {
		out = append(out, c)
	}
	return out
}

// handleRead routes a peer's read to this device's advertised handler.
func (d *Device) handleRead(peer link.Peer, char link.Characteristic) ([]byte, error) {
	d.mu.Lock()
	h := d.handler
	serving := d.advertising && !d.closed
	d.mu.Unlock()
	if !serving || h == nil {
		return nil, ErrNotServing
	}
	return h.HandleRead(peer, char)
}

// handleWrite routes a peer's write to this device's advertised handler.
func (d *Device) handleWrite(peer link.Peer, char link.Characteristic, value []byte) error {
	d.mu.Lock()
	h := d.handler
	serving := d.advertising && !d.closed
	d.mu.Unlock()
	if !serving || h == nil {
		return ErrNotServing
	}
	return h.HandleWrite(peer, char, value)
}

// simConn is the scanner-side handle on one simulated connection.
// Operations complete asynchronously on their own goroutines, the way
// a platform BLE stack delivers results.
type simConn struct {
	local  *Device
	remote *Device
	peer   link.Peer

	mu       sync.Mutex
	delegate link.ConnDelegate
	closed   bool
}

func (c *simConn) Peer() link.Peer {
	return c.peer
}

// SetDelegate registers the outcome receiver. Registering on an
// already-severed connection delivers Disconnected immediately so the
// drop cannot be missed.
func (c *simConn) SetDelegate(d link.ConnDelegate) {
	c.mu.Lock()
	c.delegate = d
	closed := c.closed
	c.mu.Unlock()
	if closed && d != nil {
		go d.Disconnected(ErrLinkDropped)
	}
}

func (c *simConn) ReadCharacteristic(char link.Characteristic) {
	go func() {
		del, ok := c.settle()
		if !ok {
			return
		}
		if c.air().rollFailure(c.air().cfg.OpFailureRate) {
			del.CharacteristicRead(char, nil, fmt.Errorf("radio: read %s: %w", char.UUID, ErrOpFailed))
			return
		}
		value, err := c.remote.handleRead(c.localPeer(), char)
		del.CharacteristicRead(char, value, err)
	}()
}

func (c *simConn) WriteCharacteristic(char link.Characteristic, value []byte) {
	go func() {
		del, ok := c.settle()
		if !ok {
			return
		}
		if c.air().rollFailure(c.air().cfg.OpFailureRate) {
			del.CharacteristicWritten(char, fmt.Errorf("radio: write %s: %w", char.UUID, ErrOpFailed))
			return
		}
		err := c.remote.handleWrite(c.localPeer(), char, value)
		del.CharacteristicWritten(char, err)
	}()
}

func (c *simConn) ReadRSSI() {
	go func() {
		del, ok := c.settle()
		if !ok {
			return
		}
		if c.air().rollFailure(c.air().cfg.OpFailureRate) {
			del.RSSIRead(0, fmt.Errorf("radio: rssi probe: %w", ErrOpFailed))
			return
		}
		del.RSSIRead(c.air().rssiBetween(c.local.id, c.remote.id), nil)
	}()
}

func (c *simConn) Disconnect() {
	c.sever(nil)
}

func (c *simConn) air() *Air {
	return c.local.air
}

func (c *simConn) localPeer() link.Peer {
	return link.Peer{ID: c.local.id, Name: c.local.name}
}

// settle applies the per-operation delay and drop roll, returning the
// delegate to deliver to, or ok=false when the operation should vanish
// (connection already or newly dead).
func (c *simConn) settle() (link.ConnDelegate, bool) {
	if delay := c.air().opDelay(); delay > 0 {
		time.Sleep(delay)
	}

	c.mu.Lock()
	closed := c.closed
	del := c.delegate
	c.mu.Unlock()
	if closed {
		return nil, false
	}

	if c.air().rollFailure(c.air().cfg.DropRate) {
		c.sever(ErrLinkDropped)
		return nil, false
	}
	if del == nil {
		return nil, false
	}
	return del, true
}

// sever ends the connection once, delivering err to the delegate. A
// nil err is a requested disconnect.
func (c *simConn) sever(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	del := c.delegate
	c.mu.Unlock()

	c.local.forget(c)
	c.remote.forget(c)

	if del != nil {
		go del.Disconnected(err)
	}
}
