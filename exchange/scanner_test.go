package exchange_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MiSideKick/BLE-Proximity/exchange"
	"github.com/MiSideKick/BLE-Proximity/identity"
	"github.com/MiSideKick/BLE-Proximity/link"
	"github.com/MiSideKick/BLE-Proximity/radio"
)

// fakeRadio hands the scan callback and a scripted connection straight
// to the test instead of going through the simulated air.
type fakeRadio struct {
	conn         *scriptedConn
	advertiseErr error
	scanErr      error

	mu           sync.Mutex
	found        func(radio.Advertisement)
	stopAdvCalls int
	closeCalls   int
}

var _ radio.Radio = (*fakeRadio)(nil)

func (r *fakeRadio) LocalID() string { return "fake-radio" }

func (r *fakeRadio) Advertise(radio.Service, radio.Handler) error {
	return r.advertiseErr
}

func (r *fakeRadio) StopAdvertising() {
	r.mu.Lock()
	r.stopAdvCalls++
	r.mu.Unlock()
}

func (r *fakeRadio) Scan(_ string, found func(radio.Advertisement)) error {
	if r.scanErr != nil {
		return r.scanErr
	}
	r.mu.Lock()
	r.found = found
	r.mu.Unlock()
	return nil
}

func (r *fakeRadio) StopScan() {}

func (r *fakeRadio) Connect(context.Context, string) (link.Conn, error) {
	return r.conn, nil
}

func (r *fakeRadio) Close() error {
	r.mu.Lock()
	r.closeCalls++
	r.mu.Unlock()
	return nil
}

func (r *fakeRadio) counts() (stopAdv, closes int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopAdvCalls, r.closeCalls
}

func (r *fakeRadio) discover(adv radio.Advertisement) {
	r.mu.Lock()
	found := r.found
	r.mu.Unlock()
	if found != nil {
		found(adv)
	}
}

// scriptedConn is a link.Conn whose operation outcomes the test fixes
// up front. Outcomes arrive on the delegate from separate goroutines,
// and operations on a disconnected conn vanish without a completion,
// matching the simulated link.
type scriptedConn struct {
	peer      link.Peer
	rssi      int
	rssiErr   error
	writeErr  error
	readValue []byte
	readErr   error

	mu       sync.Mutex
	delegate link.ConnDelegate
	severed  bool
	rssiOps  int
	writeOps int
	readOps  int

	closed chan struct{}
}

var _ link.Conn = (*scriptedConn)(nil)

func newScriptedConn(peerID string) *scriptedConn {
	return &scriptedConn{
		peer:   link.Peer{ID: peerID, Name: peerID},
		rssi:   -60,
		closed: make(chan struct{}),
	}
}

func (c *scriptedConn) Peer() link.Peer { return c.peer }

func (c *scriptedConn) SetDelegate(d link.ConnDelegate) {
	c.mu.Lock()
	c.delegate = d
	c.mu.Unlock()
}

func (c *scriptedConn) ReadRSSI() {
	c.mu.Lock()
	if c.severed {
		c.mu.Unlock()
		return
	}
	c.rssiOps++
	d := c.delegate
	c.mu.Unlock()
	go d.RSSIRead(c.rssi, c.rssiErr)
}

func (c *scriptedConn) WriteCharacteristic(char link.Characteristic, _ []byte) {
	c.mu.Lock()
	if c.severed {
		c.mu.Unlock()
		return
	}
	c.writeOps++
	d := c.delegate
	c.mu.Unlock()
	go d.CharacteristicWritten(char, c.writeErr)
}

func (c *scriptedConn) ReadCharacteristic(char link.Characteristic) {
	c.mu.Lock()
	if c.severed {
		c.mu.Unlock()
		return
	}
	c.readOps++
	d := c.delegate
	c.mu.Unlock()
	go d.CharacteristicRead(char, c.readValue, c.readErr)
}

func (c *scriptedConn) Disconnect() {
	c.mu.Lock()
	if c.severed {
		c.mu.Unlock()
		return
	}
	c.severed = true
	d := c.delegate
	c.mu.Unlock()
	close(c.closed)
	go d.Disconnected(nil)
}

func (c *scriptedConn) ops() (rssi, writes, reads int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rssiOps, c.writeOps, c.readOps
}

func startTestScanner(t *testing.T, store *identity.Store, conn *scriptedConn, rec exchange.Recorder) (*exchange.Scanner, *fakeRadio) {
	t.Helper()
	r := &fakeRadio{conn: conn}
	sc := exchange.NewScanner(store, r, exchange.Options{}, rec, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, sc.Start(ctx))
	return sc, r
}

func waitForDrop(t *testing.T, conn *scriptedConn) {
	t.Helper()
	select {
	case <-conn.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("scanner never dropped the link")
	}
}

func testAdvertisement(peerID string) radio.Advertisement {
	return radio.Advertisement{
		PeerID:      peerID,
		Name:        peerID,
		ServiceUUID: exchange.DefaultServiceUUID,
		RSSI:        -40,
	}
}

// A failed signal strength reading ends the script before the write:
// nothing else is sent over the link and neither side gains an entry.
func TestScannerRSSIFailureAbortsScript(t *testing.T) {
	store := openTestStore(t)
	conn := newScriptedConn("peer-1")
	conn.rssiErr = radio.ErrOpFailed
	rec := &captureRecorder{}
	sc, r := startTestScanner(t, store, conn, rec)

	r.discover(testAdvertisement("peer-1"))
	waitForDrop(t, conn)

	rssi, writes, reads := conn.ops()
	assert.Equal(t, 1, rssi)
	assert.Zero(t, writes)
	assert.Zero(t, reads)
	assert.Zero(t, sc.Exchanges())
	assert.Empty(t, store.SnapshotPeers())
	assert.Empty(t, rec.all())
}

// A failed write is logged and skipped: the read still runs and the
// peer's identifier still lands in the ledger.
func TestScannerWriteFailureContinuesToRead(t *testing.T) {
	store := openTestStore(t)
	peerID, err := identity.NewIdentifier()
	require.NoError(t, err)

	conn := newScriptedConn("peer-1")
	conn.writeErr = radio.ErrOpFailed
	conn.readValue = identity.EncodeIdentifier(peerID)
	rec := &captureRecorder{}
	sc, r := startTestScanner(t, store, conn, rec)

	r.discover(testAdvertisement("peer-1"))
	waitForDrop(t, conn)

	rssi, writes, reads := conn.ops()
	assert.Equal(t, 1, rssi)
	assert.Equal(t, 1, writes)
	assert.Equal(t, 1, reads)

	assert.EqualValues(t, 1, sc.Exchanges())
	peers := store.SnapshotPeers()
	require.Len(t, peers, 1)
	assert.Equal(t, peerID, peers[0].ID)

	sightings := rec.all()
	require.Len(t, sightings, 1)
	assert.Equal(t, exchange.RoleScanner, sightings[0].Role)
	assert.Equal(t, "peer-1", sightings[0].PeerDevice)
	assert.Equal(t, peerID, sightings[0].PeerID)
	assert.Equal(t, -60, sightings[0].RSSI)
}

// A failed read records nothing but does not strand the link: the
// script still reaches its cancel step and disconnects.
func TestScannerReadFailureStillDisconnects(t *testing.T) {
	store := openTestStore(t)
	conn := newScriptedConn("peer-1")
	conn.readErr = radio.ErrOpFailed
	rec := &captureRecorder{}
	sc, r := startTestScanner(t, store, conn, rec)

	r.discover(testAdvertisement("peer-1"))
	waitForDrop(t, conn)

	rssi, writes, reads := conn.ops()
	assert.Equal(t, 1, rssi)
	assert.Equal(t, 1, writes)
	assert.Equal(t, 1, reads)
	assert.Zero(t, sc.Exchanges())
	assert.Empty(t, store.SnapshotPeers())
	assert.Empty(t, rec.all())
}
