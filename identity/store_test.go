package identity_test

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MiSideKick/BLE-Proximity/identity"
	"github.com/MiSideKick/BLE-Proximity/storage"
)

func newTestStore(t *testing.T, dir string, opts identity.StoreOptions) *identity.Store {
	t.Helper()
	blobs, err := storage.NewFileStore(dir)
	require.NoError(t, err)
	return identity.NewStore(blobs, opts, zap.NewNop())
}

func TestStoreOpenRotates(t *testing.T) {
	dir := t.TempDir()

	s := newTestStore(t, dir, identity.StoreOptions{})
	require.NoError(t, s.Open())

	first := s.Current()
	assert.NotZero(t, first)
	assert.Len(t, s.SnapshotMine(), 1)
	require.NoError(t, s.Close())

	// A second start loads the persisted ledger and rotates again.
	s2 := newTestStore(t, dir, identity.StoreOptions{})
	require.NoError(t, s2.Open())

	mine := s2.SnapshotMine()
	require.Len(t, mine, 2)
	assert.Equal(t, first, mine[0].ID)
	assert.NotEqual(t, first, s2.Current())
	assert.Equal(t, s2.Current(), mine[1].ID)
}

func TestStoreOpenStartsFreshOnCorruptBlob(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, identity.LedgerMine+".pb"), []byte{0xff, 0xff}, 0644))

	s := newTestStore(t, dir, identity.StoreOptions{})
	require.NoError(t, s.Open())
	assert.Len(t, s.SnapshotMine(), 1)
}

func TestStoreRecordPeerPersists(t *testing.T) {
	dir := t.TempDir()

	s := newTestStore(t, dir, identity.StoreOptions{})
	require.NoError(t, s.Open())
	s.RecordPeer(0x2002, time.Now())
	require.NoError(t, s.Close())

	s2 := newTestStore(t, dir, identity.StoreOptions{})
	require.NoError(t, s2.Open())
	peers := s2.SnapshotPeers()
	require.Len(t, peers, 1)
	assert.Equal(t, identity.Identifier(0x2002), peers[0].ID)
}

func TestStoreOpenExpiresLoadedEntries(t *testing.T) {
	dir := t.TempDir()
	blobs, err := storage.NewFileStore(dir)
	require.NoError(t, err)

	old := time.Now().Add(-5 * 7 * 24 * time.Hour).Unix()
	fresh := time.Now().Unix()
	l := &identity.Ledger{}
	l.Append(identity.Entry{ID: 1, ObservedAt: old})
	l.Append(identity.Entry{ID: 2, ObservedAt: fresh})
	require.NoError(t, blobs.Save(identity.LedgerPeers, identity.MarshalLedger(l)))

	s := identity.NewStore(blobs, identity.StoreOptions{}, zap.NewNop())
	require.NoError(t, s.Open())

	peers := s.SnapshotPeers()
	require.Len(t, peers, 1)
	assert.Equal(t, identity.Identifier(2), peers[0].ID)
}

// countingBlobs wraps a blob store and counts saves per name.
type countingBlobs struct {
	storage.BlobStore
	mu    sync.Mutex
	saves map[string]int
}

func newCountingBlobs(t *testing.T, dir string) *countingBlobs {
	t.Helper()
	inner, err := storage.NewFileStore(dir)
	require.NoError(t, err)
	return &countingBlobs{BlobStore: inner, saves: make(map[string]int)}
}

func (b *countingBlobs) Save(name string, data []byte) error {
	b.mu.Lock()
	b.saves[name]++
	b.mu.Unlock()
	return b.BlobStore.Save(name, data)
}

func (b *countingBlobs) count(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saves[name]
}

func TestStoreExpireSweep(t *testing.T) {
	blobs := newCountingBlobs(t, t.TempDir())
	s := identity.NewStore(blobs, identity.StoreOptions{}, zap.NewNop())
	require.NoError(t, s.Open())

	s.RecordPeer(10, time.Now().Add(-5*7*24*time.Hour))
	s.RecordPeer(11, time.Now())

	mineSaves := blobs.count(identity.LedgerMine)
	peerSaves := blobs.count(identity.LedgerPeers)

	mine, peers := s.ExpireSweep(time.Now())
	assert.Zero(t, mine)
	assert.Equal(t, 1, peers)

	left := s.SnapshotPeers()
	require.Len(t, left, 1)
	assert.Equal(t, identity.Identifier(11), left[0].ID)

	// Only the ledger the sweep touched is rewritten.
	assert.Equal(t, peerSaves+1, blobs.count(identity.LedgerPeers))
	assert.Equal(t, mineSaves, blobs.count(identity.LedgerMine))

	// A sweep that removes nothing rewrites nothing.
	s.ExpireSweep(time.Now())
	assert.Equal(t, peerSaves+1, blobs.count(identity.LedgerPeers))
	assert.Equal(t, mineSaves, blobs.count(identity.LedgerMine))
}

func TestStorePeerCap(t *testing.T) {
	s := newTestStore(t, t.TempDir(), identity.StoreOptions{PeerCap: 3})
	require.NoError(t, s.Open())

	for i := 1; i <= 5; i++ {
		s.RecordPeer(identity.Identifier(i), time.Now())
	}

	peers := s.SnapshotPeers()
	require.Len(t, peers, 3)
	assert.Equal(t, identity.Identifier(3), peers[0].ID)
	assert.Equal(t, identity.Identifier(5), peers[2].ID)
}

// failingBlobs rejects every save to exercise the best-effort path.
type failingBlobs struct{}

func (failingBlobs) Load(string) ([]byte, error) { return nil, storage.ErrNotFound }
func (failingBlobs) Save(string, []byte) error   { return errors.New("disk full") }
func (failingBlobs) Close() error                { return nil }

func TestStoreSwallowsSaveFailures(t *testing.T) {
	s := identity.NewStore(failingBlobs{}, identity.StoreOptions{}, zap.NewNop())
	require.NoError(t, s.Open())

	s.RecordPeer(0x77, time.Now())

	mine, peers := s.Counts()
	assert.Equal(t, 1, mine)
	assert.Equal(t, 1, peers)
}

func TestStoreConcurrentAccess(t *testing.T) {
	s := newTestStore(t, t.TempDir(), identity.StoreOptions{})
	require.NoError(t, s.Open())

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				s.RecordPeer(identity.Identifier(g*100+i), time.Now())
				_ = s.Current()
				_ = s.SnapshotPeers()
			}
		}(g)
	}
	wg.Wait()

	_, peers := s.Counts()
	assert.Equal(t, 8*25, peers)
}
