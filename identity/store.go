package identity

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/MiSideKick/BLE-Proximity/storage"
)

// Ledger blob names in the blob store.
const (
	LedgerMine  = "myIds"
	LedgerPeers = "peerIds"
)

const (
	// DefaultRetention is the age beyond which ledger entries expire.
	DefaultRetention = 28 * 24 * time.Hour
	// DefaultPeerCap bounds peer ledger growth between sweeps.
	DefaultPeerCap = 50000
)

// StoreOptions tune retention windows and growth bounds. Zero values
// take the defaults.
type StoreOptions struct {
	MyRetention   time.Duration
	PeerRetention time.Duration
	PeerCap       int
}

func (o StoreOptions) withDefaults() StoreOptions {
	if o.MyRetention <= 0 {
		o.MyRetention = DefaultRetention
	}
	if o.PeerRetention <= 0 {
		o.PeerRetention = DefaultRetention
	}
	if o.PeerCap <= 0 {
		o.PeerCap = DefaultPeerCap
	}
	return o
}

// Store owns the two identifier ledgers and their persistence. All
// reads, appends, and saves serialize through its one lock.
type Store struct {
	mu      sync.RWMutex
	mine    *Ledger
	peers   *Ledger
	current Identifier

	blobs storage.BlobStore
	opts  StoreOptions
	log   *zap.Logger
}

// NewStore wires a store to its blob backend. Call Open before use.
func NewStore(blobs storage.BlobStore, opts StoreOptions, log *zap.Logger) *Store {
	return &Store{
		mine:  &Ledger{},
		peers: &Ledger{},
		blobs: blobs,
		opts:  opts.withDefaults(),
		log:   log,
	}
}

// Open loads both ledgers, expires stale entries, and rotates in a
// fresh local identifier before anything can ask for the current one.
// After Open, Current never observes an empty local ledger.
func (s *Store) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mine = s.loadLedger(LedgerMine)
	s.peers = s.loadLedger(LedgerPeers)

	now := time.Now()
	if removed := s.peers.Expire(now, s.opts.PeerRetention); removed > 0 {
		s.log.Info("Expired peer identifiers", zap.Int("removed", removed))
		s.saveLedger(LedgerPeers, s.peers)
	}
	// Rotation below rewrites the local ledger blob, so its expiry
	// needs no separate save.
	if removed := s.mine.Expire(now, s.opts.MyRetention); removed > 0 {
		s.log.Info("Expired local identifiers", zap.Int("removed", removed))
	}

	if _, err := s.rotateLocked(now); err != nil {
		return err
	}

	s.log.Info("Identity store opened",
		zap.Int("myIds", s.mine.Len()),
		zap.Int("peerIds", s.peers.Len()),
		zap.String("current", ShortID(s.current.String())))
	return nil
}

// Current returns the most recent local identifier. The store rotates
// during Open, so afterwards this is always a generated value.
func (s *Store) Current() Identifier {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Rotate generates a fresh local identifier, appends it with the
// generation time, and persists the ledger.
func (s *Store) Rotate() (Identifier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := s.rotateLocked(time.Now())
	if err != nil {
		return 0, err
	}
	s.log.Info("Rotated local identifier", zap.String("id", ShortID(id.String())))
	return id, nil
}

// RecordPeer appends a received identifier with its receipt time and
// persists immediately. Persistence failures are logged, not returned.
func (s *Store) RecordPeer(id Identifier, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers.Append(Entry{ID: id, ObservedAt: now.Unix()})
	if dropped := s.peers.TrimOldest(s.opts.PeerCap); dropped > 0 {
		s.log.Warn("Peer ledger over cap, dropped oldest",
			zap.Int("dropped", dropped), zap.Int("cap", s.opts.PeerCap))
	}
	s.saveLedger(LedgerPeers, s.peers)
}

// ExpireSweep expires both ledgers against their retention windows,
// persisting only the ones that changed.
func (s *Store) ExpireSweep(now time.Time) (mine, peers int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mine = s.mine.Expire(now, s.opts.MyRetention); mine > 0 {
		s.saveLedger(LedgerMine, s.mine)
	}
	if peers = s.peers.Expire(now, s.opts.PeerRetention); peers > 0 {
		s.saveLedger(LedgerPeers, s.peers)
	}
	if mine+peers > 0 {
		s.log.Info("Expiry sweep removed entries",
			zap.Int("myIds", mine), zap.Int("peerIds", peers))
	}
	return mine, peers
}

// SnapshotMine returns a copy of the local identifier ledger.
func (s *Store) SnapshotMine() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mine.Entries()
}

// SnapshotPeers returns a copy of the received identifier ledger.
func (s *Store) SnapshotPeers() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peers.Entries()
}

// Counts returns the sizes of both ledgers.
func (s *Store) Counts() (mine, peers int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mine.Len(), s.peers.Len()
}

// Close persists both ledgers a final time and closes the blob store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveLedger(LedgerMine, s.mine)
	s.saveLedger(LedgerPeers, s.peers)
	return s.blobs.Close()
}

// rotateLocked generates a fresh identifier, appends it, makes it
// current, and persists the local ledger. Caller holds mu.
func (s *Store) rotateLocked(now time.Time) (Identifier, error) {
	id, err := NewIdentifier()
	if err != nil {
		return 0, err
	}
	s.mine.Append(Entry{ID: id, ObservedAt: now.Unix()})
	s.current = id
	s.saveLedger(LedgerMine, s.mine)
	return id, nil
}

// loadLedger is best-effort: a missing blob starts fresh, a corrupt or
// unreadable one is logged and discarded.
func (s *Store) loadLedger(name string) *Ledger {
	data, err := s.blobs.Load(name)
	if errors.Is(err, storage.ErrNotFound) {
		s.log.Debug("No persisted ledger (starting fresh)", zap.String("ledger", name))
		return &Ledger{}
	}
	if err != nil {
		s.log.Warn("Failed to load ledger (starting fresh)",
			zap.String("ledger", name), zap.Error(err))
		return &Ledger{}
	}
	l, err := UnmarshalLedger(data)
	if err != nil {
		s.log.Warn("Failed to decode ledger (starting fresh)",
			zap.String("ledger", name), zap.Error(err))
		return &Ledger{}
	}
	return l
}

// saveLedger persists best-effort: failures are logged, never returned.
func (s *Store) saveLedger(name string, l *Ledger) {
	if err := s.blobs.Save(name, MarshalLedger(l)); err != nil {
		s.log.Warn("Failed to persist ledger",
			zap.String("ledger", name), zap.Error(err))
	}
}
