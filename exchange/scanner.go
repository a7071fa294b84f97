package exchange

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/MiSideKick/BLE-Proximity/identity"
	"github.com/MiSideKick/BLE-Proximity/link"
	"github.com/MiSideKick/BLE-Proximity/radio"
)

// Scanner watches for advertising peers and runs the exchange script
// against each: probe signal strength, write our identifier, read
// theirs, disconnect.
type Scanner struct {
	store    *identity.Store
	radio    radio.Radio
	opts     Options
	recorder Recorder
	notifier Notifier
	log      *zap.Logger

	mu      sync.Mutex
	lastTry map[string]time.Time
	active  map[string]bool

	exchanges atomic.Uint64
}

// NewScanner builds the scanning role.
func NewScanner(store *identity.Store, r radio.Radio, opts Options, recorder Recorder, notifier Notifier, log *zap.Logger) *Scanner {
	opts = opts.withDefaults()
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Scanner{
		store:    store,
		radio:    r,
		opts:     opts,
		recorder: recorder,
		notifier: notifier,
		log:      log,
		lastTry:  make(map[string]time.Time),
		active:   make(map[string]bool),
	}
}

// Start begins scanning. Discovered peers get a fresh connection and
// one run of the script, at most once per cooldown window each.
func (s *Scanner) Start(ctx context.Context) error {
	return s.radio.Scan(s.opts.ServiceUUID, func(adv radio.Advertisement) {
		s.onDiscovered(ctx, adv)
	})
}

// Stop ends the scan. In-flight exchanges finish on their own.
func (s *Scanner) Stop() {
	s.radio.StopScan()
}

// Exchanges reports how many peer identifiers the scanner has recorded.
func (s *Scanner) Exchanges() uint64 {
	return s.exchanges.Load()
}

func (s *Scanner) onDiscovered(ctx context.Context, adv radio.Advertisement) {
	if !s.shouldAttempt(adv.PeerID) {
		return
	}
	s.log.Debug("Discovered advertiser",
		zap.String("peer", identity.ShortID(adv.PeerID)),
		zap.Int("rssi", adv.RSSI))
	go s.exchange(ctx, adv)
}

// shouldAttempt allows one attempt per peer per cooldown window, with
// at most one exchange in flight per peer. Advertisers re-report on
// every discovery tick, so unthrottled attempts would flood both
// ledgers with duplicates.
func (s *Scanner) shouldAttempt(peerID string) bool {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(now)
	if s.active[peerID] {
		return false
	}
	if last, ok := s.lastTry[peerID]; ok && now.Sub(last) < s.opts.Cooldown {
		return false
	}
	s.lastTry[peerID] = now
	s.active[peerID] = true
	return true
}

// pruneLocked drops attempt records whose cooldown has lapsed, so the
// map does not grow with every peer the scanner has ever seen.
func (s *Scanner) pruneLocked(now time.Time) {
	for id, last := range s.lastTry {
		if !s.active[id] && now.Sub(last) >= s.opts.Cooldown {
			delete(s.lastTry, id)
		}
	}
}

func (s *Scanner) finish(peerID string) {
	s.mu.Lock()
	delete(s.active, peerID)
	s.mu.Unlock()
}

func (s *Scanner) exchange(ctx context.Context, adv radio.Advertisement) {
	defer s.finish(adv.PeerID)

	conn, err := s.radio.Connect(ctx, adv.PeerID)
	if err != nil {
		s.log.Debug("Connect failed",
			zap.String("peer", identity.ShortID(adv.PeerID)), zap.Error(err))
		return
	}

	peerLog := s.log.With(zap.String("peer", identity.ShortID(adv.PeerID)))
	char := link.Characteristic{Service: s.opts.ServiceUUID, UUID: s.opts.CharacteristicUUID}

	// Callbacks run on the scheduler goroutine, so measured is safe to
	// share between them.
	var measured int

	cb := link.Callbacks{
		OnRSSI: func(rssi int, err error) {
			if err != nil {
				// No signal strength reading means no exchange: drop
				// the link instead of running the rest of the script.
				peerLog.Info("RSSI probe failed, disconnecting", zap.Error(err))
				conn.Disconnect()
				return
			}
			measured = rssi
			peerLog.Debug("Measured signal strength", zap.Int("rssi", rssi))
		},
		OnWriteResult: func(_ link.Characteristic, err error) {
			if err != nil {
				peerLog.Warn("Identifier write failed", zap.Error(err))
				return
			}
			peerLog.Debug("Wrote current identifier")
		},
		OnValue: func(_ link.Characteristic, value []byte) {
			id, err := identity.DecodeIdentifier(value)
			if err != nil {
				peerLog.Warn("Peer answered with no usable data", zap.Int("bytes", len(value)))
				return
			}
			now := time.Now()
			s.store.RecordPeer(id, now)
			s.exchanges.Add(1)
			s.recordSighting(Sighting{
				PeerDevice: adv.PeerID,
				PeerID:     id,
				Role:       RoleScanner,
				RSSI:       measured,
				ObservedAt: now,
			})
			s.notifier.Notify(fmt.Sprintf("exchanged identifiers with %s", identity.ShortID(adv.PeerID)))
			peerLog.Info("Recorded peer identifier", zap.String("id", identity.ShortID(id.String())))
		},
		OnReadError: func(_ link.Characteristic, err error) {
			peerLog.Warn("Identifier read failed", zap.Error(err))
		},
		OnClosed: func(err error) {
			if err != nil {
				peerLog.Debug("Connection ended early", zap.Error(err))
			}
		},
	}

	sched := link.NewScheduler(conn, cb, peerLog)
	sched.Enqueue(
		link.ReadRSSI(),
		link.Write(char, func(link.Peer) []byte {
			return identity.EncodeIdentifier(s.store.Current())
		}),
		link.Read(char),
		link.Cancel(conn.Disconnect),
	)

	select {
	case <-sched.Done():
	case <-ctx.Done():
		conn.Disconnect()
		<-sched.Done()
	}
}

func (s *Scanner) recordSighting(sg Sighting) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordSighting(sg); err != nil {
		s.log.Warn("Failed to journal sighting", zap.Error(err))
	}
}
