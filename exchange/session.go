package exchange

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MiSideKick/BLE-Proximity/identity"
	"github.com/MiSideKick/BLE-Proximity/radio"
)

// Deployment attribute layout: one service, one identity
// characteristic serving both the read and the write direction.
const (
	DefaultServiceUUID        = "C7E70001-6E3B-44D1-B1E7-A4E2D5F9A2C4"
	DefaultCharacteristicUUID = "C7E70002-6E3B-44D1-B1E7-A4E2D5F9A2C4"
)

// Options fixes the service layout and exchange pacing. Zero values
// take the defaults.
type Options struct {
	ServiceUUID        string
	CharacteristicUUID string
	// Cooldown is the minimum gap between exchanges with one peer.
	Cooldown time.Duration
	// SweepInterval is the expiry sweep cadence.
	SweepInterval time.Duration
	// RotateEvery arms periodic identifier rotation on top of the
	// rotate-on-start behavior. Zero keeps start-only rotation.
	RotateEvery time.Duration
}

func (o Options) withDefaults() Options {
	if o.ServiceUUID == "" {
		o.ServiceUUID = DefaultServiceUUID
	}
	if o.CharacteristicUUID == "" {
		o.CharacteristicUUID = DefaultCharacteristicUUID
	}
	if o.Cooldown <= 0 {
		o.Cooldown = time.Minute
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = time.Hour
	}
	return o
}

// Session owns one device's exchange lifecycle: it opens the identity
// store, runs both roles against the radio, and sweeps expired entries
// until its context ends.
type Session struct {
	store      *identity.Store
	radio      radio.Radio
	opts       Options
	advertiser *Advertiser
	scanner    *Scanner
	log        *zap.Logger
	started    atomic.Int64
}

// Status is a point-in-time view for inspection surfaces.
type Status struct {
	DeviceID  string
	Current   identity.Identifier
	MyIDs     int
	PeerIDs   int
	Exchanges uint64
	Received  uint64
	Rejected  uint64
	Uptime    time.Duration
}

// NewSession wires the store and roles together. recorder and notifier
// may be nil.
func NewSession(store *identity.Store, r radio.Radio, opts Options, recorder Recorder, notifier Notifier, log *zap.Logger) *Session {
	opts = opts.withDefaults()
	return &Session{
		store:      store,
		radio:      r,
		opts:       opts,
		advertiser: NewAdvertiser(store, opts, recorder, notifier, log),
		scanner:    NewScanner(store, r, opts, recorder, notifier, log),
		log:        log,
	}
}

// Run starts the session and blocks until ctx ends. The store is
// opened (and therefore rotated) before the advertiser goes live, so a
// peer can never read an identifier that does not exist. On the way
// out, both roles stop and the store and radio are closed.
func (s *Session) Run(ctx context.Context) error {
	if err := s.store.Open(); err != nil {
		return fmt.Errorf("exchange: open identity store: %w", err)
	}
	s.started.Store(time.Now().UnixNano())

	svc := radio.Service{
		UUID: s.opts.ServiceUUID,
		Characteristics: []radio.CharacteristicDef{
			{UUID: s.opts.CharacteristicUUID, Properties: []string{"read", "write"}},
		},
	}
	if err := s.radio.Advertise(svc, s.advertiser); err != nil {
		s.shutdown()
		return fmt.Errorf("exchange: advertise: %w", err)
	}
	if err := s.scanner.Start(ctx); err != nil {
		s.shutdown()
		return fmt.Errorf("exchange: scan: %w", err)
	}
	s.log.Info("Session running",
		zap.String("service", s.opts.ServiceUUID),
		zap.String("device", identity.ShortID(s.radio.LocalID())))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.sweepLoop(gctx) })
	if s.opts.RotateEvery > 0 {
		g.Go(func() error { return s.rotateLoop(gctx) })
	}
	err := g.Wait()

	s.shutdown()
	s.log.Info("Session stopped")
	return err
}

// shutdown stops both roles and closes the radio and the store. Safe
// to call before either role has started.
func (s *Session) shutdown() {
	s.scanner.Stop()
	s.radio.StopAdvertising()
	if err := s.radio.Close(); err != nil {
		s.log.Warn("Radio close failed", zap.Error(err))
	}
	if err := s.store.Close(); err != nil {
		s.log.Warn("Store close failed", zap.Error(err))
	}
}

// Status reports the session's current counters.
func (s *Session) Status() Status {
	mine, peers := s.store.Counts()
	st := Status{
		DeviceID:  s.radio.LocalID(),
		Current:   s.store.Current(),
		MyIDs:     mine,
		PeerIDs:   peers,
		Exchanges: s.scanner.Exchanges(),
		Received:  s.advertiser.Received(),
		Rejected:  s.advertiser.Rejected(),
	}
	if nanos := s.started.Load(); nanos > 0 {
		st.Uptime = time.Since(time.Unix(0, nanos))
	}
	return st
}

// Store exposes the session's identity store for inspection surfaces.
func (s *Session) Store() *identity.Store {
	return s.store
}

func (s *Session) sweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.store.ExpireSweep(time.Now())
		}
	}
}

func (s *Session) rotateLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.RotateEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.store.Rotate(); err != nil {
				s.log.Warn("Rotation failed", zap.Error(err))
			}
		}
	}
}
