package exchange

import (
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/MiSideKick/BLE-Proximity/identity"
	"github.com/MiSideKick/BLE-Proximity/link"
)

// Advertiser serves this device's current identifier over the identity
// characteristic and records the identifiers peers write in.
type Advertiser struct {
	store    *identity.Store
	char     link.Characteristic
	recorder Recorder
	notifier Notifier
	log      *zap.Logger

	rejected atomic.Uint64
	received atomic.Uint64
}

// NewAdvertiser builds the advertiser-side handler.
func NewAdvertiser(store *identity.Store, opts Options, recorder Recorder, notifier Notifier, log *zap.Logger) *Advertiser {
	opts = opts.withDefaults()
	if notifier == nil {
		notifier = nopNotifier{}
	}
	return &Advertiser{
		store:    store,
		char:     link.Characteristic{Service: opts.ServiceUUID, UUID: opts.CharacteristicUUID},
		recorder: recorder,
		notifier: notifier,
		log:      log,
	}
}

// HandleRead answers a peer's read with the current identifier. The
// store rotates before advertising starts, so there is always one.
func (a *Advertiser) HandleRead(peer link.Peer, c link.Characteristic) ([]byte, error) {
	if c.UUID != a.char.UUID {
		return nil, fmt.Errorf("exchange: read of unknown characteristic %s", c.UUID)
	}
	id := a.store.Current()
	a.log.Debug("Served current identifier",
		zap.String("peer", identity.ShortID(peer.ID)),
		zap.String("id", identity.ShortID(id.String())))
	return identity.EncodeIdentifier(id), nil
}

// HandleWrite records the identifier a peer wrote. Payloads too short
// to hold an identifier are rejected and counted; nothing is recorded.
func (a *Advertiser) HandleWrite(peer link.Peer, c link.Characteristic, value []byte) error {
	if c.UUID != a.char.UUID {
		return fmt.Errorf("exchange: write to unknown characteristic %s", c.UUID)
	}

	id, err := identity.DecodeIdentifier(value)
	if err != nil {
		a.rejected.Add(1)
		a.log.Warn("Rejected identifier write",
			zap.Int("bytes", len(value)),
			zap.String("peer", identity.ShortID(peer.ID)),
			zap.Error(err))
		return err
	}

	now := time.Now()
	a.store.RecordPeer(id, now)
	a.received.Add(1)
	a.recordSighting(Sighting{
		PeerDevice: peer.ID,
		PeerID:     id,
		Role:       RoleAdvertiser,
		ObservedAt: now,
	})
	a.notifier.Notify(fmt.Sprintf("received identifier %s", identity.ShortID(id.String())))
	a.log.Info("Recorded peer identifier",
		zap.String("peer", identity.ShortID(peer.ID)),
		zap.String("id", identity.ShortID(id.String())))
	return nil
}

// Received reports how many identifiers peers have written in.
func (a *Advertiser) Received() uint64 {
	return a.received.Load()
}

// Rejected reports how many writes carried no usable identifier.
func (a *Advertiser) Rejected() uint64 {
	return a.rejected.Load()
}

func (a *Advertiser) recordSighting(s Sighting) {
	if a.recorder == nil {
		return
	}
	if err := a.recorder.RecordSighting(s); err != nil {
		a.log.Warn("Failed to journal sighting", zap.Error(err))
	}
}
