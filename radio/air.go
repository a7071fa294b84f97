package radio

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Air is the shared medium simulated devices join. It owns the random
// source every failure roll and delay draws from, so a deterministic
// seed reproduces a whole scenario.
type Air struct {
	cfg *Config
	log *zap.Logger

	mu       sync.Mutex
	rng      *rand.Rand
	devices  map[string]*Device
	distance map[pairKey]float64
}

type pairKey struct {
	a, b string
}

func orderedPair(x, y string) pairKey {
	if x < y {
		return pairKey{x, y}
	}
	return pairKey{y, x}
}

// NewAir creates a medium with the given behavior. A nil cfg uses
// DefaultConfig.
func NewAir(cfg *Config, log *zap.Logger) *Air {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	seed := cfg.Seed
	if !cfg.Deterministic {
		seed = time.Now().UnixNano()
	}
	return &Air{
		cfg:      cfg,
		log:      log,
		rng:      rand.New(rand.NewSource(seed)),
		devices:  make(map[string]*Device),
		distance: make(map[pairKey]float64),
	}
}

// Join adds a device to the medium and returns its radio handle.
func (a *Air) Join(name string) *Device {
	id := uuid.NewString()
	d := &Device{
		id:    id,
		name:  name,
		air:   a,
		log:   a.log.With(zap.String("device", shortID(id))),
		conns: make(map[*simConn]struct{}),
	}

	a.mu.Lock()
	a.devices[id] = d
	a.mu.Unlock()

	d.log.Debug("Device joined air", zap.String("name", name))
	return d
}

// SetDistance places two devices some meters apart for the RSSI model.
// Unset pairs default to one meter.
func (a *Air) SetDistance(idA, idB string, meters float64) {
	if meters < 1 {
		meters = 1
	}
	a.mu.Lock()
	a.distance[orderedPair(idA, idB)] = meters
	a.mu.Unlock()
}

func (a *Air) remove(id string) {
	a.mu.Lock()
	delete(a.devices, id)
	a.mu.Unlock()
}

func (a *Air) lookup(id string) *Device {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.devices[id]
}

// snapshotAdvertisers reports every advertising device visible to
// selfID whose service matches serviceUUID.
func (a *Air) snapshotAdvertisers(serviceUUID, selfID string) []Advertisement {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []Advertisement
	for id, d := range a.devices {
		if id == selfID {
			continue
		}
		svcUUID, name, ok := d.advertisingInfo(serviceUUID)
		if !ok {
			continue
		}
		out = append(out, Advertisement{
			PeerID:      id,
			Name:        name,
			ServiceUUID: svcUUID,
			RSSI:        a.rssiLocked(selfID, id),
		})
	}
	return out
}

// rollFailure reports whether an event with the given rate occurs.
func (a *Air) rollFailure(rate float64) bool {
	if rate <= 0 {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rng.Float64() < rate
}

// delayBetween draws a delay from [min, max].
func (a *Air) delayBetween(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return min + time.Duration(a.rng.Int63n(int64(max-min)))
}

func (a *Air) connectDelay() time.Duration {
	return a.delayBetween(a.cfg.MinConnectDelay, a.cfg.MaxConnectDelay)
}

func (a *Air) opDelay() time.Duration {
	return a.delayBetween(a.cfg.MinOpDelay, a.cfg.MaxOpDelay)
}

// rssiBetween models signal strength between two devices: base dBm at
// one meter, 20dB of path loss per 10x distance, plus fluctuation,
// clamped to the realistic [-100, -20] range.
func (a *Air) rssiBetween(x, y string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rssiLocked(x, y)
}

func (a *Air) rssiLocked(x, y string) int {
	dist := a.distance[orderedPair(x, y)]
	if dist < 1 {
		dist = 1
	}

	rssi := float64(a.cfg.BaseRSSI) - 20*math.Log10(dist)
	if a.cfg.RSSIVariance > 0 {
		rssi += float64(a.rng.Intn(a.cfg.RSSIVariance*2) - a.cfg.RSSIVariance)
	}

	if rssi < -100 {
		rssi = -100
	} else if rssi > -20 {
		rssi = -20
	}
	return int(rssi)
}
