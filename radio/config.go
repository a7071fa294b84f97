package radio

import "time"

// Config controls the realism of the simulated medium.
type Config struct {
	// Connection establishment.
	MinConnectDelay    time.Duration
	MaxConnectDelay    time.Duration
	ConnectFailureRate float64

	// Per-operation behavior on a live connection.
	MinOpDelay    time.Duration
	MaxOpDelay    time.Duration
	OpFailureRate float64
	// DropRate is the chance an operation takes the whole connection
	// down instead of completing.
	DropRate float64

	// DiscoveryInterval is how often a scanning device re-reports the
	// advertisers around it.
	DiscoveryInterval time.Duration

	// Radio characteristics.
	BaseRSSI     int // dBm at 1m
	RSSIVariance int // dBm of random fluctuation

	// Deterministic mode for reproducible scenarios.
	Deterministic bool
	Seed          int64
}

// DefaultConfig returns mildly imperfect link behavior: realistic
// latency, a 1.6% connect failure rate, and 1.5% operation loss.
func DefaultConfig() *Config {
	return &Config{
		MinConnectDelay:    30 * time.Millisecond,
		MaxConnectDelay:    100 * time.Millisecond,
		ConnectFailureRate: 0.016,

		MinOpDelay:    5 * time.Millisecond,
		MaxOpDelay:    40 * time.Millisecond,
		OpFailureRate: 0.015,
		DropRate:      0.002,

		DiscoveryInterval: 200 * time.Millisecond,

		BaseRSSI:     -50,
		RSSIVariance: 10,
	}
}

// PerfectConfig returns a fully reliable low-latency medium for tests.
func PerfectConfig() *Config {
	cfg := DefaultConfig()
	cfg.MinConnectDelay = 0
	cfg.MaxConnectDelay = 0
	cfg.ConnectFailureRate = 0
	cfg.MinOpDelay = 0
	cfg.MaxOpDelay = 0
	cfg.OpFailureRate = 0
	cfg.DropRate = 0
	cfg.DiscoveryInterval = 20 * time.Millisecond
	cfg.Deterministic = true
	return cfg
}
