// Package config loads daemon configuration from file and environment.
package config

import (
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/MiSideKick/BLE-Proximity/exchange"
	"github.com/MiSideKick/BLE-Proximity/identity"
	"github.com/MiSideKick/BLE-Proximity/radio"
)

// Config is the root configuration struct
type Config struct {
	Device   DeviceConfig   `mapstructure:"device"`
	Identity IdentityConfig `mapstructure:"identity"`
	Exchange ExchangeConfig `mapstructure:"exchange"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Journal  JournalConfig  `mapstructure:"journal"`
	Server   ServerConfig   `mapstructure:"server"`
	Sim      SimConfig      `mapstructure:"sim"`
}

// DeviceConfig holds per-device settings
type DeviceConfig struct {
	Name    string `mapstructure:"name"`
	DataDir string `mapstructure:"dataDir"`
}

// IdentityConfig holds ledger retention and rotation settings
type IdentityConfig struct {
	MyRetention   time.Duration `mapstructure:"myRetention"`
	PeerRetention time.Duration `mapstructure:"peerRetention"`
	RotateEvery   time.Duration `mapstructure:"rotateEvery"`
	PeerCap       int           `mapstructure:"peerCap"`
}

// ExchangeConfig holds the service layout and exchange pacing
type ExchangeConfig struct {
	ServiceUUID        string        `mapstructure:"serviceUUID"`
	CharacteristicUUID string        `mapstructure:"characteristicUUID"`
	Cooldown           time.Duration `mapstructure:"cooldown"`
	SweepInterval      time.Duration `mapstructure:"sweepInterval"`
}

// StorageConfig selects the ledger blob backend
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
}

// JournalConfig controls the sighting journal
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// ServerConfig controls the debug HTTP surface
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// SimConfig holds the simulated medium knobs
type SimConfig struct {
	MinConnectDelay    time.Duration `mapstructure:"minConnectDelay"`
	MaxConnectDelay    time.Duration `mapstructure:"maxConnectDelay"`
	ConnectFailureRate float64       `mapstructure:"connectFailureRate"`
	MinOpDelay         time.Duration `mapstructure:"minOpDelay"`
	MaxOpDelay         time.Duration `mapstructure:"maxOpDelay"`
	OpFailureRate      float64       `mapstructure:"opFailureRate"`
	DropRate           float64       `mapstructure:"dropRate"`
	DiscoveryInterval  time.Duration `mapstructure:"discoveryInterval"`
	BaseRSSI           int           `mapstructure:"baseRSSI"`
	RSSIVariance       int           `mapstructure:"rssiVariance"`
	Deterministic      bool          `mapstructure:"deterministic"`
	Seed               int64         `mapstructure:"seed"`
}

// Load reads configuration from file and environment
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	sim := radio.DefaultConfig()

	v.SetDefault("device.name", "")
	v.SetDefault("device.dataDir", "data")
	v.SetDefault("identity.myRetention", identity.DefaultRetention)
	v.SetDefault("identity.peerRetention", identity.DefaultRetention)
	v.SetDefault("identity.rotateEvery", time.Duration(0))
	v.SetDefault("identity.peerCap", identity.DefaultPeerCap)
	v.SetDefault("exchange.serviceUUID", exchange.DefaultServiceUUID)
	v.SetDefault("exchange.characteristicUUID", exchange.DefaultCharacteristicUUID)
	v.SetDefault("exchange.cooldown", time.Minute)
	v.SetDefault("exchange.sweepInterval", time.Hour)
	v.SetDefault("storage.backend", "file")
	v.SetDefault("storage.dir", "")
	v.SetDefault("journal.enabled", true)
	v.SetDefault("journal.path", "")
	v.SetDefault("server.addr", "")
	v.SetDefault("sim.minConnectDelay", sim.MinConnectDelay)
	v.SetDefault("sim.maxConnectDelay", sim.MaxConnectDelay)
	v.SetDefault("sim.connectFailureRate", sim.ConnectFailureRate)
	v.SetDefault("sim.minOpDelay", sim.MinOpDelay)
	v.SetDefault("sim.maxOpDelay", sim.MaxOpDelay)
	v.SetDefault("sim.opFailureRate", sim.OpFailureRate)
	v.SetDefault("sim.dropRate", sim.DropRate)
	v.SetDefault("sim.discoveryInterval", sim.DiscoveryInterval)
	v.SetDefault("sim.baseRSSI", sim.BaseRSSI)
	v.SetDefault("sim.rssiVariance", sim.RSSIVariance)
	v.SetDefault("sim.deterministic", false)
	v.SetDefault("sim.seed", int64(0))

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("proximity")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.proximity")
	}

	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LedgerDir returns the blob directory, defaulting under the data dir.
func (c *Config) LedgerDir() string {
	if c.Storage.Dir != "" {
		return c.Storage.Dir
	}
	return filepath.Join(c.Device.DataDir, "ledgers")
}

// JournalPath returns the sighting database path, defaulting under the
// data dir.
func (c *Config) JournalPath() string {
	if c.Journal.Path != "" {
		return c.Journal.Path
	}
	return filepath.Join(c.Device.DataDir, "sightings.db")
}

// StoreOptions maps the identity section onto store options.
func (c *Config) StoreOptions() identity.StoreOptions {
	return identity.StoreOptions{
		MyRetention:   c.Identity.MyRetention,
		PeerRetention: c.Identity.PeerRetention,
		PeerCap:       c.Identity.PeerCap,
	}
}

// ExchangeOptions maps the exchange and identity sections onto session
// options.
func (c *Config) ExchangeOptions() exchange.Options {
	return exchange.Options{
		ServiceUUID:        c.Exchange.ServiceUUID,
		CharacteristicUUID: c.Exchange.CharacteristicUUID,
		Cooldown:           c.Exchange.Cooldown,
		SweepInterval:      c.Exchange.SweepInterval,
		RotateEvery:        c.Identity.RotateEvery,
	}
}

// RadioConfig maps the sim section onto the simulated medium.
func (c *Config) RadioConfig() *radio.Config {
	return &radio.Config{
		MinConnectDelay:    c.Sim.MinConnectDelay,
		MaxConnectDelay:    c.Sim.MaxConnectDelay,
		ConnectFailureRate: c.Sim.ConnectFailureRate,
		MinOpDelay:         c.Sim.MinOpDelay,
		MaxOpDelay:         c.Sim.MaxOpDelay,
		OpFailureRate:      c.Sim.OpFailureRate,
		DropRate:           c.Sim.DropRate,
		DiscoveryInterval:  c.Sim.DiscoveryInterval,
		BaseRSSI:           c.Sim.BaseRSSI,
		RSSIVariance:       c.Sim.RSSIVariance,
		Deterministic:      c.Sim.Deterministic,
		Seed:               c.Sim.Seed,
	}
}
