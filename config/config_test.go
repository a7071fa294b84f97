package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MiSideKick/BLE-Proximity/config"
	"github.com/MiSideKick/BLE-Proximity/exchange"
	"github.com/MiSideKick/BLE-Proximity/identity"
	"github.com/MiSideKick/BLE-Proximity/radio"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "data", cfg.Device.DataDir)
	assert.Equal(t, identity.DefaultRetention, cfg.Identity.MyRetention)
	assert.Equal(t, identity.DefaultRetention, cfg.Identity.PeerRetention)
	assert.Zero(t, cfg.Identity.RotateEvery)
	assert.Equal(t, identity.DefaultPeerCap, cfg.Identity.PeerCap)
	assert.Equal(t, exchange.DefaultServiceUUID, cfg.Exchange.ServiceUUID)
	assert.Equal(t, exchange.DefaultCharacteristicUUID, cfg.Exchange.CharacteristicUUID)
	assert.Equal(t, time.Minute, cfg.Exchange.Cooldown)
	assert.Equal(t, "file", cfg.Storage.Backend)
	assert.True(t, cfg.Journal.Enabled)
	assert.Empty(t, cfg.Server.Addr)

	sim := radio.DefaultConfig()
	assert.Equal(t, sim.MinConnectDelay, cfg.Sim.MinConnectDelay)
	assert.Equal(t, sim.ConnectFailureRate, cfg.Sim.ConnectFailureRate)
	assert.Equal(t, sim.BaseRSSI, cfg.Sim.BaseRSSI)
	assert.False(t, cfg.Sim.Deterministic)
}

func TestLoadFromFile(t *testing.T) {
	yaml := `
device:
  name: kiosk-7
  dataDir: /var/lib/proximity
identity:
  rotateEvery: 1h
  peerCap: 100
exchange:
  cooldown: 30s
storage:
  backend: pebble
server:
  addr: 127.0.0.1:8642
sim:
  deterministic: true
  seed: 42
`
	path := filepath.Join(t.TempDir(), "proximity.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "kiosk-7", cfg.Device.Name)
	assert.Equal(t, "/var/lib/proximity", cfg.Device.DataDir)
	assert.Equal(t, time.Hour, cfg.Identity.RotateEvery)
	assert.Equal(t, 100, cfg.Identity.PeerCap)
	assert.Equal(t, 30*time.Second, cfg.Exchange.Cooldown)
	assert.Equal(t, "pebble", cfg.Storage.Backend)
	assert.Equal(t, "127.0.0.1:8642", cfg.Server.Addr)
	assert.True(t, cfg.Sim.Deterministic)
	assert.EqualValues(t, 42, cfg.Sim.Seed)

	// Untouched sections keep their defaults.
	assert.Equal(t, identity.DefaultRetention, cfg.Identity.MyRetention)
	assert.Equal(t, exchange.DefaultServiceUUID, cfg.Exchange.ServiceUUID)
}

func TestLoadRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "proximity.yaml")
	require.NoError(t, os.WriteFile(path, []byte("device: [not a map"), 0644))

	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestDerivedPaths(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join("data", "ledgers"), cfg.LedgerDir())
	assert.Equal(t, filepath.Join("data", "sightings.db"), cfg.JournalPath())

	cfg.Storage.Dir = "/tmp/blobs"
	cfg.Journal.Path = "/tmp/j.db"
	assert.Equal(t, "/tmp/blobs", cfg.LedgerDir())
	assert.Equal(t, "/tmp/j.db", cfg.JournalPath())
}

func TestOptionMapping(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Identity.RotateEvery = 2 * time.Hour
	cfg.Exchange.Cooldown = 45 * time.Second

	so := cfg.StoreOptions()
	assert.Equal(t, identity.DefaultRetention, so.MyRetention)
	assert.Equal(t, identity.DefaultPeerCap, so.PeerCap)

	eo := cfg.ExchangeOptions()
	assert.Equal(t, exchange.DefaultServiceUUID, eo.ServiceUUID)
	assert.Equal(t, 45*time.Second, eo.Cooldown)
	assert.Equal(t, 2*time.Hour, eo.RotateEvery)

	rc := cfg.RadioConfig()
	assert.Equal(t, radio.DefaultConfig().DiscoveryInterval, rc.DiscoveryInterval)
}
