package exchange_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MiSideKick/BLE-Proximity/exchange"
	"github.com/MiSideKick/BLE-Proximity/radio"
)

// lossyConfig returns a deterministic medium with elevated failure
// rates: connects fail, operations fail, and links drop mid-script.
func lossyConfig() *radio.Config {
	cfg := radio.DefaultConfig()
	cfg.MinConnectDelay = time.Millisecond
	cfg.MaxConnectDelay = 5 * time.Millisecond
	cfg.ConnectFailureRate = 0.15
	cfg.MinOpDelay = time.Millisecond
	cfg.MaxOpDelay = 3 * time.Millisecond
	cfg.OpFailureRate = 0.15
	cfg.DropRate = 0.05
	cfg.DiscoveryInterval = 20 * time.Millisecond
	cfg.Deterministic = true
	cfg.Seed = 7
	return cfg
}

func TestExchangeSurvivesLossyMedium(t *testing.T) {
	if testing.Short() {
		t.Skip("lossy medium test runs for seconds")
	}

	air := radio.NewAir(lossyConfig(), zap.NewNop())
	opts := exchange.Options{Cooldown: 150 * time.Millisecond}

	const n = 4
	sessions := make([]*exchange.Session, n)
	for i := 0; i < n; i++ {
		sessions[i], _ = newTestSession(t, air, fmt.Sprintf("device-%d", i), opts, nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, n)
	for _, sess := range sessions {
		sess := sess
		go func() { done <- sess.Run(ctx) }()
	}

	// Failed attempts retry on the next cooldown window, so every
	// device accumulates at least one peer identifier despite the
	// loss injection.
	require.Eventually(t, func() bool {
		for _, sess := range sessions {
			if sess.Status().PeerIDs == 0 {
				return false
			}
		}
		return true
	}, 15*time.Second, 50*time.Millisecond, "some device never recorded a peer identifier")

	cancel()
	for i := 0; i < n; i++ {
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("session did not stop after cancel")
		}
	}

	var recorded uint64
	for _, sess := range sessions {
		st := sess.Status()
		recorded += st.Exchanges + st.Received
		assert.GreaterOrEqual(t, st.PeerIDs, 1)
	}
	assert.Greater(t, recorded, uint64(0))
}
