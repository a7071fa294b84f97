// Package exchange implements the two protocol roles and the session
// that runs them: advertise the device's current identifier, scan for
// peers doing the same, and swap identifiers on contact.
package exchange

import (
	"time"

	"go.uber.org/zap"

	"github.com/MiSideKick/BLE-Proximity/identity"
)

// Roles a sighting can be observed in.
const (
	RoleScanner    = "scanner"
	RoleAdvertiser = "advertiser"
)

// Sighting is one successful identifier receipt, in either role.
// RSSI is zero when the role did not probe signal strength.
type Sighting struct {
	PeerDevice string
	PeerID     identity.Identifier
	Role       string
	RSSI       int
	ObservedAt time.Time
}

// Recorder persists sightings for diagnostics. Implementations must
// tolerate concurrent calls; failures are logged by the caller and
// never interrupt an exchange.
type Recorder interface {
	RecordSighting(s Sighting) error
}

// Notifier surfaces exchange milestones to a debug channel. Calls are
// fire-and-forget.
type Notifier interface {
	Notify(message string)
}

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	Log *zap.Logger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(message string) {
	n.Log.Info("Notification", zap.String("message", message))
}

type nopNotifier struct{}

func (nopNotifier) Notify(string) {}
