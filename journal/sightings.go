package journal

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/MiSideKick/BLE-Proximity/exchange"
	"github.com/MiSideKick/BLE-Proximity/identity"
)

var _ exchange.Recorder = (*DB)(nil)

// Sighting is one journaled identifier receipt. RSSI is nil when the
// role did not probe signal strength.
type Sighting struct {
	ID         int64
	PeerDevice string
	PeerID     identity.Identifier
	Role       string
	RSSI       *int
	ObservedAt time.Time
}

// RecordSighting implements exchange.Recorder. Identifiers are stored
// in their hex form; SQLite integers are signed 64-bit and cannot hold
// the upper half of the identifier space.
func (db *DB) RecordSighting(s exchange.Sighting) error {
	var rssi any
	if s.Role == exchange.RoleScanner {
		rssi = s.RSSI
	}
	_, err := db.Exec(`
		INSERT INTO sightings (peer_device, peer_identifier, role, rssi, observed_at)
		VALUES (?, ?, ?, ?, ?)
	`, s.PeerDevice, s.PeerID.String(), s.Role, rssi, s.ObservedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("record sighting: %w", err)
	}
	return nil
}

// Recent returns the most recent sightings, newest first.
func (db *DB) Recent(limit int) ([]Sighting, error) {
	rows, err := db.Query(`
		SELECT id, peer_device, peer_identifier, role, rssi, observed_at
		FROM sightings ORDER BY observed_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("get recent sightings: %w", err)
	}
	defer rows.Close()

	var out []Sighting
	for rows.Next() {
		var (
			s    Sighting
			hex  string
			rssi sql.NullInt64
			at   int64
		)
		if err := rows.Scan(&s.ID, &s.PeerDevice, &hex, &s.Role, &rssi, &at); err != nil {
			return nil, fmt.Errorf("scan sighting: %w", err)
		}
		if s.PeerID, err = identity.ParseIdentifier(hex); err != nil {
			return nil, fmt.Errorf("scan sighting %d: %w", s.ID, err)
		}
		if rssi.Valid {
			v := int(rssi.Int64)
			s.RSSI = &v
		}
		s.ObservedAt = time.UnixMilli(at)
		out = append(out, s)
	}
	return out, rows.Err()
}

// CountSince returns how many sightings were observed at or after t.
func (db *DB) CountSince(t time.Time) (int, error) {
	var count int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM sightings WHERE observed_at >= ?
	`, t.UnixMilli()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count sightings: %w", err)
	}
	return count, nil
}

// PruneBefore deletes sightings observed before t and reports how many
// rows went away.
func (db *DB) PruneBefore(t time.Time) (int64, error) {
	res, err := db.Exec(`DELETE FROM sightings WHERE observed_at < ?`, t.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune sightings: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune sightings: %w", err)
	}
	return n, nil
}
