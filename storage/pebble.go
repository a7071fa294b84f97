package storage

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"
)

// PebbleStore persists blobs in a Pebble database. The file backend is
// the default; Pebble suits deployments where many devices share one
// data root or ledgers grow past what whole-file rewrites handle well.
type PebbleStore struct {
	db     *pebble.DB
	path   string
	logger *zap.Logger
}

// NewPebbleStore creates an unopened store rooted at path.
func NewPebbleStore(path string, logger *zap.Logger) *PebbleStore {
	return &PebbleStore{path: path, logger: logger}
}

// Init opens (or creates) the underlying database.
func (p *PebbleStore) Init() error {
	opts := &pebble.Options{
		Logger: &pebbleLogger{z: p.logger},
	}
	db, err := pebble.Open(p.path, opts)
	if err != nil {
		return fmt.Errorf("storage: open pebble at %s: %w", p.path, err)
	}
	p.db = db
	p.logger.Info("Pebble store opened", zap.String("path", p.path))
	return nil
}

// Load returns the blob under name, mapping pebble.ErrNotFound to ErrNotFound.
func (p *PebbleStore) Load(name string) ([]byte, error) {
	val, closer, err := p.db.Get([]byte(name))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: pebble get %s: %w", name, err)
	}
	out := make([]byte, len(val))
	copy(out, val)
	if err := closer.Close(); err != nil {
		return nil, fmt.Errorf("storage: pebble closer: %w", err)
	}
	return out, nil
}

// Save writes the blob with a synced WAL entry.
func (p *PebbleStore) Save(name string, data []byte) error {
	if err := p.db.Set([]byte(name), data, pebble.Sync); err != nil {
		return fmt.Errorf("storage: pebble set %s: %w", name, err)
	}
	return nil
}

// Close flushes and closes the database.
func (p *PebbleStore) Close() error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}

// pebbleLogger adapts zap.Logger to the pebble.Logger interface.
type pebbleLogger struct {
	z *zap.Logger
}

func (l *pebbleLogger) Infof(format string, args ...any) {
	l.z.Sugar().Infof(format, args...)
}

func (l *pebbleLogger) Fatalf(format string, args ...any) {
	l.z.Sugar().Fatalf(format, args...)
}
