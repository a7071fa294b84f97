package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileStore keeps one file per blob under a directory. Writes go to a
// temp file first and are renamed into place so a crash never leaves
// a half-written blob.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed and returns the store.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("storage: create data dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) blobPath(name string) string {
	return filepath.Join(f.dir, name+".pb")
}

// Load reads the blob file, mapping a missing file to ErrNotFound.
func (f *FileStore) Load(name string) ([]byte, error) {
	data, err := os.ReadFile(f.blobPath(name))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", name, err)
	}
	return data, nil
}

// Save writes the blob to a temp file, then renames it into place.
func (f *FileStore) Save(name string, data []byte) error {
	path := f.blobPath(name)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("storage: write %s: %w", name, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("storage: rename %s: %w", name, err)
	}
	return nil
}

// Close is a no-op for the file backend.
func (f *FileStore) Close() error {
	return nil
}
