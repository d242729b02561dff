// Package attachment materializes request attachments into a flat
// directory on local disk, recompressing oversized images.
package attachment

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// tempPattern names files that are still being written.
const tempPattern = ".incoming-*"

// Store is a flat directory of attachment files. The directory listing is
// its only inventory.
type Store struct {
	dir string
}

// NewStore creates the directory if needed and returns a Store rooted at it.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &IOError{Op: "mkdir", Path: dir, Err: err}
	}
	return &Store{dir: dir}, nil
}

// Dir returns the store directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the absolute path of name inside the store.
func (s *Store) Path(name string) string {
	p := filepath.Join(s.dir, name)
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

// CreateTemp opens a new temporary file inside the store directory.
func (s *Store) CreateTemp() (*os.File, error) {
	f, err := os.CreateTemp(s.dir, tempPattern)
	if err != nil {
		return nil, &IOError{Op: "create", Path: s.dir, Err: err}
	}
	return f, nil
}

// Commit publishes a fully written temporary file under name. It never
// replaces an existing file: if name is taken the returned error matches
// fs.ErrExist and the temporary file is left in place.
func (s *Store) Commit(tmpPath, name string) (string, error) {
	final := s.Path(name)
	if err := os.Link(tmpPath, final); err != nil {
		return "", &IOError{Op: "link", Path: final, Err: err}
	}
	if err := os.Remove(tmpPath); err != nil {
		slog.Warn("failed to remove temporary attachment file",
			"path", tmpPath,
			"error", err,
		)
	}
	return final, nil
}

// Discard removes a temporary file after a failed write.
func (s *Store) Discard(tmpPath string) {
	if err := os.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to discard temporary attachment file",
			"path", tmpPath,
			"error", fmt.Errorf("remove: %w", err),
		)
	}
}
