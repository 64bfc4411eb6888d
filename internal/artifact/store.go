// Package artifact manages backup artifact locations. The engine only
// tracks paths, sizes and checksums; byte-level I/O stays here.
package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/davexpro/recoverd/internal/pkg/helper"
)

// Store is the local artifact location collaborator of the job runners.
type Store interface {
	// BackupPath builds the artifact path for a named backup.
	BackupPath(name string) string
	// Checksum returns the SHA-256 and size of an artifact.
	Checksum(path string) (string, int64, error)
	// Delete removes an artifact.
	Delete(ctx context.Context, path string) error
}

// LocalStore keeps artifacts under a single directory.
type LocalStore struct {
	Dir string
}

func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &LocalStore{Dir: dir}, nil
}

func (s *LocalStore) BackupPath(name string) string {
	return filepath.Join(s.Dir, name)
}

func (s *LocalStore) Checksum(path string) (string, int64, error) {
	return helper.ChecksumFile(path)
}

func (s *LocalStore) Delete(_ context.Context, path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("delete artifact %s: %w", path, err)
	}
	return nil
}
