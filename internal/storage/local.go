package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/andresuchdata/dwd-exporter/internal/domain"
)

// LocalStore keeps objects as files below a root directory. Writes go to a
// temp file in the target directory and are renamed into place.
type LocalStore struct {
	root string
}

// NewLocalStore creates the root directory if needed.
func NewLocalStore(root string) (*LocalStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("%w: local store root must be provided", domain.ErrConfig)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create local store root %s: %v", domain.ErrStoreUnavailable, root, err)
	}
	return &LocalStore{root: root}, nil
}

func (s *LocalStore) objectPath(key domain.DestinationKey) string {
	clean := strings.TrimPrefix(path.Clean("/"+key.String()), "/")
	return filepath.Join(s.root, filepath.FromSlash(clean))
}

func (s *LocalStore) Exists(ctx context.Context, key domain.DestinationKey) (bool, error) {
	info, err := os.Stat(s.objectPath(key))
	switch {
	case err == nil:
		return info.Mode().IsRegular(), nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("%w: stat %s: %v", domain.ErrStoreUnavailable, key, err)
	}
}

func (s *LocalStore) Put(ctx context.Context, key domain.DestinationKey, localPath string) error {
	dest := s.objectPath(key)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("%w: create directory for %s: %v", domain.ErrUpload, key, err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", domain.ErrUpload, localPath, err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dest), "."+filepath.Base(dest)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: create temp for %s: %v", domain.ErrUpload, key, err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: copy %s: %v", domain.ErrUpload, key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: sync %s: %v", domain.ErrUpload, key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %v", domain.ErrUpload, key, err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("%w: rename into %s: %v", domain.ErrUpload, key, err)
	}
	return nil
}

var _ ObjectStorage = (*LocalStore)(nil)
