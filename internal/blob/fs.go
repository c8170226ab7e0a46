package blob

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FSStore keeps blobs as plain files in a single directory.
type FSStore struct {
	dir string
}

func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory %s: %w", dir, err)
	}
	return &FSStore{dir: dir}, nil
}

// path resolves a blob name inside the store directory. Names come from
// client-supplied filenames, so anything that would escape the directory
// is rejected.
func (s *FSStore) path(name string) (string, error) {
	if name == "" || strings.Contains(name, "/") || strings.Contains(name, "\\") ||
		name == "." || name == ".." {
		return "", fmt.Errorf("invalid blob name %q", name)
	}
	return filepath.Join(s.dir, name), nil
}

// Save writes to a temp file in the same directory and renames it over the
// final name. Rename is atomic on POSIX filesystems, so a same-name
// overwrite never exposes partial content.
func (s *FSStore) Save(ctx context.Context, name string, r io.Reader, size int64, contentType string) error {
	dst, err := s.path(name)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write blob %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close blob %s: %w", name, err)
	}

	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to commit blob %s: %w", name, err)
	}

	return nil
}

func (s *FSStore) Open(ctx context.Context, name string) (io.ReadSeekCloser, *Info, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, nil, err
	}

	f, err := os.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("failed to open blob %s: %w", name, err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("failed to stat blob %s: %w", name, err)
	}

	return f, &Info{Size: stat.Size(), ModTime: stat.ModTime()}, nil
}

// Delete is idempotent: removing a blob that is already gone is not an
// error, it is the state the caller asked for.
func (s *FSStore) Delete(ctx context.Context, name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}

	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob %s: %w", name, err)
	}
	return nil
}

func (s *FSStore) Ping(ctx context.Context) error {
	_, err := os.Stat(s.dir)
	return err
}
