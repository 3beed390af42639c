// Package local serves files from a directory on disk.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"

	"github.com/IvanBrykalov/respcache/storage"
)

// Store implements storage.Reader using the local file system.
// Reads are confined to the root directory by os.Root; symlinks that
// escape it report storage.ErrNotFound.
type Store struct {
	root *os.Root
}

// New opens dir as the store root.
func New(dir string) (*Store, error) {
	r, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("local: open root %q: %w", dir, err)
	}
	return &Store{root: r}, nil
}

// ReadFile reads the whole file. Invalid names and directories report
// storage.ErrNotFound.
func (s *Store) ReadFile(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clean, ok := storage.Clean(name)
	if !ok {
		return nil, fmt.Errorf("local: %q: %w", name, storage.ErrNotFound)
	}

	f, err := s.root.Open(clean)
	if err != nil {
		return nil, openError(clean, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("local: %q is a directory: %w", clean, storage.ErrNotFound)
	}

	var buf bytes.Buffer
	buf.Grow(int(fi.Size()) + bytes.MinRead)
	if _, err := buf.ReadFrom(f); err != nil {
		return nil, fmt.Errorf("local: read %q: %w", clean, err)
	}
	return buf.Bytes(), nil
}

// openError keeps missing files and OS-level failures (permissions, I/O)
// as they are and reports everything else os.Root rejects, such as paths
// escaping the root, as storage.ErrNotFound.
func openError(name string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return err
	}
	var errno syscall.Errno
	if errors.As(err, &errno) && errno != syscall.ENOTDIR && errno != syscall.ELOOP {
		return err
	}
	return fmt.Errorf("local: %q: %w (%w)", name, storage.ErrNotFound, err)
}

// Close releases the root directory handle.
func (s *Store) Close() error { return s.root.Close() }

var _ storage.Reader = (*Store)(nil)
