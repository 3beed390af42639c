// Package storage defines how the file server reads the files it caches.
//
// A Reader returns a file's full contents. Backends live in subpackages:
// local (a directory on disk), s3 (AWS S3) and minio (MinIO and other
// S3-compatible object stores).
package storage

import (
	"context"
	"io/fs"
	"os"
	"strings"
	"sync/atomic"
)

// ErrNotFound is returned when a file does not exist.
//
// Implementations should return an error that satisfies `errors.Is(err, ErrNotFound)`.
// The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// Reader reads whole files by slash-separated path relative to the store root.
type Reader interface {
	ReadFile(ctx context.Context, name string) ([]byte, error)
}

// Clean strips the leading slash from a request path and reports whether
// the rest is a valid store-relative name in the sense of fs.ValidPath.
// Empty, "." and ".." elements are rejected, and so is the root itself.
func Clean(name string) (string, bool) {
	name = strings.TrimPrefix(name, "/")
	if name == "" || name == "." || !fs.ValidPath(name) {
		return "", false
	}
	return name, true
}

// Counting wraps a Reader and counts the calls that reach it.
type Counting struct {
	Reader
	reads atomic.Int64
}

// NewCounting returns a counting wrapper around r.
func NewCounting(r Reader) *Counting { return &Counting{Reader: r} }

func (c *Counting) ReadFile(ctx context.Context, name string) ([]byte, error) {
	c.reads.Add(1)
	return c.Reader.ReadFile(ctx, name)
}

// Reads returns how many ReadFile calls went through.
func (c *Counting) Reads() int64 { return c.reads.Load() }

// Map is an in-memory Reader, handy for tests and examples.
type Map map[string][]byte

func (m Map) ReadFile(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b, ok := m[name]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: ErrNotFound}
	}
	return b, nil
}
