package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/IvanBrykalov/respcache/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>hi</h1>"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "docs", "empty.txt"), nil, 0o644))

	s, err := New(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, dir
}

func TestStore_ReadFile(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	b, err := s.ReadFile(ctx, "/index.html")
	require.NoError(t, err)
	assert.Equal(t, "<h1>hi</h1>", string(b))

	b, err = s.ReadFile(ctx, "docs/empty.txt")
	require.NoError(t, err)
	assert.Empty(t, b)
}

func TestStore_NotFound(t *testing.T) {
	s, dir := newStore(t)
	ctx := context.Background()

	names := []string{"/missing.html", "/docs", "/", "/../secret", "/docs/../index.html"}

	outside := t.TempDir()
	secret := filepath.Join(outside, "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("secret"), 0o644))
	if err := os.Symlink(secret, filepath.Join(dir, "link.txt")); err == nil {
		names = append(names, "/link.txt")
	} else {
		t.Logf("symlinks unavailable: %v", err)
	}

	for _, name := range names {
		_, err := s.ReadFile(ctx, name)
		assert.ErrorIs(t, err, storage.ErrNotFound, name)
	}
}

func TestStore_SymlinkInsideRoot(t *testing.T) {
	s, dir := newStore(t)
	if err := os.Symlink("index.html", filepath.Join(dir, "home.html")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	b, err := s.ReadFile(context.Background(), "/home.html")
	require.NoError(t, err)
	assert.Equal(t, "<h1>hi</h1>", string(b))
}

func TestNew_MissingDir(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}
