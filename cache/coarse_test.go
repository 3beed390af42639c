package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// While one reader holds a hit under HoldAcrossTransfer, a lookup for a
// different key does not complete until the first handle is released.
func TestCoarse_HoldSerializesHits(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, Options{Engine: EngineCoarseLocked, LockPolicy: HoldAcrossTransfer})
	fill(t, c, "a", "b")

	h, ok := c.Lookup("a")
	require.True(t, ok)

	secondDone := make(chan time.Time, 1)
	go func() {
		h2, ok := c.Lookup("b")
		at := time.Now()
		if ok {
			h2.Release()
		}
		secondDone <- at
	}()

	select {
	case <-secondDone:
		t.Fatal("second lookup completed while the first transfer was in progress")
	case <-time.After(50 * time.Millisecond):
	}

	releasedAt := time.Now()
	h.Release()

	select {
	case at := <-secondDone:
		assert.False(t, at.Before(releasedAt), "second lookup must finish after the first release")
	case <-time.After(2 * time.Second):
		t.Fatal("second lookup never completed")
	}
}

// ReleaseBeforeTransfer lets a second lookup through while the first handle
// is still held.
func TestCoarse_ReleaseAllowsParallelHits(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, Options{Engine: EngineCoarseLocked, LockPolicy: ReleaseBeforeTransfer})
	fill(t, c, "a", "b")

	h, ok := c.Lookup("a")
	require.True(t, ok)
	defer h.Release()

	done := make(chan bool, 1)
	go func() {
		h2, ok := c.Lookup("b")
		if ok {
			h2.Release()
		}
		done <- ok
	}()

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("second lookup blocked behind an outstanding handle")
	}
}

// A miss under HoldAcrossTransfer releases the lock immediately.
func TestCoarse_HoldMissDoesNotKeepLock(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, Options{Engine: EngineCoarseLocked, LockPolicy: HoldAcrossTransfer})
	_, ok := c.Lookup("missing")
	require.False(t, ok)

	done := make(chan struct{})
	go func() {
		_ = c.Insert("missing", payloadFor("missing"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("insert blocked after a miss")
	}
}

// The eviction scan covers only the window: with a one-slot window the last
// array slot is overwritten even though an older entry sits elsewhere.
func TestCoarse_NarrowWindowIsApproximate(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, Options{Engine: EngineCoarseLocked, EvictWindow: 1})
	fill(t, c, "a", "b", "c", "d", "e") // array order: e d b a c

	fill(t, c, "f")
	_, ok := lookupBytes(c, "c")
	assert.False(t, ok, "c occupied the last slot")
	_, ok = lookupBytes(c, "a")
	assert.True(t, ok, "a is older but outside the window")
}

// A window larger than the live count never reads past it.
func TestCoarse_WindowLargerThanCount(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, Options{Engine: EngineCoarseLocked, Capacity: 3, EvictWindow: 10})
	fill(t, c, "a", "b", "c", "d")

	assert.Equal(t, 3, c.Len())
	_, ok := lookupBytes(c, "a")
	assert.False(t, ok)
}

func TestCoarse_StatsAndOnEvict(t *testing.T) {
	t.Parallel()

	var evicted []string
	c := newTestCache(t, Options{
		Engine:   EngineCoarseLocked,
		Capacity: 2,
		OnEvict: func(key string, _ int, reason EvictReason) {
			assert.Equal(t, EvictWindow, reason)
			evicted = append(evicted, key)
		},
	})
	fill(t, c, "a", "b", "c")
	_, _ = lookupBytes(c, "c")
	_, _ = lookupBytes(c, "zzz")

	st := c.Stats()
	assert.Equal(t, 2, st.Live)
	assert.Equal(t, 0, st.Retired)
	assert.Equal(t, uint64(1), st.Hits)
	assert.Equal(t, uint64(1), st.Misses)
	assert.Equal(t, uint64(1), st.Evictions)
	assert.Equal(t, sumPayloads("b", "c"), st.Bytes)
	assert.Equal(t, []string{"a"}, evicted)
}

// Lookup takes the first match in array order. A re-inserted key can end up
// behind its older duplicate once later inserts are up-heaped past it, and
// from then on the older payload is served.
func TestCoarse_LookupFirstMatchMayBeOlderDuplicate(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, Options{Engine: EngineCoarseLocked, LockPolicy: ReleaseBeforeTransfer})
	require.NoError(t, c.Insert("k", []byte("v1")))
	require.NoError(t, c.Insert("a", payloadFor("a")))
	require.NoError(t, c.Insert("k", []byte("v2")))

	got, ok := lookupBytes(c, "k")
	require.True(t, ok)
	assert.Equal(t, "v2", string(got))

	// [k2 k1 a] becomes [y x a k1 k2]: nothing is evicted, but k1 now
	// precedes k2.
	fill(t, c, "x", "y")
	require.Equal(t, 5, c.Len())

	got, ok = lookupBytes(c, "k")
	require.True(t, ok)
	assert.Equal(t, "v1", string(got))
}
