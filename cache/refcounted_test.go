package cache

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/respcache/policy/fifo"
)

type recordingMetrics struct {
	mu       sync.Mutex
	hits     int
	misses   int
	evicts   []EvictReason
	reclaims []bool
	retired  []int
}

func (m *recordingMetrics) Hit()  { m.mu.Lock(); m.hits++; m.mu.Unlock() }
func (m *recordingMetrics) Miss() { m.mu.Lock(); m.misses++; m.mu.Unlock() }
func (m *recordingMetrics) Evict(r EvictReason) {
	m.mu.Lock()
	m.evicts = append(m.evicts, r)
	m.mu.Unlock()
}
func (m *recordingMetrics) Reclaim(deferred bool) {
	m.mu.Lock()
	m.reclaims = append(m.reclaims, deferred)
	m.mu.Unlock()
}
func (m *recordingMetrics) Size(int, int64) {}
func (m *recordingMetrics) Retired(n int) {
	m.mu.Lock()
	m.retired = append(m.retired, n)
	m.mu.Unlock()
}

func fill(t *testing.T, c Cache, keys ...string) {
	t.Helper()
	for _, k := range keys {
		require.NoError(t, c.Insert(k, payloadFor(k)))
	}
}

// Two readers pin the same entry, eviction retires it, and the payload stays
// intact for both until the second Release frees it.
func TestRefCounted_PinnedEntrySurvivesEviction(t *testing.T) {
	t.Parallel()

	m := &recordingMetrics{}
	c := newTestCache(t, Options{Metrics: m})
	fill(t, c, "a", "b", "c", "d", "e")

	h1, ok := c.Lookup("a")
	require.True(t, ok)
	h2, ok := c.Lookup("a")
	require.True(t, ok)

	// Five more inserts push every earlier entry out, "a" included.
	fill(t, c, "f", "g", "h", "i", "j")
	_, ok = c.Lookup("a")
	require.False(t, ok, "a must no longer be reachable")

	st := c.Stats()
	assert.Equal(t, 5, st.Live)
	assert.Equal(t, 1, st.Retired)
	assert.Equal(t, 6, st.Slots)

	assert.Equal(t, payloadFor("a"), h1.Payload())
	assert.Equal(t, payloadFor("a"), h2.Payload())

	h1.Release()
	assert.Equal(t, 1, c.Stats().Retired, "still pinned by the second reader")
	assert.Equal(t, payloadFor("a"), h2.Payload())

	h2.Release()
	st = c.Stats()
	assert.Equal(t, 0, st.Retired)
	assert.Equal(t, uint64(5), st.Evictions)
	assert.Equal(t, uint64(5), st.Reclaims)
	assert.Equal(t, sumPayloads("f", "g", "h", "i", "j"), st.Bytes)

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Equal(t, []bool{false, false, false, false, true}, m.reclaims)
	assert.Equal(t, []int{1, 0}, m.retired)
}

func sumPayloads(keys ...string) int64 {
	var n int64
	for _, k := range keys {
		n += int64(len(payloadFor(k)))
	}
	return n
}

// Release is idempotent: a second call neither unpins nor panics.
func TestRefCounted_DoubleReleaseIsNoop(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, Options{Policy: fifo.New()})
	fill(t, c, "a", "b", "c", "d", "e")

	h1, _ := c.Lookup("a")
	h2, _ := c.Lookup("a")
	h1.Release()
	h1.Release()
	assert.Nil(t, h1.Payload(), "payload is withdrawn after release")

	fill(t, c, "f") // retires a, still pinned by h2
	assert.Equal(t, 1, c.Stats().Retired)
	assert.Equal(t, payloadFor("a"), h2.Payload())

	h2.Release()
	assert.Equal(t, 0, c.Stats().Retired)
}

// With the arena exhausted and the tail pinned, Insert aborts and leaves
// the cache exactly as it was.
func TestRefCounted_NoSpaceLeavesCacheUnchanged(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, Options{Capacity: 2, MaxSlots: 2, Policy: fifo.New()})
	fill(t, c, "a", "b")

	pin, ok := c.Lookup("a") // a is the FIFO tail
	require.True(t, ok)

	err := c.Insert("c", payloadFor("c"))
	require.ErrorIs(t, err, ErrNoSpace)

	assert.Equal(t, 2, c.Len())
	_, ok = lookupBytes(c, "c")
	assert.False(t, ok)
	got, ok := lookupBytes(c, "b")
	assert.True(t, ok)
	assert.Equal(t, payloadFor("b"), got)
	assert.Equal(t, payloadFor("a"), pin.Payload())

	pin.Release()
	require.NoError(t, c.Insert("c", payloadFor("c")))
	_, ok = lookupBytes(c, "a")
	assert.False(t, ok, "a is evicted once unpinned")
	st := c.Stats()
	assert.Equal(t, 2, st.Slots, "tail slot is reused in place")
	assert.Equal(t, 0, st.Retired)
}

// A retired-but-pinned slot counts against MaxSlots until it is released.
func TestRefCounted_RetiredSlotsCountAgainstMaxSlots(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, Options{Capacity: 2, MaxSlots: 3, Policy: fifo.New()})
	fill(t, c, "a", "b")

	pin, _ := c.Lookup("a")
	require.NoError(t, c.Insert("c", payloadFor("c"))) // third slot; a retired
	assert.Equal(t, 1, c.Stats().Retired)

	// b is the tail and unpinned, so its slot is recycled.
	require.NoError(t, c.Insert("d", payloadFor("d")))

	// Now pin the tail (c) as well: no slot left.
	pinC, _ := c.Lookup("c")
	require.ErrorIs(t, c.Insert("e", payloadFor("e")), ErrNoSpace)

	pin.Release()
	require.NoError(t, c.Insert("e", payloadFor("e")), "a's slot became free")
	pinC.Release()
	assert.Equal(t, 0, c.Stats().Retired)
}

// A reader holding a pin never blocks another reader or a writer.
func TestRefCounted_PinDoesNotBlock(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, Options{})
	fill(t, c, "a", "b")

	h, ok := c.Lookup("a")
	require.True(t, ok)
	defer h.Release()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if h2, ok := c.Lookup("a"); ok {
			h2.Release()
		}
		if h3, ok := c.Lookup("b"); ok {
			h3.Release()
		}
		_ = c.Insert("c", payloadFor("c"))
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("operations blocked while a pin was held")
	}
}

// Stress: readers verify payloads while writers keep forcing evictions of
// the keys they have pinned. No reader may ever observe foreign bytes, and
// once everyone is done nothing stays retired.
func TestRefCounted_StressPinnedEviction(t *testing.T) {
	c := newTestCache(t, Options{})

	const keyspace = 12
	keyOf := func(i int) string { return fmt.Sprintf("file-%02d.html", i) }
	for i := 0; i < DefaultCapacity; i++ {
		require.NoError(t, c.Insert(keyOf(i), payloadFor(keyOf(i))))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	readers := 2 * runtime.GOMAXPROCS(0)
	for w := 0; w < readers; w++ {
		seed := int64(w)
		g.Go(func() error {
			r := rand.New(rand.NewSource(seed))
			for ctx.Err() == nil {
				k := keyOf(r.Intn(keyspace))
				h, ok := c.Lookup(k)
				if !ok {
					continue
				}
				want := payloadFor(k)
				first := bytes.Equal(h.Payload(), want)
				runtime.Gosched() // let writers retire the slot mid-read
				second := bytes.Equal(h.Payload(), want)
				h.Release()
				if !first || !second {
					return fmt.Errorf("%s: payload changed while pinned", k)
				}
			}
			return nil
		})
	}
	for w := 0; w < 2; w++ {
		seed := int64(1000 + w)
		g.Go(func() error {
			r := rand.New(rand.NewSource(seed))
			for ctx.Err() == nil {
				k := keyOf(r.Intn(keyspace))
				if err := c.Insert(k, payloadFor(k)); err != nil {
					return err
				}
				if n := c.Len(); n > DefaultCapacity {
					return fmt.Errorf("live entries %d exceed capacity", n)
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	st := c.Stats()
	assert.Equal(t, 0, st.Retired)
	assert.LessOrEqual(t, st.Live, DefaultCapacity)
	assert.Equal(t, st.Evictions, st.Reclaims)
}

// OnEvict fires once per retirement with the tail's key.
func TestRefCounted_OnEvict(t *testing.T) {
	t.Parallel()

	var evicted []string
	c := newTestCache(t, Options{
		Capacity: 2,
		OnEvict: func(key string, size int, reason EvictReason) {
			assert.Equal(t, EvictTail, reason)
			assert.Equal(t, len(payloadFor(key)), size)
			evicted = append(evicted, key)
		},
	})
	fill(t, c, "a", "b", "c", "d")
	assert.Equal(t, []string{"a", "b"}, evicted)
}

// The refcounted engine always finds the newer duplicate first.
func TestRefCounted_LookupReturnsNewestDuplicate(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, Options{Engine: EngineRefCounted})
	require.NoError(t, c.Insert("k", []byte("v1")))
	require.NoError(t, c.Insert("a", payloadFor("a")))
	require.NoError(t, c.Insert("k", []byte("v2")))
	fill(t, c, "x", "y")

	for i := 0; i < 3; i++ {
		got, ok := lookupBytes(c, "k")
		require.True(t, ok)
		assert.Equal(t, "v2", string(got))
	}
}
