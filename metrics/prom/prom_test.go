package prom

import (
	"testing"
	"time"

	"github.com/IvanBrykalov/respcache/cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestAdapter_CountsCacheEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, "respcache", "cache", nil)

	c := cache.New(cache.Options{Capacity: 2, Metrics: m})
	defer func() { _ = c.Close() }()

	require.NoError(t, c.Insert("a", []byte("aa")))
	require.NoError(t, c.Insert("b", []byte("bbb")))

	h, ok := c.Lookup("a")
	require.True(t, ok)
	_, ok = c.Lookup("zzz")
	require.False(t, ok)

	// "b" is the tail now and unpinned; "a" stays pinned but is not evicted.
	require.NoError(t, c.Insert("c", []byte("c")))
	h.Release()

	require.Equal(t, 1.0, testutil.ToFloat64(m.hits))
	require.Equal(t, 1.0, testutil.ToFloat64(m.misses))
	require.Equal(t, 1.0, testutil.ToFloat64(m.evicts.WithLabelValues("tail")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.reclaims.WithLabelValues("immediate")))
	require.Equal(t, 0.0, testutil.ToFloat64(m.reclaims.WithLabelValues("deferred")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.sizeEnt))
	require.Equal(t, 3.0, testutil.ToFloat64(m.sizeByte))
}

func TestAdapter_DeferredReclaim(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, "respcache", "cache", nil)

	c := cache.New(cache.Options{Capacity: 1, Metrics: m})
	defer func() { _ = c.Close() }()

	require.NoError(t, c.Insert("a", []byte("a")))
	h, ok := c.Lookup("a")
	require.True(t, ok)

	require.NoError(t, c.Insert("b", []byte("b")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.retired))

	h.Release()
	require.Equal(t, 0.0, testutil.ToFloat64(m.retired))
	require.Equal(t, 1.0, testutil.ToFloat64(m.reclaims.WithLabelValues("deferred")))
}

func TestAdapter_WindowReason(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, "respcache", "cache", nil)

	c := cache.New(cache.Options{Capacity: 1, Engine: cache.EngineCoarseLocked, Metrics: m})
	defer func() { _ = c.Close() }()

	require.NoError(t, c.Insert("a", nil))
	require.NoError(t, c.Insert("b", nil))
	require.Equal(t, 1.0, testutil.ToFloat64(m.evicts.WithLabelValues("window")))
}

func TestServer_Request(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewServer(reg, "respcache", "http", nil)

	s.ConnOpened()
	s.Request("hit", 100, 2*time.Millisecond)
	s.Request("miss", 50, 5*time.Millisecond)
	s.Request("not_found", 0, time.Millisecond)
	s.ConnClosed()
	s.AcceptError()

	require.Equal(t, 1.0, testutil.ToFloat64(s.requests.WithLabelValues("hit")))
	require.Equal(t, 150.0, testutil.ToFloat64(s.bytes))
	require.Equal(t, 0.0, testutil.ToFloat64(s.conns))
	require.Equal(t, 1.0, testutil.ToFloat64(s.rejected))
	require.Equal(t, 3, testutil.CollectAndCount(s.latency))
}
