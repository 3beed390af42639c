package cache

import (
	"sync"
	"sync/atomic"

	"github.com/IvanBrykalov/respcache/internal/util"
)

// coarseLocked is the array-backed engine. One mutex guards the array for
// every operation; with HoldAcrossTransfer it is also held from a hit until
// the handle is released, so at most one hit is being served at a time.
//
// Under HoldAcrossTransfer a goroutine must release its handle before it
// calls any other method on the same cache, or it deadlocks on itself.
type coarseLocked struct {
	// ---- guarded by mu ----
	mu     sync.Mutex
	items  []*entry // len(items) is the live count, cap(items) the capacity
	bytes  int64
	window int // configured eviction window (0 = count/2 + 1)
	hold   bool

	opt    Options
	closed atomic.Bool

	_      util.CacheLinePad
	hits   util.PaddedAtomicUint64
	misses util.PaddedAtomicUint64
	evicts util.PaddedAtomicUint64
}

func newCoarseLocked(opt Options) *coarseLocked {
	return &coarseLocked{
		items:  make([]*entry, 0, opt.Capacity),
		window: opt.EvictWindow,
		hold:   opt.LockPolicy == HoldAcrossTransfer,
		opt:    opt,
	}
}

// Lookup scans the array under the lock and takes the first match, which
// need not be the newest duplicate of key. On a hit the entry's last access
// is refreshed and it is up-heaped toward the root.
func (c *coarseLocked) Lookup(key string) (*Handle, bool) {
	if c.closed.Load() {
		return nil, false
	}
	hash := util.KeyHash(key)

	c.mu.Lock()
	for i, e := range c.items {
		if !e.matches(hash, key) {
			continue
		}
		e.lastAccess.Store(c.opt.Clock.NowNano())
		upHeap(c.items, i)
		c.hits.Add(1)
		c.opt.Metrics.Hit()

		if c.hold {
			// mu stays locked; Handle.Release unlocks it.
			return &Handle{e: e, owner: c}, true
		}
		c.mu.Unlock()
		return &Handle{e: e, owner: unpinned{}}, true
	}
	c.mu.Unlock()

	c.misses.Add(1)
	c.opt.Metrics.Miss()
	return nil, false
}

// release ends the critical section a HoldAcrossTransfer hit started.
func (c *coarseLocked) release(*Handle) { c.mu.Unlock() }

// Insert appends while there is room; otherwise it overwrites the oldest
// slot of the eviction window. Either way the new entry is up-heaped.
func (c *coarseLocked) Insert(key string, payload []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	e := newEntry(key, payload, c.opt.Clock.NowNano())

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.items) < cap(c.items) {
		c.items = append(c.items, e)
		c.bytes += int64(len(payload))
		upHeap(c.items, len(c.items)-1)
		c.opt.Metrics.Size(len(c.items), c.bytes)
		return nil
	}

	i := oldestInWindow(c.items, c.window)
	old := c.items[i]
	c.items[i] = e
	c.bytes += int64(len(payload)) - int64(len(old.payload))

	c.evicts.Add(1)
	c.opt.Metrics.Evict(EvictWindow)
	c.opt.Metrics.Reclaim(false)
	if cb := c.opt.OnEvict; cb != nil {
		cb(old.key, len(old.payload), EvictWindow)
	}
	c.opt.Logger.Debug("cache entry freed", "key", old.key, "slot", i)

	upHeap(c.items, i)
	c.opt.Metrics.Size(len(c.items), c.bytes)
	return nil
}

// View runs fn with the payload for key. Under HoldAcrossTransfer fn runs
// with the cache lock held.
func (c *coarseLocked) View(key string, fn func(payload []byte) error) (bool, error) {
	return view(c, key, fn)
}

// Len returns the number of occupied slots.
func (c *coarseLocked) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns a snapshot of occupancy and counters. Evicted entries are
// dropped immediately, so Retired is always zero and Reclaims equals
// Evictions.
func (c *coarseLocked) Stats() Stats {
	c.mu.Lock()
	st := Stats{
		Live:  len(c.items),
		Slots: cap(c.items),
		Bytes: c.bytes,
	}
	c.mu.Unlock()

	st.Hits = c.hits.Load()
	st.Misses = c.misses.Load()
	st.Evictions = c.evicts.Load()
	st.Reclaims = st.Evictions
	return st
}

// Close marks the cache closed.
func (c *coarseLocked) Close() error {
	c.closed.Store(true)
	return nil
}

var _ Cache = (*coarseLocked)(nil)
