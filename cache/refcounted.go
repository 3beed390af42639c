package cache

import (
	"sync"
	"sync/atomic"

	"github.com/IvanBrykalov/respcache/internal/util"
	"github.com/IvanBrykalov/respcache/policy"
)

type slotState uint8

const (
	slotFree slotState = iota
	slotLive
	slotRetired
)

// slot is one arena cell. Live slots form the MRU list through prev/next;
// free slots are chained through next.
type slot struct {
	e     *entry
	prev  policy.Slot
	next  policy.Slot
	pins  int32 // readers currently holding a handle to this slot
	state slotState
}

// refCounted is the pinning engine: a bounded MRU list (head=MRU, tail=next
// to retire) stored in a slot arena. Readers pin slots, so the structural
// lock only covers index manipulation and never a payload transfer.
//
// A slot is reclaimed iff it is retired and unpinned. Both conditions can
// only become true in retireLocked and release, which is where it is checked.
type refCounted struct {
	// ---- guarded by mu ----
	mu       sync.Mutex
	slots    []slot
	head     policy.Slot // MRU
	tail     policy.Slot // retired first when full
	free     policy.Slot // free-list head
	live     int         // linked slots
	retired  int         // unlinked slots still pinned
	bytes    int64       // payload bytes of live + retired slots
	cap      int         // live slot limit
	maxSlots int         // arena limit (0 = unbounded)

	pol    policy.Policy
	opt    Options
	closed atomic.Bool

	// ---- hot counters (separate cache lines to avoid false sharing) ----
	_        util.CacheLinePad
	hits     util.PaddedAtomicUint64
	misses   util.PaddedAtomicUint64
	evicts   util.PaddedAtomicUint64
	reclaims util.PaddedAtomicUint64
}

func newRefCounted(opt Options) *refCounted {
	c := &refCounted{
		slots:    make([]slot, 0, opt.Capacity),
		head:     policy.None,
		tail:     policy.None,
		free:     policy.None,
		cap:      opt.Capacity,
		maxSlots: opt.MaxSlots,
		opt:      opt,
	}
	c.pol = opt.Policy.New(refHooks{c: c})
	return c
}

// Lookup pins the most recent live entry for key.
func (c *refCounted) Lookup(key string) (*Handle, bool) {
	if c.closed.Load() {
		return nil, false
	}
	hash := util.KeyHash(key)

	c.mu.Lock()
	for i := c.head; i != policy.None; i = c.slots[i].next {
		s := &c.slots[i]
		if !s.e.matches(hash, key) {
			continue
		}
		s.pins++
		s.e.lastAccess.Store(c.opt.Clock.NowNano())
		e := s.e
		c.pol.OnHit(i)
		c.mu.Unlock()

		c.hits.Add(1)
		c.opt.Metrics.Hit()
		return &Handle{e: e, owner: c, slot: i}, true
	}
	c.mu.Unlock()

	c.misses.Add(1)
	c.opt.Metrics.Miss()
	return nil, false
}

// release unpins h's slot and reclaims it if it was retired meanwhile.
func (c *refCounted) release(h *Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &c.slots[h.slot]
	s.pins--
	if s.pins < 0 {
		panic("cache: slot unpinned more often than pinned")
	}
	if s.pins == 0 && s.state == slotRetired {
		c.reclaimLocked(h.slot, true)
	}
}

// Insert links a new entry at the head, retiring the tail when full.
// The entry is built before the lock is taken; the critical section only
// moves indices.
func (c *refCounted) Insert(key string, payload []byte) error {
	if c.closed.Load() {
		return ErrClosed
	}
	e := newEntry(key, payload, c.opt.Clock.NowNano())

	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.allocLocked()
	if idx == policy.None {
		// The arena is exhausted. The only slot left to take is the tail's,
		// and only when retiring it frees it on the spot.
		if c.live < c.cap || c.tail == policy.None || c.slots[c.tail].pins > 0 {
			c.opt.Logger.Debug("cache insert aborted, no free slot",
				"key", key,
				"live", c.live,
				"retired", c.retired,
			)
			return ErrNoSpace
		}
	}
	if c.live >= c.cap {
		c.retireLocked(c.tail)
	}
	if idx == policy.None {
		idx = c.allocLocked()
	}

	c.slots[idx] = slot{e: e, prev: policy.None, next: policy.None, state: slotLive}
	c.live++
	c.bytes += int64(len(payload))
	c.pol.OnAdd(idx)
	c.opt.Metrics.Size(c.live, c.bytes)
	return nil
}

// View runs fn with the pinned payload for key.
func (c *refCounted) View(key string, fn func(payload []byte) error) (bool, error) {
	return view(c, key, fn)
}

// Len returns the number of live entries.
func (c *refCounted) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}

// Stats returns a snapshot of occupancy and counters.
func (c *refCounted) Stats() Stats {
	c.mu.Lock()
	st := Stats{
		Live:    c.live,
		Retired: c.retired,
		Slots:   len(c.slots),
		Bytes:   c.bytes,
	}
	c.mu.Unlock()

	st.Hits = c.hits.Load()
	st.Misses = c.misses.Load()
	st.Evictions = c.evicts.Load()
	st.Reclaims = c.reclaims.Load()
	return st
}

// Close marks the cache closed. Pinned entries stay valid until released.
func (c *refCounted) Close() error {
	c.closed.Store(true)
	return nil
}

// -------------------- internals (mu held) --------------------

// allocLocked pops a free slot or grows the arena. Returns None when the
// arena is at MaxSlots.
func (c *refCounted) allocLocked() policy.Slot {
	if i := c.free; i != policy.None {
		c.free = c.slots[i].next
		return i
	}
	if c.maxSlots > 0 && len(c.slots) >= c.maxSlots {
		return policy.None
	}
	c.slots = append(c.slots, slot{})
	return policy.Slot(len(c.slots) - 1)
}

// retireLocked unlinks a live slot. Unpinned slots are reclaimed at once;
// pinned ones wait for the last release.
func (c *refCounted) retireLocked(i policy.Slot) {
	c.unlinkLocked(i)
	s := &c.slots[i]
	s.state = slotRetired
	c.live--
	c.pol.OnRetire(i)

	c.evicts.Add(1)
	c.opt.Metrics.Evict(EvictTail)
	if cb := c.opt.OnEvict; cb != nil {
		cb(s.e.key, len(s.e.payload), EvictTail)
	}
	c.opt.Logger.Debug("cache entry retired", "key", s.e.key, "pins", s.pins)

	if s.pins == 0 {
		c.reclaimLocked(i, false)
		return
	}
	c.retired++
	c.opt.Metrics.Retired(c.retired)
}

// reclaimLocked drops the slot's entry and returns the slot to the free list.
func (c *refCounted) reclaimLocked(i policy.Slot, deferred bool) {
	s := &c.slots[i]
	c.bytes -= int64(len(s.e.payload))
	if deferred {
		c.retired--
		c.opt.Metrics.Retired(c.retired)
		c.opt.Logger.Debug("cache entry freed by last reader", "key", s.e.key)
	}
	*s = slot{prev: policy.None, next: c.free, state: slotFree}
	c.free = i

	c.reclaims.Add(1)
	c.opt.Metrics.Reclaim(deferred)
	c.opt.Metrics.Size(c.live, c.bytes)
}

// pushFrontLocked links slot i at the head in O(1).
func (c *refCounted) pushFrontLocked(i policy.Slot) {
	s := &c.slots[i]
	s.prev = policy.None
	s.next = c.head
	if c.head != policy.None {
		c.slots[c.head].prev = i
	}
	c.head = i
	if c.tail == policy.None {
		c.tail = i
	}
}

// moveToFrontLocked relinks slot i at the head in O(1).
func (c *refCounted) moveToFrontLocked(i policy.Slot) {
	if i == c.head {
		return
	}
	c.unlinkLocked(i)
	c.pushFrontLocked(i)
}

// unlinkLocked detaches slot i from the list in O(1).
func (c *refCounted) unlinkLocked(i policy.Slot) {
	s := &c.slots[i]
	if s.prev != policy.None {
		c.slots[s.prev].next = s.next
	}
	if s.next != policy.None {
		c.slots[s.next].prev = s.prev
	}
	if c.head == i {
		c.head = s.next
	}
	if c.tail == i {
		c.tail = s.prev
	}
	s.prev, s.next = policy.None, policy.None
}

// -------------------- policy hooks --------------------

// refHooks adapts the engine's list operations to policy.Hooks.
type refHooks struct{ c *refCounted }

func (h refHooks) PushFront(i policy.Slot)   { h.c.pushFrontLocked(i) }
func (h refHooks) MoveToFront(i policy.Slot) { h.c.moveToFrontLocked(i) }

var _ Cache = (*refCounted)(nil)
