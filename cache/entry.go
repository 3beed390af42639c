package cache

import (
	"sync/atomic"

	"github.com/IvanBrykalov/respcache/internal/util"
)

// entry is one cached response. Everything except lastAccess is fixed at
// construction; payload is shared read-only by every reader that holds it.
type entry struct {
	key     string
	hash    uint64 // util.KeyHash(key), compared before key while scanning
	payload []byte

	// Monotonic nanoseconds of the last insert or hit. Written under the
	// owning engine's lock, read by handles without it.
	lastAccess atomic.Int64
}

func newEntry(key string, payload []byte, now int64) *entry {
	e := &entry{key: key, hash: util.KeyHash(key), payload: payload}
	e.lastAccess.Store(now)
	return e
}

func (e *entry) matches(hash uint64, key string) bool {
	return e.hash == hash && e.key == key
}

// releaser is implemented by the engine that issued a handle.
type releaser interface {
	release(h *Handle)
}

// Handle is a reader's claim on a cached entry. While a handle is held the
// entry's payload stays valid, even if the entry is evicted concurrently.
//
// Handles are not meant to be shared between goroutines. Only the first
// Release has an effect; later calls are no-ops, so an entry can never be
// unpinned twice through the same handle.
type Handle struct {
	e        *entry
	owner    releaser
	slot     int32 // arena slot for EngineRefCounted; unused otherwise
	released atomic.Bool
}

// Key returns the request path the entry was cached under.
func (h *Handle) Key() string { return h.e.key }

// Size returns the payload length in bytes.
func (h *Handle) Size() int { return len(h.e.payload) }

// LastAccess returns the entry's last access time in monotonic nanoseconds.
func (h *Handle) LastAccess() int64 { return h.e.lastAccess.Load() }

// Payload returns the cached bytes. The slice must be treated as read-only
// and must not be used after Release; Payload returns nil once released.
func (h *Handle) Payload() []byte {
	if h.released.Load() {
		return nil
	}
	return h.e.payload
}

// Release gives the entry back to the cache. It must be called once per
// successful Lookup; defer it right after the hit.
func (h *Handle) Release() {
	if !h.released.CompareAndSwap(false, true) {
		return
	}
	h.owner.release(h)
}

// unpinned is the releaser for handles that hold neither a pin nor a lock.
type unpinned struct{}

func (unpinned) release(*Handle) {}
