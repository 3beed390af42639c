package cache

// Cache is a bounded in-memory response cache keyed by request path.
// All methods are safe for concurrent use by multiple goroutines.
//
// Both engines scan at most Capacity live entries per lookup; with the
// default capacity of five a scan is cheaper than maintaining an index.
type Cache interface {
	// Lookup returns a handle to the first entry for key in scan order.
	// The refcounted engine scans from the head of its MRU list, which is
	// always the most recently inserted entry for key. The coarse engine
	// scans its array from index 0, and up-heaping can leave an older
	// duplicate ahead of a newer one, so a re-inserted key may serve the
	// older payload until that entry is evicted.
	// On a hit the caller owns the handle and must Release it exactly once,
	// on every exit path. A miss returns (nil, false) and needs no cleanup.
	Lookup(key string) (*Handle, bool)

	// Insert adds a fresh entry for key, evicting one entry when the cache
	// is full. Re-inserting a key creates a new entry; nothing is deduplicated.
	// Insert takes ownership of payload: callers must not modify it afterwards.
	// ErrNoSpace means the insert was aborted and the cache is unchanged.
	Insert(key string, payload []byte) error

	// View runs fn on the cached payload for key and releases the entry
	// when fn returns (or panics). hit is false when key is not cached.
	View(key string, fn func(payload []byte) error) (hit bool, err error)

	// Len returns the number of live entries.
	Len() int

	// Stats returns a point-in-time snapshot of counters and occupancy.
	Stats() Stats

	// Close marks the cache closed. Subsequent lookups miss and inserts
	// return ErrClosed; outstanding handles may still be released.
	Close() error
}

// Stats is a snapshot of cache occupancy and counters.
type Stats struct {
	Live      int    // entries reachable by Lookup
	Retired   int    // evicted entries still pinned by readers
	Slots     int    // allocated storage slots (live + retired + free)
	Bytes     int64  // payload bytes held (live + retired)
	Hits      uint64 // successful lookups
	Misses    uint64 // failed lookups
	Evictions uint64 // entries removed to make room
	Reclaims  uint64 // entries whose storage was released
}
