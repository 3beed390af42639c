// Package cache holds the response cache that sits in front of the file
// server: the most recently served file contents, keyed by request path,
// in one of two engines with the same contract.
//
// Engines
//
//   - EngineRefCounted: a bounded MRU list stored in a slot arena with
//     int32 prev/next indices. Lookup pins the slot and returns a Handle;
//     the structural mutex covers only index manipulation, so any number of
//     readers transfer payloads in parallel. Inserting into a full list
//     retires the tail. A retired slot that readers still pin stays intact
//     until the last Release, which reclaims it. Options.MaxSlots bounds
//     live plus retired slots; when it is exhausted Insert returns
//     ErrNoSpace and leaves the list untouched.
//
//   - EngineCoarseLocked: a fixed array of entries ordered by an up-heap
//     step on last access (most recent toward index 0), guarded by one
//     mutex. A full array overwrites the oldest entry among its last
//     count/2+1 slots. With LockPolicy HoldAcrossTransfer the mutex stays
//     locked from a hit until Handle.Release, which serializes all hits;
//     ReleaseBeforeTransfer unlocks before Lookup returns. The two policies
//     exist side by side so they can be benchmarked against each other.
//
// Handles
//
// Every successful Lookup must be paired with exactly one Release on all
// exit paths. View does that for you:
//
//	hit, err := c.View("index.html", func(p []byte) error {
//	    _, err := conn.Write(p)
//	    return err
//	})
//
// Basic usage
//
//	c := cache.New(cache.Options{Capacity: 5})
//	_ = c.Insert("index.html", body)
//	if h, ok := c.Lookup("index.html"); ok {
//	    defer h.Release()
//	    _ = h.Payload() // read-only
//	}
//
// Baseline comparison
//
//	naive := cache.New(cache.Options{
//	    Engine:     cache.EngineCoarseLocked,
//	    LockPolicy: cache.HoldAcrossTransfer,
//	})
//
// Exporting metrics
//
//	m := prom.New(nil, "respcache", "cache", nil) // implements Metrics
//	c := cache.New(cache.Options{Metrics: m})
//
// Thread-safety & complexity
//
// All methods are safe for concurrent use. Lookup is a linear scan over at
// most Capacity live entries, comparing 64-bit key fingerprints first.
// Insert and Release are O(1) for the refcounted engine; the coarse engine's
// Insert is O(window + log n).
package cache
