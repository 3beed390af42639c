package cache

import "math"

// Ordering primitives for the array-backed engine.
//
// Only the up-heap step exists: an entry is swapped with its parent while
// the parent was accessed earlier, so recently used entries rise toward
// index 0 and old ones collect at the end of the array. Nothing ever sifts
// an entry down, so the order is only maintained along the paths that
// up-heap touches.

// upHeap promotes items[i] toward the root and returns its final index.
func upHeap(items []*entry, i int) int {
	for i > 0 {
		p := (i - 1) / 2
		if items[p].lastAccess.Load() >= items[i].lastAccess.Load() {
			break
		}
		items[p], items[i] = items[i], items[p]
		i = p
	}
	return i
}

// evictWindow returns how many trailing slots to scan for a victim.
// window <= 0 selects the default of count/2 + 1; the result never
// exceeds count.
func evictWindow(count, window int) int {
	if window <= 0 {
		window = count/2 + 1
	}
	if window > count {
		window = count
	}
	return window
}

// oldestInWindow walks the last window slots from the end and returns the
// index of the smallest lastAccess. The first strict minimum found wins,
// so among equal timestamps the slot closest to the end is chosen.
// items must be non-empty.
func oldestInWindow(items []*entry, window int) int {
	n := len(items)
	window = evictWindow(n, window)

	victim := n - 1
	oldest := int64(math.MaxInt64)
	for k := 0; k < window; k++ {
		i := n - 1 - k
		if at := items[i].lastAccess.Load(); at < oldest {
			oldest, victim = at, i
		}
	}
	return victim
}
