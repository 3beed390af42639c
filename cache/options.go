package cache

import (
	"log/slog"
	"time"

	"github.com/IvanBrykalov/respcache/policy"
)

// DefaultCapacity is the number of live entries kept when Options.Capacity is zero.
const DefaultCapacity = 5

// Engine selects the cache implementation.
type Engine int

const (
	// EngineRefCounted is a bounded MRU list whose readers pin entries, so the
	// structural lock is never held while a payload is transferred.
	EngineRefCounted Engine = iota
	// EngineCoarseLocked is a bounded array ordered by last access and guarded
	// by a single lock; see LockPolicy.
	EngineCoarseLocked
)

// String returns the flag spelling of the engine.
func (e Engine) String() string {
	switch e {
	case EngineRefCounted:
		return "refcounted"
	case EngineCoarseLocked:
		return "coarse"
	default:
		return "unknown"
	}
}

// LockPolicy controls how long EngineCoarseLocked keeps its lock on a hit.
type LockPolicy int

const (
	// HoldAcrossTransfer keeps the cache lock from Lookup until Handle.Release,
	// serializing every hit cache-wide. This is the baseline behavior.
	HoldAcrossTransfer LockPolicy = iota
	// ReleaseBeforeTransfer unlocks before Lookup returns; the lock is only
	// held for the scan and the up-heap step.
	ReleaseBeforeTransfer
)

// String returns the flag spelling of the lock policy.
func (p LockPolicy) String() string {
	switch p {
	case HoldAcrossTransfer:
		return "hold"
	case ReleaseBeforeTransfer:
		return "release"
	default:
		return "unknown"
	}
}

// EvictReason explains why an entry left the cache.
type EvictReason int

const (
	// EvictTail: the MRU list was full and its tail was retired.
	EvictTail EvictReason = iota
	// EvictWindow: the array was full and the oldest slot of the eviction
	// window was overwritten.
	EvictWindow
)

// Metrics exposes cache-level observability hooks.
// A NoopMetrics implementation is provided and used by default.
type Metrics interface {
	Hit()
	Miss()
	Evict(reason EvictReason)
	// Reclaim reports that an entry's storage was released; deferred is true
	// when the last reader's Release did it rather than the eviction itself.
	Reclaim(deferred bool)
	Size(entries int, bytes int64)
	// Retired reports how many evicted entries are still pinned.
	Retired(pending int)
}

// Clock provides monotonic time in nanoseconds; useful for deterministic tests.
type Clock interface{ NowNano() int64 }

var processStart = time.Now()

// monoClock reads the runtime's monotonic clock relative to process start.
type monoClock struct{}

func (monoClock) NowNano() int64 { return int64(time.Since(processStart)) }

// Options configures the cache. Zero values are safe;
// defaults are applied in New():
//   - Capacity 0     => DefaultCapacity
//   - nil Policy     => LRU (EngineRefCounted only)
//   - nil Metrics    => NoopMetrics
//   - nil Logger     => discard
//   - nil Clock      => monotonic wall clock
type Options struct {
	// Capacity is the maximum number of live entries.
	Capacity int

	// Engine picks the implementation (refcounted by default).
	Engine Engine

	// LockPolicy applies to EngineCoarseLocked only.
	LockPolicy LockPolicy

	// Policy orders the MRU list of EngineRefCounted; nil => LRU.
	Policy policy.Factory

	// MaxSlots bounds EngineRefCounted's storage: live entries plus evicted
	// entries that readers still pin. 0 = unbounded. Values below Capacity
	// are raised to Capacity. When no slot is available Insert fails with
	// ErrNoSpace.
	MaxSlots int

	// EvictWindow is how many trailing array slots EngineCoarseLocked scans
	// for the oldest entry. 0 => count/2 + 1.
	EvictWindow int

	// Observability
	// OnEvict is called on eviction under the structural lock; keep it lightweight.
	OnEvict func(key string, size int, reason EvictReason)
	Metrics Metrics
	Logger  *slog.Logger

	// Clock allows overriding the time source (tests).
	Clock Clock
}
