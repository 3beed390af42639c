package cache

import (
	"errors"
	"log/slog"

	"github.com/IvanBrykalov/respcache/policy/lru"
)

var (
	// ErrNoSpace is returned by Insert when no storage slot could be
	// allocated. The cache is left unchanged; serve the payload uncached.
	ErrNoSpace = errors.New("cache: no free slot for new entry")

	// ErrClosed is returned by Insert after Close.
	ErrClosed = errors.New("cache: closed")
)

// New constructs a cache with the provided Options.
// Defaults:
//   - Capacity <= 0 -> DefaultCapacity
//   - nil Metrics   -> NoopMetrics
//   - nil Policy    -> LRU
//   - nil Logger    -> discard
//   - nil Clock     -> monotonic clock
func New(opt Options) Cache {
	if opt.Capacity <= 0 {
		opt.Capacity = DefaultCapacity
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.Logger == nil {
		opt.Logger = slog.New(slog.DiscardHandler)
	}
	if opt.Clock == nil {
		opt.Clock = monoClock{}
	}

	switch opt.Engine {
	case EngineCoarseLocked:
		return newCoarseLocked(opt)
	default:
		if opt.Policy == nil {
			opt.Policy = lru.New()
		}
		if opt.MaxSlots > 0 && opt.MaxSlots < opt.Capacity {
			opt.MaxSlots = opt.Capacity
		}
		return newRefCounted(opt)
	}
}

// view implements Cache.View on top of Lookup for both engines.
func view(c Cache, key string, fn func(payload []byte) error) (bool, error) {
	h, ok := c.Lookup(key)
	if !ok {
		return false, nil
	}
	defer h.Release()
	return true, fn(h.Payload())
}
