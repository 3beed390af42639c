// Package lru implements the promote-on-hit ordering policy.
package lru

import "github.com/IvanBrykalov/respcache/policy"

// lru is a classic "move-to-front" policy: hits relocate the slot to the
// head, so the tail is the least recently used entry.
type lru struct {
	h policy.Hooks
}

type lruFactory struct{}

// New returns a Factory that constructs LRU instances.
func New() policy.Factory { return lruFactory{} }

// New implements policy.Factory by binding engine hooks.
func (lruFactory) New(h policy.Hooks) policy.Policy { return &lru{h: h} }

// OnAdd places the new slot at the head. LRU never chooses evictions itself;
// the engine retires the tail when it is at capacity.
func (p *lru) OnAdd(s policy.Slot) { p.h.PushFront(s) }

// OnHit promotes the slot to the head.
func (p *lru) OnHit(s policy.Slot) { p.h.MoveToFront(s) }

// OnRetire is a no-op (no policy-side state).
func (p *lru) OnRetire(policy.Slot) {}
