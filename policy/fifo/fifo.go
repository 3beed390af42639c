// Package fifo implements an insertion-order policy: lookups never reorder
// the list, so the tail is always the least recently inserted entry.
package fifo

import "github.com/IvanBrykalov/respcache/policy"

type fifo struct {
	h policy.Hooks
}

type fifoFactory struct{}

// New returns a Factory that constructs FIFO instances.
func New() policy.Factory { return fifoFactory{} }

func (fifoFactory) New(h policy.Hooks) policy.Policy { return &fifo{h: h} }

func (p *fifo) OnAdd(s policy.Slot)  { p.h.PushFront(s) }
func (p *fifo) OnHit(policy.Slot)    {}
func (p *fifo) OnRetire(policy.Slot) {}
