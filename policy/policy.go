// Package policy defines how the reference-counted engine orders its MRU list.
package policy

// Slot is an index into the engine's slot arena.
type Slot = int32

// None marks the absence of a slot (empty list end, no victim).
const None Slot = -1

// Hooks expose O(1) list operations that a policy can use to manipulate
// the engine's MRU list. Implementations are provided by the engine.
//
// Concurrency: all hook calls happen under the engine's structural lock.
// Hooks manage only list links; pin counts and reclamation stay with the engine.
type Hooks interface {
	// PushFront links a freshly allocated slot at the head (used on admission).
	PushFront(Slot)
	// MoveToFront relinks a live slot at the head.
	MoveToFront(Slot)
}

// Policy is an engine-local ordering policy bound to the engine hooks.
// All methods are invoked under the structural lock.
//
// Semantics:
//   - OnAdd must link the slot (normally PushFront).
//   - OnHit reacts to a successful lookup (promote or leave in place).
//   - OnRetire is a notification after the engine unlinked the slot.
type Policy interface {
	OnAdd(Slot)
	OnHit(Slot)
	OnRetire(Slot)
}

// Factory creates a policy instance bound to a particular engine's hooks.
type Factory interface {
	New(Hooks) Policy
}
