package lru

import (
	"testing"

	"github.com/IvanBrykalov/respcache/policy"
)

// --- test doubles ---

type mockHooks struct {
	pushFrontCnt   int
	moveToFrontCnt int

	lastPush policy.Slot
	lastMove policy.Slot
}

func (h *mockHooks) PushFront(s policy.Slot)   { h.pushFrontCnt++; h.lastPush = s }
func (h *mockHooks) MoveToFront(s policy.Slot) { h.moveToFrontCnt++; h.lastMove = s }

// --- tests ---

// OnAdd should link the slot at the head exactly once.
func TestLRU_OnAdd_PushFront(t *testing.T) {
	t.Parallel()

	h := &mockHooks{}
	p := New().New(h)

	p.OnAdd(3)

	if h.pushFrontCnt != 1 || h.lastPush != 3 {
		t.Fatalf("OnAdd must call PushFront exactly once with the slot")
	}
	if h.moveToFrontCnt != 0 {
		t.Fatalf("OnAdd must not call MoveToFront")
	}
}

// OnHit should promote the slot to the head.
func TestLRU_OnHit_MoveToFront(t *testing.T) {
	t.Parallel()

	h := &mockHooks{}
	p := New().New(h)

	p.OnHit(2)

	if h.moveToFrontCnt != 1 || h.lastMove != 2 {
		t.Fatalf("OnHit must call MoveToFront exactly once with the slot")
	}
	if h.pushFrontCnt != 0 {
		t.Fatalf("OnHit must not call PushFront")
	}
}

// OnRetire is a no-op for pure LRU.
func TestLRU_OnRetire_NoOp(t *testing.T) {
	t.Parallel()

	h := &mockHooks{}
	p := New().New(h)

	p.OnRetire(1)

	if h.pushFrontCnt != 0 || h.moveToFrontCnt != 0 {
		t.Fatalf("OnRetire for LRU must be no-op (no hooks should be called)")
	}
}
