package timerheap

import (
	"testing"
	"time"
)

func TestTickFiresInDeadlineOrder(t *testing.T) {
	h := New()
	var order []int
	h.Add(3, 30*time.Millisecond, func() { order = append(order, 3) })
	h.Add(1, 10*time.Millisecond, func() { order = append(order, 1) })
	h.Add(2, 20*time.Millisecond, func() { order = append(order, 2) })

	time.Sleep(40 * time.Millisecond)
	h.Tick()

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("fire order = %v, want [1 2 3]", order)
	}
	if h.Len() != 0 {
		t.Fatalf("Len() after firing all = %d, want 0", h.Len())
	}
}

func TestCancelPreventsCallback(t *testing.T) {
	h := New()
	fired := false
	h.Add(7, 5*time.Millisecond, func() { fired = true })
	h.Cancel(7)

	time.Sleep(15 * time.Millisecond)
	h.Tick()

	if fired {
		t.Fatalf("callback for cancelled timer 7 was invoked")
	}
	if h.Len() != 0 {
		t.Fatalf("Len() after cancel = %d, want 0", h.Len())
	}
}

func TestAdjustReordersHeap(t *testing.T) {
	h := New()
	var order []int
	h.Add(1, 5*time.Millisecond, func() { order = append(order, 1) })
	h.Add(2, 50*time.Millisecond, func() { order = append(order, 2) })

	h.Adjust(2, 1*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	h.Tick()

	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Fatalf("after Adjust, fire order = %v, want [2 1]", order)
	}
}

func TestNextTickReportsMillisUntilRoot(t *testing.T) {
	h := New()
	if got := h.NextTick(); got != -1 {
		t.Fatalf("NextTick() on empty heap = %d, want -1", got)
	}
	h.Add(1, 50*time.Millisecond, func() {})
	ms := h.NextTick()
	if ms <= 0 || ms > 50 {
		t.Fatalf("NextTick() = %d, want in (0,50]", ms)
	}
}
