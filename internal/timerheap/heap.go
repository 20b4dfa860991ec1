// Package timerheap implements the idle-connection deadline heap: a
// binary min-heap on deadline keyed by connection fd, with a sidecar
// id-to-index map so Adjust and Cancel run in O(log n) instead of a
// linear scan. It is touched only from the server-loop goroutine; no
// internal locking is provided or needed.
package timerheap

import "time"

// Callback runs when a timer expires. It must not block and must be
// safe to call from the server-loop goroutine.
type Callback func()

type node struct {
	id       int
	deadline time.Time
	cb       Callback
}

// Heap is a min-heap of timers keyed by deadline.
type Heap struct {
	nodes []node
	index map[int]int // id -> position in nodes
}

// New returns an empty Heap with room for 64 timers before its first
// grow, matching the original's reserved capacity.
func New() *Heap {
	return &Heap{nodes: make([]node, 0, 64), index: make(map[int]int, 64)}
}

// Add registers or replaces the timer for id, due ttl from now.
func (h *Heap) Add(id int, ttl time.Duration, cb Callback) {
	deadline := time.Now().Add(ttl)
	if i, ok := h.index[id]; ok {
		h.nodes[i].deadline = deadline
		h.nodes[i].cb = cb
		if !h.siftDown(i) {
			h.siftUp(i)
		}
		return
	}
	i := len(h.nodes)
	h.index[id] = i
	h.nodes = append(h.nodes, node{id: id, deadline: deadline, cb: cb})
	h.siftUp(i)
}

// Adjust updates the deadline of an existing timer in place.
func (h *Heap) Adjust(id int, ttl time.Duration) {
	i, ok := h.index[id]
	if !ok {
		return
	}
	h.nodes[i].deadline = time.Now().Add(ttl)
	if !h.siftDown(i) {
		h.siftUp(i)
	}
}

// Cancel removes the timer for id, if present. No callback runs.
func (h *Heap) Cancel(id int) {
	i, ok := h.index[id]
	if !ok {
		return
	}
	h.remove(i)
}

// Tick invokes and removes every timer whose deadline has passed.
func (h *Heap) Tick() {
	now := time.Now()
	for len(h.nodes) > 0 {
		root := h.nodes[0]
		if root.deadline.After(now) {
			break
		}
		cb := root.cb
		h.remove(0)
		if cb != nil {
			cb()
		}
		now = time.Now()
	}
}

// NextTick runs Tick, then reports the milliseconds until the new
// root's deadline (clamped to 0), or -1 if the heap is empty.
func (h *Heap) NextTick() int {
	h.Tick()
	if len(h.nodes) == 0 {
		return -1
	}
	ms := int(time.Until(h.nodes[0].deadline) / time.Millisecond)
	if ms < 0 {
		ms = 0
	}
	return ms
}

// Len reports the number of live timers.
func (h *Heap) Len() int { return len(h.nodes) }

func (h *Heap) remove(i int) {
	n := len(h.nodes) - 1
	if i < n {
		h.swap(i, n)
	}
	last := h.nodes[n]
	delete(h.index, last.id)
	h.nodes = h.nodes[:n]
	if i < n {
		if !h.siftDown(i) {
			h.siftUp(i)
		}
	}
}

func (h *Heap) swap(i, j int) {
	h.nodes[i], h.nodes[j] = h.nodes[j], h.nodes[i]
	h.index[h.nodes[i].id] = i
	h.index[h.nodes[j].id] = j
}

func (h *Heap) siftUp(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if h.nodes[parent].deadline.After(h.nodes[i].deadline) {
			h.swap(i, parent)
			i = parent
			continue
		}
		break
	}
}

// siftDown reports whether the node at i actually moved down.
func (h *Heap) siftDown(i int) bool {
	n := len(h.nodes)
	start := i
	for {
		child := 2*i + 1
		if child >= n {
			break
		}
		if child+1 < n && h.nodes[child+1].deadline.Before(h.nodes[child].deadline) {
			child++
		}
		if h.nodes[child].deadline.Before(h.nodes[i].deadline) {
			h.swap(i, child)
			i = child
			continue
		}
		break
	}
	return i > start
}
