package sim

import (
	"container/heap"
	"time"
)

// ─── Event Queue ────────────────────────────────────────────────────────────
// Min-heap on (at, seq). seq is a global insertion counter so events due at
// the same instant fire in the order they were scheduled.

type eventType uint8

const (
	eventTimer eventType = iota + 1
	eventDelivery
)

func (t eventType) String() string {
	if t == eventDelivery {
		return "delivery"
	}
	return "timer"
}

type event struct {
	at    time.Duration
	seq   uint64
	typ   eventType
	fire  func()
	index int // heap position, -1 once popped or removed
}

type eventHeap []*event

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].at != h[j].at {
		return h[i].at < h[j].at
	}
	return h[i].seq < h[j].seq
}

func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *eventHeap) Push(x any) {
	e := x.(*event)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// eventQueue wraps the heap with the insertion counter.
type eventQueue struct {
	h   eventHeap
	seq uint64
}

func (q *eventQueue) schedule(at time.Duration, typ eventType, fire func()) *event {
	q.seq++
	e := &event{at: at, seq: q.seq, typ: typ, fire: fire}
	heap.Push(&q.h, e)
	return e
}

func (q *eventQueue) peek() (*event, bool) {
	if len(q.h) == 0 {
		return nil, false
	}
	return q.h[0], true
}

func (q *eventQueue) pop() *event {
	return heap.Pop(&q.h).(*event)
}

// remove cancels e. It reports false when e already fired or was removed.
func (q *eventQueue) remove(e *event) bool {
	if e.index < 0 || e.index >= len(q.h) || q.h[e.index] != e {
		return false
	}
	heap.Remove(&q.h, e.index)
	return true
}

func (q *eventQueue) len() int { return len(q.h) }

// ─── Timer Handle ───────────────────────────────────────────────────────────

// timer is the cancelable handle handed to nodes.
type timer struct {
	q *eventQueue
	e *event
}

func (t timer) Stop() bool { return t.q.remove(t.e) }
