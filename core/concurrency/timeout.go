// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// TimeoutQueue: a min-heap of (deadline, port) pairs driving periodic
// null-deliveries. Grounded on the teacher's own use of container/heap
// for its scheduler (internal/concurrency/scheduler.go) — the loop
// thread is the sole owner, so unlike the teacher's scheduler this queue
// carries no mutex.

package concurrency

import (
	"container/heap"

	"github.com/momentics/kqreactor/api"
)

type timeoutEntry struct {
	deadlineMS int64
	port       api.Port
}

type timeoutHeap []*timeoutEntry

func (h timeoutHeap) Len() int            { return len(h) }
func (h timeoutHeap) Less(i, j int) bool  { return h[i].deadlineMS < h[j].deadlineMS }
func (h timeoutHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *timeoutHeap) Push(x any)         { *h = append(*h, x.(*timeoutEntry)) }
func (h *timeoutHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// TimeoutQueue orders (deadline, port) pairs. update with deadline 0
// removes the port's outstanding timeout, matching §3's upsert contract.
type TimeoutQueue struct {
	h       timeoutHeap
	byPort  map[api.Port]*timeoutEntry
}

// NewTimeoutQueue constructs an empty queue.
func NewTimeoutQueue() *TimeoutQueue {
	return &TimeoutQueue{byPort: make(map[api.Port]*timeoutEntry)}
}

// Update upserts port's deadline; deadlineMS == 0 removes it.
func (q *TimeoutQueue) Update(port api.Port, deadlineMS int64) {
	if existing, ok := q.byPort[port]; ok {
		q.removeEntry(existing)
	}
	if deadlineMS == 0 {
		return
	}
	e := &timeoutEntry{deadlineMS: deadlineMS, port: port}
	heap.Push(&q.h, e)
	q.byPort[port] = e
}

func (q *TimeoutQueue) removeEntry(e *timeoutEntry) {
	for i, cand := range q.h {
		if cand == e {
			heap.Remove(&q.h, i)
			break
		}
	}
	delete(q.byPort, e.port)
}

// HasTimeout reports whether any deadline is pending.
func (q *TimeoutQueue) HasTimeout() bool { return len(q.h) > 0 }

// Current returns the earliest (deadline, port) without removing it.
func (q *TimeoutQueue) Current() (int64, api.Port, bool) {
	if len(q.h) == 0 {
		return 0, 0, false
	}
	return q.h[0].deadlineMS, q.h[0].port, true
}

// RemoveCurrent pops the earliest deadline.
func (q *TimeoutQueue) RemoveCurrent() {
	if len(q.h) == 0 {
		return
	}
	e := heap.Pop(&q.h).(*timeoutEntry)
	delete(q.byPort, e.port)
}

// Len reports the number of pending timeouts (diagnostics, §4.6).
func (q *TimeoutQueue) Len() int { return len(q.h) }
