package status

import (
	"container/heap"
	"time"

	"github.com/seu-repo/ocpp-datum/internal/domain"
)

type (
	// delayQueue holds at most one update per charge point, ordered by ready
	// time. It is not safe for concurrent use.
	delayQueue struct {
		q updateHeap
		m map[domain.StatusKey]*queued
	}

	// https://pkg.go.dev/container/heap#example-package-PriorityQueue
	updateHeap []*queued

	queued struct {
		update domain.StatusUpdate
		idx    int
	}
)

func (h updateHeap) Len() int {
	return len(h)
}

func (h updateHeap) Less(i, j int) bool {
	return h[i].update.Ready.Before(h[j].update.Ready)
}

func (h updateHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].idx = i
	h[j].idx = j
}

func (h *updateHeap) Push(v any) {
	e := v.(*queued)
	e.idx = len(*h)
	*h = append(*h, e)
}

func (h *updateHeap) Pop() any {
	o := *h
	n := len(o)
	e := o[n-1]
	o[n-1] = nil
	*h = o[0 : n-1]
	return e
}

func newDelayQueue() *delayQueue {
	return &delayQueue{m: map[domain.StatusKey]*queued{}}
}

func (q *delayQueue) Len() int {
	return len(q.q)
}

// Set adds u, or replaces the payload of the pending update with the same
// key. A replaced update keeps its original ready time. replaced reports
// whether an update was already pending.
func (q *delayQueue) Set(u domain.StatusUpdate) (replaced bool) {
	key := u.Key()
	if e, ok := q.m[key]; ok {
		u.Ready = e.update.Ready
		e.update = u
		return true
	}
	e := &queued{update: u}
	q.m[key] = e
	heap.Push(&q.q, e)
	return false
}

// Peek returns the update with the earliest ready time.
func (q *delayQueue) Peek() (domain.StatusUpdate, bool) {
	if len(q.q) == 0 {
		return domain.StatusUpdate{}, false
	}
	return q.q[0].update, true
}

// PopReady removes and returns the earliest update if it is ready at now.
func (q *delayQueue) PopReady(now time.Time) (domain.StatusUpdate, bool) {
	if len(q.q) == 0 || q.q[0].update.Ready.After(now) {
		return domain.StatusUpdate{}, false
	}
	e := heap.Pop(&q.q).(*queued)
	delete(q.m, e.update.Key())
	return e.update, true
}

// Drain removes every update in ready order.
func (q *delayQueue) Drain() []domain.StatusUpdate {
	out := make([]domain.StatusUpdate, 0, len(q.q))
	for len(q.q) > 0 {
		e := heap.Pop(&q.q).(*queued)
		delete(q.m, e.update.Key())
		out = append(out, e.update)
	}
	return out
}
