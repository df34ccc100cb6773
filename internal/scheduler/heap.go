package scheduler

import "time"

// task is one entry in the scheduler queue.
type task struct {
	action func()
	due    time.Duration // virtual time the task becomes eligible to run
	seq    uint64        // assigned at enqueue, breaks ties between equal due times

	// front marks a task posted with PostAtFrontOfQueue. Front tasks are
	// ordered by position, not by due time.
	front bool
}

// taskHeap is a slice of *task that satisfies heap.Interface.
//
// Ordering, head first:
//   - front tasks, most recently posted first
//   - everything else by (due, seq) ascending
type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.front != b.front {
		return a.front
	}
	if a.front {
		return a.seq > b.seq
	}
	if a.due != b.due {
		return a.due < b.due
	}
	return a.seq < b.seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) {
	*h = append(*h, x.(*task))
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil // allow GC
	*h = old[:n-1]
	return t
}

// maxDue returns the latest due time of any queued task.
// The heap must be non-empty.
func (h taskHeap) maxDue() time.Duration {
	m := h[0].due
	for _, t := range h[1:] {
		if t.due > m {
			m = t.due
		}
	}
	return m
}
