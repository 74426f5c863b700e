package loop

import (
	"container/heap"
	"time"
)

// Task is a unit of work submitted to the loop.
type Task func()

type timerEntry struct {
	id       uint64
	due      time.Time
	task     Task
	seq      uint64 // insertion order, breaks ties per spec §4.1 step 2
	canceled bool
}

// timerHeap is a min-heap ordered by due-time, falling back to insertion
// order for ties. Grounded on the teacher's eventloop/loop.go timerHeap.
type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}
func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) {
	*h = append(*h, x.(*timerEntry))
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return x
}

var _ = heap.Interface(&timerHeap{})
