package usecase

import "container/heap"

// queueEntry is the scheduling-visible part of a queued job.
type queueEntry struct {
	jobID    string
	priority int
	seq      uint64
	index    int
}

func (e *queueEntry) less(o *queueEntry) bool {
	if e.priority != o.priority {
		return e.priority < o.priority
	}
	return e.seq < o.seq
}

// entryHeap is a min-heap on (priority, seq).
type entryHeap []*queueEntry

var _ heap.Interface = (*entryHeap)(nil)

func (h entryHeap) Len() int           { return len(h) }
func (h entryHeap) Less(i, j int) bool { return h[i].less(h[j]) }
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*queueEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// position counts entries strictly ahead of e.
func (h entryHeap) position(e *queueEntry) int {
	n := 0
	for _, o := range h {
		if o.less(e) {
			n++
		}
	}
	return n
}
