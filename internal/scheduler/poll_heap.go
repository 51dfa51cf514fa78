package scheduler

import (
	"container/heap"
	"slices"
	"sync"
	"time"
)

var _ heap.Interface = (*timeBasedHeap)(nil)

// pollTask is one registry poll obligation. NextPoll orders the heap.
type pollTask struct {
	Service  string
	Artifact string
	Interval time.Duration
	NextPoll time.Time
}

type pollHeap struct {
	// TODO: add service to index map
	// make index movements in heap.swap
	// it will make remove and push from O(n) to O(1)
	tasks timeBasedHeap
	guard sync.Mutex
}

func newPollHeap(tasks []pollTask) *pollHeap {
	hp := &pollHeap{
		tasks: tasks,
	}
	heap.Init(&hp.tasks)
	return hp
}

// updateAndGetTop reschedules the task at the top and returns a copy of
// whichever task surfaced after the fix.
func (h *pollHeap) updateAndGetTop() *pollTask {
	h.guard.Lock()
	defer h.guard.Unlock()

	if len(h.tasks) == 0 {
		return nil
	}
	h.tasks[0].NextPoll = time.Now().Add(h.tasks[0].Interval)
	heap.Fix(&h.tasks, 0)
	top := h.tasks[0]
	return &top
}

func (h *pollHeap) getTop() *pollTask {
	h.guard.Lock()
	defer h.guard.Unlock()

	if len(h.tasks) == 0 {
		return nil
	}
	top := h.tasks[0]
	return &top
}

func (h *pollHeap) remove(service string) bool {
	h.guard.Lock()
	defer h.guard.Unlock()

	index := h.findLocked(service)
	if index < 0 {
		return false
	}
	heap.Remove(&h.tasks, index)
	return true
}

// push adds the task unless the service is already scheduled.
func (h *pollHeap) push(task pollTask) bool {
	h.guard.Lock()
	defer h.guard.Unlock()

	if h.findLocked(task.Service) >= 0 {
		return false
	}
	heap.Push(&h.tasks, task)
	return true
}

// findLocked is called with guard held.
func (h *pollHeap) findLocked(service string) int {
	return slices.IndexFunc(h.tasks, func(t pollTask) bool {
		return t.Service == service
	})
}

type timeBasedHeap []pollTask

func (t timeBasedHeap) Len() int {
	return len(t)
}

func (t timeBasedHeap) Less(i int, j int) bool {
	return t[i].NextPoll.Before(t[j].NextPoll)
}

func (t timeBasedHeap) Swap(i int, j int) {
	t[i], t[j] = t[j], t[i]
}

func (t *timeBasedHeap) Push(x any) {
	*t = append(*t, x.(pollTask))
}

func (t *timeBasedHeap) Pop() any {
	if t.Len() == 0 {
		return nil
	}
	topVal := (*t)[t.Len()-1]
	*t = (*t)[:t.Len()-1]
	return topVal
}
