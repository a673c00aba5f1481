package queue

import (
	"container/heap"

	"github.com/soundpipe/soundpipe/id"
)

// entry is the internal heap node.
type entry struct {
	Entry
}

// readyHeap orders dispatchable entries: priority tier descending, then
// sequence ascending (submission order, then item index).
type readyHeap struct{ items []*entry }

func (h *readyHeap) Len() int { return len(h.items) }

func (h *readyHeap) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.seq < b.seq
}

func (h *readyHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *readyHeap) Push(x any) { h.items = append(h.items, x.(*entry)) }

func (h *readyHeap) Pop() any {
	old := h.items
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	h.items = old[:n-1]
	return x
}

func (h *readyHeap) push(e *entry) { heap.Push(h, e) }
func (h *readyHeap) pop() *entry   { return heap.Pop(h).(*entry) }

func (h *readyHeap) removeJob(jobID id.JobID) int {
	return removeJob(h, &h.items, jobID)
}

// delayHeap orders retry-delayed entries by NotBefore ascending.
type delayHeap struct{ items []*entry }

func (h *delayHeap) Len() int { return len(h.items) }

func (h *delayHeap) Less(i, j int) bool {
	return h.items[i].NotBefore.Before(h.items[j].NotBefore)
}

func (h *delayHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *delayHeap) Push(x any) { h.items = append(h.items, x.(*entry)) }

func (h *delayHeap) Pop() any {
	old := h.items
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	h.items = old[:n-1]
	return x
}

func (h *delayHeap) push(e *entry)  { heap.Push(h, e) }
func (h *delayHeap) pop() *entry    { return heap.Pop(h).(*entry) }
func (h *delayHeap) peek() *entry   { return h.items[0] }

func (h *delayHeap) removeJob(jobID id.JobID) int {
	return removeJob(h, &h.items, jobID)
}

// removeJob filters out a job's entries and re-establishes heap order.
func removeJob(h heap.Interface, items *[]*entry, jobID id.JobID) int {
	kept := (*items)[:0]
	removed := 0
	for _, e := range *items {
		if e.JobID == jobID {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	// Zero the tail so removed nodes are collectable.
	for i := len(kept); i < len(*items); i++ {
		(*items)[i] = nil
	}
	*items = kept
	if removed > 0 {
		heap.Init(h)
	}
	return removed
}
