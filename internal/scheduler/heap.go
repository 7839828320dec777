package scheduler

// requestHeap is a container/heap.Interface over the requests currently
// runnable on one worker, ordered by Priority (spec.md §4.A: "strict-priority
// min-heap keyed by the priority sequence").
type requestHeap []*requestState

func (h requestHeap) Len() int { return len(h) }

func (h requestHeap) Less(i, j int) bool { return h[i].priority.less(h[j].priority) }

func (h requestHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *requestHeap) Push(x any) {
	r := x.(*requestState)
	r.heapIndex = len(*h)
	*h = append(*h, r)
}

func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	r.heapIndex = -1
	*h = old[:n-1]
	return r
}
