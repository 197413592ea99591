package emit

// jobHeap implements [container/heap.Interface] as a min-heap ordered by
// sequence number.
type jobHeap []Job

func (h jobHeap) Len() int           { return len(h) }
func (h jobHeap) Less(i, j int) bool { return h[i].Seq < h[j].Seq }
func (h jobHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

// Push is called by [container/heap.Push]; callers must not invoke it
// directly.
func (h *jobHeap) Push(x any) {
	*h = append(*h, x.(Job))
}

// Pop is called by [container/heap.Pop]; callers must not invoke it directly.
func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	j := old[n-1]
	old[n-1] = Job{}
	*h = old[:n-1]
	return j
}

// peek returns the lowest sequence in the heap. The heap must not be empty.
func (h jobHeap) peek() Job { return h[0] }
