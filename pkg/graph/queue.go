package graph

type queueItem struct {
	ref        CommitRef
	generation uint64
}

// maxHeap pops the highest generation first; ties pop the smaller name.
type maxHeap []queueItem

func (h maxHeap) Len() int { return len(h) }

func (h maxHeap) Less(i, j int) bool {
	if h[i].generation == h[j].generation {
		return h[i].ref.String() < h[j].ref.String()
	}
	return h[i].generation > h[j].generation
}

func (h maxHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *maxHeap) Push(x any) {
	*h = append(*h, x.(queueItem))
}

func (h *maxHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
