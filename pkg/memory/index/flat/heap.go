package flat

import "github.com/MrWong99/foglamp/pkg/memory/index"

// hitHeap is a min-heap on Score used to keep the best k hits while scanning.
// Ties prefer the lower position so results are deterministic.
type hitHeap []index.Hit

func (h hitHeap) Len() int { return len(h) }

func (h hitHeap) Less(i, j int) bool {
	if h[i].Score != h[j].Score {
		return h[i].Score < h[j].Score
	}
	return h[i].Position > h[j].Position
}

func (h hitHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

// Push is called by container/heap.
func (h *hitHeap) Push(x any) { *h = append(*h, x.(index.Hit)) }

// Pop is called by container/heap.
func (h *hitHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}
