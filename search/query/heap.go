package query

import "github.com/larose/harvest/search/index"

// scorerHeap orders positioned scorers by their current doc id.
type scorerHeap []Scorer

func (h scorerHeap) Len() int { return len(h) }

func (h scorerHeap) Less(i, j int) bool {
	return h[i].DocId() < h[j].DocId()
}

func (h scorerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *scorerHeap) Push(item any) {
	*h = append(*h, item.(Scorer))
}

func (h *scorerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

func (h scorerHeap) top() index.DocumentId {
	return h[0].DocId()
}
