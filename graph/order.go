package graph

import (
	"container/heap"

	"github.com/vigraph/vg-server-sub000/element"
	"github.com/vigraph/vg-server-sub000/errors"
)

// schedule is the cached tick order of a graph. order is a topological sort in
// which, whenever several elements are ready, the earliest inserted runs first.
// batches splits order into contiguous runs with no connection inside a run, so
// each batch can tick concurrently without reordering any element.
type schedule struct {
	order   []string
	index   map[string]int
	batches [][]string
}

// Order returns element ids in tick order
func (g *Graph) Order() ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, err := g.scheduleLocked()
	if err != nil {
		return nil, err
	}
	return append([]string(nil), s.order...), nil
}

// Batches returns the tick order split into concurrently runnable batches
func (g *Graph) Batches() ([][]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, err := g.scheduleLocked()
	if err != nil {
		return nil, err
	}
	out := make([][]string, len(s.batches))
	for i, b := range s.batches {
		out[i] = append([]string(nil), b...)
	}
	return out, nil
}

func (g *Graph) scheduleLocked() (*schedule, error) {
	if g.schedule != nil {
		return g.schedule, nil
	}

	insertion := make(map[string]int, len(g.ids))
	for i, id := range g.ids {
		insertion[id] = i
	}

	indegree := make(map[string]int, len(g.ids))
	succ := make(map[string][]string)
	pred := make(map[string][]string)
	for _, c := range g.connections {
		succ[c.From.Element] = append(succ[c.From.Element], c.To.Element)
		pred[c.To.Element] = append(pred[c.To.Element], c.From.Element)
		indegree[c.To.Element]++
	}

	ready := &insertionHeap{rank: insertion}
	for _, id := range g.ids {
		if indegree[id] == 0 {
			heap.Push(ready, id)
		}
	}

	s := &schedule{index: make(map[string]int, len(g.ids))}
	for ready.Len() > 0 {
		id := heap.Pop(ready).(string)
		s.index[id] = len(s.order)
		s.order = append(s.order, id)
		for _, next := range succ[id] {
			indegree[next]--
			if indegree[next] == 0 {
				heap.Push(ready, next)
			}
		}
	}
	if len(s.order) != len(g.ids) {
		// Connect rejects cycles, so this only happens if pins were linked
		// behind the graph's back.
		return nil, errors.Errorf(errors.ErrCyclicGraph, "%d elements are on a cycle", len(g.ids)-len(s.order))
	}

	batchOf := make(map[string]int, len(s.order))
	current := -1
	for _, id := range s.order {
		dependent := current < 0
		for _, p := range pred[id] {
			if batchOf[p] == current {
				dependent = true
				break
			}
		}
		if dependent {
			current++
			s.batches = append(s.batches, nil)
		}
		batchOf[id] = current
		s.batches[current] = append(s.batches[current], id)
	}

	g.schedule = s
	return s, nil
}

// usesChannels reports whether an element declares router channels. Such
// elements tick one at a time, in order, inside their batch.
func usesChannels(e element.Element) bool {
	cu, ok := e.(element.ChannelUser)
	return ok && len(cu.Channels()) > 0
}

type insertionHeap struct {
	ids  []string
	rank map[string]int
}

func (h *insertionHeap) Len() int           { return len(h.ids) }
func (h *insertionHeap) Less(i, j int) bool { return h.rank[h.ids[i]] < h.rank[h.ids[j]] }
func (h *insertionHeap) Swap(i, j int)      { h.ids[i], h.ids[j] = h.ids[j], h.ids[i] }
func (h *insertionHeap) Push(x any)         { h.ids = append(h.ids, x.(string)) }
func (h *insertionHeap) Pop() any {
	old := h.ids
	n := len(old)
	x := old[n-1]
	h.ids = old[:n-1]
	return x
}
