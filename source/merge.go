package source

import (
	"container/heap"

	"github.com/bsm/lsmerge"
	"github.com/syndtr/goleveldb/leveldb/comparer"
)

// MergingIterator combines several sorted iterators into a single stream
// ordered by key and, within a key, by descending LSN. Ties between sources
// prefer the source passed first.
type MergingIterator struct {
	heap mergingHeap
	err  error
}

// Merge returns a merging iterator over iters. A nil comparator defaults
// to the bytewise comparator.
func Merge(cmp lsmerge.Comparator, iters ...lsmerge.Iterator) *MergingIterator {
	if cmp == nil {
		cmp = comparer.DefaultComparer
	}

	m := &MergingIterator{heap: mergingHeap{cmp: cmp}}
	for n, it := range iters {
		if it.Valid() {
			m.heap.items = append(m.heap.items, mergingItem{iter: it, index: n})
		} else if err := it.Err(); err != nil && m.err == nil {
			m.err = err
		}
	}
	heap.Init(&m.heap)
	return m
}

// Valid implements lsmerge.Iterator.
func (m *MergingIterator) Valid() bool { return m.err == nil && m.heap.Len() != 0 }

// Record implements lsmerge.Iterator.
func (m *MergingIterator) Record() *lsmerge.Record { return m.heap.items[0].iter.Record() }

// Next implements lsmerge.Iterator.
func (m *MergingIterator) Next() {
	if !m.Valid() {
		return
	}

	top := m.heap.items[0].iter
	top.Next()
	if top.Valid() {
		heap.Fix(&m.heap, 0)
		return
	}
	if err := top.Err(); err != nil {
		m.err = err
	}
	heap.Pop(&m.heap)
}

// Err implements lsmerge.Iterator.
func (m *MergingIterator) Err() error { return m.err }

// --------------------------------------------------------------------

type mergingItem struct {
	iter  lsmerge.Iterator
	index int
}

type mergingHeap struct {
	cmp   lsmerge.Comparator
	items []mergingItem
}

func (h *mergingHeap) Len() int { return len(h.items) }

func (h *mergingHeap) Less(i, j int) bool {
	a, b := h.items[i].iter.Record(), h.items[j].iter.Record()
	if c := h.cmp.Compare(a.Key, b.Key); c != 0 {
		return c < 0
	}
	if a.LSN != b.LSN {
		return a.LSN > b.LSN
	}
	return h.items[i].index < h.items[j].index
}

func (h *mergingHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *mergingHeap) Push(x interface{}) { h.items = append(h.items, x.(mergingItem)) }

func (h *mergingHeap) Pop() interface{} {
	n := len(h.items) - 1
	x := h.items[n]
	h.items = h.items[:n]
	return x
}
