package source

import (
	"sync"

	"github.com/bsm/lsmerge"
	"github.com/google/btree"
	"github.com/syndtr/goleveldb/leveldb/comparer"
)

// Memtable is an in-memory sorted store of versioned records.
// It is safe for concurrent use.
type Memtable struct {
	tree *btree.BTreeG[*lsmerge.Record]
	lock sync.RWMutex
	size int
}

// NewMemtable inits a memtable. A nil comparator defaults to the
// bytewise comparator.
func NewMemtable(degree int, cmp lsmerge.Comparator) *Memtable {
	if cmp == nil {
		cmp = comparer.DefaultComparer
	}
	if degree < 2 {
		degree = 32
	}
	return &Memtable{
		tree: btree.NewG(degree, func(a, b *lsmerge.Record) bool {
			if c := cmp.Compare(a.Key, b.Key); c != 0 {
				return c < 0
			}
			return a.LSN > b.LSN
		}),
	}
}

// Set stores a value for key at the given LSN.
func (m *Memtable) Set(key, value []byte, lsn uint64) {
	m.Put(lsmerge.Record{Key: key, Value: value, LSN: lsn})
}

// Delete stores a tombstone for key at the given LSN.
func (m *Memtable) Delete(key []byte, lsn uint64) {
	m.Put(lsmerge.Record{Key: key, LSN: lsn, Flags: lsmerge.FlagDelete})
}

// Put stores a copy of rec. A record with the same key and LSN is replaced.
func (m *Memtable) Put(rec lsmerge.Record) {
	item := &lsmerge.Record{
		Key:   append([]byte(nil), rec.Key...),
		Value: append([]byte(nil), rec.Value...),
		LSN:   rec.LSN,
		Flags: rec.Flags &^ lsmerge.FlagDup,
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	if prev, ok := m.tree.ReplaceOrInsert(item); ok {
		m.size -= len(prev.Key) + len(prev.Value)
	}
	m.size += len(item.Key) + len(item.Value)
}

// Len returns the number of stored records.
func (m *Memtable) Len() int {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.tree.Len()
}

// Size returns the number of stored key and value bytes.
func (m *Memtable) Size() int {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.size
}

// Iter returns an iterator over a snapshot of the memtable, ordered by
// key and, within a key, by descending LSN.
func (m *Memtable) Iter() *SliceIterator {
	m.lock.RLock()
	defer m.lock.RUnlock()

	recs := make([]*lsmerge.Record, 0, m.tree.Len())
	m.tree.Ascend(func(rec *lsmerge.Record) bool {
		recs = append(recs, rec)
		return true
	})
	return &SliceIterator{recs: recs}
}

// --------------------------------------------------------------------

// SliceIterator iterates over pre-sorted records.
type SliceIterator struct {
	recs []*lsmerge.Record
	pos  int
}

// NewSliceIterator wraps recs, which must already be sorted.
func NewSliceIterator(recs ...lsmerge.Record) *SliceIterator {
	ptrs := make([]*lsmerge.Record, len(recs))
	for i := range recs {
		ptrs[i] = &recs[i]
	}
	return &SliceIterator{recs: ptrs}
}

// Valid implements lsmerge.Iterator.
func (i *SliceIterator) Valid() bool { return i.pos < len(i.recs) }

// Record implements lsmerge.Iterator.
func (i *SliceIterator) Record() *lsmerge.Record { return i.recs[i.pos] }

// Next implements lsmerge.Iterator.
func (i *SliceIterator) Next() {
	if i.pos < len(i.recs) {
		i.pos++
	}
}

// Err implements lsmerge.Iterator.
func (i *SliceIterator) Err() error { return nil }
