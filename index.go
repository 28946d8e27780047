package lsmerge

import (
	"bytes"
	"encoding/binary"
	"math"
	"sort"

	"github.com/golang/leveldb/crc"
)

// IndexEntry describes a single page of a node.
type IndexEntry struct {
	Offset    uint64 // page offset relative to the first page of the node
	Size      uint32 // stored page size, including the page header
	Count     uint32 // number of records
	CountDup  uint32 // number of duplicate records
	MinKey    []byte // first key of the page
	MaxKey    []byte // last key of the page
	LSNMin    uint64
	LSNMinDup uint64
	LSNMax    uint64
}

// IndexHeader holds node-level metadata.
type IndexHeader struct {
	ID      NodeID
	Offset  uint64 // node base offset
	Size    uint64 // total size of all pages
	SizeKey uint32 // maximum key size
	Keys    uint32 // size of the key area
	Total   uint32 // total number of records
	Dupes   uint32 // total number of duplicates
	LSNMin  uint64
	LSNMax  uint64
}

// PageAddr composes the absolute position of a page:
// node base offset + index size + page offset.
type PageAddr struct {
	Base      uint64 // node base offset
	IndexSize uint64 // encoded size of the node index
	Offset    uint64 // page offset relative to the first page
}

// Absolute returns the absolute position.
func (a PageAddr) Absolute() uint64 { return a.Base + a.IndexSize + a.Offset }

// --------------------------------------------------------------------

const (
	indexIdle = iota
	indexOpen
	indexCommitted
)

// Index is the directory of pages of a single node. Entries are append-only
// and keys are owned copies.
type Index struct {
	Header IndexHeader

	entries []IndexEntry
	cmp     Comparator
	alloc   Allocator
	state   int
}

// NewIndex inits a new index.
func NewIndex(cmp Comparator, alloc Allocator) *Index {
	return &Index{cmp: cmp, alloc: alloc}
}

// Begin starts the index at the given node base offset.
func (x *Index) Begin(sizeKey uint32, offset uint64) error {
	if x.state == indexCommitted {
		return indexErrorf("index is already committed")
	}

	x.Free()
	if x.entries == nil {
		x.entries = make([]IndexEntry, 0, 16)
	}
	x.Header = IndexHeader{
		Offset:  offset,
		SizeKey: sizeKey,
		LSNMin:  math.MaxUint64,
	}
	x.state = indexOpen
	return nil
}

// Add appends an entry. Keys are copied.
func (x *Index) Add(e IndexEntry) error {
	if x.state != indexOpen {
		return indexErrorf("index is not open")
	}
	if e.Count == 0 {
		return indexErrorf("empty page")
	}
	if n := uint32(len(e.MinKey)); n > x.Header.SizeKey {
		return indexErrorf("key size %d exceeds limit %d", n, x.Header.SizeKey)
	}
	if n := uint32(len(e.MaxKey)); n > x.Header.SizeKey {
		return indexErrorf("key size %d exceeds limit %d", n, x.Header.SizeKey)
	}
	if x.cmp.Compare(e.MinKey, e.MaxKey) > 0 {
		return indexErrorf("min key %q is greater than max key %q", e.MinKey, e.MaxKey)
	}
	if n := len(x.entries); n != 0 {
		last := &x.entries[n-1]
		if x.cmp.Compare(last.MaxKey, e.MinKey) >= 0 {
			return indexErrorf("attempted an out-of-order append, %q must be > %q", e.MinKey, last.MaxKey)
		}
		if e.Offset < last.Offset+uint64(last.Size) {
			return indexErrorf("page at %d overlaps previous page", e.Offset)
		}
	}
	if uint64(x.Header.Keys)+uint64(len(e.MinKey))+uint64(len(e.MaxKey)) > math.MaxUint32 {
		return indexErrorf("key area exceeds limit")
	}

	minKey, err := x.copyKey(e.MinKey)
	if err != nil {
		return err
	}
	maxKey, err := x.copyKey(e.MaxKey)
	if err != nil {
		x.freeKey(minKey)
		return err
	}
	e.MinKey, e.MaxKey = minKey, maxKey
	x.entries = append(x.entries, e)

	h := &x.Header
	h.Size = e.Offset + uint64(e.Size)
	h.Keys += uint32(len(e.MinKey) + len(e.MaxKey))
	h.Total += e.Count
	h.Dupes += e.CountDup
	if e.LSNMin < h.LSNMin {
		h.LSNMin = e.LSNMin
	}
	if e.LSNMax > h.LSNMax {
		h.LSNMax = e.LSNMax
	}
	return nil
}

// Commit seals the index and assigns the node identity.
func (x *Index) Commit(id NodeID) error {
	if x.state != indexOpen {
		return indexErrorf("index is not open")
	}
	if len(x.entries) == 0 {
		return indexErrorf("no pages")
	}
	x.Header.ID = id
	x.state = indexCommitted
	return nil
}

// Committed returns true once the index has been committed.
func (x *Index) Committed() bool { return x.state == indexCommitted }

// Free releases the key copies and resets the index.
func (x *Index) Free() {
	for i := range x.entries {
		x.freeKey(x.entries[i].MinKey)
		x.freeKey(x.entries[i].MaxKey)
		x.entries[i] = IndexEntry{}
	}
	x.entries = x.entries[:0]
	x.Header = IndexHeader{}
	x.state = indexIdle
}

// Count returns the number of pages.
func (x *Index) Count() int { return len(x.entries) }

// Entries returns all entries. Entries must not be modified.
func (x *Index) Entries() []IndexEntry { return x.entries }

// Entry returns the n-th entry.
func (x *Index) Entry(n int) *IndexEntry { return &x.entries[n] }

// Size returns the encoded size of the index.
func (x *Index) Size() int {
	return IndexHeaderSize + len(x.entries)*IndexEntrySize + int(x.Header.Keys)
}

// Addr returns the address of the n-th page.
func (x *Index) Addr(n int) PageAddr {
	return PageAddr{
		Base:      x.Header.Offset,
		IndexSize: uint64(x.Size()),
		Offset:    x.entries[n].Offset,
	}
}

// Search returns the position of the first page with a max key >= key.
func (x *Index) Search(key []byte) int {
	return sort.Search(len(x.entries), func(i int) bool {
		return x.cmp.Compare(x.entries[i].MaxKey, key) >= 0
	})
}

// MarshalBinary encodes the index.
func (x *Index) MarshalBinary() ([]byte, error) {
	return x.AppendBinary(make([]byte, 0, x.Size())), nil
}

// AppendBinary appends the encoded index to dst.
func (x *Index) AppendBinary(dst []byte) []byte {
	start := len(dst)

	var tmp [IndexHeaderSize]byte
	h := &x.Header
	copy(tmp[0:], magic)
	binary.LittleEndian.PutUint32(tmp[12:], uint32(len(x.entries)))
	binary.LittleEndian.PutUint32(tmp[16:], h.Keys)
	binary.LittleEndian.PutUint32(tmp[20:], h.SizeKey)
	binary.LittleEndian.PutUint32(tmp[24:], h.Total)
	binary.LittleEndian.PutUint32(tmp[28:], h.Dupes)
	binary.LittleEndian.PutUint32(tmp[32:], h.ID.Parent)
	binary.LittleEndian.PutUint32(tmp[36:], h.ID.Seq)
	binary.LittleEndian.PutUint32(tmp[40:], h.ID.Gen)
	binary.LittleEndian.PutUint64(tmp[48:], h.Offset)
	binary.LittleEndian.PutUint64(tmp[56:], h.Size)
	binary.LittleEndian.PutUint64(tmp[64:], h.LSNMin)
	binary.LittleEndian.PutUint64(tmp[72:], h.LSNMax)
	dst = append(dst, tmp[:]...)

	var koff uint32
	for i := range x.entries {
		e := &x.entries[i]
		var ent [IndexEntrySize]byte
		binary.LittleEndian.PutUint64(ent[0:], e.Offset)
		binary.LittleEndian.PutUint32(ent[8:], e.Size)
		binary.LittleEndian.PutUint32(ent[12:], e.Count)
		binary.LittleEndian.PutUint32(ent[16:], e.CountDup)
		binary.LittleEndian.PutUint32(ent[20:], koff)
		binary.LittleEndian.PutUint32(ent[24:], uint32(len(e.MinKey)))
		binary.LittleEndian.PutUint32(ent[28:], koff+uint32(len(e.MinKey)))
		binary.LittleEndian.PutUint32(ent[32:], uint32(len(e.MaxKey)))
		binary.LittleEndian.PutUint64(ent[40:], e.LSNMin)
		binary.LittleEndian.PutUint64(ent[48:], e.LSNMinDup)
		binary.LittleEndian.PutUint64(ent[56:], e.LSNMax)
		dst = append(dst, ent[:]...)
		koff += uint32(len(e.MinKey) + len(e.MaxKey))
	}
	for i := range x.entries {
		dst = append(dst, x.entries[i].MinKey...)
		dst = append(dst, x.entries[i].MaxKey...)
	}

	binary.LittleEndian.PutUint32(dst[start+8:], crc.New(dst[start+12:]).Value())
	return dst
}

func (x *Index) copyKey(key []byte) ([]byte, error) {
	if x.alloc == nil {
		return append([]byte(nil), key...), nil
	}
	p, err := x.alloc.Alloc(len(key))
	if err != nil {
		return nil, err
	}
	copy(p, key)
	return p, nil
}

func (x *Index) freeKey(p []byte) {
	if x.alloc != nil && p != nil {
		x.alloc.Free(p)
	}
}

// indexSize returns the total encoded size from an index header prefix.
func indexSize(p []byte) (int, error) {
	if len(p) < IndexHeaderSize {
		return 0, errTruncated
	}
	if !bytes.Equal(p[:8], magic) {
		return 0, errBadMagic
	}
	count := int(binary.LittleEndian.Uint32(p[12:]))
	keys := int(binary.LittleEndian.Uint32(p[16:]))
	return IndexHeaderSize + count*IndexEntrySize + keys, nil
}

// decodeIndex decodes an encoded index. Keys reference p.
func decodeIndex(p []byte, cmp Comparator) (*Index, error) {
	size, err := indexSize(p)
	if err != nil {
		return nil, err
	}
	if len(p) < size {
		return nil, errTruncated
	}
	p = p[:size]
	if crc.New(p[12:]).Value() != binary.LittleEndian.Uint32(p[8:]) {
		return nil, errBadChecksum
	}

	count := int(binary.LittleEndian.Uint32(p[12:]))
	x := &Index{
		Header: IndexHeader{
			Keys:    binary.LittleEndian.Uint32(p[16:]),
			SizeKey: binary.LittleEndian.Uint32(p[20:]),
			Total:   binary.LittleEndian.Uint32(p[24:]),
			Dupes:   binary.LittleEndian.Uint32(p[28:]),
			ID: NodeID{
				Parent: binary.LittleEndian.Uint32(p[32:]),
				Seq:    binary.LittleEndian.Uint32(p[36:]),
				Gen:    binary.LittleEndian.Uint32(p[40:]),
			},
			Offset: binary.LittleEndian.Uint64(p[48:]),
			Size:   binary.LittleEndian.Uint64(p[56:]),
			LSNMin: binary.LittleEndian.Uint64(p[64:]),
			LSNMax: binary.LittleEndian.Uint64(p[72:]),
		},
		entries: make([]IndexEntry, 0, count),
		cmp:     cmp,
		state:   indexCommitted,
	}

	keys := p[IndexHeaderSize+count*IndexEntrySize:]
	for i := 0; i < count; i++ {
		ent := p[IndexHeaderSize+i*IndexEntrySize:]
		minOff := int(binary.LittleEndian.Uint32(ent[20:]))
		minLen := int(binary.LittleEndian.Uint32(ent[24:]))
		maxOff := int(binary.LittleEndian.Uint32(ent[28:]))
		maxLen := int(binary.LittleEndian.Uint32(ent[32:]))
		if minOff+minLen > len(keys) || maxOff+maxLen > len(keys) {
			return nil, errTruncated
		}

		x.entries = append(x.entries, IndexEntry{
			Offset:    binary.LittleEndian.Uint64(ent[0:]),
			Size:      binary.LittleEndian.Uint32(ent[8:]),
			Count:     binary.LittleEndian.Uint32(ent[12:]),
			CountDup:  binary.LittleEndian.Uint32(ent[16:]),
			MinKey:    keys[minOff : minOff+minLen : minOff+minLen],
			MaxKey:    keys[maxOff : maxOff+maxLen : maxOff+maxLen],
			LSNMin:    binary.LittleEndian.Uint64(ent[40:]),
			LSNMinDup: binary.LittleEndian.Uint64(ent[48:]),
			LSNMax:    binary.LittleEndian.Uint64(ent[56:]),
		})
	}
	return x, nil
}
