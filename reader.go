package lsmerge

import (
	"encoding/binary"
	"io"
	"sort"
	"sync"

	"github.com/golang/leveldb/crc"
	"github.com/golang/snappy"
	"github.com/syndtr/goleveldb/leveldb/comparer"
)

// Reader instances can seek and iterate across pages of a single node.
type Reader struct {
	r     io.ReaderAt
	base  int64
	cmp   Comparator
	index *Index
}

// OpenNode opens a node written at the base offset. A nil comparator
// defaults to the bytewise comparator.
func OpenNode(r io.ReaderAt, base int64, cmp Comparator) (*Reader, error) {
	if cmp == nil {
		cmp = comparer.DefaultComparer
	}

	tmp := make([]byte, IndexHeaderSize)
	if _, err := r.ReadAt(tmp, base); err != nil {
		return nil, err
	}
	size, err := indexSize(tmp)
	if err != nil {
		return nil, err
	}

	raw := make([]byte, size)
	if _, err := r.ReadAt(raw, base); err != nil {
		return nil, err
	}
	index, err := decodeIndex(raw, cmp)
	if err != nil {
		return nil, err
	}

	return &Reader{
		r:     r,
		base:  base,
		cmp:   cmp,
		index: index,
	}, nil
}

// Index returns the node index.
func (r *Reader) Index() *Index { return r.index }

// NumPages returns the number of stored pages.
func (r *Reader) NumPages() int { return r.index.Count() }

// Get retrieves the newest value for a key.
// It may return an ErrNotFound error, also when the newest version is a tombstone.
func (r *Reader) Get(key []byte) ([]byte, error) {
	return r.Append(nil, key)
}

// Append retrieves the newest value for a key. Unlike Get it
// appends it to dst instead of allocating a new byte slice.
// It may return an ErrNotFound error.
func (r *Reader) Append(dst []byte, key []byte) ([]byte, error) {
	iter, err := r.Seek(key)
	if err != nil {
		return dst, err
	}
	defer iter.Release()

	if !iter.Valid() {
		if err := iter.Err(); err != nil {
			return dst, err
		}
		return dst, ErrNotFound
	}
	if rec := iter.Record(); r.cmp.Compare(rec.Key, key) != 0 || rec.IsDelete() {
		return dst, ErrNotFound
	}
	return append(dst, iter.Record().Value...), nil
}

// Iter returns an iterator over all records of the node.
func (r *Reader) Iter() (*NodeIterator, error) {
	p, err := r.GetPage(0)
	if err != nil {
		return nil, err
	}
	it := &NodeIterator{r: r, p: p, n: -1}
	it.Next()
	return it, nil
}

// Seek returns an iterator positioned at the first record >= key.
func (r *Reader) Seek(key []byte) (*NodeIterator, error) {
	p, err := r.SeekPage(key)
	if err != nil {
		return nil, err
	}
	it := &NodeIterator{r: r, p: p, n: p.Search(key) - 1}
	it.Next()
	return it, nil
}

// GetPage returns a reader for the n-th page.
func (r *Reader) GetPage(pos int) (*PageReader, error) {
	if pos < 0 {
		pos = 0
	}
	if pos >= r.index.Count() {
		return &PageReader{pos: r.index.Count(), cmp: r.cmp}, nil
	}
	return r.readPage(pos)
}

// SeekPage seeks the page containing the key.
func (r *Reader) SeekPage(key []byte) (*PageReader, error) {
	return r.GetPage(r.index.Search(key))
}

func (r *Reader) readPage(pos int) (*PageReader, error) {
	ent := r.index.Entry(pos)
	if ent.Size < PageHeaderSize {
		return nil, errTruncated
	}

	addr := r.base + int64(r.index.Size()) + int64(ent.Offset)
	raw := fetchBuffer(int(ent.Size))
	if _, err := r.r.ReadAt(raw, addr); err != nil {
		releaseBuffer(raw)
		return nil, err
	}
	if crc.New(raw[4:]).Value() != binary.LittleEndian.Uint32(raw) {
		releaseBuffer(raw)
		return nil, errBadChecksum
	}

	h := decodePageHeader(raw)
	if int(h.Size)+PageHeaderSize != len(raw) {
		releaseBuffer(raw)
		return nil, errTruncated
	}

	var plain []byte
	switch h.Compression {
	case pageNoCompression:
		plain = raw[PageHeaderSize:]
	case pageSnappyCompression:
		defer releaseBuffer(raw)

		dst := fetchBuffer(int(h.SizeOrigin))
		var err error
		if plain, err = snappy.Decode(dst, raw[PageHeaderSize:]); err != nil {
			releaseBuffer(dst)
			return nil, err
		}
		raw = dst
	default:
		releaseBuffer(raw)
		return nil, errBadCompression
	}

	split := int(h.Count) * RecordHeaderSize
	if len(plain) != int(h.SizeOrigin) || split > len(plain) {
		releaseBuffer(raw)
		return nil, errTruncated
	}

	return &PageReader{
		buf:    raw,
		hdr:    plain[:split],
		dat:    plain[split:],
		pos:    pos,
		cmp:    r.cmp,
		header: h,
	}, nil
}

// --------------------------------------------------------------------

// PageReader reads a single page.
type PageReader struct {
	buf    []byte // pooled buffer
	hdr    []byte // record headers
	dat    []byte // key/value data
	pos    int    // the page position
	cmp    Comparator
	header PageHeader
}

// Pos returns the index position of the page within the node.
func (p *PageReader) Pos() int { return p.pos }

// Header returns the page header.
func (p *PageReader) Header() PageHeader { return p.header }

// NumRecords returns the number of records in the page.
func (p *PageReader) NumRecords() int { return len(p.hdr) / RecordHeaderSize }

// Record returns the n-th record. Keys and values reference internal
// buffers and must be copied if used after Release.
func (p *PageReader) Record(n int) (Record, error) {
	if n < 0 || n >= p.NumRecords() {
		return Record{}, errTruncated
	}
	rec, ok := decodeRecord(p.hdr[n*RecordHeaderSize:], p.dat)
	if !ok {
		return Record{}, errTruncated
	}
	return rec, nil
}

// Search returns the position of the first record with a key >= key.
func (p *PageReader) Search(key []byte) int {
	return sort.Search(p.NumRecords(), func(i int) bool {
		rec, err := p.Record(i)
		return err != nil || p.cmp.Compare(rec.Key, key) >= 0
	})
}

// Release releases the page reader and frees up resources. The reader must not be used
// after this method is called.
func (p *PageReader) Release() {
	releaseBuffer(p.buf)
	p.buf, p.hdr, p.dat = nil, nil, nil
}

// --------------------------------------------------------------------

// NodeIterator is a convenience wrapper around PageReader which can
// (forward-) iterate over records across page boundaries. It
// satisfies the Iterator interface and can feed a Merger directly.
type NodeIterator struct {
	r *Reader
	p *PageReader
	n int // record position within the page

	rec   Record
	valid bool
	err   error
}

// Valid returns true while the iterator is positioned at a record.
func (i *NodeIterator) Valid() bool { return i.valid }

// Record returns the current record. Please note that keys and values
// are temporary buffers and must be copied if used beyond the next cursor move.
func (i *NodeIterator) Record() *Record { return &i.rec }

// Next advances the cursor to the next record.
func (i *NodeIterator) Next() {
	i.valid = false
	if i.err != nil || i.p == nil {
		return
	}

	i.n++
	for i.n >= i.p.NumRecords() {
		next := i.p.Pos() + 1
		if next >= i.r.NumPages() {
			return
		}

		i.p.Release()
		if i.p, i.err = i.r.GetPage(next); i.err != nil {
			i.p = nil
			return
		}
		i.n = 0
	}

	if i.rec, i.err = i.p.Record(i.n); i.err == nil {
		i.valid = true
	}
}

// Err exposes iterator errors, if any.
func (i *NodeIterator) Err() error {
	return i.err
}

// Release releases the iterator and frees up resources. The iterator must not be used
// after this method is called.
func (i *NodeIterator) Release() {
	if i.p != nil {
		i.p.Release()
		i.p = nil
	}
	i.valid = false
	i.err = errReleased
}

// --------------------------------------------------------------------

var bufPool sync.Pool

func fetchBuffer(sz int) []byte {
	if v := bufPool.Get(); v != nil {
		if p := v.([]byte); sz <= cap(p) {
			return p[:sz]
		}
	}
	return make([]byte, sz)
}

func releaseBuffer(p []byte) {
	if cap(p) != 0 {
		bufPool.Put(p)
	}
}
