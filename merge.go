package lsmerge

import (
	"io"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// SplitLimit returns the number of records to assign to the next node,
// given the number of records left in the stream and the node size.
// A remainder between one and two nodes is split in half rather than
// producing a full node followed by a tiny one.
func SplitLimit(left, nodeSize uint64) uint64 {
	if left/2 >= nodeSize {
		return nodeSize
	} else if left > nodeSize {
		return nodeSize / 2
	}
	return left
}

// Merger streams a sorted input into one or more nodes.
// Merger instances are not safe for concurrent use.
type Merger struct {
	o      *Options
	parent uint32
	offset uint64

	iter  *WriteIter
	build *Builder
	index *Index

	log *zap.Logger
	err error // last Merge failure
}

// NewMerger inits a merge session over src. Pages are built with b and
// each node is placed at the base offset.
func NewMerger(parent uint32, src Iterator, b *Builder, offset uint64, o *Options) *Merger {
	o = o.norm()
	if o.Allocator == nil {
		o.Allocator = NewAllocator(o.MemoryLimit)
	}
	return &Merger{
		o:      o,
		parent: parent,
		offset: offset,
		iter:   NewWriteIter(src, o.Comparator, uint64(o.MaxPageSize), RecordHeaderSize, o.Watermark, o.SaveDelete),
		build:  b,
		index:  NewIndex(o.Comparator, o.Allocator),
		log:    o.Logger.With(zap.Uint32("parent", parent)),
	}
}

// Merge builds the next node. It returns false once the input is exhausted.
// A node that has been built must be committed or discarded before Merge is
// called again. After a failure the partial node cannot be committed.
func (m *Merger) Merge() (bool, error) {
	ok, err := m.merge()
	m.err = err
	return ok, err
}

func (m *Merger) merge() (bool, error) {
	if err := m.iter.Err(); err != nil {
		return false, err
	}
	if !m.iter.Valid() {
		return false, nil
	}

	m.build.Reset()
	if err := m.index.Begin(m.o.MaxKeySize, m.offset); err != nil {
		return false, err
	}

	processed := m.iter.Total()
	var left uint64
	if processed < m.o.MaxStreamSize {
		left = m.o.MaxStreamSize - processed
	}
	limit := SplitLimit(left, m.o.MaxNodeSize)

	var processedLast uint64
	for m.iter.Valid() && processedLast <= limit {
		if err := m.mergePage(); err != nil {
			return false, errors.Wrapf(err, "lsmerge: page %d", m.index.Count())
		}

		processedLast = m.iter.Total() - processed
		if !m.iter.Resume() {
			break
		}
	}
	if err := m.iter.Err(); err != nil {
		return false, err
	}

	m.log.Debug("node built",
		zap.Int("pages", m.index.Count()),
		zap.Uint32("records", m.index.Header.Total),
		zap.Uint64("consumed", processedLast),
		zap.Uint64("limit", limit),
		zap.Uint64("size", m.index.Header.Size),
	)
	return true, nil
}

func (m *Merger) mergePage() error {
	b := m.build
	if err := b.Begin(); err != nil {
		return err
	}
	for ; m.iter.Valid(); m.iter.Next() {
		if err := b.Add(m.iter.Record(), m.iter.Dup()); err != nil {
			return err
		}
	}
	if err := m.iter.Err(); err != nil {
		return err
	}
	if err := b.End(); err != nil {
		return err
	}

	h := b.Header()
	if err := m.index.Add(IndexEntry{
		Offset:    b.Offset(),
		Size:      h.Size + PageHeaderSize,
		Count:     h.Count,
		CountDup:  h.CountDup,
		MinKey:    b.MinKey(),
		MaxKey:    b.MaxKey(),
		LSNMin:    h.LSNMin,
		LSNMinDup: h.LSNMinDup,
		LSNMax:    h.LSNMax,
	}); err != nil {
		return err
	}
	return b.Commit()
}

// Index returns the index of the current node.
func (m *Merger) Index() *Index { return m.index }

// Total returns the number of input records consumed so far.
func (m *Merger) Total() uint64 { return m.iter.Total() }

// Commit seals the current node with the given sequence number and
// generation. Ownership of the index passes to the returned node.
func (m *Merger) Commit(seq, gen uint32) (*Node, error) {
	if m.err != nil {
		return nil, errors.Wrap(m.err, "lsmerge: commit after failed merge")
	}

	id := NodeID{Parent: m.parent, Seq: seq, Gen: gen}
	if err := m.index.Commit(id); err != nil {
		return nil, err
	}

	node := &Node{
		Index: m.index,
		Data:  append([]byte(nil), m.build.Bytes()...),
	}
	m.index = NewIndex(m.o.Comparator, m.o.Allocator)

	m.log.Debug("node committed",
		zap.Stringer("id", id),
		zap.Int("index_size", node.Index.Size()),
		zap.Int("data_size", len(node.Data)),
	)
	return node, nil
}

// Free releases the in-progress node.
func (m *Merger) Free() {
	m.index.Free()
}

// --------------------------------------------------------------------

// Node is a committed node, ready to be written at its base offset.
type Node struct {
	Index *Index
	Data  []byte // encoded pages
}

// ID returns the node identity.
func (n *Node) ID() NodeID { return n.Index.Header.ID }

// Offset returns the node base offset.
func (n *Node) Offset() uint64 { return n.Index.Header.Offset }

// Size returns the total encoded size of the node.
func (n *Node) Size() int { return n.Index.Size() + len(n.Data) }

// WriteTo writes the index followed by the pages.
func (n *Node) WriteTo(w io.Writer) (int64, error) {
	idx, err := n.Index.MarshalBinary()
	if err != nil {
		return 0, err
	}

	n1, err := w.Write(idx)
	if err != nil {
		return int64(n1), err
	}
	n2, err := w.Write(n.Data)
	return int64(n1 + n2), err
}

// Release returns the index key copies to the allocator. The node must not
// be used after this method is called.
func (n *Node) Release() {
	n.Index.Free()
	n.Data = nil
}
