package lsmerge

import (
	"encoding/binary"
	"math"

	"github.com/golang/leveldb/crc"
	"github.com/golang/snappy"
)

// PageHeader summarizes a sealed page.
type PageHeader struct {
	Checksum    uint32 // CRC of the page following the checksum field
	Count       uint32 // number of records
	CountDup    uint32 // number of records flagged as duplicates
	Size        uint32 // stored payload size, excluding the header
	SizeOrigin  uint32 // uncompressed payload size
	Compression byte   // payload codec
	LSNMin      uint64 // minimum LSN
	LSNMinDup   uint64 // minimum LSN among duplicates, zero when there are none
	LSNMax      uint64 // maximum LSN
}

func (h *PageHeader) encode(p []byte) {
	binary.LittleEndian.PutUint32(p[0:], h.Checksum)
	binary.LittleEndian.PutUint32(p[4:], h.Count)
	binary.LittleEndian.PutUint32(p[8:], h.CountDup)
	binary.LittleEndian.PutUint32(p[12:], h.Size)
	binary.LittleEndian.PutUint32(p[16:], h.SizeOrigin)
	p[20], p[21], p[22], p[23] = h.Compression, 0, 0, 0
	binary.LittleEndian.PutUint64(p[24:], h.LSNMin)
	binary.LittleEndian.PutUint64(p[32:], h.LSNMinDup)
	binary.LittleEndian.PutUint64(p[40:], h.LSNMax)
}

func decodePageHeader(p []byte) PageHeader {
	return PageHeader{
		Checksum:    binary.LittleEndian.Uint32(p[0:]),
		Count:       binary.LittleEndian.Uint32(p[4:]),
		CountDup:    binary.LittleEndian.Uint32(p[8:]),
		Size:        binary.LittleEndian.Uint32(p[12:]),
		SizeOrigin:  binary.LittleEndian.Uint32(p[16:]),
		Compression: p[20],
		LSNMin:      binary.LittleEndian.Uint64(p[24:]),
		LSNMinDup:   binary.LittleEndian.Uint64(p[32:]),
		LSNMax:      binary.LittleEndian.Uint64(p[40:]),
	}
}

// --------------------------------------------------------------------

const (
	pageIdle = iota
	pageOpen
	pageSealed
)

// Builder serializes records into pages. A single builder is reused across
// pages and nodes of a merge session.
type Builder struct {
	compression Compression

	buf []byte // sealed pages of the current node
	hdr []byte // record headers of the open page
	dat []byte // key/value data of the open page
	raw []byte // scratch payload buffer
	snp []byte // snappy buffer

	state     int
	offset    int // offset of the current page within buf
	committed int // end of the last committed page

	header   PageHeader
	min, max int // header positions of the min/max records
}

// NewBuilder returns a page builder.
func NewBuilder(o *Options) *Builder {
	o = o.norm()
	return &Builder{compression: o.Compression}
}

// Reset clears all pages. It must be called before building a new node.
func (b *Builder) Reset() {
	b.buf = b.buf[:0]
	b.hdr = b.hdr[:0]
	b.dat = b.dat[:0]
	b.state = pageIdle
	b.offset = 0
	b.committed = 0
	b.header = PageHeader{}
}

// Begin opens a new page.
func (b *Builder) Begin() error {
	if b.state != pageIdle {
		return buildErrorf("previous page was not committed")
	}

	b.hdr = b.hdr[:0]
	b.dat = b.dat[:0]
	b.header = PageHeader{LSNMin: math.MaxUint64}
	b.offset = len(b.buf)
	b.min, b.max = 0, 0
	b.state = pageOpen
	return nil
}

// Add appends a record to the open page. Records must be added in order.
func (b *Builder) Add(rec *Record, dup bool) error {
	if b.state != pageOpen {
		return buildErrorf("no open page")
	}
	if uint64(len(rec.Key)) > math.MaxUint32 || uint64(len(rec.Value)) > math.MaxUint32 {
		return buildErrorf("record too large")
	}
	if uint64(len(b.hdr))+uint64(len(b.dat))+uint64(rec.payloadSize()) > math.MaxUint32 {
		return buildErrorf("page capacity exceeded")
	}

	flags := rec.Flags &^ FlagDup
	if dup {
		flags |= FlagDup
	}

	var tmp [RecordHeaderSize]byte
	binary.LittleEndian.PutUint32(tmp[0:], uint32(len(b.dat)))
	tmp[4] = flags
	binary.LittleEndian.PutUint64(tmp[8:], rec.LSN)
	binary.LittleEndian.PutUint32(tmp[16:], uint32(len(rec.Key)))
	binary.LittleEndian.PutUint32(tmp[20:], uint32(len(rec.Value)))

	b.max = len(b.hdr)
	b.hdr = append(b.hdr, tmp[:]...)
	b.dat = append(b.dat, rec.Key...)
	b.dat = append(b.dat, rec.Value...)

	h := &b.header
	h.Count++
	if rec.LSN < h.LSNMin {
		h.LSNMin = rec.LSN
	}
	if rec.LSN > h.LSNMax {
		h.LSNMax = rec.LSN
	}
	if dup {
		if h.CountDup == 0 || rec.LSN < h.LSNMinDup {
			h.LSNMinDup = rec.LSN
		}
		h.CountDup++
	}
	return nil
}

// End seals the open page.
func (b *Builder) End() error {
	if b.state != pageOpen {
		return buildErrorf("no open page")
	}
	if b.header.Count == 0 {
		return buildErrorf("empty page")
	}

	b.raw = append(b.raw[:0], b.hdr...)
	b.raw = append(b.raw, b.dat...)

	payload := b.raw
	codec := byte(pageNoCompression)
	if b.compression == SnappyCompression {
		b.snp = snappy.Encode(b.snp[:cap(b.snp)], b.raw)
		if len(b.snp) < len(b.raw)-len(b.raw)/4 {
			payload = b.snp
			codec = pageSnappyCompression
		}
	}

	h := &b.header
	h.Size = uint32(len(payload))
	h.SizeOrigin = uint32(len(b.raw))
	h.Compression = codec

	var tmp [PageHeaderSize]byte
	b.buf = append(b.buf, tmp[:]...)
	b.buf = append(b.buf, payload...)

	page := b.buf[b.offset:]
	h.encode(page)
	h.Checksum = crc.New(page[4:]).Value()
	binary.LittleEndian.PutUint32(page, h.Checksum)

	b.state = pageSealed
	return nil
}

// Commit marks the sealed page as written and advances to the next page.
func (b *Builder) Commit() error {
	if b.state != pageSealed {
		return buildErrorf("no sealed page")
	}
	b.committed = len(b.buf)
	b.state = pageIdle
	return nil
}

// Header returns the header of the current page.
func (b *Builder) Header() *PageHeader { return &b.header }

// Offset returns the offset of the current page relative to the first page of the node.
func (b *Builder) Offset() uint64 { return uint64(b.offset) }

// Min returns the first record of the current page. The returned record references
// internal buffers and is valid until the next call to Begin or Reset.
func (b *Builder) Min() Record { return b.recordAt(b.min) }

// Max returns the last record of the current page. The returned record references
// internal buffers and is valid until the next call to Begin or Reset.
func (b *Builder) Max() Record { return b.recordAt(b.max) }

// MinKey is a shortcut for Min().Key.
func (b *Builder) MinKey() []byte { return b.Min().Key }

// MaxKey is a shortcut for Max().Key.
func (b *Builder) MaxKey() []byte { return b.Max().Key }

// Bytes returns the committed pages of the current node.
func (b *Builder) Bytes() []byte { return b.buf[:b.committed] }

func (b *Builder) recordAt(pos int) Record {
	if pos+RecordHeaderSize > len(b.hdr) {
		return Record{}
	}
	rec, _ := decodeRecord(b.hdr[pos:], b.dat)
	return rec
}

func decodeRecord(hdr, dat []byte) (Record, bool) {
	off := int(binary.LittleEndian.Uint32(hdr[0:]))
	ksz := int(binary.LittleEndian.Uint32(hdr[16:]))
	vsz := int(binary.LittleEndian.Uint32(hdr[20:]))
	if off < 0 || off+ksz+vsz > len(dat) || off+ksz+vsz < off {
		return Record{}, false
	}
	return Record{
		Key:   dat[off : off+ksz : off+ksz],
		Value: dat[off+ksz : off+ksz+vsz : off+ksz+vsz],
		LSN:   binary.LittleEndian.Uint64(hdr[8:]),
		Flags: hdr[4],
	}, true
}
