package lsmerge

import (
	"errors"
	"fmt"
)

var magic = []byte{83, 68, 78, 79, 68, 69, 1, 0}

const (
	// PageHeaderSize is the size of a sealed page header.
	PageHeaderSize = 48
	// RecordHeaderSize is the size of a single record header within a page payload.
	RecordHeaderSize = 24
	// IndexHeaderSize is the size of the node index header.
	IndexHeaderSize = 80
	// IndexEntrySize is the size of a single node index entry.
	IndexEntrySize = 64
)

const (
	pageNoCompression     = 0
	pageSnappyCompression = 1
)

// ErrNotFound is returned by the reader when a key cannot be found.
var ErrNotFound = errors.New("lsmerge: not found")

// ErrOutOfMemory is returned when an allocation exceeds the configured memory limit.
var ErrOutOfMemory = errors.New("lsmerge: out of memory")

var (
	errBadMagic       = errors.New("lsmerge: bad magic byte sequence")
	errBadChecksum    = errors.New("lsmerge: checksum mismatch")
	errBadCompression = errors.New("lsmerge: bad compression codec")
	errReleased       = errors.New("lsmerge: iterator was released")
	errTruncated      = errors.New("lsmerge: truncated data")
)

// BuildError is returned when a page cannot be built.
type BuildError struct {
	Reason string
}

func buildErrorf(format string, args ...interface{}) *BuildError {
	return &BuildError{Reason: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (e *BuildError) Error() string { return "lsmerge: build: " + e.Reason }

// IndexError is returned when an entry cannot be appended to a node index.
type IndexError struct {
	Reason string
}

func indexErrorf(format string, args ...interface{}) *IndexError {
	return &IndexError{Reason: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (e *IndexError) Error() string { return "lsmerge: index: " + e.Reason }

// --------------------------------------------------------------------

// Record flags.
const (
	FlagDelete uint8 = 1 << iota
	FlagDup
)

// Record is a single versioned key/value pair.
type Record struct {
	Key   []byte
	Value []byte
	LSN   uint64
	Flags uint8
}

// IsDelete returns true if the record is a deletion tombstone.
func (r *Record) IsDelete() bool { return r.Flags&FlagDelete != 0 }

// IsDup returns true if the record is an older, retained version of its key.
func (r *Record) IsDup() bool { return r.Flags&FlagDup != 0 }

func (r *Record) payloadSize() int { return RecordHeaderSize + len(r.Key) + len(r.Value) }

// Iterator is a forward cursor over records. Sources must yield records
// ordered by key ascending and, within a key, by LSN descending.
//
// Record values are temporary and must be copied if used beyond the next cursor move.
type Iterator interface {
	// Valid returns true while the iterator is positioned at a record.
	Valid() bool
	// Record returns the current record without advancing.
	Record() *Record
	// Next advances the cursor.
	Next()
	// Err exposes iterator errors, if any.
	Err() error
}

// Comparator defines a total order over keys.
type Comparator interface {
	Compare(a, b []byte) int
}

// --------------------------------------------------------------------

// Compression is the page compression codec.
type Compression byte

func (c Compression) isValid() bool {
	return c >= SnappyCompression && c < unknownCompression
}

// Supported compression codecs.
const (
	SnappyCompression Compression = iota
	NoCompression
	unknownCompression
)

// NodeID is the permanent identity of a committed node.
type NodeID struct {
	Parent uint32 // the node being compacted
	Seq    uint32 // node sequence number
	Gen    uint32 // generation
}

func (id NodeID) String() string { return fmt.Sprintf("%d/%d.%d", id.Parent, id.Seq, id.Gen) }
