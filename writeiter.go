package lsmerge

// WriteIter wraps a sorted source and reduces multiple versions of each key
// to the versions still reachable by readers at or above the watermark. It
// pauses at page boundaries once the emitted bytes reach the page size hint,
// but never between two versions of the same key.
type WriteIter struct {
	src        Iterator
	cmp        Comparator
	limit      uint64 // page size hint
	sizev      uint64 // per record overhead
	vlsn       uint64 // watermark
	saveDelete bool

	rec   Record // the current output record
	valid bool
	err   error

	size    uint64 // bytes emitted since the last resume
	total   uint64 // input records consumed
	pending uint64 // input records read for the current record

	prevKey  []byte // key of the last observed input record
	prevSeen bool
	prevLSN  uint64 // LSN of the last observed input record
	lastLSN  uint64 // LSN of the last emitted version of the current key
	emitted  bool   // a version of the current key has been emitted
}

// NewWriteIter wraps src. The pageSize is the page size hint in bytes, sizev the
// per-record size overhead, vlsn the watermark and saveDelete retains tombstones.
func NewWriteIter(src Iterator, cmp Comparator, pageSize, sizev, vlsn uint64, saveDelete bool) *WriteIter {
	w := &WriteIter{
		src:        src,
		cmp:        cmp,
		limit:      pageSize,
		sizev:      sizev,
		vlsn:       vlsn,
		saveDelete: saveDelete,
	}
	w.fill()
	return w
}

// Valid returns true while the iterator is positioned at a record.
func (w *WriteIter) Valid() bool { return w.valid }

// Record returns the current record.
func (w *WriteIter) Record() *Record { return &w.rec }

// Dup returns true if the current record is a retained older version.
func (w *WriteIter) Dup() bool { return w.valid && w.rec.IsDup() }

// Next advances to the next record. At a page boundary the iterator becomes
// invalid until Resume is called.
func (w *WriteIter) Next() {
	if !w.valid {
		return
	}
	w.consumed()
	w.src.Next()
	w.fill()
}

// Total returns the number of input records consumed so far. Records read
// ahead for the current position are counted once Next moves past them.
func (w *WriteIter) Total() uint64 { return w.total }

// Resume continues after a page boundary. It returns false once the
// input is exhausted.
func (w *WriteIter) Resume() bool {
	w.size = 0
	if !w.valid {
		w.fill()
	}
	return w.valid
}

// Err exposes iterator errors, if any.
func (w *WriteIter) Err() error { return w.err }

func (w *WriteIter) fill() {
	w.valid = false
	if w.err != nil {
		return
	}

	for ; w.src.Valid(); w.src.Next() {
		rec := w.src.Record()

		dup := false
		if w.prevSeen {
			switch c := w.cmp.Compare(rec.Key, w.prevKey); {
			case c < 0:
				w.err = buildErrorf("attempted an out-of-order read, %q must be >= %q", rec.Key, w.prevKey)
				return
			case c == 0:
				if rec.LSN > w.prevLSN {
					w.err = buildErrorf("versions of %q out of order, lsn %d must be <= %d", rec.Key, rec.LSN, w.prevLSN)
					return
				}
				dup = true
			}
		}

		// page boundary, leave the record for the next page
		if !dup && w.size >= w.limit {
			w.consumed()
			return
		}

		w.pending++
		w.prevKey = append(w.prevKey[:0], rec.Key...)
		w.prevLSN = rec.LSN
		w.prevSeen = true
		if !dup {
			w.emitted = false
		}

		if rec.IsDelete() && !w.saveDelete {
			continue
		}

		flags := rec.Flags &^ FlagDup
		if w.emitted {
			// every reader already sees the newer version
			if w.lastLSN <= w.vlsn {
				continue
			}
			flags |= FlagDup
		}

		w.emitted = true
		w.lastLSN = rec.LSN
		w.size += w.sizev + uint64(len(rec.Key)+len(rec.Value))
		w.rec = Record{Key: rec.Key, Value: rec.Value, LSN: rec.LSN, Flags: flags}
		w.valid = true
		return
	}

	if err := w.src.Err(); err != nil {
		w.err = err
	}
	w.consumed()
}

// consumed moves the pending input records into the total.
func (w *WriteIter) consumed() {
	w.total += w.pending
	w.pending = 0
}
