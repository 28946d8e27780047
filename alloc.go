package lsmerge

import (
	"sync/atomic"

	"github.com/syndtr/goleveldb/leveldb/util"
)

// Allocator supplies buffers for key copies retained by a node index.
type Allocator interface {
	// Alloc returns a buffer of length n or ErrOutOfMemory.
	Alloc(n int) ([]byte, error)
	// Free returns a buffer obtained from Alloc.
	Free(p []byte)
}

var keyPool = util.NewBufferPool(256)

// NewAllocator returns a pooled allocator. A positive limit caps the number
// of bytes that may be held at any time.
func NewAllocator(limit int) Allocator {
	return &poolAllocator{
		pool:  keyPool,
		limit: int64(limit),
	}
}

type poolAllocator struct {
	inuse int64 // accessed atomically
	limit int64
	pool  *util.BufferPool
}

func (a *poolAllocator) Alloc(n int) ([]byte, error) {
	if a.limit > 0 && atomic.AddInt64(&a.inuse, int64(n)) > a.limit {
		atomic.AddInt64(&a.inuse, -int64(n))
		return nil, ErrOutOfMemory
	}
	return a.pool.Get(n), nil
}

func (a *poolAllocator) Free(p []byte) {
	if p == nil {
		return
	}
	if a.limit > 0 {
		atomic.AddInt64(&a.inuse, -int64(len(p)))
	}
	a.pool.Put(p)
}
