// Package buffers provides reusable byte buffers so compression and
// object-store I/O never allocate per-chunk memory proportional to a file's
// total size: every streaming path borrows a fixed-size buffer from a pool
// instead of sizing an allocation to the file it is handling.
package buffers

import (
	"sync"
	"sync/atomic"

	"github.com/ringbackup/sidecar/internal/constants"
)

var (
	chunkAllocations int64
	chunkReuses      int64
	smallAllocations int64
	smallReuses      int64
)

var (
	// chunkPool provides constants.ChunkSize buffers for compression and
	// multipart/block transfer operations.
	chunkPool = &sync.Pool{
		New: func() interface{} {
			atomic.AddInt64(&chunkAllocations, 1)
			buf := make([]byte, constants.ChunkSize)
			return &buf
		},
	}

	// smallPool provides constants.SmallBufferSize buffers for checksum
	// computation and other short-lived reads.
	smallPool = &sync.Pool{
		New: func() interface{} {
			atomic.AddInt64(&smallAllocations, 1)
			buf := make([]byte, constants.SmallBufferSize)
			return &buf
		},
	}
)

// GetChunkBuffer retrieves a chunk-sized buffer from the pool. The buffer
// must be returned via PutChunkBuffer when done.
func GetChunkBuffer() *[]byte {
	buf := chunkPool.Get().(*[]byte)
	atomic.AddInt64(&chunkReuses, 1)
	return buf
}

// PutChunkBuffer returns a buffer to the pool for reuse. Only buffers of
// exactly constants.ChunkSize are pooled; anything else is dropped.
func PutChunkBuffer(buf *[]byte) {
	if buf != nil && len(*buf) == constants.ChunkSize {
		chunkPool.Put(buf)
	}
}

// GetSmallBuffer retrieves a small scratch buffer from the pool.
func GetSmallBuffer() *[]byte {
	buf := smallPool.Get().(*[]byte)
	atomic.AddInt64(&smallReuses, 1)
	return buf
}

// PutSmallBuffer returns a small buffer to the pool for reuse.
func PutSmallBuffer(buf *[]byte) {
	if buf != nil && len(*buf) == constants.SmallBufferSize {
		smallPool.Put(buf)
	}
}

// Stats reports current buffer pool allocation/reuse counters, useful for
// confirming that a long-running round is not allocating unboundedly.
type Stats struct {
	ChunkBufferSize  int
	SmallBufferSize  int
	ChunkAllocations int64
	ChunkReuses      int64
	SmallAllocations int64
	SmallReuses      int64
}

// CurrentStats snapshots the pool counters.
func CurrentStats() Stats {
	return Stats{
		ChunkBufferSize:  constants.ChunkSize,
		SmallBufferSize:  constants.SmallBufferSize,
		ChunkAllocations: atomic.LoadInt64(&chunkAllocations),
		ChunkReuses:      atomic.LoadInt64(&chunkReuses),
		SmallAllocations: atomic.LoadInt64(&smallAllocations),
		SmallReuses:      atomic.LoadInt64(&smallReuses),
	}
}
