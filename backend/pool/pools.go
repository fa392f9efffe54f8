package pool

import (
	"sync"
)

// BufferPool hands out byte slices of one capacity, typically the upload
// chunk size.
type BufferPool struct {
	size       int
	bufferPool sync.Pool
}

func NewBufferPool(bufferSize int) *BufferPool {
	if bufferSize <= 0 {
		panic("bufferSize must be > 0")
	}
	bp := &BufferPool{size: bufferSize}
	bp.bufferPool.New = func() any {
		b := make([]byte, bufferSize)
		return &b
	}
	return bp
}

func (bp *BufferPool) Size() int { return bp.size }

// GetBuffer returns a slice of length n. Requests above the pool size get a
// fresh allocation that PutBuffer will not keep.
func (bp *BufferPool) GetBuffer(n int) []byte {
	if n > bp.size {
		return make([]byte, n)
	}
	b := bp.bufferPool.Get().(*[]byte)
	return (*b)[:n]
}

func (bp *BufferPool) PutBuffer(buffer []byte) {
	if cap(buffer) != bp.size {
		return
	}
	buffer = buffer[:bp.size]
	bp.bufferPool.Put(&buffer)
}

var (
	sharedMu sync.Mutex
	shared   = map[int]*BufferPool{}
)

// ForSize returns the process-wide pool for bufferSize, creating it on first use.
func ForSize(bufferSize int) *BufferPool {
	sharedMu.Lock()
	defer sharedMu.Unlock()
	if bp, ok := shared[bufferSize]; ok {
		return bp
	}
	bp := NewBufferPool(bufferSize)
	shared[bufferSize] = bp
	return bp
}
