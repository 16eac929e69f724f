package gpu

import (
	"fmt"
	"math/bits"
	"sync"
)

// AllocationFailedError reports that a device's memory pool could not
// satisfy a request of the given size.
type AllocationFailedError struct {
	Size uint64
}

func (e *AllocationFailedError) Error() string {
	return fmt.Sprintf("gpu: allocation of %d bytes failed", e.Size)
}

// bucket sizes are powers of two; requests round up to the next bucket so
// freed blocks can be reused by later requests of the same or smaller size
// without fragmenting the pool, mirroring the fixed-size buffer reuse the
// teacher's memory pool exists to provide.
type bucket struct {
	size uint64
	free [][]byte
}

// MemoryPool tracks a ceiling on total bytes handed out and recycles
// freed blocks by power-of-two size class.
type MemoryPool struct {
	mu       sync.Mutex
	ceiling  uint64
	inUse    uint64
	buckets  map[uint64]*bucket
}

// NewMemoryPool constructs a pool that will never hand out more than
// ceiling bytes at once.
func NewMemoryPool(ceiling uint64) *MemoryPool {
	return &MemoryPool{
		ceiling: ceiling,
		buckets: make(map[uint64]*bucket),
	}
}

func bucketSize(size uint64) uint64 {
	if size <= 1 {
		return 1
	}
	return 1 << bits.Len64(size-1)
}

// Allocate returns a []byte of at least size bytes, reusing a freed block
// of the same bucket if one is available.
func (p *MemoryPool) Allocate(size uint64) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	bs := bucketSize(size)
	if p.inUse+bs > p.ceiling {
		return nil, &AllocationFailedError{Size: size}
	}

	b, ok := p.buckets[bs]
	if ok && len(b.free) > 0 {
		buf := b.free[len(b.free)-1]
		b.free = b.free[:len(b.free)-1]
		p.inUse += bs
		return buf[:size], nil
	}

	if !ok {
		b = &bucket{size: bs}
		p.buckets[bs] = b
	}
	p.inUse += bs
	return make([]byte, size, bs), nil
}

// Release returns buf to its bucket's free list for reuse.
func (p *MemoryPool) Release(buf []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	bs := bucketSize(uint64(cap(buf)))
	b, ok := p.buckets[bs]
	if !ok {
		b = &bucket{size: bs}
		p.buckets[bs] = b
	}
	b.free = append(b.free, buf[:0:cap(buf)])
	if p.inUse >= bs {
		p.inUse -= bs
	}
}

// InUse returns the number of bytes currently allocated from the pool.
func (p *MemoryPool) InUse() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

// Ceiling returns the pool's configured byte ceiling.
func (p *MemoryPool) Ceiling() uint64 {
	return p.ceiling
}
