package capture

import (
	"sync"
	"sync/atomic"
)

// AuxPool recycles the intermediate buffers synthesized for BLOB streams.
//
// Buffers go out with Get and come back through frame.BufferSet.Release.
// The free list is bounded per size; a buffer that is never released, or
// released into a full list, is left to the garbage collector.
type AuxPool struct {
	mu    sync.Mutex
	free  map[int][][]byte
	limit int

	allocs atomic.Uint64
	reuses atomic.Uint64
}

// NewAuxPool keeps at most limit idle buffers per size.
func NewAuxPool(limit int) *AuxPool {
	if limit < 0 {
		limit = 0
	}
	return &AuxPool{free: make(map[int][][]byte), limit: limit}
}

// Get returns a buffer of exactly size bytes.
func (p *AuxPool) Get(size int) []byte {
	p.mu.Lock()
	list := p.free[size]
	if n := len(list); n > 0 {
		b := list[n-1]
		list[n-1] = nil
		p.free[size] = list[:n-1]
		p.mu.Unlock()
		p.reuses.Add(1)
		return b
	}
	p.mu.Unlock()

	p.allocs.Add(1)
	return make([]byte, size)
}

// Put returns b to the free list.
func (p *AuxPool) Put(b []byte) {
	if b == nil {
		return
	}
	size := len(b)
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free[size]) >= p.limit {
		return
	}
	p.free[size] = append(p.free[size], b)
}

// Idle returns the number of buffers waiting for reuse.
func (p *AuxPool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, list := range p.free {
		n += len(list)
	}
	return n
}
