package vmm

import (
	"sync"

	"github.com/pkg/errors"
)

// PagePool is the physical page allocator backing user frames.
type PagePool struct {
	mu   sync.Mutex
	mem  []byte
	free []int
	size int
}

func NewPagePool(pages int) (*PagePool, error) {
	if pages <= 0 {
		return nil, errors.Errorf("page pool needs at least one page, got %d", pages)
	}
	mem, err := mmapAnon(pages * PageSize)
	if err != nil {
		return nil, errors.Wrap(err, "page pool")
	}
	p := &PagePool{mem: mem, size: pages, free: make([]int, 0, pages)}
	// lowest index on top
	for i := pages - 1; i >= 0; i-- {
		p.free = append(p.free, i)
	}
	return p, nil
}

// Get hands out one zeroed page. ok is false when the pool is exhausted.
func (p *PagePool) Get() (idx int, kva []byte, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		return -1, nil, false
	}
	idx = p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	kva = p.page(idx)
	clear(kva)
	return idx, kva, true
}

// Put returns a page to the pool.
func (p *PagePool) Put(idx int) {
	p.mu.Lock()
	p.free = append(p.free, idx)
	p.mu.Unlock()
}

func (p *PagePool) Size() int { return p.size }

func (p *PagePool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

func (p *PagePool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := munmap(p.mem)
	p.mem, p.free = nil, nil
	return errors.Wrap(err, "page pool munmap")
}

func (p *PagePool) page(idx int) []byte {
	off := idx * PageSize
	return p.mem[off : off+PageSize : off+PageSize]
}
