package vmm

import (
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// FrameID indexes the frame arena. It equals the page pool index.
type FrameID int

const NoFrame FrameID = -1

// Frame is a physical page holding at most one resident page.
type Frame struct {
	ID  FrameID
	KVA []byte

	page *Page
	// pinned frames are being filled by claim and cannot be evicted
	pinned bool
	// admission order, unique across the table
	seq uint64
}

// Page returns the resident page, or nil.
func (f *Frame) Page() *Page { return f.page }

func (f *Frame) Pinned() bool { return f.pinned }

func (f *Frame) evictable() bool {
	return f != nil && f.page != nil && !f.pinned
}

// referenced reads the accessed bit of the resident page.
func (f *Frame) referenced() bool {
	p := f.page
	return p.space.pt.IsAccessed(p.va)
}

func (f *Frame) clearReferenced() {
	p := f.page
	p.space.pt.SetAccessed(p.va, false)
}

// FrameTable is the registry of user frames shared by all address spaces.
//
// Lock order: frame table, then swap, then filesystem.
type FrameTable struct {
	mu      sync.Mutex
	vm      *VM
	pool    *PagePool
	frames  []*Frame
	evictor Evictor
	seq     uint64
	log     *log.Entry
}

func newFrameTable(vm *VM, pool *PagePool, evictor Evictor) *FrameTable {
	return &FrameTable{
		vm:      vm,
		pool:    pool,
		frames:  make([]*Frame, pool.Size()),
		evictor: evictor,
		log:     vm.log.WithField("component", "frames"),
	}
}

// Resident returns the number of frames holding a page.
func (ft *FrameTable) Resident() int {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	n := 0
	for _, f := range ft.frames {
		if f != nil && f.page != nil {
			n++
		}
	}
	return n
}

// Frame returns the frame with the given id, or nil if it is free.
func (ft *FrameTable) Frame(id FrameID) *Frame {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.lookupLocked(id)
}

func (ft *FrameTable) lookupLocked(id FrameID) *Frame {
	if id < 0 || int(id) >= len(ft.frames) {
		return nil
	}
	return ft.frames[id]
}

// getFrame returns a pinned, zeroed frame with no page. When the pool is
// dry it evicts a resident page. It only fails when nothing can be
// evicted, and then only if the VM is not configured to panic instead.
func (ft *FrameTable) getFrame() (*Frame, error) {
	ft.mu.Lock()
	defer ft.mu.Unlock()

	if idx, kva, ok := ft.pool.Get(); ok {
		f := &Frame{ID: FrameID(idx), KVA: kva, pinned: true}
		ft.frames[idx] = f
		return f, nil
	}

	f, err := ft.evictLocked()
	if err != nil {
		return nil, ft.exhausted(err)
	}
	clear(f.KVA)
	f.pinned = true
	return f, nil
}

// evictLocked frees one frame. A victim whose page cannot be written out
// stays resident and is pinned until the search ends, so every evictable
// frame is tried once before giving up.
func (ft *FrameTable) evictLocked() (*Frame, error) {
	var failed []*Frame
	defer func() {
		for _, f := range failed {
			f.pinned = false
		}
	}()

	var lastErr error
	for range ft.frames {
		victim := ft.evictor.Victim(ft.frames)
		if victim == nil {
			break
		}
		p := victim.page
		if err := p.ops.swapOut(p); err != nil {
			lastErr = errors.Wrapf(err, "evict %s from frame %d", p.va, victim.ID)
			ft.log.WithError(err).WithField("frame", victim.ID).Debug("victim stays resident")
			victim.pinned = true
			failed = append(failed, victim)
			// back in line for a later eviction
			ft.evictor.Admit(victim, ft.frames)
			continue
		}
		ft.vm.stats.evictions.Add(1)
		ft.log.WithFields(log.Fields{
			"frame": victim.ID,
			"space": p.space.id,
			"va":    p.va,
			"type":  p.Kind(),
		}).Debug("evicted page")
		return victim, nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("no evictable frame")
}

func (ft *FrameTable) exhausted(err error) error {
	if ft.vm.opts.PanicOnExhaustion {
		ft.log.WithError(err).Error("cannot free any frame")
		panic(errors.Wrap(ErrOutOfMemory, err.Error()))
	}
	ft.log.WithError(err).Warn("cannot free any frame")
	return errors.Wrap(ErrOutOfMemory, err.Error())
}

// claim gives p a frame, maps it and fills it through the page's swapIn.
// On failure every partial step is undone.
func (ft *FrameTable) claim(p *Page) error {
	if ft.resident(p) {
		return nil
	}
	f, err := ft.getFrame()
	if err != nil {
		return err
	}

	ft.mu.Lock()
	f.page = p
	ft.seq++
	f.seq = ft.seq
	p.frame = f.ID
	ft.mu.Unlock()

	if !p.space.pt.SetPage(p.va, f.ID, p.writable) {
		ft.mu.Lock()
		ft.releaseLocked(p)
		ft.mu.Unlock()
		return errors.Errorf("cannot map %s to frame %d", p.va, f.ID)
	}

	if err := p.ops.swapIn(p, f.KVA); err != nil {
		ft.mu.Lock()
		p.space.pt.ClearPage(p.va)
		ft.releaseLocked(p)
		ft.mu.Unlock()
		return errors.Wrapf(err, "swap in %s", p.va)
	}

	ft.mu.Lock()
	f.pinned = false
	ft.evictor.Admit(f, ft.frames)
	ft.mu.Unlock()
	return nil
}

// resident reports whether p holds a frame. Other address spaces may be
// evicting p concurrently.
func (ft *FrameTable) resident(p *Page) bool {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return p.frame != NoFrame
}

// destroyPage unmaps p and runs its destroy under the frame table lock so
// that eviction cannot race with the teardown.
func (ft *FrameTable) destroyPage(p *Page) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	p.space.pt.ClearPage(p.va)
	p.ops.destroy(p)
}

// unlinkLocked breaks the frame-page link, leaving the frame allocated.
func (ft *FrameTable) unlinkLocked(p *Page) *Frame {
	f := ft.lookupLocked(p.frame)
	if f != nil {
		f.page = nil
	}
	p.frame = NoFrame
	return f
}

// releaseLocked unlinks p and returns its frame to the pool.
func (ft *FrameTable) releaseLocked(p *Page) {
	f := ft.unlinkLocked(p)
	if f == nil {
		return
	}
	f.pinned = false
	ft.frames[f.ID] = nil
	ft.pool.Put(int(f.ID))
}

// kvaLocked returns the contents of p's frame.
func (ft *FrameTable) kvaLocked(p *Page) []byte {
	if f := ft.lookupLocked(p.frame); f != nil {
		return f.KVA
	}
	return nil
}
