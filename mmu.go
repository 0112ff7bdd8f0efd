package vmm

import "sync"

type pte struct {
	frame FrameID
	flags PTEFlag
}

type faultKind uint8

const (
	faultNone faultKind = iota
	faultNotPresent
	faultProtection
)

// PageTable stands in for the hardware page table of one address space.
// Clearing a page only drops the present bit, so the accessed and dirty bits
// of a cleared entry can still be queried until the page is mapped again.
type PageTable struct {
	mu      sync.Mutex
	entries map[VAddr]*pte
}

func NewPageTable() *PageTable {
	return &PageTable{entries: make(map[VAddr]*pte)}
}

// SetPage maps the user page upage to frame. It fails when upage is not a
// page aligned user address or when upage is already present.
func (pt *PageTable) SetPage(upage VAddr, frame FrameID, writable bool) bool {
	if !upage.IsPageAligned() || !upage.IsUser() || frame == NoFrame {
		return false
	}
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if e, ok := pt.entries[upage]; ok && Has(e.flags, PTEPresent) {
		return false
	}
	flags := PTEPresent
	if writable {
		flags = Set(flags, PTEWritable)
	}
	pt.entries[upage] = &pte{frame: frame, flags: flags}
	return true
}

// ClearPage marks upage not present.
func (pt *PageTable) ClearPage(upage VAddr) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if e, ok := pt.entries[upage.RoundDown()]; ok {
		e.flags = Clear(e.flags, PTEPresent)
		e.frame = NoFrame
	}
}

// GetPage returns the frame va is mapped to, if present.
func (pt *PageTable) GetPage(va VAddr) (FrameID, bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	e, ok := pt.entries[va.RoundDown()]
	if !ok || !Has(e.flags, PTEPresent) {
		return NoFrame, false
	}
	return e.frame, true
}

func (pt *PageTable) IsDirty(va VAddr) bool    { return pt.test(va, PTEDirty) }
func (pt *PageTable) IsAccessed(va VAddr) bool { return pt.test(va, PTEAccessed) }

func (pt *PageTable) SetDirty(va VAddr, dirty bool)       { pt.update(va, PTEDirty, dirty) }
func (pt *PageTable) SetAccessed(va VAddr, accessed bool) { pt.update(va, PTEAccessed, accessed) }

// Len returns the number of present mappings.
func (pt *PageTable) Len() int {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	n := 0
	for _, e := range pt.entries {
		if Has(e.flags, PTEPresent) {
			n++
		}
	}
	return n
}

// Destroy drops every entry.
func (pt *PageTable) Destroy() {
	pt.mu.Lock()
	pt.entries = make(map[VAddr]*pte)
	pt.mu.Unlock()
}

func (pt *PageTable) test(va VAddr, flag PTEFlag) bool {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	e, ok := pt.entries[va.RoundDown()]
	return ok && Has(e.flags, flag)
}

func (pt *PageTable) update(va VAddr, flag PTEFlag, on bool) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	e, ok := pt.entries[va.RoundDown()]
	if !ok {
		return
	}
	if on {
		e.flags = Set(e.flags, flag)
	} else {
		e.flags = Clear(e.flags, flag)
	}
}

// translate does what the MMU does on a memory access: it resolves va to a
// frame and sets the accessed bit, and the dirty bit for writes.
func (pt *PageTable) translate(va VAddr, write bool) (FrameID, faultKind) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	e, ok := pt.entries[va.RoundDown()]
	if !ok || !Has(e.flags, PTEPresent) {
		return NoFrame, faultNotPresent
	}
	if write && !Has(e.flags, PTEWritable) {
		return NoFrame, faultProtection
	}
	e.flags = Set(e.flags, PTEAccessed)
	if write {
		e.flags = Set(e.flags, PTEDirty)
	}
	return e.frame, faultNone
}
