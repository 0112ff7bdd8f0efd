package vmm

// PageType is the variant of a page descriptor.
type PageType uint8

const (
	// not yet populated; becomes its target type on first fault
	TypeUninit PageType = iota
	// no file backing, evicted to swap
	TypeAnon
	// backed by a region of a file, evicted by writing back
	TypeFile
)

func (t PageType) String() string {
	switch t {
	case TypeUninit:
		return "uninit"
	case TypeAnon:
		return "anon"
	case TypeFile:
		return "file"
	}
	return "unknown"
}

// Page describes one virtual page of an address space.
type Page struct {
	va       VAddr
	writable bool
	// stack pages are anonymous pages created by SetupStack or stack growth
	stack bool

	frame FrameID
	space *AddressSpace
	ops   pageOps

	// non-zero only on the first page of a file mapping
	mappedPages int
}

// pageOps is implemented by every page variant. swapOut and destroy run
// with the frame table lock held; swapIn runs on a pinned frame without it.
type pageOps interface {
	kind() PageType
	swapIn(p *Page, kva []byte) error
	swapOut(p *Page) error
	destroy(p *Page)
}

func (p *Page) VA() VAddr            { return p.va }
func (p *Page) Writable() bool       { return p.writable }
func (p *Page) IsStack() bool        { return p.stack }
func (p *Page) MappedPages() int     { return p.mappedPages }
func (p *Page) Space() *AddressSpace { return p.space }
func (p *Page) Kind() PageType       { return p.ops.kind() }
func (p *Page) Resident() bool       { return p.frame != NoFrame }

// Type reports the page's real type, looking through an uninit page to the
// type it will become.
func (p *Page) Type() PageType {
	if u, ok := p.ops.(*uninitPage); ok {
		return u.target
	}
	return p.ops.kind()
}

// SwapSlot returns the slot an anonymous page occupies, or SlotNone.
func (p *Page) SwapSlot() int {
	if a, ok := p.ops.(*anonPage); ok {
		return a.slot
	}
	return SlotNone
}
