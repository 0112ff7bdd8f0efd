package vmm

import (
	"github.com/google/btree"
)

// SupplementalPageTable maps the virtual pages of one address space to
// their descriptors, ordered by address.
type SupplementalPageTable struct {
	space *AddressSpace
	pages *btree.BTreeG[*Page]
}

func lessPage(a, b *Page) bool { return a.va < b.va }

func newSupplementalPageTable(space *AddressSpace) *SupplementalPageTable {
	return &SupplementalPageTable{
		space: space,
		pages: btree.NewG[*Page](16, lessPage),
	}
}

// Find returns the page containing va, or nil.
func (s *SupplementalPageTable) Find(va VAddr) *Page {
	p, ok := s.pages.Get(&Page{va: va.RoundDown()})
	if !ok {
		return nil
	}
	return p
}

// Insert adds p. It fails if a page already exists at p's address.
func (s *SupplementalPageTable) Insert(p *Page) bool {
	if s.pages.Has(p) {
		return false
	}
	s.pages.ReplaceOrInsert(p)
	return true
}

// Remove drops p from the table, unmaps it and releases its frame and swap
// slot through the page's destroy.
func (s *SupplementalPageTable) Remove(p *Page) {
	if p == nil {
		return
	}
	if _, ok := s.pages.Delete(p); !ok {
		return
	}
	s.space.vm.frames.destroyPage(p)
}

func (s *SupplementalPageTable) Len() int { return s.pages.Len() }

// Range calls fn for every page in [start, end) in address order until fn
// returns false. fn must not modify the table.
func (s *SupplementalPageTable) Range(start, end VAddr, fn func(*Page) bool) {
	s.pages.AscendRange(&Page{va: start.RoundDown()}, &Page{va: end}, fn)
}

// Pages returns every page in address order.
func (s *SupplementalPageTable) Pages() []*Page {
	pages := make([]*Page, 0, s.pages.Len())
	s.pages.Ascend(func(p *Page) bool {
		pages = append(pages, p)
		return true
	})
	return pages
}

func (s *SupplementalPageTable) overlaps(start, end VAddr) bool {
	found := false
	s.Range(start, end, func(*Page) bool {
		found = true
		return false
	})
	return found
}

// Copy fills s with a copy of every page in src. Lazy pages are registered
// again with a cloned argument; populated pages get a frame of their own
// holding the same bytes. On failure s holds a partial copy that the caller
// must destroy.
func (s *SupplementalPageTable) Copy(src *SupplementalPageTable) error {
	for _, p := range src.Pages() {
		if err := s.space.copyPage(p); err != nil {
			return err
		}
	}
	return nil
}

// DestroyAll destroys every page, writing back dirty file pages, and
// empties the table.
func (s *SupplementalPageTable) DestroyAll() {
	for _, p := range s.Pages() {
		s.space.vm.frames.destroyPage(p)
	}
	s.pages.Clear(false)
}
