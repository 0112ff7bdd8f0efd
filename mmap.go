package vmm

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Mmap maps length bytes of file starting at offset to addr. Pages are
// loaded on first touch and dirty pages are written back when evicted or
// unmapped. The mapping keeps its own file handles, so closing file after
// Mmap returns does not affect it.
func (as *AddressSpace) Mmap(addr VAddr, length int, writable bool, file File, offset int64) (VAddr, error) {
	if as.exited {
		return 0, ErrExited
	}
	if addr == 0 || !addr.IsPageAligned() {
		return 0, errors.Wrapf(ErrInvalidMapping, "address %s", addr)
	}
	if offset < 0 || offset%PageSize != 0 {
		return 0, errors.Wrapf(ErrInvalidMapping, "offset %d", offset)
	}
	if length <= 0 {
		return 0, errors.Wrapf(ErrInvalidMapping, "length %d", length)
	}
	if file == nil {
		return 0, errors.Wrap(ErrInvalidMapping, "no file")
	}
	pages := PageCount(length)
	end := addr + VAddr(pages)*PageSize
	if end <= addr || !addr.IsUser() || end > KernBase {
		return 0, errors.Wrapf(ErrInvalidMapping, "range %s-%s leaves user space", addr, end)
	}
	if as.spt.overlaps(addr, end) {
		return 0, errors.Wrapf(ErrInvalidMapping, "range %s-%s overlaps a mapped page", addr, end)
	}

	f, err := as.vm.reopen(file)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	flen := as.vm.length(f)
	if flen == 0 {
		return 0, errors.Wrap(ErrInvalidMapping, "empty file")
	}

	readTotal := min(int64(length), max(flen-offset, 0))
	var added []VAddr
	upage, ofs := addr, offset
	for i := 0; i < pages; i++ {
		pageRead := int(min(readTotal, PageSize))
		pf, err := as.vm.reopen(f)
		if err != nil {
			as.rollback(added)
			return 0, err
		}
		aux := &LoadArg{File: pf, Offset: ofs, ReadBytes: pageRead, ZeroBytes: PageSize - pageRead}
		if err := as.AllocPageWithInitializer(TypeFile, upage, writable, LoadSegment, aux); err != nil {
			aux.Release()
			as.rollback(added)
			return 0, err
		}
		added = append(added, upage)
		readTotal -= int64(pageRead)
		ofs += int64(pageRead)
		upage += PageSize
	}

	as.spt.Find(addr).mappedPages = pages
	as.log.WithFields(log.Fields{"va": addr, "pages": pages, "offset": offset}).Debug("mapped file")
	return addr, nil
}

// Munmap removes the mapping that starts at addr, writing back every dirty
// page.
func (as *AddressSpace) Munmap(addr VAddr) error {
	if as.exited {
		return ErrExited
	}
	first := as.spt.Find(addr)
	if first == nil || first.va != addr || first.mappedPages == 0 {
		return errors.Wrapf(ErrInvalidMapping, "no mapping starts at %s", addr)
	}
	count := first.mappedPages
	for i := 0; i < count; i++ {
		va := addr + VAddr(i)*PageSize
		p := as.spt.Find(va)
		if p == nil {
			as.log.WithField("va", va).Warn("mapping is missing a page")
			break
		}
		as.spt.Remove(p)
	}
	return nil
}
