package vmm

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// maxFaultRetries bounds how often one access may fault on the same page,
// which only happens when other address spaces keep evicting it.
const maxFaultRetries = 16

// SpaceStats counts the paging activity of one address space.
type SpaceStats struct {
	Faults       uint64
	PageIns      uint64
	StackGrowths uint64
}

// AddressSpace is the virtual memory of one process: its page table, its
// supplemental page table and the stack pointers the fault handler needs.
// An address space is used by one thread at a time.
type AddressSpace struct {
	id  int
	vm  *VM
	pt  *PageTable
	spt *SupplementalPageTable

	// rsp is the user stack pointer of the trap frame
	rsp VAddr
	// savedRSP is rsp as of the last syscall entry
	savedRSP VAddr

	stats  SpaceStats
	exited bool
	log    *log.Entry
}

// NewAddressSpace creates an empty address space.
func (vm *VM) NewAddressSpace() *AddressSpace {
	id := int(vm.nextID.Add(1))
	as := &AddressSpace{
		id:  id,
		vm:  vm,
		pt:  NewPageTable(),
		log: vm.log.WithField("space", id),
	}
	as.spt = newSupplementalPageTable(as)
	return as
}

func (as *AddressSpace) ID() int                     { return as.id }
func (as *AddressSpace) VM() *VM                     { return as.vm }
func (as *AddressSpace) PageTable() *PageTable       { return as.pt }
func (as *AddressSpace) SPT() *SupplementalPageTable { return as.spt }
func (as *AddressSpace) Stats() SpaceStats           { return as.stats }
func (as *AddressSpace) StackPointer() VAddr         { return as.rsp }

// SetStackPointer sets the user stack pointer, as the trap frame would hold it.
func (as *AddressSpace) SetStackPointer(rsp VAddr) { as.rsp = rsp }

// EnterSyscall caches the user stack pointer so faults taken by the kernel
// on user buffers can apply the stack growth rule.
func (as *AddressSpace) EnterSyscall() { as.savedRSP = as.rsp }

// AllocPage registers a lazy zero page of type t at upage.
func (as *AddressSpace) AllocPage(t PageType, upage VAddr, writable bool) error {
	return as.AllocPageWithInitializer(t, upage, writable, nil, nil)
}

// AllocPageWithInitializer registers an uninit page at upage that becomes a
// page of type t when loader first fills it. On error the caller keeps
// ownership of aux.
func (as *AddressSpace) AllocPageWithInitializer(t PageType, upage VAddr, writable bool, loader LazyLoader, aux Aux) error {
	if as.exited {
		return ErrExited
	}
	if !upage.IsPageAligned() || upage == 0 || !upage.IsUser() {
		return errors.Wrapf(ErrBadAddress, "alloc %s", upage)
	}
	if as.spt.Find(upage) != nil {
		return errors.Wrapf(ErrExists, "alloc %s", upage)
	}
	u, err := newUninit(t, loader, aux)
	if err != nil {
		return err
	}
	p := &Page{va: upage, writable: writable, frame: NoFrame, space: as, ops: u}
	if !as.spt.Insert(p) {
		return errors.Wrapf(ErrExists, "alloc %s", upage)
	}
	return nil
}

// ClaimPage faults in the page at va right away.
func (as *AddressSpace) ClaimPage(va VAddr) error {
	p := as.spt.Find(va)
	if p == nil {
		return errors.Wrapf(ErrUnmapped, "claim %s", va)
	}
	return as.vm.frames.claim(p)
}

// LoadSegment registers the pages of a program segment: readBytes from file
// at ofs followed by zeroBytes of zeros, starting at upage. Nothing is read
// until the pages are touched.
func (as *AddressSpace) LoadSegment(file File, ofs int64, upage VAddr, readBytes, zeroBytes int, writable bool) error {
	if (readBytes+zeroBytes)%PageSize != 0 || !upage.IsPageAligned() || ofs%PageSize != 0 {
		return errors.Errorf("misaligned segment at %s (ofs %d, %d+%d bytes)", upage, ofs, readBytes, zeroBytes)
	}
	var added []VAddr
	for readBytes > 0 || zeroBytes > 0 {
		pageRead := min(readBytes, PageSize)
		pageZero := PageSize - pageRead

		f, err := as.vm.reopen(file)
		if err != nil {
			as.rollback(added)
			return err
		}
		aux := &LoadArg{File: f, Offset: ofs, ReadBytes: pageRead, ZeroBytes: pageZero}
		if err := as.AllocPageWithInitializer(TypeAnon, upage, writable, LoadSegment, aux); err != nil {
			aux.Release()
			as.rollback(added)
			return err
		}
		added = append(added, upage)

		readBytes -= pageRead
		zeroBytes -= pageZero
		ofs += int64(pageRead)
		upage += PageSize
	}
	return nil
}

// SetupStack maps the first stack page just below UserStack and points the
// stack pointer at UserStack.
func (as *AddressSpace) SetupStack() error {
	bottom := UserStack - PageSize
	if err := as.AllocPage(TypeAnon, bottom, true); err != nil {
		return err
	}
	p := as.spt.Find(bottom)
	p.stack = true
	if err := as.ClaimPage(bottom); err != nil {
		as.spt.Remove(p)
		return err
	}
	as.rsp = UserStack
	return nil
}

func (as *AddressSpace) rollback(pages []VAddr) {
	for _, va := range pages {
		as.spt.Remove(as.spt.Find(va))
	}
}

// Read performs a user mode load of n bytes at va.
func (as *AddressSpace) Read(va VAddr, n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := as.access(va, buf, false, true); err != nil {
		return nil, err
	}
	return buf, nil
}

// Write performs a user mode store of data at va.
func (as *AddressSpace) Write(va VAddr, data []byte) error {
	return as.access(va, data, true, true)
}

// CopyIn reads a user buffer on behalf of a syscall.
func (as *AddressSpace) CopyIn(va VAddr, n int) ([]byte, error) {
	if err := as.checkRange(va, n); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if err := as.access(va, buf, false, false); err != nil {
		return nil, err
	}
	return buf, nil
}

// CopyOut writes a user buffer on behalf of a syscall.
func (as *AddressSpace) CopyOut(va VAddr, data []byte) error {
	if err := as.checkRange(va, len(data)); err != nil {
		return err
	}
	return as.access(va, data, true, false)
}

// CheckAddress validates a user pointer handed to a syscall: it must be a
// user address that is either registered or a valid stack growth target.
func (as *AddressSpace) CheckAddress(va VAddr) error {
	if va == 0 || va.IsKernel() {
		return errors.Wrapf(ErrBadAddress, "check %s", va)
	}
	if as.spt.Find(va) == nil && !as.isStackAccess(va, as.savedRSP) {
		return errors.Wrapf(ErrUnmapped, "check %s", va)
	}
	return nil
}

func (as *AddressSpace) checkRange(va VAddr, n int) error {
	if err := as.CheckAddress(va); err != nil {
		return err
	}
	if n > 1 {
		return as.CheckAddress(va + VAddr(n-1))
	}
	return nil
}

func (as *AddressSpace) access(va VAddr, buf []byte, write, user bool) error {
	if as.exited {
		return ErrExited
	}
	for len(buf) > 0 {
		n := min(len(buf), PageSize-va.Offset())
		if err := as.accessPage(va, buf[:n], write, user); err != nil {
			return err
		}
		buf = buf[n:]
		va += VAddr(n)
	}
	return nil
}

// accessPage is the simulated CPU: translate, copy, and trap into the fault
// handler on a miss.
func (as *AddressSpace) accessPage(va VAddr, chunk []byte, write, user bool) error {
	ft := as.vm.frames
	for try := 0; ; try++ {
		ft.mu.Lock()
		id, fault := as.pt.translate(va, write)
		if fault == faultNone {
			kva := ft.frames[id].KVA[va.Offset():]
			if write {
				copy(kva, chunk)
			} else {
				copy(chunk, kva)
			}
			ft.mu.Unlock()
			return nil
		}
		ft.mu.Unlock()

		if try >= maxFaultRetries {
			return errors.Wrapf(ErrOutOfMemory, "page %s keeps getting evicted", va.RoundDown())
		}
		rsp := as.rsp
		if !user {
			rsp = as.savedRSP
		}
		err := as.HandleFault(Fault{
			Addr:       va,
			User:       user,
			Write:      write,
			NotPresent: fault == faultNotPresent,
			RSP:        rsp,
		})
		if err != nil {
			return err
		}
	}
}

// Exit destroys every page, writing back dirty mappings, and releases the
// page table. The address space cannot be used afterwards.
func (as *AddressSpace) Exit() {
	if as.exited {
		return
	}
	as.spt.DestroyAll()
	as.pt.Destroy()
	as.exited = true
	as.log.WithFields(log.Fields{
		"faults":   as.stats.Faults,
		"page_ins": as.stats.PageIns,
	}).Debug("address space exited")
}
