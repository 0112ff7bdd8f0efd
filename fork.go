package vmm

import (
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Fork creates a child address space holding a deep copy of as. The copy
// runs on the child's goroutine while the parent waits for it.
func (as *AddressSpace) Fork() (*AddressSpace, error) {
	if as.exited {
		return nil, ErrExited
	}
	child := as.vm.NewAddressSpace()
	child.rsp, child.savedRSP = as.rsp, as.savedRSP

	var g errgroup.Group
	g.Go(func() error {
		return child.spt.Copy(as.spt)
	})
	if err := g.Wait(); err != nil {
		child.Exit()
		return nil, errors.Wrapf(err, "fork of space %d", as.id)
	}
	as.log.WithField("child", child.id).Debug("forked")
	return child, nil
}

// copyArg makes a freshly claimed page a byte copy of src.
type copyArg struct {
	src *Page
	// set when the copy is a file page
	file *LoadArg
}

func (c *copyArg) Clone() (Aux, error) {
	n := &copyArg{src: c.src}
	if c.file != nil {
		f, err := c.file.Clone()
		if err != nil {
			return nil, err
		}
		n.file = f.(*LoadArg)
	}
	return n, nil
}

func (c *copyArg) Release() {
	if c.file != nil {
		c.file.Release()
	}
}

// copyContents fills kva with the current contents of the source page,
// wherever they live now. The claim that runs it may itself have evicted
// the source.
func copyContents(p *Page, kva []byte, aux Aux) error {
	arg, ok := aux.(*copyArg)
	if !ok {
		return errors.Errorf("copy loader got %T", aux)
	}
	src := arg.src
	vm := p.space.vm
	vm.frames.mu.Lock()
	defer vm.frames.mu.Unlock()

	if src.Resident() {
		copy(kva, vm.frames.kvaLocked(src))
		return nil
	}
	switch ops := src.ops.(type) {
	case *anonPage:
		if ops.slot == SlotNone {
			return errors.Errorf("source page %s has no contents", src.va)
		}
		return vm.swap.Peek(ops.slot, kva)
	case *filePage:
		n, err := vm.readAt(ops.file, kva[:ops.readBytes], ops.offset)
		if err != nil {
			return err
		}
		if n != ops.readBytes {
			return errors.Errorf("source page %s: read %d of %d bytes", src.va, n, ops.readBytes)
		}
		clear(kva[ops.readBytes:])
		return nil
	}
	return errors.Errorf("cannot copy %s page %s", src.Kind(), src.va)
}

// copyPage duplicates one page of another address space into as.
func (as *AddressSpace) copyPage(src *Page) error {
	switch ops := src.ops.(type) {
	case *uninitPage:
		if ops.consumed {
			return errors.Errorf("source page %s failed to load", src.va)
		}
		var aux Aux
		if ops.aux != nil {
			c, err := ops.aux.Clone()
			if err != nil {
				return errors.Wrapf(err, "clone argument of %s", src.va)
			}
			aux = c
		}
		if err := as.AllocPageWithInitializer(ops.target, src.va, src.writable, ops.loader, aux); err != nil {
			if aux != nil {
				aux.Release()
			}
			return err
		}

	case *anonPage:
		if err := as.copyPopulated(src, TypeAnon, &copyArg{src: src}); err != nil {
			return err
		}

	case *filePage:
		f, err := as.vm.reopen(ops.file)
		if err != nil {
			return err
		}
		arg := &LoadArg{File: f, Offset: ops.offset, ReadBytes: ops.readBytes, ZeroBytes: ops.zeroBytes}
		if !as.vm.frames.resident(src) {
			// clean in the file, reload lazily
			if err := as.AllocPageWithInitializer(TypeFile, src.va, src.writable, LoadSegment, arg); err != nil {
				arg.Release()
				return err
			}
			break
		}
		dirty := src.space.pt.IsDirty(src.va)
		if err := as.copyPopulated(src, TypeFile, &copyArg{src: src, file: arg}); err != nil {
			return err
		}
		if dirty {
			as.pt.SetDirty(src.va, true)
		}

	default:
		return errors.Errorf("cannot copy %s page %s", src.Kind(), src.va)
	}

	p := as.spt.Find(src.va)
	p.stack = src.stack
	p.mappedPages = src.mappedPages
	return nil
}

func (as *AddressSpace) copyPopulated(src *Page, t PageType, arg *copyArg) error {
	if err := as.AllocPageWithInitializer(t, src.va, src.writable, copyContents, arg); err != nil {
		arg.Release()
		return err
	}
	return as.ClaimPage(src.va)
}
