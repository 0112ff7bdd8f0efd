package vmm

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// filePage is backed by ReadBytes of its own file handle at offset; the rest
// of the page is zero fill.
type filePage struct {
	file      File
	offset    int64
	readBytes int
	zeroBytes int
}

// fileInitializer takes over the file handle of the load argument.
func fileInitializer(p *Page, aux Aux) error {
	arg, ok := loadArgOf(aux)
	if !ok {
		return errors.Errorf("file page %s needs a load argument, got %T", p.va, aux)
	}
	if err := arg.validate(); err != nil {
		return err
	}
	p.ops = &filePage{
		file:      arg.File,
		offset:    arg.Offset,
		readBytes: arg.ReadBytes,
		zeroBytes: arg.ZeroBytes,
	}
	arg.File = nil
	return nil
}

func (fp *filePage) kind() PageType { return TypeFile }

func (fp *filePage) swapIn(p *Page, kva []byte) error {
	n, err := p.space.vm.readAt(fp.file, kva[:fp.readBytes], fp.offset)
	if err != nil {
		return errors.Wrapf(err, "read back %s", p.va)
	}
	if n != fp.readBytes {
		return errors.Errorf("read back %s: %d of %d bytes", p.va, n, fp.readBytes)
	}
	clear(kva[fp.readBytes:])
	return nil
}

func (fp *filePage) swapOut(p *Page) error {
	if err := fp.writeBack(p); err != nil {
		return err
	}
	p.space.pt.ClearPage(p.va)
	p.space.vm.frames.unlinkLocked(p)
	return nil
}

func (fp *filePage) destroy(p *Page) {
	vm := p.space.vm
	if p.Resident() {
		if err := fp.writeBack(p); err != nil {
			vm.log.WithError(err).WithField("va", p.va).Error("lost write back of mapped page")
		}
		vm.frames.releaseLocked(p)
	}
	if fp.file != nil {
		_ = fp.file.Close()
		fp.file = nil
	}
}

// writeBack stores a dirty resident page to its file and clears the dirty bit.
func (fp *filePage) writeBack(p *Page) error {
	pt := p.space.pt
	if !pt.IsDirty(p.va) {
		return nil
	}
	vm := p.space.vm
	kva := vm.frames.kvaLocked(p)
	if kva == nil {
		return errors.Errorf("dirty page %s has no frame", p.va)
	}
	if _, err := vm.writeAt(fp.file, kva[:fp.readBytes], fp.offset); err != nil {
		return errors.Wrapf(err, "write back %s", p.va)
	}
	pt.SetDirty(p.va, false)
	vm.stats.writebacks.Add(1)
	vm.log.WithFields(log.Fields{"space": p.space.id, "va": p.va, "offset": fp.offset}).Debug("wrote back mapped page")
	return nil
}
