package vmm

import (
	"github.com/pkg/errors"
)

// LazyLoader fills kva with the contents of p the first time p is faulted
// in. A nil loader leaves the page zeroed.
type LazyLoader func(p *Page, kva []byte, aux Aux) error

// Aux is the argument a LazyLoader receives. An uninit page owns its aux
// and releases it once the loader has run, whether it succeeded or not.
type Aux interface {
	// Clone returns an independent copy for a forked address space.
	Clone() (Aux, error)
	Release()
}

// LoadArg describes the slice of a file that backs one page.
// ReadBytes+ZeroBytes is always PageSize.
type LoadArg struct {
	File      File
	Offset    int64
	ReadBytes int
	ZeroBytes int
}

func (a *LoadArg) validate() error {
	if a == nil || a.File == nil {
		return errors.New("load argument has no file")
	}
	if a.ReadBytes < 0 || a.ZeroBytes < 0 || a.ReadBytes+a.ZeroBytes != PageSize {
		return errors.Errorf("read %d + zero %d bytes is not one page", a.ReadBytes, a.ZeroBytes)
	}
	return nil
}

func (a *LoadArg) Clone() (Aux, error) {
	if a.File == nil {
		return nil, errors.New("load argument has no file")
	}
	f, err := a.File.Reopen()
	if err != nil {
		return nil, errors.Wrap(err, "reopen")
	}
	c := *a
	c.File = f
	return &c, nil
}

func (a *LoadArg) Release() {
	if a.File != nil {
		_ = a.File.Close()
		a.File = nil
	}
}

// loadArgOf extracts the file description from an aux, if it carries one.
func loadArgOf(aux Aux) (*LoadArg, bool) {
	switch a := aux.(type) {
	case *LoadArg:
		return a, a != nil
	case *copyArg:
		return a.file, a.file != nil
	}
	return nil, false
}

// LoadSegment reads ReadBytes from the file at Offset into the page and
// zeroes the rest.
func LoadSegment(p *Page, kva []byte, aux Aux) error {
	arg, ok := loadArgOf(aux)
	if !ok {
		return errors.Errorf("segment loader got %T", aux)
	}
	if err := arg.validate(); err != nil {
		return err
	}
	n, err := p.space.vm.readAt(arg.File, kva[:arg.ReadBytes], arg.Offset)
	if err != nil {
		return errors.Wrapf(err, "load %s", p.va)
	}
	if n != arg.ReadBytes {
		return errors.Errorf("load %s: read %d of %d bytes", p.va, n, arg.ReadBytes)
	}
	clear(kva[arg.ReadBytes:])
	return nil
}
