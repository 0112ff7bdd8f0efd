package vmm

import (
	"github.com/pkg/errors"
)

// uninitPage is a page that has never been faulted in. On first swapIn it
// runs its loader and turns itself into its target variant.
type uninitPage struct {
	loader LazyLoader
	aux    Aux
	target PageType
	init   func(p *Page, aux Aux) error
	// the loader has run, successfully or not
	consumed bool
}

func newUninit(target PageType, loader LazyLoader, aux Aux) (*uninitPage, error) {
	u := &uninitPage{loader: loader, aux: aux, target: target}
	switch target {
	case TypeAnon:
		u.init = anonInitializer
	case TypeFile:
		u.init = fileInitializer
	default:
		return nil, errors.Errorf("cannot create a lazy %s page", target)
	}
	return u, nil
}

func (u *uninitPage) kind() PageType { return TypeUninit }

func (u *uninitPage) swapIn(p *Page, kva []byte) error {
	if u.consumed {
		return errors.Errorf("lazy loader of %s already ran", p.va)
	}
	aux := u.aux
	u.consumed, u.aux = true, nil
	defer func() {
		if aux != nil {
			aux.Release()
		}
	}()

	if u.loader != nil {
		if err := u.loader(p, kva, aux); err != nil {
			return errors.Wrap(err, "lazy load")
		}
	}
	return u.init(p, aux)
}

func (u *uninitPage) swapOut(p *Page) error {
	return errors.Errorf("uninit page %s is never resident", p.va)
}

func (u *uninitPage) destroy(*Page) {
	if u.aux != nil {
		u.aux.Release()
		u.aux = nil
	}
}
