package vmm

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// anonPage holds either a frame or a swap slot, never both.
type anonPage struct {
	slot int
}

func anonInitializer(p *Page, _ Aux) error {
	p.ops = &anonPage{slot: SlotNone}
	return nil
}

func (a *anonPage) kind() PageType { return TypeAnon }

func (a *anonPage) swapIn(p *Page, kva []byte) error {
	if a.slot == SlotNone {
		return errors.Errorf("anon page %s has no swap slot", p.va)
	}
	vm := p.space.vm
	if err := vm.swap.Read(a.slot, kva); err != nil {
		return err
	}
	vm.stats.swapIns.Add(1)
	a.slot = SlotNone
	return nil
}

func (a *anonPage) swapOut(p *Page) error {
	vm := p.space.vm
	slot, ok := vm.swap.Allocate()
	if !ok {
		return ErrSwapFull
	}
	if err := vm.swap.Write(slot, vm.frames.kvaLocked(p)); err != nil {
		vm.swap.Free(slot)
		return err
	}
	a.slot = slot
	p.space.pt.ClearPage(p.va)
	vm.frames.unlinkLocked(p)
	vm.stats.swapOuts.Add(1)
	vm.log.WithFields(log.Fields{"space": p.space.id, "va": p.va, "slot": slot}).Debug("anon page swapped out")
	return nil
}

func (a *anonPage) destroy(p *Page) {
	vm := p.space.vm
	if a.slot != SlotNone {
		vm.swap.Free(a.slot)
		a.slot = SlotNone
	}
	if p.Resident() {
		vm.frames.releaseLocked(p)
	}
}
