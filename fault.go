package vmm

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Fault is what the CPU reports on a page fault.
type Fault struct {
	Addr VAddr
	// the access came from user mode
	User  bool
	Write bool
	// no present mapping; otherwise a protection violation
	NotPresent bool
	// stack pointer to judge stack growth against
	RSP VAddr
}

// HandleFault resolves a page fault. A nil error means the access can be
// retried. Errors for which IsFatal holds terminate the process; an
// ErrOutOfMemory means no frame could be freed for it.
func (as *AddressSpace) HandleFault(f Fault) error {
	if as.exited {
		return ErrExited
	}
	as.stats.Faults++

	if f.Addr == 0 || f.Addr.IsKernel() {
		return as.fatal(f, ErrBadAddress)
	}
	// no copy-on-write, so a fault on a present page is always a violation
	if !f.NotPresent {
		return as.fatal(f, ErrProtection)
	}

	upage := f.Addr.RoundDown()
	grown := false
	if as.spt.Find(upage) == nil && as.isStackAccess(f.Addr, f.RSP) {
		if err := as.growStack(upage); err != nil {
			return err
		}
		grown = true
	}

	p := as.spt.Find(upage)
	if p == nil {
		return as.fatal(f, ErrUnmapped)
	}
	if f.Write && !p.writable {
		return as.fatal(f, ErrReadOnly)
	}
	if err := as.vm.frames.claim(p); err != nil {
		if grown {
			as.spt.Remove(p)
		}
		as.log.WithError(err).WithField("va", f.Addr).Warn("page fault could not be served")
		return errors.Wrapf(err, "fault at %s", f.Addr)
	}
	if grown {
		as.stats.StackGrowths++
	}
	as.stats.PageIns++
	return nil
}

// isStackAccess tells whether addr is a plausible push below rsp that stays
// within the maximum stack size.
func (as *AddressSpace) isStackAccess(addr, rsp VAddr) bool {
	opts := as.vm.opts
	if rsp == 0 || addr >= UserStack {
		return false
	}
	return addr+VAddr(opts.StackGrowthWindow) >= rsp &&
		addr >= UserStack-VAddr(opts.MaxStackSize)
}

// growStack registers a stack page at upage. The caller removes it again if
// the page cannot be claimed.
func (as *AddressSpace) growStack(upage VAddr) error {
	if err := as.AllocPage(TypeAnon, upage, true); err != nil {
		return errors.Wrap(err, "grow stack")
	}
	as.spt.Find(upage).stack = true
	as.log.WithField("va", upage).Debug("stack grown")
	return nil
}

func (as *AddressSpace) fatal(f Fault, err error) error {
	as.log.WithFields(log.Fields{
		"va":          f.Addr,
		"user":        f.User,
		"write":       f.Write,
		"not_present": f.NotPresent,
	}).Warn(err.Error())
	return errors.Wrapf(err, "fault at %s", f.Addr)
}
