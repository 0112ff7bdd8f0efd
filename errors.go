package vmm

import "github.com/pkg/errors"

// Faults that terminate the faulting process.
var (
	ErrBadAddress = errors.New("null or kernel address")
	ErrProtection = errors.New("protection violation on present page")
	ErrReadOnly   = errors.New("write to read-only page")
	ErrUnmapped   = errors.New("no page at address")
)

var (
	// ErrOutOfMemory is returned when no frame can be freed for a claim.
	ErrOutOfMemory    = errors.New("out of memory")
	ErrExists         = errors.New("page already exists")
	ErrInvalidMapping = errors.New("invalid mapping")
	ErrExited         = errors.New("address space has exited")
)

// IsFatal reports whether err is a fault that must terminate the process.
func IsFatal(err error) bool {
	return errors.Is(err, ErrBadAddress) ||
		errors.Is(err, ErrProtection) ||
		errors.Is(err, ErrReadOnly) ||
		errors.Is(err, ErrUnmapped)
}
