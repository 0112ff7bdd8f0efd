package vmm

import "fmt"

const (
	PageShift      = 12
	PageSize       = 1 << PageShift
	SectorSize     = 512
	SectorsPerPage = PageSize / SectorSize

	// KernBase is the first kernel virtual address; everything below is user space.
	KernBase VAddr = 0x8004000000
	// UserStack is the top of the user stack. The stack grows down from here.
	UserStack VAddr = 0x47480000

	DefaultMaxStackSize = 1 << 20
)

// VAddr is a virtual address in a simulated address space.
type VAddr uint64

func (v VAddr) RoundDown() VAddr    { return v &^ (PageSize - 1) }
func (v VAddr) RoundUp() VAddr      { return (v + PageSize - 1).RoundDown() }
func (v VAddr) Offset() int         { return int(v & (PageSize - 1)) }
func (v VAddr) IsPageAligned() bool { return v.Offset() == 0 }
func (v VAddr) IsUser() bool        { return v < KernBase }
func (v VAddr) IsKernel() bool      { return v >= KernBase }

func (v VAddr) String() string {
	return fmt.Sprintf("%#x", uint64(v))
}

// PageCount returns how many pages are needed to hold length bytes.
func PageCount(length int) int {
	return (length + PageSize - 1) / PageSize
}
