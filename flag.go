package vmm

// PTEFlag is the set of hardware bits kept in a page table entry.
type PTEFlag uint8

const (
	PTEPresent PTEFlag = 1 << iota
	PTEWritable
	// set by the CPU on any access, cleared by the clock hand
	PTEAccessed
	// set by the CPU on write
	PTEDirty
)

func Set(b, flag PTEFlag) PTEFlag    { return b | flag }
func Clear(b, flag PTEFlag) PTEFlag  { return b &^ flag }
func Toggle(b, flag PTEFlag) PTEFlag { return b ^ flag }
func Has(b, flag PTEFlag) bool       { return b&flag != 0 }
