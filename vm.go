package vmm

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Options represents the options that can be set when opening a VM.
type Options struct {
	// Frames is the number of physical frames available to user pages.
	Frames int

	// SwapDevice backs the swap space. When nil an in-memory disk of
	// SwapSectors sectors is created.
	SwapDevice  BlockDevice
	SwapSectors uint32

	// SwapCompression encodes swapped pages. Pages that do not shrink by at
	// least one sector are stored as is.
	SwapCompression CompressAlgorithm

	// MaxStackSize bounds how far below UserStack the stack may grow.
	MaxStackSize int

	// StackGrowthWindow is how far below the stack pointer a fault still
	// counts as a stack access.
	StackGrowthWindow int

	// Evictor chooses eviction victims. Defaults to a ClockEvictor.
	Evictor Evictor

	// PanicOnExhaustion treats the failure to free any frame as a fatal
	// kernel condition. When false only the operation that needed the frame
	// fails, with ErrOutOfMemory.
	PanicOnExhaustion bool

	// Logger defaults to the logrus standard logger.
	Logger *log.Logger
}

var DefaultOptions = &Options{
	Frames:            256,
	SwapSectors:       8 * 1024,
	SwapCompression:   CompNone,
	MaxStackSize:      DefaultMaxStackSize,
	StackGrowthWindow: PageSize,
}

// Stats is a snapshot of VM wide paging activity.
type Stats struct {
	Evictions  uint64
	SwapIns    uint64
	SwapOuts   uint64
	Writebacks uint64

	ResidentFrames int
	FreeFrames     int
	SwapSlotsUsed  int
}

type counters struct {
	evictions  atomic.Uint64
	swapIns    atomic.Uint64
	swapOuts   atomic.Uint64
	writebacks atomic.Uint64
}

// VM owns the state shared by every address space: the page pool, the
// frame table, the swap space and the filesystem lock.
type VM struct {
	opts   Options
	pool   *PagePool
	frames *FrameTable
	swap   *SwapSpace

	// the filesystem is not reentrant
	fsMu sync.Mutex

	nextID atomic.Int64
	stats  counters
	log    *log.Entry

	closeOnce sync.Once
}

// Open builds a VM. A nil options uses DefaultOptions.
func Open(options *Options) (*VM, error) {
	if options == nil {
		options = DefaultOptions
	}
	opts := *options
	if opts.Frames <= 0 {
		return nil, errors.Errorf("need at least one frame, got %d", opts.Frames)
	}
	if opts.MaxStackSize <= 0 {
		opts.MaxStackSize = DefaultMaxStackSize
	}
	if opts.StackGrowthWindow <= 0 {
		opts.StackGrowthWindow = PageSize
	}
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	if opts.Evictor == nil {
		opts.Evictor = NewClockEvictor()
	}
	if opts.SwapDevice == nil {
		if opts.SwapSectors == 0 {
			opts.SwapSectors = DefaultOptions.SwapSectors
		}
		opts.SwapDevice = NewMemDisk(opts.SwapSectors)
	}

	vm := &VM{opts: opts, log: log.NewEntry(opts.Logger).WithField("module", "vmm")}
	pool, err := NewPagePool(opts.Frames)
	if err != nil {
		return nil, err
	}
	vm.pool = pool
	vm.frames = newFrameTable(vm, pool, opts.Evictor)
	vm.swap = NewSwapSpace(opts.SwapDevice, opts.SwapCompression, vm.log)

	vm.log.WithFields(log.Fields{
		"frames":     opts.Frames,
		"swap_slots": vm.swap.Slots(),
		"codec":      opts.SwapCompression,
	}).Info("vm ready")
	return vm, nil
}

// Close releases the page pool. Address spaces must have exited.
func (vm *VM) Close() error {
	var err error
	vm.closeOnce.Do(func() {
		if n := vm.frames.Resident(); n > 0 {
			vm.log.WithField("resident", n).Warn("closing vm with resident pages")
		}
		err = vm.pool.Close()
	})
	return err
}

func (vm *VM) Frames() *FrameTable { return vm.frames }
func (vm *VM) Swap() *SwapSpace    { return vm.swap }

func (vm *VM) Stats() Stats {
	return Stats{
		Evictions:      vm.stats.evictions.Load(),
		SwapIns:        vm.stats.swapIns.Load(),
		SwapOuts:       vm.stats.swapOuts.Load(),
		Writebacks:     vm.stats.writebacks.Load(),
		ResidentFrames: vm.frames.Resident(),
		FreeFrames:     vm.pool.Free(),
		SwapSlotsUsed:  vm.swap.InUse(),
	}
}

// readAt reads len(b) bytes at off, treating EOF after a full read as success.
func (vm *VM) readAt(f File, b []byte, off int64) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	vm.fsMu.Lock()
	defer vm.fsMu.Unlock()
	n, err := f.ReadAt(b, off)
	if n == len(b) {
		err = nil
	}
	return n, err
}

func (vm *VM) writeAt(f File, b []byte, off int64) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	vm.fsMu.Lock()
	defer vm.fsMu.Unlock()
	return f.WriteAt(b, off)
}

func (vm *VM) reopen(f File) (File, error) {
	vm.fsMu.Lock()
	defer vm.fsMu.Unlock()
	nf, err := f.Reopen()
	if err != nil {
		return nil, errors.Wrap(err, "reopen")
	}
	return nf, nil
}

func (vm *VM) length(f File) int64 {
	vm.fsMu.Lock()
	defer vm.fsMu.Unlock()
	return f.Length()
}
