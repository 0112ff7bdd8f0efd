package vmm

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
	assertion "github.com/stretchr/testify/assert"
)

func TestSwapRoundTrip(t *testing.T) {
	for name, opts := range map[string]*Options{
		"clock": {Frames: 2, SwapSectors: 16 * SectorsPerPage},
		"fifo":  {Frames: 2, SwapSectors: 16 * SectorsPerPage, Evictor: NewFIFOEvictor()},
		"lz4":   {Frames: 2, SwapSectors: 16 * SectorsPerPage, SwapCompression: CompLz4},
	} {
		t.Run(name, func(t *testing.T) {
			assert := assertion.New(t)
			vm := newTestVM(t, opts)
			as := vm.NewAddressSpace()
			defer as.Exit()

			const n = 6
			for i := 0; i < n; i++ {
				va := testHeap + VAddr(i)*PageSize
				assert.NoError(as.AllocPage(TypeAnon, va, true))
				assert.NoError(as.Write(va+100, []byte{byte(i), 0xaa}))
			}
			st := vm.Stats()
			assert.Equal(2, st.ResidentFrames)
			assert.Equal(n-2, st.SwapSlotsUsed)
			assert.Equal(uint64(n-2), st.SwapOuts)
			assert.Equal(uint64(n-2), st.Evictions)

			for i := 0; i < n; i++ {
				va := testHeap + VAddr(i)*PageSize
				got, err := as.Read(va+99, 4)
				assert.NoError(err)
				assert.Equal([]byte{0, byte(i), 0xaa, 0}, got)
			}
			st = vm.Stats()
			assert.NotZero(st.SwapIns)
			assert.Equal(n-2, st.SwapSlotsUsed)

			// a resident anonymous page holds no slot and a swapped one no frame
			for _, p := range as.SPT().Pages() {
				assert.NotEqual(p.Resident(), p.SwapSlot() != SlotNone, p.VA().String())
			}
		})
	}
}

func TestFileEvictionWritesBack(t *testing.T) {
	assert := assertion.New(t)
	vm := newTestVM(t, &Options{Frames: 1, SwapSectors: 4 * SectorsPerPage})
	as := vm.NewAddressSpace()
	defer as.Exit()

	in := NewInode("data", bytes.Repeat([]byte{'.'}, 2*PageSize))
	f := in.Open()
	defer f.Close()
	addr, err := as.Mmap(testHeap, 2*PageSize, true, f, 0)
	assert.NoError(err)

	assert.NoError(as.Write(addr, []byte("dirty")))
	_, err = as.Read(addr+PageSize, 1)
	assert.NoError(err)
	assert.Equal([]byte("dirty"), in.Bytes()[:5])
	assert.Equal(uint64(1), vm.Stats().Writebacks)

	// clean pages are dropped without a write
	got, err := as.Read(addr, 5)
	assert.NoError(err)
	assert.Equal([]byte("dirty"), got)
	st := vm.Stats()
	assert.Equal(uint64(1), st.Writebacks)
	assert.Equal(uint64(2), st.Evictions)
	assert.Equal(0, st.SwapSlotsUsed)
}

func TestOutOfMemory(t *testing.T) {
	assert := assertion.New(t)
	vm := newTestVM(t, &Options{Frames: 1, SwapSectors: SectorsPerPage})
	as := vm.NewAddressSpace()
	defer as.Exit()
	for i := 0; i < 3; i++ {
		assert.NoError(as.AllocPage(TypeAnon, testHeap+VAddr(i)*PageSize, true))
	}
	assert.NoError(as.Write(testHeap, []byte{1}))
	assert.NoError(as.Write(testHeap+PageSize, []byte{2}))

	// swap is full and the only frame cannot be freed
	err := as.Write(testHeap+2*PageSize, []byte{3})
	assert.True(errors.Is(err, ErrOutOfMemory))
	assert.False(IsFatal(err))
	assert.False(as.SPT().Find(testHeap + 2*PageSize).Resident())

	got, err := as.Read(testHeap+PageSize, 1)
	assert.NoError(err)
	assert.Equal([]byte{2}, got)
}

func TestEvictionSkipsStuckVictims(t *testing.T) {
	assert := assertion.New(t)
	vm := newTestVM(t, &Options{Frames: 3, SwapSectors: SectorsPerPage})
	as := vm.NewAddressSpace()
	defer as.Exit()

	f := NewInode("data", bytes.Repeat([]byte{'f'}, PageSize)).Open()
	defer f.Close()
	mapped, err := as.Mmap(testMmap, PageSize, false, f, 0)
	assert.NoError(err)
	for i := 0; i < 4; i++ {
		assert.NoError(as.AllocPage(TypeAnon, testHeap+VAddr(i)*PageSize, true))
	}

	assert.NoError(as.Write(testHeap, []byte{1}))
	_, err = as.Read(mapped, 1)
	assert.NoError(err)
	assert.NoError(as.Write(testHeap+PageSize, []byte{2}))
	// the first anonymous page takes the only swap slot
	assert.NoError(as.Write(testHeap+2*PageSize, []byte{3}))
	assert.Equal(1, vm.Stats().SwapSlotsUsed)
	_, err = as.Read(mapped, 1)
	assert.NoError(err)

	// anonymous victims cannot leave, the clean mapped page can
	assert.NoError(as.Write(testHeap+3*PageSize, []byte{4}))
	assert.False(as.SPT().Find(mapped).Resident())
	st := vm.Stats()
	assert.Equal(3, st.ResidentFrames)
	assert.Equal(1, st.SwapSlotsUsed)

	// now nothing can be freed
	_, err = as.Read(mapped, 1)
	assert.True(errors.Is(err, ErrOutOfMemory))
	for id := FrameID(0); id < 3; id++ {
		assert.False(vm.Frames().Frame(id).Pinned())
	}
	for i := 0; i < 4; i++ {
		got, err := as.Read(testHeap+VAddr(i)*PageSize, 1)
		if i == 0 {
			// swapped out, no frame to bring it back
			assert.True(errors.Is(err, ErrOutOfMemory))
			continue
		}
		assert.NoError(err)
		assert.Equal([]byte{byte(i + 1)}, got)
	}
}

func TestPanicOnExhaustion(t *testing.T) {
	assert := assertion.New(t)
	vm := newTestVM(t, &Options{Frames: 1, SwapSectors: SectorsPerPage, PanicOnExhaustion: true})
	as := vm.NewAddressSpace()
	defer as.Exit()
	for i := 0; i < 3; i++ {
		assert.NoError(as.AllocPage(TypeAnon, testHeap+VAddr(i)*PageSize, true))
	}
	assert.NoError(as.Write(testHeap, []byte{1}))
	assert.NoError(as.Write(testHeap+PageSize, []byte{2}))
	assert.Panics(func() {
		_ = as.Write(testHeap+2*PageSize, []byte{3})
	})
}
