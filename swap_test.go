package vmm

import (
	"bytes"
	"math/rand"
	"testing"

	log "github.com/sirupsen/logrus"
	assertion "github.com/stretchr/testify/assert"
)

func newTestSwap(slots int, alg CompressAlgorithm) *SwapSpace {
	disk := NewMemDisk(uint32(slots * SectorsPerPage))
	return NewSwapSpace(disk, alg, log.NewEntry(log.StandardLogger()))
}

func testPages() (text, random []byte) {
	text = bytes.Repeat([]byte("anonymous "), PageSize/10+1)[:PageSize]
	random = make([]byte, PageSize)
	rand.New(rand.NewSource(1)).Read(random)
	return text, random
}

func TestSwapAllocate(t *testing.T) {
	assert := assertion.New(t)
	s := newTestSwap(2, CompNone)
	assert.Equal(2, s.Slots())

	a, ok := s.Allocate()
	assert.True(ok)
	assert.Equal(0, a)
	b, ok := s.Allocate()
	assert.True(ok)
	assert.Equal(1, b)
	_, ok = s.Allocate()
	assert.False(ok)
	assert.Equal(2, s.InUse())

	s.Free(a)
	s.Free(a)
	s.Free(SlotNone)
	assert.Equal(1, s.InUse())
	a, ok = s.Allocate()
	assert.True(ok)
	assert.Equal(0, a)
}

func TestSwapReadWrite(t *testing.T) {
	text, random := testPages()
	for _, alg := range []CompressAlgorithm{CompNone, CompSnappy, CompLz4} {
		t.Run(alg.String(), func(t *testing.T) {
			assert := assertion.New(t)
			s := newTestSwap(4, alg)
			for _, page := range [][]byte{text, random} {
				slot, ok := s.Allocate()
				assert.True(ok)
				assert.NoError(s.Write(slot, page))

				got := make([]byte, PageSize)
				assert.NoError(s.Peek(slot, got))
				assert.Equal(page, got)
				assert.Equal(1, s.InUse())

				clear(got)
				assert.NoError(s.Read(slot, got))
				assert.Equal(page, got)
				assert.Equal(0, s.InUse())
				assert.Error(s.Read(slot, got))
			}
		})
	}
}

func TestSwapCompressedSlot(t *testing.T) {
	assert := assertion.New(t)
	text, random := testPages()
	s := newTestSwap(2, CompSnappy)

	a, _ := s.Allocate()
	assert.NoError(s.Write(a, text))
	assert.Equal(CompSnappy, s.info[a].alg)
	assert.LessOrEqual(s.info[a].n, PageSize-SectorSize)

	// no sector saved, stored raw
	b, _ := s.Allocate()
	assert.NoError(s.Write(b, random))
	assert.Equal(CompNone, s.info[b].alg)
	assert.Equal(PageSize, s.info[b].n)

	assert.Error(s.Write(2, text))
	assert.Error(s.Write(a, text[:10]))
	assert.Error(s.Peek(a, make([]byte, 10)))
}
