package vmm

import (
	"testing"

	assertion "github.com/stretchr/testify/assert"
)

func TestVAddr(t *testing.T) {
	assert := assertion.New(t)
	va := VAddr(0x1234)
	assert.Equal(VAddr(0x1000), va.RoundDown())
	assert.Equal(VAddr(0x2000), va.RoundUp())
	assert.Equal(VAddr(0x2000), VAddr(0x2000).RoundUp())
	assert.Equal(0x234, va.Offset())
	assert.False(va.IsPageAligned())
	assert.True(VAddr(0x2000).IsPageAligned())
	assert.Equal("0x1234", va.String())

	assert.True((KernBase - 1).IsUser())
	assert.False(KernBase.IsUser())
	assert.True(KernBase.IsKernel())

	assert.Equal(0, PageCount(0))
	assert.Equal(1, PageCount(1))
	assert.Equal(1, PageCount(PageSize))
	assert.Equal(3, PageCount(10000))
}

func TestFlag(t *testing.T) {
	assert := assertion.New(t)
	var f PTEFlag
	f = Set(f, PTEPresent)
	f = Set(f, PTEDirty)
	assert.True(Has(f, PTEPresent))
	assert.True(Has(f, PTEDirty))
	assert.False(Has(f, PTEWritable))

	f = Clear(f, PTEDirty)
	assert.False(Has(f, PTEDirty))
	f = Toggle(f, PTEAccessed)
	assert.True(Has(f, PTEAccessed))
	f = Toggle(f, PTEAccessed)
	assert.Equal(PTEPresent, f)
}
