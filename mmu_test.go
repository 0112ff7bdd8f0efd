package vmm

import (
	"testing"

	assertion "github.com/stretchr/testify/assert"
)

func TestPageTable(t *testing.T) {
	assert := assertion.New(t)
	pt := NewPageTable()
	va := VAddr(0x400000)

	assert.False(pt.SetPage(va+1, 0, true))
	assert.False(pt.SetPage(KernBase, 0, true))
	assert.False(pt.SetPage(va, NoFrame, true))

	assert.True(pt.SetPage(va, 3, false))
	// already present
	assert.False(pt.SetPage(va, 4, false))
	id, ok := pt.GetPage(va + 10)
	assert.True(ok)
	assert.Equal(FrameID(3), id)
	assert.Equal(1, pt.Len())

	id, fault := pt.translate(va+8, false)
	assert.Equal(faultNone, fault)
	assert.Equal(FrameID(3), id)
	assert.True(pt.IsAccessed(va))
	assert.False(pt.IsDirty(va))

	_, fault = pt.translate(va, true)
	assert.Equal(faultProtection, fault)
	assert.False(pt.IsDirty(va))

	_, fault = pt.translate(va+PageSize, false)
	assert.Equal(faultNotPresent, fault)
}

func TestPageTableClearKeepsDirty(t *testing.T) {
	assert := assertion.New(t)
	pt := NewPageTable()
	va := VAddr(0x400000)
	assert.True(pt.SetPage(va, 1, true))
	_, fault := pt.translate(va, true)
	assert.Equal(faultNone, fault)
	assert.True(pt.IsDirty(va))

	pt.ClearPage(va)
	_, ok := pt.GetPage(va)
	assert.False(ok)
	assert.True(pt.IsDirty(va))
	assert.Equal(0, pt.Len())
	_, fault = pt.translate(va, false)
	assert.Equal(faultNotPresent, fault)

	// a new mapping starts clean
	assert.True(pt.SetPage(va, 2, true))
	assert.False(pt.IsDirty(va))
	assert.False(pt.IsAccessed(va))

	pt.SetDirty(va, true)
	assert.True(pt.IsDirty(va))
	pt.Destroy()
	assert.False(pt.IsDirty(va))
	assert.Equal(0, pt.Len())
}
