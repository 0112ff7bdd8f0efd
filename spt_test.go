package vmm

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	assertion "github.com/stretchr/testify/assert"
)

func TestSupplementalPageTable(t *testing.T) {
	assert := assertion.New(t)
	vm := newTestVM(t, nil)
	as := vm.NewAddressSpace()
	defer as.Exit()
	spt := as.SPT()

	for _, va := range []VAddr{0x403000, 0x401000, 0x402000} {
		assert.NoError(as.AllocPage(TypeAnon, va, true))
	}
	assert.Equal(3, spt.Len())
	p := spt.Find(0x401fff)
	assert.NotNil(p)
	assert.Equal(VAddr(0x401000), p.VA())
	assert.Nil(spt.Find(0x404000))
	assert.False(spt.Insert(&Page{va: 0x402000, frame: NoFrame, space: as, ops: &anonPage{slot: SlotNone}}))

	var vas []VAddr
	for _, p := range spt.Pages() {
		vas = append(vas, p.VA())
	}
	if diff := cmp.Diff([]VAddr{0x401000, 0x402000, 0x403000}, vas); diff != "" {
		t.Errorf("pages out of order (-want +got):\n%s", diff)
	}

	vas = nil
	spt.Range(0x402000, 0x404000, func(p *Page) bool {
		vas = append(vas, p.VA())
		return true
	})
	assert.Equal([]VAddr{0x402000, 0x403000}, vas)
	assert.True(spt.overlaps(0x400000, 0x402000))
	assert.False(spt.overlaps(0x404000, 0x410000))

	spt.Remove(spt.Find(0x402000))
	spt.Remove(nil)
	assert.Equal(2, spt.Len())
	assert.Nil(spt.Find(0x402000))

	spt.DestroyAll()
	assert.Equal(0, spt.Len())
}
