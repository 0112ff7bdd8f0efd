package vmm

import (
	"testing"

	assertion "github.com/stretchr/testify/assert"
)

func TestPagePool(t *testing.T) {
	assert := assertion.New(t)
	_, err := NewPagePool(0)
	assert.Error(err)

	pool, err := NewPagePool(2)
	assert.NoError(err)
	defer pool.Close()
	assert.Equal(2, pool.Size())
	assert.Equal(2, pool.Free())

	idx, kva, ok := pool.Get()
	assert.True(ok)
	assert.Equal(0, idx)
	assert.Len(kva, PageSize)
	kva[0] = 0xff

	idx2, _, ok := pool.Get()
	assert.True(ok)
	assert.Equal(1, idx2)
	_, _, ok = pool.Get()
	assert.False(ok)
	assert.Equal(0, pool.Free())

	// pages come back zeroed
	pool.Put(idx)
	idx, kva, ok = pool.Get()
	assert.True(ok)
	assert.Equal(0, idx)
	assert.Equal(byte(0), kva[0])
}
