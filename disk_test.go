package vmm

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	assertion "github.com/stretchr/testify/assert"
)

func testBlockDevice(t *testing.T, d BlockDevice) {
	assert := assertion.New(t)
	sec := bytes.Repeat([]byte{0xab}, SectorSize)
	assert.NoError(d.WriteSector(3, sec))
	buf := make([]byte, SectorSize)
	assert.NoError(d.ReadSector(3, buf))
	assert.Equal(sec, buf)
	assert.NoError(d.ReadSector(2, buf))
	assert.Equal(make([]byte, SectorSize), buf)

	assert.Error(d.ReadSector(d.Sectors(), buf))
	assert.Error(d.WriteSector(0, sec[:10]))
}

func TestMemDisk(t *testing.T) {
	testBlockDevice(t, NewMemDisk(8))
}

func TestFileDisk(t *testing.T) {
	assert := assertion.New(t)
	path := filepath.Join(t.TempDir(), "swap.img")
	d, err := OpenFileDisk(path, 8, 0)
	assert.NoError(err)
	assert.Equal(uint32(8), d.Sectors())
	testBlockDevice(t, d)

	// locked while open
	d2, err := OpenFileDisk(path, 8, 0)
	assert.Nil(d2)
	assert.True(errors.Is(err, ErrDiskLocked))
	d2, err = OpenFileDisk(path, 8, 100*time.Millisecond)
	assert.Nil(d2)
	assert.True(errors.Is(err, ErrDiskLocked))
	assert.NoError(d.Close())

	d, err = OpenFileDisk(path, 8, 0)
	assert.NoError(err)
	buf := make([]byte, SectorSize)
	assert.NoError(d.ReadSector(3, buf))
	assert.Equal(byte(0xab), buf[0])
	assert.NoError(d.Close())
	assert.NoError(d.Close())
}
