package vmm

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// BlockDevice is a disk addressed in SectorSize units.
type BlockDevice interface {
	ReadSector(sec uint32, buf []byte) error
	WriteSector(sec uint32, buf []byte) error
	Sectors() uint32
}

func checkSector(d BlockDevice, sec uint32, buf []byte) error {
	if sec >= d.Sectors() {
		return errors.Errorf("sector %d out of range (%d sectors)", sec, d.Sectors())
	}
	if len(buf) != SectorSize {
		return errors.Errorf("sector buffer is %d bytes, want %d", len(buf), SectorSize)
	}
	return nil
}

// MemDisk keeps its sectors in memory.
type MemDisk struct {
	mu      sync.Mutex
	data    []byte
	sectors uint32
}

func NewMemDisk(sectors uint32) *MemDisk {
	return &MemDisk{data: make([]byte, int(sectors)*SectorSize), sectors: sectors}
}

func (d *MemDisk) Sectors() uint32 { return d.sectors }

func (d *MemDisk) ReadSector(sec uint32, buf []byte) error {
	if err := checkSector(d, sec, buf); err != nil {
		return err
	}
	d.mu.Lock()
	copy(buf, d.data[int(sec)*SectorSize:])
	d.mu.Unlock()
	return nil
}

func (d *MemDisk) WriteSector(sec uint32, buf []byte) error {
	if err := checkSector(d, sec, buf); err != nil {
		return err
	}
	d.mu.Lock()
	copy(d.data[int(sec)*SectorSize:], buf)
	d.mu.Unlock()
	return nil
}

// FileDisk is a swap device kept in a host image file. The image is locked
// exclusively while the disk is open.
type FileDisk struct {
	file    *os.File
	sectors uint32
}

// OpenFileDisk opens or creates the image at path and sizes it to sectors.
// With a non-zero timeout it waits that long for another holder to release
// the image lock; otherwise it fails with ErrDiskLocked right away.
func OpenFileDisk(path string, sectors uint32, timeout time.Duration) (*FileDisk, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, errors.Wrap(err, "open swap image")
	}
	if timeout > 0 {
		err = waitflock(f, timeout)
	} else {
		err = flock(f)
	}
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := f.Truncate(int64(sectors) * SectorSize); err != nil {
		_ = funlock(f)
		_ = f.Close()
		return nil, errors.Wrap(err, "size swap image")
	}
	return &FileDisk{file: f, sectors: sectors}, nil
}

func (d *FileDisk) Sectors() uint32 { return d.sectors }

func (d *FileDisk) ReadSector(sec uint32, buf []byte) error {
	if err := checkSector(d, sec, buf); err != nil {
		return err
	}
	n, err := unix.Pread(int(d.file.Fd()), buf, int64(sec)*SectorSize)
	if err != nil {
		return errors.Wrapf(err, "read sector %d", sec)
	}
	if n != SectorSize {
		return errors.Wrapf(io.ErrUnexpectedEOF, "read sector %d", sec)
	}
	return nil
}

func (d *FileDisk) WriteSector(sec uint32, buf []byte) error {
	if err := checkSector(d, sec, buf); err != nil {
		return err
	}
	n, err := unix.Pwrite(int(d.file.Fd()), buf, int64(sec)*SectorSize)
	if err != nil {
		return errors.Wrapf(err, "write sector %d", sec)
	}
	if n != SectorSize {
		return errors.Wrapf(io.ErrShortWrite, "write sector %d", sec)
	}
	return nil
}

func (d *FileDisk) Close() error {
	if d.file == nil {
		return nil
	}
	if err := funlock(d.file); err != nil {
		log.WithError(err).Warn("swap image funlock error")
	}
	err := d.file.Close()
	d.file = nil
	return errors.Wrap(err, "swap image closed")
}
