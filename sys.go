package vmm

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

var ErrDiskLocked = errors.New("swap disk is locked by another process")

// flock acquires an exclusive advisory lock on a disk image.
func flock(f *os.File) error {
	err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err == nil {
		return nil
	} else if err == unix.EWOULDBLOCK || err == unix.EAGAIN { // linux & unix
		return ErrDiskLocked
	} else {
		return errors.Wrap(err, "flock failed: unknown error")
	}
}

// waitflock retries flock until timeout. A zero timeout waits forever.
func waitflock(f *os.File, timeout time.Duration) error {
	var t time.Time
	for {
		// If we're beyond our timeout then return an error.
		// This can only occur after we've attempted a flock once.
		if t.IsZero() {
			t = time.Now()
		} else if timeout > 0 && time.Since(t) > timeout {
			return errors.Wrap(ErrDiskLocked, "timeout")
		}
		err := flock(f)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrDiskLocked) {
			return err
		}
		// Wait for a bit and try again.
		time.Sleep(50 * time.Millisecond)
	}
}

// funlock releases an advisory lock on a disk image.
func funlock(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}

// mmapAnon maps sz bytes of private anonymous memory. The page pool carves
// its frames out of the returned region.
func mmapAnon(sz int) ([]byte, error) {
	b, err := unix.Mmap(-1, 0, sz, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, errors.Wrap(err, "mmap error")
	}

	// Frames are handed out in no particular order.
	if err := unix.Madvise(b, unix.MADV_RANDOM); err != nil {
		_ = unix.Munmap(b)
		return nil, errors.Wrap(err, "madvise error")
	}
	return b, nil
}

// munmap unmaps a region returned by mmapAnon.
func munmap(b []byte) error {
	// Ignore the unmap if we have no mapped data.
	if b == nil {
		return nil
	}
	return unix.Munmap(b)
}
