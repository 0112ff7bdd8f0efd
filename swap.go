package vmm

import (
	"sync"

	"github.com/bits-and-blooms/bitset"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// SlotNone marks an anonymous page that holds no swap slot.
const SlotNone = -1

var ErrSwapFull = errors.New("swap space exhausted")

type slotInfo struct {
	alg CompressAlgorithm
	n   int
}

// SwapSpace hands out page-sized slots on a swap device. Slot i covers
// sectors [i*SectorsPerPage, (i+1)*SectorsPerPage).
//
// The swap lock is never held while taking the frame table lock.
type SwapSpace struct {
	mu     sync.Mutex
	disk   BlockDevice
	used   *bitset.BitSet
	nslots uint
	info   []slotInfo

	alg        CompressAlgorithm
	compress   Compressor
	decompress DeCompressor

	log *log.Entry
}

func NewSwapSpace(disk BlockDevice, alg CompressAlgorithm, logger *log.Entry) *SwapSpace {
	n := uint(disk.Sectors() / SectorsPerPage)
	s := &SwapSpace{
		disk:   disk,
		used:   bitset.New(n),
		nslots: n,
		info:   make([]slotInfo, n),
		alg:    alg,
		log:    logger.WithField("component", "swap"),
	}
	s.compress, s.decompress = codecFor(alg)
	return s
}

// Slots returns the total number of slots.
func (s *SwapSpace) Slots() int { return int(s.nslots) }

// InUse returns the number of allocated slots.
func (s *SwapSpace) InUse() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int(s.used.Count())
}

// Allocate claims the first free slot.
func (s *SwapSpace) Allocate() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.used.NextClear(0)
	if !ok || i >= s.nslots {
		return SlotNone, false
	}
	s.used.Set(i)
	return int(i), true
}

// Free releases slot. Freeing a free slot is a no-op.
func (s *SwapSpace) Free(slot int) {
	if !s.valid(slot) {
		return
	}
	s.mu.Lock()
	s.used.Clear(uint(slot))
	s.info[slot] = slotInfo{}
	s.mu.Unlock()
}

// Write stores one page into slot.
func (s *SwapSpace) Write(slot int, src []byte) error {
	if err := s.check(slot, src); err != nil {
		return err
	}
	data, alg := src, CompNone
	if s.compress != nil {
		// only worth it when at least one sector is saved
		if enc := s.compress(src); enc != nil && len(enc) <= PageSize-SectorSize {
			data, alg = enc, s.alg
		}
	}

	base := uint32(slot) * SectorsPerPage
	buf := make([]byte, SectorSize)
	for i := 0; i*SectorSize < len(data); i++ {
		chunk := data[i*SectorSize:]
		if len(chunk) >= SectorSize {
			chunk = chunk[:SectorSize]
		} else {
			n := copy(buf, chunk)
			clear(buf[n:])
			chunk = buf
		}
		if err := s.disk.WriteSector(base+uint32(i), chunk); err != nil {
			return errors.Wrapf(err, "swap write slot %d", slot)
		}
	}

	s.mu.Lock()
	s.info[slot] = slotInfo{alg: alg, n: len(data)}
	s.mu.Unlock()
	s.log.WithFields(log.Fields{"slot": slot, "bytes": len(data), "codec": alg}).Debug("page written to swap")
	return nil
}

// Read loads slot into dst and frees the slot.
func (s *SwapSpace) Read(slot int, dst []byte) error {
	if err := s.Peek(slot, dst); err != nil {
		return err
	}
	s.Free(slot)
	return nil
}

// Peek loads slot into dst and keeps the slot allocated.
func (s *SwapSpace) Peek(slot int, dst []byte) error {
	if err := s.check(slot, dst); err != nil {
		return err
	}
	s.mu.Lock()
	inUse := s.used.Test(uint(slot))
	info := s.info[slot]
	s.mu.Unlock()
	if !inUse {
		return errors.Errorf("swap slot %d is not in use", slot)
	}

	base := uint32(slot) * SectorsPerPage
	if info.alg == CompNone {
		for i := 0; i < SectorsPerPage; i++ {
			if err := s.disk.ReadSector(base+uint32(i), dst[i*SectorSize:(i+1)*SectorSize]); err != nil {
				return errors.Wrapf(err, "swap read slot %d", slot)
			}
		}
		return nil
	}

	sectors := (info.n + SectorSize - 1) / SectorSize
	enc := make([]byte, sectors*SectorSize)
	for i := 0; i < sectors; i++ {
		if err := s.disk.ReadSector(base+uint32(i), enc[i*SectorSize:(i+1)*SectorSize]); err != nil {
			return errors.Wrapf(err, "swap read slot %d", slot)
		}
	}
	_, decompress := codecFor(info.alg)
	page, err := decompress(enc[:info.n])
	if err != nil {
		return errors.Wrapf(err, "swap decode slot %d", slot)
	}
	if len(page) != PageSize {
		return errors.Errorf("swap slot %d decoded to %d bytes", slot, len(page))
	}
	copy(dst, page)
	return nil
}

func (s *SwapSpace) valid(slot int) bool {
	return slot >= 0 && uint(slot) < s.nslots
}

func (s *SwapSpace) check(slot int, page []byte) error {
	if !s.valid(slot) {
		return errors.Errorf("swap slot %d out of range", slot)
	}
	if len(page) != PageSize {
		return errors.Errorf("swap buffer is %d bytes, want %d", len(page), PageSize)
	}
	return nil
}
