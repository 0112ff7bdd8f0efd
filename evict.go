package vmm

// Evictor picks which resident frame gives up its page when the page pool
// is exhausted. Both methods are called with the frame table lock held.
type Evictor interface {
	// Admit records that f just received a page, or that its page could not
	// be evicted and stays resident.
	Admit(f *Frame, frames []*Frame)
	// Victim returns an evictable frame from the arena, or nil.
	Victim(frames []*Frame) *Frame
}

// ClockEvictor is second chance over the frame arena: a frame whose page
// was accessed since the hand last passed gets its bit cleared and is
// skipped once.
type ClockEvictor struct {
	hand int
}

func NewClockEvictor() *ClockEvictor { return &ClockEvictor{} }

func (c *ClockEvictor) Admit(*Frame, []*Frame) {}

func (c *ClockEvictor) Victim(frames []*Frame) *Frame {
	n := len(frames)
	if n == 0 {
		return nil
	}
	// two sweeps clear every accessed bit, so a third finds a victim if any
	for i := 0; i < 3*n; i++ {
		f := frames[c.hand%n]
		c.hand = (c.hand + 1) % n
		if !f.evictable() {
			continue
		}
		if f.referenced() {
			f.clearReferenced()
			continue
		}
		return f
	}
	return nil
}

type fifoEntry struct {
	id  FrameID
	seq uint64
}

// FIFOEvictor evicts pages in the order they became resident.
type FIFOEvictor struct {
	queue []fifoEntry
}

func NewFIFOEvictor() *FIFOEvictor { return &FIFOEvictor{} }

func (q *FIFOEvictor) Admit(f *Frame, frames []*Frame) {
	q.queue = append(q.queue, fifoEntry{f.ID, f.seq})
	if len(q.queue) > 2*len(frames) {
		q.compact(frames)
	}
}

// compact drops entries whose frame was freed or reused. At most one entry
// per frame is live, so the queue stays within twice the arena.
func (q *FIFOEvictor) compact(frames []*Frame) {
	live := q.queue[:0]
	for _, e := range q.queue {
		if q.live(e, frames) {
			live = append(live, e)
		}
	}
	clear(q.queue[len(live):])
	q.queue = live
}

func (q *FIFOEvictor) live(e fifoEntry, frames []*Frame) bool {
	if int(e.id) >= len(frames) {
		return false
	}
	f := frames[e.id]
	return f != nil && f.page != nil && f.seq == e.seq
}

func (q *FIFOEvictor) Victim(frames []*Frame) *Frame {
	var skipped []fifoEntry
	defer func() { q.queue = append(q.queue, skipped...) }()
	for len(q.queue) > 0 {
		e := q.queue[0]
		q.queue = q.queue[1:]
		// stale entry: frame freed or reused since admission
		if !q.live(e, frames) {
			continue
		}
		f := frames[e.id]
		if f.pinned {
			skipped = append(skipped, e)
			continue
		}
		return f
	}
	return nil
}
