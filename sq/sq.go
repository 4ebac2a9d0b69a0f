// Package sq implements the Totem sort-queue: a fixed-capacity,
// head-anchored ring of slots addressed by absolute sequence number.
// It backs both the transmit history (for retransmit service) and the
// receive window (for in-order delivery) in internal/totemsrp.
//
// Slots are pre-allocated at Init and never grow on the hot path;
// item_add/item_get/items_release are the only operations Totem SRP
// calls per received or delivered message.
package sq

import (
	"fmt"

	"github.com/corosync/corosync-sub008/corerr"
	"github.com/corosync/corosync-sub008/seqno"
)

// slot tags in_use with 0 meaning empty and otherwise the stored seq,
// with seq 0 stored as 1, matching the C source's convention of never
// confusing a stored zero sequence number with an empty slot.
type slot struct {
	inUse     uint64
	missCount uint32
	item      []byte
}

func (s *slot) empty() bool { return s.inUse == 0 }

func tag(seq seqno.SeqNo) uint64 {
	if seq == 0 {
		return 1
	}
	return uint64(seq)
}

// Queue is a rollover-safe indexed sequence buffer. head is the physical
// slot holding headSeq; the two advance in lockstep on release so that a
// surviving item never changes physical slot across a release, matching
// the C source's sq_item_get position formula.
type Queue struct {
	slots      []slot
	size       uint32
	head       uint32
	headSeq    seqno.SeqNo
	posMax     uint32
	perItemCap int
}

// Init allocates size slots of perItemCap bytes each, all empty, with the
// head positioned at headSeq. Returns corerr.ErrNoMemory if size is zero.
func Init(size uint32, perItemCap int, headSeq seqno.SeqNo) (*Queue, error) {
	if size == 0 {
		return nil, corerr.New(corerr.CodeNoMemory, "sq: zero capacity").WithCause(corerr.ErrNoMemory)
	}
	q := &Queue{
		slots:      make([]slot, size),
		size:       size,
		head:       0,
		headSeq:    headSeq,
		perItemCap: perItemCap,
	}
	return q, nil
}

// Reinit clears every slot and repositions the head at headSeq.
func (q *Queue) Reinit(headSeq seqno.SeqNo) {
	for i := range q.slots {
		q.slots[i] = slot{}
	}
	q.head = 0
	q.headSeq = headSeq
	q.posMax = 0
}

// index computes the physical slot for seq as head - headSeq + seq,
// carried out in unsigned modular arithmetic so a still-live item keeps
// its physical slot across any number of ItemsRelease calls.
func (q *Queue) index(seq seqno.SeqNo) uint32 {
	return (q.head + seqno.Diff(q.headSeq, seq)) % q.size
}

// InRange reports whether seq lies within the current window
// [headSeq, headSeq+size) under rollover-aware comparison.
func (q *Queue) InRange(seq seqno.SeqNo) bool {
	return seqno.InRange(seq, q.headSeq, q.size)
}

// ItemAdd stores item at seq. seq must be InRange and the slot must be
// empty; both are programming-error preconditions, asserted via panic,
// matching the C source's assert() discipline for this hot path.
func (q *Queue) ItemAdd(item []byte, seq seqno.SeqNo) []byte {
	if !q.InRange(seq) {
		panic(fmt.Sprintf("sq: item_add seq %d out of range of head %d size %d", seq, q.headSeq, q.size))
	}
	idx := q.index(seq)
	s := &q.slots[idx]
	if !s.empty() {
		panic(fmt.Sprintf("sq: item_add seq %d slot already in use", seq))
	}
	buf := make([]byte, len(item))
	copy(buf, item)
	s.inUse = tag(seq)
	s.missCount = 0
	s.item = buf
	if pos := seqno.Diff(q.headSeq, seq); pos > q.posMax {
		q.posMax = pos
	}
	return s.item
}

// ItemInuse reports whether seq currently holds a stored item.
func (q *Queue) ItemInuse(seq seqno.SeqNo) bool {
	if !q.InRange(seq) {
		return false
	}
	return q.slots[q.index(seq)].inUse == tag(seq)
}

// ItemGet returns the stored item for seq, or corerr.ErrNotExist.
func (q *Queue) ItemGet(seq seqno.SeqNo) ([]byte, error) {
	if !q.ItemInuse(seq) {
		return nil, corerr.ErrNotExist
	}
	return q.slots[q.index(seq)].item, nil
}

// ItemMissCount increments and returns the miss count for seq's slot,
// used by the RTR protocol to cap how many times a gap is re-requested.
func (q *Queue) ItemMissCount(seq seqno.SeqNo) uint32 {
	idx := q.index(seq)
	q.slots[idx].missCount++
	return q.slots[idx].missCount
}

// ItemsRelease zeroes every slot in [head, upTo] and advances head to
// upTo+1. upTo itself must be InRange (or equal to the current head-1,
// a no-op release).
func (q *Queue) ItemsRelease(upTo seqno.SeqNo) {
	if seqno.Lt(upTo, q.headSeq) {
		return
	}
	n := seqno.Diff(q.headSeq, upTo) + 1
	base := q.head
	for i := uint32(0); i < n; i++ {
		q.slots[(base+i)%q.size] = slot{}
	}
	q.head = (q.head + n) % q.size
	q.headSeq = upTo + 1
	if n <= q.posMax {
		q.posMax -= n
	} else {
		q.posMax = 0
	}
}

// SizeGet returns the queue's fixed capacity.
func (q *Queue) SizeGet() uint32 { return q.size }

// HeadSeq returns the current head sequence number.
func (q *Queue) HeadSeq() seqno.SeqNo { return q.headSeq }

// Copy copies every in-use slot from src into dst, preserving sequence
// numbers; used when rebuilding a queue across a ring-id change.
func Copy(dst, src *Queue) {
	for i := range src.slots {
		s := &src.slots[i]
		if s.empty() {
			continue
		}
		// recover seq from the slot's position: the tag alone cannot tell
		// seq 0 from seq 1, as both are stored as 1
		seq := src.headSeq + seqno.SeqNo((uint32(i)+src.size-src.head)%src.size)
		if dst.InRange(seq) {
			dst.ItemAdd(s.item, seq)
		}
	}
}

// AssertNoInuseAbove panics if any slot beyond posMax holds an item; used
// as a consistency check after a bulk release.
func (q *Queue) AssertNoInuseAbove(posMax uint32) {
	for i := range q.slots {
		if q.slots[i].empty() {
			continue
		}
		pos := uint32(i)
		if pos > posMax && pos <= q.posMax {
			panic(fmt.Sprintf("sq: slot at pos %d in use above posMax %d", pos, posMax))
		}
	}
}
