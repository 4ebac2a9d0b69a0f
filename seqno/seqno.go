// Package seqno implements the rollover-aware 32-bit sequence number
// comparator used throughout the Totem protocol: sort-queue indexing,
// ARU tracking, and RTR windows. Ordinary < and <= on the underlying
// uint32 are never safe once a ring has been running long enough for
// seq to approach 2^32, so this type is the only place that comparison
// logic lives.
package seqno

// SeqNo is a 32-bit Totem sequence number.
type SeqNo uint32

const rolloverThreshold = uint32(1) << 31
const rolloverShift = uint32(1) << 16

// normalize shifts both operands down by 2^16 when either exceeds 2^31,
// per the rollover-aware comparison rule in the spec.
func normalize(a, b uint32) (uint32, uint32) {
	if a > rolloverThreshold || b > rolloverThreshold {
		return a - rolloverShift, b - rolloverShift
	}
	return a, b
}

// Lt reports whether a precedes b, handling rollover. Irreflexive and
// transitive by construction (natural order after normalization).
func Lt(a, b SeqNo) bool {
	na, nb := normalize(uint32(a), uint32(b))
	return na < nb
}

// Le reports whether a precedes or equals b.
func Le(a, b SeqNo) bool {
	return a == b || Lt(a, b)
}

// InRange reports whether seq lies in [base, base+size) under
// rollover-aware comparison.
func InRange(seq, base SeqNo, size uint32) bool {
	return Le(base, seq) && Lt(seq, base+SeqNo(size))
}

// Diff returns b-a as a uint32, which is the distance from a to b
// going forward through rollover; used for window/slot-index math.
func Diff(a, b SeqNo) uint32 {
	return uint32(b) - uint32(a)
}
