package totempg

import "github.com/corosync/corosync-sub008/internal/wire"

// fragmentStream accumulates one (originator, generation) message.
type fragmentStream struct {
	generation uint32
	buf        []byte
	received   uint32
	total      uint32
}

// reassembler holds one in-flight fragment stream per originator,
// scoped to a single ring. Every configuration change drops all
// in-flight streams: no fragment from a prior ring is ever delivered
// under a new one.
type reassembler struct {
	ringID   wire.RingID
	inFlight map[uint32]*fragmentStream
}

func newReassembler(ringID wire.RingID) *reassembler {
	return &reassembler{ringID: ringID, inFlight: make(map[uint32]*fragmentStream)}
}

func (r *reassembler) dropForRingChange(ringID wire.RingID) {
	r.ringID = ringID
	r.inFlight = make(map[uint32]*fragmentStream)
}

// feed appends one fragment from originator, returning the
// reassembled message and true once every byte of it has arrived. A
// fragment naming a new generation for an originator silently
// discards whatever was in flight for that originator before it —
// a stream that never completes is simply abandoned, matching the
// "detect and drop an incomplete stream" contract.
func (r *reassembler) feed(originator uint32, f pgFrame) ([]byte, bool) {
	st, ok := r.inFlight[originator]
	if !ok || st.generation != f.Generation {
		st = &fragmentStream{generation: f.Generation, total: f.Fragment.MsgLen, buf: make([]byte, f.Fragment.MsgLen)}
		r.inFlight[originator] = st
	}

	end := f.Fragment.CopyBaseOffset + f.Fragment.CopyLen
	if end > uint32(len(st.buf)) {
		delete(r.inFlight, originator)
		return nil, false
	}
	copy(st.buf[f.Fragment.CopyBaseOffset:end], f.Payload)
	st.received += f.Fragment.CopyLen
	if st.received >= st.total {
		delete(r.inFlight, originator)
		return st.buf, true
	}
	return nil, false
}
