package wire

import (
	"encoding/binary"

	"github.com/cloudwego/gopkg/bufiox"
	"github.com/corosync/corosync-sub008/corerr"
	"github.com/corosync/corosync-sub008/seqno"
)

// RingID identifies a totem ring: the node that formed it, and a
// per-node sequence persisted across restarts so a post-crash rejoin
// never reuses an old ring's identity.
type RingID struct {
	RepNodeID uint32
	Seq       uint64
}

// Guarantee selects how far a message's delivery is escalated past
// best-effort before the upcall fires.
type Guarantee uint8

const (
	GuaranteeAgreed Guarantee = iota
	GuaranteeSafe
)

// FragmentHeader describes one slice of a PG-layer reassembly stream.
type FragmentHeader struct {
	MsgLen         uint32
	FragmentSize   uint32
	CopyLen        uint32
	CopyBaseOffset uint32
}

const fragmentHeaderSize = 16

// McastPayload is the body of a TypeMcast frame.
type McastPayload struct {
	RingID    RingID
	Seq       seqno.SeqNo
	Guarantee Guarantee
	Fragment  FragmentHeader
	UserBytes []byte
}

const mcastFixedSize = 4 + 8 + 4 + 1 + fragmentHeaderSize + 4 // ring_id + seq + guarantee + fragment + user_len

// EncodeMcast writes a multicast payload to out using bo for
// multi-byte fields (the sending host's native order; see Header).
func EncodeMcast(out bufiox.Writer, bo binary.ByteOrder, p McastPayload) error {
	buf, err := out.Malloc(mcastFixedSize)
	if err != nil {
		return corerr.New(corerr.CodeLibrary, "wire: malloc mcast header").WithCause(err)
	}
	bo.PutUint32(buf[0:4], p.RingID.RepNodeID)
	bo.PutUint64(buf[4:12], p.RingID.Seq)
	bo.PutUint32(buf[12:16], uint32(p.Seq))
	buf[16] = byte(p.Guarantee)
	bo.PutUint32(buf[17:21], p.Fragment.MsgLen)
	bo.PutUint32(buf[21:25], p.Fragment.FragmentSize)
	bo.PutUint32(buf[25:29], p.Fragment.CopyLen)
	bo.PutUint32(buf[29:33], p.Fragment.CopyBaseOffset)
	bo.PutUint32(buf[33:37], uint32(len(p.UserBytes)))
	if _, err := out.WriteBinary(p.UserBytes); err != nil {
		return corerr.New(corerr.CodeLibrary, "wire: write mcast user bytes").WithCause(err)
	}
	return nil
}

// DecodeMcast reads a multicast payload from in, swapping multi-byte
// fields when swap (from DecodeHeader) indicates the sender's order
// differs from this host's.
func DecodeMcast(in bufiox.Reader, swap bool) (McastPayload, error) {
	buf, err := in.Next(mcastFixedSize)
	if err != nil {
		return McastPayload{}, corerr.New(corerr.CodeLibrary, "wire: short mcast header").WithCause(err)
	}
	bo := byteOrder(swap)
	p := McastPayload{
		RingID: RingID{
			RepNodeID: bo.Uint32(buf[0:4]),
			Seq:       bo.Uint64(buf[4:12]),
		},
		Seq:       seqno.SeqNo(bo.Uint32(buf[12:16])),
		Guarantee: Guarantee(buf[16]),
		Fragment: FragmentHeader{
			MsgLen:         bo.Uint32(buf[17:21]),
			FragmentSize:   bo.Uint32(buf[21:25]),
			CopyLen:        bo.Uint32(buf[25:29]),
			CopyBaseOffset: bo.Uint32(buf[29:33]),
		},
	}
	userLen := bo.Uint32(buf[33:37])
	user, err := in.Next(int(userLen))
	if err != nil {
		return McastPayload{}, corerr.New(corerr.CodeLibrary, "wire: short mcast user bytes").WithCause(err)
	}
	p.UserBytes = append([]byte(nil), user...)
	return p, nil
}

// OrfTokenPayload is the body of a TypeMembOrfToken frame: the token
// that circulates the ring carrying aru, high-water seq, and the
// retransmit-request list.
type OrfTokenPayload struct {
	RingID  RingID
	Seq     seqno.SeqNo
	Aru     seqno.SeqNo
	AruAddr uint32
	RTRList []seqno.SeqNo
}

const orfTokenFixedSize = 4 + 8 + 4 + 4 + 4 + 4 // ring_id + seq + aru + aru_addr + rtr_count

// EncodeOrfToken writes an ORF token payload to out.
func EncodeOrfToken(out bufiox.Writer, bo binary.ByteOrder, p OrfTokenPayload) error {
	buf, err := out.Malloc(orfTokenFixedSize)
	if err != nil {
		return corerr.New(corerr.CodeLibrary, "wire: malloc orf token header").WithCause(err)
	}
	bo.PutUint32(buf[0:4], p.RingID.RepNodeID)
	bo.PutUint64(buf[4:12], p.RingID.Seq)
	bo.PutUint32(buf[12:16], uint32(p.Seq))
	bo.PutUint32(buf[16:20], uint32(p.Aru))
	bo.PutUint32(buf[20:24], p.AruAddr)
	bo.PutUint32(buf[24:28], uint32(len(p.RTRList)))

	rtrBuf, err := out.Malloc(4 * len(p.RTRList))
	if err != nil {
		return corerr.New(corerr.CodeLibrary, "wire: malloc rtr list").WithCause(err)
	}
	for i, s := range p.RTRList {
		bo.PutUint32(rtrBuf[i*4:i*4+4], uint32(s))
	}
	return nil
}

// DecodeOrfToken reads an ORF token payload from in.
func DecodeOrfToken(in bufiox.Reader, swap bool) (OrfTokenPayload, error) {
	buf, err := in.Next(orfTokenFixedSize)
	if err != nil {
		return OrfTokenPayload{}, corerr.New(corerr.CodeLibrary, "wire: short orf token header").WithCause(err)
	}
	bo := byteOrder(swap)
	p := OrfTokenPayload{
		RingID: RingID{
			RepNodeID: bo.Uint32(buf[0:4]),
			Seq:       bo.Uint64(buf[4:12]),
		},
		Seq:     seqno.SeqNo(bo.Uint32(buf[12:16])),
		Aru:     seqno.SeqNo(bo.Uint32(buf[16:20])),
		AruAddr: bo.Uint32(buf[20:24]),
	}
	count := bo.Uint32(buf[24:28])
	if count == 0 {
		return p, nil
	}
	rtrBuf, err := in.Next(4 * int(count))
	if err != nil {
		return OrfTokenPayload{}, corerr.New(corerr.CodeLibrary, "wire: short rtr list").WithCause(err)
	}
	p.RTRList = make([]seqno.SeqNo, count)
	for i := range p.RTRList {
		p.RTRList[i] = seqno.SeqNo(bo.Uint32(rtrBuf[i*4 : i*4+4]))
	}
	return p, nil
}
