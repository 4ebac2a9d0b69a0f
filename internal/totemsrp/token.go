package totemsrp

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/cloudwego/gopkg/bufiox"
	"github.com/eapache/queue"

	"github.com/corosync/corosync-sub008/internal/wire"
	"github.com/corosync/corosync-sub008/seqno"
)

// nativeOrder is the byte order this build always encodes with; a real
// deployment of mixed-endian hosts relies on the magic-based detector in
// internal/wire to correct for a peer using the other order.
var nativeOrder = binary.LittleEndian

func putU32(buf []byte, v uint32) { binary.BigEndian.PutUint32(buf, v) }
func getU32(buf []byte) uint32    { return binary.BigEndian.Uint32(buf) }
func putU64(buf []byte, v uint64) { binary.BigEndian.PutUint64(buf, v) }
func getU64(buf []byte) uint64    { return binary.BigEndian.Uint64(buf) }

// orfToken is the in-memory form of wire.OrfTokenPayload used while the
// token is being processed locally, before re-encoding for the wire.
type orfToken struct {
	RingID  wire.RingID
	Seq     seqno.SeqNo
	Aru     seqno.SeqNo
	AruAddr uint32
	RTRList []seqno.SeqNo
}

func (i *Instance) handleMcastFrame(body []byte, swap bool, from uint32) {
	p, err := wire.DecodeMcast(bufiox.NewBytesReader(body), swap)
	if err != nil {
		atomic.AddUint64(&i.counters.rxMsgDropped, 1)
		return
	}
	if p.RingID != i.ringID {
		// A message from a prior or foreign ring is never delivered
		// under the current one.
		return
	}
	atomic.AddUint64(&i.counters.mcastRx, 1)
	if !i.rq.InRange(p.Seq) || i.rq.ItemInuse(p.Seq) {
		return
	}
	i.rq.ItemAdd(append(mcastSlotPrefix(from), p.UserBytes...), p.Seq)
	if seqno.Lt(i.myHighSeqReceived, p.Seq) {
		i.myHighSeqReceived = p.Seq
	}
}

// mcastSlotPrefix tags a stored message with its originator so delivery
// can hand the right nodeID to DeliverFunc without a side table.
func mcastSlotPrefix(nodeID uint32) []byte {
	buf := make([]byte, 4)
	putU32(buf, nodeID)
	return buf
}

func (i *Instance) handleOrfTokenFrame(body []byte, swap bool) {
	p, err := wire.DecodeOrfToken(bufiox.NewBytesReader(body), swap)
	if err != nil {
		atomic.AddUint64(&i.counters.rxMsgDropped, 1)
		return
	}
	if p.RingID != i.ringID {
		return
	}
	atomic.AddUint64(&i.counters.orfTokenRx, 1)
	i.processToken(orfToken{RingID: p.RingID, Seq: p.Seq, Aru: p.Aru, AruAddr: p.AruAddr, RTRList: p.RTRList})
}

// processToken implements the five-step token algorithm: recompute
// aru, fold it into the token, deliver what's now safe, service/request
// retransmits, then originate and forward.
func (i *Instance) processToken(tok orfToken) {
	i.haveToken = true
	for _, h := range i.tokenRecvHooks {
		h()
	}

	// Step 1: my_aru' is the max seq such that everything in
	// (prev_aru, my_aru'] is present in the sort-queue.
	myAruPrime := i.myAru
	for i.rq.InRange(myAruPrime+1) && i.rq.ItemInuse(myAruPrime+1) {
		myAruPrime++
	}
	i.myAru = myAruPrime

	// Step 2: fold the minimum into the token.
	if tok.Aru == 0 || seqno.Lt(myAruPrime, tok.Aru) {
		tok.Aru = myAruPrime
	}

	// Step 3: safe to deliver up to the token's aru once this node has
	// caught up to the token's high-water seq.
	if myAruPrime == tok.Seq {
		i.deliverUpTo(tok.Aru)
	}

	// Step 4: service RTR requests already on the token, then append
	// any seq this node is still missing.
	i.serviceRTR(tok.RTRList)
	tok.RTRList = i.buildRTR(tok.Seq)

	// Step 5: originate pending messages (flow control permitting), then
	// forward the token onward.
	i.originatePending(&tok)
	i.forwardToken(tok)
}

func (i *Instance) deliverUpTo(upTo seqno.SeqNo) {
	for seqno.Lt(i.myHighDelivered, upTo) {
		next := i.myHighDelivered + 1
		item, err := i.rq.ItemGet(next)
		if err == nil && len(item) >= 4 {
			nodeID := getU32(item)
			if nodeID == i.nodeID && i.outstandingMessages > 0 {
				// one of this node's own originations is no longer outstanding
				i.outstandingMessages--
			}
			i.deliverCB(i.ringID, next, nodeID, item[4:])
		}
		i.myHighDelivered = next
	}
	if i.myHighDelivered > 0 {
		i.rq.ItemsRelease(i.myHighDelivered)
	}
}

// serviceRTR re-multicasts any seq the token is requesting that this
// node can supply from its own sort-queue.
func (i *Instance) serviceRTR(requested []seqno.SeqNo) {
	for _, s := range requested {
		if !i.rq.ItemInuse(s) {
			continue
		}
		item, err := i.rq.ItemGet(s)
		if err != nil || len(item) < 4 {
			continue
		}
		i.sendMcast(s, item[4:])
		atomic.AddUint64(&i.counters.mcastRetx, 1)
	}
}

// buildRTR appends every seq this node is still missing up to highSeq,
// bounded by FailToRecvConst retransmit attempts per seq.
func (i *Instance) buildRTR(highSeq seqno.SeqNo) []seqno.SeqNo {
	rtr := queue.New()
	for s := i.myAru + 1; seqno.Le(s, highSeq); s++ {
		if i.rq.ItemInuse(s) {
			continue
		}
		if int(i.rq.ItemMissCount(s)) > i.cfg.FailToRecvConst {
			continue
		}
		rtr.Add(s)
		if s == highSeq {
			break
		}
	}
	out := make([]seqno.SeqNo, rtr.Length())
	for idx := 0; idx < rtr.Length(); idx++ {
		out[idx] = rtr.Get(idx).(seqno.SeqNo)
	}
	return out
}

// originatePending assigns sequence numbers to queued outbound messages
// while flow control allows it: window not full, and the
// outstanding-message budget not exhausted.
func (i *Instance) originatePending(tok *orfToken) {
	for len(i.pendingOriginate) > 0 {
		if seqno.Diff(tok.Aru, tok.Seq) >= i.cfg.WindowSize {
			break
		}
		if i.outstandingMessages >= i.cfg.MaxMessages {
			break
		}
		msg := i.pendingOriginate[0]
		i.pendingOriginate = i.pendingOriginate[1:]

		tok.Seq++
		i.mySeq = tok.Seq
		i.rq.ItemAdd(append(mcastSlotPrefix(i.nodeID), msg...), tok.Seq)
		i.outstandingMessages++

		i.sendMcast(tok.Seq, msg)
	}
}

func (i *Instance) sendMcast(seq seqno.SeqNo, msg []byte) {
	var raw []byte
	w := bufiox.NewBytesWriter(&raw)
	if err := wire.EncodeMcast(w, nativeOrder, wire.McastPayload{
		RingID:    i.ringID,
		Seq:       seq,
		Guarantee: wire.GuaranteeAgreed,
		UserBytes: msg,
	}); err != nil {
		return
	}
	if err := w.Flush(); err != nil {
		return
	}
	i.sendFrame(wire.TypeMcast, 0, raw)
	atomic.AddUint64(&i.counters.mcastTx, 1)
}

func (i *Instance) forwardToken(tok orfToken) {
	var raw []byte
	w := bufiox.NewBytesWriter(&raw)
	if err := wire.EncodeOrfToken(w, nativeOrder, wire.OrfTokenPayload{
		RingID: tok.RingID, Seq: tok.Seq, Aru: tok.Aru, AruAddr: tok.AruAddr, RTRList: tok.RTRList,
	}); err != nil {
		return
	}
	if err := w.Flush(); err != nil {
		return
	}

	for _, h := range i.tokenSendHooks {
		h()
	}
	i.haveToken = false
	next := nextInRing(i.procList, i.nodeID)
	i.sendFrame(wire.TypeMembOrfToken, next, raw)
	atomic.AddUint64(&i.counters.orfTokenTx, 1)
}
