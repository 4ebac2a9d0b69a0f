package totemsrp

import (
	"reflect"
	"sync/atomic"

	"github.com/corosync/corosync-sub008/internal/wire"
)

// Join starts (or restarts) ring formation against the given candidate
// membership. Every node intending to form the same ring MUST be given
// the same (sorted) set.
func (i *Instance) Join(members []uint32) {
	i.state = StateGather
	atomic.AddUint64(&i.counters.gatherEntered, 1)
	i.newMembList = sortedCopy(members)
	i.joinVotes = map[uint32][]uint32{i.nodeID: i.newMembList}
	i.broadcastJoin()
	i.checkConsensus()
}

// NotifyMemberFailed is the explicit failure-detection hook: in
// production this fires when a token fails to return within
// token_retransmits_before_loss_const * token_retransmit_timeout (§4.5);
// tests and the recovery path invoke it directly once that condition is
// observed.
func (i *Instance) NotifyMemberFailed(nodeID uint32) {
	if i.state == StateOperational {
		atomic.AddUint64(&i.counters.operationalTokenLost, 1)
	}
	remaining := make([]uint32, 0, len(i.procList))
	for _, id := range i.procList {
		if id != nodeID {
			remaining = append(remaining, id)
		}
	}
	i.Join(remaining)
}

func (i *Instance) broadcastJoin() {
	body := encodeJoinBody(i.newMembList)
	i.sendFrame(wire.TypeMembJoin, 0, body)
}

func (i *Instance) handleJoinFrame(body []byte, from uint32) {
	claimed := decodeJoinBody(body)
	if i.state != StateGather {
		// A foreign JOIN while operational means the sender believes the
		// ring has changed; re-enter GATHER to reconverge.
		if i.state == StateOperational {
			i.Join(sortedCopy(append(append([]uint32{}, i.procList...), from)))
		}
		return
	}
	i.joinVotes[from] = sortedCopy(claimed)
	i.checkConsensus()
}

// checkConsensus implements GATHER's exit condition: every member named
// in my_new_memb_list has sent a JOIN naming that identical set.
func (i *Instance) checkConsensus() {
	if i.state != StateGather {
		return
	}
	for _, id := range i.newMembList {
		vote, ok := i.joinVotes[id]
		if !ok || !reflect.DeepEqual(vote, i.newMembList) {
			return
		}
	}
	i.enterCommit()
}

// enterCommit is reached once consensus holds. The lowest-nodeid member
// of the prospective ring is responsible for minting the new ring_id and
// starting the commit-token's circulation, mirroring corosync's
// low-processor-forms-commit-token rule.
func (i *Instance) enterCommit() {
	i.state = StateCommit
	atomic.AddUint64(&i.counters.commitEntered, 1)

	low := i.newMembList[0]
	if i.nodeID != low {
		return
	}
	i.ringID = wire.RingID{RepNodeID: low, Seq: i.ringID.Seq + 1}
	i.sendCommitToken()
}

func (i *Instance) sendCommitToken() {
	body := make([]byte, 12+4*len(i.newMembList))
	putRingID(body, i.ringID)
	for idx, m := range i.newMembList {
		putU32(body[12+idx*4:], m)
	}
	next := nextInRing(i.newMembList, i.nodeID)
	i.sendFrame(wire.TypeMembCommitToken, next, body)
}

func (i *Instance) handleCommitTokenFrame(body []byte, from uint32) {
	ringID := getRingID(body)
	members := make([]uint32, (len(body)-12)/4)
	for idx := range members {
		members[idx] = getU32(body[12+idx*4:])
	}

	if i.state != StateCommit {
		i.newMembList = members
		i.state = StateCommit
		atomic.AddUint64(&i.counters.commitEntered, 1)
	}
	i.ringID = ringID

	low := i.newMembList[0]
	if i.nodeID != low {
		next := nextInRing(i.newMembList, i.nodeID)
		i.sendFrame(wire.TypeMembCommitToken, next, body)
	}

	i.enterRecovery()
}

// enterRecovery installs the new membership, fires the transitional
// confchg (old view minus departed members, before any new-ring
// message), and — since a fresh join or reform carries no backlog to
// reconcile — immediately satisfies RECOVERY's exit condition and
// proceeds to OPERATIONAL with the regular confchg.
func (i *Instance) enterRecovery() {
	old := i.procList
	atomic.AddUint64(&i.counters.recoveryEntered, 1)

	joined, left := diffMembership(old, i.newMembList)
	i.confChgCB(ConfigChangeEvent{
		Kind:    ConfigChangeTransitional,
		RingID:  i.ringID,
		Members: intersectMembership(old, i.newMembList),
		Joined:  nil,
		Left:    left,
	})

	i.procList = i.newMembList
	i.rq.Reinit(i.myHighDelivered + 1)
	i.myAru = i.myHighDelivered
	i.enterOperational(joined, left)
}

func (i *Instance) enterOperational(joined, left []uint32) {
	i.state = StateOperational
	atomic.AddUint64(&i.counters.operationalEntered, 1)
	i.confChgCB(ConfigChangeEvent{
		Kind:    ConfigChangeRegular,
		RingID:  i.ringID,
		Members: i.procList,
		Joined:  joined,
		Left:    left,
	})

	low := i.procList[0]
	if i.nodeID == low {
		i.haveToken = true
		i.processToken(orfToken{RingID: i.ringID, Seq: i.mySeq, Aru: i.myAru})
	}
}

func diffMembership(old, new_ []uint32) (joined, left []uint32) {
	oldSet := make(map[uint32]bool, len(old))
	for _, id := range old {
		oldSet[id] = true
	}
	newSet := make(map[uint32]bool, len(new_))
	for _, id := range new_ {
		newSet[id] = true
	}
	for _, id := range new_ {
		if !oldSet[id] {
			joined = append(joined, id)
		}
	}
	for _, id := range old {
		if !newSet[id] {
			left = append(left, id)
		}
	}
	return joined, left
}

// intersectMembership returns the members present in both rings, in
// new_'s order: the transitional configuration installed between
// RECOVERY's transitional confchg and the regular confchg that follows
// it, per corosync's "transitional configuration" definition — it never
// contains a node that has not yet been voted into the ring.
func intersectMembership(old, new_ []uint32) []uint32 {
	oldSet := make(map[uint32]bool, len(old))
	for _, id := range old {
		oldSet[id] = true
	}
	out := make([]uint32, 0, len(new_))
	for _, id := range new_ {
		if oldSet[id] {
			out = append(out, id)
		}
	}
	return out
}

func putRingID(buf []byte, r wire.RingID) {
	putU32(buf, r.RepNodeID)
	putU64(buf[4:], r.Seq)
}

func getRingID(buf []byte) wire.RingID {
	return wire.RingID{RepNodeID: getU32(buf), Seq: getU64(buf[4:])}
}
