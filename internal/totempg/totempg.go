package totempg

import (
	"sync"

	"github.com/corosync/corosync-sub008/corerr"
	"github.com/corosync/corosync-sub008/internal/totemsrp"
	"github.com/corosync/corosync-sub008/internal/wire"
	"github.com/corosync/corosync-sub008/seqno"
)

// DefaultMaxQueuedMessages bounds groups_joined_reserve's
// admission-control budget: the number of originated-but-not-yet-
// released messages this instance allows outstanding at once.
const DefaultMaxQueuedMessages = 50

// Instance fragments outbound application messages to the configured
// MTU, reassembles inbound ones, and filters delivery by joined
// group. One Instance wraps exactly one totemsrp.Instance, injected
// as Originator so this package stays testable without a real ring.
type Instance struct {
	mu sync.Mutex

	srp    Originator
	mtu    int
	nodeID uint32

	joined         map[string]bool
	nextGeneration uint32

	deliverCB DeliverFunc
	confChgCB totemsrp.ConfChgFunc

	reasm *reassembler

	reserved  int
	maxQueued int

	nextCallbackID int
	destroyed      map[int]bool
}

// New creates a PG instance. srp may be nil at construction and
// filled in afterward via SetOriginator, because srp's own
// constructor needs this Instance's Deliver/ConfChg method values as
// its callbacks — the two must be wired in two steps.
func New(nodeID uint32, mtu int, deliverCB DeliverFunc, confChgCB totemsrp.ConfChgFunc) *Instance {
	return &Instance{
		mtu:       mtu,
		nodeID:    nodeID,
		joined:    make(map[string]bool),
		deliverCB: deliverCB,
		confChgCB: confChgCB,
		reasm:     newReassembler(wire.RingID{}),
		maxQueued: DefaultMaxQueuedMessages,
		destroyed: make(map[int]bool),
	}
}

// SetOriginator completes construction once the backing SRP instance
// exists.
func (i *Instance) SetOriginator(srp Originator) { i.srp = srp }

// GroupsJoin adds groups to this instance's joined set.
func (i *Instance) GroupsJoin(groups []Group) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, g := range groups {
		i.joined[g.Name] = true
	}
}

// GroupsLeave removes groups from this instance's joined set.
func (i *Instance) GroupsLeave(groups []Group) {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, g := range groups {
		delete(i.joined, g.Name)
	}
}

// GroupsJoinedReserve admits n pending messages against the
// outstanding-message budget, the PG-level analogue of SRP's own
// window-based flow control. Returns TRY_AGAIN once the budget is
// exhausted rather than letting origination outrun delivery.
func (i *Instance) GroupsJoinedReserve(n int) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.reserved+n > i.maxQueued {
		return corerr.ErrTryAgain
	}
	i.reserved += n
	return nil
}

// GroupsJoinedRelease returns n previously reserved slots.
func (i *Instance) GroupsJoinedRelease(n int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.reserved -= n
	if i.reserved < 0 {
		i.reserved = 0
	}
}

// McastJoined fragments and originates msg to every group this
// instance currently has joined.
func (i *Instance) McastJoined(guarantee Guarantee, msg []byte) error {
	i.mu.Lock()
	names := make([]string, 0, len(i.joined))
	for g := range i.joined {
		names = append(names, g)
	}
	i.mu.Unlock()
	return i.mcast(guarantee, names, msg)
}

// McastGroups fragments and originates msg to exactly the named
// groups, regardless of this instance's own joined set.
func (i *Instance) McastGroups(guarantee Guarantee, groups []Group, msg []byte) error {
	names := make([]string, len(groups))
	for idx, g := range groups {
		names[idx] = g.Name
	}
	return i.mcast(guarantee, names, msg)
}

func (i *Instance) mcast(guarantee Guarantee, names []string, msg []byte) error {
	if i.srp == nil {
		return corerr.New(corerr.CodeLibrary, "totempg: mcast before SetOriginator")
	}

	i.mu.Lock()
	gen := i.nextGeneration
	i.nextGeneration++
	i.mu.Unlock()

	fragPayload := i.mtu
	if fragPayload <= 0 {
		fragPayload = len(msg)
	}
	if fragPayload <= 0 {
		fragPayload = 1
	}

	offset := 0
	for {
		end := offset + fragPayload
		if end > len(msg) {
			end = len(msg)
		}
		frame := pgFrame{
			Groups:     names,
			Generation: gen,
			Guarantee:  guarantee,
			Fragment: wire.FragmentHeader{
				MsgLen:         uint32(len(msg)),
				FragmentSize:   uint32(end - offset),
				CopyLen:        uint32(end - offset),
				CopyBaseOffset: uint32(offset),
			},
			Payload: msg[offset:end],
		}
		raw, err := encodePGFrame(frame)
		if err != nil {
			return err
		}
		if err := i.srp.OriginateMcast(raw); err != nil {
			return err
		}
		offset = end
		if offset >= len(msg) {
			break
		}
	}
	return nil
}

// Deliver is totemsrp's DeliverFunc for this instance: decode one
// fragment, feed the reassembler, and on completion invoke deliverCB
// once per locally joined group the message was addressed to.
func (i *Instance) Deliver(ringID wire.RingID, _ seqno.SeqNo, nodeID uint32, msg []byte) {
	frame, err := decodePGFrame(msg)
	if err != nil {
		return
	}

	i.mu.Lock()
	if ringID != i.reasm.ringID {
		i.reasm.dropForRingChange(ringID)
	}
	complete, done := i.reasm.feed(nodeID, frame)
	var matched []string
	if done {
		for _, g := range frame.Groups {
			if i.joined[g] {
				matched = append(matched, g)
			}
		}
	}
	i.mu.Unlock()

	if !done {
		return
	}
	for _, g := range matched {
		i.deliverCB(Group{Name: g}, nodeID, complete)
	}
}

// ConfChg is totemsrp's ConfChgFunc for this instance: every
// configuration change drops in-flight fragment streams before
// forwarding the event to the caller's own confchg callback.
func (i *Instance) ConfChg(ev totemsrp.ConfigChangeEvent) {
	i.mu.Lock()
	i.reasm.dropForRingChange(ev.RingID)
	i.mu.Unlock()
	if i.confChgCB != nil {
		i.confChgCB(ev)
	}
}

// CallbackTokenCreate schedules fn to run on every occurrence of evType
// until it returns false or deleteAfterFire is set, in which case it
// fires at most once. Returns a handle for CallbackTokenDestroy.
func (i *Instance) CallbackTokenCreate(evType TokenEventType, deleteAfterFire bool, fn func() bool) int {
	i.mu.Lock()
	id := i.nextCallbackID
	i.nextCallbackID++
	i.mu.Unlock()

	hook := func() {
		i.mu.Lock()
		if i.destroyed[id] {
			i.mu.Unlock()
			return
		}
		i.mu.Unlock()

		keep := fn()
		if !keep || deleteAfterFire {
			i.CallbackTokenDestroy(id)
		}
	}

	switch evType {
	case TokenEventSend:
		i.srp.AddTokenSendHook(hook)
	default:
		i.srp.AddTokenRecvHook(hook)
	}
	return id
}

// CallbackTokenDestroy stops a callback scheduled by
// CallbackTokenCreate from firing again. SRP has no API to remove a
// hook by identity, so the closure survives in SRP's hook slice as a
// permanent no-op; acceptable because this call is expected to be rare
// (service-readiness checks), not a high-churn path.
func (i *Instance) CallbackTokenDestroy(handle int) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.destroyed[handle] = true
}
