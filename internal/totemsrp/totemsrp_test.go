package totemsrp

import (
	"fmt"
	"testing"

	"github.com/corosync/corosync-sub008/icmap"
	"github.com/corosync/corosync-sub008/internal/loop"
	"github.com/corosync/corosync-sub008/internal/wire"
	"github.com/corosync/corosync-sub008/seqno"
)

type nodeHarness struct {
	inst      *Instance
	delivered []deliveredMsg
	confChgs  []ConfigChangeEvent
}

type deliveredMsg struct {
	seq    seqno.SeqNo
	nodeID uint32
	msg    string
}

func (h *nodeHarness) deliver(_ wire.RingID, seq seqno.SeqNo, nodeID uint32, msg []byte) {
	h.delivered = append(h.delivered, deliveredMsg{seq: seq, nodeID: nodeID, msg: string(msg)})
}

func (h *nodeHarness) confChg(ev ConfigChangeEvent) {
	h.confChgs = append(h.confChgs, ev)
}

func newTestRing(t *testing.T, ids []uint32, cfg Config) (*memNetwork, map[uint32]*nodeHarness) {
	t.Helper()
	net := newMemNetwork()
	nodes := make(map[uint32]*nodeHarness, len(ids))
	for _, id := range ids {
		h := &nodeHarness{}
		lp, err := loop.New()
		if err != nil {
			t.Fatalf("loop.New: %v", err)
		}
		t.Cleanup(func() { lp.Close() })

		tr := &memTransport{nodeID: id, net: net}
		stats := icmap.NewStatsMap()
		inst, err := New(id, cfg, tr, lp, stats, NewMemRingIDStore(), h.deliver, h.confChg)
		if err != nil {
			t.Fatalf("New(%d): %v", id, err)
		}
		h.inst = inst
		net.instances[id] = inst
		nodes[id] = h
	}
	return net, nodes
}

func allOperational(nodes map[uint32]*nodeHarness) bool {
	for _, h := range nodes {
		if h.inst.State() != StateOperational {
			return false
		}
	}
	return true
}

func TestJoinConvergesToOperationalWithSharedRingID(t *testing.T) {
	ids := []uint32{1, 2, 3}
	net, nodes := newTestRing(t, ids, DefaultConfig())

	for _, id := range ids {
		nodes[id].inst.Join(ids)
	}
	net.Pump(2000)

	if !allOperational(nodes) {
		for _, id := range ids {
			t.Errorf("node %d state = %s, want OPERATIONAL", id, nodes[id].inst.State())
		}
		t.FailNow()
	}

	ring := nodes[1].inst.RingID()
	for _, id := range ids {
		if got := nodes[id].inst.RingID(); got != ring {
			t.Errorf("node %d ring id = %+v, want %+v", id, got, ring)
		}
		if members := nodes[id].inst.Members(); len(members) != len(ids) {
			t.Errorf("node %d members = %v, want all of %v", id, members, ids)
		}
	}
}

func TestAgreedDeliveryIsIdenticalAcrossSurvivors(t *testing.T) {
	ids := []uint32{1, 2, 3}
	net, nodes := newTestRing(t, ids, DefaultConfig())

	for _, id := range ids {
		nodes[id].inst.Join(ids)
	}
	net.Pump(2000)
	if !allOperational(nodes) {
		t.Fatal("ring failed to reach OPERATIONAL before originating")
	}

	if err := nodes[1].inst.OriginateMcast([]byte("alpha")); err != nil {
		t.Fatalf("OriginateMcast: %v", err)
	}
	if err := nodes[2].inst.OriginateMcast([]byte("bravo")); err != nil {
		t.Fatalf("OriginateMcast: %v", err)
	}
	if err := nodes[1].inst.OriginateMcast([]byte("charlie")); err != nil {
		t.Fatalf("OriginateMcast: %v", err)
	}
	net.Pump(3000)

	var want []string
	for _, d := range nodes[1].delivered {
		want = append(want, d.msg)
	}
	if len(want) < 3 {
		t.Fatalf("node 1 delivered only %d messages, want at least 3: %v", len(want), want)
	}

	for _, id := range ids {
		var got []string
		var prev seqno.SeqNo
		for idx, d := range nodes[id].delivered {
			if idx > 0 && !seqno.Lt(prev, d.seq) {
				t.Errorf("node %d: delivery seq did not strictly increase at index %d (%d -> %d)", id, idx, prev, d.seq)
			}
			prev = d.seq
			got = append(got, d.msg)
		}
		if len(got) != len(want) {
			t.Fatalf("node %d delivered %v, want %v", id, got, want)
		}
		for idx := range want {
			if got[idx] != want[idx] {
				t.Errorf("node %d delivery order = %v, want %v", id, got, want)
				break
			}
		}
	}
}

func TestConfigChangeOrdersTransitionalBeforeRegular(t *testing.T) {
	ids := []uint32{1, 2}
	net, nodes := newTestRing(t, ids, DefaultConfig())
	for _, id := range ids {
		nodes[id].inst.Join(ids)
	}
	net.Pump(2000)

	for _, id := range ids {
		chgs := nodes[id].confChgs
		if len(chgs) < 2 {
			t.Fatalf("node %d saw %d config changes, want at least 2", id, len(chgs))
		}
		if chgs[0].Kind != ConfigChangeTransitional {
			t.Errorf("node %d first config change = %v, want transitional", id, chgs[0].Kind)
		}
		if chgs[1].Kind != ConfigChangeRegular {
			t.Errorf("node %d second config change = %v, want regular", id, chgs[1].Kind)
		}
	}
}

// TestMembershipChangeFormsNewRingAfterFailure mirrors a node-failure
// scenario: a 3-node ring forms, node 2 is then removed from the
// network (simulating a crash), and the survivors independently detect
// the failure and re-form a 2-node ring with a strictly newer ring id.
func TestMembershipChangeFormsNewRingAfterFailure(t *testing.T) {
	ids := []uint32{1, 2, 3}
	net, nodes := newTestRing(t, ids, DefaultConfig())
	for _, id := range ids {
		nodes[id].inst.Join(ids)
	}
	net.Pump(2000)
	if !allOperational(nodes) {
		t.Fatal("initial ring failed to reach OPERATIONAL")
	}
	priorRing := nodes[1].inst.RingID()

	delete(net.instances, 2)
	nodes[1].inst.NotifyMemberFailed(2)
	nodes[3].inst.NotifyMemberFailed(2)
	net.Pump(2000)

	for _, id := range []uint32{1, 3} {
		h := nodes[id]
		if h.inst.State() != StateOperational {
			t.Fatalf("node %d state = %s, want OPERATIONAL", id, h.inst.State())
		}
		members := h.inst.Members()
		if len(members) != 2 || (members[0] != 1 && members[0] != 3) {
			t.Errorf("node %d members = %v, want {1,3}", id, members)
		}
		newRing := h.inst.RingID()
		if newRing.RepNodeID != priorRing.RepNodeID {
			// either survivor may end up forming the new ring, both are
			// valid reps so long as it is one of the surviving nodes
			if newRing.RepNodeID != 1 && newRing.RepNodeID != 3 {
				t.Errorf("node %d new ring rep = %d, want one of {1,3}", id, newRing.RepNodeID)
			}
		}
		if newRing.Seq <= priorRing.Seq {
			t.Errorf("node %d new ring seq = %d, want strictly greater than prior %d", id, newRing.Seq, priorRing.Seq)
		}

		sawLeft := false
		for _, chg := range h.confChgs {
			for _, left := range chg.Left {
				if left == 2 {
					sawLeft = true
				}
			}
		}
		if !sawLeft {
			t.Errorf("node %d never saw node 2 in a config change's Left list", id)
		}
	}
}

// TestOriginatePendingRespectsWindowSize is a white-box check of flow
// control's core claim: a single token pass originates no more than
// WindowSize messages, regardless of how many are queued.
func TestOriginatePendingRespectsWindowSize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WindowSize = 4
	cfg.MaxMessages = 100

	net := newMemNetwork()
	lp, err := loop.New()
	if err != nil {
		t.Fatalf("loop.New: %v", err)
	}
	t.Cleanup(func() { lp.Close() })
	tr := &memTransport{nodeID: 1, net: net}
	stats := icmap.NewStatsMap()
	inst, err := New(1, cfg, tr, lp, stats, NewMemRingIDStore(),
		func(wire.RingID, seqno.SeqNo, uint32, []byte) {},
		func(ConfigChangeEvent) {})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	net.instances[1] = inst

	for n := 0; n < 10; n++ {
		inst.pendingOriginate = append(inst.pendingOriginate, []byte(fmt.Sprintf("m%d", n)))
	}

	tok := orfToken{RingID: inst.ringID, Seq: 0, Aru: 0}
	inst.originatePending(&tok)

	if remaining := len(inst.pendingOriginate); remaining != 6 {
		t.Errorf("pendingOriginate len = %d, want 6 (4 of 10 sent)", remaining)
	}
	if diff := seqno.Diff(tok.Aru, tok.Seq); diff != cfg.WindowSize {
		t.Errorf("outstanding window = %d, want exactly WindowSize %d", diff, cfg.WindowSize)
	}
	if inst.outstandingMessages != 4 {
		t.Errorf("outstandingMessages = %d, want 4", inst.outstandingMessages)
	}
}

// TestOriginatePendingRespectsMaxMessages checks the second flow-control
// clamp: even with a wide open window, no more than MaxMessages get
// originated in a single pass.
func TestOriginatePendingRespectsMaxMessages(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WindowSize = 1000
	cfg.MaxMessages = 3

	net := newMemNetwork()
	lp, err := loop.New()
	if err != nil {
		t.Fatalf("loop.New: %v", err)
	}
	t.Cleanup(func() { lp.Close() })
	tr := &memTransport{nodeID: 1, net: net}
	stats := icmap.NewStatsMap()
	inst, err := New(1, cfg, tr, lp, stats, NewMemRingIDStore(),
		func(wire.RingID, seqno.SeqNo, uint32, []byte) {},
		func(ConfigChangeEvent) {})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	net.instances[1] = inst

	for n := 0; n < 10; n++ {
		inst.pendingOriginate = append(inst.pendingOriginate, []byte(fmt.Sprintf("m%d", n)))
	}
	tok := orfToken{RingID: inst.ringID, Seq: 0, Aru: 0}
	inst.originatePending(&tok)

	if remaining := len(inst.pendingOriginate); remaining != 7 {
		t.Errorf("pendingOriginate len = %d, want 7 (3 of 10 sent)", remaining)
	}
	if inst.outstandingMessages != cfg.MaxMessages {
		t.Errorf("outstandingMessages = %d, want MaxMessages %d", inst.outstandingMessages, cfg.MaxMessages)
	}
}

func TestOriginateMcastRejectedBeforeOperational(t *testing.T) {
	net := newMemNetwork()
	lp, err := loop.New()
	if err != nil {
		t.Fatalf("loop.New: %v", err)
	}
	t.Cleanup(func() { lp.Close() })
	tr := &memTransport{nodeID: 1, net: net}
	stats := icmap.NewStatsMap()
	inst, err := New(1, DefaultConfig(), tr, lp, stats, NewMemRingIDStore(),
		func(wire.RingID, seqno.SeqNo, uint32, []byte) {},
		func(ConfigChangeEvent) {})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := inst.OriginateMcast([]byte("too early")); err == nil {
		t.Error("OriginateMcast before OPERATIONAL: want error, got nil")
	}
}

func TestFileRingIDStorePersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	s1 := NewFileRingIDStore(dir)
	if got := s1.Load(7); got != 0 {
		t.Fatalf("Load on empty store = %d, want 0", got)
	}
	s1.Save(7, 42)

	s2 := NewFileRingIDStore(dir)
	if got := s2.Load(7); got != 42 {
		t.Fatalf("Load after Save = %d, want 42", got)
	}
	if got := s2.Load(8); got != 0 {
		t.Fatalf("Load for untouched node = %d, want 0", got)
	}
}
