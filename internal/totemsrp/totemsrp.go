package totemsrp

import (
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/corosync/corosync-sub008/corerr"
	"github.com/corosync/corosync-sub008/icmap"
	"github.com/corosync/corosync-sub008/internal/loop"
	"github.com/corosync/corosync-sub008/internal/transport"
	"github.com/corosync/corosync-sub008/internal/wire"
	"github.com/corosync/corosync-sub008/seqno"
	"github.com/corosync/corosync-sub008/sq"
)

// Instance is one node's view of a single totem ring. All exported
// methods are intended to run on the event-loop thread; nothing here
// takes a lock because the concurrency model guarantees single-threaded
// access (see internal/loop).
type Instance struct {
	cfg       Config
	transport transport.Transport
	loop      *loop.Loop
	stats     *icmap.StatsMap
	counters  counters

	nodeID uint32
	state  State

	ringID   wire.RingID
	procList []uint32

	newMembList []uint32
	joinVotes   map[uint32][]uint32 // nodeID -> the membership set it claimed in its JOIN

	myAru             seqno.SeqNo
	myHighSeqReceived seqno.SeqNo
	myHighDelivered   seqno.SeqNo
	mySeq             seqno.SeqNo

	rq *sq.Queue

	haveToken           bool
	outstandingMessages int

	deliverCB DeliverFunc
	confChgCB ConfChgFunc

	tokenRecvHooks []TokenHookFunc
	tokenSendHooks []TokenHookFunc

	pendingOriginate [][]byte
}

// AddTokenRecvHook registers a callback to run every time this node
// receives the token, before any of the token's processing steps (aru
// update, delivery, retransmits, origination). Hooks run in
// registration order.
func (i *Instance) AddTokenRecvHook(h TokenHookFunc) { i.tokenRecvHooks = append(i.tokenRecvHooks, h) }

// AddTokenSendHook registers a callback to run every time this node is
// about to forward the token onward.
func (i *Instance) AddTokenSendHook(h TokenHookFunc) { i.tokenSendHooks = append(i.tokenSendHooks, h) }

// RingIDStore persists a node's ring sequence counter across restarts so
// a post-crash rejoin can never reuse an old ring's identity.
type RingIDStore interface {
	Load(nodeID uint32) uint64
	Save(nodeID uint32, seq uint64)
}

// memRingIDStore is an in-memory RingIDStore, suitable for tests and for
// hosts where cluster identity does not need to survive process restart.
type memRingIDStore struct{ seqs map[uint32]uint64 }

// NewMemRingIDStore creates a volatile RingIDStore.
func NewMemRingIDStore() RingIDStore { return &memRingIDStore{seqs: make(map[uint32]uint64)} }

func (s *memRingIDStore) Load(nodeID uint32) uint64      { return s.seqs[nodeID] }
func (s *memRingIDStore) Save(nodeID uint32, seq uint64) { s.seqs[nodeID] = seq }

// FileRingIDStore persists each node's ring sequence counter as a
// plain decimal number in one file per node under dir, so a rejoin
// after a process restart or host reboot never reuses an old ring's
// identity.
type FileRingIDStore struct{ dir string }

// NewFileRingIDStore creates a FileRingIDStore rooted at dir. dir must
// already exist.
func NewFileRingIDStore(dir string) *FileRingIDStore { return &FileRingIDStore{dir: dir} }

func (s *FileRingIDStore) path(nodeID uint32) string {
	return filepath.Join(s.dir, fmt.Sprintf("ring-seq-%d", nodeID))
}

// Load returns the last persisted seq for nodeID, or 0 if no file
// exists yet (a fresh node's first ring is Seq 1, from New's
// Load()+1 convention).
func (s *FileRingIDStore) Load(nodeID uint32) uint64 {
	b, err := os.ReadFile(s.path(nodeID))
	if err != nil {
		return 0
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(b)), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// Save persists seq for nodeID, overwriting any prior value.
func (s *FileRingIDStore) Save(nodeID uint32, seq uint64) {
	_ = os.WriteFile(s.path(nodeID), []byte(strconv.FormatUint(seq, 10)), 0o644)
}

// New creates an Instance bound to tr and driven by lp, publishing its
// counters into stats. deliverCB fires once per agreed/safe message;
// confChgCB fires on every membership change.
func New(nodeID uint32, cfg Config, tr transport.Transport, lp *loop.Loop, stats *icmap.StatsMap, store RingIDStore, deliverCB DeliverFunc, confChgCB ConfChgFunc) (*Instance, error) {
	rq, err := sq.Init(cfg.ReceiveWindowSize, 0, seqno.SeqNo(1))
	if err != nil {
		return nil, err
	}
	ringSeq := store.Load(nodeID) + 1
	store.Save(nodeID, ringSeq)

	inst := &Instance{
		cfg:       cfg,
		transport: tr,
		loop:      lp,
		stats:     stats,
		nodeID:    nodeID,
		state:     StateGather,
		ringID:    wire.RingID{RepNodeID: nodeID, Seq: ringSeq},
		joinVotes: make(map[uint32][]uint32),
		myAru:     0,
		mySeq:     0,
		rq:        rq,
		deliverCB: deliverCB,
		confChgCB: confChgCB,
	}
	registerStats(stats, &inst.counters)
	return inst, nil
}

// State returns the instance's current SRP state.
func (i *Instance) State() State { return i.state }

// RingID returns the instance's currently installed ring identity.
func (i *Instance) RingID() wire.RingID { return i.ringID }

// Members returns a copy of the current (operational) membership list.
func (i *Instance) Members() []uint32 {
	out := make([]uint32, len(i.procList))
	copy(out, i.procList)
	return out
}

func sortedCopy(members []uint32) []uint32 {
	out := append([]uint32(nil), members...)
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

func ringIndex(members []uint32, nodeID uint32) int {
	for idx, id := range members {
		if id == nodeID {
			return idx
		}
	}
	return -1
}

func nextInRing(members []uint32, nodeID uint32) uint32 {
	idx := ringIndex(members, nodeID)
	if idx < 0 {
		return nodeID
	}
	return members[(idx+1)%len(members)]
}

// OriginateMcast queues msg for origination on this node's next token
// hold, subject to flow control. Returns TRY_AGAIN if the node is not
// OPERATIONAL.
func (i *Instance) OriginateMcast(msg []byte) error {
	if i.state != StateOperational {
		return corerr.ErrTryAgain
	}
	i.pendingOriginate = append(i.pendingOriginate, msg)
	return nil
}

// HandleInbound decodes and dispatches one inbound frame. It is meant
// to be called from the transport's Deliver callback, which itself
// fires on the event-loop thread inside RecvFlush.
func (i *Instance) HandleInbound(buf []byte, _ net.Addr) {
	h, swap, err := wire.DecodeHeader(buf)
	if err != nil {
		atomic.AddUint64(&i.counters.rxMsgDropped, 1)
		return
	}
	body := buf[wire.HeaderSize:]

	switch h.Type {
	case wire.TypeMcast:
		i.handleMcastFrame(body, swap, h.NodeID)
	case wire.TypeMembOrfToken:
		i.handleOrfTokenFrame(body, swap)
	case wire.TypeMembJoin:
		i.handleJoinFrame(body, h.NodeID)
	case wire.TypeMembCommitToken:
		i.handleCommitTokenFrame(body, h.NodeID)
	default:
		atomic.AddUint64(&i.counters.rxMsgDropped, 1)
	}
}

// encodeJoinBody serializes a JOIN's claimed membership set as a flat
// list of big-endian uint32 node ids, the simplest payload that lets
// every receiver compare claimed sets for byte equality.
func encodeJoinBody(members []uint32) []byte {
	buf := make([]byte, 4*len(members))
	for idx, m := range members {
		binary.BigEndian.PutUint32(buf[idx*4:idx*4+4], m)
	}
	return buf
}

func decodeJoinBody(buf []byte) []uint32 {
	n := len(buf) / 4
	out := make([]uint32, n)
	for idx := range out {
		out[idx] = binary.BigEndian.Uint32(buf[idx*4 : idx*4+4])
	}
	return out
}

func (i *Instance) sendFrame(typ wire.Type, target uint32, body []byte) error {
	buf := make([]byte, wire.HeaderSize+len(body))
	wire.EncodeHeader(buf, wire.Header{Type: typ, NodeID: i.nodeID, TargetNodeID: target})
	copy(buf[wire.HeaderSize:], body)
	if target == 0 {
		return i.transport.McastFlushSend(buf)
	}
	if err := i.transport.TokenTargetSet(target); err != nil {
		return err
	}
	return i.transport.TokenSend(buf)
}
