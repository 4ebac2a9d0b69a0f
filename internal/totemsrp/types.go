// Package totemsrp implements the Totem Single-Ring Protocol: token-based
// ring membership and totally-ordered, loss-tolerant multicast delivery.
// An Instance owns no goroutine of its own — every method is meant to be
// invoked from the single event-loop thread that also drives the
// transport and timers (see internal/loop), matching the engine's
// single-threaded cooperative concurrency model.
package totemsrp

import (
	"time"

	"github.com/corosync/corosync-sub008/internal/wire"
	"github.com/corosync/corosync-sub008/seqno"
)

// State is one of the four SRP membership states.
type State int

const (
	StateGather State = iota
	StateCommit
	StateRecovery
	StateOperational
)

func (s State) String() string {
	switch s {
	case StateGather:
		return "GATHER"
	case StateCommit:
		return "COMMIT"
	case StateRecovery:
		return "RECOVERY"
	case StateOperational:
		return "OPERATIONAL"
	default:
		return "UNKNOWN"
	}
}

// Config bounds the protocol's timers and flow-control thresholds.
type Config struct {
	WindowSize                 uint32
	MaxMessages                int
	ReceiveWindowSize          uint32
	TokenTimeout               time.Duration
	ConsensusTimeout           time.Duration
	JoinTimeout                time.Duration
	TokenRetransmitTimeout     time.Duration
	TokenRetransmitsBeforeLoss int
	FailToRecvConst            int
	SeqnoUnchangedConst        int
	MaxNoContSendmsgFailures   int
	MaxNoContGather            int
}

// DefaultConfig mirrors the totem defaults used across the corosync
// ecosystem: a 50-message window, 4 token retransmits before declaring
// token loss, and a 1 second base token timeout.
func DefaultConfig() Config {
	return Config{
		WindowSize:                 50,
		MaxMessages:                17,
		ReceiveWindowSize:          2048,
		TokenTimeout:               1 * time.Second,
		ConsensusTimeout:           1200 * time.Millisecond,
		JoinTimeout:                100 * time.Millisecond,
		TokenRetransmitTimeout:     238 * time.Millisecond,
		TokenRetransmitsBeforeLoss: 4,
		FailToRecvConst:            2500,
		SeqnoUnchangedConst:        30,
		MaxNoContSendmsgFailures:   3,
		MaxNoContGather:            3,
	}
}

// ConfigChangeKind distinguishes the transitional configuration (old
// members minus the ones that left, delivered before any message of the
// new ring) from the regular configuration that follows it.
type ConfigChangeKind int

const (
	ConfigChangeTransitional ConfigChangeKind = iota
	ConfigChangeRegular
)

// ConfigChangeEvent is delivered to ConfChgFunc on every membership
// change, in the order transitional-then-regular required by §5's
// ordering guarantee.
type ConfigChangeEvent struct {
	Kind    ConfigChangeKind
	RingID  wire.RingID
	Members []uint32
	Joined  []uint32
	Left    []uint32
}

// DeliverFunc is invoked once per agreed- or safe-delivered message, in
// strictly increasing seq order, identical at every surviving processor
// for a fixed RingID.
type DeliverFunc func(ringID wire.RingID, seq seqno.SeqNo, nodeID uint32, msg []byte)

// ConfChgFunc is invoked for every membership change.
type ConfChgFunc func(ev ConfigChangeEvent)

// TokenHookFunc is invoked from the event-loop thread at a specific
// point in this node's token handling. Higher layers (totempg's
// callback_token_create) use it to schedule work relative to the
// token hold without SRP itself knowing what that work is.
type TokenHookFunc func()
