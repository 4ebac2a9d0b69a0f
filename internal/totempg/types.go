// Package totempg implements the packet-group layer above Totem SRP:
// fragmentation/reassembly of application messages, group membership
// filtering, AGREED/SAFE guarantee tagging, and admission control.
// An Instance wraps exactly one totemsrp.Instance and, like it, is
// meant to be driven entirely from the event-loop thread.
package totempg

import (
	"github.com/corosync/corosync-sub008/internal/totemsrp"
)

// Guarantee escalates a message past best-effort ordered delivery.
type Guarantee uint8

const (
	// GuaranteeAgreed delivers a message once SRP's aru has passed its
	// seq, the same order at every surviving processor.
	GuaranteeAgreed Guarantee = iota
	// GuaranteeSafe is recorded on every frame, but delivery does not
	// wait for any further confirmation: a SAFE message is delivered at
	// the same point as an AGREED one.
	GuaranteeSafe
)

// Group names a totem process group a local instance may join.
type Group struct{ Name string }

// DeliverFunc is invoked once per reassembled message, once per
// locally joined group it was addressed to.
type DeliverFunc func(group Group, nodeID uint32, msg []byte)

// Originator is the slice of totemsrp.Instance this package drives:
// narrowed to what it needs so totempg is testable without a real
// ring, and widened with the token-hook hooks callback_token_create
// schedules against.
type Originator interface {
	OriginateMcast(msg []byte) error
	AddTokenRecvHook(h totemsrp.TokenHookFunc)
	AddTokenSendHook(h totemsrp.TokenHookFunc)
}

// TokenEventType selects which side of this node's token hold a
// callback_token_create callback runs on.
type TokenEventType int

const (
	TokenEventRecv TokenEventType = iota
	TokenEventSend
)
