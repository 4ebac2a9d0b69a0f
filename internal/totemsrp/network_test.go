package totemsrp

import (
	"net"

	"github.com/corosync/corosync-sub008/internal/transport"
)

// memNetwork is a deterministic, single-process stand-in for a real
// ring's UDP transport. Deliveries are queued rather than dispatched
// inline so a token's endless round trip around the ring never grows
// the call stack — Pump drains the queue breadth-first, bounded by a
// caller-supplied step budget.
type memNetwork struct {
	instances map[uint32]*Instance
	queue     []wireMsg
}

type wireMsg struct {
	target uint32 // 0 means multicast to every instance
	buf    []byte
}

func newMemNetwork() *memNetwork {
	return &memNetwork{instances: make(map[uint32]*Instance)}
}

func (n *memNetwork) deliver(target uint32, buf []byte) {
	n.queue = append(n.queue, wireMsg{target: target, buf: append([]byte(nil), buf...)})
}

func (n *memNetwork) broadcast(buf []byte) {
	n.queue = append(n.queue, wireMsg{target: 0, buf: append([]byte(nil), buf...)})
}

// Pump dispatches queued messages until the queue drains or maxSteps is
// reached, whichever comes first, returning how many it dispatched.
func (n *memNetwork) Pump(maxSteps int) int {
	steps := 0
	for steps < maxSteps && len(n.queue) > 0 {
		m := n.queue[0]
		n.queue = n.queue[1:]
		if m.target == 0 {
			for _, inst := range n.instances {
				inst.HandleInbound(m.buf, nil)
			}
		} else if inst, ok := n.instances[m.target]; ok {
			inst.HandleInbound(m.buf, nil)
		}
		steps++
	}
	return steps
}

type memTransport struct {
	nodeID uint32
	net    *memNetwork
	target uint32
}

func (t *memTransport) BufferAlloc() []byte     { return make([]byte, 2048) }
func (t *memTransport) BufferRelease(_ []byte)  {}
func (t *memTransport) TokenSend(msg []byte) error {
	t.net.deliver(t.target, msg)
	return nil
}
func (t *memTransport) McastFlushSend(msg []byte) error {
	t.net.broadcast(msg)
	return nil
}
func (t *memTransport) McastNoflushSend(msg []byte) error { return t.McastFlushSend(msg) }
func (t *memTransport) RecvFlush() error                 { return nil }
func (t *memTransport) SendFlush() error                 { return nil }
func (t *memTransport) IfaceSet(net.IP, uint32) error     { return nil }
func (t *memTransport) IfaceCheck() error                 { return nil }
func (t *memTransport) IfacesGet() []net.IP               { return nil }
func (t *memTransport) TokenTargetSet(nodeID uint32) error {
	t.target = nodeID
	return nil
}
func (t *memTransport) MemberAdd(uint32, net.IP) error        { return nil }
func (t *memTransport) MemberRemove(uint32) error             { return nil }
func (t *memTransport) MemberSetActive(uint32, bool) error    { return nil }
func (t *memTransport) NetMTUAdjust(configuredMax int) int    { return configuredMax }
func (t *memTransport) RecvMcastEmpty() bool                  { return true }
func (t *memTransport) StatsClear()                           {}
func (t *memTransport) CryptoSet(_, _ string) error            { return nil }
func (t *memTransport) Reconfigure(_ transport.Config) error  { return nil }
func (t *memTransport) Close() error                          { return nil }
