// Package transport defines the abstract network contract Totem SRP
// drives, plus a concrete UDP multicast/unicast backend. Transports
// preserve message boundaries and never reorder at their own layer;
// SRP tolerates loss, duplication, and late arrival above it.
package transport

import "net"

// DeliverFunc is invoked once per inbound datagram, with the raw bytes
// and the address it arrived from.
type DeliverFunc func(msg []byte, from net.Addr)

// IfaceChangeFunc fires when a local interface address changes.
type IfaceChangeFunc func(addr net.IP, ringNo uint32)

// MTUChangedFunc fires when the transport's usable payload size changes
// (e.g. a path MTU discovery event).
type MTUChangedFunc func(netMTU int)

// TargetSetCompletedFunc fires once TokenTargetSet's effect has taken
// hold (relevant for transports that reconfigure asynchronously).
type TargetSetCompletedFunc func()

// Callbacks bundles the four upcalls a Transport is constructed with,
// mirroring the fixed callback tuple every backend takes at init.
type Callbacks struct {
	Deliver             DeliverFunc
	IfaceChange         IfaceChangeFunc
	MTUChanged          MTUChangedFunc
	TargetSetCompleted  TargetSetCompletedFunc
}

// Transport is the contract Totem SRP drives; one instance exists per
// configured network interface (ring). Implementations MUST preserve
// datagram boundaries and MUST NOT reorder at their own layer; they MAY
// drop or duplicate arbitrarily, which SRP repairs via RTR.
type Transport interface {
	// BufferAlloc returns an MTU-sized datagram buffer owned by the
	// caller until BufferRelease.
	BufferAlloc() []byte
	BufferRelease(buf []byte)

	// TokenSend unicasts msg to the current token target.
	TokenSend(msg []byte) error
	// McastFlushSend is a best-effort multicast, sent immediately.
	McastFlushSend(msg []byte) error
	// McastNoflushSend queues msg for the next SendFlush instead of
	// sending it immediately; each queued msg still goes out as its own
	// datagram.
	McastNoflushSend(msg []byte) error

	// RecvFlush and SendFlush drain pending I/O synchronously.
	RecvFlush() error
	SendFlush() error

	// IfaceSet installs the local interface address for ring ringNo.
	IfaceSet(addr net.IP, ringNo uint32) error
	// IfaceCheck re-validates the installed interface is still usable.
	IfaceCheck() error
	// IfacesGet returns every interface address this transport is bound to.
	IfacesGet() []net.IP

	// TokenTargetSet changes the unicast destination for TokenSend.
	TokenTargetSet(nodeID uint32) error

	// MemberAdd, MemberRemove, and MemberSetActive maintain the
	// explicit peer list unicast transports (UDPU) require; multicast
	// transports may no-op.
	MemberAdd(nodeID uint32, addr net.IP) error
	MemberRemove(nodeID uint32) error
	MemberSetActive(nodeID uint32, active bool) error

	// NetMTUAdjust recomputes the usable payload size for a given
	// configured maximum, e.g. after a MTUChanged callback.
	NetMTUAdjust(configuredMax int) int

	// RecvMcastEmpty reports true if no multicast datagrams are
	// currently queued for receipt (used to gate recovery transitions).
	RecvMcastEmpty() bool

	// StatsClear resets this transport's counters.
	StatsClear()

	// CryptoSet installs the cipher/hash pair used to protect datagrams
	// in transit.
	CryptoSet(cipher, hash string) error

	// Reconfigure applies a new Config without tearing down the socket,
	// where the change allows it (e.g. crypto algorithm, MTU ceiling).
	Reconfigure(cfg Config) error

	// Close releases the transport's sockets and descriptors.
	Close() error
}

// Config carries the subset of cluster configuration a Transport needs
// to bind and size itself, built at startup from the cluster profile's
// [transport] section (config.Profile.TransportConfig).
type Config struct {
	BindAddr    net.IP
	McastAddr   net.IP
	Port        int
	MTU         int
	TTL         int
	Cipher      string
	Hash        string
}
