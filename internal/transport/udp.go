package transport

import (
	"net"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/corosync/corosync-sub008/corerr"
)

// udpTransport is the default multicast backend: one IPv4 UDP socket
// joined to the ring's multicast group, non-blocking, reusable across
// co-located processes on the same host.
type udpTransport struct {
	mu       sync.Mutex
	fd       int
	cfg      Config
	members  map[uint32]net.IP
	active   map[uint32]bool
	target   uint32
	noflush  [][]byte
	closed   bool

	cb Callbacks
}

// NewUDP binds and joins a multicast UDP socket per cfg, ready to drive
// from Callbacks once Totem SRP hands it inbound dispatch.
func NewUDP(cfg Config, cb Callbacks) (Transport, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_NONBLOCK, unix.IPPROTO_UDP)
	if err != nil {
		return nil, corerr.New(corerr.CodeLibrary, "transport: socket failed").WithCause(err)
	}
	ok := false
	defer func() {
		if !ok {
			unix.Close(fd)
		}
	}()

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return nil, corerr.New(corerr.CodeLibrary, "transport: SO_REUSEADDR failed").WithCause(err)
	}

	sa := &unix.SockaddrInet4{Port: cfg.Port}
	if cfg.BindAddr != nil {
		copy(sa.Addr[:], cfg.BindAddr.To4())
	}
	if err := unix.Bind(fd, sa); err != nil {
		return nil, corerr.New(corerr.CodeLibrary, "transport: bind failed").WithCause(err)
	}

	if cfg.McastAddr != nil {
		mreq := &unix.IPMreq{}
		copy(mreq.Multiaddr[:], cfg.McastAddr.To4())
		if cfg.BindAddr != nil {
			copy(mreq.Interface[:], cfg.BindAddr.To4())
		}
		if err := unix.SetsockoptIPMreq(fd, unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP, mreq); err != nil {
			return nil, corerr.New(corerr.CodeLibrary, "transport: IP_ADD_MEMBERSHIP failed").WithCause(err)
		}
		if cfg.TTL > 0 {
			if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_MULTICAST_TTL, cfg.TTL); err != nil {
				return nil, corerr.New(corerr.CodeLibrary, "transport: IP_MULTICAST_TTL failed").WithCause(err)
			}
		}
	}

	ok = true
	return &udpTransport{
		fd:      fd,
		cfg:     cfg,
		members: make(map[uint32]net.IP),
		active:  make(map[uint32]bool),
		cb:      cb,
	}, nil
}

// FD exposes the underlying descriptor for registration with the event
// loop's PollAdd; SRP never reads from the socket except in response to
// a readiness callback.
func (t *udpTransport) FD() int { return t.fd }

func (t *udpTransport) BufferAlloc() []byte {
	mtu := t.cfg.MTU
	if mtu <= 0 {
		mtu = 1500
	}
	return make([]byte, mtu)
}

func (t *udpTransport) BufferRelease([]byte) {}

func (t *udpTransport) sendTo(msg []byte, addr net.IP, port int) error {
	sa := &unix.SockaddrInet4{Port: port}
	copy(sa.Addr[:], addr.To4())
	err := unix.Sendto(t.fd, msg, 0, sa)
	for err == unix.EINTR {
		err = unix.Sendto(t.fd, msg, 0, sa)
	}
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return corerr.ErrTryAgain
	}
	if err != nil {
		return corerr.New(corerr.CodeLibrary, "transport: sendto failed").WithCause(err)
	}
	return nil
}

func (t *udpTransport) TokenSend(msg []byte) error {
	t.mu.Lock()
	addr, ok := t.members[t.target]
	t.mu.Unlock()
	if !ok {
		return corerr.New(corerr.CodeInvalidParam, "transport: no token target set")
	}
	return t.sendTo(msg, addr, t.cfg.Port)
}

func (t *udpTransport) McastFlushSend(msg []byte) error {
	if t.cfg.McastAddr == nil {
		return corerr.New(corerr.CodeNotSupported, "transport: no multicast group configured")
	}
	return t.sendTo(msg, t.cfg.McastAddr, t.cfg.Port)
}

// McastNoflushSend queues msg; SendFlush drains the queue in FIFO order
// as one batch, letting a processor coalesce several originations
// between scheduler yields.
func (t *udpTransport) McastNoflushSend(msg []byte) error {
	t.mu.Lock()
	t.noflush = append(t.noflush, msg)
	t.mu.Unlock()
	return nil
}

func (t *udpTransport) SendFlush() error {
	t.mu.Lock()
	pending := t.noflush
	t.noflush = nil
	t.mu.Unlock()

	for _, msg := range pending {
		if err := t.McastFlushSend(msg); err != nil {
			return err
		}
	}
	return nil
}

// RecvFlush drains every datagram currently queued on the socket,
// invoking Callbacks.Deliver for each. Called from the loop's PollAdd
// callback when the fd reports readable.
func (t *udpTransport) RecvFlush() error {
	buf := t.BufferAlloc()
	for {
		n, from, err := unix.Recvfrom(t.fd, buf, 0)
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil
		}
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return corerr.New(corerr.CodeLibrary, "transport: recvfrom failed").WithCause(err)
		}
		if t.cb.Deliver != nil {
			msg := append([]byte(nil), buf[:n]...)
			t.cb.Deliver(msg, sockaddrToNetAddr(from))
		}
	}
}

func sockaddrToNetAddr(sa unix.Sockaddr) net.Addr {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.UDPAddr{IP: net.IP(v.Addr[:]), Port: v.Port}
	default:
		return nil
	}
}

func (t *udpTransport) IfaceSet(addr net.IP, ringNo uint32) error {
	t.cfg.BindAddr = addr
	if t.cb.IfaceChange != nil {
		t.cb.IfaceChange(addr, ringNo)
	}
	return nil
}

func (t *udpTransport) IfaceCheck() error { return nil }

func (t *udpTransport) IfacesGet() []net.IP {
	if t.cfg.BindAddr == nil {
		return nil
	}
	return []net.IP{t.cfg.BindAddr}
}

func (t *udpTransport) TokenTargetSet(nodeID uint32) error {
	t.mu.Lock()
	t.target = nodeID
	t.mu.Unlock()
	if t.cb.TargetSetCompleted != nil {
		t.cb.TargetSetCompleted()
	}
	return nil
}

func (t *udpTransport) MemberAdd(nodeID uint32, addr net.IP) error {
	t.mu.Lock()
	t.members[nodeID] = addr
	t.mu.Unlock()
	return nil
}

func (t *udpTransport) MemberRemove(nodeID uint32) error {
	t.mu.Lock()
	delete(t.members, nodeID)
	delete(t.active, nodeID)
	t.mu.Unlock()
	return nil
}

func (t *udpTransport) MemberSetActive(nodeID uint32, active bool) error {
	t.mu.Lock()
	t.active[nodeID] = active
	t.mu.Unlock()
	return nil
}

func (t *udpTransport) NetMTUAdjust(configuredMax int) int {
	// Leave room for the fixed wire header; see internal/wire.HeaderSize.
	const headerOverhead = 13
	usable := configuredMax - headerOverhead
	if usable < 0 {
		usable = 0
	}
	t.cfg.MTU = usable
	if t.cb.MTUChanged != nil {
		t.cb.MTUChanged(usable)
	}
	return usable
}

func (t *udpTransport) RecvMcastEmpty() bool {
	var pfd unix.PollFd
	pfd.Fd = int32(t.fd)
	pfd.Events = unix.POLLIN
	n, err := unix.Poll([]unix.PollFd{pfd}, 0)
	return err == nil && n == 0
}

func (t *udpTransport) StatsClear() {}

func (t *udpTransport) CryptoSet(cipher, hash string) error {
	t.cfg.Cipher, t.cfg.Hash = cipher, hash
	return nil
}

func (t *udpTransport) Reconfigure(cfg Config) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cfg.MTU > 0 {
		t.cfg.MTU = cfg.MTU
	}
	if cfg.Cipher != "" {
		t.cfg.Cipher = cfg.Cipher
	}
	if cfg.Hash != "" {
		t.cfg.Hash = cfg.Hash
	}
	if cfg.TTL > 0 {
		t.cfg.TTL = cfg.TTL
		return unix.SetsockoptInt(t.fd, unix.IPPROTO_IP, unix.IP_MULTICAST_TTL, cfg.TTL)
	}
	return nil
}

func (t *udpTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return unix.Close(t.fd)
}
