// Package loop implements the single-threaded cooperative event loop
// that owns Totem SRP, TotemPG, and the transport descriptors. Nothing
// outside this package's Run goroutine ever touches SRP/PG/transport
// state, so those layers need no internal locking.
package loop

import (
	"container/heap"
	"time"

	"golang.org/x/sys/unix"

	"github.com/corosync/corosync-sub008/corerr"
)

// IOEvent selects which readiness conditions a poll callback wants.
type IOEvent uint32

const (
	EventRead IOEvent = unix.EPOLLIN
	EventWrite IOEvent = unix.EPOLLOUT
)

// PollCallback fires on the loop goroutine when fd becomes ready for
// one of the events it was registered with.
type PollCallback func(events IOEvent)

// TimerCallback fires on the loop goroutine when its deadline elapses.
// It MUST NOT block: the spec requires every user callback to run to
// completion inline.
type TimerCallback func()

// TimerHandle identifies a pending timer for TimerDel.
type TimerHandle uint64

type timerEntry struct {
	handle   TimerHandle
	deadline time.Time
	cb       TimerCallback
	canceled bool
	index    int
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

type fdEntry struct {
	fd     int
	events IOEvent
	cb     PollCallback
}

// Loop is a single-threaded, cooperatively-scheduled epoll-driven
// reactor: the core's only suspension points are poll and timer waits,
// per the concurrency model's single-threaded requirement.
type Loop struct {
	epfd     int
	fds      map[int]*fdEntry
	timers   timerHeap
	nextTick TimerHandle
	stop     chan struct{}
	stopped  bool
}

// New creates a Loop with its own epoll instance.
func New() (*Loop, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, corerr.New(corerr.CodeLibrary, "loop: epoll_create1 failed").WithCause(err)
	}
	return &Loop{
		epfd: epfd,
		fds:  make(map[int]*fdEntry),
		stop: make(chan struct{}),
	}, nil
}

// PollAdd registers fd for events, invoking cb on the loop goroutine
// whenever any of them are ready.
func (l *Loop) PollAdd(fd int, events IOEvent, cb PollCallback) error {
	if _, exists := l.fds[fd]; exists {
		return corerr.New(corerr.CodeInvalidParam, "loop: fd already registered").WithContext("fd", fd)
	}
	ev := unix.EpollEvent{Events: uint32(events), Fd: int32(fd)}
	if err := unix.EpollCtl(l.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return corerr.New(corerr.CodeLibrary, "loop: epoll_ctl add failed").WithCause(err)
	}
	l.fds[fd] = &fdEntry{fd: fd, events: events, cb: cb}
	return nil
}

// PollDel unregisters fd. It is a no-op error to delete an fd that was
// never added.
func (l *Loop) PollDel(fd int) error {
	if _, exists := l.fds[fd]; !exists {
		return corerr.New(corerr.CodeNotExist, "loop: fd not registered").WithContext("fd", fd)
	}
	delete(l.fds, fd)
	return unix.EpollCtl(l.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// TimerAdd schedules cb to fire once, after delay elapses.
func (l *Loop) TimerAdd(delay time.Duration, cb TimerCallback) TimerHandle {
	l.nextTick++
	e := &timerEntry{handle: l.nextTick, deadline: time.Now().Add(delay), cb: cb}
	heap.Push(&l.timers, e)
	return e.handle
}

// TimerDel cancels a pending timer. Canceling an already-fired or
// unknown handle is a no-op.
func (l *Loop) TimerDel(h TimerHandle) {
	for _, e := range l.timers {
		if e.handle == h {
			e.canceled = true
			return
		}
	}
}

// nextTimeout computes how long Run should block in epoll_wait: until
// the earliest live timer deadline, or -1 (block indefinitely) if none
// are pending.
func (l *Loop) nextTimeout() int {
	for l.timers.Len() > 0 {
		top := l.timers[0]
		if top.canceled {
			heap.Pop(&l.timers)
			continue
		}
		ms := int(time.Until(top.deadline) / time.Millisecond)
		if ms < 0 {
			ms = 0
		}
		return ms
	}
	return -1
}

// runDueTimers fires every timer whose deadline has elapsed, in
// deadline order, inline on the caller's goroutine.
func (l *Loop) runDueTimers() {
	now := time.Now()
	for l.timers.Len() > 0 {
		top := l.timers[0]
		if top.canceled {
			heap.Pop(&l.timers)
			continue
		}
		if top.deadline.After(now) {
			return
		}
		heap.Pop(&l.timers)
		top.cb()
	}
}

// Run blocks the calling goroutine, servicing poll and timer events
// until Stop is called. This IS the core thread: every SRP/PG/transport
// callback the Loop invokes runs here, never concurrently with another.
func (l *Loop) Run() error {
	events := make([]unix.EpollEvent, 64)
	for {
		select {
		case <-l.stop:
			return nil
		default:
		}

		l.runDueTimers()
		timeout := l.nextTimeout()

		n, err := unix.EpollWait(l.epfd, events, timeout)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return corerr.New(corerr.CodeLibrary, "loop: epoll_wait failed").WithCause(err)
		}
		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			entry, ok := l.fds[fd]
			if !ok {
				continue // unregistered between wait and dispatch
			}
			entry.cb(IOEvent(events[i].Events))
		}
		l.runDueTimers()
	}
}

// Stop requests Run to return after its current iteration.
func (l *Loop) Stop() {
	if l.stopped {
		return
	}
	l.stopped = true
	close(l.stop)
}

// Close releases the epoll file descriptor. Call after Run has
// returned.
func (l *Loop) Close() error {
	return unix.Close(l.epfd)
}
