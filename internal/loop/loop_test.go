package loop

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPollAddFiresOnReadableFD(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	defer l.Close()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	_, err = w.WriteString("x")
	require.NoError(t, err)

	fired := make(chan struct{}, 1)
	require.NoError(t, l.PollAdd(int(r.Fd()), EventRead, func(IOEvent) {
		fired <- struct{}{}
		l.Stop()
	}))

	done := make(chan error, 1)
	go func() { done <- l.Run() }()

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("poll callback never fired")
	}

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run never returned after Stop")
	}
}

func TestPollAddRejectsDuplicateFD(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	defer l.Close()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	require.NoError(t, l.PollAdd(int(r.Fd()), EventRead, func(IOEvent) {}))
	assert.Error(t, l.PollAdd(int(r.Fd()), EventRead, func(IOEvent) {}))
}

func TestPollDelUnregistersFD(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	defer l.Close()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	require.NoError(t, l.PollAdd(int(r.Fd()), EventRead, func(IOEvent) {}))
	require.NoError(t, l.PollDel(int(r.Fd())))
	assert.Error(t, l.PollDel(int(r.Fd())))
}

func TestTimerHeapOrdersByDeadline(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	defer l.Close()

	var order []int
	l.TimerAdd(30*time.Millisecond, func() { order = append(order, 3) })
	l.TimerAdd(10*time.Millisecond, func() { order = append(order, 1) })
	l.TimerAdd(20*time.Millisecond, func() { order = append(order, 2) })

	time.Sleep(40 * time.Millisecond)
	l.runDueTimers()

	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestTimerDelCancelsBeforeFiring(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	defer l.Close()

	fired := false
	h := l.TimerAdd(5*time.Millisecond, func() { fired = true })
	l.TimerDel(h)

	time.Sleep(10 * time.Millisecond)
	l.runDueTimers()

	assert.False(t, fired)
}

func TestNextTimeoutNegativeWhenNoTimersPending(t *testing.T) {
	l, err := New()
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, -1, l.nextTimeout())
}
