package logging

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	corosync "github.com/corosync/corosync-sub008"
)

type recordingSink struct {
	mu   sync.Mutex
	logs []string
}

func (s *recordingSink) Log(level corosync.Level, subsys, fn string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, level.String()+":"+subsys+":"+fn)
}

func (s *recordingSink) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.logs...)
}

func TestWorkerDispatchesAsynchronously(t *testing.T) {
	sink := &recordingSink{}
	w := NewWorker(sink)

	w.Log(corosync.LevelInfo, "TOTEM", "Join", "seq", 1)
	w.Log(corosync.LevelWarning, "TOTEMPG", "Deliver", "group", "g1")
	w.Close()

	got := sink.snapshot()
	require.Len(t, got, 2)
	require.Equal(t, "info:TOTEM:Join", got[0])
	require.Equal(t, "warning:TOTEMPG:Deliver", got[1])
}

func TestWorkerDropsWhenQueueSaturated(t *testing.T) {
	block := make(chan struct{})
	sink := &blockingSink{block: block}
	w := newWorker(sink, 0) // unbuffered: first send blocks the worker goroutine inside sink.Log
	// a send on the unbuffered queue only succeeds once run() is waiting on it
	time.Sleep(10 * time.Millisecond)

	w.Log(corosync.LevelInfo, "TOTEM", "first") // consumed by run(), blocks there until close(block)
	// give the worker a moment to pick up the first record and block inside Log
	time.Sleep(10 * time.Millisecond)
	w.Log(corosync.LevelInfo, "TOTEM", "dropped") // queue has no reader, default branch drops it

	close(block)
	w.Close()

	require.Equal(t, 1, sink.calls())
}

type blockingSink struct {
	mu    sync.Mutex
	n     int
	block chan struct{}
}

func (s *blockingSink) Log(corosync.Level, string, string, ...any) {
	s.mu.Lock()
	s.n++
	s.mu.Unlock()
	<-s.block
}

func (s *blockingSink) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}
