// Package logging provides an optional asynchronous dispatch path for
// corosync.Logger sinks, so the single-threaded cooperative core never
// blocks on log I/O. It never touches SRP/PG/sq/hdb state; it only
// drains a bounded channel of already-formatted records.
package logging

import (
	"github.com/cloudwego/gopkg/concurrency/gopool"

	corosync "github.com/corosync/corosync-sub008"
)

// record is one formatted log call captured for async dispatch.
type record struct {
	level  corosync.Level
	subsys string
	fn     string
	args   []any
}

// Worker wraps a corosync.Logger and fans its Log calls out to a
// dedicated gopool so callers never wait on the sink's I/O. Records
// are dropped, not blocked on, once the queue is full: a logging
// backpressure stall must never propagate into the protocol core.
type Worker struct {
	sink  corosync.Logger
	pool  *gopool.GoPool
	queue chan record
	done  chan struct{}
}

// DefaultQueueDepth bounds how many formatted records may be
// in flight before new ones are dropped.
const DefaultQueueDepth = 4096

// NewWorker starts a background dispatcher writing to sink. Close
// drains and stops it.
func NewWorker(sink corosync.Logger) *Worker {
	return newWorker(sink, DefaultQueueDepth)
}

func newWorker(sink corosync.Logger, queueDepth int) *Worker {
	w := &Worker{
		sink:  sink,
		pool:  gopool.NewGoPool("corosync-logging", nil),
		queue: make(chan record, queueDepth),
		done:  make(chan struct{}),
	}
	w.pool.Go(w.run)
	return w
}

func (w *Worker) run() {
	defer close(w.done)
	for rec := range w.queue {
		w.sink.Log(rec.level, rec.subsys, rec.fn, rec.args...)
	}
}

// Log enqueues a record for async dispatch, dropping it silently if
// the queue is saturated.
func (w *Worker) Log(level corosync.Level, subsys, fn string, args ...any) {
	select {
	case w.queue <- record{level: level, subsys: subsys, fn: fn, args: args}:
	default:
	}
}

// Close stops accepting new records and waits for the queue to drain.
func (w *Worker) Close() {
	close(w.queue)
	<-w.done
}
