package icmap

import (
	"strings"
	"sync"

	"github.com/corosync/corosync-sub008/corerr"
)

// Event identifies the kind of mutation a tracker observed.
type Event int

const (
	EventAdd Event = iota
	EventModify
	EventDelete
)

// Mask bits select which events a tracker subscribes to. MaskPrefix
// additionally turns key_or_prefix from an exact match into a prefix
// match.
type Mask uint32

const (
	MaskAdd Mask = 1 << iota
	MaskModify
	MaskDelete
	MaskPrefix
)

// TrackCallback is invoked synchronously, after the mutation that
// triggered it commits. For EventDelete, newVal is nil. For a
// fast_adjust_int mutation, newVal and oldVal alias the same backing
// array; the callback must tolerate that.
type TrackCallback func(event Event, key string, newVal, oldVal *Value, userData any)

// Token identifies a registered tracker for TrackDelete.
type Token uint64

type trackerEntry struct {
	id       Token
	key      string
	mask     Mask
	callback TrackCallback
	userData any
}

func (te *trackerEntry) matches(key string, ev Event) bool {
	var evBit Mask
	switch ev {
	case EventAdd:
		evBit = MaskAdd
	case EventModify:
		evBit = MaskModify
	case EventDelete:
		evBit = MaskDelete
	}
	if te.mask&evBit == 0 {
		return false
	}
	if te.mask&MaskPrefix != 0 {
		return strings.HasPrefix(key, te.key)
	}
	return key == te.key
}

// trackerRegistry is embedded by both Map and StatsMap so the two
// share identical track_add/track_delete/notify semantics.
type trackerRegistry struct {
	mu       sync.Mutex
	nextID   Token
	trackers []*trackerEntry
}

func (r *trackerRegistry) add(keyOrPrefix string, mask Mask, cb TrackCallback, userData any) (Token, error) {
	if cb == nil {
		return 0, corerr.New(corerr.CodeInvalidParam, "icmap: nil track callback")
	}
	if mask&(MaskAdd|MaskModify|MaskDelete) == 0 {
		return 0, corerr.New(corerr.CodeInvalidParam, "icmap: track mask selects no events")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	te := &trackerEntry{id: r.nextID, key: keyOrPrefix, mask: mask, callback: cb, userData: userData}
	r.trackers = append(r.trackers, te)
	return te.id, nil
}

func (r *trackerRegistry) delete(token Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, te := range r.trackers {
		if te.id == token {
			r.trackers = append(r.trackers[:i], r.trackers[i+1:]...)
			return
		}
	}
}

// notify fires every matching tracker synchronously, on the caller's
// goroutine, after the mutation that produced (newVal, oldVal) has
// already committed to storage.
func (r *trackerRegistry) notify(ev Event, key string, newVal, oldVal *Value) {
	r.mu.Lock()
	matched := make([]*trackerEntry, 0, 4)
	for _, te := range r.trackers {
		if te.matches(key, ev) {
			matched = append(matched, te)
		}
	}
	r.mu.Unlock()

	for _, te := range matched {
		te.callback(ev, key, newVal, oldVal, te.userData)
	}
}

func (r *trackerRegistry) snapshotNonPrefix() []*trackerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*trackerEntry, 0, len(r.trackers))
	for _, te := range r.trackers {
		if te.mask&MaskPrefix == 0 {
			out = append(out, te)
		}
	}
	return out
}
