package icmap

import (
	"sync"

	"github.com/corosync/corosync-sub008/corerr"
)

// Getter computes a stats key's current value on demand, e.g. by
// reading an atomic counter maintained by totemsrp/totempg/transport.
type Getter func() Value

type statsEntry struct {
	get     Getter
	lastRaw []byte // last value observed by TriggerTrackers, for MODIFY diffing
	seen    bool   // false until the first TriggerTrackers pass seeds lastRaw
}

// StatsMap is the read-only specialization of icmap: keys are
// synthesized from live counters by components registering
// descriptors, never by client Set/Delete/AdjustInt calls.
type StatsMap struct {
	mu    sync.RWMutex
	index map[string]*statsEntry
	trackerRegistry
}

// NewStatsMap creates an empty stats map.
func NewStatsMap() *StatsMap {
	return &StatsMap{index: make(map[string]*statsEntry)}
}

// Register installs a static counter key, e.g. "stats.srp.orf_token_tx".
func (s *StatsMap) Register(key string, get Getter) {
	s.mu.Lock()
	s.index[key] = &statsEntry{get: get}
	s.mu.Unlock()
}

// AddDynamic installs a key for a dynamic sub-tree entry (per-node,
// per-link, per-connection) and fires an ADD notify, mirroring how the
// transport/IPC layers populate these trees as connections form.
func (s *StatsMap) AddDynamic(key string, get Getter) {
	s.mu.Lock()
	s.index[key] = &statsEntry{get: get}
	s.mu.Unlock()
	v := get()
	s.notify(EventAdd, key, &v, nil)
}

// RemoveDynamic removes a dynamic sub-tree entry and fires a DELETE
// notify with its last known value.
func (s *StatsMap) RemoveDynamic(key string) {
	s.mu.Lock()
	e, ok := s.index[key]
	if ok {
		delete(s.index, key)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	old := e.get()
	s.notify(EventDelete, key, nil, &old)
}

// Get computes and returns the current value of key.
func (s *StatsMap) Get(key string) (Value, error) {
	s.mu.RLock()
	e, ok := s.index[key]
	s.mu.RUnlock()
	if !ok {
		return Value{}, corerr.ErrNotExist
	}
	return e.get(), nil
}

// Set, Delete, and AdjustInt are NOT_SUPPORTED on the stats map: values
// are computed from live counters, not client-writable.
func (s *StatsMap) Set(string, Value) error       { return corerr.ErrNotSupported }
func (s *StatsMap) Delete(string) error           { return corerr.ErrNotSupported }
func (s *StatsMap) AdjustInt(string, int64) error { return corerr.ErrNotSupported }

// IterInit enumerates every registered key with the given prefix.
func (s *StatsMap) IterInit(prefix string) *StatsIterator {
	s.mu.RLock()
	keys := make([]string, 0, len(s.index))
	for k := range s.index {
		if hasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	s.mu.RUnlock()
	return &StatsIterator{s: s, keys: keys}
}

func hasPrefix(key, prefix string) bool {
	return len(key) >= len(prefix) && key[:len(prefix)] == prefix
}

// StatsIterator walks a snapshot of stats keys taken at IterInit time.
type StatsIterator struct {
	s    *StatsMap
	keys []string
	pos  int
}

func (it *StatsIterator) Next() (key string, value Value, ok bool) {
	if it.pos >= len(it.keys) {
		return "", Value{}, false
	}
	key = it.keys[it.pos]
	it.pos++
	value, err := it.s.Get(key)
	if err != nil {
		return it.Next()
	}
	return key, value, true
}

// TrackAdd and TrackDelete share the same tracker semantics as Map.
func (s *StatsMap) TrackAdd(keyOrPrefix string, mask Mask, cb TrackCallback, userData any) (Token, error) {
	return s.trackerRegistry.add(keyOrPrefix, mask, cb, userData)
}

func (s *StatsMap) TrackDelete(token Token) {
	s.trackerRegistry.delete(token)
}

// TriggerTrackers re-reads every non-prefix tracker's current value and
// fires a MODIFY notify if the bytes changed since the last trigger
// pass. Intended to be called periodically from the event loop's timer
// facility (spec §4.3), since stats counters change without going
// through Set/AdjustInt.
func (s *StatsMap) TriggerTrackers() {
	for _, te := range s.snapshotNonPrefix() {
		s.mu.Lock()
		e, ok := s.index[te.key]
		s.mu.Unlock()
		if !ok {
			continue
		}
		cur := e.get()
		s.mu.Lock()
		changed := e.seen && !bytesEqual(e.lastRaw, cur.Data)
		e.lastRaw = append([]byte(nil), cur.Data...)
		e.seen = true
		s.mu.Unlock()
		if changed {
			old := cur
			s.notify(EventModify, te.key, &cur, &old)
		}
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
