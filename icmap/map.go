package icmap

import (
	"strings"
	"sync"

	"github.com/corosync/corosync-sub008/corerr"
)

// Map is the client-writable key/value store: configuration, runtime
// tuning, and the sizing constants loaded at startup all live here
// under the key-name rules in the spec's data model.
type Map struct {
	mu   sync.RWMutex
	t    *trie
	ro   map[string]bool // exact-key read-only flags
	roPx []string        // read-only prefixes
	trackerRegistry
}

// New creates an empty, writable map.
func New() *Map {
	return &Map{t: newTrie(), ro: make(map[string]bool)}
}

func (m *Map) readOnlyLocked(key string) bool {
	if m.ro[key] {
		return true
	}
	for _, p := range m.roPx {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// Set installs value at key, replacing any existing entry. Setting an
// identical (type, bytes) value is a no-op: no notify fires.
func (m *Map) Set(key string, value Value) error {
	if err := validateKeyName(key); err != nil {
		return err
	}
	if err := validateValue(value.Type, value.Data); err != nil {
		return err
	}
	m.mu.Lock()
	if m.readOnlyLocked(key) {
		m.mu.Unlock()
		return corerr.New(corerr.CodeInvalidParam, "icmap: key is read-only").WithContext("key", key)
	}
	old, existed := m.t.get(key)
	if existed && old.Equal(value) {
		m.mu.Unlock()
		return nil
	}
	_, _ = m.t.set(key, value)
	m.mu.Unlock()

	if existed {
		m.notify(EventModify, key, &value, &old)
	} else {
		m.notify(EventAdd, key, &value, nil)
	}
	return nil
}

// Get returns the value stored at key, or corerr.ErrNotExist.
func (m *Map) Get(key string) (Value, error) {
	m.mu.RLock()
	v, ok := m.t.get(key)
	m.mu.RUnlock()
	if !ok {
		return Value{}, corerr.ErrNotExist
	}
	return v, nil
}

// Delete removes key. The key must exist and not be read-only.
func (m *Map) Delete(key string) error {
	m.mu.Lock()
	if m.readOnlyLocked(key) {
		m.mu.Unlock()
		return corerr.New(corerr.CodeInvalidParam, "icmap: key is read-only").WithContext("key", key)
	}
	old, existed := m.t.delete(key)
	m.mu.Unlock()
	if !existed {
		return corerr.ErrNotExist
	}
	m.notify(EventDelete, key, nil, &old)
	return nil
}

// AdjustInt adds step to the integer stored at key, wrapping within the
// type's width, and fires a Modify notify with distinct old/new values.
func (m *Map) AdjustInt(key string, step int64) error {
	m.mu.Lock()
	old, ok := m.t.get(key)
	if !ok {
		m.mu.Unlock()
		return corerr.ErrNotExist
	}
	cur, width, isInt := old.asUint64()
	if !isInt {
		m.mu.Unlock()
		return corerr.New(corerr.CodeInvalidParam, "icmap: adjust_int on non-integer key").WithContext("key", key)
	}
	next := wrapAdd(old.Type, cur, step, width)
	newVal := newIntValue(old.Type, next)
	if newVal.Equal(old) {
		m.mu.Unlock()
		return nil
	}
	m.t.set(key, newVal)
	m.mu.Unlock()
	m.notify(EventModify, key, &newVal, &old)
	return nil
}

// FastAdjustInt behaves like AdjustInt but mutates the stored bytes in
// place and fires the notify with old and new aliasing the same
// backing array, matching the spec's fast-path semantics.
func (m *Map) FastAdjustInt(key string, step int64) error {
	m.mu.Lock()
	node := m.t.descend(key, false)
	if node == nil || !node.hasValue {
		m.mu.Unlock()
		return corerr.ErrNotExist
	}
	cur, width, isInt := node.value.asUint64()
	if !isInt {
		m.mu.Unlock()
		return corerr.New(corerr.CodeInvalidParam, "icmap: fast_adjust_int on non-integer key").WithContext("key", key)
	}
	next := wrapAdd(node.value.Type, cur, step, width)
	writeUint64(node.value.Data, next)
	aliased := node.value
	m.mu.Unlock()
	m.notify(EventModify, key, &aliased, &aliased)
	return nil
}

// IterInit returns an Iterator snapshotting every key currently present
// with the given prefix (empty prefix iterates the whole map).
func (m *Map) IterInit(prefix string) *Iterator {
	m.mu.RLock()
	keys := m.t.keysWithPrefix(prefix)
	m.mu.RUnlock()
	return &Iterator{m: m, keys: keys}
}

// Iterator walks a snapshot of keys taken at IterInit time.
type Iterator struct {
	m    *Map
	keys []string
	pos  int
}

// Next returns the next (key, value) pair, or ok=false when exhausted.
// A key deleted between IterInit and Next is skipped.
func (it *Iterator) Next() (key string, value Value, ok bool) {
	for it.pos < len(it.keys) {
		k := it.keys[it.pos]
		it.pos++
		it.m.mu.RLock()
		v, present := it.m.t.get(k)
		it.m.mu.RUnlock()
		if present {
			return k, v, true
		}
	}
	return "", Value{}, false
}

// Finalize releases iterator resources. Provided for API parity with
// the source's iter_init/iter_next/iter_finalize triad; a snapshot
// iterator has nothing to release.
func (it *Iterator) Finalize() {}

// TrackAdd registers a tracker on keyOrPrefix (prefix when mask
// includes MaskPrefix).
func (m *Map) TrackAdd(keyOrPrefix string, mask Mask, cb TrackCallback, userData any) (Token, error) {
	return m.trackerRegistry.add(keyOrPrefix, mask, cb, userData)
}

// TrackDelete unregisters a tracker previously returned by TrackAdd.
func (m *Map) TrackDelete(token Token) {
	m.trackerRegistry.delete(token)
}

// SetROAccess marks keyOrPrefix read-only (on=true) or writable
// (on=false). When prefix is true, keyOrPrefix is matched as a prefix
// against every future write.
func (m *Map) SetROAccess(keyOrPrefix string, prefix bool, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prefix {
		idx := indexOf(m.roPx, keyOrPrefix)
		if on {
			if idx >= 0 {
				return corerr.ErrExist
			}
			m.roPx = append(m.roPx, keyOrPrefix)
			return nil
		}
		if idx < 0 {
			return corerr.ErrNotExist
		}
		m.roPx = append(m.roPx[:idx], m.roPx[idx+1:]...)
		return nil
	}
	if on {
		if m.ro[keyOrPrefix] {
			return corerr.ErrExist
		}
		m.ro[keyOrPrefix] = true
		return nil
	}
	if !m.ro[keyOrPrefix] {
		return corerr.ErrNotExist
	}
	delete(m.ro, keyOrPrefix)
	return nil
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

// Len reports the number of entries currently stored.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.len()
}

// CopyMap deep-copies every entry of src into dst. The first Set error
// stops the copy and is returned.
func CopyMap(dst, src *Map) error {
	var firstErr error
	it := src.IterInit("")
	for {
		key, val, ok := it.Next()
		if !ok {
			break
		}
		if firstErr != nil {
			continue
		}
		cp := Value{Type: val.Type, Data: append([]byte(nil), val.Data...)}
		if err := dst.Set(key, cp); err != nil {
			firstErr = err
		}
	}
	return firstErr
}

// KeyValueEq implements key_value_eq: true iff both entries exist,
// types match, and bytes match under the type-appropriate length.
func KeyValueEq(m1 *Map, k1 string, m2 *Map, k2 string) bool {
	v1, err1 := m1.Get(k1)
	v2, err2 := m2.Get(k2)
	if err1 != nil || err2 != nil {
		return false
	}
	return v1.Equal(v2)
}
