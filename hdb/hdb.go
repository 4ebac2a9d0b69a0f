// Package hdb implements the check-tagged handle database used to hand
// opaque 64-bit handles to library/IPC clients while keeping the live
// Go value on the executive side of that boundary. A handle is
// (check<<32)|index; check is a random per-slot cookie that makes a
// stale or forged handle fail fast instead of aliasing a reused slot.
package hdb

import (
	"crypto/rand"
	"encoding/binary"
	"sync"

	"github.com/corosync/corosync-sub008/corerr"
)

type state int

const (
	stateEmpty state = iota
	statePendingRemoval
	stateActive
)

type entry struct {
	state    state
	instance any
	refcount uint32
	check    uint32
}

// Destructor is invoked exactly once, after the table's lock has been
// released, when an instance's refcount drops to zero after Destroy.
type Destructor func(instance any)

// Handle is the opaque 64-bit identifier handed to callers.
type Handle uint64

func makeHandle(check uint32, index int) Handle {
	return Handle(uint64(check)<<32 | uint64(uint32(index)))
}

func split(h Handle) (check uint32, index int) {
	return uint32(h >> 32), int(uint32(h))
}

// Database is a check-tagged handle table with a single per-table mutex.
type Database struct {
	mu      sync.Mutex
	entries []entry
	free    []int
	destroy Destructor
}

// New creates an empty handle database. destroy is invoked at most once
// per handle, after its refcount reaches zero following Destroy.
func New(destroy Destructor) *Database {
	return &Database{destroy: destroy}
}

func randomCheck() (uint32, error) {
	for attempts := 0; attempts < 200; attempts++ {
		var buf [4]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, corerr.New(corerr.CodeNoMemory, "hdb: rng failure").WithCause(err)
		}
		if v := binary.BigEndian.Uint32(buf[:]); v != 0 {
			return v, nil
		}
	}
	return 0, corerr.New(corerr.CodeNoMemory, "hdb: rng returned zero 200 times in a row")
}

// Create allocates a new handle bound to instance, reusing a freed slot
// if one is available. The returned refcount is 1, implicitly held by
// the caller until Put or Destroy.
func (d *Database) Create(instance any) (Handle, error) {
	check, err := randomCheck()
	if err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	var idx int
	if n := len(d.free); n > 0 {
		idx = d.free[n-1]
		d.free = d.free[:n-1]
	} else {
		idx = len(d.entries)
		d.entries = append(d.entries, entry{})
	}
	d.entries[idx] = entry{
		state:    stateActive,
		instance: instance,
		refcount: 1,
		check:    check,
	}
	return makeHandle(check, idx), nil
}

// lookupLive resolves h to an index whose slot is ACTIVE: the only state
// in which new references may be taken.
func (d *Database) lookupLive(h Handle) (int, error) {
	check, idx := split(h)
	if idx < 0 || idx >= len(d.entries) {
		return 0, corerr.ErrBadHandle
	}
	e := &d.entries[idx]
	if e.state != stateActive || e.check != check {
		return 0, corerr.ErrBadHandle
	}
	return idx, nil
}

// lookupReleasable resolves h to an index whose slot is ACTIVE or
// PENDING_REMOVAL: both may still release an outstanding reference.
func (d *Database) lookupReleasable(h Handle) (int, error) {
	check, idx := split(h)
	if idx < 0 || idx >= len(d.entries) {
		return 0, corerr.ErrBadHandle
	}
	e := &d.entries[idx]
	if (e.state != stateActive && e.state != statePendingRemoval) || e.check != check {
		return 0, corerr.ErrBadHandle
	}
	return idx, nil
}

// Get resolves h to its instance, incrementing refcount. A handle whose
// check is stale, whose index is out of range, or whose slot is not
// ACTIVE (including an already-destroyed handle) fails with
// corerr.ErrBadHandle.
func (d *Database) Get(h Handle) (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	idx, err := d.lookupLive(h)
	if err != nil {
		return nil, err
	}
	d.entries[idx].refcount++
	return d.entries[idx].instance, nil
}

// Put releases a reference acquired via Get or Create. When refcount
// reaches zero the destructor runs and the slot is returned to the
// free list.
func (d *Database) Put(h Handle) error {
	d.mu.Lock()
	check, idx := split(h)
	if idx < 0 || idx >= len(d.entries) {
		d.mu.Unlock()
		return corerr.ErrBadHandle
	}
	e := &d.entries[idx]
	if e.state == stateEmpty || e.check != check {
		d.mu.Unlock()
		return corerr.ErrBadHandle
	}
	if e.refcount == 0 {
		d.mu.Unlock()
		return corerr.New(corerr.CodeLibrary, "hdb: refcount underflow")
	}
	e.refcount--
	var instance any
	final := e.refcount == 0
	if final {
		instance = e.instance
		*e = entry{}
		d.free = append(d.free, idx)
	}
	d.mu.Unlock()

	if final && d.destroy != nil {
		d.destroy(instance)
	}
	return nil
}

// Destroy marks h pending removal, then releases the caller's implicit
// reference. The destructor still only runs once every outstanding Get
// has been matched by a Put.
func (d *Database) Destroy(h Handle) error {
	d.mu.Lock()
	idx, err := d.lookupLive(h)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	d.entries[idx].state = statePendingRemoval
	d.mu.Unlock()
	return d.Put(h)
}

// Iterator walks every active entry, skipping pending-removal and empty
// slots.
type Iterator struct {
	d   *Database
	pos int
}

// IteratorReset returns a fresh iterator positioned before the first slot.
func (d *Database) IteratorReset() *Iterator {
	return &Iterator{d: d, pos: 0}
}

// Next advances the iterator and returns the next active instance and
// its handle, or ok=false when exhausted.
func (it *Iterator) Next() (instance any, h Handle, ok bool) {
	it.d.mu.Lock()
	defer it.d.mu.Unlock()
	for it.pos < len(it.d.entries) {
		idx := it.pos
		it.pos++
		e := &it.d.entries[idx]
		if e.state == stateActive {
			return e.instance, makeHandle(e.check, idx), true
		}
	}
	return nil, 0, false
}
