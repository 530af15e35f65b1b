package trellis

import (
	"fmt"
)

// Map is a handle to a map container. Concurrent writes to a key resolve
// to the write with the greatest (lamport, peer).
type Map struct {
	doc *Doc
	id  ContainerID
}

// ID returns the container id.
func (m *Map) ID() ContainerID { return m.id }

// Type returns MapType.
func (m *Map) Type() ContainerType { return MapType }

// Subscribe registers fn for diffs of this map and its descendants.
func (m *Map) Subscribe(fn func(*EventBatch)) *Subscription {
	return m.doc.SubscribeContainer(m.id, fn)
}

// Set sets key to v.
func (m *Map) Set(key string, v any) error {
	nv, err := normalizeValue(v)
	if err != nil {
		return err
	}
	d := m.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err = m.setLocked(key, func(ID) any { return nv }, false)
	return err
}

// Delete removes key. Deleting a missing key is a no-op.
func (m *Map) Delete(key string) error {
	d := m.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.editable(); err != nil {
		return err
	}
	if _, ok := d.reg.ensure(m.id).mp.get(key, d.stateVV); !ok {
		return nil
	}
	_, err := m.setLocked(key, nil, true)
	return err
}

// SetContainer creates a new container of the given kind under key and
// returns its handle.
func (m *Map) SetContainer(key string, kind ContainerType) (Container, error) {
	if !kind.valid() {
		return nil, fmt.Errorf("%w: %s", ErrWrongContainerType, kind)
	}
	d := m.doc
	d.mu.Lock()
	v, err := m.setLocked(key, func(id ID) any {
		return NormalContainerID(id, kind)
	}, false)
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return d.handle(v.(ContainerID)), nil
}

// setLocked requires doc.mu.
func (m *Map) setLocked(key string, value func(ID) any, deleted bool) (any, error) {
	d := m.doc
	if err := d.editable(); err != nil {
		return nil, err
	}
	d.reg.ensure(m.id)
	id, lamport := d.nextAtom()
	set := &MapSet{Key: key, Deleted: deleted}
	if !deleted {
		set.Value = value(id)
	}
	d.pushOp(Op{Container: m.id, Counter: id.Counter, Content: set}, lamport)
	return set.Value, nil
}

// Get returns the value of key. Child containers are returned as handles.
func (m *Map) Get(key string) (any, bool) {
	d := m.doc
	d.mu.Lock()
	v, ok := d.reg.ensure(m.id).mp.get(key, d.stateVV)
	d.mu.Unlock()
	if cid, isContainer := v.(ContainerID); ok && isContainer {
		return d.handle(cid), true
	}
	return v, ok
}

// ContainsKey reports whether key is present.
func (m *Map) ContainsKey(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Keys returns the present keys, sorted.
func (m *Map) Keys() []string {
	d := m.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reg.ensure(m.id).mp.liveKeys(d.stateVV)
}

// Len returns the number of present keys.
func (m *Map) Len() int {
	return len(m.Keys())
}

// Value returns the map with child containers expanded.
func (m *Map) Value() map[string]any {
	d := m.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	return deepValue(d.reg, m.id, d.stateVV).(map[string]any)
}

// String returns a short description for debugging.
func (m *Map) String() string {
	return fmt.Sprintf("Map(%s)", m.id)
}
