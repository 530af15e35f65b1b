package trellis

import (
	"fmt"
)

// List is a handle to a list container.
type List struct {
	doc *Doc
	id  ContainerID
}

// ID returns the container id.
func (l *List) ID() ContainerID { return l.id }

// Type returns ListType.
func (l *List) Type() ContainerType { return ListType }

// Subscribe registers fn for diffs of this list and its descendants.
func (l *List) Subscribe(fn func(*EventBatch)) *Subscription {
	return l.doc.SubscribeContainer(l.id, fn)
}

// Insert inserts v at pos.
func (l *List) Insert(pos int, v any) error {
	nv, err := normalizeValue(v)
	if err != nil {
		return err
	}
	d := l.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err = l.insertLocked(pos, func(ID) any { return nv })
	return err
}

// Push appends v.
func (l *List) Push(v any) error {
	return l.Insert(l.Len(), v)
}

// InsertContainer creates a new container of the given kind at pos and
// returns its handle.
func (l *List) InsertContainer(pos int, kind ContainerType) (Container, error) {
	if !kind.valid() {
		return nil, fmt.Errorf("%w: %s", ErrWrongContainerType, kind)
	}
	d := l.doc
	d.mu.Lock()
	cid, err := l.insertLocked(pos, func(id ID) any {
		return NormalContainerID(id, kind)
	})
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return d.handle(cid.(ContainerID)), nil
}

// insertLocked inserts the value built from the new element's id.
// Requires doc.mu.
func (l *List) insertLocked(pos int, value func(ID) any) (any, error) {
	d := l.doc
	if err := d.editable(); err != nil {
		return nil, err
	}
	elems := d.reg.ensure(l.id).list.visible(d.stateVV)
	if pos < 0 || pos > len(elems) {
		return nil, fmt.Errorf("%w: insert at %d of %d in %s", ErrOutOfBound, pos, len(elems), l.id)
	}
	var origin *ID
	if pos > 0 {
		o := elems[pos-1].id
		origin = &o
	}
	id, lamport := d.nextAtom()
	v := value(id)
	d.pushOp(Op{
		Container: l.id,
		Counter:   id.Counter,
		Content:   &ListInsert{Pos: pos, Origin: origin, Values: []any{v}},
	}, lamport)
	return v, nil
}

// Delete removes n values at pos.
func (l *List) Delete(pos, n int) error {
	d := l.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.editable(); err != nil {
		return err
	}
	elems := d.reg.ensure(l.id).list.visible(d.stateVV)
	if pos < 0 || n < 0 || pos+n > len(elems) {
		return fmt.Errorf("%w: delete %d at %d of %d in %s", ErrOutOfBound, n, pos, len(elems), l.id)
	}
	if n == 0 {
		return nil
	}
	var targets []IDSpan
	for _, e := range elems[pos : pos+n] {
		targets = appendSpanID(targets, e.id)
	}
	id, lamport := d.nextAtom()
	d.pushOp(Op{
		Container: l.id,
		Counter:   id.Counter,
		Content:   &SeqDelete{Type: ListType, Pos: pos, Len: n, Targets: targets},
	}, lamport)
	return nil
}

// Get returns the value at pos. Child containers are returned as handles.
func (l *List) Get(pos int) (any, error) {
	values := l.Values()
	if pos < 0 || pos >= len(values) {
		return nil, fmt.Errorf("%w: get %d of %d in %s", ErrOutOfBound, pos, len(values), l.id)
	}
	return values[pos], nil
}

// Len returns the number of values.
func (l *List) Len() int {
	d := l.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.reg.ensure(l.id).list.visible(d.stateVV))
}

// Values returns the values in order. Child containers are returned as
// handles.
func (l *List) Values() []any {
	d := l.doc
	d.mu.Lock()
	raw := d.reg.ensure(l.id).list.values(d.stateVV)
	d.mu.Unlock()
	out := make([]any, len(raw))
	for i, v := range raw {
		if cid, ok := v.(ContainerID); ok {
			out[i] = d.handle(cid)
			continue
		}
		out[i] = v
	}
	return out
}

// Value returns the values with child containers expanded.
func (l *List) Value() []any {
	d := l.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	return deepValue(d.reg, l.id, d.stateVV).([]any)
}
