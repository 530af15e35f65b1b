package trellis

import (
	"fmt"
)

// Tree is a handle to a movable tree. A nil parent means the root level.
// Every node owns a metadata map, see Meta.
type Tree struct {
	doc *Doc
	id  ContainerID
}

// ID returns the container id.
func (t *Tree) ID() ContainerID { return t.id }

// Type returns TreeType.
func (t *Tree) Type() ContainerType { return TreeType }

// Subscribe registers fn for diffs of this tree and its node metadata.
func (t *Tree) Subscribe(fn func(*EventBatch)) *Subscription {
	return t.doc.SubscribeContainer(t.id, fn)
}

// state returns the tree at the shown version. Requires doc.mu.
func (t *Tree) state() *treeState {
	d := t.doc
	return d.reg.ensure(t.id).tree.stateAt(d.stateVV)
}

// Create adds a node as the last child of parent.
func (t *Tree) Create(parent *TreeID) (TreeID, error) {
	d := t.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	return t.createLocked(parent, -1)
}

// CreateAt adds a node as child number index of parent.
func (t *Tree) CreateAt(parent *TreeID, index int) (TreeID, error) {
	d := t.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	return t.createLocked(parent, index)
}

func (t *Tree) createLocked(parent *TreeID, index int) (TreeID, error) {
	d := t.doc
	if err := d.editable(); err != nil {
		return TreeID{}, err
	}
	st := t.state()
	if parent != nil && !st.alive(*parent) {
		return TreeID{}, fmt.Errorf("%w: %s", ErrTreeNodeNotFound, parent)
	}
	if index < 0 {
		index = len(st.children(parent))
	}
	position, err := st.positionAt(parent, index, nil)
	if err != nil {
		return TreeID{}, fmt.Errorf("create at %d: %w", index, err)
	}
	id, lamport := d.nextAtom()
	target := TreeID(id)
	d.pushOp(Op{
		Container: t.id,
		Counter:   id.Counter,
		Content:   &TreeOp{Action: TreeCreate, Target: target, Parent: cloneTreeID(parent), Position: position},
	}, lamport)
	return target, nil
}

// Move makes target the last child of parent.
func (t *Tree) Move(target TreeID, parent *TreeID) error {
	d := t.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	return t.moveLocked(target, parent, -1)
}

// MoveTo makes target child number index of parent.
func (t *Tree) MoveTo(target TreeID, parent *TreeID, index int) error {
	d := t.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	return t.moveLocked(target, parent, index)
}

func (t *Tree) moveLocked(target TreeID, parent *TreeID, index int) error {
	d := t.doc
	if err := d.editable(); err != nil {
		return err
	}
	st := t.state()
	if !st.alive(target) {
		return fmt.Errorf("%w: %s", ErrTreeNodeNotFound, target)
	}
	if parent != nil && !st.alive(*parent) {
		return fmt.Errorf("%w: %s", ErrTreeNodeNotFound, parent)
	}
	if st.wouldCycle(target, parent) {
		return fmt.Errorf("%w: %s under %s", ErrCyclicMove, target, parent)
	}
	if index < 0 {
		index = len(st.children(parent))
		if sameParent(st.nodes[target].parent, parent) {
			index--
		}
	}
	position, err := st.positionAt(parent, index, &target)
	if err != nil {
		return fmt.Errorf("move to %d: %w", index, err)
	}
	id, lamport := d.nextAtom()
	d.pushOp(Op{
		Container: t.id,
		Counter:   id.Counter,
		Content:   &TreeOp{Action: TreeMove, Target: target, Parent: cloneTreeID(parent), Position: position},
	}, lamport)
	return nil
}

// Delete removes target and its subtree.
func (t *Tree) Delete(target TreeID) error {
	d := t.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.editable(); err != nil {
		return err
	}
	if !t.state().alive(target) {
		return fmt.Errorf("%w: %s", ErrTreeNodeNotFound, target)
	}
	id, lamport := d.nextAtom()
	d.pushOp(Op{
		Container: t.id,
		Counter:   id.Counter,
		Content:   &TreeOp{Action: TreeDelete, Target: target},
	}, lamport)
	return nil
}

// Parent returns the parent of target, nil at the root level.
func (t *Tree) Parent(target TreeID) (*TreeID, error) {
	d := t.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := t.state().parentOf(target)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTreeNodeNotFound, target)
	}
	return cloneTreeID(p), nil
}

// Children returns the children of parent in order.
func (t *Tree) Children(parent *TreeID) []TreeID {
	d := t.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	return t.state().children(parent)
}

// Nodes returns every live node, parents before children.
func (t *Tree) Nodes() []TreeID {
	d := t.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	return t.state().preorder()
}

// Contains reports whether target is a live node.
func (t *Tree) Contains(target TreeID) bool {
	d := t.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	return t.state().alive(target)
}

// Meta returns the metadata map of target.
func (t *Tree) Meta(target TreeID) (*Map, error) {
	d := t.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	if !t.state().alive(target) {
		return nil, fmt.Errorf("%w: %s", ErrTreeNodeNotFound, target)
	}
	cid := target.metaContainer()
	d.reg.ensure(cid)
	return &Map{doc: d, id: cid}, nil
}

// Value returns the nodes with their metadata as plain values.
func (t *Tree) Value() []any {
	d := t.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	return deepValue(d.reg, t.id, d.stateVV).([]any)
}
