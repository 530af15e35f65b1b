package trellis

import "slices"

// containerState is the registry entry of one container. The parent link
// is recorded once, from the op that created the container.
type containerState struct {
	id     ContainerID
	parent ContainerID
	key    string // map key under the parent, if the parent is a map
	seq    int

	text *seqStore[rune]
	list *seqStore[any]
	mp   *mapStore
	tree *treeStore
}

func newContainerState(id ContainerID, seq int) *containerState {
	cs := &containerState{id: id, seq: seq}
	switch id.Type {
	case TextType:
		cs.text = newSeqStore[rune]()
	case ListType:
		cs.list = newSeqStore[any]()
	case MapType:
		cs.mp = newMapStore()
	case TreeType:
		cs.tree = newTreeStore()
	}
	return cs
}

// registry is the arena of containers keyed by id.
type registry struct {
	containers map[ContainerID]*containerState
	children   map[ContainerID][]ContainerID
	nextSeq    int
}

func newRegistry() *registry {
	return &registry{
		containers: make(map[ContainerID]*containerState),
		children:   make(map[ContainerID][]ContainerID),
	}
}

func (r *registry) get(id ContainerID) (*containerState, bool) {
	cs, ok := r.containers[id]
	return cs, ok
}

// ensure returns the container, creating it on first use.
func (r *registry) ensure(id ContainerID) *containerState {
	if cs, ok := r.containers[id]; ok {
		return cs
	}
	cs := newContainerState(id, r.nextSeq)
	r.nextSeq++
	r.containers[id] = cs
	return cs
}

// roots returns the root containers in creation order.
func (r *registry) roots() []*containerState {
	var out []*containerState
	for _, cs := range r.containers {
		if cs.id.IsRoot() {
			out = append(out, cs)
		}
	}
	slices.SortFunc(out, func(a, b *containerState) int { return a.seq - b.seq })
	return out
}

// applyOp applies one op with its first-atom lamport. Children created by
// the op are registered with their parent link.
func (r *registry) applyOp(peer PeerID, op Op, lamport Lamport) {
	cs := r.ensure(op.Container)
	id := NewID(peer, op.Counter)
	switch c := op.Content.(type) {
	case *TextInsert:
		cs.text.insert(c.Origin, id, lamport, []rune(c.Text))
	case *ListInsert:
		cs.list.insert(c.Origin, id, lamport, c.Values)
	case *SeqDelete:
		if cs.text != nil {
			cs.text.markDeleted(c.Targets, id)
		} else if cs.list != nil {
			cs.list.markDeleted(c.Targets, id)
		}
	case *MapSet:
		cs.mp.apply(id, lamport, c)
	case *TreeOp:
		cs.tree.apply(id, lamport, c)
	}
	for _, child := range op.createdContainers() {
		ccs := r.ensure(child)
		if ccs.parent.IsZero() {
			ccs.parent = op.Container
			r.children[op.Container] = append(r.children[op.Container], child)
			if set, ok := op.Content.(*MapSet); ok {
				ccs.key = set.Key
			}
		}
	}
}

// applyChange applies every op of a change.
func (r *registry) applyChange(c *Change) {
	for _, op := range c.Ops {
		r.applyOp(c.ID.Peer, op, c.lamportAt(op.Counter))
	}
}

// location is where a container sits in the visible shape of a version.
type location struct {
	path  Path
	chain []ContainerID // root first, target last
}

// locator resolves container locations at one version, memoized.
type locator struct {
	reg  *registry
	vv   VersionVector
	memo map[ContainerID]*location
}

func newLocator(reg *registry, vv VersionVector) *locator {
	return &locator{reg: reg, vv: vv, memo: make(map[ContainerID]*location)}
}

// locate returns the location of id, or nil when it is unreachable.
func (l *locator) locate(id ContainerID) *location {
	if loc, ok := l.memo[id]; ok {
		return loc
	}
	l.memo[id] = nil
	loc := l.resolve(id)
	l.memo[id] = loc
	return loc
}

func (l *locator) resolve(id ContainerID) *location {
	cs, ok := l.reg.get(id)
	if !ok {
		return nil
	}
	if id.IsRoot() {
		return &location{path: Path{Key(id.Root)}, chain: []ContainerID{id}}
	}
	if cs.parent.IsZero() {
		return nil
	}
	parent, ok := l.reg.get(cs.parent)
	if !ok {
		return nil
	}
	var step Index
	switch parent.id.Type {
	case ListType:
		i, ok := parent.list.indexOf(id.ID, l.vv)
		if !ok {
			return nil
		}
		step = Seq(i)
	case MapType:
		e, ok := parent.mp.winner(cs.key, l.vv)
		if !ok || e.deleted || e.id != id.ID {
			return nil
		}
		step = Key(cs.key)
	case TreeType:
		if !parent.tree.stateAt(l.vv).alive(TreeID(id.ID)) {
			return nil
		}
		step = Node(TreeID(id.ID))
	default:
		return nil
	}
	ploc := l.locate(cs.parent)
	if ploc == nil {
		return nil
	}
	return &location{
		path:  append(slices.Clip(ploc.path), step),
		chain: append(slices.Clip(ploc.chain), id),
	}
}
