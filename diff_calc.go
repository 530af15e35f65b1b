package trellis

import (
	"cmp"
	"slices"
	"unicode/utf16"

	"golang.org/x/exp/maps"
)

// diffCalculator computes the container diffs of a transition between two
// versions. wrap turns a child container id into a live handle.
type diffCalculator struct {
	reg  *registry
	from VersionVector
	to   VersionVector
	wrap func(ContainerID) Container
}

// touchedContainers returns the containers of every op in the symmetric
// difference of from and to.
func touchedContainers(log *oplog, from, to VersionVector) map[ContainerID]struct{} {
	touched := make(map[ContainerID]struct{})
	for _, changes := range [][]*Change{log.changesBetween(from, to), log.changesBetween(to, from)} {
		for _, c := range changes {
			for _, op := range c.Ops {
				touched[op.Container] = struct{}{}
			}
		}
	}
	return touched
}

// calc returns one diff per touched container reachable at c.to, plus a
// diff from empty for every container that became reachable. Only the
// touched containers and the descendants whose parent was touched or
// changed reachability are visited. Diffs are ordered by depth, then by
// container creation order.
func (c *diffCalculator) calc(touched map[ContainerID]struct{}) []ContainerDiff {
	before := newLocator(c.reg, c.from)
	after := newLocator(c.reg, c.to)

	type entry struct {
		diff  ContainerDiff
		depth int
		seq   int
	}
	var entries []entry
	queue := maps.Keys(touched)
	seen := make(map[ContainerID]bool, len(queue))
	for _, id := range queue {
		seen[id] = true
	}
	for i := 0; i < len(queue); i++ {
		id := queue[i]
		loc := after.locate(id)
		was := before.locate(id) != nil
		_, isTouched := touched[id]
		if isTouched || was != (loc != nil) {
			for _, child := range c.reg.children[id] {
				if !seen[child] {
					seen[child] = true
					queue = append(queue, child)
				}
			}
		}
		if loc == nil {
			continue
		}
		base := c.from
		if !was {
			base = NewVersionVector()
		} else if !isTouched {
			continue
		}
		diff := c.containerDiff(id, base)
		if diff == nil || diff.isEmpty() {
			continue
		}
		cs, _ := c.reg.get(id)
		entries = append(entries, entry{
			diff:  ContainerDiff{Target: id, Path: loc.path, Diff: diff, chain: loc.chain},
			depth: len(loc.path),
			seq:   cs.seq,
		})
	}
	slices.SortStableFunc(entries, func(a, b entry) int {
		if a.depth != b.depth {
			return cmp.Compare(a.depth, b.depth)
		}
		return cmp.Compare(a.seq, b.seq)
	})

	out := make([]ContainerDiff, len(entries))
	for i, e := range entries {
		out[i] = e.diff
	}
	return out
}

func (c *diffCalculator) containerDiff(id ContainerID, base VersionVector) Diff {
	cs, ok := c.reg.get(id)
	if !ok {
		return nil
	}
	switch id.Type {
	case TextType:
		return c.textDiff(cs.text, base)
	case ListType:
		return c.listDiff(cs.list, base)
	case MapType:
		return c.mapDiff(cs.mp, base)
	case TreeType:
		return c.treeDiff(cs.tree, base)
	}
	return nil
}

func (c *diffCalculator) textDiff(s *seqStore[rune], base VersionVector) *TextDiff {
	d := &TextDiff{}
	s.walk(base, c.to, func(e *seqElem[rune], ch seqChange) {
		switch ch {
		case seqRetained:
			d.retain(utf16.RuneLen(e.value))
		case seqRemoved:
			d.delete(utf16.RuneLen(e.value))
		case seqAdded:
			d.insert(e.value)
		}
	})
	d.trim()
	return d
}

func (c *diffCalculator) listDiff(s *seqStore[any], base VersionVector) *ListDiff {
	d := &ListDiff{}
	s.walk(base, c.to, func(e *seqElem[any], ch seqChange) {
		switch ch {
		case seqRetained:
			d.retain(1)
		case seqRemoved:
			d.delete(1)
		case seqAdded:
			d.insert(c.value(e.value))
		}
	})
	d.trim()
	return d
}

func (c *diffCalculator) mapDiff(m *mapStore, base VersionVector) *MapDiff {
	d := &MapDiff{Updated: make(map[string]any)}
	for _, k := range m.changedKeys(base, c.to) {
		v, ok := m.get(k, c.to)
		if !ok {
			d.Updated[k] = nil
			continue
		}
		d.Updated[k] = c.value(v)
	}
	return d
}

func (c *diffCalculator) treeDiff(t *treeStore, base VersionVector) *TreeDiff {
	st0 := t.stateAt(base)
	st1 := t.stateAt(c.to)

	ids := make([]TreeID, 0, len(st1.nodes))
	for id := range st1.nodes {
		ids = append(ids, id)
	}
	for id := range st0.nodes {
		if _, ok := st1.nodes[id]; !ok {
			ids = append(ids, id)
		}
	}
	slices.SortFunc(ids, treeIDCompare)

	type ranked struct {
		item  TreeDiffItem
		depth int
	}
	var upserts, deletes []ranked
	for _, id := range ids {
		was, is := st0.alive(id), st1.alive(id)
		switch {
		case is && !was:
			n := st1.nodes[id]
			upserts = append(upserts, ranked{TreeDiffItem{
				Target:   id,
				Action:   TreeCreate,
				Parent:   cloneTreeID(n.parent),
				Index:    st1.index(id),
				Position: n.position,
			}, st1.depth(id)})
		case is && was:
			n0, n1 := st0.nodes[id], st1.nodes[id]
			if sameParent(n0.parent, n1.parent) && n0.position == n1.position {
				continue
			}
			upserts = append(upserts, ranked{TreeDiffItem{
				Target:    id,
				Action:    TreeMove,
				Parent:    cloneTreeID(n1.parent),
				Index:     st1.index(id),
				Position:  n1.position,
				OldParent: cloneTreeID(n0.parent),
				OldIndex:  st0.index(id),
			}, st1.depth(id)})
		case was:
			n0 := st0.nodes[id]
			deletes = append(deletes, ranked{TreeDiffItem{
				Target:    id,
				Action:    TreeDelete,
				OldParent: cloneTreeID(n0.parent),
				OldIndex:  st0.index(id),
			}, st0.depth(id)})
		}
	}
	slices.SortStableFunc(upserts, func(a, b ranked) int {
		if a.depth != b.depth {
			return cmp.Compare(a.depth, b.depth)
		}
		return cmp.Compare(a.item.Index, b.item.Index)
	})
	slices.SortStableFunc(deletes, func(a, b ranked) int {
		if a.depth != b.depth {
			return cmp.Compare(b.depth, a.depth)
		}
		return cmp.Compare(b.item.OldIndex, a.item.OldIndex)
	})

	d := &TreeDiff{}
	for _, r := range upserts {
		d.Items = append(d.Items, r.item)
	}
	for _, r := range deletes {
		d.Items = append(d.Items, r.item)
	}
	return d
}

func (c *diffCalculator) value(v any) any {
	if cid, ok := v.(ContainerID); ok && c.wrap != nil {
		return c.wrap(cid)
	}
	return v
}

func cloneTreeID(id *TreeID) *TreeID {
	if id == nil {
		return nil
	}
	out := *id
	return &out
}
