package trellis

import (
	"slices"
	"strings"

	"roci.dev/fracdex"
)

type treeRecord struct {
	id      ID
	lamport Lamport
	op      *TreeOp
}

func (r treeRecord) compare(other treeRecord) int {
	switch {
	case r.lamport < other.lamport:
		return -1
	case r.lamport > other.lamport:
		return 1
	}
	return r.id.Compare(other.id)
}

// treeStore keeps every tree op ordered by (lamport, peer, counter). The
// tree at a version is the replay of the ops included in it.
type treeStore struct {
	ops []treeRecord

	// replayed states by version vector string, dropped on apply
	cache map[string]*treeState
}

// maxTreeStates bounds the replayed states kept per tree.
const maxTreeStates = 8

func newTreeStore() *treeStore {
	return &treeStore{cache: make(map[string]*treeState)}
}

func (t *treeStore) apply(id ID, lamport Lamport, op *TreeOp) {
	rec := treeRecord{id: id, lamport: lamport, op: op}
	i, found := slices.BinarySearchFunc(t.ops, rec, treeRecord.compare)
	if found {
		return
	}
	t.ops = slices.Insert(t.ops, i, rec)
	clear(t.cache)
}

// stateAt replays the ops included in vv. A move that would make a node
// its own ancestor is skipped.
func (t *treeStore) stateAt(vv VersionVector) *treeState {
	key := vv.String()
	if s, ok := t.cache[key]; ok {
		return s
	}
	s := &treeState{nodes: make(map[TreeID]*treeNode)}
	for _, rec := range t.ops {
		if !vv.Includes(rec.id) {
			continue
		}
		op := rec.op
		switch op.Action {
		case TreeCreate:
			if _, ok := s.nodes[op.Target]; ok {
				continue
			}
			s.nodes[op.Target] = &treeNode{parent: op.Parent, position: op.Position, posID: rec.id}
		case TreeMove:
			n, ok := s.nodes[op.Target]
			if !ok || s.wouldCycle(op.Target, op.Parent) {
				continue
			}
			n.parent, n.position, n.posID, n.deleted = op.Parent, op.Position, rec.id, false
		case TreeDelete:
			if n, ok := s.nodes[op.Target]; ok {
				n.deleted = true
			}
		}
	}
	if len(t.cache) >= maxTreeStates {
		clear(t.cache)
	}
	t.cache[key] = s
	return s
}

type treeNode struct {
	parent   *TreeID
	position string
	posID    ID
	deleted  bool
}

// treeState is the shape of a tree at one version.
type treeState struct {
	nodes map[TreeID]*treeNode
}

// wouldCycle reports whether placing target under parent makes a cycle.
func (s *treeState) wouldCycle(target TreeID, parent *TreeID) bool {
	for p := parent; p != nil; {
		if *p == target {
			return true
		}
		n, ok := s.nodes[*p]
		if !ok {
			return false
		}
		p = n.parent
	}
	return false
}

// alive reports whether id exists and neither it nor an ancestor is deleted.
func (s *treeState) alive(id TreeID) bool {
	for p := &id; p != nil; {
		n, ok := s.nodes[*p]
		if !ok || n.deleted {
			return false
		}
		p = n.parent
	}
	return true
}

// children returns the live children of parent (nil: roots) in order.
func (s *treeState) children(parent *TreeID) []TreeID {
	var out []TreeID
	for id, n := range s.nodes {
		if sameParent(n.parent, parent) && s.alive(id) {
			out = append(out, id)
		}
	}
	slices.SortFunc(out, func(a, b TreeID) int {
		na, nb := s.nodes[a], s.nodes[b]
		if c := strings.Compare(na.position, nb.position); c != 0 {
			return c
		}
		return na.posID.Compare(nb.posID)
	})
	return out
}

// index returns the position of id among its live siblings.
func (s *treeState) index(id TreeID) int {
	return slices.Index(s.children(s.nodes[id].parent), id)
}

// depth returns the number of ancestors of id plus one.
func (s *treeState) depth(id TreeID) int {
	d := 0
	for p := &id; p != nil; d++ {
		p = s.nodes[*p].parent
	}
	return d
}

// parentOf returns the parent of a live node.
func (s *treeState) parentOf(id TreeID) (*TreeID, bool) {
	if !s.alive(id) {
		return nil, false
	}
	return s.nodes[id].parent, true
}

// preorder returns every live node, parents before children.
func (s *treeState) preorder() []TreeID {
	var out []TreeID
	var visit func(parent *TreeID)
	visit = func(parent *TreeID) {
		for _, id := range s.children(parent) {
			out = append(out, id)
			visit(&id)
		}
	}
	visit(nil)
	return out
}

// positionAt returns a fractional index placing a new child of parent at
// index. Equal neighbouring keys fall back to placing after the left one.
func (s *treeState) positionAt(parent *TreeID, index int, exclude *TreeID) (string, error) {
	siblings := s.children(parent)
	if exclude != nil {
		if i := slices.Index(siblings, *exclude); i >= 0 {
			siblings = slices.Delete(siblings, i, i+1)
		}
	}
	if index < 0 || index > len(siblings) {
		return "", ErrOutOfBound
	}
	left, right := "", ""
	if index > 0 {
		left = s.nodes[siblings[index-1]].position
	}
	for i := index; i < len(siblings); i++ {
		if p := s.nodes[siblings[i]].position; p > left || left == "" {
			right = p
			break
		}
	}
	return fracdex.KeyBetween(left, right)
}

func sameParent(a, b *TreeID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
