package trellis

import (
	"cmp"
	"fmt"
	"slices"
	"sort"
)

// ImportStatus reports what an import applied and what is still waiting
// for missing dependencies.
type ImportStatus struct {
	Success VersionRange
	Pending VersionRange
}

// oplog is the append-only change log together with its causal index.
// Each peer's changes are kept sorted by start counter.
type oplog struct {
	changes   map[PeerID][]*Change
	vv        VersionVector
	frontiers Frontiers

	// changes waiting for their dependencies
	pending []*Change
}

func newOplog() *oplog {
	return &oplog{
		changes: make(map[PeerID][]*Change),
		vv:      NewVersionVector(),
	}
}

// lookup returns the change containing id.
func (l *oplog) lookup(id ID) (*Change, bool) {
	list := l.changes[id.Peer]
	i := sort.Search(len(list), func(i int) bool {
		return list[i].End() > id.Counter
	})
	if i == len(list) || list[i].ID.Counter > id.Counter {
		return nil, false
	}
	return list[i], true
}

// lamportOf returns the lamport of the atom with the given id.
func (l *oplog) lamportOf(id ID) (Lamport, bool) {
	c, ok := l.lookup(id)
	if !ok {
		return 0, false
	}
	return c.lamportAt(id.Counter), true
}

// lamportAfter returns 1 + the max lamport of deps, or 0 if deps is empty.
func (l *oplog) lamportAfter(deps Frontiers) Lamport {
	var next Lamport
	for _, id := range deps {
		if lamport, ok := l.lamportOf(id); ok && lamport+1 > next {
			next = lamport + 1
		}
	}
	return next
}

// nextLamport returns the lamport of a change depending on the whole log.
func (l *oplog) nextLamport() Lamport {
	return l.lamportAfter(l.frontiers)
}

// admissible reports whether c can be appended right now.
func (l *oplog) admissible(c *Change) bool {
	return l.vv[c.ID.Peer] == c.ID.Counter && l.vv.IncludesAll(c.Deps)
}

// append adds an admissible change and advances vv and frontiers.
func (l *oplog) append(c *Change) {
	peer := c.ID.Peer
	l.changes[peer] = append(l.changes[peer], c)
	l.vv.Extend(c.Span())

	prev := NewID(peer, c.ID.Counter-1)
	next := l.frontiers[:0:0]
	for _, id := range l.frontiers {
		if id == prev || c.Deps.Contains(id) {
			continue
		}
		next = append(next, id)
	}
	l.frontiers = NewFrontiers(append(next, c.LastID())...)
}

// importChanges merges changes into the log. Changes whose dependencies
// are missing stay pending until a later import supplies them. Among
// admissible changes the smallest (lamport, peer) is applied first.
func (l *oplog) importChanges(changes []*Change, apply func(*Change)) ImportStatus {
	status := ImportStatus{Success: VersionRange{}, Pending: VersionRange{}}
	pool := append(slices.Clone(l.pending), changes...)

	for {
		best := -1
		var bestChange *Change
		kept := pool[:0]
		for _, c := range pool {
			known := l.vv[c.ID.Peer]
			if known >= c.End() {
				continue
			}
			if known > c.ID.Counter {
				c = c.slice(known, c.End())
			}
			kept = append(kept, c)
			if !l.admissible(c) {
				continue
			}
			if bestChange == nil || changeOrder(c, bestChange) < 0 {
				best, bestChange = len(kept)-1, c
			}
		}
		pool = kept
		if bestChange == nil {
			break
		}
		pool = slices.Delete(pool, best, best+1)
		l.append(bestChange)
		apply(bestChange)
		status.Success.Extend(bestChange.Span())
	}

	l.pending = pool
	for _, c := range pool {
		status.Pending.Extend(c.Span())
	}
	return status
}

// changeOrder orders changes by (lamport, peer).
func changeOrder(a, b *Change) int {
	if a.Lamport != b.Lamport {
		return cmp.Compare(a.Lamport, b.Lamport)
	}
	return cmp.Compare(a.ID.Peer, b.ID.Peer)
}

// frontiersToVV returns the causal closure of f.
func (l *oplog) frontiersToVV(f Frontiers) (VersionVector, error) {
	vv := NewVersionVector()
	stack := f.Clone()
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if vv.Includes(id) {
			continue
		}
		if !l.vv.Includes(id) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidFrontier, id)
		}
		cur := vv[id.Peer]
		vv[id.Peer] = id.Counter + 1

		list := l.changes[id.Peer]
		i := sort.Search(len(list), func(i int) bool {
			return list[i].End() > cur
		})
		for ; i < len(list) && list[i].ID.Counter <= id.Counter; i++ {
			if list[i].ID.Counter >= cur {
				stack = append(stack, list[i].Deps...)
			}
		}
	}
	return vv, nil
}

// vvToFrontiers returns the causally maximal ids of a closed version.
func (l *oplog) vvToFrontiers(vv VersionVector) Frontiers {
	if vv.Equal(l.vv) {
		return l.frontiers.Clone()
	}
	var candidates []ID
	for p, c := range vv {
		if c > 0 {
			candidates = append(candidates, NewID(p, c-1))
		}
	}
	if len(candidates) <= 1 {
		return NewFrontiers(candidates...)
	}

	var out []ID
	for _, x := range candidates {
		dominated := false
		for _, y := range candidates {
			if x == y {
				continue
			}
			closure, err := l.frontiersToVV(Frontiers{y})
			if err == nil && closure.Includes(x) {
				dominated = true
				break
			}
		}
		if !dominated {
			out = append(out, x)
		}
	}
	return NewFrontiers(out...)
}

// cmpFrontiers compares two frontiers causally.
func (l *oplog) cmpFrontiers(a, b Frontiers) (PartialOrder, error) {
	va, err := l.frontiersToVV(a)
	if err != nil {
		return Concurrent, err
	}
	vb, err := l.frontiersToVV(b)
	if err != nil {
		return Concurrent, err
	}
	return va.Compare(vb), nil
}

// changesBetween returns the ops in to but not in from, as sliced
// changes ordered by lamport.
func (l *oplog) changesBetween(from, to VersionVector) []*Change {
	var out []*Change
	for peer, end := range to {
		start := from[peer]
		if start >= end {
			continue
		}
		list := l.changes[peer]
		i := sort.Search(len(list), func(i int) bool {
			return list[i].End() > start
		})
		for ; i < len(list) && list[i].ID.Counter < end; i++ {
			out = append(out, list[i].slice(start, end))
		}
	}
	slices.SortFunc(out, changeOrder)
	return out
}

// changesInSpan returns the parts of changes covering span.
func (l *oplog) changesInSpan(span IDSpan) []*Change {
	return l.changesBetween(
		VersionVector{span.Peer: span.Start},
		VersionVector{span.Peer: span.End},
	)
}

// all returns every change ordered by lamport.
func (l *oplog) all() []*Change {
	return l.changesBetween(VersionVector{}, l.vv)
}
