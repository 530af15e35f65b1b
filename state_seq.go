package trellis

// seqElem is one element ever inserted into a text or list. Elements are
// never removed; deletion is recorded by the ids of the deleting atoms.
type seqElem[T any] struct {
	id        ID
	lamport   Lamport
	value     T
	deletedBy []ID

	next *seqElem[T]
}

// visibleAt reports whether the element exists and is not deleted at vv.
func (e *seqElem[T]) visibleAt(vv VersionVector) bool {
	if !vv.Includes(e.id) {
		return false
	}
	for _, d := range e.deletedBy {
		if vv.Includes(d) {
			return false
		}
	}
	return true
}

// after reports whether e sorts before other among siblings with the
// same origin: greater (lamport, peer) comes first.
func (e *seqElem[T]) after(other *seqElem[T]) bool {
	if e.lamport != other.lamport {
		return e.lamport > other.lamport
	}
	return e.id.Peer > other.id.Peer
}

// seqStore keeps every element in one replicated growable array order.
// Visibility at a version is a filter over that order, so the sequence
// at any version and the difference between two versions are both a
// single walk.
type seqStore[T any] struct {
	head seqElem[T] // sentinel
	byID map[ID]*seqElem[T]
}

func newSeqStore[T any]() *seqStore[T] {
	return &seqStore[T]{byID: make(map[ID]*seqElem[T])}
}

// insert integrates values with consecutive ids starting at id. The first
// value follows origin; each later value follows its predecessor.
func (s *seqStore[T]) insert(origin *ID, id ID, lamport Lamport, values []T) {
	left := &s.head
	if origin != nil {
		if e, ok := s.byID[*origin]; ok {
			left = e
		}
	}
	for i, v := range values {
		eid := id.Inc(i)
		if existing, ok := s.byID[eid]; ok {
			left = existing
			continue
		}
		e := &seqElem[T]{id: eid, lamport: lamport + Lamport(i), value: v}
		prev := left
		for prev.next != nil && prev.next.after(e) {
			prev = prev.next
		}
		e.next = prev.next
		prev.next = e
		s.byID[eid] = e
		left = e
	}
}

// markDeleted records that the atom by deleted the elements in targets.
// by advances by one per target element. A span longer than the store
// is matched against the stored elements instead of walked.
func (s *seqStore[T]) markDeleted(targets []IDSpan, by ID) {
	for _, span := range targets {
		mark := func(e *seqElem[T]) {
			e.deletedBy = append(e.deletedBy, NewID(by.Peer, by.Counter+e.id.Counter-span.Start))
		}
		if span.Len() > len(s.byID) {
			for id, e := range s.byID {
				if span.Contains(id) {
					mark(e)
				}
			}
		} else {
			for c := span.Start; c < span.End; c++ {
				if e, ok := s.byID[NewID(span.Peer, c)]; ok {
					mark(e)
				}
			}
		}
		by.Counter += Counter(span.Len())
	}
}

// visible returns the elements visible at vv in order.
func (s *seqStore[T]) visible(vv VersionVector) []*seqElem[T] {
	var out []*seqElem[T]
	for e := s.head.next; e != nil; e = e.next {
		if e.visibleAt(vv) {
			out = append(out, e)
		}
	}
	return out
}

// values returns the visible values at vv.
func (s *seqStore[T]) values(vv VersionVector) []T {
	var out []T
	for e := s.head.next; e != nil; e = e.next {
		if e.visibleAt(vv) {
			out = append(out, e.value)
		}
	}
	return out
}

// indexOf returns the visible index of the element id at vv.
func (s *seqStore[T]) indexOf(id ID, vv VersionVector) (int, bool) {
	target, ok := s.byID[id]
	if !ok || !target.visibleAt(vv) {
		return 0, false
	}
	i := 0
	for e := s.head.next; e != nil; e = e.next {
		if e == target {
			return i, true
		}
		if e.visibleAt(vv) {
			i++
		}
	}
	return 0, false
}

// seqChange classifies one element between two versions.
type seqChange int

const (
	seqAbsent seqChange = iota
	seqRetained
	seqRemoved
	seqAdded
)

// walk calls fn for every element visible at from or to, in order.
func (s *seqStore[T]) walk(from, to VersionVector, fn func(e *seqElem[T], c seqChange)) {
	for e := s.head.next; e != nil; e = e.next {
		was, is := e.visibleAt(from), e.visibleAt(to)
		switch {
		case was && is:
			fn(e, seqRetained)
		case was:
			fn(e, seqRemoved)
		case is:
			fn(e, seqAdded)
		}
	}
}
