package trellis

import (
	"slices"
	"strconv"
	"strings"

	"golang.org/x/exp/maps"
)

// PartialOrder is the causal relation between two versions.
type PartialOrder int

const (
	// Equal means both versions contain exactly the same ops.
	Equal PartialOrder = iota

	// Before means the first version is a strict causal ancestor of the second.
	Before

	// After means the first version strictly contains the second.
	After

	// Concurrent means neither version contains the other.
	Concurrent
)

// String returns a human-readable description of the order.
func (o PartialOrder) String() string {
	switch o {
	case Equal:
		return "equal"
	case Before:
		return "before"
	case After:
		return "after"
	case Concurrent:
		return "concurrent"
	default:
		return "unknown"
	}
}

// VersionVector maps each peer to the exclusive end of its known counters.
// Because a peer's own ops form a causal chain, any causally closed set of
// ops is described exactly by a version vector.
type VersionVector map[PeerID]Counter

// NewVersionVector returns an empty version vector.
func NewVersionVector() VersionVector {
	return VersionVector{}
}

// Get returns the end counter for the given peer.
func (vv VersionVector) Get(peer PeerID) Counter {
	return vv[peer]
}

// Includes reports whether the op id is covered by the vector.
func (vv VersionVector) Includes(id ID) bool {
	return vv[id.Peer] > id.Counter
}

// IncludesAll reports whether every id of the frontier is covered.
func (vv VersionVector) IncludesAll(f Frontiers) bool {
	for _, id := range f {
		if !vv.Includes(id) {
			return false
		}
	}
	return true
}

// Clone returns a copy of the vector.
func (vv VersionVector) Clone() VersionVector {
	if vv == nil {
		return VersionVector{}
	}
	return maps.Clone(vv)
}

// Extend raises the end counter for span.Peer to at least span.End.
func (vv VersionVector) Extend(span IDSpan) {
	if vv[span.Peer] < span.End {
		vv[span.Peer] = span.End
	}
}

// Merge raises every entry to the maximum of both vectors.
func (vv VersionVector) Merge(other VersionVector) {
	for p, c := range other {
		if vv[p] < c {
			vv[p] = c
		}
	}
}

// Leq returns true iff vv[x] <= other[x] for all x in vv.
func (vv VersionVector) Leq(other VersionVector) bool {
	for p, c := range vv {
		if c > 0 && other[p] < c {
			return false
		}
	}
	return true
}

// Compare returns the causal relation between vv and other.
func (vv VersionVector) Compare(other VersionVector) PartialOrder {
	le, ge := vv.Leq(other), other.Leq(vv)
	switch {
	case le && ge:
		return Equal
	case le:
		return Before
	case ge:
		return After
	default:
		return Concurrent
	}
}

// Equal reports whether both vectors cover the same ops.
func (vv VersionVector) Equal(other VersionVector) bool {
	return vv.Compare(other) == Equal
}

// SpansMissingFrom returns the spans covered by vv but not by other,
// ordered by peer.
func (vv VersionVector) SpansMissingFrom(other VersionVector) []IDSpan {
	var spans []IDSpan
	for _, p := range vv.peers() {
		if end, start := vv[p], other[p]; end > start {
			spans = append(spans, IDSpan{Peer: p, Start: start, End: end})
		}
	}
	return spans
}

func (vv VersionVector) peers() []PeerID {
	peers := maps.Keys(vv)
	slices.Sort(peers)
	return peers
}

// String returns a stable textual form, e.g. "{1:3, 7:12}".
func (vv VersionVector) String() string {
	var b strings.Builder
	b.WriteByte('{')
	first := true
	for _, p := range vv.peers() {
		if vv[p] == 0 {
			continue
		}
		if !first {
			b.WriteString(", ")
		}
		first = false
		b.WriteString(p.String())
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(int(vv[p])))
	}
	b.WriteByte('}')
	return b.String()
}

// Frontiers is a set of causally maximal op ids, kept sorted.
type Frontiers []ID

// NewFrontiers builds a frontier from ids, sorting and de-duplicating.
func NewFrontiers(ids ...ID) Frontiers {
	f := make(Frontiers, 0, len(ids))
	for _, id := range ids {
		if !slices.Contains(f, id) {
			f = append(f, id)
		}
	}
	slices.SortFunc(f, ID.Compare)
	return f
}

// Contains reports whether id is a member of the frontier.
func (f Frontiers) Contains(id ID) bool {
	return slices.Contains(f, id)
}

// Equal reports whether both frontiers have the same members.
func (f Frontiers) Equal(other Frontiers) bool {
	a, b := NewFrontiers(f...), NewFrontiers(other...)
	return slices.Equal(a, b)
}

// Clone returns a copy of the frontier.
func (f Frontiers) Clone() Frontiers {
	return slices.Clone(f)
}

// String formats the frontier as "[c@p, ...]".
func (f Frontiers) String() string {
	parts := make([]string, len(f))
	for i, id := range f {
		parts[i] = id.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Strings returns the "counter@peer" form of each member.
func (f Frontiers) Strings() []string {
	out := make([]string, len(f))
	for i, id := range f {
		out[i] = id.String()
	}
	return out
}

// CounterRange is a half-open counter interval.
type CounterRange struct {
	Start Counter
	End   Counter
}

// VersionRange maps peers to counter intervals, used by import status.
type VersionRange map[PeerID]CounterRange

// Extend widens the range for span.Peer to include the span.
func (r VersionRange) Extend(span IDSpan) {
	cur, ok := r[span.Peer]
	if !ok {
		r[span.Peer] = CounterRange{Start: span.Start, End: span.End}
		return
	}
	cur.Start = min(cur.Start, span.Start)
	cur.End = max(cur.End, span.End)
	r[span.Peer] = cur
}

// IsEmpty reports whether the range covers nothing.
func (r VersionRange) IsEmpty() bool {
	return len(r) == 0
}
