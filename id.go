package trellis

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// PeerID identifies a replica. The maximum value is reserved.
type PeerID uint64

// Counter is the per-peer sequence number of an op atom, starting at 0.
type Counter int32

// Lamport is a logical timestamp.
type Lamport uint32

// String returns the decimal form of the peer id.
func (p PeerID) String() string {
	return strconv.FormatUint(uint64(p), 10)
}

// ParsePeerID parses a decimal peer id.
func ParsePeerID(s string) (PeerID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPeerID, s)
	}
	return PeerID(v), nil
}

// randomPeerID derives a peer id from a random UUID.
func randomPeerID() PeerID {
	u := uuid.New()
	p := PeerID(binary.BigEndian.Uint64(u[:8]))
	if p == math.MaxUint64 {
		p--
	}
	return p
}

// ID is an op id: the pair (peer, counter). Globally unique.
type ID struct {
	Peer    PeerID
	Counter Counter
}

// NewID creates an ID.
func NewID(peer PeerID, counter Counter) ID {
	return ID{Peer: peer, Counter: counter}
}

// String formats the id as "counter@peer".
func (id ID) String() string {
	return fmt.Sprintf("%d@%d", id.Counter, id.Peer)
}

// ParseID parses the "counter@peer" form.
func ParseID(s string) (ID, error) {
	c, p, ok := strings.Cut(s, "@")
	if !ok {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	counter, err := strconv.ParseInt(c, 10, 32)
	if err != nil || counter < 0 {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	peer, err := strconv.ParseUint(p, 10, 64)
	if err != nil {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return ID{Peer: PeerID(peer), Counter: Counter(counter)}, nil
}

// Compare orders ids by peer, then counter.
func (id ID) Compare(other ID) int {
	switch {
	case id.Peer < other.Peer:
		return -1
	case id.Peer > other.Peer:
		return 1
	case id.Counter < other.Counter:
		return -1
	case id.Counter > other.Counter:
		return 1
	}
	return 0
}

// Inc returns the id n counters later.
func (id ID) Inc(n int) ID {
	return ID{Peer: id.Peer, Counter: id.Counter + Counter(n)}
}

// IDSpan is a contiguous range of op ids from one peer. End is exclusive.
type IDSpan struct {
	Peer  PeerID
	Start Counter
	End   Counter
}

// NewIDSpan creates a span starting at id covering n atoms.
func NewIDSpan(id ID, n int) IDSpan {
	return IDSpan{Peer: id.Peer, Start: id.Counter, End: id.Counter + Counter(n)}
}

// Len returns the number of atoms in the span.
func (s IDSpan) Len() int {
	if s.End < s.Start {
		return 0
	}
	return int(s.End - s.Start)
}

// Contains reports whether id falls inside the span.
func (s IDSpan) Contains(id ID) bool {
	return id.Peer == s.Peer && id.Counter >= s.Start && id.Counter < s.End
}

// StartID returns the first id of the span.
func (s IDSpan) StartID() ID {
	return ID{Peer: s.Peer, Counter: s.Start}
}

// String formats the span as "peer:start-end".
func (s IDSpan) String() string {
	return fmt.Sprintf("%d:%d-%d", s.Peer, s.Start, s.End)
}

// appendSpanID appends id to a span list, extending the last span when contiguous.
func appendSpanID(spans []IDSpan, id ID) []IDSpan {
	if n := len(spans); n > 0 {
		last := &spans[n-1]
		if last.Peer == id.Peer && last.End == id.Counter {
			last.End++
			return spans
		}
	}
	return append(spans, IDSpan{Peer: id.Peer, Start: id.Counter, End: id.Counter + 1})
}

// sliceSpans returns the ids in [from, to) of the flattened span list,
// re-packed as spans.
func sliceSpans(spans []IDSpan, from, to int) []IDSpan {
	var out []IDSpan
	pos := 0
	for _, s := range spans {
		n := s.Len()
		lo, hi := max(from-pos, 0), min(to-pos, n)
		if lo < hi {
			out = append(out, IDSpan{Peer: s.Peer, Start: s.Start + Counter(lo), End: s.Start + Counter(hi)})
		}
		pos += n
		if pos >= to {
			break
		}
	}
	return out
}
