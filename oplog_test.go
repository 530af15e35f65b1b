package trellis

import (
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"
)

func textChange(peer PeerID, counter Counter, lamport Lamport, deps Frontiers, s string) *Change {
	return &Change{
		ID:      NewID(peer, counter),
		Lamport: lamport,
		Deps:    deps,
		Ops: []Op{{
			Container: RootContainerID("text", TextType),
			Counter:   counter,
			Content:   &TextInsert{Text: s},
		}},
	}
}

// diamond: 1 writes, 2 and 3 branch from it, 1 merges both
func diamondLog() *oplog {
	l := newOplog()
	l.importChanges([]*Change{
		textChange(1, 0, 0, nil, "ab"),
		textChange(2, 0, 2, Frontiers{NewID(1, 1)}, "c"),
		textChange(3, 0, 2, Frontiers{NewID(1, 1)}, "d"),
		textChange(1, 2, 3, Frontiers{NewID(2, 0), NewID(3, 0)}, "e"),
	}, func(*Change) {})
	return l
}

func TestOplogFrontiers(t *testing.T) {
	l := diamondLog()
	assert.Equal(t, l.vv, VersionVector{1: 3, 2: 1, 3: 1})
	assert.Equal(t, l.frontiers, Frontiers{NewID(1, 2)})

	vv, err := l.frontiersToVV(Frontiers{NewID(2, 0)})
	if err != nil {
		t.Fatalf("frontiersToVV failed: %v", err)
	}
	assert.Equal(t, vv, VersionVector{1: 2, 2: 1})

	vv, err = l.frontiersToVV(Frontiers{NewID(1, 0)})
	if err != nil {
		t.Fatalf("frontiersToVV failed: %v", err)
	}
	assert.Equal(t, vv, VersionVector{1: 1})

	if _, err := l.frontiersToVV(Frontiers{NewID(4, 0)}); !errors.Is(err, ErrInvalidFrontier) {
		t.Fatalf("frontiersToVV(unknown): got %v, want ErrInvalidFrontier", err)
	}

	assert.Equal(t, l.vvToFrontiers(VersionVector{1: 2, 2: 1, 3: 1}), Frontiers{NewID(2, 0), NewID(3, 0)})
	assert.Equal(t, l.vvToFrontiers(VersionVector{1: 2, 2: 1}), Frontiers{NewID(2, 0)})
	assert.Equal(t, l.vvToFrontiers(VersionVector{}), Frontiers{})

	order, _ := l.cmpFrontiers(Frontiers{NewID(2, 0)}, Frontiers{NewID(3, 0)})
	assert.Equal(t, order, Concurrent)
	order, _ = l.cmpFrontiers(Frontiers{NewID(1, 0)}, Frontiers{NewID(3, 0)})
	assert.Equal(t, order, Before)
}

func TestOplogLamport(t *testing.T) {
	l := diamondLog()
	lamport, ok := l.lamportOf(NewID(1, 1))
	assert.Equal(t, ok, true)
	assert.Equal(t, lamport, Lamport(1))
	assert.Equal(t, l.lamportAfter(Frontiers{NewID(2, 0), NewID(1, 1)}), Lamport(3))
	assert.Equal(t, l.nextLamport(), Lamport(4))

	c, ok := l.lookup(NewID(1, 1))
	assert.Equal(t, ok, true)
	assert.Equal(t, c.ID, NewID(1, 0))
	_, ok = l.lookup(NewID(1, 3))
	assert.Equal(t, ok, false)
}

func TestOplogImportOrderAndOverlap(t *testing.T) {
	l := newOplog()
	var applied []ID
	apply := func(c *Change) { applied = append(applied, c.ID) }

	// out of order: the dependent change waits
	status := l.importChanges([]*Change{
		textChange(1, 2, 2, Frontiers{NewID(1, 1)}, "c"),
	}, apply)
	assert.Equal(t, status.Pending, VersionRange{1: {Start: 2, End: 3}})
	assert.Equal(t, len(applied), 0)

	// the overlapping change is cut to the unknown part
	l.importChanges([]*Change{textChange(1, 0, 0, nil, "ab")}, apply)
	status = l.importChanges([]*Change{textChange(1, 0, 0, nil, "ab")}, apply)
	assert.Equal(t, status.Success.IsEmpty(), true)
	assert.Equal(t, applied, []ID{NewID(1, 0), NewID(1, 2)})
	assert.Equal(t, len(l.pending), 0)

	extended := textChange(1, 0, 0, nil, "abcd")
	l2 := newOplog()
	l2.importChanges([]*Change{textChange(1, 0, 0, nil, "ab")}, func(*Change) {})
	var got []*Change
	l2.importChanges([]*Change{extended}, func(c *Change) { got = append(got, c) })
	assert.Equal(t, len(got), 1)
	assert.Equal(t, got[0].ID, NewID(1, 2))
	assert.Equal(t, got[0].Lamport, Lamport(2))
	assert.Equal(t, got[0].Deps, Frontiers{NewID(1, 1)})
	assert.Equal(t, got[0].Ops[0].Content.(*TextInsert).Text, "cd")
}

func TestOplogChangesBetween(t *testing.T) {
	l := diamondLog()
	changes := l.changesBetween(VersionVector{1: 1}, l.vv)
	ids := []ID{}
	for _, c := range changes {
		ids = append(ids, c.ID)
	}
	// the first change is cut at counter 1
	assert.Equal(t, ids, []ID{NewID(1, 1), NewID(2, 0), NewID(3, 0), NewID(1, 2)})
	assert.Equal(t, len(l.all()), 4)
	assert.Equal(t, len(l.changesInSpan(IDSpan{Peer: 1, Start: 1, End: 3})), 2)
}
