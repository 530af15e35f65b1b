package trellis

import (
	"errors"
	"math"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestEncodeChangesRoundTrip(t *testing.T) {
	parent := TreeID(NewID(1, 4))
	origin := NewID(1, 0)
	changes := []*Change{
		{
			ID:        NewID(1, 0),
			Lamport:   0,
			Timestamp: 1700000000,
			Message:   "init",
			Ops: []Op{
				{Container: RootContainerID("text", TextType), Counter: 0, Content: &TextInsert{Pos: 0, Text: "hé"}},
				{Container: RootContainerID("list", ListType), Counter: 2, Content: &ListInsert{
					Pos:    0,
					Values: []any{int64(-3), NormalContainerID(NewID(1, 2), MapType)},
				}},
				{Container: RootContainerID("tree", TreeType), Counter: 4, Content: &TreeOp{
					Action: TreeCreate, Target: parent, Position: "a0",
				}},
			},
		},
		{
			ID:      NewID(2, 0),
			Lamport: 5,
			Deps:    Frontiers{NewID(1, 4)},
			Ops: []Op{
				{Container: RootContainerID("text", TextType), Counter: 0, Content: &TextInsert{Pos: 1, Origin: &origin, Text: "x"}},
				{Container: RootContainerID("text", TextType), Counter: 1, Content: &SeqDelete{
					Type: TextType, Pos: 0, Len: 1, Targets: []IDSpan{{Peer: 1, Start: 0, End: 1}},
				}},
				{Container: NormalContainerID(NewID(1, 2), MapType), Counter: 2, Content: &MapSet{Key: "k", Value: map[string]any{"b": []byte{1}}}},
				{Container: NormalContainerID(NewID(1, 2), MapType), Counter: 3, Content: &MapSet{Key: "gone", Deleted: true}},
				{Container: RootContainerID("tree", TreeType), Counter: 4, Content: &TreeOp{
					Action: TreeCreate, Target: TreeID(NewID(2, 4)), Parent: &parent, Position: "a0",
				}},
				{Container: RootContainerID("tree", TreeType), Counter: 5, Content: &TreeOp{
					Action: TreeDelete, Target: TreeID(NewID(2, 4)),
				}},
			},
		},
	}

	mode, decoded, err := decodeExport(encodeChanges(modeUpdates, changes))
	if err != nil {
		t.Fatalf("decodeExport failed: %v", err)
	}
	assert.Equal(t, mode, modeUpdates)
	assert.Equal(t, len(decoded), 2)
	for i := range changes {
		assert.Equal(t, decoded[i].toJSON(), changes[i].toJSON())
		assert.Equal(t, decoded[i].AtomLen(), changes[i].AtomLen())
	}
	assert.Equal(t, decoded[1].Ops[0].Content.(*TextInsert).Origin, &origin)
	assert.Equal(t, decoded[1].Ops[1].Content.(*SeqDelete).Targets, []IDSpan{{Peer: 1, Start: 0, End: 1}})
	assert.Equal(t, *decoded[1].Ops[4].Content.(*TreeOp).Parent, parent)
}

func TestDecodeRejects(t *testing.T) {
	valid := encodeChanges(modeSnapshot, nil)
	mode, changes, err := decodeExport(valid)
	if err != nil {
		t.Fatalf("decodeExport failed: %v", err)
	}
	assert.Equal(t, mode, modeSnapshot)
	assert.Equal(t, len(changes), 0)

	badVersion := append([]byte(nil), valid...)
	badVersion[len(exportMagic)] = 9
	badMagic := append([]byte(nil), valid...)
	badMagic[0] = 'X'

	overflow := encodeChanges(modeUpdates, []*Change{{
		ID: NewID(1, 5),
		Ops: []Op{{Container: RootContainerID("text", TextType), Counter: 5, Content: &SeqDelete{
			Type: TextType, Len: math.MaxInt32 - 1, Targets: []IDSpan{{Peer: 2, Start: 0, End: math.MaxInt32 - 1}},
		}}},
	}})

	for name, data := range map[string][]byte{
		"overflow": overflow,
		"empty":   {},
		"short":   valid[:headerLen-1],
		"magic":   badMagic,
		"version": badVersion,
		"no mode": frame(nil),
		"junk":    frame([]byte{0xff, 0xff, 0xff}),
	} {
		if _, _, err := decodeExport(data); !errors.Is(err, ErrDecode) {
			t.Fatalf("%s: got %v, want ErrDecode", name, err)
		}
	}
}
