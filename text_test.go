package trellis

import (
	"errors"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestTextEditing(t *testing.T) {
	doc := newTestDoc(t, 1)
	text := doc.GetText("text")

	if err := text.Insert(0, "hello world"); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := text.Delete(5, 6); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	assert.Equal(t, text.String(), "hello")

	deleted, err := text.Splice(0, 1, "J")
	if err != nil {
		t.Fatalf("Splice failed: %v", err)
	}
	assert.Equal(t, deleted, "h")
	assert.Equal(t, text.String(), "Jello")

	s, _ := text.Slice(1, 3)
	assert.Equal(t, s, "el")
	r, _ := text.CharAt(4)
	assert.Equal(t, r, 'o')

	if err := text.Insert(9, "x"); !errors.Is(err, ErrOutOfBound) {
		t.Fatalf("Insert past end: got %v, want ErrOutOfBound", err)
	}
	if err := text.Delete(3, 5); !errors.Is(err, ErrOutOfBound) {
		t.Fatalf("Delete past end: got %v, want ErrOutOfBound", err)
	}
	if _, err := text.CharAt(5); !errors.Is(err, ErrOutOfBound) {
		t.Fatalf("CharAt past end: got %v, want ErrOutOfBound", err)
	}
}

func TestTextIndexModes(t *testing.T) {
	doc := newTestDoc(t, 1)
	text := doc.GetText("text")
	text.Insert(0, "a你👍")

	assert.Equal(t, text.Len(), 3)
	assert.Equal(t, text.LenUTF8(), 8)
	assert.Equal(t, text.LenUTF16(), 4)

	// after "a你" in each unit
	if err := text.InsertUTF8(4, "-"); err != nil {
		t.Fatalf("InsertUTF8 failed: %v", err)
	}
	if err := text.InsertUTF16(3, "+"); err != nil {
		t.Fatalf("InsertUTF16 failed: %v", err)
	}
	assert.Equal(t, text.String(), "a你-+👍")

	if err := text.InsertUTF8(2, "x"); !errors.Is(err, ErrOutOfBound) {
		t.Fatalf("InsertUTF8 inside a character: got %v, want ErrOutOfBound", err)
	}
	if err := text.DeleteUTF16(4, 2); err != nil {
		t.Fatalf("DeleteUTF16 failed: %v", err)
	}
	if err := text.DeleteUTF8(1, 3); err != nil {
		t.Fatalf("DeleteUTF8 failed: %v", err)
	}
	assert.Equal(t, text.String(), "a-+")
}

func TestTextEmptyEdits(t *testing.T) {
	doc := newTestDoc(t, 1)
	text := doc.GetText("text")
	text.Insert(0, "")
	text.Delete(0, 0)
	meta, err := doc.Commit()
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	assert.Equal(t, meta == nil, true)
}

func TestImportLongDeleteSpan(t *testing.T) {
	doc := newTestDoc(t, 1)
	doc.GetText("text").Insert(0, "abc")
	mustCommit(t, doc)

	update := encodeChanges(modeUpdates, []*Change{{
		ID:      NewID(2, 0),
		Lamport: 3,
		Deps:    Frontiers{NewID(1, 2)},
		Ops: []Op{{Container: RootContainerID("text", TextType), Counter: 0, Content: &SeqDelete{
			Type: TextType, Len: 1<<30 - 1, Targets: []IDSpan{{Peer: 1, Start: 1, End: 1 << 30}},
		}}},
	}})
	if _, err := doc.Import(update); err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	assert.Equal(t, doc.GetText("text").String(), "a")
	assert.Equal(t, doc.OplogVV(), VersionVector{1: 3, 2: 1<<30 - 1})
}
