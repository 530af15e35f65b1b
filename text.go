package trellis

import (
	"fmt"
	"unicode/utf8"
)

// Text is a handle to a text container. Positions are Unicode scalar
// values unless the method names another unit.
type Text struct {
	doc *Doc
	id  ContainerID
}

// ID returns the container id.
func (t *Text) ID() ContainerID { return t.id }

// Type returns TextType.
func (t *Text) Type() ContainerType { return TextType }

// Subscribe registers fn for diffs of this text.
func (t *Text) Subscribe(fn func(*EventBatch)) *Subscription {
	return t.doc.SubscribeContainer(t.id, fn)
}

// Insert inserts s at the Unicode position pos.
func (t *Text) Insert(pos int, s string) error {
	return t.insert(pos, s, UnicodeMode)
}

// InsertUTF8 inserts s at the UTF-8 byte offset pos.
func (t *Text) InsertUTF8(pos int, s string) error {
	return t.insert(pos, s, UTF8Mode)
}

// InsertUTF16 inserts s at the UTF-16 code unit offset pos.
func (t *Text) InsertUTF16(pos int, s string) error {
	return t.insert(pos, s, UTF16Mode)
}

// Delete removes n Unicode scalar values at pos.
func (t *Text) Delete(pos, n int) error {
	return t.delete(pos, n, UnicodeMode)
}

// DeleteUTF8 removes n UTF-8 bytes at pos.
func (t *Text) DeleteUTF8(pos, n int) error {
	return t.delete(pos, n, UTF8Mode)
}

// DeleteUTF16 removes n UTF-16 code units at pos.
func (t *Text) DeleteUTF16(pos, n int) error {
	return t.delete(pos, n, UTF16Mode)
}

// Splice deletes n characters at pos, inserts s there and returns the
// deleted text.
func (t *Text) Splice(pos, n int, s string) (string, error) {
	deleted, err := t.Slice(pos, pos+n)
	if err != nil {
		return "", err
	}
	if err := t.Delete(pos, n); err != nil {
		return "", err
	}
	if err := t.Insert(pos, s); err != nil {
		return "", err
	}
	return deleted, nil
}

func (t *Text) insert(pos int, s string, mode IndexMode) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("insert into %s: invalid utf-8", t.id)
	}
	d := t.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.editable(); err != nil {
		return err
	}
	elems := d.reg.ensure(t.id).text.visible(d.stateVV)
	idx, ok := runeOffset(elemRunes(elems), pos, mode)
	if !ok {
		return fmt.Errorf("%w: insert at %s %d of %s", ErrOutOfBound, mode, pos, t.id)
	}
	if s == "" {
		return nil
	}
	var origin *ID
	if idx > 0 {
		o := elems[idx-1].id
		origin = &o
	}
	id, lamport := d.nextAtom()
	d.pushOp(Op{
		Container: t.id,
		Counter:   id.Counter,
		Content:   &TextInsert{Pos: idx, Origin: origin, Text: s},
	}, lamport)
	return nil
}

func (t *Text) delete(pos, n int, mode IndexMode) error {
	d := t.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.editable(); err != nil {
		return err
	}
	elems := d.reg.ensure(t.id).text.visible(d.stateVV)
	rs := elemRunes(elems)
	start, ok := runeOffset(rs, pos, mode)
	if !ok || n < 0 {
		return fmt.Errorf("%w: delete at %s %d of %s", ErrOutOfBound, mode, pos, t.id)
	}
	end, ok := runeOffset(rs, pos+n, mode)
	if !ok {
		return fmt.Errorf("%w: delete %d %s units at %d of %s", ErrOutOfBound, n, mode, pos, t.id)
	}
	if start == end {
		return nil
	}
	var targets []IDSpan
	for _, e := range elems[start:end] {
		targets = appendSpanID(targets, e.id)
	}
	id, lamport := d.nextAtom()
	d.pushOp(Op{
		Container: t.id,
		Counter:   id.Counter,
		Content:   &SeqDelete{Type: TextType, Pos: start, Len: end - start, Targets: targets},
	}, lamport)
	return nil
}

func (t *Text) runes() []rune {
	d := t.doc
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reg.ensure(t.id).text.values(d.stateVV)
}

// String returns the visible text.
func (t *Text) String() string {
	return string(t.runes())
}

// Len returns the length in Unicode scalar values.
func (t *Text) Len() int {
	return len(t.runes())
}

// LenUTF8 returns the length in UTF-8 bytes.
func (t *Text) LenUTF8() int {
	return runesWidth(t.runes(), UTF8Mode)
}

// LenUTF16 returns the length in UTF-16 code units.
func (t *Text) LenUTF16() int {
	return runesWidth(t.runes(), UTF16Mode)
}

// Slice returns the characters in [start, end).
func (t *Text) Slice(start, end int) (string, error) {
	rs := t.runes()
	if start < 0 || end < start || end > len(rs) {
		return "", fmt.Errorf("%w: slice [%d, %d) of %d", ErrOutOfBound, start, end, len(rs))
	}
	return string(rs[start:end]), nil
}

// CharAt returns the character at pos.
func (t *Text) CharAt(pos int) (rune, error) {
	rs := t.runes()
	if pos < 0 || pos >= len(rs) {
		return 0, fmt.Errorf("%w: char at %d of %d", ErrOutOfBound, pos, len(rs))
	}
	return rs[pos], nil
}

func elemRunes(elems []*seqElem[rune]) []rune {
	rs := make([]rune, len(elems))
	for i, e := range elems {
		rs[i] = e.value
	}
	return rs
}
