package trellis

import (
	"slices"
	"unicode/utf16"
)

// Diff is the change of one container: *TextDiff, *ListDiff, *MapDiff or
// *TreeDiff.
type Diff interface {
	Type() ContainerType
	isEmpty() bool
}

// TextDelta is one step of a text diff. Exactly one field is set.
// Lengths are UTF-16 code units.
type TextDelta struct {
	Retain int
	Insert string
	Delete int
}

// TextDiff is a retain/insert/delete sequence over UTF-16 code units.
type TextDiff struct {
	Ops []TextDelta
}

func (d *TextDiff) Type() ContainerType { return TextType }
func (d *TextDiff) isEmpty() bool       { return len(d.Ops) == 0 }

// ApplyTo replays the diff against the previous text.
func (d *TextDiff) ApplyTo(prev string) string {
	src := utf16.Encode([]rune(prev))
	var out []uint16
	pos := 0
	for _, op := range d.Ops {
		switch {
		case op.Retain > 0:
			out = append(out, src[pos:pos+op.Retain]...)
			pos += op.Retain
		case op.Delete > 0:
			pos += op.Delete
		default:
			out = append(out, utf16.Encode([]rune(op.Insert))...)
		}
	}
	out = append(out, src[pos:]...)
	return string(utf16.Decode(out))
}

func (d *TextDiff) retain(n int) {
	if k := len(d.Ops); k > 0 && d.Ops[k-1].Retain > 0 {
		d.Ops[k-1].Retain += n
		return
	}
	d.Ops = append(d.Ops, TextDelta{Retain: n})
}

func (d *TextDiff) delete(n int) {
	if k := len(d.Ops); k > 0 && d.Ops[k-1].Delete > 0 {
		d.Ops[k-1].Delete += n
		return
	}
	d.Ops = append(d.Ops, TextDelta{Delete: n})
}

func (d *TextDiff) insert(r rune) {
	if k := len(d.Ops); k > 0 && d.Ops[k-1].Insert != "" {
		d.Ops[k-1].Insert += string(r)
		return
	}
	d.Ops = append(d.Ops, TextDelta{Insert: string(r)})
}

// trim drops a trailing retain.
func (d *TextDiff) trim() {
	if k := len(d.Ops); k > 0 && d.Ops[k-1].Retain > 0 {
		d.Ops = d.Ops[:k-1]
	}
}

// ListDelta is one step of a list diff. Exactly one field is set.
type ListDelta struct {
	Retain int
	Insert []any
	Delete int
}

// ListDiff is a retain/insert/delete sequence over list slots. Inserted
// containers appear as live handles.
type ListDiff struct {
	Ops []ListDelta
}

func (d *ListDiff) Type() ContainerType { return ListType }
func (d *ListDiff) isEmpty() bool       { return len(d.Ops) == 0 }

// ApplyTo replays the diff against the previous values.
func (d *ListDiff) ApplyTo(prev []any) []any {
	out := []any{}
	pos := 0
	for _, op := range d.Ops {
		switch {
		case op.Retain > 0:
			out = append(out, prev[pos:pos+op.Retain]...)
			pos += op.Retain
		case op.Delete > 0:
			pos += op.Delete
		default:
			out = append(out, op.Insert...)
		}
	}
	return append(out, prev[pos:]...)
}

func (d *ListDiff) retain(n int) {
	if k := len(d.Ops); k > 0 && d.Ops[k-1].Retain > 0 {
		d.Ops[k-1].Retain += n
		return
	}
	d.Ops = append(d.Ops, ListDelta{Retain: n})
}

func (d *ListDiff) delete(n int) {
	if k := len(d.Ops); k > 0 && d.Ops[k-1].Delete > 0 {
		d.Ops[k-1].Delete += n
		return
	}
	d.Ops = append(d.Ops, ListDelta{Delete: n})
}

func (d *ListDiff) insert(v any) {
	if k := len(d.Ops); k > 0 && d.Ops[k-1].Insert != nil {
		d.Ops[k-1].Insert = append(d.Ops[k-1].Insert, v)
		return
	}
	d.Ops = append(d.Ops, ListDelta{Insert: []any{v}})
}

func (d *ListDiff) trim() {
	if k := len(d.Ops); k > 0 && d.Ops[k-1].Retain > 0 {
		d.Ops = d.Ops[:k-1]
	}
}

// MapDiff lists the keys whose value changed. A removed key maps to nil.
type MapDiff struct {
	Updated map[string]any
}

func (d *MapDiff) Type() ContainerType { return MapType }
func (d *MapDiff) isEmpty() bool       { return len(d.Updated) == 0 }

// TreeDiffItem is one structural change of a tree node. Parent and
// OldParent are nil at the root level.
type TreeDiffItem struct {
	Target    TreeID
	Action    TreeAction
	Parent    *TreeID
	Index     int
	Position  string
	OldParent *TreeID
	OldIndex  int
}

// TreeDiff is an ordered list of node creations, moves and deletions.
// Creations and moves come first, shallow nodes before deep ones;
// deletions follow, deepest first.
type TreeDiff struct {
	Items []TreeDiffItem
}

func (d *TreeDiff) Type() ContainerType { return TreeType }
func (d *TreeDiff) isEmpty() bool       { return len(d.Items) == 0 }

// ContainerDiff is the diff of one container with its path after the
// transition.
type ContainerDiff struct {
	Target ContainerID
	Path   Path
	Diff   Diff

	chain []ContainerID
}

// under reports whether the diff targets id or one of its descendants.
func (c ContainerDiff) under(id ContainerID) bool {
	return slices.Contains(c.chain, id)
}
