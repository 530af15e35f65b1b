package trellis

import (
	"unicode/utf8"
)

// Op is one raw operation on a container. An op owns AtomLen consecutive
// counters starting at Counter.
type Op struct {
	Container ContainerID
	Counter   Counter
	Content   OpContent
}

// AtomLen returns the number of counters the op consumes.
func (o Op) AtomLen() int {
	return o.Content.atomLen()
}

// slice returns the part of the op covering atoms [from, to).
func (o Op) slice(peer PeerID, from, to int) Op {
	if from == 0 && to == o.AtomLen() {
		return o
	}
	return Op{
		Container: o.Container,
		Counter:   o.Counter + Counter(from),
		Content:   o.Content.slice(NewID(peer, o.Counter), from, to),
	}
}

// OpContent is the payload of an op: one of *TextInsert, *ListInsert,
// *SeqDelete, *MapSet or *TreeOp.
type OpContent interface {
	atomLen() int
	slice(start ID, from, to int) OpContent
	kind() ContainerType
}

// TextInsert inserts Text after the element Origin (nil: at the start).
// Pos is the Unicode position seen by the author.
type TextInsert struct {
	Pos    int
	Origin *ID
	Text   string
}

func (c *TextInsert) atomLen() int        { return utf8.RuneCountInString(c.Text) }
func (c *TextInsert) kind() ContainerType { return TextType }

func (c *TextInsert) slice(start ID, from, to int) OpContent {
	rs := []rune(c.Text)
	return &TextInsert{
		Pos:    c.Pos + from,
		Origin: sliceOrigin(c.Origin, start, from),
		Text:   string(rs[from:to]),
	}
}

// ListInsert inserts Values after the element Origin (nil: at the start).
type ListInsert struct {
	Pos    int
	Origin *ID
	Values []any
}

func (c *ListInsert) atomLen() int        { return len(c.Values) }
func (c *ListInsert) kind() ContainerType { return ListType }

func (c *ListInsert) slice(start ID, from, to int) OpContent {
	return &ListInsert{
		Pos:    c.Pos + from,
		Origin: sliceOrigin(c.Origin, start, from),
		Values: c.Values[from:to],
	}
}

func sliceOrigin(origin *ID, start ID, from int) *ID {
	if from == 0 {
		return origin
	}
	prev := start.Inc(from - 1)
	return &prev
}

// SeqDelete removes the elements named by Targets from a text or list.
// Pos and Len describe the deletion as the author saw it.
type SeqDelete struct {
	Type    ContainerType
	Pos     int
	Len     int
	Targets []IDSpan
}

func (c *SeqDelete) atomLen() int {
	n := 0
	for _, s := range c.Targets {
		n += s.Len()
	}
	return n
}

func (c *SeqDelete) kind() ContainerType { return c.Type }

func (c *SeqDelete) slice(_ ID, from, to int) OpContent {
	return &SeqDelete{
		Type:    c.Type,
		Pos:     c.Pos,
		Len:     to - from,
		Targets: sliceSpans(c.Targets, from, to),
	}
}

// MapSet sets or deletes a map key.
type MapSet struct {
	Key     string
	Value   any
	Deleted bool
}

func (c *MapSet) atomLen() int                    { return 1 }
func (c *MapSet) kind() ContainerType             { return MapType }
func (c *MapSet) slice(_ ID, _, _ int) OpContent { return c }

// TreeAction is what a tree op does to its target node.
type TreeAction int

const (
	TreeCreate TreeAction = iota + 1
	TreeMove
	TreeDelete
)

// String returns the action name.
func (a TreeAction) String() string {
	switch a {
	case TreeCreate:
		return "create"
	case TreeMove:
		return "move"
	case TreeDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// TreeOp creates, moves or deletes a tree node. A nil Parent is the root
// level. Position is the fractional index among siblings.
type TreeOp struct {
	Action   TreeAction
	Target   TreeID
	Parent   *TreeID
	Position string
}

func (c *TreeOp) atomLen() int                    { return 1 }
func (c *TreeOp) kind() ContainerType             { return TreeType }
func (c *TreeOp) slice(_ ID, _, _ int) OpContent { return c }

// createdContainers lists the containers an op attaches to its container.
func (o Op) createdContainers() []ContainerID {
	switch c := o.Content.(type) {
	case *ListInsert:
		var out []ContainerID
		for _, v := range c.Values {
			if cid, ok := v.(ContainerID); ok {
				out = append(out, cid)
			}
		}
		return out
	case *MapSet:
		if cid, ok := c.Value.(ContainerID); ok && !c.Deleted {
			return []ContainerID{cid}
		}
	case *TreeOp:
		if c.Action == TreeCreate {
			return []ContainerID{c.Target.metaContainer()}
		}
	}
	return nil
}
