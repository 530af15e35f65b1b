package trellis

import (
	"fmt"
	"strconv"
	"strings"
)

// ContainerType is the semantic kind of a container.
type ContainerType int

const (
	// TextType is a rich-text-free character sequence.
	TextType ContainerType = iota + 1

	// ListType is an ordered sequence of values.
	ListType

	// MapType is a last-write-wins key/value map.
	MapType

	// TreeType is a movable tree of nodes.
	TreeType
)

// String returns the kind name used in container id strings.
func (t ContainerType) String() string {
	switch t {
	case TextType:
		return "Text"
	case ListType:
		return "List"
	case MapType:
		return "Map"
	case TreeType:
		return "Tree"
	default:
		return "Unknown"
	}
}

func (t ContainerType) valid() bool {
	return t >= TextType && t <= TreeType
}

func parseContainerType(s string) (ContainerType, bool) {
	switch s {
	case "Text":
		return TextType, true
	case "List":
		return ListType, true
	case "Map":
		return MapType, true
	case "Tree":
		return TreeType, true
	}
	return 0, false
}

// ContainerID identifies a container. Root containers are named; all
// others are named by the id of the op that created them.
type ContainerID struct {
	Root string
	ID   ID
	Type ContainerType
}

// RootContainerID returns the id of the named root container.
func RootContainerID(name string, t ContainerType) ContainerID {
	return ContainerID{Root: name, Type: t}
}

// NormalContainerID returns the id of a container created by op id.
func NormalContainerID(id ID, t ContainerType) ContainerID {
	return ContainerID{ID: id, Type: t}
}

// IsRoot reports whether the id names a root container.
func (c ContainerID) IsRoot() bool {
	return c.Root != ""
}

// IsZero reports whether c is the zero ContainerID.
func (c ContainerID) IsZero() bool {
	return c == ContainerID{}
}

// String returns "cid:root-<name>:<Kind>" or "cid:<counter>@<peer>:<Kind>".
func (c ContainerID) String() string {
	if c.IsRoot() {
		return "cid:root-" + c.Root + ":" + c.Type.String()
	}
	return "cid:" + c.ID.String() + ":" + c.Type.String()
}

// MarshalText implements encoding.TextMarshaler.
func (c ContainerID) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *ContainerID) UnmarshalText(b []byte) error {
	parsed, err := ParseContainerID(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseContainerID parses the string form produced by String.
func ParseContainerID(s string) (ContainerID, error) {
	rest, ok := strings.CutPrefix(s, "cid:")
	if !ok {
		return ContainerID{}, fmt.Errorf("%w: %q", ErrInvalidContainerID, s)
	}
	i := strings.LastIndexByte(rest, ':')
	if i < 0 {
		return ContainerID{}, fmt.Errorf("%w: %q", ErrInvalidContainerID, s)
	}
	t, ok := parseContainerType(rest[i+1:])
	if !ok {
		return ContainerID{}, fmt.Errorf("%w: %q", ErrInvalidContainerID, s)
	}
	body := rest[:i]
	if name, ok := strings.CutPrefix(body, "root-"); ok {
		if name == "" {
			return ContainerID{}, fmt.Errorf("%w: %q", ErrInvalidContainerID, s)
		}
		return RootContainerID(name, t), nil
	}
	id, err := ParseID(body)
	if err != nil {
		return ContainerID{}, fmt.Errorf("%w: %q", ErrInvalidContainerID, s)
	}
	return NormalContainerID(id, t), nil
}

// TreeID identifies a tree node: the id of the op that created it.
type TreeID ID

// String formats the node id as "counter@peer".
func (t TreeID) String() string {
	return ID(t).String()
}

// ParseTreeID parses the "counter@peer" form.
func ParseTreeID(s string) (TreeID, error) {
	id, err := ParseID(s)
	return TreeID(id), err
}

// metaContainer returns the id of the node's metadata map.
func (t TreeID) metaContainer() ContainerID {
	return NormalContainerID(ID(t), MapType)
}

func treeIDCompare(a, b TreeID) int {
	return ID(a).Compare(ID(b))
}

// Index is one step of a path: Key, Seq or Node.
type Index interface {
	isIndex()
	String() string
}

// Key indexes a map field or names a root container.
type Key string

// Seq indexes a list slot.
type Seq int

// Node indexes a tree node.
type Node TreeID

func (Key) isIndex()  {}
func (Seq) isIndex()  {}
func (Node) isIndex() {}

func (k Key) String() string  { return string(k) }
func (s Seq) String() string  { return strconv.Itoa(int(s)) }
func (n Node) String() string { return TreeID(n).String() }

// Path locates a container from a root.
type Path []Index

// Values returns the path as plain values: strings for keys and tree
// nodes, ints for list slots.
func (p Path) Values() []any {
	out := make([]any, len(p))
	for i, idx := range p {
		switch v := idx.(type) {
		case Key:
			out[i] = string(v)
		case Seq:
			out[i] = int(v)
		case Node:
			out[i] = v.String()
		}
	}
	return out
}

// String joins the path with "/".
func (p Path) String() string {
	parts := make([]string, len(p))
	for i, idx := range p {
		parts[i] = idx.String()
	}
	return strings.Join(parts, "/")
}
