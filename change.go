package trellis

// Change is a committed, immutable group of ops from one peer. Its atoms
// occupy counters [ID.Counter, End()) and lamports [Lamport, Lamport+AtomLen()).
type Change struct {
	ID        ID
	Lamport   Lamport
	Timestamp int64
	Deps      Frontiers
	Message   string
	Ops       []Op
}

// AtomLen returns the number of counters the change covers.
func (c *Change) AtomLen() int {
	n := 0
	for _, op := range c.Ops {
		n += op.AtomLen()
	}
	return n
}

// End returns the exclusive end counter.
func (c *Change) End() Counter {
	return c.ID.Counter + Counter(c.AtomLen())
}

// LastID returns the id of the final atom.
func (c *Change) LastID() ID {
	return NewID(c.ID.Peer, c.End()-1)
}

// Span returns the id span of the change.
func (c *Change) Span() IDSpan {
	return IDSpan{Peer: c.ID.Peer, Start: c.ID.Counter, End: c.End()}
}

// lamportAt returns the lamport of the atom with the given counter.
func (c *Change) lamportAt(counter Counter) Lamport {
	return c.Lamport + Lamport(counter-c.ID.Counter)
}

// slice returns the sub-change covering counters [from, to). An inner
// slice depends on the atom just before it.
func (c *Change) slice(from, to Counter) *Change {
	from = max(from, c.ID.Counter)
	to = min(to, c.End())
	if from == c.ID.Counter && to == c.End() {
		return c
	}
	out := &Change{
		ID:        NewID(c.ID.Peer, from),
		Lamport:   c.lamportAt(from),
		Timestamp: c.Timestamp,
		Deps:      c.Deps,
		Message:   c.Message,
	}
	if from > c.ID.Counter {
		out.Deps = Frontiers{NewID(c.ID.Peer, from-1)}
	}
	for _, op := range c.Ops {
		opStart, opEnd := op.Counter, op.Counter+Counter(op.AtomLen())
		lo, hi := max(opStart, from), min(opEnd, to)
		if lo >= hi {
			continue
		}
		out.Ops = append(out.Ops, op.slice(c.ID.Peer, int(lo-opStart), int(hi-opStart)))
	}
	return out
}

// Meta returns the read-only projection of the change.
func (c *Change) Meta() ChangeMeta {
	return ChangeMeta{
		ID:        c.ID,
		Lamport:   c.Lamport,
		Timestamp: c.Timestamp,
		Deps:      c.Deps.Clone(),
		Message:   c.Message,
		Len:       c.AtomLen(),
	}
}

// ChangeMeta describes a change without its ops.
type ChangeMeta struct {
	ID        ID
	Lamport   Lamport
	Timestamp int64
	Deps      Frontiers
	Message   string
	Len       int
}

// JSONChange is the canonical JSON record of a change. Field order is
// fixed; hashes computed over the marshalled form are stable.
type JSONChange struct {
	ID        string   `json:"id"`
	Timestamp int64    `json:"timestamp"`
	Deps      []string `json:"deps"`
	Lamport   Lamport  `json:"lamport"`
	Msg       string   `json:"msg,omitempty"`
	Ops       []JSONOp `json:"ops"`
}

// JSONOp is the canonical JSON record of an op.
type JSONOp struct {
	Container string  `json:"container"`
	Content   any     `json:"content"`
	Counter   Counter `json:"counter"`
}

type jsonTextInsert struct {
	Type string `json:"type"`
	Pos  int    `json:"pos"`
	Text string `json:"text"`
}

type jsonListInsert struct {
	Type  string `json:"type"`
	Pos   int    `json:"pos"`
	Value []any  `json:"value"`
}

type jsonSeqDelete struct {
	Type    string `json:"type"`
	Pos     int    `json:"pos"`
	Len     int    `json:"len"`
	StartID string `json:"start_id"`
}

type jsonMapInsert struct {
	Type  string `json:"type"`
	Key   string `json:"key"`
	Value any    `json:"value"`
}

type jsonMapDelete struct {
	Type string `json:"type"`
	Key  string `json:"key"`
}

type jsonTreeOp struct {
	Type            string  `json:"type"`
	Target          string  `json:"target"`
	Parent          *string `json:"parent,omitempty"`
	FractionalIndex string  `json:"fractional_index,omitempty"`
}

// toJSON renders the change in canonical form.
func (c *Change) toJSON() JSONChange {
	out := JSONChange{
		ID:        c.ID.String(),
		Timestamp: c.Timestamp,
		Deps:      c.Deps.Strings(),
		Lamport:   c.Lamport,
		Msg:       c.Message,
		Ops:       make([]JSONOp, 0, len(c.Ops)),
	}
	for _, op := range c.Ops {
		out.Ops = append(out.Ops, JSONOp{
			Container: op.Container.String(),
			Content:   jsonContent(op.Content),
			Counter:   op.Counter,
		})
	}
	return out
}

func jsonContent(content OpContent) any {
	switch c := content.(type) {
	case *TextInsert:
		return jsonTextInsert{Type: "insert", Pos: c.Pos, Text: c.Text}
	case *ListInsert:
		values := c.Values
		if values == nil {
			values = []any{}
		}
		return jsonListInsert{Type: "insert", Pos: c.Pos, Value: values}
	case *SeqDelete:
		start := ""
		if len(c.Targets) > 0 {
			start = c.Targets[0].StartID().String()
		}
		return jsonSeqDelete{Type: "delete", Pos: c.Pos, Len: c.Len, StartID: start}
	case *MapSet:
		if c.Deleted {
			return jsonMapDelete{Type: "delete", Key: c.Key}
		}
		return jsonMapInsert{Type: "insert", Key: c.Key, Value: c.Value}
	case *TreeOp:
		out := jsonTreeOp{Type: c.Action.String(), Target: c.Target.String(), FractionalIndex: c.Position}
		if c.Parent != nil {
			p := c.Parent.String()
			out.Parent = &p
		}
		return out
	}
	return nil
}
