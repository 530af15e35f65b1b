package trellis

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
	"google.golang.org/protobuf/encoding/protowire"
)

// Export layout: magic, format version, xxhash64 of the body (big endian),
// then the body as protobuf wire fields.
const (
	exportMagic   = "TRLS"
	exportVersion = 1
	headerLen     = len(exportMagic) + 1 + 8
)

type exportMode uint64

const (
	modeSnapshot exportMode = 1
	modeUpdates  exportMode = 2
)

// Field numbers.
const (
	fDocMode   protowire.Number = 1
	fDocChange protowire.Number = 2

	fChangePeer      protowire.Number = 1
	fChangeCounter   protowire.Number = 2
	fChangeLamport   protowire.Number = 3
	fChangeTimestamp protowire.Number = 4
	fChangeDep       protowire.Number = 5
	fChangeMessage   protowire.Number = 6
	fChangeOp        protowire.Number = 7

	fIDPeer    protowire.Number = 1
	fIDCounter protowire.Number = 2

	fSpanPeer  protowire.Number = 1
	fSpanStart protowire.Number = 2
	fSpanEnd   protowire.Number = 3

	fOpContainer protowire.Number = 1
	fOpCounter   protowire.Number = 2
	fOpKind      protowire.Number = 3
	fOpPos       protowire.Number = 4
	fOpOrigin    protowire.Number = 5
	fOpText      protowire.Number = 6
	fOpValue     protowire.Number = 7
	fOpLen       protowire.Number = 8
	fOpTarget    protowire.Number = 9
	fOpSeqType   protowire.Number = 10
	fOpKey       protowire.Number = 11
	fOpDeleted   protowire.Number = 12
	fOpAction    protowire.Number = 13
	fOpTreeNode  protowire.Number = 14
	fOpParent    protowire.Number = 15
	fOpPosition  protowire.Number = 16

	fValKind      protowire.Number = 1
	fValBool      protowire.Number = 2
	fValInt       protowire.Number = 3
	fValFloat     protowire.Number = 4
	fValString    protowire.Number = 5
	fValBytes     protowire.Number = 6
	fValItem      protowire.Number = 7
	fValEntry     protowire.Number = 8
	fValContainer protowire.Number = 9

	fEntryKey   protowire.Number = 1
	fEntryValue protowire.Number = 2
)

const (
	opTextInsert = iota + 1
	opListInsert
	opSeqDelete
	opMapSet
	opTree
)

const (
	valNull = iota + 1
	valBool
	valInt
	valFloat
	valString
	valBytes
	valList
	valMap
	valContainer
)

// wireWriter appends protobuf wire fields.
type wireWriter struct {
	b []byte
}

func (w *wireWriter) varint(num protowire.Number, v uint64) {
	w.b = protowire.AppendTag(w.b, num, protowire.VarintType)
	w.b = protowire.AppendVarint(w.b, v)
}

func (w *wireWriter) fixed64(num protowire.Number, v uint64) {
	w.b = protowire.AppendTag(w.b, num, protowire.Fixed64Type)
	w.b = protowire.AppendFixed64(w.b, v)
}

func (w *wireWriter) bytes(num protowire.Number, v []byte) {
	w.b = protowire.AppendTag(w.b, num, protowire.BytesType)
	w.b = protowire.AppendBytes(w.b, v)
}

func (w *wireWriter) string(num protowire.Number, v string) {
	w.b = protowire.AppendTag(w.b, num, protowire.BytesType)
	w.b = protowire.AppendString(w.b, v)
}

func (w *wireWriter) message(num protowire.Number, fn func(*wireWriter)) {
	inner := &wireWriter{}
	fn(inner)
	w.bytes(num, inner.b)
}

// encodeChanges serializes changes in the export layout.
func encodeChanges(mode exportMode, changes []*Change) []byte {
	body := &wireWriter{}
	body.varint(fDocMode, uint64(mode))
	for _, c := range changes {
		body.message(fDocChange, func(w *wireWriter) {
			writeChange(w, c)
		})
	}
	return frame(body.b)
}

// frame prepends the export header to body.
func frame(body []byte) []byte {
	out := make([]byte, 0, headerLen+len(body))
	out = append(out, exportMagic...)
	out = append(out, exportVersion)
	out = binary.BigEndian.AppendUint64(out, xxhash.Sum64(body))
	return append(out, body...)
}

func writeChange(w *wireWriter, c *Change) {
	w.varint(fChangePeer, uint64(c.ID.Peer))
	w.varint(fChangeCounter, uint64(c.ID.Counter))
	w.varint(fChangeLamport, uint64(c.Lamport))
	w.varint(fChangeTimestamp, protowire.EncodeZigZag(c.Timestamp))
	for _, dep := range c.Deps {
		w.message(fChangeDep, func(w *wireWriter) {
			writeID(w, dep)
		})
	}
	if c.Message != "" {
		w.string(fChangeMessage, c.Message)
	}
	for _, op := range c.Ops {
		w.message(fChangeOp, func(w *wireWriter) {
			writeOp(w, op)
		})
	}
}

func writeID(w *wireWriter, id ID) {
	w.varint(fIDPeer, uint64(id.Peer))
	w.varint(fIDCounter, uint64(id.Counter))
}

func writeOp(w *wireWriter, op Op) {
	w.string(fOpContainer, op.Container.String())
	w.varint(fOpCounter, uint64(op.Counter))
	switch c := op.Content.(type) {
	case *TextInsert:
		w.varint(fOpKind, opTextInsert)
		w.varint(fOpPos, uint64(c.Pos))
		if c.Origin != nil {
			w.message(fOpOrigin, func(w *wireWriter) { writeID(w, *c.Origin) })
		}
		w.string(fOpText, c.Text)
	case *ListInsert:
		w.varint(fOpKind, opListInsert)
		w.varint(fOpPos, uint64(c.Pos))
		if c.Origin != nil {
			w.message(fOpOrigin, func(w *wireWriter) { writeID(w, *c.Origin) })
		}
		for _, v := range c.Values {
			w.message(fOpValue, func(w *wireWriter) { writeValue(w, v) })
		}
	case *SeqDelete:
		w.varint(fOpKind, opSeqDelete)
		w.varint(fOpSeqType, uint64(c.Type))
		w.varint(fOpPos, uint64(c.Pos))
		w.varint(fOpLen, uint64(c.Len))
		for _, s := range c.Targets {
			w.message(fOpTarget, func(w *wireWriter) {
				w.varint(fSpanPeer, uint64(s.Peer))
				w.varint(fSpanStart, uint64(s.Start))
				w.varint(fSpanEnd, uint64(s.End))
			})
		}
	case *MapSet:
		w.varint(fOpKind, opMapSet)
		w.string(fOpKey, c.Key)
		if c.Deleted {
			w.varint(fOpDeleted, 1)
		} else {
			w.message(fOpValue, func(w *wireWriter) { writeValue(w, c.Value) })
		}
	case *TreeOp:
		w.varint(fOpKind, opTree)
		w.varint(fOpAction, uint64(c.Action))
		w.message(fOpTreeNode, func(w *wireWriter) { writeID(w, ID(c.Target)) })
		if c.Parent != nil {
			w.message(fOpParent, func(w *wireWriter) { writeID(w, ID(*c.Parent)) })
		}
		if c.Position != "" {
			w.string(fOpPosition, c.Position)
		}
	}
}

func writeValue(w *wireWriter, v any) {
	switch x := v.(type) {
	case nil:
		w.varint(fValKind, valNull)
	case bool:
		w.varint(fValKind, valBool)
		w.varint(fValBool, protowire.EncodeBool(x))
	case int64:
		w.varint(fValKind, valInt)
		w.varint(fValInt, protowire.EncodeZigZag(x))
	case float64:
		w.varint(fValKind, valFloat)
		w.fixed64(fValFloat, math.Float64bits(x))
	case string:
		w.varint(fValKind, valString)
		w.string(fValString, x)
	case []byte:
		w.varint(fValKind, valBytes)
		w.bytes(fValBytes, x)
	case []any:
		w.varint(fValKind, valList)
		for _, item := range x {
			w.message(fValItem, func(w *wireWriter) { writeValue(w, item) })
		}
	case map[string]any:
		w.varint(fValKind, valMap)
		for _, k := range sortedKeys(x) {
			w.message(fValEntry, func(w *wireWriter) {
				w.string(fEntryKey, k)
				w.message(fEntryValue, func(w *wireWriter) { writeValue(w, x[k]) })
			})
		}
	case ContainerID:
		w.varint(fValKind, valContainer)
		w.string(fValContainer, x.String())
	}
}

// wireField is one decoded field. Varint and fixed64 values are in num;
// length-delimited values in raw.
type wireField struct {
	typ protowire.Type
	num uint64
	raw []byte
}

func (f wireField) str() string {
	return string(f.raw)
}

// readFields calls fn for each field of b in order.
func readFields(b []byte, fn func(protowire.Number, wireField) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		var f wireField
		f.typ = typ
		switch typ {
		case protowire.VarintType:
			f.num, n = protowire.ConsumeVarint(b)
		case protowire.Fixed64Type:
			f.num, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.raw, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		if err := fn(num, f); err != nil {
			return err
		}
	}
	return nil
}

var errMalformed = errors.New("malformed record")

// decodeExport parses export bytes. Nothing is applied; the caller
// merges the returned changes.
func decodeExport(data []byte) (exportMode, []*Change, error) {
	if len(data) < headerLen || !bytes.Equal(data[:len(exportMagic)], []byte(exportMagic)) {
		return 0, nil, fmt.Errorf("%w: not a trellis export", ErrDecode)
	}
	if v := data[len(exportMagic)]; v != exportVersion {
		return 0, nil, fmt.Errorf("%w: unsupported format version %d", ErrDecode, v)
	}
	sum := binary.BigEndian.Uint64(data[len(exportMagic)+1 : headerLen])
	body := data[headerLen:]
	if xxhash.Sum64(body) != sum {
		return 0, nil, fmt.Errorf("%w: checksum mismatch", ErrDecode)
	}

	var mode exportMode
	var changes []*Change
	err := readFields(body, func(num protowire.Number, f wireField) error {
		switch num {
		case fDocMode:
			mode = exportMode(f.num)
		case fDocChange:
			c, err := readChange(f.raw)
			if err != nil {
				return err
			}
			changes = append(changes, c)
		}
		return nil
	})
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if mode != modeSnapshot && mode != modeUpdates {
		return 0, nil, fmt.Errorf("%w: unknown export mode %d", ErrDecode, mode)
	}
	return mode, changes, nil
}

func readChange(b []byte) (*Change, error) {
	c := &Change{}
	err := readFields(b, func(num protowire.Number, f wireField) error {
		switch num {
		case fChangePeer:
			c.ID.Peer = PeerID(f.num)
		case fChangeCounter:
			c.ID.Counter = Counter(f.num)
		case fChangeLamport:
			c.Lamport = Lamport(f.num)
		case fChangeTimestamp:
			c.Timestamp = protowire.DecodeZigZag(f.num)
		case fChangeDep:
			id, err := readID(f.raw)
			if err != nil {
				return err
			}
			c.Deps = append(c.Deps, id)
		case fChangeMessage:
			c.Message = f.str()
		case fChangeOp:
			op, err := readOp(f.raw)
			if err != nil {
				return err
			}
			c.Ops = append(c.Ops, op)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.Deps = NewFrontiers(c.Deps...)

	// ops must tile the change's counters
	next := int64(c.ID.Counter)
	for _, op := range c.Ops {
		n := int64(op.AtomLen())
		if int64(op.Counter) != next || n == 0 || next+n > math.MaxInt32 {
			return nil, fmt.Errorf("%w: op counters of change %s", errMalformed, c.ID)
		}
		next += n
	}
	if len(c.Ops) == 0 || c.ID.Counter < 0 {
		return nil, fmt.Errorf("%w: change %s", errMalformed, c.ID)
	}
	return c, nil
}

func readID(b []byte) (ID, error) {
	var id ID
	err := readFields(b, func(num protowire.Number, f wireField) error {
		switch num {
		case fIDPeer:
			id.Peer = PeerID(f.num)
		case fIDCounter:
			id.Counter = Counter(f.num)
		}
		return nil
	})
	if id.Counter < 0 {
		return id, errMalformed
	}
	return id, err
}

func readOp(b []byte) (Op, error) {
	var (
		op       Op
		kind     uint64
		pos, n   int
		origin   *ID
		text     string
		values   []any
		targets  []IDSpan
		seqType  ContainerType
		key      string
		deleted  bool
		action   TreeAction
		node     ID
		parent   *TreeID
		position string
		cidErr   error
	)
	err := readFields(b, func(num protowire.Number, f wireField) error {
		switch num {
		case fOpContainer:
			op.Container, cidErr = ParseContainerID(f.str())
		case fOpCounter:
			op.Counter = Counter(f.num)
		case fOpKind:
			kind = f.num
		case fOpPos:
			pos = int(f.num)
		case fOpOrigin:
			id, err := readID(f.raw)
			if err != nil {
				return err
			}
			origin = &id
		case fOpText:
			if !utf8.Valid(f.raw) {
				return fmt.Errorf("%w: invalid utf-8 text", errMalformed)
			}
			text = f.str()
		case fOpValue:
			v, err := readValue(f.raw)
			if err != nil {
				return err
			}
			values = append(values, v)
		case fOpLen:
			n = int(f.num)
		case fOpTarget:
			var (
				peer       PeerID
				start, end uint64
			)
			err := readFields(f.raw, func(num protowire.Number, f wireField) error {
				switch num {
				case fSpanPeer:
					peer = PeerID(f.num)
				case fSpanStart:
					start = f.num
				case fSpanEnd:
					end = f.num
				}
				return nil
			})
			if err != nil {
				return err
			}
			if start >= end || end > math.MaxInt32 {
				return fmt.Errorf("%w: delete span %d-%d", errMalformed, start, end)
			}
			targets = append(targets, IDSpan{Peer: peer, Start: Counter(start), End: Counter(end)})
		case fOpSeqType:
			seqType = ContainerType(f.num)
		case fOpKey:
			key = f.str()
		case fOpDeleted:
			deleted = protowire.DecodeBool(f.num)
		case fOpAction:
			action = TreeAction(f.num)
		case fOpTreeNode:
			id, err := readID(f.raw)
			if err != nil {
				return err
			}
			node = id
		case fOpParent:
			id, err := readID(f.raw)
			if err != nil {
				return err
			}
			p := TreeID(id)
			parent = &p
		case fOpPosition:
			position = f.str()
		}
		return nil
	})
	if err != nil {
		return op, err
	}
	if cidErr != nil {
		return op, cidErr
	}

	switch kind {
	case opTextInsert:
		op.Content = &TextInsert{Pos: pos, Origin: origin, Text: text}
	case opListInsert:
		op.Content = &ListInsert{Pos: pos, Origin: origin, Values: values}
	case opSeqDelete:
		op.Content = &SeqDelete{Type: seqType, Pos: pos, Len: n, Targets: targets}
	case opMapSet:
		set := &MapSet{Key: key, Deleted: deleted}
		if !deleted {
			if len(values) != 1 {
				return op, fmt.Errorf("%w: map set without value", errMalformed)
			}
			set.Value = values[0]
		}
		op.Content = set
	case opTree:
		if action < TreeCreate || action > TreeDelete {
			return op, fmt.Errorf("%w: tree action %d", errMalformed, action)
		}
		op.Content = &TreeOp{Action: action, Target: TreeID(node), Parent: parent, Position: position}
	default:
		return op, fmt.Errorf("%w: op kind %d", errMalformed, kind)
	}
	if op.Content.kind() != op.Container.Type {
		return op, fmt.Errorf("%w: %s op on %s", errMalformed, op.Content.kind(), op.Container)
	}
	return op, nil
}

func readValue(b []byte) (any, error) {
	var (
		kind    uint64
		v       any
		items   []any
		entries map[string]any
	)
	err := readFields(b, func(num protowire.Number, f wireField) error {
		switch num {
		case fValKind:
			kind = f.num
		case fValBool:
			v = protowire.DecodeBool(f.num)
		case fValInt:
			v = protowire.DecodeZigZag(f.num)
		case fValFloat:
			v = math.Float64frombits(f.num)
		case fValString:
			v = f.str()
		case fValBytes:
			v = bytes.Clone(f.raw)
		case fValItem:
			item, err := readValue(f.raw)
			if err != nil {
				return err
			}
			items = append(items, item)
		case fValEntry:
			var k string
			var ev any
			err := readFields(f.raw, func(num protowire.Number, f wireField) error {
				switch num {
				case fEntryKey:
					k = f.str()
				case fEntryValue:
					var err error
					ev, err = readValue(f.raw)
					return err
				}
				return nil
			})
			if err != nil {
				return err
			}
			if entries == nil {
				entries = make(map[string]any)
			}
			entries[k] = ev
		case fValContainer:
			cid, err := ParseContainerID(f.str())
			if err != nil {
				return err
			}
			v = cid
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	switch kind {
	case valNull:
		return nil, nil
	case valBool, valInt, valFloat, valString, valContainer:
		if v == nil {
			return nil, fmt.Errorf("%w: value of kind %d", errMalformed, kind)
		}
		return v, nil
	case valBytes:
		if v == nil {
			return []byte{}, nil
		}
		return v, nil
	case valList:
		if items == nil {
			items = []any{}
		}
		return items, nil
	case valMap:
		if entries == nil {
			entries = map[string]any{}
		}
		return entries, nil
	}
	return nil, fmt.Errorf("%w: value kind %d", errMalformed, kind)
}
