package trellis

import (
	"fmt"
	"math"
	"slices"

	"golang.org/x/exp/maps"
)

// normalizeValue converts a user value into its stored form: integers
// become int64, floats float64, byte slices are copied, and nested
// []any / map[string]any are normalized recursively. Container handles
// are not values; use the InsertContainer / SetContainer methods.
func normalizeValue(v any) (any, error) {
	switch x := v.(type) {
	case nil, bool, string, int64, float64:
		return x, nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint:
		if uint64(x) > math.MaxInt64 {
			return nil, fmt.Errorf("unsupported value: %d overflows int64", x)
		}
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return nil, fmt.Errorf("unsupported value: %d overflows int64", x)
		}
		return int64(x), nil
	case float32:
		return float64(x), nil
	case []byte:
		return slices.Clone(x), nil
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			n, err := normalizeValue(e)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			n, err := normalizeValue(e)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case ContainerID:
		return nil, fmt.Errorf("unsupported value: use a container insert for %s", x)
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

// sortedKeys returns the keys of m in ascending order.
func sortedKeys[V any](m map[string]V) []string {
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}

// deepValue returns the plain value of a container at vv, with nested
// containers expanded.
func deepValue(reg *registry, id ContainerID, vv VersionVector) any {
	cs, ok := reg.get(id)
	switch id.Type {
	case TextType:
		if !ok {
			return ""
		}
		return string(cs.text.values(vv))
	case ListType:
		out := []any{}
		if !ok {
			return out
		}
		for _, v := range cs.list.values(vv) {
			out = append(out, expandValue(reg, v, vv))
		}
		return out
	case MapType:
		out := map[string]any{}
		if !ok {
			return out
		}
		for _, k := range cs.mp.liveKeys(vv) {
			v, _ := cs.mp.get(k, vv)
			out[k] = expandValue(reg, v, vv)
		}
		return out
	case TreeType:
		out := []any{}
		if !ok {
			return out
		}
		st := cs.tree.stateAt(vv)
		for _, node := range st.preorder() {
			var parent any
			if p := st.nodes[node].parent; p != nil {
				parent = p.String()
			}
			out = append(out, map[string]any{
				"id":               node.String(),
				"parent":           parent,
				"index":            st.index(node),
				"fractional_index": st.nodes[node].position,
				"meta":             deepValue(reg, node.metaContainer(), vv),
			})
		}
		return out
	}
	return nil
}

func expandValue(reg *registry, v any, vv VersionVector) any {
	if cid, ok := v.(ContainerID); ok {
		return deepValue(reg, cid, vv)
	}
	return v
}
