// Package merge implements the recursive mapping merge the broker uses to fold
// a slave's partial report into the state stored for its master.
package merge

import (
	"sort"
	"strconv"
)

// Merge returns a new mapping holding base with overlay merged on top of it.
//
// For every key of overlay: a mapping (or sequence) value is merged
// recursively into whatever base holds at that key; any other value overwrites
// the key. When base holds a scalar where overlay holds a mapping, the scalar
// is kept as element "0" of the merged mapping (or dropped when falsy).
// Sequences are handled as mappings keyed by their index, and a merged
// sequence stays a sequence as long as its keys remain 0..n-1.
//
// Neither input is modified.
func Merge(base, overlay map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}

	for key, value := range overlay {
		next, ok := asMapping(value)
		if !ok {
			out[key] = value
			continue
		}

		current, ok := asMapping(out[key])
		if !ok {
			current = map[string]any{}
			if truthy(out[key]) {
				current["0"] = out[key]
			}
		}

		merged := Merge(current, next)
		if _, isList := value.([]any); isList {
			if len(merged) == 0 {
				out[key] = value
				continue
			}
			if list, ok := asList(merged); ok {
				out[key] = list
				continue
			}
		}
		out[key] = merged
	}
	return out
}

// asMapping views maps and sequences as mappings. The returned map is a fresh
// copy for sequences and the original for maps; Merge never writes into it.
func asMapping(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case []any:
		m := make(map[string]any, len(t))
		for i, e := range t {
			m[strconv.Itoa(i)] = e
		}
		return m, true
	}
	return nil, false
}

// asList converts a mapping keyed exactly 0..n-1 back into a sequence.
func asList(m map[string]any) ([]any, bool) {
	keys := make([]int, 0, len(m))
	for k := range m {
		i, err := strconv.Atoi(k)
		if err != nil || strconv.Itoa(i) != k {
			return nil, false
		}
		keys = append(keys, i)
	}
	sort.Ints(keys)

	list := make([]any, len(keys))
	for pos, i := range keys {
		if i != pos {
			return nil, false
		}
		list[pos] = m[strconv.Itoa(i)]
	}
	return list, true
}

// truthy follows the loose truthiness the wire format inherited: nil, false,
// zero numbers, "", "0" and empty collections are falsy.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != "" && t != "0"
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	case map[string]any:
		return len(t) > 0
	case []any:
		return len(t) > 0
	}
	return true
}
