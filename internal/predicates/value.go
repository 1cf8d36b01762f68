package predicates

import (
	"sort"
	"strconv"
	"strings"
)

// canonicalScalar converts a scalar leaf (string, number, boolean, null) to
// its canonical string form: 123 -> "123", true -> "true", nil -> "null".
// Returns false for maps and arrays.
func canonicalScalar(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "null", true
	case string:
		return val, true
	case bool:
		return strconv.FormatBool(val), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	default:
		return "", false
	}
}

// canonicalize rewrites a structured value so that deep comparison sees both
// sides in the same shape:
//
//   - scalar leaves become their canonical strings (folded when fold is set)
//   - sequences are sorted by each element's canonical representation, so
//     ["3","1","2"] deep-equals ["1","2","3"]
//   - mappings keep their keys and canonicalize values recursively
func canonicalize(v any, fold bool) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = canonicalize(item, fold)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = canonicalize(item, fold)
		}
		sort.SliceStable(out, func(i, j int) bool {
			return sortKey(out[i]) < sortKey(out[j])
		})
		return out
	default:
		s, ok := canonicalScalar(v)
		if !ok {
			return v
		}
		if fold {
			s = strings.ToLower(s)
		}
		return s
	}
}

// sortKey produces a deterministic ordering key for canonicalized values.
// Scalars sort by their string form; composites by a stable rendering.
func sortKey(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		b.WriteByte('{')
		for _, k := range keys {
			b.WriteString(k)
			b.WriteByte(':')
			b.WriteString(sortKey(val[k]))
			b.WriteByte(',')
		}
		b.WriteByte('}')
		return b.String()
	case []any:
		var b strings.Builder
		b.WriteByte('[')
		for _, item := range val {
			b.WriteString(sortKey(item))
			b.WriteByte(',')
		}
		b.WriteByte(']')
		return b.String()
	default:
		s, _ := canonicalScalar(v)
		return s
	}
}

// deepEqual compares two canonicalized values. Mappings must match exactly
// on key sets; sequences have already been sorted by canonicalize.
func deepEqual(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, item := range av {
			other, ok := bv[k]
			if !ok || !deepEqual(item, other) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !deepEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// deepEqualCanonical applies the canonical coercions to both sides and
// compares structurally.
func deepEqualCanonical(actual, expected any, caseSensitive bool) bool {
	fold := !caseSensitive
	return deepEqual(canonicalize(actual, fold), canonicalize(expected, fold))
}

// mappedFieldValue converts a query/header multi-value mapping into the
// structured value deepEquals compares against: single values collapse to
// scalars, repeated keys stay sequences.
func mappedFieldValue(m map[string][]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, vs := range m {
		if len(vs) == 1 {
			out[k] = vs[0]
			continue
		}
		items := make([]any, len(vs))
		for i, v := range vs {
			items[i] = v
		}
		out[k] = items
	}
	return out
}
