package predicates

import (
	"encoding/json"
	"strings"

	"github.com/beevik/etree"
)

// evalNode is the reference evaluator: a direct interpreter of the predicate
// tree, total for every node kind. It is the semantic ground truth; the
// optimized path must agree with it on every request.
func evalNode(n *Node, f *Fields) bool {
	switch n.kind {
	case kindAnd:
		for _, child := range n.Children {
			if !evalNode(child, f) {
				return false
			}
		}
		return true
	case kindOr:
		for _, child := range n.Children {
			if evalNode(child, f) {
				return true
			}
		}
		return false
	case kindNot:
		return !evalNode(n.Child, f)
	case kindLeaf:
		for _, t := range n.Terms {
			if !evalTerm(n, t, f) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// evalTerm evaluates one (field, value) pair of a leaf predicate.
func evalTerm(n *Node, t Term, f *Fields) bool {
	switch t.Field {
	case FieldQuery, FieldHeaders:
		return evalMappedField(n, t, f)
	default:
		raw, present := f.scalar(t.Field)
		switch {
		case n.Op == OpDeepEquals:
			return evalDeepEqualsScalar(n, t.Value, raw, present)
		case n.Op == OpExists:
			return evalScalar(n, t.Value, raw, present)
		case isStructured(t.Value):
			return evalStructuredBody(n, t.Value, raw, present)
		default:
			return evalScalar(n, t.Value, raw, present)
		}
	}
}

// evalMappedField evaluates a predicate term against query or headers, where
// the predicate value is a mapping of key -> expected value.
func evalMappedField(n *Node, t Term, f *Fields) bool {
	switch n.Op {
	case OpDeepEquals:
		expected, ok := t.Value.(map[string]any)
		if !ok {
			return false
		}
		lowered := make(map[string]any, len(expected))
		for k, v := range expected {
			lowered[strings.ToLower(k)] = v
		}
		actual := mappedFieldValue(f.mapped(t.Field))
		return deepEqualCanonical(actual, lowered, n.CaseSensitive)

	case OpExists:
		switch expected := t.Value.(type) {
		case bool:
			return (len(f.mapped(t.Field)) > 0) == expected
		case map[string]any:
			for k, wantAny := range expected {
				want, ok := wantAny.(bool)
				if !ok {
					return false
				}
				vals, present := f.mappedValues(t.Field, k)
				if (present && anyNonEmpty(vals)) != want {
					return false
				}
			}
			return true
		default:
			return false
		}

	default:
		expected, ok := t.Value.(map[string]any)
		if !ok {
			return false
		}
		for k, sub := range expected {
			vals, present := f.mappedValues(t.Field, k)
			if !evalAgainstValues(n, sub, vals, present) {
				return false
			}
		}
		return true
	}
}

// evalAgainstValues matches an expected value against a multi-value field
// entry. A scalar expectation is satisfied by any one value; a sequence
// expectation requires every expected element to be matched by some value.
func evalAgainstValues(n *Node, expected any, vals []string, present bool) bool {
	if seq, ok := expected.([]any); ok {
		if !present {
			return false
		}
		for _, exp := range seq {
			matched := false
			for _, v := range vals {
				if evalScalar(n, exp, v, true) {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
		}
		return true
	}

	if !present {
		return evalScalar(n, expected, "", false)
	}
	for _, v := range vals {
		if evalScalar(n, expected, v, true) {
			return true
		}
	}
	return false
}

// evalScalar runs the full modifier pipeline for a scalar comparison:
// except stripping, then jsonpath/xpath extraction (jsonpath takes total
// precedence), then the leaf comparison with caseSensitive folding.
func evalScalar(n *Node, expected any, raw string, present bool) bool {
	if present && n.exceptRe != nil {
		raw = n.exceptRe.ReplaceAllString(raw, "")
	}

	values := []string{raw}
	if n.jpExpr != nil || n.xpPath != nil {
		if !present {
			values, present = nil, false
		} else if n.jpExpr != nil {
			results, ok := extractJSONPath(n, raw)
			if !ok {
				values, present = nil, false
			} else {
				values, present = scalarizeResults(results), true
			}
		} else {
			results, ok := extractXPath(n, raw)
			if !ok {
				values, present = nil, false
			} else {
				values, present = results, true
			}
		}
	}

	if n.Op == OpExists {
		want, ok := expected.(bool)
		if !ok {
			return false
		}
		return (present && anyNonEmpty(values)) == want
	}

	if !present {
		return false
	}
	expectedStr, ok := canonicalScalar(expected)
	if !ok {
		return false
	}
	for _, v := range values {
		if compareStrings(n, v, expectedStr) {
			return true
		}
	}
	return false
}

// compareStrings applies the leaf operator to one actual/expected pair.
// For matches the compiled pattern already carries case-insensitivity, so
// folding only applies to the literal operators.
func compareStrings(n *Node, actual, expected string) bool {
	if n.Op == OpMatches {
		re := n.matchRes[expected]
		return re != nil && re.MatchString(actual)
	}

	if !n.CaseSensitive {
		actual = strings.ToLower(actual)
		expected = strings.ToLower(expected)
	}

	switch n.Op {
	case OpEquals, OpDeepEquals:
		return actual == expected
	case OpContains:
		return strings.Contains(actual, expected)
	case OpStartsWith:
		return strings.HasPrefix(actual, expected)
	case OpEndsWith:
		return strings.HasSuffix(actual, expected)
	default:
		return false
	}
}

// evalStructuredBody compares a structured predicate value against the body,
// descending into matching sub-keys. The except filter applies to the raw
// body text before it is parsed.
func evalStructuredBody(n *Node, expected any, raw string, present bool) bool {
	if !present {
		return false
	}
	if n.exceptRe != nil {
		raw = n.exceptRe.ReplaceAllString(raw, "")
	}

	if n.jpExpr != nil {
		results, ok := extractJSONPath(n, raw)
		if !ok {
			return false
		}
		for _, result := range results {
			if matchStructured(n, expected, result) {
				return true
			}
		}
		return false
	}
	if n.xpPath != nil {
		results, ok := extractXPath(n, raw)
		if !ok {
			return false
		}
		for _, result := range results {
			if matchStructured(n, expected, result) {
				return true
			}
		}
		return false
	}

	var parsed any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return false
	}
	return matchStructured(n, expected, parsed)
}

// matchStructured recursively descends a structured predicate value against
// a structured request value, applying the leaf operator at scalar leaves.
func matchStructured(n *Node, expected, actual any) bool {
	switch exp := expected.(type) {
	case map[string]any:
		actualMap, ok := actual.(map[string]any)
		if !ok {
			return false
		}
		for k, sub := range exp {
			subActual, ok := actualMap[k]
			if !ok {
				return false
			}
			if !matchStructured(n, sub, subActual) {
				return false
			}
		}
		return true
	case []any:
		actualSeq, ok := actual.([]any)
		if !ok {
			return false
		}
		for _, sub := range exp {
			matched := false
			for _, item := range actualSeq {
				if matchStructured(n, sub, item) {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
		}
		return true
	default:
		if seq, ok := actual.([]any); ok {
			for _, item := range seq {
				if matchStructured(n, expected, item) {
					return true
				}
			}
			return false
		}
		if _, ok := actual.(map[string]any); ok {
			return false
		}
		expectedStr, ok := canonicalScalar(expected)
		if !ok {
			return false
		}
		actualStr, ok := canonicalScalar(actual)
		if !ok {
			return false
		}
		return compareStrings(n, actualStr, expectedStr)
	}
}

// evalDeepEqualsScalar handles deepEquals against a scalar field (typically
// body), with the same except -> extraction pipeline as scalar comparison.
func evalDeepEqualsScalar(n *Node, expected any, raw string, present bool) bool {
	if !present {
		return false
	}
	if n.exceptRe != nil {
		raw = n.exceptRe.ReplaceAllString(raw, "")
	}

	if n.jpExpr != nil {
		results, ok := extractJSONPath(n, raw)
		if !ok {
			return false
		}
		var actual any
		if len(results) == 1 {
			actual = results[0]
		} else {
			actual = results
		}
		return deepEqualCanonical(actual, expected, n.CaseSensitive)
	}
	if n.xpPath != nil {
		results, ok := extractXPath(n, raw)
		if !ok {
			return false
		}
		var actual any
		if len(results) == 1 {
			actual = results[0]
		} else {
			seq := make([]any, len(results))
			for i, r := range results {
				seq[i] = r
			}
			actual = seq
		}
		return deepEqualCanonical(actual, expected, n.CaseSensitive)
	}

	var parsed any
	if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
		return deepEqualCanonical(parsed, expected, n.CaseSensitive)
	}
	if isStructured(expected) {
		return false
	}
	return deepEqualCanonical(raw, expected, n.CaseSensitive)
}

// extractJSONPath parses raw as JSON and applies the node's precompiled
// JSONPath selector. No results or an unparseable document means the
// extracted value is absent.
func extractJSONPath(n *Node, raw string) ([]any, bool) {
	var data any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, false
	}
	results := n.jpExpr.Get(data)
	if len(results) == 0 {
		return nil, false
	}
	return results, true
}

// extractXPath parses raw as XML and applies the node's precompiled XPath.
// Attribute selection (trailing /@name) returns attribute values; element
// selection returns text content.
func extractXPath(n *Node, raw string) ([]string, bool) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(raw); err != nil {
		return nil, false
	}
	elems := doc.FindElementsPath(*n.xpPath)
	if len(elems) == 0 {
		return nil, false
	}
	var out []string
	for _, elem := range elems {
		if n.xpAttr != "" {
			attr := elem.SelectAttr(n.xpAttr)
			if attr != nil {
				out = append(out, attr.Value)
			}
			continue
		}
		out = append(out, elem.Text())
	}
	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

// scalarizeResults converts JSONPath results to comparison strings. Scalar
// results use their canonical form; structured results use a stable JSON
// rendering so substring operators still have something to inspect.
func scalarizeResults(results []any) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		if s, ok := canonicalScalar(r); ok {
			out = append(out, s)
			continue
		}
		if data, err := json.Marshal(r); err == nil {
			out = append(out, string(data))
		}
	}
	return out
}

func anyNonEmpty(vals []string) bool {
	for _, v := range vals {
		if v != "" {
			return true
		}
	}
	return false
}

func isStructured(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	default:
		return false
	}
}
