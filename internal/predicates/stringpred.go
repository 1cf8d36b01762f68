package predicates

import (
	"regexp"
	"strings"
)

// RegexSet batches several patterns into one matcher so a field value is
// checked against all of them in a single pass. Go's regexp is RE2, so no
// pattern can backtrack unboundedly. All patterns must match (AND).
type RegexSet struct {
	exprs    []string
	compiled []*regexp.Regexp
}

func newRegexSet(exprs []string) (*RegexSet, error) {
	set := &RegexSet{exprs: exprs, compiled: make([]*regexp.Regexp, 0, len(exprs))}
	for _, expr := range exprs {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, err
		}
		set.compiled = append(set.compiled, re)
	}
	return set, nil
}

// matchAll reports whether every pattern in the set is matched by at least
// one of the field's values.
func (s *RegexSet) matchAll(values []string) bool {
	for _, re := range s.compiled {
		matched := false
		for _, v := range values {
			if re.MatchString(v) {
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

// target is one literal comparison target inside a field group. The lowered
// form of case-insensitive targets is precomputed at compile time, not per
// request.
type target struct {
	value       string
	lower       string
	insensitive bool
}

func newTarget(value string, caseSensitive bool) target {
	return target{value: value, lower: strings.ToLower(value), insensitive: !caseSensitive}
}

func (t target) pattern() string {
	if t.insensitive {
		return t.lower
	}
	return t.value
}

// sameAs reports a literally identical target (value and sensitivity),
// which the optimizer is allowed to AND-fold.
func (t target) sameAs(other target) bool {
	if t.insensitive != other.insensitive {
		return false
	}
	if t.insensitive {
		return t.lower == other.lower
	}
	return t.value == other.value
}

// foldedValue memoizes the lowercase form of one field value so a group
// with several case-insensitive targets folds it at most once.
type foldedValue struct {
	raw     string
	lowered string
	folded  bool
}

func (v *foldedValue) lower() string {
	if !v.folded {
		v.lowered = strings.ToLower(v.raw)
		v.folded = true
	}
	return v.lowered
}

func (t target) actualFor(v *foldedValue) string {
	if t.insensitive {
		return v.lower()
	}
	return v.raw
}

// fieldKey addresses one matchable field: a scalar field, or one key of the
// query/headers mappings (name lowercased).
type fieldKey struct {
	field string
	name  string
}

// fieldGroup is the per-field batched matcher the optimizer produces: at
// most one equals/startsWith/endsWith target, a set of contains targets,
// and one batched regex set. Evaluation order favors cheap short-circuits.
type fieldGroup struct {
	key      fieldKey
	equals   *target
	starts   *target
	ends     *target
	contains []target
	regexes  *RegexSet
}

// match evaluates the group against a field's values. Each target is
// independently satisfied by any one value, mirroring how the reference
// evaluator treats multi-value fields. An absent field never matches a
// group, since a group only exists when it has at least one active target.
func (g *fieldGroup) match(values []string, present bool) bool {
	if !present {
		return false
	}

	folded := make([]foldedValue, len(values))
	for i, v := range values {
		folded[i].raw = v
	}

	if g.equals != nil && !anyValue(folded, func(v *foldedValue) bool {
		return g.equals.actualFor(v) == g.equals.pattern()
	}) {
		return false
	}
	if g.starts != nil && !anyValue(folded, func(v *foldedValue) bool {
		return strings.HasPrefix(g.starts.actualFor(v), g.starts.pattern())
	}) {
		return false
	}
	if g.ends != nil && !anyValue(folded, func(v *foldedValue) bool {
		return strings.HasSuffix(g.ends.actualFor(v), g.ends.pattern())
	}) {
		return false
	}
	for i := range g.contains {
		t := &g.contains[i]
		if !anyValue(folded, func(v *foldedValue) bool {
			return strings.Contains(t.actualFor(v), t.pattern())
		}) {
			return false
		}
	}
	if g.regexes != nil && !g.regexes.matchAll(values) {
		return false
	}
	return true
}

func anyValue(values []foldedValue, pred func(*foldedValue) bool) bool {
	for i := range values {
		if pred(&values[i]) {
			return true
		}
	}
	return false
}
