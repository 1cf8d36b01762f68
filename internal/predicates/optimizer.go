package predicates

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/beevik/etree"
	"github.com/ohler55/ojg/jp"
)

// Compiled is the immutable, request-ready form of one stub's predicate
// list. Compile runs once at definition time; Matches runs per request and
// must agree with the reference evaluator on every input.
type Compiled struct {
	nodes    []*Node
	never    bool
	groups   []*fieldGroup
	residual []*Node
}

// Compile validates and optimizes a parsed predicate list. Invalid regular
// expressions, JSONPath selectors, and XPath selectors are definition
// errors and reject the stub here rather than degrading at match time.
//
// Leaves using the five string operators on plain string fields, with no
// modifiers, are batched into per-field groups. Everything else (or, not,
// deepEquals, exists, modifier-bearing leaves, structured values) stays on
// the residual list and runs through the reference evaluator.
func Compile(nodes []*Node) (*Compiled, error) {
	for i, n := range nodes {
		if err := compileNode(n); err != nil {
			return nil, fmt.Errorf("predicate %d: %w", i, err)
		}
	}

	c := &Compiled{nodes: nodes}

	var leaves []*Node
	collectConjuncts(nodes, &leaves, &c.residual)

	builders := make(map[fieldKey]*groupBuilder)
	var order []fieldKey
	for _, leaf := range leaves {
		for _, t := range leaf.Terms {
			for _, ft := range leafTargets(leaf, t) {
				b := builders[ft.key]
				if b == nil {
					b = &groupBuilder{key: ft.key}
					builders[ft.key] = b
					order = append(order, ft.key)
				}
				b.add(leaf.Op, ft.target, ft.pattern)
			}
		}
	}

	for _, key := range order {
		b := builders[key]
		if b.never {
			c.never = true
			c.groups = nil
			return c, nil
		}
		group, err := b.build()
		if err != nil {
			return nil, err
		}
		c.groups = append(c.groups, group)
	}
	return c, nil
}

// Matches evaluates the compiled predicates against one request.
func (c *Compiled) Matches(f *Fields) bool {
	if c.never {
		return false
	}
	for _, g := range c.groups {
		values, present := fieldValues(f, g.key)
		if !g.match(values, present) {
			return false
		}
	}
	for _, n := range c.residual {
		if !evalNode(n, f) {
			return false
		}
	}
	return true
}

// referenceMatches evaluates the same predicates through the unoptimized
// tree walk. The two paths must return identical results for every request.
func (c *Compiled) referenceMatches(f *Fields) bool {
	for _, n := range c.nodes {
		if !evalNode(n, f) {
			return false
		}
	}
	return true
}

func fieldValues(f *Fields, key fieldKey) ([]string, bool) {
	switch key.field {
	case FieldQuery, FieldHeaders:
		return f.mappedValues(key.field, key.name)
	default:
		v, present := f.scalar(key.field)
		if !present {
			return nil, false
		}
		return []string{v}, true
	}
}

// compileNode precompiles everything a node needs at match time: the except
// filter, the jsonpath or xpath selector (jsonpath wins when both appear),
// and the regular expressions of a matches leaf.
func compileNode(n *Node) error {
	if n.Except != "" {
		re, err := regexp.Compile(n.Except)
		if err != nil {
			return fmt.Errorf("except pattern %q: %w", n.Except, err)
		}
		n.exceptRe = re
	}
	if n.JSONPath != "" {
		expr, err := jp.ParseString(n.JSONPath)
		if err != nil {
			return fmt.Errorf("jsonpath selector %q: %w", n.JSONPath, err)
		}
		n.jpExpr = expr
	} else if n.XPath != "" {
		sel := n.XPath
		if i := strings.LastIndex(sel, "/@"); i >= 0 {
			n.xpAttr = sel[i+2:]
			sel = sel[:i]
		}
		path, err := etree.CompilePath(sel)
		if err != nil {
			return fmt.Errorf("xpath selector %q: %w", n.XPath, err)
		}
		n.xpPath = &path
	}

	if n.kind == kindLeaf && n.Op == OpMatches {
		n.matchRes = make(map[string]*regexp.Regexp)
		for _, t := range n.Terms {
			if err := collectMatchPatterns(n, t.Value); err != nil {
				return err
			}
		}
	}

	for _, child := range n.Children {
		if err := compileNode(child); err != nil {
			return err
		}
	}
	if n.Child != nil {
		if err := compileNode(n.Child); err != nil {
			return err
		}
	}
	return nil
}

// collectMatchPatterns compiles every scalar leaf of a matches value as a
// regular expression, keyed by its canonical string. Case-insensitive nodes
// fold through the pattern itself.
func collectMatchPatterns(n *Node, v any) error {
	switch val := v.(type) {
	case map[string]any:
		for _, item := range val {
			if err := collectMatchPatterns(n, item); err != nil {
				return err
			}
		}
		return nil
	case []any:
		for _, item := range val {
			if err := collectMatchPatterns(n, item); err != nil {
				return err
			}
		}
		return nil
	default:
		s, ok := canonicalScalar(v)
		if !ok {
			return nil
		}
		if _, done := n.matchRes[s]; done {
			return nil
		}
		expr := s
		if !n.CaseSensitive {
			expr = "(?i)" + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return fmt.Errorf("matches pattern %q: %w", s, err)
		}
		n.matchRes[s] = re
		return nil
	}
}

// collectConjuncts splits an implicitly ANDed node list into optimizable
// leaves and residual nodes, flattening nested and combinators. Modifiers
// on a combinator are inert (they never cascade), so flattening loses
// nothing.
func collectConjuncts(nodes []*Node, leaves *[]*Node, residual *[]*Node) {
	for _, n := range nodes {
		switch {
		case n.kind == kindAnd:
			collectConjuncts(n.Children, leaves, residual)
		case optimizableLeaf(n):
			*leaves = append(*leaves, n)
		default:
			*residual = append(*residual, n)
		}
	}
}

// optimizableLeaf reports whether a leaf can be batched into field groups:
// one of the five string operators, no modifiers beyond caseSensitive, and
// only scalar targets on plain string fields.
func optimizableLeaf(n *Node) bool {
	if n.kind != kindLeaf {
		return false
	}
	switch n.Op {
	case OpEquals, OpContains, OpStartsWith, OpEndsWith, OpMatches:
	default:
		return false
	}
	if n.Except != "" || n.JSONPath != "" || n.XPath != "" {
		return false
	}
	for _, t := range n.Terms {
		switch t.Field {
		case FieldMethod, FieldPath, FieldBody, FieldRequestFrom:
			if _, ok := canonicalScalar(t.Value); !ok {
				return false
			}
		case FieldQuery, FieldHeaders:
			m, ok := t.Value.(map[string]any)
			if !ok {
				return false
			}
			for _, v := range m {
				if _, ok := canonicalScalar(v); !ok {
					return false
				}
			}
		default:
			return false
		}
	}
	return true
}

// fieldTarget is one (field key, target) pair extracted from a leaf term.
// For matches leaves the pattern carries the regex source instead.
type fieldTarget struct {
	key     fieldKey
	target  target
	pattern string
}

func leafTargets(n *Node, t Term) []fieldTarget {
	switch t.Field {
	case FieldQuery, FieldHeaders:
		m := t.Value.(map[string]any)
		out := make([]fieldTarget, 0, len(m))
		for name, v := range m {
			out = append(out, makeTarget(n, fieldKey{field: t.Field, name: strings.ToLower(name)}, v))
		}
		return out
	default:
		return []fieldTarget{makeTarget(n, fieldKey{field: t.Field}, t.Value)}
	}
}

func makeTarget(n *Node, key fieldKey, v any) fieldTarget {
	s, _ := canonicalScalar(v)
	ft := fieldTarget{key: key}
	if n.Op == OpMatches {
		ft.pattern = s
		if !n.CaseSensitive {
			ft.pattern = "(?i)" + ft.pattern
		}
		return ft
	}
	ft.target = newTarget(s, n.CaseSensitive)
	return ft
}

// groupBuilder accumulates the targets ANDed onto one field and resolves
// conflicts so the final group keeps at most one equals, one startsWith,
// and one endsWith target.
type groupBuilder struct {
	key      fieldKey
	equals   *target
	starts   *target
	ends     *target
	contains []target
	regexes  []string
	never    bool
}

func (b *groupBuilder) add(op Op, t target, pattern string) {
	switch op {
	case OpMatches:
		for _, expr := range b.regexes {
			if expr == pattern {
				return
			}
		}
		b.regexes = append(b.regexes, pattern)
	case OpEquals:
		b.addEquals(t)
	case OpStartsWith:
		b.addAnchored(&b.starts, t, "^"+regexp.QuoteMeta(t.value))
	case OpEndsWith:
		b.addAnchored(&b.ends, t, regexp.QuoteMeta(t.value)+"$")
	case OpContains:
		for _, existing := range b.contains {
			if existing.sameAs(t) {
				return
			}
		}
		b.contains = append(b.contains, t)
	}
}

// addEquals resolves two exact-match constraints on one field. On a
// single-valued field two different targets are unsatisfiable; a repeated
// query or header key can still carry both values, so the extra target
// becomes a fully anchored regex instead.
func (b *groupBuilder) addEquals(t target) {
	if b.equals == nil {
		b.equals = &t
		return
	}
	if b.equals.sameAs(t) {
		return
	}

	if b.key.field == FieldQuery || b.key.field == FieldHeaders {
		b.addRegexFor(t, "^"+regexp.QuoteMeta(t.value)+"$")
		return
	}

	held, added := b.equals, &t
	if held.insensitive == added.insensitive {
		b.never = true
		return
	}
	sensitive, folded := held, added
	if held.insensitive {
		sensitive, folded = added, held
	}
	if strings.ToLower(sensitive.value) == folded.lower {
		b.equals = sensitive
		return
	}
	b.never = true
}

// addAnchored keeps the first prefix/suffix target in the dedicated slot and
// turns later non-identical ones into anchored regexes, since two different
// prefixes (or suffixes) can both hold.
func (b *groupBuilder) addAnchored(slot **target, t target, expr string) {
	if *slot == nil {
		*slot = &t
		return
	}
	if (*slot).sameAs(t) {
		return
	}
	b.addRegexFor(t, expr)
}

func (b *groupBuilder) addRegexFor(t target, expr string) {
	if t.insensitive {
		expr = "(?i)" + expr
	}
	for _, existing := range b.regexes {
		if existing == expr {
			return
		}
	}
	b.regexes = append(b.regexes, expr)
}

func (b *groupBuilder) build() (*fieldGroup, error) {
	g := &fieldGroup{
		key:      b.key,
		equals:   b.equals,
		starts:   b.starts,
		ends:     b.ends,
		contains: b.contains,
	}
	if len(b.regexes) > 0 {
		set, err := newRegexSet(b.regexes)
		if err != nil {
			return nil, err
		}
		g.regexes = set
	}
	return g, nil
}
