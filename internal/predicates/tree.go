package predicates

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/beevik/etree"
	"github.com/ohler55/ojg/jp"
)

// Op identifies a leaf predicate operator.
type Op string

// Leaf operators, matching the wire names.
const (
	OpEquals     Op = "equals"
	OpDeepEquals Op = "deepEquals"
	OpContains   Op = "contains"
	OpStartsWith Op = "startsWith"
	OpEndsWith   Op = "endsWith"
	OpMatches    Op = "matches"
	OpExists     Op = "exists"
)

// Recognized request field names.
const (
	FieldMethod      = "method"
	FieldPath        = "path"
	FieldQuery       = "query"
	FieldHeaders     = "headers"
	FieldBody        = "body"
	FieldRequestFrom = "requestFrom"
)

type nodeKind int

const (
	kindNone nodeKind = iota
	kindLeaf
	kindAnd
	kindOr
	kindNot
)

// Term is one (field, value) pair inside a leaf predicate object.
// Terms keep their declaration order even though leaf terms are ANDed,
// so compiled forms are deterministic.
type Term struct {
	Field string
	Value any
}

// Node is one predicate object from the wire: a leaf operator applied to a
// set of field terms, or a combinator over child nodes. Modifiers belong to
// the node itself and are never inherited by children.
type Node struct {
	kind  nodeKind
	Op    Op
	Terms []Term

	Children []*Node // and/or children
	Child    *Node   // not child

	CaseSensitive bool
	Except        string
	JSONPath      string
	XPath         string
	XPathNS       map[string]string

	// filled in by compileNode; nil until Compile runs
	exceptRe *regexp.Regexp
	jpExpr   jp.Expr
	xpPath   *etree.Path
	xpAttr   string
	matchRes map[string]*regexp.Regexp
}

// IsLeaf reports whether the node carries a leaf operator.
func (n *Node) IsLeaf() bool { return n.kind == kindLeaf }

// leafOps maps operator wire names for quick membership checks during parsing.
var leafOps = map[string]Op{
	"equals":     OpEquals,
	"deepEquals": OpDeepEquals,
	"contains":   OpContains,
	"startsWith": OpStartsWith,
	"endsWith":   OpEndsWith,
	"matches":    OpMatches,
	"exists":     OpExists,
}

// ParsePredicates parses a stub's predicate array from its wire form.
// The array is implicitly ANDed by the caller (Compile).
func ParsePredicates(raw json.RawMessage) ([]*Node, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("predicates must be an array: %w", err)
	}
	nodes := make([]*Node, 0, len(items))
	for i, item := range items {
		node, err := parseNode(item)
		if err != nil {
			return nil, fmt.Errorf("predicate %d: %w", i, err)
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// parseNode parses one predicate object, preserving key declaration order.
// Only the first operator or combinator key becomes active; later recognized
// type keys are parsed for validity but never evaluated. Modifier keys apply
// to the node wherever they appear.
func parseNode(raw json.RawMessage) (*Node, error) {
	node := &Node{CaseSensitive: true}

	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("predicate must be an object")
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key := keyTok.(string)

		var val json.RawMessage
		if err := dec.Decode(&val); err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}

		if op, ok := leafOps[key]; ok {
			terms, err := parseTerms(val)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			if node.kind == kindNone {
				node.kind = kindLeaf
				node.Op = op
				node.Terms = terms
			}
			continue
		}

		switch key {
		case "and", "or":
			var children []json.RawMessage
			if err := json.Unmarshal(val, &children); err != nil {
				return nil, fmt.Errorf("%s must be an array: %w", key, err)
			}
			parsed := make([]*Node, 0, len(children))
			for i, child := range children {
				cn, err := parseNode(child)
				if err != nil {
					return nil, fmt.Errorf("%s[%d]: %w", key, i, err)
				}
				parsed = append(parsed, cn)
			}
			if node.kind == kindNone {
				if key == "and" {
					node.kind = kindAnd
				} else {
					node.kind = kindOr
				}
				node.Children = parsed
			}
		case "not":
			child, err := parseNode(val)
			if err != nil {
				return nil, fmt.Errorf("not: %w", err)
			}
			if node.kind == kindNone {
				node.kind = kindNot
				node.Child = child
			}
		case "caseSensitive":
			if err := json.Unmarshal(val, &node.CaseSensitive); err != nil {
				return nil, fmt.Errorf("caseSensitive must be a boolean: %w", err)
			}
		case "except":
			if err := json.Unmarshal(val, &node.Except); err != nil {
				return nil, fmt.Errorf("except must be a string: %w", err)
			}
		case "jsonpath":
			var sel struct {
				Selector string `json:"selector"`
			}
			if err := json.Unmarshal(val, &sel); err != nil {
				return nil, fmt.Errorf("jsonpath: %w", err)
			}
			node.JSONPath = sel.Selector
		case "xpath":
			var sel struct {
				Selector string            `json:"selector"`
				NS       map[string]string `json:"ns"`
			}
			if err := json.Unmarshal(val, &sel); err != nil {
				return nil, fmt.Errorf("xpath: %w", err)
			}
			node.XPath = sel.Selector
			node.XPathNS = sel.NS
		default:
			// Unrecognized keys are tolerated; the compatibility contract
			// only assigns meaning to the keys handled above.
		}
	}

	if node.kind == kindNone {
		return nil, fmt.Errorf("predicate object has no operator")
	}
	return node, nil
}

// parseTerms walks a leaf operator's field object in declaration order.
func parseTerms(raw json.RawMessage) ([]Term, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("operator value must be an object of fields")
	}

	var terms []Term
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		field := keyTok.(string)

		var val any
		if err := dec.Decode(&val); err != nil {
			return nil, fmt.Errorf("field %q: %w", field, err)
		}
		terms = append(terms, Term{Field: field, Value: normalizeNumbers(val)})
	}
	return terms, nil
}

// normalizeNumbers converts json.Number leaves (from UseNumber decoding) to
// float64 so predicate values and request bodies share one scalar model.
func normalizeNumbers(v any) any {
	switch val := v.(type) {
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case map[string]any:
		for k, item := range val {
			val[k] = normalizeNumbers(item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = normalizeNumbers(item)
		}
		return val
	default:
		return v
	}
}
