// Package predicates implements the request-matching engine for imposters.
//
// A stub's matching rule arrives as an array of predicate objects (implicitly
// ANDed). Each object names one operator (equals, contains, startsWith,
// endsWith, matches, deepEquals, exists) or one combinator (and, or, not),
// plus optional modifiers (caseSensitive, except, jsonpath, xpath) that apply
// to that object only and never cascade into combinator children.
//
// Two evaluation paths exist:
//
//   - The reference evaluator (evaluator.go) interprets the parsed tree
//     directly and is the semantic ground truth, including every
//     compatibility quirk.
//   - The optimizer (optimizer.go) rewrites the implicitly-ANDed string
//     leaves into per-field groups (stringpred.go) with batched regex
//     checks; anything it cannot safely rewrite stays on a residual list
//     and is handled by the reference evaluator.
//
// Compile produces the combined form once per stub, at imposter creation
// time. The compiled artifact is immutable and safe for concurrent use.
// Invalid regular expressions, JSONPath selectors, and XPath selectors are
// the only definition errors; every failure at request time (missing field,
// unparseable body, failed extraction) resolves to "does not match".
package predicates
