package predicates

// FindMatch returns the index of the first stub whose compiled predicates
// match the request, or -1 when none do. Stubs are consulted in definition
// order and the first match wins, even when later stubs would also match.
// A stub with no predicates matches every request, so a catch-all placed
// first shadows everything after it.
func FindMatch(stubs []*Compiled, f *Fields) int {
	for i, s := range stubs {
		if s.Matches(f) {
			return i
		}
	}
	return -1
}
