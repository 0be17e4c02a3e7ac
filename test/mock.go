package test

// Some helpers for using gomock.

// SuffixMatcher is a [gomock.Matcher] for path strings that end in the
// stored suffix, for paths rooted in a test's temporary directory.
type SuffixMatcher string

// Matches implements [gomock.Matcher].
func (s SuffixMatcher) Matches(x any) bool {
	p, ok := x.(string)
	if !ok {
		return false
	}
	return len(p) >= len(s) && p[len(p)-len(s):] == string(s)
}

// String implements [gomock.Matcher].
func (s SuffixMatcher) String() string {
	return "has suffix " + string(s)
}
