package fsdiff

// ElideCommonAffixes returns how many tokens at the start and end of a
// and b are identical, so the O(n*m) comparison only has to run over the
// differing middle span (spec.md §4.6: large files with a small change
// region must not force an O(file size²) compare). The affixes
// themselves are reported as OpEqual runs by Compare, not dropped.
func ElideCommonAffixes(a, b []Token) (prefix, suffix int) {
	max := len(a)
	if len(b) < max {
		max = len(b)
	}
	for prefix < max && TokensEqual(a[prefix], b[prefix]) {
		prefix++
	}
	remaining := max - prefix
	for suffix < remaining && TokensEqual(a[len(a)-1-suffix], b[len(b)-1-suffix]) {
		suffix++
	}
	return prefix, suffix
}
