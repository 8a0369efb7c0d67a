package fsdiff

// OpKind is one token-range comparison result.
type OpKind int

const (
	OpEqual OpKind = iota
	OpDelete
	OpInsert
	OpReplace
)

// EditOp is one run of the edit script between two token sequences: a
// contiguous range [AStart,AStart+ALen) in a and/or [BStart,BStart+BLen)
// in b.
type EditOp struct {
	Kind           OpKind
	AStart, ALen   int
	BStart, BLen   int
}

// Compare produces the edit script turning token sequence a into b, via
// an LCS alignment over the tokens' adler32 hashes with a RawEqual
// confirmation pass over the longest common subsequence (spec.md §4.6:
// a hash match is a suspicion, not a guarantee).
//
// This runs the classic O(n*m) dynamic-programming LCS, not the
// production svn_diff Myers variant; see DESIGN.md for why that
// trade-off is acceptable here.
func Compare(srcA Datasource, a []Token, srcB Datasource, b []Token, opts Options) ([]EditOp, error) {
	prefix, suffix := ElideCommonAffixes(a, b)
	mid, err := compareMiddle(srcA, a[prefix:len(a)-suffix], srcB, b[prefix:len(b)-suffix], opts, prefix)
	if err != nil {
		return nil, err
	}
	var out []EditOp
	if prefix > 0 {
		out = append(out, EditOp{Kind: OpEqual, AStart: 0, ALen: prefix, BStart: 0, BLen: prefix})
	}
	out = append(out, mid...)
	if suffix > 0 {
		out = append(out, EditOp{Kind: OpEqual, AStart: len(a) - suffix, ALen: suffix, BStart: len(b) - suffix, BLen: suffix})
	}
	return coalesce(out), nil
}

// compareMiddle runs the LCS alignment over the elided middle span of
// both token sequences and shifts every produced op's indices back by
// offset so they address the original (un-elided) sequences.
func compareMiddle(srcA Datasource, a []Token, srcB Datasource, b []Token, opts Options, offset int) ([]EditOp, error) {
	n, m := len(a), len(b)
	// dp[i][j] = LCS length of a[i:], b[j:]
	dp := make([][]int32, n+1)
	for i := range dp {
		dp[i] = make([]int32, m+1)
	}
	matches := make([][]bool, n)
	for i := 0; i < n; i++ {
		matches[i] = make([]bool, m)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			eq := TokensEqual(a[i], b[j])
			matches[i][j] = eq
			if eq {
				dp[i][j] = dp[i+1][j+1] + 1
			} else if dp[i+1][j] >= dp[i][j+1] {
				dp[i][j] = dp[i+1][j]
			} else {
				dp[i][j] = dp[i][j+1]
			}
		}
	}

	var raw []EditOp
	i, j := 0, 0
	for i < n && j < m {
		if matches[i][j] {
			ok, err := RawEqual(srcA, a[i], srcB, b[j], opts)
			if err != nil {
				return nil, err
			}
			if ok {
				raw = append(raw, EditOp{Kind: OpEqual, AStart: i, ALen: 1, BStart: j, BLen: 1})
				i++
				j++
				continue
			}
			// Hash collision: treat as a one-line replace instead.
			raw = append(raw, EditOp{Kind: OpReplace, AStart: i, ALen: 1, BStart: j, BLen: 1})
			i++
			j++
			continue
		}
		if dp[i+1][j] >= dp[i][j+1] {
			raw = append(raw, EditOp{Kind: OpDelete, AStart: i, ALen: 1, BStart: j})
			i++
		} else {
			raw = append(raw, EditOp{Kind: OpInsert, AStart: i, BStart: j, BLen: 1})
			j++
		}
	}
	for i < n {
		raw = append(raw, EditOp{Kind: OpDelete, AStart: i, ALen: 1, BStart: j})
		i++
	}
	for j < m {
		raw = append(raw, EditOp{Kind: OpInsert, AStart: i, BStart: j, BLen: 1})
		j++
	}
	for k := range raw {
		raw[k].AStart += offset
		raw[k].BStart += offset
	}
	return coalesce(raw), nil
}

// coalesce merges consecutive same-kind single-token ops into runs, so
// the diff output stage sees hunks rather than a token at a time.
func coalesce(ops []EditOp) []EditOp {
	if len(ops) == 0 {
		return ops
	}
	out := make([]EditOp, 0, len(ops))
	cur := ops[0]
	for _, op := range ops[1:] {
		if op.Kind == cur.Kind &&
			op.AStart == cur.AStart+cur.ALen &&
			op.BStart == cur.BStart+cur.BLen {
			cur.ALen += op.ALen
			cur.BLen += op.BLen
			continue
		}
		out = append(out, cur)
		cur = op
	}
	out = append(out, cur)
	return out
}
