package fsdiff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compareBytes(t *testing.T, a, b string) ([]EditOp, Datasource, []Token, Datasource, []Token) {
	t.Helper()
	srcA := NewBytesSource([]byte(a))
	srcB := NewBytesSource([]byte(b))
	ta, err := Tokenize(srcA, Options{})
	require.NoError(t, err)
	tb, err := Tokenize(srcB, Options{})
	require.NoError(t, err)
	ops, err := Compare(srcA, ta, srcB, tb, Options{})
	require.NoError(t, err)
	return ops, srcA, ta, srcB, tb
}

func TestCompareIdentical(t *testing.T) {
	ops, _, _, _, _ := compareBytes(t, "a\nb\nc\n", "a\nb\nc\n")
	require.Len(t, ops, 1)
	assert.Equal(t, OpEqual, ops[0].Kind)
}

func TestCompareSingleLineInsertedInMiddle(t *testing.T) {
	ops, _, a, _, b := compareBytes(t, "a\nb\nd\n", "a\nb\nc\nd\n")
	var kinds []OpKind
	for _, op := range ops {
		kinds = append(kinds, op.Kind)
	}
	assert.Contains(t, kinds, OpInsert)
	// both inputs tokenize to one token per line
	assert.Equal(t, 3, len(a))
	assert.Equal(t, 4, len(b))
}

func TestCompareTrailingDelete(t *testing.T) {
	ops, _, _, _, _ := compareBytes(t, "a\nb\nc\n", "a\nb\n")
	last := ops[len(ops)-1]
	assert.Equal(t, OpDelete, last.Kind)
}

func TestElideCommonAffixes(t *testing.T) {
	srcA := NewBytesSource([]byte("a\nb\nx\nc\n"))
	srcB := NewBytesSource([]byte("a\nb\ny\nc\n"))
	a, err := Tokenize(srcA, Options{})
	require.NoError(t, err)
	b, err := Tokenize(srcB, Options{})
	require.NoError(t, err)
	prefix, suffix := ElideCommonAffixes(a, b)
	assert.Equal(t, 2, prefix)
	assert.Equal(t, 1, suffix)
}
