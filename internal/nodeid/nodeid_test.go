package nodeid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDStringParsePublished(t *testing.T) {
	id := ID{NodeID: "3", CopyID: "0", Loc: Location{Rev: 5, Offset: 120, Published: true}}
	s := id.String()
	assert.Equal(t, "3.0.5/120", s)

	got, err := Parse(s)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestIDStringParseTxn(t *testing.T) {
	id := ID{NodeID: "_1", CopyID: "_1", Loc: Location{TxnID: "7-2"}}
	s := id.String()
	assert.Equal(t, "_1._1.7-2", s)

	got, err := Parse(s)
	require.NoError(t, err)
	assert.Equal(t, id, got)
	assert.True(t, got.IsTemporary())
}

func TestParseMalformed(t *testing.T) {
	_, err := Parse("onlyonepart")
	assert.Error(t, err)

	_, err = Parse("a.b.")
	assert.Error(t, err)
}

func TestParseBadRevisionOffset(t *testing.T) {
	_, err := Parse("1.0.x/5")
	assert.Error(t, err)

	_, err = Parse("1.0.5/x")
	assert.Error(t, err)
}

func TestIsTemporaryFalseForPublished(t *testing.T) {
	id := ID{NodeID: "3", CopyID: "0", Loc: Location{Rev: 1, Published: true}}
	assert.False(t, id.IsTemporary())
}

func TestNextKeySequence(t *testing.T) {
	cases := []struct{ in, want string }{
		{"", "1"},
		{"0", "1"},
		{"1", "2"},
		{"9", "a"},
		{"z", "10"},
		{"zz", "100"},
		{"1z", "20"},
	}
	for _, c := range cases {
		got, err := NextKey(c.in)
		require.NoError(t, err)
		assert.Equal(t, c.want, got, "NextKey(%q)", c.in)
	}
}

func TestNextKeyBadDigit(t *testing.T) {
	_, err := NextKey("!")
	assert.Error(t, err)
}

func TestCompareOrdersByLengthThenLex(t *testing.T) {
	assert.Equal(t, -1, Compare("9", "10"))
	assert.Equal(t, 1, Compare("10", "9"))
	assert.Equal(t, 0, Compare("1a", "1a"))
	assert.True(t, Compare("1a", "1b") < 0)
}
