package changes

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendReadAllRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	entries := []Entry{
		{Path: "/a.txt", NodeID: "3.0.1/10", Kind: Add, TextMod: true, PropMod: false},
		{Path: "/b.txt", NodeID: "4.0.1/20", Kind: Add, CopyFrom: &CopyFrom{Rev: 2, Path: "/orig.txt"}},
		{Path: "/a.txt", NodeID: "", Kind: Reset},
	}
	for _, e := range entries {
		require.NoError(t, Append(&buf, e))
	}

	got, err := ReadAll(&buf)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, entries[0].Path, got[0].Path)
	assert.Equal(t, entries[0].NodeID, got[0].NodeID)
	assert.True(t, got[0].TextMod)
	assert.False(t, got[0].PropMod)
	require.NotNil(t, got[1].CopyFrom)
	assert.Equal(t, *entries[1].CopyFrom, *got[1].CopyFrom)
	assert.Equal(t, Reset, got[2].Kind)
	assert.Empty(t, got[2].NodeID)
}

func TestReadAllMalformedRecord(t *testing.T) {
	_, err := ReadAll(bytes.NewReader([]byte("too few fields\n\n")))
	assert.Error(t, err)
}

func TestReadUntilEndStopsAtTerminatorAndIgnoresTrailingBytes(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Append(&buf, Entry{Path: "/a.txt", NodeID: "3.0.1/10", Kind: Add, TextMod: true}))
	require.NoError(t, Append(&buf, Entry{Path: "/b.txt", NodeID: "4.0.1/20", Kind: Delete}))
	buf.WriteString("END\n")
	buf.WriteString("\n12 99\n") // trailer bytes that follow the changes section in a real rev file

	got, err := ReadUntilEnd(&buf)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "/a.txt", got[0].Path)
	assert.Equal(t, Add, got[0].Kind)
	assert.Equal(t, "/b.txt", got[1].Path)
	assert.Equal(t, Delete, got[1].Kind)
}

func TestReadUntilEndMissingTerminatorErrors(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Append(&buf, Entry{Path: "/a.txt", NodeID: "3.0.1/10", Kind: Add}))
	_, err := ReadUntilEnd(&buf)
	assert.Error(t, err)
}

func TestFoldAddThenModify(t *testing.T) {
	entries := []Entry{
		{Path: "/a.txt", NodeID: "1.0.1/0", Kind: Add, TextMod: true},
		{Path: "/a.txt", NodeID: "1.0.2/10", Kind: Modify, PropMod: true},
	}
	folded, err := Fold(entries, false)
	require.NoError(t, err)
	f := folded["/a.txt"]
	require.NotNil(t, f)
	assert.Equal(t, Add, f.Kind)
	assert.True(t, f.TextMod)
	assert.True(t, f.PropMod)
	assert.Equal(t, "1.0.2/10", f.NodeID)
}

func TestFoldAddThenDeleteCancels(t *testing.T) {
	entries := []Entry{
		{Path: "/a.txt", NodeID: "1.0.1/0", Kind: Add},
		{Path: "/a.txt", NodeID: "1.0.1/0", Kind: Delete},
	}
	folded, err := Fold(entries, false)
	require.NoError(t, err)
	_, present := folded["/a.txt"]
	assert.False(t, present)
}

func TestFoldDeleteThenAddBecomesReplace(t *testing.T) {
	entries := []Entry{
		{Path: "/a.txt", NodeID: "1.0.1/0", Kind: Delete},
		{Path: "/a.txt", NodeID: "2.0.1/0", Kind: Add},
	}
	folded, err := Fold(entries, false)
	require.NoError(t, err)
	f := folded["/a.txt"]
	require.NotNil(t, f)
	assert.Equal(t, Replace, f.Kind)
	assert.Equal(t, "2.0.1/0", f.NodeID)
}

func TestFoldResetClearsPriorEntry(t *testing.T) {
	entries := []Entry{
		{Path: "/a.txt", NodeID: "1.0.1/0", Kind: Add},
		{Path: "/a.txt", Kind: Reset},
	}
	folded, err := Fold(entries, false)
	require.NoError(t, err)
	_, present := folded["/a.txt"]
	assert.False(t, present)
}

func TestFoldDeleteAfterDeleteErrors(t *testing.T) {
	entries := []Entry{
		{Path: "/a.txt", NodeID: "1.0.1/0", Kind: Delete},
		{Path: "/a.txt", NodeID: "1.0.1/0", Kind: Delete},
	}
	_, err := Fold(entries, false)
	assert.Error(t, err)
}

func TestFoldModifyAfterDeleteErrors(t *testing.T) {
	entries := []Entry{
		{Path: "/a.txt", NodeID: "1.0.1/0", Kind: Delete},
		{Path: "/a.txt", NodeID: "1.0.1/0", Kind: Modify},
	}
	_, err := Fold(entries, false)
	assert.Error(t, err)
}

func TestFoldPrunesStrictDescendantsOfReplacedDir(t *testing.T) {
	entries := []Entry{
		{Path: "/d", NodeID: "1.0.1/0", Kind: Add},
		{Path: "/d/child.txt", NodeID: "2.0.1/0", Kind: Add},
		{Path: "/d", NodeID: "1.0.1/0", Kind: Delete},
		{Path: "/d", NodeID: "3.0.1/0", Kind: Add},
	}
	folded, err := Fold(entries, false)
	require.NoError(t, err)
	_, childPresent := folded["/d/child.txt"]
	assert.False(t, childPresent, "deleting /d must prune the stale record of its former child")
	f := folded["/d"]
	require.NotNil(t, f)
	assert.Equal(t, Add, f.Kind)
}

func TestFoldPrefoldedSkipsPruning(t *testing.T) {
	entries := []Entry{
		{Path: "/d", NodeID: "1.0.1/0", Kind: Add},
		{Path: "/d/child.txt", NodeID: "2.0.1/0", Kind: Add},
		{Path: "/d", NodeID: "1.0.1/0", Kind: Delete},
		{Path: "/d", NodeID: "3.0.1/0", Kind: Add},
	}
	folded, err := Fold(entries, true)
	require.NoError(t, err)
	_, childPresent := folded["/d/child.txt"]
	assert.True(t, childPresent, "prefolded fold must not prune descendants")
}

func TestFoldNullNoderevErrors(t *testing.T) {
	entries := []Entry{{Path: "/a.txt", NodeID: "", Kind: Add}}
	_, err := Fold(entries, false)
	assert.Error(t, err)
}

func TestKindStringUnknown(t *testing.T) {
	assert.Equal(t, "unknown", Kind(99).String())
}
