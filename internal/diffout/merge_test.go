package diffout

import (
	"bytes"
	"testing"

	"github.com/fsfs/store/internal/fsdiff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenizeFor(t *testing.T, content string) (fsdiff.Datasource, []fsdiff.Token) {
	t.Helper()
	src := fsdiff.NewBytesSource([]byte(content))
	toks, err := fsdiff.Tokenize(src, fsdiff.Options{})
	require.NoError(t, err)
	return src, toks
}

func TestMergeNonConflicting(t *testing.T) {
	ancSrc, anc := tokenizeFor(t, "a\nb\nc\n")
	mineSrc, mine := tokenizeFor(t, "a\nB\nc\n")
	theirsSrc, theirs := tokenizeFor(t, "a\nb\nC\n")

	var buf bytes.Buffer
	conflicted, err := Merge(&buf, ancSrc, anc, mineSrc, mine, theirsSrc, theirs, fsdiff.Options{}, ModeNormal, MergeLabels{Mine: "mine", Ancestor: "anc", Theirs: "theirs"})
	require.NoError(t, err)
	assert.False(t, conflicted)
	assert.Equal(t, "a\nB\nC\n", buf.String())
}

func TestMergeConflict(t *testing.T) {
	ancSrc, anc := tokenizeFor(t, "a\nb\nc\n")
	mineSrc, mine := tokenizeFor(t, "a\nMINE\nc\n")
	theirsSrc, theirs := tokenizeFor(t, "a\nTHEIRS\nc\n")

	var buf bytes.Buffer
	conflicted, err := Merge(&buf, ancSrc, anc, mineSrc, mine, theirsSrc, theirs, fsdiff.Options{}, ModeNormal, MergeLabels{Mine: "mine", Ancestor: "anc", Theirs: "theirs"})
	require.NoError(t, err)
	assert.True(t, conflicted)
	out := buf.String()
	assert.Contains(t, out, "<<<<<<< mine\nMINE\n=======\nTHEIRS\n>>>>>>> theirs\n")
}

func TestMergeConflictDiff3ShowsAncestor(t *testing.T) {
	ancSrc, anc := tokenizeFor(t, "a\nb\nc\n")
	mineSrc, mine := tokenizeFor(t, "a\nMINE\nc\n")
	theirsSrc, theirs := tokenizeFor(t, "a\nTHEIRS\nc\n")

	var buf bytes.Buffer
	conflicted, err := Merge(&buf, ancSrc, anc, mineSrc, mine, theirsSrc, theirs, fsdiff.Options{}, ModeDiff3, MergeLabels{Mine: "mine", Ancestor: "anc", Theirs: "theirs"})
	require.NoError(t, err)
	assert.True(t, conflicted)
	assert.Contains(t, buf.String(), "||||||| anc\nb\n")
}

func TestMergeEitherFileResolvesSilently(t *testing.T) {
	ancSrc, anc := tokenizeFor(t, "a\nb\nc\n")
	mineSrc, mine := tokenizeFor(t, "a\nMINE\nc\n")
	theirsSrc, theirs := tokenizeFor(t, "a\nTHEIRS\nc\n")

	var buf bytes.Buffer
	conflicted, err := Merge(&buf, ancSrc, anc, mineSrc, mine, theirsSrc, theirs, fsdiff.Options{}, ModeEitherFile, MergeLabels{})
	require.NoError(t, err)
	assert.True(t, conflicted)
	assert.Equal(t, "a\nMINE\nc\n", buf.String())
	assert.NotContains(t, buf.String(), "<<<<<<<")
}
