package noderev

import (
	"strings"
	"testing"

	"github.com/fsfs/store/internal/nodeid"
	"github.com/fsfs/store/internal/rep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeParseRoundTripFile(t *testing.T) {
	id := nodeid.ID{NodeID: "3", CopyID: "0", Loc: nodeid.Location{Rev: 4, Offset: 100, Published: true}}
	pred := nodeid.ID{NodeID: "3", CopyID: "0", Loc: nodeid.Location{Rev: 3, Offset: 50, Published: true}}
	n := &NodeRev{
		ID:          id,
		Kind:        KindFile,
		Pred:        &pred,
		PredCount:   2,
		Text:        RepField{Present: true, Pointer: rep.Pointer{Rev: 4, Offset: 10, OnDiskSize: 5, ExpandedSize: 5}},
		CreatedPath: "/a/b.txt",
	}

	var buf strings.Builder
	n2, err := Encode(&buf, n)
	require.NoError(t, err)
	assert.Greater(t, n2, int64(0))

	parsed, err := Parse(strings.NewReader(buf.String()))
	require.NoError(t, err)
	assert.Equal(t, n.ID, parsed.ID)
	assert.Equal(t, n.Kind, parsed.Kind)
	require.NotNil(t, parsed.Pred)
	assert.Equal(t, *n.Pred, *parsed.Pred)
	assert.Equal(t, n.PredCount, parsed.PredCount)
	assert.Equal(t, n.Text, parsed.Text)
	assert.Equal(t, n.CreatedPath, parsed.CreatedPath)
	assert.Nil(t, parsed.CopyFrom)
}

func TestEncodeParseRoundTripMutableText(t *testing.T) {
	n := &NodeRev{
		ID:          nodeid.ID{NodeID: "1", CopyID: "0", Loc: nodeid.Location{TxnID: "5-1"}},
		Kind:        KindDir,
		Text:        RepField{Present: true, Mutable: true},
		CreatedPath: "/",
	}
	var buf strings.Builder
	_, err := Encode(&buf, n)
	require.NoError(t, err)

	parsed, err := Parse(strings.NewReader(buf.String()))
	require.NoError(t, err)
	assert.True(t, parsed.Text.Mutable)
	assert.True(t, parsed.Text.Present)
}

func TestEncodeParseCopyFromAndCopyRoot(t *testing.T) {
	n := &NodeRev{
		ID:          nodeid.ID{NodeID: "7", CopyID: "2", Loc: nodeid.Location{Rev: 9, Offset: 0, Published: true}},
		Kind:        KindFile,
		CreatedPath: "/copied.txt",
		CopyFrom:    &PathRev{Rev: 5, Path: "/orig.txt"},
		CopyRoot:    &PathRev{Rev: 5, Path: "/orig.txt"},
	}
	var buf strings.Builder
	_, err := Encode(&buf, n)
	require.NoError(t, err)

	parsed, err := Parse(strings.NewReader(buf.String()))
	require.NoError(t, err)
	require.NotNil(t, parsed.CopyFrom)
	assert.Equal(t, *n.CopyFrom, *parsed.CopyFrom)
	require.NotNil(t, parsed.CopyRoot)
	assert.Equal(t, *n.CopyRoot, *parsed.CopyRoot)
}

func TestEffectiveCopyRootDefaultsToSelf(t *testing.T) {
	n := &NodeRev{CreatedPath: "/x.txt"}
	got := n.EffectiveCopyRoot(12)
	assert.Equal(t, PathRev{Rev: 12, Path: "/x.txt"}, got)

	n.CopyRoot = &PathRev{Rev: 3, Path: "/orig.txt"}
	got = n.EffectiveCopyRoot(12)
	assert.Equal(t, PathRev{Rev: 3, Path: "/orig.txt"}, got)
}

func TestParseMissingMandatoryField(t *testing.T) {
	_, err := Parse(strings.NewReader("type: file\ncount: 0\ncpath: /\n\n"))
	assert.Error(t, err)
}

func TestParseDuplicateField(t *testing.T) {
	_, err := Parse(strings.NewReader("id: 1.0.5/0\nid: 1.0.5/0\ntype: file\ncount: 0\ncpath: /\n\n"))
	assert.Error(t, err)
}

func TestParseMalformedLine(t *testing.T) {
	_, err := Parse(strings.NewReader("not-a-valid-line\n\n"))
	assert.Error(t, err)
}

func TestParseUnknownType(t *testing.T) {
	_, err := Parse(strings.NewReader("id: 1.0.5/0\ntype: symlink\ncount: 0\ncpath: /\n\n"))
	assert.Error(t, err)
}
