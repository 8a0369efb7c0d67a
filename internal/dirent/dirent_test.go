package dirent

import (
	"bytes"
	"testing"

	"github.com/fsfs/store/internal/nodeid"
	"github.com/fsfs/store/internal/noderev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func id(n string) nodeid.ID {
	return nodeid.ID{NodeID: n, CopyID: "0", Loc: nodeid.Location{Rev: 1, Offset: 0, Published: true}}
}

func TestEncodeDecodeBaseRoundTrip(t *testing.T) {
	entries := map[string]Entry{
		"b.txt": {Name: "b.txt", Kind: noderev.KindFile, ID: id("2")},
		"a":     {Name: "a", Kind: noderev.KindDir, ID: id("3")},
	}
	encoded := EncodeBase(entries)
	assert.Contains(t, string(encoded), "END\n")

	decoded, err := DecodeBase(bytes.NewReader(encoded))
	require.NoError(t, err)
	assert.Equal(t, entries, decoded)
}

func TestEncodeBaseIsSortedByName(t *testing.T) {
	entries := map[string]Entry{
		"zeta":  {Name: "zeta", Kind: noderev.KindFile, ID: id("1")},
		"alpha": {Name: "alpha", Kind: noderev.KindFile, ID: id("2")},
	}
	encoded := string(EncodeBase(entries))
	assert.Less(t, bytesIndex(encoded, "alpha"), bytesIndex(encoded, "zeta"))
}

func bytesIndex(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func TestReplayEditsSetAndDelete(t *testing.T) {
	base := map[string]Entry{
		"a.txt": {Name: "a.txt", Kind: noderev.KindFile, ID: id("1")},
		"b.txt": {Name: "b.txt", Kind: noderev.KindFile, ID: id("2")},
	}

	var buf bytes.Buffer
	require.NoError(t, EncodeSetEdit(&buf, Entry{Name: "c.txt", Kind: noderev.KindFile, ID: id("3")}))
	require.NoError(t, EncodeDeleteEdit(&buf, "a.txt"))

	out, err := ReplayEdits(base, &buf)
	require.NoError(t, err)

	assert.NotContains(t, out, "a.txt")
	assert.Contains(t, out, "b.txt")
	assert.Contains(t, out, "c.txt")
	assert.Equal(t, 2, len(base), "ReplayEdits must not mutate base")
}

func TestReplayEditsSetOverridesExisting(t *testing.T) {
	base := map[string]Entry{
		"a.txt": {Name: "a.txt", Kind: noderev.KindFile, ID: id("1")},
	}
	var buf bytes.Buffer
	require.NoError(t, EncodeSetEdit(&buf, Entry{Name: "a.txt", Kind: noderev.KindDir, ID: id("9")}))

	out, err := ReplayEdits(base, &buf)
	require.NoError(t, err)
	assert.Equal(t, noderev.KindDir, out["a.txt"].Kind)
}

func TestDecodeBaseMalformed(t *testing.T) {
	_, err := DecodeBase(bytes.NewReader([]byte("not a hash\n")))
	assert.Error(t, err)
}

func TestCacheGetCachesAndInvalidates(t *testing.T) {
	c := NewCache()
	calls := 0
	load := func() (map[string]Entry, error) {
		calls++
		return map[string]Entry{"x": {Name: "x", Kind: noderev.KindFile, ID: id("1")}}, nil
	}

	got, err := c.Get("dir-a", load)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 1, calls)

	_, err = c.Get("dir-a", load)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "second Get for same id must hit the cache")

	c.Invalidate("dir-a")
	_, err = c.Get("dir-a", load)
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "Get after Invalidate must reload")
}

func TestCacheApplyEditMutatesHeldSlot(t *testing.T) {
	c := NewCache()
	_, err := c.Get("dir-a", func() (map[string]Entry, error) {
		return map[string]Entry{"x": {Name: "x", Kind: noderev.KindFile, ID: id("1")}}, nil
	})
	require.NoError(t, err)

	c.ApplyEdit("dir-a", func(m map[string]Entry) {
		m["y"] = Entry{Name: "y", Kind: noderev.KindFile, ID: id("2")}
	})

	got, err := c.Get("dir-a", func() (map[string]Entry, error) {
		t.Fatal("should not reload after in-place edit")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestCacheApplyEditToOtherDirEvicts(t *testing.T) {
	c := NewCache()
	_, err := c.Get("dir-a", func() (map[string]Entry, error) {
		return map[string]Entry{"x": {Name: "x", Kind: noderev.KindFile, ID: id("1")}}, nil
	})
	require.NoError(t, err)

	c.ApplyEdit("dir-b", func(m map[string]Entry) {})

	calls := 0
	_, err = c.Get("dir-a", func() (map[string]Entry, error) {
		calls++
		return map[string]Entry{"x": {Name: "x", Kind: noderev.KindFile, ID: id("1")}}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "edit to a different id must evict the cached slot")
}
