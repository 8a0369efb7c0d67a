package fsdiff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenizeLines(t *testing.T) {
	src := NewBytesSource([]byte("one\ntwo\nthree"))
	toks, err := Tokenize(src, Options{})
	require.NoError(t, err)
	require.Len(t, toks, 3)
	assert.Equal(t, int64(0), toks[0].Offset)
	assert.Equal(t, int64(4), toks[0].Length)
	assert.Equal(t, 1, toks[0].EOLLength)
	assert.Equal(t, 0, toks[2].EOLLength)
}

func TestTokenizeCRLF(t *testing.T) {
	src := NewBytesSource([]byte("one\r\ntwo\r\n"))
	toks, err := Tokenize(src, Options{})
	require.NoError(t, err)
	require.Len(t, toks, 2)
	assert.Equal(t, 2, toks[0].EOLLength)
	assert.Equal(t, int64(5), toks[0].Length)
}

func TestTokenizeLoneCR(t *testing.T) {
	src := NewBytesSource([]byte("one\rtwo\r"))
	toks, err := Tokenize(src, Options{})
	require.NoError(t, err)
	require.Len(t, toks, 2)
	assert.Equal(t, 1, toks[0].EOLLength)
	assert.Equal(t, "two", string(readToken(t, src, toks[1])[:len(readToken(t, src, toks[1]))-1]))
}

func TestIgnoreWhitespaceHashesEqual(t *testing.T) {
	a, err := Tokenize(NewBytesSource([]byte("foo  bar\n")), Options{IgnoreWhitespace: true})
	require.NoError(t, err)
	b, err := Tokenize(NewBytesSource([]byte("foo bar\n")), Options{IgnoreWhitespace: true})
	require.NoError(t, err)
	assert.True(t, TokensEqual(a[0], b[0]))
}

func TestRawEqualDetectsCollisionMismatch(t *testing.T) {
	srcA := NewBytesSource([]byte("hello\n"))
	srcB := NewBytesSource([]byte("hellp\n"))
	a, err := Tokenize(srcA, Options{})
	require.NoError(t, err)
	b, err := Tokenize(srcB, Options{})
	require.NoError(t, err)
	ok, err := RawEqual(srcA, a[0], srcB, b[0], Options{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func readToken(t *testing.T, src Datasource, tok Token) []byte {
	t.Helper()
	r, err := src.ReaderAt(tok.Offset)
	require.NoError(t, err)
	defer r.Close()
	buf := make([]byte, tok.Length)
	_, err = r.Read(buf)
	require.NoError(t, err)
	return buf
}
