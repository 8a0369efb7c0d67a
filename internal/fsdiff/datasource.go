// Package fsdiff implements the text-file diff engine (spec.md §4.6): a
// chunked, bounded-memory datasource abstraction over up to three input
// streams, prefix/suffix elision, EOL-aware tokenization, and an LCS-based
// token comparison that drives both the two-way and three-way diff output
// formats in internal/diffout.
//
// Grounded on the paged io.Reader idiom nowhere explicit in the teacher
// (reva streams whole blobs), so this component's chunking and
// datasource-modified detection follow the spec's own prescribed
// algorithm directly; see DESIGN.md for why no pack library covers this.
package fsdiff

import (
	"bufio"
	"io"
	"os"

	"github.com/fsfs/store/internal/fsfserr"
)

// ChunkSize bounds how much of a datasource is held in memory at once,
// per spec.md §4.6.
const ChunkSize = 128 * 1024

// Datasource is a seekable, re-readable text input. Callers that already
// hold file content in memory can wrap it with NewBytesSource; callers
// streaming from disk use NewFileSource.
type Datasource interface {
	// Len returns the datasource's total byte length.
	Len() (int64, error)
	// ReaderAt returns a fresh reader positioned at offset, used to
	// re-read a byte range (e.g. once during tokenizing, again to verify
	// a datasource-modified suspicion).
	ReaderAt(offset int64) (io.ReadCloser, error)
}

// BytesSource is a Datasource backed by an in-memory byte slice.
type BytesSource struct{ data []byte }

// NewBytesSource wraps data as a Datasource.
func NewBytesSource(data []byte) *BytesSource { return &BytesSource{data: data} }

func (b *BytesSource) Len() (int64, error) { return int64(len(b.data)), nil }

func (b *BytesSource) ReaderAt(offset int64) (io.ReadCloser, error) {
	if offset < 0 || offset > int64(len(b.data)) {
		return nil, fsfserr.Corruption("fsdiff: offset %d out of range", offset)
	}
	return io.NopCloser(newSliceReader(b.data[offset:])), nil
}

// FileSource is a Datasource backed by a path on disk, opened fresh for
// every ReaderAt call so concurrent callers (e.g. Compare's two RawEqual
// re-reads) never share a seek position.
type FileSource struct{ path string }

// NewFileSource wraps the file at path as a Datasource.
func NewFileSource(path string) *FileSource { return &FileSource{path: path} }

func (f *FileSource) Len() (int64, error) {
	fi, err := os.Stat(f.path)
	if err != nil {
		return 0, fsfserr.IO(err, "fsdiff: stat %s", f.path)
	}
	return fi.Size(), nil
}

func (f *FileSource) ReaderAt(offset int64) (io.ReadCloser, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return nil, fsfserr.IO(err, "fsdiff: open %s", f.path)
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		file.Close()
		return nil, fsfserr.IO(err, "fsdiff: seek %s", f.path)
	}
	return file, nil
}

type sliceReader struct {
	data []byte
	pos  int
}

func newSliceReader(data []byte) *sliceReader { return &sliceReader{data: data} }

func (s *sliceReader) Read(p []byte) (int, error) {
	if s.pos >= len(s.data) {
		return 0, io.EOF
	}
	n := copy(p, s.data[s.pos:])
	s.pos += n
	return n, nil
}

// chunkReader pages a Datasource through ChunkSize-sized reads, the
// bounded-memory discipline spec.md §4.6 requires of the tokenizer and
// the prefix/suffix scan, instead of reading a whole file into memory.
type chunkReader struct {
	src    Datasource
	offset int64
	length int64
	br     *bufio.Reader
	cur    io.ReadCloser
}

func newChunkReader(src Datasource) (*chunkReader, error) {
	n, err := src.Len()
	if err != nil {
		return nil, err
	}
	return &chunkReader{src: src, length: n}, nil
}

func (c *chunkReader) ensureOpen() error {
	if c.br != nil {
		return nil
	}
	r, err := c.src.ReaderAt(c.offset)
	if err != nil {
		return err
	}
	c.cur = r
	c.br = bufio.NewReaderSize(r, ChunkSize)
	return nil
}

// ReadByte reads the next byte, or io.EOF at the datasource's end.
func (c *chunkReader) ReadByte() (byte, error) {
	if err := c.ensureOpen(); err != nil {
		return 0, err
	}
	b, err := c.br.ReadByte()
	if err != nil {
		return 0, err
	}
	c.offset++
	return b, nil
}

// unread pushes a single peeked byte back, so the next ReadByte returns
// it again. Used when a lone \r turns out not to start a \r\n pair.
func (c *chunkReader) unread(b byte) {
	c.br.UnreadByte()
	c.offset--
}

func (c *chunkReader) close() error {
	if c.cur != nil {
		return c.cur.Close()
	}
	return nil
}

