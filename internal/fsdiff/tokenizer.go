package fsdiff

import (
	"bytes"
	"hash/adler32"
	"io"

	"github.com/fsfs/store/internal/fsfserr"
)

// Options controls how tokens compare, per spec.md §4.6.
type Options struct {
	IgnoreWhitespace bool // collapse runs of space/tab before hashing/comparing
	IgnoreEOLStyle   bool // treat \n, \r\n, \r as equivalent
	IgnoreCase       bool
}

// Token is one line (including its trailing EOL, if any) of a datasource.
type Token struct {
	Offset int64
	Length int64
	// EOLLength is how many of the trailing bytes are the line terminator
	// (0, 1, or 2), so callers can detect a missing final EOL.
	EOLLength int
	Hash      uint32
}

// Tokenize splits src into line tokens, hashing each one under opts so
// that two lines differing only in an ignored dimension (whitespace,
// EOL style, case) compare equal without the comparer re-reading bytes.
func Tokenize(src Datasource, opts Options) ([]Token, error) {
	n, err := src.Len()
	if err != nil {
		return nil, err
	}
	cr, err := newChunkReader(src)
	if err != nil {
		return nil, err
	}
	defer cr.close()

	var tokens []Token
	var offset int64
	for offset < n {
		line, lineLen, eolLen, err := readLine(cr)
		if err != nil {
			return nil, err
		}
		h := hashLine(line, eolLen, opts)
		tokens = append(tokens, Token{Offset: offset, Length: lineLen, EOLLength: eolLen, Hash: h})
		offset += lineLen
	}
	return tokens, nil
}

// readLine reads one line from cr, in ChunkSize pages, up to and
// including its EOL marker (\n, \r\n, or \r), or to EOF for the final
// unterminated line. cr is read sequentially across the whole tokenize
// pass, so a lone \r's lookahead byte is never lost between calls.
func readLine(cr *chunkReader) (data []byte, length int64, eolLen int, err error) {
	buf := make([]byte, 0, 256)
	for {
		b, err := cr.ReadByte()
		if err != nil {
			if err == io.EOF {
				return buf, int64(len(buf)), 0, nil
			}
			return nil, 0, 0, fsfserr.IO(err, "fsdiff: read line byte")
		}
		buf = append(buf, b)
		if b == '\n' {
			return buf, int64(len(buf)), 1, nil
		}
		if b == '\r' {
			peek, perr := cr.ReadByte()
			if perr == nil {
				if peek == '\n' {
					buf = append(buf, peek)
					return buf, int64(len(buf)), 2, nil
				}
				cr.unread(peek)
				return buf, int64(len(buf)), 1, nil
			}
			return buf, int64(len(buf)), 1, nil
		}
	}
}

func hashLine(line []byte, eolLen int, opts Options) uint32 {
	content := line[:len(line)-eolLen]
	norm := normalize(content, opts)
	h := adler32.New()
	h.Write(norm)
	if !opts.IgnoreEOLStyle && eolLen > 0 {
		h.Write(line[len(line)-eolLen:])
	}
	return h.Sum32()
}

func normalize(content []byte, opts Options) []byte {
	if !opts.IgnoreWhitespace && !opts.IgnoreCase {
		return content
	}
	out := make([]byte, 0, len(content))
	prevSpace := false
	for _, b := range content {
		if opts.IgnoreWhitespace && (b == ' ' || b == '\t') {
			if prevSpace {
				continue
			}
			prevSpace = true
			out = append(out, ' ')
			continue
		}
		prevSpace = false
		if opts.IgnoreCase && b >= 'A' && b <= 'Z' {
			b = b - 'A' + 'a'
		}
		out = append(out, b)
	}
	return out
}

// TokensEqual reports whether two tokens from possibly different
// datasources represent the same line content under opts. A hash match
// is treated as a strong suspicion; callers that need certainty (e.g.
// building a diff meant to be applied, not just displayed) should follow
// up with RawEqual.
func TokensEqual(a Token, b Token) bool { return a.Hash == b.Hash }

// RawEqual re-reads both tokens' raw bytes and compares them directly,
// resolving adler32 collisions and catching a datasource that was
// mutated between the hash pass and this one (spec.md §7
// datasource-modified).
func RawEqual(srcA Datasource, a Token, srcB Datasource, b Token, opts Options) (bool, error) {
	ra, err := srcA.ReaderAt(a.Offset)
	if err != nil {
		return false, err
	}
	defer ra.Close()
	rb, err := srcB.ReaderAt(b.Offset)
	if err != nil {
		return false, err
	}
	defer rb.Close()
	da := make([]byte, a.Length)
	if _, err := io.ReadFull(ra, da); err != nil {
		return false, fsfserr.DatasourceModified("fsdiff: datasource shrank while re-reading token")
	}
	db := make([]byte, b.Length)
	if _, err := io.ReadFull(rb, db); err != nil {
		return false, fsfserr.DatasourceModified("fsdiff: datasource shrank while re-reading token")
	}
	ca := normalize(da[:len(da)-a.EOLLength], opts)
	cb := normalize(db[:len(db)-b.EOLLength], opts)
	if !opts.IgnoreEOLStyle {
		if !bytes.Equal(da[len(da)-a.EOLLength:], db[len(db)-b.EOLLength:]) {
			return false, nil
		}
	}
	return bytes.Equal(ca, cb), nil
}
