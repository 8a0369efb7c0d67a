// Package rep implements the representation reader and writer (spec.md
// §4.3/§4.4): streaming a PLAIN or DELTA-chain representation into a byte
// stream with trailing MD5 verification, and deltifying new content
// against a chosen predecessor into an svndiff-framed DELTA record.
//
// Grounded on the streaming io.ReadCloser idiom of
// decomposedfs.DownloadRevision/fs.blobstore.Download, generalised from
// "open one blob" to "walk a skip-delta chain and decode it". The
// dereference-by-id-through-the-store discipline follows
// node.ReadRevision/RevisionNode (spec.md §9: identities are value types,
// never direct pointers between loaded noderevs).
package rep

import (
	"bufio"
	"crypto/md5"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fsfs/store/internal/fsfserr"
	"github.com/rs/zerolog/log"
)

// Kind distinguishes the two representation record shapes.
type Kind int

const (
	Plain Kind = iota
	Delta
)

// Pointer is a representation pointer: (revision | txn_id, offset,
// on_disk_size, expanded_size, md5), per spec.md §3.
type Pointer struct {
	Rev          int64 // meaningful when TxnID == ""
	TxnID        string
	Offset       int64
	OnDiskSize   int64
	ExpandedSize int64
	MD5          [16]byte
}

// InTxn reports whether the pointer addresses bytes staged inside a
// transaction's prototype rev file rather than a published revision.
func (p Pointer) InTxn() bool { return p.TxnID != "" }

// String renders "<rev-or-txn_id> <offset> <on_disk_size> <expanded_size>
// <md5hex>" per spec.md §4.2.
func (p Pointer) String() string {
	rt := p.TxnID
	if rt == "" {
		rt = strconv.FormatInt(p.Rev, 10)
	}
	return fmt.Sprintf("%s %d %d %d %x", rt, p.Offset, p.OnDiskSize, p.ExpandedSize, p.MD5)
}

// ParsePointer decodes the representation-value format. The literal "-1"
// marker (mutable-truncated representation, spec.md §3) is handled by
// callers in package noderev before reaching here.
func ParsePointer(s string) (Pointer, error) {
	fields := strings.Fields(s)
	if len(fields) != 5 {
		return Pointer{}, fsfserr.Corruption("rep: malformed representation %q", s)
	}
	var p Pointer
	if n, err := strconv.ParseInt(fields[0], 10, 64); err == nil {
		p.Rev = n
	} else {
		p.TxnID = fields[0]
	}
	off, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return Pointer{}, fsfserr.CorruptionWrap(err, "rep: bad offset in %q", s)
	}
	p.Offset = off
	onDisk, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return Pointer{}, fsfserr.CorruptionWrap(err, "rep: bad on-disk size in %q", s)
	}
	p.OnDiskSize = onDisk
	expanded, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return Pointer{}, fsfserr.CorruptionWrap(err, "rep: bad expanded size in %q", s)
	}
	p.ExpandedSize = expanded
	md5Bytes, err := decodeHex16(fields[4])
	if err != nil {
		return Pointer{}, fsfserr.CorruptionWrap(err, "rep: bad md5 in %q", s)
	}
	p.MD5 = md5Bytes
	return p, nil
}

func decodeHex16(s string) ([16]byte, error) {
	var out [16]byte
	if len(s) != 32 {
		return out, fmt.Errorf("want 32 hex chars, got %d", len(s))
	}
	for i := 0; i < 16; i++ {
		hi, err := hexDigit(s[2*i])
		if err != nil {
			return out, err
		}
		lo, err := hexDigit(s[2*i+1])
		if err != nil {
			return out, err
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexDigit(b byte) (byte, error) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', nil
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, nil
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, nil
	default:
		return 0, fmt.Errorf("bad hex digit %q", b)
	}
}

// Source resolves a representation's owning container to a seekable
// stream. Implementations live in internal/commit and pkg/fsfs, which know
// how to map a revision number or transaction id to an on-disk file.
type Source interface {
	Open(rev int64, txnID string) (io.ReadSeeker, error)
}

// chainElem is one representation in a delta chain.
type chainElem struct {
	kind      Kind
	bodyStart int64 // absolute offset of the byte payload (after the header line)
	base      *Pointer
	rev       int64
	txnID     string
	// size is the payload length as known from whoever referenced this
	// element: the root Pointer's ExpandedSize for chain[0], or the
	// referencing DELTA header's base_size field otherwise. It is only
	// load-bearing when kind == Plain, where on-disk size equals expanded
	// size (raw bytes); DELTA payloads are self-framing via windowAt.
	size int64
}

func readHeaderLine(r io.ReadSeeker, offset int64) (string, int64, error) {
	if _, err := r.Seek(offset, io.SeekStart); err != nil {
		return "", 0, fsfserr.IO(err, "rep: seek to header")
	}
	br := bufio.NewReader(r)
	line, err := br.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", 0, fsfserr.CorruptionWrap(err, "rep: truncated header line")
	}
	if !strings.HasSuffix(line, "\n") {
		return "", 0, fsfserr.Corruption("rep: unterminated header line")
	}
	consumed := int64(len(line))
	return strings.TrimSuffix(line, "\n"), offset + consumed, nil
}

// buildChain follows base pointers from start until a PLAIN record or a
// vs-empty DELTA terminator, per spec.md §4.3.
func buildChain(src Source, start Pointer) ([]chainElem, error) {
	var chain []chainElem
	cur := start
	curSize := start.ExpandedSize
	for {
		r, err := src.Open(cur.Rev, cur.TxnID)
		if err != nil {
			return nil, fsfserr.IO(err, "rep: open representation container")
		}
		line, bodyStart, err := readHeaderLine(r, cur.Offset)
		if err != nil {
			return nil, err
		}
		switch {
		case line == "PLAIN":
			chain = append(chain, chainElem{kind: Plain, bodyStart: bodyStart, rev: cur.Rev, txnID: cur.TxnID, size: curSize})
			return chain, nil
		case line == "DELTA":
			chain = append(chain, chainElem{kind: Delta, bodyStart: bodyStart, base: nil, rev: cur.Rev, txnID: cur.TxnID})
			return chain, nil
		case strings.HasPrefix(line, "DELTA "):
			fields := strings.Fields(strings.TrimPrefix(line, "DELTA "))
			if len(fields) != 3 {
				return nil, fsfserr.Corruption("rep: malformed DELTA header %q", line)
			}
			baseRev, err1 := strconv.ParseInt(fields[0], 10, 64)
			baseOff, err2 := strconv.ParseInt(fields[1], 10, 64)
			baseSize, err3 := strconv.ParseInt(fields[2], 10, 64)
			if err1 != nil || err2 != nil || err3 != nil {
				return nil, fsfserr.Corruption("rep: malformed DELTA header %q", line)
			}
			base := Pointer{Rev: baseRev, Offset: baseOff, OnDiskSize: baseSize}
			chain = append(chain, chainElem{kind: Delta, bodyStart: bodyStart, base: &base, rev: cur.Rev, txnID: cur.TxnID})
			cur = base
			curSize = baseSize
			continue
		default:
			return nil, fsfserr.Corruption("rep: unrecognised representation header %q", line)
		}
	}
}

// Read decodes the representation rooted at start, verifying the trailing
// MD5 against expanded bytes, and returns the fully decoded content.
//
// The store's sizes are small enough (node-revision headers, directory
// hashes, and typical source files) that buffering the whole
// representation is the pragmatic choice here; the paged, bounded-memory
// discipline the spec requires for *diffing* files lives in
// internal/fsdiff instead, which is the component actually specified to
// page (spec.md §4.6).
func Read(src Source, start Pointer) ([]byte, error) {
	chain, err := buildChain(src, start)
	if err != nil {
		return nil, err
	}
	out, err := composeChain(src, chain)
	if err != nil {
		return nil, err
	}
	sum := md5.Sum(out)
	if sum != start.MD5 {
		log.Debug().Str("component", "rep").Msg("checksum mismatch decoding representation")
		return nil, fsfserr.ChecksumMismatch("rep: expected md5 %x, got %x", start.MD5, sum)
	}
	if int64(len(out)) != start.ExpandedSize {
		return nil, fsfserr.Corruption("rep: expected %d bytes, got %d", start.ExpandedSize, len(out))
	}
	return out, nil
}

// composeChain decodes a chain from the bottom up: it starts from the PLAIN
// bytes (or nothing, for vs-empty) at the bottom, then applies each
// shallower level's window against the level below it. Only window 0 of
// each level is read, matching the writer's one-window representations.
func composeChain(src Source, chain []chainElem) ([]byte, error) {
	bottom := chain[len(chain)-1]

	// current holds the decoded byte stream of the deepest level processed
	// so far; we walk from the bottom delta (or PLAIN) upward to the top.
	var current []byte
	startIdx := len(chain) - 1
	if bottom.kind == Plain {
		r, err := src.Open(bottom.rev, bottom.txnID)
		if err != nil {
			return nil, fsfserr.IO(err, "rep: open plain base")
		}
		if _, err := r.Seek(bottom.bodyStart, io.SeekStart); err != nil {
			return nil, fsfserr.IO(err, "rep: seek to plain base")
		}
		data := make([]byte, bottom.size)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, fsfserr.CorruptionWrap(err, "rep: truncated plain payload")
		}
		current = data
		startIdx = len(chain) - 2
	}
	for i := startIdx; i >= 0; i-- {
		elem := chain[i]
		r, err := src.Open(elem.rev, elem.txnID)
		if err != nil {
			return nil, fsfserr.IO(err, "rep: open delta level")
		}
		if _, err := r.Seek(elem.bodyStart, io.SeekStart); err != nil {
			return nil, fsfserr.IO(err, "rep: seek to delta level")
		}
		sr, err := newSvndiffReader(r)
		if err != nil {
			return nil, err
		}
		w, err := sr.windowAt(0)
		if err != nil {
			return nil, err
		}
		var source []byte
		if w.srcOps > 0 {
			if current == nil {
				return nil, fsfserr.Corruption("rep: delta references a source but chain bottoms out at vs-empty")
			}
			end := w.srcOffset + w.srcLen
			if end > uint64(len(current)) {
				return nil, fsfserr.Corruption("rep: source reference past end of base")
			}
			source = current[w.srcOffset:end]
		}
		target, err := applyWindow(w, source)
		if err != nil {
			return nil, err
		}
		current = target
	}
	return current, nil
}
