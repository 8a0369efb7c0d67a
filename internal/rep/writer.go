package rep

import (
	"crypto/md5"
	"fmt"
	"io"

	"github.com/fsfs/store/internal/fsfserr"
)

// WriteResult summarises a completed representation write: everything
// needed to build the Pointer that goes into a node-revision header.
type WriteResult struct {
	Offset       int64
	OnDiskSize   int64
	ExpandedSize int64
	MD5          [16]byte
}

// WritePlain appends a PLAIN representation record (header, raw bytes,
// ENDREP trailer) to w at the writer's current position, per spec.md §4.4
// (PLAIN representations are always used for directory hashes and
// zero-predecessor content).
func WritePlain(w io.WriteSeeker, data []byte) (WriteResult, error) {
	offset, err := w.Seek(0, io.SeekCurrent)
	if err != nil {
		return WriteResult{}, fsfserr.IO(err, "rep: seek to record start")
	}
	if _, err := io.WriteString(w, "PLAIN\n"); err != nil {
		return WriteResult{}, fsfserr.IO(err, "rep: write PLAIN header")
	}
	if _, err := w.Write(data); err != nil {
		return WriteResult{}, fsfserr.IO(err, "rep: write plain body")
	}
	if _, err := io.WriteString(w, "ENDREP\n"); err != nil {
		return WriteResult{}, fsfserr.IO(err, "rep: write ENDREP")
	}
	sum := md5.Sum(data)
	return WriteResult{
		Offset:       offset,
		OnDiskSize:   int64(len(data)),
		ExpandedSize: int64(len(data)),
		MD5:          sum,
	}, nil
}

// WriteDelta deltifies data against base (the fully decoded byte content
// of the chosen predecessor, selected per spec.md §4.4's delta-base rule;
// see internal/commit for that selection), and appends a DELTA
// representation record to w. basePtr is nil for a zero-predecessor
// ("vs-empty") delta.
func WriteDelta(w io.WriteSeeker, data []byte, base []byte, basePtr *Pointer) (WriteResult, error) {
	offset, err := w.Seek(0, io.SeekCurrent)
	if err != nil {
		return WriteResult{}, fsfserr.IO(err, "rep: seek to record start")
	}
	var header string
	if basePtr == nil {
		header = "DELTA\n"
	} else {
		header = fmt.Sprintf("DELTA %d %d %d\n", basePtr.Rev, basePtr.Offset, basePtr.OnDiskSize)
	}
	if _, err := io.WriteString(w, header); err != nil {
		return WriteResult{}, fsfserr.IO(err, "rep: write DELTA header")
	}
	deltaBodyStart, err := w.Seek(0, io.SeekCurrent)
	if err != nil {
		return WriteResult{}, fsfserr.IO(err, "rep: seek after DELTA header")
	}

	win := deltify(data, base)
	stream := writeSvndiffStream([]window{win})
	if _, err := w.Write(stream); err != nil {
		return WriteResult{}, fsfserr.IO(err, "rep: write svndiff body")
	}
	deltaBodyEnd, err := w.Seek(0, io.SeekCurrent)
	if err != nil {
		return WriteResult{}, fsfserr.IO(err, "rep: seek after svndiff body")
	}
	if _, err := io.WriteString(w, "ENDREP\n"); err != nil {
		return WriteResult{}, fsfserr.IO(err, "rep: write ENDREP")
	}
	sum := md5.Sum(data)
	return WriteResult{
		Offset:       offset,
		OnDiskSize:   deltaBodyEnd - deltaBodyStart,
		ExpandedSize: int64(len(data)),
		MD5:          sum,
	}, nil
}

// deltify builds the single svndiff window that reproduces target,
// copying the common prefix and suffix shared with base and inserting the
// differing middle literally. This is the simplest instance of the
// general multi-window chain the reader (svndiff.go) supports; see
// DESIGN.md for why one window per representation is sufficient here.
func deltify(target, base []byte) window {
	prefix, suffix := commonAffixes(target, base)
	w := window{tviewLen: uint64(len(target))}
	if len(base) > 0 && (prefix > 0 || suffix > 0) {
		w.srcOffset = 0
		w.srcLen = uint64(len(base))
	}
	mid := target[prefix : len(target)-suffix]
	if prefix > 0 {
		w.instrs = append(w.instrs, instr{op: opCopySrc, offset: 0, length: uint64(prefix)})
		w.srcOps++
	}
	if len(mid) > 0 {
		w.instrs = append(w.instrs, instr{op: opInsert, length: uint64(len(mid)), data: mid})
	}
	if suffix > 0 {
		w.instrs = append(w.instrs, instr{op: opCopySrc, offset: uint64(len(base) - suffix), length: uint64(suffix)})
		w.srcOps++
	}
	return w
}

// commonAffixes returns the length of the common prefix and (non-
// overlapping) common suffix of a and b.
func commonAffixes(a, b []byte) (prefix, suffix int) {
	max := len(a)
	if len(b) < max {
		max = len(b)
	}
	for prefix < max && a[prefix] == b[prefix] {
		prefix++
	}
	remaining := max - prefix
	for suffix < remaining && a[len(a)-1-suffix] == b[len(b)-1-suffix] {
		suffix++
	}
	return prefix, suffix
}
