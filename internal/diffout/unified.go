// Package diffout renders an fsdiff edit script as the two output
// formats spec.md §4.6 names: unified two-way hunks and three-way merge
// text with conflict markers.
package diffout

import (
	"fmt"
	"io"

	"github.com/fsfs/store/internal/fsdiff"
	"github.com/fsfs/store/internal/fsfserr"
)

// context is the number of unchanged lines shown around each hunk, the
// conventional unified-diff default.
const context = 3

// Labels names the two files as they appear in a unified diff's "---"
// and "+++" header lines.
type Labels struct {
	A, B string
}

// Unified writes a over b's ops as a unified diff to w.
func Unified(w io.Writer, srcA fsdiff.Datasource, a []fsdiff.Token, srcB fsdiff.Datasource, b []fsdiff.Token, ops []fsdiff.EditOp, labels Labels) error {
	changed := false
	for _, op := range ops {
		if op.Kind != fsdiff.OpEqual {
			changed = true
			break
		}
	}
	if !changed {
		return nil
	}
	if _, err := fmt.Fprintf(w, "--- %s\n+++ %s\n", labels.A, labels.B); err != nil {
		return fsfserr.IO(err, "diffout: write headers")
	}
	for _, h := range groupHunks(ops) {
		if err := writeHunk(w, srcA, a, srcB, b, h); err != nil {
			return err
		}
	}
	return nil
}

// hunk is a contiguous run of ops, padded with up to `context` lines of
// surrounding OpEqual on each side.
type hunk struct {
	ops          []fsdiff.EditOp
	aStart, aLen int
	bStart, bLen int
}

// groupHunks clusters non-equal ops (and up to `context` lines of
// padding) into hunks, merging hunks whose padding would overlap.
func groupHunks(ops []fsdiff.EditOp) []hunk {
	var hunks []hunk
	for i, op := range ops {
		if op.Kind == fsdiff.OpEqual {
			continue
		}
		start := i
		lead := 0
		if start > 0 && ops[start-1].Kind == fsdiff.OpEqual {
			lead = min(context, ops[start-1].ALen)
		}
		end := i
		trail := 0
		if end+1 < len(ops) && ops[end+1].Kind == fsdiff.OpEqual {
			trail = min(context, ops[end+1].ALen)
		}
		h := buildHunk(ops, start, end, lead, trail)
		if len(hunks) > 0 && overlaps(hunks[len(hunks)-1], h) {
			hunks[len(hunks)-1] = mergeHunks(hunks[len(hunks)-1], h)
			continue
		}
		hunks = append(hunks, h)
	}
	return hunks
}

func buildHunk(ops []fsdiff.EditOp, start, end, lead, trail int) hunk {
	var hops []fsdiff.EditOp
	aStart, bStart := ops[start].AStart, ops[start].BStart
	if lead > 0 {
		pad := ops[start-1]
		hops = append(hops, fsdiff.EditOp{Kind: fsdiff.OpEqual, AStart: pad.AStart + pad.ALen - lead, ALen: lead, BStart: pad.BStart + pad.BLen - lead, BLen: lead})
		aStart -= lead
		bStart -= lead
	}
	for i := start; i <= end; i++ {
		hops = append(hops, ops[i])
	}
	if trail > 0 {
		pad := ops[end+1]
		hops = append(hops, fsdiff.EditOp{Kind: fsdiff.OpEqual, AStart: pad.AStart, ALen: trail, BStart: pad.BStart, BLen: trail})
	}
	aLen, bLen := 0, 0
	for _, o := range hops {
		aLen += o.ALen
		bLen += o.BLen
	}
	return hunk{ops: hops, aStart: aStart, aLen: aLen, bStart: bStart, bLen: bLen}
}

func overlaps(prev, next hunk) bool {
	return next.aStart <= prev.aStart+prev.aLen
}

func mergeHunks(prev, next hunk) hunk {
	// Re-derive a single hunk spanning both, dropping next's leading
	// padding that prev's trailing padding already covers.
	nextOps := append([]fsdiff.EditOp{}, next.ops...)
	prevEnd := prev.aStart + prev.aLen
	if len(nextOps) > 0 && nextOps[0].Kind == fsdiff.OpEqual && nextOps[0].AStart < prevEnd {
		pad := nextOps[0]
		drop := min(prevEnd-pad.AStart, pad.ALen)
		pad.AStart += drop
		pad.ALen -= drop
		pad.BStart += drop
		pad.BLen -= drop
		if pad.ALen == 0 {
			nextOps = nextOps[1:]
		} else {
			nextOps[0] = pad
		}
	}
	allOps := append(append([]fsdiff.EditOp{}, prev.ops...), nextOps...)
	aLen, bLen := 0, 0
	for _, o := range allOps {
		aLen += o.ALen
		bLen += o.BLen
	}
	return hunk{ops: allOps, aStart: prev.aStart, aLen: aLen, bStart: prev.bStart, bLen: bLen}
}

func writeHunk(w io.Writer, srcA fsdiff.Datasource, a []fsdiff.Token, srcB fsdiff.Datasource, b []fsdiff.Token, h hunk) error {
	if _, err := fmt.Fprintf(w, "@@ -%s +%s @@\n", hunkRange(h.aStart+1, h.aLen), hunkRange(h.bStart+1, h.bLen)); err != nil {
		return fsfserr.IO(err, "diffout: write hunk header")
	}
	for _, op := range h.ops {
		switch op.Kind {
		case fsdiff.OpEqual:
			if err := writeLines(w, ' ', srcA, a[op.AStart:op.AStart+op.ALen]); err != nil {
				return err
			}
		case fsdiff.OpDelete:
			if err := writeLines(w, '-', srcA, a[op.AStart:op.AStart+op.ALen]); err != nil {
				return err
			}
		case fsdiff.OpInsert:
			if err := writeLines(w, '+', srcB, b[op.BStart:op.BStart+op.BLen]); err != nil {
				return err
			}
		case fsdiff.OpReplace:
			if err := writeLines(w, '-', srcA, a[op.AStart:op.AStart+op.ALen]); err != nil {
				return err
			}
			if err := writeLines(w, '+', srcB, b[op.BStart:op.BStart+op.BLen]); err != nil {
				return err
			}
		}
	}
	return nil
}

// writeLines emits each token prefixed by marker, adding the
// "\ No newline at end of file" marker for a token with no EOL.
func writeLines(w io.Writer, marker byte, src fsdiff.Datasource, tokens []fsdiff.Token) error {
	for _, t := range tokens {
		r, err := src.ReaderAt(t.Offset)
		if err != nil {
			return err
		}
		data := make([]byte, t.Length)
		if _, err := io.ReadFull(r, data); err != nil {
			r.Close()
			return fsfserr.DatasourceModified("diffout: datasource shrank while rendering a hunk")
		}
		r.Close()
		if _, err := w.Write([]byte{marker}); err != nil {
			return fsfserr.IO(err, "diffout: write marker")
		}
		if _, err := w.Write(data); err != nil {
			return fsfserr.IO(err, "diffout: write line")
		}
		if t.EOLLength == 0 {
			if _, err := io.WriteString(w, "\n\\ No newline at end of file\n"); err != nil {
				return fsfserr.IO(err, "diffout: write no-newline marker")
			}
		}
	}
	return nil
}

// hunkRange renders a hunk header's "start,len" field, per spec.md §6:
// the ",len" is omitted when len == 1.
func hunkRange(start, length int) string {
	if length == 1 {
		return fmt.Sprintf("%d", start)
	}
	return fmt.Sprintf("%d,%d", start, length)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
