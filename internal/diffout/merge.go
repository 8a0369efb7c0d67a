package diffout

import (
	"fmt"
	"io"
	"sort"

	"github.com/fsfs/store/internal/fsdiff"
	"github.com/fsfs/store/internal/fsfserr"
)

// MergeMode selects how a three-way merge renders a region where "mine"
// and "theirs" disagree, per spec.md §4.6's conflict-style options.
type MergeMode int

const (
	// ModeNormal emits a conflict region bracketed by <<<<<<< / =======
	// / >>>>>>> showing mine then theirs (the conventional diff3 style).
	ModeNormal MergeMode = iota
	// ModeDiff3 additionally shows the common ancestor between the two
	// markers, separated by |||||||.
	ModeDiff3
	// ModeEitherFile resolves any conflict silently by preferring mine,
	// never emitting markers.
	ModeEitherFile
	// ModeEitherFileLatest resolves any conflict silently by preferring
	// theirs.
	ModeEitherFileLatest
	// ModeUnmodified resolves a conflict by omitting the changed region
	// entirely, leaving only the common ancestor's text.
	ModeUnmodified
	// ModeLatestOnConflict behaves like ModeNormal but additionally
	// prints a one-line conflict banner above the marked region.
	ModeLatestOnConflict
)

// MergeLabels names the three inputs for conflict banners/markers.
type MergeLabels struct {
	Mine, Ancestor, Theirs string
}

// interval is a half-open [start, end) range in common-ancestor token
// index space; start == end marks a pure insertion point.
type interval struct{ start, end int }

// touches reports whether iv and o should be merged into one region: a
// genuine overlap between two non-empty ranges, or a zero-width
// insertion point sitting on or inside another range's boundary. Two
// adjacent but non-overlapping non-empty ranges (e.g. edits on two
// consecutive but distinct lines) do NOT touch — each stays its own
// region so independent single-line edits on both sides don't spuriously
// collide into a conflict.
func (iv interval) touches(o interval) bool {
	if iv.start < o.end && o.start < iv.end {
		return true
	}
	if iv.start == iv.end {
		return o.start <= iv.start && iv.start <= o.end
	}
	if o.start == o.end {
		return iv.start <= o.start && o.start <= iv.end
	}
	return false
}

func (iv interval) union(o interval) interval {
	s, e := iv.start, iv.end
	if o.start < s {
		s = o.start
	}
	if o.end > e {
		e = o.end
	}
	return interval{s, e}
}

// changeRegion is one maximal span of ancestor-index space touched by at
// least one non-equal op from mine and/or theirs, reconstructed without
// ever splitting a contributing op (every op that touches the region is
// wholly contained in it).
type changeRegion struct {
	span          interval
	mineChanged   bool
	theirsChanged bool
	mineTokens    []fsdiff.Token
	theirsTokens  []fsdiff.Token
}

// Merge performs a three-way merge of mine and theirs against their
// common ancestor and writes the result (with conflict markers per mode
// where the two sides disagree) to w.
func Merge(w io.Writer, ancestorSrc fsdiff.Datasource, ancestor []fsdiff.Token,
	mineSrc fsdiff.Datasource, mine []fsdiff.Token,
	theirsSrc fsdiff.Datasource, theirs []fsdiff.Token,
	opts fsdiff.Options, mode MergeMode, labels MergeLabels) (conflicted bool, err error) {

	opsMine, err := fsdiff.Compare(ancestorSrc, ancestor, mineSrc, mine, opts)
	if err != nil {
		return false, err
	}
	opsTheirs, err := fsdiff.Compare(ancestorSrc, ancestor, theirsSrc, theirs, opts)
	if err != nil {
		return false, err
	}

	regions := buildRegions(len(ancestor), opsMine, mine, opsTheirs, theirs)

	pos := 0
	for _, reg := range regions {
		if reg.span.start > pos {
			if err := writePlain(w, ancestorSrc, ancestor[pos:reg.span.start]); err != nil {
				return conflicted, err
			}
		}
		if err := renderRegion(w, ancestorSrc, ancestor[reg.span.start:reg.span.end], mineSrc, theirsSrc, reg, mode, labels, &conflicted); err != nil {
			return conflicted, err
		}
		pos = reg.span.end
	}
	if pos < len(ancestor) {
		if err := writePlain(w, ancestorSrc, ancestor[pos:]); err != nil {
			return conflicted, err
		}
	}
	return conflicted, nil
}

func renderRegion(w io.Writer, ancestorSrc fsdiff.Datasource, ancestorSlice []fsdiff.Token,
	mineSrc, theirsSrc fsdiff.Datasource, reg changeRegion, mode MergeMode, labels MergeLabels, conflicted *bool) error {
	switch {
	case !reg.mineChanged && !reg.theirsChanged:
		return writePlain(w, ancestorSrc, ancestorSlice)
	case reg.mineChanged && !reg.theirsChanged:
		return writePlain(w, mineSrc, reg.mineTokens)
	case !reg.mineChanged && reg.theirsChanged:
		return writePlain(w, theirsSrc, reg.theirsTokens)
	}
	if sameContent(mineSrc, reg.mineTokens, theirsSrc, reg.theirsTokens) {
		return writePlain(w, mineSrc, reg.mineTokens)
	}
	*conflicted = true
	switch mode {
	case ModeEitherFile:
		return writePlain(w, mineSrc, reg.mineTokens)
	case ModeEitherFileLatest:
		return writePlain(w, theirsSrc, reg.theirsTokens)
	case ModeUnmodified:
		return writePlain(w, ancestorSrc, ancestorSlice)
	default:
		return writeConflict(w, ancestorSrc, ancestorSlice, mineSrc, reg.mineTokens, theirsSrc, reg.theirsTokens, mode, labels)
	}
}

// buildRegions computes the union of every non-equal op's ancestor-index
// extent from both edit scripts, merges touching/overlapping extents
// (so an op is never split across two regions), and resolves each
// region's mine/theirs reconstructed token slices.
func buildRegions(ancestorLen int, opsMine []fsdiff.EditOp, mine []fsdiff.Token, opsTheirs []fsdiff.EditOp, theirs []fsdiff.Token) []changeRegion {
	var spans []interval
	for _, op := range opsMine {
		if op.Kind != fsdiff.OpEqual {
			spans = append(spans, interval{op.AStart, op.AStart + op.ALen})
		}
	}
	for _, op := range opsTheirs {
		if op.Kind != fsdiff.OpEqual {
			spans = append(spans, interval{op.AStart, op.AStart + op.ALen})
		}
	}
	merged := mergeIntervals(spans)

	regions := make([]changeRegion, 0, len(merged))
	for _, span := range merged {
		reg := changeRegion{span: span}
		reg.mineTokens, reg.mineChanged = reconstruct(span, opsMine, mine)
		reg.theirsTokens, reg.theirsChanged = reconstruct(span, opsTheirs, theirs)
		regions = append(regions, reg)
		// Ops ending at or before span.end now belong to this region; drop
		// them so a zero-width op sitting on the boundary with the next
		// region is not counted a second time there.
		for len(opsMine) > 0 && opsMine[0].AStart+opsMine[0].ALen <= span.end {
			opsMine = opsMine[1:]
		}
		for len(opsTheirs) > 0 && opsTheirs[0].AStart+opsTheirs[0].ALen <= span.end {
			opsTheirs = opsTheirs[1:]
		}
	}
	return regions
}

func mergeIntervals(spans []interval) []interval {
	if len(spans) == 0 {
		return nil
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	out := []interval{spans[0]}
	for _, s := range spans[1:] {
		last := &out[len(out)-1]
		if last.touches(s) {
			*last = last.union(s)
			continue
		}
		out = append(out, s)
	}
	return out
}

// reconstruct gathers every op (from one side's edit script) contained
// in span, in order, concatenating the replacement tokens it contributes.
// changed reports whether any such op exists; when false the caller
// should use the ancestor's own slice for this span.
func reconstruct(span interval, ops []fsdiff.EditOp, side []fsdiff.Token) (tokens []fsdiff.Token, changed bool) {
	for _, op := range ops {
		if op.Kind == fsdiff.OpEqual {
			continue
		}
		if op.AStart < span.start || op.AStart+op.ALen > span.end {
			continue
		}
		changed = true
		if op.Kind == fsdiff.OpDelete {
			continue
		}
		tokens = append(tokens, side[op.BStart:op.BStart+op.BLen]...)
	}
	return tokens, changed
}

func sameContent(srcA fsdiff.Datasource, a []fsdiff.Token, srcB fsdiff.Datasource, b []fsdiff.Token) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !fsdiff.TokensEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

func writePlain(w io.Writer, src fsdiff.Datasource, tokens []fsdiff.Token) error {
	for _, t := range tokens {
		r, err := src.ReaderAt(t.Offset)
		if err != nil {
			return err
		}
		data := make([]byte, t.Length)
		if _, err := io.ReadFull(r, data); err != nil {
			r.Close()
			return fsfserr.DatasourceModified("diffout: datasource shrank while rendering a merge")
		}
		r.Close()
		if _, err := w.Write(data); err != nil {
			return fsfserr.IO(err, "diffout: write merge line")
		}
	}
	return nil
}

func writeConflict(w io.Writer, ancestorSrc fsdiff.Datasource, ancestorSlice []fsdiff.Token,
	mineSrc fsdiff.Datasource, mineTokens []fsdiff.Token,
	theirsSrc fsdiff.Datasource, theirsTokens []fsdiff.Token,
	mode MergeMode, labels MergeLabels) error {
	if mode == ModeLatestOnConflict {
		if _, err := fmt.Fprintf(w, "conflict: %s vs %s\n", labels.Mine, labels.Theirs); err != nil {
			return fsfserr.IO(err, "diffout: write conflict banner")
		}
	}
	if _, err := fmt.Fprintf(w, "<<<<<<< %s\n", labels.Mine); err != nil {
		return fsfserr.IO(err, "diffout: write conflict start")
	}
	if err := writePlain(w, mineSrc, mineTokens); err != nil {
		return err
	}
	if mode == ModeDiff3 {
		if _, err := fmt.Fprintf(w, "||||||| %s\n", labels.Ancestor); err != nil {
			return fsfserr.IO(err, "diffout: write conflict ancestor marker")
		}
		if err := writePlain(w, ancestorSrc, ancestorSlice); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(w, "=======\n"); err != nil {
		return fsfserr.IO(err, "diffout: write conflict separator")
	}
	if err := writePlain(w, theirsSrc, theirsTokens); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, ">>>>>>> %s\n", labels.Theirs); err != nil {
		return fsfserr.IO(err, "diffout: write conflict end")
	}
	return nil
}
