package fsfs

import (
	"io"

	"github.com/fsfs/store/internal/diffout"
	"github.com/fsfs/store/internal/fsdiff"
	"github.com/fsfs/store/internal/fsfserr"
	"github.com/fsfs/store/internal/noderev"
)

// fileSource returns a fsdiff.Datasource over the fully-decoded content of
// a file path at the given revision, for feeding into the diff engine.
// File reps are already fully materialised by ReadFile, so
// there's no benefit to streaming from disk here the way FileSource does
// for an external caller comparing two arbitrary files.
func (r *Repository) fileSource(rev int64, p string) (fsdiff.Datasource, error) {
	nr, err := r.ReadPath(rev, p)
	if err != nil {
		return nil, err
	}
	if nr.Kind != noderev.KindFile {
		return nil, fsfserr.Corruption("fsfs: %q is not a file in r%d", p, rev)
	}
	data, err := r.ReadFile(nr)
	if err != nil {
		return nil, err
	}
	return fsdiff.NewBytesSource(data), nil
}

// DiffPaths writes a unified diff between pathA at revA and pathB at
// revB to w, per spec.md §4.6's two-way diff operation.
func (r *Repository) DiffPaths(w io.Writer, revA int64, pathA string, revB int64, pathB string, opts fsdiff.Options) error {
	srcA, err := r.fileSource(revA, pathA)
	if err != nil {
		return err
	}
	srcB, err := r.fileSource(revB, pathB)
	if err != nil {
		return err
	}
	a, err := fsdiff.Tokenize(srcA, opts)
	if err != nil {
		return err
	}
	b, err := fsdiff.Tokenize(srcB, opts)
	if err != nil {
		return err
	}
	ops, err := fsdiff.Compare(srcA, a, srcB, b, opts)
	if err != nil {
		return err
	}
	return diffout.Unified(w, srcA, a, srcB, b, ops, diffout.Labels{A: pathA, B: pathB})
}

// MergePaths performs a three-way merge of minePath (at mineRev) and
// theirsPath (at theirsRev) against their common ancestor (ancestorPath
// at ancestorRev), writing the merged text to w.
func (r *Repository) MergePaths(w io.Writer,
	ancestorRev int64, ancestorPath string,
	mineRev int64, minePath string,
	theirsRev int64, theirsPath string,
	opts fsdiff.Options, mode diffout.MergeMode, labels diffout.MergeLabels) (bool, error) {

	ancestorSrc, err := r.fileSource(ancestorRev, ancestorPath)
	if err != nil {
		return false, err
	}
	mineSrc, err := r.fileSource(mineRev, minePath)
	if err != nil {
		return false, err
	}
	theirsSrc, err := r.fileSource(theirsRev, theirsPath)
	if err != nil {
		return false, err
	}
	ancestor, err := fsdiff.Tokenize(ancestorSrc, opts)
	if err != nil {
		return false, err
	}
	mine, err := fsdiff.Tokenize(mineSrc, opts)
	if err != nil {
		return false, err
	}
	theirs, err := fsdiff.Tokenize(theirsSrc, opts)
	if err != nil {
		return false, err
	}
	return diffout.Merge(w, ancestorSrc, ancestor, mineSrc, mine, theirsSrc, theirs, opts, mode, labels)
}
