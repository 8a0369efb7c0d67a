// Package commit implements the low-level commit mechanics shared by any
// caller finalising a transaction into a revision (spec.md §4.8): the
// advisory write lock, the `current` file's read/compare/publish cycle,
// and the atomic rename sequence that makes a revision and its
// properties visible. The depth-first tree rewrite itself is driven by
// pkg/fsfs, which is the only component that knows a transaction's
// in-memory shape; this package only deals in bytes, offsets, and
// filenames.
//
// Grounded on the advisory-lock-then-rewrite discipline of
// decomposedfs/upload/session.go's Finalize step, generalised from "move
// one blob into place" to "publish one revision file and its sibling
// revprops file together".
package commit

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/fsfs/store/internal/fsfserr"
	"github.com/fsfs/store/internal/layout"
	"github.com/gofrs/flock"
	"github.com/rs/zerolog/log"
)

// Current is the parsed content of the `current` file: the youngest
// published revision and the next permanent node/copy id counters.
type Current struct {
	Rev         int64
	NextNodeID  string
	NextCopyID  string
}

// ReadCurrent parses the `current` file.
func ReadCurrent(paths layout.Paths) (Current, error) {
	data, err := os.ReadFile(paths.Current())
	if err != nil {
		return Current{}, fsfserr.IO(err, "commit: read current")
	}
	fields := strings.Fields(string(data))
	if len(fields) != 3 {
		return Current{}, fsfserr.Corruption("commit: malformed current %q", data)
	}
	rev, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return Current{}, fsfserr.CorruptionWrap(err, "commit: bad revision in current")
	}
	return Current{Rev: rev, NextNodeID: fields[1], NextCopyID: fields[2]}, nil
}

// WriteInitialCurrent creates a brand new repository's `current` file at
// revision 0 with fresh counters.
func WriteInitialCurrent(paths layout.Paths) error {
	return publishCurrent(paths, Current{Rev: 0, NextNodeID: "1", NextCopyID: "1"})
}

// publishCurrent writes `current` via a temp file + rename, per spec.md
// §4.8 step 9 (current is always replaced atomically, never edited in
// place).
func publishCurrent(paths layout.Paths, c Current) error {
	tmp := paths.Current() + ".tmp"
	content := fmt.Sprintf("%d %s %s\n", c.Rev, c.NextNodeID, c.NextCopyID)
	if err := os.WriteFile(tmp, []byte(content), 0600); err != nil {
		return fsfserr.IO(err, "commit: write current.tmp")
	}
	if err := os.Rename(tmp, paths.Current()); err != nil {
		return fsfserr.IO(err, "commit: rename current.tmp")
	}
	return nil
}

// Lock acquires the repository's advisory write lock, blocking until it
// is available, per spec.md §4.8 step 1 / §5 shared resources.
func Lock(paths layout.Paths) (*flock.Flock, error) {
	fl := flock.New(paths.WriteLock())
	if err := fl.Lock(); err != nil {
		return nil, fsfserr.IO(err, "commit: acquire write lock")
	}
	return fl, nil
}

// Unlock releases a lock acquired with Lock, logging (not failing) if the
// release itself errors, since the commit it guarded has already either
// succeeded or been abandoned.
func Unlock(fl *flock.Flock) {
	if err := fl.Unlock(); err != nil {
		log.Warn().Err(err).Str("component", "commit").Msg("failed to release write lock")
	}
}

// FsyncProtoRev fsyncs the finished prototype rev file, leaving it open
// for the caller to close, per
// spec.md §4.8 step 7: the revision's bytes (node-revisions, changed-paths
// section, trailer) must be durable before the file is renamed into
// revs/<rev> in step 8.
func FsyncProtoRev(f *os.File) error {
	if err := f.Sync(); err != nil {
		return fsfserr.IO(err, "commit: fsync prototype rev file")
	}
	return nil
}

// Publish performs the final atomic rename sequence: the finished
// prototype rev file and revprops file are renamed into revs/<rev> and
// revprops/<rev>, then `current` is advanced to rev under the still-held
// lock, per spec.md §4.8 steps 8-9.
func Publish(paths layout.Paths, rev int64, protoRevPath, propsPath string, nextNodeID, nextCopyID string) error {
	if err := os.MkdirAll(paths.RevsDir(), 0700); err != nil {
		return fsfserr.IO(err, "commit: ensure revs dir")
	}
	if err := os.MkdirAll(paths.RevpropsDir(), 0700); err != nil {
		return fsfserr.IO(err, "commit: ensure revprops dir")
	}
	if err := renameOrCopy(protoRevPath, paths.Rev(rev)); err != nil {
		return fsfserr.IO(err, "commit: rename revision file into place")
	}
	if err := renameOrCopy(propsPath, paths.Revprops(rev)); err != nil {
		return fsfserr.IO(err, "commit: rename revprops file into place")
	}
	return publishCurrent(paths, Current{Rev: rev, NextNodeID: nextNodeID, NextCopyID: nextCopyID})
}

// renameOrCopy renames src to dst, falling back to a copy-then-fsync then
// remove-source on EXDEV (src and dst on different filesystems/devices),
// per spec.md §4.8 step 8.
func renameOrCopy(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return err
	}
	if err := copyFileFsync(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}

func copyFileFsync(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	if err := out.Sync(); err != nil {
		return err
	}
	return out.Close()
}

// CheckNotOutOfDate compares a transaction's recorded base revision
// against the repository's youngest revision under the held lock, per
// spec.md §4.8 step 2.
func CheckNotOutOfDate(cur Current, base int64) error {
	if cur.Rev != base {
		return fsfserr.OutOfDate("commit: transaction based on r%d but youngest is r%d", base, cur.Rev)
	}
	return nil
}
