// Package fsfs is the repository facade: it wires together
// internal/layout, internal/txn, internal/commit, internal/rep,
// internal/noderev, internal/dirent, and internal/changes into the
// operations a caller actually wants (open a repository, start a
// transaction, edit its tree, commit it, read back a revision).
//
// Grounded on decomposedfs.Decomposedfs, the facade type that aggregates
// a lookup, permissions, tree, and blobstore behind one storage.FS
// interface; this package plays the same aggregating role for the
// revision-store components.
package fsfs

import (
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/fsfs/store/internal/changes"
	"github.com/fsfs/store/internal/commit"
	"github.com/fsfs/store/internal/dirent"
	"github.com/fsfs/store/internal/fsfserr"
	"github.com/fsfs/store/internal/layout"
	"github.com/fsfs/store/internal/nodeid"
	"github.com/fsfs/store/internal/noderev"
	"github.com/fsfs/store/internal/rep"
	"github.com/fsfs/store/internal/txn"
	"github.com/google/uuid"
)

// Config holds the repository's on-disk configuration, stored as TOML
// per SPEC_FULL.md's ambient configuration section (teacher style:
// BurntSushi/toml struct tags, a single Load/Save pair).
type Config struct {
	Store struct {
		// CompatibilityVersion pins the on-disk format revision this
		// repository was created with, so a future format change can
		// refuse to open an incompatible store rather than corrupt it.
		CompatibilityVersion int `toml:"compatibility_version"`
	} `toml:"store"`
}

// DefaultConfig is used by Create when the caller doesn't supply one.
func DefaultConfig() Config {
	var c Config
	c.Store.CompatibilityVersion = 1
	return c
}

func loadConfig(p string) (Config, error) {
	var c Config
	if _, err := toml.DecodeFile(p, &c); err != nil {
		return Config{}, fsfserr.IO(err, "fsfs: read config")
	}
	return c, nil
}

func saveConfig(p string, c Config) error {
	f, err := os.Create(p)
	if err != nil {
		return fsfserr.IO(err, "fsfs: create config")
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fsfserr.IO(err, "fsfs: encode config")
	}
	return nil
}

// Repository is an open handle on one filesystem-backed revision store.
type Repository struct {
	paths    layout.Paths
	cfg      Config
	txnMgr   *txn.Manager
	dirCache *dirent.Cache
}

func configPath(root string) string { return path.Join(root, "fsfs.conf") }

// Create initialises a brand new, empty repository at root (spec.md §3:
// revision 0 is the empty root directory).
func Create(root string, cfg Config) (*Repository, error) {
	for _, dir := range []string{root, path.Join(root, "revs"), path.Join(root, "revprops"), path.Join(root, "transactions")} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fsfserr.IO(err, "fsfs: create repository directory %q", dir)
		}
	}
	paths := layout.New(root)
	if err := os.WriteFile(paths.UUID(), []byte(uuid.NewString()+"\n"), 0600); err != nil {
		return nil, fsfserr.IO(err, "fsfs: write uuid")
	}
	if err := saveConfig(configPath(root), cfg); err != nil {
		return nil, err
	}
	if err := commit.WriteInitialCurrent(paths); err != nil {
		return nil, err
	}
	if err := writeRevisionZero(paths); err != nil {
		return nil, err
	}
	return open(paths, cfg), nil
}

// writeRevisionZero writes the single empty-root-directory revision
// every repository starts from, including its trailer and a placeholder
// revprops file.
func writeRevisionZero(paths layout.Paths) error {
	f, err := os.Create(paths.Rev(0))
	if err != nil {
		return fsfserr.IO(err, "fsfs: create revision 0")
	}
	defer f.Close()

	dirBytes := dirent.EncodeBase(map[string]dirent.Entry{})
	wr, err := rep.WritePlain(f, dirBytes)
	if err != nil {
		return err
	}
	rootOffset, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return fsfserr.IO(err, "fsfs: seek before root noderev")
	}
	root0 := &noderev.NodeRev{
		ID:          nodeid.ID{NodeID: "0", CopyID: "0", Loc: nodeid.Location{Rev: 0, Offset: rootOffset, Published: true}},
		Kind:        noderev.KindDir,
		PredCount:   0,
		CreatedPath: "/",
		Text: noderev.RepField{Present: true, Pointer: rep.Pointer{
			Rev: 0, Offset: wr.Offset, OnDiskSize: wr.OnDiskSize, ExpandedSize: wr.ExpandedSize, MD5: wr.MD5,
		}},
	}
	if _, err := noderev.Encode(f, root0); err != nil {
		return err
	}
	changesOffset, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return fsfserr.IO(err, "fsfs: seek before changes section")
	}
	if _, err := io.WriteString(f, "END\n"); err != nil {
		return fsfserr.IO(err, "fsfs: write empty changes section")
	}
	if _, err := io.WriteString(f, trailerLine(rootOffset, changesOffset)); err != nil {
		return fsfserr.IO(err, "fsfs: write revision 0 trailer")
	}
	return os.WriteFile(paths.Revprops(0), []byte("END\n"), 0600)
}

func trailerLine(rootOffset, changesOffset int64) string {
	return fmt.Sprintf("root %d\nchanges %d\n", rootOffset, changesOffset)
}

// Open opens an existing repository at root.
func Open(root string) (*Repository, error) {
	paths := layout.New(root)
	cfg, err := loadConfig(configPath(root))
	if err != nil {
		return nil, err
	}
	return open(paths, cfg), nil
}

func open(paths layout.Paths, cfg Config) *Repository {
	return &Repository{
		paths:    paths,
		cfg:      cfg,
		txnMgr:   txn.New(paths),
		dirCache: dirent.NewCache(),
	}
}

// Youngest returns the youngest published revision number.
func (r *Repository) Youngest() (int64, error) {
	cur, err := commit.ReadCurrent(r.paths)
	if err != nil {
		return 0, err
	}
	return cur.Rev, nil
}

// fsSource implements rep.Source over both published revision files and
// an in-flight transaction's prototype rev file.
type fsSource struct {
	paths layout.Paths
}

func (s fsSource) Open(rev int64, txnID string) (io.ReadSeeker, error) {
	var p string
	if txnID != "" {
		p = s.paths.TxnRev(txnID)
	} else {
		p = s.paths.Rev(rev)
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (r *Repository) source() rep.Source { return fsSource{paths: r.paths} }

// ReadNode parses the node-revision header block identified by id.
func (r *Repository) ReadNode(id nodeid.ID) (*noderev.NodeRev, error) {
	var p string
	var offset int64
	if id.Loc.Published {
		p = r.paths.Rev(id.Loc.Rev)
		offset = id.Loc.Offset
	} else {
		p = r.paths.TxnNode(id.Loc.TxnID, id.NodeID, id.CopyID)
		offset = 0
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, fsfserr.IO(err, "fsfs: open noderev container")
	}
	defer f.Close()
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, fsfserr.IO(err, "fsfs: seek to noderev")
	}
	return noderev.Parse(f)
}

// ReadRootNodeRev reads the root noderev of revision rev via its trailer.
func (r *Repository) ReadRootNodeRev(rev int64) (*noderev.NodeRev, error) {
	rootOff, _, err := readTrailer(r.paths.Rev(rev))
	if err != nil {
		return nil, err
	}
	f, err := os.Open(r.paths.Rev(rev))
	if err != nil {
		return nil, fsfserr.IO(err, "fsfs: open revision %d", rev)
	}
	defer f.Close()
	if _, err := f.Seek(rootOff, io.SeekStart); err != nil {
		return nil, fsfserr.IO(err, "fsfs: seek to root noderev")
	}
	return noderev.Parse(f)
}

// ReadDir returns the fully materialised child-entry map of a directory
// noderev, transparently decoding PLAIN/DELTA content through the hot
// cache.
func (r *Repository) ReadDir(nr *noderev.NodeRev, txnID string) (map[string]dirent.Entry, error) {
	if nr.Kind != noderev.KindDir {
		return nil, fsfserr.Corruption("fsfs: %q is not a directory", nr.CreatedPath)
	}
	cacheKey := nr.ID.String()
	load := func() (map[string]dirent.Entry, error) {
		if !nr.Text.Present || nr.Text.Mutable {
			return map[string]dirent.Entry{}, nil
		}
		data, err := rep.Read(r.source(), nr.Text.Pointer)
		if err != nil {
			return nil, err
		}
		return dirent.DecodeBase(strings.NewReader(string(data)))
	}
	entries, err := r.dirCache.Get(cacheKey, load)
	if err != nil {
		return nil, err
	}
	// Return a shallow copy: callers (notably pkg/fsfs.Transaction) mutate
	// their own working copy freely without disturbing the shared cache.
	out := make(map[string]dirent.Entry, len(entries))
	for k, v := range entries {
		out[k] = v
	}
	return out, nil
}

// ReadFile returns the fully decoded byte content of a file noderev.
func (r *Repository) ReadFile(nr *noderev.NodeRev) ([]byte, error) {
	if nr.Kind != noderev.KindFile {
		return nil, fsfserr.Corruption("fsfs: %q is not a file", nr.CreatedPath)
	}
	if !nr.Text.Present {
		return nil, nil
	}
	return rep.Read(r.source(), nr.Text.Pointer)
}

// resolvePath walks from root down path's segments, returning the
// noderev at that path within revision rev.
func (r *Repository) resolvePath(root *noderev.NodeRev, rev int64, p string) (*noderev.NodeRev, error) {
	cur := root
	for _, seg := range splitPath(p) {
		if cur.Kind != noderev.KindDir {
			return nil, fsfserr.Corruption("fsfs: %q is not a directory", cur.CreatedPath)
		}
		children, err := r.ReadDir(cur, "")
		if err != nil {
			return nil, err
		}
		e, ok := children[seg]
		if !ok {
			return nil, fsfserr.NotFound("fsfs: no such path %q in r%d", p, rev)
		}
		cur, err = r.ReadNode(e.ID)
		if err != nil {
			return nil, err
		}
	}
	return cur, nil
}

// ReadPath resolves path within revision rev to its noderev.
func (r *Repository) ReadPath(rev int64, p string) (*noderev.NodeRev, error) {
	root, err := r.ReadRootNodeRev(rev)
	if err != nil {
		return nil, err
	}
	return r.resolvePath(root, rev, p)
}

// ReadChangedPaths decodes the changed-paths section a committed
// revision's changes log was folded into at commit time (spec.md §6),
// reading from the `changes` trailer offset up to the terminating
// "END\n" line.
func (r *Repository) ReadChangedPaths(rev int64) (map[string]*changes.Folded, error) {
	_, changesOffset, err := readTrailer(r.paths.Rev(rev))
	if err != nil {
		return nil, err
	}
	f, err := os.Open(r.paths.Rev(rev))
	if err != nil {
		return nil, fsfserr.IO(err, "fsfs: open revision file")
	}
	defer f.Close()
	if _, err := f.Seek(changesOffset, io.SeekStart); err != nil {
		return nil, fsfserr.IO(err, "fsfs: seek to changes section")
	}
	entries, err := changes.ReadUntilEnd(f)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*changes.Folded, len(entries))
	for _, e := range entries {
		out[e.Path] = &changes.Folded{Path: e.Path, NodeID: e.NodeID, Kind: e.Kind, TextMod: e.TextMod, PropMod: e.PropMod, CopyFrom: e.CopyFrom}
	}
	return out, nil
}

func readTrailer(revFile string) (rootOffset, changesOffset int64, err error) {
	data, err := os.ReadFile(revFile)
	if err != nil {
		return 0, 0, fsfserr.IO(err, "fsfs: read revision file")
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) < 2 {
		return 0, 0, fsfserr.Corruption("fsfs: revision file missing trailer")
	}
	tail := lines[len(lines)-2:]
	rootOffset, err = parseTrailerField(tail[0], "root")
	if err != nil {
		return 0, 0, err
	}
	changesOffset, err = parseTrailerField(tail[1], "changes")
	if err != nil {
		return 0, 0, err
	}
	return rootOffset, changesOffset, nil
}

func parseTrailerField(line, want string) (int64, error) {
	fields := strings.Fields(line)
	if len(fields) != 2 || fields[0] != want {
		return 0, fsfserr.Corruption("fsfs: malformed trailer line %q", line)
	}
	v, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0, fsfserr.CorruptionWrap(err, "fsfs: bad trailer offset %q", line)
	}
	return v, nil
}

// BeginTxn opens a new transaction rooted at the youngest revision.
func (r *Repository) BeginTxn() (*Transaction, error) {
	youngest, err := r.Youngest()
	if err != nil {
		return nil, err
	}
	t, err := r.txnMgr.Create(youngest)
	if err != nil {
		return nil, err
	}
	return &Transaction{repo: r, id: t.ID, base: t.BaseRev, nodes: map[string]*mutableNode{}}, nil
}

// Abort discards a transaction's staging directory without publishing a
// revision.
func (r *Repository) Abort(t *Transaction) error {
	return r.txnMgr.Purge(t.id)
}
