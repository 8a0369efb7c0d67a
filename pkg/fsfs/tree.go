package fsfs

import (
	"path"
	"sort"
	"strings"

	"github.com/fsfs/store/internal/changes"
	"github.com/fsfs/store/internal/dirent"
	"github.com/fsfs/store/internal/fsfserr"
	"github.com/fsfs/store/internal/nodeid"
	"github.com/fsfs/store/internal/noderev"
)

// mutableNode is the in-memory working copy of one node-revision touched
// by a transaction. It is the sole authoritative state for the node until
// Commit assigns it a final id/offset and writes it to the proto-revision
// file; see DESIGN.md for why this transaction holds its working tree
// in memory rather than mirroring each edit out to a per-node staging
// file under internal/txn's transactions/<id>.txn/ directory.
type mutableNode struct {
	id          nodeid.ID
	kind        noderev.Kind
	pred        *nodeid.ID
	predCount   int64
	createdPath string
	copyFrom    *noderev.PathRev
	copyRoot    *noderev.PathRev

	// file content pending a write; nil means "keep predecessor's text
	// pointer" (unmodified file reused by a copy).
	content      []byte
	reusedText   *noderev.RepField
	reusedProps  *noderev.RepField

	// children is populated for any directory node the transaction has
	// touched (created, or had an entry added/removed under it).
	children map[string]dirent.Entry
}

// Transaction is a mutable view of one in-flight revision under
// construction, built on top of internal/txn's staging primitives.
type Transaction struct {
	repo *Repository
	id   string
	base int64

	// nodes indexes every touched node by its current path, in-memory,
	// keyed by the path at the time of the edit. Root is always present
	// once the transaction has touched anything.
	nodes map[string]*mutableNode
	root  *mutableNode
}

// ensureRoot lazily loads the base revision's root into a fresh mutable root
// node the first time the transaction is touched.
func (t *Transaction) ensureRoot() (*mutableNode, error) {
	if t.root != nil {
		return t.root, nil
	}
	baseRoot, err := t.repo.ReadRootNodeRev(t.base)
	if err != nil {
		return nil, err
	}
	nid, err := t.repo.txnMgr.AllocateNodeID(t.id)
	if err != nil {
		return nil, err
	}
	children, err := t.repo.ReadDir(baseRoot, "")
	if err != nil {
		return nil, err
	}
	root := &mutableNode{
		id:          nodeid.ID{NodeID: nid, CopyID: "0", Loc: nodeid.Location{TxnID: t.id}},
		kind:        noderev.KindDir,
		pred:        &baseRoot.ID,
		predCount:   baseRoot.PredCount + 1,
		createdPath: "/",
		children:    children,
	}
	t.root = root
	t.nodes["/"] = root
	return root, nil
}

func splitPath(p string) []string {
	p = strings.Trim(path.Clean("/"+p), "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// walkMutableDir returns the mutable node for dirPath, materialising every mutable
// ancestor directory along the way (copy-on-write per spec.md §4.1: any
// directory an edit passes through becomes mutable, its children hash
// copied locally so further edits don't disturb the published revision).
func (t *Transaction) walkMutableDir(dirPath string) (*mutableNode, error) {
	cur, err := t.ensureRoot()
	if err != nil {
		return nil, err
	}
	segs := splitPath(dirPath)
	built := "/"
	for _, seg := range segs {
		e, ok := cur.children[seg]
		if !ok {
			return nil, fsfserr.NotFound("fsfs: no such directory %q", dirPath)
		}
		if e.Kind != noderev.KindDir {
			return nil, fsfserr.Corruption("fsfs: %q is not a directory", path.Join(built, seg))
		}
		built = path.Join(built, seg)
		if existing, ok := t.nodes[built]; ok {
			cur = existing
			continue
		}
		child, err := t.materialiseDir(e.ID, built, cur)
		if err != nil {
			return nil, err
		}
		cur.children[seg] = dirent.Entry{Name: seg, Kind: noderev.KindDir, ID: child.id}
		t.nodes[built] = child
		cur = child
	}
	return cur, nil
}

// materialiseDir copies a published (or already-mutable) directory
// node-revision into a fresh mutable node with its own temp id, its
// children hash loaded so local edits can be overlaid.
func (t *Transaction) materialiseDir(id nodeid.ID, builtPath string, parent *mutableNode) (*mutableNode, error) {
	if id.Loc.TxnID == t.id {
		if existing, ok := t.findByID(id); ok {
			return existing, nil
		}
	}
	nr, err := t.repo.ReadNode(id)
	if err != nil {
		return nil, err
	}
	children, err := t.repo.ReadDir(nr, "")
	if err != nil {
		return nil, err
	}
	nid, err := t.repo.txnMgr.AllocateNodeID(t.id)
	if err != nil {
		return nil, err
	}
	copyRoot := nr.CopyRoot
	return &mutableNode{
		id:          nodeid.ID{NodeID: nid, CopyID: nr.ID.CopyID, Loc: nodeid.Location{TxnID: t.id}},
		kind:        noderev.KindDir,
		pred:        &nr.ID,
		predCount:   nr.PredCount + 1,
		createdPath: builtPath,
		copyRoot:    copyRoot,
		children:    children,
	}, nil
}

// recordChange appends one raw entry to this transaction's on-disk
// change log (spec.md §4.7). Every tree edit below calls this exactly
// once, so the log folded at commit time (see pkg/fsfs/commit.go)
// reflects every mutation the transaction made, including deletes and
// replaces, not just whatever nodes happen to survive to commit.
func (t *Transaction) recordChange(e changes.Entry) error {
	return t.repo.txnMgr.AppendChange(t.id, e)
}

func (t *Transaction) findByID(id nodeid.ID) (*mutableNode, bool) {
	for _, n := range t.nodes {
		if n.id.NodeID == id.NodeID && n.id.CopyID == id.CopyID {
			return n, true
		}
	}
	return nil, false
}

// PutFile creates filePath if absent, or overwrites its content if it
// already exists as a file (spec.md §3 operations add/modify-file-text).
func (t *Transaction) PutFile(filePath string, content []byte) error {
	dir, name := path.Split(path.Clean("/" + filePath))
	parent, err := t.walkMutableDir(dir)
	if err != nil {
		return err
	}
	if e, ok := parent.children[name]; ok {
		if e.Kind != noderev.KindFile {
			return fsfserr.Corruption("fsfs: %q is a directory, not a file", filePath)
		}
		if existing, ok := t.findByID(e.ID); ok {
			existing.content = content
			return t.recordChange(changes.Entry{Path: existing.createdPath, NodeID: existing.id.String(), Kind: changes.Modify, TextMod: true})
		}
		nr, err := t.repo.ReadNode(e.ID)
		if err != nil {
			return err
		}
		nid, err := t.repo.txnMgr.AllocateNodeID(t.id)
		if err != nil {
			return err
		}
		child := &mutableNode{
			id:          nodeid.ID{NodeID: nid, CopyID: e.ID.CopyID, Loc: nodeid.Location{TxnID: t.id}},
			kind:        noderev.KindFile,
			pred:        &nr.ID,
			predCount:   nr.PredCount + 1,
			createdPath: path.Join(dir, name),
			copyRoot:    nr.CopyRoot,
			content:     content,
		}
		t.nodes[child.createdPath] = child
		parent.children[name] = dirent.Entry{Name: name, Kind: noderev.KindFile, ID: child.id}
		return t.recordChange(changes.Entry{Path: child.createdPath, NodeID: child.id.String(), Kind: changes.Modify, TextMod: true})
	}
	nid, err := t.repo.txnMgr.AllocateNodeID(t.id)
	if err != nil {
		return err
	}
	child := &mutableNode{
		id:          nodeid.ID{NodeID: nid, CopyID: parent.id.CopyID, Loc: nodeid.Location{TxnID: t.id}},
		kind:        noderev.KindFile,
		createdPath: path.Join(dir, name),
		content:     content,
	}
	t.nodes[child.createdPath] = child
	parent.children[name] = dirent.Entry{Name: name, Kind: noderev.KindFile, ID: child.id}
	return t.recordChange(changes.Entry{Path: child.createdPath, NodeID: child.id.String(), Kind: changes.Add, TextMod: true})
}

// MakeDir creates a new empty directory at dirPath.
func (t *Transaction) MakeDir(dirPath string) error {
	parentDir, name := path.Split(path.Clean("/" + dirPath))
	parent, err := t.walkMutableDir(parentDir)
	if err != nil {
		return err
	}
	if _, exists := parent.children[name]; exists {
		return fsfserr.Corruption("fsfs: %q already exists", dirPath)
	}
	nid, err := t.repo.txnMgr.AllocateNodeID(t.id)
	if err != nil {
		return err
	}
	child := &mutableNode{
		id:          nodeid.ID{NodeID: nid, CopyID: parent.id.CopyID, Loc: nodeid.Location{TxnID: t.id}},
		kind:        noderev.KindDir,
		createdPath: path.Join(parentDir, name),
		children:    map[string]dirent.Entry{},
	}
	t.nodes[child.createdPath] = child
	parent.children[name] = dirent.Entry{Name: name, Kind: noderev.KindDir, ID: child.id}
	return t.recordChange(changes.Entry{Path: child.createdPath, NodeID: child.id.String(), Kind: changes.Add})
}

// Delete removes targetPath (file or directory, recursively) from its
// parent directory.
func (t *Transaction) Delete(targetPath string) error {
	dir, name := path.Split(path.Clean("/" + targetPath))
	parent, err := t.walkMutableDir(dir)
	if err != nil {
		return err
	}
	removed, ok := parent.children[name]
	if !ok {
		return fsfserr.NotFound("fsfs: no such path %q", targetPath)
	}
	delete(parent.children, name)
	full := path.Join(dir, name)
	for p := range t.nodes {
		if p == full || strings.HasPrefix(p, full+"/") {
			delete(t.nodes, p)
		}
	}
	return t.recordChange(changes.Entry{Path: full, NodeID: removed.ID.String(), Kind: changes.Delete})
}

// Copy records a cheap cross-revision copy of srcPath at srcRev into
// dstPath: the destination shares the source's representations and
// records copyfrom/copyroot per spec.md §4.2.
func (t *Transaction) Copy(srcRev int64, srcPath, dstPath string) error {
	srcRoot, err := t.repo.ReadRootNodeRev(srcRev)
	if err != nil {
		return err
	}
	srcNode, err := t.repo.resolvePath(srcRoot, srcRev, srcPath)
	if err != nil {
		return err
	}
	dstDir, dstName := path.Split(path.Clean("/" + dstPath))
	parent, err := t.walkMutableDir(dstDir)
	if err != nil {
		return err
	}
	if _, exists := parent.children[dstName]; exists {
		return fsfserr.Corruption("fsfs: copy destination %q already exists", dstPath)
	}
	nid, err := t.repo.txnMgr.AllocateNodeID(t.id)
	if err != nil {
		return err
	}
	cid, err := t.repo.txnMgr.AllocateCopyID(t.id)
	if err != nil {
		return err
	}
	full := path.Join(dstDir, dstName)
	child := &mutableNode{
		id:          nodeid.ID{NodeID: nid, CopyID: cid, Loc: nodeid.Location{TxnID: t.id}},
		kind:        srcNode.Kind,
		createdPath: full,
		copyFrom:    &noderev.PathRev{Rev: srcRev, Path: path.Clean("/" + srcPath)},
		copyRoot:    &noderev.PathRev{Rev: srcRev, Path: path.Clean("/" + srcPath)},
	}
	props := srcNode.Props
	child.reusedProps = &props
	if srcNode.Kind == noderev.KindFile {
		text := srcNode.Text
		child.reusedText = &text
	} else {
		children, err := t.repo.ReadDir(srcNode, "")
		if err != nil {
			return err
		}
		cp := make(map[string]dirent.Entry, len(children))
		for k, v := range children {
			cp[k] = v
		}
		child.children = cp
	}
	t.nodes[full] = child
	parent.children[dstName] = dirent.Entry{Name: dstName, Kind: child.kind, ID: child.id}
	return t.recordChange(changes.Entry{
		Path:     full,
		NodeID:   child.id.String(),
		Kind:     changes.Add,
		CopyFrom: &changes.CopyFrom{Rev: srcRev, Path: path.Clean("/" + srcPath)},
	})
}

// ChangedPaths folds the transaction's on-disk change log for inspection
// before commit (e.g. by a caller wanting a preview), using the same fold
// logic the commit coordinator applies, so deletes and replaces show up
// here exactly as they will in the committed revision's changed-paths
// section.
func (t *Transaction) ChangedPaths() ([]string, error) {
	entries, err := t.repo.txnMgr.ReadChanges(t.id)
	if err != nil {
		return nil, err
	}
	folded, err := changes.Fold(entries, false)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(folded))
	for p := range folded {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}
