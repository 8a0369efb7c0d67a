package fsfs

import (
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fsfs/store/internal/changes"
	"github.com/fsfs/store/internal/commit"
	"github.com/fsfs/store/internal/dirent"
	"github.com/fsfs/store/internal/fsfserr"
	"github.com/fsfs/store/internal/nodeid"
	"github.com/fsfs/store/internal/noderev"
	"github.com/fsfs/store/internal/rep"
)

// Commit finalises t into a new revision, per spec.md §4.8: acquire the
// write lock, verify t is still based on the youngest revision, rewrite
// every touched node-revision depth-first (children before parents, so a
// directory's hash can reference its children's final offsets), fold and
// append the changed-paths section, publish the revision and revprops
// files, advance `current`, and purge the transaction's staging
// directory.
func (r *Repository) Commit(t *Transaction) (int64, error) {
	fl, err := commit.Lock(r.paths)
	if err != nil {
		return 0, err
	}
	defer commit.Unlock(fl)

	cur, err := commit.ReadCurrent(r.paths)
	if err != nil {
		return 0, err
	}
	if err := commit.CheckNotOutOfDate(cur, t.base); err != nil {
		return 0, err
	}
	newRev := cur.Rev + 1

	protoPath := r.paths.TxnRev(t.id)
	f, err := os.OpenFile(protoPath, os.O_RDWR|os.O_TRUNC, 0600)
	if err != nil {
		return 0, fsfserr.IO(err, "commit: reopen prototype rev file")
	}
	defer f.Close()

	nextNodeID, nextCopyID := cur.NextNodeID, cur.NextCopyID
	finalIDs := map[string]nodeid.ID{}

	order := commitOrder(t)
	for _, p := range order {
		node := t.nodes[p]
		var finalID nodeid.ID
		if node.pred != nil {
			finalID = nodeid.ID{NodeID: node.pred.NodeID, CopyID: node.pred.CopyID}
		} else {
			nextNodeID, err = nodeid.NextKey(nextNodeID)
			if err != nil {
				return 0, err
			}
			finalID = nodeid.ID{NodeID: nextNodeID, CopyID: "0"}
		}
		if strings.HasPrefix(node.id.CopyID, "_") {
			nextCopyID, err = nodeid.NextKey(nextCopyID)
			if err != nil {
				return 0, err
			}
			finalID.CopyID = nextCopyID
		} else if node.pred == nil {
			finalID.CopyID = node.id.CopyID
		}

		if node.children != nil {
			if err := checkSwitchedChildren(r, node); err != nil {
				return 0, err
			}
			if err := rewriteChildren(node.children, finalIDs, t.id); err != nil {
				return 0, err
			}
		}

		nr := &noderev.NodeRev{
			Kind:        node.kind,
			Pred:        node.pred,
			PredCount:   node.predCount,
			CreatedPath: node.createdPath,
			CopyFrom:    node.copyFrom,
			CopyRoot:    node.copyRoot,
		}
		if node.reusedProps != nil {
			nr.Props = *node.reusedProps
		}

		switch node.kind {
		case noderev.KindDir:
			data := dirent.EncodeBase(node.children)
			wr, err := rep.WritePlain(f, data)
			if err != nil {
				return 0, err
			}
			nr.Text = noderev.RepField{Present: true, Pointer: rep.Pointer{
				Rev: newRev, Offset: wr.Offset, OnDiskSize: wr.OnDiskSize, ExpandedSize: wr.ExpandedSize, MD5: wr.MD5,
			}}
		case noderev.KindFile:
			if node.reusedText != nil {
				nr.Text = *node.reusedText
			} else if node.content != nil {
				ptr, err := r.writeFileRep(f, node, newRev)
				if err != nil {
					return 0, err
				}
				nr.Text = noderev.RepField{Present: true, Pointer: ptr}
			}
		}

		offset, err := f.Seek(0, io.SeekCurrent)
		if err != nil {
			return 0, fsfserr.IO(err, "commit: seek before noderev header")
		}
		finalID.Loc = nodeid.Location{Rev: newRev, Offset: offset, Published: true}
		nr.ID = finalID
		if _, err := noderev.Encode(f, nr); err != nil {
			return 0, err
		}
		finalIDs[node.id.String()] = finalID
	}

	if t.root == nil {
		return 0, fsfserr.Corruption("commit: empty transaction has no root")
	}

	changeEntries, err := r.txnMgr.ReadChanges(t.id)
	if err != nil {
		return 0, err
	}
	remapChangeEntryIDs(changeEntries, finalIDs)

	changesOffset, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, fsfserr.IO(err, "commit: seek before changes section")
	}
	folded, err := changes.Fold(changeEntries, false)
	if err != nil {
		return 0, err
	}
	if err := writeChangesSection(f, folded); err != nil {
		return 0, err
	}

	rootFinal := finalIDs[t.root.id.String()]
	if _, err := io.WriteString(f, trailerLine(rootFinal.Loc.Offset, changesOffset)); err != nil {
		return 0, fsfserr.IO(err, "commit: write trailer")
	}
	if err := commit.FsyncProtoRev(f); err != nil {
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, fsfserr.IO(err, "commit: close prototype rev file")
	}

	propsPath := r.paths.TxnProps(t.id)
	if err := commit.Publish(r.paths, newRev, protoPath, propsPath, nextNodeID, nextCopyID); err != nil {
		return 0, err
	}
	if err := r.txnMgr.Purge(t.id); err != nil {
		return 0, err
	}
	return newRev, nil
}

// writeFileRep appends node's new content as a representation, deltifying
// against the skip-chain ancestor chosen per spec.md §4.4 when the node
// has a predecessor, or as PLAIN otherwise.
func (r *Repository) writeFileRep(f *os.File, node *mutableNode, newRev int64) (rep.Pointer, error) {
	if node.pred == nil {
		wr, err := rep.WritePlain(f, node.content)
		if err != nil {
			return rep.Pointer{}, err
		}
		return rep.Pointer{Rev: newRev, Offset: wr.Offset, OnDiskSize: wr.OnDiskSize, ExpandedSize: wr.ExpandedSize, MD5: wr.MD5}, nil
	}
	predNR, err := r.ReadNode(*node.pred)
	if err != nil {
		return rep.Pointer{}, err
	}
	baseNR, err := r.chooseDeltaBase(predNR, skipBaseIndex(node.predCount))
	if err != nil {
		return rep.Pointer{}, err
	}
	if !baseNR.Text.Present || baseNR.Text.Mutable {
		wr, err := rep.WritePlain(f, node.content)
		if err != nil {
			return rep.Pointer{}, err
		}
		return rep.Pointer{Rev: newRev, Offset: wr.Offset, OnDiskSize: wr.OnDiskSize, ExpandedSize: wr.ExpandedSize, MD5: wr.MD5}, nil
	}
	baseBytes, err := rep.Read(r.source(), baseNR.Text.Pointer)
	if err != nil {
		return rep.Pointer{}, err
	}
	basePtr := baseNR.Text.Pointer
	wr, err := rep.WriteDelta(f, node.content, baseBytes, &basePtr)
	if err != nil {
		return rep.Pointer{}, err
	}
	return rep.Pointer{Rev: newRev, Offset: wr.Offset, OnDiskSize: wr.OnDiskSize, ExpandedSize: wr.ExpandedSize, MD5: wr.MD5}, nil
}

// skipBaseIndex implements the skip-delta ancestor selection rule
// (spec.md §4.4): clear the lowest set bit of count, giving an O(log n)
// chain length instead of always delta-ing against the immediate
// predecessor.
func skipBaseIndex(count int64) int64 {
	if count <= 0 {
		return 0
	}
	return count & (count - 1)
}

// chooseDeltaBase walks pred's own predecessor chain back to the
// node-revision whose count equals targetCount.
func (r *Repository) chooseDeltaBase(pred *noderev.NodeRev, targetCount int64) (*noderev.NodeRev, error) {
	cur := pred
	for cur.PredCount > targetCount {
		if cur.Pred == nil {
			break
		}
		next, err := r.ReadNode(*cur.Pred)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

// commitOrder returns t.nodes' paths sorted so that every child appears
// before its parent (deepest paths first), the order the depth-first
// rewrite needs so a directory's children are already finalised when the
// directory itself is encoded.
func commitOrder(t *Transaction) []string {
	paths := make([]string, 0, len(t.nodes))
	for p := range t.nodes {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool {
		di, dj := strings.Count(paths[i], "/"), strings.Count(paths[j], "/")
		if di != dj {
			return di > dj
		}
		return paths[i] > paths[j]
	})
	return paths
}

// rewriteChildren replaces any child entry still pointing at a temporary
// id from this transaction with its now-finalised published id.
func rewriteChildren(children map[string]dirent.Entry, finalIDs map[string]nodeid.ID, txnID string) error {
	for name, e := range children {
		if e.ID.Loc.TxnID != txnID {
			continue
		}
		final, ok := finalIDs[e.ID.String()]
		if !ok {
			return fsfserr.Corruption("commit: child %q not yet finalised", name)
		}
		e.ID = final
		children[name] = e
	}
	return nil
}

// checkSwitchedChildren rejects committing a copied directory whose
// child was itself switched onto a different branch than the copy
// implies (spec.md Open Question: reject with KindSwitchedChild rather
// than silently publishing a mixed-branch tree).
func checkSwitchedChildren(r *Repository, node *mutableNode) error {
	if node.copyFrom == nil {
		return nil
	}
	for name, e := range node.children {
		if e.ID.Loc.TxnID != "" {
			continue // touched within this transaction; not inherited from the copy source
		}
		child, err := r.ReadNode(e.ID)
		if err != nil {
			return err
		}
		if child.CopyFrom == nil {
			continue
		}
		expected := child.CopyFrom.Path
		wantPrefix := node.copyFrom.Path
		if !strings.HasPrefix(expected, wantPrefix) {
			return fsfserr.SwitchedChild("commit: child %q under copy %q was switched to a different branch", name, node.createdPath)
		}
	}
	return nil
}

// remapChangeEntryIDs rewrites each entry's NodeID in place from the
// transaction-local temporary id it was recorded under (at the time of
// the edit, per Transaction.recordChange) to the node's now-finalised
// published id. Entries whose NodeID isn't in finalIDs reference a node
// untouched by this transaction (an existing node a delete removed) or
// one that was added and later deleted within the same transaction (its
// entry only survives long enough for changes.Fold's delete-after-add
// cancellation rule to drop it); both cases are left as recorded.
func remapChangeEntryIDs(entries []changes.Entry, finalIDs map[string]nodeid.ID) {
	for i, e := range entries {
		if e.NodeID == "" {
			continue
		}
		if final, ok := finalIDs[e.NodeID]; ok {
			entries[i].NodeID = final.String()
		}
	}
}

func writeChangesSection(w io.Writer, folded map[string]*changes.Folded) error {
	paths := make([]string, 0, len(folded))
	for p := range folded {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		e := folded[p]
		entry := changes.Entry{
			Path: e.Path, NodeID: e.NodeID, Kind: e.Kind,
			TextMod: e.TextMod, PropMod: e.PropMod, CopyFrom: e.CopyFrom,
		}
		if err := changes.Append(w, entry); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "END\n")
	if err != nil {
		return fsfserr.IO(err, "commit: write changes terminator")
	}
	return nil
}
