// Package layout computes the deterministic on-disk paths for a revision
// store: current, uuid, write-lock, revs/<N>, revprops/<N>, and the
// per-transaction staging tree. No component outside layout is allowed to
// join repository paths by hand; everything else asks layout for a path.
//
// Grounded on the join-path helpers in ocis.Path (pkg/storage/fs/ocis),
// which centralise "root + kind + id" into one place rather than letting
// every caller concatenate filepath.Join on its own.
package layout

import (
	"fmt"
	"path/filepath"
)

// Paths resolves repository-relative paths against a single root.
type Paths struct {
	Root string
}

// New returns a Paths rooted at root.
func New(root string) Paths {
	return Paths{Root: root}
}

// Current is the path of the `current` file.
func (p Paths) Current() string { return filepath.Join(p.Root, "current") }

// UUID is the path of the `uuid` file.
func (p Paths) UUID() string { return filepath.Join(p.Root, "uuid") }

// WriteLock is the path of the advisory write lock.
func (p Paths) WriteLock() string { return filepath.Join(p.Root, "write-lock") }

// RevsDir is the directory holding published revision files.
func (p Paths) RevsDir() string { return filepath.Join(p.Root, "revs") }

// Rev is the path of revision file N.
func (p Paths) Rev(n int64) string { return filepath.Join(p.RevsDir(), fmt.Sprintf("%d", n)) }

// RevpropsDir is the directory holding revision property files.
func (p Paths) RevpropsDir() string { return filepath.Join(p.Root, "revprops") }

// Revprops is the path of the revision-properties file for revision N.
func (p Paths) Revprops(n int64) string { return filepath.Join(p.RevpropsDir(), fmt.Sprintf("%d", n)) }

// TransactionsDir is the directory holding in-flight transaction staging
// directories.
func (p Paths) TransactionsDir() string { return filepath.Join(p.Root, "transactions") }

// Txn is the staging directory for transaction id.
func (p Paths) Txn(id string) string { return filepath.Join(p.TransactionsDir(), id+".txn") }

// TxnRev is the prototype revision file being built inside a transaction.
func (p Paths) TxnRev(id string) string { return filepath.Join(p.Txn(id), "rev") }

// TxnChanges is the incremental change log for a transaction.
func (p Paths) TxnChanges(id string) string { return filepath.Join(p.Txn(id), "changes") }

// TxnProps is the revision-properties staging file for a transaction.
func (p Paths) TxnProps(id string) string { return filepath.Join(p.Txn(id), "props") }

// TxnNextIDs is the next-ids counter file for a transaction.
func (p Paths) TxnNextIDs(id string) string { return filepath.Join(p.Txn(id), "next-ids") }

// TxnNode is the staging file for a mutable node-revision inside a
// transaction, identified by its (node_id, copy_id) pair.
func (p Paths) TxnNode(txnID, nodeID, copyID string) string {
	return filepath.Join(p.Txn(txnID), fmt.Sprintf("node.%s.%s", nodeID, copyID))
}

