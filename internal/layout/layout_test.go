package layout

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPathsJoinAgainstRoot(t *testing.T) {
	p := New("/repo")

	assert.Equal(t, filepath.Join("/repo", "current"), p.Current())
	assert.Equal(t, filepath.Join("/repo", "uuid"), p.UUID())
	assert.Equal(t, filepath.Join("/repo", "write-lock"), p.WriteLock())
	assert.Equal(t, filepath.Join("/repo", "revs"), p.RevsDir())
	assert.Equal(t, filepath.Join("/repo", "revs", "42"), p.Rev(42))
	assert.Equal(t, filepath.Join("/repo", "revprops"), p.RevpropsDir())
	assert.Equal(t, filepath.Join("/repo", "revprops", "42"), p.Revprops(42))
	assert.Equal(t, filepath.Join("/repo", "transactions"), p.TransactionsDir())
}

func TestTxnPaths(t *testing.T) {
	p := New("/repo")
	txnID := "5-1"

	assert.Equal(t, filepath.Join("/repo", "transactions", "5-1.txn"), p.Txn(txnID))
	assert.Equal(t, filepath.Join(p.Txn(txnID), "rev"), p.TxnRev(txnID))
	assert.Equal(t, filepath.Join(p.Txn(txnID), "changes"), p.TxnChanges(txnID))
	assert.Equal(t, filepath.Join(p.Txn(txnID), "props"), p.TxnProps(txnID))
	assert.Equal(t, filepath.Join(p.Txn(txnID), "next-ids"), p.TxnNextIDs(txnID))
	assert.Equal(t, filepath.Join(p.Txn(txnID), "node.7.0"), p.TxnNode(txnID, "7", "0"))
}
