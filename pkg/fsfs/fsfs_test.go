package fsfs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fsfs/store/internal/changes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepo(t *testing.T) *Repository {
	t.Helper()
	root := filepath.Join(t.TempDir(), "repo")
	repo, err := Create(root, DefaultConfig())
	require.NoError(t, err)
	return repo
}

func TestCreateStartsAtRevisionZero(t *testing.T) {
	repo := newRepo(t)
	youngest, err := repo.Youngest()
	require.NoError(t, err)
	assert.Equal(t, int64(0), youngest)

	root, err := repo.ReadRootNodeRev(0)
	require.NoError(t, err)
	children, err := repo.ReadDir(root, "")
	require.NoError(t, err)
	assert.Empty(t, children)
}

func TestPutFileAndCommit(t *testing.T) {
	repo := newRepo(t)

	txn, err := repo.BeginTxn()
	require.NoError(t, err)
	require.NoError(t, txn.PutFile("/hello.txt", []byte("hello world\n")))

	rev, err := repo.Commit(txn)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rev)

	nr, err := repo.ReadPath(rev, "/hello.txt")
	require.NoError(t, err)
	data, err := repo.ReadFile(nr)
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", string(data))
}

func TestMakeDirAndNestedFile(t *testing.T) {
	repo := newRepo(t)

	txn, err := repo.BeginTxn()
	require.NoError(t, err)
	require.NoError(t, txn.MakeDir("/dir"))
	require.NoError(t, txn.PutFile("/dir/a.txt", []byte("a")))
	rev, err := repo.Commit(txn)
	require.NoError(t, err)

	nr, err := repo.ReadPath(rev, "/dir/a.txt")
	require.NoError(t, err)
	data, err := repo.ReadFile(nr)
	require.NoError(t, err)
	assert.Equal(t, "a", string(data))
}

func TestOverwriteFileCreatesDeltaAgainstPredecessor(t *testing.T) {
	repo := newRepo(t)

	txn, err := repo.BeginTxn()
	require.NoError(t, err)
	require.NoError(t, txn.PutFile("/f.txt", []byte("version one\n")))
	rev1, err := repo.Commit(txn)
	require.NoError(t, err)

	txn2, err := repo.BeginTxn()
	require.NoError(t, err)
	require.NoError(t, txn2.PutFile("/f.txt", []byte("version two\n")))
	rev2, err := repo.Commit(txn2)
	require.NoError(t, err)
	assert.Equal(t, rev1+1, rev2)

	nrOld, err := repo.ReadPath(rev1, "/f.txt")
	require.NoError(t, err)
	dataOld, err := repo.ReadFile(nrOld)
	require.NoError(t, err)
	assert.Equal(t, "version one\n", string(dataOld))

	nrNew, err := repo.ReadPath(rev2, "/f.txt")
	require.NoError(t, err)
	dataNew, err := repo.ReadFile(nrNew)
	require.NoError(t, err)
	assert.Equal(t, "version two\n", string(dataNew))

	raw, err := os.ReadFile(repo.paths.Rev(rev2))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw[nrNew.Text.Pointer.Offset:]), "DELTA "))
}

func TestDeleteRemovesPath(t *testing.T) {
	repo := newRepo(t)

	txn, err := repo.BeginTxn()
	require.NoError(t, err)
	require.NoError(t, txn.PutFile("/f.txt", []byte("x")))
	rev1, err := repo.Commit(txn)
	require.NoError(t, err)

	txn2, err := repo.BeginTxn()
	require.NoError(t, err)
	require.NoError(t, txn2.Delete("/f.txt"))
	rev2, err := repo.Commit(txn2)
	require.NoError(t, err)

	_, err = repo.ReadPath(rev2, "/f.txt")
	assert.Error(t, err)

	// the deleted file is still reachable at the prior revision.
	nr, err := repo.ReadPath(rev1, "/f.txt")
	require.NoError(t, err)
	assert.NotNil(t, nr)
}

func TestCopyReusesSourceRepresentation(t *testing.T) {
	repo := newRepo(t)

	txn, err := repo.BeginTxn()
	require.NoError(t, err)
	require.NoError(t, txn.PutFile("/src.txt", []byte("payload")))
	rev1, err := repo.Commit(txn)
	require.NoError(t, err)

	txn2, err := repo.BeginTxn()
	require.NoError(t, err)
	require.NoError(t, txn2.Copy(rev1, "/src.txt", "/dst.txt"))
	rev2, err := repo.Commit(txn2)
	require.NoError(t, err)

	nr, err := repo.ReadPath(rev2, "/dst.txt")
	require.NoError(t, err)
	data, err := repo.ReadFile(nr)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	srcNR, err := repo.ReadPath(rev1, "/src.txt")
	require.NoError(t, err)
	assert.Equal(t, srcNR.Text, nr.Text)
}

func TestOutOfDateTransactionRejected(t *testing.T) {
	repo := newRepo(t)

	txnA, err := repo.BeginTxn()
	require.NoError(t, err)
	require.NoError(t, txnA.PutFile("/a.txt", []byte("a")))

	txnB, err := repo.BeginTxn()
	require.NoError(t, err)
	require.NoError(t, txnB.PutFile("/b.txt", []byte("b")))

	_, err = repo.Commit(txnA)
	require.NoError(t, err)

	_, err = repo.Commit(txnB)
	assert.Error(t, err)
}

func TestCommitRecordsDeleteInChangedPaths(t *testing.T) {
	repo := newRepo(t)

	txn, err := repo.BeginTxn()
	require.NoError(t, err)
	require.NoError(t, txn.PutFile("/f.txt", []byte("x")))
	rev1, err := repo.Commit(txn)
	require.NoError(t, err)

	folded1, err := repo.ReadChangedPaths(rev1)
	require.NoError(t, err)
	require.Contains(t, folded1, "/f.txt")
	assert.Equal(t, changes.Add, folded1["/f.txt"].Kind)

	txn2, err := repo.BeginTxn()
	require.NoError(t, err)
	require.NoError(t, txn2.Delete("/f.txt"))
	rev2, err := repo.Commit(txn2)
	require.NoError(t, err)

	folded2, err := repo.ReadChangedPaths(rev2)
	require.NoError(t, err)
	require.Contains(t, folded2, "/f.txt")
	assert.Equal(t, changes.Delete, folded2["/f.txt"].Kind)
}

// TestCommitFoldsDeleteThenAddToReplace reproduces spec.md §4.7's
// delete-then-add-in-the-same-transaction fold rule through a real
// Commit, not just the pure changes.Fold unit tests: deleting an
// existing path and recreating it within the same transaction must
// collapse to a single "replace" entry in the committed changed-paths
// section.
func TestCommitFoldsDeleteThenAddToReplace(t *testing.T) {
	repo := newRepo(t)

	txn, err := repo.BeginTxn()
	require.NoError(t, err)
	require.NoError(t, txn.PutFile("/f.txt", []byte("old")))
	rev1, err := repo.Commit(txn)
	require.NoError(t, err)

	txn2, err := repo.BeginTxn()
	require.NoError(t, err)
	require.NoError(t, txn2.Delete("/f.txt"))
	require.NoError(t, txn2.PutFile("/f.txt", []byte("new")))
	rev2, err := repo.Commit(txn2)
	require.NoError(t, err)
	assert.Equal(t, rev1+1, rev2)

	folded, err := repo.ReadChangedPaths(rev2)
	require.NoError(t, err)
	require.Contains(t, folded, "/f.txt")
	assert.Equal(t, changes.Replace, folded["/f.txt"].Kind)

	nr, err := repo.ReadPath(rev2, "/f.txt")
	require.NoError(t, err)
	data, err := repo.ReadFile(nr)
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}
