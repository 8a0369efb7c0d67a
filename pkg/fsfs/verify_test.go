package fsfs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVerifyAllAcrossRevisions(t *testing.T) {
	repo := newRepo(t)

	txn, err := repo.BeginTxn()
	require.NoError(t, err)
	require.NoError(t, txn.MakeDir("/d"))
	require.NoError(t, txn.PutFile("/d/a.txt", []byte("one")))
	_, err = repo.Commit(txn)
	require.NoError(t, err)

	txn2, err := repo.BeginTxn()
	require.NoError(t, err)
	require.NoError(t, txn2.PutFile("/d/a.txt", []byte("two")))
	_, err = repo.Commit(txn2)
	require.NoError(t, err)

	require.NoError(t, repo.VerifyAll())
}
