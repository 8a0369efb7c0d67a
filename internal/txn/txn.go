// Package txn implements the transaction staging primitives (spec.md
// §4.1, §3 Transaction): directory lifecycle, temporary node/copy id
// allocation, and read/write access to a transaction's staging files. The
// tree-mutation semantics built on top of these primitives live in
// pkg/fsfs, which wires txn together with rep/noderev/dirent/changes.
//
// Grounded on upload/session.go's staging-directory lifecycle and
// upload/revision.go's CreateRevisionNode (touch a file under a lock
// before writing content).
package txn

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fsfs/store/internal/changes"
	"github.com/fsfs/store/internal/fsfserr"
	"github.com/fsfs/store/internal/layout"
	"github.com/fsfs/store/internal/nodeid"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// maxCreateAttempts bounds the "rev-seq" uniquifier search per spec.md §7
// (unique-names-exhausted after 99999 attempts).
const maxCreateAttempts = 99999

// Manager creates, opens, and purges transaction staging directories
// rooted at paths.
type Manager struct {
	paths layout.Paths
}

// New returns a Manager rooted at paths.
func New(paths layout.Paths) *Manager { return &Manager{paths: paths} }

// Txn identifies an open transaction: id "rev-seq" where rev is the base
// revision and seq is a per-rev uniquifier (spec.md §3).
type Txn struct {
	ID      string
	BaseRev int64
}

// ParseID splits a transaction id into its base revision and uniquifier.
func ParseID(id string) (baseRev int64, seq string, err error) {
	idx := strings.IndexByte(id, '-')
	if idx < 0 {
		return 0, "", fsfserr.Corruption("txn: malformed transaction id %q", id)
	}
	rev, perr := strconv.ParseInt(id[:idx], 10, 64)
	if perr != nil {
		return 0, "", fsfserr.CorruptionWrap(perr, "txn: bad base revision in %q", id)
	}
	return rev, id[idx+1:], nil
}

// Create allocates a fresh transaction directory based on baseRev,
// trying successive "rev-seq" uniquifiers (1, 2, 3, ...) and falling back
// to a UUID-derived uniquifier if the numeric sequence collides
// repeatedly, per spec.md §3/§7.
func (m *Manager) Create(baseRev int64) (*Txn, error) {
	for seq := 1; seq <= maxCreateAttempts; seq++ {
		id := fmt.Sprintf("%d-%d", baseRev, seq)
		if t, err := m.tryCreateDir(id); err == nil {
			return t, nil
		} else if !os.IsExist(err) {
			return nil, fsfserr.IO(err, "txn: create transaction directory %q", id)
		}
	}
	// Numeric sequence exhausted: fall back to a UUID uniquifier once.
	id := fmt.Sprintf("%d-%s", baseRev, uuid.NewString())
	if t, err := m.tryCreateDir(id); err == nil {
		return t, nil
	}
	return nil, fsfserr.UniqueNamesExhausted("txn: could not allocate transaction directory after %d attempts", maxCreateAttempts)
}

func (m *Manager) tryCreateDir(id string) (*Txn, error) {
	dir := m.paths.Txn(id)
	if err := os.Mkdir(dir, 0700); err != nil {
		return nil, err
	}
	baseRev, _, err := ParseID(id)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(m.paths.TxnChanges(id), nil, 0600); err != nil {
		return nil, fsfserr.IO(err, "txn: init changes log")
	}
	if err := os.WriteFile(m.paths.TxnProps(id), []byte("END\n"), 0600); err != nil {
		return nil, fsfserr.IO(err, "txn: init props")
	}
	if err := os.WriteFile(m.paths.TxnNextIDs(id), []byte("1 1\n"), 0600); err != nil {
		return nil, fsfserr.IO(err, "txn: init next-ids")
	}
	if f, err := os.Create(m.paths.TxnRev(id)); err != nil {
		return nil, fsfserr.IO(err, "txn: init prototype rev file")
	} else {
		f.Close()
	}
	log.Debug().Str("component", "txn").Str("txn", id).Msg("created transaction")
	return &Txn{ID: id, BaseRev: baseRev}, nil
}

// Open returns a Txn handle for an already-existing transaction id.
func (m *Manager) Open(id string) (*Txn, error) {
	if _, err := os.Stat(m.paths.Txn(id)); err != nil {
		if os.IsNotExist(err) {
			return nil, fsfserr.NotFound("txn: no such transaction %q", id)
		}
		return nil, fsfserr.IO(err, "txn: stat transaction directory")
	}
	baseRev, _, err := ParseID(id)
	if err != nil {
		return nil, err
	}
	return &Txn{ID: id, BaseRev: baseRev}, nil
}

// Purge removes a transaction's staging directory entirely, used both on
// successful commit and on explicit abort (spec.md §3 Lifecycle).
func (m *Manager) Purge(id string) error {
	if err := os.RemoveAll(m.paths.Txn(id)); err != nil {
		return fsfserr.IO(err, "txn: purge transaction %q", id)
	}
	return nil
}

// AppendChange appends one raw change-log record to id's incremental
// changes file, per spec.md §4.7 ("the append-only record of path
// mutations"). Callers in pkg/fsfs invoke this once per tree edit
// (PutFile/MakeDir/Delete/Copy), so the on-disk log always reflects every
// mutation the transaction made, not just the nodes that happen to
// survive until commit.
func (m *Manager) AppendChange(id string, e changes.Entry) error {
	f, err := os.OpenFile(m.paths.TxnChanges(id), os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fsfserr.IO(err, "txn: open changes log for append")
	}
	defer f.Close()
	if err := changes.Append(f, e); err != nil {
		return err
	}
	return nil
}

// ReadChanges decodes the full raw change-log entries recorded for id so
// far, in append order.
func (m *Manager) ReadChanges(id string) ([]changes.Entry, error) {
	f, err := os.Open(m.paths.TxnChanges(id))
	if err != nil {
		return nil, fsfserr.IO(err, "txn: open changes log for read")
	}
	defer f.Close()
	return changes.ReadAll(f)
}

// nextIDs reads the transaction's local next temp node/copy id counters.
func (m *Manager) nextIDs(id string) (nextNode, nextCopy string, err error) {
	data, err := os.ReadFile(m.paths.TxnNextIDs(id))
	if err != nil {
		return "", "", fsfserr.IO(err, "txn: read next-ids")
	}
	fields := strings.Fields(string(data))
	if len(fields) != 2 {
		return "", "", fsfserr.Corruption("txn: malformed next-ids %q", data)
	}
	return fields[0], fields[1], nil
}

func (m *Manager) writeNextIDs(id, nextNode, nextCopy string) error {
	content := fmt.Sprintf("%s %s\n", nextNode, nextCopy)
	if err := os.WriteFile(m.paths.TxnNextIDs(id), []byte(content), 0600); err != nil {
		return fsfserr.IO(err, "txn: write next-ids")
	}
	return nil
}

// AllocateNodeID returns a fresh temporary node id ("_"-prefixed, per
// spec.md §9) for id, advancing the transaction's local counter.
func (m *Manager) AllocateNodeID(id string) (string, error) {
	nn, nc, err := m.nextIDs(id)
	if err != nil {
		return "", err
	}
	next, err := nodeid.NextKey(nn)
	if err != nil {
		return "", err
	}
	if err := m.writeNextIDs(id, next, nc); err != nil {
		return "", err
	}
	return "_" + nn, nil
}

// AllocateCopyID returns a fresh temporary copy id for id, advancing the
// transaction's local counter.
func (m *Manager) AllocateCopyID(id string) (string, error) {
	nn, nc, err := m.nextIDs(id)
	if err != nil {
		return "", err
	}
	next, err := nodeid.NextKey(nc)
	if err != nil {
		return "", err
	}
	if err := m.writeNextIDs(id, nn, next); err != nil {
		return "", err
	}
	return "_" + nc, nil
}

// LastAllocated returns the current (not-yet-issued) next node/copy id
// counters, used by the commit coordinator to know how many temporary
// ids a transaction consumed.
func (m *Manager) LastAllocated(id string) (nextNode, nextCopy string, err error) {
	return m.nextIDs(id)
}
