// Package nodeid parses and formats node-revision identity triplets and
// implements the monotonic next_key allocator used for temporary and
// permanent node/copy ids.
//
// An identity is modelled as a tagged variant, per spec.md §9: a noderev
// is either still inside a transaction (Txn) or has been published at a
// fixed (revision, offset) (Rev). Overloading one string for both cases,
// the way the on-disk format does, is deliberately NOT mirrored in the Go
// type — only in the string codec at the edges.
//
// Grounded on the "compound id with a delimiter, split on first
// occurrence" shape of JoinRevisionKey/SplitRevisionKey in
// decomposedfs/node/revisions.go, generalised from two parts to the
// node_id.copy_id.location triplet spec.md requires.
package nodeid

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fsfs/store/internal/fsfserr"
)

// Location distinguishes a noderev still staged in a transaction from one
// published at a fixed revision offset.
type Location struct {
	// Txn is set (TxnID != "") when the noderev is still mutable.
	TxnID string
	// Rev/Offset are set when the noderev has been published.
	Rev    int64
	Offset int64
	// Published reports whether Rev/Offset are meaningful.
	Published bool
}

// ID is a node-revision identity triplet: (node_id, copy_id, location).
type ID struct {
	NodeID string
	CopyID string
	Loc    Location
}

// String renders the triplet as "node_id.copy_id.rev/offset" or
// "node_id.copy_id.txn_id" per spec.md §4.1.
func (id ID) String() string {
	if id.Loc.Published {
		return fmt.Sprintf("%s.%s.%d/%d", id.NodeID, id.CopyID, id.Loc.Rev, id.Loc.Offset)
	}
	return fmt.Sprintf("%s.%s.%s", id.NodeID, id.CopyID, id.Loc.TxnID)
}

// Parse decodes "node_id.copy_id.rev/offset" or "node_id.copy_id.txn_id".
func Parse(s string) (ID, error) {
	parts := strings.SplitN(s, ".", 3)
	if len(parts) != 3 {
		return ID{}, fsfserr.Corruption("nodeid: malformed id %q", s)
	}
	id := ID{NodeID: parts[0], CopyID: parts[1]}
	loc := parts[2]
	if slash := strings.IndexByte(loc, '/'); slash >= 0 {
		rev, err := strconv.ParseInt(loc[:slash], 10, 64)
		if err != nil {
			return ID{}, fsfserr.CorruptionWrap(err, "nodeid: bad revision in %q", s)
		}
		off, err := strconv.ParseInt(loc[slash+1:], 10, 64)
		if err != nil {
			return ID{}, fsfserr.CorruptionWrap(err, "nodeid: bad offset in %q", s)
		}
		id.Loc = Location{Rev: rev, Offset: off, Published: true}
		return id, nil
	}
	if loc == "" {
		return ID{}, fsfserr.Corruption("nodeid: empty location in %q", s)
	}
	id.Loc = Location{TxnID: loc}
	return id, nil
}

// IsTemporary reports whether id still carries the in-transaction
// "_"-prefixed temporary suffix on NodeID/CopyID, per spec.md §9.
func (id ID) IsTemporary() bool {
	return strings.HasPrefix(id.NodeID, "_") || strings.HasPrefix(id.CopyID, "_")
}

// alphabet is the digit set used by next_key: base-36, lower-case,
// ordered so that lexicographic string comparison agrees with numeric
// order for equal-length keys (the store never compares across lengths
// without accounting for it, mirroring apr's svn_fs_fs__next_key scheme).
const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NextKey returns the successor of key in the monotonic base-36 sequence
// used for node_id/copy_id allocation, and "1" for the empty/zero key.
func NextKey(key string) (string, error) {
	if key == "" {
		return "1", nil
	}
	digits := []byte(key)
	for i := len(digits) - 1; i >= 0; i-- {
		idx := strings.IndexByte(alphabet, digits[i])
		if idx < 0 {
			return "", fsfserr.Corruption("nodeid: bad key digit in %q", key)
		}
		if idx+1 < len(alphabet) {
			digits[i] = alphabet[idx+1]
			return string(digits), nil
		}
		digits[i] = alphabet[0]
		// carry into the next digit to the left
	}
	// every digit overflowed: grow by one digit
	return "1" + string(digits), nil
}

// Compare orders two base-36 next_key strings numerically: shorter keys
// sort before longer ones, and equal-length keys compare lexicographically
// (both properties next_key() preserves).
func Compare(a, b string) int {
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}
