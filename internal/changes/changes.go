// Package changes implements the per-transaction change log (spec.md
// §4.7): the append-only record of path mutations, and the fold that
// collapses a transaction's raw entries into the final changed-paths
// summary at commit time.
package changes

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fsfs/store/internal/fsfserr"
)

// Kind is a change-log action.
type Kind int

const (
	Modify Kind = iota
	Add
	Delete
	Replace
	Reset
)

func (k Kind) String() string {
	switch k {
	case Modify:
		return "modify"
	case Add:
		return "add"
	case Delete:
		return "delete"
	case Replace:
		return "replace"
	case Reset:
		return "reset"
	default:
		return "unknown"
	}
}

func parseKind(s string) (Kind, error) {
	switch s {
	case "modify":
		return Modify, nil
	case "add":
		return Add, nil
	case "delete":
		return Delete, nil
	case "replace":
		return Replace, nil
	case "reset":
		return Reset, nil
	default:
		return 0, fsfserr.Corruption("changes: unknown action %q", s)
	}
}

// CopyFrom records a cross-history copy origin.
type CopyFrom struct {
	Rev  int64
	Path string
}

// Entry is one raw change-log record, per spec.md §3.
type Entry struct {
	Path        string
	NodeID      string // noderev id string; empty only for Reset
	Kind        Kind
	TextMod     bool
	PropMod     bool
	CopyFrom    *CopyFrom
}

// Append writes one entry (its two-line record) to w.
func Append(w io.Writer, e Entry) error {
	if _, err := fmt.Fprintf(w, "%s %s %s %s %s\n", orDash(e.NodeID), e.Kind, boolFlag(e.TextMod), boolFlag(e.PropMod), e.Path); err != nil {
		return fsfserr.IO(err, "changes: write change record")
	}
	if e.CopyFrom != nil {
		if _, err := fmt.Fprintf(w, "%d %s\n", e.CopyFrom.Rev, e.CopyFrom.Path); err != nil {
			return fsfserr.IO(err, "changes: write copyfrom record")
		}
	} else {
		if _, err := io.WriteString(w, "\n"); err != nil {
			return fsfserr.IO(err, "changes: write empty copyfrom record")
		}
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// ReadAll decodes every entry from a transaction's raw (unterminated)
// changes log stream, reading until EOF.
func ReadAll(r io.Reader) ([]Entry, error) {
	br := bufio.NewReader(r)
	var entries []Entry
	for {
		e, atEOF, err := readRecord(br)
		if err != nil {
			return nil, err
		}
		if e != nil {
			entries = append(entries, *e)
		}
		if atEOF {
			return entries, nil
		}
	}
}

// ReadUntilEnd decodes a revision file's folded changed-paths section,
// which is terminated by a literal "END\n" line (spec.md §6) rather than
// EOF (the stream continues past it inside the same file).
func ReadUntilEnd(r io.Reader) ([]Entry, error) {
	br := bufio.NewReader(r)
	var entries []Entry
	for {
		peek, err := br.Peek(4)
		if err == nil && string(peek) == "END\n" {
			if _, err := br.Discard(4); err != nil {
				return nil, fsfserr.IO(err, "changes: discard END terminator")
			}
			return entries, nil
		}
		e, atEOF, err := readRecord(br)
		if err != nil {
			return nil, err
		}
		if e == nil {
			return nil, fsfserr.Corruption("changes: changes section missing END terminator")
		}
		entries = append(entries, *e)
		if atEOF {
			return nil, fsfserr.Corruption("changes: changes section missing END terminator")
		}
	}
}

// readRecord decodes one two-line record (change line + copyfrom line)
// from br. A nil entry with atEOF true means br was already exhausted
// before any record bytes were read.
func readRecord(br *bufio.Reader) (e *Entry, atEOF bool, err error) {
	line, err := br.ReadString('\n')
	if err == io.EOF && line == "" {
		return nil, true, nil
	}
	if err != nil && err != io.EOF {
		return nil, false, fsfserr.IO(err, "changes: read change record")
	}
	reachedEOF := err == io.EOF
	line = strings.TrimSuffix(line, "\n")
	fields := strings.SplitN(line, " ", 5)
	if len(fields) != 5 {
		return nil, false, fsfserr.Corruption("changes: malformed record %q", line)
	}
	kind, kerr := parseKind(fields[1])
	if kerr != nil {
		return nil, false, kerr
	}
	nodeID := fields[0]
	if nodeID == "-" {
		nodeID = ""
	}
	entry := Entry{
		Path:    fields[4],
		NodeID:  nodeID,
		Kind:    kind,
		TextMod: fields[2] == "1",
		PropMod: fields[3] == "1",
	}
	if !reachedEOF {
		cfLine, cferr := br.ReadString('\n')
		if cferr != nil && cferr != io.EOF {
			return nil, false, fsfserr.IO(cferr, "changes: read copyfrom record")
		}
		reachedEOF = cferr == io.EOF
		cfLine = strings.TrimSuffix(cfLine, "\n")
		if cfLine != "" {
			idx := strings.IndexByte(cfLine, ' ')
			if idx < 0 {
				return nil, false, fsfserr.Corruption("changes: malformed copyfrom record %q", cfLine)
			}
			rev, perr := strconv.ParseInt(cfLine[:idx], 10, 64)
			if perr != nil {
				return nil, false, fsfserr.CorruptionWrap(perr, "changes: bad copyfrom revision %q", cfLine)
			}
			entry.CopyFrom = &CopyFrom{Rev: rev, Path: cfLine[idx+1:]}
		}
	}
	return &entry, reachedEOF, nil
}

// Folded is the final per-path summary produced by Fold.
type Folded struct {
	Path     string
	NodeID   string
	Kind     Kind
	TextMod  bool
	PropMod  bool
	CopyFrom *CopyFrom
}

// Fold collapses entries into a final map keyed by path, per spec.md
// §4.7's fold rules. prefolded suppresses the descendant-pruning step,
// for a log that was already folded upstream (spec.md: "unless the log
// was pre-folded").
func Fold(entries []Entry, prefolded bool) (map[string]*Folded, error) {
	acc := map[string]*Folded{}
	// A delete whose accumulated entry for the same path is an add removes
	// that entry outright ("delete following an add in-transaction removes
	// the entry"); see the Delete case below.
	for _, e := range entries {
		if e.Kind == Reset {
			delete(acc, e.Path)
			continue
		}
		prior := acc[e.Path]
		switch e.Kind {
		case Add, Replace:
			if e.NodeID == "" {
				return nil, fsfserr.Corruption("changes: non-reset entry with null noderev-id for %q", e.Path)
			}
			if prior != nil && prior.Kind == Delete {
				acc[e.Path] = &Folded{Path: e.Path, NodeID: e.NodeID, Kind: Replace, TextMod: e.TextMod, PropMod: e.PropMod, CopyFrom: e.CopyFrom}
			} else {
				if prior != nil && prior.NodeID != "" && prior.NodeID != e.NodeID {
					return nil, fsfserr.Corruption("changes: new noderev-id for %q whose prior entry was not a delete", e.Path)
				}
				acc[e.Path] = &Folded{Path: e.Path, NodeID: e.NodeID, Kind: e.Kind, TextMod: e.TextMod, PropMod: e.PropMod, CopyFrom: e.CopyFrom}
			}
			if !prefolded {
				pruneStrictDescendants(acc, e.Path)
			}
		case Delete:
			if e.NodeID == "" {
				return nil, fsfserr.Corruption("changes: non-reset entry with null noderev-id for %q", e.Path)
			}
			if prior != nil && prior.Kind == Add {
				delete(acc, e.Path)
			} else {
				if prior != nil && prior.Kind == Delete {
					return nil, fsfserr.Corruption("changes: delete after delete for %q: after delete only add/replace/reset are valid", e.Path)
				}
				acc[e.Path] = &Folded{Path: e.Path, NodeID: e.NodeID, Kind: Delete}
			}
			if !prefolded {
				pruneStrictDescendants(acc, e.Path)
			}
		case Modify:
			if e.NodeID == "" {
				return nil, fsfserr.Corruption("changes: non-reset entry with null noderev-id for %q", e.Path)
			}
			if prior == nil {
				acc[e.Path] = &Folded{Path: e.Path, NodeID: e.NodeID, Kind: Modify, TextMod: e.TextMod, PropMod: e.PropMod}
			} else {
				if prior.Kind == Delete {
					return nil, fsfserr.Corruption("changes: modify after delete for %q: after delete only add/replace/reset are valid", e.Path)
				}
				prior.TextMod = prior.TextMod || e.TextMod
				prior.PropMod = prior.PropMod || e.PropMod
				prior.NodeID = e.NodeID
			}
		}
	}
	return acc, nil
}

func pruneStrictDescendants(acc map[string]*Folded, parent string) {
	prefix := parent
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	for p := range acc {
		if p != parent && strings.HasPrefix(p, prefix) {
			delete(acc, p)
		}
	}
}
