// Package noderev implements the node-revision header-block codec
// (spec.md §4.2): parsing and emitting the "name: value" blank-line-
// terminated block format used for every noderev in a revision or
// transaction prototype file.
//
// Grounded on the bag-of-attributes idiom in
// decomposedfs/upload/revision.go's WriteRevisionMetadataToNode
// (Attributes.SetString/SetInt64 accumulate named fields before a single
// write), re-expressed as a line-oriented block since this store keeps no
// real extended attributes (see SPEC_FULL.md §3).
package noderev

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fsfs/store/internal/fsfserr"
	"github.com/fsfs/store/internal/nodeid"
	"github.com/fsfs/store/internal/rep"
)

// Kind is the noderev's filesystem kind.
type Kind int

const (
	KindFile Kind = iota
	KindDir
)

func (k Kind) String() string {
	if k == KindDir {
		return "dir"
	}
	return "file"
}

// RepField is a representation reference that may either be a concrete
// Pointer, or the literal "-1" marker meaning "mutable, look in the
// transaction staging area" (spec.md §3).
type RepField struct {
	Present bool // false: field entirely absent from the header block
	Mutable bool // true: the literal "-1" marker
	Pointer rep.Pointer
}

// PathRev is a (revision, path) pair, used for copyfrom and copyroot.
type PathRev struct {
	Rev  int64
	Path string
}

// NodeRev is one parsed node-revision header block.
type NodeRev struct {
	ID          nodeid.ID
	Kind        Kind
	Pred        *nodeid.ID
	PredCount   int64
	Text        RepField
	Props       RepField
	CreatedPath string
	CopyFrom    *PathRev
	// CopyRoot identifies the nearest ancestor copy operation. A nil
	// CopyRoot means "same as self", per spec.md §4.2.
	CopyRoot *PathRev
}

// EffectiveCopyRoot resolves CopyRoot's "absent means self" default.
func (n *NodeRev) EffectiveCopyRoot(selfRev int64) PathRev {
	if n.CopyRoot != nil {
		return *n.CopyRoot
	}
	return PathRev{Rev: selfRev, Path: n.CreatedPath}
}

// Encode writes the header block (including its terminating blank line)
// to w and returns the number of bytes written.
func Encode(w io.Writer, n *NodeRev) (int64, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "id: %s\n", n.ID.String())
	fmt.Fprintf(&b, "type: %s\n", n.Kind.String())
	if n.Pred != nil {
		fmt.Fprintf(&b, "pred: %s\n", n.Pred.String())
	}
	fmt.Fprintf(&b, "count: %d\n", n.PredCount)
	if n.Text.Present {
		fmt.Fprintf(&b, "text: %s\n", encodeRepField(n.Text))
	}
	if n.Props.Present {
		fmt.Fprintf(&b, "props: %s\n", encodeRepField(n.Props))
	}
	fmt.Fprintf(&b, "cpath: %s\n", n.CreatedPath)
	if n.CopyFrom != nil {
		fmt.Fprintf(&b, "copyfrom: %d %s\n", n.CopyFrom.Rev, n.CopyFrom.Path)
	}
	if n.CopyRoot != nil {
		fmt.Fprintf(&b, "copyroot: %d %s\n", n.CopyRoot.Rev, n.CopyRoot.Path)
	}
	b.WriteString("\n")
	s := b.String()
	written, err := io.WriteString(w, s)
	if err != nil {
		return 0, fsfserr.IO(err, "noderev: write header block")
	}
	return int64(written), nil
}

func encodeRepField(f RepField) string {
	if f.Mutable {
		return "-1"
	}
	return f.Pointer.String()
}

// Parse reads one blank-line-terminated header block from r.
func Parse(r io.Reader) (*NodeRev, error) {
	br := bufio.NewReader(r)
	fields := map[string]string{}
	order := []string{}
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			if err == io.EOF && line == "" {
				return nil, fsfserr.Corruption("noderev: truncated header block")
			}
			if err != io.EOF {
				return nil, fsfserr.IO(err, "noderev: read header line")
			}
		}
		line = strings.TrimSuffix(line, "\n")
		if line == "" {
			break
		}
		idx := strings.Index(line, ": ")
		if idx < 0 {
			return nil, fsfserr.Corruption("noderev: malformed header line %q", line)
		}
		name, value := line[:idx], line[idx+2:]
		if _, dup := fields[name]; dup {
			return nil, fsfserr.Corruption("noderev: duplicate field %q", name)
		}
		fields[name] = value
		order = append(order, name)
	}
	return buildFromFields(fields)
}

func buildFromFields(fields map[string]string) (*NodeRev, error) {
	n := &NodeRev{}

	idStr, ok := fields["id"]
	if !ok {
		return nil, fsfserr.Corruption("noderev: missing mandatory field id")
	}
	id, err := nodeid.Parse(idStr)
	if err != nil {
		return nil, err
	}
	n.ID = id

	typeStr, ok := fields["type"]
	if !ok {
		return nil, fsfserr.Corruption("noderev: missing mandatory field type")
	}
	switch typeStr {
	case "file":
		n.Kind = KindFile
	case "dir":
		n.Kind = KindDir
	default:
		return nil, fsfserr.Corruption("noderev: unknown type %q", typeStr)
	}

	if predStr, ok := fields["pred"]; ok {
		pred, err := nodeid.Parse(predStr)
		if err != nil {
			return nil, err
		}
		n.Pred = &pred
	}

	countStr, ok := fields["count"]
	if !ok {
		return nil, fsfserr.Corruption("noderev: missing mandatory field count")
	}
	count, err := strconv.ParseInt(countStr, 10, 64)
	if err != nil {
		return nil, fsfserr.CorruptionWrap(err, "noderev: bad count %q", countStr)
	}
	n.PredCount = count

	if textStr, ok := fields["text"]; ok {
		rf, err := parseRepField(textStr)
		if err != nil {
			return nil, err
		}
		n.Text = rf
	}
	if propsStr, ok := fields["props"]; ok {
		rf, err := parseRepField(propsStr)
		if err != nil {
			return nil, err
		}
		n.Props = rf
	}

	cpath, ok := fields["cpath"]
	if !ok {
		return nil, fsfserr.Corruption("noderev: missing mandatory field cpath")
	}
	n.CreatedPath = cpath

	if cf, ok := fields["copyfrom"]; ok {
		pr, err := parsePathRev(cf)
		if err != nil {
			return nil, err
		}
		n.CopyFrom = &pr
	}
	if cr, ok := fields["copyroot"]; ok {
		pr, err := parsePathRev(cr)
		if err != nil {
			return nil, err
		}
		n.CopyRoot = &pr
	}

	return n, nil
}

func parseRepField(s string) (RepField, error) {
	if s == "-1" {
		return RepField{Present: true, Mutable: true}, nil
	}
	p, err := rep.ParsePointer(s)
	if err != nil {
		return RepField{}, err
	}
	return RepField{Present: true, Pointer: p}, nil
}

func parsePathRev(s string) (PathRev, error) {
	idx := strings.IndexByte(s, ' ')
	if idx < 0 {
		return PathRev{}, fsfserr.Corruption("noderev: malformed rev/path %q", s)
	}
	rev, err := strconv.ParseInt(s[:idx], 10, 64)
	if err != nil {
		return PathRev{}, fsfserr.CorruptionWrap(err, "noderev: bad revision in %q", s)
	}
	return PathRev{Rev: rev, Path: s[idx+1:]}, nil
}
