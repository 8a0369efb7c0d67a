// Package dirent implements directory storage (spec.md §4.5): the
// key/value hash serialisation of a directory's entries, the incremental
// append-only overlay used while a directory is mutated inside a
// transaction, and the single-slot hot cache shared per filesystem
// handle.
//
// Grounded on ocis.Tree.ListFolder/CreateDir, which list a directory by
// reading child symlinks out of one node directory; this package
// generalises that "one directory, one set of named children" shape into
// the spec's textual hash format with a replayable overlay instead of
// symlinks.
package dirent

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/fsfs/store/internal/fsfserr"
	"github.com/fsfs/store/internal/nodeid"
	"github.com/fsfs/store/internal/noderev"
	"golang.org/x/sync/singleflight"
)

// Entry is one directory entry: a name mapped to a child kind and id.
type Entry struct {
	Name string
	Kind noderev.Kind
	ID   nodeid.ID
}

func (e Entry) value() string {
	return fmt.Sprintf("%s %s", e.Kind.String(), e.ID.String())
}

func parseValue(name, v string) (Entry, error) {
	idx := strings.IndexByte(v, ' ')
	if idx < 0 {
		return Entry{}, fsfserr.Corruption("dirent: malformed entry value %q", v)
	}
	var kind noderev.Kind
	switch v[:idx] {
	case "file":
		kind = noderev.KindFile
	case "dir":
		kind = noderev.KindDir
	default:
		return Entry{}, fsfserr.Corruption("dirent: unknown entry kind %q", v[:idx])
	}
	id, err := nodeid.Parse(v[idx+1:])
	if err != nil {
		return Entry{}, err
	}
	return Entry{Name: name, Kind: kind, ID: id}, nil
}

// EncodeBase serialises entries as the base hash format: K/V pairs
// terminated by END, per spec.md §4.5.
func EncodeBase(entries map[string]Entry) []byte {
	var b strings.Builder
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		writeKV(&b, name, entries[name].value())
	}
	b.WriteString("END\n")
	return []byte(b.String())
}

func writeKV(b *strings.Builder, key, value string) {
	fmt.Fprintf(b, "K %d\n%s\nV %d\n%s\n", len(key), key, len(value), value)
}

// DecodeBase parses the base hash format up to and including its END
// terminator.
func DecodeBase(r io.Reader) (map[string]Entry, error) {
	br := bufio.NewReader(r)
	entries := map[string]Entry{}
	for {
		tag, err := br.ReadString('\n')
		if err != nil {
			return nil, fsfserr.CorruptionWrap(err, "dirent: truncated base hash")
		}
		tag = strings.TrimSuffix(tag, "\n")
		if tag == "END" {
			return entries, nil
		}
		name, value, err := readKV(br, tag)
		if err != nil {
			return nil, err
		}
		e, err := parseValue(name, value)
		if err != nil {
			return nil, err
		}
		entries[name] = e
	}
}

// readKV reads one "K <len>\n<key>\nV <len>\n<value>\n" record whose K
// line has already been consumed into tag.
func readKV(br *bufio.Reader, tag string) (key, value string, err error) {
	key, err = readLengthPrefixed(br, tag, "K")
	if err != nil {
		return "", "", err
	}
	vtag, err := br.ReadString('\n')
	if err != nil {
		return "", "", fsfserr.CorruptionWrap(err, "dirent: truncated record")
	}
	value, err = readLengthPrefixed(br, strings.TrimSuffix(vtag, "\n"), "V")
	if err != nil {
		return "", "", err
	}
	return key, value, nil
}

func readLengthPrefixed(br *bufio.Reader, tag, want string) (string, error) {
	fields := strings.SplitN(tag, " ", 2)
	if len(fields) != 2 || fields[0] != want {
		return "", fsfserr.Corruption("dirent: expected %q record, got %q", want, tag)
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil || n < 0 {
		return "", fsfserr.Corruption("dirent: bad length in %q", tag)
	}
	buf := make([]byte, n+1) // +1 for the trailing newline
	if _, err := io.ReadFull(br, buf); err != nil {
		return "", fsfserr.CorruptionWrap(err, "dirent: truncated %s value", want)
	}
	return string(buf[:n]), nil
}

// EncodeSetEdit appends an incremental "set" record (a K/V pair) to w.
func EncodeSetEdit(w io.Writer, e Entry) error {
	var b strings.Builder
	writeKV(&b, e.Name, e.value())
	_, err := io.WriteString(w, b.String())
	if err != nil {
		return fsfserr.IO(err, "dirent: write set edit")
	}
	return nil
}

// EncodeDeleteEdit appends an incremental "delete" record ("D <len>\n<name>\n") to w.
func EncodeDeleteEdit(w io.Writer, name string) error {
	_, err := fmt.Fprintf(w, "D %d\n%s\n", len(name), name)
	if err != nil {
		return fsfserr.IO(err, "dirent: write delete edit")
	}
	return nil
}

// ReplayEdits applies a stream of incremental K/V-set and D-delete
// records on top of base, returning a new map (base is left unmodified).
func ReplayEdits(base map[string]Entry, r io.Reader) (map[string]Entry, error) {
	out := make(map[string]Entry, len(base))
	for name, e := range base {
		out[name] = e
	}
	br := bufio.NewReader(r)
	for {
		tag, err := br.ReadString('\n')
		if err == io.EOF && tag == "" {
			return out, nil
		}
		if err != nil && err != io.EOF {
			return nil, fsfserr.IO(err, "dirent: read edit record")
		}
		hadNewline := strings.HasSuffix(tag, "\n")
		tag = strings.TrimSuffix(tag, "\n")
		if !hadNewline {
			return nil, fsfserr.Corruption("dirent: truncated edit record %q", tag)
		}
		fields := strings.SplitN(tag, " ", 2)
		if len(fields) != 2 {
			return nil, fsfserr.Corruption("dirent: malformed edit record %q", tag)
		}
		switch fields[0] {
		case "K":
			name, value, err := readKV(br, tag)
			if err != nil {
				return nil, err
			}
			e, err := parseValue(name, value)
			if err != nil {
				return nil, err
			}
			out[name] = e
		case "D":
			name, err := readLengthPrefixed(br, tag, "D")
			if err != nil {
				return nil, err
			}
			delete(out, name)
		default:
			return nil, fsfserr.Corruption("dirent: unknown edit tag %q", fields[0])
		}
	}
}

// Cache is the single-slot hot cache described in spec.md §4.5: a
// repeated read of the same directory id reuses the cached map; any
// mutation to a different directory evicts. Concurrent reads of the same
// id collapse via singleflight instead of decoding the same bytes twice.
//
// A Cache is owned by one filesystem handle; callers must not share it
// across threads without external synchronisation (spec.md §5 shared
// resources).
type Cache struct {
	mu      sync.Mutex
	id      string
	entries map[string]Entry
	group   singleflight.Group
}

// NewCache returns an empty single-slot cache.
func NewCache() *Cache { return &Cache{} }

// Get returns the cached entries for id, loading them via load on a miss.
// Concurrent Get calls for the same id share one load.
func (c *Cache) Get(id string, load func() (map[string]Entry, error)) (map[string]Entry, error) {
	c.mu.Lock()
	if c.id == id && c.entries != nil {
		cached := c.entries
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(id, func() (interface{}, error) {
		return load()
	})
	if err != nil {
		return nil, err
	}
	entries := v.(map[string]Entry)

	c.mu.Lock()
	c.id = id
	c.entries = entries
	c.mu.Unlock()
	return entries, nil
}

// Invalidate evicts the cache if it currently holds id (e.g. because the
// directory was just renamed or its representation changed wholesale).
func (c *Cache) Invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.id == id {
		c.id = ""
		c.entries = nil
	}
}

// ApplyEdit keeps the cache coherent across an incremental write: if the
// cache currently holds id, mutate is applied to the cached map in place;
// a mutation to a different directory evicts the slot entirely, per
// spec.md §4.5.
func (c *Cache) ApplyEdit(id string, mutate func(map[string]Entry)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.id == id && c.entries != nil {
		mutate(c.entries)
		return
	}
	if c.id != id {
		c.id = ""
		c.entries = nil
	}
}
