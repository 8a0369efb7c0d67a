package rep

import (
	"bufio"
	"bytes"
	"io"

	"github.com/fsfs/store/internal/fsfserr"
)

// svndiff is the binary delta-window stream format described in spec.md
// §4.3/§4.4: a "SVN" magic, a version byte, then a sequence of
// length-framed windows so a reader can skip to window k without
// materialising earlier windows.

var svndiffMagic = [3]byte{'S', 'V', 'N'}

const svndiffVersion = 0

type instrOp byte

const (
	opCopySrc instrOp = iota
	opCopyTarget
	opInsert
)

type instr struct {
	op     instrOp
	offset uint64 // meaningful for opCopySrc/opCopyTarget
	length uint64
	data   []byte // raw bytes for opInsert
}

// window is one svndiff window: a source view into the base stream and a
// sequence of instructions that reproduce tviewLen target bytes.
type window struct {
	srcOps    uint64 // number of opCopySrc instructions; 0 cuts the chain
	srcOffset uint64 // absolute offset into the base stream
	srcLen    uint64
	tviewLen  uint64
	instrs    []instr
}

func encodeWindow(w window) []byte {
	var body []byte
	body = putUvarint(body, w.srcOps)
	body = putUvarint(body, w.srcOffset)
	body = putUvarint(body, w.srcLen)
	body = putUvarint(body, w.tviewLen)
	body = putUvarint(body, uint64(len(w.instrs)))
	for _, in := range w.instrs {
		body = append(body, byte(in.op))
		body = putUvarint(body, in.length)
		switch in.op {
		case opCopySrc, opCopyTarget:
			body = putUvarint(body, in.offset)
		case opInsert:
			body = append(body, in.data...)
		}
	}
	var framed []byte
	framed = putUvarint(framed, uint64(len(body)))
	framed = append(framed, body...)
	return framed
}

// writeSvndiffStream serialises the magic header followed by every window
// in windows (the writer in this store always emits exactly one window per
// representation, see deltify in writer.go, but the format supports more).
func writeSvndiffStream(windows []window) []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, svndiffMagic[:]...)
	buf = append(buf, svndiffVersion)
	for _, w := range windows {
		buf = append(buf, encodeWindow(w)...)
	}
	return buf
}

// svndiffReader decodes windows on demand from a seekable stream whose
// current position is exactly after the 4-byte magic/version header.
type svndiffReader struct {
	r      io.ReadSeeker
	br     *bufio.Reader
	cursor int64 // absolute file offset of the next window to decode
	count  int   // number of windows already consumed
}

func newSvndiffReader(r io.ReadSeeker) (*svndiffReader, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fsfserr.CorruptionWrap(err, "rep: truncated svndiff header")
	}
	if hdr[0] != svndiffMagic[0] || hdr[1] != svndiffMagic[1] || hdr[2] != svndiffMagic[2] {
		return nil, fsfserr.Corruption("rep: bad svndiff magic %q", hdr[:3])
	}
	pos, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fsfserr.IO(err, "rep: seek after svndiff header")
	}
	return &svndiffReader{r: r, br: bufio.NewReader(r), cursor: pos}, nil
}

// windowAt returns window k, passing over windows before k cheaply via
// their length prefixes (skipWindows) rather than decoding them, per
// spec.md §4.3 step 2.
func (s *svndiffReader) windowAt(k int) (window, error) {
	if s.count < k {
		if err := s.skipWindows(k); err != nil {
			return window{}, err
		}
	}
	for s.count <= k {
		w, consumed, err := s.decodeOne()
		if err != nil {
			return window{}, err
		}
		s.cursor += consumed
		s.count++
		if s.count-1 == k {
			return w, nil
		}
	}
	return window{}, fsfserr.Corruption("rep: window %d absent (deeper chunk absent)", k)
}

// skipWindows seeks forward without decoding instruction bodies, until
// upto windows have been consumed; windowAt uses it to reach window k.
func (s *svndiffReader) skipWindows(upto int) error {
	if _, err := s.r.Seek(s.cursor, io.SeekStart); err != nil {
		return fsfserr.IO(err, "rep: seek to skip windows")
	}
	s.br.Reset(s.r)
	for s.count < upto {
		n, err := readUvarint(s.br)
		if err != nil {
			return fsfserr.CorruptionWrap(err, "rep: truncated window length")
		}
		skipped := int64(0)
		for skipped < int64(n) {
			buf := make([]byte, n-uint64(skipped))
			m, err := s.br.Read(buf)
			if err != nil {
				return fsfserr.CorruptionWrap(err, "rep: truncated window body")
			}
			skipped += int64(m)
		}
		s.cursor += int64(lenUvarint(n)) + int64(n)
		s.count++
	}
	return nil
}

func lenUvarint(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

func (s *svndiffReader) decodeOne() (window, int64, error) {
	if _, err := s.r.Seek(s.cursor, io.SeekStart); err != nil {
		return window{}, 0, fsfserr.IO(err, "rep: seek to window")
	}
	s.br.Reset(s.r)
	winLen, err := readUvarint(s.br)
	if err != nil {
		if err == io.EOF {
			return window{}, 0, fsfserr.Corruption("rep: deeper chunk absent")
		}
		return window{}, 0, err
	}
	body := make([]byte, winLen)
	if _, err := io.ReadFull(s.br, body); err != nil {
		return window{}, 0, fsfserr.CorruptionWrap(err, "rep: truncated window body")
	}
	w, err := decodeWindowBody(body)
	if err != nil {
		return window{}, 0, err
	}
	return w, int64(lenUvarint(winLen)) + int64(winLen), nil
}

func decodeWindowBody(body []byte) (window, error) {
	br := bufio.NewReader(bytes.NewReader(body))
	var w window
	var err error
	if w.srcOps, err = readUvarint(br); err != nil {
		return window{}, fsfserr.CorruptionWrap(err, "rep: window src_ops")
	}
	if w.srcOffset, err = readUvarint(br); err != nil {
		return window{}, fsfserr.CorruptionWrap(err, "rep: window src_offset")
	}
	if w.srcLen, err = readUvarint(br); err != nil {
		return window{}, fsfserr.CorruptionWrap(err, "rep: window src_len")
	}
	if w.tviewLen, err = readUvarint(br); err != nil {
		return window{}, fsfserr.CorruptionWrap(err, "rep: window tview_len")
	}
	ninstr, err := readUvarint(br)
	if err != nil {
		return window{}, fsfserr.CorruptionWrap(err, "rep: window ninstr")
	}
	w.instrs = make([]instr, 0, ninstr)
	for i := uint64(0); i < ninstr; i++ {
		tag, err := br.ReadByte()
		if err != nil {
			return window{}, fsfserr.CorruptionWrap(err, "rep: instruction tag")
		}
		length, err := readUvarint(br)
		if err != nil {
			return window{}, fsfserr.CorruptionWrap(err, "rep: instruction length")
		}
		in := instr{op: instrOp(tag), length: length}
		switch in.op {
		case opCopySrc, opCopyTarget:
			if in.offset, err = readUvarint(br); err != nil {
				return window{}, fsfserr.CorruptionWrap(err, "rep: instruction offset")
			}
		case opInsert:
			in.data = make([]byte, length)
			if _, err := io.ReadFull(br, in.data); err != nil {
				return window{}, fsfserr.CorruptionWrap(err, "rep: instruction insert data")
			}
		default:
			return window{}, fsfserr.Corruption("rep: unknown instruction tag %d", tag)
		}
		w.instrs = append(w.instrs, in)
	}
	return w, nil
}

// applyWindow reproduces w.tviewLen target bytes given source, the byte
// slice w's offsets/lengths index into (already sliced to [srcOffset,
// srcOffset+srcLen) by the caller — see composeChain in rep.go).
func applyWindow(w window, source []byte) ([]byte, error) {
	target := make([]byte, 0, w.tviewLen)
	for _, in := range w.instrs {
		switch in.op {
		case opCopySrc:
			end := in.offset + in.length
			if end > uint64(len(source)) {
				return nil, fsfserr.Corruption("rep: source reference past end of base")
			}
			target = append(target, source[in.offset:end]...)
		case opCopyTarget:
			// byte-by-byte to support overlapping self-referential runs
			for i := uint64(0); i < in.length; i++ {
				pos := in.offset + i
				if pos >= uint64(len(target)) {
					return nil, fsfserr.Corruption("rep: target-copy reference past end of target")
				}
				target = append(target, target[pos])
			}
		case opInsert:
			target = append(target, in.data...)
		}
	}
	if uint64(len(target)) != w.tviewLen {
		return nil, fsfserr.Corruption("rep: target length mismatch with declared window length")
	}
	return target, nil
}
