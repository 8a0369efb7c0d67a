package rep

import (
	"bufio"
	"io"

	"github.com/fsfs/store/internal/fsfserr"
)

// putUvarint appends the LEB128 encoding of v to buf and returns the
// extended slice, mirroring encoding/binary's PutUvarint but growing the
// slice instead of requiring a fixed buffer.
func putUvarint(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

// readUvarint reads a LEB128-encoded varint from r.
func readUvarint(r *bufio.Reader) (uint64, error) {
	var x uint64
	var s uint
	for i := 0; ; i++ {
		b, err := r.ReadByte()
		if err != nil {
			if err == io.EOF && i == 0 {
				return 0, io.EOF
			}
			return 0, fsfserr.CorruptionWrap(err, "rep: truncated varint")
		}
		if b < 0x80 {
			if i > 9 || (i == 9 && b > 1) {
				return 0, fsfserr.Corruption("rep: varint overflow")
			}
			return x | uint64(b)<<s, nil
		}
		x |= uint64(b&0x7f) << s
		s += 7
	}
}
