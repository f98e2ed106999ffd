package codec

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"unicode/utf8"
)

// Variable-length integer encoding: 7 data bits per byte, low group first,
// high bit set on every byte but the last.
const (
	dataBitsPerByte = 7
	byteMask        = (1 << dataBitsPerByte) - 1 // 0x7f
	continuation    = 0x80
	maxVarintBytes  = 5 // enough for 32 bits
)

// maxProbeCount bounds probe vector lengths read from a stream, so a
// corrupt length cannot allocate unbounded memory. Vectors grow from at most
// chunk elements as their payload arrives.
const (
	maxProbeCount = 1 << 24
	chunk         = 4096
)

var errOverrun = errors.New("value too large")

func appendVarint(b []byte, v uint32) []byte {
	for v > byteMask {
		b = append(b, byte(v&byteMask)|continuation)
		v >>= dataBitsPerByte
	}
	return append(b, byte(v))
}

func appendI64(b []byte, v int64) []byte {
	return binary.BigEndian.AppendUint64(b, uint64(v))
}

func appendUTF(b []byte, s string) []byte {
	b = binary.BigEndian.AppendUint16(b, uint16(len(s)))
	return append(b, s...)
}

// appendBools packs v eight to a byte, bit i%8 of byte i/8.
func appendBools(b []byte, v []bool) []byte {
	b = appendVarint(b, uint32(len(v)))
	var cur byte
	for i, hit := range v {
		if hit {
			cur |= 1 << (i % 8)
		}
		if i%8 == 7 {
			b = append(b, cur)
			cur = 0
		}
	}
	if len(v)%8 != 0 {
		b = append(b, cur)
	}
	return b
}

func appendCounts(b []byte, v []int32) []byte {
	b = appendVarint(b, uint32(len(v)))
	for _, c := range v {
		b = appendVarint(b, uint32(max(c, 0)))
	}
	return b
}

// input reads the primitive types of the format. Every read failure inside
// a block is reported as a malformed stream.
type input struct {
	r   *bufio.Reader
	off int64
	buf [8]byte
}

func newInput(r io.Reader) *input {
	if br, ok := r.(*bufio.Reader); ok {
		return &input{r: br}
	}
	return &input{r: bufio.NewReader(r)}
}

func (in *input) malformed(what string, err error) error {
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("%w: %s at offset %d: %w", ErrMalformed, what, in.off, err)
}

func (in *input) readByte() (byte, error) {
	b, err := in.r.ReadByte()
	if err != nil {
		return 0, err
	}
	in.off++
	return b, nil
}

func (in *input) readFull(p []byte) error {
	n, err := io.ReadFull(in.r, p)
	in.off += int64(n)
	return err
}

func (in *input) readU16(what string) (uint16, error) {
	if err := in.readFull(in.buf[:2]); err != nil {
		return 0, in.malformed(what, err)
	}
	return binary.BigEndian.Uint16(in.buf[:2]), nil
}

func (in *input) readI64(what string) (int64, error) {
	if err := in.readFull(in.buf[:8]); err != nil {
		return 0, in.malformed(what, err)
	}
	return int64(binary.BigEndian.Uint64(in.buf[:8])), nil
}

func (in *input) readVarint(what string) (uint32, error) {
	var r uint32
	var shift uint
	for i := 0; i < maxVarintBytes; i++ {
		b, err := in.readByte()
		if err != nil {
			return 0, in.malformed(what, err)
		}
		if i == maxVarintBytes-1 && b > 0x0f {
			break
		}
		r |= uint32(b&byteMask) << shift
		if b&continuation == 0 {
			return r, nil
		}
		shift += dataBitsPerByte
	}
	return 0, in.malformed(what, errOverrun)
}

func (in *input) readUTF(what string) (string, error) {
	n, err := in.readU16(what)
	if err != nil {
		return "", err
	}
	p := make([]byte, n)
	if err := in.readFull(p); err != nil {
		return "", in.malformed(what, err)
	}
	if !utf8.Valid(p) {
		return "", in.malformed(what, errors.New("invalid UTF-8"))
	}
	return string(p), nil
}

func (in *input) readLen(what string) (int, error) {
	n, err := in.readVarint(what)
	if err != nil {
		return 0, err
	}
	if n > maxProbeCount {
		return 0, in.malformed(what, fmt.Errorf("%w: %d probes", errOverrun, n))
	}
	return int(n), nil
}

func (in *input) readBools() ([]bool, error) {
	n, err := in.readLen("probe count")
	if err != nil {
		return nil, err
	}
	size := (n + 7) / 8
	packed := make([]byte, 0, min(size, chunk))
	for len(packed) < size {
		k := min(size-len(packed), chunk)
		packed = append(packed, make([]byte, k)...)
		if err := in.readFull(packed[len(packed)-k:]); err != nil {
			return nil, in.malformed("probes", err)
		}
	}
	out := make([]bool, n)
	for i := range out {
		out[i] = packed[i/8]&(1<<(i%8)) != 0
	}
	return out, nil
}

func (in *input) readCounts() ([]int32, error) {
	n, err := in.readLen("probe count")
	if err != nil {
		return nil, err
	}
	out := make([]int32, 0, min(n, chunk))
	for range n {
		c, err := in.readVarint("probe")
		if err != nil {
			return nil, err
		}
		if c > math.MaxInt32 {
			return nil, in.malformed("probe", errOverrun)
		}
		out = append(out, int32(c))
	}
	return out, nil
}
