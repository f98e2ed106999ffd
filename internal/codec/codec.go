// Package codec reads and writes execution data in the compact binary
// format: a sequence of typed blocks carrying a file header, session infos
// and per-class probe vectors. All multi-byte values are big-endian.
//
// The probe representation of a stream is not recorded in it; readers are
// told the mode up front.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"unicode/utf8"

	"github.com/farid-feyzi/jacoco/internal/execdata"
)

// Block types.
const (
	BlockHeader        byte = 0x01
	BlockSessionInfo   byte = 0x10
	BlockExecutionData byte = 0x11
)

const (
	Magic   uint16 = 0xC0C0
	Version uint16 = 0x1007
)

// ErrMalformed is wrapped by every error caused by the content of a
// stream. Truncation additionally wraps io.ErrUnexpectedEOF.
var ErrMalformed = errors.New("codec: malformed stream")

// Writer writes blocks to an underlying writer. Each block is emitted with a
// single Write call.
type Writer struct {
	w    io.Writer
	mode execdata.Mode
	buf  []byte
}

// NewWriter returns a writer for data of the given mode. It does not write
// the header; call WriteHeader first when starting a stream.
func NewWriter(w io.Writer, mode execdata.Mode) *Writer {
	return &Writer{w: w, mode: mode}
}

func (w *Writer) flush() error {
	_, err := w.w.Write(w.buf)
	w.buf = w.buf[:0]
	if err != nil {
		return fmt.Errorf("codec: write: %w", err)
	}
	return nil
}

// WriteHeader writes the file header block.
func (w *Writer) WriteHeader() error {
	w.buf = append(w.buf, BlockHeader)
	w.buf = binary.BigEndian.AppendUint16(w.buf, Magic)
	w.buf = binary.BigEndian.AppendUint16(w.buf, Version)
	return w.flush()
}

// WriteSessionInfo writes one session block.
func (w *Writer) WriteSessionInfo(info execdata.SessionInfo) error {
	if len(info.ID) > math.MaxUint16 {
		return fmt.Errorf("codec: session id of %d bytes too long", len(info.ID))
	}
	if !utf8.ValidString(info.ID) {
		return fmt.Errorf("%w: session id %q is not valid UTF-8", ErrMalformed, info.ID)
	}
	w.buf = append(w.buf, BlockSessionInfo)
	w.buf = appendUTF(w.buf, info.ID)
	w.buf = appendI64(w.buf, info.Start)
	w.buf = appendI64(w.buf, info.Dump)
	return w.flush()
}

// WriteExecutionData writes one class record. Records whose mode differs
// from the writer's are rejected.
func (w *Writer) WriteExecutionData(d *execdata.ExecutionData) error {
	if d.Mode() != w.mode {
		return fmt.Errorf("codec: %w: writing %s data to %s stream", execdata.ErrModeMismatch, d.Mode(), w.mode)
	}
	if len(d.Name()) > math.MaxUint16 {
		return fmt.Errorf("codec: class name of %d bytes too long", len(d.Name()))
	}
	if !utf8.ValidString(d.Name()) {
		return fmt.Errorf("%w: class name %q is not valid UTF-8", ErrMalformed, d.Name())
	}
	w.buf = append(w.buf, BlockExecutionData)
	w.buf = appendI64(w.buf, int64(d.ID()))
	w.buf = appendUTF(w.buf, d.Name())
	if w.mode == execdata.ModeHitCount {
		w.buf = appendCounts(w.buf, d.Counts())
	} else {
		w.buf = appendBools(w.buf, d.Hits())
	}
	return w.flush()
}

// Record is one decoded block. Exactly one of Session and Data is set for
// session and execution data blocks; both are nil for headers.
type Record struct {
	Type    byte
	Session *execdata.SessionInfo
	Data    *execdata.ExecutionData
}

// Reader decodes blocks. The first block of a stream must be a header;
// further headers may follow, as produced by appending dumps to a file.
type Reader struct {
	in      *input
	mode    execdata.Mode
	started bool
}

// NewReader returns a reader expecting probes of the given mode.
func NewReader(r io.Reader, mode execdata.Mode) *Reader {
	return &Reader{in: newInput(r), mode: mode}
}

// Next decodes the next block. It returns io.EOF when the stream ends on a
// block boundary.
func (r *Reader) Next() (Record, error) {
	t, err := r.in.readByte()
	if err == io.EOF {
		return Record{}, io.EOF
	}
	if err != nil {
		return Record{}, fmt.Errorf("codec: read block type: %w", err)
	}
	if !r.started && t != BlockHeader {
		return Record{}, fmt.Errorf("%w: stream starts with block 0x%02x, want header", ErrMalformed, t)
	}
	r.started = true

	switch t {
	case BlockHeader:
		return Record{Type: t}, r.readHeader()
	case BlockSessionInfo:
		info, err := r.readSessionInfo()
		if err != nil {
			return Record{}, err
		}
		return Record{Type: t, Session: &info}, nil
	case BlockExecutionData:
		d, err := r.readExecutionData()
		if err != nil {
			return Record{}, err
		}
		return Record{Type: t, Data: d}, nil
	}
	return Record{}, fmt.Errorf("%w: unknown block type 0x%02x at offset %d", ErrMalformed, t, r.in.off-1)
}

func (r *Reader) readHeader() error {
	magic, err := r.in.readU16("magic")
	if err != nil {
		return err
	}
	if magic != Magic {
		return fmt.Errorf("%w: invalid magic 0x%04x", ErrMalformed, magic)
	}
	version, err := r.in.readU16("version")
	if err != nil {
		return err
	}
	if version != Version {
		return fmt.Errorf("%w: incompatible version 0x%04x", ErrMalformed, version)
	}
	return nil
}

func (r *Reader) readSessionInfo() (execdata.SessionInfo, error) {
	var info execdata.SessionInfo
	var err error
	if info.ID, err = r.in.readUTF("session id"); err != nil {
		return info, err
	}
	if info.Start, err = r.in.readI64("session start"); err != nil {
		return info, err
	}
	if info.Dump, err = r.in.readI64("session dump"); err != nil {
		return info, err
	}
	return info, nil
}

func (r *Reader) readExecutionData() (*execdata.ExecutionData, error) {
	id, err := r.in.readI64("class id")
	if err != nil {
		return nil, err
	}
	name, err := r.in.readUTF("class name")
	if err != nil {
		return nil, err
	}
	if r.mode == execdata.ModeHitCount {
		counts, err := r.in.readCounts()
		if err != nil {
			return nil, err
		}
		return execdata.FromCounts(uint64(id), name, counts), nil
	}
	hits, err := r.in.readBools()
	if err != nil {
		return nil, err
	}
	return execdata.FromHits(uint64(id), name, hits), nil
}

// Load reads a whole stream, merging execution data into data and adding
// sessions to sessions. Either store may be nil to drop those records. An
// empty stream is valid.
func Load(rd io.Reader, mode execdata.Mode, data *execdata.Store, sessions *execdata.SessionStore) error {
	r := NewReader(rd, mode)
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch {
		case rec.Session != nil && sessions != nil:
			sessions.Add(*rec.Session)
		case rec.Data != nil && data != nil:
			if err := data.Put(rec.Data); err != nil {
				return fmt.Errorf("codec: load %s: %w", rec.Data.Name(), err)
			}
		}
	}
}

// WriteAll writes a header followed by all sessions and all records.
func WriteAll(w io.Writer, mode execdata.Mode, sessions []execdata.SessionInfo, data []*execdata.ExecutionData) error {
	cw := NewWriter(w, mode)
	if err := cw.WriteHeader(); err != nil {
		return err
	}
	for _, s := range sessions {
		if err := cw.WriteSessionInfo(s); err != nil {
			return err
		}
	}
	for _, d := range data {
		if err := cw.WriteExecutionData(d); err != nil {
			return err
		}
	}
	return nil
}
