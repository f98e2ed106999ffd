package codec

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"runtime"
	"testing"

	"github.com/farid-feyzi/jacoco/internal/execdata"
)

func TestVarint(t *testing.T) {
	tests := []struct {
		v    uint32
		want []byte
	}{
		{0, []byte{0x00}},
		{1, []byte{0x01}},
		{127, []byte{0x7f}},
		{128, []byte{0x80, 0x01}},
		{300, []byte{0xac, 0x02}},
		{0xffffffff, []byte{0xff, 0xff, 0xff, 0xff, 0x0f}},
	}
	for _, tt := range tests {
		got := appendVarint(nil, tt.v)
		if !bytes.Equal(got, tt.want) {
			t.Errorf("appendVarint(%d) = % x, want % x", tt.v, got, tt.want)
			continue
		}
		back, err := newInput(bytes.NewReader(got)).readVarint("v")
		if err != nil || back != tt.v {
			t.Errorf("readVarint(% x) = %d, %v, want %d", got, back, err, tt.v)
		}
	}
}

func TestVarint_Overrun(t *testing.T) {
	in := newInput(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff, 0x7f}))
	if _, err := in.readVarint("v"); !errors.Is(err, ErrMalformed) {
		t.Errorf("err = %v, want ErrMalformed", err)
	}
}

func TestWireBytes_HitOnce(t *testing.T) {
	var buf bytes.Buffer
	hits := []bool{true, false, false, false, false, false, false, false, false, true}
	err := WriteAll(&buf, execdata.ModeHitOnce,
		[]execdata.SessionInfo{{ID: "s", Start: 1, Dump: 2}},
		[]*execdata.ExecutionData{execdata.FromHits(0x0102030405060708, "A", hits)})
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{
		0x01, 0xc0, 0xc0, 0x10, 0x07,
		0x10, 0x00, 0x01, 's',
		0, 0, 0, 0, 0, 0, 0, 1,
		0, 0, 0, 0, 0, 0, 0, 2,
		0x11, 1, 2, 3, 4, 5, 6, 7, 8,
		0x00, 0x01, 'A',
		0x0a, 0x01, 0x02,
	}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("bytes =\n% x\nwant\n% x", buf.Bytes(), want)
	}
}

func TestRoundTrip(t *testing.T) {
	sessions := []execdata.SessionInfo{
		{ID: "host-1", Start: 1700000000000, Dump: 1700000005000},
		{ID: "host-2", Start: -1, Dump: 0},
	}
	tests := []struct {
		mode execdata.Mode
		data []*execdata.ExecutionData
	}{
		{execdata.ModeHitOnce, []*execdata.ExecutionData{
			execdata.FromHits(1, "p/A", []bool{true, false, true}),
			execdata.FromHits(0xffffffffffffffff, "p/Ä", make([]bool, 17)),
			execdata.FromHits(3, "p/Empty", nil),
		}},
		{execdata.ModeHitCount, []*execdata.ExecutionData{
			execdata.FromCounts(1, "p/A", []int32{0, 1, 128, 2147483647}),
			execdata.FromCounts(2, "p/B", nil),
		}},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		if err := WriteAll(&buf, tt.mode, sessions, tt.data); err != nil {
			t.Fatalf("%s: %v", tt.mode, err)
		}
		store := execdata.NewStore()
		var ss execdata.SessionStore
		if err := Load(&buf, tt.mode, store, &ss); err != nil {
			t.Fatalf("%s: Load: %v", tt.mode, err)
		}
		if !reflect.DeepEqual(ss.Infos(), []execdata.SessionInfo{sessions[1], sessions[0]}) {
			t.Errorf("%s: sessions = %+v", tt.mode, ss.Infos())
		}
		for _, d := range tt.data {
			got := store.Get(d.ID())
			if got == nil || got.Name() != d.Name() || got.Len() != d.Len() {
				t.Errorf("%s: record %x = %v", tt.mode, d.ID(), got)
				continue
			}
			if !reflect.DeepEqual(got.HitFlags(), d.HitFlags()) {
				t.Errorf("%s: %s hits = %v, want %v", tt.mode, d.Name(), got.HitFlags(), d.HitFlags())
			}
			if tt.mode == execdata.ModeHitCount && !reflect.DeepEqual(got.Counts(), d.Counts()) {
				t.Errorf("%s: %s counts = %v, want %v", tt.mode, d.Name(), got.Counts(), d.Counts())
			}
		}
	}
}

func TestLoad_AppendedDumpsMerge(t *testing.T) {
	var buf bytes.Buffer
	first := []*execdata.ExecutionData{execdata.FromCounts(7, "p/A", []int32{1, 0})}
	second := []*execdata.ExecutionData{execdata.FromCounts(7, "p/A", []int32{2, 5})}
	if err := WriteAll(&buf, execdata.ModeHitCount, nil, first); err != nil {
		t.Fatal(err)
	}
	if err := WriteAll(&buf, execdata.ModeHitCount, nil, second); err != nil {
		t.Fatal(err)
	}
	store := execdata.NewStore()
	if err := Load(&buf, execdata.ModeHitCount, store, nil); err != nil {
		t.Fatal(err)
	}
	if got := store.Get(7).Counts(); !reflect.DeepEqual(got, []int32{3, 5}) {
		t.Errorf("counts = %v, want [3 5]", got)
	}
}

func TestLoad_Empty(t *testing.T) {
	if err := Load(bytes.NewReader(nil), execdata.ModeHitOnce, execdata.NewStore(), nil); err != nil {
		t.Errorf("empty stream: %v", err)
	}
}

func TestReader_Malformed(t *testing.T) {
	var full bytes.Buffer
	if err := WriteAll(&full, execdata.ModeHitOnce,
		[]execdata.SessionInfo{{ID: "s", Start: 1, Dump: 2}},
		[]*execdata.ExecutionData{execdata.FromHits(1, "p/A", []bool{true, true, false})}); err != nil {
		t.Fatal(err)
	}
	b := full.Bytes()

	tests := []struct {
		name      string
		in        []byte
		truncated bool
	}{
		{"bad magic", []byte{0x01, 0xc0, 0xc1, 0x10, 0x07}, false},
		{"bad version", []byte{0x01, 0xc0, 0xc0, 0x10, 0x06}, false},
		{"no header", b[5:], false},
		{"unknown block", append(append([]byte{}, b[:5]...), 0x42), false},
		{"oversized count", append(append([]byte{}, b[:5]...), 0x11, 0, 0, 0, 0, 0, 0, 0, 1, 0, 1, 'A', 0xff, 0xff, 0xff, 0x7f), false},
	}
	for n := 1; n < len(b); n++ {
		if n == 5 || n == 25 {
			// block boundaries
			continue
		}
		tests = append(tests, struct {
			name      string
			in        []byte
			truncated bool
		}{"truncated", b[:n], true})
	}

	for _, tt := range tests {
		err := Load(bytes.NewReader(tt.in), execdata.ModeHitOnce, execdata.NewStore(), nil)
		if !errors.Is(err, ErrMalformed) {
			t.Errorf("%s (%d bytes): err = %v, want ErrMalformed", tt.name, len(tt.in), err)
			continue
		}
		if tt.truncated && !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Errorf("%s (%d bytes): err = %v, want io.ErrUnexpectedEOF", tt.name, len(tt.in), err)
		}
	}
}

func TestWriter_ModeMismatch(t *testing.T) {
	w := NewWriter(io.Discard, execdata.ModeHitOnce)
	err := w.WriteExecutionData(execdata.FromCounts(1, "A", []int32{1}))
	if !errors.Is(err, execdata.ErrModeMismatch) {
		t.Errorf("err = %v, want ErrModeMismatch", err)
	}
}

func TestWriter_InvalidUTF8(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, execdata.ModeHitOnce)
	if err := w.WriteExecutionData(execdata.FromHits(1, "p/A\xff", []bool{true})); !errors.Is(err, ErrMalformed) {
		t.Errorf("class name: err = %v, want ErrMalformed", err)
	}
	if err := w.WriteSessionInfo(execdata.SessionInfo{ID: "s\xff"}); !errors.Is(err, ErrMalformed) {
		t.Errorf("session id: err = %v, want ErrMalformed", err)
	}
	if buf.Len() != 0 {
		t.Errorf("wrote %d bytes for rejected blocks", buf.Len())
	}
}

func TestReader_LargeCountWithoutPayload(t *testing.T) {
	// header, then a record claiming 1<<24 probes and ending right after.
	in := []byte{0x01, 0xc0, 0xc0, 0x10, 0x07,
		0x11, 0, 0, 0, 0, 0, 0, 0, 1, 0, 1, 'A', 0x80, 0x80, 0x80, 0x08}
	for _, mode := range []execdata.Mode{execdata.ModeHitOnce, execdata.ModeHitCount} {
		var before, after runtime.MemStats
		runtime.ReadMemStats(&before)
		err := Load(bytes.NewReader(in), mode, execdata.NewStore(), nil)
		runtime.ReadMemStats(&after)
		if !errors.Is(err, ErrMalformed) || !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Errorf("%s: err = %v, want truncated ErrMalformed", mode, err)
		}
		if got := after.TotalAlloc - before.TotalAlloc; got > 4<<20 {
			t.Errorf("%s: allocated %d bytes for a %d byte stream", mode, got, len(in))
		}
	}
}
