package native

import (
	"bytes"
	"context"
	"debug/elf"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/farid-feyzi/jacoco/internal/analysis"
	"github.com/farid-feyzi/jacoco/internal/execdata"
	"github.com/farid-feyzi/jacoco/internal/flow"
)

func code(words ...uint32) []byte {
	b := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(b[i*4:], w)
	}
	return b
}

// diamond is:
//
//	0x1000  mov x0, #0
//	0x1004  bl  0x1104
//	0x1008  cbz x0, 0x1018
//	0x100c  mov x1, #1
//	0x1010  bl  0x1210
//	0x1014  b   0x1020
//	0x1018  bl  0x1318
//	0x101c  ret
//	0x1020  ret
func diamond() Function {
	return Function{Name: "diamond", Insts: Disassemble(code(
		0xD2800000, 0x94000040, 0xB4000080,
		0xD2800021, 0x94000080, 0x14000003,
		0x940000C0, 0xD65F03C0, 0xD65F03C0,
	), Options{BaseAddr: 0x1000})}
}

func TestDisassemble(t *testing.T) {
	insts := Disassemble(code(0xD503201F, 0xD503201F), Options{BaseAddr: 0x1000})
	if len(insts) != 2 {
		t.Fatalf("got %d instructions, want 2", len(insts))
	}
	if insts[1].Addr != 0x1004 {
		t.Errorf("addr[1] = 0x%x", insts[1].Addr)
	}
	if !strings.EqualFold(insts[0].Mnemonic, "nop") {
		t.Errorf("mnemonic = %q, want nop", insts[0].Mnemonic)
	}
	if got := Disassemble(code(0xD503201F)[:3], Options{}); len(got) != 0 {
		t.Errorf("short input decoded %d instructions", len(got))
	}
	if got := Disassemble(code(1, 2, 3, 4), Options{MaxSteps: 2}); len(got) != 2 {
		t.Errorf("max steps: got %d", len(got))
	}

	text := Format(insts[:1], MapLookup(map[uint64]string{0x1000: "entry"}))
	if !strings.Contains(text, "0x00001000") || !strings.Contains(text, "<entry>") {
		t.Errorf("format = %q", text)
	}
}

func TestDecodeBranch(t *testing.T) {
	tests := []struct {
		name   string
		raw    uint32
		pc     uint64
		target uint64
		cond   bool
		ret    bool
	}{
		{"ret", 0xD65F03C0, 0x1000, 0, false, true},
		{"b", 0x14000040, 0x1000, 0x1100, false, false},
		{"b backwards", 0x14000000 | (0x03FFFFFF - 3), 0x1000, 0xFF0, false, false},
		{"b.eq", 0x54000000 | 8<<5, 0x2000, 0x2020, true, false},
		{"cbz", 0xB4000080, 0x1008, 0x1018, true, false},
		{"cbnz", 0xB5000080, 0x1008, 0x1018, true, false},
		{"tbz", 0x36000000 | 4<<5, 0x1000, 0x1010, true, false},
		{"tbnz", 0x37000000 | 4<<5, 0x1000, 0x1010, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			br := DecodeBranch(tt.raw, tt.pc)
			if br == nil {
				t.Fatal("not decoded as branch")
			}
			if br.Target != tt.target || br.Cond != tt.cond || br.IsRet != tt.ret {
				t.Errorf("got %+v", *br)
			}
		})
	}
	for _, raw := range []uint32{0x94000040, 0xD63F0200, 0xD503201F} {
		if br := DecodeBranch(raw, 0); br != nil {
			t.Errorf("0x%08x decoded as branch %+v", raw, *br)
		}
	}
}

func kinds(m *flow.Method) []string {
	var out []string
	for _, ev := range m.Events {
		switch ev.Kind {
		case flow.KindLabel:
			out = append(out, "label")
		case flow.KindLine:
			out = append(out, "line")
		default:
			out = append(out, ev.Op.String())
		}
	}
	return out
}

func TestLower_Diamond(t *testing.T) {
	l, err := Lower("lib", diamond(), Lowering{Symbols: MapLookup(map[uint64]string{0x1104: "Foo.bar"})})
	if err != nil {
		t.Fatal(err)
	}
	m := l.Method
	want := []string{
		"nop", "invokestatic", "ifne", "nop", "invokestatic", "goto",
		"label", "invokestatic", "return", "label", "return",
	}
	if got := kinds(m); strings.Join(got, " ") != strings.Join(want, " ") {
		t.Fatalf("events = %v\nwant     %v", got, want)
	}
	if m.Labels != 2 {
		t.Errorf("labels = %d, want 2", m.Labels)
	}
	if m.Events[2].Label != 0 || m.Events[5].Label != 1 {
		t.Errorf("jump targets = L%d, L%d", m.Events[2].Label, m.Events[5].Label)
	}
	if m.Events[1].Name != "Foo.bar" || m.Events[4].Name != "sub_1210" {
		t.Errorf("callees = %q, %q", m.Events[1].Name, m.Events[4].Name)
	}
	if err := m.Validate(); err != nil {
		t.Fatal(err)
	}
	if len(l.Source) != 9 {
		t.Errorf("source entries = %d, want 9", len(l.Source))
	}
	if got := l.Text(10); !strings.HasPrefix(got, "0x1020: ") {
		t.Errorf("text(10) = %q", got)
	}
}

func TestLower_ExitStubAndImplicitReturn(t *testing.T) {
	f := Function{Name: "leaf", Insts: Disassemble(code(0xB5008000, 0xD63F0200, 0xD503201F), Options{BaseAddr: 0x2000})}
	l, err := Lower("lib", f, Lowering{})
	if err != nil {
		t.Fatal(err)
	}
	want := "ifne invokeinterface nop return label return"
	if got := strings.Join(kinds(l.Method), " "); got != want {
		t.Fatalf("events = %s, want %s", got, want)
	}
	if l.Method.Events[1].Name != "X16" {
		t.Errorf("blr register = %q", l.Method.Events[1].Name)
	}
	if _, ok := l.Source[3]; ok {
		t.Error("implicit return has a source instruction")
	}
	if _, err := Lower("lib", Function{Name: "empty"}, Lowering{}); err == nil {
		t.Error("empty function lowered")
	}
}

func TestLowered_PlacedText(t *testing.T) {
	// cbz x0, 0x3008; nop; nop; ret. The fall-through into 0x3008 makes
	// its label a probe site, shifting the placed event indices.
	f := Function{Name: "join", Insts: Disassemble(code(0xB4000040, 0xD503201F, 0xD503201F, 0xD65F03C0), Options{BaseAddr: 0x3000})}
	l, err := Lower("lib", f, Lowering{})
	if err != nil {
		t.Fatal(err)
	}
	placed, err := flow.PlaceProbes(l.Method, &flow.ProbeCounter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(placed.Events) != len(l.Method.Events)+1 {
		t.Fatalf("placed events = %d, want %d", len(placed.Events), len(l.Method.Events)+1)
	}
	text := l.PlacedText(placed)
	if got := text(4); !strings.HasPrefix(got, "0x3008: ") {
		t.Errorf("text(4) = %q", got)
	}
	if got := text(2); strings.HasPrefix(got, "0x") {
		t.Errorf("probe rendered as machine code: %q", got)
	}
}

func TestLower_Lines(t *testing.T) {
	lines := func(addr uint64) (int, bool) {
		if addr < 0x1008 {
			return 10, true
		}
		return 11, true
	}
	l, err := Lower("lib", diamond(), Lowering{Lines: lines})
	if err != nil {
		t.Fatal(err)
	}
	var got []int
	for _, ev := range l.Method.Events {
		if ev.Kind == flow.KindLine {
			got = append(got, ev.Line)
		}
	}
	if len(got) != 2 || got[0] != 10 || got[1] != 11 {
		t.Errorf("lines = %v, want [10 11]", got)
	}
}

func TestClass_Coverage(t *testing.T) {
	c, lowered, err := Class("lib", []Function{diamond()}, Lowering{})
	if err != nil {
		t.Fatal(err)
	}
	if c.ID == 0 || lowered["diamond"] == nil {
		t.Fatalf("class = %+v", c)
	}
	placed, err := flow.PlaceClassProbes(c)
	if err != nil {
		t.Fatal(err)
	}
	hits := make([]bool, placed.ProbeCount)
	for i := range hits {
		hits[i] = true
	}
	store := execdata.NewStore()
	if err := store.Put(execdata.FromHits(c.ID, c.Name, hits)); err != nil {
		t.Fatal(err)
	}

	a := analysis.NewAnalyzer(nil)
	cc, err := a.AnalyzeClass(context.Background(), c, store)
	if err != nil {
		t.Fatal(err)
	}
	if cc.Instructions.Total() != 9 || cc.Instructions.Missed != 0 {
		t.Errorf("instructions = %v, want 9 covered", cc.Instructions)
	}
	if cc.Branches.Total() != 2 {
		t.Errorf("branches = %v, want 2", cc.Branches)
	}

	cc, err = a.AnalyzeClass(context.Background(), c, nil)
	if err != nil {
		t.Fatal(err)
	}
	if cc.Instructions.Covered != 0 {
		t.Errorf("instructions without data = %v", cc.Instructions)
	}
}

func TestFunctionsFromSymbols(t *testing.T) {
	fn := func(name string, addr, size uint64) elf.Symbol {
		return elf.Symbol{Name: name, Info: elf.ST_INFO(elf.STB_GLOBAL, elf.STT_FUNC), Value: addr, Size: size}
	}
	syms := []elf.Symbol{
		fn("second", 0x2000, 8),
		fn("first", 0x1000, 4),
		fn("first_alias", 0x1000, 4),
		fn("skipped", 0x3000, 4),
		fn("nosize", 0x4000, 0),
		{Name: "data", Info: elf.ST_INFO(elf.STB_GLOBAL, elf.STT_OBJECT), Value: 0x5000, Size: 4},
	}
	read := func(va uint64, n int) ([]byte, error) {
		words := make([]uint32, n/4)
		for i := range words {
			words[i] = 0xD503201F
		}
		words[len(words)-1] = 0xD65F03C0
		return code(words...), nil
	}
	fs, err := functions(syms, func(name string) bool { return name != "skipped" }, read)
	if err != nil {
		t.Fatal(err)
	}
	if len(fs) != 2 || fs[0].Name != "first" || fs[1].Name != "second" {
		t.Fatalf("functions = %+v", fs)
	}
	if len(fs[1].Insts) != 2 || fs[1].Insts[1].Addr != 0x2004 {
		t.Errorf("second = %+v", fs[1].Insts)
	}
}

func TestOpenELF_RejectsNonELF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notelf")
	if err := os.WriteFile(path, []byte("not an ELF file at all"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenELF(path); !errors.Is(err, ErrNotELF) {
		t.Errorf("err = %v, want ErrNotELF", err)
	}
}

type fakeTables struct {
	syms, dyn      []elf.Symbol
	symErr, dynErr error
}

func (f fakeTables) Symbols() ([]elf.Symbol, error)        { return f.syms, f.symErr }
func (f fakeTables) DynamicSymbols() ([]elf.Symbol, error) { return f.dyn, f.dynErr }

func TestReadSymbols(t *testing.T) {
	fn := elf.Symbol{Name: "f", Info: elf.ST_INFO(elf.STB_GLOBAL, elf.STT_FUNC), Value: 0x10, Size: 4}
	damaged := errors.New("bad section")

	got, err := readSymbols(fakeTables{symErr: elf.ErrNoSymbols, dyn: []elf.Symbol{fn}})
	if err != nil || len(got) != 1 || got[0].Name != "f" {
		t.Errorf("stripped static table: %v, %v", got, err)
	}
	if _, err := readSymbols(fakeTables{symErr: damaged}); !errors.Is(err, damaged) {
		t.Errorf("damaged static table: err = %v", err)
	}
	if _, err := readSymbols(fakeTables{syms: []elf.Symbol{fn}, dynErr: damaged}); !errors.Is(err, damaged) {
		t.Errorf("damaged dynamic table: err = %v", err)
	}
}

func TestReadVA_ShortFile(t *testing.T) {
	e := &ELF{
		f: &elf.File{Progs: []*elf.Prog{{ProgHeader: elf.ProgHeader{
			Type: elf.PT_LOAD, Vaddr: 0x1000, Off: 0, Filesz: 16,
		}}}},
		raw: bytes.NewReader(code(0xD503201F, 0xD65F03C0)),
	}
	b, err := e.readVA(0x1000, 8)
	if err != nil || len(b) != 8 {
		t.Fatalf("readVA in range: %d bytes, %v", len(b), err)
	}
	if _, err := e.readVA(0x1000, 16); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("readVA past end of file: err = %v, want io.ErrUnexpectedEOF", err)
	}
	if _, err := e.readVA(0x3000, 4); !errors.Is(err, ErrNoSegment) {
		t.Errorf("readVA outside segments: err = %v", err)
	}
}
