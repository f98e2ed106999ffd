package native

import (
	"cmp"
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
)

var (
	ErrNotELF    = errors.New("native: not an ELF file")
	ErrNotARM64  = errors.New("native: not ARM64 (EM_AARCH64)")
	ErrNoSegment = errors.New("native: no PT_LOAD segment covers address")
)

// ELF is an AArch64 executable or shared object.
type ELF struct {
	f   *elf.File
	raw io.ReaderAt
}

// OpenELF opens path and checks it is 64-bit AArch64 code.
func OpenELF(path string) (*ELF, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("native: open: %w", err)
	}
	ef, err := elf.NewFile(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrNotELF, err)
	}
	if ef.Class != elf.ELFCLASS64 || ef.Machine != elf.EM_AARCH64 {
		f.Close()
		return nil, fmt.Errorf("%w: %s %s", ErrNotARM64, ef.Class, ef.Machine)
	}
	return &ELF{f: ef, raw: f}, nil
}

func (e *ELF) Close() error {
	if c, ok := e.raw.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// readVA reads n bytes at a virtual address through the PT_LOAD segments.
func (e *ELF) readVA(va uint64, n int) ([]byte, error) {
	for _, p := range e.f.Progs {
		if p.Type != elf.PT_LOAD || va < p.Vaddr || va >= p.Vaddr+p.Filesz {
			continue
		}
		off := va - p.Vaddr + p.Off
		if avail := p.Vaddr + p.Filesz - va; uint64(n) > avail {
			n = int(avail)
		}
		buf := make([]byte, n)
		got, err := e.raw.ReadAt(buf, int64(off))
		if got < n {
			if err == nil || errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("native: read %d bytes at 0x%x: got %d: %w", n, off, got, err)
		}
		return buf, nil
	}
	return nil, fmt.Errorf("%w: 0x%x", ErrNoSegment, va)
}

// Symbols returns the names of all function symbols by address.
func (e *ELF) Symbols() (SymbolLookup, error) {
	syms, err := readSymbols(e.f)
	if err != nil {
		return nil, err
	}
	names := make(map[uint64]string)
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) == elf.STT_FUNC && s.Value != 0 {
			names[s.Value] = s.Name
		}
	}
	return MapLookup(names), nil
}

type symbolTables interface {
	Symbols() ([]elf.Symbol, error)
	DynamicSymbols() ([]elf.Symbol, error)
}

// readSymbols merges the static and dynamic symbol tables. A missing table
// is empty; a damaged one is an error.
func readSymbols(t symbolTables) ([]elf.Symbol, error) {
	syms, err := t.Symbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return nil, fmt.Errorf("native: symbols: %w", err)
	}
	dyn, err := t.DynamicSymbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return nil, fmt.Errorf("native: dynamic symbols: %w", err)
	}
	return append(syms, dyn...), nil
}

// Functions disassembles every sized function symbol accepted by keep (nil
// keeps all), ordered by address.
func (e *ELF) Functions(keep func(name string) bool) ([]Function, error) {
	syms, err := readSymbols(e.f)
	if err != nil {
		return nil, err
	}
	return functions(syms, keep, e.readVA)
}

func functions(syms []elf.Symbol, keep func(string) bool, read func(va uint64, n int) ([]byte, error)) ([]Function, error) {
	seen := make(map[uint64]bool)
	var fs []elf.Symbol
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Size == 0 || s.Value == 0 || seen[s.Value] {
			continue
		}
		if keep != nil && !keep(s.Name) {
			continue
		}
		seen[s.Value] = true
		fs = append(fs, s)
	}
	slices.SortFunc(fs, func(a, b elf.Symbol) int { return cmp.Compare(a.Value, b.Value) })

	out := make([]Function, 0, len(fs))
	for _, s := range fs {
		code, err := read(s.Value, int(s.Size))
		if err != nil {
			return nil, fmt.Errorf("native: function %s: %w", s.Name, err)
		}
		out = append(out, Function{Name: s.Name, Insts: Disassemble(code, Options{BaseAddr: s.Value})})
	}
	return out, nil
}
