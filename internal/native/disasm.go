// Package native lowers AArch64 machine code into flow events, so native
// functions get probes and coverage the same way JVM methods do.
package native

import (
	"encoding/binary"
	"fmt"
	"strings"

	"golang.org/x/arch/arm64/arm64asm"
)

// Inst is a decoded ARM64 instruction with address and raw bytes.
type Inst struct {
	Addr     uint64
	Raw      uint32
	Mnemonic string
	Operands string
	Text     string
}

// SymbolLookup resolves an address to a symbolic name.
type SymbolLookup func(addr uint64) (name string, ok bool)

// Options controls disassembly.
type Options struct {
	BaseAddr uint64 // address of the first byte
	MaxSteps int    // 0 = no limit
}

// Disassemble decodes ARM64 instructions from a code region. Trailing bytes
// that do not make up a whole instruction are ignored; words that do not
// decode become .word pseudo instructions.
func Disassemble(data []byte, opts Options) []Inst {
	n := len(data) / 4
	if opts.MaxSteps > 0 && n > opts.MaxSteps {
		n = opts.MaxSteps
	}

	out := make([]Inst, 0, n)
	for i := range n {
		off := i * 4
		raw := binary.LittleEndian.Uint32(data[off : off+4])
		in := Inst{Addr: opts.BaseAddr + uint64(off), Raw: raw}

		dec, err := arm64asm.Decode(data[off : off+4])
		if err != nil {
			in.Mnemonic = ".word"
			in.Operands = fmt.Sprintf("0x%08x", raw)
			in.Text = ".word " + in.Operands
		} else {
			in.Text = dec.String()
			in.Mnemonic, in.Operands, _ = strings.Cut(in.Text, " ")
		}
		out = append(out, in)
	}
	return out
}

// Format renders instructions one per line as
// <addr>  <bytes>  <text>  [; <symbol>].
func Format(insts []Inst, lookup SymbolLookup) string {
	var b strings.Builder
	for _, in := range insts {
		fmt.Fprintf(&b, "0x%08x  %02x %02x %02x %02x  %s",
			in.Addr, byte(in.Raw), byte(in.Raw>>8), byte(in.Raw>>16), byte(in.Raw>>24), in.Text)
		if lookup != nil {
			if name, ok := lookup(in.Addr); ok {
				fmt.Fprintf(&b, "  ; <%s>", name)
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// MapLookup resolves addresses from a fixed table.
func MapLookup(names map[uint64]string) SymbolLookup {
	return func(addr uint64) (string, bool) {
		name, ok := names[addr]
		return name, ok
	}
}
