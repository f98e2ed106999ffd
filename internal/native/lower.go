package native

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc64"
	"slices"

	"github.com/farid-feyzi/jacoco/internal/flow"
)

// ErrEmpty is returned for a function without instructions.
var ErrEmpty = errors.New("native: function has no instructions")

// LineLookup maps an address to a source line.
type LineLookup func(addr uint64) (line int, ok bool)

// Function is one contiguous native function.
type Function struct {
	Name  string
	Insts []Inst
}

// Lowering controls how machine code becomes events.
type Lowering struct {
	Symbols SymbolLookup // names BL targets; nil uses sub_<addr>
	Lines   LineLookup   // nil leaves every instruction on an unknown line
}

// Lowered is a function as a flow method plus the machine instruction behind
// each instruction event. Synthetic events have no entry in Source.
type Lowered struct {
	Method *flow.Method
	Source map[int]Inst // event index -> instruction
}

// Text renders the instruction at event index node.
func (l *Lowered) Text(node int) string {
	if in, ok := l.Source[node]; ok {
		return fmt.Sprintf("0x%x: %s", in.Addr, in.Text)
	}
	return l.Method.Events[node].String()
}

// PlacedText is Text for placed, the method after probe placement. Probe
// events and alias labels inserted by placement are rendered as they are.
func (l *Lowered) PlacedText(placed *flow.Method) func(node int) string {
	orig := make([]int, len(placed.Events))
	j := 0
	for i, ev := range placed.Events {
		if ev.Kind == flow.KindProbe || (ev.Kind == flow.KindLabel && int(ev.Label) >= l.Method.Labels) {
			orig[i] = -1
			continue
		}
		orig[i] = j
		j++
	}
	return func(node int) string {
		if o := orig[node]; o >= 0 {
			if in, ok := l.Source[o]; ok {
				return fmt.Sprintf("0x%x: %s", in.Addr, in.Text)
			}
		}
		return placed.Events[node].String()
	}
}

// Lower turns a function into a plain event stream:
//
//	B.cond, CBZ, CBNZ, TBZ, TBNZ  conditional jump (ifne)
//	B                             goto, or return when leaving the function
//	RET                           return
//	BL, BLR                       method invocation
//	anything else                 nop
//
// Conditional branches out of the function jump to a shared exit stub. A
// function whose last instruction falls through gets an implicit return.
func Lower(owner string, f Function, lw Lowering) (*Lowered, error) {
	if len(f.Insts) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmpty, f.Name)
	}
	start := f.Insts[0].Addr
	end := f.Insts[len(f.Insts)-1].Addr + 4
	index := make(map[uint64]int, len(f.Insts))
	for i, in := range f.Insts {
		index[in.Addr] = i
	}
	inside := func(addr uint64) (int, bool) {
		if addr < start || addr >= end {
			return 0, false
		}
		i, ok := index[addr]
		return i, ok
	}

	m := &flow.Method{Owner: owner, Name: f.Name, Desc: "()V", Access: flow.AccPublic | flow.AccStatic}
	var targets []int
	for _, in := range f.Insts {
		if br := DecodeBranch(in.Raw, in.Addr); br != nil && !br.IsRet {
			if i, ok := inside(br.Target); ok {
				targets = append(targets, i)
			}
		}
	}
	slices.Sort(targets)
	labels := make(map[int]flow.Label, len(targets))
	for _, i := range slices.Compact(targets) {
		labels[i] = m.NewLabel()
	}

	out := &Lowered{Method: m, Source: make(map[int]Inst, len(f.Insts))}
	exit := flow.NoLabel
	line := flow.UnknownLine
	for i, in := range f.Insts {
		if l, ok := labels[i]; ok {
			m.Add(flow.LabelEvent(l))
		}
		if lw.Lines != nil {
			if n, ok := lw.Lines(in.Addr); ok && n != line {
				l := m.NewLabel()
				m.Add(flow.LabelEvent(l), flow.LineEvent(n, l))
				line = n
			}
		}

		var ev flow.Event
		switch br := DecodeBranch(in.Raw, in.Addr); {
		case br == nil:
			ev = lw.call(owner, in)
		case br.IsRet:
			ev = flow.Insn(flow.RETURN)
		case br.Cond:
			t, ok := inside(br.Target)
			if !ok {
				if exit == flow.NoLabel {
					exit = m.NewLabel()
				}
				ev = flow.Jump(flow.IFNE, exit)
			} else {
				ev = flow.Jump(flow.IFNE, labels[t])
			}
		default:
			if t, ok := inside(br.Target); ok {
				ev = flow.Jump(flow.GOTO, labels[t])
			} else {
				ev = flow.Insn(flow.RETURN)
			}
		}
		out.Source[len(m.Events)] = in
		m.Add(ev)
	}

	if m.Events[len(m.Events)-1].FallsThrough() {
		m.Add(flow.Insn(flow.RETURN))
	}
	if exit != flow.NoLabel {
		m.Add(flow.LabelEvent(exit), flow.Insn(flow.RETURN))
	}
	return out, nil
}

func (lw Lowering) call(owner string, in Inst) flow.Event {
	if target, ok := decodeBL(in.Raw, in.Addr); ok {
		name := fmt.Sprintf("sub_%x", target)
		if lw.Symbols != nil {
			if s, ok := lw.Symbols(target); ok {
				name = s
			}
		}
		return flow.MethodInsn(flow.INVOKESTATIC, owner, name, "()V")
	}
	if rn, ok := decodeBLR(in.Raw); ok {
		return flow.MethodInsn(flow.INVOKEINTERFACE, owner, fmt.Sprintf("X%d", rn), "()V")
	}
	return flow.Insn(flow.NOP)
}

var crcTable = crc64.MakeTable(crc64.ISO)

// Class lowers functions into one class. The class id is the CRC64 of the
// machine code, so rebuilt code gets a new id.
func Class(name string, funcs []Function, lw Lowering) (*flow.Class, map[string]*Lowered, error) {
	c := &flow.Class{Name: name, Access: flow.AccPublic}
	lowered := make(map[string]*Lowered, len(funcs))
	h := crc64.New(crcTable)
	var word [4]byte
	for _, f := range funcs {
		l, err := Lower(name, f, lw)
		if err != nil {
			return nil, nil, err
		}
		for _, in := range f.Insts {
			binary.LittleEndian.PutUint32(word[:], in.Raw)
			h.Write(word[:])
		}
		c.Methods = append(c.Methods, l.Method)
		lowered[f.Name] = l
	}
	c.ID = h.Sum64()
	return c, lowered, nil
}
