package instr

import (
	"fmt"

	"github.com/farid-feyzi/jacoco/internal/flow"
)

// MethodEmitter appends emitted instructions to a method body.
type MethodEmitter struct {
	M *flow.Method
}

func (e MethodEmitter) Insn(op flow.Opcode) { e.M.Add(flow.Insn(op)) }

func (e MethodEmitter) IntInsn(op flow.Opcode, operand int) { e.M.Add(flow.IntInsn(op, operand)) }

func (e MethodEmitter) VarInsn(op flow.Opcode, v int) { e.M.Add(flow.VarInsn(op, v)) }

func (e MethodEmitter) MethodInsn(op flow.Opcode, owner, name, desc string) {
	e.M.Add(flow.MethodInsn(op, owner, name, desc))
}

func (e MethodEmitter) Ldc(v any) { e.M.Add(flow.Ldc(v)) }

// invertJump returns the conditional jump taken exactly when op is not.
func invertJump(op flow.Opcode) (flow.Opcode, bool) {
	switch {
	case op >= flow.IFEQ && op <= flow.IF_ACMPNE: // complementary pairs
		if (op-flow.IFEQ)%2 == 0 {
			return op + 1, true
		}
		return op - 1, true
	case op == flow.IFNULL:
		return flow.IFNONNULL, true
	case op == flow.IFNONNULL:
		return flow.IFNULL, true
	}
	return 0, false
}

// Instrument lowers a probe-annotated method into plain instructions that
// record its probes at run time. The probe array is fetched from the init
// method of m.Owner on entry and kept in local variable.
//
// Probed conditional jumps are inverted to skip a probe block that ends in
// a goto to the original target. Probed switch targets are redirected to
// stubs appended after the body, one per probe id.
func Instrument(m *flow.Method, s Support, variable int) (*flow.Method, error) {
	out := m.Clone()
	out.Events = make([]flow.Event, 0, len(m.Events)*2)
	e := MethodEmitter{M: out}

	stubs := &flow.Method{}
	se := MethodEmitter{M: stubs}
	stubLabels := make(map[int]flow.Label)
	stub := func(target flow.Label, probe int) flow.Label {
		if probe == flow.NoProbe {
			return target
		}
		if l, ok := stubLabels[probe]; ok {
			return l
		}
		l := out.NewLabel()
		stubLabels[probe] = l
		stubs.Add(flow.LabelEvent(l))
		s.InsertProbe(se, probe, variable)
		stubs.Add(flow.Jump(flow.GOTO, target))
		return l
	}

	e.MethodInsn(flow.INVOKESTATIC, m.Owner, InitMethodName, s.InitMethodDesc())
	e.VarInsn(flow.ASTORE, variable)

	for _, ev := range m.Events {
		switch ev.Kind {
		case flow.KindProbe:
			s.InsertProbe(e, ev.Probe, variable)

		case flow.KindInsnWithProbe:
			s.InsertProbe(e, ev.Probe, variable)
			out.Add(flow.Insn(ev.Op))

		case flow.KindJumpWithProbe:
			if ev.Op == flow.GOTO {
				s.InsertProbe(e, ev.Probe, variable)
				out.Add(flow.Jump(flow.GOTO, ev.Label))
				continue
			}
			inv, ok := invertJump(ev.Op)
			if !ok {
				return nil, fmt.Errorf("instr: %s%s: cannot invert %s", m.Name, m.Desc, ev.Op)
			}
			skip := out.NewLabel()
			out.Add(flow.Jump(inv, skip))
			s.InsertProbe(e, ev.Probe, variable)
			out.Add(flow.Jump(flow.GOTO, ev.Label), flow.LabelEvent(skip))

		case flow.KindTableSwitchWithProbes, flow.KindLookupSwitchWithProbes:
			ev.Default = stub(ev.Default, ev.DefaultProbe)
			targets := make([]flow.Label, len(ev.Targets))
			for i, l := range ev.Targets {
				targets[i] = stub(l, ev.TargetProbes[i])
			}
			ev.Targets = targets
			if ev.Kind == flow.KindTableSwitchWithProbes {
				ev.Kind = flow.KindTableSwitch
			} else {
				ev.Kind = flow.KindLookupSwitch
			}
			ev.DefaultProbe, ev.TargetProbes = 0, nil
			out.Add(ev)

		default:
			out.Add(ev)
		}
	}
	out.Add(stubs.Events...)
	return out, nil
}
