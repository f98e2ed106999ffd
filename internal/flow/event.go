// Package flow models a method body as an ordered stream of instruction,
// label and probe events, and computes where coverage probes belong in it.
package flow

import "fmt"

// Kind is the closed set of event variants a method body is made of.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindLabel
	KindLine
	KindInsn
	KindJump
	KindTableSwitch
	KindLookupSwitch
	KindProbe
	KindJumpWithProbe
	KindInsnWithProbe
	KindTableSwitchWithProbes
	KindLookupSwitchWithProbes
)

var kindNames = [...]string{
	KindInvalid:                "invalid",
	KindLabel:                  "label",
	KindLine:                   "line",
	KindInsn:                   "insn",
	KindJump:                   "jump",
	KindTableSwitch:            "tableswitch",
	KindLookupSwitch:           "lookupswitch",
	KindProbe:                  "probe",
	KindJumpWithProbe:          "jump+probe",
	KindInsnWithProbe:          "insn+probe",
	KindTableSwitchWithProbes:  "tableswitch+probes",
	KindLookupSwitchWithProbes: "lookupswitch+probes",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Label identifies a position in a method body. Labels are dense indices
// into the owning Method's label table.
type Label int

// NoLabel marks an unused label field.
const NoLabel Label = -1

// NoProbe marks a switch target that is wired as a plain jump.
const NoProbe = -1

// Event is one element of a method body. Only the fields relevant to Kind
// (and, for instructions, to Op.Family) are meaningful.
type Event struct {
	Kind Kind
	Op   Opcode

	// Label is the bound label for KindLabel, the line start for KindLine
	// and the jump target for KindJump and KindJumpWithProbe.
	Label Label
	Line  int

	Operand int
	Incr    int
	Owner   string
	Name    string
	Desc    string
	Const   any

	Min, Max int
	Keys     []int32
	Default  Label
	Targets  []Label

	// Probe is the probe id of KindProbe, KindJumpWithProbe and
	// KindInsnWithProbe.
	Probe int
	// DefaultProbe and TargetProbes give the probe id of each switch target
	// for the *WithProbes kinds, or NoProbe.
	DefaultProbe int
	TargetProbes []int
}

// IsInstruction reports whether the event stands for a bytecode instruction
// (as opposed to labels, line numbers and standalone probes).
func (e Event) IsInstruction() bool {
	switch e.Kind {
	case KindInsn, KindJump, KindTableSwitch, KindLookupSwitch,
		KindJumpWithProbe, KindInsnWithProbe,
		KindTableSwitchWithProbes, KindLookupSwitchWithProbes:
		return true
	}
	return false
}

// IsSwitch reports whether the event is a table or lookup switch, with or
// without probes.
func (e Event) IsSwitch() bool {
	switch e.Kind {
	case KindTableSwitch, KindLookupSwitch,
		KindTableSwitchWithProbes, KindLookupSwitchWithProbes:
		return true
	}
	return false
}

// FallsThrough reports whether control may continue with the next event in
// sequence after this one.
func (e Event) FallsThrough() bool {
	if !e.IsInstruction() {
		return true
	}
	if e.IsSwitch() {
		return false
	}
	return e.Op.FallsThrough()
}

func (e Event) String() string {
	switch e.Kind {
	case KindLabel:
		return fmt.Sprintf("L%d:", e.Label)
	case KindLine:
		return fmt.Sprintf(".line %d L%d", e.Line, e.Label)
	case KindProbe:
		return fmt.Sprintf("probe %d", e.Probe)
	case KindJump:
		return fmt.Sprintf("%s L%d", e.Op, e.Label)
	case KindJumpWithProbe:
		return fmt.Sprintf("%s L%d [probe %d]", e.Op, e.Label, e.Probe)
	case KindInsnWithProbe:
		return fmt.Sprintf("%s [probe %d]", e.insnString(), e.Probe)
	case KindTableSwitch, KindLookupSwitch:
		return fmt.Sprintf("%s default L%d targets %v", e.Op, e.Default, e.Targets)
	case KindTableSwitchWithProbes, KindLookupSwitchWithProbes:
		return fmt.Sprintf("%s default L%d [probe %d] targets %v probes %v",
			e.Op, e.Default, e.DefaultProbe, e.Targets, e.TargetProbes)
	}
	return e.insnString()
}

// insnString renders an instruction with its operands in listing syntax.
func (e Event) insnString() string {
	switch e.Op.Family() {
	case FamilyInt, FamilyVar:
		return fmt.Sprintf("%s %d", e.Op, e.Operand)
	case FamilyType:
		return fmt.Sprintf("%s %s", e.Op, e.Owner)
	case FamilyField:
		return fmt.Sprintf("%s %s.%s %s", e.Op, e.Owner, e.Name, e.Desc)
	case FamilyMethod:
		return fmt.Sprintf("%s %s.%s%s", e.Op, e.Owner, e.Name, e.Desc)
	case FamilyInvokeDynamic:
		return fmt.Sprintf("%s %s%s", e.Op, e.Name, e.Desc)
	case FamilyLdc:
		if str, ok := e.Const.(string); ok {
			return fmt.Sprintf("%s %q", e.Op, str)
		}
		return fmt.Sprintf("%s %v", e.Op, e.Const)
	case FamilyIinc:
		return fmt.Sprintf("%s %d %d", e.Op, e.Operand, e.Incr)
	case FamilyMultiANewArray:
		return fmt.Sprintf("%s %s %d", e.Op, e.Desc, e.Operand)
	}
	return e.Op.String()
}

// Constructors for the common event shapes.

func LabelEvent(l Label) Event { return Event{Kind: KindLabel, Label: l} }

func LineEvent(line int, start Label) Event {
	return Event{Kind: KindLine, Line: line, Label: start}
}

func Insn(op Opcode) Event { return Event{Kind: KindInsn, Op: op} }

func IntInsn(op Opcode, operand int) Event {
	return Event{Kind: KindInsn, Op: op, Operand: operand}
}

func VarInsn(op Opcode, v int) Event { return Event{Kind: KindInsn, Op: op, Operand: v} }

func TypeInsn(op Opcode, typ string) Event { return Event{Kind: KindInsn, Op: op, Owner: typ} }

func FieldInsn(op Opcode, owner, name, desc string) Event {
	return Event{Kind: KindInsn, Op: op, Owner: owner, Name: name, Desc: desc}
}

func MethodInsn(op Opcode, owner, name, desc string) Event {
	return Event{Kind: KindInsn, Op: op, Owner: owner, Name: name, Desc: desc}
}

func InvokeDynamic(name, desc string) Event {
	return Event{Kind: KindInsn, Op: 186, Name: name, Desc: desc}
}

func Ldc(v any) Event { return Event{Kind: KindInsn, Op: LDC, Const: v} }

func Iinc(v, incr int) Event { return Event{Kind: KindInsn, Op: IINC, Operand: v, Incr: incr} }

func MultiANewArray(desc string, dims int) Event {
	return Event{Kind: KindInsn, Op: 197, Desc: desc, Operand: dims}
}

func Jump(op Opcode, target Label) Event { return Event{Kind: KindJump, Op: op, Label: target} }

func TableSwitch(min, max int, dflt Label, targets ...Label) Event {
	return Event{Kind: KindTableSwitch, Op: TABLESWITCH, Min: min, Max: max, Default: dflt, Targets: targets}
}

func LookupSwitch(dflt Label, keys []int32, targets []Label) Event {
	return Event{Kind: KindLookupSwitch, Op: LOOKUPSWITCH, Keys: keys, Default: dflt, Targets: targets}
}

func ProbeEvent(id int) Event { return Event{Kind: KindProbe, Probe: id} }

func JumpWithProbe(op Opcode, target Label, id int) Event {
	return Event{Kind: KindJumpWithProbe, Op: op, Label: target, Probe: id}
}

func InsnWithProbe(op Opcode, id int) Event {
	return Event{Kind: KindInsnWithProbe, Op: op, Probe: id}
}
