// Package instr describes how probes are materialized in instrumented
// code: the synthetic data field and init method that hold the probe array,
// and the instruction sequences that push constants and update one probe.
package instr

import (
	"errors"
	"fmt"
	"math"

	"github.com/farid-feyzi/jacoco/internal/execdata"
	"github.com/farid-feyzi/jacoco/internal/flow"
)

// Reserved member names and shared descriptors.
const (
	DataFieldName  = "$jacocoData"
	InitMethodName = "$jacocoInit"
	ClinitName     = "<clinit>"
	ClinitDesc     = "()V"
)

// Access flags of the generated members. The class data field is not final:
// it is assigned from the init method, outside of <clinit>.
const (
	DataFieldAcc     = flow.AccSynthetic | flow.AccPrivate | flow.AccStatic | flow.AccTransient
	DataFieldIntfAcc = flow.AccSynthetic | flow.AccPublic | flow.AccStatic | flow.AccFinal
	InitMethodAcc    = flow.AccSynthetic | flow.AccPrivate | flow.AccStatic
	ClinitAcc        = flow.AccSynthetic | flow.AccStatic
)

// ErrAlreadyInstrumented is wrapped by *AlreadyInstrumentedError.
var ErrAlreadyInstrumented = errors.New("instr: class is already instrumented")

// AlreadyInstrumentedError reports a class that already carries one of the
// reserved members.
type AlreadyInstrumentedError struct {
	Owner  string
	Member string
}

func (e *AlreadyInstrumentedError) Error() string {
	return fmt.Sprintf("Class %s is already instrumented.", e.Owner)
}

func (e *AlreadyInstrumentedError) Unwrap() error { return ErrAlreadyInstrumented }

// Emitter receives generated instructions.
type Emitter interface {
	Insn(op flow.Opcode)
	IntInsn(op flow.Opcode, operand int)
	VarInsn(op flow.Opcode, v int)
	MethodInsn(op flow.Opcode, owner, name, desc string)
	Ldc(v any)
}

// Support is the probe contract of one probe representation.
type Support interface {
	Mode() execdata.Mode
	DataFieldDesc() string
	InitMethodDesc() string
	// InsertProbe emits the update of probe id in the array held in local
	// variable.
	InsertProbe(e Emitter, id, variable int)
	// ProbeStackSize is the operand stack depth InsertProbe needs above
	// the array reference it loads.
	ProbeStackSize() int
}

// ForMode returns the contract for mode.
func ForMode(mode execdata.Mode) Support {
	if mode == execdata.ModeHitCount {
		return countSupport{}
	}
	return boolSupport{}
}

// AssertNotInstrumented fails if member is one of the reserved names.
// Instrumenters call it for every field and method of the class.
func AssertNotInstrumented(member, owner string) error {
	if member == DataFieldName || member == InitMethodName {
		return &AlreadyInstrumentedError{Owner: owner, Member: member}
	}
	return nil
}

// Push emits the shortest instruction that loads value.
func Push(e Emitter, value int) {
	switch {
	case value >= -1 && value <= 5:
		e.Insn(flow.ICONST_0 + flow.Opcode(value))
	case value >= math.MinInt8 && value <= math.MaxInt8:
		e.IntInsn(flow.BIPUSH, value)
	case value >= math.MinInt16 && value <= math.MaxInt16:
		e.IntInsn(flow.SIPUSH, value)
	default:
		e.Ldc(int32(value))
	}
}

type boolSupport struct{}

func (boolSupport) Mode() execdata.Mode    { return execdata.ModeHitOnce }
func (boolSupport) DataFieldDesc() string  { return "[Z" }
func (boolSupport) InitMethodDesc() string { return "()[Z" }
func (boolSupport) ProbeStackSize() int    { return 2 }

// InsertProbe stores true: aload; push id; iconst_1; bastore.
func (boolSupport) InsertProbe(e Emitter, id, variable int) {
	e.VarInsn(flow.ALOAD, variable)
	Push(e, id)
	e.Insn(flow.ICONST_1)
	e.Insn(flow.BASTORE)
}

type countSupport struct{}

func (countSupport) Mode() execdata.Mode    { return execdata.ModeHitCount }
func (countSupport) DataFieldDesc() string  { return "[I" }
func (countSupport) InitMethodDesc() string { return "()[I" }
func (countSupport) ProbeStackSize() int    { return 3 }

// InsertProbe increments: aload; push id; dup2; iaload; iconst_1; iadd;
// iastore.
func (countSupport) InsertProbe(e Emitter, id, variable int) {
	e.VarInsn(flow.ALOAD, variable)
	Push(e, id)
	e.Insn(flow.DUP2)
	e.Insn(flow.IALOAD)
	e.Insn(flow.ICONST_1)
	e.Insn(flow.IADD)
	e.Insn(flow.IASTORE)
}
