package listing

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/farid-feyzi/jacoco/internal/flow"
)

// assembler holds the state of one method body.
type assembler struct {
	m      *flow.Method
	labels map[string]flow.Label
	lineNo int

	// open switch, collecting "key: label" lines until "default:"
	sw      *flow.Event
	swNext  int
	swLines int
}

// Assemble parses code and appends its events and exception handlers to m.
// Label names are local to the method.
func Assemble(m *flow.Method, code string) error {
	a := &assembler{m: m, labels: make(map[string]flow.Label)}
	sc := bufio.NewScanner(strings.NewReader(code))
	for sc.Scan() {
		a.lineNo++
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 && !strings.Contains(line[:i], `"`) {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := a.line(line); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("listing: read code: %w", err)
	}
	if a.sw != nil {
		return a.errorf("%s without default", a.sw.Op)
	}
	return m.Validate()
}

func (a *assembler) errorf(format string, args ...any) error {
	return fmt.Errorf("%w: line %d: %s", ErrSyntax, a.lineNo, fmt.Sprintf(format, args...))
}

func (a *assembler) label(name string) (flow.Label, error) {
	if len(name) < 2 || name[0] != 'L' {
		return flow.NoLabel, a.errorf("bad label %q", name)
	}
	if l, ok := a.labels[name]; ok {
		return l, nil
	}
	l := a.m.NewLabel()
	a.labels[name] = l
	return l, nil
}

func (a *assembler) line(s string) error {
	if a.sw != nil {
		return a.switchCase(s)
	}
	if name, ok := strings.CutSuffix(s, ":"); ok && !strings.ContainsAny(name, " \t") {
		l, err := a.label(name)
		if err != nil {
			return err
		}
		a.m.Add(flow.LabelEvent(l))
		return nil
	}

	mnemonic, rest, _ := strings.Cut(s, " ")
	rest = strings.TrimSpace(rest)
	args := strings.Fields(rest)
	switch mnemonic {
	case ".line":
		if len(args) != 1 {
			return a.errorf(".line takes one number")
		}
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 0 {
			return a.errorf("bad line number %q", args[0])
		}
		l := a.m.NewLabel()
		a.m.Add(flow.LabelEvent(l), flow.LineEvent(n, l))
		return nil
	case ".try":
		return a.try(args)
	}

	op, ok := flow.Lookup(strings.ToLower(mnemonic))
	if !ok {
		return a.errorf("unknown instruction %q", mnemonic)
	}
	ev, err := a.insn(op, rest, args)
	if err != nil {
		return err
	}
	if ev.Kind == flow.KindTableSwitch || ev.Kind == flow.KindLookupSwitch {
		a.sw = &ev
		a.swNext = ev.Min
		a.swLines = a.lineNo
		return nil
	}
	a.m.Add(ev)
	return nil
}

func (a *assembler) try(args []string) error {
	if len(args) < 3 || len(args) > 4 {
		return a.errorf(".try takes start, end, handler and an optional type")
	}
	var ls [3]flow.Label
	for i := range ls {
		l, err := a.label(args[i])
		if err != nil {
			return err
		}
		ls[i] = l
	}
	tc := flow.TryCatch{Start: ls[0], End: ls[1], Handler: ls[2]}
	if len(args) == 4 {
		tc.Type = args[3]
	}
	a.m.TryCatch = append(a.m.TryCatch, tc)
	return nil
}

func (a *assembler) ints(args []string, n int) ([]int, error) {
	if len(args) != n {
		return nil, a.errorf("want %d operands, got %d", n, len(args))
	}
	out := make([]int, n)
	for i, s := range args {
		v, err := strconv.Atoi(s)
		if err != nil {
			return nil, a.errorf("bad integer %q", s)
		}
		out[i] = v
	}
	return out, nil
}

func (a *assembler) insn(op flow.Opcode, rest string, args []string) (flow.Event, error) {
	switch op.Family() {
	case flow.FamilyPlain:
		if len(args) != 0 {
			return flow.Event{}, a.errorf("%s takes no operands", op)
		}
		return flow.Insn(op), nil

	case flow.FamilyInt, flow.FamilyVar:
		if op == flow.RET || op == flow.JSR {
			return flow.Event{}, a.errorf("%s: subroutines are not supported", op)
		}
		v, err := a.ints(args, 1)
		if err != nil {
			return flow.Event{}, err
		}
		return flow.IntInsn(op, v[0]), nil

	case flow.FamilyIinc:
		v, err := a.ints(args, 2)
		if err != nil {
			return flow.Event{}, err
		}
		return flow.Iinc(v[0], v[1]), nil

	case flow.FamilyType:
		if len(args) != 1 {
			return flow.Event{}, a.errorf("%s takes a type", op)
		}
		return flow.TypeInsn(op, args[0]), nil

	case flow.FamilyField:
		if len(args) != 2 {
			return flow.Event{}, a.errorf("%s takes Owner.name and a descriptor", op)
		}
		i := strings.LastIndexByte(args[0], '.')
		if i <= 0 || i == len(args[0])-1 {
			return flow.Event{}, a.errorf("bad field reference %q", args[0])
		}
		return flow.FieldInsn(op, args[0][:i], args[0][i+1:], args[1]), nil

	case flow.FamilyMethod:
		if len(args) != 1 {
			return flow.Event{}, a.errorf("%s takes Owner.name(desc)", op)
		}
		ref, desc, ok := strings.Cut(args[0], "(")
		i := strings.LastIndexByte(ref, '.')
		if !ok || i <= 0 || i == len(ref)-1 {
			return flow.Event{}, a.errorf("bad method reference %q", args[0])
		}
		return flow.MethodInsn(op, ref[:i], ref[i+1:], "("+desc), nil

	case flow.FamilyInvokeDynamic:
		if len(args) != 1 {
			return flow.Event{}, a.errorf("%s takes name(desc)", op)
		}
		name, desc, ok := strings.Cut(args[0], "(")
		if !ok || name == "" {
			return flow.Event{}, a.errorf("bad call site %q", args[0])
		}
		return flow.InvokeDynamic(name, "("+desc), nil

	case flow.FamilyLdc:
		v, err := a.constant(rest)
		if err != nil {
			return flow.Event{}, err
		}
		return flow.Ldc(v), nil

	case flow.FamilyMultiANewArray:
		if len(args) != 2 {
			return flow.Event{}, a.errorf("%s takes a descriptor and dimensions", op)
		}
		dims, err := a.ints(args[1:], 1)
		if err != nil {
			return flow.Event{}, err
		}
		return flow.MultiANewArray(args[0], dims[0]), nil

	case flow.FamilyJump:
		if op == flow.JSR {
			return flow.Event{}, a.errorf("%s: subroutines are not supported", op)
		}
		if len(args) != 1 {
			return flow.Event{}, a.errorf("%s takes a label", op)
		}
		l, err := a.label(args[0])
		if err != nil {
			return flow.Event{}, err
		}
		return flow.Jump(op, l), nil

	case flow.FamilyTableSwitch:
		v, err := a.ints(args, 2)
		if err != nil {
			return flow.Event{}, err
		}
		if v[1] < v[0] {
			return flow.Event{}, a.errorf("tableswitch max %d below min %d", v[1], v[0])
		}
		return flow.TableSwitch(v[0], v[1], flow.NoLabel), nil

	case flow.FamilyLookupSwitch:
		if len(args) != 0 {
			return flow.Event{}, a.errorf("lookupswitch takes its keys on the following lines")
		}
		return flow.LookupSwitch(flow.NoLabel, nil, nil), nil
	}
	return flow.Event{}, a.errorf("%s cannot be assembled", op)
}

// constant parses an ldc operand: a quoted string, an integer or a float.
func (a *assembler) constant(s string) (any, error) {
	switch {
	case s == "":
		return nil, a.errorf("ldc takes a constant")
	case s[0] == '"':
		v, err := strconv.Unquote(s)
		if err != nil {
			return nil, a.errorf("bad string constant %s", s)
		}
		return v, nil
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, nil
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v, nil
	}
	return nil, a.errorf("bad constant %q", s)
}

// switchCase consumes one "key: label" or "default: label" line of an open
// switch.
func (a *assembler) switchCase(s string) error {
	key, target, ok := strings.Cut(s, ":")
	key, target = strings.TrimSpace(key), strings.TrimSpace(target)
	if !ok || target == "" {
		return a.errorf("want \"key: label\" in %s opened on line %d", a.sw.Op, a.swLines)
	}
	l, err := a.label(target)
	if err != nil {
		return err
	}
	if key == "default" {
		ev := *a.sw
		ev.Default = l
		if ev.Kind == flow.KindTableSwitch && a.swNext != ev.Max+1 {
			return a.errorf("tableswitch %d..%d has %d targets", ev.Min, ev.Max, len(ev.Targets))
		}
		a.m.Add(ev)
		a.sw = nil
		return nil
	}
	k, err := strconv.ParseInt(key, 10, 32)
	if err != nil {
		return a.errorf("bad switch key %q", key)
	}
	switch a.sw.Kind {
	case flow.KindTableSwitch:
		if int(k) != a.swNext {
			return a.errorf("tableswitch key %d out of order, want %d", k, a.swNext)
		}
		a.swNext++
	case flow.KindLookupSwitch:
		if n := len(a.sw.Keys); n > 0 && int32(k) <= a.sw.Keys[n-1] {
			return a.errorf("lookupswitch keys must ascend")
		}
		a.sw.Keys = append(a.sw.Keys, int32(k))
	}
	a.sw.Targets = append(a.sw.Targets, l)
	return nil
}
