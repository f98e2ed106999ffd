package flow

import "fmt"

// LabelInfo holds the control-flow facts of one label.
type LabelInfo struct {
	// Target: at least one jump, switch or handler edge enters the label.
	Target bool
	// Successor: the label is reachable by falling through from the
	// preceding instruction.
	Successor bool
	// MultiTarget: more than one edge enters the label (counting
	// fall-through).
	MultiTarget bool
	// InvocationLine: the label starts a source line that contains a
	// method invocation.
	InvocationLine bool
}

func (li *LabelInfo) setTarget() {
	if li.Target || li.Successor {
		li.MultiTarget = true
	} else {
		li.Target = true
	}
}

func (li *LabelInfo) setSuccessor() {
	li.Successor = true
	if li.Target {
		li.MultiTarget = true
	}
}

// NeedsProbe reports whether a probe must be placed right before the label
// so that the fall-through edge into it can be told apart from the other
// incoming edges.
func (li LabelInfo) NeedsProbe() bool {
	return li.Successor && (li.MultiTarget || li.InvocationLine)
}

// AnalyzeLabels computes LabelInfo for every label of m. Exception handler
// starts are forced to be targets so that a probe is placed at the start of
// a protected region whenever it is also reached by fall-through.
func AnalyzeLabels(m *Method) ([]LabelInfo, error) {
	info := make([]LabelInfo, m.Labels)
	at := func(l Label) (*LabelInfo, error) {
		if l < 0 || int(l) >= len(info) {
			return nil, fmt.Errorf("flow: %s%s: label L%d out of range", m.Name, m.Desc, l)
		}
		return &info[l], nil
	}

	for i := len(m.TryCatch) - 1; i >= 0; i-- {
		tc := m.TryCatch[i]
		for _, l := range []Label{tc.Start, tc.Handler} {
			li, err := at(l)
			if err != nil {
				return nil, err
			}
			li.setTarget()
		}
	}

	successor := false
	first := true
	lineStart := NoLabel
	var done map[Label]bool

	for _, ev := range m.Events {
		switch ev.Kind {
		case KindLabel:
			li, err := at(ev.Label)
			if err != nil {
				return nil, err
			}
			if first {
				li.setTarget()
			}
			if successor {
				li.setSuccessor()
			}
		case KindLine:
			lineStart = ev.Label
		case KindJump:
			if ev.Op == JSR {
				return nil, fmt.Errorf("%w: jsr in %s%s", ErrUnsupported, m.Name, m.Desc)
			}
			li, err := at(ev.Label)
			if err != nil {
				return nil, err
			}
			li.setTarget()
			successor = ev.Op != GOTO
			first = false
		case KindTableSwitch, KindLookupSwitch:
			if done == nil {
				done = make(map[Label]bool)
			} else {
				clear(done)
			}
			for _, l := range append([]Label{ev.Default}, ev.Targets...) {
				if done[l] {
					continue
				}
				li, err := at(l)
				if err != nil {
					return nil, err
				}
				li.setTarget()
				done[l] = true
			}
			successor = false
			first = false
		case KindInsn:
			if ev.Op == RET {
				return nil, fmt.Errorf("%w: ret in %s%s", ErrUnsupported, m.Name, m.Desc)
			}
			switch ev.Op.Family() {
			case FamilyMethod, FamilyInvokeDynamic:
				if lineStart != NoLabel {
					if li, err := at(lineStart); err == nil {
						li.InvocationLine = true
					}
				}
			}
			successor = !ev.Op.IsExit()
			first = false
		case KindProbe, KindJumpWithProbe, KindInsnWithProbe,
			KindTableSwitchWithProbes, KindLookupSwitchWithProbes:
			return nil, fmt.Errorf("flow: %s%s: label analysis expects a stream without probes", m.Name, m.Desc)
		}
	}
	return info, nil
}
