package flow

import (
	"errors"
	"fmt"
	"strings"
)

// Access flags shared by classes, methods and fields.
const (
	AccPublic       = 0x0001
	AccPrivate      = 0x0002
	AccProtected    = 0x0004
	AccStatic       = 0x0008
	AccFinal        = 0x0010
	AccSynchronized = 0x0020
	AccBridge       = 0x0040
	AccTransient    = 0x0080
	AccNative       = 0x0100
	AccInterface    = 0x0200
	AccAbstract     = 0x0400
	AccSynthetic    = 0x1000
)

// UnknownLine is the line of instructions without line number information.
const UnknownLine = -1

// ErrUnsupported is returned for constructs the analysis cannot model
// (jsr/ret subroutines).
var ErrUnsupported = errors.New("flow: unsupported construct")

// TryCatch is an exception table entry. Type is empty for finally and
// synchronized handlers.
type TryCatch struct {
	Start, End, Handler Label
	Type                string
}

// Method is a method body plus the structural facts filters look at.
type Method struct {
	Owner       string
	Super       string
	Name        string
	Desc        string
	Signature   string
	Access      int
	Annotations []string

	TryCatch []TryCatch
	Events   []Event

	// Labels is the size of the label table; valid labels are
	// 0..Labels-1.
	Labels int
}

// NewLabel allocates a fresh label.
func (m *Method) NewLabel() Label {
	l := Label(m.Labels)
	m.Labels++
	return l
}

// Add appends events and returns m for chaining in tests and lowerings.
func (m *Method) Add(evs ...Event) *Method {
	m.Events = append(m.Events, evs...)
	return m
}

// ID is "name+desc", the key a method is reported under.
func (m *Method) ID() string { return m.Name + m.Desc }

// HasCode reports whether the method has a body at all (abstract and native
// methods do not).
func (m *Method) HasCode() bool {
	for _, ev := range m.Events {
		if ev.IsInstruction() {
			return true
		}
	}
	return false
}

// IsLambda reports whether the method is a compiler-generated lambda body.
func (m *Method) IsLambda() bool { return strings.HasPrefix(m.Name, "lambda$") }

// Clone returns a deep copy of the method's mutable slices.
func (m *Method) Clone() *Method {
	c := *m
	c.Annotations = append([]string(nil), m.Annotations...)
	c.TryCatch = append([]TryCatch(nil), m.TryCatch...)
	c.Events = make([]Event, len(m.Events))
	for i, ev := range m.Events {
		ev.Keys = append([]int32(nil), ev.Keys...)
		ev.Targets = append([]Label(nil), ev.Targets...)
		ev.TargetProbes = append([]int(nil), ev.TargetProbes...)
		c.Events[i] = ev
	}
	return &c
}

// Validate checks that every label referenced by the method is inside the
// label table and bound exactly once.
func (m *Method) Validate() error {
	bound := make([]bool, m.Labels)
	var targets []Label
	check := func(l Label, what string) error {
		if l < 0 || int(l) >= m.Labels {
			return fmt.Errorf("flow: %s%s: %s label L%d out of range", m.Name, m.Desc, what, l)
		}
		return nil
	}
	for _, ev := range m.Events {
		switch ev.Kind {
		case KindLabel:
			if err := check(ev.Label, "bound"); err != nil {
				return err
			}
			if bound[ev.Label] {
				return fmt.Errorf("flow: %s%s: label L%d bound twice", m.Name, m.Desc, ev.Label)
			}
			bound[ev.Label] = true
		case KindJump, KindJumpWithProbe:
			if err := check(ev.Label, "jump"); err != nil {
				return err
			}
			targets = append(targets, ev.Label)
		case KindTableSwitch, KindLookupSwitch, KindTableSwitchWithProbes, KindLookupSwitchWithProbes:
			if err := check(ev.Default, "default"); err != nil {
				return err
			}
			for _, t := range ev.Targets {
				if err := check(t, "switch"); err != nil {
					return err
				}
			}
			targets = append(targets, ev.Default)
			targets = append(targets, ev.Targets...)
		}
	}
	for _, l := range targets {
		if !bound[l] {
			return fmt.Errorf("flow: %s%s: label L%d referenced but never bound", m.Name, m.Desc, l)
		}
	}
	for _, tc := range m.TryCatch {
		for _, l := range []Label{tc.Start, tc.End, tc.Handler} {
			if err := check(l, "try/catch"); err != nil {
				return err
			}
			if !bound[l] {
				return fmt.Errorf("flow: %s%s: try/catch label L%d never bound", m.Name, m.Desc, l)
			}
		}
	}
	return nil
}

// Class is the unit probes are numbered in: probe ids are dense across all
// methods of a class.
type Class struct {
	ID         uint64
	Name       string
	Super      string
	Source     string
	Access     int
	Methods    []*Method
	ProbeCount int
}

// IsInterface reports whether the class is an interface.
func (c *Class) IsInterface() bool { return c.Access&AccInterface != 0 }
