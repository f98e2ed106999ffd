package analysis

import (
	"strings"

	"github.com/farid-feyzi/jacoco/internal/flow"
)

// Range is an inclusive range of event indices.
type Range struct {
	From, To int
}

// Filter inspects a method and returns the event ranges whose instructions
// must not be counted. Filters never change the graph itself and must not
// modify m.
type Filter func(m *flow.Method) []Range

// DefaultFilters is the filter set used by NewAnalyzer.
var DefaultFilters = []Filter{SyntheticFilter, GeneratedFilter, SynchronizedFilter}

func whole(m *flow.Method) []Range {
	if len(m.Events) == 0 {
		return nil
	}
	return []Range{{From: 0, To: len(m.Events) - 1}}
}

// SyntheticFilter ignores compiler-generated methods. Lambda bodies carry
// the synthetic flag too but hold user code, so they are kept.
func SyntheticFilter(m *flow.Method) []Range {
	if m.Access&flow.AccSynthetic == 0 || m.IsLambda() {
		return nil
	}
	return whole(m)
}

// GeneratedFilter ignores methods annotated with an annotation whose simple
// name is Generated (lombok, javax.annotation, jakarta.annotation and
// friends).
func GeneratedFilter(m *flow.Method) []Range {
	for _, a := range m.Annotations {
		a = strings.TrimSuffix(strings.TrimPrefix(a, "L"), ";")
		if a == "Generated" || strings.HasSuffix(a, "/Generated") || strings.HasSuffix(a, ".Generated") {
			return whole(m)
		}
	}
	return nil
}

// SynchronizedFilter ignores the exception handler javac emits for
// synchronized blocks:
//
//	astore t; aload lock; monitorexit; aload t; athrow
func SynchronizedFilter(m *flow.Method) []Range {
	var out []Range
	for _, tc := range m.TryCatch {
		if tc.Type != "" {
			continue
		}
		if r, ok := matchMonitorExitHandler(m, tc.Handler); ok {
			out = append(out, r)
		}
	}
	return out
}

var monitorExitHandler = []flow.Opcode{flow.ASTORE, flow.ALOAD, flow.MONITOREXIT, flow.ALOAD, flow.ATHROW}

func matchMonitorExitHandler(m *flow.Method, handler flow.Label) (Range, bool) {
	start := -1
	for i, ev := range m.Events {
		if ev.Kind == flow.KindLabel && ev.Label == handler {
			start = i
			break
		}
	}
	if start < 0 {
		return Range{}, false
	}
	next := 0
	for i := start + 1; i < len(m.Events); i++ {
		ev := m.Events[i]
		if !ev.IsInstruction() {
			continue
		}
		if ev.Op != monitorExitHandler[next] {
			return Range{}, false
		}
		next++
		if next == len(monitorExitHandler) {
			return Range{From: start, To: i}, true
		}
	}
	return Range{}, false
}

// ignoreSet folds filter output into a lookup over event indices.
func ignoreSet(m *flow.Method, filters []Filter) func(int) bool {
	var marked []bool
	for _, f := range filters {
		for _, r := range f(m) {
			if marked == nil {
				marked = make([]bool, len(m.Events))
			}
			for i := max(r.From, 0); i <= r.To && i < len(marked); i++ {
				marked[i] = true
			}
		}
	}
	if marked == nil {
		return nil
	}
	return func(node int) bool { return node >= 0 && node < len(marked) && marked[node] }
}
