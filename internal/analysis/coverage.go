package analysis

import (
	"slices"

	"github.com/farid-feyzi/jacoco/internal/counter"
	"github.com/farid-feyzi/jacoco/internal/flow"
)

// LineCounters are the counters of one source line.
type LineCounters struct {
	Instructions counter.Counter `json:"instructions"`
	Branches     counter.Counter `json:"branches"`
}

// Status is the line's status as shown in reports: a line with partly
// covered branches is partly covered even if all instructions ran.
func (lc LineCounters) Status() counter.Status {
	s := lc.Instructions.Status()
	if s == counter.Fully && lc.Branches.Status() == counter.Partly {
		return counter.Partly
	}
	return s
}

// MethodCoverage is the reduced coverage of one method.
type MethodCoverage struct {
	Name      string `json:"name"`
	Desc      string `json:"desc"`
	FirstLine int    `json:"first_line"`
	LastLine  int    `json:"last_line"`

	Lines map[int]LineCounters `json:"lines,omitempty"`

	Instructions counter.Counter `json:"instructions"`
	Branches     counter.Counter `json:"branches"`
	LineCounter  counter.Counter `json:"line_counter"`
	Methods      counter.Counter `json:"methods"`
	Complexity   counter.Counter `json:"complexity"`
}

// LineNumbers returns the lines with counters in ascending order.
func (mc *MethodCoverage) LineNumbers() []int {
	out := make([]int, 0, len(mc.Lines))
	for l := range mc.Lines {
		out = append(out, l)
	}
	slices.Sort(out)
	return out
}

// ContainsCode reports whether any instruction was counted.
func (mc *MethodCoverage) ContainsCode() bool { return mc.Instructions.Total() > 0 }

// markCovered records one executed outgoing edge of insn and propagates
// coverage back along the predecessor chain up to the first instruction
// that was already covered.
func (g *Graph) markCovered(insn int) {
	for i := insn; i >= 0; {
		in := &g.Insns[i]
		in.CoveredBranches++
		if in.CoveredBranches > 1 {
			return
		}
		i = in.Pred
	}
}

// Reduce turns the graph and a probe vector into method coverage. hits is
// indexed by probe id; nil, or an id past its end, means not executed.
// ignored reports event indices excluded by filters and may be nil.
//
// Reduce records covered branches in g, so a graph is reduced once.
func Reduce(g *Graph, hits []bool, ignored func(node int) bool) *MethodCoverage {
	for _, p := range g.Probes {
		if p.Probe < len(hits) && hits[p.Probe] {
			g.markCovered(p.Insn)
		}
	}

	mc := &MethodCoverage{
		FirstLine: g.FirstLine,
		LastLine:  g.LastLine,
		Lines:     make(map[int]LineCounters),
	}
	for _, in := range g.Insns {
		if ignored != nil && ignored(in.Node) {
			continue
		}
		insns := counter.MissedOne
		if in.CoveredBranches > 0 {
			insns = counter.CoveredOne
		}
		branches := counter.Zero
		if in.Branches > 1 {
			branches = counter.New(in.Branches-in.CoveredBranches, in.CoveredBranches)
			c := max(0, in.CoveredBranches-1)
			m := max(0, in.Branches-c-1)
			mc.Complexity = mc.Complexity.Add(counter.New(m, c))
		}
		mc.Instructions = mc.Instructions.Add(insns)
		mc.Branches = mc.Branches.Add(branches)
		if in.Line != flow.UnknownLine {
			lc := mc.Lines[in.Line]
			lc.Instructions = lc.Instructions.Add(insns)
			lc.Branches = lc.Branches.Add(branches)
			mc.Lines[in.Line] = lc
		}
	}

	for _, lc := range mc.Lines {
		if lc.Instructions.Covered > 0 {
			mc.LineCounter = mc.LineCounter.Add(counter.CoveredOne)
		} else {
			mc.LineCounter = mc.LineCounter.Add(counter.MissedOne)
		}
	}

	if mc.ContainsCode() {
		base := counter.MissedOne
		if mc.Instructions.Covered > 0 {
			base = counter.CoveredOne
		}
		mc.Methods = base
		mc.Complexity = mc.Complexity.Add(base)
	}
	return mc
}
