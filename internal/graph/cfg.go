// Package graph exports analysed methods as lattice control-flow graphs and
// call graphs, annotated with coverage, for rendering as DOT.
package graph

import (
	"fmt"
	"slices"

	"github.com/zboralski/lattice"
	"github.com/zboralski/lattice/render"

	"github.com/farid-feyzi/jacoco/internal/analysis"
	"github.com/farid-feyzi/jacoco/internal/flow"
)

// TextFunc renders the event at index node of a method.
type TextFunc func(node int) string

// EventText renders events of m in listing syntax.
func EventText(m *flow.Method) TextFunc {
	return func(node int) string { return m.Events[node].String() }
}

// mark is the coverage prefix of an instruction line.
func mark(in analysis.Instruction) string {
	switch {
	case in.CoveredBranches == 0:
		return "-"
	case in.Branches > 1 && in.CoveredBranches < in.Branches:
		return fmt.Sprintf("~%d/%d", in.CoveredBranches, in.Branches)
	}
	return "+"
}

// FuncCFG partitions a reduced instruction graph into basic blocks. Leaders
// are the first instruction, jump targets, instructions after a jump and
// instructions not reached by fall-through from their predecessor. Probed
// edges count like the plain jumps and fall-throughs they replace. Each
// instruction becomes a call line prefixed with its coverage mark: + covered,
// - missed, ~c/t partly covered branches.
func FuncCFG(name string, g *analysis.Graph, text TextFunc) *lattice.FuncCFG {
	out := &lattice.FuncCFG{Name: name}
	n := len(g.Insns)
	if n == 0 {
		return out
	}

	jumps := make([][]int, n)
	falls := make([]int, n)
	for i := range falls {
		falls[i] = -1
	}
	leader := make([]bool, n)
	leader[0] = true
	for _, e := range g.Edges {
		switch e.Kind {
		case analysis.EdgeJump:
			jumps[e.From] = append(jumps[e.From], e.To)
			leader[e.To] = true
		case analysis.EdgeFallthrough:
			falls[e.From] = e.To
		}
	}
	for _, p := range g.Probes {
		if p.Target < 0 {
			continue
		}
		switch p.Kind {
		case analysis.EdgeJump:
			if !slices.Contains(jumps[p.Insn], p.Target) {
				jumps[p.Insn] = append(jumps[p.Insn], p.Target)
			}
			leader[p.Target] = true
		case analysis.EdgeFallthrough:
			falls[p.Insn] = p.Target
		}
	}
	for i := 1; i < n; i++ {
		if len(jumps[i-1]) > 0 || falls[i-1] != i {
			leader[i] = true
		}
	}

	blockOf := make([]int, n)
	var starts []int
	for i := range n {
		if leader[i] {
			starts = append(starts, i)
		}
		blockOf[i] = len(starts) - 1
	}

	for b, start := range starts {
		end := n
		if b+1 < len(starts) {
			end = starts[b+1]
		}
		blk := &lattice.BasicBlock{ID: b, Start: start, End: end}
		for i := start; i < end; i++ {
			in := g.Insns[i]
			blk.Calls = append(blk.Calls, lattice.CallSite{
				Offset: i,
				Callee: mark(in) + " " + text(in.Node),
			})
		}

		last := end - 1
		cond := len(jumps[last]) == 1 && falls[last] >= 0
		var seen []int
		add := func(to int, c string) {
			id := blockOf[to]
			if slices.Contains(seen, id) {
				return
			}
			seen = append(seen, id)
			blk.Succs = append(blk.Succs, lattice.Successor{BlockID: id, Cond: c})
		}
		for _, to := range jumps[last] {
			if cond {
				add(to, "T")
			} else {
				add(to, "")
			}
		}
		if falls[last] >= 0 {
			if cond {
				add(falls[last], "F")
			} else {
				add(falls[last], "")
			}
		}
		blk.Term = len(blk.Succs) == 0
		out.Blocks = append(out.Blocks, blk)
	}
	return out
}

// ClassCFG places probes in c, reduces every method with hits (nil: nothing
// executed) and returns one CFG per method with code. text, when not nil,
// overrides how the events of a method are rendered.
func ClassCFG(c *flow.Class, hits []bool, text func(m *flow.Method) TextFunc) (*lattice.CFGGraph, error) {
	placed, err := flow.PlaceClassProbes(c)
	if err != nil {
		return nil, fmt.Errorf("graph: %w", err)
	}
	out := &lattice.CFGGraph{}
	for _, m := range placed.Methods {
		if !m.HasCode() {
			continue
		}
		g, err := analysis.Build(m, placed.ProbeCount)
		if err != nil {
			return nil, fmt.Errorf("graph: class %s: %w", c.Name, err)
		}
		analysis.Reduce(g, hits, nil)
		tf := EventText(m)
		if text != nil {
			tf = text(m)
		}
		out.Funcs = append(out.Funcs, FuncCFG(c.Name+"."+m.Name+m.Desc, g, tf))
	}
	return out, nil
}

// DOT renders control-flow graphs.
func DOT(g *lattice.CFGGraph, title string) string {
	return render.DOTCFG(g, title)
}
