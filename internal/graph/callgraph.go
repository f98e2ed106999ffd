package graph

import (
	"github.com/zboralski/lattice"
	"github.com/zboralski/lattice/render"

	"github.com/farid-feyzi/jacoco/internal/flow"
)

// CallGraph links every method of classes to the methods it invokes. Nodes
// are "Owner.name"; invokedynamic call sites are left out.
func CallGraph(classes []*flow.Class) *lattice.Graph {
	g := &lattice.Graph{}
	for _, c := range classes {
		for _, m := range c.Methods {
			caller := c.Name + "." + m.Name
			g.Nodes = append(g.Nodes, caller)
			for _, ev := range m.Events {
				if !ev.IsInstruction() || ev.Op.Family() != flow.FamilyMethod {
					continue
				}
				g.Edges = append(g.Edges, lattice.Edge{Caller: caller, Callee: ev.Owner + "." + ev.Name})
			}
		}
	}
	g.Dedup()
	return g
}

// CallDOT renders a call graph.
func CallDOT(g *lattice.Graph, title string) string {
	return render.DOT(g, title)
}
