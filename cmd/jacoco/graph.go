package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/farid-feyzi/jacoco/internal/execdata"
	"github.com/farid-feyzi/jacoco/internal/flow"
	"github.com/farid-feyzi/jacoco/internal/graph"
	"github.com/farid-feyzi/jacoco/internal/output"
)

// hitsFor returns the probe flags recorded for c, or nil when there are
// none.
func hitsFor(c *flow.Class, data *execdata.Store) ([]bool, error) {
	if data == nil {
		return nil, nil
	}
	d := data.Get(c.ID)
	if d == nil {
		return nil, nil
	}
	placed, err := flow.PlaceClassProbes(c)
	if err != nil {
		return nil, err
	}
	if err := d.AssertCompatibility(c.ID, c.Name, placed.ProbeCount); err != nil {
		return nil, fmt.Errorf("class %s: %w", c.Name, err)
	}
	return d.HitFlags(), nil
}

func runGraph(cmd *cobra.Command, args []string) error {
	classes, err := loadListings(args)
	if err != nil {
		return err
	}
	data, err := coverageData(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, c := range classes {
		hits, err := hitsFor(c, data)
		if err != nil {
			return err
		}
		cg, err := graph.ClassCFG(c, hits, nil)
		if err != nil {
			return err
		}
		path, err := output.WriteDOT(graphOut, "cfg", c.Name, graph.DOT(cg, c.Name))
		if err != nil {
			return err
		}
		fmt.Fprintln(out, path)
	}
	if callGraph {
		path, err := output.WriteDOT(graphOut, "calls", "callgraph", graph.CallDOT(graph.CallGraph(classes), "calls"))
		if err != nil {
			return err
		}
		fmt.Fprintln(out, path)
	}
	return nil
}
