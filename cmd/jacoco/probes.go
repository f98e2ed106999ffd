package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/farid-feyzi/jacoco/internal/flow"
	"github.com/farid-feyzi/jacoco/internal/listing"
)

func runProbes(cmd *cobra.Command, args []string) error {
	c, err := listing.ParseFile(args[0])
	if err != nil {
		return err
	}
	placed, err := flow.PlaceClassProbes(c)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "class %s  id %016x  probes %d\n", placed.Name, placed.ID, placed.ProbeCount)
	for _, m := range placed.Methods {
		fmt.Fprintf(out, "\n%s%s\n", m.Name, m.Desc)
		if !m.HasCode() {
			fmt.Fprintln(out, "  (no code)")
			continue
		}
		for _, tc := range m.TryCatch {
			fmt.Fprintf(out, "  .try L%d L%d L%d %s\n", tc.Start, tc.End, tc.Handler, tc.Type)
		}
		for _, ev := range m.Events {
			indent := "    "
			if ev.Kind == flow.KindLabel || ev.Kind == flow.KindProbe {
				indent = "  "
			}
			fmt.Fprintf(out, "%s%s\n", indent, ev)
		}
	}
	return nil
}
