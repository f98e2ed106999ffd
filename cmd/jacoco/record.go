package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/farid-feyzi/jacoco/internal/flow"
	"github.com/farid-feyzi/jacoco/internal/listing"
	"github.com/farid-feyzi/jacoco/internal/runtime"
)

// runRecord plays the part of an instrumented process: it registers the
// probes of one class, hits the requested ones and writes a dump on
// shutdown.
func runRecord(cmd *cobra.Command, args []string) error {
	c, err := listing.ParseFile(listingPath)
	if err != nil {
		return err
	}
	placed, err := flow.PlaceClassProbes(c)
	if err != nil {
		return err
	}

	opts := []runtime.Option{runtime.WithLogger(env.logger), runtime.WithMetrics(env.metrics)}
	if sessionID != "" {
		opts = append(opts, runtime.WithSessionID(sessionID))
	}
	data := runtime.NewData(env.mode, opts...)
	probes, err := data.Probes(c.ID, c.Name, placed.ProbeCount)
	if err != nil {
		return err
	}
	for _, id := range probeHits {
		if id < 0 || id >= probes.Len() {
			return fmt.Errorf("probe %d out of range, %s has %d probes", id, c.Name, probes.Len())
		}
		for range hitRepeat {
			probes.Hit(id)
		}
	}

	out, err := runtime.NewFileOutput(recordOut, env.mode, appendOut, env.metrics)
	if err != nil {
		return err
	}
	if err := runtime.NewDumper(data, out, env.logger).Shutdown(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "session %s: %d of %d probes hit in %s\n",
		data.SessionID(), len(probeHits), probes.Len(), recordOut)
	return nil
}
