package main

import (
	"bufio"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/farid-feyzi/jacoco/internal/execdata"
)

func runStoreImport(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	for _, p := range args {
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		st, err := s.Import(cmd.Context(), bufio.NewReader(f))
		f.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d sessions, %d records\n", p, st.Sessions, st.Records)
	}
	return nil
}

func runStoreSubtract(cmd *cobra.Command, args []string) error {
	minus, _, err := readExec(args)
	if err != nil {
		return err
	}
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	for _, d := range minus.Contents() {
		if err := s.Subtract(cmd.Context(), d); err != nil {
			return err
		}
	}
	env.logger.Info("subtracted from store", "records", minus.Len())
	return nil
}

func runStoreExport(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	f, err := os.Create(exportOut)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := s.Export(cmd.Context(), w); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	env.logger.Info("exported", "out", exportOut)
	return f.Close()
}

func runStoreList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	sessions, err := s.Sessions(ctx)
	if err != nil {
		return err
	}
	data, err := s.Contents(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "mode\t%s\t\n", s.Mode())
	for _, si := range sessions {
		fmt.Fprintf(tw, "session\t%s\t%s\t%s\t\n", si.ID,
			si.StartTime().UTC().Format(time.RFC3339), si.DumpTime().UTC().Format(time.RFC3339))
	}
	for _, d := range data {
		fmt.Fprintf(tw, "class\t%016x\t%s\t%s\t\n", d.ID(), d.Name(), probeSummary(d))
	}
	return tw.Flush()
}

// probeSummary renders hit probes over all probes, plus the hit total in
// hit-count mode.
func probeSummary(d *execdata.ExecutionData) string {
	hit := 0
	for _, h := range d.HitFlags() {
		if h {
			hit++
		}
	}
	if d.Mode() != execdata.ModeHitCount {
		return fmt.Sprintf("%d/%d", hit, d.Len())
	}
	var total int64
	for _, c := range d.Counts() {
		total += int64(c)
	}
	return fmt.Sprintf("%d/%d (%d hits)", hit, d.Len(), total)
}
