package main

import (
	"github.com/spf13/cobra"

	"github.com/farid-feyzi/jacoco/internal/analysis"
	"github.com/farid-feyzi/jacoco/internal/output"
)

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	classes, err := loadListings(args)
	if err != nil {
		return err
	}
	data, err := coverageData(ctx)
	if err != nil {
		return err
	}

	a := analysis.NewAnalyzer(env.logger)
	a.Workers = env.cfg.Analysis.Workers
	if workers > 0 {
		a.Workers = workers
	}
	results, err := a.AnalyzeClasses(ctx, classes, data)
	if err != nil {
		return err
	}

	if err := output.WriteText(cmd.OutOrStdout(), results); err != nil {
		return err
	}
	if jsonDir != "" {
		if err := output.WriteReportJSON(jsonDir, results); err != nil {
			return err
		}
		env.logger.Info("report written", "dir", jsonDir)
	}
	return nil
}
