package main

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/cobra"

	"github.com/farid-feyzi/jacoco/internal/analysis"
	"github.com/farid-feyzi/jacoco/internal/flow"
	"github.com/farid-feyzi/jacoco/internal/graph"
	"github.com/farid-feyzi/jacoco/internal/native"
	"github.com/farid-feyzi/jacoco/internal/output"
)

func runNative(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	var keep func(string) bool
	if funcFilter != "" {
		re, err := regexp.Compile(funcFilter)
		if err != nil {
			return fmt.Errorf("--func: %w", err)
		}
		keep = re.MatchString
	}

	e, err := native.OpenELF(libPath)
	if err != nil {
		return err
	}
	defer e.Close()
	funcs, err := e.Functions(keep)
	if err != nil {
		return err
	}
	if len(funcs) == 0 {
		return fmt.Errorf("%s: no functions selected", libPath)
	}
	syms, err := e.Symbols()
	if err != nil {
		return err
	}

	name := className
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(libPath), filepath.Ext(libPath))
	}
	c, lowered, err := native.Class(name, funcs, native.Lowering{Symbols: syms})
	if err != nil {
		return err
	}
	env.logger.Info("lowered", "lib", libPath, "class", name, "functions", len(funcs), "id", fmt.Sprintf("%016x", c.ID))

	data, err := coverageData(ctx)
	if err != nil {
		return err
	}
	cc, err := analysis.NewAnalyzer(env.logger).AnalyzeClass(ctx, c, data)
	if err != nil {
		return err
	}
	if err := output.WriteText(cmd.OutOrStdout(), []*analysis.ClassCoverage{cc}); err != nil {
		return err
	}

	if nativeOut == "" {
		return nil
	}
	for _, f := range funcs {
		if err := output.WriteASM(nativeOut, name+"/"+f.Name, f.Insts, syms); err != nil {
			return err
		}
	}
	hits, err := hitsFor(c, data)
	if err != nil {
		return err
	}
	cg, err := graph.ClassCFG(c, hits, func(m *flow.Method) graph.TextFunc {
		if l := lowered[m.Name]; l != nil && l.Method.Owner == m.Owner {
			return l.PlacedText(m)
		}
		return graph.EventText(m)
	})
	if err != nil {
		return err
	}
	path, err := output.WriteDOT(nativeOut, "cfg", name, graph.DOT(cg, name))
	if err != nil {
		return err
	}
	env.logger.Info("wrote native graphs", "asm", len(funcs), "cfg", path)
	return nil
}
