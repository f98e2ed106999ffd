// Package output writes coverage results to files and terminals.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/farid-feyzi/jacoco/internal/analysis"
	"github.com/farid-feyzi/jacoco/internal/counter"
	"github.com/farid-feyzi/jacoco/internal/native"
)

// Summary totals the counters of a set of classes.
type Summary struct {
	Classes      counter.Counter `json:"classes"`
	Methods      counter.Counter `json:"methods"`
	Instructions counter.Counter `json:"instructions"`
	Branches     counter.Counter `json:"branches"`
	Lines        counter.Counter `json:"lines"`
	Complexity   counter.Counter `json:"complexity"`
}

// Summarize adds up classes. A class counts as covered when any of its
// instructions is.
func Summarize(classes []*analysis.ClassCoverage) Summary {
	var s Summary
	for _, c := range classes {
		if c.Instructions.Covered > 0 {
			s.Classes = s.Classes.Add(counter.CoveredOne)
		} else {
			s.Classes = s.Classes.Add(counter.MissedOne)
		}
		s.Methods = s.Methods.Add(c.MethodCount)
		s.Instructions = s.Instructions.Add(c.Instructions)
		s.Branches = s.Branches.Add(c.Branches)
		s.Lines = s.Lines.Add(c.Lines)
		s.Complexity = s.Complexity.Add(c.Complexity)
	}
	return s
}

// Report is the JSON document written by WriteReportJSON.
type Report struct {
	Summary Summary                   `json:"summary"`
	Classes []*analysis.ClassCoverage `json:"classes"`
}

// WriteReportJSON writes report.json to dir.
func WriteReportJSON(dir string, classes []*analysis.ClassCoverage) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("output: mkdir: %w", err)
	}
	return writeJSON(filepath.Join(dir, "report.json"), Report{Summary: Summarize(classes), Classes: classes})
}

// WriteText prints one row per class and a total.
func WriteText(w io.Writer, classes []*analysis.ClassCoverage) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CLASS\tINSTRUCTIONS\tBRANCHES\tLINES\tMETHODS\tCOMPLEXITY\t")
	row := func(name string, insns, branches, lines, methods, cx counter.Counter) {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t\n", name, ratio(insns), ratio(branches), ratio(lines), ratio(methods), ratio(cx))
	}
	for _, c := range classes {
		name := c.Name
		if c.NoMatch {
			name += " (no match)"
		}
		row(name, c.Instructions, c.Branches, c.Lines, c.MethodCount, c.Complexity)
	}
	s := Summarize(classes)
	row("total", s.Instructions, s.Branches, s.Lines, s.Methods, s.Complexity)
	return tw.Flush()
}

func ratio(c counter.Counter) string {
	if c.Total() == 0 {
		return "-"
	}
	return fmt.Sprintf("%d/%d %3.0f%%", c.Covered, c.Total(), 100*c.Ratio())
}

// fileName turns a class or method name into a relative path. Slashes keep
// grouping by package; other characters outside [A-Za-z0-9._-] become _.
func fileName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-', r == '/':
			return r
		}
		return '_'
	}, strings.TrimLeft(name, "/."))
}

// WriteDOT writes a graph to <dir>/<kind>/<name>.dot.
func WriteDOT(dir, kind, name, dot string) (string, error) {
	path := filepath.Join(dir, kind, fileName(name)+".dot")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("output: mkdir %s: %w", kind, err)
	}
	if err := os.WriteFile(path, []byte(dot), 0o644); err != nil {
		return "", fmt.Errorf("output: write %s: %w", path, err)
	}
	return path, nil
}

// WriteASM writes disassembled instructions to asm/<name>.txt.
func WriteASM(dir, name string, insts []native.Inst, lookup native.SymbolLookup) error {
	path := filepath.Join(dir, "asm", fileName(name)+".txt")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("output: mkdir asm: %w", err)
	}
	return os.WriteFile(path, []byte(native.Format(insts, lookup)), 0o644)
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("output: create %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("output: encode %s: %w", path, err)
	}
	return nil
}
