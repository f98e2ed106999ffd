package analysis

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/farid-feyzi/jacoco/internal/counter"
	"github.com/farid-feyzi/jacoco/internal/execdata"
	"github.com/farid-feyzi/jacoco/internal/flow"
)

var tracer = otel.Tracer("jacoco.analysis")

// ClassCoverage is the coverage of one class.
type ClassCoverage struct {
	ID     uint64 `json:"id"`
	Name   string `json:"name"`
	Source string `json:"source,omitempty"`
	// NoMatch is set when execution data exists for the class name but
	// for another class id, i.e. it was recorded for a different build.
	NoMatch bool              `json:"no_match,omitempty"`
	Methods []*MethodCoverage `json:"methods"`

	Instructions counter.Counter `json:"instructions"`
	Branches     counter.Counter `json:"branches"`
	Lines        counter.Counter `json:"lines"`
	MethodCount  counter.Counter `json:"method_count"`
	Complexity   counter.Counter `json:"complexity"`
}

func (cc *ClassCoverage) add(mc *MethodCoverage) {
	cc.Methods = append(cc.Methods, mc)
	cc.Instructions = cc.Instructions.Add(mc.Instructions)
	cc.Branches = cc.Branches.Add(mc.Branches)
	cc.Lines = cc.Lines.Add(mc.LineCounter)
	cc.MethodCount = cc.MethodCount.Add(mc.Methods)
	cc.Complexity = cc.Complexity.Add(mc.Complexity)
}

// Analyzer maps classes and recorded probes to coverage.
type Analyzer struct {
	Filters []Filter
	// Workers bounds AnalyzeClasses; zero or less means one per class.
	Workers int
	Logger  *slog.Logger
}

// NewAnalyzer returns an analyzer with the default filters.
func NewAnalyzer(logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{Filters: DefaultFilters, Logger: logger}
}

func (a *Analyzer) logger() *slog.Logger {
	if a.Logger == nil {
		return slog.Default()
	}
	return a.Logger
}

// AnalyzeMethod builds the graph of a probe-annotated method and reduces it
// with hits, the probe vector of the method's class (nil: never executed).
func (a *Analyzer) AnalyzeMethod(m *flow.Method, hits []bool, probeCount int) (*MethodCoverage, error) {
	g, err := Build(m, probeCount)
	if err != nil {
		return nil, err
	}
	mc := Reduce(g, hits, ignoreSet(m, a.Filters))
	mc.Name = m.Name
	mc.Desc = m.Desc
	return mc, nil
}

// AnalyzeClass places probes in c, looks up the class's execution data by
// id and reduces every method. Methods without counted instructions are
// left out.
func (a *Analyzer) AnalyzeClass(ctx context.Context, c *flow.Class, data *execdata.Store) (*ClassCoverage, error) {
	_, span := tracer.Start(ctx, "analysis.AnalyzeClass",
		trace.WithAttributes(
			attribute.String("class.name", c.Name),
			attribute.Int("class.methods", len(c.Methods)),
		),
	)
	defer span.End()

	cc, err := a.analyzeClass(c, data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("class.instructions", cc.Instructions.Total()))
	return cc, nil
}

func (a *Analyzer) analyzeClass(c *flow.Class, data *execdata.Store) (*ClassCoverage, error) {
	pc, err := flow.PlaceClassProbes(c)
	if err != nil {
		return nil, fmt.Errorf("analysis: %w", err)
	}

	cc := &ClassCoverage{ID: c.ID, Name: c.Name, Source: c.Source}
	var hits []bool
	if d := lookup(data, c.ID); d != nil {
		if err := d.AssertCompatibility(c.ID, c.Name, pc.ProbeCount); err != nil {
			return nil, fmt.Errorf("analysis: class %s: %w", c.Name, err)
		}
		hits = d.HitFlags()
	} else if data != nil && data.ContainsName(c.Name) {
		cc.NoMatch = true
		a.logger().Warn("execution data does not match class", "class", c.Name, "id", fmt.Sprintf("%016x", c.ID))
	}

	for _, m := range pc.Methods {
		if !m.HasCode() {
			continue
		}
		mc, err := a.AnalyzeMethod(m, hits, pc.ProbeCount)
		if err != nil {
			return nil, fmt.Errorf("analysis: class %s: %w", c.Name, err)
		}
		if mc.ContainsCode() {
			cc.add(mc)
		}
	}
	return cc, nil
}

func lookup(data *execdata.Store, id uint64) *execdata.ExecutionData {
	if data == nil {
		return nil
	}
	return data.Get(id)
}

// AnalyzeClasses analyzes classes in parallel. Results keep the order of
// classes. data is only read.
func (a *Analyzer) AnalyzeClasses(ctx context.Context, classes []*flow.Class, data *execdata.Store) ([]*ClassCoverage, error) {
	out := make([]*ClassCoverage, len(classes))
	g, gctx := errgroup.WithContext(ctx)
	if a.Workers > 0 {
		g.SetLimit(a.Workers)
	}
	for i, c := range classes {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			cc, err := a.AnalyzeClass(gctx, c, data)
			if err != nil {
				return err
			}
			out[i] = cc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	a.logger().Debug("analyzed classes", "count", len(classes))
	return out, nil
}
