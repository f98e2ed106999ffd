// Package analysis reconstructs the control-flow graph of a method from its
// probe-annotated event stream and reduces it, together with recorded probe
// hits, into per-line instruction and branch counters.
package analysis

import (
	"errors"
	"fmt"

	"github.com/farid-feyzi/jacoco/internal/flow"
)

// ErrMalformedMethod is returned when an event stream cannot describe a
// valid method body.
var ErrMalformedMethod = errors.New("analysis: malformed method")

// Instruction is one node of the graph. Nodes live in the Graph's arena and
// refer to each other by index.
type Instruction struct {
	Node            int // index of the originating event
	Line            int
	Branches        int
	CoveredBranches int
	Pred            int // predecessor index, -1 for none
}

// EdgeKind tells how control reaches an instruction.
type EdgeKind uint8

const (
	EdgeFallthrough EdgeKind = iota
	EdgeJump
)

// Edge is a structural edge between two instructions.
type Edge struct {
	From, To int
	Kind     EdgeKind
}

// ProbeEdge ties a probe id to the instruction whose outgoing edge it
// records. Target is the instruction the edge enters, -1 when it leaves the
// method. Probe edges do not count in Edges or in predecessor links.
type ProbeEdge struct {
	Insn   int
	Probe  int
	Target int
	Kind   EdgeKind
}

// Graph is the finished instruction graph of one method.
type Graph struct {
	Insns     []Instruction
	Edges     []Edge
	Probes    []ProbeEdge
	FirstLine int
	LastLine  int
}

// jump is a pending edge, resolved once every label is bound.
type jump struct {
	source int
	target flow.Label
}

// Builder constructs a Graph from a stream of events. It is single use and
// not safe for concurrent use.
type Builder struct {
	insns   []Instruction
	edges   []Edge
	probes  []ProbeEdge
	jumps   []jump
	targets []flow.Label // probe -> jump target, NoLabel for none
	falls   []int        // probes waiting for the next instruction
	labels  []int // label -> instruction index, -1 while unbound
	pending []flow.Label

	last         int // current instruction, -1 if the chain is broken
	fallsThrough bool
	line         int
	firstLine    int
	lastLine     int
	pos          int
	probeCount   int // -1: unchecked
	done         map[flow.Label]bool
}

// NewBuilder returns a builder for a method with the given label table
// size. probeCount bounds probe ids; pass -1 to skip the check.
func NewBuilder(labels, probeCount int) *Builder {
	b := &Builder{
		labels:     make([]int, labels),
		last:       -1,
		line:       flow.UnknownLine,
		firstLine:  flow.UnknownLine,
		lastLine:   flow.UnknownLine,
		probeCount: probeCount,
		done:       make(map[flow.Label]bool),
	}
	for i := range b.labels {
		b.labels[i] = -1
	}
	return b
}

// Visit feeds the next event. Events are numbered in visiting order; the
// number becomes the Node of the instruction an event creates.
func (b *Builder) Visit(ev flow.Event) error {
	defer func() { b.pos++ }()

	switch ev.Kind {
	case flow.KindLabel:
		if err := b.checkLabel(ev.Label); err != nil {
			return err
		}
		b.pending = append(b.pending, ev.Label)
		if !b.fallsThrough {
			b.last = -1
		}
		return nil

	case flow.KindLine:
		b.visitLine(ev.Line)
		return nil

	case flow.KindInsn:
		b.visitInsn()

	case flow.KindJump:
		if err := b.checkLabel(ev.Label); err != nil {
			return err
		}
		b.visitInsn()
		b.jumps = append(b.jumps, jump{source: b.last, target: ev.Label})

	case flow.KindTableSwitch, flow.KindLookupSwitch:
		b.visitInsn()
		clear(b.done)
		for _, l := range append([]flow.Label{ev.Default}, ev.Targets...) {
			if b.done[l] {
				continue
			}
			if err := b.checkLabel(l); err != nil {
				return err
			}
			b.jumps = append(b.jumps, jump{source: b.last, target: l})
			b.done[l] = true
		}

	case flow.KindProbe:
		if err := b.addProbe(ev.Probe, flow.NoLabel); err != nil {
			return err
		}
		b.probes[len(b.probes)-1].Kind = EdgeFallthrough
		b.falls = append(b.falls, len(b.probes)-1)
		b.last = -1
		return nil

	case flow.KindJumpWithProbe:
		if err := b.checkLabel(ev.Label); err != nil {
			return err
		}
		b.visitInsn()
		if err := b.addProbe(ev.Probe, ev.Label); err != nil {
			return err
		}

	case flow.KindInsnWithProbe:
		b.visitInsn()
		if err := b.addProbe(ev.Probe, flow.NoLabel); err != nil {
			return err
		}

	case flow.KindTableSwitchWithProbes, flow.KindLookupSwitchWithProbes:
		if len(ev.TargetProbes) != len(ev.Targets) {
			return fmt.Errorf("%w: switch at event %d has %d targets and %d probes",
				ErrMalformedMethod, b.pos, len(ev.Targets), len(ev.TargetProbes))
		}
		b.visitInsn()
		clear(b.done)
		if err := b.switchTarget(ev.Default, ev.DefaultProbe); err != nil {
			return err
		}
		for i, l := range ev.Targets {
			if err := b.switchTarget(l, ev.TargetProbes[i]); err != nil {
				return err
			}
		}

	default:
		return fmt.Errorf("%w: unknown event kind %d at %d", ErrMalformedMethod, ev.Kind, b.pos)
	}

	b.fallsThrough = ev.FallsThrough()
	return nil
}

func (b *Builder) checkLabel(l flow.Label) error {
	if l < 0 || int(l) >= len(b.labels) {
		return fmt.Errorf("%w: label L%d out of range at event %d", ErrMalformedMethod, l, b.pos)
	}
	return nil
}

func (b *Builder) visitLine(line int) {
	b.line = line
	if b.firstLine > line || b.lastLine == flow.UnknownLine {
		b.firstLine = line
	}
	if b.lastLine < line {
		b.lastLine = line
	}
}

// visitInsn appends a node, links it to the current chain and binds every
// pending label to it.
func (b *Builder) visitInsn() {
	idx := len(b.insns)
	b.insns = append(b.insns, Instruction{Node: b.pos, Line: b.line, Pred: -1})
	if b.last >= 0 {
		b.link(b.last, idx, EdgeFallthrough)
	}
	for _, l := range b.pending {
		b.labels[l] = idx
	}
	b.pending = b.pending[:0]
	for _, p := range b.falls {
		b.probes[p].Target = idx
	}
	b.falls = b.falls[:0]
	b.last = idx
}

// link makes from the predecessor of to and counts the edge as a branch of
// from. A later link replaces the predecessor; the branch count keeps both.
func (b *Builder) link(from, to int, kind EdgeKind) {
	b.insns[to].Pred = from
	b.insns[from].Branches++
	b.edges = append(b.edges, Edge{From: from, To: to, Kind: kind})
}

func (b *Builder) addProbe(id int, target flow.Label) error {
	if b.last < 0 {
		return fmt.Errorf("%w: probe %d at event %d has no source instruction", ErrMalformedMethod, id, b.pos)
	}
	if id < 0 || (b.probeCount >= 0 && id >= b.probeCount) {
		return fmt.Errorf("%w: probe %d out of range [0,%d)", ErrMalformedMethod, id, b.probeCount)
	}
	b.insns[b.last].Branches++
	b.probes = append(b.probes, ProbeEdge{Insn: b.last, Probe: id, Target: -1, Kind: EdgeJump})
	b.targets = append(b.targets, target)
	return nil
}

func (b *Builder) switchTarget(l flow.Label, probe int) error {
	if err := b.checkLabel(l); err != nil {
		return err
	}
	if b.done[l] {
		return nil
	}
	b.done[l] = true
	if probe == flow.NoProbe {
		b.jumps = append(b.jumps, jump{source: b.last, target: l})
		return nil
	}
	return b.addProbe(probe, l)
}

// Finish resolves pending jumps and returns the graph. Every jump target
// must have been bound to an instruction.
func (b *Builder) Finish() (*Graph, error) {
	for _, j := range b.jumps {
		target := b.labels[j.target]
		if target < 0 {
			return nil, fmt.Errorf("%w: jump to unbound label L%d", ErrMalformedMethod, j.target)
		}
		b.link(j.source, target, EdgeJump)
	}
	b.jumps = nil
	for i, l := range b.targets {
		if l == flow.NoLabel {
			continue
		}
		target := b.labels[l]
		if target < 0 {
			return nil, fmt.Errorf("%w: probed jump to unbound label L%d", ErrMalformedMethod, l)
		}
		b.probes[i].Target = target
	}
	return &Graph{
		Insns:     b.insns,
		Edges:     b.edges,
		Probes:    b.probes,
		FirstLine: b.firstLine,
		LastLine:  b.lastLine,
	}, nil
}

// Build replays all events of m into a new Builder and finishes it.
func Build(m *flow.Method, probeCount int) (*Graph, error) {
	b := NewBuilder(m.Labels, probeCount)
	for _, ev := range m.Events {
		if err := b.Visit(ev); err != nil {
			return nil, fmt.Errorf("%s%s: %w", m.Name, m.Desc, err)
		}
	}
	return b.Finish()
}
