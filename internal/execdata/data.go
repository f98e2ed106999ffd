// Package execdata holds the execution data of instrumented classes: one
// probe vector per class, and the union and subtraction used to combine
// vectors from several runs.
package execdata

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
)

// Mode selects the probe representation. It is fixed per ExecutionData and
// per codec stream; nothing infers it.
type Mode uint8

const (
	// ModeHitOnce records whether a probe was executed at all.
	ModeHitOnce Mode = iota
	// ModeHitCount records how often a probe was executed.
	ModeHitCount
)

func (m Mode) String() string {
	switch m {
	case ModeHitOnce:
		return "hit-once"
	case ModeHitCount:
		return "hit-count"
	}
	return fmt.Sprintf("mode(%d)", uint8(m))
}

// ParseMode accepts the names printed by Mode.String.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(s) {
	case "hit-once", "once", "":
		return ModeHitOnce, nil
	case "hit-count", "count":
		return ModeHitCount, nil
	}
	return 0, fmt.Errorf("execdata: unknown mode %q", s)
}

var (
	// ErrIncompatible is wrapped by every *IncompatibleError.
	ErrIncompatible = errors.New("execdata: incompatible execution data")
	// ErrModeMismatch is returned when data of different modes is merged.
	ErrModeMismatch = errors.New("execdata: probe representation mismatch")
)

// IncompatibleError describes why two records cannot be combined.
type IncompatibleError struct {
	Msg string
}

func (e *IncompatibleError) Error() string { return e.Msg }

func (e *IncompatibleError) Unwrap() error { return ErrIncompatible }

// ExecutionData is the probe vector of one class. Id, name, mode and vector
// length never change after construction.
//
// ExecutionData is not safe for concurrent use.
type ExecutionData struct {
	id     uint64
	name   string
	mode   Mode
	hits   []bool
	counts []int32
}

// New returns data with n unexecuted probes.
func New(id uint64, name string, n int, mode Mode) *ExecutionData {
	d := &ExecutionData{id: id, name: name, mode: mode}
	if mode == ModeHitCount {
		d.counts = make([]int32, n)
	} else {
		d.hits = make([]bool, n)
	}
	return d
}

// FromHits wraps an existing hit-once vector. The slice is not copied.
func FromHits(id uint64, name string, hits []bool) *ExecutionData {
	if hits == nil {
		hits = []bool{}
	}
	return &ExecutionData{id: id, name: name, mode: ModeHitOnce, hits: hits}
}

// FromCounts wraps an existing hit-count vector. The slice is not copied.
func FromCounts(id uint64, name string, counts []int32) *ExecutionData {
	if counts == nil {
		counts = []int32{}
	}
	return &ExecutionData{id: id, name: name, mode: ModeHitCount, counts: counts}
}

func (d *ExecutionData) ID() uint64   { return d.id }
func (d *ExecutionData) Name() string { return d.name }
func (d *ExecutionData) Mode() Mode   { return d.mode }

// Len is the number of probes.
func (d *ExecutionData) Len() int {
	if d.mode == ModeHitCount {
		return len(d.counts)
	}
	return len(d.hits)
}

// Hits returns the hit-once vector itself. It panics on hit-count data.
func (d *ExecutionData) Hits() []bool {
	if d.mode != ModeHitOnce {
		panic("execdata: Hits called on " + d.mode.String() + " data")
	}
	return d.hits
}

// Counts returns the hit-count vector itself. It panics on hit-once data.
func (d *ExecutionData) Counts() []int32 {
	if d.mode != ModeHitCount {
		panic("execdata: Counts called on " + d.mode.String() + " data")
	}
	return d.counts
}

// HitFlags returns a fresh vector telling which probes executed, for either
// mode.
func (d *ExecutionData) HitFlags() []bool {
	if d.mode == ModeHitOnce {
		return slices.Clone(d.hits)
	}
	out := make([]bool, len(d.counts))
	for i, c := range d.counts {
		out[i] = c > 0
	}
	return out
}

// HasHits reports whether any probe executed.
func (d *ExecutionData) HasHits() bool {
	if d.mode == ModeHitCount {
		for _, c := range d.counts {
			if c > 0 {
				return true
			}
		}
		return false
	}
	return slices.Contains(d.hits, true)
}

// Reset marks every probe as not executed.
func (d *ExecutionData) Reset() {
	clear(d.hits)
	clear(d.counts)
}

// Clone returns a deep copy.
func (d *ExecutionData) Clone() *ExecutionData {
	c := *d
	c.hits = slices.Clone(d.hits)
	c.counts = slices.Clone(d.counts)
	return &c
}

// AssertCompatibility checks that data with the given identity can be
// combined with d.
func (d *ExecutionData) AssertCompatibility(id uint64, name string, probeCount int) error {
	if d.id != id {
		return &IncompatibleError{Msg: fmt.Sprintf("Different ids (%016x and %016x).", d.id, id)}
	}
	if d.name != name {
		return &IncompatibleError{Msg: fmt.Sprintf("Different class names %s and %s for id %016x.", d.name, name, id)}
	}
	if d.Len() != probeCount {
		return &IncompatibleError{Msg: fmt.Sprintf("Incompatible execution data for class %s with id %016x.", name, id)}
	}
	return nil
}

// Merge adds the hits of other into d.
func (d *ExecutionData) Merge(other *ExecutionData) error {
	return d.MergeFlag(other, true)
}

// MergeFlag combines other into d. With flag set this is the union: a probe
// is executed if it was in either record, and counts add up, saturating at
// math.MaxInt32. With flag unset it is the subtraction: probes executed in
// other are removed from d, and counts are decreased but never below zero.
// other is not modified.
func (d *ExecutionData) MergeFlag(other *ExecutionData, flag bool) error {
	if err := d.AssertCompatibility(other.id, other.name, other.Len()); err != nil {
		return err
	}
	if d.mode != other.mode {
		return fmt.Errorf("%w: %s into %s for class %s", ErrModeMismatch, other.mode, d.mode, d.name)
	}
	if d.mode == ModeHitOnce {
		for i, hit := range other.hits {
			if hit {
				d.hits[i] = flag
			}
		}
		return nil
	}
	for i, c := range other.counts {
		if c <= 0 {
			continue
		}
		if flag {
			d.counts[i] = saturatingAdd(d.counts[i], c)
		} else {
			d.counts[i] = max(0, d.counts[i]-c)
		}
	}
	return nil
}

func saturatingAdd(a, b int32) int32 {
	if s := int64(a) + int64(b); s < math.MaxInt32 {
		return int32(s)
	}
	return math.MaxInt32
}

func (d *ExecutionData) String() string {
	return fmt.Sprintf("ExecutionData[name=%s, id=%016x]", d.name, d.id)
}
