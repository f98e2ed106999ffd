// Package counter provides the (missed, covered) value type used for every
// coverage count: instructions, branches, lines, methods and complexity.
package counter

import "fmt"

// Status classifies a counter by which of its fields are non-zero.
type Status int

const (
	Empty      Status = iota // no items at all
	NotCovered               // only missed items
	Fully                    // only covered items
	Partly                   // missed and covered items
)

func (s Status) String() string {
	switch s {
	case Empty:
		return "empty"
	case NotCovered:
		return "not_covered"
	case Fully:
		return "fully_covered"
	case Partly:
		return "partly_covered"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Counter is an immutable pair of missed and covered item counts.
type Counter struct {
	Missed  int `json:"missed"`
	Covered int `json:"covered"`
}

// Sentinels for the hot path: a single instruction is exactly one of
// MissedOne or CoveredOne, and a decision-free instruction adds Zero branches.
var (
	Zero       = Counter{}
	MissedOne  = Counter{Missed: 1}
	CoveredOne = Counter{Covered: 1}
)

// New returns a counter with the given counts.
func New(missed, covered int) Counter {
	return Counter{Missed: missed, Covered: covered}
}

// Add returns the element-wise sum of a and b.
func Add(a, b Counter) Counter {
	return Counter{Missed: a.Missed + b.Missed, Covered: a.Covered + b.Covered}
}

// Add returns c + o.
func (c Counter) Add(o Counter) Counter { return Add(c, o) }

// Total returns missed + covered.
func (c Counter) Total() int { return c.Missed + c.Covered }

// Status reports whether the counter is empty, not, partly or fully covered.
func (c Counter) Status() Status {
	switch {
	case c.Missed == 0 && c.Covered == 0:
		return Empty
	case c.Covered == 0:
		return NotCovered
	case c.Missed == 0:
		return Fully
	}
	return Partly
}

// Ratio returns covered/total, or 0 for an empty counter.
func (c Counter) Ratio() float64 {
	t := c.Total()
	if t == 0 {
		return 0
	}
	return float64(c.Covered) / float64(t)
}

func (c Counter) String() string {
	return fmt.Sprintf("%d/%d", c.Covered, c.Total())
}
