// Package runtime holds the live probe arrays of a running program and
// turns them into execution data dumps.
package runtime

import (
	"math"
	"sync/atomic"

	"github.com/farid-feyzi/jacoco/internal/execdata"
)

// Probes is the live probe array of one class. Hit may be called from any
// goroutine; a hit is never lost.
type Probes struct {
	id     uint64
	name   string
	mode   execdata.Mode
	hits   []atomic.Bool
	counts []atomic.Int32
}

func newProbes(id uint64, name string, n int, mode execdata.Mode) *Probes {
	p := &Probes{id: id, name: name, mode: mode}
	if mode == execdata.ModeHitCount {
		p.counts = make([]atomic.Int32, n)
	} else {
		p.hits = make([]atomic.Bool, n)
	}
	return p
}

func (p *Probes) ID() uint64   { return p.id }
func (p *Probes) Name() string { return p.name }

func (p *Probes) Len() int {
	if p.mode == execdata.ModeHitCount {
		return len(p.counts)
	}
	return len(p.hits)
}

// Hit records one execution of probe i. Counts stop at math.MaxInt32.
func (p *Probes) Hit(i int) {
	if p.mode != execdata.ModeHitCount {
		p.hits[i].Store(true)
		return
	}
	c := &p.counts[i]
	for {
		v := c.Load()
		if v == math.MaxInt32 || c.CompareAndSwap(v, v+1) {
			return
		}
	}
}

// snapshot copies the probes into execution data, clearing them when reset
// is set. Hits racing with a reset land either in this snapshot or in the
// next one.
func (p *Probes) snapshot(reset bool) *execdata.ExecutionData {
	if p.mode == execdata.ModeHitCount {
		out := make([]int32, len(p.counts))
		for i := range p.counts {
			if reset {
				out[i] = p.counts[i].Swap(0)
			} else {
				out[i] = p.counts[i].Load()
			}
		}
		return execdata.FromCounts(p.id, p.name, out)
	}
	out := make([]bool, len(p.hits))
	for i := range p.hits {
		if reset {
			out[i] = p.hits[i].Swap(false)
		} else {
			out[i] = p.hits[i].Load()
		}
	}
	return execdata.FromHits(p.id, p.name, out)
}
