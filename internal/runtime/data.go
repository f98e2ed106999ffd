package runtime

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/farid-feyzi/jacoco/internal/execdata"
	"github.com/farid-feyzi/jacoco/internal/metrics"
)

// Data is the registry of live probe arrays of one process.
type Data struct {
	mode    execdata.Mode
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu        sync.Mutex
	sessionID string
	start     int64
	classes   map[uint64]*Probes
}

// Option configures Data.
type Option func(*Data)

func WithLogger(l *slog.Logger) Option { return func(d *Data) { d.logger = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(d *Data) { d.metrics = m } }

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(d *Data) { d.now = now } }

// WithSessionID sets the session id; the default is a random UUID.
func WithSessionID(id string) Option { return func(d *Data) { d.sessionID = id } }

// NewData returns an empty registry whose session starts now.
func NewData(mode execdata.Mode, opts ...Option) *Data {
	d := &Data{
		mode:    mode,
		logger:  slog.Default(),
		now:     time.Now,
		classes: make(map[uint64]*Probes),
	}
	for _, o := range opts {
		o(d)
	}
	if d.sessionID == "" {
		d.sessionID = uuid.NewString()
	}
	d.start = d.now().UnixMilli()
	return d
}

func (d *Data) Mode() execdata.Mode { return d.mode }

// SessionID returns the current session id.
func (d *Data) SessionID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessionID
}

// SetSessionID changes the id reported by later collections.
func (d *Data) SetSessionID(id string) {
	d.mu.Lock()
	d.sessionID = id
	d.mu.Unlock()
}

// Probes returns the probe array of a class, registering it on first use.
// A class registered before must match name and probe count.
func (d *Data) Probes(id uint64, name string, n int) (*Probes, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p, ok := d.classes[id]; ok {
		if p.name != name || p.Len() != n {
			err := execdata.New(id, p.name, p.Len(), d.mode).AssertCompatibility(id, name, n)
			d.metrics.Merged(err)
			return nil, fmt.Errorf("runtime: %w", err)
		}
		return p, nil
	}
	p := newProbes(id, name, n, d.mode)
	d.classes[id] = p
	d.metrics.SetClasses(len(d.classes))
	d.logger.Debug("class registered", "class", name, "id", fmt.Sprintf("%016x", id), "probes", n)
	return p, nil
}

// Collect snapshots every class. With reset set the probes are cleared and
// a new session starts at the dump time.
func (d *Data) Collect(reset bool) (execdata.SessionInfo, []*execdata.ExecutionData) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now().UnixMilli()
	info := execdata.SessionInfo{ID: d.sessionID, Start: d.start, Dump: now}
	out := make([]*execdata.ExecutionData, 0, len(d.classes))
	for _, p := range d.classes {
		out = append(out, p.snapshot(reset))
	}
	slices.SortFunc(out, func(a, b *execdata.ExecutionData) int {
		if c := cmp.Compare(a.Name(), b.Name()); c != 0 {
			return c
		}
		return cmp.Compare(a.ID(), b.ID())
	})
	if reset {
		d.start = now
	}
	return info, out
}
