// Package metrics exposes Prometheus counters for execution data handling.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/farid-feyzi/jacoco/internal/execdata"
)

const namespace = "jacoco"

// Metrics groups the collectors. A nil *Metrics is valid and records
// nothing, so components can take one unconditionally.
type Metrics struct {
	RecordsMerged     prometheus.Counter
	Incompatible      prometheus.Counter
	DumpsWritten      prometheus.Counter
	RecordsRead       *prometheus.CounterVec
	ClassesRegistered prometheus.Gauge
}

// New creates the collectors and registers them on reg. A nil reg uses
// prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		RecordsMerged: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_merged_total",
			Help:      "Execution data records merged into a store.",
		}),
		Incompatible: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incompatible_total",
			Help:      "Records rejected because id, name or probe count did not match.",
		}),
		DumpsWritten: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dumps_written_total",
			Help:      "Dumps appended to execution data files.",
		}),
		RecordsRead: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_read_total",
			Help:      "Execution data records decoded, by probe mode.",
		}, []string{"mode"}),
		ClassesRegistered: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "classes_registered",
			Help:      "Classes with live probe arrays.",
		}),
	}
}

// Merged records the outcome of one merge.
func (m *Metrics) Merged(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.Incompatible.Inc()
		return
	}
	m.RecordsMerged.Inc()
}

func (m *Metrics) Read(mode execdata.Mode, n int) {
	if m == nil {
		return
	}
	m.RecordsRead.WithLabelValues(mode.String()).Add(float64(n))
}

func (m *Metrics) DumpWritten() {
	if m == nil {
		return
	}
	m.DumpsWritten.Inc()
}

func (m *Metrics) SetClasses(n int) {
	if m == nil {
		return
	}
	m.ClassesRegistered.Set(float64(n))
}
