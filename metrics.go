package questionbank

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the prometheus collectors of the ingestion pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Attempts      *prometheus.CounterVec
	ThrottleWait  prometheus.Histogram
	MergedTotal   *prometheus.CounterVec
	SkippedRows   *prometheus.CounterVec
	DuplicateRows prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "questionbank_generation_attempts_total",
				Help: "Generation endpoint calls by outcome",
			},
			[]string{"outcome"},
		),
		ThrottleWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "questionbank_throttle_wait_seconds",
				Help:    "Waits imposed by rate limit responses",
				Buckets: []float64{1, 5, 10, 20, 40, 80, 160},
			},
		),
		MergedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "questionbank_questions_merged_total",
				Help: "Questions merged into the store by partition",
			},
			[]string{"partition"},
		),
		SkippedRows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "questionbank_rows_skipped_total",
				Help: "Parsed rows discarded by parser",
			},
			[]string{"parser"},
		),
		DuplicateRows: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "questionbank_duplicates_total",
				Help: "Candidates rejected as duplicates",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Attempts, m.ThrottleWait, m.MergedTotal, m.SkippedRows, m.DuplicateRows)
	}
	return m
}

func (m *Metrics) attempt(outcome string) {
	if m == nil {
		return
	}
	m.Attempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) throttled(wait time.Duration) {
	if m == nil {
		return
	}
	m.ThrottleWait.Observe(wait.Seconds())
}

func (m *Metrics) merged(p Partition, n int) {
	if m == nil || n == 0 {
		return
	}
	m.MergedTotal.WithLabelValues(string(p)).Add(float64(n))
}

func (m *Metrics) skipped(parser string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.SkippedRows.WithLabelValues(parser).Add(float64(n))
}

func (m *Metrics) duplicates(n int) {
	if m == nil || n == 0 {
		return
	}
	m.DuplicateRows.Add(float64(n))
}
