// Package metrics tracks the interval between batch executions and the
// executed batch/request counts for a replica, mirroring the microbenchmark harness's "Measurements" struct
// without standing up an exporter: no Non-goal is more explicit than "no
// /metrics HTTP endpoint", so the registry here is created but never
// served.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/go-pbft/replica/pkg/pbft/core"
	"github.com/go-pbft/replica/pkg/pbft/types"
)

// Measurements tracks the time between successive batch executions and
// executed batch/request counts, logging a summary line every interval
// executed batches, the way the original benchmark's
// measurement_interval gate does.
type Measurements struct {
	logger   types.Logger
	interval int

	registry       *prometheus.Registry
	batchLatency   prometheus.Histogram
	executedTotal  prometheus.Counter
	requestsTotal  prometheus.Counter

	windowStart time.Time
	lastSeq     types.SeqNo
	executed    int
}

var _ core.ExecutionObserver = (*Measurements)(nil)

// NewMeasurements builds a Measurements sink reporting every interval
// executed batches. interval <= 0 disables periodic reporting but still
// updates the underlying histograms/counters.
func NewMeasurements(interval int, logger types.Logger) *Measurements {
	registry := prometheus.NewRegistry()

	batchLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pbft_batch_execution_seconds",
		Help:    "Wall-clock time between successive batch executions.",
		Buckets: prometheus.DefBuckets,
	})
	executedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pbft_batches_executed_total",
		Help: "Total batches executed by this replica.",
	})
	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pbft_requests_executed_total",
		Help: "Total client requests executed by this replica.",
	})
	registry.MustRegister(batchLatency, executedTotal, requestsTotal)

	return &Measurements{
		logger:        logger,
		interval:      interval,
		registry:      registry,
		batchLatency:  batchLatency,
		executedTotal: executedTotal,
		requestsTotal: requestsTotal,
		windowStart:   time.Time{},
	}
}

// ObserveExecuted implements core.ExecutionObserver.
func (m *Measurements) ObserveExecuted(seq types.SeqNo, batchLen int) {
	now := time.Now()
	if !m.windowStart.IsZero() {
		m.batchLatency.Observe(now.Sub(m.windowStart).Seconds())
	}
	m.windowStart = now
	m.lastSeq = seq
	m.executedTotal.Inc()
	m.requestsTotal.Add(float64(batchLen))

	m.executed++
	if m.interval > 0 && m.executed%m.interval == 0 {
		m.logger.Infof("executed %d batches (seq=%d)", m.executed, seq)
	}
}

// Registry exposes the private prometheus.Registry for tests that want to
// assert on gathered metric families directly; production wiring never
// serves it over HTTP.
func (m *Measurements) Registry() *prometheus.Registry {
	return m.registry
}
