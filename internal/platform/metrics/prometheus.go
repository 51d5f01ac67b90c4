// Package metrics records ingestion cycle metrics with Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stock_ingest/internal/feature/bars/domain/entity"
	"stock_ingest/internal/feature/bars/usecase"
)

// Recorder implements usecase.CycleRecorder using Prometheus.
type Recorder struct {
	registry      *prometheus.Registry
	symbolsTotal  *prometheus.CounterVec
	barsTotal     *prometheus.CounterVec
	cycleDuration *prometheus.HistogramVec
	lastFinished  *prometheus.GaugeVec
	lastFailed    *prometheus.GaugeVec
}

var _ usecase.CycleRecorder = (*Recorder)(nil)

// New creates a Prometheus recorder on its own registry, which also carries the Go and process collectors.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Recorder{
		registry: reg,
		symbolsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_symbols_total",
				Help: "Symbols processed, by terminal status",
			},
			[]string{"market", "status"},
		),
		barsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_bars_persisted_total",
				Help: "Bars written to the store",
			},
			[]string{"market"},
		),
		cycleDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_cycle_duration_seconds",
				Help:    "Duration of ingestion cycles in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
			},
			[]string{"market"},
		),
		lastFinished: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ingest_last_cycle_timestamp_seconds",
				Help: "Unix time the last cycle of a market finished",
			},
			[]string{"market"},
		),
		lastFailed: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ingest_last_cycle_failed_symbols",
				Help: "Failed symbols in the last cycle of a market",
			},
			[]string{"market"},
		),
	}
}

// RecordSymbol counts one symbol outcome.
func (r *Recorder) RecordSymbol(market entity.Market, status usecase.SymbolStatus) {
	r.symbolsTotal.WithLabelValues(market.String(), string(status)).Inc()
}

// RecordBars adds n persisted bars.
func (r *Recorder) RecordBars(market entity.Market, n int64) {
	if n <= 0 {
		return
	}
	r.barsTotal.WithLabelValues(market.String()).Add(float64(n))
}

// RecordCycle records the duration and end time of a finished cycle.
func (r *Recorder) RecordCycle(market entity.Market, s usecase.CycleSummary) {
	m := market.String()
	r.cycleDuration.WithLabelValues(m).Observe(s.Duration.Seconds())
	r.lastFinished.WithLabelValues(m).Set(float64(s.StartedAt.Add(s.Duration).Unix()))
	r.lastFailed.WithLabelValues(m).Set(float64(s.Failed))
}

// Handler serves the recorder's registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
