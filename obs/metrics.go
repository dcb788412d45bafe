package obs

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/warp/royalty-engine/royalty"
)

// Metrics holds the Prometheus collectors for statement runs and HTTP
// traffic. It implements royalty.Observer.
type Metrics struct {
	StatementsGeneratedTotal *prometheus.CounterVec
	StatementsFinalizedTotal *prometheus.CounterVec
	GenerationDuration       *prometheus.HistogramVec
	BatchContractsTotal      *prometheus.CounterVec
	HTTPRequestsTotal        *prometheus.CounterVec
	HTTPRequestDuration      *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

var _ royalty.Observer = (*Metrics)(nil)

// NewMetrics creates and registers the collectors. A nil registry uses the
// default one. Collectors already registered under the same name are reused.
func NewMetrics(namespace string, reg *prometheus.Registry) *Metrics {
	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if reg != nil {
		registerer, gatherer = reg, reg
	}

	m := &Metrics{
		StatementsGeneratedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "statements_generated_total",
			Help:      "Statements generated, by tier calculation mode and outcome.",
		}, []string{"mode", "outcome"}),
		StatementsFinalizedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "statements_finalized_total",
			Help:      "Statements finalized, by outcome.",
		}, []string{"outcome"}),
		GenerationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "statement_generation_duration_seconds",
			Help:      "Time to generate the statements of one contract period.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),
		BatchContractsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_contracts_total",
			Help:      "Contracts processed by batch runs, by outcome.",
		}, []string{"outcome"}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method and status code.",
		}, []string{"method", "code"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		gatherer: gatherer,
	}

	mustRegisterCollector(registerer, m.StatementsGeneratedTotal, func(existing prometheus.Collector) {
		if v, ok := existing.(*prometheus.CounterVec); ok {
			m.StatementsGeneratedTotal = v
		}
	})
	mustRegisterCollector(registerer, m.StatementsFinalizedTotal, func(existing prometheus.Collector) {
		if v, ok := existing.(*prometheus.CounterVec); ok {
			m.StatementsFinalizedTotal = v
		}
	})
	mustRegisterCollector(registerer, m.GenerationDuration, func(existing prometheus.Collector) {
		if v, ok := existing.(*prometheus.HistogramVec); ok {
			m.GenerationDuration = v
		}
	})
	mustRegisterCollector(registerer, m.BatchContractsTotal, func(existing prometheus.Collector) {
		if v, ok := existing.(*prometheus.CounterVec); ok {
			m.BatchContractsTotal = v
		}
	})
	mustRegisterCollector(registerer, m.HTTPRequestsTotal, func(existing prometheus.Collector) {
		if v, ok := existing.(*prometheus.CounterVec); ok {
			m.HTTPRequestsTotal = v
		}
	})
	mustRegisterCollector(registerer, m.HTTPRequestDuration, func(existing prometheus.Collector) {
		if v, ok := existing.(*prometheus.HistogramVec); ok {
			m.HTTPRequestDuration = v
		}
	})
	return m
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register metric: %w", err))
	}
}

// StatementsGenerated records one Generate call.
func (m *Metrics) StatementsGenerated(mode royalty.TierCalculationMode, outcome string, count int, d time.Duration) {
	label := string(mode)
	if label == "" {
		label = "unknown"
	}
	if count == 0 {
		// Failures still count once so error rates are visible.
		count = 1
	}
	m.StatementsGeneratedTotal.WithLabelValues(label, outcome).Add(float64(count))
	m.GenerationDuration.WithLabelValues(label).Observe(d.Seconds())
}

// StatementsFinalized records one Finalize call.
func (m *Metrics) StatementsFinalized(outcome string, count int) {
	if count == 0 {
		count = 1
	}
	m.StatementsFinalizedTotal.WithLabelValues(outcome).Add(float64(count))
}

// BatchContract records the outcome of one contract in a batch run.
func (m *Metrics) BatchContract(outcome string) {
	m.BatchContractsTotal.WithLabelValues(outcome).Inc()
}

// Middleware records request counts and latency.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.HTTPRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
