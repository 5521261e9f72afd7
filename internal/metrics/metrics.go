// Package metrics exposes Prometheus counters for the bot and the
// aggregator.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/poolbot/internal/bot"
)

const namespace = "poolbot"

// Metrics holds every collector on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	Approvals     *prometheus.CounterVec
	Ticks         *prometheus.CounterVec
	TradeVolume   *prometheus.CounterVec
	TickDuration  *prometheus.HistogramVec
	Collects      prometheus.Counter
	DegradedReads *prometheus.CounterVec
	CollectTime   prometheus.Histogram
	PersistErrors prometheus.Counter
	HTTPRequests  *prometheus.CounterVec
}

// New creates and registers the collectors, including the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Approvals: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "approvals_total", Help: "Allowance checks by outcome"},
			[]string{"market", "status"},
		),
		Ticks: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "ticks_total", Help: "Bot ticks by outcome"},
			[]string{"market", "status"},
		),
		TradeVolume: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "trade_volume_tokens_total", Help: "Whole tokens traded by the bot"},
			[]string{"market"},
		),
		TickDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Namespace: namespace, Name: "tick_duration_seconds", Help: "Duration of bot ticks", Buckets: prometheus.ExponentialBuckets(0.05, 2, 10)},
			[]string{"status"},
		),
		Collects: prometheus.NewCounter(
			prometheus.CounterOpts{Namespace: namespace, Name: "aggregator_collects_total", Help: "Aggregation passes run"},
		),
		DegradedReads: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "aggregator_degraded_reads_total", Help: "Market reads replaced by a zeroed snapshot"},
			[]string{"market"},
		),
		CollectTime: prometheus.NewHistogram(
			prometheus.HistogramOpts{Namespace: namespace, Name: "aggregator_collect_duration_seconds", Help: "Duration of aggregation passes", Buckets: prometheus.DefBuckets},
		),
		PersistErrors: prometheus.NewCounter(
			prometheus.CounterOpts{Namespace: namespace, Name: "history_persist_errors_total", Help: "Failed history persists"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "HTTP requests by route and status code"},
			[]string{"method", "code"},
		),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Approvals, m.Ticks, m.TradeVolume, m.TickDuration,
		m.Collects, m.DegradedReads, m.CollectTime, m.PersistErrors,
		m.HTTPRequests,
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// InstrumentHandler counts requests served by next.
func (m *Metrics) InstrumentHandler(next http.Handler) http.Handler {
	return promhttp.InstrumentHandlerCounter(m.HTTPRequests, next)
}

// ObserveApproval implements bot.Metrics.
func (m *Metrics) ObserveApproval(marketID string, status bot.ApprovalStatus) {
	m.Approvals.WithLabelValues(marketID, string(status)).Inc()
}

// ObserveTick implements bot.Metrics.
func (m *Metrics) ObserveTick(marketID string, status bot.TickStatus, amount int64, elapsed time.Duration) {
	m.Ticks.WithLabelValues(marketID, string(status)).Inc()
	m.TickDuration.WithLabelValues(string(status)).Observe(elapsed.Seconds())
	if status == bot.TickTraded {
		m.TradeVolume.WithLabelValues(marketID).Add(float64(amount))
	}
}

// ObserveCollect records one aggregation pass.
func (m *Metrics) ObserveCollect(degraded []string, elapsed time.Duration) {
	m.Collects.Inc()
	m.CollectTime.Observe(elapsed.Seconds())
	for _, id := range degraded {
		m.DegradedReads.WithLabelValues(id).Inc()
	}
}

// ObservePersistError counts a failed history persist.
func (m *Metrics) ObservePersistError() {
	m.PersistErrors.Inc()
}

var _ bot.Metrics = (*Metrics)(nil)
