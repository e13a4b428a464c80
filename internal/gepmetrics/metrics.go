// Package gepmetrics holds Prometheus instrumentation for the producer and
// consumer engines, generalized from the teacher's internal/metrics package
// (HTTP/S3 operation counters, with trace-exemplar support) to
// group-encryption-protocol operations.
package gepmetrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
)

// Metrics holds every counter/histogram the producer and consumer engines
// observe.
type Metrics struct {
	interestsSent       *prometheus.CounterVec
	interestTimeouts    *prometheus.CounterVec
	interestNacks       *prometheus.CounterVec
	delegationFailovers *prometheus.CounterVec
	eKeyCoverageMisses  prometheus.Counter
	eKeyCoverageHits    prometheus.Counter
	contentKeyCacheHits prometheus.Counter
	produceDuration     prometheus.Histogram
	consumeDuration     prometheus.Histogram
}

// NewMetrics registers every collector against the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry registers every collector against reg, so tests can
// use a fresh prometheus.NewRegistry() instead of the process-global default.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		interestsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gep_interests_sent_total",
				Help: "Total number of interests sent by either engine.",
			},
			[]string{"role"},
		),
		interestTimeouts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gep_interest_timeouts_total",
				Help: "Total number of interest timeouts observed.",
			},
			[]string{"role"},
		),
		interestNacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gep_interest_nacks_total",
				Help: "Total number of interest nacks observed.",
			},
			[]string{"role"},
		),
		delegationFailovers: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gep_delegation_failovers_total",
				Help: "Total number of delegation failover attempts.",
			},
			[]string{"role"},
		),
		eKeyCoverageMisses: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gep_ekey_coverage_misses_total",
				Help: "Total number of E-KEY coverage searches that required a network fetch.",
			},
		),
		eKeyCoverageHits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gep_ekey_coverage_hits_total",
				Help: "Total number of E-KEY coverage checks satisfied by the cached KeyInfo.",
			},
		),
		contentKeyCacheHits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gep_content_key_cache_hits_total",
				Help: "Total number of create_content_key calls short-circuited by an existing content key.",
			},
		),
		produceDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gep_produce_duration_seconds",
				Help:    "End-to-end produce() latency.",
				Buckets: prometheus.DefBuckets,
			},
		),
		consumeDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gep_consume_duration_seconds",
				Help:    "End-to-end consume() latency.",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

// getExemplar extracts a Prometheus exemplar label set from an active span
// in ctx, so histograms/counters can be correlated with the OpenTelemetry
// trace that produced them.
func getExemplar(ctx context.Context) prometheus.Labels {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return nil
	}
	return prometheus.Labels{"trace_id": sc.TraceID().String()}
}

func (m *Metrics) RecordInterestSent(ctx context.Context, role string) {
	c, ok := m.interestsSent.WithLabelValues(role).(prometheus.ExemplarAdder)
	if ex := getExemplar(ctx); ok && ex != nil {
		c.AddWithExemplar(1, ex)
		return
	}
	m.interestsSent.WithLabelValues(role).Inc()
}

func (m *Metrics) RecordTimeout(role string) { m.interestTimeouts.WithLabelValues(role).Inc() }
func (m *Metrics) RecordNack(role string)    { m.interestNacks.WithLabelValues(role).Inc() }
func (m *Metrics) RecordDelegationFailover(role string) {
	m.delegationFailovers.WithLabelValues(role).Inc()
}
func (m *Metrics) RecordEKeyCoverageMiss()   { m.eKeyCoverageMisses.Inc() }
func (m *Metrics) RecordEKeyCoverageHit()    { m.eKeyCoverageHits.Inc() }
func (m *Metrics) RecordContentKeyCacheHit() { m.contentKeyCacheHits.Inc() }

func (m *Metrics) RecordProduceDuration(ctx context.Context, d time.Duration) {
	if o, ok := m.produceDuration.(prometheus.ExemplarObserver); ok {
		if ex := getExemplar(ctx); ex != nil {
			o.ObserveWithExemplar(d.Seconds(), ex)
			return
		}
	}
	m.produceDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordConsumeDuration(ctx context.Context, d time.Duration) {
	if o, ok := m.consumeDuration.(prometheus.ExemplarObserver); ok {
		if ex := getExemplar(ctx); ex != nil {
			o.ObserveWithExemplar(d.Seconds(), ex)
			return
		}
	}
	m.consumeDuration.Observe(d.Seconds())
}

// Handler serves the process-wide default Prometheus registry over HTTP for
// scraping; collectors registered on another registry through
// NewMetricsWithRegistry are not served by it.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
