// Package metrics holds the prometheus collectors and the otel tracer of the
// search service. A nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"vaultsearch/internal/domain"
)

var tracer = otel.Tracer("vaultsearch")

// Metrics groups the service collectors.
type Metrics struct {
	notes           prometheus.Gauge
	status          prometheus.Gauge
	rebuildDuration *prometheus.HistogramVec
	refreshEntries  *prometheus.CounterVec
	searchDuration  *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		notes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vaultsearch_corpus_notes",
			Help: "Number of notes currently in the corpus",
		}),
		status: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vaultsearch_status",
			Help: "Service status (0 loading, 1 computing_embeddings, 2 ready, 3 refreshing)",
		}),
		rebuildDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vaultsearch_rebuild_duration_seconds",
				Help:    "Duration of full corpus rebuilds by outcome",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 14), // 50ms to ~7m
			},
			[]string{"outcome"},
		),
		refreshEntries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vaultsearch_refresh_entries_total",
				Help: "Incremental refresh entries by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		searchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vaultsearch_search_duration_seconds",
				Help:    "Duration of semantic search requests by outcome",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.notes, m.status, m.rebuildDuration, m.refreshEntries, m.searchDuration)
	}
	return m
}

// CacheStats is implemented by the query embedding cache.
type CacheStats interface {
	Hits() uint64
	Misses() uint64
	Len() int
}

// RegisterCache exposes cache counters read at scrape time.
func RegisterCache(reg prometheus.Registerer, c CacheStats) {
	reg.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "vaultsearch_embed_cache_hits_total",
			Help: "Query embeddings served from cache",
		}, func() float64 { return float64(c.Hits()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "vaultsearch_embed_cache_misses_total",
			Help: "Query embeddings computed by the provider",
		}, func() float64 { return float64(c.Misses()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "vaultsearch_embed_cache_entries",
			Help: "Query embeddings currently cached",
		}, func() float64 { return float64(c.Len()) }),
	)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case domain.IsValidation(err):
		return "invalid"
	case domain.IsProvider(err):
		return "provider_error"
	default:
		return "error"
	}
}

// SetNotes records the corpus size.
func (m *Metrics) SetNotes(n int) {
	if m == nil {
		return
	}
	m.notes.Set(float64(n))
}

// SetStatus records the service status.
func (m *Metrics) SetStatus(s domain.Status) {
	if m == nil {
		return
	}
	m.status.Set(s.Ordinal())
}

// ObserveRebuild records a finished rebuild.
func (m *Metrics) ObserveRebuild(start time.Time, err error) {
	if m == nil {
		return
	}
	m.rebuildDuration.WithLabelValues(outcome(err)).Observe(time.Since(start).Seconds())
}

// RefreshEntry counts one refresh entry.
func (m *Metrics) RefreshEntry(op string, err error) {
	if m == nil {
		return
	}
	m.refreshEntries.WithLabelValues(op, outcome(err)).Inc()
}

// ObserveSearch records a finished search.
func (m *Metrics) ObserveSearch(start time.Time, err error) {
	if m == nil {
		return
	}
	m.searchDuration.WithLabelValues(outcome(err)).Observe(time.Since(start).Seconds())
}

// StartSpan starts a span named name with the given attributes.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
