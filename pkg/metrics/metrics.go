// Package metrics exposes harvest progress as Prometheus collectors.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	errs "docharvest/pkg/errors"
	"docharvest/pkg/logger"
)

// Metrics bundles the collectors on a dedicated registry. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	Registry           *prometheus.Registry
	IndexPagesTotal    prometheus.Counter
	DocumentsTotal     *prometheus.CounterVec
	ErrorsTotal        *prometheus.CounterVec
	RetriesTotal       prometheus.Counter
	BytesTotal         prometheus.Counter
	GateClearances     prometheus.Counter
	NavigationDuration *prometheus.HistogramVec
}

// New constructs and registers all metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	pages := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "docharvest_index_pages_total",
		Help: "Listing pages fetched.",
	})
	documents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "docharvest_documents_total",
		Help: "Documents processed by outcome.",
	}, []string{"outcome"})
	errorsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "docharvest_errors_total",
		Help: "Failures by error kind.",
	}, []string{"kind"})
	retries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "docharvest_retries_total",
		Help: "Retry attempts scheduled.",
	})
	bytesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "docharvest_bytes_total",
		Help: "Bytes written to final document files.",
	})
	gate := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "docharvest_gate_clearances_total",
		Help: "Successful age gate clearances.",
	})
	navigation := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "docharvest_navigation_duration_seconds",
		Help:    "Browser navigation latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})

	registry.MustRegister(pages, documents, errorsTotal, retries, bytesTotal, gate, navigation)

	return &Metrics{
		Registry:           registry,
		IndexPagesTotal:    pages,
		DocumentsTotal:     documents,
		ErrorsTotal:        errorsTotal,
		RetriesTotal:       retries,
		BytesTotal:         bytesTotal,
		GateClearances:     gate,
		NavigationDuration: navigation,
	}
}

func (m *Metrics) IncPage() {
	if m == nil {
		return
	}
	m.IndexPagesTotal.Inc()
}

// IncDocument counts a document outcome: downloaded, skipped or failed.
func (m *Metrics) IncDocument(outcome string) {
	if m == nil {
		return
	}
	m.DocumentsTotal.WithLabelValues(outcome).Inc()
}

// IncError counts a failure under its error kind.
func (m *Metrics) IncError(err error) {
	if m == nil || err == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(string(errs.TypeOf(err))).Inc()
}

func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

func (m *Metrics) AddBytes(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.BytesTotal.Add(float64(n))
}

func (m *Metrics) IncGateClearance() {
	if m == nil {
		return
	}
	m.GateClearances.Inc()
}

// ObserveNavigation records a navigation; it satisfies browser.Observer.
func (m *Metrics) ObserveNavigation(d time.Duration, status int, err error) {
	if m == nil {
		return
	}
	result := "ok"
	switch {
	case err != nil:
		result = "error"
	case status >= 400:
		result = "http_error"
	}
	m.NavigationDuration.WithLabelValues(result).Observe(d.Seconds())
}

// Serve exposes the registry on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, log logger.Logger) {
	if m == nil || addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.ErrorWithFields("metrics server failed", map[string]interface{}{"error": err.Error()})
		}
	}()
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdown)
	}()
	log.InfoWithFields("metrics server enabled", map[string]interface{}{"addr": addr})
}
