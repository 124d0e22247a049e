package metrics

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics handles all Prometheus metrics for the pipeline
type PrometheusMetrics struct {
	// Venue Fetch Metrics
	FetchAttempts  *prometheus.CounterVec
	FetchFailures  *prometheus.CounterVec
	SymbolNotFound *prometheus.CounterVec
	RateLimitSkips *prometheus.CounterVec
	FetchLatency   *prometheus.HistogramVec

	// Cache Metrics
	CacheHits       *prometheus.CounterVec
	CacheMisses     *prometheus.CounterVec
	SingleFlightJoins *prometheus.CounterVec

	// Fact-Check Metrics
	FactChecksProcessed *prometheus.CounterVec
	FactCheckAccuracy   *prometheus.GaugeVec
	BatchLatency        *prometheus.HistogramVec

	// Miner Metrics
	CombosPersisted *prometheus.CounterVec

	// Service Health
	ServiceUptime *prometheus.GaugeVec

	server *http.Server
}

// NewPrometheusMetrics creates a new Prometheus metrics instance
func NewPrometheusMetrics() *PrometheusMetrics {
	metrics := &PrometheusMetrics{
		FetchAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalforge_fetch_attempts_total",
				Help: "Total number of venue fetch attempts",
			},
			[]string{"venue"},
		),

		FetchFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalforge_fetch_failures_total",
				Help: "Total number of venue fetch failures",
			},
			[]string{"venue"},
		),

		SymbolNotFound: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalforge_symbol_not_found_total",
				Help: "Total number of symbol-not-supported classifications",
			},
			[]string{"venue"},
		),

		RateLimitSkips: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalforge_rate_limit_skips_total",
				Help: "Total number of venues skipped for rate-limit saturation",
			},
			[]string{"venue"},
		),

		FetchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signalforge_fetch_latency_seconds",
				Help:    "Venue fetch latency in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"venue"},
		),

		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalforge_cache_hits_total",
				Help: "Total number of candle cache hits",
			},
			[]string{"timeframe"},
		),

		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalforge_cache_misses_total",
				Help: "Total number of candle cache misses",
			},
			[]string{"timeframe"},
		),

		SingleFlightJoins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalforge_single_flight_joins_total",
				Help: "Total number of callers joining an in-flight fetch",
			},
			[]string{"kind"},
		),

		FactChecksProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalforge_fact_checks_processed_total",
				Help: "Total number of fact checks processed",
			},
			[]string{"timeframe", "outcome"},
		),

		FactCheckAccuracy: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "signalforge_fact_check_accuracy_percent",
				Help: "Rolling pass accuracy in percent",
			},
			[]string{"timeframe"},
		),

		BatchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signalforge_batch_latency_seconds",
				Help:    "Fact-check batch latency in seconds",
				Buckets: []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"stage"},
		),

		CombosPersisted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalforge_combos_persisted_total",
				Help: "Total number of qualifying combinations persisted",
			},
			[]string{"kind"},
		),

		ServiceUptime: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "signalforge_service_uptime_seconds",
				Help: "Service uptime in seconds",
			},
			[]string{"service"},
		),
	}

	// Register all metrics
	prometheus.MustRegister(
		metrics.FetchAttempts,
		metrics.FetchFailures,
		metrics.SymbolNotFound,
		metrics.RateLimitSkips,
		metrics.FetchLatency,
		metrics.CacheHits,
		metrics.CacheMisses,
		metrics.SingleFlightJoins,
		metrics.FactChecksProcessed,
		metrics.FactCheckAccuracy,
		metrics.BatchLatency,
		metrics.CombosPersisted,
		metrics.ServiceUptime,
	)

	return metrics
}

// Start starts the Prometheus metrics HTTP server
func (m *PrometheusMetrics) Start(port string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	m.server = &http.Server{
		Addr:    ":" + port,
		Handler: mux,
	}

	log.Printf("Starting Prometheus metrics server on port %s", port)

	go func() {
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Prometheus server error: %v", err)
		}
	}()

	return nil
}

// Stop stops the Prometheus metrics server
func (m *PrometheusMetrics) Stop() error {
	if m.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return m.server.Shutdown(ctx)
}

// RecordFetchAttempt records a venue fetch attempt and its latency
func (m *PrometheusMetrics) RecordFetchAttempt(venue string, duration time.Duration) {
	m.FetchAttempts.WithLabelValues(venue).Inc()
	m.FetchLatency.WithLabelValues(venue).Observe(duration.Seconds())
}

// RecordFetchFailure records a venue fetch failure
func (m *PrometheusMetrics) RecordFetchFailure(venue string) {
	m.FetchFailures.WithLabelValues(venue).Inc()
}

// RecordSymbolNotFound records a symbol-not-supported classification
func (m *PrometheusMetrics) RecordSymbolNotFound(venue string) {
	m.SymbolNotFound.WithLabelValues(venue).Inc()
}

// RecordRateLimitSkip records a venue skipped for saturation
func (m *PrometheusMetrics) RecordRateLimitSkip(venue string) {
	m.RateLimitSkips.WithLabelValues(venue).Inc()
}

// RecordCacheHit records a candle cache hit
func (m *PrometheusMetrics) RecordCacheHit(timeframe string) {
	m.CacheHits.WithLabelValues(timeframe).Inc()
}

// RecordCacheMiss records a candle cache miss
func (m *PrometheusMetrics) RecordCacheMiss(timeframe string) {
	m.CacheMisses.WithLabelValues(timeframe).Inc()
}

// RecordSingleFlightJoin records a caller joining an in-flight computation
func (m *PrometheusMetrics) RecordSingleFlightJoin(kind string) {
	m.SingleFlightJoins.WithLabelValues(kind).Inc()
}

// RecordFactCheck records one processed fact check
func (m *PrometheusMetrics) RecordFactCheck(timeframe string, correct bool) {
	outcome := "incorrect"
	if correct {
		outcome = "correct"
	}
	m.FactChecksProcessed.WithLabelValues(timeframe, outcome).Inc()
}

// SetPassAccuracy sets the rolling pass accuracy
func (m *PrometheusMetrics) SetPassAccuracy(timeframe string, accuracy float64) {
	m.FactCheckAccuracy.WithLabelValues(timeframe).Set(accuracy)
}

// RecordBatchLatency records a pipeline stage latency
func (m *PrometheusMetrics) RecordBatchLatency(stage string, duration time.Duration) {
	m.BatchLatency.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordComboPersisted records a persisted combination
func (m *PrometheusMetrics) RecordComboPersisted(kind string) {
	m.CombosPersisted.WithLabelValues(kind).Inc()
}

// SetServiceUptime sets the service uptime
func (m *PrometheusMetrics) SetServiceUptime(service string, uptime time.Duration) {
	m.ServiceUptime.WithLabelValues(service).Set(uptime.Seconds())
}
