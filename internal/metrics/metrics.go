// Package metrics exposes Prometheus collectors for mirrorwatch.
package metrics

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Item outcomes recorded per identifier per cycle.
const (
	OutcomeUnchanged     = "unchanged"
	OutcomeFirstContact  = "first_contact"
	OutcomeNew           = "new"
	OutcomeResolveFailed = "resolve_failed"
	OutcomePersistFailed = "persist_failed"
)

var (
	cyclesTotal         *prometheus.CounterVec
	cycleDuration       prometheus.Histogram
	itemsTotal          *prometheus.CounterVec
	mirrorFetchTotal    *prometheus.CounterVec
	mirrorFetchDuration *prometheus.HistogramVec
	rateLimitWait       *prometheus.HistogramVec
	persistFailures     prometheus.Counter
	notificationsTotal  *prometheus.CounterVec
	identifiersTracked  prometheus.Gauge
	watchReady          prometheus.Gauge

	once sync.Once
)

// Init registers the collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		cyclesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mirrorwatch_cycles_total",
				Help: "Poll cycles run, labeled by whether any identifier failed.",
			},
			[]string{"result"},
		)
		cycleDuration = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "mirrorwatch_cycle_duration_seconds",
				Help:    "Wall time of a full poll cycle.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
		)
		itemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mirrorwatch_identifier_results_total",
				Help: "Per-identifier cycle outcomes.",
			},
			[]string{"outcome"},
		)
		mirrorFetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mirrorwatch_mirror_fetch_total",
				Help: "Feed fetches per mirror, labeled by result.",
			},
			[]string{"mirror", "result"},
		)
		mirrorFetchDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mirrorwatch_mirror_fetch_duration_seconds",
				Help:    "Feed fetch latency per mirror.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
			},
			[]string{"mirror"},
		)
		rateLimitWait = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mirrorwatch_rate_limit_wait_seconds",
				Help:    "Time spent waiting for a per-mirror fetch token.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"mirror"},
		)
		persistFailures = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "mirrorwatch_persist_failures_total",
				Help: "Seen-state writes that failed.",
			},
		)
		notificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mirrorwatch_notifications_total",
				Help: "Notification deliveries, labeled by status.",
			},
			[]string{"status"},
		)
		identifiersTracked = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mirrorwatch_identifiers_tracked",
				Help: "Identifiers in the current watchlist.",
			},
		)
		watchReady = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "mirrorwatch_watch_ready",
				Help: "1 when poll triggers are registered.",
			},
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

func ObserveCycle(failed bool, d time.Duration) {
	Init()
	result := "ok"
	if failed {
		result = "partial"
	}
	cyclesTotal.WithLabelValues(result).Inc()
	cycleDuration.Observe(d.Seconds())
}

func ObserveOutcome(outcome string) {
	Init()
	itemsTotal.WithLabelValues(outcome).Inc()
}

// ObserveFetch records one mirror attempt. result is "ok", "empty" or "error".
func ObserveFetch(mirror, result string, d time.Duration) {
	Init()
	m := sanitizeMirror(mirror)
	mirrorFetchTotal.WithLabelValues(m, result).Inc()
	mirrorFetchDuration.WithLabelValues(m).Observe(d.Seconds())
}

func ObserveRateLimitDelay(mirror string, d time.Duration) {
	Init()
	rateLimitWait.WithLabelValues(sanitizeMirror(mirror)).Observe(d.Seconds())
}

func IncPersistFailure() {
	Init()
	persistFailures.Inc()
}

func ObserveNotification(status string) {
	Init()
	notificationsTotal.WithLabelValues(status).Inc()
}

func SetIdentifiers(n int) {
	Init()
	identifiersTracked.Set(float64(n))
}

func SetReady(ready bool) {
	Init()
	if ready {
		watchReady.Set(1)
		return
	}
	watchReady.Set(0)
}

func sanitizeMirror(host string) string {
	h := strings.ToLower(strings.TrimSpace(host))
	if h == "" {
		return "unknown"
	}
	return h
}
