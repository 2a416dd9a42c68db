package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "neoraffle",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "neoraffle",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "neoraffle",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	entries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "neoraffle",
			Subsystem: "raffle",
			Name:      "entries_total",
			Help:      "Entry attempts by outcome.",
		},
		[]string{"result"},
	)

	drawsRequested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "neoraffle",
			Subsystem: "raffle",
			Name:      "draws_requested_total",
			Help:      "Randomness requests issued by the raffle.",
		},
	)

	drawsCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "neoraffle",
			Subsystem: "raffle",
			Name:      "draws_completed_total",
			Help:      "Draws that paid a winner.",
		},
	)

	payoutTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "neoraffle",
			Subsystem: "raffle",
			Name:      "payout_gas_units_total",
			Help:      "Sum of pots paid to winners, in the smallest GAS unit.",
		},
	)

	payoutFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "neoraffle",
			Subsystem: "raffle",
			Name:      "payout_failures_total",
			Help:      "Fulfilments rejected because the winner transfer failed.",
		},
	)

	fulfillmentsIgnored = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "neoraffle",
			Subsystem: "raffle",
			Name:      "fulfillments_ignored_total",
			Help:      "Fulfilments delivered while no draw was pending.",
		},
	)

	roundPot = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "neoraffle",
			Subsystem: "raffle",
			Name:      "pot_gas_units",
			Help:      "Value held for the current round.",
		},
	)

	roundEntrants = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "neoraffle",
			Subsystem: "raffle",
			Name:      "entrants",
			Help:      "Entries in the current round.",
		},
	)

	roundState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "neoraffle",
			Subsystem: "raffle",
			Name:      "state",
			Help:      "Round state (0 open, 1 calculating).",
		},
	)

	keeperRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "neoraffle",
			Subsystem: "keeper",
			Name:      "runs_total",
			Help:      "Keeper ticks by outcome.",
		},
		[]string{"result"},
	)

	keeperDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "neoraffle",
			Subsystem: "keeper",
			Name:      "run_duration_seconds",
			Help:      "Duration of keeper ticks.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
	)

	checkpoints = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "neoraffle",
			Subsystem: "storage",
			Name:      "checkpoints_total",
			Help:      "Snapshot checkpoints by backend and outcome.",
		},
		[]string{"backend", "success"},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		entries,
		drawsRequested,
		drawsCompleted,
		payoutTotal,
		payoutFailures,
		fulfillmentsIgnored,
		roundPot,
		roundEntrants,
		roundState,
		keeperRuns,
		keeperDuration,
		checkpoints,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordEntry counts an entry attempt by result.
func RecordEntry(result string) {
	if result == "" {
		result = "unknown"
	}
	entries.WithLabelValues(result).Inc()
}

// RecordDrawRequested counts a randomness request.
func RecordDrawRequested() {
	drawsRequested.Inc()
}

// RecordDrawCompleted counts a paid draw.
func RecordDrawCompleted(payout int64) {
	drawsCompleted.Inc()
	if payout > 0 {
		payoutTotal.Add(float64(payout))
	}
}

// RecordPayoutFailure counts a failed winner transfer.
func RecordPayoutFailure() {
	payoutFailures.Inc()
}

// RecordIgnoredFulfillment counts a fulfilment that arrived with no draw pending.
func RecordIgnoredFulfillment() {
	fulfillmentsIgnored.Inc()
}

// SetRound publishes the current round gauges.
func SetRound(pot int64, entrantCount, state int) {
	roundPot.Set(float64(pot))
	roundEntrants.Set(float64(entrantCount))
	roundState.Set(float64(state))
}

// RecordKeeperRun records a keeper tick. result is one of performed, skipped
// or failed.
func RecordKeeperRun(result string, duration time.Duration) {
	if result == "" {
		result = "unknown"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	keeperRuns.WithLabelValues(result).Inc()
	keeperDuration.Observe(duration.Seconds())
}

// RecordCheckpoint records a snapshot save.
func RecordCheckpoint(backend string, success bool) {
	if backend == "" {
		backend = "unknown"
	}
	checkpoints.WithLabelValues(backend, strconv.FormatBool(success)).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Hijack lets websocket upgrades pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "raffle" || len(parts) == 1 {
		return "/" + strings.Join(parts[:min(len(parts), 2)], "/")
	}
	if parts[1] == "entrants" && len(parts) == 3 && parts[2] != "count" {
		return "/raffle/entrants/:index"
	}
	return "/raffle/" + parts[1] + suffix(parts)
}

func suffix(parts []string) string {
	if len(parts) > 2 {
		return "/" + parts[2]
	}
	return ""
}
