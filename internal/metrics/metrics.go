package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the ledger's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "revenue_ledger",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "revenue_ledger",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)

	splitCalculations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "revenue_ledger",
			Subsystem: "split",
			Name:      "calculations_total",
			Help:      "Split calculations by category and outcome.",
		},
		[]string{"category", "outcome"},
	)

	allocatedAmount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "revenue_ledger",
			Subsystem: "ledger",
			Name:      "allocated_amount_total",
			Help:      "Currency allocated into the ledger by recipient category.",
		},
		[]string{"recipient"},
	)

	ledgerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "revenue_ledger",
			Subsystem: "ledger",
			Name:      "transitions_total",
			Help:      "Ledger entry transitions by target status and result.",
		},
		[]string{"status", "result"},
	)

	settlementPayments = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "revenue_ledger",
			Subsystem: "settlement",
			Name:      "payments_total",
			Help:      "Payments seen by the settlement sweep by outcome.",
		},
		[]string{"outcome"},
	)

	settlementDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "revenue_ledger",
			Subsystem: "settlement",
			Name:      "run_duration_seconds",
			Help:      "Duration of settlement sweeps.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	settlementSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "revenue_ledger",
			Subsystem: "settlement",
			Name:      "runs_skipped_total",
			Help:      "Scheduled sweeps skipped because another replica held the lock.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpRequests,
		httpDuration,
		splitCalculations,
		allocatedAmount,
		ledgerTransitions,
		settlementPayments,
		settlementDuration,
		settlementSkipped,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps next with request count and latency collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

// RecordCalculation counts one split calculation. outcome is "ok" or the
// error kind.
func RecordCalculation(category, outcome string) {
	splitCalculations.WithLabelValues(category, outcome).Inc()
}

func RecordAllocation(recipient string, amount float64) {
	allocatedAmount.WithLabelValues(recipient).Add(amount)
}

func RecordLedgerTransition(status string, ok bool) {
	result := "ok"
	if !ok {
		result = "failed"
	}
	ledgerTransitions.WithLabelValues(status, result).Inc()
}

func RecordSettlementRun(processed, flagged, failed int, duration time.Duration) {
	settlementPayments.WithLabelValues("processed").Add(float64(processed))
	settlementPayments.WithLabelValues("flagged").Add(float64(flagged))
	settlementPayments.WithLabelValues("failed").Add(float64(failed))
	settlementDuration.Observe(duration.Seconds())
}

func RecordSettlementSkipped() {
	settlementSkipped.Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// canonicalPath collapses ids so label cardinality stays bounded:
// /payments/abc/ledger becomes /payments/:id/ledger.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "payments", "mous":
		if len(parts) >= 2 {
			parts[1] = ":id"
		}
	case "split-models":
		if len(parts) >= 2 {
			parts[1] = ":category"
		}
	}
	if len(parts) > 3 {
		parts = parts[:3]
	}
	return "/" + strings.Join(parts, "/")
}
