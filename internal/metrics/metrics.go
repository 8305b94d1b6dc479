// Package metrics publishes the engine's counters as Prometheus series
// (spec.md §6 "Internal metrics"). Adapted from the connection server's
// monitoring package: package-level collectors registered once,
// exported via promhttp on a dedicated listener.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	requestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "varserver_requests_total",
		Help: "Total number of requests dispatched by the engine",
	})

	requestsByKind = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "varserver_requests_by_kind_total",
		Help: "Total requests dispatched, broken out by request kind",
	}, []string{"kind"})

	blockedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "varserver_blocked_clients",
		Help: "Clients currently suspended on the blocked queue",
	})

	activeClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "varserver_active_clients",
		Help: "Currently open client connections",
	})

	variablesTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "varserver_variables_total",
		Help: "Currently live canonical variables",
	})

	notifyQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "varserver_notify_queue_depth",
		Help: "Tasks waiting in the notification fan-out worker pool",
	})

	notifyDropped = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "varserver_notify_dropped_total",
		Help: "Cumulative notifications dropped because the fan-out pool queue was full",
	})

	transactionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "varserver_transactions_active",
		Help: "Cross-client transactions currently open (validate/calc/print)",
	})

	admissionRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "varserver_admission_rejected_total",
		Help: "Connections or requests rejected by the admission guard",
	}, []string{"reason"})

	cpuUsagePercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "varserver_cpu_usage_percent",
		Help: "Most recently sampled process CPU usage percentage",
	})

	memoryUsageBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "varserver_memory_usage_bytes",
		Help: "Most recently sampled process resident memory in bytes",
	})
)

func init() {
	prometheus.MustRegister(
		requestsTotal,
		requestsByKind,
		blockedClients,
		activeClients,
		variablesTotal,
		notifyQueueDepth,
		notifyDropped,
		transactionsActive,
		admissionRejected,
		cpuUsagePercent,
		memoryUsageBytes,
	)
}

// RequestObserved records one dispatched request (spec.md §4.6 "every
// op increments a per-op counter").
func RequestObserved(kind string) {
	requestsTotal.Inc()
	requestsByKind.WithLabelValues(kind).Inc()
}

func SetBlockedClients(n int)    { blockedClients.Set(float64(n)) }
func SetActiveClients(n int)     { activeClients.Set(float64(n)) }
func SetVariablesTotal(n int)    { variablesTotal.Set(float64(n)) }
func SetNotifyQueueDepth(n int)  { notifyQueueDepth.Set(float64(n)) }
func SetNotifyDropped(n int64)   { notifyDropped.Set(float64(n)) }
func SetTransactionsActive(n int) { transactionsActive.Set(float64(n)) }
func AdmissionRejected(reason string) { admissionRejected.WithLabelValues(reason).Inc() }
func SetCPUUsagePercent(p float64)    { cpuUsagePercent.Set(p) }
func SetMemoryUsageBytes(b uint64)    { memoryUsageBytes.Set(float64(b)) }

// Serve starts the Prometheus scrape endpoint on addr. It blocks until
// the listener fails or the process exits; callers run it in its own
// goroutine.
func Serve(addr string, log zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Info().Str("addr", addr).Msg("metrics listener starting")
	return http.ListenAndServe(addr, mux)
}
