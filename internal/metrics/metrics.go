package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes application metrics that are safe to scrape via Prometheus.
type Metrics struct {
	registry            *prometheus.Registry
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	rpcRequests         *prometheus.CounterVec
	logins              *prometheus.CounterVec
	scanRuns            *prometheus.CounterVec
	scanRunDuration     *prometheus.HistogramVec
	scanFilesUpserted   prometheus.Counter
	scanFilesDeleted    prometheus.Counter
}

// New creates a fresh Metrics registry with HTTP, device and scan metrics registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ipcmanview",
		Name:      "http_requests_total",
		Help:      "Count of HTTP requests processed by core-go",
	}, []string{"method", "path", "status"})

	httpRequestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ipcmanview",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests served by core-go",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	rpcRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ipcmanview",
		Name:      "rpc_requests_total",
		Help:      "Count of RPC calls sent to cameras",
	}, []string{"method", "outcome"})

	logins := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ipcmanview",
		Name:      "logins_total",
		Help:      "Count of camera login attempts",
	}, []string{"outcome"})

	scanRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ipcmanview",
		Name:      "scan_runs_total",
		Help:      "Total number of scan runs finished",
	}, []string{"kind", "result"})

	scanRunDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ipcmanview",
		Name:      "scan_run_duration_seconds",
		Help:      "Duration of scan runs from claim to end",
		Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200, 3600},
	}, []string{"kind"})

	scanFilesUpserted := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ipcmanview",
		Name:      "scan_files_upserted_total",
		Help:      "Total number of camera files inserted or refreshed by scans",
	})

	scanFilesDeleted := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ipcmanview",
		Name:      "scan_files_deleted_total",
		Help:      "Total number of stale camera files removed by scans",
	})

	registry.MustRegister(
		httpRequests,
		httpRequestDuration,
		rpcRequests,
		logins,
		scanRuns,
		scanRunDuration,
		scanFilesUpserted,
		scanFilesDeleted,
	)

	return &Metrics{
		registry:            registry,
		httpRequests:        httpRequests,
		httpRequestDuration: httpRequestDuration,
		rpcRequests:         rpcRequests,
		logins:              logins,
		scanRuns:            scanRuns,
		scanRunDuration:     scanRunDuration,
		scanFilesUpserted:   scanFilesUpserted,
		scanFilesDeleted:    scanFilesDeleted,
	}
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// ObserveRPC records one call sent to a camera. outcome is "ok" or "error".
func (m *Metrics) ObserveRPC(method string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.rpcRequests.WithLabelValues(method, outcome).Inc()
}

// IncLogin counts a login attempt by outcome ("ok", "blocked", "error").
func (m *Metrics) IncLogin(outcome string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(outcome).Inc()
}

// ObserveScanRun records a finished scan run.
func (m *Metrics) ObserveScanRun(kind string, success bool, duration time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.scanRuns.WithLabelValues(kind, result).Inc()
	m.scanRunDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func (m *Metrics) AddScanFiles(upserted, deleted int64) {
	if m == nil {
		return
	}
	m.scanFilesUpserted.Add(float64(upserted))
	m.scanFilesDeleted.Add(float64(deleted))
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
