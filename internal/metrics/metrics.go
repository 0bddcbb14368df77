package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/storyboard/internal/version"
)

type ServerMetrics struct {
	reg                    *prometheus.Registry
	handler                http.Handler
	inflight               prometheus.Gauge
	reqTotal               *prometheus.CounterVec
	reqDur                 *prometheus.HistogramVec
	respBytes              *prometheus.HistogramVec
	errorsTotal            *prometheus.CounterVec
	httpPanicTotal         prometheus.Counter
	buildInfo              *prometheus.GaugeVec
	ratelimitDeniedTotal   prometheus.Counter
	ratelimitCapacityTotal prometheus.Counter
	profilingActive        prometheus.Gauge

	// storyboard store metrics
	storeOpsTotal      *prometheus.CounterVec
	contentBytesTotal  *prometheus.CounterVec
	lastWriteTs        prometheus.Gauge
	mirrorUploadsTotal *prometheus.CounterVec
	mirrorDuration     prometheus.Histogram
	mirrorLastSuccess  prometheus.Gauge
}

// New returns a fresh registry + standard collectors + HTTP metrics
// safe labels only (method, route, code) to avoid path/cardinality explosions
func New() *ServerMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &ServerMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304},
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route (SLI)",
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered httpserver panics",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		ratelimitDeniedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_total",
			Help: "Total requests rejected by rate limiter",
		}),
		ratelimitCapacityTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_requests_rate_limited_capacity_total",
			Help: "Total number of times rate limiter capacity reached",
		}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
		storeOpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storyboard_operations_total",
			Help: "Store operations by op (read, render, write, append) and result",
		}, []string{"op", "result"}),
		contentBytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storyboard_content_bytes_written_total",
			Help: "Bytes written to the storage file by op (write, append)",
		}, []string{"op"}),
		lastWriteTs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "storyboard_last_write_timestamp_seconds",
			Help: "Unix timestamp of the last successful write to the storage file",
		}),
		mirrorUploadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storyboard_mirror_uploads_total",
			Help: "Storage file uploads to S3 by result (ok, error)",
		}, []string{"result"}),
		mirrorDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "storyboard_mirror_upload_duration_seconds",
			Help:    "Time to read and upload the storage file",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		mirrorLastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "storyboard_mirror_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful mirror upload",
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.errorsTotal,
		m.httpPanicTotal,
		m.buildInfo,
		m.ratelimitDeniedTotal,
		m.ratelimitCapacityTotal,
		m.profilingActive,
		m.storeOpsTotal,
		m.contentBytesTotal,
		m.lastWriteTs,
		m.mirrorUploadsTotal,
		m.mirrorDuration,
		m.mirrorLastSuccess,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *ServerMetrics) Handler() http.Handler {
	return m.handler
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *ServerMetrics) Registry() *prometheus.Registry {
	return m.reg
}

func (m *ServerMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

// set once at startup.
func (m *ServerMetrics) SetBuildInfoFromVersion(app, component string, vi version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *ServerMetrics) IncRateLimitDenied() {
	m.ratelimitDeniedTotal.Inc()
}

func (m *ServerMetrics) IncRateLimitCapacity() {
	m.ratelimitCapacityTotal.Inc()
}

func (m *ServerMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
	} else {
		m.profilingActive.Set(0)
	}
}

// IncStoreOp counts one store operation. result is "ok" or an error kind label.
func (m *ServerMetrics) IncStoreOp(op, result string) {
	m.storeOpsTotal.WithLabelValues(op, result).Inc()
}

// ObserveWrite records a successful write or append of n bytes.
func (m *ServerMetrics) ObserveWrite(op string, n int, at time.Time) {
	m.contentBytesTotal.WithLabelValues(op).Add(float64(n))
	m.lastWriteTs.Set(float64(at.Unix()))
}

// ObserveMirror records one mirror upload attempt.
func (m *ServerMetrics) ObserveMirror(d time.Duration, err error) {
	m.mirrorDuration.Observe(d.Seconds())
	if err != nil {
		m.mirrorUploadsTotal.WithLabelValues("error").Inc()
		return
	}
	m.mirrorUploadsTotal.WithLabelValues("ok").Inc()
	m.mirrorLastSuccess.SetToCurrentTime()
}
