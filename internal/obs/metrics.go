package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	initOnce sync.Once

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	grpcRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grpc_requests_total",
			Help: "Total number of gRPC calls by method and status code.",
		},
		[]string{"method", "code"},
	)

	loginsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_logins_total",
			Help: "Login attempts by result.",
		},
		[]string{"result"},
	)

	refreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_refresh_total",
			Help: "Refresh token rotations by result.",
		},
		[]string{"result"},
	)

	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_decisions_total",
			Help: "Authorization decisions by strategy and result.",
		},
		[]string{"strategy", "result"},
	)
)

// Init registers the service metrics in the default registry. Safe to call repeatedly.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			grpcRequestsTotal, loginsTotal, refreshTotal, decisionsTotal,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Instrument records request count, latency and in-flight gauge.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// ObserveGRPC counts a finished gRPC call.
func ObserveGRPC(fullMethod, code string) {
	grpcRequestsTotal.WithLabelValues(fullMethod, code).Inc()
}

// AuthMetrics feeds auth outcomes into Prometheus counters.
type AuthMetrics struct{}

func (AuthMetrics) Login(result string)   { loginsTotal.WithLabelValues(result).Inc() }
func (AuthMetrics) Refresh(result string) { refreshTotal.WithLabelValues(result).Inc() }

func (AuthMetrics) Decision(strategy string, allowed bool) {
	result := "deny"
	if allowed {
		result = "allow"
	}
	decisionsTotal.WithLabelValues(strategy, result).Inc()
}

// routePatterns are matched in order; literal segments must come before
// parameters at the same depth.
var routePatterns = [][]string{
	{"v1", "roles", ":code", "permissions", "category"},
	{"v1", "roles", ":code", "permissions", ":permission"},
	{"v1", "roles", ":code", "permissions"},
	{"v1", "roles", ":code"},
	{"v1", "tenants", ":tenantId", "members"},
	{"v1", "tenants", ":tenantId", "users", ":userId", "roles"},
	{"v1", "users", ":userId", "status"},
}

// CanonicalPath replaces identifiers in known routes with placeholders to
// keep metric label cardinality bounded.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	segs := strings.Split(strings.Trim(p, "/"), "/")
	for _, pattern := range routePatterns {
		if matchSegments(pattern, segs) {
			return "/" + strings.Join(pattern, "/")
		}
	}
	return p
}

func matchSegments(pattern, segs []string) bool {
	if len(pattern) != len(segs) {
		return false
	}
	for i, part := range pattern {
		if strings.HasPrefix(part, ":") {
			if segs[i] == "" {
				return false
			}
			continue
		}
		if part != segs[i] {
			return false
		}
	}
	return true
}

type statusWriter struct {
	http.ResponseWriter
	code        int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.code = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
