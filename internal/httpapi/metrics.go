package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

var routeLabels = []string{"route", "method", "code"}

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inferd",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route, method and status code.",
	}, routeLabels)

	requestSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "inferd",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, routeLabels)

	inflightRequests = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "inferd",
		Subsystem: "http",
		Name:      "inflight_requests",
		Help:      "HTTP requests currently being served.",
	}, []string{"method"})

	// errorsTotal counts serving errors answered by writeError. Admission
	// rejections show up as kind="concurrency", code="429".
	errorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "inferd",
		Subsystem: "http",
		Name:      "errors_total",
		Help:      "Serving errors by error kind and status code.",
	}, []string{"kind", "code"})
)

func init() {
	prometheus.MustRegister(requestsTotal, requestSeconds, inflightRequests, errorsTotal)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (sr *statusRecorder) Unwrap() http.ResponseWriter { return sr.ResponseWriter }

// MetricsMiddleware records request counts and latency. The route label is
// the chi pattern, read after routing so model names never become labels.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inflight := inflightRequests.WithLabelValues(r.Method)
		inflight.Inc()
		defer inflight.Dec()

		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sr, r)

		labels := prometheus.Labels{"route": routeLabel(r), "method": r.Method, "code": strconv.Itoa(sr.status)}
		requestsTotal.With(labels).Inc()
		requestSeconds.With(labels).Observe(time.Since(start).Seconds())
	})
}

// routeLabel is the matched chi pattern, "unmatched" for router misses, or
// the raw path when no router is involved.
func routeLabel(r *http.Request) string {
	rc := chi.RouteContext(r.Context())
	if rc == nil {
		return r.URL.Path
	}
	if p := rc.RoutePattern(); p != "" {
		return p
	}
	return "unmatched"
}

func countError(kind string, status int) {
	if kind == "" {
		kind = "unknown"
	}
	errorsTotal.WithLabelValues(kind, strconv.Itoa(status)).Inc()
}
