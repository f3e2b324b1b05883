// Package metrics exports per-model serving metrics to Prometheus.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"inferd/internal/errdefs"
)

const namespace = "inferd"

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "requests_total",
			Help:      "Inference requests by outcome",
		},
		[]string{"model", "version", "api", "outcome"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "request_duration_seconds",
			Help:      "End-to-end inference request time inside the serving core",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"model", "version", "api"},
	)

	waitForContext = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "wait_for_infer_req_seconds",
			Help:      "Time spent waiting for a free execution context",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"model", "version"},
	)

	inferenceTime = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "inference_seconds",
			Help:      "Time spent in the execution engine",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"model", "version"},
	)

	activeContexts = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "infer_req_active",
			Help:      "Execution contexts currently leased",
		},
		[]string{"model", "version"},
	)

	poolSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "infer_req_queue_size",
			Help:      "Execution contexts in the pool",
		},
		[]string{"model", "version"},
	)

	liveSequences = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "sequences",
			Help:      "Live sequences of stateful models",
		},
		[]string{"model", "version"},
	)

	reloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "reloads_total",
			Help:      "Completed reloads",
		},
		[]string{"model", "version"},
	)
)

func init() {
	prometheus.MustRegister(
		requestsTotal, requestDuration, waitForContext, inferenceTime,
		activeContexts, poolSize, liveSequences, reloadsTotal,
	)
}

// Reporter records metrics for one model version. A nil Reporter drops
// everything.
type Reporter struct {
	model   string
	version string
}

// For returns the reporter for name and version.
func For(name string, version int64) *Reporter {
	return &Reporter{model: name, version: strconv.FormatInt(version, 10)}
}

// Request counts one finished request. api names the calling path, e.g.
// "sync" or "async".
func (r *Reporter) Request(api string, err error, d time.Duration) {
	if r == nil {
		return
	}
	requestsTotal.WithLabelValues(r.model, r.version, api, Outcome(err)).Inc()
	requestDuration.WithLabelValues(r.model, r.version, api).Observe(d.Seconds())
}

// WaitForContext records how long a request waited for an execution lease.
func (r *Reporter) WaitForContext(d time.Duration) {
	if r == nil {
		return
	}
	waitForContext.WithLabelValues(r.model, r.version).Observe(d.Seconds())
}

// Inference records engine time.
func (r *Reporter) Inference(d time.Duration) {
	if r == nil {
		return
	}
	inferenceTime.WithLabelValues(r.model, r.version).Observe(d.Seconds())
}

// ContextAcquired and ContextReleased track leased contexts.
func (r *Reporter) ContextAcquired() {
	if r != nil {
		activeContexts.WithLabelValues(r.model, r.version).Inc()
	}
}

func (r *Reporter) ContextReleased() {
	if r != nil {
		activeContexts.WithLabelValues(r.model, r.version).Dec()
	}
}

// PoolSize publishes the current pool capacity.
func (r *Reporter) PoolSize(n int) {
	if r != nil {
		poolSize.WithLabelValues(r.model, r.version).Set(float64(n))
	}
}

// Reloaded counts one completed reload.
func (r *Reporter) Reloaded() {
	if r != nil {
		reloadsTotal.WithLabelValues(r.model, r.version).Inc()
	}
}

// Sequences returns the live-sequence gauge for this model version.
func (r *Reporter) Sequences() prometheus.Gauge {
	return liveSequences.WithLabelValues(r.model, r.version)
}

// Forget drops all series of this model version.
func (r *Reporter) Forget() {
	if r == nil {
		return
	}
	labels := prometheus.Labels{"model": r.model, "version": r.version}
	for _, v := range []interface {
		DeletePartialMatch(prometheus.Labels) int
	}{requestsTotal, requestDuration, waitForContext, inferenceTime, activeContexts, poolSize, liveSequences, reloadsTotal} {
		v.DeletePartialMatch(labels)
	}
}

// Outcome maps err to a low-cardinality label.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return errdefs.KindOf(err).String()
}
