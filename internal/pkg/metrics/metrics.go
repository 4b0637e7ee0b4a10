// Package metrics exposes the Prometheus collectors of the proxy, the HTTP
// layer and the capture worker.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "serenity"

// Recorder owns every collector, registered on its own registry.
type Recorder struct {
	reg *prom.Registry

	renderDuration *prom.HistogramVec
	renders        *prom.CounterVec
	upstream       *prom.CounterVec
	retries        *prom.CounterVec
	httpDuration   *prom.HistogramVec
	httpRequests   *prom.CounterVec
	captures       *prom.CounterVec
}

// New creates a Recorder. A nil registry gets a fresh one with the Go and
// process collectors.
func New(reg *prom.Registry) *Recorder {
	if reg == nil {
		reg = prom.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	r := &Recorder{
		reg: reg,
		renderDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "render_duration_seconds",
			Help:      "Duration of render requests including the scrape retry",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"type", "outcome"}),
		renders: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "renders_total",
			Help:      "Render requests by type and outcome",
		}, []string{"type", "outcome"}),
		upstream: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_responses_total",
			Help:      "Provider responses by endpoint and status code",
		}, []string{"endpoint", "code"}),
		retries: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_retries_total",
			Help:      "Provider calls reissued after a transient failure",
		}, []string{"endpoint"}),
		httpDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Inbound HTTP request duration",
			Buckets:   prom.DefBuckets,
		}, []string{"method", "route"}),
		httpRequests: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Inbound HTTP requests by route and status code",
		}, []string{"method", "route", "code"}),
		captures: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "captures_processed_total",
			Help:      "Capture jobs finished by the worker, by final status",
		}, []string{"status"}),
	}

	reg.MustRegister(r.renderDuration, r.renders, r.upstream, r.retries,
		r.httpDuration, r.httpRequests, r.captures)
	return r
}

// Registry returns the registry the collectors live on.
func (r *Recorder) Registry() *prom.Registry {
	return r.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

func (r *Recorder) ObserveRender(typ, outcome string, elapsed time.Duration) {
	r.renders.WithLabelValues(typ, outcome).Inc()
	r.renderDuration.WithLabelValues(typ, outcome).Observe(elapsed.Seconds())
}

func (r *Recorder) ObserveUpstream(endpoint string, status int) {
	r.upstream.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
}

func (r *Recorder) IncRetry(endpoint string) {
	r.retries.WithLabelValues(endpoint).Inc()
}

// IncCapture counts a capture job reaching a final status.
func (r *Recorder) IncCapture(status string) {
	r.captures.WithLabelValues(status).Inc()
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Middleware records inbound request counts and durations by chi route
// pattern, so path parameters do not explode label cardinality.
func (r *Recorder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}

		next.ServeHTTP(sw, req)

		route := "unmatched"
		if rctx := chi.RouteContext(req.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		if sw.status == 0 {
			sw.status = http.StatusOK
		}
		r.httpRequests.WithLabelValues(req.Method, route, strconv.Itoa(sw.status)).Inc()
		r.httpDuration.WithLabelValues(req.Method, route).Observe(time.Since(start).Seconds())
	})
}
