package observability

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total requests by endpoint, method, and status.",
		},
		[]string{"endpoint", "method", "status"},
	)

	SamplesProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ems_samples_processed_total",
		Help: "Telemetry samples committed through the pipeline.",
	})

	PipelineFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ems_pipeline_failures_total",
		Help: "Pipeline runs rolled back by a persistence failure.",
	})

	AggregatesWritten = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ems_aggregates_written_total",
		Help: "Aggregate records written, seeds included.",
	})

	PublishFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ems_publish_failures_total",
		Help: "Fan-out events dropped because publishing failed.",
	})
)

func init() {
	prometheus.MustRegister(requestCounter, SamplesProcessed, PipelineFailures, AggregatesWritten, PublishFailures)
}

// PromHandler serves the metrics endpoint.
func PromHandler() http.Handler {
	return promhttp.Handler()
}

// RequestMetrics counts every request by route pattern, method and status.
func RequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				endpoint = pattern
			}
		}
		requestCounter.WithLabelValues(endpoint, r.Method, strconv.Itoa(ww.Status())).Inc()
	})
}
