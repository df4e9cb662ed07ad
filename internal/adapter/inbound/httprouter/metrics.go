package httprouter

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments the router records against every
// proxied exchange. Grounded on the teacher's Metrics/MetricsMiddleware,
// relabeled from a single-upstream proxy's counters to this gateway's
// per-server ones.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewMetrics registers the gateway's request metrics against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "mcp_gateway",
				Name:      "requests_total",
				Help:      "Total number of proxied MCP requests",
			},
			[]string{"server", "status"},
		),
		RequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "mcp_gateway",
				Name:      "request_duration_seconds",
				Help:      "Proxied MCP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"server"},
		),
	}
}

// MetricsMiddleware records request count and duration labeled by the
// {name} path value. A nil metrics disables recording.
func MetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			server := r.PathValue("name")
			metrics.RequestDuration.WithLabelValues(server).Observe(time.Since(start).Seconds())
			metrics.RequestsTotal.WithLabelValues(server, statusToLabel(wrapped.status)).Inc()
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func statusToLabel(code int) string {
	if code >= 200 && code < 400 {
		return "ok"
	}
	return "error"
}
