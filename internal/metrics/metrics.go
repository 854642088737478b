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
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fpgeom_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fpgeom_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	transformTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fpgeom_transform_total",
			Help: "Coordinate transforms served, by direction.",
		},
		[]string{"variant", "direction"},
	)

	locateTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fpgeom_locate_total",
			Help: "Point lookups, by result (found, missed, error).",
		},
		[]string{"variant", "result"},
	)

	batchPoints = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fpgeom_batch_points",
			Help:    "Points per batch locate request.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
		[]string{"variant"},
	)

	registrySensors = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fpgeom_registry_sensors",
			Help: "Sensors in the live registry.",
		},
		[]string{"variant"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpDurationSeconds)
	prometheus.MustRegister(transformTotal)
	prometheus.MustRegister(locateTotal)
	prometheus.MustRegister(batchPoints)
	prometheus.MustRegister(registrySensors)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Transform directions.
const (
	ToPhysical = "to_physical"
	ToPixel    = "to_pixel"
)

// Locate results.
const (
	Found  = "found"
	Missed = "missed"
	Failed = "error"
)

// ObserveTransform counts one transform in the given direction.
func ObserveTransform(variant, direction string) {
	transformTotal.WithLabelValues(variant, direction).Inc()
}

// ObserveLocate adds n lookups with the given result.
func ObserveLocate(variant, result string, n int) {
	if n <= 0 {
		return
	}
	locateTotal.WithLabelValues(variant, result).Add(float64(n))
}

// ObserveBatch records the size of a batch request.
func ObserveBatch(variant string, points int) {
	batchPoints.WithLabelValues(variant).Observe(float64(points))
}

// SetRegistrySensors publishes the sensor count of a newly installed registry.
func SetRegistrySensors(variant string, n int) {
	registrySensors.WithLabelValues(variant).Set(float64(n))
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		route := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(route, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(route, r.Method).Observe(duration)
	})
}

var exactRoutes = map[string]bool{
	"/":                true,
	"/healthz":         true,
	"/readyz":          true,
	"/metrics":         true,
	"/api/v1/variants": true,
}

// variantRoutes are the routes under /api/v1/{variant}/, with the sensor id
// segment written as "*".
var variantRoutes = map[string]string{
	"sensors":            "/sensors",
	"sensors/*":          "/sensors/{id}",
	"sensors/*/physical": "/sensors/{id}/physical",
	"sensors/*/pixel":    "/sensors/{id}/pixel",
	"sensors/*/zernike":  "/sensors/{id}/zernike",
	"locate":             "/locate",
	"locate/batch":       "/locate/batch",
	"registry":           "/registry",
}

// normalizeRoute maps a request path onto its route template so that the
// path label has bounded cardinality. Unknown paths collapse to "other".
func normalizeRoute(path string) string {
	if exactRoutes[path] {
		return path
	}
	rest, ok := strings.CutPrefix(path, "/api/v1/")
	if !ok {
		return "other"
	}
	variant, rest, ok := strings.Cut(rest, "/")
	if !ok || variant == "" {
		return "other"
	}
	segs := strings.Split(rest, "/")
	if len(segs) >= 2 && segs[0] == "sensors" && segs[1] != "" {
		segs[1] = "*"
	}
	tmpl, ok := variantRoutes[strings.Join(segs, "/")]
	if !ok {
		return "other"
	}
	return "/api/v1/{variant}" + tmpl
}
