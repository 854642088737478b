package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/star/fpgeom/internal/focalplane"
	"github.com/star/fpgeom/internal/locate"
	"github.com/star/fpgeom/internal/zernike"
)

const tracerName = "github.com/star/fpgeom/internal/api"

type ctxKey int

const requestIDKey ctxKey = 0

// requestIDMiddleware tags every request with an id, reusing the caller's
// X-Request-ID when it sends one.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// startSpan starts a span for a geometry query. It is a no-op unless the
// host process installs a tracer provider.
func startSpan(ctx context.Context, name, variant, sensor string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attribute.String("fpgeom.variant", variant)}
	if sensor != "" {
		attrs = append(attrs, attribute.String("fpgeom.sensor", sensor))
	}
	if id := requestIDFromContext(ctx); id != "" {
		attrs = append(attrs, attribute.String("request_id", id))
	}
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps geometry errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, focalplane.ErrUnknownSensor), errors.Is(err, locate.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, focalplane.ErrUnsupportedSensorKind),
		errors.Is(err, focalplane.ErrInvalidCalibration),
		errors.Is(err, focalplane.ErrDegenerateTransform),
		errors.Is(err, zernike.ErrUndefinedPhase):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeGeometryError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeError(w, status, msg)
}

// floatParam reads a required, finite float query parameter.
func floatParam(r *http.Request, name string) (float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, fmt.Errorf("missing query parameter %q", name)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("query parameter %q must be a finite number", name)
	}
	return v, nil
}

func floatParams(r *http.Request, a, b string) (float64, float64, error) {
	x, err := floatParam(r, a)
	if err != nil {
		return 0, 0, err
	}
	y, err := floatParam(r, b)
	if err != nil {
		return 0, 0, err
	}
	return x, y, nil
}
