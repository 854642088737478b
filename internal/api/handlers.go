package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/star/fpgeom/internal/focalplane"
	"github.com/star/fpgeom/internal/instrument"
	"github.com/star/fpgeom/internal/locate"
	"github.com/star/fpgeom/internal/metrics"
	"github.com/star/fpgeom/internal/snapshot"
	"github.com/star/fpgeom/internal/zernike"
)

// maxRegistryBytes bounds a registry upload.
const maxRegistryBytes = 1 << 20

type point [2]float64

func toPoint(v r2.Vec) point { return point{v.X, v.Y} }

type sensorJSON struct {
	ID               string  `json:"id"`
	Reference        point   `json:"reference"`
	FocusAlignment   bool    `json:"focus_alignment"`
	HalfExtents      point   `json:"half_extents"`
	Scale            string  `json:"scale"`
	RotationDeg      float64 `json:"rotation_deg"`
	MechanicalOffset float64 `json:"mechanical_offset,omitempty"`
	Extension        int     `json:"extension,omitempty"`
	SensorNumber     int     `json:"sensor_number,omitempty"`
	Footprint        []point `json:"footprint,omitempty"`
}

func newSensorJSON(rec focalplane.SensorRecord) sensorJSON {
	return sensorJSON{
		ID:               rec.ID,
		Reference:        toPoint(rec.Reference),
		FocusAlignment:   rec.FocusAlignment,
		HalfExtents:      toPoint(rec.HalfExtents),
		Scale:            rec.Scale.Kind.String(),
		RotationDeg:      rec.RotationDeg,
		MechanicalOffset: rec.MechanicalOffset,
		Extension:        rec.Extension,
		SensorNumber:     rec.SensorNumber,
	}
}

// bundle resolves the {variant} path parameter. It writes the error response
// itself and returns nil when the variant is unknown or not loaded.
func (s *Server) bundle(w http.ResponseWriter, r *http.Request) *instrument.Bundle {
	v, err := instrument.ParseVariant(chi.URLParam(r, "variant"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return nil
	}
	b := s.store.Get(v)
	if b == nil {
		writeError(w, http.StatusServiceUnavailable, "variant "+string(v)+" is not loaded")
		return nil
	}
	return b
}

func (s *Server) handleVariants(w http.ResponseWriter, r *http.Request) {
	type variantJSON struct {
		Variant   string     `json:"variant"`
		Ready     bool       `json:"ready"`
		Sensors   []string   `json:"sensors,omitempty"`
		UpdatedAt *time.Time `json:"updated_at,omitempty"`
	}

	out := make([]variantJSON, 0)
	for _, v := range s.store.Variants() {
		vj := variantJSON{Variant: string(v)}
		if b := s.store.Get(v); b != nil {
			vj.Ready = true
			vj.Sensors = b.Registry.IDs()
			ts := s.store.UpdatedAt(v).UTC()
			vj.UpdatedAt = &ts
		}
		out = append(out, vj)
	}
	writeJSON(w, http.StatusOK, map[string]any{"variants": out})
}

func (s *Server) handleSensors(w http.ResponseWriter, r *http.Request) {
	b := s.bundle(w, r)
	if b == nil {
		return
	}
	entries := b.Registry.Entries()
	out := make([]sensorJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, newSensorJSON(e.Record))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"variant":      b.Variant,
		"field_center": toPoint(b.Registry.FieldCenter()),
		"clear_radius": b.Registry.ClearRadius(),
		"constants":    b.Registry.Constants(),
		"sensors":      out,
	})
}

func (s *Server) handleSensor(w http.ResponseWriter, r *http.Request) {
	b := s.bundle(w, r)
	if b == nil {
		return
	}
	id := chi.URLParam(r, "id")
	rec, err := b.Registry.Get(id)
	if err != nil {
		writeGeometryError(w, err)
		return
	}

	sj := newSensorJSON(rec)
	if rec.FocusAlignment {
		corners, err := b.Transformer.Footprint(id)
		if err != nil {
			writeGeometryError(w, err)
			return
		}
		for _, c := range corners {
			sj.Footprint = append(sj.Footprint, toPoint(c))
		}
	}
	writeJSON(w, http.StatusOK, sj)
}

func (s *Server) handlePhysical(w http.ResponseWriter, r *http.Request) {
	b := s.bundle(w, r)
	if b == nil {
		return
	}
	ix, iy, err := floatParams(r, "ix", "iy")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := chi.URLParam(r, "id")

	_, span := startSpan(r.Context(), "transform.ToPhysical", string(b.Variant), id)
	pix := r2.Vec{X: ix, Y: iy}
	pos, err := b.Transformer.ToPhysical(id, pix)
	var sky r2.Vec
	if err == nil {
		sky, err = b.Transformer.ToSky(id, pix)
	}
	endSpan(span, err)
	if err != nil {
		writeGeometryError(w, err)
		return
	}
	metrics.ObserveTransform(string(b.Variant), metrics.ToPhysical)

	writeJSON(w, http.StatusOK, map[string]any{
		"sensor":   id,
		"pixel":    toPoint(pix),
		"physical": toPoint(pos),
		"sky":      toPoint(sky),
	})
}

func (s *Server) handlePixel(w http.ResponseWriter, r *http.Request) {
	b := s.bundle(w, r)
	if b == nil {
		return
	}
	x, y, err := floatParams(r, "x", "y")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := chi.URLParam(r, "id")

	_, span := startSpan(r.Context(), "transform.ToPixel", string(b.Variant), id)
	pos := r2.Vec{X: x, Y: y}
	pix, err := b.Transformer.ToPixel(id, pos)
	var on bool
	if err == nil {
		on, err = b.Locator.Contains(id, pix)
	}
	endSpan(span, err)
	if err != nil {
		writeGeometryError(w, err)
		return
	}
	metrics.ObserveTransform(string(b.Variant), metrics.ToPixel)

	writeJSON(w, http.StatusOK, map[string]any{
		"sensor":    id,
		"physical":  toPoint(pos),
		"pixel":     toPoint(pix),
		"on_sensor": on,
	})
}

func (s *Server) handleLocate(w http.ResponseWriter, r *http.Request) {
	b := s.bundle(w, r)
	if b == nil {
		return
	}
	x, y, err := floatParams(r, "x", "y")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	_, span := startSpan(r.Context(), "locate.Locate", string(b.Variant), "")
	pos := r2.Vec{X: x, Y: y}
	id, err := b.Locator.Locate(pos)
	var pix r2.Vec
	if err == nil {
		pix, err = b.Transformer.ToPixel(id, pos)
	}
	if errors.Is(err, locate.ErrNotFound) {
		// Off-sensor points are an expected answer, not a span error.
		endSpan(span, nil)
		metrics.ObserveLocate(string(b.Variant), metrics.Missed, 1)
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	endSpan(span, err)
	if err != nil {
		metrics.ObserveLocate(string(b.Variant), metrics.Failed, 1)
		writeGeometryError(w, err)
		return
	}
	metrics.ObserveLocate(string(b.Variant), metrics.Found, 1)

	writeJSON(w, http.StatusOK, map[string]any{
		"sensor":   id,
		"physical": toPoint(pos),
		"pixel":    toPoint(pix),
	})
}

type batchRequest struct {
	Points []point `json:"points"`
}

type placementJSON struct {
	Point  point  `json:"point"`
	Sensor string `json:"sensor,omitempty"`
	Pixel  *point `json:"pixel,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) handleLocateBatch(w http.ResponseWriter, r *http.Request) {
	b := s.bundle(w, r)
	if b == nil {
		return
	}

	var req batchRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, int64(s.maxBatch)*64+1024))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Points) > s.maxBatch {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":      "too many points",
			"max_points": s.maxBatch,
		})
		return
	}
	points := make([]r2.Vec, len(req.Points))
	for i, p := range req.Points {
		points[i] = r2.Vec{X: p[0], Y: p[1]}
	}

	ctx, span := startSpan(r.Context(), "batch.Locate", string(b.Variant), "")
	placements, sum, err := s.pool.Locate(ctx, b, points)
	endSpan(span, err)
	if err != nil {
		s.logger.Warn("batch locate aborted",
			"component", "api",
			"request_id", requestIDFromContext(r.Context()),
			"points", len(points),
			"error", err,
		)
		writeError(w, http.StatusServiceUnavailable, "batch aborted")
		return
	}

	variant := string(b.Variant)
	metrics.ObserveBatch(variant, len(points))
	metrics.ObserveLocate(variant, metrics.Found, sum.Found)
	metrics.ObserveLocate(variant, metrics.Missed, sum.Missed)
	metrics.ObserveLocate(variant, metrics.Failed, sum.Failed)

	results := make([]placementJSON, len(placements))
	for i, pl := range placements {
		pj := placementJSON{Point: toPoint(pl.Point)}
		switch {
		case pl.Err == nil:
			pj.Sensor = pl.Sensor
			pix := toPoint(pl.Pixel)
			pj.Pixel = &pix
		case errors.Is(pl.Err, locate.ErrNotFound):
			pj.Error = "not on any sensor"
		default:
			pj.Error = pl.Err.Error()
		}
		results[i] = pj
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"found":   sum.Found,
		"missed":  sum.Missed,
		"failed":  sum.Failed,
	})
}

func (s *Server) handleZernike(w http.ResponseWriter, r *http.Request) {
	b := s.bundle(w, r)
	if b == nil {
		return
	}
	family, err := zernike.ParseFamily(r.URL.Query().Get("family"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	a, bb, err := floatParams(r, "a", "b")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := chi.URLParam(r, "id")

	_, span := startSpan(r.Context(), "zernike.RotatePair", string(b.Variant), id)
	ra, rb, err := b.Rotator.RotatePair(family, a, bb, id)
	endSpan(span, err)
	if err != nil {
		writeGeometryError(w, err)
		return
	}
	rec, _ := b.Registry.Get(id)

	writeJSON(w, http.StatusOK, map[string]any{
		"sensor":       id,
		"family":       family.String(),
		"rotation_deg": rec.RotationDeg,
		"input":        point{a, bb},
		"rotated":      point{ra, rb},
	})
}

func (s *Server) handleGetRegistry(w http.ResponseWriter, r *http.Request) {
	b := s.bundle(w, r)
	if b == nil {
		return
	}
	format, err := focalplane.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var buf bytes.Buffer
	if err := focalplane.EncodeState(&buf, b.Registry.State(), format); err != nil {
		s.logger.Error("encoding registry state", "component", "api", "variant", b.Variant, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", contentType(format))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func contentType(f focalplane.Format) string {
	if f == focalplane.FormatYAML {
		return "application/yaml"
	}
	return "application/json"
}

// requestFormat picks the upload format from ?format= or the Content-Type.
func requestFormat(r *http.Request) (focalplane.Format, error) {
	if f := r.URL.Query().Get("format"); f != "" {
		return focalplane.ParseFormat(f)
	}
	if strings.Contains(r.Header.Get("Content-Type"), "yaml") {
		return focalplane.FormatYAML, nil
	}
	return focalplane.FormatJSON, nil
}

func (s *Server) handlePutRegistry(w http.ResponseWriter, r *http.Request) {
	v, err := instrument.ParseVariant(chi.URLParam(r, "variant"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	format, err := requestFormat(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRegistryBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "registry too large")
		return
	}
	st, err := focalplane.DecodeState(bytes.NewReader(data), format)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if st.Variant == "" {
		st.Variant = string(v)
	}
	if st.Variant != string(v) {
		writeError(w, http.StatusUnprocessableEntity, "registry variant "+st.Variant+" does not match path variant "+string(v))
		return
	}

	b, err := instrument.FromState(st)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	s.store.Lock()
	defer s.store.Unlock()

	if s.cache != nil {
		if err := snapshot.Save(s.cache, b, time.Now()); err != nil {
			s.logger.Error("persisting registry snapshot",
				"component", "api",
				"variant", v,
				"error", err,
			)
			writeError(w, http.StatusInternalServerError, "could not persist registry")
			return
		}
	}
	if err := s.store.Set(b); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	metrics.SetRegistrySensors(string(v), b.Registry.Len())

	s.logger.Info("registry replaced",
		"component", "api",
		"request_id", requestIDFromContext(r.Context()),
		"variant", v,
		"sensors", b.Registry.Len(),
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"variant": v,
		"sensors": b.Registry.IDs(),
	})
}
