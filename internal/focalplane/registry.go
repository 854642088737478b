// Package focalplane holds the calibration records of a multi-sensor focal
// plane and the ordered registry they live in.
//
// A Registry is built once per instrument variant and is immutable
// afterwards, so it can be shared across goroutines without locking. Every
// record's scale model is validated and compiled into a LinearMap at
// construction, so per-call transforms never re-inspect the sensor id.
package focalplane

import (
	"fmt"
	"maps"
	"math"
	"slices"

	"gonum.org/v1/gonum/spatial/r2"
)

// SensorRecord is the calibration of one physical sensor.
type SensorRecord struct {
	ID string

	// Reference is the physical coordinate of the sensor center, in the
	// absolute frame (the registry FieldCenter is subtracted on transform).
	Reference r2.Vec

	// FocusAlignment marks sensors the transform model supports.
	FocusAlignment bool

	// HalfExtents is (half-width, half-height) in pixels. The valid pixel
	// box is [0, 2*HalfExtents.X] x [0, 2*HalfExtents.Y].
	HalfExtents r2.Vec

	Scale ScaleModel

	// RotationDeg is the angle from the sensor frame to the fiducial frame,
	// counter-clockwise positive.
	RotationDeg float64

	// Descriptive only.
	MechanicalOffset float64
	Extension        int
	SensorNumber     int
}

// Entry pairs a record with its compiled linear map.
type Entry struct {
	Record SensorRecord
	Map    LinearMap
}

// Config carries the registry-wide values that are not per-sensor.
type Config struct {
	Variant     string
	FieldCenter r2.Vec
	ClearRadius float64
	Constants   map[string]float64
}

// Registry is an insertion-ordered, immutable mapping from sensor id to
// calibration record.
type Registry struct {
	cfg     Config
	entries []Entry
	index   map[string]int
}

// NewRegistry validates and compiles the given records. Records keep the
// order they are passed in; that order is the tie-break for sensor lookup.
func NewRegistry(cfg Config, records ...SensorRecord) (*Registry, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: registry %q has no sensors", ErrInvalidCalibration, cfg.Variant)
	}

	r := &Registry{
		cfg:     cfg,
		entries: make([]Entry, 0, len(records)),
		index:   make(map[string]int, len(records)),
	}
	r.cfg.Constants = maps.Clone(cfg.Constants)

	for _, rec := range records {
		if rec.ID == "" {
			return nil, fmt.Errorf("%w: empty sensor id", ErrInvalidCalibration)
		}
		if _, dup := r.index[rec.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate sensor id %q", ErrInvalidCalibration, rec.ID)
		}
		if !(rec.HalfExtents.X > 0) || !(rec.HalfExtents.Y > 0) {
			return nil, fmt.Errorf("%w: sensor %q half extents %v", ErrInvalidCalibration, rec.ID, rec.HalfExtents)
		}
		if !finite(rec.Reference.X) || !finite(rec.Reference.Y) {
			return nil, fmt.Errorf("%w: sensor %q reference %v", ErrInvalidCalibration, rec.ID, rec.Reference)
		}
		m, err := rec.Scale.compile()
		if err != nil {
			return nil, fmt.Errorf("sensor %q: %w", rec.ID, err)
		}
		r.index[rec.ID] = len(r.entries)
		r.entries = append(r.entries, Entry{Record: rec, Map: m})
	}

	return r, nil
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

// Get returns the record for id.
func (r *Registry) Get(id string) (SensorRecord, error) {
	e, err := r.Lookup(id)
	if err != nil {
		return SensorRecord{}, err
	}
	return e.Record, nil
}

// Lookup returns the record and compiled map for id.
func (r *Registry) Lookup(id string) (Entry, error) {
	i, ok := r.index[id]
	if !ok {
		return Entry{}, fmt.Errorf("sensor %q: %w", id, ErrUnknownSensor)
	}
	return r.entries[i], nil
}

// IDs returns the sensor ids in registry order.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.entries))
	for i, e := range r.entries {
		ids[i] = e.Record.ID
	}
	return ids
}

// Entries returns a copy of all entries in registry order.
func (r *Registry) Entries() []Entry {
	return slices.Clone(r.entries)
}

// Len returns the number of sensors.
func (r *Registry) Len() int { return len(r.entries) }

// Variant returns the instrument variant name the registry was built for.
func (r *Registry) Variant() string { return r.cfg.Variant }

// FieldCenter returns the nominal field center subtracted from reference
// positions when producing physical coordinates.
func (r *Registry) FieldCenter() r2.Vec { return r.cfg.FieldCenter }

// ClearRadius returns the vignetting radius constant.
func (r *Registry) ClearRadius() float64 { return r.cfg.ClearRadius }

// Constant returns a named scale constant.
func (r *Registry) Constant(name string) (float64, bool) {
	v, ok := r.cfg.Constants[name]
	return v, ok
}

// Constants returns a copy of all named scale constants.
func (r *Registry) Constants() map[string]float64 {
	return maps.Clone(r.cfg.Constants)
}
