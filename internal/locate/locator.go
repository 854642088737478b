// Package locate finds which sensor of a focal plane contains a physical
// coordinate.
package locate

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/star/fpgeom/internal/focalplane"
	"github.com/star/fpgeom/internal/transform"
)

// ErrNotFound is returned when no sensor contains the point. It is an
// expected outcome for points outside instrument coverage.
var ErrNotFound = errors.New("point is not on any sensor")

// boundsSlack absorbs floating-point round-off of the inverse transform so
// that a point computed from an edge pixel stays on that edge.
const boundsSlack = 1e-9

// Locator tests sensors in registry order and returns the first that
// contains a point. Sensor footprints are not expected to overlap; when a
// malformed registry makes them overlap, registry order decides.
type Locator struct {
	tr       *transform.Transformer
	strategy strategy
}

// Option configures a Locator.
type Option func(*Locator)

// WithCenterBox replaces the inverse-transform test with a coarse one: a
// point belongs to a sensor when its distance from the sensor reference,
// divided by scale, is at most halfBox pixels on both axes. Use it only for
// sensor classes that lack a well-defined inverse transform.
func WithCenterBox(scale, halfBox float64) Option {
	return func(l *Locator) {
		l.strategy = centerBox{scale: scale, halfBox: halfBox}
	}
}

// New returns a Locator over the transformer's registry. The default
// strategy maps the point onto every sensor with ToPixel and checks the
// inclusive pixel box.
func New(tr *transform.Transformer, opts ...Option) *Locator {
	l := &Locator{tr: tr, strategy: pixelBox{tr: tr}}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Locate returns the id of the first sensor, in registry order, that
// contains pos. It returns ErrNotFound when none does.
func (l *Locator) Locate(pos r2.Vec) (string, error) {
	reg := l.tr.Registry()
	for _, e := range reg.Entries() {
		ok, err := l.strategy.contains(reg, e, pos)
		if err != nil {
			return "", err
		}
		if ok {
			return e.Record.ID, nil
		}
	}
	return "", fmt.Errorf("(%g, %g): %w", pos.X, pos.Y, ErrNotFound)
}

// Contains reports whether pix lies inside the pixel box of sensor id,
// edges included.
func (l *Locator) Contains(id string, pix r2.Vec) (bool, error) {
	rec, err := l.tr.Registry().Get(id)
	if err != nil {
		return false, err
	}
	return inBox(rec, pix), nil
}

func inBox(rec focalplane.SensorRecord, pix r2.Vec) bool {
	w, h := 2*rec.HalfExtents.X, 2*rec.HalfExtents.Y
	return pix.X >= -boundsSlack && pix.X <= w+boundsSlack &&
		pix.Y >= -boundsSlack && pix.Y <= h+boundsSlack
}

type strategy interface {
	contains(reg *focalplane.Registry, e focalplane.Entry, pos r2.Vec) (bool, error)
}

type pixelBox struct {
	tr *transform.Transformer
}

func (s pixelBox) contains(_ *focalplane.Registry, e focalplane.Entry, pos r2.Vec) (bool, error) {
	pix, err := s.tr.ToPixel(e.Record.ID, pos)
	if err != nil {
		return false, err
	}
	return inBox(e.Record, pix), nil
}

type centerBox struct {
	scale   float64
	halfBox float64
}

func (s centerBox) contains(reg *focalplane.Registry, e focalplane.Entry, pos r2.Vec) (bool, error) {
	if !e.Record.FocusAlignment {
		return false, fmt.Errorf("sensor %q: %w", e.Record.ID, focalplane.ErrUnsupportedSensorKind)
	}
	fc := reg.FieldCenter()
	nx := math.Abs((pos.X - e.Record.Reference.X + fc.X) / s.scale)
	ny := math.Abs((pos.Y - e.Record.Reference.Y + fc.Y) / s.scale)
	return nx <= s.halfBox && ny <= s.halfBox, nil
}
