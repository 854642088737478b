package transform

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/star/fpgeom/internal/focalplane"
)

// Transformer maps between pixel coordinates on a named sensor and physical
// coordinates on the focal plane. It holds no state of its own beyond the
// registry it reads from, so it is safe for concurrent use.
//
// Pixel coordinates are zero-based image pixels with overscan already
// removed. Physical coordinates are relative to the registry field center;
// ToSky and FromSky work in the absolute frame instead.
type Transformer struct {
	reg *focalplane.Registry
}

// New returns a Transformer over reg.
func New(reg *focalplane.Registry) *Transformer {
	return &Transformer{reg: reg}
}

// Registry returns the registry the transformer reads from.
func (t *Transformer) Registry() *focalplane.Registry {
	return t.reg
}

// entry resolves id and rejects sensor kinds the model does not cover.
func (t *Transformer) entry(id string) (focalplane.Entry, error) {
	e, err := t.reg.Lookup(id)
	if err != nil {
		return e, err
	}
	if !e.Record.FocusAlignment {
		return e, fmt.Errorf("sensor %q: %w", id, focalplane.ErrUnsupportedSensorKind)
	}
	return e, nil
}

// ToPhysical returns the physical coordinate of pixel pix on sensor id.
// Pixels outside the sensor box extrapolate linearly.
func (t *Transformer) ToPhysical(id string, pix r2.Vec) (r2.Vec, error) {
	e, err := t.entry(id)
	if err != nil {
		return r2.Vec{}, err
	}
	return t.forward(e, pix), nil
}

// ToPixel returns the fractional pixel coordinate on sensor id of the
// physical coordinate pos. It is the exact inverse of ToPhysical; the result
// is not rounded and may fall outside the sensor box.
func (t *Transformer) ToPixel(id string, pos r2.Vec) (r2.Vec, error) {
	e, err := t.entry(id)
	if err != nil {
		return r2.Vec{}, err
	}
	return t.inverse(e, pos), nil
}

// ToSky is ToPhysical with the field center added back.
func (t *Transformer) ToSky(id string, pix r2.Vec) (r2.Vec, error) {
	pos, err := t.ToPhysical(id, pix)
	if err != nil {
		return r2.Vec{}, err
	}
	return r2.Add(pos, t.reg.FieldCenter()), nil
}

// FromSky is ToPixel for a coordinate in the absolute frame.
func (t *Transformer) FromSky(id string, sky r2.Vec) (r2.Vec, error) {
	return t.ToPixel(id, r2.Sub(sky, t.reg.FieldCenter()))
}

// Footprint returns the physical coordinates of the four corners of the
// sensor box, counter-clockwise in pixel space starting at (0, 0).
func (t *Transformer) Footprint(id string) ([4]r2.Vec, error) {
	var corners [4]r2.Vec
	e, err := t.entry(id)
	if err != nil {
		return corners, err
	}
	w, h := 2*e.Record.HalfExtents.X, 2*e.Record.HalfExtents.Y
	for i, pix := range [4]r2.Vec{{X: 0, Y: 0}, {X: w, Y: 0}, {X: w, Y: h}, {X: 0, Y: h}} {
		corners[i] = t.forward(e, pix)
	}
	return corners, nil
}

// forward centers the pixel on the sensor (pixel centers sit half a pixel
// from the geometric middle), applies the scale model and adds the
// reference position relative to the field center.
func (t *Transformer) forward(e focalplane.Entry, pix r2.Vec) r2.Vec {
	rec := e.Record
	u := r2.Vec{
		X: pix.X - rec.HalfExtents.X + 0.5,
		Y: pix.Y - rec.HalfExtents.Y + 0.5,
	}
	d := e.Map.Apply(u)
	fc := t.reg.FieldCenter()
	return r2.Vec{
		X: (rec.Reference.X - fc.X) + d.X,
		Y: (rec.Reference.Y - fc.Y) + d.Y,
	}
}

func (t *Transformer) inverse(e focalplane.Entry, pos r2.Vec) r2.Vec {
	rec := e.Record
	fc := t.reg.FieldCenter()
	// Subtract the same relative reference forward adds, so the round trip
	// does not lose precision to the absolute field center.
	d := r2.Vec{
		X: pos.X - (rec.Reference.X - fc.X),
		Y: pos.Y - (rec.Reference.Y - fc.Y),
	}
	u := e.Map.Invert(d)
	return r2.Vec{
		X: u.X + rec.HalfExtents.X - 0.5,
		Y: u.Y + rec.HalfExtents.Y - 0.5,
	}
}
