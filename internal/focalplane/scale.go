package focalplane

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r2"
)

// ScaleKind tags which variant of ScaleModel is populated.
type ScaleKind int

const (
	// ScaleScalar is an isotropic scale (degrees or mm per pixel).
	ScaleScalar ScaleKind = iota + 1
	// ScaleMatrix is a 2x2 CD matrix, as in a FITS WCS header.
	ScaleMatrix
	// ScaleAxes is a center/tangential/radial scale triple with a per-sensor
	// sign and axis-swap rule.
	ScaleAxes
)

var scaleKindNames = map[ScaleKind]string{
	ScaleScalar: "scalar",
	ScaleMatrix: "matrix",
	ScaleAxes:   "axes",
}

func (k ScaleKind) String() string {
	if s, ok := scaleKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("ScaleKind(%d)", int(k))
}

// ParseScaleKind is the inverse of ScaleKind.String.
func ParseScaleKind(s string) (ScaleKind, error) {
	for k, name := range scaleKindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: scale kind %q", ErrInvalidCalibration, s)
}

// ScaleRole selects one member of a Triple.
type ScaleRole int

const (
	RoleCenter ScaleRole = iota + 1
	RoleTangential
	RoleRadial
)

var scaleRoleNames = map[ScaleRole]string{
	RoleCenter:     "center",
	RoleTangential: "tangential",
	RoleRadial:     "radial",
}

func (r ScaleRole) String() string {
	if s, ok := scaleRoleNames[r]; ok {
		return s
	}
	return fmt.Sprintf("ScaleRole(%d)", int(r))
}

// ParseScaleRole is the inverse of ScaleRole.String.
func ParseScaleRole(s string) (ScaleRole, error) {
	for r, name := range scaleRoleNames {
		if name == s {
			return r, nil
		}
	}
	return 0, fmt.Errorf("%w: scale role %q", ErrInvalidCalibration, s)
}

// Triple holds the three pixel scales of an instrument whose outer sensors
// see a different plate scale along and across the radius.
type Triple struct {
	Center     float64 `json:"center" yaml:"center"`
	Tangential float64 `json:"tangential" yaml:"tangential"`
	Radial     float64 `json:"radial" yaml:"radial"`
}

func (t Triple) of(r ScaleRole) float64 {
	switch r {
	case RoleCenter:
		return t.Center
	case RoleTangential:
		return t.Tangential
	case RoleRadial:
		return t.Radial
	}
	return 0
}

// AxisTerm describes one physical output axis: which scale of the triple it
// uses and its sign (+1 or -1).
type AxisTerm struct {
	Role ScaleRole
	Sign float64
}

// AxisRule maps centered pixel offsets (u, v) onto physical offsets. Without
// Swap, physical x reads u and physical y reads v; with Swap they trade.
type AxisRule struct {
	Swap bool
	X    AxisTerm
	Y    AxisTerm
}

// ScaleModel is a tagged variant; only the fields for Kind are meaningful.
type ScaleModel struct {
	Kind ScaleKind

	Scalar float64    // ScaleScalar
	CD     [4]float64 // ScaleMatrix: CD1_1, CD1_2, CD2_1, CD2_2
	Triple Triple     // ScaleAxes
	Rule   AxisRule   // ScaleAxes
}

// Scalar returns an isotropic scale model.
func Scalar(s float64) ScaleModel {
	return ScaleModel{Kind: ScaleScalar, Scalar: s}
}

// Matrix returns a CD-matrix scale model.
func Matrix(cd11, cd12, cd21, cd22 float64) ScaleModel {
	return ScaleModel{Kind: ScaleMatrix, CD: [4]float64{cd11, cd12, cd21, cd22}}
}

// Axes returns a triple scale model with the given axis rule.
func Axes(t Triple, rule AxisRule) ScaleModel {
	return ScaleModel{Kind: ScaleAxes, Triple: t, Rule: rule}
}

// LinearMap is the compiled linear part of a sensor transform. It acts on
// pixel offsets already centered on the sensor and physical offsets already
// relative to the sensor reference position.
type LinearMap interface {
	Apply(u r2.Vec) r2.Vec
	Invert(d r2.Vec) r2.Vec
}

// degenerateTol is the largest |det| relative to the magnitude of its two
// products that is still treated as singular.
const degenerateTol = 1e-9

func (m ScaleModel) compile() (LinearMap, error) {
	switch m.Kind {
	case ScaleScalar:
		if !(m.Scalar > 0) || math.IsInf(m.Scalar, 0) {
			return nil, fmt.Errorf("%w: scalar scale %v must be positive", ErrInvalidCalibration, m.Scalar)
		}
		return scalarMap{s: m.Scalar}, nil

	case ScaleMatrix:
		for _, c := range m.CD {
			if math.IsNaN(c) || math.IsInf(c, 0) {
				return nil, fmt.Errorf("%w: CD coefficient %v", ErrInvalidCalibration, c)
			}
		}
		a, b, c, d := m.CD[0], m.CD[1], m.CD[2], m.CD[3]
		det := mat.Det(mat.NewDense(2, 2, []float64{a, b, c, d}))
		if mag := math.Abs(a*d) + math.Abs(b*c); mag == 0 || math.Abs(det) <= degenerateTol*mag {
			return nil, fmt.Errorf("%w: det=%g", ErrDegenerateTransform, det)
		}
		return matrixMap{a: a, b: b, c: c, d: d, det: a*d - c*b}, nil

	case ScaleAxes:
		xs, ys := m.Triple.of(m.Rule.X.Role), m.Triple.of(m.Rule.Y.Role)
		if !(xs > 0) || !(ys > 0) {
			return nil, fmt.Errorf("%w: axis scales x=%v y=%v must be positive", ErrInvalidCalibration, xs, ys)
		}
		if !unitSign(m.Rule.X.Sign) || !unitSign(m.Rule.Y.Sign) {
			return nil, fmt.Errorf("%w: axis signs x=%v y=%v must be +1 or -1", ErrInvalidCalibration, m.Rule.X.Sign, m.Rule.Y.Sign)
		}
		return axesMap{
			swap:  m.Rule.Swap,
			xs:    xs,
			xSign: m.Rule.X.Sign,
			ys:    ys,
			ySign: m.Rule.Y.Sign,
		}, nil
	}
	return nil, fmt.Errorf("%w: scale kind %v", ErrInvalidCalibration, m.Kind)
}

func unitSign(s float64) bool { return s == 1 || s == -1 }

type scalarMap struct{ s float64 }

func (m scalarMap) Apply(u r2.Vec) r2.Vec  { return r2.Vec{X: u.X * m.s, Y: u.Y * m.s} }
func (m scalarMap) Invert(d r2.Vec) r2.Vec { return r2.Vec{X: d.X / m.s, Y: d.Y / m.s} }

// matrixMap is d = M·u with M = [[a b] [c d]].
type matrixMap struct {
	a, b, c, d float64
	det        float64
}

func (m matrixMap) Apply(u r2.Vec) r2.Vec {
	return r2.Vec{
		X: m.a*u.X + m.b*u.Y,
		Y: m.c*u.X + m.d*u.Y,
	}
}

func (m matrixMap) Invert(p r2.Vec) r2.Vec {
	return r2.Vec{
		X: (p.X*m.d - p.Y*m.b) / m.det,
		Y: (p.Y*m.a - p.X*m.c) / m.det,
	}
}

type axesMap struct {
	swap      bool
	xs, xSign float64
	ys, ySign float64
}

func (m axesMap) Apply(u r2.Vec) r2.Vec {
	p, q := u.X, u.Y
	if m.swap {
		p, q = u.Y, u.X
	}
	return r2.Vec{X: p * m.xs * m.xSign, Y: q * m.ys * m.ySign}
}

func (m axesMap) Invert(d r2.Vec) r2.Vec {
	p := d.X / m.xs * m.xSign
	q := d.Y / m.ys * m.ySign
	if m.swap {
		return r2.Vec{X: q, Y: p}
	}
	return r2.Vec{X: p, Y: q}
}
