// Package zernike rotates paired Zernike aberration coefficients measured in
// a sensor's local frame into the fiducial frame shared by all sensors.
package zernike

import (
	"errors"
	"fmt"
	"math"

	"github.com/star/fpgeom/internal/focalplane"
)

// ErrUndefinedPhase is returned when the second coefficient of a non-zero
// pair is zero, where the phase atan(a/b) is undefined.
var ErrUndefinedPhase = errors.New("undefined phase: second coefficient is zero")

// Family is an aberration-pair family. Its value is the angular multiplier
// applied to the sensor rotation.
type Family int

const (
	Coma        Family = 1
	Astigmatism Family = 2
	Trefoil     Family = 3
)

func (f Family) String() string {
	switch f {
	case Coma:
		return "coma"
	case Astigmatism:
		return "astigmatism"
	case Trefoil:
		return "trefoil"
	}
	return fmt.Sprintf("Family(%d)", int(f))
}

// ParseFamily accepts a family name or its multiplier ("1", "2", "3").
func ParseFamily(s string) (Family, error) {
	switch s {
	case "coma", "1":
		return Coma, nil
	case "astigmatism", "astig", "2":
		return Astigmatism, nil
	case "trefoil", "3":
		return Trefoil, nil
	}
	return 0, fmt.Errorf("unknown aberration family %q", s)
}

// nollPairs lists the (a, b) Noll indices of each rotated pair.
var nollPairs = []struct {
	a, b   int
	family Family
}{
	{5, 6, Astigmatism},
	{7, 8, Coma},
	{9, 10, Trefoil},
}

// Rotator reads per-sensor rotation angles from a registry.
type Rotator struct {
	reg *focalplane.Registry
}

// NewRotator returns a Rotator over reg.
func NewRotator(reg *focalplane.Registry) *Rotator {
	return &Rotator{reg: reg}
}

// RotatePair rotates (a, b) of the given family from the frame of sensor id
// into the fiducial frame.
func (r *Rotator) RotatePair(f Family, a, b float64, id string) (float64, float64, error) {
	rec, err := r.reg.Get(id)
	if err != nil {
		return 0, 0, err
	}
	return Rotate(f, a, b, rec.RotationDeg)
}

// RotateNoll returns a copy of z, a Noll-ordered coefficient slice with z[0]
// holding Z1, with the astigmatism, coma and trefoil pairs rotated for
// sensor id. Pairs missing from a short slice are left alone.
func (r *Rotator) RotateNoll(id string, z []float64) ([]float64, error) {
	rec, err := r.reg.Get(id)
	if err != nil {
		return nil, err
	}
	out := append([]float64(nil), z...)
	for _, p := range nollPairs {
		if len(out) < p.b {
			break
		}
		a, b, err := Rotate(p.family, out[p.a-1], out[p.b-1], rec.RotationDeg)
		if err != nil {
			return nil, fmt.Errorf("Z%d/Z%d: %w", p.a, p.b, err)
		}
		out[p.a-1], out[p.b-1] = a, b
	}
	return out, nil
}

// Rotate applies
//
//	ρ = sqrt(a² + b²), θ = atan(a/b)
//	a' = ρ·sin(θ − k·rot), b' = ρ·cos(θ − k·rot)
//
// with k the family multiplier and rot in degrees.
func Rotate(f Family, a, b, rotDeg float64) (float64, float64, error) {
	if f < Coma || f > Trefoil {
		return 0, 0, fmt.Errorf("unknown aberration family %d", int(f))
	}
	if a == 0 && b == 0 {
		return 0, 0, nil
	}
	if b == 0 {
		return 0, 0, ErrUndefinedPhase
	}
	rho := math.Sqrt(a*a + b*b)
	theta := math.Atan(a / b)
	phi := theta - float64(f)*rotDeg*math.Pi/180
	return rho * math.Sin(phi), rho * math.Cos(phi), nil
}
