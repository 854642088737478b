// Package instrument builds ready-to-use geometry bundles for each
// instrument variant: the calibrated sensor registry together with the
// transformer, locator and aberration rotator that read from it.
package instrument

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/star/fpgeom/internal/focalplane"
	"github.com/star/fpgeom/internal/locate"
	"github.com/star/fpgeom/internal/transform"
	"github.com/star/fpgeom/internal/zernike"
)

// Variant selects an instrument.
type Variant string

const (
	// GFA is the wide-field guide/focus-and-alignment camera.
	GFA Variant = "gfa"
	// CI is the five-sensor commissioning/centering instrument camera.
	CI Variant = "ci"
)

// Variants lists the built-in variants.
func Variants() []Variant {
	return []Variant{GFA, CI}
}

// ParseVariant accepts a variant name, case-insensitively.
func ParseVariant(s string) (Variant, error) {
	switch v := Variant(strings.ToLower(strings.TrimSpace(s))); v {
	case GFA, CI:
		return v, nil
	}
	return "", fmt.Errorf("unknown instrument variant %q", s)
}

// Bundle is the geometry engine of one instrument. All of its parts share
// one immutable registry and are safe for concurrent use.
type Bundle struct {
	Variant     Variant
	Registry    *focalplane.Registry
	Transformer *transform.Transformer
	Locator     *locate.Locator
	Rotator     *zernike.Rotator
}

// New builds the bundle of a built-in variant from its calibration table.
func New(v Variant) (*Bundle, error) {
	var (
		reg *focalplane.Registry
		err error
	)
	switch v {
	case GFA:
		reg, err = gfaRegistry()
	case CI:
		reg, err = ciRegistry()
	default:
		return nil, fmt.Errorf("unknown instrument variant %q", v)
	}
	if err != nil {
		return nil, fmt.Errorf("building %s registry: %w", v, err)
	}
	return Assemble(reg), nil
}

// MustNew is New for the built-in tables, which are known to be valid.
func MustNew(v Variant) *Bundle {
	b, err := New(v)
	if err != nil {
		panic(err)
	}
	return b
}

// Assemble wires a transformer, locator and rotator around reg.
func Assemble(reg *focalplane.Registry, locOpts ...locate.Option) *Bundle {
	tr := transform.New(reg)
	return &Bundle{
		Variant:     Variant(reg.Variant()),
		Registry:    reg,
		Transformer: tr,
		Locator:     locate.New(tr, locOpts...),
		Rotator:     zernike.NewRotator(reg),
	}
}

// FromState rebuilds a bundle from an exported registry state. Axis-scaled
// sensors without an explicit rule get the centering-instrument rule of the
// same compass name.
func FromState(st focalplane.State) (*Bundle, error) {
	if _, err := ParseVariant(st.Variant); err != nil {
		return nil, err
	}
	st.Sensors = append([]focalplane.SensorState(nil), st.Sensors...)
	for i, s := range st.Sensors {
		if s.Scale.Kind != focalplane.ScaleAxes.String() || s.Scale.Rule != nil {
			continue
		}
		rule, err := CIRule(s.ID)
		if err != nil {
			return nil, err
		}
		st.Sensors[i].Scale.Rule = focalplane.NewRuleState(rule)
	}

	reg, err := focalplane.FromState(st)
	if err != nil {
		return nil, fmt.Errorf("rebuilding %s registry: %w", st.Variant, err)
	}
	return Assemble(reg), nil
}

// LoadFile reads a calibration file (YAML for .yaml/.yml, JSON otherwise)
// in the registry state format and builds its bundle.
func LoadFile(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading calibration file: %w", err)
	}
	format, err := focalplane.ParseFormat(strings.TrimPrefix(filepath.Ext(path), "."))
	if err != nil {
		format = focalplane.FormatJSON
	}
	st, err := focalplane.DecodeState(bytes.NewReader(data), format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return FromState(st)
}
