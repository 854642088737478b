package instrument

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/star/fpgeom/internal/focalplane"
)

// Scale constants shared by the built-in tables.
const (
	gfaMMPerPixel  = 0.015
	gfaDegPerPixel = 5.97e-5 // 15 micron pixels at a 14.4 m focal length

	ciDegPerPixelCenter     = 3.7025e-05 // 14.81 um/pix * 9 arcsec/um
	ciDegPerPixelTangential = 3.5550e-05 // 14.22 um/pix * 9 arcsec/um
	ciDegPerPixelRadial     = 3.2775e-05 // 13.11 um/pix * 9 arcsec/um

	clearRadius = 99999

	// mechanicalOffset is in microns (1.5 mm).
	mechanicalOffset = 1500
)

// Sensor half extents in pixels. A GFA sensor images 2048 x 1032 pixels.
const (
	gfaHalfX, gfaHalfY = 1024., 516.
	ciHalfX, ciHalfY   = 1536., 1024.
)

// Constant names exported with the registry state.
const (
	ConstMMPerPixel            = "mm_per_pixel"
	ConstDegPerPixel           = "deg_per_pixel"
	ConstDegPerPixelCenter     = "deg_per_pixel_center"
	ConstDegPerPixelTangential = "deg_per_pixel_tangential"
	ConstDegPerPixelRadial     = "deg_per_pixel_radial"
)

func gfaRegistry() (*focalplane.Registry, error) {
	type row struct {
		id             string
		crval1, crval2 float64
		cd11, cd12     float64
		cd21, cd22     float64
		rotation       float64
	}
	rows := []row{
		{"FOCUS1", 178.7586, 9.0116, -3.4778e-05, 4.3981e-05, 4.7668e-05, 3.1954e-05, -54},
		{"FOCUS4", 179.4300, 11.4703, 5.6263e-05, 1.6797e-05, 1.8281e-05, -5.1696e-05, -162},
		{"FOCUS9", 180.5650, 8.5285, -5.6274e-05, -1.6800e-05, -1.8284e-05, 5.1704e-05, 18},
		{"FOCUS6", 181.2488, 10.9838, 3.4774e-05, -4.3977e-05, -4.7862e-05, -3.1951e-05, 126},
	}

	records := make([]focalplane.SensorRecord, 0, len(rows))
	for _, r := range rows {
		records = append(records, focalplane.SensorRecord{
			ID:               r.id,
			Reference:        r2.Vec{X: r.crval1, Y: r.crval2},
			FocusAlignment:   true,
			HalfExtents:      r2.Vec{X: gfaHalfX, Y: gfaHalfY},
			Scale:            focalplane.Matrix(r.cd11, r.cd12, r.cd21, r.cd22),
			RotationDeg:      r.rotation,
			MechanicalOffset: mechanicalOffset,
		})
	}

	return focalplane.NewRegistry(focalplane.Config{
		Variant:     string(GFA),
		FieldCenter: r2.Vec{X: 180, Y: 10},
		ClearRadius: clearRadius,
		Constants: map[string]float64{
			ConstMMPerPixel:  gfaMMPerPixel,
			ConstDegPerPixel: gfaDegPerPixel,
		},
	}, records...)
}

// ciTriple is the plate scale of the centering instrument.
var ciTriple = focalplane.Triple{
	Center:     ciDegPerPixelCenter,
	Tangential: ciDegPerPixelTangential,
	Radial:     ciDegPerPixelRadial,
}

// ciRules gives each centering sensor its sign and axis-swap rule, keyed by
// compass name. Physical x is sky east, positive.
var ciRules = map[string]focalplane.AxisRule{
	"CIC": {
		X: focalplane.AxisTerm{Role: focalplane.RoleCenter, Sign: -1},
		Y: focalplane.AxisTerm{Role: focalplane.RoleCenter, Sign: -1},
	},
	"CIS": {
		X: focalplane.AxisTerm{Role: focalplane.RoleTangential, Sign: 1},
		Y: focalplane.AxisTerm{Role: focalplane.RoleRadial, Sign: 1},
	},
	"CIE": {
		Swap: true,
		X:    focalplane.AxisTerm{Role: focalplane.RoleRadial, Sign: 1},
		Y:    focalplane.AxisTerm{Role: focalplane.RoleTangential, Sign: -1},
	},
	"CIN": {
		X: focalplane.AxisTerm{Role: focalplane.RoleTangential, Sign: -1},
		Y: focalplane.AxisTerm{Role: focalplane.RoleRadial, Sign: -1},
	},
	"CIW": {
		Swap: true,
		X:    focalplane.AxisTerm{Role: focalplane.RoleRadial, Sign: -1},
		Y:    focalplane.AxisTerm{Role: focalplane.RoleTangential, Sign: 1},
	},
}

// CIRule returns the axis rule of a centering sensor by exact compass name.
func CIRule(id string) (focalplane.AxisRule, error) {
	rule, ok := ciRules[id]
	if !ok {
		return focalplane.AxisRule{}, fmt.Errorf("%w: no axis rule for centering sensor %q", focalplane.ErrInvalidCalibration, id)
	}
	return rule, nil
}

func ciRegistry() (*focalplane.Registry, error) {
	type row struct {
		id             string
		xCenter        float64
		yCenter        float64
		ccd, extension int
		rotation       float64
	}
	rows := []row{
		{"CIW", 1.57, 0, 5, 1, -90},
		{"CIS", 0, -1.57, 4, 2, 0},
		{"CIC", 0, 0, 3, 3, 180},
		{"CIN", 0, 1.57, 2, 4, 180},
		{"CIE", -1.57, 0, 1, 5, 90},
	}

	records := make([]focalplane.SensorRecord, 0, len(rows))
	for _, r := range rows {
		rule, err := CIRule(r.id)
		if err != nil {
			return nil, err
		}
		records = append(records, focalplane.SensorRecord{
			ID:               r.id,
			Reference:        r2.Vec{X: r.xCenter, Y: r.yCenter},
			FocusAlignment:   true,
			HalfExtents:      r2.Vec{X: ciHalfX, Y: ciHalfY},
			Scale:            focalplane.Axes(ciTriple, rule),
			RotationDeg:      r.rotation,
			MechanicalOffset: mechanicalOffset,
			Extension:        r.extension,
			SensorNumber:     r.ccd,
		})
	}

	return focalplane.NewRegistry(focalplane.Config{
		Variant:     string(CI),
		ClearRadius: clearRadius,
		Constants: map[string]float64{
			ConstDegPerPixelCenter:     ciDegPerPixelCenter,
			ConstDegPerPixelTangential: ciDegPerPixelTangential,
			ConstDegPerPixelRadial:     ciDegPerPixelRadial,
		},
	}, records...)
}
