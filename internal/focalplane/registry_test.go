package focalplane

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r2"
)

func testRecords() []SensorRecord {
	return []SensorRecord{
		{
			ID:             "B",
			Reference:      r2.Vec{X: 1, Y: 2},
			FocusAlignment: true,
			HalfExtents:    r2.Vec{X: 100, Y: 50},
			Scale:          Matrix(-3.4778e-05, 4.3981e-05, 4.7668e-05, 3.1954e-05),
			RotationDeg:    -54,
		},
		{
			ID:             "A",
			Reference:      r2.Vec{X: -1, Y: 0},
			FocusAlignment: true,
			HalfExtents:    r2.Vec{X: 10, Y: 10},
			Scale:          Scalar(0.015),
		},
		{
			ID:             "C",
			Reference:      r2.Vec{X: 0, Y: 1.57},
			FocusAlignment: true,
			HalfExtents:    r2.Vec{X: 1536, Y: 1024},
			Scale: Axes(Triple{Center: 3.7025e-05, Tangential: 3.5550e-05, Radial: 3.2775e-05}, AxisRule{
				Swap: true,
				X:    AxisTerm{Role: RoleRadial, Sign: -1},
				Y:    AxisTerm{Role: RoleTangential, Sign: 1},
			}),
			RotationDeg:  180,
			Extension:    4,
			SensorNumber: 2,
		},
	}
}

func testConfig() Config {
	return Config{
		Variant:     "test",
		FieldCenter: r2.Vec{X: 180, Y: 10},
		ClearRadius: 99999,
		Constants:   map[string]float64{"deg_per_pixel": 5.97e-5},
	}
}

func TestNewRegistryPreservesOrder(t *testing.T) {
	reg, err := NewRegistry(testConfig(), testRecords()...)
	require.NoError(t, err)

	assert.Equal(t, []string{"B", "A", "C"}, reg.IDs())
	assert.Equal(t, reg.IDs(), reg.IDs(), "order must be stable across calls")
	assert.Equal(t, 3, reg.Len())
	assert.Equal(t, "test", reg.Variant())

	v, ok := reg.Constant("deg_per_pixel")
	assert.True(t, ok)
	assert.Equal(t, 5.97e-5, v)
}

func TestRegistryGetUnknown(t *testing.T) {
	reg, err := NewRegistry(testConfig(), testRecords()...)
	require.NoError(t, err)

	_, err = reg.Get("NOPE")
	assert.ErrorIs(t, err, ErrUnknownSensor)

	rec, err := reg.Get("A")
	require.NoError(t, err)
	assert.Equal(t, 0.015, rec.Scale.Scalar)
}

func TestRegistryIsolatedFromCallerMaps(t *testing.T) {
	cfg := testConfig()
	reg, err := NewRegistry(cfg, testRecords()...)
	require.NoError(t, err)

	cfg.Constants["deg_per_pixel"] = 1
	v, _ := reg.Constant("deg_per_pixel")
	assert.Equal(t, 5.97e-5, v)

	consts := reg.Constants()
	consts["deg_per_pixel"] = 2
	v, _ = reg.Constant("deg_per_pixel")
	assert.Equal(t, 5.97e-5, v)
}

func TestNewRegistryRejectsBadRecords(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func([]SensorRecord) []SensorRecord
		wantErr error
	}{
		{
			name:    "no sensors",
			mutate:  func([]SensorRecord) []SensorRecord { return nil },
			wantErr: ErrInvalidCalibration,
		},
		{
			name: "duplicate id",
			mutate: func(rs []SensorRecord) []SensorRecord {
				rs[1].ID = "B"
				return rs
			},
			wantErr: ErrInvalidCalibration,
		},
		{
			name: "empty id",
			mutate: func(rs []SensorRecord) []SensorRecord {
				rs[0].ID = ""
				return rs
			},
			wantErr: ErrInvalidCalibration,
		},
		{
			name: "zero half extent",
			mutate: func(rs []SensorRecord) []SensorRecord {
				rs[0].HalfExtents.Y = 0
				return rs
			},
			wantErr: ErrInvalidCalibration,
		},
		{
			name: "singular matrix",
			mutate: func(rs []SensorRecord) []SensorRecord {
				rs[0].Scale = Matrix(1e-5, 2e-5, 2e-5, 4e-5)
				return rs
			},
			wantErr: ErrDegenerateTransform,
		},
		{
			name: "zero matrix",
			mutate: func(rs []SensorRecord) []SensorRecord {
				rs[0].Scale = Matrix(0, 0, 0, 0)
				return rs
			},
			wantErr: ErrDegenerateTransform,
		},
		{
			name: "negative scalar",
			mutate: func(rs []SensorRecord) []SensorRecord {
				rs[1].Scale = Scalar(-1)
				return rs
			},
			wantErr: ErrInvalidCalibration,
		},
		{
			name: "bad axis sign",
			mutate: func(rs []SensorRecord) []SensorRecord {
				rs[2].Scale.Rule.X.Sign = 0.5
				return rs
			},
			wantErr: ErrInvalidCalibration,
		},
		{
			name: "missing axis role",
			mutate: func(rs []SensorRecord) []SensorRecord {
				rs[2].Scale.Rule.Y.Role = 0
				return rs
			},
			wantErr: ErrInvalidCalibration,
		},
		{
			name: "unset scale kind",
			mutate: func(rs []SensorRecord) []SensorRecord {
				rs[1].Scale = ScaleModel{}
				return rs
			},
			wantErr: ErrInvalidCalibration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(testConfig(), tt.mutate(testRecords())...)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v, want %v", err, tt.wantErr)
		})
	}
}

// The compiled inverse must agree with a general-purpose inverse.
func TestMatrixMapInverseMatchesGonum(t *testing.T) {
	reg, err := NewRegistry(testConfig(), testRecords()...)
	require.NoError(t, err)
	e, err := reg.Lookup("B")
	require.NoError(t, err)

	cd := e.Record.Scale.CD
	var inv mat.Dense
	require.NoError(t, inv.Inverse(mat.NewDense(2, 2, cd[:])))

	d := r2.Vec{X: 0.0123, Y: -0.0456}
	got := e.Map.Invert(d)
	want := r2.Vec{
		X: inv.At(0, 0)*d.X + inv.At(0, 1)*d.Y,
		Y: inv.At(1, 0)*d.X + inv.At(1, 1)*d.Y,
	}
	assert.InDelta(t, want.X, got.X, 1e-6)
	assert.InDelta(t, want.Y, got.Y, 1e-6)

	back := e.Map.Apply(got)
	assert.InDelta(t, d.X, back.X, 1e-15)
	assert.InDelta(t, d.Y, back.Y, 1e-15)
}

func TestAxesMapSwap(t *testing.T) {
	reg, err := NewRegistry(testConfig(), testRecords()...)
	require.NoError(t, err)
	e, err := reg.Lookup("C")
	require.NoError(t, err)

	// Swapped: physical x reads pixel v with the radial scale, negated.
	d := e.Map.Apply(r2.Vec{X: 10, Y: 20})
	assert.InDelta(t, 20*3.2775e-05*-1, d.X, 1e-18)
	assert.InDelta(t, 10*3.5550e-05, d.Y, 1e-18)

	u := e.Map.Invert(d)
	assert.InDelta(t, 10, u.X, 1e-9)
	assert.InDelta(t, 20, u.Y, 1e-9)
}

func TestStateRoundTrip(t *testing.T) {
	reg, err := NewRegistry(testConfig(), testRecords()...)
	require.NoError(t, err)

	for _, f := range []Format{FormatJSON, FormatYAML} {
		t.Run(string(f), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, EncodeState(&buf, reg.State(), f))

			st, err := DecodeState(&buf, f)
			require.NoError(t, err)

			back, err := FromState(st)
			require.NoError(t, err)

			assert.Equal(t, reg.IDs(), back.IDs())
			assert.Equal(t, reg.FieldCenter(), back.FieldCenter())
			assert.Equal(t, reg.ClearRadius(), back.ClearRadius())
			assert.Equal(t, reg.Constants(), back.Constants())
			for _, id := range reg.IDs() {
				want, _ := reg.Get(id)
				got, _ := back.Get(id)
				assert.Equal(t, want, got, id)
			}
		})
	}
}

func TestScaleStateModelErrors(t *testing.T) {
	_, err := ScaleState{Kind: "warp"}.Model()
	assert.ErrorIs(t, err, ErrInvalidCalibration)

	_, err = ScaleState{Kind: "matrix", CD: []float64{1, 2, 3}}.Model()
	assert.ErrorIs(t, err, ErrInvalidCalibration)

	_, err = ScaleState{Kind: "axes", Triple: &Triple{Center: 1, Tangential: 1, Radial: 1}}.Model()
	assert.ErrorIs(t, err, ErrInvalidCalibration)

	_, err = ScaleState{
		Kind:   "axes",
		Triple: &Triple{Center: 1, Tangential: 1, Radial: 1},
		Rule:   &RuleState{XRole: "diagonal", XSign: 1, YRole: "radial", YSign: 1},
	}.Model()
	assert.ErrorIs(t, err, ErrInvalidCalibration)
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatJSON, "json": FormatJSON, "yaml": FormatYAML, "yml": FormatYAML} {
		got, err := ParseFormat(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("toml")
	assert.Error(t, err)
}
