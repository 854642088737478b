package locate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/star/fpgeom/internal/focalplane"
	"github.com/star/fpgeom/internal/instrument"
	"github.com/star/fpgeom/internal/locate"
	"github.com/star/fpgeom/internal/transform"
)

func TestLocateCenterPixel(t *testing.T) {
	for _, v := range instrument.Variants() {
		b := instrument.MustNew(v)
		for _, e := range b.Registry.Entries() {
			half := e.Record.HalfExtents
			pos, err := b.Transformer.ToPhysical(e.Record.ID, r2.Vec{X: half.X - 0.5, Y: half.Y - 0.5})
			require.NoError(t, err)

			got, err := b.Locator.Locate(pos)
			require.NoError(t, err)
			assert.Equal(t, e.Record.ID, got, "%s center", v)
		}
	}
}

func TestLocateBoundaryInclusive(t *testing.T) {
	for _, v := range instrument.Variants() {
		b := instrument.MustNew(v)
		for _, e := range b.Registry.Entries() {
			w, h := 2*e.Record.HalfExtents.X, 2*e.Record.HalfExtents.Y
			for _, pix := range []r2.Vec{{X: 0, Y: 0}, {X: w, Y: h}, {X: w, Y: 0}, {X: 0, Y: h}} {
				pos, err := b.Transformer.ToPhysical(e.Record.ID, pix)
				require.NoError(t, err)

				got, err := b.Locator.Locate(pos)
				require.NoError(t, err, "%s %s corner %v", v, e.Record.ID, pix)
				assert.Equal(t, e.Record.ID, got)
			}
		}
	}
}

func TestLocateJustOutsideEdge(t *testing.T) {
	b := instrument.MustNew(instrument.CI)

	pos, err := b.Transformer.ToPhysical("CIC", r2.Vec{X: -0.01, Y: 1000})
	require.NoError(t, err)

	_, err = b.Locator.Locate(pos)
	assert.ErrorIs(t, err, locate.ErrNotFound)
}

func TestLocateNotFound(t *testing.T) {
	for _, v := range instrument.Variants() {
		b := instrument.MustNew(v)

		id, err := b.Locator.Locate(r2.Vec{X: 5, Y: 5})
		assert.ErrorIs(t, err, locate.ErrNotFound)
		assert.Empty(t, id)

		// The field center is covered only by the CI center sensor.
		id, err = b.Locator.Locate(r2.Vec{})
		if v == instrument.CI {
			require.NoError(t, err)
			assert.Equal(t, "CIC", id)
		} else {
			assert.ErrorIs(t, err, locate.ErrNotFound)
		}
	}
}

func TestLocateDisjoint(t *testing.T) {
	for _, v := range instrument.Variants() {
		b := instrument.MustNew(v)
		for x := -2.0; x <= 2.0; x += 0.02 {
			for y := -2.0; y <= 2.0; y += 0.02 {
				pos := r2.Vec{X: x, Y: y}
				var owners []string
				for _, id := range b.Registry.IDs() {
					pix, err := b.Transformer.ToPixel(id, pos)
					require.NoError(t, err)
					in, err := b.Locator.Contains(id, pix)
					require.NoError(t, err)
					if in {
						owners = append(owners, id)
					}
				}
				require.LessOrEqual(t, len(owners), 1, "%s (%g, %g) on %v", v, x, y, owners)

				got, err := b.Locator.Locate(pos)
				if len(owners) == 0 {
					assert.ErrorIs(t, err, locate.ErrNotFound)
				} else {
					assert.Equal(t, owners[0], got)
				}
			}
		}
	}
}

func overlappingRegistry(t *testing.T, first, second bool) *focalplane.Registry {
	t.Helper()
	rec := func(id string, x float64, fa bool) focalplane.SensorRecord {
		return focalplane.SensorRecord{
			ID:             id,
			Reference:      r2.Vec{X: x},
			FocusAlignment: fa,
			HalfExtents:    r2.Vec{X: 100, Y: 100},
			Scale:          focalplane.Scalar(0.01),
		}
	}
	reg, err := focalplane.NewRegistry(focalplane.Config{Variant: "test"},
		rec("LEFT", 0, first), rec("RIGHT", 1, second))
	require.NoError(t, err)
	return reg
}

func TestLocateOverlapFirstWins(t *testing.T) {
	l := locate.New(transform.New(overlappingRegistry(t, true, true)))

	// Both boxes span 2 units; x=0.5 is on both.
	got, err := l.Locate(r2.Vec{X: 0.5})
	require.NoError(t, err)
	assert.Equal(t, "LEFT", got)

	got, err = l.Locate(r2.Vec{X: 1.5})
	require.NoError(t, err)
	assert.Equal(t, "RIGHT", got)
}

func TestLocateUnsupportedSensorSurfaces(t *testing.T) {
	l := locate.New(transform.New(overlappingRegistry(t, false, true)))

	_, err := l.Locate(r2.Vec{X: 1.5})
	assert.ErrorIs(t, err, focalplane.ErrUnsupportedSensorKind)
}

func TestContains(t *testing.T) {
	b := instrument.MustNew(instrument.GFA)

	tests := []struct {
		pix  r2.Vec
		want bool
	}{
		{r2.Vec{X: 0, Y: 0}, true},
		{r2.Vec{X: 2048, Y: 1032}, true},
		{r2.Vec{X: -1e-12, Y: 0}, true},
		{r2.Vec{X: -1e-3, Y: 0}, false},
		{r2.Vec{X: 1024, Y: 1032.5}, false},
		{r2.Vec{X: 2049, Y: 10}, false},
	}
	for _, tt := range tests {
		got, err := b.Locator.Contains("FOCUS9", tt.pix)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%v", tt.pix)
	}

	_, err := b.Locator.Contains("FOCUS2", r2.Vec{})
	assert.ErrorIs(t, err, focalplane.ErrUnknownSensor)
}

func TestCenterBoxStrategy(t *testing.T) {
	b := instrument.MustNew(instrument.CI)
	coarse := locate.New(b.Transformer, locate.WithCenterBox(3.7025e-05, 2000))

	// 0.05 deg north of the center sensor: past its 1024-pixel half height,
	// but inside the coarse 2000-pixel box.
	pos := r2.Vec{X: 0, Y: 0.05}
	_, err := b.Locator.Locate(pos)
	assert.ErrorIs(t, err, locate.ErrNotFound)

	got, err := coarse.Locate(pos)
	require.NoError(t, err)
	assert.Equal(t, "CIC", got)

	got, err = coarse.Locate(r2.Vec{X: 0.01, Y: 1.6})
	require.NoError(t, err)
	assert.Equal(t, "CIN", got)

	_, err = coarse.Locate(r2.Vec{X: 1, Y: 1})
	assert.ErrorIs(t, err, locate.ErrNotFound)
}
