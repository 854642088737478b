package batch

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/star/fpgeom/internal/focalplane"
	"github.com/star/fpgeom/internal/instrument"
	"github.com/star/fpgeom/internal/locate"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLocatePreservesOrder(t *testing.T) {
	b := instrument.MustNew(instrument.CI)
	p := NewPool(4, testLogger())

	// Alternate between sensor centers and an uncovered point, enough to
	// span several chunks.
	centers := map[string]r2.Vec{}
	for _, id := range b.Registry.IDs() {
		pos, err := b.Transformer.ToPhysical(id, r2.Vec{X: 100, Y: 200})
		require.NoError(t, err)
		centers[id] = pos
	}
	ids := b.Registry.IDs()
	var points []r2.Vec
	var want []string
	for i := 0; i < 1000; i++ {
		if i%3 == 2 {
			points = append(points, r2.Vec{X: 0.8, Y: 0.8})
			want = append(want, "")
			continue
		}
		id := ids[i%len(ids)]
		points = append(points, centers[id])
		want = append(want, id)
	}

	out, sum, err := p.Locate(context.Background(), b, points)
	require.NoError(t, err)
	require.Len(t, out, len(points))

	for i, pl := range out {
		assert.Equal(t, points[i], pl.Point)
		assert.Equal(t, want[i], pl.Sensor, "point %d", i)
		if want[i] == "" {
			assert.ErrorIs(t, pl.Err, locate.ErrNotFound)
			continue
		}
		require.NoError(t, pl.Err)
		assert.InDelta(t, 100, pl.Pixel.X, 1e-6)
		assert.InDelta(t, 200, pl.Pixel.Y, 1e-6)
	}
	assert.Equal(t, 667, sum.Found)
	assert.Equal(t, 333, sum.Missed)
	assert.Zero(t, sum.Failed)
}

func TestLocateEmpty(t *testing.T) {
	out, sum, err := NewPool(2, testLogger()).Locate(context.Background(), instrument.MustNew(instrument.GFA), nil)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Equal(t, Summary{}, sum)
}

func TestLocateCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := NewPool(2, testLogger()).Locate(ctx, instrument.MustNew(instrument.GFA), make([]r2.Vec, 10))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocateCountsFailures(t *testing.T) {
	reg, err := focalplane.NewRegistry(focalplane.Config{Variant: "gfa"}, focalplane.SensorRecord{
		ID:          "GUIDE0",
		HalfExtents: r2.Vec{X: 1024, Y: 516},
		Scale:       focalplane.Scalar(5.97e-5),
	})
	require.NoError(t, err)

	_, sum, err := NewPool(1, testLogger()).Locate(context.Background(), instrument.Assemble(reg), []r2.Vec{{}, {X: 1}})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Failed)
}

func TestPhysical(t *testing.T) {
	b := instrument.MustNew(instrument.GFA)
	p := NewPool(3, testLogger())

	pixels := make([]r2.Vec, 700)
	for i := range pixels {
		pixels[i] = r2.Vec{X: float64(i), Y: float64(i % 1032)}
	}

	out, err := p.Physical(context.Background(), b, "FOCUS6", pixels)
	require.NoError(t, err)
	require.Len(t, out, len(pixels))
	for i, pix := range pixels {
		want, err := b.Transformer.ToPhysical("FOCUS6", pix)
		require.NoError(t, err)
		assert.Equal(t, want, out[i])
	}

	back, err := p.ToPixel(context.Background(), b, "FOCUS6", out)
	require.NoError(t, err)
	for i := range pixels {
		assert.InDelta(t, pixels[i].X, back[i].X, 1e-6)
		assert.InDelta(t, pixels[i].Y, back[i].Y, 1e-6)
	}

	_, err = p.Physical(context.Background(), b, "CIC", pixels)
	assert.ErrorIs(t, err, focalplane.ErrUnknownSensor)
	_, err = p.ToPixel(context.Background(), b, "CIC", out)
	assert.ErrorIs(t, err, focalplane.ErrUnknownSensor)
}

func TestNewPoolClampsWorkers(t *testing.T) {
	assert.Equal(t, 1, NewPool(0, testLogger()).Workers())
	assert.Equal(t, 8, NewPool(8, testLogger()).Workers())
}
