// Package batch spreads bulk geometry requests over a bounded set of
// goroutines while keeping results in input order.
package batch

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r2"

	"github.com/star/fpgeom/internal/instrument"
	"github.com/star/fpgeom/internal/locate"
)

// chunkSize is the number of points one goroutine handles at a time.
const chunkSize = 256

// Placement is the outcome of locating one point. Sensor is empty and Err
// wraps locate.ErrNotFound when the point is off every sensor.
type Placement struct {
	Point  r2.Vec
	Sensor string
	Pixel  r2.Vec
	Err    error
}

// Summary counts the outcomes of a batch.
type Summary struct {
	Found  int
	Missed int
	Failed int
}

// Pool manages a fixed number of goroutines for parallel geometry work.
type Pool struct {
	workers int
	logger  *slog.Logger
}

// NewPool creates a pool with the given number of workers.
func NewPool(workers int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{
		workers: workers,
		logger:  logger,
	}
}

// Workers returns the concurrency limit.
func (p *Pool) Workers() int {
	return p.workers
}

// Locate finds the sensor and pixel coordinate of every point. Per-point
// failures are recorded on the placement and never abort the batch; only
// cancellation of ctx does.
func (p *Pool) Locate(ctx context.Context, b *instrument.Bundle, points []r2.Vec) ([]Placement, Summary, error) {
	out := make([]Placement, len(points))
	err := p.run(ctx, len(points), func(i int) {
		out[i] = place(b, points[i])
	})
	if err != nil {
		return nil, Summary{}, err
	}

	var sum Summary
	for _, pl := range out {
		switch {
		case pl.Err == nil:
			sum.Found++
		case errors.Is(pl.Err, locate.ErrNotFound):
			sum.Missed++
		default:
			sum.Failed++
			p.logger.Warn("locate failed",
				"variant", b.Variant,
				"x", pl.Point.X,
				"y", pl.Point.Y,
				"error", pl.Err,
			)
		}
	}
	return out, sum, nil
}

// Physical converts every pixel on sensor id to physical coordinates. An
// unknown or unsupported sensor fails the whole batch before any work starts.
func (p *Pool) Physical(ctx context.Context, b *instrument.Bundle, id string, pixels []r2.Vec) ([]r2.Vec, error) {
	return p.mapSensor(ctx, id, pixels, b.Transformer.ToPhysical)
}

// ToPixel converts every physical coordinate to a pixel on sensor id. Results
// are not clipped to the sensor box.
func (p *Pool) ToPixel(ctx context.Context, b *instrument.Bundle, id string, points []r2.Vec) ([]r2.Vec, error) {
	return p.mapSensor(ctx, id, points, b.Transformer.ToPixel)
}

func (p *Pool) mapSensor(ctx context.Context, id string, in []r2.Vec, conv func(string, r2.Vec) (r2.Vec, error)) ([]r2.Vec, error) {
	if _, err := conv(id, r2.Vec{}); err != nil {
		return nil, err
	}
	out := make([]r2.Vec, len(in))
	err := p.run(ctx, len(in), func(i int) {
		// The sensor was checked above and the registry is immutable.
		out[i], _ = conv(id, in[i])
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// run calls fn for every index in [0, n), chunked over at most p.workers
// goroutines. Each index is written by exactly one goroutine.
func (p *Pool) run(ctx context.Context, n int, fn func(i int)) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for start := 0; start < n; start += chunkSize {
		if gctx.Err() != nil {
			break
		}
		lo, hi := start, min(start+chunkSize, n)
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				if i%64 == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				fn(i)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func place(b *instrument.Bundle, pos r2.Vec) Placement {
	pl := Placement{Point: pos}
	id, err := b.Locator.Locate(pos)
	if err != nil {
		pl.Err = err
		return pl
	}
	pix, err := b.Transformer.ToPixel(id, pos)
	if err != nil {
		pl.Err = err
		return pl
	}
	pl.Sensor = id
	pl.Pixel = pix
	return pl
}
