// Command fpgeom answers one focal-plane geometry query and exits.
//
//	fpgeom physical -variant gfa -sensor FOCUS1 -ix 1023.5 -iy 515.5
//	fpgeom pixel    -variant ci -sensor CIN -x 0 -y 1.57
//	fpgeom locate   -variant ci -x 0.01 -y -1.6
//	fpgeom rotate   -variant ci -sensor CIW -family coma -a 0.1168 -b -0.249
//	fpgeom rotate   -variant ci -sensor CIW -noll 0,0,0,-4.5,0.01,-0.11,0,-0.25
//	fpgeom export   -variant gfa -format yaml
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r2"

	"github.com/star/fpgeom/internal/focalplane"
	"github.com/star/fpgeom/internal/instrument"
	"github.com/star/fpgeom/internal/locate"
	"github.com/star/fpgeom/internal/zernike"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

const usage = "usage: fpgeom physical|pixel|locate|rotate|export [flags]"

// run executes one subcommand. Exit codes: 0 ok, 1 query failed, 2 usage,
// 3 point not on any sensor.
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage)
		return 2
	}

	cmd, rest := args[0], args[1:]
	fs := flag.NewFlagSet("fpgeom "+cmd, flag.ContinueOnError)
	fs.SetOutput(stderr)
	variant := fs.String("variant", "gfa", "instrument variant (gfa, ci)")
	calibration := fs.String("calibration", "", "calibration file (YAML or JSON) replacing the built-in table")
	sensor := fs.String("sensor", "", "sensor id")
	ix := fs.Float64("ix", 0, "pixel x")
	iy := fs.Float64("iy", 0, "pixel y")
	x := fs.Float64("x", 0, "physical x")
	y := fs.Float64("y", 0, "physical y")
	sky := fs.Bool("sky", false, "report absolute coordinates (field center added)")
	family := fs.String("family", "", "aberration family (coma, astigmatism, trefoil)")
	a := fs.Float64("a", 0, "first coefficient of the pair")
	b := fs.Float64("b", 0, "second coefficient of the pair")
	noll := fs.String("noll", "", "comma-separated Noll coefficients starting at Z1")
	format := fs.String("format", "yaml", "export format (yaml, json)")

	if err := fs.Parse(rest); err != nil {
		return 2
	}

	bundle, err := loadBundle(*variant, *calibration)
	if err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return 2
	}

	switch cmd {
	case "physical":
		pix := r2.Vec{X: *ix, Y: *iy}
		conv := bundle.Transformer.ToPhysical
		if *sky {
			conv = bundle.Transformer.ToSky
		}
		pos, err := conv(*sensor, pix)
		if err != nil {
			return fail(stderr, err)
		}
		fmt.Fprintf(stdout, "%s %.10g %.10g\n", *sensor, pos.X, pos.Y)

	case "pixel":
		pos := r2.Vec{X: *x, Y: *y}
		conv := bundle.Transformer.ToPixel
		if *sky {
			conv = bundle.Transformer.FromSky
		}
		pix, err := conv(*sensor, pos)
		if err != nil {
			return fail(stderr, err)
		}
		fmt.Fprintf(stdout, "%s %.6f %.6f\n", *sensor, pix.X, pix.Y)

	case "locate":
		pos := r2.Vec{X: *x, Y: *y}
		id, err := bundle.Locator.Locate(pos)
		if errors.Is(err, locate.ErrNotFound) {
			fmt.Fprintln(stderr, err)
			return 3
		}
		if err != nil {
			return fail(stderr, err)
		}
		pix, err := bundle.Transformer.ToPixel(id, pos)
		if err != nil {
			return fail(stderr, err)
		}
		fmt.Fprintf(stdout, "%s %.6f %.6f\n", id, pix.X, pix.Y)

	case "rotate":
		if *noll != "" {
			z, err := parseList(*noll)
			if err != nil {
				fmt.Fprintln(stderr, "error:", err)
				return 2
			}
			out, err := bundle.Rotator.RotateNoll(*sensor, z)
			if err != nil {
				return fail(stderr, err)
			}
			for i, v := range out {
				fmt.Fprintf(stdout, "Z%d %.10g\n", i+1, v)
			}
			return 0
		}
		f, err := zernike.ParseFamily(*family)
		if err != nil {
			fmt.Fprintln(stderr, "error:", err)
			return 2
		}
		ra, rb, err := bundle.Rotator.RotatePair(f, *a, *b, *sensor)
		if err != nil {
			return fail(stderr, err)
		}
		fmt.Fprintf(stdout, "%s %s %.10g %.10g\n", *sensor, f, ra, rb)

	case "export":
		ff, err := focalplane.ParseFormat(*format)
		if err != nil {
			fmt.Fprintln(stderr, "error:", err)
			return 2
		}
		if err := focalplane.EncodeState(stdout, bundle.Registry.State(), ff); err != nil {
			return fail(stderr, err)
		}

	default:
		fmt.Fprintln(stderr, usage)
		return 2
	}
	return 0
}

func loadBundle(variant, calibration string) (*instrument.Bundle, error) {
	if calibration != "" {
		return instrument.LoadFile(calibration)
	}
	v, err := instrument.ParseVariant(variant)
	if err != nil {
		return nil, err
	}
	return instrument.New(v)
}

func fail(stderr io.Writer, err error) int {
	fmt.Fprintln(stderr, "error:", err)
	return 1
}

func parseList(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("bad coefficient %q", p)
		}
		out = append(out, v)
	}
	return out, nil
}
