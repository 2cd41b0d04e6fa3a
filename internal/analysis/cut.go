// Package analysis extracts line profiles and region statistics from raw (pre-scaling) image arrays.
package analysis

import (
	"errors"
	"fmt"
	"math"

	"github.com/fist-tools/fist/internal/imaging"
)

// DefaultSamples is the number of points sampled along a cut.
const DefaultSamples = 500

// MaxSamples bounds the points requested for one cut.
const MaxSamples = 10 * DefaultSamples

var (
	// ErrEmptyArray is returned when an operation needs at least one pixel.
	ErrEmptyArray = errors.New("array has no pixels")
	// ErrTooManySamples is returned for a cut above MaxSamples points.
	ErrTooManySamples = errors.New("too many cut samples")
)

// CutSpec is a line segment in array coordinates (x = column, y = row).
type CutSpec struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Cut is a sampled line profile. Distances run from 0 to the length of the clipped segment.
type Cut struct {
	Spec      CutSpec   `json:"spec"`
	Distances []float64 `json:"distances"`
	Values    []float64 `json:"values"`
}

// ExtractCut clips both endpoints into the array bounds and samples the segment
// at equally spaced points with bilinear interpolation. Samples <= 0 selects
// DefaultSamples; more than MaxSamples is rejected.
func ExtractCut(arr *imaging.Array, spec CutSpec, samples int) (*Cut, error) {
	if arr.Height == 0 || arr.Width == 0 {
		return nil, ErrEmptyArray
	}
	if samples > MaxSamples {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManySamples, samples, MaxSamples)
	}
	if samples <= 0 {
		samples = DefaultSamples
	}

	maxX := float64(arr.Width - 1)
	maxY := float64(arr.Height - 1)
	c := CutSpec{
		X1: clamp(spec.X1, 0, maxX),
		Y1: clamp(spec.Y1, 0, maxY),
		X2: clamp(spec.X2, 0, maxX),
		Y2: clamp(spec.Y2, 0, maxY),
	}

	length := math.Hypot(c.X2-c.X1, c.Y2-c.Y1)
	xs := linspace(c.X1, c.X2, samples)
	ys := linspace(c.Y1, c.Y2, samples)

	out := &Cut{
		Spec:      c,
		Distances: linspace(0, length, samples),
		Values:    make([]float64, samples),
	}
	for i := range xs {
		out.Values[i] = bilinear(arr, xs[i], ys[i])
	}
	return out, nil
}

// bilinear samples arr at (x, y); neighbours beyond the edge take the nearest edge value.
func bilinear(arr *imaging.Array, x, y float64) float64 {
	x0f := math.Floor(x)
	y0f := math.Floor(y)
	fx := x - x0f
	fy := y - y0f

	x0 := clampInt(int(x0f), arr.Width-1)
	x1 := clampInt(int(x0f)+1, arr.Width-1)
	y0 := clampInt(int(y0f), arr.Height-1)
	y1 := clampInt(int(y0f)+1, arr.Height-1)

	v00 := arr.At(y0, x0)
	v01 := arr.At(y0, x1)
	v10 := arr.At(y1, x0)
	v11 := arr.At(y1, x1)

	// Skip zero-weight neighbours so a NaN there does not leak into the sample.
	var sum float64
	add := func(w, v float64) {
		if w != 0 {
			sum += w * v
		}
	}
	add((1-fx)*(1-fy), v00)
	add(fx*(1-fy), v01)
	add((1-fx)*fy, v10)
	add(fx*fy, v11)
	return sum
}

func linspace(start, stop float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = start
		return out
	}
	step := (stop - start) / float64(n-1)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	out[n-1] = stop
	return out
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) || v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, hi int) int {
	if v < 0 {
		return 0
	}
	if v > hi {
		return hi
	}
	return v
}
