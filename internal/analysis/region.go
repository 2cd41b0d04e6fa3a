package analysis

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/fist-tools/fist/internal/imaging"
)

// Region selects pixels of the index grid. Implementations are Circle and Square.
type Region interface {
	// Contains reports whether the pixel at column ix, row iy belongs to the region.
	Contains(ix, iy float64) bool
	// Outline returns a closed polygon tracing the region border in array coordinates.
	Outline() (xs, ys []float64)
	Kind() string
}

// Circle selects pixels whose centre lies within Radius of (X, Y).
type Circle struct {
	X, Y, Radius float64
}

func (c Circle) Contains(ix, iy float64) bool {
	dx, dy := ix-c.X, iy-c.Y
	return dx*dx+dy*dy <= c.Radius*c.Radius
}

func (c Circle) Outline() (xs, ys []float64) {
	const n = 100
	xs = make([]float64, 0, n+1)
	ys = make([]float64, 0, n+1)
	for i := 0; i < n; i++ {
		theta := 2 * math.Pi * float64(i) / float64(n-1)
		xs = append(xs, c.X+c.Radius*math.Cos(theta))
		ys = append(ys, c.Y+c.Radius*math.Sin(theta))
	}
	return append(xs, xs[0]), append(ys, ys[0])
}

func (c Circle) Kind() string { return "circle" }

// Square selects pixels with X <= ix <= X+Side and Y <= iy <= Y+Side.
type Square struct {
	X, Y, Side float64
}

func (s Square) Contains(ix, iy float64) bool {
	return ix >= s.X && ix <= s.X+s.Side && iy >= s.Y && iy <= s.Y+s.Side
}

func (s Square) Outline() (xs, ys []float64) {
	return []float64{s.X, s.X + s.Side, s.X + s.Side, s.X, s.X},
		[]float64{s.Y, s.Y, s.Y + s.Side, s.Y + s.Side, s.Y}
}

func (s Square) Kind() string { return "square" }

// NewRegion builds a region from a shape name ("circle" or "square", case-insensitive)
// and the shared x, y and size parameter (radius or side).
func NewRegion(shape string, x, y, d float64) (Region, error) {
	switch strings.ToLower(strings.TrimSpace(shape)) {
	case "circle":
		return Circle{X: x, Y: y, Radius: d}, nil
	case "square":
		return Square{X: x, Y: y, Side: d}, nil
	}
	return nil, fmt.Errorf("unknown region shape %q", shape)
}

// Stats aggregates the pixels selected by a region. When Count is zero the other
// fields carry no data and Empty is set.
type Stats struct {
	Count  int
	Sum    float64
	Mean   float64
	Std    float64
	Min    float64
	Median float64
	Max    float64
	Empty  bool
}

// Mask returns the boolean selection of region over arr's index grid, already
// intersected with the array bounds.
func Mask(arr *imaging.Array, region Region) []bool {
	mask := make([]bool, arr.Len())
	for iy := 0; iy < arr.Height; iy++ {
		for ix := 0; ix < arr.Width; ix++ {
			mask[iy*arr.Width+ix] = region.Contains(float64(ix), float64(iy))
		}
	}
	return mask
}

// RegionStats computes count, sum, mean, population standard deviation, min, median
// and max of the selected pixels. A NaN among them propagates to every aggregate.
func RegionStats(arr *imaging.Array, region Region) Stats {
	mask := Mask(arr, region)
	data := make([]float64, 0, 64)
	for i, sel := range mask {
		if sel {
			data = append(data, arr.Data[i])
		}
	}
	if len(data) == 0 {
		return Stats{Empty: true}
	}

	st := Stats{Count: len(data)}
	for _, v := range data {
		if math.IsNaN(v) {
			nan := math.NaN()
			st.Sum, st.Mean, st.Std, st.Min, st.Median, st.Max = nan, nan, nan, nan, nan, nan
			return st
		}
	}

	st.Sum = floats.Sum(data)
	st.Mean, st.Std = stat.PopMeanStdDev(data, nil)
	st.Min = floats.Min(data)
	st.Max = floats.Max(data)

	sorted := append([]float64(nil), data...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		st.Median = sorted[n/2]
	} else {
		st.Median = (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return st
}

const (
	statsHeader = "Count     Sum       |  Mean       Std       |  Min        Median     Max"
	noData      = "-"
)

// Table renders the statistics as a fixed two-line table. Columns are separated by a
// vertical bar after Sum and after Std; numbers use four significant digits.
func (s Stats) Table() string {
	var values string
	if s.Empty || s.Count == 0 {
		values = fmt.Sprintf("%-9d %-9s |  %-9s  %-9s |  %-9s  %-9s  %-9s",
			0, noData, noData, noData, noData, noData, noData)
	} else {
		values = fmt.Sprintf("%-9d %-9.4g |  %-9.4g  %-9.4g |  %-9.4g  %-9.4g  %-9.4g",
			s.Count, s.Sum, s.Mean, s.Std, s.Min, s.Median, s.Max)
	}
	return statsHeader + "\n" + strings.TrimRight(values, " ")
}
