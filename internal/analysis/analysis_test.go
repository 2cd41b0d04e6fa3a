package analysis

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/fist-tools/fist/internal/imaging"
)

func ramp(h, w int) *imaging.Array {
	a := imaging.New(h, w)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			a.Set(y, x, float64(y*w+x))
		}
	}
	return a
}

func TestExtractCut_Horizontal(t *testing.T) {
	a := ramp(3, 5)
	cut, err := ExtractCut(a, CutSpec{X1: 0, Y1: 1, X2: 4, Y2: 1}, 5)
	if err != nil {
		t.Fatalf("ExtractCut: %v", err)
	}
	want := []float64{5, 6, 7, 8, 9}
	for i, v := range want {
		if math.Abs(cut.Values[i]-v) > 1e-12 {
			t.Fatalf("values: expected %v, got %v", want, cut.Values)
		}
	}
	if cut.Distances[0] != 0 || cut.Distances[4] != 4 {
		t.Fatalf("distances: got %v", cut.Distances)
	}
}

func TestExtractCut_ClipsEndpoints(t *testing.T) {
	a := ramp(4, 4)
	cut, err := ExtractCut(a, CutSpec{X1: -10, Y1: -10, X2: 100, Y2: 100}, 0)
	if err != nil {
		t.Fatalf("ExtractCut: %v", err)
	}
	if len(cut.Values) != DefaultSamples || len(cut.Distances) != DefaultSamples {
		t.Fatalf("expected %d samples, got %d/%d", DefaultSamples, len(cut.Values), len(cut.Distances))
	}
	if cut.Spec != (CutSpec{X1: 0, Y1: 0, X2: 3, Y2: 3}) {
		t.Fatalf("unexpected clipped spec %+v", cut.Spec)
	}
	wantLen := math.Hypot(3, 3)
	if math.Abs(cut.Distances[len(cut.Distances)-1]-wantLen) > 1e-12 {
		t.Fatalf("expected final distance %v, got %v", wantLen, cut.Distances[len(cut.Distances)-1])
	}
	for i := 1; i < len(cut.Distances); i++ {
		if cut.Distances[i] <= cut.Distances[i-1] {
			t.Fatalf("distances not increasing at %d", i)
		}
	}
	if cut.Values[0] != 0 || cut.Values[len(cut.Values)-1] != 15 {
		t.Fatalf("unexpected endpoint values %v, %v", cut.Values[0], cut.Values[len(cut.Values)-1])
	}
}

func TestExtractCut_Bilinear(t *testing.T) {
	a, _ := imaging.FromRows([][]float64{{0, 10}, {20, 30}})
	cut, err := ExtractCut(a, CutSpec{X1: 0.5, Y1: 0.5, X2: 0.5, Y2: 0.5}, 1)
	if err != nil {
		t.Fatalf("ExtractCut: %v", err)
	}
	if cut.Values[0] != 15 {
		t.Fatalf("expected 15, got %v", cut.Values[0])
	}
}

func TestExtractCut_SampleBound(t *testing.T) {
	a := ramp(2, 2)
	if _, err := ExtractCut(a, CutSpec{X2: 1}, MaxSamples+1); !errors.Is(err, ErrTooManySamples) {
		t.Fatalf("expected ErrTooManySamples, got %v", err)
	}
	cut, err := ExtractCut(a, CutSpec{X2: 1}, MaxSamples)
	if err != nil || len(cut.Values) != MaxSamples {
		t.Fatalf("expected %d samples at the bound, got %v", MaxSamples, err)
	}
}

func TestExtractCut_Empty(t *testing.T) {
	if _, err := ExtractCut(imaging.New(0, 0), CutSpec{}, 10); !errors.Is(err, ErrEmptyArray) {
		t.Fatalf("expected ErrEmptyArray, got %v", err)
	}
}

func TestRegionStats_FullArray(t *testing.T) {
	a := ramp(4, 5)
	st := RegionStats(a, Square{X: -1, Y: -1, Side: 100})
	if st.Count != 20 {
		t.Fatalf("expected count 20, got %d", st.Count)
	}
	if math.Abs(st.Sum-190) > 1e-9 {
		t.Fatalf("expected sum 190, got %v", st.Sum)
	}
	if st.Min != 0 || st.Max != 19 || st.Median != 9.5 || st.Mean != 9.5 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestRegionStats_Circle(t *testing.T) {
	a := ramp(5, 5)
	st := RegionStats(a, Circle{X: 2, Y: 2, Radius: 1})
	// centre plus four direct neighbours
	if st.Count != 5 {
		t.Fatalf("expected count 5, got %d", st.Count)
	}
	if st.Sum != 7+11+12+13+17 {
		t.Fatalf("unexpected sum %v", st.Sum)
	}
}

func TestRegionStats_SquareInclusiveBounds(t *testing.T) {
	a := ramp(5, 5)
	st := RegionStats(a, Square{X: 1, Y: 1, Side: 1})
	if st.Count != 4 {
		t.Fatalf("expected 4 pixels, got %d", st.Count)
	}
}

func TestRegionStats_EmptyMask(t *testing.T) {
	a := ramp(3, 3)
	st := RegionStats(a, Circle{X: 50, Y: 50, Radius: 2})
	if !st.Empty || st.Count != 0 {
		t.Fatalf("expected empty stats, got %+v", st)
	}
	lines := strings.Split(st.Table(), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two lines, got %q", st.Table())
	}
	fields := strings.Fields(lines[1])
	want := []string{"0", "-", "|", "-", "-", "|", "-", "-", "-"}
	if strings.Join(fields, " ") != strings.Join(want, " ") {
		t.Fatalf("expected %v, got %v", want, fields)
	}
}

func TestStatsTable_Columns(t *testing.T) {
	st := Stats{Count: 3, Sum: 6, Mean: 2, Std: 0.816496580927726, Min: 1, Median: 2, Max: 3}
	lines := strings.Split(st.Table(), "\n")
	if !strings.HasPrefix(lines[0], "Count") || strings.Count(lines[0], "|") != 2 {
		t.Fatalf("unexpected header %q", lines[0])
	}
	fields := strings.Fields(lines[1])
	want := []string{"3", "6", "|", "2", "0.8165", "|", "1", "2", "3"}
	if strings.Join(fields, " ") != strings.Join(want, " ") {
		t.Fatalf("expected %v, got %v", want, fields)
	}
}

func TestRegionStats_NaNPropagates(t *testing.T) {
	a, _ := imaging.FromRows([][]float64{{1, math.NaN()}})
	st := RegionStats(a, Square{X: 0, Y: 0, Side: 1})
	if st.Count != 2 || !math.IsNaN(st.Sum) || !math.IsNaN(st.Median) {
		t.Fatalf("expected NaN aggregates, got %+v", st)
	}
}

func TestNewRegion(t *testing.T) {
	r, err := NewRegion("Circle", 1, 2, 3)
	if err != nil || r.Kind() != "circle" {
		t.Fatalf("unexpected %v, %v", r, err)
	}
	if _, err := NewRegion("hexagon", 0, 0, 1); err == nil {
		t.Fatal("expected error for unknown shape")
	}
	xs, ys := Square{X: 0, Y: 0, Side: 2}.Outline()
	if len(xs) != 5 || xs[0] != xs[4] || ys[0] != ys[4] {
		t.Fatalf("square outline must be closed, got %v %v", xs, ys)
	}
	xs, _ = Circle{Radius: 1}.Outline()
	if len(xs) != 101 {
		t.Fatalf("expected 101 circle vertices, got %d", len(xs))
	}
}
