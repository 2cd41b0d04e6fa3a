package imaging

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// Stretch is a display remapping applied to values already scaled into [0,1].
type Stretch string

const (
	StretchLinear  Stretch = "linear"
	StretchLog     Stretch = "log"
	StretchSqrt    Stretch = "sqrt"
	StretchArcsinh Stretch = "arcsinh"
	StretchZScale  Stretch = "zscale"
)

// Stretches lists the supported stretches in display order.
var Stretches = []Stretch{StretchLinear, StretchLog, StretchSqrt, StretchArcsinh, StretchZScale}

// ParseStretch validates a stretch name. The empty string means linear.
func ParseStretch(s string) (Stretch, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return StretchLinear, nil
	}
	for _, st := range Stretches {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown stretch %q", s)
}

// ScaleParams controls Normalize. PMin and PMax are percentiles in [0,100].
type ScaleParams struct {
	PMin     float64 `json:"pmin" yaml:"pmin"`
	PMax     float64 `json:"pmax" yaml:"pmax"`
	Gamma    float64 `json:"gamma" yaml:"gamma"`
	Contrast float64 `json:"contrast" yaml:"contrast"`
	Stretch  Stretch `json:"stretch" yaml:"stretch"`
}

// Validate rejects parameters Normalize cannot apply.
func (p ScaleParams) Validate() error {
	if p.PMin < 0 || p.PMin > 100 || p.PMax < 0 || p.PMax > 100 {
		return fmt.Errorf("percentiles must lie in [0,100], got %g/%g", p.PMin, p.PMax)
	}
	if !(p.Gamma > 0) || math.IsInf(p.Gamma, 0) {
		return fmt.Errorf("gamma must be positive and finite, got %g", p.Gamma)
	}
	if math.IsNaN(p.Contrast) || math.IsInf(p.Contrast, 0) {
		return fmt.Errorf("contrast must be finite, got %g", p.Contrast)
	}
	if _, err := ParseStretch(string(p.Stretch)); err != nil {
		return err
	}
	return nil
}

// Normalize maps arr into [0,1] for display. The steps run in a fixed order:
// percentile clip, stretch, contrast, gamma. An array with no finite element is
// returned unchanged (as a copy). NaN elements stay NaN; ±Inf clip to the bounds.
func Normalize(arr *Array, p ScaleParams) *Array {
	out := arr.Clone()
	good := arr.Finite()
	if len(good) == 0 {
		return out
	}
	sort.Float64s(good)
	lo := percentileSorted(good, p.PMin)
	hi := percentileSorted(good, p.PMax)

	if hi > lo {
		span := hi - lo
		for i, v := range out.Data {
			out.Data[i] = clip01((v - lo) / span)
		}
	} else {
		for i, v := range out.Data {
			out.Data[i] = clip01(v - lo)
		}
	}

	applyStretch(out, p.Stretch)

	for i, v := range out.Data {
		out.Data[i] = clip01((v-0.5)*p.Contrast + 0.5)
	}

	if p.Gamma != 1 && p.Gamma > 0 {
		inv := 1 / p.Gamma
		for i, v := range out.Data {
			out.Data[i] = math.Pow(v, inv)
		}
	}
	return out
}

var (
	log1p9 = math.Log1p(9)
	asinh5 = math.Asinh(5)
)

func applyStretch(a *Array, s Stretch) {
	switch s {
	case StretchLog:
		for i, v := range a.Data {
			a.Data[i] = math.Log1p(9*v) / log1p9
		}
	case StretchSqrt:
		for i, v := range a.Data {
			a.Data[i] = math.Sqrt(v)
		}
	case StretchArcsinh:
		for i, v := range a.Data {
			a.Data[i] = math.Asinh(5*v) / asinh5
		}
	case StretchZScale:
		zscale(a)
	}
}

// zscale recenters around median ± 1.5σ of the non-NaN scaled values. A zero
// spread leaves the values as they are.
func zscale(a *Array) {
	vals := make([]float64, 0, len(a.Data))
	for _, v := range a.Data {
		if !math.IsNaN(v) {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return
	}
	_, std := stat.PopMeanStdDev(vals, nil)
	sort.Float64s(vals)
	med := percentileSorted(vals, 50)
	lo := med - 1.5*std
	hi := med + 1.5*std
	if !(hi > lo) {
		return
	}
	for i, v := range a.Data {
		a.Data[i] = clip01((v - lo) / (hi - lo))
	}
}

// Percentile returns the p-th percentile (0..100) of the finite values in vals
// using linear interpolation between closest ranks. It returns NaN when vals
// holds no finite value.
func Percentile(vals []float64, p float64) float64 {
	good := make([]float64, 0, len(vals))
	for _, v := range vals {
		if isFinite(v) {
			good = append(good, v)
		}
	}
	if len(good) == 0 {
		return math.NaN()
	}
	sort.Float64s(good)
	return percentileSorted(good, p)
}

// percentileSorted expects a non-empty ascending slice.
func percentileSorted(sorted []float64, p float64) float64 {
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[len(sorted)-1]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
