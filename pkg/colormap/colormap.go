// Package colormap provides color schemes for visualization.
package colormap

import (
	"fmt"
	"image/color"
	"sort"
	"strings"
	"sync"

	"github.com/lucasb-eyer/go-colorful"
)

// Size is the number of entries of a lookup table.
const Size = 256

// Colormap maps normalized values [0, 1] to colors.
type Colormap interface {
	At(t float64) color.Color
	// LUT returns the colormap sampled at Size evenly spaced points.
	LUT() *[Size]color.RGBA
}

type stop struct {
	pos float64
	c   colorful.Color
}

// LinearColormap interpolates between color stops in RGB.
type LinearColormap struct {
	name  string
	stops []stop
	once  sync.Once
	lut   [Size]color.RGBA
}

// New builds a colormap from evenly spaced hex stops ("#rrggbb").
func New(name string, hexes ...string) *LinearColormap {
	pos := make([]float64, len(hexes))
	for i := range hexes {
		if len(hexes) > 1 {
			pos[i] = float64(i) / float64(len(hexes)-1)
		}
	}
	return NewAt(name, pos, hexes...)
}

// NewAt builds a colormap from hex stops placed at increasing positions in [0, 1].
func NewAt(name string, pos []float64, hexes ...string) *LinearColormap {
	if len(pos) != len(hexes) || len(hexes) == 0 {
		panic(fmt.Sprintf("colormap %s: %d positions for %d colors", name, len(pos), len(hexes)))
	}
	stops := make([]stop, len(hexes))
	for i, h := range hexes {
		c, err := colorful.Hex(h)
		if err != nil {
			panic(fmt.Sprintf("colormap %s: %v", name, err))
		}
		stops[i] = stop{pos: pos[i], c: c}
	}
	return &LinearColormap{name: name, stops: stops}
}

// Name returns the registered name.
func (c *LinearColormap) Name() string { return c.name }

// At returns the color at position t (0-1).
func (c *LinearColormap) At(t float64) color.Color {
	return c.at(t)
}

func (c *LinearColormap) at(t float64) color.RGBA {
	first, last := c.stops[0], c.stops[len(c.stops)-1]
	if !(t > first.pos) {
		return toRGBA(first.c)
	}
	if t >= last.pos {
		return toRGBA(last.c)
	}
	i := sort.Search(len(c.stops), func(i int) bool { return c.stops[i].pos >= t })
	lo, hi := c.stops[i-1], c.stops[i]
	frac := (t - lo.pos) / (hi.pos - lo.pos)
	return toRGBA(lo.c.BlendRgb(hi.c, frac))
}

// LUT returns the colormap sampled at Size evenly spaced points from 0 to 1.
func (c *LinearColormap) LUT() *[Size]color.RGBA {
	c.once.Do(func() {
		for i := range c.lut {
			c.lut[i] = c.at(float64(i) / float64(Size-1))
		}
	})
	return &c.lut
}

func toRGBA(c colorful.Color) color.RGBA {
	r, g, b := c.Clamped().RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

// Viridis colormap (matplotlib viridis)
var Viridis = New("viridis",
	"#440154", "#482374", "#404387", "#345e8d", "#29788e", "#20908c",
	"#22a784", "#44be70", "#79d151", "#bdde26", "#fde725")

// Plasma colormap
var Plasma = New("plasma",
	"#0d0887", "#4b03a1", "#7d03a8", "#a82296", "#cb4679", "#e56b5d",
	"#f89441", "#fdc328", "#f0f921")

// Inferno colormap
var Inferno = New("inferno",
	"#000004", "#280b54", "#65156e", "#9f2a63", "#d44842", "#f57d15",
	"#fac127", "#fcffa4")

// Magma colormap
var Magma = New("magma",
	"#000004", "#1c1044", "#4f127b", "#812581", "#b5367a", "#e55064",
	"#fb8761", "#fec287", "#fcfdbf")

// Cividis colormap
var Cividis = New("cividis",
	"#00224e", "#123570", "#3b496c", "#575d6d", "#707173", "#8a8779",
	"#a69d75", "#c4b56c", "#e4cf5b", "#fee838")

// Gray is a black to white ramp.
var Gray = New("gray", "#000000", "#ffffff")

// Hot runs black, red, yellow, white (matplotlib hot).
var Hot = NewAt("hot", []float64{0, 0.365, 0.746, 1},
	"#0a0000", "#ff0000", "#ffff00", "#ffffff")

var registry = map[string]*LinearColormap{}

// Names lists the registered colormaps in display order.
var Names = []string{"viridis", "gray", "plasma", "magma", "inferno", "cividis", "hot"}

func init() {
	for _, c := range []*LinearColormap{Viridis, Gray, Plasma, Magma, Inferno, Cividis, Hot} {
		registry[c.name] = c
	}
}

// Lookup finds a colormap by name, ignoring case.
func Lookup(name string) (Colormap, bool) {
	c, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, false
	}
	return c, true
}
