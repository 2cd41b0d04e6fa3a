// Package render turns normalized image arrays into packed pixel buffers and
// PNG frames, with optional cut and region overlays drawn using fogleman/gg.
package render

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/png"
	"math"
	"sync"

	"github.com/fogleman/gg"

	"github.com/fist-tools/fist/internal/analysis"
	"github.com/fist-tools/fist/internal/imaging"
	"github.com/fist-tools/fist/pkg/colormap"
)

// ErrEmptyFrame is returned when there is nothing to draw.
var ErrEmptyFrame = errors.New("frame has no pixels")

var (
	cutColor    = color.RGBA{R: 255, G: 255, A: 255}
	regionColor = color.RGBA{G: 255, B: 255, A: 255}
)

const (
	cutWidth    = 3
	cutMarker   = 4
	regionWidth = 2
)

// Config contains renderer configuration.
type Config struct {
	DefaultPalette string
}

// Overlays are drawn on top of a PNG frame in array coordinates.
type Overlays struct {
	Cut    *analysis.CutSpec
	Region analysis.Region
}

// FrameRenderer renders normalized arrays.
type FrameRenderer struct {
	config     Config
	bufferPool sync.Pool
}

// NewFrameRenderer creates a new frame renderer.
func NewFrameRenderer(cfg Config) *FrameRenderer {
	if cfg.DefaultPalette == "" {
		cfg.DefaultPalette = "viridis"
	}
	return &FrameRenderer{
		config: cfg,
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 64*1024))
			},
		},
	}
}

// Palette resolves a palette name, falling back to the configured default.
func (r *FrameRenderer) Palette(name string) colormap.Colormap {
	if cm, ok := colormap.Lookup(name); ok {
		return cm
	}
	if cm, ok := colormap.Lookup(r.config.DefaultPalette); ok {
		return cm
	}
	return colormap.Viridis
}

// lutIndex maps a normalized value to a LUT slot. NaN maps to 0 and values
// outside [0,1] are clipped.
func lutIndex(v float64) int {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= 1 {
		return colormap.Size - 1
	}
	i := int(v * colormap.Size)
	if i > colormap.Size-1 {
		i = colormap.Size - 1
	}
	return i
}

// PackABGR maps arr01 through the palette into 32-bit pixels laid out as
// alpha (high byte), blue, green, red (low byte), in row-major order.
func PackABGR(arr01 *imaging.Array, cm colormap.Colormap) []uint32 {
	lut := cm.LUT()
	var packed [colormap.Size]uint32
	for i, c := range lut {
		packed[i] = uint32(c.A)<<24 | uint32(c.B)<<16 | uint32(c.G)<<8 | uint32(c.R)
	}
	out := make([]uint32, len(arr01.Data))
	for i, v := range arr01.Data {
		out[i] = packed[lutIndex(v)]
	}
	return out
}

// EncodeRaw serializes packed pixels as little-endian bytes.
func EncodeRaw(pixels []uint32) []byte {
	out := make([]byte, 4*len(pixels))
	for i, p := range pixels {
		binary.LittleEndian.PutUint32(out[4*i:], p)
	}
	return out
}

// Raw returns the little-endian packed buffer of arr01 in the named palette.
func (r *FrameRenderer) Raw(arr01 *imaging.Array, palette string) []byte {
	return EncodeRaw(PackABGR(arr01, r.Palette(palette)))
}

// RenderPNG draws arr01 with array row 0 at the bottom of the image, then the overlays.
func (r *FrameRenderer) RenderPNG(arr01 *imaging.Array, palette string, ov Overlays) ([]byte, error) {
	h, w := arr01.Height, arr01.Width
	if h == 0 || w == 0 {
		return nil, ErrEmptyFrame
	}
	lut := r.Palette(palette).LUT()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		py := h - 1 - y
		for x := 0; x < w; x++ {
			img.SetRGBA(x, py, lut[lutIndex(arr01.At(y, x))])
		}
	}

	if ov.Cut != nil || ov.Region != nil {
		dc := gg.NewContextForRGBA(img)
		toImage := func(x, y float64) (float64, float64) {
			return x + 0.5, float64(h) - 0.5 - y
		}
		if ov.Region != nil {
			xs, ys := ov.Region.Outline()
			for i := range xs {
				px, py := toImage(xs[i], ys[i])
				if i == 0 {
					dc.MoveTo(px, py)
				} else {
					dc.LineTo(px, py)
				}
			}
			dc.SetColor(regionColor)
			dc.SetLineWidth(regionWidth)
			dc.Stroke()
		}
		if c := ov.Cut; c != nil {
			x1, y1 := toImage(c.X1, c.Y1)
			x2, y2 := toImage(c.X2, c.Y2)
			dc.SetColor(cutColor)
			dc.SetLineWidth(cutWidth)
			dc.DrawLine(x1, y1, x2, y2)
			dc.Stroke()
			dc.DrawCircle(x1, y1, cutMarker)
			dc.DrawCircle(x2, y2, cutMarker)
			dc.Fill()
		}
	}

	return r.encode(img)
}

func (r *FrameRenderer) encode(img image.Image) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	// Use fast PNG encoder
	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, img); err != nil {
		return nil, err
	}

	// Copy buffer contents (buffer will be reused)
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}
