// Package fits reads image data and headers from FITS files, including
// gzip (.fits.gz) and zstd (.fits.zst) compressed files.
package fits

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/astrogo/fitsio"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/fist-tools/fist/internal/imaging"
)

// PrimaryName is the name given to HDU 0 and to image HDUs without EXTNAME.
const PrimaryName = "PRIMARY"

var (
	ErrFileUnreadable    = errors.New("file unreadable")
	ErrExtensionNotFound = errors.New("extension not found")
	ErrUnsupportedRank   = errors.New("unsupported data rank")
	ErrIndexOutOfRange   = errors.New("source index out of range")
)

// Reader opens FITS files on demand. Every call opens and releases its own
// file handle; only the zstd decoder is shared.
type Reader struct {
	decoder *zstd.Decoder
}

// NewReader creates a reader.
func NewReader() (*Reader, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &Reader{decoder: decoder}, nil
}

// Close releases the decoder.
func (r *Reader) Close() {
	if r.decoder != nil {
		r.decoder.Close()
	}
}

// Card is one header keyword rendered for display.
type Card struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// open decodes path and hands the parsed file to fn.
func (r *Reader) open(path string, fn func(f *fitsio.File) error) (err error) {
	raw, err := r.readAll(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrFileUnreadable, path, err)
	}

	// fitsio panics on some malformed headers.
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %s: %v", ErrFileUnreadable, path, p)
		}
	}()

	f, err := fitsio.Open(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrFileUnreadable, path, err)
	}
	defer f.Close()
	return fn(f)
}

func (r *Reader) readAll(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".gz"):
		zr, err := gzip.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case strings.HasSuffix(lower, ".zst"), strings.HasSuffix(lower, ".zstd"):
		compressed, err := io.ReadAll(f)
		if err != nil {
			return nil, err
		}
		return r.decoder.DecodeAll(compressed, nil)
	}
	return io.ReadAll(f)
}

// LoadImage returns the 2-D image stored in the HDU named extension. A cube
// yields the plane selected by source (nil means 0).
func (r *Reader) LoadImage(path, extension string, source *int) (*imaging.Array, error) {
	var out *imaging.Array
	err := r.open(path, func(f *fitsio.File) error {
		img, err := findImage(f, extension)
		if err != nil {
			return err
		}
		axes := img.Header().Axes()
		if len(axes) != 2 && len(axes) != 3 {
			return fmt.Errorf("%w: %s has %d axes", ErrUnsupportedRank, extension, len(axes))
		}

		data, err := readFloats(img)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrFileUnreadable, path, err)
		}

		w, h := axes[0], axes[1]
		if len(axes) == 2 {
			out = &imaging.Array{Height: h, Width: w, Data: data}
			return nil
		}

		idx := 0
		if source != nil {
			idx = *source
		}
		if idx < 0 || idx >= axes[2] {
			return fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, idx, axes[2])
		}
		plane := make([]float64, w*h)
		copy(plane, data[idx*w*h:(idx+1)*w*h])
		out = &imaging.Array{Height: h, Width: w, Data: plane}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ImageExtensions lists the names of HDUs holding rank-2 or rank-3 image data, in file order.
func (r *Reader) ImageExtensions(path string) ([]string, error) {
	var names []string
	err := r.open(path, func(f *fitsio.File) error {
		for _, hdu := range f.HDUs() {
			img, ok := hdu.(fitsio.Image)
			if !ok {
				continue
			}
			if n := len(img.Header().Axes()); n == 2 || n == 3 {
				names = append(names, imageName(img))
			}
		}
		return nil
	})
	return names, err
}

// CubeDepth returns the number of planes of a rank-3 extension, 0 for rank 2.
func (r *Reader) CubeDepth(path, extension string) (int, error) {
	depth := 0
	err := r.open(path, func(f *fitsio.File) error {
		img, err := findImage(f, extension)
		if err != nil {
			return err
		}
		if axes := img.Header().Axes(); len(axes) == 3 {
			depth = axes[2]
		}
		return nil
	})
	return depth, err
}

// HDUNames lists every HDU for header browsing: "PRIMARY" for HDU 0, the EXTNAME
// or "EXT<i>" for the rest. An unreadable file yields just "PRIMARY".
func (r *Reader) HDUNames(path string) []string {
	var names []string
	err := r.open(path, func(f *fitsio.File) error {
		for i, hdu := range f.HDUs() {
			names = append(names, headerName(i, hdu))
		}
		return nil
	})
	if err != nil || len(names) == 0 {
		return []string{PrimaryName}
	}
	return names
}

// Header returns the cards of the HDU named extension. Header names (see HDUNames)
// are matched first, then image names.
func (r *Reader) Header(path, extension string) ([]Card, error) {
	var cards []Card
	err := r.open(path, func(f *fitsio.File) error {
		var target fitsio.HDU
		for i, hdu := range f.HDUs() {
			if headerName(i, hdu) == extension {
				target = hdu
				break
			}
		}
		if target == nil {
			for _, hdu := range f.HDUs() {
				if imageName(hdu) == extension {
					target = hdu
					break
				}
			}
		}
		if target == nil {
			return fmt.Errorf("%w: %q", ErrExtensionNotFound, extension)
		}
		cards = headerCards(target.Header())
		return nil
	})
	return cards, err
}

// HeaderValue looks key up in the primary header. The bool reports presence.
func (r *Reader) HeaderValue(path, key string) (string, bool, error) {
	var (
		value string
		found bool
	)
	err := r.open(path, func(f *fitsio.File) error {
		hdus := f.HDUs()
		if len(hdus) == 0 {
			return nil
		}
		card := hdus[0].Header().Get(key)
		if card == nil || card.Value == nil {
			return nil
		}
		value, found = FormatValue(card.Value), true
		return nil
	})
	return value, found, err
}

func findImage(f *fitsio.File, extension string) (fitsio.Image, error) {
	for _, hdu := range f.HDUs() {
		img, ok := hdu.(fitsio.Image)
		if !ok {
			continue
		}
		if imageName(img) == extension {
			return img, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrExtensionNotFound, extension)
}

func imageName(hdu fitsio.HDU) string {
	if name := extName(hdu); name != "" {
		return name
	}
	return PrimaryName
}

func headerName(i int, hdu fitsio.HDU) string {
	if i == 0 {
		return PrimaryName
	}
	if name := extName(hdu); name != "" {
		return name
	}
	return fmt.Sprintf("EXT%d", i)
}

func extName(hdu fitsio.HDU) string {
	card := hdu.Header().Get("EXTNAME")
	if card == nil {
		return ""
	}
	s, _ := card.Value.(string)
	return strings.TrimSpace(s)
}

func headerCards(hdr *fitsio.Header) []Card {
	keys := hdr.Keys()
	cards := make([]Card, 0, len(keys))
	for i := range keys {
		c := hdr.Card(i)
		if c == nil {
			continue
		}
		value := FormatValue(c.Value)
		if c.Value == nil && (c.Name == "COMMENT" || c.Name == "HISTORY") {
			value = strings.TrimSpace(c.Comment)
		}
		cards = append(cards, Card{Key: c.Name, Value: value})
	}
	return cards
}

// readFloats decodes the HDU payload as float64 and applies BSCALE/BZERO.
// BLANK pixels of integer images become NaN.
func readFloats(img fitsio.Image) ([]float64, error) {
	hdr := img.Header()
	n := 1
	for _, d := range hdr.Axes() {
		n *= d
	}
	out := make([]float64, n)

	var (
		raw []int64
		err error
	)
	switch hdr.Bitpix() {
	case 8:
		buf := make([]uint8, n)
		if err = img.Read(&buf); err == nil {
			raw = make([]int64, len(buf))
			for i, v := range buf {
				raw[i] = int64(v)
			}
		}
	case 16:
		buf := make([]int16, n)
		if err = img.Read(&buf); err == nil {
			raw = make([]int64, len(buf))
			for i, v := range buf {
				raw[i] = int64(v)
			}
		}
	case 32:
		buf := make([]int32, n)
		if err = img.Read(&buf); err == nil {
			raw = make([]int64, len(buf))
			for i, v := range buf {
				raw[i] = int64(v)
			}
		}
	case 64:
		buf := make([]int64, n)
		if err = img.Read(&buf); err == nil {
			raw = buf
		}
	case -32:
		buf := make([]float32, n)
		if err = img.Read(&buf); err == nil {
			for i, v := range buf {
				out[i] = float64(v)
			}
		}
	case -64:
		buf := make([]float64, n)
		if err = img.Read(&buf); err == nil {
			copy(out, buf)
		}
	default:
		return nil, fmt.Errorf("unsupported BITPIX %d", hdr.Bitpix())
	}
	if err != nil {
		return nil, err
	}

	scale, zero := 1.0, 0.0
	if v, ok := cardFloat(hdr.Get("BSCALE")); ok {
		scale = v
	}
	if v, ok := cardFloat(hdr.Get("BZERO")); ok {
		zero = v
	}

	if raw != nil {
		blank, hasBlank := cardInt(hdr.Get("BLANK"))
		for i, v := range raw {
			if hasBlank && v == blank {
				out[i] = math.NaN()
				continue
			}
			out[i] = float64(v)*scale + zero
		}
		return out, nil
	}

	if scale != 1 || zero != 0 {
		for i, v := range out {
			out[i] = v*scale + zero
		}
	}
	return out, nil
}

func cardFloat(c *fitsio.Card) (float64, bool) {
	if c == nil {
		return 0, false
	}
	switch v := c.Value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	}
	return 0, false
}

func cardInt(c *fitsio.Card) (int64, bool) {
	if c == nil {
		return 0, false
	}
	switch v := c.Value.(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}
