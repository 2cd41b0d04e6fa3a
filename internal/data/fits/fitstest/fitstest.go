// Package fitstest writes small standard-conforming FITS files for tests.
package fitstest

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

const blockSize = 2880

// Card is an extra header keyword. Value may be bool, int, float64 or string.
type Card struct {
	Key   string
	Value interface{}
}

// HDU describes one header/data unit. Axes are in FITS order (NAXIS1 = width first)
// and Data holds len = product(Axes) values in storage order.
type HDU struct {
	Name   string
	Bitpix int
	Axes   []int
	Data   []float64
	Cards  []Card
}

// Empty returns a data-less HDU carrying only header cards.
func Empty(cards ...Card) HDU {
	return HDU{Bitpix: 8, Cards: cards}
}

// Image2D returns a BITPIX -64 image from rows (height x width).
func Image2D(name string, rows [][]float64, cards ...Card) HDU {
	h := len(rows)
	w := 0
	if h > 0 {
		w = len(rows[0])
	}
	data := make([]float64, 0, h*w)
	for _, r := range rows {
		data = append(data, r...)
	}
	return HDU{Name: name, Bitpix: -64, Axes: []int{w, h}, Data: data, Cards: cards}
}

// Cube returns a BITPIX -64 rank-3 image from planes (depth x height x width).
func Cube(name string, planes [][][]float64, cards ...Card) HDU {
	n := len(planes)
	h, w := 0, 0
	if n > 0 {
		h = len(planes[0])
		if h > 0 {
			w = len(planes[0][0])
		}
	}
	data := make([]float64, 0, n*h*w)
	for _, p := range planes {
		for _, r := range p {
			data = append(data, r...)
		}
	}
	return HDU{Name: name, Bitpix: -64, Axes: []int{w, h, n}, Data: data, Cards: cards}
}

// WriteFile writes hdus to path. A ".gz" or ".zst" suffix compresses the stream.
func WriteFile(path string, hdus ...HDU) error {
	var buf bytes.Buffer
	if err := Encode(&buf, hdus...); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	switch {
	case strings.HasSuffix(path, ".gz"):
		zw := gzip.NewWriter(f)
		if _, err := zw.Write(buf.Bytes()); err != nil {
			return err
		}
		if err := zw.Close(); err != nil {
			return err
		}
	case strings.HasSuffix(path, ".zst"):
		zw, err := zstd.NewWriter(f)
		if err != nil {
			return err
		}
		if _, err := zw.Write(buf.Bytes()); err != nil {
			zw.Close()
			return err
		}
		if err := zw.Close(); err != nil {
			return err
		}
	default:
		if _, err := f.Write(buf.Bytes()); err != nil {
			return err
		}
	}
	return f.Close()
}

// Encode writes hdus as a FITS stream. The first HDU becomes the primary.
func Encode(w io.Writer, hdus ...HDU) error {
	bw := bufio.NewWriter(w)
	for i, hdu := range hdus {
		if err := encodeHDU(bw, i == 0, hdu); err != nil {
			return fmt.Errorf("hdu %d: %w", i, err)
		}
	}
	return bw.Flush()
}

func encodeHDU(w io.Writer, primary bool, hdu HDU) error {
	bitpix := hdu.Bitpix
	if bitpix == 0 {
		bitpix = -64
	}
	n := 0
	if len(hdu.Axes) > 0 {
		n = 1
		for _, d := range hdu.Axes {
			n *= d
		}
	}
	if len(hdu.Data) != n {
		return fmt.Errorf("data has %d values, axes need %d", len(hdu.Data), n)
	}

	var hdr bytes.Buffer
	if primary {
		writeCard(&hdr, "SIMPLE", true)
	} else {
		writeCard(&hdr, "XTENSION", "IMAGE")
	}
	writeCard(&hdr, "BITPIX", bitpix)
	writeCard(&hdr, "NAXIS", len(hdu.Axes))
	for i, d := range hdu.Axes {
		writeCard(&hdr, "NAXIS"+strconv.Itoa(i+1), d)
	}
	if primary {
		writeCard(&hdr, "EXTEND", true)
	} else {
		writeCard(&hdr, "PCOUNT", 0)
		writeCard(&hdr, "GCOUNT", 1)
	}
	if hdu.Name != "" {
		writeCard(&hdr, "EXTNAME", hdu.Name)
	}
	for _, c := range hdu.Cards {
		writeCard(&hdr, c.Key, c.Value)
	}
	hdr.WriteString(fmt.Sprintf("%-80s", "END"))
	pad(&hdr, ' ')
	if _, err := w.Write(hdr.Bytes()); err != nil {
		return err
	}

	if n == 0 {
		return nil
	}
	var data bytes.Buffer
	for _, v := range hdu.Data {
		var err error
		switch bitpix {
		case -64:
			err = binary.Write(&data, binary.BigEndian, v)
		case -32:
			err = binary.Write(&data, binary.BigEndian, float32(v))
		case 16:
			err = binary.Write(&data, binary.BigEndian, int16(math.Round(v)))
		case 32:
			err = binary.Write(&data, binary.BigEndian, int32(math.Round(v)))
		case 8:
			err = data.WriteByte(uint8(math.Round(v)))
		default:
			err = fmt.Errorf("unsupported bitpix %d", bitpix)
		}
		if err != nil {
			return err
		}
	}
	pad(&data, 0)
	_, err := w.Write(data.Bytes())
	return err
}

func writeCard(b *bytes.Buffer, key string, value interface{}) {
	var v string
	switch t := value.(type) {
	case bool:
		s := "F"
		if t {
			s = "T"
		}
		v = fmt.Sprintf("%20s", s)
	case int:
		v = fmt.Sprintf("%20d", t)
	case float64:
		s := strconv.FormatFloat(t, 'G', -1, 64)
		if !strings.ContainsAny(s, ".E") {
			s += ".0"
		}
		v = fmt.Sprintf("%20s", s)
	case string:
		v = fmt.Sprintf("'%-8s'", strings.ReplaceAll(t, "'", "''"))
	default:
		v = fmt.Sprintf("%20v", t)
	}
	b.WriteString(fmt.Sprintf("%-80.80s", fmt.Sprintf("%-8.8s= %s", key, v)))
}

func pad(b *bytes.Buffer, c byte) {
	if rem := b.Len() % blockSize; rem != 0 {
		b.Write(bytes.Repeat([]byte{c}, blockSize-rem))
	}
}
