// Package imaging holds the 2D image array and the pixel pipeline operating on it:
// arithmetic combination, percentile scaling with display stretches, and geometric transforms.
package imaging

import (
	"errors"
	"fmt"
	"math"
)

// ErrShapeMismatch is returned when two arrays must share a shape but do not.
var ErrShapeMismatch = errors.New("array shapes differ")

// Array is a row-major 2D matrix of float64 values with shape (Height, Width).
type Array struct {
	Height int
	Width  int
	Data   []float64
}

// New allocates a zero-filled array.
func New(height, width int) *Array {
	if height < 0 {
		height = 0
	}
	if width < 0 {
		width = 0
	}
	return &Array{Height: height, Width: width, Data: make([]float64, height*width)}
}

// FromRows builds an array from a slice of equally long rows. The rows are copied.
func FromRows(rows [][]float64) (*Array, error) {
	if len(rows) == 0 {
		return New(0, 0), nil
	}
	w := len(rows[0])
	a := New(len(rows), w)
	for y, row := range rows {
		if len(row) != w {
			return nil, fmt.Errorf("row %d has %d columns, expected %d", y, len(row), w)
		}
		copy(a.Data[y*w:(y+1)*w], row)
	}
	return a, nil
}

// At returns the value at row y, column x.
func (a *Array) At(y, x int) float64 {
	return a.Data[y*a.Width+x]
}

// Set stores v at row y, column x.
func (a *Array) Set(y, x int, v float64) {
	a.Data[y*a.Width+x] = v
}

// Len returns the number of elements.
func (a *Array) Len() int {
	return len(a.Data)
}

// Clone returns a deep copy.
func (a *Array) Clone() *Array {
	out := &Array{Height: a.Height, Width: a.Width, Data: make([]float64, len(a.Data))}
	copy(out.Data, a.Data)
	return out
}

// SameShape reports whether a and b have identical (height, width).
func (a *Array) SameShape(b *Array) bool {
	return a.Height == b.Height && a.Width == b.Width
}

// Rows returns a copy of the array as nested rows.
func (a *Array) Rows() [][]float64 {
	rows := make([][]float64, a.Height)
	for y := range rows {
		rows[y] = make([]float64, a.Width)
		copy(rows[y], a.Data[y*a.Width:(y+1)*a.Width])
	}
	return rows
}

// Finite returns the finite values of the array in storage order.
func (a *Array) Finite() []float64 {
	out := make([]float64, 0, len(a.Data))
	for _, v := range a.Data {
		if isFinite(v) {
			out = append(out, v)
		}
	}
	return out
}

// HasNonFinite reports whether any element is NaN or ±Inf.
func (a *Array) HasNonFinite() bool {
	for _, v := range a.Data {
		if !isFinite(v) {
			return true
		}
	}
	return false
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
