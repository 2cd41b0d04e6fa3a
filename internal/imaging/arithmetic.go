package imaging

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownOp is returned for an arithmetic operator that is not supported.
var ErrUnknownOp = errors.New("unknown arithmetic operator")

// Op is an elementwise arithmetic operator.
type Op string

const (
	OpAdd      Op = "add"
	OpSubtract Op = "subtract"
	OpMultiply Op = "multiply"
	OpDivide   Op = "divide"
)

// ParseOp accepts operator names and the symbols used by the viewer controls (+, -, *, x, ×, /).
func ParseOp(s string) (Op, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "add", "+":
		return OpAdd, nil
	case "subtract", "sub", "-":
		return OpSubtract, nil
	case "multiply", "mul", "*", "x", "×":
		return OpMultiply, nil
	case "divide", "div", "/":
		return OpDivide, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownOp, s)
}

// Combine applies op elementwise to a and b. Division follows IEEE-754, so a zero
// divisor yields ±Inf or NaN instead of an error; hasNonFinite reports whether any
// output element is not finite.
func Combine(a, b *Array, op Op) (result *Array, hasNonFinite bool, err error) {
	if !a.SameShape(b) {
		return nil, false, fmt.Errorf("%w: (%d,%d) vs (%d,%d)", ErrShapeMismatch, a.Height, a.Width, b.Height, b.Width)
	}

	var f func(x, y float64) float64
	switch op {
	case OpAdd:
		f = func(x, y float64) float64 { return x + y }
	case OpSubtract:
		f = func(x, y float64) float64 { return x - y }
	case OpMultiply:
		f = func(x, y float64) float64 { return x * y }
	case OpDivide:
		f = func(x, y float64) float64 { return x / y }
	default:
		return nil, false, fmt.Errorf("%w: %q", ErrUnknownOp, op)
	}

	out := New(a.Height, a.Width)
	for i := range a.Data {
		out.Data[i] = f(a.Data[i], b.Data[i])
	}
	return out, out.HasNonFinite(), nil
}
