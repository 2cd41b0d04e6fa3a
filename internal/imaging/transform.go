package imaging

// Transform describes the display orientation of a normalized frame.
// Rot90 counts clockwise quarter turns and is taken modulo 4.
type Transform struct {
	FlipX    bool `json:"flip_x" yaml:"flip_x"`
	FlipY    bool `json:"flip_y" yaml:"flip_y"`
	Rot90    int  `json:"rot90" yaml:"rot90"`
	Negative bool `json:"negative" yaml:"negative"`
}

// Rotate adds one clockwise quarter turn.
func (t *Transform) Rotate() {
	t.Rot90 = (t.quarterTurns() + 1) % 4
}

func (t Transform) quarterTurns() int {
	k := t.Rot90 % 4
	if k < 0 {
		k += 4
	}
	return k
}

// Apply runs flip_x, flip_y, rotation and negation in that order and returns a new array.
// Negation computes 1-x and is only meaningful on data already normalized into [0,1].
func (t Transform) Apply(arr *Array) *Array {
	out := arr.Clone()
	if t.FlipX {
		out = flipColumns(out)
	}
	if t.FlipY {
		out = flipRows(out)
	}
	for i := 0; i < t.quarterTurns(); i++ {
		out = rotateClockwise(out)
	}
	if t.Negative {
		for i, v := range out.Data {
			out.Data[i] = 1 - v
		}
	}
	return out
}

func flipColumns(a *Array) *Array {
	out := New(a.Height, a.Width)
	for y := 0; y < a.Height; y++ {
		row := y * a.Width
		for x := 0; x < a.Width; x++ {
			out.Data[row+x] = a.Data[row+a.Width-1-x]
		}
	}
	return out
}

func flipRows(a *Array) *Array {
	out := New(a.Height, a.Width)
	for y := 0; y < a.Height; y++ {
		copy(out.Data[y*a.Width:(y+1)*a.Width], a.Data[(a.Height-1-y)*a.Width:(a.Height-y)*a.Width])
	}
	return out
}

// rotateClockwise turns (h,w) into (w,h): out[i][j] = in[h-1-j][i].
func rotateClockwise(a *Array) *Array {
	out := New(a.Width, a.Height)
	for i := 0; i < out.Height; i++ {
		for j := 0; j < out.Width; j++ {
			out.Set(i, j, a.At(a.Height-1-j, i))
		}
	}
	return out
}
