package fits

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FormatValue renders a header value the way astronomers read it in a header dump:
// booleans as True/False, integral floats with a trailing ".0", very large or small
// floats in exponent form.
func FormatValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case bool:
		if t {
			return "True"
		}
		return "False"
	case string:
		return strings.TrimRight(t, " ")
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case float32:
		return formatFloat(float64(t))
	case float64:
		return formatFloat(t)
	case complex128:
		return fmt.Sprintf("(%s%+sj)", formatFloat(real(t)), formatFloat(imag(t)))
	}
	return fmt.Sprint(v)
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case f == 0:
		if math.Signbit(f) {
			return "-0.0"
		}
		return "0.0"
	}

	exp := int(math.Floor(math.Log10(math.Abs(f))))
	if exp < -4 || exp >= 16 {
		return strconv.FormatFloat(f, 'e', -1, 64)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".") {
		s += ".0"
	}
	return s
}
