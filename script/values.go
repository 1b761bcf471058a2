package script

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/jonwraymond/shaderexec/shader"
)

// exactLimit is the magnitude from which a float64 no longer holds every
// integer.
var exactLimit = math.Ldexp(1, 53)

// formatValues renders values as literals of typeName. Integer types reject
// fractional and out-of-range values; every type rejects NaN and infinities.
// literals, when present, is the decoded text of values.
func formatValues(field, typeName string, values []float64, literals []string) (string, error) {
	typ, _, err := checkValues(field, typeName, values)
	if err != nil {
		return "", err
	}
	out := make([]string, len(values))
	for i, v := range values {
		var lit string
		if len(literals) == len(values) {
			lit, err = formatLiteral(typ, v, literals[i])
		} else {
			lit, err = formatValue(typ, v)
		}
		if err != nil {
			return "", &shader.AssemblyError{Field: fmt.Sprintf("%s.values[%d]", field, i), Message: err.Error()}
		}
		out[i] = lit
	}
	return strings.Join(out, " "), nil
}

func formatValue(typ shader.DataType, v float64) (string, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "", fmt.Errorf("%v is not a finite number", v)
	}
	if typ.Kind == shader.ScalarFloat {
		return formatFloat(v), nil
	}
	if v != math.Trunc(v) {
		return "", fmt.Errorf("%v is not an integer for type %s", v, typ.Name)
	}
	bits := typ.ScalarSize * 8
	if typ.Kind == shader.ScalarUint {
		limit := math.Ldexp(1, bits)
		if v < 0 || v >= limit {
			return "", fmt.Errorf("%v out of range for type %s", v, typ.Name)
		}
		return strconv.FormatUint(uint64(v), 10), nil
	}
	limit := math.Ldexp(1, bits-1)
	if v < -limit || v >= limit {
		return "", fmt.Errorf("%v out of range for type %s", v, typ.Name)
	}
	return strconv.FormatInt(int64(v), 10), nil
}

// formatLiteral formats v from its decoded text text. Integer literals are
// parsed exactly; other spellings of integers must be exact in a float64.
func formatLiteral(typ shader.DataType, v float64, text string) (string, error) {
	if typ.Kind == shader.ScalarFloat {
		return formatValue(typ, v)
	}
	bits := typ.ScalarSize * 8
	var err error
	if typ.Kind == shader.ScalarUint {
		var n uint64
		if n, err = strconv.ParseUint(text, 10, bits); err == nil {
			return strconv.FormatUint(n, 10), nil
		}
	} else {
		var n int64
		if n, err = strconv.ParseInt(text, 10, bits); err == nil {
			return strconv.FormatInt(n, 10), nil
		}
	}
	if errors.Is(err, strconv.ErrRange) {
		return "", fmt.Errorf("%s out of range for type %s", text, typ.Name)
	}
	if math.Abs(v) >= exactLimit {
		return "", fmt.Errorf("%s is not an exact integer; write integers from 2^53 on without a fraction or exponent", text)
	}
	return formatValue(typ, v)
}

// formatFloat returns the shortest decimal form that round-trips, with an
// exponent only for very large or small magnitudes.
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func joinFloats(values []float64, sep string) string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = formatFloat(v)
	}
	return strings.Join(out, sep)
}
