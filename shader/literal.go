package shader

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
)

// UnmarshalJSON decodes d and keeps the literal text of every value, so
// 64-bit integers above 2^53 survive decoding.
func (d *BufferData) UnmarshalJSON(data []byte) error {
	type plain BufferData
	var aux struct {
		plain
		Values []json.Number `json:"values"`
	}
	if err := decodeStrict(data, &aux); err != nil {
		return err
	}
	values, literals, err := numbers(aux.Values)
	if err != nil {
		return err
	}
	*d = BufferData(aux.plain)
	d.Values, d.Literals = values, literals
	return nil
}

// UnmarshalJSON decodes p the way BufferData is decoded.
func (p *BufferProbe) UnmarshalJSON(data []byte) error {
	type plain BufferProbe
	var aux struct {
		plain
		Values []json.Number `json:"values"`
	}
	if err := decodeStrict(data, &aux); err != nil {
		return err
	}
	values, literals, err := numbers(aux.Values)
	if err != nil {
		return err
	}
	*p = BufferProbe(aux.plain)
	p.Values, p.Literals = values, literals
	return nil
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func numbers(in []json.Number) ([]float64, []string, error) {
	if in == nil {
		return nil, nil, nil
	}
	values := make([]float64, len(in))
	literals := make([]string, len(in))
	for i, n := range in {
		f, err := n.Float64()
		if err != nil {
			return nil, nil, &json.UnmarshalTypeError{
				Value: "number " + n.String(),
				Type:  reflect.TypeFor[float64](),
				Field: fmt.Sprintf("values.%d", i),
			}
		}
		values[i] = f
		literals[i] = n.String()
	}
	return values, literals, nil
}
