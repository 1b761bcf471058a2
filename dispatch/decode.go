package dispatch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jonwraymond/shaderexec/shader"
)

// DecodeRequest converts JSON-shaped tool arguments to a Request.
// Unknown fields and mistyped values are validation errors.
func DecodeRequest(args map[string]any) (shader.Request, error) {
	if args == nil {
		return shader.Request{}, &shader.ValidationError{Field: "arguments", Message: "arguments are required"}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return shader.Request{}, &shader.ValidationError{Field: "arguments", Message: err.Error()}
	}
	return DecodeRequestJSON(data)
}

// DecodeRequestJSON decodes a request body.
func DecodeRequestJSON(data []byte) (shader.Request, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var req shader.Request
	if err := dec.Decode(&req); err != nil {
		return shader.Request{}, decodeError(err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return shader.Request{}, &shader.ValidationError{Field: "arguments", Message: "trailing data after request"}
	}
	return req, nil
}

func decodeError(err error) error {
	var typeErr *json.UnmarshalTypeError
	var syntaxErr *json.SyntaxError
	switch {
	case errors.As(err, &typeErr):
		field := typeErr.Field
		if field == "" {
			field = "arguments"
		}
		return &shader.ValidationError{
			Field:   field,
			Message: fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value),
		}
	case errors.As(err, &syntaxErr):
		return &shader.ValidationError{Field: "arguments", Message: fmt.Sprintf("malformed JSON at offset %d", syntaxErr.Offset)}
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		name := strings.Trim(strings.TrimPrefix(err.Error(), "json: unknown field "), `"`)
		return &shader.ValidationError{Field: name, Message: "unknown field"}
	case errors.Is(err, io.EOF):
		return &shader.ValidationError{Field: "arguments", Message: "empty request"}
	default:
		return &shader.ValidationError{Field: "arguments", Message: err.Error()}
	}
}
