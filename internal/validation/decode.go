package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Decode converts loosely typed step fields into a typed record. Each key
// is checked on its own so errors name the offending field; unknown keys
// and wrongly typed values are reported, and out is only filled when
// every key decodes.
func Decode(fields map[string]any, out any) []FieldError {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs []FieldError
	for _, k := range keys {
		if fields[k] == nil {
			continue
		}
		single, err := json.Marshal(map[string]any{k: fields[k]})
		if err != nil {
			errs = append(errs, FieldError{Field: k, Message: "value is not representable as JSON", Code: CodeInvalidType})
			continue
		}
		if err := strictDecode(single, newLike(out)); err != nil {
			errs = append(errs, decodeError(k, err))
		}
	}
	if len(errs) > 0 {
		return errs
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return []FieldError{{Field: "", Message: err.Error(), Code: CodeInvalidType}}
	}
	if err := strictDecode(raw, out); err != nil {
		return []FieldError{decodeError("", err)}
	}
	return nil
}

func strictDecode(data []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func decodeError(field string, err error) FieldError {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		if typeErr.Field != "" {
			field = typeErr.Field
		}
		return FieldError{Field: field, Message: fmt.Sprintf("expected %s", typeErr.Type.String()), Code: CodeInvalidType}
	}
	if msg := err.Error(); strings.Contains(msg, "unknown field") {
		return FieldError{Field: field, Message: "unknown field", Code: CodeUnknownField}
	}
	return FieldError{Field: field, Message: err.Error(), Code: CodeInvalidType}
}

// newLike returns a fresh zero value of the type out points to.
func newLike(out any) any {
	return reflect.New(reflect.TypeOf(out).Elem()).Interface()
}
