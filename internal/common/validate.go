package common

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	validator "github.com/go-playground/validator/v10"
)

// ErrInvalidPayload marks request bodies that could not be decoded or validated.
var ErrInvalidPayload = errors.New("invalid payload")

// Validator is shared by handlers and reports fields by their JSON names.
var Validator = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// FieldError describes one failed validation rule.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// DecodeJSON decodes the body into v and runs struct validation. Failures are returned as an
// AppError carrying the offending fields.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return NewAppError("BAD_REQUEST", "invalid JSON body", http.StatusBadRequest, fmt.Errorf("%w: %v", ErrInvalidPayload, err))
	}
	if err := Validator.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]FieldError, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, FieldError{Field: fieldPath(fe), Rule: fe.Tag()})
			}
			appErr := NewAppError("VALIDATION_FAILED", "request validation failed", http.StatusUnprocessableEntity, fmt.Errorf("%w: %v", ErrInvalidPayload, err))
			appErr.Details = fields
			return appErr
		}
		return NewAppError("BAD_REQUEST", "invalid request", http.StatusBadRequest, fmt.Errorf("%w: %v", ErrInvalidPayload, err))
	}
	return nil
}

// fieldPath drops the root struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
