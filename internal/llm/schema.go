package llm

import (
	"errors"
	"math"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// NewValidator returns a validator for model response schemas.
// Field errors carry the JSON field name, and the "whole" tag accepts integral numbers only.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	// Registration only fails for an empty tag or a nil func
	_ = v.RegisterValidation("whole", isWhole)
	return v
}

func isWhole(fl validator.FieldLevel) bool {
	switch fl.Field().Kind() {
	case reflect.Float32, reflect.Float64:
		f := fl.Field().Float()
		return !math.IsNaN(f) && !math.IsInf(f, 0) && f == math.Trunc(f)
	default:
		return true
	}
}

// FieldErrors returns the field errors of a failed validation, or nil for any other error
func FieldErrors(err error) validator.ValidationErrors {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		return fieldErrs
	}
	return nil
}

// ClearFields zeroes the fields of the struct pointed to by dst that failed validation.
// Returns the JSON names of the cleared fields, in error order without repeats.
func ClearFields(dst any, errs validator.ValidationErrors) []string {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.Elem().Kind() != reflect.Struct {
		return nil
	}
	rv = rv.Elem()

	var cleared []string
	seen := make(map[string]bool)
	for _, fe := range errs {
		if f := rv.FieldByName(fe.StructField()); f.IsValid() && f.CanSet() {
			f.Set(reflect.Zero(f.Type()))
		}
		if !seen[fe.Field()] {
			seen[fe.Field()] = true
			cleared = append(cleared, fe.Field())
		}
	}
	return cleared
}
