//
//
package record

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report json names so errors match the wire payload.
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks the structural rules of an input. The first failing field
// is returned as a *ValidationError.
func Validate(in Input) error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ValidationError{Field: "body", Reason: err.Error()}
	}
	return &ValidationError{
		Field:  fieldPath(fieldErrs[0].Namespace()),
		Reason: describe(fieldErrs[0]),
	}
}

// fieldPath strips the struct name: "Input.gps.latitude" -> "gps.latitude".
func fieldPath(namespace string) string {
	if i := strings.IndexByte(namespace, '.'); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func describe(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "gte":
		return fmt.Sprintf("must be >= %s (got: %v)", e.Param(), e.Value())
	case "lte":
		return fmt.Sprintf("must be <= %s (got: %v)", e.Param(), e.Value())
	case "max":
		return fmt.Sprintf("must be at most %s characters", e.Param())
	default:
		return fmt.Sprintf("failed %q validation", e.Tag())
	}
}
