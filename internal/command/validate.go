package command

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// ErrValidation is matched by every ValidationError.
var ErrValidation = errors.New("validation failed")

// ValidationError maps a field path to a human readable message.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, e.Fields[k])
	}
	return fmt.Sprintf("%s: %s", ErrValidation, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		d, ok := field.Interface().(decimal.Decimal)
		if !ok {
			return nil
		}
		f, _ := d.Float64()
		return f
	}, decimal.Decimal{})
	return v
}

func validate(v *validator.Validate, cmd interface{}) error {
	err := v.Struct(cmd)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	return &ValidationError{Fields: formatValidationErrors(verrs)}
}

func formatValidationErrors(verrs validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		// Drop the struct name prefix: "SubmitCheckout.shipping_address.zip_code".
		path := fe.Namespace()
		if i := strings.Index(path, "."); i >= 0 {
			path = path[i+1:]
		}
		field := fe.Field()

		switch fe.Tag() {
		case "required":
			out[path] = fmt.Sprintf("%s is required", field)
		case "email":
			out[path] = fmt.Sprintf("%s must be a valid email address", field)
		case "min":
			out[path] = fmt.Sprintf("%s must be at least %s", field, fe.Param())
		case "max":
			if fe.Kind() == reflect.String {
				out[path] = fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
			} else {
				out[path] = fmt.Sprintf("%s must be at most %s", field, fe.Param())
			}
		case "gt":
			out[path] = fmt.Sprintf("%s must be greater than %s", field, fe.Param())
		case "ne":
			out[path] = fmt.Sprintf("%s must not be %s", field, fe.Param())
		default:
			out[path] = fmt.Sprintf("%s is invalid", field)
		}
	}
	return out
}
