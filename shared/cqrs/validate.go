package cqrs

import (
	"errors"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// amounts compare as numbers so gt/gte tags apply to them
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// FieldError names the first field a command failed on.
type FieldError struct {
	Field string
	Tag   string
}

func (e *FieldError) Error() string {
	return e.Field + " failed " + e.Tag
}

// Validate checks cmd's struct tags and returns a *FieldError for the first
// violation.
func Validate(cmd any) error {
	err := validate.Struct(cmd)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return &FieldError{Field: verrs[0].Field(), Tag: verrs[0].Tag()}
	}
	return err
}
