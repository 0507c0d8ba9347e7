package ctdf

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var payloadValidator = newPayloadValidator()

func newPayloadValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report fields by their wire names
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return field.Name
		}
		return name
	})

	return v
}

// Validate checks an inbound payload against its validate tags and returns an
// ErrValidation describing every failing field.
func Validate(payload interface{}) error {
	err := payloadValidator.Struct(payload)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return fmt.Errorf("%w: %s", ErrValidation, err)
	}

	messages := make([]string, 0, len(validationErrors))
	for _, fieldError := range validationErrors {
		messages = append(messages, describeFieldError(fieldError))
	}

	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(messages, "; "))
}

func describeFieldError(fieldError validator.FieldError) string {
	field := fieldError.Field()

	switch fieldError.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "latitude", "longitude":
		return fmt.Sprintf("%s must be a valid %s", field, fieldError.Tag())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, fieldError.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fieldError.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fieldError.Tag())
	}
}
