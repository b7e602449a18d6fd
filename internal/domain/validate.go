package domain

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks a single record: id, title and date are required, the
// reminder lead time cannot be negative and source must be a known origin.
func Validate(t Todo) error {
	return validateAt(t, -1)
}

// ValidateBatch validates every record and rejects duplicate ids. The first
// failure aborts the batch.
func ValidateBatch(todos []Todo) error {
	seen := make(map[int64]struct{}, len(todos))
	for i, t := range todos {
		if err := validateAt(t, i); err != nil {
			return err
		}
		if _, dup := seen[t.ID]; dup {
			return &ValidationError{Index: i, Field: "id", Reason: "is duplicated"}
		}
		seen[t.ID] = struct{}{}
	}
	return nil
}

func validateAt(t Todo, index int) error {
	if strings.TrimSpace(t.Title) == "" {
		return &ValidationError{Index: index, Field: "title", Reason: "is required"}
	}
	err := validate.Struct(t)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ValidationError{Index: index, Reason: err.Error()}
	}
	fe := fieldErrs[0]
	return &ValidationError{Index: index, Field: fe.Field(), Reason: reasonFor(fe)}
}

func reasonFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "oneof":
		return "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	default:
		return "failed " + fe.Tag() + " check"
	}
}
