// Package validation checks request payloads against their struct tags and
// reports failures as domain validation errors keyed by JSON field name.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/limiquantix/servicecluster/internal/domain"
)

// Validator validates structs tagged with `validate`.
type Validator struct {
	structValidator *validator.Validate
}

// New creates a new Validator that names fields by their JSON tag.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	// Registration only fails when the tag name is empty or already taken.
	_ = v.RegisterValidation("mac48", func(fl validator.FieldLevel) bool {
		_, ok := domain.CanonicalMAC(fl.Field().String())
		return ok
	})

	return &Validator{structValidator: v}
}

// Struct validates s and returns the first failure as a *domain.ValidationError.
func (v *Validator) Struct(s interface{}) error {
	errs := v.Errors(s)
	if len(errs) == 0 {
		return nil
	}
	return &errs[0]
}

// Errors validates s and returns every failure.
func (v *Validator) Errors(s interface{}) []domain.ValidationError {
	err := v.structValidator.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []domain.ValidationError{{Field: "body", Message: err.Error()}}
	}

	result := make([]domain.ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		result = append(result, domain.ValidationError{
			Field:   fe.Field(),
			Message: message(fe),
		})
	}
	return result
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "mac", "mac48":
		return "must be a valid MAC address"
	case "ip":
		return "must be a valid IP address"
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	case "ltefield":
		return fmt.Sprintf("must not exceed %s", snakeCase(fe.Param()))
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}

// snakeCase converts a Go field name such as TotalDiskGB to total_disk_gb.
func snakeCase(name string) string {
	runes := []rune(name)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) && i > 0 {
			prevLower := unicode.IsLower(runes[i-1])
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevLower || (unicode.IsUpper(runes[i-1]) && nextLower) {
				b.WriteByte('_')
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
