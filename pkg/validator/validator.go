// Package validator checks request payloads against their `validate` struct
// tags and reports every offending field at once.
package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/autherr"
)

// Guard validates inputs before they reach a service.
type Guard struct {
	v *validator.Validate
}

// New builds a Guard. Field names in violations come from the json tag.
func New() *Guard {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation("notblank", notBlank)
	return &Guard{v: v}
}

// notBlank rejects strings made only of whitespace.
func notBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// Check returns nil when in satisfies its tags, otherwise an
// *autherr.Error of kind validation listing each violation.
func (g *Guard) Check(in any) error {
	err := g.v.Struct(in)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return autherr.Internal("validate input", err)
	}
	violations := make([]autherr.Violation, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		violations = append(violations, autherr.Violation{
			Field:   fe.Field(),
			Rule:    fe.Tag(),
			Message: message(fe),
		})
	}
	return autherr.Validation(violations)
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "notblank":
		return fmt.Sprintf("%s is required", fe.Field())
	case "email":
		return fmt.Sprintf("%s must be a valid email address", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	case "len":
		return fmt.Sprintf("%s must be exactly %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}
