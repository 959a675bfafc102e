package operations

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"adminreports/internal/reports"
	"adminreports/pkg/contracts/domain"
)

var configValidator = newConfigValidator()

func newConfigValidator() *validator.Validate {
	v := validator.New()
	// Use JSON tag names in field errors
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidateReportConfig rejects a configuration before anything is fetched.
// Reversed dates are rejected, never swapped.
func ValidateReportConfig(cfg domain.ReportConfig) error {
	if err := configValidator.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return NewInvalidConfigError("invalid report configuration", nil).WithCause(err)
		}
		fields := make([]FieldError, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, FieldError{Field: fe.Field(), Message: fieldMessage(fe)})
		}
		return NewInvalidConfigError("invalid report configuration", fields)
	}

	if _, err := reports.ParseDateRange(cfg, nil); err != nil {
		field := "date_start"
		if !errors.Is(err, reports.ErrDateOrder) {
			field = "date_range"
		}
		return NewInvalidConfigError(err.Error(), []FieldError{{Field: field, Message: err.Error()}})
	}
	return nil
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "datetime":
		return fmt.Sprintf("must be a date in %s format", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
