package core

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"memberpay/internal/types"
)

var (
	externalIDPattern   = regexp.MustCompile(`^ms-(plan|coupon|item)-[0-9]+-[0-9A-Za-z]+$`)
	currencyCodePattern = regexp.MustCompile(`^[a-z]{3}$`)
)

// Validator wraps go-playground/validator and registers the memberpay tags:
//
//	external_id   - a derived remote id, "ms-<type>-<local id>-<hash>"
//	currency_code - a lowercase ISO 4217 code
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// ValidationError is one failed field rule, as returned to API clients.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult separates blocking errors from advisory warnings.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []string
}

// IsValid reports whether the result carries no errors.
func (r ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// Warner is implemented by values that can report non-blocking problems
// after passing struct validation.
type Warner interface {
	ValidationWarnings() []string
}

// NewValidator creates a Validator with the custom tags registered. Field
// names in errors use the json tag when present.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})

	// Registration only fails on an empty tag or nil func.
	_ = v.RegisterValidation("external_id", func(fl validator.FieldLevel) bool {
		return externalIDPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("currency_code", func(fl validator.FieldLevel) bool {
		return currencyCodePattern.MatchString(fl.Field().String())
	})

	return &Validator{validate: v, logger: logger}
}

// ValidateStruct validates s and returns a *types.AppError whose code comes
// from the first failing rule. Every failure is listed in
// Details["validation_errors"].
func (v *Validator) ValidateStruct(s any) error {
	errs, err := v.collect(s)
	if err != nil {
		return err
	}
	if len(errs) == 0 {
		return nil
	}
	return types.NewAppErrorWithDetails(
		types.ErrorCode(errs[0].Code),
		errs[0].Message,
		nil,
		map[string]any{"validation_errors": errs},
	)
}

// ValidateStructWithWarnings validates s and, when it passes and implements
// Warner, attaches its warnings.
func (v *Validator) ValidateStructWithWarnings(s any) ValidationResult {
	errs, err := v.collect(s)
	if err != nil {
		return ValidationResult{Errors: []ValidationError{{
			Field:   "",
			Code:    string(types.ErrCodeValidationInvalidValue),
			Message: err.Error(),
		}}}
	}

	result := ValidationResult{Errors: errs}
	if result.IsValid() {
		if w, ok := s.(Warner); ok {
			result.Warnings = w.ValidationWarnings()
		}
	}
	return result
}

func (v *Validator) collect(s any) ([]ValidationError, error) {
	err := v.validate.Struct(s)
	if err == nil {
		return nil, nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		// InvalidValidationError: s was not a struct.
		v.logger.Error("validator called with a non-struct value", "type", fmt.Sprintf("%T", s))
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "validation could not run", err)
	}

	out := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			Field:   fe.Field(),
			Code:    tagToErrorCode(fe.Tag()),
			Message: fieldMessage(fe),
		})
	}
	return out, nil
}

// tagToErrorCode maps a validator tag to the API error code.
func tagToErrorCode(tag string) string {
	switch tag {
	case "required", "required_if", "required_without":
		return string(types.ErrCodeValidationMissingField)
	case "email":
		return string(types.ErrCodeValidationInvalidEmail)
	case "external_id":
		return string(types.ErrCodeValidationInvalidID)
	default:
		return string(types.ErrCodeValidationInvalidValue)
	}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if", "required_without":
		return fmt.Sprintf("%s is required", fe.Field())
	case "email":
		return fmt.Sprintf("%s must be a valid email address", fe.Field())
	case "external_id":
		return fmt.Sprintf("%s must be a derived external id", fe.Field())
	case "currency_code":
		return fmt.Sprintf("%s must be a lowercase three-letter currency code", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param())
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}
