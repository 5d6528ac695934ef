// Package validation checks request payloads with go-playground/validator and
// translates failures into models.ValidationErrors.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/jsamuelsen11/recipe-web-app/access-service/internal/models"
)

const (
	// MinCodeLength is the shortest accepted access code.
	MinCodeLength = 4
	// MaxCodeLength is the longest accepted access code.
	MaxCodeLength = 32
)

var accessCodeRegex = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Validator validates request structs.
type Validator struct {
	validate *validator.Validate
	logger   *logrus.Logger
}

// New creates a Validator with the access service's custom rules registered.
// Field names in errors use the json tag.
func New(logger *logrus.Logger) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	if err := v.RegisterValidation("access_code", validateAccessCode); err != nil {
		logger.WithError(err).Fatal("Failed to register 'access_code' validator")
	}

	return &Validator{
		validate: v,
		logger:   logger,
	}
}

// IsValidCode reports whether code is an acceptable access code value after trimming.
func IsValidCode(code string) bool {
	code = strings.TrimSpace(code)
	return len(code) >= MinCodeLength && len(code) <= MaxCodeLength && accessCodeRegex.MatchString(code)
}

func validateAccessCode(fl validator.FieldLevel) bool {
	return IsValidCode(fl.Field().String())
}

// Struct validates s and returns models.ValidationErrors describing every failed field.
func (v *Validator) Struct(s interface{}) error {
	if err := v.validate.Struct(s); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			return translate(validationErrs)
		}
		return err
	}
	return nil
}

// Var validates a single value against tag.
func (v *Validator) Var(value interface{}, tag string) error {
	if err := v.validate.Var(value, tag); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			return translate(validationErrs)
		}
		return err
	}
	return nil
}

// CreateCode validates a code creation request against the configured usage limit.
func (v *Validator) CreateCode(req *models.CreateCodeRequest, maxUsageLimit int) error {
	if err := v.Struct(req); err != nil {
		return err
	}

	if maxUsageLimit > 0 && req.MaxUsageCount > maxUsageLimit {
		return models.ValidationErrors{{
			Field:   "max_usage_count",
			Message: fmt.Sprintf("must not exceed %d", maxUsageLimit),
		}}
	}
	return nil
}

func translate(errs validator.ValidationErrors) models.ValidationErrors {
	out := make(models.ValidationErrors, 0, len(errs))
	for _, e := range errs {
		out = append(out, models.ValidationError{
			Field:   e.Field(),
			Message: message(e),
		})
	}
	return out
}

func message(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "access_code":
		return fmt.Sprintf("must be %d-%d letters, digits, '-' or '_'", MinCodeLength, MaxCodeLength)
	case "min":
		return fmt.Sprintf("must be at least %s", e.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", e.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "uuid", "uuid4":
		return "must be a valid UUID"
	default:
		return fmt.Sprintf("failed '%s' validation", e.Tag())
	}
}
