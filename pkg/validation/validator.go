package validation

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var (
	// Validate is the global validator instance
	Validate *validator.Validate

	// ErrInvalidMSISDN is returned for numbers that are not Kenyan mobile numbers
	ErrInvalidMSISDN = errors.New("invalid phone number: expected a Kenyan mobile number such as 0712345678")

	msisdnRegex = regexp.MustCompile(`^254[17]\d{8}$`)

	ginOnce sync.Once
)

func init() {
	Validate = validator.New()
	registerCustom(Validate)
}

func registerCustom(v *validator.Validate) {
	_ = v.RegisterValidation("msisdn", validateMSISDN)
	_ = v.RegisterValidation("kes", validateKES)
}

// RegisterGinValidators adds the custom tags to gin's binding engine so `binding:"msisdn"` works
func RegisterGinValidators() {
	ginOnce.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			registerCustom(v)
		}
	})
}

// ValidationError collects field level failures
type ValidationError struct {
	Errors map[string]string
}

// NewValidationError converts validator output into a ValidationError
func NewValidationError(errs validator.ValidationErrors) *ValidationError {
	v := &ValidationError{Errors: make(map[string]string, len(errs))}
	for _, fe := range errs {
		v.AddError(strings.ToLower(fe.Field()), describe(fe))
	}
	return v
}

// AddError records a message for field
func (v *ValidationError) AddError(field, message string) {
	if v.Errors == nil {
		v.Errors = make(map[string]string)
	}
	v.Errors[field] = message
}

// HasErrors reports whether any field failed
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

func (v *ValidationError) Error() string {
	fields := make([]string, 0, len(v.Errors))
	for field := range v.Errors {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, v.Errors[field]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// ValidateStruct validates a struct and returns a ValidationError if validation fails
func ValidateStruct(s interface{}) error {
	err := Validate.Struct(s)
	if err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			return NewValidationError(validationErrors)
		}
		return err
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "msisdn":
		return "must be a Kenyan mobile number"
	case "kes":
		return "must be a positive whole shilling amount"
	case "max":
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	default:
		return "failed " + fe.Tag()
	}
}

func validateMSISDN(fl validator.FieldLevel) bool {
	_, err := NormalizeMSISDN(fl.Field().String())
	return err == nil
}

// validateKES accepts positive integers, or floats without a fractional part
func validateKES(fl validator.FieldLevel) bool {
	field := fl.Field()
	switch {
	case field.CanInt():
		return field.Int() > 0
	case field.CanFloat():
		f := field.Float()
		return f > 0 && f == float64(int64(f))
	default:
		return false
	}
}

// NormalizeMSISDN converts the accepted spellings of a Kenyan mobile number
// (0712345678, 712345678, +254712345678, 254 712 345 678) into 2547XXXXXXXX or 2541XXXXXXXX.
func NormalizeMSISDN(phone string) (string, error) {
	var digits strings.Builder
	for i, r := range strings.TrimSpace(phone) {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r == '+' && i == 0, r == ' ', r == '-':
		default:
			return "", ErrInvalidMSISDN
		}
	}

	n := digits.String()
	switch {
	case len(n) == 10 && n[0] == '0':
		n = "254" + n[1:]
	case len(n) == 9:
		n = "254" + n
	}

	if !msisdnRegex.MatchString(n) {
		return "", ErrInvalidMSISDN
	}
	return n, nil
}
