package validator

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// maxBodyBytes caps request bodies decoded by DecodeAndValidate.
const maxBodyBytes = 1 << 20

var codePattern = regexp.MustCompile(`^[A-Za-z0-9-]{4,32}$`)

var validate = newValidate()

func newValidate() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report fields by their JSON name so clients can map errors to inputs.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	// decimal.Decimal fields are compared numerically by gte/gt/lte tags.
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})

	_ = v.RegisterValidation("vcode", func(fl validator.FieldLevel) bool {
		return codePattern.MatchString(fl.Field().String())
	})

	return v
}

// Validate checks s against its validate tags. Tag failures come back as
// *ValidationError.
func Validate(s any) error {
	err := validate.Struct(s)
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		return &ValidationError{Errors: fieldErrs}
	}
	return err
}

// ValidationError lists the fields that failed their tags.
type ValidationError struct {
	Errors validator.ValidationErrors
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		msgs[i] = fmt.Sprintf("field '%s' %s", fe.Field(), describe(fe))
	}
	return strings.Join(msgs, "; ")
}

// Fields maps each failing JSON field to a client-facing message. Nested
// fields use their dotted namespace below the request type.
func (e *ValidationError) Fields() map[string]string {
	fields := make(map[string]string, len(e.Errors))
	for _, fe := range e.Errors {
		fields[fieldPath(fe)] = describe(fe)
	}
	return fields
}

func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return fe.Field()
}

// bounded words a size limit as a length for strings and a count for slices.
func bounded(word string) func(validator.FieldError) string {
	return func(fe validator.FieldError) string {
		switch fe.Kind() {
		case reflect.String:
			return fmt.Sprintf("must be %s %s characters", word, fe.Param())
		case reflect.Slice, reflect.Map:
			return fmt.Sprintf("must have %s %s items", word, fe.Param())
		default:
			return fmt.Sprintf("must be %s %s", word, fe.Param())
		}
	}
}

func fixed(msg string) func(validator.FieldError) string {
	return func(validator.FieldError) string { return msg }
}

var tagMessages = map[string]func(validator.FieldError) string{
	"required": fixed("is required"),
	"email":    fixed("must be a valid email address"),
	"uuid":     fixed("must be a valid UUID"),
	"url":      fixed("must be a valid URL"),
	"e164":     fixed("must be a phone number in E.164 format"),
	"vcode":    fixed("must be a voucher code (4-32 letters, digits or dashes)"),
	"min":      bounded("at least"),
	"max":      bounded("at most"),
	"gt":       func(fe validator.FieldError) string { return "must be greater than " + fe.Param() },
	"gte":      func(fe validator.FieldError) string { return "must be greater than or equal to " + fe.Param() },
	"lte":      func(fe validator.FieldError) string { return "must be less than or equal to " + fe.Param() },
	"oneof":    func(fe validator.FieldError) string { return "must be one of: " + fe.Param() },
}

func describe(fe validator.FieldError) string {
	if msg, ok := tagMessages[fe.Tag()]; ok {
		return msg(fe)
	}
	return fmt.Sprintf("failed on '%s' validation", fe.Tag())
}

// DecodeAndValidate decodes a JSON body of at most 1 MB into dst and
// validates it.
func DecodeAndValidate(r *http.Request, dst any) error {
	if err := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return Validate(dst)
}
