// Package validation checks user answers with go-playground/validator. Besides the stock
// tags it knows "phone" (7 to 15 digits, optional leading +, spaces, dashes and parentheses),
// "letters" (at least one letter) and "cedula" (a Venezuelan identity card such as V-12345678).
package validation

import (
	"errors"
	"regexp"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var (
	validate = newValidator()
	cedulaRe = regexp.MustCompile(`^[VvEe]-?\d{6,9}$`)
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	for tag, fn := range map[string]validator.Func{
		"phone":   phone,
		"letters": letters,
		"cedula":  cedula,
	} {
		if err := v.RegisterValidation(tag, fn); err != nil {
			panic(err)
		}
	}
	return v
}

// Struct validates every tagged field of s.
func Struct(s any) error {
	return validate.Struct(s)
}

// Fields validates only the named top-level fields of s, for flows that fill a struct one
// answer at a time.
func Fields(s any, names ...string) error {
	return validate.StructPartial(s, names...)
}

// Var validates a single value against tag, e.g. Var(addr, "required,email").
func Var(value any, tag string) error {
	return validate.Var(value, tag)
}

// Failed lists the fields and tags that did not pass, as "Field:tag".
func Failed(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fe.Field()+":"+fe.Tag())
	}
	return out
}

func phone(fl validator.FieldLevel) bool {
	s := strings.TrimSpace(fl.Field().String())
	digits := 0
	for i, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '+' && i == 0, r == ' ', r == '-', r == '(', r == ')':
		default:
			return false
		}
	}
	return digits >= 7 && digits <= 15
}

func letters(fl validator.FieldLevel) bool {
	return strings.IndexFunc(fl.Field().String(), unicode.IsLetter) >= 0
}

// cedula accepts V or E, an optional dash and 6 to 9 digits; dots and spaces are ignored.
func cedula(fl validator.FieldLevel) bool {
	s := strings.NewReplacer(".", "", " ", "").Replace(fl.Field().String())
	return cedulaRe.MatchString(s)
}
