package signup

import (
	"errors"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"unicode/utf16"

	"github.com/aanand-mishra/signup/internal/types"
	"github.com/go-playground/validator/v10"
)

// notSpaceOrAt matches one character that is neither '@' nor whitespace.
// RE2's \s is ASCII only, so the Unicode space separators, line and
// paragraph separators, NBSP and the byte order mark are listed too.
const notSpaceOrAt = `[^\t\n\v\f\r \x{00A0}\x{1680}\x{2000}-\x{200A}\x{2028}\x{2029}\x{202F}\x{205F}\x{3000}\x{FEFF}@]`

// emailPattern accepts local-part@domain.tld where every part is a run of
// characters that are neither whitespace nor '@'.
var emailPattern = regexp.MustCompile(`^` + notSpaceOrAt + `+@` + notSpaceOrAt + `+\.` + notSpaceOrAt + `+$`)

// messages holds the user-facing text for every (field, failing tag) pair.
var messages = map[types.Field]map[string]string{
	types.FieldName: {
		"notblank": "Full name is required.",
	},
	types.FieldEmail: {
		"required":   "Email is required.",
		"emailshape": "Enter a valid email.",
	},
	types.FieldPassword: {
		"required": "Password is required.",
		"minunits": "Password must be at least 6 characters.",
	},
	types.FieldConfirm: {
		"required": "Please confirm your password.",
		"eqfield":  "Passwords do not match.",
	},
	types.FieldTerms: {
		"required": "You must accept the Terms & Conditions.",
	},
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// formValidator builds the shared validator on first use. A Validate
// instance caches struct metadata and is safe for concurrent use.
func formValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("form"), ",")
			if name == "" || name == "-" {
				return f.Name
			}
			return name
		})
		// Registration only fails for empty tags or nil funcs.
		_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
			return strings.TrimSpace(fl.Field().String()) != ""
		})
		_ = v.RegisterValidation("emailshape", func(fl validator.FieldLevel) bool {
			return emailPattern.MatchString(fl.Field().String())
		})
		_ = v.RegisterValidation("minunits", func(fl validator.FieldLevel) bool {
			limit, err := strconv.Atoi(fl.Param())
			if err != nil {
				return false
			}
			return utf16Len(fl.Field().String()) >= limit
		})
		validate = v
	})
	return validate
}

// Validate checks every field of state in one pass and returns the
// violations. It has no side effects; an empty map means the form can
// be submitted.
func Validate(state types.FormState) types.ErrorMap {
	errs := types.ErrorMap{}

	err := formValidator().Struct(state)
	if err == nil {
		return errs
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		// Only reachable if FormState stops being a struct.
		panic(err)
	}

	for _, fe := range fieldErrs {
		field := types.Field(fe.Field())
		msg, ok := messages[field][fe.Tag()]
		if !ok {
			msg = "Invalid value."
		}
		errs[field] = msg
	}
	return errs
}

// utf16Len counts UTF-16 code units, so a character outside the Basic
// Multilingual Plane counts twice.
func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}
