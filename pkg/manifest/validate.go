package manifest

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/mwm126/anaconda-recipes/pkg/engine"
)

// packageNameRe matches conda package names.
var packageNameRe = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_.+-]*$`)

// newValidator returns a validator that understands the pkgname tag and
// reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("pkgname", func(fl validator.FieldLevel) bool {
		return packageNameRe.MatchString(fl.Field().String())
	})
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateRecipe runs struct-tag validation and converts the first failure to
// a MalformedManifest error.
func validateRecipe(v *validator.Validate, r *engine.Recipe) error {
	err := v.Struct(r)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return engine.NewPermanentError("recipe validation failed", err).
			WithCode(engine.ErrCodeMalformedManifest)
	}

	fe := verrs[0]
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	return engine.NewMalformedManifest(field, describe(fe))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "pkgname":
		return fmt.Sprintf("%q is not a valid package name", fe.Value())
	case "len":
		return fmt.Sprintf("%s must be %s characters long", fe.Field(), fe.Param())
	case "hexadecimal":
		return fmt.Sprintf("%s must be hexadecimal", fe.Field())
	case "url":
		return fmt.Sprintf("%s must be a URL", fe.Field())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}
