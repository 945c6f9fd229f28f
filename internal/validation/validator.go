package validation

import (
	"reflect"
	"regexp"
	"strings"

	validatorv10 "github.com/go-playground/validator/v10"
)

// serial numbers are printed on the box; keep them short and canonical.
var serialPattern = regexp.MustCompile(`^[1-9][0-9]{0,8}$`)

// New returns a configured validator with the custom tags registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// report fields by their JSON names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})

	// "serial" checks a unit serial number, so "007" and "7" can't both be issued.
	_ = v.RegisterValidation("serial", func(fl validatorv10.FieldLevel) bool {
		return serialPattern.MatchString(fl.Field().String())
	})

	return v
}
