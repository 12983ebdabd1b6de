package validation

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/allay-dev/allay/internal/hook"
	"github.com/allay-dev/allay/internal/version"
	allayerrors "github.com/allay-dev/allay/pkg/errors"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate

	idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

	capabilities = map[string]struct{}{"provider": {}, "installer": {}, "observer": {}}
)

// Instance returns the process-wide validator with the custom tags used by
// plugin manifests and instance configs registered.
func Instance() *validator.Validate {
	validatorOnce.Do(func() {
		v := validator.New()

		_ = v.RegisterValidation("package_id", func(fl validator.FieldLevel) bool {
			return idPattern.MatchString(fl.Field().String())
		})

		_ = v.RegisterValidation("plugin_id", func(fl validator.FieldLevel) bool {
			return idPattern.MatchString(fl.Field().String())
		})

		_ = v.RegisterValidation("instance_id", func(fl validator.FieldLevel) bool {
			return idPattern.MatchString(fl.Field().String())
		})

		_ = v.RegisterValidation("hook_name", func(fl validator.FieldLevel) bool {
			return hook.Known(hook.Name(fl.Field().String()))
		})

		_ = v.RegisterValidation("capability", func(fl validator.FieldLevel) bool {
			_, ok := capabilities[fl.Field().String()]
			return ok
		})

		_ = v.RegisterValidation("version_pattern", func(fl validator.FieldLevel) bool {
			_, err := version.Parse(fl.Field().String())
			return err == nil
		})

		validateInst = v
	})

	return validateInst
}

// Convert turns validator failures into structured ValidationErrors with
// lowercased, YAML-ish field paths.
func Convert(err error) error {
	if err == nil {
		return nil
	}

	if ves, ok := err.(validator.ValidationErrors); ok {
		ve := ves[0]
		field := yamlishFieldName(ve)
		msg := fmt.Sprintf("%s failed validation for tag '%s'", field, ve.Tag())
		return allayerrors.NewValidationError(field, msg, err)
	}

	return allayerrors.NewValidationError("", err.Error(), err)
}

func yamlishFieldName(fe validator.FieldError) string {
	ns := fe.StructNamespace()
	parts := strings.Split(ns, ".")
	var lowered []string
	for _, part := range parts {
		lowered = append(lowered, strings.ToLower(part))
	}
	return strings.Join(lowered, ".")
}

var yamlLineRegex = regexp.MustCompile(`line (\d+)`)

// ExtractLine pulls the line number out of a yaml.v3 error message, or 0
// when none is present.
func ExtractLine(err error) int {
	if err == nil {
		return 0
	}

	matches := yamlLineRegex.FindStringSubmatch(err.Error())
	if len(matches) != 2 {
		return 0
	}

	var line int
	_, scanErr := fmt.Sscanf(matches[1], "%d", &line)
	if scanErr != nil {
		return 0
	}

	return line
}
