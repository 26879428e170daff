package common

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/ternarybob/quarry/internal/models"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// ValidateStruct validates struct tags and converts the first failure into a
// ConfigurationError naming the offending field
func ValidateStruct(s interface{}) error {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(jsonFieldName)
	})

	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return models.NewConfigurationError(fe.Field(), "failed %q validation", fe.Tag())
	}
	return models.NewConfigurationError("", "%v", err)
}

func jsonFieldName(field reflect.StructField) string {
	name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
	if name == "-" || name == "" {
		return field.Name
	}
	return name
}
