package common

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ternarybob/drover/internal/models"
)

var validate = validator.New()

// ValidateStruct runs struct tag validation and converts the first failure
// into a *models.ValidationError
func ValidateStruct(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := fe.Field()
		if field != "" {
			field = strings.ToLower(field[:1]) + field[1:]
		}
		if fe.Param() != "" {
			return models.NewValidationError(field, "failed %s=%s validation", fe.Tag(), fe.Param())
		}
		return models.NewValidationError(field, "failed %s validation", fe.Tag())
	}
	return models.NewValidationError("", "%v", err)
}
