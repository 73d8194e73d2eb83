package utils

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateStruct checks a request DTO against its validate tags and formats
// the failures into a single user-readable error.
func ValidateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var msgs []string
	for _, err := range err.(validator.ValidationErrors) {
		field := strings.ToLower(err.Field())
		param := err.Param()

		switch err.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "min":
			msgs = append(msgs, field+" must be at least "+param)
		case "max":
			msgs = append(msgs, field+" must be at most "+param)
		case "email":
			msgs = append(msgs, field+" must be a valid email")
		case "oneof":
			msgs = append(msgs, field+" must be one of: "+param)
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}

	return fmt.Errorf(strings.Join(msgs, ", "))
}
