package util

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

type ValidationErrorResponse struct {
	FailedField string `json:"failedField"`
	Tag         string `json:"tag"`
	Value       string `json:"value"`
}

var validate = validator.New()

func ValidateStruct(data interface{}) []*ValidationErrorResponse {
	var errs []*ValidationErrorResponse
	err := validate.Struct(data)

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		for _, err := range validationErrors {
			errs = append(errs, &ValidationErrorResponse{
				FailedField: err.StructNamespace(),
				Tag:         err.Tag(),
				Value:       err.Param(),
			})
		}
	}
	return errs
}

func ReadAndValidate[T any](c *fiber.Ctx) (*T, []*ValidationErrorResponse) {
	req := new(T)
	// we ignore the parse error and show the user a friendly validation error
	_ = c.BodyParser(req)

	validationErrors := ValidateStruct(req)
	if validationErrors != nil {
		return nil, validationErrors
	}

	return req, nil
}

// ReadAndValidateQuery is ReadAndValidate for query string parameters.
func ReadAndValidateQuery[T any](c *fiber.Ctx) (*T, []*ValidationErrorResponse) {
	req := new(T)
	_ = c.QueryParser(req)

	validationErrors := ValidateStruct(req)
	if validationErrors != nil {
		return nil, validationErrors
	}

	return req, nil
}
