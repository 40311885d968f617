package models

import (
	"github.com/go-playground/validator/v10"
)

// RegisterValidations adds the relay specific rules to v.
func RegisterValidations(v *validator.Validate) error {
	return v.RegisterValidation("unique_chat_id", func(fl validator.FieldLevel) bool {
		_, _, err := SplitUniqueUserID(fl.Field().String())
		return err == nil
	})
}

// NewValidator returns a validator with the relay rules registered.
func NewValidator() *validator.Validate {
	v := validator.New()
	if err := RegisterValidations(v); err != nil {
		panic(err)
	}
	return v
}
