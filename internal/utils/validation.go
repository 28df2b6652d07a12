package utils

import (
	"regexp"

	"github.com/go-playground/validator/v10"

	"github.com/sisques-labs/project-starter-sub009/internal/apperror"
)

var (
	validate  *validator.Validate
	slugRegex = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
)

func init() {
	validate = validator.New()
	RegisterCustomValidations()
}

// ValidateStruct validates a struct using validation tags and returns an
// apperror.ValidationError on failure.
func ValidateStruct(s interface{}) error {
	if err := validate.Struct(s); err != nil {
		return apperror.FromValidator(err)
	}
	return nil
}

// IsValidSlug checks a lowercase, dash separated identifier
func IsValidSlug(slug string) bool {
	return slugRegex.MatchString(slug)
}

// RegisterCustomValidations registers custom validation functions
func RegisterCustomValidations() {
	validate.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
		return IsValidSlug(fl.Field().String())
	})
}

// IsValidEmail checks an address with the validator's email rule
func IsValidEmail(email string) bool {
	return validate.Var(email, "required,email") == nil
}
