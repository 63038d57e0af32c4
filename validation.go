package authcore

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("username", func(fl validator.FieldLevel) bool {
		return usernamePattern.MatchString(fl.Field().String())
	})
	return v
}

// RequestError describes which request fields failed validation. It wraps
// ErrInvalidRequest.
type RequestError struct {
	Fields map[string]string
}

func (e *RequestError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("field '%s' %s", field, msg))
	}
	return "invalid request: " + strings.Join(parts, "; ")
}

func (e *RequestError) Unwrap() error { return ErrInvalidRequest }

func (e *Engine) validateRequest(req any) error {
	err := e.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return ErrInvalidRequest
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[strings.ToLower(fe.Field())] = messageForTag(fe)
	}
	return &RequestError{Fields: fields}
}

func messageForTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must be at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "username":
		return "may only contain letters, digits, '.', '_' and '-'"
	default:
		return fmt.Sprintf("failed on '%s' validation", fe.Tag())
	}
}
