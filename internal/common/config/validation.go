package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Validate runs the `validate` struct tags of config.
func Validate(config interface{}) error {
	return validator.New().Struct(config)
}

// LogValidationErrors logs one line per problem in err, which may be a validator.ValidationErrors, a multierror
// collecting several problems, or anything else.
func LogValidationErrors(err error) {
	for _, message := range ValidationMessages(err) {
		log.Errorf("ConfigError: %s", message)
	}
}

func ValidationMessages(err error) []string {
	if err == nil {
		return nil
	}
	var multi *multierror.Error
	if errors.As(err, &multi) {
		var messages []string
		for _, e := range multi.Errors {
			messages = append(messages, ValidationMessages(e)...)
		}
		return messages
	}
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return []string{err.Error()}
	}
	messages := make([]string, 0, len(validationErrors))
	for _, fieldError := range validationErrors {
		fieldName := stripPrefix(fieldError.Namespace())
		switch fieldError.Tag() {
		case "required":
			messages = append(messages, "Field "+fieldName+" is required but was not found")
		default:
			messages = append(messages, fmt.Sprintf("Field %s has invalid value %v: %s", fieldName, fieldError.Value(), fieldError.Tag()))
		}
	}
	return messages
}

func stripPrefix(s string) string {
	if idx := strings.Index(s, "."); idx != -1 {
		return s[idx+1:]
	}
	return s
}
