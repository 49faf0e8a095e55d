package services

import (
	"errors"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var (
	currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)
	hasNumber       = regexp.MustCompile(`[0-9]`)
	hasUpper        = regexp.MustCompile(`[A-Z]`)
	hasLower        = regexp.MustCompile(`[a-z]`)
)

// NewValidator создает валидатор с правилами предметной области
func NewValidator() *validator.Validate {
	v := validator.New()

	// Код валюты ISO 4217 в верхнем регистре
	_ = v.RegisterValidation("currency", func(fl validator.FieldLevel) bool {
		return currencyPattern.MatchString(fl.Field().String())
	})

	// Пароль: цифра, заглавная и строчная буква
	_ = v.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		password := fl.Field().String()
		return hasNumber.MatchString(password) &&
			hasUpper.MatchString(password) &&
			hasLower.MatchString(password)
	})

	return v
}

// validateStruct проверяет DTO и собирает понятное сообщение об ошибке
func validateStruct(v *validator.Validate, s interface{}) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return &ValidationError{Message: err.Error()}
	}

	var messages []string
	for _, e := range validationErrors {
		switch e.Tag() {
		case "required":
			messages = append(messages, "field "+e.Field()+" is required")
		case "gt":
			messages = append(messages, "field "+e.Field()+" must be greater than "+e.Param())
		case "gte", "min":
			messages = append(messages, "field "+e.Field()+" must be at least "+e.Param())
		case "max":
			messages = append(messages, "field "+e.Field()+" must be at most "+e.Param())
		case "email":
			messages = append(messages, "field "+e.Field()+" must be a valid email")
		case "currency":
			messages = append(messages, "field "+e.Field()+" must be a 3-letter currency code")
		case "password":
			messages = append(messages, "field "+e.Field()+" must contain a digit, an upper and a lower case letter")
		case "oneof":
			messages = append(messages, "field "+e.Field()+" must be one of: "+e.Param())
		default:
			messages = append(messages, "field "+e.Field()+" is invalid")
		}
	}
	return &ValidationError{Message: strings.Join(messages, "; ")}
}

// requirePositive проверяет, что денежная сумма больше нуля
func requirePositive(field string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return &ValidationError{Message: "field " + field + " must be greater than 0"}
	}
	return nil
}

// NormalizeCurrency приводит код валюты к верхнему регистру и проверяет формат
func NormalizeCurrency(field, code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if !currencyPattern.MatchString(code) {
		return "", &ValidationError{Message: "field " + field + " must be a 3-letter currency code"}
	}
	return code, nil
}
