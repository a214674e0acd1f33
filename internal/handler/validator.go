package handler

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
)

// Validator adapts go-playground/validator to echo.Validator.  Field names
// in errors are the json tag names.
type Validator struct {
	v *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return &Validator{v: v}
}

func (cv *Validator) Validate(i interface{}) error {
	return cv.v.Struct(i)
}

// validationBody renders validator errors as {"error": ..., "fields": [...]}.
func validationBody(err error) echo.Map {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return echo.Map{"error": err.Error()}
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.ActualTag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("field %s is a required field", fe.Field()))
		case "email":
			msgs = append(msgs, fmt.Sprintf("field %s must be an email address", fe.Field()))
		case "min", "gte":
			msgs = append(msgs, fmt.Sprintf("field %s must be at least %s", fe.Field(), fe.Param()))
		case "max", "lte":
			msgs = append(msgs, fmt.Sprintf("field %s must be at most %s", fe.Field(), fe.Param()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("field %s must be one of [%s]", fe.Field(), fe.Param()))
		case "gtfield":
			msgs = append(msgs, fmt.Sprintf("field %s must be after %s", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("field %s is not valid", fe.Field()))
		}
	}
	return echo.Map{"error": "validation failed", "fields": msgs}
}
