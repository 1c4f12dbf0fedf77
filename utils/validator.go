package utils

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"afroboost/apperrors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

var validate = validator.New()

func init() {
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
}

// ValidateStruct runs validator tags and returns an invalid_input error with
// one readable clause per failing field.
func ValidateStruct(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return apperrors.InvalidInput(err.Error())
	}

	var messages []string
	for _, err := range validationErrors {
		field := err.Field()
		param := err.Param()

		switch err.Tag() {
		case "required":
			messages = append(messages, field+" is required")
		case "min":
			messages = append(messages, field+" must be at least "+param)
		case "max":
			messages = append(messages, field+" must be at most "+param)
		case "email":
			messages = append(messages, field+" must be a valid email")
		case "oneof":
			messages = append(messages, field+" must be one of: "+param)
		default:
			messages = append(messages, field+" is invalid")
		}
	}

	return apperrors.InvalidInput(strings.Join(messages, ", "))
}

// ParseStrict decodes the JSON request body into dst, rejecting unknown
// fields, then validates it.
func ParseStrict(c *fiber.Ctx, dst interface{}) error {
	if err := DecodeStrict(c.Body(), "request body", dst); err != nil {
		return err
	}
	return ValidateStruct(dst)
}

// DecodeStrict decodes one JSON document from raw into dst and rejects
// unknown fields and trailing data. what names the payload in errors.
func DecodeStrict(raw []byte, what string, dst interface{}) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return apperrors.InvalidInput(what + " is required")
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return apperrors.InvalidInput(fmt.Sprintf("invalid %s: %v", what, err))
	}
	if decoder.More() {
		return apperrors.InvalidInput(fmt.Sprintf("invalid %s: trailing data", what))
	}
	return nil
}
