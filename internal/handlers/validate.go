package handlers

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/nimasrn/whatsapp-simulator/internal/model"
	xhttp "github.com/nimasrn/whatsapp-simulator/pkg/http"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return model.PhonePattern.MatchString(fl.Field().String())
	})
	return v
}

// validationErrors flattens validator output into per-field messages keyed by
// the JSON path of the field.
func validationErrors(err error) []FieldError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldError{{Field: "body", Message: err.Error()}}
	}

	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{
			Field:   jsonPath(fe.Namespace()),
			Message: describe(fe),
		})
	}
	return out
}

// jsonPath drops the root struct name from a validator namespace.
func jsonPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "phone":
		return "must be a valid phone number"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "eq":
		return "must be " + fe.Param()
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "numeric":
		return "must be numeric"
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

// bind decodes the body into dst and validates it. On failure it writes the
// 400 response and returns false.
func bind(ctx *xhttp.RequestCtx, dst any) bool {
	if err := readJSON(ctx, dst); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "Invalid JSON body", FieldError{Field: "body", Message: err.Error()})
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "Validation error", validationErrors(err)...)
		return false
	}
	return true
}
