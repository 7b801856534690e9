// Package validation wraps go-playground/validator so that input structs
// are checked in one pass and every violated field is reported as an
// apperr validation error keyed by its JSON name.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/deskline/servicedesk/internal/apperr"
	"github.com/deskline/servicedesk/internal/model"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		switch name {
		case "-":
			return ""
		case "":
			return f.Name
		}
		return name
	})
	must(v.RegisterValidation("role", func(fl validator.FieldLevel) bool {
		return model.Role(fl.Field().String()).Valid()
	}))
	must(v.RegisterValidation("category", func(fl validator.FieldLevel) bool {
		return model.Category(fl.Field().String()).Valid()
	}))
	must(v.RegisterValidation("priority", func(fl validator.FieldLevel) bool {
		return model.Priority(fl.Field().String()).Valid()
	}))
	must(v.RegisterValidation("status", func(fl validator.FieldLevel) bool {
		return model.ReportStatus(fl.Field().String()).Valid()
	}))
	return v
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

// Struct validates s against its `validate` tags.  It returns nil or an
// *apperr.Error of kind validation listing every failing field.
func Struct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Internal("validate input", err)
	}
	fields := make([]apperr.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, apperr.FieldError{Field: fieldPath(fe), Message: message(fe)})
	}
	return apperr.Validation(fields...)
}

// fieldPath drops the root struct name from the namespace:
// "CreateReportInput.attachments[0].url" -> "attachments[0].url".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "url":
		return "must be a valid URL"
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at least %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "role":
		return "must be one of: user, servicedesk, admin"
	case "priority":
		return "must be one of: low, medium, high, critical"
	case "status":
		return "must be one of: open, assigned, in-progress, resolved, closed, cancelled"
	case "category":
		names := make([]string, len(model.Categories))
		for i, c := range model.Categories {
			names[i] = string(c)
		}
		return "must be one of: " + strings.Join(names, ", ")
	}
	return "is invalid"
}
