// Package validator validates configuration structs, rules are defined by the "validate" tag.
// Field names in error messages are taken from the "configKey" tag.
package validator

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	enTranslation "github.com/go-playground/validator/v10/translations/en"

	"github.com/keboola/schedule-coordinator/internal/pkg/utils/errors"
)

type Validator struct {
	validate   *validator.Validate
	translator ut.Translator
}

type Rule struct {
	Tag          string
	Func         validator.Func
	ErrorMessage string
}

func New(rules ...Rule) *Validator {
	v := &Validator{validate: validator.New()}

	// Register default EN translator
	enLocale := en.New()
	translator, found := ut.New(enLocale, enLocale).GetTranslator("en")
	if !found {
		panic(errors.New("en translator was not found"))
	}
	if err := enTranslation.RegisterDefaultTranslations(v.validate, translator); err != nil {
		panic(errors.Errorf("translator was not registered: %w", err))
	}
	v.translator = translator

	rules = append([]Rule{
		{
			Tag:          "minDuration",
			Func:         compareDuration(func(value, limit time.Duration) bool { return value >= limit }),
			ErrorMessage: "{0} must be {1} or greater",
		},
		{
			Tag:          "maxDuration",
			Func:         compareDuration(func(value, limit time.Duration) bool { return value <= limit }),
			ErrorMessage: "{0} must be {1} or less",
		},
	}, rules...)
	for _, rule := range rules {
		v.registerRule(rule)
	}

	// Use the configKey in error messages, anonymous fields are removed from the namespace
	v.validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		if fld.Anonymous {
			return "__nested__"
		}
		if name := fld.Tag.Get("configKey"); name != "" && name != "-" {
			return name
		}
		return fld.Name
	})

	return v
}

// Validate returns a MultiError with all invalid fields.
func (v *Validator) Validate(ctx context.Context, value any) error {
	err := v.validate.StructCtx(ctx, value)
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	result := errors.NewMultiError()
	for _, e := range validationErrs {
		result.Append(errors.New(e.Translate(v.translator)))
	}
	return result.ErrorOrNil()
}

func (v *Validator) registerRule(rule Rule) {
	if err := v.validate.RegisterValidation(rule.Tag, rule.Func); err != nil {
		panic(err)
	}
	if rule.ErrorMessage == "" {
		return
	}

	registerFn := func(ut ut.Translator) error {
		return ut.Add(rule.Tag, rule.ErrorMessage, true)
	}
	translationFn := func(ut ut.Translator, fe validator.FieldError) string {
		msg, err := ut.T(rule.Tag, fieldName(fe.Namespace()), fe.Param())
		if err != nil {
			return fe.Error()
		}
		return msg
	}
	if err := v.validate.RegisterTranslation(rule.Tag, v.translator, registerFn, translationFn); err != nil {
		panic(err)
	}
}

func compareDuration(fn func(value, limit time.Duration) bool) validator.Func {
	return func(fl validator.FieldLevel) bool {
		value, ok := fl.Field().Interface().(time.Duration)
		if !ok {
			panic(fmt.Sprintf(`field "%s" is not time.Duration`, fl.FieldName()))
		}
		limit, err := time.ParseDuration(fl.Param())
		if err != nil {
			panic(fmt.Sprintf(`invalid duration "%s": %s`, fl.Param(), err))
		}
		return fn(value, limit)
	}
}

// fieldName removes the struct name and nested parts from the namespace.
func fieldName(namespace string) string {
	namespace = strings.ReplaceAll(namespace, `__nested__.`, ``)
	if _, after, found := strings.Cut(namespace, "."); found {
		return after
	}
	return namespace
}
