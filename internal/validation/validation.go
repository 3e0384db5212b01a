// Package validation wires go-playground/validator with English translations
// and JSON field names, and converts its errors into models.ValidationError.
package validation

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"cfprogress/internal/models"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var (
	// custom validation tags & texts
	notBlankTag  = "notblank"
	notBlankText = "{0} cannot be blank"

	cfHandleTag   = "cfhandle"
	cfHandleText  = "{0} may only contain letters, digits, underscores, dots and dashes"
	cfHandleRegex = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)

	requiredTag  = "required"
	requiredText = "{0} is required"
)

// Validator validates request structs and reports translated field errors.
type Validator struct {
	validate   *validator.Validate
	translator ut.Translator
}

// New instantiates the validator for use.
func New() *Validator {
	validate := validator.New()

	// Register the english error messages for validation errors.
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	// Use JSON tag names for errors instead of Go struct names.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	v := &Validator{validate: validate, translator: translator}

	_ = validate.RegisterValidation(notBlankTag, notBlankValidation)
	_ = validate.RegisterValidation(cfHandleTag, cfHandleValidation)
	v.registerCustomTranslation(notBlankTag, notBlankText)
	v.registerCustomTranslation(cfHandleTag, cfHandleText)
	v.registerCustomTranslation(requiredTag, requiredText, true)

	return v
}

// registerCustomTranslation registers a custom translation for the specified validation tag.
func (v *Validator) registerCustomTranslation(tag, text string, override ...bool) {
	var ovrd bool
	if len(override) > 0 {
		ovrd = override[0]
	}
	_ = v.validate.RegisterTranslation(
		tag, v.translator,
		func(t ut.Translator) error { return t.Add(tag, text, ovrd) },
		func(t ut.Translator, fe validator.FieldError) string {
			s, _ := t.T(tag, fe.Field())
			return s
		},
	)
}

// Struct validates s. A failed validation is returned as *models.ValidationError.
func (v *Validator) Struct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	fields := make([]models.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, models.FieldError{
			Field: fe.Field(),
			Error: fe.Translate(v.translator),
		})
	}
	return models.NewValidationError(fields...)
}

// Custom Validators

func notBlankValidation(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

func cfHandleValidation(fl validator.FieldLevel) bool {
	return cfHandleRegex.MatchString(fl.Field().String())
}
