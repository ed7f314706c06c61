// Package validator configures Gin's binding engine and turns validation
// failures into the field map carried by the error envelope.
package validator

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	govalidator "github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/stemsi/exstem-proctor/internal/model"
)

var (
	setupOnce sync.Once
	trans     ut.Translator
)

// Setup registers field naming, the question_id rule and English messages on
// Gin's validator. It is safe to call more than once.
func Setup() {
	setupOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*govalidator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(jsonName)

		enLocale := en.New()
		trans, _ = ut.New(enLocale, enLocale).GetTranslator("en")
		en_translations.RegisterDefaultTranslations(v, trans)

		v.RegisterValidation("question_id", func(fl govalidator.FieldLevel) bool {
			return model.ValidQuestionID(fl.Field().String())
		})
		v.RegisterTranslation("question_id", trans,
			func(tr ut.Translator) error {
				return tr.Add("question_id", "{0} must be a question id of visible characters", true)
			},
			func(tr ut.Translator, fe govalidator.FieldError) string {
				msg, _ := tr.T("question_id", fe.Field())
				return msg
			},
		)
	})
}

// jsonName reports fields by their JSON key so messages match the payload.
func jsonName(fld reflect.StructField) string {
	name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
	if name == "-" {
		return ""
	}
	return name
}

// TranslateErrors maps a validation error to field → message. Anything else,
// such as malformed JSON, lands under "detail".
func TranslateErrors(err error) map[string]string {
	var ve govalidator.ValidationErrors
	if !errors.As(err, &ve) {
		return map[string]string{"detail": err.Error()}
	}

	fields := make(map[string]string, len(ve))
	for _, fe := range ve {
		// Without Setup the raw validator message is used.
		fields[fe.Field()] = fe.Translate(trans)
	}
	return fields
}

// Bind decodes the JSON body into dst and validates it.
func Bind(c *gin.Context, dst interface{}) map[string]string {
	return fieldErrors(c.ShouldBindJSON(dst))
}

// Validate checks a value decoded outside of Gin, such as a WebSocket message.
func Validate(v interface{}) map[string]string {
	return fieldErrors(binding.Validator.ValidateStruct(v))
}

func fieldErrors(err error) map[string]string {
	if err == nil {
		return nil
	}
	return TranslateErrors(err)
}
