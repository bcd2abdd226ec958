package portal

import (
	"errors"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/smartcondo/condo-portal/services/portal-service/internal/availability"
)

var (
	validate   *validator.Validate
	translator ut.Translator

	clockRangeTag = "clock_range"
	clockTag      = "clock"
	clockOrderTag = "clock_order"
	notBlankTag   = "notblank"
)

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ = uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	// Report JSON field names, as clients send them.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = validate.RegisterValidation(notBlankTag, func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = validate.RegisterValidation(clockTag, func(fl validator.FieldLevel) bool {
		_, err := availability.ParseClock(fl.Field().String())
		return err == nil
	})
	validate.RegisterStructValidation(gridQueryStructValidation, GridQuery{})
	validate.RegisterStructValidation(ruleStructValidation, RuleRequest{}, RuleUpdate{})

	for _, tag := range []string{clockRangeTag, clockTag, clockOrderTag, notBlankTag} {
		_ = validate.RegisterTranslation(tag, translator, func(ut.Translator) error { return nil }, translateCustom)
	}
}

func translateCustom(_ ut.Translator, fe validator.FieldError) string {
	switch fe.Tag() {
	case clockRangeTag:
		return "from and to must both be set, with to after from"
	case clockTag:
		return "must be a HH:MM time"
	case clockOrderTag:
		return "must be after hora_inicio"
	case notBlankTag:
		return "this field cannot be blank"
	default:
		return fe.Error()
	}
}

// gridQueryStructValidation requires from/to to come as a pair describing a non-empty range.
func gridQueryStructValidation(sl validator.StructLevel) {
	q, ok := sl.Current().Interface().(GridQuery)
	if !ok || (q.From == "" && q.To == "") {
		return
	}
	from, errFrom := availability.ParseClock(q.From)
	to, errTo := availability.ParseClock(q.To)
	if q.From == "" || q.To == "" || errFrom != nil || errTo != nil || to <= from {
		sl.ReportError(q.To, "to", "To", clockRangeTag, "")
	}
}

// ruleStructValidation requires hora_fin after hora_inicio when both are present.
func ruleStructValidation(sl validator.StructLevel) {
	var start, end string
	switch r := sl.Current().Interface().(type) {
	case RuleRequest:
		start, end = r.HoraInicio, r.HoraFin
	case RuleUpdate:
		if r.HoraInicio == nil || r.HoraFin == nil {
			return
		}
		start, end = *r.HoraInicio, *r.HoraFin
	default:
		return
	}
	from, errFrom := availability.ParseClock(start)
	to, errTo := availability.ParseClock(end)
	if errFrom != nil || errTo != nil {
		return
	}
	if to <= from {
		sl.ReportError(end, "hora_fin", "HoraFin", clockOrderTag, "")
	}
}

var ErrInvalid = errors.New("invalid request")

// ValidationError maps JSON field names to human messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "invalid request: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}

func invalidField(field, msg string) error {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Translate(translator)
	}
	return &ValidationError{Fields: fields}
}
