package validate

import (
	"errors"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/google/uuid"
)

var validate *validator.Validate

var translator ut.Translator

var (
	currencyRx = regexp.MustCompile(`^[A-Z]{3}$`)
	couponRx   = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
)

func init() {

	validate = validator.New()

	// Report fields by the names clients send.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	translator, _ = ut.New(en.New(), en.New()).GetTranslator("en")
	en_translations.RegisterDefaultTranslations(validate, translator)

	register("currency", "{0} must be a three letter ISO 4217 currency code", func(fl validator.FieldLevel) bool {
		return currencyRx.MatchString(fl.Field().String())
	})
	register("couponcode", "{0} can only contain letters, digits, dashes and underscores", func(fl validator.FieldLevel) bool {
		return couponRx.MatchString(fl.Field().String())
	})
}

func register(tag, msg string, fn validator.Func) {
	_ = validate.RegisterValidation(tag, fn)
	_ = validate.RegisterTranslation(tag, translator,
		func(ut ut.Translator) error {
			return ut.Add(tag, msg, true)
		},
		func(ut ut.Translator, fe validator.FieldError) string {
			t, _ := ut.T(tag, fe.Field())
			return t
		},
	)
}

// FieldErrors maps a request field to the reason it was rejected.
type FieldErrors map[string]string

// Error returns the message of the first field in name order.
func (fe FieldErrors) Error() string {
	if len(fe) == 0 {
		return "invalid request"
	}

	names := make([]string, 0, len(fe))
	for n := range fe {
		names = append(names, n)
	}
	sort.Strings(names)
	return fe[names[0]]
}

// Check validates val against its struct tags. A rejected value yields a
// FieldErrors.
func Check(val any) error {
	if err := validate.Struct(val); err != nil {

		verrors, ok := err.(validator.ValidationErrors)
		if !ok {
			return err
		}

		if len(verrors) < 1 {
			return nil
		}

		fe := make(FieldErrors, len(verrors))
		for _, v := range verrors {
			fe[v.Field()] = v.Translate(translator)
		}
		return fe
	}

	return nil
}

// Fields extracts the per-field messages of a failed Check.
func Fields(err error) (FieldErrors, bool) {
	var fe FieldErrors
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

func GenerateID() string {
	return uuid.NewString()
}

func CheckID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("ID is not in its proper form")
	}
	return nil
}
