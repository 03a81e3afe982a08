package validate

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/go-reminders/internal/domain"
	"github.com/go-reminders/internal/pkg/recurrence"
)

// v is the package-level singleton validator. It is initialised once at
// package load time. Any custom type registrations must be made during init()
// before the first call to Struct.
var v = validator.New()

func init() {
	// recurrence accepts the repeat rules reminders can carry.
	if err := v.RegisterValidation("recurrence", func(fl validator.FieldLevel) bool {
		return recurrence.Valid(fl.Field().String())
	}); err != nil {
		panic(err)
	}
}

// Struct validates the given struct using its validate tags.
// The returned error wraps domain.ErrValidation with a human-readable detail.
func Struct(s interface{}) error {
	if err := v.Struct(s); err != nil {
		ve, ok := err.(validator.ValidationErrors)
		if !ok {
			return err
		}
		var msgs []string
		for _, fe := range ve {
			msgs = append(msgs, fmt.Sprintf("field '%s' failed '%s'", fe.Field(), fe.Tag()))
		}
		return fmt.Errorf("%s: %w", strings.Join(msgs, "; "), domain.ErrValidation)
	}
	return nil
}
