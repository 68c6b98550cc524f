// Package validation checks request DTOs against their `validate` struct tags.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/budgetwatch/budgetwatch/pkg/ledger"
	"github.com/go-playground/validator/v10"
)

var (
	once     sync.Once
	instance *validator.Validate
)

func get() *validator.Validate {
	once.Do(func() {
		instance = validator.New(validator.WithRequiredStructEnabled())
		_ = instance.RegisterValidation("ledger_kind", validateLedgerKind)
		_ = instance.RegisterValidation("trimmed", validateTrimmed)
	})
	return instance
}

// Struct validates v and turns the first violations into a readable message.
func Struct(v any) error {
	err := get().Struct(v)
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: must satisfy %s", fe.Field(), fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

func validateLedgerKind(fl validator.FieldLevel) bool {
	_, err := ledger.ParseKindFold(fl.Field().String())
	return err == nil
}

func validateTrimmed(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	return s == strings.TrimSpace(s)
}
