package services

import (
	"errors"
	"sort"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/lordmuffin/ThinkPod/internal/core/domain"
)

// validationFailure converts ozzo field errors into a domain.ValidationError
// naming the first offending field, so callers can match ErrInvalidInput.
func validationFailure(err error) error {
	if err == nil {
		return nil
	}
	var errs validation.Errors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return err
	}

	fields := make([]string, 0, len(errs))
	for field := range errs {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	field := fields[0]
	return domain.NewValidationError(field, errs[field].Error())
}
