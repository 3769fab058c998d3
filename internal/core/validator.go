package core

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"paysched/internal/types"
)

// Validator wraps go-playground/validator so handlers get struct-tag
// validation with AppError-shaped failures.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a new Validator.
func NewValidator(logger *slog.Logger) *Validator {
	return &Validator{
		validate: validator.New(),
		logger:   logger,
	}
}

// ValidateStruct runs struct-tag validation on dst. Violations are returned
// as a single AppError with a per-field breakdown in Details.
func (v *Validator) ValidateStruct(dst interface{}) error {
	err := v.validate.Struct(dst)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	fields := map[string]any{}
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			fields[fieldPath(fe)] = fe.Tag()
		}
	}

	return types.NewAppErrorWithDetails(
		types.ErrCodeValidationMissingField,
		"request validation failed",
		err,
		fields,
	)
}

// fieldPath strips the top-level struct name from the validator namespace,
// leaving a dotted path like "beneficiary.iban".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if idx := strings.Index(ns, "."); idx >= 0 {
		ns = ns[idx+1:]
	}
	return strings.ToLower(ns[:1]) + ns[1:]
}
