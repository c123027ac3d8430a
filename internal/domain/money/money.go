// Package money defines the integer minor-unit amount type shared by both
// services. Amounts are never floating point; see spec Non-goals.
package money

import "github.com/moneysaga/engine/internal/errs"

// Amount is a quantity of currency expressed in integer minor units (e.g. cents).
type Amount int64

// ValidatePositive rejects zero and negative amounts.
func ValidatePositive(op string, amt Amount) error {
	if amt <= 0 {
		return errs.New(op, errs.CodeValidation, errs.WithMessage("amount must be a positive integer"))
	}
	return nil
}
