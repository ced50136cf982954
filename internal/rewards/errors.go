package rewards

import (
	"errors"
	"fmt"
)

// InsufficientFundsError stops a payout run before any transfer starts.
// Amounts are base units.
type InsufficientFundsError struct {
	Need uint64
	Have uint64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: need %d, have %d", e.Need, e.Have)
}

// IsInsufficientFunds reports whether err is an InsufficientFundsError.
// Uses errors.As to handle wrapped errors.
func IsInsufficientFunds(err error) bool {
	var ife *InsufficientFundsError
	return errors.As(err, &ife)
}
