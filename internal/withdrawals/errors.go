package withdrawals

import (
	"errors"
	"fmt"

	"github.com/sheikh-saqib/subscription-payments-ledger/internal/models"
)

var (
	ErrBelowMinimum        = errors.New("withdrawals: amount below minimum")
	ErrInsufficientBalance = errors.New("withdrawals: insufficient balance")
	ErrInvalidRequest      = errors.New("withdrawals: invalid request")
	ErrNotFound            = errors.New("withdrawals: not found")
	ErrInvalidTransition   = errors.New("withdrawals: invalid status transition")

	// ErrPayoutFailed means the processor refused the payout and the amount
	// was refunded.
	ErrPayoutFailed = errors.New("withdrawals: payout failed")

	// ErrPayoutUnconfirmed means the payout may or may not have gone out. The
	// withdrawal stays processing.
	ErrPayoutUnconfirmed = errors.New("withdrawals: payout unconfirmed")
)

// ValidationError is a request that was refused before anything was written.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string { return e.Reason }

func (e *ValidationError) Unwrap() error { return e.Err }

func invalid(err error, format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...), Err: err}
}

// TransitionError reports the status a withdrawal was actually in when a
// transition was attempted. It matches ErrInvalidTransition.
type TransitionError struct {
	ID      int64
	Current models.WithdrawalStatus
	Target  models.WithdrawalStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("withdrawals: withdrawal %d is %s, cannot become %s", e.ID, e.Current, e.Target)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }
