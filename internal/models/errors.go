package models

import (
	"errors"
	"fmt"
	"math/big"
)

// Input validation
var (
	ErrInsufficientDeposit = errors.New("deposit below entrance fee")
	ErrInvalidAmount       = errors.New("amount must be positive")
)

// State violations
var (
	ErrNotOpen         = errors.New("raffle not open")
	ErrDrawNotEligible = errors.New("draw not eligible")
	ErrResetNotAllowed = errors.New("force reset not allowed")
	ErrNoPendingPayout = errors.New("no failed payout to retry")
)

// Protocol violations
var (
	ErrUnknownRequest      = errors.New("unknown randomness request")
	ErrUnknownSubscription = errors.New("unknown subscription")
	ErrInsufficientFunds   = errors.New("insufficient subscription balance")
	ErrInvalidConsumer     = errors.New("consumer not authorized for subscription")
)

// External effect failures
var ErrPayoutFailed = errors.New("payout to winner failed")

// DrawNotEligibleError carries the lottery state observed when a draw was rejected.
type DrawNotEligibleError struct {
	Pool    *big.Int
	Players int
	State   RaffleState
}

func (e *DrawNotEligibleError) Error() string {
	return fmt.Sprintf("%s: pool=%s players=%d state=%s", ErrDrawNotEligible, e.Pool, e.Players, e.State)
}

func (e *DrawNotEligibleError) Is(target error) bool {
	return target == ErrDrawNotEligible
}
