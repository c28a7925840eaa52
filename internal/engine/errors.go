package engine

import (
	"errors"
	"fmt"
)

// Error definitions for zero-tolerance error handling
var (
	ErrZeroAmount            = errors.New("amount must be positive")
	ErrInsufficientBalance   = errors.New("insufficient share balance")
	ErrInsufficientLiquidity = errors.New("insufficient instant pool liquidity")
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
	ErrTimelockNotExpired    = errors.New("withdrawal timelock has not expired")
	ErrRequestNotFound       = errors.New("withdrawal request not found")
	ErrRequestCompleted      = errors.New("withdrawal request already completed")
	ErrUnauthorized          = errors.New("caller is not authorized")
	ErrBelowMinimumShares    = fmt.Errorf("%w: deposit would mint fewer than the minimum shares", ErrInsufficientBalance)
	ErrInvalidParameter      = errors.New("parameter outside the permitted range")
	ErrNothingToCompound     = errors.New("harvested yield below the compounding threshold")
	ErrNothingToCollect      = errors.New("no fees accrued")
	ErrInvalidConfig         = errors.New("invalid engine configuration")
)
