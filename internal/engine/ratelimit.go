/*

This file contains the deposit and withdrawal rate limiter: a per-transaction
cap, a per-caller rolling 24h deposit window, and vault-wide hourly volume
caps on each flow direction. All checks are performed before any state is
mutated so a rejected call leaves no trace in the windows.

*/

package engine

import (
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/caspervault/cvm/internal/types"
)

const (
	userWindow   = 24 * time.Hour
	globalWindow = time.Hour
)

// globalCounter is an hourly vault-wide volume window.
type globalCounter struct {
	windowStart time.Time
	amount      sdkmath.Int
}

// rateLimiter enforces the deposit and withdrawal caps. It holds no lock of
// its own; the engine serializes access.
type rateLimiter struct {
	userDeposits      map[string]types.DepositWindow
	globalDeposits    globalCounter
	globalWithdrawals globalCounter
}

func newRateLimiter() *rateLimiter {
	return &rateLimiter{
		userDeposits:      map[string]types.DepositWindow{},
		globalDeposits:    globalCounter{amount: sdkmath.ZeroInt()},
		globalWithdrawals: globalCounter{amount: sdkmath.ZeroInt()},
	}
}

// checkDeposit validates amount against the per-tx, per-caller and global
// deposit caps without recording anything.
func (r *rateLimiter) checkDeposit(user string, amount sdkmath.Int, params types.VaultParameters, now time.Time) error {
	if amount.GT(params.MaxDepositPerTx) {
		return fmt.Errorf("%w: deposit %s exceeds per-transaction cap %s",
			ErrRateLimitExceeded, amount, params.MaxDepositPerTx)
	}

	window := r.userDeposits[user]
	accumulated := window.Amount
	if window.WindowStart.IsZero() || now.Sub(window.WindowStart) >= userWindow {
		accumulated = sdkmath.ZeroInt()
	}
	if accumulated.Add(amount).GT(params.MaxDepositPerDay) {
		return fmt.Errorf("%w: deposit %s exceeds remaining daily allowance %s",
			ErrRateLimitExceeded, amount, params.MaxDepositPerDay.Sub(accumulated))
	}

	global := r.globalDeposits.amount
	if r.globalDeposits.windowStart.IsZero() || now.Sub(r.globalDeposits.windowStart) >= globalWindow {
		global = sdkmath.ZeroInt()
	}
	if global.Add(amount).GT(params.MaxGlobalDepositsPerHour) {
		return fmt.Errorf("%w: deposit %s exceeds the global hourly deposit cap",
			ErrRateLimitExceeded, amount)
	}
	return nil
}

// recordDeposit charges amount against the caller's daily window and the
// global hourly window. Must follow a successful checkDeposit with the
// same now.
func (r *rateLimiter) recordDeposit(user string, amount sdkmath.Int, now time.Time) {
	window := r.userDeposits[user]
	if window.WindowStart.IsZero() || now.Sub(window.WindowStart) >= userWindow {
		window = types.DepositWindow{WindowStart: now, Amount: sdkmath.ZeroInt()}
	}
	window.Amount = window.Amount.Add(amount)
	r.userDeposits[user] = window

	if r.globalDeposits.windowStart.IsZero() || now.Sub(r.globalDeposits.windowStart) >= globalWindow {
		r.globalDeposits = globalCounter{windowStart: now, amount: sdkmath.ZeroInt()}
	}
	r.globalDeposits.amount = r.globalDeposits.amount.Add(amount)
}

// checkWithdrawal validates amount against the global hourly withdrawal cap.
func (r *rateLimiter) checkWithdrawal(amount sdkmath.Int, params types.VaultParameters, now time.Time) error {
	global := r.globalWithdrawals.amount
	if r.globalWithdrawals.windowStart.IsZero() || now.Sub(r.globalWithdrawals.windowStart) >= globalWindow {
		global = sdkmath.ZeroInt()
	}
	if global.Add(amount).GT(params.MaxGlobalWithdrawalsPerHour) {
		return fmt.Errorf("%w: withdrawal %s exceeds the global hourly withdrawal cap",
			ErrRateLimitExceeded, amount)
	}
	return nil
}

// recordWithdrawal charges amount against the global hourly withdrawal
// window.
func (r *rateLimiter) recordWithdrawal(amount sdkmath.Int, now time.Time) {
	if r.globalWithdrawals.windowStart.IsZero() || now.Sub(r.globalWithdrawals.windowStart) >= globalWindow {
		r.globalWithdrawals = globalCounter{windowStart: now, amount: sdkmath.ZeroInt()}
	}
	r.globalWithdrawals.amount = r.globalWithdrawals.amount.Add(amount)
}

// remainingDailyAllowance reports how much the caller may still deposit in
// the current 24h window.
func (r *rateLimiter) remainingDailyAllowance(user string, params types.VaultParameters, now time.Time) sdkmath.Int {
	window := r.userDeposits[user]
	if window.WindowStart.IsZero() || now.Sub(window.WindowStart) >= userWindow {
		return params.MaxDepositPerDay
	}
	remaining := params.MaxDepositPerDay.Sub(window.Amount)
	if remaining.IsNegative() {
		return sdkmath.ZeroInt()
	}
	return remaining
}
