/*

This file contains the liquidity replenishment policy and the validation
ranges for administrative parameter updates.

*/

package engine

import (
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/caspervault/cvm/internal/types"
)

const (
	maxFeeBps          = 2_000
	maxInstantFeeBps   = 500
	maxPoolTargetBps   = 5_000
	minTimelockSeconds = 24 * 60 * 60
	maxTimelockSeconds = 30 * 24 * 60 * 60
)

// splitDeposit divides an incoming deposit between the instant pool and the
// strategy router. The pool deficit against its target is filled first; only
// the remainder is deployed.
func splitDeposit(amount, instantPool, totalAssets sdkmath.Int, targetBps uint16) (toPool, toStrategies sdkmath.Int) {
	target := targetInstantPool(totalAssets, targetBps)
	deficit := target.Sub(instantPool)
	if deficit.IsNegative() {
		deficit = sdkmath.ZeroInt()
	}
	if deficit.GTE(amount) {
		return amount, sdkmath.ZeroInt()
	}
	return deficit, amount.Sub(deficit)
}

// validateFeeBps bounds performance and management fee updates.
func validateFeeBps(name string, bps uint16) error {
	if bps > maxFeeBps {
		return fmt.Errorf("%w: %s %d exceeds maximum %d bps", ErrInvalidParameter, name, bps, maxFeeBps)
	}
	return nil
}

// validateInstantFeeBps bounds the instant-exit surcharge.
func validateInstantFeeBps(bps uint16) error {
	if bps > maxInstantFeeBps {
		return fmt.Errorf("%w: instant withdrawal fee %d exceeds maximum %d bps", ErrInvalidParameter, bps, maxInstantFeeBps)
	}
	return nil
}

// validatePoolTargetBps bounds the instant pool target ratio.
func validatePoolTargetBps(bps uint16) error {
	if bps > maxPoolTargetBps {
		return fmt.Errorf("%w: pool target %d exceeds maximum %d bps", ErrInvalidParameter, bps, maxPoolTargetBps)
	}
	return nil
}

// validateTimelock bounds the withdrawal timelock to between one day and
// thirty days.
func validateTimelock(seconds uint64) error {
	if seconds < minTimelockSeconds || seconds > maxTimelockSeconds {
		return fmt.Errorf("%w: timelock %ds outside [%d, %d]", ErrInvalidParameter, seconds, minTimelockSeconds, maxTimelockSeconds)
	}
	return nil
}

// validateParameters checks a full parameter set for internal consistency.
func validateParameters(p types.VaultParameters) error {
	if err := validateFeeBps("performance fee", p.PerformanceFeeBps); err != nil {
		return err
	}
	if err := validateFeeBps("management fee", p.ManagementFeeBps); err != nil {
		return err
	}
	if err := validateInstantFeeBps(p.InstantWithdrawalFeeBps); err != nil {
		return err
	}
	if err := validatePoolTargetBps(p.InstantPoolTargetBps); err != nil {
		return err
	}
	if err := validateTimelock(p.WithdrawalTimelock); err != nil {
		return err
	}
	if p.MaxDepositPerTx.IsNil() || !p.MaxDepositPerTx.IsPositive() {
		return fmt.Errorf("%w: per-transaction deposit cap must be positive", ErrInvalidParameter)
	}
	if p.MaxDepositPerDay.IsNil() || p.MaxDepositPerDay.LT(p.MaxDepositPerTx) {
		return fmt.Errorf("%w: daily deposit cap below per-transaction cap", ErrInvalidParameter)
	}
	if p.MaxGlobalDepositsPerHour.IsNil() || !p.MaxGlobalDepositsPerHour.IsPositive() {
		return fmt.Errorf("%w: global hourly deposit cap must be positive", ErrInvalidParameter)
	}
	if p.MaxGlobalWithdrawalsPerHour.IsNil() || !p.MaxGlobalWithdrawalsPerHour.IsPositive() {
		return fmt.Errorf("%w: global hourly withdrawal cap must be positive", ErrInvalidParameter)
	}
	if p.MinShares.IsNil() || p.MinShares.IsNegative() {
		return fmt.Errorf("%w: minimum shares must be non-negative", ErrInvalidParameter)
	}
	if p.MinCompoundYield.IsNil() || p.MinCompoundYield.IsNegative() {
		return fmt.Errorf("%w: minimum compound yield must be non-negative", ErrInvalidParameter)
	}
	return nil
}
