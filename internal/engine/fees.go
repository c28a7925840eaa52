/*

This file contains the fee math: the performance fee charged on withdrawal
profit, the flat instant-exit surcharge, and the time-pro-rated management
fee minted as dilutive shares.

*/

package engine

import (
	sdkmath "cosmossdk.io/math"

	"github.com/caspervault/cvm/internal/types"
)

const secondsPerYear = 365 * 24 * 60 * 60

// performanceFee returns the fee owed on a withdrawal of assetsValue given
// the caller's cumulative cost basis. Only the portion above cost basis is
// profit; withdrawals at or below cost basis pay nothing.
func performanceFee(assetsValue, costBasis sdkmath.Int, feeBps uint16) sdkmath.Int {
	if feeBps == 0 || assetsValue.LTE(costBasis) {
		return sdkmath.ZeroInt()
	}
	profit := assetsValue.Sub(costBasis)
	return profit.MulRaw(int64(feeBps)).QuoRaw(types.BpsDenominator)
}

// instantWithdrawalFee returns the flat surcharge on an instant exit of
// assetsValue.
func instantWithdrawalFee(assetsValue sdkmath.Int, feeBps uint16) sdkmath.Int {
	if feeBps == 0 {
		return sdkmath.ZeroInt()
	}
	return assetsValue.MulRaw(int64(feeBps)).QuoRaw(types.BpsDenominator)
}

// managementFeeShares returns the dilutive share mint owed for elapsed
// seconds at the annual feeBps rate against the current totalShares.
// Minting shares instead of moving assets charges all holders pro rata
// without touching liquidity.
func managementFeeShares(totalShares sdkmath.Int, feeBps uint16, elapsedSeconds int64) sdkmath.Int {
	if feeBps == 0 || elapsedSeconds <= 0 || totalShares.IsZero() {
		return sdkmath.ZeroInt()
	}
	return totalShares.
		MulRaw(int64(feeBps)).
		MulRaw(elapsedSeconds).
		QuoRaw(secondsPerYear).
		QuoRaw(types.BpsDenominator)
}

// targetInstantPool returns the instant pool size the replenishment policy
// aims for at the given total assets.
func targetInstantPool(totalAssets sdkmath.Int, targetBps uint16) sdkmath.Int {
	if targetBps == 0 {
		return sdkmath.ZeroInt()
	}
	return totalAssets.MulRaw(int64(targetBps)).QuoRaw(types.BpsDenominator)
}
