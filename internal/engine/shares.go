/*

This file contains the share conversion math. All conversions use
multiply-then-divide with truncation so rounding dust always favors the
vault, never the individual caller.

*/

package engine

import (
	sdkmath "cosmossdk.io/math"
)

// convertToShares prices a deposit of assets against the pre-deposit totals.
// The bootstrap deposit (empty vault on either axis) mints 1:1.
func convertToShares(assets, totalAssets, totalShares sdkmath.Int) sdkmath.Int {
	if totalShares.IsZero() || totalAssets.IsZero() {
		return assets
	}
	return assets.Mul(totalShares).Quo(totalAssets)
}

// convertToAssets prices a share burn against the current totals. A vault
// with no shares outstanding values any claim at zero.
func convertToAssets(shares, totalAssets, totalShares sdkmath.Int) sdkmath.Int {
	if totalShares.IsZero() {
		return sdkmath.ZeroInt()
	}
	return shares.Mul(totalAssets).Quo(totalShares)
}

// sharePrice renders assets-per-share as a fixed-point decimal string for
// display. Totals of zero report the bootstrap price of 1.
func sharePrice(totalAssets, totalShares sdkmath.Int) string {
	if totalShares.IsZero() {
		return sdkmath.LegacyOneDec().String()
	}
	return sdkmath.LegacyNewDecFromInt(totalAssets).
		Quo(sdkmath.LegacyNewDecFromInt(totalShares)).
		String()
}
