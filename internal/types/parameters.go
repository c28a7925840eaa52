/*

This file contains the tunable engine parameters. A parameter set is versioned
and persisted through the state package so that fee or limit changes leave an
auditable history across restarts.

*/

package types

import (
	sdkmath "cosmossdk.io/math"
)

// Basis-point denominator used for every fee and ratio in the engine.
const BpsDenominator = 10_000

// VaultParameters holds every tunable knob of the accounting engine.
// Amounts are denominated in base-asset units, rates in basis points.
type VaultParameters struct {
	// PerformanceFeeBps is charged on withdrawal profit above cost basis.
	PerformanceFeeBps uint16 `json:"performance_fee_bps"`
	// ManagementFeeBps is the annual rate minted as dilutive shares.
	ManagementFeeBps uint16 `json:"management_fee_bps"`
	// InstantWithdrawalFeeBps is the flat surcharge on the instant exit path.
	InstantWithdrawalFeeBps uint16 `json:"instant_withdrawal_fee_bps"`

	// InstantPoolTargetBps is the share of total assets kept liquid for
	// instant exits.
	InstantPoolTargetBps uint16 `json:"instant_pool_target_bps"`

	// WithdrawalTimelock is the mandatory wait between requesting and
	// completing a time-locked withdrawal, in seconds.
	WithdrawalTimelock uint64 `json:"withdrawal_timelock_seconds"`

	// MaxDepositPerTx caps a single deposit.
	MaxDepositPerTx sdkmath.Int `json:"max_deposit_per_tx"`
	// MaxDepositPerDay caps a caller's rolling 24h deposit volume.
	MaxDepositPerDay sdkmath.Int `json:"max_deposit_per_day"`
	// MaxGlobalDepositsPerHour caps vault-wide hourly deposit volume.
	MaxGlobalDepositsPerHour sdkmath.Int `json:"max_global_deposits_per_hour"`
	// MaxGlobalWithdrawalsPerHour caps vault-wide hourly withdrawal volume.
	MaxGlobalWithdrawalsPerHour sdkmath.Int `json:"max_global_withdrawals_per_hour"`

	// MinShares is the dust floor: a deposit minting fewer shares is rejected.
	MinShares sdkmath.Int `json:"min_shares"`

	// MinCompoundInterval gates how often harvested yield may be compounded,
	// in seconds.
	MinCompoundInterval uint64 `json:"min_compound_interval_seconds"`
	// MinCompoundYield is the smallest harvest worth compounding.
	MinCompoundYield sdkmath.Int `json:"min_compound_yield"`
}

// DefaultVaultParameters mirrors the production launch configuration:
// 10% performance fee, 2% annual management fee, 0.5% instant exit fee,
// 5% instant pool target and a 7 day timelock.
func DefaultVaultParameters() VaultParameters {
	return VaultParameters{
		PerformanceFeeBps:           1000,
		ManagementFeeBps:            200,
		InstantWithdrawalFeeBps:     50,
		InstantPoolTargetBps:        500,
		WithdrawalTimelock:          7 * 24 * 60 * 60,
		MaxDepositPerTx:             sdkmath.NewInt(10_000_000_000_000),
		MaxDepositPerDay:            sdkmath.NewInt(50_000_000_000_000),
		MaxGlobalDepositsPerHour:    sdkmath.NewInt(1_000_000_000_000_000),
		MaxGlobalWithdrawalsPerHour: sdkmath.NewInt(500_000_000_000_000),
		MinShares:                   sdkmath.NewInt(1000),
		MinCompoundInterval:         60 * 60,
		MinCompoundYield:            sdkmath.NewInt(100_000_000_000),
	}
}

// VaultSummary is the point-in-time view served by the web API.
type VaultSummary struct {
	TotalAssets    sdkmath.Int `json:"total_assets"`
	TotalShares    sdkmath.Int `json:"total_shares"`
	InstantPool    sdkmath.Int `json:"instant_pool"`
	FeesCollected  sdkmath.Int `json:"fees_collected"`
	SharePrice     string      `json:"share_price"`
	OpenRequests   int         `json:"open_requests"`
	Paused         bool        `json:"paused"`
	NextRequestID  uint64      `json:"next_request_id"`
	HolderCount    int         `json:"holder_count"`
	LastFeeSweep   int64       `json:"last_fee_sweep_unix"`
	LastCompoundAt int64       `json:"last_compound_unix"`
}
