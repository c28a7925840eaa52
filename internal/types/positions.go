/*

This file contains the per-user and per-request records that make up the
engine's mutable ledger state.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// UserDeposit tracks a depositor's cumulative principal for performance-fee
// purposes. CostBasis is cumulative and is deliberately not reduced on
// partial withdrawal; see the accounting notes in DESIGN.md.
type UserDeposit struct {
	CostBasis       sdkmath.Int `json:"cost_basis"`
	TotalDeposited  sdkmath.Int `json:"total_deposited"`
	LastDepositTime time.Time   `json:"last_deposit_time"`
}

// UserPosition is a caller's spendable claim on the vault. Shares locked in
// an open withdrawal request are excluded from ShareBalance.
type UserPosition struct {
	ShareBalance sdkmath.Int `json:"share_balance"`
	Deposit      UserDeposit `json:"deposit"`
}

// WithdrawalRequest is a snapshot-priced, time-locked exit. Shares are
// removed from the owner's spendable balance at request time but stay in
// totalShares until completion, fixing the payout against later price moves.
type WithdrawalRequest struct {
	ID          uint64      `json:"id"`
	User        string      `json:"user"`
	Shares      sdkmath.Int `json:"shares"`
	AssetsValue sdkmath.Int `json:"assets_value"`
	RequestTime time.Time   `json:"request_time"`
	UnlockTime  time.Time   `json:"unlock_time"`
	Completed   bool        `json:"completed"`
}

// DepositWindow is a caller's rolling 24h deposit counter.
type DepositWindow struct {
	WindowStart time.Time   `json:"window_start"`
	Amount      sdkmath.Int `json:"amount"`
}
