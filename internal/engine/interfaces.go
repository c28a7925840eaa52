package engine

import (
	sdkmath "cosmossdk.io/math"

	"github.com/caspervault/cvm/internal/types"
)

// StakingClient moves base assets between callers and the vault. Stake pulls
// a deposit in, Unstake pays a withdrawal out. TotalStakedValue reports
// assets held directly at the staking layer, excluding anything already
// counted by the strategy router.
type StakingClient interface {
	Stake(user string, amount sdkmath.Int) error
	Unstake(user string, amount sdkmath.Int) error
	TotalStakedValue() (sdkmath.Int, error)
}

// StrategyRouter deploys vault assets into yield strategies and recalls them
// on demand. HarvestAll realizes accrued yield into the router's deployed
// value and returns the harvested amount.
type StrategyRouter interface {
	Allocate(amount sdkmath.Int) error
	Withdraw(amount sdkmath.Int) error
	HarvestAll() (sdkmath.Int, error)
	TotalValue() (sdkmath.Int, error)
}

// ShareToken mirrors the engine's internal share accounting on a fungible
// token ledger. Mint and Burn track every change to a holder's spendable
// balance, so shares locked by a withdrawal request are burned at request
// time, not at completion.
type ShareToken interface {
	Mint(user string, amount sdkmath.Int) error
	Burn(user string, amount sdkmath.Int) error
}

// EventRecorder persists the audit trail.
type EventRecorder interface {
	Record(event types.VaultEvent) error
}

// RequestRecorder mirrors withdrawal requests to a durable store as they are
// opened and completed, so the request book survives restarts.
type RequestRecorder interface {
	SaveRequest(req types.WithdrawalRequest) error
}
