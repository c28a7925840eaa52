/*

This file contains in-memory collaborators for local runs and tests: a
staking client that settles transfers instantly, a strategy router with
injectable yield accrual, and an event recorder that keeps the audit trail
in a slice. Production deployments swap these for the network-backed
implementations; the engine cannot tell the difference.

*/

package simulations

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/caspervault/cvm/internal/logger"
	"github.com/caspervault/cvm/internal/types"
)

// Error definitions for zero-tolerance error handling
var (
	ErrStakingUnavailable = errors.New("staking layer unavailable")
	ErrRouterDrained      = errors.New("strategy router holds insufficient value")
	ErrTokenUnderflow     = errors.New("share token balance too low")
)

var (
	stakingLogger = logger.GetForComponent("sim_staking")
	routerLogger  = logger.GetForComponent("sim_strategy_router")
)

// SimulatedStaking settles stakes and unstakes instantly and tracks payout
// totals per account for assertions. It never holds value itself, so it
// reports zero staked value and the engine's totals come entirely from the
// pool and the router.
type SimulatedStaking struct {
	// FailNext forces the next call to fail, for exercising rollback paths.
	FailNext bool

	stakedIn map[string]sdkmath.Int
	paidOut  map[string]sdkmath.Int
}

// NewSimulatedStaking builds an empty simulated staking client.
func NewSimulatedStaking() *SimulatedStaking {
	return &SimulatedStaking{
		stakedIn: map[string]sdkmath.Int{},
		paidOut:  map[string]sdkmath.Int{},
	}
}

// Stake records an instant 1:1 pull of amount from user.
func (s *SimulatedStaking) Stake(user string, amount sdkmath.Int) error {
	if s.FailNext {
		s.FailNext = false
		return ErrStakingUnavailable
	}
	total, ok := s.stakedIn[user]
	if !ok {
		total = sdkmath.ZeroInt()
	}
	s.stakedIn[user] = total.Add(amount)
	stakingLogger.Debug().Str("user", user).Str("amount", amount.String()).Msg("Stake settled")
	return nil
}

// Unstake records an instant payout of amount to user.
func (s *SimulatedStaking) Unstake(user string, amount sdkmath.Int) error {
	if s.FailNext {
		s.FailNext = false
		return ErrStakingUnavailable
	}
	total, ok := s.paidOut[user]
	if !ok {
		total = sdkmath.ZeroInt()
	}
	s.paidOut[user] = total.Add(amount)
	stakingLogger.Debug().Str("user", user).Str("amount", amount.String()).Msg("Unstake settled")
	return nil
}

// TotalStakedValue is always zero; value lives in the pool and the router.
func (s *SimulatedStaking) TotalStakedValue() (sdkmath.Int, error) {
	return sdkmath.ZeroInt(), nil
}

// PaidOut returns the cumulative payouts made to user.
func (s *SimulatedStaking) PaidOut(user string) sdkmath.Int {
	total, ok := s.paidOut[user]
	if !ok {
		return sdkmath.ZeroInt()
	}
	return total
}

// SimulatedStrategyRouter holds deployed value in memory. Yield is injected
// as pending and only becomes part of the deployed value when harvested,
// matching how real strategies realize rewards.
type SimulatedStrategyRouter struct {
	deployed     sdkmath.Int
	pendingYield sdkmath.Int
}

// NewSimulatedStrategyRouter builds an empty router.
func NewSimulatedStrategyRouter() *SimulatedStrategyRouter {
	return &SimulatedStrategyRouter{
		deployed:     sdkmath.ZeroInt(),
		pendingYield: sdkmath.ZeroInt(),
	}
}

// Allocate deploys amount into the router.
func (r *SimulatedStrategyRouter) Allocate(amount sdkmath.Int) error {
	r.deployed = r.deployed.Add(amount)
	routerLogger.Debug().Str("amount", amount.String()).Str("deployed", r.deployed.String()).Msg("Allocation deployed")
	return nil
}

// Withdraw recalls amount from the deployed value.
func (r *SimulatedStrategyRouter) Withdraw(amount sdkmath.Int) error {
	if amount.GT(r.deployed) {
		return fmt.Errorf("%w: requested %s, deployed %s", ErrRouterDrained, amount, r.deployed)
	}
	r.deployed = r.deployed.Sub(amount)
	routerLogger.Debug().Str("amount", amount.String()).Str("deployed", r.deployed.String()).Msg("Recall settled")
	return nil
}

// HarvestAll realizes pending yield into the deployed value and returns the
// harvested amount.
func (r *SimulatedStrategyRouter) HarvestAll() (sdkmath.Int, error) {
	harvested := r.pendingYield
	r.pendingYield = sdkmath.ZeroInt()
	r.deployed = r.deployed.Add(harvested)
	routerLogger.Info().Str("harvested", harvested.String()).Msg("Harvest complete")
	return harvested, nil
}

// TotalValue reports the deployed value. Pending yield is excluded until
// harvested.
func (r *SimulatedStrategyRouter) TotalValue() (sdkmath.Int, error) {
	return r.deployed, nil
}

// InjectYield accrues amount of unrealized yield for the next harvest.
func (r *SimulatedStrategyRouter) InjectYield(amount sdkmath.Int) {
	r.pendingYield = r.pendingYield.Add(amount)
}

// InjectRealizedGain grows the deployed value directly, simulating
// mark-to-market appreciation that moves the share price without a harvest.
func (r *SimulatedStrategyRouter) InjectRealizedGain(amount sdkmath.Int) {
	r.deployed = r.deployed.Add(amount)
}

// MemoryShareToken mirrors share balances on an in-memory fungible ledger.
type MemoryShareToken struct {
	balances map[string]sdkmath.Int
}

// NewMemoryShareToken builds an empty token ledger.
func NewMemoryShareToken() *MemoryShareToken {
	return &MemoryShareToken{balances: map[string]sdkmath.Int{}}
}

// Mint credits amount of shares to user.
func (m *MemoryShareToken) Mint(user string, amount sdkmath.Int) error {
	m.balances[user] = m.BalanceOf(user).Add(amount)
	return nil
}

// Burn debits amount of shares from user.
func (m *MemoryShareToken) Burn(user string, amount sdkmath.Int) error {
	balance := m.BalanceOf(user)
	if balance.LT(amount) {
		return fmt.Errorf("%w: burning %s from balance %s", ErrTokenUnderflow, amount, balance)
	}
	m.balances[user] = balance.Sub(amount)
	return nil
}

// BalanceOf returns user's token balance.
func (m *MemoryShareToken) BalanceOf(user string) sdkmath.Int {
	balance, ok := m.balances[user]
	if !ok {
		return sdkmath.ZeroInt()
	}
	return balance
}

// MemoryRequestRecorder keeps persisted withdrawal requests in a slice, one
// entry per save, so tests can assert on the mirroring order.
type MemoryRequestRecorder struct {
	Saved []types.WithdrawalRequest
}

// NewMemoryRequestRecorder builds an empty recorder.
func NewMemoryRequestRecorder() *MemoryRequestRecorder {
	return &MemoryRequestRecorder{}
}

// SaveRequest appends the request snapshot.
func (m *MemoryRequestRecorder) SaveRequest(req types.WithdrawalRequest) error {
	m.Saved = append(m.Saved, req)
	return nil
}

// MemoryEventRecorder keeps the audit trail in a slice.
type MemoryEventRecorder struct {
	Events []types.VaultEvent
}

// NewMemoryEventRecorder builds an empty recorder.
func NewMemoryEventRecorder() *MemoryEventRecorder {
	return &MemoryEventRecorder{}
}

// Record appends the event.
func (m *MemoryEventRecorder) Record(event types.VaultEvent) error {
	m.Events = append(m.Events, event)
	return nil
}

// LastOfKind returns the most recent event of the given kind, if any.
func (m *MemoryEventRecorder) LastOfKind(kind types.EventKind) (types.VaultEvent, bool) {
	for i := len(m.Events) - 1; i >= 0; i-- {
		if m.Events[i].Kind == kind {
			return m.Events[i], true
		}
	}
	return types.VaultEvent{}, false
}
