package engine_test

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caspervault/cvm/internal/access"
	"github.com/caspervault/cvm/internal/engine"
	"github.com/caspervault/cvm/internal/guard"
	"github.com/caspervault/cvm/internal/simulations"
	"github.com/caspervault/cvm/internal/types"
)

const (
	admin    = "casper1admin"
	treasury = "casper1treasury"
	bob      = "casper1bob"
	alice    = "casper1alice"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time {
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

type testEnv struct {
	engine     *engine.Engine
	staking    *simulations.SimulatedStaking
	strategies *simulations.SimulatedStrategyRouter
	shareToken *simulations.MemoryShareToken
	events     *simulations.MemoryEventRecorder
	requests   *simulations.MemoryRequestRecorder
	clock      *testClock
}

// setupEngine builds an engine wired to in-memory collaborators and a
// controllable clock.
func setupEngine(t *testing.T, params types.VaultParameters) testEnv {
	t.Helper()

	clock := &testClock{now: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	staking := simulations.NewSimulatedStaking()
	strategies := simulations.NewSimulatedStrategyRouter()
	shareToken := simulations.NewMemoryShareToken()
	events := simulations.NewMemoryEventRecorder()
	requests := simulations.NewMemoryRequestRecorder()

	eng, err := engine.New(engine.Config{
		Treasury:   treasury,
		Admin:      admin,
		Parameters: params,
		Staking:    staking,
		Strategies: strategies,
		ShareToken: shareToken,
		Events:     events,
		Requests:   requests,
		Now:        clock.Now,
	})
	require.NoError(t, err)

	return testEnv{
		engine:     eng,
		staking:    staking,
		strategies: strategies,
		shareToken: shareToken,
		events:     events,
		requests:   requests,
		clock:      clock,
	}
}

// testParams returns the default parameters with limits small tests can hit.
func testParams() types.VaultParameters {
	params := types.DefaultVaultParameters()
	params.MinShares = sdkmath.NewInt(1)
	return params
}

func TestDepositBootstrapMintsOneToOne(t *testing.T) {
	env := setupEngine(t, testParams())

	// ACT: first deposit into an empty vault
	shares, err := env.engine.Deposit(bob, sdkmath.NewInt(1_000_000))

	// ASSERT: 1:1 mint, pool filled to its 5% target, rest deployed
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(1_000_000), shares)

	summary, err := env.engine.Summary()
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(1_000_000), summary.TotalAssets)
	assert.Equal(t, sdkmath.NewInt(1_000_000), summary.TotalShares)
	assert.Equal(t, sdkmath.NewInt(50_000), summary.InstantPool)

	deployed, err := env.strategies.TotalValue()
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(950_000), deployed)

	pos, ok := env.engine.Position(bob)
	require.True(t, ok)
	assert.Equal(t, sdkmath.NewInt(1_000_000), pos.ShareBalance)
	assert.Equal(t, sdkmath.NewInt(1_000_000), pos.Deposit.CostBasis)

	// The token ledger mirrors the internal balance
	assert.Equal(t, sdkmath.NewInt(1_000_000), env.shareToken.BalanceOf(bob))
}

func TestDepositAfterAppreciationMintsFewerShares(t *testing.T) {
	env := setupEngine(t, testParams())

	// ARRANGE: bob deposits, then the deployed value doubles
	_, err := env.engine.Deposit(bob, sdkmath.NewInt(1_000_000))
	require.NoError(t, err)
	env.strategies.InjectRealizedGain(sdkmath.NewInt(1_000_000))

	// ACT: alice deposits the same amount at twice the share price
	shares, err := env.engine.Deposit(alice, sdkmath.NewInt(1_000_000))

	// ASSERT: truncating conversion mints half the shares
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(500_000), shares)
}

func TestDepositRejectsZeroAndDust(t *testing.T) {
	params := testParams()
	params.MinShares = sdkmath.NewInt(1000)
	env := setupEngine(t, params)

	_, err := env.engine.Deposit(bob, sdkmath.ZeroInt())
	assert.ErrorIs(t, err, engine.ErrZeroAmount)

	_, err = env.engine.Deposit(bob, sdkmath.NewInt(999))
	assert.ErrorIs(t, err, engine.ErrBelowMinimumShares)
	assert.ErrorIs(t, err, engine.ErrInsufficientBalance)
}

func TestDepositPerTransactionCap(t *testing.T) {
	params := testParams()
	params.MaxDepositPerTx = sdkmath.NewInt(1_000)
	params.MaxDepositPerDay = sdkmath.NewInt(10_000)
	env := setupEngine(t, params)

	_, err := env.engine.Deposit(bob, sdkmath.NewInt(1_001))
	assert.ErrorIs(t, err, engine.ErrRateLimitExceeded)

	_, err = env.engine.Deposit(bob, sdkmath.NewInt(1_000))
	assert.NoError(t, err)
}

func TestDepositDailyWindowResets(t *testing.T) {
	params := testParams()
	params.MaxDepositPerTx = sdkmath.NewInt(1_000)
	params.MaxDepositPerDay = sdkmath.NewInt(1_500)
	env := setupEngine(t, params)

	// ARRANGE: bob exhausts most of his daily allowance
	_, err := env.engine.Deposit(bob, sdkmath.NewInt(1_000))
	require.NoError(t, err)

	// ACT + ASSERT: next deposit breaches the rolling window
	_, err = env.engine.Deposit(bob, sdkmath.NewInt(600))
	assert.ErrorIs(t, err, engine.ErrRateLimitExceeded)

	// Another depositor is unaffected
	_, err = env.engine.Deposit(alice, sdkmath.NewInt(600))
	assert.NoError(t, err)

	// After 24h the window resets
	env.clock.Advance(24 * time.Hour)
	_, err = env.engine.Deposit(bob, sdkmath.NewInt(600))
	assert.NoError(t, err)
}

func TestWithdrawChargesPerformanceFeeOnProfit(t *testing.T) {
	env := setupEngine(t, testParams())

	// ARRANGE: bob deposits 1,000,000 and the vault earns 200,000
	_, err := env.engine.Deposit(bob, sdkmath.NewInt(1_000_000))
	require.NoError(t, err)
	env.strategies.InjectRealizedGain(sdkmath.NewInt(200_000))

	// ACT: bob withdraws everything
	net, err := env.engine.Withdraw(bob, sdkmath.NewInt(1_000_000))

	// ASSERT: 10% fee on the 200,000 profit, fee retained in the pool
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(1_180_000), net)
	assert.Equal(t, sdkmath.NewInt(1_180_000), env.staking.PaidOut(bob))

	summary, err := env.engine.Summary()
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(20_000), summary.FeesCollected)
	assert.Equal(t, sdkmath.NewInt(20_000), summary.InstantPool)
	assert.True(t, summary.TotalShares.IsZero())

	// Full exit removes the position and empties the token ledger
	_, ok := env.engine.Position(bob)
	assert.False(t, ok)
	assert.True(t, env.shareToken.BalanceOf(bob).IsZero())
}

func TestWithdrawAtOrBelowCostBasisPaysNoFee(t *testing.T) {
	env := setupEngine(t, testParams())

	_, err := env.engine.Deposit(bob, sdkmath.NewInt(1_000_000))
	require.NoError(t, err)

	net, err := env.engine.Withdraw(bob, sdkmath.NewInt(1_000_000))
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(1_000_000), net)
}

func TestWithdrawInsufficientBalance(t *testing.T) {
	env := setupEngine(t, testParams())

	_, err := env.engine.Deposit(bob, sdkmath.NewInt(1_000))
	require.NoError(t, err)

	_, err = env.engine.Withdraw(bob, sdkmath.NewInt(1_001))
	assert.ErrorIs(t, err, engine.ErrInsufficientBalance)

	_, err = env.engine.Withdraw(alice, sdkmath.NewInt(1))
	assert.ErrorIs(t, err, engine.ErrInsufficientBalance)
}

func TestPartialWithdrawalKeepsFullCostBasis(t *testing.T) {
	env := setupEngine(t, testParams())

	// ARRANGE: bob deposits 1,000,000 and the vault earns 200,000
	_, err := env.engine.Deposit(bob, sdkmath.NewInt(1_000_000))
	require.NoError(t, err)
	env.strategies.InjectRealizedGain(sdkmath.NewInt(200_000))

	// ACT: bob withdraws half his shares, worth 600,000
	net, err := env.engine.Withdraw(bob, sdkmath.NewInt(500_000))

	// ASSERT: 600,000 is below the untouched 1,000,000 cost basis, so the
	// partial exit pays no performance fee even though the vault is in profit
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(600_000), net)

	pos, ok := env.engine.Position(bob)
	require.True(t, ok)
	assert.Equal(t, sdkmath.NewInt(1_000_000), pos.Deposit.CostBasis)
}

func TestRequestAndCompleteWithdrawal(t *testing.T) {
	env := setupEngine(t, testParams())

	// ARRANGE: bob deposits and requests half his shares out
	_, err := env.engine.Deposit(bob, sdkmath.NewInt(1_000_000))
	require.NoError(t, err)

	id, err := env.engine.RequestWithdrawal(bob, sdkmath.NewInt(500_000))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)

	// Locked shares leave the spendable balance but not totalShares; the
	// token ledger burns at request time
	pos, ok := env.engine.Position(bob)
	require.True(t, ok)
	assert.Equal(t, sdkmath.NewInt(500_000), pos.ShareBalance)
	assert.Equal(t, sdkmath.NewInt(500_000), env.shareToken.BalanceOf(bob))

	summary, err := env.engine.Summary()
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(1_000_000), summary.TotalShares)
	assert.Equal(t, 1, summary.OpenRequests)

	// Yield arriving after the request must not move the snapshot payout
	env.strategies.InjectRealizedGain(sdkmath.NewInt(400_000))

	// ACT: complete after the timelock
	env.clock.Advance(7*24*time.Hour + time.Second)
	net, err := env.engine.CompleteWithdrawal(bob, id)

	// ASSERT: paid at the snapshot value, shares burned now
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(500_000), net)

	summary, err = env.engine.Summary()
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(500_000), summary.TotalShares)
	assert.Equal(t, 0, summary.OpenRequests)

	req, ok := env.engine.Request(id)
	require.True(t, ok)
	assert.True(t, req.Completed)
}

func TestCompleteWithdrawalGuards(t *testing.T) {
	env := setupEngine(t, testParams())

	_, err := env.engine.Deposit(bob, sdkmath.NewInt(1_000_000))
	require.NoError(t, err)
	id, err := env.engine.RequestWithdrawal(bob, sdkmath.NewInt(500_000))
	require.NoError(t, err)

	// Unknown request
	_, err = env.engine.CompleteWithdrawal(bob, 99)
	assert.ErrorIs(t, err, engine.ErrRequestNotFound)

	// Wrong owner
	_, err = env.engine.CompleteWithdrawal(alice, id)
	assert.ErrorIs(t, err, engine.ErrUnauthorized)

	// Too early
	env.clock.Advance(6 * 24 * time.Hour)
	_, err = env.engine.CompleteWithdrawal(bob, id)
	assert.ErrorIs(t, err, engine.ErrTimelockNotExpired)

	// On time, then never twice
	env.clock.Advance(24 * time.Hour)
	_, err = env.engine.CompleteWithdrawal(bob, id)
	require.NoError(t, err)
	_, err = env.engine.CompleteWithdrawal(bob, id)
	assert.ErrorIs(t, err, engine.ErrRequestCompleted)
}

func TestInstantWithdrawChargesSurcharge(t *testing.T) {
	env := setupEngine(t, testParams())

	// ARRANGE: pool holds 50,000 after the deposit split
	_, err := env.engine.Deposit(bob, sdkmath.NewInt(1_000_000))
	require.NoError(t, err)

	// ACT: instant exit worth 40,000, within the pool
	net, err := env.engine.InstantWithdraw(bob, sdkmath.NewInt(40_000))

	// ASSERT: 0.5% surcharge, no performance fee below cost basis
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(39_800), net)

	summary, err := env.engine.Summary()
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(10_200), summary.InstantPool)
	assert.Equal(t, sdkmath.NewInt(200), summary.FeesCollected)
}

func TestInstantWithdrawNeverTouchesStrategies(t *testing.T) {
	env := setupEngine(t, testParams())

	_, err := env.engine.Deposit(bob, sdkmath.NewInt(1_000_000))
	require.NoError(t, err)

	deployedBefore, err := env.strategies.TotalValue()
	require.NoError(t, err)

	// Worth more than the 50,000 pool
	_, err = env.engine.InstantWithdraw(bob, sdkmath.NewInt(60_000))
	assert.ErrorIs(t, err, engine.ErrInsufficientLiquidity)

	deployedAfter, err := env.strategies.TotalValue()
	require.NoError(t, err)
	assert.Equal(t, deployedBefore, deployedAfter)
}

func TestPauseBlocksEntriesButNotExits(t *testing.T) {
	env := setupEngine(t, testParams())

	_, err := env.engine.Deposit(bob, sdkmath.NewInt(1_000_000))
	require.NoError(t, err)

	require.NoError(t, env.engine.Pause(admin))
	assert.True(t, env.engine.IsPaused())

	// Blocked while paused
	_, err = env.engine.Deposit(alice, sdkmath.NewInt(1_000))
	assert.ErrorIs(t, err, guard.ErrPaused)
	_, err = env.engine.InstantWithdraw(bob, sdkmath.NewInt(1_000))
	assert.ErrorIs(t, err, guard.ErrPaused)

	// Exits keep working so a pause cannot trap funds
	_, err = env.engine.Withdraw(bob, sdkmath.NewInt(100_000))
	assert.NoError(t, err)
	id, err := env.engine.RequestWithdrawal(bob, sdkmath.NewInt(100_000))
	assert.NoError(t, err)
	env.clock.Advance(7*24*time.Hour + time.Second)
	_, err = env.engine.CompleteWithdrawal(bob, id)
	assert.NoError(t, err)

	require.NoError(t, env.engine.Unpause(admin))
	_, err = env.engine.Deposit(alice, sdkmath.NewInt(1_000))
	assert.NoError(t, err)
}

func TestPauseRequiresGuardian(t *testing.T) {
	env := setupEngine(t, testParams())

	err := env.engine.Pause(bob)
	assert.ErrorIs(t, err, access.ErrUnauthorized)

	require.NoError(t, env.engine.Roles().Grant(access.RoleGuardian, alice))
	assert.NoError(t, env.engine.Pause(alice))
}

func TestManagementFeeSweepDilutesHolders(t *testing.T) {
	env := setupEngine(t, testParams())

	_, err := env.engine.Deposit(bob, sdkmath.NewInt(1_000_000))
	require.NoError(t, err)

	// Inside the hour the sweep is refused
	_, err = env.engine.CollectManagementFees(admin)
	assert.ErrorIs(t, err, engine.ErrRateLimitExceeded)

	// ACT: two hours later
	env.clock.Advance(2 * time.Hour)
	minted, err := env.engine.CollectManagementFees(admin)

	// ASSERT: 2% annual on 1,000,000 shares for 2h, truncated
	require.NoError(t, err)
	expected := sdkmath.NewInt(1_000_000).
		MulRaw(200).
		MulRaw(7200).
		QuoRaw(365 * 24 * 60 * 60).
		QuoRaw(types.BpsDenominator)
	assert.Equal(t, expected, minted)

	treasuryPos, ok := env.engine.Position(treasury)
	require.True(t, ok)
	assert.Equal(t, expected, treasuryPos.ShareBalance)

	summary, err := env.engine.Summary()
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(1_000_000).Add(expected), summary.TotalShares)
}

func TestManagementFeeRequiresKeeper(t *testing.T) {
	env := setupEngine(t, testParams())

	env.clock.Advance(2 * time.Hour)
	_, err := env.engine.CollectManagementFees(bob)
	assert.ErrorIs(t, err, access.ErrUnauthorized)
}

func TestCompoundHarvestsAndReplenishesPool(t *testing.T) {
	env := setupEngine(t, testParams())

	// ARRANGE: deposit, then drain the pool with an instant exit
	_, err := env.engine.Deposit(bob, sdkmath.NewInt(1_000_000))
	require.NoError(t, err)
	_, err = env.engine.InstantWithdraw(bob, sdkmath.NewInt(40_000))
	require.NoError(t, err)

	env.strategies.InjectYield(sdkmath.NewInt(200_000_000_000))

	// ACT
	yield, err := env.engine.Compound(admin)

	// ASSERT: harvest realized, pool topped back up toward its target
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(200_000_000_000), yield)

	summary, err := env.engine.Summary()
	require.NoError(t, err)
	target := summary.TotalAssets.MulRaw(500).QuoRaw(types.BpsDenominator)
	assert.Equal(t, target, summary.InstantPool)
}

func TestCompoundGates(t *testing.T) {
	env := setupEngine(t, testParams())

	_, err := env.engine.Deposit(bob, sdkmath.NewInt(1_000_000))
	require.NoError(t, err)

	// Below the minimum yield
	env.strategies.InjectYield(sdkmath.NewInt(1))
	_, err = env.engine.Compound(admin)
	assert.ErrorIs(t, err, engine.ErrNothingToCompound)

	// A successful compound starts the interval gate
	env.strategies.InjectYield(sdkmath.NewInt(200_000_000_000))
	_, err = env.engine.Compound(admin)
	require.NoError(t, err)

	env.strategies.InjectYield(sdkmath.NewInt(200_000_000_000))
	_, err = env.engine.Compound(admin)
	assert.ErrorIs(t, err, engine.ErrRateLimitExceeded)

	env.clock.Advance(time.Hour)
	_, err = env.engine.Compound(admin)
	assert.NoError(t, err)

	// Keeper role required
	env.clock.Advance(time.Hour)
	_, err = env.engine.Compound(bob)
	assert.ErrorIs(t, err, access.ErrUnauthorized)
}

func TestWithdrawFeesPaysTreasury(t *testing.T) {
	env := setupEngine(t, testParams())

	// Nothing accrued yet
	_, err := env.engine.WithdrawFees(admin)
	assert.ErrorIs(t, err, engine.ErrNothingToCollect)

	// ARRANGE: accrue an instant-exit fee
	_, err = env.engine.Deposit(bob, sdkmath.NewInt(1_000_000))
	require.NoError(t, err)
	_, err = env.engine.InstantWithdraw(bob, sdkmath.NewInt(40_000))
	require.NoError(t, err)

	// Only admin or treasury may collect
	_, err = env.engine.WithdrawFees(bob)
	assert.ErrorIs(t, err, access.ErrUnauthorized)

	// ACT
	collected, err := env.engine.WithdrawFees(treasury)

	// ASSERT
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(200), collected)
	assert.Equal(t, sdkmath.NewInt(200), env.staking.PaidOut(treasury))

	summary, err := env.engine.Summary()
	require.NoError(t, err)
	assert.True(t, summary.FeesCollected.IsZero())
	assert.Equal(t, sdkmath.NewInt(10_000), summary.InstantPool)
}

func TestGlobalHourlyWithdrawalCap(t *testing.T) {
	params := testParams()
	params.MaxGlobalWithdrawalsPerHour = sdkmath.NewInt(100_000)
	env := setupEngine(t, params)

	_, err := env.engine.Deposit(bob, sdkmath.NewInt(1_000_000))
	require.NoError(t, err)

	_, err = env.engine.Withdraw(bob, sdkmath.NewInt(80_000))
	require.NoError(t, err)

	_, err = env.engine.Withdraw(bob, sdkmath.NewInt(30_000))
	assert.ErrorIs(t, err, engine.ErrRateLimitExceeded)

	// The window rolls over after an hour
	env.clock.Advance(time.Hour)
	_, err = env.engine.Withdraw(bob, sdkmath.NewInt(30_000))
	assert.NoError(t, err)
}

func TestParameterUpdatesValidateAndGate(t *testing.T) {
	env := setupEngine(t, testParams())

	// Non-admin refused
	err := env.engine.SetPerformanceFee(bob, 500)
	assert.ErrorIs(t, err, access.ErrUnauthorized)

	// Out-of-range values refused
	assert.ErrorIs(t, env.engine.SetPerformanceFee(admin, 2_001), engine.ErrInvalidParameter)
	assert.ErrorIs(t, env.engine.SetInstantWithdrawalFee(admin, 501), engine.ErrInvalidParameter)
	assert.ErrorIs(t, env.engine.SetInstantPoolTarget(admin, 5_001), engine.ErrInvalidParameter)
	assert.ErrorIs(t, env.engine.SetWithdrawalTimelock(admin, 3600), engine.ErrInvalidParameter)
	assert.ErrorIs(t, env.engine.SetWithdrawalTimelock(admin, 31*24*60*60), engine.ErrInvalidParameter)

	// Valid updates land
	require.NoError(t, env.engine.SetPerformanceFee(admin, 500))
	require.NoError(t, env.engine.SetWithdrawalTimelock(admin, 2*24*60*60))
	params := env.engine.Parameters()
	assert.Equal(t, uint16(500), params.PerformanceFeeBps)
	assert.Equal(t, uint64(2*24*60*60), params.WithdrawalTimelock)
}

func TestEventsTraceEveryOperation(t *testing.T) {
	env := setupEngine(t, testParams())

	_, err := env.engine.Deposit(bob, sdkmath.NewInt(1_000_000))
	require.NoError(t, err)
	_, err = env.engine.Withdraw(bob, sdkmath.NewInt(100_000))
	require.NoError(t, err)
	id, err := env.engine.RequestWithdrawal(bob, sdkmath.NewInt(100_000))
	require.NoError(t, err)
	env.clock.Advance(7*24*time.Hour + time.Second)
	_, err = env.engine.CompleteWithdrawal(bob, id)
	require.NoError(t, err)

	deposit, ok := env.events.LastOfKind(types.EventDeposit)
	require.True(t, ok)
	assert.Equal(t, bob, deposit.User)
	assert.Equal(t, sdkmath.NewInt(1_000_000), deposit.Gross)

	completed, ok := env.events.LastOfKind(types.EventWithdrawalCompleted)
	require.True(t, ok)
	assert.Equal(t, id, completed.RequestID)

	_, ok = env.events.LastOfKind(types.EventWithdraw)
	assert.True(t, ok)
	_, ok = env.events.LastOfKind(types.EventWithdrawalRequested)
	assert.True(t, ok)
}

func TestDepositRollsBackWhenStakingFails(t *testing.T) {
	env := setupEngine(t, testParams())

	env.staking.FailNext = true
	_, err := env.engine.Deposit(bob, sdkmath.NewInt(1_000_000))
	require.Error(t, err)

	// Nothing was committed
	summary, err := env.engine.Summary()
	require.NoError(t, err)
	assert.True(t, summary.TotalShares.IsZero())
	assert.True(t, summary.TotalAssets.IsZero())
	_, ok := env.engine.Position(bob)
	assert.False(t, ok)

	// And the rate window was not charged either
	params := env.engine.Parameters()
	assert.Equal(t, params.MaxDepositPerDay, env.engine.RemainingDailyAllowance(bob))
}

// reentrantStaking wraps the simulated staking client and calls back into
// the engine from inside Stake, the way a hostile token hook would.
type reentrantStaking struct {
	inner   *simulations.SimulatedStaking
	eng     *engine.Engine
	nested  error
	entered bool
}

func (r *reentrantStaking) Stake(user string, amount sdkmath.Int) error {
	if !r.entered && r.eng != nil {
		r.entered = true
		_, r.nested = r.eng.Withdraw(user, sdkmath.NewInt(1))
	}
	return r.inner.Stake(user, amount)
}

func (r *reentrantStaking) Unstake(user string, amount sdkmath.Int) error {
	return r.inner.Unstake(user, amount)
}

func (r *reentrantStaking) TotalStakedValue() (sdkmath.Int, error) {
	return r.inner.TotalStakedValue()
}

func TestReentrantCallbackAborts(t *testing.T) {
	staking := &reentrantStaking{inner: simulations.NewSimulatedStaking()}
	eng, err := engine.New(engine.Config{
		Treasury:   treasury,
		Admin:      admin,
		Parameters: testParams(),
		Staking:    staking,
		Strategies: simulations.NewSimulatedStrategyRouter(),
		ShareToken: simulations.NewMemoryShareToken(),
		Events:     simulations.NewMemoryEventRecorder(),
	})
	require.NoError(t, err)
	staking.eng = eng

	// ACT: the deposit triggers a nested withdrawal from inside Stake
	_, err = eng.Deposit(bob, sdkmath.NewInt(1_000_000))

	// ASSERT: the outer call lands, the nested call aborted instead of
	// hanging or draining mid-operation
	require.NoError(t, err)
	require.True(t, staking.entered)
	assert.ErrorIs(t, staking.nested, guard.ErrReentrancy)

	summary, err := eng.Summary()
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(1_000_000), summary.TotalShares)
}

func TestWithdrawRestoresCollaboratorsWhenPayoutFails(t *testing.T) {
	env := setupEngine(t, testParams())

	_, err := env.engine.Deposit(bob, sdkmath.NewInt(1_000_000))
	require.NoError(t, err)

	deployedBefore, err := env.strategies.TotalValue()
	require.NoError(t, err)

	// ACT: the payout leg fails after strategies were recalled and the
	// token burn settled
	env.staking.FailNext = true
	_, err = env.engine.Withdraw(bob, sdkmath.NewInt(1_000_000))
	require.Error(t, err)

	// ASSERT: both collaborator legs were reversed alongside the internal
	// state
	deployedAfter, err := env.strategies.TotalValue()
	require.NoError(t, err)
	assert.Equal(t, deployedBefore, deployedAfter)
	assert.Equal(t, sdkmath.NewInt(1_000_000), env.shareToken.BalanceOf(bob))

	summary, err := env.engine.Summary()
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(1_000_000), summary.TotalShares)
	assert.Equal(t, sdkmath.NewInt(50_000), summary.InstantPool)
	assert.True(t, summary.FeesCollected.IsZero())

	pos, ok := env.engine.Position(bob)
	require.True(t, ok)
	assert.Equal(t, sdkmath.NewInt(1_000_000), pos.ShareBalance)

	// A retry settles cleanly
	net, err := env.engine.Withdraw(bob, sdkmath.NewInt(1_000_000))
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(1_000_000), net)
}

func TestInstantWithdrawRemintsWhenPayoutFails(t *testing.T) {
	env := setupEngine(t, testParams())

	_, err := env.engine.Deposit(bob, sdkmath.NewInt(1_000_000))
	require.NoError(t, err)

	env.staking.FailNext = true
	_, err = env.engine.InstantWithdraw(bob, sdkmath.NewInt(40_000))
	require.Error(t, err)

	assert.Equal(t, sdkmath.NewInt(1_000_000), env.shareToken.BalanceOf(bob))

	summary, err := env.engine.Summary()
	require.NoError(t, err)
	assert.Equal(t, sdkmath.NewInt(50_000), summary.InstantPool)
	assert.Equal(t, sdkmath.NewInt(1_000_000), summary.TotalShares)
	assert.True(t, summary.FeesCollected.IsZero())
}

func TestWithdrawalRequestsMirroredToStore(t *testing.T) {
	env := setupEngine(t, testParams())

	_, err := env.engine.Deposit(bob, sdkmath.NewInt(1_000_000))
	require.NoError(t, err)
	id, err := env.engine.RequestWithdrawal(bob, sdkmath.NewInt(400_000))
	require.NoError(t, err)

	// The open request is mirrored at request time
	require.Len(t, env.requests.Saved, 1)
	assert.Equal(t, id, env.requests.Saved[0].ID)
	assert.False(t, env.requests.Saved[0].Completed)

	env.clock.Advance(7*24*time.Hour + time.Second)
	_, err = env.engine.CompleteWithdrawal(bob, id)
	require.NoError(t, err)

	// Completion flips the stored flag
	require.Len(t, env.requests.Saved, 2)
	assert.Equal(t, id, env.requests.Saved[1].ID)
	assert.True(t, env.requests.Saved[1].Completed)
}

func TestOpenRequestsRestoredOnStartup(t *testing.T) {
	clock := &testClock{now: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}
	restored := types.WithdrawalRequest{
		ID:          7,
		User:        alice,
		Shares:      sdkmath.NewInt(100),
		AssetsValue: sdkmath.NewInt(100),
		RequestTime: clock.now.Add(-8 * 24 * time.Hour),
		UnlockTime:  clock.now.Add(-24 * time.Hour),
	}
	stale := types.WithdrawalRequest{ID: 3, User: alice, Completed: true}

	eng, err := engine.New(engine.Config{
		Treasury:     treasury,
		Admin:        admin,
		Parameters:   testParams(),
		Staking:      simulations.NewSimulatedStaking(),
		Strategies:   simulations.NewSimulatedStrategyRouter(),
		ShareToken:   simulations.NewMemoryShareToken(),
		Events:       simulations.NewMemoryEventRecorder(),
		OpenRequests: []types.WithdrawalRequest{restored, stale},
		Now:          clock.Now,
	})
	require.NoError(t, err)

	// Only the open request survives the reload
	req, ok := eng.Request(7)
	require.True(t, ok)
	assert.Equal(t, alice, req.User)
	_, ok = eng.Request(3)
	assert.False(t, ok)

	// Fresh ids continue past the restored book
	_, err = eng.Deposit(bob, sdkmath.NewInt(1_000_000))
	require.NoError(t, err)
	id, err := eng.RequestWithdrawal(bob, sdkmath.NewInt(100_000))
	require.NoError(t, err)
	assert.Equal(t, uint64(8), id)
}

// assertSharesConserved checks that spendable balances plus shares locked in
// open requests account for every outstanding share.
func assertSharesConserved(t *testing.T, env testEnv, holders ...string) {
	t.Helper()

	summary, err := env.engine.Summary()
	require.NoError(t, err)

	total := sdkmath.ZeroInt()
	for _, holder := range holders {
		if pos, ok := env.engine.Position(holder); ok {
			total = total.Add(pos.ShareBalance)
		}
		for _, req := range env.engine.RequestsFor(holder) {
			if !req.Completed {
				total = total.Add(req.Shares)
			}
		}
	}
	assert.Equal(t, summary.TotalShares, total)
}

func TestSharesConservedAcrossFlows(t *testing.T) {
	env := setupEngine(t, testParams())
	holders := []string{bob, alice, treasury}

	_, err := env.engine.Deposit(bob, sdkmath.NewInt(1_000_000))
	require.NoError(t, err)
	assertSharesConserved(t, env, holders...)

	_, err = env.engine.Deposit(alice, sdkmath.NewInt(300_000))
	require.NoError(t, err)
	assertSharesConserved(t, env, holders...)

	// Shares locked in an open request stay in totalShares
	id, err := env.engine.RequestWithdrawal(bob, sdkmath.NewInt(400_000))
	require.NoError(t, err)
	assertSharesConserved(t, env, holders...)

	// The dilutive fee mint keeps the books balanced too
	env.clock.Advance(2 * time.Hour)
	_, err = env.engine.CollectManagementFees(admin)
	require.NoError(t, err)
	assertSharesConserved(t, env, holders...)

	_, err = env.engine.Withdraw(alice, sdkmath.NewInt(100_000))
	require.NoError(t, err)
	assertSharesConserved(t, env, holders...)

	env.clock.Advance(7 * 24 * time.Hour)
	_, err = env.engine.CompleteWithdrawal(bob, id)
	require.NoError(t, err)
	assertSharesConserved(t, env, holders...)
}

func TestSharePriceNeverDecreasesOnFlows(t *testing.T) {
	env := setupEngine(t, testParams())

	price := func() sdkmath.LegacyDec {
		summary, err := env.engine.Summary()
		require.NoError(t, err)
		return sdkmath.LegacyMustNewDecFromStr(summary.SharePrice)
	}

	last := price()
	steps := []func(){
		func() {
			_, err := env.engine.Deposit(bob, sdkmath.NewInt(1_000_000))
			require.NoError(t, err)
		},
		func() { env.strategies.InjectRealizedGain(sdkmath.NewInt(137_000)) },
		func() {
			_, err := env.engine.Deposit(alice, sdkmath.NewInt(333_333))
			require.NoError(t, err)
		},
		func() {
			_, err := env.engine.InstantWithdraw(alice, sdkmath.NewInt(10_000))
			require.NoError(t, err)
		},
		func() {
			_, err := env.engine.Withdraw(bob, sdkmath.NewInt(250_000))
			require.NoError(t, err)
		},
		func() {
			env.strategies.InjectYield(sdkmath.NewInt(200_000_000_000))
			_, err := env.engine.Compound(admin)
			require.NoError(t, err)
		},
	}

	for _, step := range steps {
		step()
		current := price()
		assert.True(t, current.GTE(last), "share price fell from %s to %s", last, current)
		last = current
	}
}
