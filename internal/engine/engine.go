/*

This file contains the vault accounting engine: share-priced deposits, the
three exit paths (regular, time-locked, instant), the performance and
management fee machinery, liquidity-pool replenishment and the surrounding
guards. Every public entry point claims the re-entrancy latch before taking
the engine lock, so a collaborator calling back in aborts instead of
deadlocking. Fallible checks run before any collaborator transfer, transfers
run before the first in-memory mutation, and a transfer leg that fails after
earlier legs settled has those legs reversed, so a failed call leaves no
partial state behind.

*/

package engine

import (
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"

	"github.com/caspervault/cvm/internal/access"
	"github.com/caspervault/cvm/internal/guard"
	"github.com/caspervault/cvm/internal/logger"
	"github.com/caspervault/cvm/internal/types"
)

var engineLogger = logger.GetForComponent("engine")

// minimum gap between management fee sweeps
const feeSweepInterval = time.Hour

// Config carries everything an Engine needs. All collaborators are required
// except Requests, which may be nil to keep the request book in memory only.
type Config struct {
	Treasury   string
	Admin      string
	Parameters types.VaultParameters
	Staking    StakingClient
	Strategies StrategyRouter
	ShareToken ShareToken
	Events     EventRecorder
	Requests   RequestRecorder

	// OpenRequests seeds the request book from the durable store on startup.
	// Completed entries are ignored.
	OpenRequests []types.WithdrawalRequest

	// Now overrides the engine clock. Leave nil for time.Now.
	Now func() time.Time
}

// validateEngineConfig rejects incomplete configurations before any state
// is built.
func validateEngineConfig(cfg Config) error {
	if cfg.Treasury == "" {
		return fmt.Errorf("%w: treasury account is required", ErrInvalidConfig)
	}
	if cfg.Admin == "" {
		return fmt.Errorf("%w: admin account is required", ErrInvalidConfig)
	}
	if cfg.Staking == nil {
		return fmt.Errorf("%w: staking client is required", ErrInvalidConfig)
	}
	if cfg.Strategies == nil {
		return fmt.Errorf("%w: strategy router is required", ErrInvalidConfig)
	}
	if cfg.ShareToken == nil {
		return fmt.Errorf("%w: share token is required", ErrInvalidConfig)
	}
	if cfg.Events == nil {
		return fmt.Errorf("%w: event recorder is required", ErrInvalidConfig)
	}
	if err := validateParameters(cfg.Parameters); err != nil {
		return err
	}
	return nil
}

// Engine is the in-memory vault ledger. All fields behind mu.
type Engine struct {
	mu    sync.Mutex
	latch *guard.Latch
	pause *guard.Pausable
	roles *access.Registry

	params   types.VaultParameters
	treasury string

	totalShares   sdkmath.Int
	instantPool   sdkmath.Int
	feesCollected sdkmath.Int

	positions map[string]*types.UserPosition
	requests  map[uint64]*types.WithdrawalRequest
	nextID    uint64

	limiter *rateLimiter

	lastFeeSweep   time.Time
	lastCompoundAt time.Time

	staking      StakingClient
	strategies   StrategyRouter
	shareToken   ShareToken
	events       EventRecorder
	requestStore RequestRecorder

	now func() time.Time
}

// New builds an Engine from a validated Config.
func New(cfg Config) (*Engine, error) {
	if err := validateEngineConfig(cfg); err != nil {
		return nil, err
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	e := &Engine{
		latch:         guard.NewLatch(),
		pause:         guard.NewPausable(),
		roles:         access.NewRegistry(cfg.Admin),
		params:        cfg.Parameters,
		treasury:      cfg.Treasury,
		totalShares:   sdkmath.ZeroInt(),
		instantPool:   sdkmath.ZeroInt(),
		feesCollected: sdkmath.ZeroInt(),
		positions:     map[string]*types.UserPosition{},
		requests:      map[uint64]*types.WithdrawalRequest{},
		nextID:        1,
		limiter:       newRateLimiter(),
		lastFeeSweep:  now(),
		staking:       cfg.Staking,
		strategies:    cfg.Strategies,
		shareToken:    cfg.ShareToken,
		events:        cfg.Events,
		requestStore:  cfg.Requests,
		now:           now,
	}

	for _, req := range cfg.OpenRequests {
		if req.Completed {
			continue
		}
		restored := req
		e.requests[restored.ID] = &restored
		if restored.ID >= e.nextID {
			e.nextID = restored.ID + 1
		}
	}

	engineLogger.Info().
		Str("treasury", cfg.Treasury).
		Str("admin", cfg.Admin).
		Int("open_requests", len(e.requests)).
		Msg("Vault engine initialized")

	return e, nil
}

// Roles exposes the role registry for wiring and administration.
func (e *Engine) Roles() *access.Registry {
	return e.roles
}

// totalAssets values the vault live: liquid pool plus deployed strategies
// plus anything held at the staking layer.
func (e *Engine) totalAssets() (sdkmath.Int, error) {
	deployed, err := e.strategies.TotalValue()
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("querying strategy value: %w", err)
	}
	staked, err := e.staking.TotalStakedValue()
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("querying staked value: %w", err)
	}
	return e.instantPool.Add(deployed).Add(staked), nil
}

// position returns the caller's position, creating it on first use.
func (e *Engine) position(user string) *types.UserPosition {
	pos, ok := e.positions[user]
	if !ok {
		pos = &types.UserPosition{
			ShareBalance: sdkmath.ZeroInt(),
			Deposit: types.UserDeposit{
				CostBasis:      sdkmath.ZeroInt(),
				TotalDeposited: sdkmath.ZeroInt(),
			},
		}
		e.positions[user] = pos
	}
	return pos
}

// maybeReapPosition drops a position once the caller holds no shares and has
// no withdrawal request still pending.
func (e *Engine) maybeReapPosition(user string) {
	pos, ok := e.positions[user]
	if !ok || !pos.ShareBalance.IsZero() {
		return
	}
	for _, req := range e.requests {
		if req.User == user && !req.Completed {
			return
		}
	}
	delete(e.positions, user)
}

// emit persists an audit event. A recorder failure is logged but does not
// unwind the already committed operation.
func (e *Engine) emit(kind types.EventKind, user string, gross, fee, net, shares sdkmath.Int, requestID uint64, memo string) {
	event := types.VaultEvent{
		ID:        uuid.NewString(),
		Kind:      kind,
		User:      user,
		Gross:     gross,
		Fee:       fee,
		Net:       net,
		Shares:    shares,
		RequestID: requestID,
		Memo:      memo,
		Timestamp: e.now(),
	}
	if err := e.events.Record(event); err != nil {
		engineLogger.Error().Err(err).
			Str("kind", string(kind)).
			Str("user", user).
			Msg("Failed to record audit event")
	}
}

// persistRequest mirrors a request to the durable store. A store failure is
// logged but does not unwind the already committed operation.
func (e *Engine) persistRequest(req types.WithdrawalRequest) {
	if e.requestStore == nil {
		return
	}
	if err := e.requestStore.SaveRequest(req); err != nil {
		engineLogger.Error().Err(err).
			Uint64("request_id", req.ID).
			Msg("Failed to persist withdrawal request")
	}
}

// sweepManagementFee mints the accrued management fee to the treasury if at
// least the sweep interval has elapsed. Called with the lock held from
// inside deposits; silently skips when the interval has not passed.
func (e *Engine) sweepManagementFee(now time.Time) {
	elapsed := now.Sub(e.lastFeeSweep)
	if elapsed < feeSweepInterval {
		return
	}
	minted := managementFeeShares(e.totalShares, e.params.ManagementFeeBps, int64(elapsed.Seconds()))
	if minted.IsZero() {
		e.lastFeeSweep = now
		return
	}
	if err := e.shareToken.Mint(e.treasury, minted); err != nil {
		engineLogger.Error().Err(err).Msg("Failed to mint management fee shares, sweep skipped")
		return
	}
	e.lastFeeSweep = now

	treasuryPos := e.position(e.treasury)
	treasuryPos.ShareBalance = treasuryPos.ShareBalance.Add(minted)
	e.totalShares = e.totalShares.Add(minted)

	engineLogger.Info().
		Str("shares", minted.String()).
		Dur("elapsed", elapsed).
		Msg("Management fee swept")
	e.emit(types.EventManagementFee, e.treasury, sdkmath.ZeroInt(), sdkmath.ZeroInt(), sdkmath.ZeroInt(), minted, 0, "periodic sweep")
}

// Deposit converts amount of base assets into vault shares for user. The
// instant pool is topped up to its target before the remainder is deployed
// to strategies.
func (e *Engine) Deposit(user string, amount sdkmath.Int) (sdkmath.Int, error) {
	if err := e.latch.Enter(); err != nil {
		return sdkmath.Int{}, err
	}
	defer e.latch.Exit()
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.pause.WhenNotPaused(); err != nil {
		return sdkmath.Int{}, err
	}
	if user == "" {
		return sdkmath.Int{}, fmt.Errorf("%w: user account is required", ErrInvalidParameter)
	}
	if amount.IsNil() || !amount.IsPositive() {
		return sdkmath.Int{}, ErrZeroAmount
	}

	now := e.now()
	if err := e.limiter.checkDeposit(user, amount, e.params, now); err != nil {
		return sdkmath.Int{}, err
	}

	e.sweepManagementFee(now)

	ta, err := e.totalAssets()
	if err != nil {
		return sdkmath.Int{}, err
	}

	shares := convertToShares(amount, ta, e.totalShares)
	if shares.LT(e.params.MinShares) {
		return sdkmath.Int{}, fmt.Errorf("%w: %s < %s", ErrBelowMinimumShares, shares, e.params.MinShares)
	}

	if err := e.staking.Stake(user, amount); err != nil {
		return sdkmath.Int{}, fmt.Errorf("pulling deposit: %w", err)
	}

	toPool, toStrategies := splitDeposit(amount, e.instantPool, ta.Add(amount), e.params.InstantPoolTargetBps)
	if toStrategies.IsPositive() {
		if err := e.strategies.Allocate(toStrategies); err != nil {
			e.refundDeposit(user, amount)
			return sdkmath.Int{}, fmt.Errorf("deploying deposit: %w", err)
		}
	}
	if err := e.shareToken.Mint(user, shares); err != nil {
		e.recallDeployment(toStrategies)
		e.refundDeposit(user, amount)
		return sdkmath.Int{}, fmt.Errorf("minting shares: %w", err)
	}

	e.totalShares = e.totalShares.Add(shares)
	e.instantPool = e.instantPool.Add(toPool)

	pos := e.position(user)
	pos.ShareBalance = pos.ShareBalance.Add(shares)
	pos.Deposit.CostBasis = pos.Deposit.CostBasis.Add(amount)
	pos.Deposit.TotalDeposited = pos.Deposit.TotalDeposited.Add(amount)
	pos.Deposit.LastDepositTime = now

	e.limiter.recordDeposit(user, amount, now)

	engineLogger.Info().
		Str("user", user).
		Str("amount", amount.String()).
		Str("shares", shares.String()).
		Str("to_pool", toPool.String()).
		Str("to_strategies", toStrategies.String()).
		Msg("Deposit accepted")
	e.emit(types.EventDeposit, user, amount, sdkmath.ZeroInt(), amount, shares, 0, "")

	return shares, nil
}

// refundDeposit returns a pulled deposit after a later leg of the entry
// failed. A failed refund is logged for operator reconciliation.
func (e *Engine) refundDeposit(user string, amount sdkmath.Int) {
	if err := e.staking.Unstake(user, amount); err != nil {
		engineLogger.Error().Err(err).
			Str("user", user).
			Str("amount", amount.String()).
			Msg("Failed to refund deposit after aborted entry")
	}
}

// recallDeployment reverses a strategy allocation after a later leg of the
// entry failed.
func (e *Engine) recallDeployment(amount sdkmath.Int) {
	if !amount.IsPositive() {
		return
	}
	if err := e.strategies.Withdraw(amount); err != nil {
		engineLogger.Error().Err(err).
			Str("amount", amount.String()).
			Msg("Failed to recall deployed deposit after aborted entry")
	}
}

// drawLiquidity recalls shortfall from strategies when the instant pool
// cannot cover assetsValue on its own. Returns how much of the payout comes
// from the pool. Mutates only the strategy router; pool accounting is the
// caller's job.
func (e *Engine) drawLiquidity(assetsValue sdkmath.Int) (sdkmath.Int, error) {
	fromPool := assetsValue
	if fromPool.GT(e.instantPool) {
		fromPool = e.instantPool
	}
	shortfall := assetsValue.Sub(fromPool)
	if shortfall.IsPositive() {
		if err := e.strategies.Withdraw(shortfall); err != nil {
			return sdkmath.Int{}, fmt.Errorf("%w: recalling %s from strategies: %v", ErrInsufficientLiquidity, shortfall, err)
		}
	}
	return fromPool, nil
}

// redeployRecall returns a recalled strategy shortfall after a later leg of
// an exit failed. A failed redeploy is logged for operator reconciliation.
func (e *Engine) redeployRecall(shortfall sdkmath.Int) {
	if !shortfall.IsPositive() {
		return
	}
	if err := e.strategies.Allocate(shortfall); err != nil {
		engineLogger.Error().Err(err).
			Str("amount", shortfall.String()).
			Msg("Failed to redeploy recalled liquidity after aborted exit")
	}
}

// remintShares reverses a share-token burn after a later leg of an exit
// failed.
func (e *Engine) remintShares(user string, shares sdkmath.Int) {
	if err := e.shareToken.Mint(user, shares); err != nil {
		engineLogger.Error().Err(err).
			Str("user", user).
			Str("shares", shares.String()).
			Msg("Failed to remint shares after aborted exit")
	}
}

// settleExit applies the common bookkeeping of a paying exit: the payout,
// pool and fee accounting, the totalShares burn and rate recording.
func (e *Engine) settleExit(user string, shares, assetsValue, fee, fromPool sdkmath.Int, now time.Time) (sdkmath.Int, error) {
	net := assetsValue.Sub(fee)

	if err := e.staking.Unstake(user, net); err != nil {
		return sdkmath.Int{}, fmt.Errorf("paying out withdrawal: %w", err)
	}

	e.instantPool = e.instantPool.Sub(fromPool).Add(fee)
	e.feesCollected = e.feesCollected.Add(fee)
	e.totalShares = e.totalShares.Sub(shares)
	e.limiter.recordWithdrawal(assetsValue, now)

	return net, nil
}

// Withdraw burns shares for user and pays out their current value less the
// performance fee, drawing on the instant pool first and recalling the rest
// from strategies. Works while paused.
func (e *Engine) Withdraw(user string, shares sdkmath.Int) (sdkmath.Int, error) {
	if err := e.latch.Enter(); err != nil {
		return sdkmath.Int{}, err
	}
	defer e.latch.Exit()
	e.mu.Lock()
	defer e.mu.Unlock()

	if shares.IsNil() || !shares.IsPositive() {
		return sdkmath.Int{}, ErrZeroAmount
	}
	pos, ok := e.positions[user]
	if !ok || pos.ShareBalance.LT(shares) {
		return sdkmath.Int{}, ErrInsufficientBalance
	}

	now := e.now()
	ta, err := e.totalAssets()
	if err != nil {
		return sdkmath.Int{}, err
	}
	assetsValue := convertToAssets(shares, ta, e.totalShares)
	if err := e.limiter.checkWithdrawal(assetsValue, e.params, now); err != nil {
		return sdkmath.Int{}, err
	}

	fee := performanceFee(assetsValue, pos.Deposit.CostBasis, e.params.PerformanceFeeBps)

	fromPool, err := e.drawLiquidity(assetsValue)
	if err != nil {
		return sdkmath.Int{}, err
	}
	shortfall := assetsValue.Sub(fromPool)
	if err := e.shareToken.Burn(user, shares); err != nil {
		e.redeployRecall(shortfall)
		return sdkmath.Int{}, fmt.Errorf("burning shares: %w", err)
	}

	net, err := e.settleExit(user, shares, assetsValue, fee, fromPool, now)
	if err != nil {
		e.remintShares(user, shares)
		e.redeployRecall(shortfall)
		return sdkmath.Int{}, err
	}

	pos.ShareBalance = pos.ShareBalance.Sub(shares)
	e.maybeReapPosition(user)

	engineLogger.Info().
		Str("user", user).
		Str("shares", shares.String()).
		Str("gross", assetsValue.String()).
		Str("fee", fee.String()).
		Str("net", net.String()).
		Msg("Withdrawal paid")
	e.emit(types.EventWithdraw, user, assetsValue, fee, net, shares, 0, "")

	return net, nil
}

// RequestWithdrawal opens a time-locked exit for shares at today's price.
// The shares leave the caller's spendable balance immediately but remain in
// totalShares until completion, so the snapshot value cannot drift. Works
// while paused.
func (e *Engine) RequestWithdrawal(user string, shares sdkmath.Int) (uint64, error) {
	if err := e.latch.Enter(); err != nil {
		return 0, err
	}
	defer e.latch.Exit()
	e.mu.Lock()
	defer e.mu.Unlock()

	if shares.IsNil() || !shares.IsPositive() {
		return 0, ErrZeroAmount
	}
	pos, ok := e.positions[user]
	if !ok || pos.ShareBalance.LT(shares) {
		return 0, ErrInsufficientBalance
	}

	now := e.now()
	ta, err := e.totalAssets()
	if err != nil {
		return 0, err
	}
	assetsValue := convertToAssets(shares, ta, e.totalShares)

	if err := e.shareToken.Burn(user, shares); err != nil {
		return 0, fmt.Errorf("burning shares: %w", err)
	}

	id := e.nextID
	e.nextID++
	e.requests[id] = &types.WithdrawalRequest{
		ID:          id,
		User:        user,
		Shares:      shares,
		AssetsValue: assetsValue,
		RequestTime: now,
		UnlockTime:  now.Add(time.Duration(e.params.WithdrawalTimelock) * time.Second),
	}
	pos.ShareBalance = pos.ShareBalance.Sub(shares)
	e.persistRequest(*e.requests[id])

	engineLogger.Info().
		Uint64("request_id", id).
		Str("user", user).
		Str("shares", shares.String()).
		Str("snapshot_value", assetsValue.String()).
		Msg("Withdrawal requested")
	e.emit(types.EventWithdrawalRequested, user, assetsValue, sdkmath.ZeroInt(), sdkmath.ZeroInt(), shares, id, "")

	return id, nil
}

// CompleteWithdrawal pays out a matured request at its snapshot value less
// the performance fee. Only the request owner may complete it. Works while
// paused.
func (e *Engine) CompleteWithdrawal(user string, requestID uint64) (sdkmath.Int, error) {
	if err := e.latch.Enter(); err != nil {
		return sdkmath.Int{}, err
	}
	defer e.latch.Exit()
	e.mu.Lock()
	defer e.mu.Unlock()

	req, ok := e.requests[requestID]
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("%w: id %d", ErrRequestNotFound, requestID)
	}
	if req.User != user {
		return sdkmath.Int{}, fmt.Errorf("%w: request %d belongs to another account", ErrUnauthorized, requestID)
	}
	if req.Completed {
		return sdkmath.Int{}, fmt.Errorf("%w: id %d", ErrRequestCompleted, requestID)
	}

	now := e.now()
	if now.Before(req.UnlockTime) {
		return sdkmath.Int{}, fmt.Errorf("%w: unlocks at %s", ErrTimelockNotExpired, req.UnlockTime.UTC().Format(time.RFC3339))
	}
	if err := e.limiter.checkWithdrawal(req.AssetsValue, e.params, now); err != nil {
		return sdkmath.Int{}, err
	}

	pos := e.position(user)
	fee := performanceFee(req.AssetsValue, pos.Deposit.CostBasis, e.params.PerformanceFeeBps)

	fromPool, err := e.drawLiquidity(req.AssetsValue)
	if err != nil {
		return sdkmath.Int{}, err
	}

	net, err := e.settleExit(user, req.Shares, req.AssetsValue, fee, fromPool, now)
	if err != nil {
		e.redeployRecall(req.AssetsValue.Sub(fromPool))
		return sdkmath.Int{}, err
	}

	req.Completed = true
	e.persistRequest(*req)
	e.maybeReapPosition(user)

	engineLogger.Info().
		Uint64("request_id", requestID).
		Str("user", user).
		Str("gross", req.AssetsValue.String()).
		Str("fee", fee.String()).
		Str("net", net.String()).
		Msg("Withdrawal completed")
	e.emit(types.EventWithdrawalCompleted, user, req.AssetsValue, fee, net, req.Shares, requestID, "")

	return net, nil
}

// InstantWithdraw burns shares immediately against the instant pool for a
// flat surcharge on top of the performance fee. Fails rather than touching
// strategies when the pool cannot cover the exit. Blocked while paused.
func (e *Engine) InstantWithdraw(user string, shares sdkmath.Int) (sdkmath.Int, error) {
	if err := e.latch.Enter(); err != nil {
		return sdkmath.Int{}, err
	}
	defer e.latch.Exit()
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.pause.WhenNotPaused(); err != nil {
		return sdkmath.Int{}, err
	}
	if shares.IsNil() || !shares.IsPositive() {
		return sdkmath.Int{}, ErrZeroAmount
	}
	pos, ok := e.positions[user]
	if !ok || pos.ShareBalance.LT(shares) {
		return sdkmath.Int{}, ErrInsufficientBalance
	}

	now := e.now()
	ta, err := e.totalAssets()
	if err != nil {
		return sdkmath.Int{}, err
	}
	assetsValue := convertToAssets(shares, ta, e.totalShares)
	if assetsValue.GT(e.instantPool) {
		return sdkmath.Int{}, fmt.Errorf("%w: need %s, pool holds %s", ErrInsufficientLiquidity, assetsValue, e.instantPool)
	}
	if err := e.limiter.checkWithdrawal(assetsValue, e.params, now); err != nil {
		return sdkmath.Int{}, err
	}

	fee := instantWithdrawalFee(assetsValue, e.params.InstantWithdrawalFeeBps).
		Add(performanceFee(assetsValue, pos.Deposit.CostBasis, e.params.PerformanceFeeBps))

	if err := e.shareToken.Burn(user, shares); err != nil {
		return sdkmath.Int{}, fmt.Errorf("burning shares: %w", err)
	}

	net, err := e.settleExit(user, shares, assetsValue, fee, assetsValue, now)
	if err != nil {
		e.remintShares(user, shares)
		return sdkmath.Int{}, err
	}

	pos.ShareBalance = pos.ShareBalance.Sub(shares)
	e.maybeReapPosition(user)

	engineLogger.Info().
		Str("user", user).
		Str("shares", shares.String()).
		Str("gross", assetsValue.String()).
		Str("fee", fee.String()).
		Str("net", net.String()).
		Msg("Instant withdrawal paid")
	e.emit(types.EventInstantWithdrawal, user, assetsValue, fee, net, shares, 0, "")

	return net, nil
}

// CollectManagementFees runs the periodic dilutive fee mint. Keeper role.
// Calling again inside the sweep interval is a rate-limit error so the
// keeper loop backs off instead of double charging.
func (e *Engine) CollectManagementFees(caller string) (sdkmath.Int, error) {
	if err := e.latch.Enter(); err != nil {
		return sdkmath.Int{}, err
	}
	defer e.latch.Exit()
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.roles.RequireKeeper(caller); err != nil {
		return sdkmath.Int{}, err
	}

	now := e.now()
	elapsed := now.Sub(e.lastFeeSweep)
	if elapsed < feeSweepInterval {
		return sdkmath.Int{}, fmt.Errorf("%w: next sweep at %s",
			ErrRateLimitExceeded, e.lastFeeSweep.Add(feeSweepInterval).UTC().Format(time.RFC3339))
	}

	minted := managementFeeShares(e.totalShares, e.params.ManagementFeeBps, int64(elapsed.Seconds()))
	if minted.IsZero() {
		e.lastFeeSweep = now
		return sdkmath.ZeroInt(), nil
	}
	if err := e.shareToken.Mint(e.treasury, minted); err != nil {
		return sdkmath.Int{}, fmt.Errorf("minting management fee shares: %w", err)
	}
	e.lastFeeSweep = now

	treasuryPos := e.position(e.treasury)
	treasuryPos.ShareBalance = treasuryPos.ShareBalance.Add(minted)
	e.totalShares = e.totalShares.Add(minted)

	engineLogger.Info().
		Str("caller", caller).
		Str("shares", minted.String()).
		Msg("Management fee collected")
	e.emit(types.EventManagementFee, e.treasury, sdkmath.ZeroInt(), sdkmath.ZeroInt(), sdkmath.ZeroInt(), minted, 0, "keeper sweep")

	return minted, nil
}

// Compound harvests strategy yield and tops the instant pool back up to its
// target from the proceeds. Keeper role. Blocked while paused and gated by
// the minimum interval and minimum yield.
func (e *Engine) Compound(caller string) (sdkmath.Int, error) {
	if err := e.latch.Enter(); err != nil {
		return sdkmath.Int{}, err
	}
	defer e.latch.Exit()
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.roles.RequireKeeper(caller); err != nil {
		return sdkmath.Int{}, err
	}
	if err := e.pause.WhenNotPaused(); err != nil {
		return sdkmath.Int{}, err
	}

	now := e.now()
	if !e.lastCompoundAt.IsZero() {
		minGap := time.Duration(e.params.MinCompoundInterval) * time.Second
		if now.Sub(e.lastCompoundAt) < minGap {
			return sdkmath.Int{}, fmt.Errorf("%w: next compound at %s",
				ErrRateLimitExceeded, e.lastCompoundAt.Add(minGap).UTC().Format(time.RFC3339))
		}
	}

	yield, err := e.strategies.HarvestAll()
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("harvesting strategies: %w", err)
	}
	if yield.LT(e.params.MinCompoundYield) {
		return sdkmath.Int{}, fmt.Errorf("%w: harvested %s, minimum %s", ErrNothingToCompound, yield, e.params.MinCompoundYield)
	}

	ta, err := e.totalAssets()
	if err != nil {
		return sdkmath.Int{}, err
	}
	target := targetInstantPool(ta, e.params.InstantPoolTargetBps)
	deficit := target.Sub(e.instantPool)
	if deficit.GT(yield) {
		deficit = yield
	}
	if deficit.IsPositive() {
		if err := e.strategies.Withdraw(deficit); err != nil {
			return sdkmath.Int{}, fmt.Errorf("replenishing instant pool: %w", err)
		}
		e.instantPool = e.instantPool.Add(deficit)
	}

	e.lastCompoundAt = now

	engineLogger.Info().
		Str("caller", caller).
		Str("yield", yield.String()).
		Str("to_pool", deficit.String()).
		Msg("Yield compounded")
	e.emit(types.EventCompound, caller, yield, sdkmath.ZeroInt(), yield, sdkmath.ZeroInt(), 0, "")

	return yield, nil
}

// WithdrawFees pays the accrued performance and instant-exit fees out of the
// instant pool to the treasury. Admin or treasury only.
func (e *Engine) WithdrawFees(caller string) (sdkmath.Int, error) {
	if err := e.latch.Enter(); err != nil {
		return sdkmath.Int{}, err
	}
	defer e.latch.Exit()
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.treasury {
		if err := e.roles.RequireAdmin(caller); err != nil {
			return sdkmath.Int{}, err
		}
	}
	if e.feesCollected.IsZero() {
		return sdkmath.Int{}, ErrNothingToCollect
	}
	amount := e.feesCollected
	if amount.GT(e.instantPool) {
		return sdkmath.Int{}, fmt.Errorf("%w: fees %s exceed pool %s", ErrInsufficientLiquidity, amount, e.instantPool)
	}

	if err := e.staking.Unstake(e.treasury, amount); err != nil {
		return sdkmath.Int{}, fmt.Errorf("paying out fees: %w", err)
	}

	e.instantPool = e.instantPool.Sub(amount)
	e.feesCollected = sdkmath.ZeroInt()

	engineLogger.Info().
		Str("caller", caller).
		Str("amount", amount.String()).
		Msg("Fees withdrawn to treasury")
	e.emit(types.EventFeesCollected, e.treasury, amount, sdkmath.ZeroInt(), amount, sdkmath.ZeroInt(), 0, "")

	return amount, nil
}

// Pause blocks deposits, instant withdrawals and compounding. Guardian role.
func (e *Engine) Pause(caller string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.roles.RequireGuardian(caller); err != nil {
		return err
	}
	if err := e.pause.Pause(); err != nil {
		return err
	}
	engineLogger.Warn().Str("caller", caller).Msg("Vault paused")
	e.emit(types.EventPaused, caller, sdkmath.ZeroInt(), sdkmath.ZeroInt(), sdkmath.ZeroInt(), sdkmath.ZeroInt(), 0, "")
	return nil
}

// Unpause lifts the pause. Guardian role.
func (e *Engine) Unpause(caller string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.roles.RequireGuardian(caller); err != nil {
		return err
	}
	if err := e.pause.Unpause(); err != nil {
		return err
	}
	engineLogger.Info().Str("caller", caller).Msg("Vault unpaused")
	e.emit(types.EventUnpaused, caller, sdkmath.ZeroInt(), sdkmath.ZeroInt(), sdkmath.ZeroInt(), sdkmath.ZeroInt(), 0, "")
	return nil
}

// UpdateParameters replaces the full parameter set after validation. Admin
// role.
func (e *Engine) UpdateParameters(caller string, params types.VaultParameters) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.roles.RequireAdmin(caller); err != nil {
		return err
	}
	if err := validateParameters(params); err != nil {
		return err
	}
	e.params = params

	engineLogger.Info().Str("caller", caller).Msg("Parameters updated")
	e.emit(types.EventParametersUpdated, caller, sdkmath.ZeroInt(), sdkmath.ZeroInt(), sdkmath.ZeroInt(), sdkmath.ZeroInt(), 0, "full update")
	return nil
}

// SetPerformanceFee updates the performance fee rate. Admin role.
func (e *Engine) SetPerformanceFee(caller string, bps uint16) error {
	return e.updateParam(caller, "performance_fee_bps", func(p *types.VaultParameters) error {
		if err := validateFeeBps("performance fee", bps); err != nil {
			return err
		}
		p.PerformanceFeeBps = bps
		return nil
	})
}

// SetManagementFee updates the annual management fee rate. Admin role.
func (e *Engine) SetManagementFee(caller string, bps uint16) error {
	return e.updateParam(caller, "management_fee_bps", func(p *types.VaultParameters) error {
		if err := validateFeeBps("management fee", bps); err != nil {
			return err
		}
		p.ManagementFeeBps = bps
		return nil
	})
}

// SetInstantWithdrawalFee updates the instant-exit surcharge. Admin role.
func (e *Engine) SetInstantWithdrawalFee(caller string, bps uint16) error {
	return e.updateParam(caller, "instant_withdrawal_fee_bps", func(p *types.VaultParameters) error {
		if err := validateInstantFeeBps(bps); err != nil {
			return err
		}
		p.InstantWithdrawalFeeBps = bps
		return nil
	})
}

// SetInstantPoolTarget updates the liquid pool target ratio. Admin role.
func (e *Engine) SetInstantPoolTarget(caller string, bps uint16) error {
	return e.updateParam(caller, "instant_pool_target_bps", func(p *types.VaultParameters) error {
		if err := validatePoolTargetBps(bps); err != nil {
			return err
		}
		p.InstantPoolTargetBps = bps
		return nil
	})
}

// SetWithdrawalTimelock updates the time-locked exit delay. Admin role.
func (e *Engine) SetWithdrawalTimelock(caller string, seconds uint64) error {
	return e.updateParam(caller, "withdrawal_timelock_seconds", func(p *types.VaultParameters) error {
		if err := validateTimelock(seconds); err != nil {
			return err
		}
		p.WithdrawalTimelock = seconds
		return nil
	})
}

func (e *Engine) updateParam(caller, name string, apply func(*types.VaultParameters) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.roles.RequireAdmin(caller); err != nil {
		return err
	}
	next := e.params
	if err := apply(&next); err != nil {
		return err
	}
	e.params = next

	engineLogger.Info().Str("caller", caller).Str("parameter", name).Msg("Parameter updated")
	e.emit(types.EventParametersUpdated, caller, sdkmath.ZeroInt(), sdkmath.ZeroInt(), sdkmath.ZeroInt(), sdkmath.ZeroInt(), 0, name)
	return nil
}

// Parameters returns a copy of the live parameter set.
func (e *Engine) Parameters() types.VaultParameters {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.params
}

// Position returns a copy of user's position and whether it exists.
func (e *Engine) Position(user string) (types.UserPosition, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, ok := e.positions[user]
	if !ok {
		return types.UserPosition{}, false
	}
	return *pos, true
}

// Request returns a copy of the withdrawal request and whether it exists.
func (e *Engine) Request(id uint64) (types.WithdrawalRequest, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	req, ok := e.requests[id]
	if !ok {
		return types.WithdrawalRequest{}, false
	}
	return *req, true
}

// RequestsFor returns copies of all requests owned by user, completed ones
// included.
func (e *Engine) RequestsFor(user string) []types.WithdrawalRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := []types.WithdrawalRequest{}
	for _, req := range e.requests {
		if req.User == user {
			out = append(out, *req)
		}
	}
	return out
}

// RemainingDailyAllowance reports how much user may still deposit today.
func (e *Engine) RemainingDailyAllowance(user string) sdkmath.Int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.limiter.remainingDailyAllowance(user, e.params, e.now())
}

// IsPaused reports the pause flag.
func (e *Engine) IsPaused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pause.IsPaused()
}

// Summary builds the point-in-time view served over the web API.
func (e *Engine) Summary() (types.VaultSummary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ta, err := e.totalAssets()
	if err != nil {
		return types.VaultSummary{}, err
	}

	open := 0
	for _, req := range e.requests {
		if !req.Completed {
			open++
		}
	}

	lastCompound := int64(0)
	if !e.lastCompoundAt.IsZero() {
		lastCompound = e.lastCompoundAt.Unix()
	}

	return types.VaultSummary{
		TotalAssets:    ta,
		TotalShares:    e.totalShares,
		InstantPool:    e.instantPool,
		FeesCollected:  e.feesCollected,
		SharePrice:     sharePrice(ta, e.totalShares),
		OpenRequests:   open,
		Paused:         e.pause.IsPaused(),
		NextRequestID:  e.nextID,
		HolderCount:    len(e.positions),
		LastFeeSweep:   e.lastFeeSweep.Unix(),
		LastCompoundAt: lastCompound,
	}, nil
}
