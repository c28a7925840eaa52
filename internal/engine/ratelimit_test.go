package engine

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caspervault/cvm/internal/types"
)

func limiterParams() types.VaultParameters {
	params := types.DefaultVaultParameters()
	params.MaxDepositPerTx = sdkmath.NewInt(1_000)
	params.MaxDepositPerDay = sdkmath.NewInt(2_500)
	params.MaxGlobalDepositsPerHour = sdkmath.NewInt(5_000)
	params.MaxGlobalWithdrawalsPerHour = sdkmath.NewInt(3_000)
	return params
}

func TestLimiterPerTransactionCap(t *testing.T) {
	limiter := newRateLimiter()
	params := limiterParams()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	assert.ErrorIs(t, limiter.checkDeposit("bob", sdkmath.NewInt(1_001), params, now), ErrRateLimitExceeded)
	assert.NoError(t, limiter.checkDeposit("bob", sdkmath.NewInt(1_000), params, now))
}

func TestLimiterDailyWindow(t *testing.T) {
	limiter := newRateLimiter()
	params := limiterParams()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		require.NoError(t, limiter.checkDeposit("bob", sdkmath.NewInt(1_000), params, now))
		limiter.recordDeposit("bob", sdkmath.NewInt(1_000), now)
	}
	assert.Equal(t, sdkmath.NewInt(500), limiter.remainingDailyAllowance("bob", params, now))

	// 2,000 used, 600 breaches the 2,500 window
	assert.ErrorIs(t, limiter.checkDeposit("bob", sdkmath.NewInt(600), params, now), ErrRateLimitExceeded)
	assert.NoError(t, limiter.checkDeposit("bob", sdkmath.NewInt(500), params, now))

	// Other callers have their own windows
	assert.NoError(t, limiter.checkDeposit("alice", sdkmath.NewInt(1_000), params, now))

	// The window resets a day later
	later := now.Add(24 * time.Hour)
	assert.NoError(t, limiter.checkDeposit("bob", sdkmath.NewInt(1_000), params, later))
	assert.Equal(t, params.MaxDepositPerDay, limiter.remainingDailyAllowance("bob", params, later))
}

func TestLimiterGlobalHourlyCaps(t *testing.T) {
	limiter := newRateLimiter()
	params := limiterParams()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	// Deposits by different callers share the global hourly window
	for _, user := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, limiter.checkDeposit(user, sdkmath.NewInt(1_000), params, now))
		limiter.recordDeposit(user, sdkmath.NewInt(1_000), now)
	}
	assert.ErrorIs(t, limiter.checkDeposit("f", sdkmath.NewInt(1), params, now), ErrRateLimitExceeded)

	// Withdrawals use their own cap
	require.NoError(t, limiter.checkWithdrawal(sdkmath.NewInt(3_000), params, now))
	limiter.recordWithdrawal(sdkmath.NewInt(3_000), now)
	assert.ErrorIs(t, limiter.checkWithdrawal(sdkmath.NewInt(1), params, now), ErrRateLimitExceeded)

	// Both roll over after an hour
	later := now.Add(time.Hour)
	assert.NoError(t, limiter.checkDeposit("f", sdkmath.NewInt(1), params, later))
	assert.NoError(t, limiter.checkWithdrawal(sdkmath.NewInt(1), params, later))
}
