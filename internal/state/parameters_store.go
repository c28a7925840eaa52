// ./internal/state/parameters_store.go
package state

import (
	"database/sql"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog/log"

	"github.com/caspervault/cvm/internal/types"
)

// SaveVaultParameters saves a new version of vault parameters.
func SaveVaultParameters(params types.VaultParameters, configName string, version int, makeActive bool) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	tx, err := DB.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p) // Re-panic after rollback
		} else if err != nil {
			tx.Rollback() // Rollback if error occurred
		}
	}()

	if makeActive {
		stmtDeactivate := `UPDATE vault_parameters SET is_active = FALSE WHERE config_name = $1 AND is_active = TRUE;`
		_, err = tx.Exec(stmtDeactivate, configName)
		if err != nil {
			return 0, fmt.Errorf("failed to deactivate existing active parameters for %s: %w", configName, err)
		}
	}

	stmt := `
        INSERT INTO vault_parameters (
            version, config_name, is_active, activated_at, created_at,
            performance_fee_bps, management_fee_bps, instant_withdrawal_fee_bps,
            instant_pool_target_bps, withdrawal_timelock_seconds,
            max_deposit_per_tx, max_deposit_per_day,
            max_global_deposits_per_hour, max_global_withdrawals_per_hour,
            min_shares, min_compound_interval_seconds, min_compound_yield
        ) VALUES (
            $1, $2, $3, $4, $5,
            $6, $7, $8,
            $9, $10,
            $11, $12,
            $13, $14,
            $15, $16, $17
        ) RETURNING params_id;`

	var paramsID int64
	currentTime := time.Now()
	err = tx.QueryRow(
		stmt,
		version, configName, makeActive, currentTime, currentTime,
		int(params.PerformanceFeeBps), int(params.ManagementFeeBps), int(params.InstantWithdrawalFeeBps),
		int(params.InstantPoolTargetBps), int64(params.WithdrawalTimelock),
		params.MaxDepositPerTx.String(), params.MaxDepositPerDay.String(),
		params.MaxGlobalDepositsPerHour.String(), params.MaxGlobalWithdrawalsPerHour.String(),
		params.MinShares.String(), int64(params.MinCompoundInterval), params.MinCompoundYield.String(),
	).Scan(&paramsID)

	if err != nil {
		return 0, fmt.Errorf("failed to insert vault parameters: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Info().
		Int("version", version).
		Str("config", configName).
		Int64("params_id", paramsID).
		Bool("active", makeActive).
		Msg("Saved vault parameters")
	return paramsID, nil
}

// LoadActiveVaultParameters loads the currently active vault parameters.
// Returns sql.ErrNoRows when no active set exists for the config.
func LoadActiveVaultParameters(configName string) (*types.VaultParameters, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	stmt := `
        SELECT performance_fee_bps, management_fee_bps, instant_withdrawal_fee_bps,
               instant_pool_target_bps, withdrawal_timelock_seconds,
               max_deposit_per_tx, max_deposit_per_day,
               max_global_deposits_per_hour, max_global_withdrawals_per_hour,
               min_shares, min_compound_interval_seconds, min_compound_yield
        FROM vault_parameters
        WHERE config_name = $1 AND is_active = TRUE
        ORDER BY activated_at DESC
        LIMIT 1;`

	var (
		perfBps, mgmtBps, instantBps, poolBps int
		timelock, compoundInterval            int64
		perTx, perDay, globalDep, globalWdr   string
		minShares, minYield                   string
	)
	err := DB.QueryRow(stmt, configName).Scan(
		&perfBps, &mgmtBps, &instantBps,
		&poolBps, &timelock,
		&perTx, &perDay,
		&globalDep, &globalWdr,
		&minShares, &compoundInterval, &minYield,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load active vault parameters for %s: %w", configName, err)
	}

	params := types.VaultParameters{
		PerformanceFeeBps:           uint16(perfBps),
		ManagementFeeBps:            uint16(mgmtBps),
		InstantWithdrawalFeeBps:     uint16(instantBps),
		InstantPoolTargetBps:        uint16(poolBps),
		WithdrawalTimelock:          uint64(timelock),
		MinCompoundInterval:         uint64(compoundInterval),
		MaxDepositPerTx:             mustIntFromString(perTx),
		MaxDepositPerDay:            mustIntFromString(perDay),
		MaxGlobalDepositsPerHour:    mustIntFromString(globalDep),
		MaxGlobalWithdrawalsPerHour: mustIntFromString(globalWdr),
		MinShares:                   mustIntFromString(minShares),
		MinCompoundYield:            mustIntFromString(minYield),
	}
	return &params, nil
}

// mustIntFromString parses a NUMERIC column back into an Int. Stored values
// are produced by Int.String, so a parse failure means corrupted data.
func mustIntFromString(s string) sdkmath.Int {
	v, ok := sdkmath.NewIntFromString(s)
	if !ok {
		log.Error().Str("value", s).Msg("Corrupted numeric column, substituting zero")
		return sdkmath.ZeroInt()
	}
	return v
}
