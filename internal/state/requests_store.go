// ./internal/state/requests_store.go
package state

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/caspervault/cvm/internal/types"
)

// SaveWithdrawalRequest upserts a withdrawal request. Completion flips the
// completed flag on the existing row.
func SaveWithdrawalRequest(req types.WithdrawalRequest) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	stmt := `
        INSERT INTO withdrawal_requests (
            request_id, account, shares, assets_value, request_time, unlock_time, completed
        ) VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (request_id) DO UPDATE SET completed = EXCLUDED.completed;`

	_, err := DB.Exec(stmt,
		int64(req.ID), req.User, req.Shares.String(), req.AssetsValue.String(),
		req.RequestTime, req.UnlockTime, req.Completed,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert withdrawal request %d: %w", req.ID, err)
	}
	return nil
}

// LoadOpenWithdrawalRequests returns all requests not yet completed.
func LoadOpenWithdrawalRequests() ([]types.WithdrawalRequest, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	stmt := `
        SELECT request_id, account, shares, assets_value, request_time, unlock_time, completed
        FROM withdrawal_requests
        WHERE completed = FALSE
        ORDER BY request_id;`

	rows, err := DB.Query(stmt)
	if err != nil {
		return nil, fmt.Errorf("failed to query withdrawal requests: %w", err)
	}
	defer rows.Close()

	requests := []types.WithdrawalRequest{}
	for rows.Next() {
		var (
			req          types.WithdrawalRequest
			id           int64
			shares, val  string
			reqAt, unlAt time.Time
		)
		if err := rows.Scan(&id, &req.User, &shares, &val, &reqAt, &unlAt, &req.Completed); err != nil {
			return nil, fmt.Errorf("failed to scan withdrawal request: %w", err)
		}
		req.ID = uint64(id)
		req.Shares = mustIntFromString(shares)
		req.AssetsValue = mustIntFromString(val)
		req.RequestTime = reqAt
		req.UnlockTime = unlAt
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate withdrawal requests: %w", err)
	}
	return requests, nil
}

// DBRequestRecorder adapts the requests table to the engine's recorder
// interface.
type DBRequestRecorder struct{}

// SaveRequest upserts the request, logging a warning on failure so one bad
// write does not hide later ones.
func (DBRequestRecorder) SaveRequest(req types.WithdrawalRequest) error {
	if err := SaveWithdrawalRequest(req); err != nil {
		log.Warn().Err(err).Uint64("request_id", req.ID).Msg("Failed to persist withdrawal request")
		return err
	}
	return nil
}
