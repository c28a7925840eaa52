// ./internal/state/events_store.go
package state

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/caspervault/cvm/internal/types"
)

// SaveVaultEvent persists a single audit event.
func SaveVaultEvent(event types.VaultEvent) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	stmt := `
        INSERT INTO vault_events (
            event_id, kind, account, gross, fee, net, shares, request_id, memo, event_timestamp
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);`

	_, err := DB.Exec(stmt,
		event.ID, string(event.Kind), event.User,
		event.Gross.String(), event.Fee.String(), event.Net.String(), event.Shares.String(),
		int64(event.RequestID), event.Memo, event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert vault event: %w", err)
	}
	return nil
}

// LoadRecentEvents returns up to limit events, newest first, optionally
// filtered by account.
func LoadRecentEvents(account string, limit int) ([]types.VaultEvent, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 100
	}

	stmt := `
        SELECT event_id, kind, account, gross, fee, net, shares, request_id, memo, event_timestamp
        FROM vault_events
        WHERE ($1 = '' OR account = $1)
        ORDER BY event_timestamp DESC
        LIMIT $2;`

	rows, err := DB.Query(stmt, account, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query vault events: %w", err)
	}
	defer rows.Close()

	events := []types.VaultEvent{}
	for rows.Next() {
		var (
			event                 types.VaultEvent
			kind                  string
			gross, fee, net, shrs string
			requestID             int64
			ts                    time.Time
		)
		if err := rows.Scan(&event.ID, &kind, &event.User, &gross, &fee, &net, &shrs, &requestID, &event.Memo, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan vault event: %w", err)
		}
		event.Kind = types.EventKind(kind)
		event.Gross = mustIntFromString(gross)
		event.Fee = mustIntFromString(fee)
		event.Net = mustIntFromString(net)
		event.Shares = mustIntFromString(shrs)
		event.RequestID = uint64(requestID)
		event.Timestamp = ts
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate vault events: %w", err)
	}
	return events, nil
}

// DBEventRecorder adapts the events table to the engine's recorder
// interface.
type DBEventRecorder struct{}

// Record persists the event, logging a warning on failure so one bad insert
// does not silence the rest of the trail.
func (DBEventRecorder) Record(event types.VaultEvent) error {
	if err := SaveVaultEvent(event); err != nil {
		log.Warn().Err(err).Str("kind", string(event.Kind)).Msg("Failed to persist vault event")
		return err
	}
	return nil
}
