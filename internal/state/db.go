// ./internal/state/db.go
package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// DB is a global database connection pool.
var DB *sql.DB

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// InitDB initializes the database connection pool.
func InitDB(cfg DBConfig) error {
	psqlInfo := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	var err error
	DB, err = sql.Open("postgres", psqlInfo)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(25)
	DB.SetConnMaxLifetime(5 * time.Minute)

	err = DB.Ping()
	if err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Successfully connected to the PostgreSQL database!")
	return nil
}

// CloseDB closes the database connection pool.
func CloseDB() {
	if DB != nil {
		log.Info().Msg("Closing database connection...")
		if err := DB.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database connection")
		}
	}
}

// EnsureSchema applies the necessary DDL to create tables if they don't exist.
func EnsureSchema() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	schemaSQL := `
		CREATE TABLE IF NOT EXISTS vault_parameters (
			params_id SERIAL PRIMARY KEY,
			version INTEGER NOT NULL DEFAULT 1,
			config_name VARCHAR(255) NOT NULL DEFAULT 'default',
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			activated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			performance_fee_bps INTEGER NOT NULL,
			management_fee_bps INTEGER NOT NULL,
			instant_withdrawal_fee_bps INTEGER NOT NULL,
			instant_pool_target_bps INTEGER NOT NULL,
			withdrawal_timelock_seconds BIGINT NOT NULL,
			max_deposit_per_tx NUMERIC(40, 0) NOT NULL,
			max_deposit_per_day NUMERIC(40, 0) NOT NULL,
			max_global_deposits_per_hour NUMERIC(40, 0) NOT NULL,
			max_global_withdrawals_per_hour NUMERIC(40, 0) NOT NULL,
			min_shares NUMERIC(40, 0) NOT NULL,
			min_compound_interval_seconds BIGINT NOT NULL,
			min_compound_yield NUMERIC(40, 0) NOT NULL,
			CONSTRAINT uq_vault_parameters_config_version UNIQUE (config_name, version)
		);
		CREATE INDEX IF NOT EXISTS idx_vault_parameters_config_active ON vault_parameters(config_name, is_active, activated_at DESC);

		CREATE TABLE IF NOT EXISTS vault_events (
			event_id UUID PRIMARY KEY,
			kind VARCHAR(50) NOT NULL,
			account VARCHAR(255),
			gross NUMERIC(40, 0) NOT NULL,
			fee NUMERIC(40, 0) NOT NULL,
			net NUMERIC(40, 0) NOT NULL,
			shares NUMERIC(40, 0) NOT NULL,
			request_id BIGINT,
			memo TEXT,
			event_timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_vault_events_timestamp ON vault_events(event_timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_vault_events_account ON vault_events(account);
		CREATE INDEX IF NOT EXISTS idx_vault_events_kind ON vault_events(kind);

		CREATE TABLE IF NOT EXISTS withdrawal_requests (
			request_id BIGINT PRIMARY KEY,
			account VARCHAR(255) NOT NULL,
			shares NUMERIC(40, 0) NOT NULL,
			assets_value NUMERIC(40, 0) NOT NULL,
			request_time TIMESTAMPTZ NOT NULL,
			unlock_time TIMESTAMPTZ NOT NULL,
			completed BOOLEAN NOT NULL DEFAULT FALSE
		);
		CREATE INDEX IF NOT EXISTS idx_withdrawal_requests_account ON withdrawal_requests(account);
		CREATE INDEX IF NOT EXISTS idx_withdrawal_requests_open ON withdrawal_requests(completed, unlock_time);
	`
	_, err := DB.Exec(schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema DDL: %w", err)
	}
	log.Info().Msg("Database schema ensured.")
	return nil
}

// TestDBConnection tests if the database connection is healthy
func TestDBConnection() error {
	if DB == nil {
		return fmt.Errorf("database connection is nil")
	}

	// Use a short timeout context for health checks
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := DB.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	return nil
}
