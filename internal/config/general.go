package config

import (
	"errors"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
)

// Application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// Mode selects the collaborator wiring: "simulation" or "live".
	Mode string

	// TreasuryAccount receives management fee shares and collected fees.
	TreasuryAccount string
	// AdminAccount is the initial holder of the admin role.
	AdminAccount string

	// WebPort is the listen port for the HTTP API.
	WebPort int

	// LogLevel controls zerolog verbosity.
	LogLevel string

	// KeeperInterval is the seconds between keeper loop iterations.
	KeeperInterval uint64

	// ParamsConfigName selects which named parameter set to load from the
	// database.
	ParamsConfigName string
)

// LoadConfig loads configuration from environment variables and sets the global config vars.
// All environment variables are required and must be set.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	Mode, err = getEnv("CVM_MODE")
	if err != nil {
		return err
	}
	if Mode != "simulation" && Mode != "live" {
		return errors.New("CVM_MODE must be either \"simulation\" or \"live\", got: " + Mode)
	}

	TreasuryAccount, err = getEnv("CVM_TREASURY_ACCOUNT")
	if err != nil {
		return err
	}

	AdminAccount, err = getEnv("CVM_ADMIN_ACCOUNT")
	if err != nil {
		return err
	}

	WebPort, err = getEnvAsInt("CVM_WEB_PORT")
	if err != nil {
		return err
	}

	LogLevel, err = getEnv("CVM_LOG_LEVEL")
	if err != nil {
		return err
	}

	KeeperInterval, err = getEnvAsUint64("CVM_KEEPER_INTERVAL_SECONDS")
	if err != nil {
		return err
	}

	ParamsConfigName, err = getEnv("CVM_PARAMS_CONFIG_NAME")
	if err != nil {
		return err
	}

	// Load database configuration
	if err := loadDatabaseConfig(); err != nil {
		return err
	}

	log.Debug().
		Str("Mode", Mode).
		Str("Treasury", TreasuryAccount).
		Int("WebPort", WebPort).
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvAsUint64 retrieves an environment variable as a uint64. Returns error if not set or invalid.
func getEnvAsUint64(key string) (uint64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid uint64, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsInt retrieves an environment variable as an int. Returns error if not set or invalid.
func getEnvAsInt(key string) (int, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid int, got: " + valueStr)
	}
	return value, nil
}
