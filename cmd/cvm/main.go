package main

import (
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/caspervault/cvm/internal/config"
	"github.com/caspervault/cvm/internal/engine"
	"github.com/caspervault/cvm/internal/logger"
	"github.com/caspervault/cvm/internal/simulations"
	"github.com/caspervault/cvm/internal/state"
	"github.com/caspervault/cvm/internal/types"
	"github.com/caspervault/cvm/internal/web"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

const (
	DEFAULT_PARAMS_VERSION = 1
)

// main is the entry point for the CVM vault manager.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	// Load configuration from environment variables
	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(config.LogLevel)
	log.Info().Msg("CVM Vault Manager Starting...")

	// Initialize Database Connection
	dbCfg := state.DBConfig{
		Host: config.DBHost, Port: config.DBPort,
		User: config.DBUser, Password: config.DBPassword,
		DBName: config.DBName, SSLMode: config.DBSSLMode,
	}
	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer state.CloseDB()
	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}

	// Load Vault Parameters
	params, err := state.LoadActiveVaultParameters(config.ParamsConfigName)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Warn().Err(err).Msg("Failed to load active vault parameters, using defaults and saving.")
		}
		defaults := types.DefaultVaultParameters()
		if _, err := state.SaveVaultParameters(defaults, config.ParamsConfigName, DEFAULT_PARAMS_VERSION, true); err != nil {
			log.Fatal().Err(err).Msg("Failed to save initial default vault parameters.")
		}
		params = &defaults
	}
	log.Info().Msg("Vault parameters loaded successfully.")

	// Restore the withdrawal request book so time-locked exits survive
	// restarts
	openRequests, err := state.LoadOpenWithdrawalRequests()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load open withdrawal requests, starting with an empty request book.")
		openRequests = nil
	} else if len(openRequests) > 0 {
		log.Info().Int("count", len(openRequests)).Msg("Restored open withdrawal requests.")
	}

	// --- 2. Collaborator Wiring (with Safety Switch) ---
	var staking engine.StakingClient
	var strategies engine.StrategyRouter
	var shareToken engine.ShareToken

	if config.Mode == "live" {
		log.Fatal().Msg("CVM_MODE is set to 'live' but no network backend is configured in this build. Set CVM_MODE=simulation.")
	} else {
		log.Warn().Msg("Initializing CVM in SIMULATION mode. No real value moves.")
		staking = simulations.NewSimulatedStaking()
		strategies = simulations.NewSimulatedStrategyRouter()
		shareToken = simulations.NewMemoryShareToken()
	}

	// --- 3. Create Engine Instance with Dependency Injection ---
	log.Info().Msg("Creating vault engine with dependency injection...")

	engineConfig := engine.Config{
		Treasury:     config.TreasuryAccount,
		Admin:        config.AdminAccount,
		Parameters:   *params,
		Staking:      staking,
		Strategies:   strategies,
		ShareToken:   shareToken,
		Events:       state.DBEventRecorder{},
		Requests:     state.DBRequestRecorder{},
		OpenRequests: openRequests,
	}

	eng, err := engine.New(engineConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create vault engine")
	}

	log.Info().Msg("Vault engine created successfully")

	// --- 4. Start Web Server ---
	webServer := web.NewWebServer(strconv.Itoa(config.WebPort), eng)
	go func() {
		log.Info().Int("port", config.WebPort).Msg("Starting CVM web API")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 5. Keeper Loop ---
	interval := time.Duration(config.KeeperInterval) * time.Second
	log.Info().Str("interval", interval.String()).Msg("Starting keeper loop")

	runKeeperLoop(eng, config.AdminAccount, interval)
}

// runKeeperLoop drives the periodic management fee sweep and yield
// compounding. Rate-limit errors are expected between sweep windows and are
// logged at debug level only.
func runKeeperLoop(eng *engine.Engine, keeper string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		if minted, err := eng.CollectManagementFees(keeper); err != nil {
			if errors.Is(err, engine.ErrRateLimitExceeded) {
				log.Debug().Err(err).Msg("Management fee sweep not due")
			} else {
				log.Error().Err(err).Msg("Management fee sweep failed")
			}
		} else if !minted.IsZero() {
			log.Info().Str("shares", minted.String()).Msg("Management fee swept")
		}

		if yield, err := eng.Compound(keeper); err != nil {
			switch {
			case errors.Is(err, engine.ErrRateLimitExceeded), errors.Is(err, engine.ErrNothingToCompound):
				log.Debug().Err(err).Msg("Compound skipped")
			default:
				log.Error().Err(err).Msg("Compound failed")
			}
		} else {
			log.Info().Str("yield", yield.String()).Msg("Yield compounded")
		}
	}
}
