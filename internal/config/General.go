package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/elys-network/poolmigrator/internal/types"
	"github.com/rs/zerolog/log"
)

// AppConfig holds all application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// Mode selects the dispatcher: "live" broadcasts real operations, "dryrun" simulates them.
	Mode string

	// Owner is the address whose positions this instance migrates.
	Owner string

	// ExcludedPools are never considered as migration targets.
	ExcludedPools []types.PoolID

	// MinTargetLiquidityUSD filters out thin target pools before assessment.
	MinTargetLiquidityUSD float64

	// Preferences applied to every migration started by the CLI.
	Preferences types.Preferences

	// Parameters is DefaultMigrationParameters with environment overrides applied.
	Parameters types.MigrationParameters

	// SweepInterval is the pause between sweeps. Zero runs a single sweep and exits.
	SweepInterval time.Duration

	// AllowHighRisk lets sweeps execute plans rated high risk.
	AllowHighRisk bool

	// FeeToken prices the gas fee read from confirmed transactions.
	FeeToken types.Token
)

// LoadConfig loads configuration from environment variables and sets the global config vars.
// Mode, owner and endpoints are required; tuning values fall back to defaults.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	Mode, err = getEnv("MIGRATOR_MODE")
	if err != nil {
		return err
	}
	if Mode != "live" && Mode != "dryrun" {
		return errors.New("environment variable MIGRATOR_MODE must be 'live' or 'dryrun', got: " + Mode)
	}

	Owner, err = getEnv("MIGRATOR_OWNER")
	if err != nil {
		return err
	}

	ExcludedPools, err = getEnvAsPoolIDs("MIGRATOR_EXCLUDED_POOLS")
	if err != nil {
		return err
	}

	if MinTargetLiquidityUSD, err = getEnvAsFloat64OrDefault("MIGRATOR_MIN_TARGET_LIQUIDITY_USD", 0); err != nil {
		return err
	}

	Preferences = types.Preferences{
		MaxSlippage:   0.01,
		MaxCostUSD:    5.0,
		Priority:      types.PriorityBalanced,
		BuildRollback: true,
	}
	if Preferences.MaxSlippage, err = getEnvAsFloat64OrDefault("MIGRATOR_MAX_SLIPPAGE", Preferences.MaxSlippage); err != nil {
		return err
	}
	if Preferences.MaxCostUSD, err = getEnvAsFloat64OrDefault("MIGRATOR_MAX_COST_USD", Preferences.MaxCostUSD); err != nil {
		return err
	}
	if priority, ok := os.LookupEnv("MIGRATOR_PRIORITY"); ok {
		Preferences.Priority = types.Priority(priority)
	}

	if SweepInterval, err = getEnvAsDurationOrDefault("MIGRATOR_SWEEP_INTERVAL", 0); err != nil {
		return err
	}
	AllowHighRisk = os.Getenv("MIGRATOR_ALLOW_HIGH_RISK") == "true"

	FeeToken = types.Token{Symbol: "ELYS", Denom: "uelys", Decimals: 6}
	if denom, ok := os.LookupEnv("FEE_DENOM"); ok && denom != "" {
		FeeToken.Denom = denom
	}
	if FeeToken.Decimals, err = getEnvAsIntOrDefault("FEE_DECIMALS", FeeToken.Decimals); err != nil {
		return err
	}
	if FeeToken.PriceUSD, err = getEnvAsFloat64OrDefault("FEE_PRICE_USD", 0); err != nil {
		return err
	}

	Parameters = DefaultMigrationParameters
	if Parameters.MaxRoutes, err = getEnvAsIntOrDefault("MAX_ROUTES", Parameters.MaxRoutes); err != nil {
		return err
	}
	if Parameters.RouteCacheTTL, err = getEnvAsDurationOrDefault("ROUTE_CACHE_TTL", Parameters.RouteCacheTTL); err != nil {
		return err
	}
	if Parameters.InterStepDelay, err = getEnvAsDurationOrDefault("INTER_STEP_DELAY", Parameters.InterStepDelay); err != nil {
		return err
	}
	if Parameters.DependencyTimeout, err = getEnvAsDurationOrDefault("DEPENDENCY_TIMEOUT", Parameters.DependencyTimeout); err != nil {
		return err
	}
	if contacts, ok := os.LookupEnv("EMERGENCY_CONTACTS"); ok && contacts != "" {
		Parameters.EmergencyContacts = strings.Split(contacts, ",")
	}

	// Load endpoint configuration
	if err := loadEndpointConfig(); err != nil {
		return err
	}

	log.Debug().
		Str("Mode", Mode).
		Str("Owner", Owner).
		Int("ExcludedPools", len(ExcludedPools)).
		Dur("RouteCacheTTL", Parameters.RouteCacheTTL).
		Dur("InterStepDelay", Parameters.InterStepDelay).
		Dur("SweepInterval", SweepInterval).
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

// getEnvAsFloat64OrDefault retrieves an optional environment variable as a float64.
func getEnvAsFloat64OrDefault(key string, defaultValue float64) (float64, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists || valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid float64, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsIntOrDefault retrieves an optional environment variable as an int.
func getEnvAsIntOrDefault(key string, defaultValue int) (int, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists || valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid integer, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsDurationOrDefault retrieves an optional environment variable as a duration (e.g. "90s").
func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists || valueStr == "" {
		return defaultValue, nil
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid duration, got: " + valueStr)
	}
	if value < 0 {
		return 0, errors.New("environment variable " + key + " cannot be negative, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsPoolIDs retrieves an optional comma separated list of pool IDs.
func getEnvAsPoolIDs(key string) ([]types.PoolID, error) {
	valueStr, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(valueStr) == "" {
		return nil, nil
	}
	parts := strings.Split(valueStr, ",")
	ids := make([]types.PoolID, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseUint(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, errors.New("environment variable " + key + " must be a list of pool IDs, got: " + valueStr)
		}
		ids = append(ids, types.PoolID(id))
	}
	return ids, nil
}
