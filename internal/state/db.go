// ./internal/state/db.go
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// DB is a global database connection pool.
var DB *sql.DB

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("record not found")

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// DBConfigFromEnv reads DB_HOST, DB_PORT, DB_USER, DB_PASSWORD, DB_NAME and
// DB_SSLMODE. ok is false when DB_HOST is unset, meaning persistence is off.
func DBConfigFromEnv() (cfg DBConfig, ok bool, err error) {
	cfg = DBConfig{
		Host:     os.Getenv("DB_HOST"),
		Port:     5432,
		User:     os.Getenv("DB_USER"),
		Password: os.Getenv("DB_PASSWORD"),
		DBName:   os.Getenv("DB_NAME"),
		SSLMode:  os.Getenv("DB_SSLMODE"),
	}
	if cfg.Host == "" {
		return cfg, false, nil
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if cfg.Port, err = strconv.Atoi(port); err != nil {
			return cfg, true, fmt.Errorf("invalid DB_PORT %q: %w", port, err)
		}
	}
	if cfg.User == "" || cfg.DBName == "" {
		return cfg, true, fmt.Errorf("DB_USER and DB_NAME must be set when DB_HOST is")
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}
	return cfg, true, nil
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
		CREATE TABLE IF NOT EXISTS migration_parameters (
			params_id SERIAL PRIMARY KEY,
			version INTEGER NOT NULL DEFAULT 1,
			config_name VARCHAR(255) NOT NULL DEFAULT 'default',
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			activated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			parameters JSONB NOT NULL,
			CONSTRAINT uq_migration_parameters_config_version UNIQUE (config_name, version)
		);
		CREATE INDEX IF NOT EXISTS idx_migration_parameters_config_active ON migration_parameters(config_name, is_active, activated_at DESC);

		CREATE TABLE IF NOT EXISTS migration_plans (
			plan_id VARCHAR(64) PRIMARY KEY,
			position_id VARCHAR(255) NOT NULL,
			owner VARCHAR(255) NOT NULL,
			source_pool_id BIGINT NOT NULL,
			target_pool_id BIGINT NOT NULL,
			risk_level VARCHAR(16) NOT NULL,
			success_probability DECIMAL(10, 8) NOT NULL,
			estimated_cost_usd DECIMAL(20, 8) NOT NULL,
			step_count INTEGER NOT NULL,
			plan JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_migration_plans_owner ON migration_plans(owner, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_migration_plans_position ON migration_plans(position_id);

		CREATE TABLE IF NOT EXISTS migration_runs (
			run_id SERIAL PRIMARY KEY,
			plan_id VARCHAR(64) NOT NULL REFERENCES migration_plans(plan_id),
			sweep_number INTEGER NOT NULL DEFAULT 0,
			params_id INTEGER REFERENCES migration_parameters(params_id),
			owner VARCHAR(255) NOT NULL,
			status VARCHAR(32) NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ,
			total_steps INTEGER NOT NULL,
			executed_steps TEXT[],
			failed_steps TEXT[],
			rolled_back_steps TEXT[],
			recovery_actions TEXT[],
			manual_intervention BOOLEAN NOT NULL DEFAULT FALSE,
			gas_used BIGINT NOT NULL DEFAULT 0,
			cost_usd DECIMAL(20, 8) NOT NULL DEFAULT 0,
			operations INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_migration_runs_started ON migration_runs(started_at DESC);
		CREATE INDEX IF NOT EXISTS idx_migration_runs_plan ON migration_runs(plan_id);
		CREATE INDEX IF NOT EXISTS idx_migration_runs_status ON migration_runs(status);

		CREATE TABLE IF NOT EXISTS migration_step_errors (
			error_id SERIAL PRIMARY KEY,
			run_id INTEGER NOT NULL REFERENCES migration_runs(run_id) ON DELETE CASCADE,
			step_id VARCHAR(128),
			kind VARCHAR(64) NOT NULL,
			failure VARCHAR(64),
			message TEXT NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_migration_step_errors_run ON migration_step_errors(run_id);

		-- Sweep counter for persistent sweep numbering across restarts
		CREATE TABLE IF NOT EXISTS sweep_counter (
			id INTEGER PRIMARY KEY DEFAULT 1,
			current_sweep INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT single_row_check CHECK (id = 1)
		);
		INSERT INTO sweep_counter (id, current_sweep)
		VALUES (1, 0)
		ON CONFLICT (id) DO NOTHING;
	`
	_, err := DB.Exec(schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema DDL: %w", err)
	}
	log.Info().Msg("Database schema ensured (migration plans, runs and step errors).")
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
