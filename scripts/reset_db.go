package main

import (
	"os"

	"github.com/elys-network/poolmigrator/internal/logger"
	"github.com/elys-network/poolmigrator/internal/state"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// migrationTables are dropped children first so foreign keys never block the drop.
var migrationTables = []string{
	"migration_step_errors",
	"migration_runs",
	"migration_plans",
	"migration_parameters",
	"sweep_counter",
}

func main() {
	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Msg("Starting migration database reset...")

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	dbCfg, ok, err := state.DBConfigFromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid database configuration")
	}
	if !ok {
		log.Fatal().Msg("DB_HOST environment variable not set.")
	}

	log.Info().
		Str("host", dbCfg.Host).
		Int("port", dbCfg.Port).
		Str("dbname", dbCfg.DBName).
		Msg("Connecting to database")

	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database connection")
	}
	defer state.CloseDB()

	for _, table := range migrationTables {
		if _, err := state.DB.Exec("DROP TABLE IF EXISTS " + table + " CASCADE"); err != nil {
			log.Fatal().Err(err).Str("table", table).Msg("Failed to drop table")
		}
		log.Info().Str("table", table).Msg("Dropped table")
	}

	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to recreate database schema")
	}

	// the counter row is recreated by the schema; make the restart explicit
	if err := state.ResetSweepNumber(0); err != nil {
		log.Fatal().Err(err).Msg("Failed to reset sweep counter")
	}

	log.Info().Int("tables", len(migrationTables)).Msg("Migration database reset complete")
}
