// ./internal/state/parameters_store.go
package state

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/elys-network/poolmigrator/internal/types"
	"github.com/rs/zerolog/log"
)

// SaveMigrationParameters saves a new version of the migration parameters. With
// makeActive the previously active version of configName is deactivated in the same transaction.
func SaveMigrationParameters(params types.MigrationParameters, configName string, version int, makeActive bool) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal migration parameters: %w", err)
	}

	tx, err := DB.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		}
	}()

	if makeActive {
		_, err = tx.Exec(`UPDATE migration_parameters SET is_active = FALSE WHERE config_name = $1 AND is_active = TRUE;`, configName)
		if err != nil {
			return 0, fmt.Errorf("failed to deactivate existing active parameters for %s: %w", configName, err)
		}
	}

	stmt := `
		INSERT INTO migration_parameters (version, config_name, is_active, activated_at, created_at, parameters)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING params_id;`

	var paramsID int64
	currentTime := time.Now()
	err = tx.QueryRow(stmt, version, configName, makeActive, currentTime, currentTime, paramsJSON).Scan(&paramsID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert migration parameters: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Info().
		Int("version", version).
		Str("config", configName).
		Int64("params_id", paramsID).
		Bool("active", makeActive).
		Msg("Saved migration parameters")
	return paramsID, nil
}

// LoadActiveMigrationParameters loads the currently active parameters and their id.
// It returns ErrNotFound when no version of configName is active.
func LoadActiveMigrationParameters(configName string) (*types.MigrationParameters, int64, error) {
	if DB == nil {
		return nil, 0, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT params_id, parameters
		FROM migration_parameters
		WHERE config_name = $1 AND is_active = TRUE
		ORDER BY activated_at DESC
		LIMIT 1;`

	var (
		paramsID int64
		raw      []byte
	)
	err := DB.QueryRow(query, configName).Scan(&paramsID, &raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, errors.Join(ErrNotFound, fmt.Errorf("no active migration parameters for config '%s'", configName))
		}
		return nil, 0, fmt.Errorf("failed to scan active migration parameters for config '%s': %w", configName, err)
	}

	p := &types.MigrationParameters{}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, 0, fmt.Errorf("failed to decode migration parameters %d: %w", paramsID, err)
	}

	log.Info().Str("config", configName).Int64("params_id", paramsID).Msg("Loaded active migration parameters")
	return p, paramsID, nil
}

// LatestMigrationParametersVersion returns the highest stored version of configName, or 0.
func LatestMigrationParametersVersion(configName string) (int, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	var version sql.NullInt64
	err := DB.QueryRow(`SELECT MAX(version) FROM migration_parameters WHERE config_name = $1;`, configName).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to read latest parameters version for config '%s': %w", configName, err)
	}
	return int(version.Int64), nil
}
