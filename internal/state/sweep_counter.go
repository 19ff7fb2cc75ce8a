/*

This file manages the persistent sweep counter. Each pass of the migrator over an owner's
positions is one sweep, and the counter survives restarts so run records stay ordered.

*/

package state

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// GetCurrentSweepNumber retrieves the current sweep number from the database
func GetCurrentSweepNumber() (int, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	var current int
	err := DB.QueryRow(`SELECT current_sweep FROM sweep_counter WHERE id = 1;`).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Warn().Msg("No sweep counter row found, treating as 0")
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get current sweep number: %w", err)
	}
	return current, nil
}

// IncrementSweepNumber increments the sweep counter and returns the new value
func IncrementSweepNumber() (int, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	updateQuery := `
		UPDATE sweep_counter
		SET current_sweep = current_sweep + 1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = 1
		RETURNING current_sweep;`

	var next int
	if err := DB.QueryRow(updateQuery).Scan(&next); err != nil {
		return 0, fmt.Errorf("failed to increment sweep number: %w", err)
	}

	log.Info().Int("sweep", next).Msg("Incremented sweep counter")
	return next, nil
}

// ResetSweepNumber sets the sweep counter to a specific value (for maintenance)
func ResetSweepNumber(sweep int) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}
	if sweep < 0 {
		return fmt.Errorf("sweep number cannot be negative: %d", sweep)
	}

	result, err := DB.Exec(`UPDATE sweep_counter SET current_sweep = $1, updated_at = CURRENT_TIMESTAMP WHERE id = 1;`, sweep)
	if err != nil {
		return fmt.Errorf("failed to reset sweep number to %d: %w", sweep, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("no rows updated when resetting sweep number")
	}

	log.Warn().Int("sweep", sweep).Msg("Reset sweep counter")
	return nil
}
