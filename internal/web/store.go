package web

import "github.com/elys-network/poolmigrator/internal/state"

// DBStore is the RunStore backed by the state package's Postgres connection.
type DBStore struct{}

func (DBStore) RecentRuns(limit int) ([]state.RunRecord, error) {
	return state.GetRecentRuns(limit)
}

func (DBStore) RunByPlanID(planID string) (*state.RunRecord, error) {
	return state.GetRunByPlanID(planID)
}

func (DBStore) Stats() (*state.MigrationStats, error) {
	return state.GetMigrationStats()
}

func (DBStore) Ping() error {
	return state.TestDBConnection()
}
