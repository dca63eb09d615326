package database

import (
	"context"
	"fmt"
)

// Optimize refreshes planner statistics (PRAGMA optimize / ANALYZE).
func (m *Manager) Optimize(ctx context.Context) error {
	db := m.DB()
	if db == nil {
		return fmt.Errorf("database not initialized")
	}

	if _, err := db.ExecContext(ctx, db.Dialect().OptimizeStatement()); err != nil {
		return fmt.Errorf("failed to optimize database: %w", err)
	}

	return nil
}

// Vacuum reclaims unused space. It runs outside any session since neither
// store allows VACUUM inside a transaction.
func (m *Manager) Vacuum(ctx context.Context) error {
	db := m.DB()
	if db == nil {
		return fmt.Errorf("database not initialized")
	}

	if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("failed to vacuum database: %w", err)
	}

	return nil
}
