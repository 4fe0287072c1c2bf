/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/friendsincode/vakt/internal/models"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		// Accounts and access
		&models.User{},
		&models.APIKey{},
		&models.AuditLog{},

		// Roster data
		&models.RosterInstance{},
		&models.SolveRun{},
		&models.RunAssignment{},

		// Outbound notifications
		&models.WebhookTarget{},
		&models.WebhookLog{},
	); err != nil {
		return err
	}

	if err := applyPostgresQueuedRunIndex(database); err != nil {
		return err
	}
	if err := normalizeLegacyRunStatuses(database); err != nil {
		return err
	}

	return nil
}

// applyPostgresQueuedRunIndex adds a partial index over queued runs so the
// worker poll stays cheap once the run table grows.
func applyPostgresQueuedRunIndex(database *gorm.DB) error {
	if database.Dialector.Name() != "postgres" {
		return nil
	}

	stmt := `
CREATE INDEX IF NOT EXISTS idx_solve_runs_queued
ON solve_runs (created_at)
WHERE status = 'queued';
`
	if err := database.Exec(stmt).Error; err != nil {
		return fmt.Errorf("apply postgres queued run index: %w", err)
	}

	return nil
}

// normalizeLegacyRunStatuses maps status values written by pre-0.3 releases
// onto the current vocabulary.
func normalizeLegacyRunStatuses(database *gorm.DB) error {
	if err := database.Exec("UPDATE solve_runs SET status = ? WHERE status IN ?",
		models.RunCompleted, []string{"done", "complete", "finished"}).Error; err != nil {
		return fmt.Errorf("normalize legacy run statuses: %w", err)
	}
	if err := database.Exec("UPDATE solve_runs SET status = ? WHERE status = ?",
		models.RunFailed, "error").Error; err != nil {
		return fmt.Errorf("normalize legacy run statuses: %w", err)
	}
	return nil
}
