/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/friendsincode/vakt/internal/db"
	"github.com/friendsincode/vakt/internal/models"
)

var (
	resetForce     bool
	resetKeepUsers int
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the database to a fresh state",
	Long: `Reset Vakt to a fresh state.

This command will:
- Drop all tables from the database (except optionally preserved users)
- Re-create empty tables

WARNING: This action is irreversible! All instances, runs and audit
history will be lost.

Examples:
  # Interactive reset (will prompt for confirmation)
  vakt reset

  # Force reset without confirmation
  vakt reset --force

  # Reset but keep up to 3 admin users
  vakt reset --force --keep-users=3
`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVarP(&resetForce, "force", "f", false, "Skip confirmation prompt")
	resetCmd.Flags().IntVar(&resetKeepUsers, "keep-users", 0, "Number of admin users to preserve (0 = delete all)")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	if !resetForce {
		fmt.Println("\nWARNING: this will delete ALL data from Vakt:")
		if resetKeepUsers > 0 {
			fmt.Printf("  - all users EXCEPT the first %d admin user(s)\n", resetKeepUsers)
		} else {
			fmt.Println("  - all users and API keys")
		}
		fmt.Println("  - all roster instances and solve runs")
		fmt.Println("  - all webhooks and audit history")
		fmt.Println("\nThis action CANNOT be undone!")

		fmt.Print("\nType 'yes' to confirm reset: ")
		reader := bufio.NewReader(os.Stdin)
		response, err := reader.ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}

		response = strings.TrimSpace(strings.ToLower(response))
		if response != "yes" {
			fmt.Println("Reset cancelled.")
			return nil
		}
	}

	logger.Info().Int("keep_users", resetKeepUsers).Msg("starting database reset")

	database, err := initDatabase()
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer func() {
		if err := db.Close(database); err != nil {
			logger.Warn().Err(err).Msg("close database")
		}
	}()

	var preservedUsers []models.User
	if resetKeepUsers > 0 {
		logger.Info().Int("count", resetKeepUsers).Msg("preserving admin users")

		database.Where("role = ?", models.RoleAdmin).
			Order("created_at ASC").
			Limit(resetKeepUsers).
			Find(&preservedUsers)

		// Fall back to the oldest remaining accounts when there are not
		// enough admins.
		if len(preservedUsers) < resetKeepUsers {
			remaining := resetKeepUsers - len(preservedUsers)
			var ids []string
			for _, u := range preservedUsers {
				ids = append(ids, u.ID)
			}

			var moreUsers []models.User
			query := database.Order("created_at ASC").Limit(remaining)
			if len(ids) > 0 {
				query = query.Where("id NOT IN ?", ids)
			}
			query.Find(&moreUsers)
			preservedUsers = append(preservedUsers, moreUsers...)
		}

		for _, u := range preservedUsers {
			logger.Info().
				Str("user_id", u.ID).
				Str("email", u.Email).
				Str("role", string(u.Role)).
				Msg("preserving user")
		}
	}

	// Dependents first.
	tables := []interface{}{
		&models.RunAssignment{},
		&models.SolveRun{},
		&models.RosterInstance{},
		&models.WebhookLog{},
		&models.WebhookTarget{},
		&models.AuditLog{},
		&models.APIKey{},
		&models.User{},
	}

	logger.Info().Msg("dropping all tables")
	for _, table := range tables {
		if err := database.Migrator().DropTable(table); err != nil {
			// Table might not exist yet.
			logger.Debug().Err(err).Msg("drop table (may not exist)")
		}
	}

	logger.Info().Msg("creating fresh database schema")
	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	if len(preservedUsers) > 0 {
		logger.Info().Int("count", len(preservedUsers)).Msg("restoring preserved users")
		for _, u := range preservedUsers {
			u.UpdatedAt = u.CreatedAt
			if err := database.Create(&u).Error; err != nil {
				logger.Error().Err(err).Str("email", u.Email).Msg("failed to restore user")
			}
		}
	}

	logger.Info().Msg("reset complete")
	fmt.Println("\nVakt has been reset to a fresh state.")
	if len(preservedUsers) == 0 {
		fmt.Println("A new bootstrap admin will be created on the next 'vakt serve'.")
	}
	return nil
}
