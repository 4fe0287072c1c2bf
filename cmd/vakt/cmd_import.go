/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/friendsincode/vakt/internal/events"
	"github.com/friendsincode/vakt/internal/migration"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import roster instances from legacy staffing systems",
	Long:  "Import shifts, staff, availability and coverage data from the old planner database or desktop planner files",
}

var importPostgresCmd = &cobra.Command{
	Use:   "postgres",
	Short: "Import from a legacy staffing database",
	Long:  "Read the legacy planner's PostgreSQL schema and store it as a roster instance",
	RunE:  runImportPostgres,
}

var importSQLiteCmd = &cobra.Command{
	Use:   "sqlite",
	Short: "Import from a desktop planner file",
	Long:  "Read a desktop planner database file and store it as a roster instance",
	RunE:  runImportSQLite,
}

var (
	importPostgresDSN string
	importSQLiteFile  string
	importName        string
	importDryRun      bool
)

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.AddCommand(importPostgresCmd)
	importCmd.AddCommand(importSQLiteCmd)

	importCmd.PersistentFlags().StringVar(&importName, "name", "", "Name for the created roster instance")
	importCmd.PersistentFlags().BoolVar(&importDryRun, "dry-run", false, "Analyze the source without importing")

	importPostgresCmd.Flags().StringVar(&importPostgresDSN, "dsn", "", "Legacy database connection string (required)")
	importPostgresCmd.MarkFlagRequired("dsn")

	importSQLiteCmd.Flags().StringVar(&importSQLiteFile, "file", "", "Path to the planner database file (required)")
	importSQLiteCmd.MarkFlagRequired("file")
}

func runImportPostgres(cmd *cobra.Command, args []string) error {
	return runImport(cmd, migration.SourcePostgres, migration.Options{
		Name: importName,
		DSN:  importPostgresDSN,
	})
}

func runImportSQLite(cmd *cobra.Command, args []string) error {
	return runImport(cmd, migration.SourceSQLite, migration.Options{
		Name:     importName,
		FilePath: importSQLiteFile,
	})
}

func runImport(cmd *cobra.Command, source migration.SourceType, opts migration.Options) error {
	if err := loadConfig(); err != nil {
		return err
	}

	logger.Info().
		Str("source", string(source)).
		Bool("dry_run", importDryRun).
		Msg("starting import")

	database, err := initDatabase()
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}

	bus := events.NewBus()
	svc := migration.NewService(database, bus, logger)
	svc.RegisterImporter(migration.SourcePostgres, migration.NewPostgresImporter(database, logger))
	svc.RegisterImporter(migration.SourceSQLite, migration.NewSQLiteImporter(database, logger))

	result, err := svc.Run(cmd.Context(), source, opts, importDryRun)
	if err != nil {
		return fmt.Errorf("import failed: %w", err)
	}

	if importDryRun {
		fmt.Printf("\nImport Preview:\n")
	} else {
		fmt.Printf("\nImport Complete!\n")
		fmt.Printf("  Instances: %d created\n", result.InstancesCreated)
	}
	fmt.Printf("  Shifts:    %d\n", result.ShiftsImported)
	fmt.Printf("  Staff:     %d\n", result.StaffImported)
	fmt.Printf("  Days off:  %d\n", result.DaysOffImported)
	fmt.Printf("  Requests:  %d\n", result.RequestsImported)
	fmt.Printf("  Cover:     %d\n", result.CoverImported)
	fmt.Printf("  Duration:  %.1f seconds\n", result.DurationSeconds)

	if len(result.Warnings) > 0 {
		fmt.Printf("\nWarnings:\n")
		for _, warning := range result.Warnings {
			fmt.Printf("  - %s\n", warning)
		}
	}

	if len(result.Skipped) > 0 {
		fmt.Printf("\nSkipped:\n")
		for key, count := range result.Skipped {
			fmt.Printf("  - %s: %d\n", key, count)
		}
	}

	if importDryRun {
		fmt.Printf("\nRun without --dry-run to perform the import.\n")
	}
	return nil
}
