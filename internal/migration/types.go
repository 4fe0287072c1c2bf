/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package migration imports rostering data from legacy staffing systems.
// Each importer reads a foreign schema over database/sql, rebuilds the
// problem as an instance.Instance, and stores the canonical sectioned
// text as a RosterInstance. The solve pipeline never knows the data was
// imported; it sees an ordinary stored instance.
package migration

import "context"

// SourceType identifies a legacy system an importer can read.
type SourceType string

const (
	// SourcePostgres reads a legacy staffing database over lib/pq.
	SourcePostgres SourceType = "postgres"
	// SourceSQLite reads a desktop rostering application file.
	SourceSQLite SourceType = "sqlite"
)

// Options configures one import.
type Options struct {
	// Name for the created roster instance. Empty derives a name from
	// the source.
	Name string `json:"name,omitempty"`

	// DSN is the connection string for the postgres importer.
	DSN string `json:"dsn,omitempty"`

	// FilePath is the database file for the sqlite importer.
	FilePath string `json:"file_path,omitempty"`

	// ImportedBy is recorded as the uploader of created instances.
	ImportedBy string `json:"imported_by,omitempty"`
}

// Result summarizes what an import (or dry-run analysis) found.
type Result struct {
	InstancesCreated int            `json:"instances_created"`
	ShiftsImported   int            `json:"shifts_imported"`
	StaffImported    int            `json:"staff_imported"`
	DaysOffImported  int            `json:"days_off_imported"`
	RequestsImported int            `json:"requests_imported"`
	CoverImported    int            `json:"cover_imported"`
	Warnings         []string       `json:"warnings,omitempty"`
	Skipped          map[string]int `json:"skipped,omitempty"`
	DurationSeconds  float64        `json:"duration_seconds"`
}

func (r *Result) warn(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

func (r *Result) skip(key string) {
	if r.Skipped == nil {
		r.Skipped = make(map[string]int)
	}
	r.Skipped[key]++
}

// Importer reads one kind of legacy source.
type Importer interface {
	// Validate checks the options and that the source is reachable.
	Validate(ctx context.Context, opts Options) error

	// Analyze reads the source and reports what an import would create,
	// without writing anything.
	Analyze(ctx context.Context, opts Options) (*Result, error)

	// Import reads the source and stores the synthesized instance.
	Import(ctx context.Context, opts Options) (*Result, error)
}
