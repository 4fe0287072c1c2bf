/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// InstanceSource records how a roster instance entered the system.
type InstanceSource string

const (
	SourceUpload InstanceSource = "upload"
	SourceImport InstanceSource = "import"
	SourceCLI    InstanceSource = "cli"
)

// RosterInstance is a stored scheduling problem: the sectioned source text
// plus denormalized shape counts for listings. The body is immutable once
// uploaded; edits arrive as new instances with new fingerprints.
type RosterInstance struct {
	ID          string         `gorm:"type:uuid;primaryKey" json:"id"`
	Name        string         `gorm:"index;not null" json:"name"`
	Source      InstanceSource `gorm:"type:varchar(16)" json:"source"`
	Body        string         `gorm:"type:text;not null" json:"-"`
	Fingerprint string         `gorm:"type:varchar(64);uniqueIndex;not null" json:"fingerprint"`
	Horizon     int            `json:"horizon"`
	ShiftCount  int            `json:"shift_count"`
	StaffCount  int            `json:"staff_count"`
	CoverCount  int            `json:"cover_count"`
	SizeBytes   int64          `json:"size_bytes"`
	UploadedBy  string         `gorm:"type:uuid" json:"uploaded_by,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (RosterInstance) TableName() string {
	return "roster_instances"
}

// RunStatus tracks a solve run through its lifecycle.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// ShortfallRecord is the persisted form of an unmet coverage requirement.
type ShortfallRecord struct {
	Day     int    `json:"day"`
	ShiftID string `json:"shift_id"`
	Missing int    `json:"missing"`
}

// SolveRun is one execution of the fill over an instance. A completed run
// with Complete=false is a valid outcome: the roster is short somewhere and
// Shortfalls says where.
type SolveRun struct {
	ID         string          `gorm:"type:uuid;primaryKey" json:"id"`
	InstanceID string          `gorm:"type:uuid;index;not null" json:"instance_id"`
	Instance   *RosterInstance `gorm:"foreignKey:InstanceID" json:"instance,omitempty"`
	Status     RunStatus       `gorm:"type:varchar(16);index" json:"status"`
	StopEarly  bool            `json:"stop_early"`

	Complete     bool              `json:"complete"`
	Assignments  int               `json:"assignments"`
	Requirements int               `json:"requirements"`
	Checks       int               `json:"checks"`
	Shortfalls   []ShortfallRecord `gorm:"type:jsonb;serializer:json" json:"shortfalls,omitempty"`
	DurationMS   int64             `json:"duration_ms"`

	RequestedBy string     `gorm:"type:varchar(64)" json:"requested_by,omitempty"`
	Error       string     `gorm:"type:text" json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (SolveRun) TableName() string {
	return "solve_runs"
}

// RunAssignment is one committed (staff, day, shift) tuple of a run.
// Position preserves the engine's insertion order.
type RunAssignment struct {
	ID       string `gorm:"type:uuid;primaryKey" json:"id"`
	RunID    string `gorm:"type:uuid;index;not null" json:"run_id"`
	Position int    `gorm:"not null" json:"position"`
	StaffID  string `gorm:"type:varchar(64);index" json:"staff_id"`
	Day      int    `json:"day"`
	ShiftID  string `gorm:"type:varchar(64)" json:"shift_id"`
}

// TableName returns the table name for GORM.
func (RunAssignment) TableName() string {
	return "run_assignments"
}
