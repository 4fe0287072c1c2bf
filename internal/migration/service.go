/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package migration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/vakt/internal/events"
	"github.com/friendsincode/vakt/internal/instance"
	"github.com/friendsincode/vakt/internal/models"
)

// ErrUnknownSource is returned when no importer is registered for a source.
var ErrUnknownSource = errors.New("no importer registered for source")

// Service is the importer registry. It validates options, runs the
// importer, and publishes an audit event for every completed import.
type Service struct {
	db        *gorm.DB
	bus       *events.Bus
	logger    zerolog.Logger
	importers map[SourceType]Importer
}

// NewService creates the migration service.
func NewService(db *gorm.DB, bus *events.Bus, logger zerolog.Logger) *Service {
	return &Service{
		db:        db,
		bus:       bus,
		logger:    logger.With().Str("component", "migration").Logger(),
		importers: make(map[SourceType]Importer),
	}
}

// RegisterImporter registers an importer for a source type.
func (s *Service) RegisterImporter(source SourceType, imp Importer) {
	s.importers[source] = imp
	s.logger.Info().Str("source", string(source)).Msg("registered importer")
}

// Run validates and executes one import. With dryRun set it analyzes the
// source and reports what would be created without writing anything.
func (s *Service) Run(ctx context.Context, source SourceType, opts Options, dryRun bool) (*Result, error) {
	imp, ok := s.importers[source]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, source)
	}

	if err := imp.Validate(ctx, opts); err != nil {
		return nil, fmt.Errorf("validate %s source: %w", source, err)
	}

	start := time.Now()
	var (
		result *Result
		err    error
	)
	if dryRun {
		result, err = imp.Analyze(ctx, opts)
	} else {
		result, err = imp.Import(ctx, opts)
	}
	if err != nil {
		return nil, err
	}
	result.DurationSeconds = time.Since(start).Seconds()

	s.logger.Info().
		Str("source", string(source)).
		Bool("dry_run", dryRun).
		Int("instances", result.InstancesCreated).
		Int("staff", result.StaffImported).
		Int("cover", result.CoverImported).
		Msg("import finished")

	if !dryRun && s.bus != nil {
		s.bus.Publish(events.EventAuditImport, events.Payload{
			"source":    string(source),
			"instances": result.InstancesCreated,
			"staff":     result.StaffImported,
			"cover":     result.CoverImported,
			"user_id":   opts.ImportedBy,
		})
	}

	return result, nil
}

// storeInstance persists one synthesized instance, deduplicating on the
// content fingerprint. A duplicate is a skip, not an error: re-running an
// import against an unchanged source is a no-op.
func storeInstance(ctx context.Context, db *gorm.DB, in *instance.Instance, name string, source models.InstanceSource, importedBy string, result *Result) error {
	body, err := in.MarshalText()
	if err != nil {
		return fmt.Errorf("render instance text: %w", err)
	}

	// Round-trip through the loader so an importer bug surfaces here,
	// not at solve time.
	if _, err := instance.ParseString(string(body)); err != nil {
		return fmt.Errorf("synthesized instance does not parse: %w", err)
	}

	fingerprint := in.Fingerprint()
	var existing models.RosterInstance
	err = db.WithContext(ctx).Where("fingerprint = ?", fingerprint).First(&existing).Error
	switch {
	case err == nil:
		result.skip("duplicate_instance")
		result.warn(fmt.Sprintf("instance %q already stored as %s", name, existing.ID))
		return nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("check fingerprint: %w", err)
	}

	record := models.RosterInstance{
		ID:          uuid.NewString(),
		Name:        name,
		Source:      source,
		Body:        string(body),
		Fingerprint: fingerprint,
		Horizon:     in.Horizon,
		ShiftCount:  len(in.Shifts),
		StaffCount:  len(in.Staff),
		CoverCount:  len(in.Cover),
		SizeBytes:   int64(len(body)),
		UploadedBy:  importedBy,
	}
	if err := db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("store instance: %w", err)
	}

	result.InstancesCreated++
	return nil
}

// countInstance fills the shape counters of a Result from an instance.
func countInstance(in *instance.Instance, result *Result) {
	result.ShiftsImported = len(in.Shifts)
	result.StaffImported = len(in.Staff)
	result.RequestsImported = len(in.ShiftOnRequests) + len(in.ShiftOffRequests)
	result.CoverImported = len(in.Cover)
	for _, days := range in.DaysOff {
		result.DaysOffImported += len(days)
	}
}
