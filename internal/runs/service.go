/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package runs owns the solve run lifecycle: queueing, execution,
// persistence and result fanout.
package runs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/vakt/internal/cache"
	"github.com/friendsincode/vakt/internal/engine"
	"github.com/friendsincode/vakt/internal/events"
	"github.com/friendsincode/vakt/internal/instance"
	"github.com/friendsincode/vakt/internal/models"
	"github.com/friendsincode/vakt/internal/report"
	"github.com/friendsincode/vakt/internal/storage"
	"github.com/friendsincode/vakt/internal/telemetry"
)

// ErrInstanceNotFound is returned when the referenced instance doesn't exist.
var ErrInstanceNotFound = errors.New("instance not found")

// ErrRunNotFound is returned when a run doesn't exist.
var ErrRunNotFound = errors.New("run not found")

// Service orchestrates solve runs over stored roster instances.
type Service struct {
	db      *gorm.DB
	bus     *events.Bus
	cache   *cache.Cache
	archive *storage.Archive
	logger  zerolog.Logger

	solveTimeout time.Duration
}

// New constructs the run service.
func New(db *gorm.DB, bus *events.Bus, solveTimeout time.Duration, logger zerolog.Logger) *Service {
	if solveTimeout <= 0 {
		solveTimeout = 60 * time.Second
	}
	return &Service{
		db:           db,
		bus:          bus,
		logger:       logger.With().Str("component", "runs").Logger(),
		solveTimeout: solveTimeout,
	}
}

// SetCache wires the result cache. Runs work without one.
func (s *Service) SetCache(c *cache.Cache) {
	s.cache = c
}

// SetArchive wires the export archive. Runs work without one.
func (s *Service) SetArchive(a *storage.Archive) {
	s.archive = a
}

// Enqueue records a queued run for the worker to pick up.
func (s *Service) Enqueue(ctx context.Context, instanceID, requestedBy string, stopEarly bool) (*models.SolveRun, error) {
	inst, err := s.loadInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	run := &models.SolveRun{
		ID:          uuid.NewString(),
		InstanceID:  inst.ID,
		Status:      models.RunQueued,
		StopEarly:   stopEarly,
		RequestedBy: requestedBy,
	}
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	s.updateQueueDepth(ctx)

	s.bus.Publish(events.EventRunQueued, events.Payload{
		"run_id":        run.ID,
		"resource_type": "run",
		"resource_id":   run.ID,
		"instance_id":   inst.ID,
		"user_id":       requestedBy,
	})

	s.logger.Info().
		Str("run_id", run.ID).
		Str("instance_id", inst.ID).
		Bool("stop_early", stopEarly).
		Msg("run queued")
	return run, nil
}

// ExecuteNow creates a run and solves it synchronously, bypassing the
// queue. Used by the wait path of the API and by the CLI.
func (s *Service) ExecuteNow(ctx context.Context, instanceID, requestedBy string, stopEarly bool) (*models.SolveRun, error) {
	inst, err := s.loadInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	run := &models.SolveRun{
		ID:          uuid.NewString(),
		InstanceID:  inst.ID,
		Status:      models.RunRunning,
		StopEarly:   stopEarly,
		RequestedBy: requestedBy,
		StartedAt:   &now,
	}
	if err := s.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	run.Instance = inst

	s.bus.Publish(events.EventRunQueued, events.Payload{
		"run_id":        run.ID,
		"resource_type": "run",
		"resource_id":   run.ID,
		"instance_id":   inst.ID,
		"user_id":       requestedBy,
	})

	s.execute(ctx, run)
	return run, nil
}

// NextQueued returns the oldest queued run, or nil when the queue is empty.
func (s *Service) NextQueued(ctx context.Context) (*models.SolveRun, error) {
	var run models.SolveRun
	err := s.db.WithContext(ctx).
		Where("status = ?", models.RunQueued).
		Order("created_at ASC").
		Preload("Instance").
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// claim flips one queued run to running. Returns false when another
// worker got there first.
func (s *Service) claim(ctx context.Context, runID string) (bool, error) {
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&models.SolveRun{}).
		Where("id = ? AND status = ?", runID, models.RunQueued).
		Updates(map[string]any{"status": models.RunRunning, "started_at": now})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	s.updateQueueDepth(ctx)
	return true, nil
}

// RequeueStale returns runs abandoned by a dead worker to the queue.
// A run is stale when it has been running for twice the solve timeout.
func (s *Service) RequeueStale(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-2 * s.solveTimeout)
	res := s.db.WithContext(ctx).Model(&models.SolveRun{}).
		Where("status = ? AND started_at < ?", models.RunRunning, cutoff).
		Updates(map[string]any{"status": models.RunQueued, "started_at": nil})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		s.updateQueueDepth(ctx)
	}
	return res.RowsAffected, nil
}

// execute solves one run that is already marked running. Failures are
// recorded on the run, never returned: the run row is the ledger.
func (s *Service) execute(ctx context.Context, run *models.SolveRun) {
	ctx, span := telemetry.StartSpan(ctx, "vakt.runs", "solve")
	defer span.End()

	start := time.Now()

	if run.Instance == nil {
		var inst models.RosterInstance
		if err := s.db.WithContext(ctx).First(&inst, "id = ?", run.InstanceID).Error; err != nil {
			s.fail(ctx, run, fmt.Errorf("load instance: %w", err))
			return
		}
		run.Instance = &inst
	}

	telemetry.AddSpanAttributes(span, map[string]any{
		"run.id":         run.ID,
		"instance.id":    run.InstanceID,
		"run.stop_early": run.StopEarly,
	})

	s.bus.Publish(events.EventRunStarted, events.Payload{
		"run_id":        run.ID,
		"resource_type": "run",
		"resource_id":   run.ID,
		"instance_id":   run.InstanceID,
		"user_id":       run.RequestedBy,
	})

	// An identical instance solved with the same options yields an
	// identical roster, so a fingerprint hit skips the engine entirely.
	if s.cache != nil {
		if cached, ok := s.cache.GetResult(ctx, run.Instance.Fingerprint, run.StopEarly); ok {
			s.completeFromCache(ctx, run, cached, start)
			return
		}
	}

	parsed, err := instance.ParseString(run.Instance.Body)
	if err != nil {
		s.fail(ctx, run, fmt.Errorf("parse instance: %w", err))
		return
	}

	solveCtx, cancel := context.WithTimeout(ctx, s.solveTimeout)
	defer cancel()

	sched := engine.New(parsed, s.logger)
	result, err := sched.Fill(solveCtx, engine.Options{StopAtFirstShortfall: run.StopEarly})
	elapsed := time.Since(start)
	if err != nil {
		outcome := "failed"
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			outcome = "cancelled"
		}
		s.failWith(ctx, run, fmt.Errorf("fill: %w", err), outcome)
		return
	}
	telemetry.SolveDurationSeconds.Observe(elapsed.Seconds())

	s.persistResult(ctx, run, parsed, result, elapsed)
}

// persistResult stores the roster, updates the run row and fans the
// outcome out to cache, archive and the event bus.
func (s *Service) persistResult(ctx context.Context, run *models.SolveRun, parsed *instance.Instance, result *engine.Result, elapsed time.Duration) {
	now := time.Now()

	rows := make([]models.RunAssignment, len(result.Assignments))
	for i, a := range result.Assignments {
		rows[i] = models.RunAssignment{
			ID:       uuid.NewString(),
			RunID:    run.ID,
			Position: i,
			StaffID:  a.StaffID,
			Day:      a.Day,
			ShiftID:  a.ShiftID,
		}
	}

	shortfalls := make([]models.ShortfallRecord, len(result.Shortfalls))
	for i, sf := range result.Shortfalls {
		shortfalls[i] = models.ShortfallRecord{Day: sf.Day, ShiftID: sf.ShiftID, Missing: sf.Missing}
	}

	run.Status = models.RunCompleted
	run.Complete = result.Complete
	run.Assignments = len(result.Assignments)
	run.Requirements = result.Stats.Requirements
	run.Checks = result.Stats.Checks
	run.Shortfalls = shortfalls
	run.DurationMS = elapsed.Milliseconds()
	run.FinishedAt = &now

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(rows) > 0 {
			if err := tx.CreateInBatches(rows, 500).Error; err != nil {
				return err
			}
		}
		return tx.Omit("Instance").Save(run).Error
	})
	if err != nil {
		s.fail(ctx, run, fmt.Errorf("persist result: %w", err))
		return
	}

	outcome := "complete"
	if !result.Complete {
		outcome = "incomplete"
	}
	telemetry.SolveRunsTotal.WithLabelValues(outcome).Inc()

	s.cacheResult(ctx, run, result)
	s.archiveRun(ctx, run, parsed, result)

	s.bus.Publish(events.EventRunCompleted, events.Payload{
		"run_id":        run.ID,
		"resource_type": "run",
		"resource_id":   run.ID,
		"instance_id":   run.InstanceID,
		"user_id":       run.RequestedBy,
		"complete":      run.Complete,
		"assignments":   run.Assignments,
	})

	s.logger.Info().
		Str("run_id", run.ID).
		Bool("complete", run.Complete).
		Int("assignments", run.Assignments).
		Int("shortfalls", len(run.Shortfalls)).
		Int64("duration_ms", run.DurationMS).
		Msg("run completed")
}

// completeFromCache fills the run from a cached result.
func (s *Service) completeFromCache(ctx context.Context, run *models.SolveRun, cached *cache.CachedResult, start time.Time) {
	now := time.Now()

	rows := make([]models.RunAssignment, len(cached.Assignments))
	for i, a := range cached.Assignments {
		rows[i] = models.RunAssignment{
			ID:       uuid.NewString(),
			RunID:    run.ID,
			Position: i,
			StaffID:  a.StaffID,
			Day:      a.Day,
			ShiftID:  a.ShiftID,
		}
	}

	shortfalls := make([]models.ShortfallRecord, len(cached.Shortfalls))
	for i, sf := range cached.Shortfalls {
		shortfalls[i] = models.ShortfallRecord{Day: sf.Day, ShiftID: sf.ShiftID, Missing: sf.Missing}
	}

	run.Status = models.RunCompleted
	run.Complete = cached.Complete
	run.Assignments = len(cached.Assignments)
	run.Requirements = cached.Requirements
	run.Checks = cached.Checks
	run.Shortfalls = shortfalls
	run.DurationMS = time.Since(start).Milliseconds()
	run.FinishedAt = &now

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(rows) > 0 {
			if err := tx.CreateInBatches(rows, 500).Error; err != nil {
				return err
			}
		}
		return tx.Omit("Instance").Save(run).Error
	})
	if err != nil {
		s.fail(ctx, run, fmt.Errorf("persist cached result: %w", err))
		return
	}

	outcome := "complete"
	if !cached.Complete {
		outcome = "incomplete"
	}
	telemetry.SolveRunsTotal.WithLabelValues(outcome).Inc()

	s.bus.Publish(events.EventRunCompleted, events.Payload{
		"run_id":        run.ID,
		"resource_type": "run",
		"resource_id":   run.ID,
		"instance_id":   run.InstanceID,
		"user_id":       run.RequestedBy,
		"complete":      run.Complete,
		"assignments":   run.Assignments,
		"from_cache":    true,
	})

	s.logger.Info().
		Str("run_id", run.ID).
		Str("fingerprint", run.Instance.Fingerprint).
		Msg("run served from result cache")
}

func (s *Service) fail(ctx context.Context, run *models.SolveRun, cause error) {
	s.failWith(ctx, run, cause, "failed")
}

func (s *Service) failWith(ctx context.Context, run *models.SolveRun, cause error, outcome string) {
	now := time.Now()
	run.Status = models.RunFailed
	run.Error = cause.Error()
	run.FinishedAt = &now

	if err := s.db.WithContext(ctx).Omit("Instance").Save(run).Error; err != nil {
		s.logger.Error().Err(err).Str("run_id", run.ID).Msg("failed to persist run failure")
	}

	telemetry.SolveRunsTotal.WithLabelValues(outcome).Inc()

	s.bus.Publish(events.EventRunFailed, events.Payload{
		"run_id":        run.ID,
		"resource_type": "run",
		"resource_id":   run.ID,
		"instance_id":   run.InstanceID,
		"user_id":       run.RequestedBy,
		"error":         run.Error,
	})

	s.logger.Error().Err(cause).Str("run_id", run.ID).Msg("run failed")
}

// cacheResult stores the outcome under the instance fingerprint.
func (s *Service) cacheResult(ctx context.Context, run *models.SolveRun, result *engine.Result) {
	if s.cache == nil || run.Instance == nil {
		return
	}

	cached := &cache.CachedResult{
		Complete:     result.Complete,
		PerStaff:     result.PerStaff,
		Requirements: result.Stats.Requirements,
		Checks:       result.Stats.Checks,
		DurationMS:   run.DurationMS,
		ComputedAt:   time.Now(),
	}
	cached.Assignments = make([]cache.CachedAssignment, len(result.Assignments))
	for i, a := range result.Assignments {
		cached.Assignments[i] = cache.CachedAssignment{StaffID: a.StaffID, Day: a.Day, ShiftID: a.ShiftID}
	}
	cached.Shortfalls = make([]cache.CachedShortfall, len(result.Shortfalls))
	for i, sf := range result.Shortfalls {
		cached.Shortfalls[i] = cache.CachedShortfall{Day: sf.Day, ShiftID: sf.ShiftID, Missing: sf.Missing}
	}

	s.cache.SetResult(ctx, run.Instance.Fingerprint, run.StopEarly, cached)
}

// archiveRun exports the roster report to object storage. Best effort:
// the run already succeeded, a missing export only costs a re-render.
func (s *Service) archiveRun(ctx context.Context, run *models.SolveRun, parsed *instance.Instance, result *engine.Result) {
	if s.archive == nil {
		return
	}

	artifacts := []struct {
		name   string
		format string
	}{
		{"roster.json", report.FormatJSON},
		{"roster.csv", report.FormatCSV},
	}
	for _, art := range artifacts {
		var buf bytes.Buffer
		if err := report.Render(&buf, art.format, parsed, result); err != nil {
			s.logger.Warn().Err(err).Str("run_id", run.ID).Str("artifact", art.name).Msg("report render failed")
			continue
		}
		if _, err := s.archive.StoreArtifact(ctx, run.ID, art.name, buf.Bytes()); err != nil {
			s.logger.Warn().Err(err).Str("run_id", run.ID).Str("artifact", art.name).Msg("artifact upload failed")
		}
	}
}

// updateQueueDepth publishes the current queue length.
func (s *Service) updateQueueDepth(ctx context.Context) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.SolveRun{}).
		Where("status = ?", models.RunQueued).
		Count(&count).Error; err != nil {
		s.logger.Debug().Err(err).Msg("queue depth query failed")
		return
	}
	telemetry.RunQueueDepth.Set(float64(count))
}

// Get returns one run with its instance.
func (s *Service) Get(ctx context.Context, id string) (*models.SolveRun, error) {
	var run models.SolveRun
	err := s.db.WithContext(ctx).Preload("Instance").First(&run, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListFilters narrows a run listing.
type ListFilters struct {
	InstanceID string
	Status     models.RunStatus
	Limit      int
	Offset     int
}

// List returns runs most recent first.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]models.SolveRun, int64, error) {
	var runs []models.SolveRun
	var total int64

	query := s.db.WithContext(ctx).Model(&models.SolveRun{})
	if filters.InstanceID != "" {
		query = query.Where("instance_id = ?", filters.InstanceID)
	}
	if filters.Status != "" {
		query = query.Where("status = ?", filters.Status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filters.Limit > 0 {
		query = query.Limit(filters.Limit)
	} else {
		query = query.Limit(50) // Default limit
	}
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}

	if err := query.Order("created_at DESC").Find(&runs).Error; err != nil {
		return nil, 0, err
	}
	return runs, total, nil
}

// Assignments returns the roster of a run in engine insertion order.
func (s *Service) Assignments(ctx context.Context, runID string) ([]models.RunAssignment, error) {
	if _, err := s.Get(ctx, runID); err != nil {
		return nil, err
	}

	var rows []models.RunAssignment
	err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("position ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// BuildReport reconstructs the parsed instance and engine result of a
// completed run so reports can be rendered long after the run finished.
func (s *Service) BuildReport(ctx context.Context, runID string) (*instance.Instance, *engine.Result, error) {
	run, err := s.Get(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	if run.Status != models.RunCompleted {
		return nil, nil, fmt.Errorf("run %s is %s, reports need a completed run", runID, run.Status)
	}
	if run.Instance == nil {
		return nil, nil, ErrInstanceNotFound
	}

	parsed, err := instance.ParseString(run.Instance.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("parse instance: %w", err)
	}

	rows, err := s.Assignments(ctx, runID)
	if err != nil {
		return nil, nil, err
	}

	result := &engine.Result{
		Complete:    run.Complete,
		Assignments: make([]engine.Assignment, len(rows)),
		Shortfalls:  make([]engine.Shortfall, len(run.Shortfalls)),
		PerStaff:    make(map[string]int, len(parsed.Staff)),
		Stats: engine.Stats{
			Requirements: run.Requirements,
			Checks:       run.Checks,
			Elapsed:      time.Duration(run.DurationMS) * time.Millisecond,
		},
	}
	for i, row := range rows {
		result.Assignments[i] = engine.Assignment{StaffID: row.StaffID, Day: row.Day, ShiftID: row.ShiftID}
		result.PerStaff[row.StaffID]++
	}
	for i, sf := range run.Shortfalls {
		result.Shortfalls[i] = engine.Shortfall{Day: sf.Day, ShiftID: sf.ShiftID, Missing: sf.Missing}
	}

	return parsed, result, nil
}

func (s *Service) loadInstance(ctx context.Context, instanceID string) (*models.RosterInstance, error) {
	var inst models.RosterInstance
	err := s.db.WithContext(ctx).First(&inst, "id = ?", instanceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInstanceNotFound
	}
	if err != nil {
		return nil, err
	}
	return &inst, nil
}
