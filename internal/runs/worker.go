/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package runs

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/vakt/internal/leadership"
	"github.com/friendsincode/vakt/internal/models"
)

// DefaultPollInterval is how often the worker checks for queued runs.
const DefaultPollInterval = 2 * time.Second

// Worker drains the run queue. With an election wired, only the current
// leader executes runs; without one, every node does.
type Worker struct {
	svc      *Service
	election *leadership.Election
	interval time.Duration
	logger   zerolog.Logger

	wasLeader bool
}

// NewWorker constructs a queue worker.
func NewWorker(svc *Service, interval time.Duration, logger zerolog.Logger) *Worker {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Worker{
		svc:      svc,
		interval: interval,
		logger:   logger.With().Str("component", "runs_worker").Logger(),
	}
}

// SetElection gates execution on leadership.
func (w *Worker) SetElection(e *leadership.Election) {
	w.election = e
}

// Run polls until the context is cancelled. Blocking; callers run it in
// a goroutine.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info().Dur("interval", w.interval).Msg("run worker started")

	// Single-node deployments recover orphaned runs at boot. Clustered
	// ones defer to the leader transition so only one node requeues.
	if w.election == nil {
		w.recoverStale(ctx)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("run worker stopped")
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

// tick drains every queued run visible right now.
func (w *Worker) tick(ctx context.Context) {
	if w.election != nil {
		if !w.election.IsLeader() {
			w.wasLeader = false
			return
		}
		if !w.wasLeader {
			w.logger.Info().Msg("gained leadership, draining run queue")
			w.recoverStale(ctx)
			w.wasLeader = true
		}
	}

	for {
		if ctx.Err() != nil {
			return
		}

		run, err := w.svc.NextQueued(ctx)
		if err != nil {
			w.logger.Error().Err(err).Msg("queue poll failed")
			return
		}
		if run == nil {
			return
		}

		claimed, err := w.svc.claim(ctx, run.ID)
		if err != nil {
			w.logger.Error().Err(err).Str("run_id", run.ID).Msg("claim failed")
			return
		}
		if !claimed {
			// Another worker took it between poll and claim.
			continue
		}

		now := time.Now()
		run.Status = models.RunRunning
		run.StartedAt = &now
		w.svc.execute(ctx, run)
	}
}

func (w *Worker) recoverStale(ctx context.Context) {
	requeued, err := w.svc.RequeueStale(ctx)
	if err != nil {
		w.logger.Error().Err(err).Msg("stale run recovery failed")
		return
	}
	if requeued > 0 {
		w.logger.Warn().Int64("requeued", requeued).Msg("requeued stale runs")
	}
}
