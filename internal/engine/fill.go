/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package engine

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/friendsincode/vakt/internal/instance"
	"github.com/friendsincode/vakt/internal/telemetry"
)

// Options tunes one fill pass.
type Options struct {
	// StopAtFirstShortfall ends the pass at the first requirement that
	// cannot be fully staffed instead of attempting the remaining ones.
	StopAtFirstShortfall bool
}

// Shortfall records a requirement the fill could not fully staff.
type Shortfall struct {
	Day     int    `json:"day"`
	ShiftID string `json:"shift_id"`
	Missing int    `json:"missing"`
}

// Stats aggregates counters from one fill pass.
type Stats struct {
	Requirements int            `json:"requirements"`
	Filled       int            `json:"filled"`
	Committed    int            `json:"committed"`
	Checks       int            `json:"checks"`
	ChecksByRule map[string]int `json:"checks_by_rule"`
	Elapsed      time.Duration  `json:"elapsed"`
}

// Result is the outcome of one fill pass. An incomplete roster is a normal
// outcome, not an error: everything committed stays committed and the
// shortfalls say what was left open.
type Result struct {
	Complete    bool           `json:"complete"`
	Assignments []Assignment   `json:"assignments"`
	Shortfalls  []Shortfall    `json:"shortfalls"`
	PerStaff    map[string]int `json:"per_staff"`
	Stats       Stats          `json:"stats"`
}

// checkLabel maps a predicate outcome to a metrics/stats label.
func checkLabel(v Violation) string {
	if v == ViolationNone {
		return "ok"
	}
	return string(v)
}

// Fill attempts to satisfy every coverage requirement once, in descending
// under-coverage weight order, with no backtracking. Each requirement tries
// staff in the instance's listed order; a candidate either passes Check and
// is committed or is discarded. The pass is deterministic: identical
// instances produce identical rosters.
//
// The context is consulted between requirements only; a cancelled fill
// returns ctx.Err() with the partial roster intact on the Schedule.
func (s *Schedule) Fill(ctx context.Context, opts Options) (*Result, error) {
	start := time.Now()

	// Stable sort keeps the input order for equal weights.
	reqs := make([]instance.CoverRequirement, len(s.inst.Cover))
	copy(reqs, s.inst.Cover)
	slices.SortStableFunc(reqs, func(a, b instance.CoverRequirement) int {
		return cmp.Compare(b.WeightUnder, a.WeightUnder)
	})

	stats := Stats{
		Requirements: len(reqs),
		ChecksByRule: make(map[string]int),
	}
	var shortfalls []Shortfall

	for _, req := range reqs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		needed := req.Required - s.Assigned(req.Day, req.ShiftID)
		if needed <= 0 {
			stats.Filled++
			continue
		}

		for i := range s.inst.Staff {
			if needed <= 0 {
				break
			}

			candidate := Assignment{
				StaffID: s.inst.Staff[i].ID,
				Day:     req.Day,
				ShiftID: req.ShiftID,
			}

			violation := s.Check(candidate)
			stats.Checks++
			stats.ChecksByRule[checkLabel(violation)]++
			telemetry.EngineChecksTotal.WithLabelValues(checkLabel(violation)).Inc()

			if violation != ViolationNone {
				continue
			}

			s.commit(candidate)
			stats.Committed++
			needed--
			telemetry.EngineAssignmentsTotal.Inc()
		}

		if needed > 0 {
			shortfalls = append(shortfalls, Shortfall{Day: req.Day, ShiftID: req.ShiftID, Missing: needed})
			s.logger.Debug().
				Int("day", req.Day).
				Str("shift", req.ShiftID).
				Int("missing", needed).
				Msg("coverage requirement left short")
			if opts.StopAtFirstShortfall {
				break
			}
			continue
		}
		stats.Filled++
	}

	stats.Elapsed = time.Since(start)

	result := &Result{
		Complete:    len(shortfalls) == 0,
		Assignments: s.Assignments(),
		Shortfalls:  shortfalls,
		PerStaff:    s.PerStaffCounts(),
		Stats:       stats,
	}

	s.logger.Info().
		Bool("complete", result.Complete).
		Int("assignments", len(result.Assignments)).
		Int("shortfalls", len(shortfalls)).
		Int("checks", stats.Checks).
		Dur("elapsed", stats.Elapsed).
		Msg("fill pass finished")

	return result, nil
}
