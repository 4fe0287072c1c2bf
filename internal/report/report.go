/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package report turns a fill result into summaries and rendered output
// for the CLI and the API.
package report

import (
	"sort"

	"github.com/friendsincode/vakt/internal/engine"
	"github.com/friendsincode/vakt/internal/instance"
)

// StaffCount is one staff member's share of the roster.
type StaffCount struct {
	StaffID string `json:"staff_id" yaml:"staff_id"`
	Shifts  int    `json:"shifts" yaml:"shifts"`
	Minutes int    `json:"minutes" yaml:"minutes"`
}

// CoverageRow reports one (day, shift) slot against its requirement.
type CoverageRow struct {
	Day      int    `json:"day" yaml:"day"`
	ShiftID  string `json:"shift_id" yaml:"shift_id"`
	Required int    `json:"required" yaml:"required"`
	Assigned int    `json:"assigned" yaml:"assigned"`
	Missing  int    `json:"missing" yaml:"missing"`
}

// Summary is the reportable view of one fill result.
type Summary struct {
	Complete    bool               `json:"complete" yaml:"complete"`
	Assignments int                `json:"assignments" yaml:"assignments"`
	Staff       []StaffCount       `json:"staff" yaml:"staff"`
	Coverage    []CoverageRow      `json:"coverage" yaml:"coverage"`
	Shortfalls  []engine.Shortfall `json:"shortfalls,omitempty" yaml:"shortfalls,omitempty"`
	Stats       engine.Stats       `json:"stats" yaml:"stats"`
}

// Build assembles the summary for one result. Staff entries are sorted by
// ID, coverage rows by day then shift ID. Repeated cover rows for the same
// slot collapse into one row carrying the highest required count.
func Build(inst *instance.Instance, res *engine.Result) *Summary {
	shiftMinutes := make(map[string]int, len(inst.Shifts))
	for _, sh := range inst.Shifts {
		shiftMinutes[sh.ID] = sh.LengthMinutes
	}

	minutes := make(map[string]int, len(inst.Staff))
	type slot struct {
		day     int
		shiftID string
	}
	assigned := make(map[slot]int)
	for _, a := range res.Assignments {
		minutes[a.StaffID] += shiftMinutes[a.ShiftID]
		assigned[slot{a.Day, a.ShiftID}]++
	}

	staff := make([]StaffCount, 0, len(res.PerStaff))
	for staffID, n := range res.PerStaff {
		staff = append(staff, StaffCount{
			StaffID: staffID,
			Shifts:  n,
			Minutes: minutes[staffID],
		})
	}
	sort.Slice(staff, func(i, j int) bool { return staff[i].StaffID < staff[j].StaffID })

	required := make(map[slot]int)
	for _, req := range inst.Cover {
		key := slot{req.Day, req.ShiftID}
		if req.Required > required[key] {
			required[key] = req.Required
		}
	}
	coverage := make([]CoverageRow, 0, len(required))
	for key, req := range required {
		row := CoverageRow{
			Day:      key.day,
			ShiftID:  key.shiftID,
			Required: req,
			Assigned: assigned[key],
		}
		if row.Assigned < row.Required {
			row.Missing = row.Required - row.Assigned
		}
		coverage = append(coverage, row)
	}
	sort.Slice(coverage, func(i, j int) bool {
		if coverage[i].Day != coverage[j].Day {
			return coverage[i].Day < coverage[j].Day
		}
		return coverage[i].ShiftID < coverage[j].ShiftID
	})

	return &Summary{
		Complete:    res.Complete,
		Assignments: len(res.Assignments),
		Staff:       staff,
		Coverage:    coverage,
		Shortfalls:  res.Shortfalls,
		Stats:       res.Stats,
	}
}
