/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package instance

import "fmt"

// Problem is one advisory finding from Vet.
type Problem struct {
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// VetResult collects Vet findings split by severity. The schedule engine
// never consults these; an instance that fails Vet can still be solved,
// with whatever outcome its inconsistencies produce.
type VetResult struct {
	Valid    bool      `json:"valid"`
	Errors   []Problem `json:"errors"`
	Warnings []Problem `json:"warnings"`
}

// Vet checks an instance for referential and range problems: duplicate
// IDs, references to unknown shifts or staff, day indices outside the
// horizon, and requirements that can never be met.
func Vet(in *Instance) *VetResult {
	res := &VetResult{Valid: true, Errors: []Problem{}, Warnings: []Problem{}}

	addError := func(rule, format string, args ...any) {
		res.Errors = append(res.Errors, Problem{Rule: rule, Message: fmt.Sprintf(format, args...)})
		res.Valid = false
	}
	addWarning := func(rule, format string, args ...any) {
		res.Warnings = append(res.Warnings, Problem{Rule: rule, Message: fmt.Sprintf(format, args...)})
	}

	if in.Horizon <= 0 {
		addWarning("horizon", "horizon is %d days; nothing can be rostered", in.Horizon)
	}

	shiftIDs := make(map[string]bool, len(in.Shifts))
	for _, s := range in.Shifts {
		if shiftIDs[s.ID] {
			addError("duplicate_shift", "shift %q is defined more than once", s.ID)
		}
		shiftIDs[s.ID] = true
	}
	for _, s := range in.Shifts {
		for _, f := range s.ForbiddenFollowing {
			if !shiftIDs[f] {
				addError("unknown_shift", "shift %q forbids unknown shift %q from following it", s.ID, f)
			}
		}
	}

	staffIDs := make(map[string]bool, len(in.Staff))
	for _, s := range in.Staff {
		if staffIDs[s.ID] {
			addError("duplicate_staff", "staff %q is defined more than once", s.ID)
		}
		staffIDs[s.ID] = true

		for shiftID := range s.ShiftLimits {
			if !shiftIDs[shiftID] {
				addError("unknown_shift", "staff %q caps unknown shift %q", s.ID, shiftID)
			}
		}
		if s.MaxConsecutiveShifts <= 0 {
			addWarning("inert_staff", "staff %q has max consecutive shifts %d and can never be assigned", s.ID, s.MaxConsecutiveShifts)
		}
	}

	for staffID, days := range in.DaysOff {
		if !staffIDs[staffID] {
			addError("unknown_staff", "days off listed for unknown staff %q", staffID)
		}
		for _, d := range days {
			if d < 0 || d >= in.Horizon {
				addWarning("day_range", "day off %d for staff %q is outside the horizon", d, staffID)
			}
		}
	}

	checkRequest := func(kind string, reqs []ShiftRequest) {
		for _, r := range reqs {
			if !staffIDs[r.StaffID] {
				addError("unknown_staff", "%s request references unknown staff %q", kind, r.StaffID)
			}
			if !shiftIDs[r.ShiftID] {
				addError("unknown_shift", "%s request for staff %q references unknown shift %q", kind, r.StaffID, r.ShiftID)
			}
			if r.Day < 0 || r.Day >= in.Horizon {
				addWarning("day_range", "%s request for staff %q names day %d outside the horizon", kind, r.StaffID, r.Day)
			}
		}
	}
	checkRequest("shift-on", in.ShiftOnRequests)
	checkRequest("shift-off", in.ShiftOffRequests)

	for _, c := range in.Cover {
		if !shiftIDs[c.ShiftID] {
			addError("unknown_shift", "cover requirement on day %d references unknown shift %q", c.Day, c.ShiftID)
		}
		if c.Day < 0 || c.Day >= in.Horizon {
			addWarning("day_range", "cover requirement for shift %q names day %d outside the horizon", c.ShiftID, c.Day)
		}
		if c.Required > len(in.Staff) {
			addWarning("unreachable_cover", "cover requirement on day %d for shift %q needs %d staff but only %d exist", c.Day, c.ShiftID, c.Required, len(in.Staff))
		}
	}

	return res
}
