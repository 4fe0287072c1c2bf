/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package engine builds duty rosters. A Schedule owns the assignments made
// for one instance and answers, in bounded time, whether one more
// (staff, day, shift) tuple can legally be added given everything added so
// far. The greedy fill in fill.go drives that check across the instance's
// coverage requirements.
package engine

import (
	"github.com/rs/zerolog"

	"github.com/friendsincode/vakt/internal/instance"
)

// Assignment pins one staff member to one shift on one day. Assignments
// are append-only; they are never edited or removed once committed.
type Assignment struct {
	StaffID string `json:"staff_id"`
	Day     int    `json:"day"`
	ShiftID string `json:"shift_id"`
}

// Violation identifies the rule that rejected a candidate assignment.
type Violation string

const (
	// ViolationNone means the candidate passed every check.
	ViolationNone Violation = ""
	// ViolationUnknownStaff guards direct callers; the fill never
	// produces candidates outside the instance's staff list.
	ViolationUnknownStaff Violation = "unknown_staff"
	ViolationDayOff       Violation = "day_off"
	ViolationShiftLimit   Violation = "shift_limit"
	ViolationSuccession   Violation = "succession"
	ViolationConsecutive  Violation = "consecutive"
)

type dayShift struct {
	day     int
	shiftID string
}

// Schedule is the evolving roster for one instance. It keeps three views
// of the committed assignments in lock-step: the flat insertion-ordered
// list, per-staff lists, and per-(day,shift) lists. All three grow only
// through commit.
//
// A Schedule is single-goroutine state: one scheduling run owns it
// exclusively. The underlying Instance is read-only and may be shared
// across concurrent Schedules.
type Schedule struct {
	inst   *instance.Instance
	logger zerolog.Logger

	assignments []Assignment
	byStaff     map[string][]Assignment
	byDayShift  map[dayShift][]Assignment

	shifts  map[string]*instance.Shift
	staff   map[string]*instance.Staff
	daysOff map[string]map[int]struct{}
}

// New builds an empty Schedule over the instance.
func New(inst *instance.Instance, logger zerolog.Logger) *Schedule {
	s := &Schedule{
		inst:       inst,
		logger:     logger.With().Str("component", "engine").Logger(),
		byStaff:    make(map[string][]Assignment, len(inst.Staff)),
		byDayShift: make(map[dayShift][]Assignment, len(inst.Cover)),
		shifts:     make(map[string]*instance.Shift, len(inst.Shifts)),
		staff:      make(map[string]*instance.Staff, len(inst.Staff)),
		daysOff:    make(map[string]map[int]struct{}, len(inst.DaysOff)),
	}

	for i := range inst.Shifts {
		s.shifts[inst.Shifts[i].ID] = &inst.Shifts[i]
	}
	for i := range inst.Staff {
		s.staff[inst.Staff[i].ID] = &inst.Staff[i]
	}
	for staffID, days := range inst.DaysOff {
		set := make(map[int]struct{}, len(days))
		for _, d := range days {
			set[d] = struct{}{}
		}
		s.daysOff[staffID] = set
	}

	return s
}

// CanAssign reports whether adding the candidate keeps the roster legal.
// Pure read of current state; calling it never changes the outcome of
// later calls.
func (s *Schedule) CanAssign(a Assignment) bool {
	return s.Check(a) == ViolationNone
}

// Check returns the first rule the candidate violates, or ViolationNone.
// Checks short-circuit in a fixed order: day off, per-shift limit,
// forbidden succession, max consecutive working days.
func (s *Schedule) Check(a Assignment) Violation {
	staff := s.staff[a.StaffID]
	if staff == nil {
		return ViolationUnknownStaff
	}

	if _, off := s.daysOff[a.StaffID][a.Day]; off {
		return ViolationDayOff
	}

	if limit, capped := staff.ShiftLimits[a.ShiftID]; capped {
		count := 0
		for _, existing := range s.byStaff[a.StaffID] {
			if existing.ShiftID == a.ShiftID {
				count++
			}
		}
		if count >= limit {
			return ViolationShiftLimit
		}
	}

	// Succession is judged against the staff member's most recently
	// committed assignment, not their chronologically latest one. The
	// fill visits requirements in weight order, so the trailing entry
	// is not guaranteed to be the latest day.
	if existing := s.byStaff[a.StaffID]; len(existing) > 0 {
		last := existing[len(existing)-1]
		if last.Day == a.Day-1 {
			if shift := s.shifts[last.ShiftID]; shift != nil {
				for _, forbidden := range shift.ForbiddenFollowing {
					if forbidden == a.ShiftID {
						return ViolationSuccession
					}
				}
			}
		}
	}

	// Walk backward from the day before the candidate, counting days the
	// staff member works at all, and stop at the first free day. The
	// candidate day itself counts as 1.
	run := 1
	for day := a.Day - 1; day >= 0; day-- {
		if !s.workedOn(a.StaffID, day) {
			break
		}
		run++
	}
	if run > staff.MaxConsecutiveShifts {
		return ViolationConsecutive
	}

	return ViolationNone
}

func (s *Schedule) workedOn(staffID string, day int) bool {
	for _, a := range s.byStaff[staffID] {
		if a.Day == day {
			return true
		}
	}
	return false
}

// commit is the only write path; it appends to the flat list and both
// indexes so the three views stay consistent.
func (s *Schedule) commit(a Assignment) {
	s.assignments = append(s.assignments, a)
	s.byStaff[a.StaffID] = append(s.byStaff[a.StaffID], a)
	key := dayShift{day: a.Day, shiftID: a.ShiftID}
	s.byDayShift[key] = append(s.byDayShift[key], a)
}

// Len returns the number of committed assignments.
func (s *Schedule) Len() int {
	return len(s.assignments)
}

// Assignments returns the committed assignments in insertion order.
func (s *Schedule) Assignments() []Assignment {
	out := make([]Assignment, len(s.assignments))
	copy(out, s.assignments)
	return out
}

// Assigned returns how many staff are already on the given (day, shift).
func (s *Schedule) Assigned(day int, shiftID string) int {
	return len(s.byDayShift[dayShift{day: day, shiftID: shiftID}])
}

// StaffAssignments returns one staff member's assignments in insertion order.
func (s *Schedule) StaffAssignments(staffID string) []Assignment {
	src := s.byStaff[staffID]
	out := make([]Assignment, len(src))
	copy(out, src)
	return out
}

// PerStaffCounts returns the number of assignments per staff member.
// Staff with no assignments are present with a zero count.
func (s *Schedule) PerStaffCounts() map[string]int {
	counts := make(map[string]int, len(s.inst.Staff))
	for _, st := range s.inst.Staff {
		counts[st.ID] = len(s.byStaff[st.ID])
	}
	return counts
}
