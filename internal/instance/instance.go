/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package instance holds the immutable description of one rostering
// problem: horizon, shift types, staff and their working limits,
// availability, preference requests, and coverage requirements. An
// Instance is loaded once and never mutated while a roster is built.
package instance

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Shift is one shift type staff can be assigned to.
type Shift struct {
	ID            string
	LengthMinutes int
	// ForbiddenFollowing lists shift IDs that may not be worked on the
	// day immediately after this shift by the same staff member.
	ForbiddenFollowing []string
}

// Staff is one staff member and their hard working limits.
//
// MinConsecutiveShifts, MinConsecutiveDaysOff, the total-minutes bounds,
// MaxShifts and MaxWeekends are carried through loading and reporting but
// are not applied by the assignment checker.
type Staff struct {
	ID string
	// ShiftLimits caps how often each shift ID may be assigned over the
	// horizon. Shifts absent from the map are uncapped.
	ShiftLimits           map[string]int
	MaxShifts             int
	MaxTotalMinutes       int
	MinTotalMinutes       int
	MaxConsecutiveShifts  int
	MinConsecutiveShifts  int
	MinConsecutiveDaysOff int
	// MaxWeekends is -1 when the instance does not set one.
	MaxWeekends int
}

// ShiftRequest is a weighted preference for (or against) working a shift.
type ShiftRequest struct {
	StaffID string
	Day     int
	ShiftID string
	Weight  int
}

// CoverRequirement asks for Required staff on one (day, shift) slot.
// WeightUnder drives the fill order; WeightOver is carried for scoring
// collaborators and never consumed by the fill itself.
type CoverRequirement struct {
	Day         int
	ShiftID     string
	Required    int
	WeightUnder int
	WeightOver  int
}

// Instance is one complete rostering problem.
type Instance struct {
	// Horizon is the number of days being rostered; days are indexed
	// from 0 to Horizon-1.
	Horizon int
	Shifts  []Shift
	// Staff keeps the input order. The greedy fill tries staff in
	// exactly this order for every requirement, so the order is policy,
	// not an artifact.
	Staff            []Staff
	DaysOff          map[string][]int
	ShiftOnRequests  []ShiftRequest
	ShiftOffRequests []ShiftRequest
	Cover            []CoverRequirement
}

// ShiftByID returns the shift with the given ID, or nil.
func (in *Instance) ShiftByID(id string) *Shift {
	for i := range in.Shifts {
		if in.Shifts[i].ID == id {
			return &in.Shifts[i]
		}
	}
	return nil
}

// StaffByID returns the staff member with the given ID, or nil.
func (in *Instance) StaffByID(id string) *Staff {
	for i := range in.Staff {
		if in.Staff[i].ID == id {
			return &in.Staff[i]
		}
	}
	return nil
}

// IsDayOff reports whether the staff member is unavailable on the day.
func (in *Instance) IsDayOff(staffID string, day int) bool {
	for _, d := range in.DaysOff[staffID] {
		if d == day {
			return true
		}
	}
	return false
}

// MarshalText renders the instance back to the sectioned text format in a
// canonical field order. Importers use it to synthesize instance files and
// Fingerprint uses it as the hashing input.
func (in *Instance) MarshalText() ([]byte, error) {
	var b strings.Builder

	b.WriteString("SECTION_HORIZON\n")
	fmt.Fprintf(&b, "%d\n", in.Horizon)

	b.WriteString("\nSECTION_SHIFTS\n")
	for _, s := range in.Shifts {
		fmt.Fprintf(&b, "%s,%d,%s\n", s.ID, s.LengthMinutes, strings.Join(s.ForbiddenFollowing, "|"))
	}

	b.WriteString("\nSECTION_STAFF\n")
	for _, s := range in.Staff {
		limits := make([]string, 0, len(s.ShiftLimits))
		for shiftID, max := range s.ShiftLimits {
			limits = append(limits, fmt.Sprintf("%s=%d", shiftID, max))
		}
		sort.Strings(limits)
		fmt.Fprintf(&b, "%s,%s,%d,%d,%d,%d,%d,%d", s.ID, strings.Join(limits, "|"),
			s.MaxShifts, s.MaxTotalMinutes, s.MinTotalMinutes,
			s.MaxConsecutiveShifts, s.MinConsecutiveShifts, s.MinConsecutiveDaysOff)
		if s.MaxWeekends >= 0 {
			fmt.Fprintf(&b, ",%d", s.MaxWeekends)
		}
		b.WriteString("\n")
	}

	b.WriteString("\nSECTION_DAYS_OFF\n")
	staffIDs := make([]string, 0, len(in.DaysOff))
	for id := range in.DaysOff {
		staffIDs = append(staffIDs, id)
	}
	sort.Strings(staffIDs)
	for _, id := range staffIDs {
		parts := []string{id}
		for _, d := range in.DaysOff[id] {
			parts = append(parts, fmt.Sprintf("%d", d))
		}
		b.WriteString(strings.Join(parts, ",") + "\n")
	}

	b.WriteString("\nSECTION_SHIFT_ON_REQUESTS\n")
	for _, r := range in.ShiftOnRequests {
		fmt.Fprintf(&b, "%s,%d,%s,%d\n", r.StaffID, r.Day, r.ShiftID, r.Weight)
	}

	b.WriteString("\nSECTION_SHIFT_OFF_REQUESTS\n")
	for _, r := range in.ShiftOffRequests {
		fmt.Fprintf(&b, "%s,%d,%s,%d\n", r.StaffID, r.Day, r.ShiftID, r.Weight)
	}

	b.WriteString("\nSECTION_COVER\n")
	for _, c := range in.Cover {
		fmt.Fprintf(&b, "%d,%s,%d,%d,%d\n", c.Day, c.ShiftID, c.Required, c.WeightUnder, c.WeightOver)
	}

	return []byte(b.String()), nil
}

// Fingerprint returns a stable hex digest of the instance content, used as
// the dedup and cache key for stored instances.
func (in *Instance) Fingerprint() string {
	text, _ := in.MarshalText()
	sum := sha256.Sum256(text)
	return hex.EncodeToString(sum[:])
}
