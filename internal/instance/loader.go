/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package instance

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Section names in the instance text format.
const (
	sectionHorizon          = "HORIZON"
	sectionShifts           = "SHIFTS"
	sectionStaff            = "STAFF"
	sectionDaysOff          = "DAYS_OFF"
	sectionShiftOnRequests  = "SHIFT_ON_REQUESTS"
	sectionShiftOffRequests = "SHIFT_OFF_REQUESTS"
	sectionCover            = "COVER"
)

// LoadFile reads and parses an instance file.
func LoadFile(path string) (*Instance, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open instance file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads the sectioned plain-text instance format. Sections start
// with a SECTION_<NAME> marker; within a section, blank lines and lines
// starting with '#' are skipped. Unrecognized sections are ignored.
func Parse(r io.Reader) (*Instance, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read instance: %w", err)
	}
	return ParseString(string(data))
}

// ParseString parses instance text already held in memory.
func ParseString(content string) (*Instance, error) {
	in := &Instance{
		DaysOff: make(map[string][]int),
	}

	chunks := strings.Split(content, "SECTION_")
	if len(chunks) > 0 {
		chunks = chunks[1:]
	}

	for _, chunk := range chunks {
		name, body, _ := strings.Cut(strings.TrimSpace(chunk), "\n")
		name = strings.TrimSpace(name)

		var lines []string
		for _, line := range strings.Split(body, "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			lines = append(lines, line)
		}

		if err := parseSection(in, name, lines); err != nil {
			return nil, fmt.Errorf("section %s: %w", name, err)
		}
	}

	return in, nil
}

func parseSection(in *Instance, name string, lines []string) error {
	switch name {
	case sectionHorizon:
		if len(lines) == 0 {
			return fmt.Errorf("missing horizon value")
		}
		horizon, err := strconv.Atoi(lines[0])
		if err != nil {
			return fmt.Errorf("horizon %q: %w", lines[0], err)
		}
		in.Horizon = horizon

	case sectionShifts:
		for _, line := range lines {
			shift, err := parseShiftLine(line)
			if err != nil {
				return err
			}
			in.Shifts = append(in.Shifts, shift)
		}

	case sectionStaff:
		for _, line := range lines {
			staff, err := parseStaffLine(line)
			if err != nil {
				return err
			}
			in.Staff = append(in.Staff, staff)
		}

	case sectionDaysOff:
		for _, line := range lines {
			parts := strings.Split(line, ",")
			staffID := parts[0]
			days := make([]int, 0, len(parts)-1)
			for _, p := range parts[1:] {
				day, err := strconv.Atoi(p)
				if err != nil {
					return fmt.Errorf("days off for %s: day %q: %w", staffID, p, err)
				}
				days = append(days, day)
			}
			in.DaysOff[staffID] = days
		}

	case sectionShiftOnRequests, sectionShiftOffRequests:
		for _, line := range lines {
			req, err := parseRequestLine(line)
			if err != nil {
				return err
			}
			if name == sectionShiftOnRequests {
				in.ShiftOnRequests = append(in.ShiftOnRequests, req)
			} else {
				in.ShiftOffRequests = append(in.ShiftOffRequests, req)
			}
		}

	case sectionCover:
		for _, line := range lines {
			cover, err := parseCoverLine(line)
			if err != nil {
				return err
			}
			in.Cover = append(in.Cover, cover)
		}
	}

	return nil
}

func parseShiftLine(line string) (Shift, error) {
	parts := strings.Split(line, ",")
	if len(parts) != 3 {
		return Shift{}, fmt.Errorf("shift line %q: want 3 fields, got %d", line, len(parts))
	}

	length, err := strconv.Atoi(parts[1])
	if err != nil {
		return Shift{}, fmt.Errorf("shift %s: length %q: %w", parts[0], parts[1], err)
	}

	var forbidden []string
	if parts[2] != "" {
		forbidden = strings.Split(parts[2], "|")
	}

	return Shift{ID: parts[0], LengthMinutes: length, ForbiddenFollowing: forbidden}, nil
}

func parseStaffLine(line string) (Staff, error) {
	parts := strings.Split(line, ",")
	if len(parts) < 8 {
		return Staff{}, fmt.Errorf("staff line %q: want at least 8 fields, got %d", line, len(parts))
	}

	staff := Staff{
		ID:          parts[0],
		ShiftLimits: make(map[string]int),
		MaxWeekends: -1,
	}

	// Per-shift caps come as shift=count pairs; entries without '=' are
	// ignored, matching how empty limit lists are written.
	for _, limit := range strings.Split(parts[1], "|") {
		shiftID, countStr, ok := strings.Cut(limit, "=")
		if !ok {
			continue
		}
		count, err := strconv.Atoi(countStr)
		if err != nil {
			return Staff{}, fmt.Errorf("staff %s: shift limit %q: %w", staff.ID, limit, err)
		}
		staff.ShiftLimits[shiftID] = count
	}

	fields := []struct {
		name string
		dst  *int
	}{
		{"max shifts", &staff.MaxShifts},
		{"max total minutes", &staff.MaxTotalMinutes},
		{"min total minutes", &staff.MinTotalMinutes},
		{"max consecutive shifts", &staff.MaxConsecutiveShifts},
		{"min consecutive shifts", &staff.MinConsecutiveShifts},
		{"min consecutive days off", &staff.MinConsecutiveDaysOff},
	}
	for i, f := range fields {
		v, err := strconv.Atoi(parts[i+2])
		if err != nil {
			return Staff{}, fmt.Errorf("staff %s: %s %q: %w", staff.ID, f.name, parts[i+2], err)
		}
		*f.dst = v
	}

	if len(parts) > 8 {
		v, err := strconv.Atoi(parts[8])
		if err != nil {
			return Staff{}, fmt.Errorf("staff %s: max weekends %q: %w", staff.ID, parts[8], err)
		}
		staff.MaxWeekends = v
	}

	return staff, nil
}

func parseRequestLine(line string) (ShiftRequest, error) {
	parts := strings.Split(line, ",")
	if len(parts) != 4 {
		return ShiftRequest{}, fmt.Errorf("request line %q: want 4 fields, got %d", line, len(parts))
	}

	day, err := strconv.Atoi(parts[1])
	if err != nil {
		return ShiftRequest{}, fmt.Errorf("request for %s: day %q: %w", parts[0], parts[1], err)
	}
	weight, err := strconv.Atoi(parts[3])
	if err != nil {
		return ShiftRequest{}, fmt.Errorf("request for %s: weight %q: %w", parts[0], parts[3], err)
	}

	return ShiftRequest{StaffID: parts[0], Day: day, ShiftID: parts[2], Weight: weight}, nil
}

func parseCoverLine(line string) (CoverRequirement, error) {
	parts := strings.Split(line, ",")
	if len(parts) != 5 {
		return CoverRequirement{}, fmt.Errorf("cover line %q: want 5 fields, got %d", line, len(parts))
	}

	var nums [4]int
	for i, idx := range []int{0, 2, 3, 4} {
		v, err := strconv.Atoi(parts[idx])
		if err != nil {
			return CoverRequirement{}, fmt.Errorf("cover line %q: field %d: %w", line, idx+1, err)
		}
		nums[i] = v
	}

	return CoverRequirement{
		Day:         nums[0],
		ShiftID:     parts[1],
		Required:    nums[1],
		WeightUnder: nums[2],
		WeightOver:  nums[3],
	}, nil
}
