package engine

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/rs/zerolog"

	"github.com/friendsincode/vakt/internal/instance"
)

// soloInstance is a one-person roster with a single day shift.
func soloInstance(maxConsecutive int, cover []instance.CoverRequirement) *instance.Instance {
	return &instance.Instance{
		Horizon: 7,
		Shifts: []instance.Shift{
			{ID: "D", LengthMinutes: 480},
		},
		Staff: []instance.Staff{
			{
				ID:                   "S1",
				ShiftLimits:          map[string]int{"D": 14},
				MaxShifts:            14,
				MaxTotalMinutes:      6720,
				MaxConsecutiveShifts: maxConsecutive,
			},
		},
		DaysOff: map[string][]int{},
		Cover:   cover,
	}
}

func TestFillSingleRequirement(t *testing.T) {
	inst := soloInstance(5, []instance.CoverRequirement{
		{Day: 0, ShiftID: "D", Required: 1, WeightUnder: 10, WeightOver: 1},
	})

	s := New(inst, zerolog.Nop())
	result, err := s.Fill(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Fill: %v", err)
	}

	if !result.Complete {
		t.Error("Complete = false, want true")
	}
	want := []Assignment{{StaffID: "S1", Day: 0, ShiftID: "D"}}
	if !reflect.DeepEqual(result.Assignments, want) {
		t.Errorf("Assignments = %+v, want %+v", result.Assignments, want)
	}
	if len(result.Shortfalls) != 0 {
		t.Errorf("Shortfalls = %+v, want none", result.Shortfalls)
	}
	if result.PerStaff["S1"] != 1 {
		t.Errorf("PerStaff[S1] = %d, want 1", result.PerStaff["S1"])
	}
	if result.Stats.Requirements != 1 || result.Stats.Filled != 1 || result.Stats.Committed != 1 {
		t.Errorf("Stats = %+v, want 1 requirement filled with 1 commit", result.Stats)
	}
}

func TestFillStopsAtConsecutiveCap(t *testing.T) {
	inst := soloInstance(2, []instance.CoverRequirement{
		{Day: 0, ShiftID: "D", Required: 1, WeightUnder: 10, WeightOver: 1},
		{Day: 1, ShiftID: "D", Required: 1, WeightUnder: 10, WeightOver: 1},
		{Day: 2, ShiftID: "D", Required: 1, WeightUnder: 10, WeightOver: 1},
	})

	s := New(inst, zerolog.Nop())
	result, err := s.Fill(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Fill: %v", err)
	}

	if result.Complete {
		t.Error("Complete = true, want false")
	}
	want := []Assignment{
		{StaffID: "S1", Day: 0, ShiftID: "D"},
		{StaffID: "S1", Day: 1, ShiftID: "D"},
	}
	if !reflect.DeepEqual(result.Assignments, want) {
		t.Errorf("Assignments = %+v, want %+v", result.Assignments, want)
	}
	wantShort := []Shortfall{{Day: 2, ShiftID: "D", Missing: 1}}
	if !reflect.DeepEqual(result.Shortfalls, wantShort) {
		t.Errorf("Shortfalls = %+v, want %+v", result.Shortfalls, wantShort)
	}
}

func TestFillRespectsDaysOff(t *testing.T) {
	inst := soloInstance(5, []instance.CoverRequirement{
		{Day: 0, ShiftID: "D", Required: 1, WeightUnder: 10, WeightOver: 1},
	})
	inst.DaysOff["S1"] = []int{0}

	s := New(inst, zerolog.Nop())
	result, err := s.Fill(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Fill: %v", err)
	}

	if result.Complete {
		t.Error("Complete = true, want false")
	}
	if len(result.Assignments) != 0 {
		t.Errorf("Assignments = %+v, want none", result.Assignments)
	}
	wantShort := []Shortfall{{Day: 0, ShiftID: "D", Missing: 1}}
	if !reflect.DeepEqual(result.Shortfalls, wantShort) {
		t.Errorf("Shortfalls = %+v, want %+v", result.Shortfalls, wantShort)
	}
	if result.Stats.ChecksByRule["day_off"] != 1 {
		t.Errorf("ChecksByRule = %+v, want one day_off rejection", result.Stats.ChecksByRule)
	}
}

func TestFillVisitsHeaviestRequirementFirst(t *testing.T) {
	inst := soloInstance(5, []instance.CoverRequirement{
		{Day: 1, ShiftID: "D", Required: 1, WeightUnder: 5, WeightOver: 1},
		{Day: 3, ShiftID: "D", Required: 1, WeightUnder: 50, WeightOver: 1},
	})
	inst.Staff[0].ShiftLimits["D"] = 1

	s := New(inst, zerolog.Nop())
	result, err := s.Fill(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Fill: %v", err)
	}

	// Only one D shift is available; it must go to the heavier day 3.
	want := []Assignment{{StaffID: "S1", Day: 3, ShiftID: "D"}}
	if !reflect.DeepEqual(result.Assignments, want) {
		t.Errorf("Assignments = %+v, want %+v", result.Assignments, want)
	}
	wantShort := []Shortfall{{Day: 1, ShiftID: "D", Missing: 1}}
	if !reflect.DeepEqual(result.Shortfalls, wantShort) {
		t.Errorf("Shortfalls = %+v, want %+v", result.Shortfalls, wantShort)
	}
}

func TestFillKeepsInputOrderOnEqualWeights(t *testing.T) {
	inst := soloInstance(5, []instance.CoverRequirement{
		{Day: 5, ShiftID: "D", Required: 1, WeightUnder: 10, WeightOver: 1},
		{Day: 2, ShiftID: "D", Required: 1, WeightUnder: 10, WeightOver: 1},
	})
	inst.Staff[0].ShiftLimits["D"] = 1

	s := New(inst, zerolog.Nop())
	result, err := s.Fill(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Fill: %v", err)
	}

	// Equal weights keep the listed order, so day 5 wins the one shift.
	want := []Assignment{{StaffID: "S1", Day: 5, ShiftID: "D"}}
	if !reflect.DeepEqual(result.Assignments, want) {
		t.Errorf("Assignments = %+v, want %+v", result.Assignments, want)
	}
}

func TestFillTriesStaffInListedOrder(t *testing.T) {
	inst := &instance.Instance{
		Horizon: 3,
		Shifts:  []instance.Shift{{ID: "D", LengthMinutes: 480}},
		Staff: []instance.Staff{
			{ID: "S1", ShiftLimits: map[string]int{"D": 5}, MaxConsecutiveShifts: 5},
			{ID: "S2", ShiftLimits: map[string]int{"D": 5}, MaxConsecutiveShifts: 5},
		},
		Cover: []instance.CoverRequirement{
			{Day: 0, ShiftID: "D", Required: 2, WeightUnder: 10, WeightOver: 1},
		},
	}

	s := New(inst, zerolog.Nop())
	result, err := s.Fill(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Fill: %v", err)
	}

	want := []Assignment{
		{StaffID: "S1", Day: 0, ShiftID: "D"},
		{StaffID: "S2", Day: 0, ShiftID: "D"},
	}
	if !reflect.DeepEqual(result.Assignments, want) {
		t.Errorf("Assignments = %+v, want %+v", result.Assignments, want)
	}
}

func TestFillStopAtFirstShortfall(t *testing.T) {
	cover := []instance.CoverRequirement{
		{Day: 0, ShiftID: "D", Required: 1, WeightUnder: 50, WeightOver: 1},
		{Day: 1, ShiftID: "D", Required: 1, WeightUnder: 10, WeightOver: 1},
	}

	build := func() *instance.Instance {
		inst := soloInstance(5, cover)
		inst.DaysOff["S1"] = []int{0}
		return inst
	}

	// Default: the pass continues past the day 0 shortfall and fills day 1.
	s := New(build(), zerolog.Nop())
	result, err := s.Fill(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Fill: %v", err)
	}
	if len(result.Assignments) != 1 || result.Assignments[0].Day != 1 {
		t.Errorf("Assignments = %+v, want day 1 filled", result.Assignments)
	}
	if len(result.Shortfalls) != 1 {
		t.Errorf("Shortfalls = %+v, want one", result.Shortfalls)
	}

	// Stopping early leaves day 1 unattempted.
	s = New(build(), zerolog.Nop())
	result, err = s.Fill(context.Background(), Options{StopAtFirstShortfall: true})
	if err != nil {
		t.Fatalf("Fill: %v", err)
	}
	if len(result.Assignments) != 0 {
		t.Errorf("Assignments = %+v, want none", result.Assignments)
	}
	if result.Stats.Checks != 1 {
		t.Errorf("Checks = %d, want 1 (day 1 never attempted)", result.Stats.Checks)
	}
}

func TestFillHonoursCancellation(t *testing.T) {
	inst := soloInstance(5, []instance.CoverRequirement{
		{Day: 0, ShiftID: "D", Required: 1, WeightUnder: 10, WeightOver: 1},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New(inst, zerolog.Nop())
	result, err := s.Fill(ctx, Options{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Fill err = %v, want context.Canceled", err)
	}
	if result != nil {
		t.Errorf("result = %+v, want nil", result)
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d, want 0", s.Len())
	}
}

func TestFillSkipsAlreadySatisfiedRequirements(t *testing.T) {
	// Two rows for the same slot with the same required count: the second
	// sees the slot full and commits nothing.
	inst := soloInstance(5, []instance.CoverRequirement{
		{Day: 0, ShiftID: "D", Required: 1, WeightUnder: 10, WeightOver: 1},
		{Day: 0, ShiftID: "D", Required: 1, WeightUnder: 9, WeightOver: 1},
	})

	s := New(inst, zerolog.Nop())
	result, err := s.Fill(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Fill: %v", err)
	}

	if len(result.Assignments) != 1 {
		t.Errorf("Assignments = %+v, want one", result.Assignments)
	}
	if result.Stats.Filled != 2 {
		t.Errorf("Filled = %d, want 2", result.Stats.Filled)
	}
}

func TestFillRaisedCoverReusesStaff(t *testing.T) {
	// A second row for the same slot with a higher required count pulls
	// the same person in again. The roster records both entries.
	inst := soloInstance(5, []instance.CoverRequirement{
		{Day: 0, ShiftID: "D", Required: 1, WeightUnder: 10, WeightOver: 1},
		{Day: 0, ShiftID: "D", Required: 2, WeightUnder: 9, WeightOver: 1},
	})

	s := New(inst, zerolog.Nop())
	result, err := s.Fill(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Fill: %v", err)
	}

	want := []Assignment{
		{StaffID: "S1", Day: 0, ShiftID: "D"},
		{StaffID: "S1", Day: 0, ShiftID: "D"},
	}
	if !reflect.DeepEqual(result.Assignments, want) {
		t.Errorf("Assignments = %+v, want %+v", result.Assignments, want)
	}
	if !result.Complete {
		t.Error("Complete = false, want true")
	}
}

func TestFillToleratesCoverForUnknownShift(t *testing.T) {
	// Cover rows naming a shift the instance never defines still staff
	// the slot; no rule can bind to an undefined shift.
	inst := soloInstance(5, []instance.CoverRequirement{
		{Day: 0, ShiftID: "X", Required: 1, WeightUnder: 10, WeightOver: 1},
		{Day: 1, ShiftID: "X", Required: 1, WeightUnder: 9, WeightOver: 1},
	})

	s := New(inst, zerolog.Nop())
	result, err := s.Fill(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Fill: %v", err)
	}

	if len(result.Assignments) != 2 {
		t.Errorf("Assignments = %+v, want two", result.Assignments)
	}
	for _, a := range result.Assignments {
		if a.ShiftID != "X" {
			t.Errorf("ShiftID = %q, want X", a.ShiftID)
		}
	}
}

func TestFillIsDeterministic(t *testing.T) {
	inst := rosterInstance()

	run := func() *Result {
		s := New(inst, zerolog.Nop())
		result, err := s.Fill(context.Background(), Options{})
		if err != nil {
			t.Fatalf("Fill: %v", err)
		}
		return result
	}

	first := run()
	second := run()

	if !reflect.DeepEqual(first.Assignments, second.Assignments) {
		t.Error("two fills over the same instance produced different rosters")
	}
	if !reflect.DeepEqual(first.Shortfalls, second.Shortfalls) {
		t.Error("two fills over the same instance produced different shortfalls")
	}
}

// rosterInstance is a fuller week: three shifts, four staff, cover listed
// chronologically with equal weights.
func rosterInstance() *instance.Instance {
	inst := &instance.Instance{
		Horizon: 7,
		Shifts: []instance.Shift{
			{ID: "E", LengthMinutes: 480},
			{ID: "L", LengthMinutes: 480, ForbiddenFollowing: []string{"E"}},
			{ID: "N", LengthMinutes: 600, ForbiddenFollowing: []string{"E", "L"}},
		},
		Staff: []instance.Staff{
			{ID: "W1", ShiftLimits: map[string]int{"E": 3, "L": 3, "N": 2}, MaxConsecutiveShifts: 4},
			{ID: "W2", ShiftLimits: map[string]int{"E": 3, "L": 3, "N": 2}, MaxConsecutiveShifts: 3},
			{ID: "W3", ShiftLimits: map[string]int{"E": 4, "L": 2, "N": 2}, MaxConsecutiveShifts: 5},
			{ID: "W4", ShiftLimits: map[string]int{"E": 2, "L": 4, "N": 3}, MaxConsecutiveShifts: 2},
		},
		DaysOff: map[string][]int{
			"W1": {3},
			"W3": {0, 6},
		},
	}
	for day := 0; day < inst.Horizon; day++ {
		inst.Cover = append(inst.Cover,
			instance.CoverRequirement{Day: day, ShiftID: "E", Required: 1, WeightUnder: 10, WeightOver: 1},
			instance.CoverRequirement{Day: day, ShiftID: "L", Required: 1, WeightUnder: 10, WeightOver: 1},
			instance.CoverRequirement{Day: day, ShiftID: "N", Required: 1, WeightUnder: 10, WeightOver: 1},
		)
	}
	return inst
}

func TestFillUpholdsRosterRules(t *testing.T) {
	// Equal weights and chronological cover keep each person's commit
	// order chronological, so every rule can be audited on the output.
	inst := rosterInstance()
	s := New(inst, zerolog.Nop())
	result, err := s.Fill(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Fill: %v", err)
	}

	offDays := make(map[string]map[int]bool)
	for staffID, days := range inst.DaysOff {
		offDays[staffID] = make(map[int]bool)
		for _, d := range days {
			offDays[staffID][d] = true
		}
	}
	limits := make(map[string]map[string]int)
	caps := make(map[string]int)
	for _, st := range inst.Staff {
		limits[st.ID] = st.ShiftLimits
		caps[st.ID] = st.MaxConsecutiveShifts
	}
	forbidden := make(map[string]map[string]bool)
	for _, sh := range inst.Shifts {
		forbidden[sh.ID] = make(map[string]bool)
		for _, f := range sh.ForbiddenFollowing {
			forbidden[sh.ID][f] = true
		}
	}

	type slot struct {
		day   int
		shift string
	}
	perStaffShift := make(map[string]map[string]int)
	worked := make(map[string]map[int]string)
	slots := make(map[slot]int)

	for _, a := range result.Assignments {
		if offDays[a.StaffID][a.Day] {
			t.Errorf("%s assigned on day off %d", a.StaffID, a.Day)
		}
		if perStaffShift[a.StaffID] == nil {
			perStaffShift[a.StaffID] = make(map[string]int)
		}
		perStaffShift[a.StaffID][a.ShiftID]++
		if worked[a.StaffID] == nil {
			worked[a.StaffID] = make(map[int]string)
		}
		worked[a.StaffID][a.Day] = a.ShiftID
		slots[slot{a.Day, a.ShiftID}]++
	}

	for staffID, byShift := range perStaffShift {
		for shiftID, n := range byShift {
			if limit, ok := limits[staffID][shiftID]; ok && n > limit {
				t.Errorf("%s worked %s %d times, limit %d", staffID, shiftID, n, limit)
			}
		}
	}

	for staffID, days := range worked {
		for day, shiftID := range days {
			if prev, ok := days[day-1]; ok && forbidden[prev][shiftID] {
				t.Errorf("%s works %s on day %d right after %s", staffID, shiftID, day, prev)
			}
		}
		run := 0
		for day := 0; day < inst.Horizon; day++ {
			if _, ok := days[day]; ok {
				run++
				if run > caps[staffID] {
					t.Errorf("%s works %d consecutive days, cap %d", staffID, run, caps[staffID])
				}
			} else {
				run = 0
			}
		}
	}

	for sl, n := range slots {
		if n > 1 {
			t.Errorf("slot (%d,%s) staffed %d times with required 1", sl.day, sl.shift, n)
		}
	}

	// The three views agree on totals.
	perStaffTotal := 0
	for _, n := range result.PerStaff {
		perStaffTotal += n
	}
	if perStaffTotal != len(result.Assignments) {
		t.Errorf("per-staff total %d != %d assignments", perStaffTotal, len(result.Assignments))
	}
	if result.Stats.Committed != len(result.Assignments) {
		t.Errorf("Committed = %d, want %d", result.Stats.Committed, len(result.Assignments))
	}
	if result.Stats.Filled+len(result.Shortfalls) != result.Stats.Requirements {
		t.Errorf("Filled %d + shortfalls %d != requirements %d",
			result.Stats.Filled, len(result.Shortfalls), result.Stats.Requirements)
	}
}
