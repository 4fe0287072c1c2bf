package engine

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/friendsincode/vakt/internal/instance"
)

// twoShiftInstance is a small roster with a day and a night shift where
// nights must not be followed by days.
func twoShiftInstance() *instance.Instance {
	return &instance.Instance{
		Horizon: 7,
		Shifts: []instance.Shift{
			{ID: "D", LengthMinutes: 480},
			{ID: "N", LengthMinutes: 480, ForbiddenFollowing: []string{"D"}},
		},
		Staff: []instance.Staff{
			{
				ID:                   "A",
				ShiftLimits:          map[string]int{"D": 3, "N": 2},
				MaxShifts:            5,
				MaxTotalMinutes:      2400,
				MinTotalMinutes:      480,
				MaxConsecutiveShifts: 3,
			},
			{
				ID:                   "B",
				ShiftLimits:          map[string]int{"D": 5, "N": 5},
				MaxShifts:            7,
				MaxTotalMinutes:      3360,
				MinTotalMinutes:      0,
				MaxConsecutiveShifts: 5,
			},
		},
		DaysOff: map[string][]int{
			"A": {2},
		},
	}
}

func TestCheckOrderAndOutcomes(t *testing.T) {
	tests := []struct {
		name      string
		setup     []Assignment
		candidate Assignment
		want      Violation
	}{
		{
			name:      "clean day passes",
			candidate: Assignment{StaffID: "A", Day: 0, ShiftID: "D"},
			want:      ViolationNone,
		},
		{
			name:      "unknown staff rejected first",
			candidate: Assignment{StaffID: "Z", Day: 2, ShiftID: "D"},
			want:      ViolationUnknownStaff,
		},
		{
			name:      "day off rejected",
			candidate: Assignment{StaffID: "A", Day: 2, ShiftID: "D"},
			want:      ViolationDayOff,
		},
		{
			name: "day off outranks shift limit",
			setup: []Assignment{
				{StaffID: "A", Day: 0, ShiftID: "N"},
				{StaffID: "A", Day: 4, ShiftID: "N"},
			},
			candidate: Assignment{StaffID: "A", Day: 2, ShiftID: "N"},
			want:      ViolationDayOff,
		},
		{
			name: "shift limit reached",
			setup: []Assignment{
				{StaffID: "A", Day: 0, ShiftID: "N"},
				{StaffID: "A", Day: 4, ShiftID: "N"},
			},
			candidate: Assignment{StaffID: "A", Day: 6, ShiftID: "N"},
			want:      ViolationShiftLimit,
		},
		{
			name: "forbidden succession",
			setup: []Assignment{
				{StaffID: "A", Day: 0, ShiftID: "N"},
			},
			candidate: Assignment{StaffID: "A", Day: 1, ShiftID: "D"},
			want:      ViolationSuccession,
		},
		{
			name: "succession only binds adjacent days",
			setup: []Assignment{
				{StaffID: "A", Day: 0, ShiftID: "N"},
			},
			candidate: Assignment{StaffID: "A", Day: 3, ShiftID: "D"},
			want:      ViolationNone,
		},
		{
			name: "night after night allowed",
			setup: []Assignment{
				{StaffID: "A", Day: 0, ShiftID: "N"},
			},
			candidate: Assignment{StaffID: "A", Day: 1, ShiftID: "N"},
			want:      ViolationNone,
		},
		{
			name: "consecutive run capped",
			setup: []Assignment{
				{StaffID: "A", Day: 3, ShiftID: "D"},
				{StaffID: "A", Day: 4, ShiftID: "D"},
				{StaffID: "A", Day: 5, ShiftID: "D"},
			},
			candidate: Assignment{StaffID: "A", Day: 6, ShiftID: "N"},
			want:      ViolationConsecutive,
		},
		{
			name: "gap resets the consecutive run",
			setup: []Assignment{
				{StaffID: "B", Day: 0, ShiftID: "D"},
				{StaffID: "B", Day: 2, ShiftID: "D"},
				{StaffID: "B", Day: 3, ShiftID: "D"},
			},
			candidate: Assignment{StaffID: "B", Day: 4, ShiftID: "D"},
			want:      ViolationNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(twoShiftInstance(), zerolog.Nop())
			for _, a := range tt.setup {
				if v := s.Check(a); v != ViolationNone {
					t.Fatalf("setup assignment %+v rejected: %s", a, v)
				}
				s.commit(a)
			}

			if got := s.Check(tt.candidate); got != tt.want {
				t.Errorf("Check(%+v) = %q, want %q", tt.candidate, got, tt.want)
			}
		})
	}
}

func TestCheckIsPure(t *testing.T) {
	s := New(twoShiftInstance(), zerolog.Nop())
	s.commit(Assignment{StaffID: "A", Day: 0, ShiftID: "N"})

	candidate := Assignment{StaffID: "A", Day: 1, ShiftID: "D"}
	first := s.Check(candidate)

	for i := 0; i < 10; i++ {
		if got := s.Check(candidate); got != first {
			t.Fatalf("Check result changed on call %d: %q then %q", i+2, first, got)
		}
	}

	if s.Len() != 1 {
		t.Errorf("Check mutated the schedule: Len = %d, want 1", s.Len())
	}
	if !s.CanAssign(Assignment{StaffID: "B", Day: 0, ShiftID: "D"}) {
		t.Error("CanAssign rejected a clean candidate")
	}
	if s.Len() != 1 {
		t.Errorf("CanAssign mutated the schedule: Len = %d, want 1", s.Len())
	}
}

func TestConsecutiveCountsAnyShift(t *testing.T) {
	// The run counter cares about working at all, not which shift.
	s := New(twoShiftInstance(), zerolog.Nop())
	s.commit(Assignment{StaffID: "A", Day: 3, ShiftID: "D"})
	s.commit(Assignment{StaffID: "A", Day: 4, ShiftID: "N"})
	s.commit(Assignment{StaffID: "A", Day: 5, ShiftID: "D"})

	// Days 3-5 mix day and night shifts but still form a run of three,
	// so a fourth working day breaks A's cap.
	if v := s.Check(Assignment{StaffID: "A", Day: 6, ShiftID: "N"}); v != ViolationConsecutive {
		t.Fatalf("Check = %q, want %q", v, ViolationConsecutive)
	}

	// B is untouched by A's run.
	if v := s.Check(Assignment{StaffID: "B", Day: 6, ShiftID: "N"}); v != ViolationNone {
		t.Fatalf("other staff affected by A's run: %s", v)
	}
}

func TestSuccessionUsesMostRecentCommit(t *testing.T) {
	// The succession rule reads the trailing committed entry, which the
	// weight-ordered fill may have placed on a later calendar day.
	s := New(twoShiftInstance(), zerolog.Nop())
	s.commit(Assignment{StaffID: "B", Day: 0, ShiftID: "N"})
	s.commit(Assignment{StaffID: "B", Day: 5, ShiftID: "D"})

	// Day 1 follows the night on day 0 chronologically, but the trailing
	// commit is the day shift on day 5, so the candidate passes.
	if v := s.Check(Assignment{StaffID: "B", Day: 1, ShiftID: "D"}); v != ViolationNone {
		t.Errorf("Check = %q, want pass against trailing commit", v)
	}

	// The reverse ordering trips the rule.
	s2 := New(twoShiftInstance(), zerolog.Nop())
	s2.commit(Assignment{StaffID: "B", Day: 5, ShiftID: "D"})
	s2.commit(Assignment{StaffID: "B", Day: 0, ShiftID: "N"})
	if v := s2.Check(Assignment{StaffID: "B", Day: 1, ShiftID: "D"}); v != ViolationSuccession {
		t.Errorf("Check = %q, want %q", v, ViolationSuccession)
	}
}

func TestIndexesStayConsistent(t *testing.T) {
	inst := twoShiftInstance()
	s := New(inst, zerolog.Nop())

	commits := []Assignment{
		{StaffID: "A", Day: 0, ShiftID: "D"},
		{StaffID: "B", Day: 0, ShiftID: "D"},
		{StaffID: "B", Day: 1, ShiftID: "N"},
		{StaffID: "A", Day: 3, ShiftID: "N"},
		{StaffID: "B", Day: 3, ShiftID: "N"},
	}
	for _, a := range commits {
		s.commit(a)
	}

	if s.Len() != len(commits) {
		t.Fatalf("Len = %d, want %d", s.Len(), len(commits))
	}

	perStaffTotal := 0
	for _, n := range s.PerStaffCounts() {
		perStaffTotal += n
	}
	if perStaffTotal != s.Len() {
		t.Errorf("per-staff total = %d, want %d", perStaffTotal, s.Len())
	}

	perSlotTotal := 0
	for day := 0; day < inst.Horizon; day++ {
		for _, shift := range inst.Shifts {
			perSlotTotal += s.Assigned(day, shift.ID)
		}
	}
	if perSlotTotal != s.Len() {
		t.Errorf("per-slot total = %d, want %d", perSlotTotal, s.Len())
	}

	if got := s.Assigned(3, "N"); got != 2 {
		t.Errorf("Assigned(3, N) = %d, want 2", got)
	}
	if got := len(s.StaffAssignments("B")); got != 3 {
		t.Errorf("StaffAssignments(B) len = %d, want 3", got)
	}

	// Returned slices are copies; mutating them must not touch the roster.
	all := s.Assignments()
	all[0].StaffID = "mutated"
	if s.Assignments()[0].StaffID != "A" {
		t.Error("Assignments returned shared backing storage")
	}
	mine := s.StaffAssignments("A")
	mine[0].Day = 99
	if s.StaffAssignments("A")[0].Day != 0 {
		t.Error("StaffAssignments returned shared backing storage")
	}
}

func TestPerStaffCountsIncludesIdleStaff(t *testing.T) {
	s := New(twoShiftInstance(), zerolog.Nop())
	s.commit(Assignment{StaffID: "A", Day: 0, ShiftID: "D"})

	counts := s.PerStaffCounts()
	if counts["A"] != 1 {
		t.Errorf("counts[A] = %d, want 1", counts["A"])
	}
	if n, ok := counts["B"]; !ok || n != 0 {
		t.Errorf("counts[B] = %d (present=%v), want explicit 0", n, ok)
	}
}

func TestCheckWithoutLimitForShift(t *testing.T) {
	// A staff member with no limit entry for a shift can take it without
	// a quota check.
	inst := twoShiftInstance()
	inst.Staff[1].ShiftLimits = map[string]int{"D": 5}
	s := New(inst, zerolog.Nop())

	for day := 0; day < 5; day++ {
		a := Assignment{StaffID: "B", Day: day, ShiftID: "N"}
		if v := s.Check(a); v != ViolationNone {
			t.Fatalf("day %d: Check = %q, want pass", day, v)
		}
		s.commit(a)
	}
}

func TestZeroLimitBlocksShiftEntirely(t *testing.T) {
	inst := twoShiftInstance()
	inst.Staff[0].ShiftLimits["N"] = 0
	s := New(inst, zerolog.Nop())

	if v := s.Check(Assignment{StaffID: "A", Day: 0, ShiftID: "N"}); v != ViolationShiftLimit {
		t.Errorf("Check = %q, want %q", v, ViolationShiftLimit)
	}
}
