package instance

import (
	"strings"
	"testing"
)

const sampleInstance = `# Rostering instance used across the package tests.
SECTION_HORIZON
# Days in the planning period
14

SECTION_SHIFTS
D,480,
N,480,D

SECTION_STAFF
A,D=14|N=6,14,6720,4320,5,2,2,2
B,,14,6720,4320,5,2,2
C,N=3,10,4800,3600,4,2,1,1

SECTION_DAYS_OFF
A,0,7
B,5

SECTION_SHIFT_ON_REQUESTS
A,2,D,3

SECTION_SHIFT_OFF_REQUESTS
B,3,N,2

SECTION_COVER
0,D,2,100,1
0,N,1,100,1
1,D,2,100,1
`

func TestParseFullInstance(t *testing.T) {
	in, err := ParseString(sampleInstance)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if in.Horizon != 14 {
		t.Fatalf("horizon = %d, want 14", in.Horizon)
	}

	if len(in.Shifts) != 2 {
		t.Fatalf("shifts = %d, want 2", len(in.Shifts))
	}
	if got := in.Shifts[0]; got.ID != "D" || got.LengthMinutes != 480 || len(got.ForbiddenFollowing) != 0 {
		t.Fatalf("unexpected day shift: %+v", got)
	}
	if got := in.Shifts[1]; got.ID != "N" || len(got.ForbiddenFollowing) != 1 || got.ForbiddenFollowing[0] != "D" {
		t.Fatalf("unexpected night shift: %+v", got)
	}

	if len(in.Staff) != 3 {
		t.Fatalf("staff = %d, want 3", len(in.Staff))
	}
	a := in.Staff[0]
	if a.ID != "A" || a.ShiftLimits["D"] != 14 || a.ShiftLimits["N"] != 6 {
		t.Fatalf("unexpected staff A: %+v", a)
	}
	if a.MaxShifts != 14 || a.MaxTotalMinutes != 6720 || a.MinTotalMinutes != 4320 {
		t.Fatalf("unexpected staff A totals: %+v", a)
	}
	if a.MaxConsecutiveShifts != 5 || a.MinConsecutiveShifts != 2 || a.MinConsecutiveDaysOff != 2 {
		t.Fatalf("unexpected staff A run limits: %+v", a)
	}
	if a.MaxWeekends != 2 {
		t.Fatalf("staff A max weekends = %d, want 2", a.MaxWeekends)
	}

	b := in.Staff[1]
	if len(b.ShiftLimits) != 0 {
		t.Fatalf("staff B should have no shift limits, got %v", b.ShiftLimits)
	}
	if b.MaxWeekends != -1 {
		t.Fatalf("staff B max weekends = %d, want -1 (absent)", b.MaxWeekends)
	}

	if got := in.DaysOff["A"]; len(got) != 2 || got[0] != 0 || got[1] != 7 {
		t.Fatalf("days off for A = %v", got)
	}
	if !in.IsDayOff("B", 5) || in.IsDayOff("B", 4) {
		t.Fatal("days off lookup for B is wrong")
	}

	if len(in.ShiftOnRequests) != 1 || in.ShiftOnRequests[0].Weight != 3 {
		t.Fatalf("shift on requests = %+v", in.ShiftOnRequests)
	}
	if len(in.ShiftOffRequests) != 1 || in.ShiftOffRequests[0].ShiftID != "N" {
		t.Fatalf("shift off requests = %+v", in.ShiftOffRequests)
	}

	if len(in.Cover) != 3 {
		t.Fatalf("cover = %d rows, want 3", len(in.Cover))
	}
	if c := in.Cover[1]; c.Day != 0 || c.ShiftID != "N" || c.Required != 1 || c.WeightUnder != 100 || c.WeightOver != 1 {
		t.Fatalf("unexpected cover row: %+v", c)
	}
}

func TestParseSkipsUnknownSections(t *testing.T) {
	in, err := ParseString("SECTION_HORIZON\n7\n\nSECTION_NOISE\nwhatever,1,2\n")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if in.Horizon != 7 {
		t.Fatalf("horizon = %d, want 7", in.Horizon)
	}
}

func TestParseMalformedLines(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"horizon not a number", "SECTION_HORIZON\nabc\n"},
		{"horizon missing", "SECTION_HORIZON\n# only a comment\n"},
		{"shift missing fields", "SECTION_SHIFTS\nD,480\n"},
		{"shift bad length", "SECTION_SHIFTS\nD,long,\n"},
		{"staff too few fields", "SECTION_STAFF\nA,,14,6720,4320,5,2\n"},
		{"staff bad limit", "SECTION_STAFF\nA,D=many,14,6720,4320,5,2,2\n"},
		{"staff bad max weekends", "SECTION_STAFF\nA,,14,6720,4320,5,2,2,soon\n"},
		{"days off bad day", "SECTION_DAYS_OFF\nA,0,x\n"},
		{"request missing fields", "SECTION_SHIFT_ON_REQUESTS\nA,2,D\n"},
		{"cover missing fields", "SECTION_COVER\n0,D,2,100\n"},
		{"cover bad weight", "SECTION_COVER\n0,D,2,heavy,1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseString(tt.content); err == nil {
				t.Fatalf("expected parse error for %q", tt.content)
			}
		})
	}
}

func TestParseFromReader(t *testing.T) {
	in, err := Parse(strings.NewReader(sampleInstance))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(in.Staff) != 3 {
		t.Fatalf("staff = %d, want 3", len(in.Staff))
	}
}

func TestFingerprintIgnoresFormatting(t *testing.T) {
	in1, err := ParseString(sampleInstance)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	// Same content with different comments and spacing.
	reformatted := strings.ReplaceAll(sampleInstance, "# Days in the planning period\n", "\n\n# different comment\n")
	in2, err := ParseString(reformatted)
	if err != nil {
		t.Fatalf("parse reformatted: %v", err)
	}

	if in1.Fingerprint() != in2.Fingerprint() {
		t.Fatal("fingerprints should match for equivalent instances")
	}

	in2.Cover[0].Required++
	if in1.Fingerprint() == in2.Fingerprint() {
		t.Fatal("fingerprints should differ after a content change")
	}
}

func TestMarshalTextRoundTrip(t *testing.T) {
	in, err := ParseString(sampleInstance)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	text, err := in.MarshalText()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	again, err := ParseString(string(text))
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}

	if again.Fingerprint() != in.Fingerprint() {
		t.Fatal("round trip changed the instance fingerprint")
	}
	if again.Staff[1].MaxWeekends != -1 {
		t.Fatal("round trip invented a max weekends value")
	}
}
