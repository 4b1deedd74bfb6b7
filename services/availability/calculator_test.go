package availability

import (
	"testing"
	"time"

	"clinsched/models"
)

// Monday 2025-06-02 in the clinic's timezone, working 9:00-12:00.
func testCalculator(t *testing.T) Calculator {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return Calculator{
		ProviderID:   "prov-1",
		Location:     loc,
		RangeStart:   time.Date(2025, 6, 2, 0, 0, 0, 0, loc),
		RangeEnd:     time.Date(2025, 6, 3, 0, 0, 0, 0, loc),
		SlotDuration: 30 * time.Minute,
		Schedule: models.ProviderSchedule{
			ProviderID: "prov-1",
			ClinicID:   "clinic-1",
			Timezone:   "America/New_York",
			Windows: []models.WorkingWindow{
				{Weekday: time.Monday, StartMinute: 540, EndMinute: 720},
			},
		},
		Now: time.Date(2025, 6, 1, 12, 0, 0, 0, loc),
	}
}

func localClock(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("15:04")
}

func TestSlotsWithinWindow(t *testing.T) {
	calc := testCalculator(t)
	calc.Booked = []models.BookedInterval{
		{
			ProviderID: "prov-1",
			Start:      time.Date(2025, 6, 2, 10, 0, 0, 0, calc.Location),
			End:        time.Date(2025, 6, 2, 10, 30, 0, 0, calc.Location),
		},
	}

	slots := calc.Compute()
	if len(slots) != 6 {
		t.Fatalf("expected 6 slots in a 9:00-12:00 window, got %d", len(slots))
	}

	wantAvailable := map[string]bool{
		"09:00": true,
		"09:30": true,
		"10:00": false,
		"10:30": true,
		"11:00": true,
		"11:30": true,
	}
	for i, s := range slots {
		clock := localClock(s.Start, calc.Location)
		want, ok := wantAvailable[clock]
		if !ok {
			t.Fatalf("unexpected slot at %s", clock)
		}
		if s.Available != want {
			t.Errorf("slot %s: available = %v, want %v", clock, s.Available, want)
		}
		if i > 0 && !slots[i-1].Start.Before(s.Start) {
			t.Errorf("slots out of order at index %d", i)
		}
		if s.End().Sub(s.Start) != 30*time.Minute {
			t.Errorf("slot %s: wrong duration", clock)
		}
	}
}

func TestSlotsRestartable(t *testing.T) {
	calc := testCalculator(t)

	first := calc.Compute()
	second := calc.Compute()
	if len(first) != len(second) {
		t.Fatalf("re-iteration changed slot count: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if !first[i].Start.Equal(second[i].Start) || first[i].Available != second[i].Available {
			t.Errorf("re-iteration diverged at index %d", i)
		}
	}
}

func TestSlotsEarlyStop(t *testing.T) {
	calc := testCalculator(t)

	var got []models.Slot
	for s := range calc.Slots() {
		got = append(got, s)
		if len(got) == 2 {
			break
		}
	}
	if len(got) != 2 {
		t.Fatalf("expected early stop after 2 slots, got %d", len(got))
	}
	if localClock(got[0].Start, calc.Location) != "09:00" || localClock(got[1].Start, calc.Location) != "09:30" {
		t.Errorf("early slots wrong: %s, %s",
			localClock(got[0].Start, calc.Location), localClock(got[1].Start, calc.Location))
	}
}

func TestOverlappingWindowsUnion(t *testing.T) {
	calc := testCalculator(t)
	calc.Schedule.Windows = []models.WorkingWindow{
		{Weekday: time.Monday, StartMinute: 540, EndMinute: 660},
		{Weekday: time.Monday, StartMinute: 630, EndMinute: 720},
	}

	slots := calc.Compute()
	if len(slots) != 6 {
		t.Fatalf("overlapping windows must union, expected 6 slots, got %d", len(slots))
	}
	seen := map[string]bool{}
	for _, s := range slots {
		clock := localClock(s.Start, calc.Location)
		if seen[clock] {
			t.Fatalf("duplicate slot at %s", clock)
		}
		seen[clock] = true
	}
}

func TestTrailingPartialSlotDropped(t *testing.T) {
	calc := testCalculator(t)
	// 9:00-9:45 fits one 30-minute slot; the trailing 15 minutes are dropped.
	calc.Schedule.Windows = []models.WorkingWindow{
		{Weekday: time.Monday, StartMinute: 540, EndMinute: 585},
	}

	slots := calc.Compute()
	if len(slots) != 1 {
		t.Fatalf("expected 1 slot, got %d", len(slots))
	}
	if localClock(slots[0].Start, calc.Location) != "09:00" {
		t.Errorf("expected slot at 09:00, got %s", localClock(slots[0].Start, calc.Location))
	}
}

func TestEmptyRange(t *testing.T) {
	calc := testCalculator(t)
	calc.RangeEnd = calc.RangeStart

	if slots := calc.Compute(); len(slots) != 0 {
		t.Fatalf("zero-width range must produce no slots, got %d", len(slots))
	}
}

func TestClosedExceptionDay(t *testing.T) {
	calc := testCalculator(t)
	calc.Schedule.Exceptions = []models.ScheduleException{
		{Date: "2025-06-02", Closed: true},
	}

	if slots := calc.Compute(); len(slots) != 0 {
		t.Fatalf("closed exception day must produce no slots, got %d", len(slots))
	}
}

func TestLeaseBlocksSlot(t *testing.T) {
	calc := testCalculator(t)
	start := time.Date(2025, 6, 2, 9, 30, 0, 0, calc.Location)
	calc.Leases = []models.Lease{
		{
			ProviderID: "prov-1",
			SlotStart:  start,
			SlotEnd:    start.Add(30 * time.Minute),
			ExpiresAt:  calc.Now.Add(5 * time.Minute),
		},
	}

	for _, s := range calc.Compute() {
		want := !s.Start.Equal(start)
		if s.Available != want {
			t.Errorf("slot %s: available = %v, want %v", localClock(s.Start, calc.Location), s.Available, want)
		}
	}
}

func TestExpiredLeaseIgnored(t *testing.T) {
	calc := testCalculator(t)
	start := time.Date(2025, 6, 2, 9, 30, 0, 0, calc.Location)
	calc.Leases = []models.Lease{
		{
			ProviderID: "prov-1",
			SlotStart:  start,
			SlotEnd:    start.Add(30 * time.Minute),
			ExpiresAt:  calc.Now.Add(-time.Second),
		},
	}

	for _, s := range calc.Compute() {
		if !s.Available {
			t.Errorf("slot %s blocked by an expired lease", localClock(s.Start, calc.Location))
		}
	}
}

func TestDSTTransitionKeepsWallClock(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	// 2025-03-09 is the spring-forward Sunday in the US.
	calc := Calculator{
		ProviderID:   "prov-1",
		Location:     loc,
		RangeStart:   time.Date(2025, 3, 9, 0, 0, 0, 0, loc),
		RangeEnd:     time.Date(2025, 3, 10, 0, 0, 0, 0, loc),
		SlotDuration: 30 * time.Minute,
		Schedule: models.ProviderSchedule{
			ProviderID: "prov-1",
			Timezone:   "America/New_York",
			Windows: []models.WorkingWindow{
				{Weekday: time.Sunday, StartMinute: 540, EndMinute: 720},
			},
		},
		Now: time.Date(2025, 3, 8, 12, 0, 0, 0, loc),
	}

	slots := calc.Compute()
	if len(slots) == 0 {
		t.Fatal("expected slots on the transition day")
	}
	if got := localClock(slots[0].Start, loc); got != "09:00" {
		t.Errorf("first slot wall clock = %s, want 09:00", got)
	}
}

func TestDaySummaries(t *testing.T) {
	calc := testCalculator(t)
	loc := calc.Location
	calc.RangeEnd = time.Date(2025, 6, 5, 0, 0, 0, 0, loc)
	calc.Schedule.Windows = []models.WorkingWindow{
		{Weekday: time.Monday, StartMinute: 540, EndMinute: 720},  // 6 slots: high
		{Weekday: time.Tuesday, StartMinute: 540, EndMinute: 600}, // 2 slots: low
		{Weekday: time.Wednesday, StartMinute: 540, EndMinute: 600},
	}
	// Fill Wednesday completely so it buckets as none.
	calc.Booked = []models.BookedInterval{
		{
			ProviderID: "prov-1",
			Start:      time.Date(2025, 6, 4, 9, 0, 0, 0, loc),
			End:        time.Date(2025, 6, 4, 10, 0, 0, 0, loc),
		},
	}

	summaries := calc.DaySummaries()
	want := map[string]models.DayLevel{
		"2025-06-02": models.DayLevelHigh,
		"2025-06-03": models.DayLevelLow,
		"2025-06-04": models.DayLevelNone,
	}
	if len(summaries) != len(want) {
		t.Fatalf("expected %d summarized days, got %d", len(want), len(summaries))
	}
	for _, s := range summaries {
		if want[s.Date] != s.Level {
			t.Errorf("day %s: level = %s, want %s", s.Date, s.Level, want[s.Date])
		}
		if calc.DayLevel(s.Date) != s.Level {
			t.Errorf("day %s: DayLevel diverges from DaySummaries", s.Date)
		}
		if calc.HasOpenSlot(s.Date) != (s.OpenSlots > 0) {
			t.Errorf("day %s: HasOpenSlot diverges from open-slot count", s.Date)
		}
	}
}
