package availability

import (
	"iter"
	"sort"
	"time"

	"clinsched/models"
)

// Calculator computes a provider's bookable slots from the clinic schedule,
// existing appointments, and active leases. It has no side effects: the same
// inputs always produce the same sequence, so it is safe to call concurrently
// and to re-run after any mutating event.
//
// Schedule windows are defined in clinic-local time; every emitted Slot
// carries absolute instants, so daylight-saving shifts and cross-timezone
// display never change what is being compared. A display timezone is purely a
// presentation concern for callers.
type Calculator struct {
	ProviderID   string
	Location     *time.Location // clinic timezone
	RangeStart   time.Time      // inclusive
	RangeEnd     time.Time      // exclusive
	SlotDuration time.Duration
	Schedule     models.ProviderSchedule
	Booked       []models.BookedInterval
	Leases       []models.Lease
	Now          time.Time // used only to filter expired leases
}

// Slots returns a finite, restartable lazy sequence of candidate slots in
// ascending start order, one per SlotDuration increment across every working
// window intersecting the range. Slots outside a working window are never
// emitted; a trailing partial slot that does not fit the window is dropped.
func (c Calculator) Slots() iter.Seq[models.Slot] {
	return func(yield func(models.Slot) bool) {
		if c.SlotDuration <= 0 || !c.RangeStart.Before(c.RangeEnd) {
			return
		}

		loc := c.Location
		if loc == nil {
			loc = time.UTC
		}

		localStart := c.RangeStart.In(loc)
		localEnd := c.RangeEnd.In(loc)
		day := time.Date(localStart.Year(), localStart.Month(), localStart.Day(), 0, 0, 0, 0, loc)

		for !day.After(localEnd) {
			for _, w := range mergeWindows(c.Schedule.WindowsFor(day)) {
				winStart := minuteOfDay(day, w.StartMinute, loc)
				winEnd := minuteOfDay(day, w.EndMinute, loc)

				for cur := winStart; !cur.Add(c.SlotDuration).After(winEnd); cur = cur.Add(c.SlotDuration) {
					if cur.Before(c.RangeStart) || !cur.Before(c.RangeEnd) {
						continue
					}
					slot := models.Slot{
						ProviderID:      c.ProviderID,
						Start:           cur,
						DurationMinutes: int(c.SlotDuration / time.Minute),
						Available:       c.open(cur, cur.Add(c.SlotDuration)),
					}
					if !yield(slot) {
						return
					}
				}
			}
			day = day.AddDate(0, 0, 1)
		}
	}
}

// Compute materializes the slot sequence into a slice for transport layers.
func (c Calculator) Compute() []models.Slot {
	var slots []models.Slot
	for s := range c.Slots() {
		slots = append(slots, s)
	}
	return slots
}

// open reports whether [start, end) is free of booked intervals and of
// active, non-expired leases. Expiry is passive: a lease past its ExpiresAt
// counts as non-existent here.
func (c Calculator) open(start, end time.Time) bool {
	for _, b := range c.Booked {
		if b.ProviderID == c.ProviderID && b.Overlaps(start, end) {
			return false
		}
	}
	for _, l := range c.Leases {
		if l.ProviderID == c.ProviderID && l.Active(c.Now) && l.Overlaps(start, end) {
			return false
		}
	}
	return true
}

// minuteOfDay resolves a clinic-local minutes-from-midnight offset to an
// absolute instant on the given day. time.Date normalizes across DST
// transitions, so 540 is 9:00 AM wall clock even on a switch day.
func minuteOfDay(day time.Time, minute int, loc *time.Location) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), minute/60, minute%60, 0, 0, loc)
}

// mergeWindows unions overlapping or touching windows for the same day before
// slot generation, so duplicated schedule rows never double-emit slots.
func mergeWindows(windows []models.WorkingWindow) []models.WorkingWindow {
	if len(windows) <= 1 {
		return windows
	}
	sorted := make([]models.WorkingWindow, len(windows))
	copy(sorted, windows)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartMinute < sorted[j].StartMinute })

	merged := sorted[:1]
	for _, w := range sorted[1:] {
		last := &merged[len(merged)-1]
		if w.StartMinute <= last.EndMinute {
			if w.EndMinute > last.EndMinute {
				last.EndMinute = w.EndMinute
			}
			continue
		}
		merged = append(merged, w)
	}
	return merged
}
