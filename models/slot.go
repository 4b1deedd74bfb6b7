package models

import "time"

// Slot is a candidate bookable time unit, derived on every query from the
// schedule, booked intervals, and active leases. Never persisted.
type Slot struct {
	ProviderID      string    `json:"providerId"`
	Start           time.Time `json:"start"`
	DurationMinutes int       `json:"durationMinutes"`
	Available       bool      `json:"available"`
}

// End returns the slot's exclusive end instant.
func (s Slot) End() time.Time {
	return s.Start.Add(time.Duration(s.DurationMinutes) * time.Minute)
}

// DayLevel buckets a date's open-slot count for calendar-cell highlighting.
type DayLevel string

const (
	DayLevelNone DayLevel = "none"
	DayLevelLow  DayLevel = "low"
	DayLevelHigh DayLevel = "high"
)

// DaySummary is the per-date reduction of the slot sequence.
type DaySummary struct {
	Date      string   `json:"date"` // clinic-local "2006-01-02"
	OpenSlots int      `json:"openSlots"`
	Level     DayLevel `json:"level"`
}
