package models

import "time"

// WorkingWindow is a recurring working-hour window defined in clinic-local
// time as minutes from midnight (e.g., 540 for 9:00 AM).
type WorkingWindow struct {
	Weekday     time.Weekday `bson:"weekday" json:"weekday"`
	StartMinute int          `bson:"startMinute" json:"startMinute"`
	EndMinute   int          `bson:"endMinute" json:"endMinute"`
}

// ScheduleException overrides the recurring windows for a single clinic-local
// date, either closing the day entirely (holiday) or replacing its window.
type ScheduleException struct {
	Date   string         `bson:"date" json:"date"` // "2006-01-02"
	Closed bool           `bson:"closed" json:"closed"`
	Window *WorkingWindow `bson:"window,omitempty" json:"window,omitempty"`
}

// ProviderSchedule holds a provider's recurring working hours for one clinic.
// Owned by clinic configuration; read-only to the reservation core.
type ProviderSchedule struct {
	ProviderID string              `bson:"providerId" json:"providerId"`
	ClinicID   string              `bson:"clinicId" json:"clinicId"`
	Timezone   string              `bson:"timezone" json:"timezone"` // IANA name, e.g. "America/New_York"
	Windows    []WorkingWindow     `bson:"windows" json:"windows"`
	Exceptions []ScheduleException `bson:"exceptions,omitempty" json:"exceptions,omitempty"`
}

// WindowsFor resolves the effective working windows for a clinic-local date,
// applying exceptions over the recurring weekday windows.
func (s ProviderSchedule) WindowsFor(date time.Time) []WorkingWindow {
	dateStr := date.Format("2006-01-02")
	for _, ex := range s.Exceptions {
		if ex.Date != dateStr {
			continue
		}
		if ex.Closed {
			return nil
		}
		if ex.Window != nil {
			return []WorkingWindow{*ex.Window}
		}
	}

	var windows []WorkingWindow
	for _, w := range s.Windows {
		if w.Weekday == date.Weekday() {
			windows = append(windows, w)
		}
	}
	return windows
}
