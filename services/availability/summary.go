package availability

import (
	"time"

	"clinsched/models"
)

// lowWaterMark is the open-slot count at or below which a day is flagged
// "low" for calendar highlighting.
const lowWaterMark = 3

// HasOpenSlot reports whether the clinic-local date has at least one
// available slot. It is a reduction over the same sequence Slots produces,
// so it can never diverge from the slot list a caller renders.
func (c Calculator) HasOpenSlot(date string) bool {
	for s := range c.Slots() {
		if s.Available && localDate(s.Start, c.Location) == date {
			return true
		}
	}
	return false
}

// DayLevel buckets the clinic-local date by its open-slot count.
func (c Calculator) DayLevel(date string) models.DayLevel {
	count := 0
	for s := range c.Slots() {
		if s.Available && localDate(s.Start, c.Location) == date {
			count++
			if count > lowWaterMark {
				return models.DayLevelHigh
			}
		}
	}
	return levelFor(count)
}

// DaySummaries reduces the slot sequence into one summary per clinic-local
// date across the whole range, in ascending date order.
func (c Calculator) DaySummaries() []models.DaySummary {
	counts := map[string]int{}
	var order []string
	for s := range c.Slots() {
		d := localDate(s.Start, c.Location)
		if _, seen := counts[d]; !seen {
			order = append(order, d)
		}
		if s.Available {
			counts[d]++
		}
	}

	summaries := make([]models.DaySummary, 0, len(order))
	for _, d := range order {
		summaries = append(summaries, models.DaySummary{
			Date:      d,
			OpenSlots: counts[d],
			Level:     levelFor(counts[d]),
		})
	}
	return summaries
}

func levelFor(count int) models.DayLevel {
	switch {
	case count == 0:
		return models.DayLevelNone
	case count <= lowWaterMark:
		return models.DayLevelLow
	default:
		return models.DayLevelHigh
	}
}

func localDate(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02")
}
