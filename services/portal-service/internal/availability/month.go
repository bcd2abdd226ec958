package availability

import "time"

type DayStatus string

const (
	DayFree    DayStatus = "free"
	DayFull    DayStatus = "full"
	DayNoRules DayStatus = "no-rules"
)

type DaySummary struct {
	Date   string    `json:"date"`
	Status DayStatus `json:"status"`
}

// SummarizeDay reports whether a day has opening windows and, if so, any free slot left.
// Unparseable entries do not count.
func SummarizeDay(p Payload, loc *time.Location) DayStatus {
	if len(ParseWindows(p.Windows)) == 0 {
		return DayNoRules
	}
	if len(ParseIntervals(p.Slots, loc)) == 0 {
		return DayFull
	}
	return DayFree
}

// MonthDays returns every date of the month containing t, at midnight in t's location.
func MonthDays(t time.Time) []time.Time {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	next := first.AddDate(0, 1, 0)
	days := make([]time.Time, 0, 31)
	for d := first; d.Before(next); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}
