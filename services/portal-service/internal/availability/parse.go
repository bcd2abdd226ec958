package availability

import (
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var errBadClock = errors.New("invalid clock time")

// RawInterval is an interval as the backend serializes it: clock strings for windows,
// ISO-8601 datetimes for slots.
type RawInterval struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Payload is the backend availability response for one area and day.
type Payload struct {
	AreaID      json.Number   `json:"area_id,omitempty"`
	Date        string        `json:"date"`
	SlotMinutes int           `json:"slot_minutes"`
	Windows     []RawInterval `json:"windows"`
	Slots       []RawInterval `json:"slots"`
}

// ReservationRecord accepts both the backend's native keys and the generic start/end pair.
type ReservationRecord struct {
	ID     json.Number `json:"id,omitempty"`
	Start  string      `json:"start"`
	End    string      `json:"end"`
	Estado string      `json:"estado,omitempty"`
}

func (r *ReservationRecord) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID          json.Number `json:"id"`
		FechaInicio string      `json:"fecha_inicio"`
		FechaFin    string      `json:"fecha_fin"`
		Start       string      `json:"start"`
		End         string      `json:"end"`
		Estado      string      `json:"estado"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.ID = raw.ID
	r.Estado = raw.Estado
	r.Start = firstNonEmpty(raw.FechaInicio, raw.Start)
	r.End = firstNonEmpty(raw.FechaFin, raw.End)
	return nil
}

var clockLayouts = []string{"15:04:05.999999999", "15:04:05", "15:04"}

// ParseClock parses "HH:MM", "HH:MM:SS" or "HH:MM:SS.ffffff" into an offset since midnight.
func ParseClock(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errBadClock
	}
	for _, layout := range clockLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		return time.Duration(t.Hour())*time.Hour +
			time.Duration(t.Minute())*time.Minute +
			time.Duration(t.Second())*time.Second, nil
	}
	return 0, errBadClock
}

var naiveLayouts = []string{"2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04:05", "2006-01-02 15:04"}

// ParseInstant parses an RFC 3339 datetime, or a naive datetime interpreted in loc.
func ParseInstant(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	var lastErr error
	for _, layout := range naiveLayouts {
		t, err := time.ParseInLocation(layout, s, loc)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// ParseDate parses YYYY-MM-DD as midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	return time.ParseInLocation("2006-01-02", strings.TrimSpace(s), loc)
}

// ParseWindows converts clock intervals, dropping any that fail to parse or are empty.
func ParseWindows(raw []RawInterval) []TimeWindow {
	out := make([]TimeWindow, 0, len(raw))
	for _, r := range raw {
		start, err := ParseClock(r.Start)
		if err != nil {
			continue
		}
		end, err := ParseClock(r.End)
		if err != nil {
			continue
		}
		if end <= start {
			continue
		}
		out = append(out, TimeWindow{Start: start, End: end})
	}
	return out
}

// ParseIntervals converts datetime intervals, dropping any that fail to parse or are empty.
func ParseIntervals(raw []RawInterval, loc *time.Location) []Interval {
	out := make([]Interval, 0, len(raw))
	for _, r := range raw {
		start, err := ParseInstant(r.Start, loc)
		if err != nil {
			continue
		}
		end, err := ParseInstant(r.End, loc)
		if err != nil {
			continue
		}
		if !end.After(start) {
			continue
		}
		out = append(out, Interval{Start: start, End: end})
	}
	return out
}

// Active reports whether the reservation still holds its time range.
func (r ReservationRecord) Active() bool {
	switch strings.ToUpper(strings.TrimSpace(r.Estado)) {
	case "CANCELADA", "RECHAZADA":
		return false
	default:
		return true
	}
}

// ReservationIntervals keeps active reservations only.
func ReservationIntervals(records []ReservationRecord, loc *time.Location) []Interval {
	raw := make([]RawInterval, 0, len(records))
	for _, r := range records {
		if !r.Active() {
			continue
		}
		raw = append(raw, RawInterval{Start: r.Start, End: r.End})
	}
	return ParseIntervals(raw, loc)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
