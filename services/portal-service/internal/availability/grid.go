package availability

import (
	"iter"
	"slices"
	"time"
)

type Label string

const (
	LabelAvailable      Label = "AVAILABLE"
	LabelBusy           Label = "BUSY"
	LabelInWindowNoSlot Label = "IN_WINDOW_NO_SLOT"
	LabelOutsideHours   Label = "OUTSIDE_HOURS"
)

const (
	DefaultStep       = 30 * time.Minute
	DefaultRangeStart = 6 * time.Hour
	DefaultRangeEnd   = 22 * time.Hour
)

// TimeWindow is an opening-hours interval expressed as offsets since local midnight.
type TimeWindow struct {
	Start time.Duration
	End   time.Duration
}

func (w TimeWindow) IsZero() bool {
	return w.Start == 0 && w.End == 0
}

type Interval struct {
	Start time.Time
	End   time.Time
}

type Cell struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Label Label     `json:"label"`
}

// GridInput describes one calendar day to be rendered as fixed-width cells.
// A zero Bounds means the boundary is derived from Windows.
type GridInput struct {
	Day          time.Time
	Location     *time.Location
	Bounds       TimeWindow
	Step         time.Duration
	Windows      []TimeWindow
	FreeSlots    []Interval
	Reservations []Interval
}

// Cells returns the classified cells of the day. The sequence is finite, can be ranged
// over any number of times, and never touches the input slices' contents.
//
// A trailing segment shorter than Step is dropped. Step must be positive; callers
// validate it before building, so a non-positive Step panics.
func Cells(in GridInput) iter.Seq[Cell] {
	step := in.Step
	if step <= 0 {
		panic("availability: step must be positive")
	}

	loc := in.Location
	if loc == nil {
		loc = in.Day.Location()
	}
	midnight := time.Date(in.Day.Year(), in.Day.Month(), in.Day.Day(), 0, 0, 0, 0, loc)
	bounds := resolveBounds(in.Bounds, in.Windows)

	windows := make([]Interval, 0, len(in.Windows))
	for _, w := range in.Windows {
		if w.End <= w.Start {
			continue
		}
		windows = append(windows, Interval{Start: at(midnight, w.Start), End: at(midnight, w.End)})
	}
	free := validIntervals(in.FreeSlots)
	busy := validIntervals(in.Reservations)

	rangeStart := at(midnight, bounds.Start)
	rangeEnd := at(midnight, bounds.End)

	return func(yield func(Cell) bool) {
		for t := rangeStart; !t.Add(step).After(rangeEnd); t = t.Add(step) {
			cell := Cell{Start: t, End: t.Add(step)}
			cell.Label = classify(cell.Start, cell.End, windows, free, busy)
			if !yield(cell) {
				return
			}
		}
	}
}

// Build is the eager form of Cells.
func Build(in GridInput) []Cell {
	return slices.Collect(Cells(in))
}

func classify(start, end time.Time, windows, free, busy []Interval) Label {
	if !overlapsAny(start, end, windows) {
		return LabelOutsideHours
	}
	if overlapsAny(start, end, busy) {
		return LabelBusy
	}
	if containedInAny(start, end, free) {
		return LabelAvailable
	}
	return LabelInWindowNoSlot
}

func resolveBounds(explicit TimeWindow, windows []TimeWindow) TimeWindow {
	if !explicit.IsZero() {
		return explicit
	}
	var out TimeWindow
	found := false
	for _, w := range windows {
		if w.End <= w.Start {
			continue
		}
		if !found || w.Start < out.Start {
			out.Start = w.Start
		}
		if !found || w.End > out.End {
			out.End = w.End
		}
		found = true
	}
	if !found {
		return TimeWindow{Start: DefaultRangeStart, End: DefaultRangeEnd}
	}
	return out
}

// at adds a clock offset to midnight by wall-clock fields so DST days keep their labels.
func at(midnight time.Time, offset time.Duration) time.Time {
	h := int(offset / time.Hour)
	m := int((offset % time.Hour) / time.Minute)
	s := int((offset % time.Minute) / time.Second)
	return time.Date(midnight.Year(), midnight.Month(), midnight.Day(), h, m, s, 0, midnight.Location())
}

func validIntervals(in []Interval) []Interval {
	out := make([]Interval, 0, len(in))
	for _, iv := range in {
		if iv.Start.IsZero() || iv.End.IsZero() || !iv.End.After(iv.Start) {
			continue
		}
		out = append(out, iv)
	}
	return out
}

func overlapsAny(start, end time.Time, intervals []Interval) bool {
	for _, b := range intervals {
		// Half-open intervals: [start,end) overlaps [b.Start,b.End) iff start < b.End && b.Start < end.
		if start.Before(b.End) && b.Start.Before(end) {
			return true
		}
	}
	return false
}

func containedInAny(start, end time.Time, intervals []Interval) bool {
	for _, s := range intervals {
		if !start.Before(s.Start) && !end.After(s.End) {
			return true
		}
	}
	return false
}
