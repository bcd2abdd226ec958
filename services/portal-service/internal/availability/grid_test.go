package availability

import (
	"slices"
	"testing"
	"time"
)

var testDay = time.Date(2025, 10, 6, 0, 0, 0, 0, time.UTC)

func clock(h, m int) time.Duration {
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute
}

func dayAt(h, m int) time.Time {
	return testDay.Add(clock(h, m))
}

func labels(cells []Cell) []Label {
	out := make([]Label, 0, len(cells))
	for _, c := range cells {
		out = append(out, c.Label)
	}
	return out
}

func TestBuild_AllAvailable(t *testing.T) {
	cells := Build(GridInput{
		Day:       testDay,
		Step:      time.Hour,
		Windows:   []TimeWindow{{Start: clock(8, 0), End: clock(12, 0)}},
		FreeSlots: []Interval{{Start: dayAt(8, 0), End: dayAt(12, 0)}},
	})
	if len(cells) != 4 {
		t.Fatalf("expected 4 cells, got %d", len(cells))
	}
	for i, c := range cells {
		if c.Label != LabelAvailable {
			t.Fatalf("cell %d: expected AVAILABLE, got %s", i, c.Label)
		}
		if !c.Start.Equal(dayAt(8+i, 0)) {
			t.Fatalf("cell %d: expected start %02d:00, got %s", i, 8+i, c.Start.Format("15:04"))
		}
	}
}

func TestBuild_ReservationMarksBusy(t *testing.T) {
	cells := Build(GridInput{
		Day:          testDay,
		Step:         time.Hour,
		Windows:      []TimeWindow{{Start: clock(8, 0), End: clock(12, 0)}},
		FreeSlots:    []Interval{{Start: dayAt(8, 0), End: dayAt(12, 0)}},
		Reservations: []Interval{{Start: dayAt(9, 0), End: dayAt(10, 0)}},
	})
	want := []Label{LabelAvailable, LabelBusy, LabelAvailable, LabelAvailable}
	if got := labels(cells); !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestBuild_PartialSlotIsNotOffered(t *testing.T) {
	cells := Build(GridInput{
		Day:       testDay,
		Step:      time.Hour,
		Windows:   []TimeWindow{{Start: clock(8, 0), End: clock(10, 0)}},
		FreeSlots: []Interval{{Start: dayAt(8, 0), End: dayAt(9, 30)}},
	})
	want := []Label{LabelAvailable, LabelInWindowNoSlot}
	if got := labels(cells); !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestBuild_NoWindowsUsesDefaultRange(t *testing.T) {
	cells := Build(GridInput{Day: testDay, Step: 30 * time.Minute})
	if len(cells) != 32 {
		t.Fatalf("expected 32 cells, got %d", len(cells))
	}
	if !cells[0].Start.Equal(dayAt(6, 0)) || !cells[31].End.Equal(dayAt(22, 0)) {
		t.Fatalf("unexpected range %s-%s", cells[0].Start.Format("15:04"), cells[31].End.Format("15:04"))
	}
	for i, c := range cells {
		if c.Label != LabelOutsideHours {
			t.Fatalf("cell %d: expected OUTSIDE_HOURS, got %s", i, c.Label)
		}
	}
}

func TestBuild_BusyDominatesFreeSlot(t *testing.T) {
	cells := Build(GridInput{
		Day:          testDay,
		Step:         30 * time.Minute,
		Windows:      []TimeWindow{{Start: clock(10, 0), End: clock(11, 0)}},
		FreeSlots:    []Interval{{Start: dayAt(10, 0), End: dayAt(11, 0)}},
		Reservations: []Interval{{Start: dayAt(9, 0), End: dayAt(12, 0)}},
	})
	for i, c := range cells {
		if c.Label != LabelBusy {
			t.Fatalf("cell %d: expected BUSY, got %s", i, c.Label)
		}
	}
}

func TestBuild_ReservationOutsideWindowsStaysOutside(t *testing.T) {
	cells := Build(GridInput{
		Day:          testDay,
		Bounds:       TimeWindow{Start: clock(7, 0), End: clock(9, 0)},
		Step:         time.Hour,
		Windows:      []TimeWindow{{Start: clock(8, 0), End: clock(9, 0)}},
		Reservations: []Interval{{Start: dayAt(7, 0), End: dayAt(8, 0)}},
	})
	want := []Label{LabelOutsideHours, LabelInWindowNoSlot}
	if got := labels(cells); !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestBuild_PartitionDropsTrailingPartialCell(t *testing.T) {
	in := GridInput{
		Day:    testDay,
		Bounds: TimeWindow{Start: clock(8, 0), End: clock(10, 45)},
		Step:   30 * time.Minute,
	}
	cells := Build(in)
	if len(cells) != 5 {
		t.Fatalf("expected 5 cells, got %d", len(cells))
	}
	for i, c := range cells {
		if !c.Start.Before(c.End) {
			t.Fatalf("cell %d: start not before end", i)
		}
		if c.End.Sub(c.Start) != in.Step {
			t.Fatalf("cell %d: width %s", i, c.End.Sub(c.Start))
		}
		if i > 0 && !cells[i-1].End.Equal(c.Start) {
			t.Fatalf("cell %d: not contiguous with previous", i)
		}
	}
}

func TestBuild_BoundsDerivedFromWindows(t *testing.T) {
	cells := Build(GridInput{
		Day:  testDay,
		Step: time.Hour,
		Windows: []TimeWindow{
			{Start: clock(14, 0), End: clock(16, 0)},
			{Start: clock(9, 0), End: clock(11, 0)},
		},
	})
	if len(cells) != 7 {
		t.Fatalf("expected 7 cells, got %d", len(cells))
	}
	want := []Label{
		LabelInWindowNoSlot, LabelInWindowNoSlot,
		LabelOutsideHours, LabelOutsideHours, LabelOutsideHours,
		LabelInWindowNoSlot, LabelInWindowNoSlot,
	}
	if got := labels(cells); !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestBuild_IgnoresInvalidIntervals(t *testing.T) {
	cells := Build(GridInput{
		Day:          testDay,
		Step:         time.Hour,
		Windows:      []TimeWindow{{Start: clock(8, 0), End: clock(10, 0)}, {Start: clock(12, 0), End: clock(11, 0)}},
		FreeSlots:    []Interval{{Start: dayAt(8, 0), End: dayAt(10, 0)}, {Start: dayAt(9, 0)}},
		Reservations: []Interval{{Start: dayAt(9, 0), End: dayAt(9, 0)}},
	})
	want := []Label{LabelAvailable, LabelAvailable}
	if got := labels(cells); !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestCells_IdempotentAndRestartable(t *testing.T) {
	in := GridInput{
		Day:          testDay,
		Step:         30 * time.Minute,
		Windows:      []TimeWindow{{Start: clock(8, 0), End: clock(12, 0)}},
		FreeSlots:    []Interval{{Start: dayAt(8, 0), End: dayAt(11, 0)}},
		Reservations: []Interval{{Start: dayAt(10, 0), End: dayAt(10, 30)}},
	}
	seq := Cells(in)
	first := slices.Collect(seq)
	second := slices.Collect(seq)
	third := Build(in)
	if !slices.Equal(first, second) || !slices.Equal(first, third) {
		t.Fatal("expected identical output across iterations")
	}
}

func TestCells_StopsEarly(t *testing.T) {
	n := 0
	for range Cells(GridInput{Day: testDay, Step: time.Hour}) {
		n++
		if n == 3 {
			break
		}
	}
	if n != 3 {
		t.Fatalf("expected to stop after 3 cells, got %d", n)
	}
}

func TestCells_DoesNotMutateInput(t *testing.T) {
	windows := []TimeWindow{{Start: clock(9, 0), End: clock(8, 0)}, {Start: clock(8, 0), End: clock(9, 0)}}
	before := slices.Clone(windows)
	_ = Build(GridInput{Day: testDay, Step: time.Hour, Windows: windows})
	if !slices.Equal(windows, before) {
		t.Fatal("input windows were modified")
	}
}

func TestCells_PanicsOnNonPositiveStep(t *testing.T) {
	for _, step := range []time.Duration{0, -time.Minute} {
		func() {
			defer func() {
				if recover() == nil {
					t.Fatalf("expected panic for step %s", step)
				}
			}()
			Cells(GridInput{Day: testDay, Step: step})
		}()
	}
}

func TestCells_UsesLocationForWallClock(t *testing.T) {
	loc := time.FixedZone("BOT", -4*60*60)
	day := time.Date(2025, 10, 6, 0, 0, 0, 0, loc)
	cells := Build(GridInput{
		Day:       day,
		Location:  loc,
		Step:      time.Hour,
		Windows:   []TimeWindow{{Start: clock(8, 0), End: clock(9, 0)}},
		FreeSlots: []Interval{{Start: time.Date(2025, 10, 6, 12, 0, 0, 0, time.UTC), End: time.Date(2025, 10, 6, 13, 0, 0, 0, time.UTC)}},
	})
	if len(cells) != 1 {
		t.Fatalf("expected 1 cell, got %d", len(cells))
	}
	if cells[0].Label != LabelAvailable {
		t.Fatalf("expected AVAILABLE, got %s", cells[0].Label)
	}
	if got := cells[0].Start.UTC().Hour(); got != 12 {
		t.Fatalf("expected 12:00 UTC, got %d", got)
	}
}
