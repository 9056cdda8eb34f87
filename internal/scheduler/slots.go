package scheduler

import (
	"fmt"
	"time"
)

// SlotDuration is the fixed length of every meeting.
const SlotDuration = 15 * time.Minute

// Clock is a wall-clock time of day.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses "15:04" or "15:04:05". Seconds must be zero.
func ParseClock(value string) (Clock, error) {
	for _, layout := range []string{"15:04", "15:04:05"} {
		t, err := time.Parse(layout, value)
		if err != nil {
			continue
		}
		if t.Second() != 0 {
			return Clock{}, fmt.Errorf("scheduler: clock %q has seconds", value)
		}
		return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
	}
	return Clock{}, fmt.Errorf("scheduler: invalid clock %q", value)
}

// String formats the clock using the "15:04" layout.
func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Before reports whether c is earlier in the day than other.
func (c Clock) Before(other Clock) bool {
	if c.Hour != other.Hour {
		return c.Hour < other.Hour
	}
	return c.Minute < other.Minute
}

// Window is a half-open interval of absolute time.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether other lies entirely within w.
func (w Window) Contains(other Window) bool {
	return !other.Start.Before(w.Start) && !other.End.After(w.End)
}

// SessionWindow anchors a session's clock times to day dayNumber of an event starting on startDate.
// Day 1 is the start date itself. The returned window is expressed in UTC.
func SessionWindow(startDate time.Time, dayNumber int, start, end Clock, loc *time.Location) (Window, error) {
	if dayNumber < 1 {
		return Window{}, fmt.Errorf("scheduler: day number %d must be at least 1", dayNumber)
	}
	if !start.Before(end) {
		return Window{}, fmt.Errorf("scheduler: session start %s is not before end %s", start, end)
	}
	if loc == nil {
		loc = time.UTC
	}
	year, month, day := startDate.Date()
	day += dayNumber - 1
	return Window{
		Start: time.Date(year, month, day, start.Hour, start.Minute, 0, 0, loc).UTC(),
		End:   time.Date(year, month, day, end.Hour, end.Minute, 0, 0, loc).UTC(),
	}, nil
}

// Slots splits w into consecutive windows of length d aligned to w.Start.
// A trailing remainder shorter than d is dropped.
func Slots(w Window, d time.Duration) []Window {
	if d <= 0 {
		return nil
	}
	var slots []Window
	for start := w.Start; !start.Add(d).After(w.End); start = start.Add(d) {
		slots = append(slots, Window{Start: start, End: start.Add(d)})
	}
	return slots
}
