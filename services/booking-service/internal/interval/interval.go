// Package interval holds the minute-granular time arithmetic shared by work blocks,
// bookings and availability: clock parsing, half-open overlap tests and slot generation.
package interval

import (
	"fmt"
	"iter"
	"strconv"
	"strings"
)

// Minute is a wall-clock time expressed as minutes since midnight.
type Minute int

// EndOfDay is 24:00, the exclusive upper bound of a day.
const EndOfDay Minute = 24 * 60

// ParseClock parses "HH:MM" (00:00 through 24:00).
func ParseClock(s string) (Minute, error) {
	s = strings.TrimSpace(s)
	hh, mm, ok := strings.Cut(s, ":")
	if !ok || !twoDigits(hh) || !twoDigits(mm) {
		return 0, fmt.Errorf("invalid clock time %q: want HH:MM", s)
	}
	h, errH := strconv.Atoi(hh)
	m, errM := strconv.Atoi(mm)
	if errH != nil || errM != nil || h < 0 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid clock time %q: want HH:MM", s)
	}
	v := Minute(h*60 + m)
	if v > EndOfDay {
		return 0, fmt.Errorf("invalid clock time %q: past 24:00", s)
	}
	return v, nil
}

func twoDigits(s string) bool {
	return len(s) == 2 && s[0] >= '0' && s[0] <= '9' && s[1] >= '0' && s[1] <= '9'
}

// Valid reports whether m lies within [00:00, 24:00].
func (m Minute) Valid() bool {
	return m >= 0 && m <= EndOfDay
}

func (m Minute) String() string {
	return fmt.Sprintf("%02d:%02d", int(m)/60, int(m)%60)
}

func (m Minute) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("clock minute %d out of range", int(m))
	}
	return []byte(m.String()), nil
}

func (m *Minute) UnmarshalText(b []byte) error {
	v, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Range is the half-open interval [Start, End).
type Range struct {
	Start Minute
	End   Minute
}

// Of builds the range occupied by something starting at start for durationMinutes.
func Of(start Minute, durationMinutes int) Range {
	return Range{Start: start, End: start + Minute(durationMinutes)}
}

// Valid requires Start < End, both within the day.
func (r Range) Valid() bool {
	return r.Start.Valid() && r.End.Valid() && r.Start < r.End
}

func (r Range) Minutes() int {
	return int(r.End - r.Start)
}

func (r Range) Overlaps(o Range) bool {
	return Overlaps(r.Start, r.End, o.Start, o.End)
}

// Contains reports whether o lies entirely inside r.
func (r Range) Contains(o Range) bool {
	return r.Start <= o.Start && o.End <= r.End
}

func (r Range) String() string {
	return r.Start.String() + "-" + r.End.String()
}

// Overlaps reports whether [aStart, aEnd) and [bStart, bEnd) share at least one minute.
// Touching ranges (aEnd == bStart) do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd Minute) bool {
	return aStart < bEnd && bStart < aEnd
}

// Slots yields slot start times from start in steps of incrementMinutes, stopping before
// the first slot that would run past end; a trailing remainder shorter than one increment
// is dropped. The sequence is lazy and can be ranged over any number of times.
func Slots(start, end Minute, incrementMinutes int) iter.Seq[Minute] {
	step := Minute(incrementMinutes)
	return func(yield func(Minute) bool) {
		if step <= 0 {
			return
		}
		for cur := start; cur+step <= end; cur += step {
			if !yield(cur) {
				return
			}
		}
	}
}
