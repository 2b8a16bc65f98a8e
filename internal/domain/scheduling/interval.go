package scheduling

import "time"

// DayLayout is the format of the ?day= query parameter.
const DayLayout = "2006-01-02"

// Interval is the half-open range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Truncate drops sub-second precision. Submitted timestamps are truncated
// before they are validated, compared or stored.
func Truncate(t time.Time) time.Time {
	return t.Truncate(time.Second)
}

// NewInterval truncates start and end and fails with ErrInvalidInterval
// unless start < end afterwards.
func NewInterval(start, end time.Time) (Interval, error) {
	iv := Interval{Start: Truncate(start), End: Truncate(end)}
	if !iv.Valid() {
		return iv, newError(KindInvalidInterval, "start_time must be before end_time", nil)
	}
	return iv, nil
}

func (iv Interval) Valid() bool {
	return iv.Start.Before(iv.End)
}

// Overlaps reports whether both intervals share an instant. Intervals that
// only touch at a boundary do not overlap.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && iv.End.After(other.Start)
}

// Within reports whether iv lies inside the closed range [from, to].
func (iv Interval) Within(from, to time.Time) bool {
	return !iv.Start.Before(from) && !iv.End.After(to)
}

// Overlaps reports whether candidate overlaps any of existing.
func Overlaps(candidate Interval, existing []Interval) bool {
	for _, e := range existing {
		if candidate.Overlaps(e) {
			return true
		}
	}
	return false
}

// StartOfDay returns midnight of t's calendar day in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// DayBounds returns the inclusive bounds of t's calendar day. The end is the
// last representable instant before the next midnight.
func DayBounds(t time.Time) (time.Time, time.Time) {
	start := StartOfDay(t)
	return start, start.AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// ParseDay parses a DayLayout date in loc.
func ParseDay(s string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(DayLayout, s, loc)
}
