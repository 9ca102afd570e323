package timeofday

import "fmt"

// Interval is a half-open range [Start, End) on one calendar day.
type Interval struct {
	Start TimeOfDay `json:"start"`
	End   TimeOfDay `json:"end"`
}

// InvalidIntervalError reports an interval whose start is not strictly
// before its end, or whose bounds fall outside the day.
type InvalidIntervalError struct {
	Interval Interval
}

func (e *InvalidIntervalError) Error() string {
	return fmt.Sprintf("invalid interval %s: start must be before end", e.Interval)
}

// NewInterval validates and returns [start, end).
func NewInterval(start, end TimeOfDay) (Interval, error) {
	iv := Interval{Start: start, End: end}
	if err := iv.Validate(); err != nil {
		return Interval{}, err
	}
	return iv, nil
}

// ParseInterval parses both bounds and validates the result.
func ParseInterval(start, end string) (Interval, error) {
	s, err := Parse(start)
	if err != nil {
		return Interval{}, err
	}
	e, err := Parse(end)
	if err != nil {
		return Interval{}, err
	}
	return NewInterval(s, e)
}

// Validate returns *InvalidIntervalError unless Start < End and both bounds
// lie within the day.
func (iv Interval) Validate() error {
	if !iv.Start.Valid() || !iv.End.Valid() || iv.Start >= iv.End {
		return &InvalidIntervalError{Interval: iv}
	}
	return nil
}

// Duration returns the length of the interval in minutes.
func (iv Interval) Duration() int {
	return MinutesBetween(iv.Start, iv.End)
}

// Overlaps reports whether iv and other share any minute. Touching
// intervals (one ends where the other starts) do not overlap.
func (iv Interval) Overlaps(other Interval) bool {
	return other.Start < iv.End && other.End > iv.Start
}

// Contains reports whether other lies entirely inside iv.
func (iv Interval) Contains(other Interval) bool {
	return iv.Start <= other.Start && other.End <= iv.End
}

func (iv Interval) String() string {
	return Format(iv.Start) + "–" + Format(iv.End)
}
