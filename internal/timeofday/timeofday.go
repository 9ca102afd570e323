// Package timeofday provides minute-granularity wall-clock values and
// half-open intervals within a single calendar day.
package timeofday

import (
	"fmt"
	"strconv"
	"strings"
)

// MinutesPerDay is the exclusive upper bound of a TimeOfDay.
const MinutesPerDay = 24 * 60

// TimeOfDay is a wall-clock time stored as minutes since midnight.
type TimeOfDay int

// ParseError reports malformed time text.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid time %q: %s", e.Input, e.Reason)
}

// New builds a TimeOfDay from hour and minute.
func New(hour, minute int) (TimeOfDay, error) {
	if hour < 0 || hour >= 24 {
		return 0, &ParseError{Input: fmt.Sprintf("%d:%d", hour, minute), Reason: "hour out of range"}
	}
	if minute < 0 || minute >= 60 {
		return 0, &ParseError{Input: fmt.Sprintf("%d:%d", hour, minute), Reason: "minute out of range"}
	}
	return TimeOfDay(hour*60 + minute), nil
}

// MustParse is Parse for constants; it panics on malformed input.
func MustParse(s string) TimeOfDay {
	t, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return t
}

// Parse accepts "HH:MM" or "HH:MM:SS". Seconds are validated and then
// truncated.
func Parse(s string) (TimeOfDay, error) {
	text := strings.TrimSpace(s)
	parts := strings.Split(text, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, &ParseError{Input: s, Reason: "expected HH:MM or HH:MM:SS"}
	}

	hour, err := parseField(parts[0])
	if err != nil {
		return 0, &ParseError{Input: s, Reason: "hour is not a number"}
	}
	minute, err := parseField(parts[1])
	if err != nil {
		return 0, &ParseError{Input: s, Reason: "minute is not a number"}
	}
	if hour >= 24 {
		return 0, &ParseError{Input: s, Reason: "hour out of range"}
	}
	if minute >= 60 {
		return 0, &ParseError{Input: s, Reason: "minute out of range"}
	}
	if len(parts) == 3 {
		second, err := parseField(parts[2])
		if err != nil {
			return 0, &ParseError{Input: s, Reason: "second is not a number"}
		}
		if second >= 60 {
			return 0, &ParseError{Input: s, Reason: "second out of range"}
		}
	}

	return TimeOfDay(hour*60 + minute), nil
}

// parseField accepts one or two ASCII digits.
func parseField(s string) (int, error) {
	if len(s) == 0 || len(s) > 2 {
		return 0, fmt.Errorf("bad length")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("not a digit")
		}
	}
	return strconv.Atoi(s)
}

// Hour returns the hour component.
func (t TimeOfDay) Hour() int { return int(t) / 60 }

// Minute returns the minute component.
func (t TimeOfDay) Minute() int { return int(t) % 60 }

// Minutes returns the number of minutes since midnight.
func (t TimeOfDay) Minutes() int { return int(t) }

// Valid reports whether t lies within a single day.
func (t TimeOfDay) Valid() bool { return t >= 0 && t < MinutesPerDay }

// String formats t as zero-padded "HH:MM".
func (t TimeOfDay) String() string { return Format(t) }

// Format renders t as "HH:MM".
func Format(t TimeOfDay) string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// Compare returns -1, 0 or +1 ordering a before, equal to or after b.
func Compare(a, b TimeOfDay) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// MinutesBetween returns b - a in minutes. The result is negative when b is
// earlier than a.
func MinutesBetween(a, b TimeOfDay) int {
	return int(b) - int(a)
}

// MarshalText implements encoding.TextMarshaler.
func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(Format(t)), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}
