// Package schedule partitions a working day into booked and free segments
// and guards the no-overlap invariant for appointments.
package schedule

import (
	"fmt"
	"sort"

	"salonbook/internal/timeofday"
)

// Entry is the part of an appointment the scheduler inspects. Everything
// else travels through untouched.
type Entry interface {
	EntryID() string
	Span() timeofday.Interval
}

// SegmentKind tags a Segment.
type SegmentKind string

const (
	KindBooked SegmentKind = "booked"
	KindFree   SegmentKind = "free"
)

// Segment is either Booked (Entry set) or Free (Entry zero).
type Segment[E Entry] struct {
	Kind     SegmentKind
	Interval timeofday.Interval
	Entry    E
}

// IsFree reports whether the segment is an unbooked gap.
func (s Segment[E]) IsFree() bool { return s.Kind == KindFree }

// Booked wraps an entry as a segment.
func Booked[E Entry](e E) Segment[E] {
	return Segment[E]{Kind: KindBooked, Interval: e.Span(), Entry: e}
}

// Free builds a gap segment.
func Free[E Entry](from, to timeofday.TimeOfDay) Segment[E] {
	return Segment[E]{Kind: KindFree, Interval: timeofday.Interval{Start: from, End: to}}
}

// PreconditionError means the entries handed to ComputeSegments break the
// contract guaranteed by CheckNoOverlap. It points at an upstream bug.
type PreconditionError struct {
	EntryID string
	Reason  string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("schedule precondition violated by %q: %s", e.EntryID, e.Reason)
}

// ComputeSegments returns the ordered partition of window into Booked and
// Free segments. The input slice is not modified. Entries must be valid,
// lie inside window and not overlap each other; otherwise a
// *PreconditionError is returned and no segments are produced.
func ComputeSegments[E Entry](window timeofday.Interval, entries []E) ([]Segment[E], error) {
	if err := window.Validate(); err != nil {
		return nil, err
	}

	sorted := make([]E, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].Span(), sorted[j].Span()
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return a.End < b.End
	})

	segments := make([]Segment[E], 0, 2*len(sorted)+1)
	cursor := window.Start

	for _, e := range sorted {
		span := e.Span()
		if err := span.Validate(); err != nil {
			return nil, &PreconditionError{EntryID: e.EntryID(), Reason: err.Error()}
		}
		if !window.Contains(span) {
			return nil, &PreconditionError{
				EntryID: e.EntryID(),
				Reason:  fmt.Sprintf("%s lies outside work window %s", span, window),
			}
		}
		if span.Start < cursor {
			return nil, &PreconditionError{
				EntryID: e.EntryID(),
				Reason:  fmt.Sprintf("%s overlaps the previous booking ending at %s", span, cursor),
			}
		}

		if cursor < span.Start {
			segments = append(segments, Free[E](cursor, span.Start))
		}
		segments = append(segments, Booked(e))
		cursor = span.End
	}

	if cursor < window.End {
		segments = append(segments, Free[E](cursor, window.End))
	}

	return segments, nil
}

// FreeIntervals returns only the gaps of a computed partition.
func FreeIntervals[E Entry](segments []Segment[E]) []timeofday.Interval {
	var gaps []timeofday.Interval
	for _, s := range segments {
		if s.IsFree() {
			gaps = append(gaps, s.Interval)
		}
	}
	return gaps
}
