package schedule

import (
	"errors"
	"fmt"

	"salonbook/internal/timeofday"
)

// ErrOverlap is matched by every *OverlapError. Stores that detect a
// conflict without knowing the other booking return it directly.
var ErrOverlap = errors.New("appointment overlaps an existing booking")

// Scope identifies the workspace and calendar day an overlap check runs in.
type Scope struct {
	WorkspaceID string
	Date        string // YYYY-MM-DD
}

// OverlapError names the existing booking a candidate collides with.
type OverlapError struct {
	Scope       Scope
	Candidate   timeofday.Interval
	ConflictID  string
	Conflicting timeofday.Interval
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("%s on %s conflicts with existing booking at %s",
		e.Candidate, e.Scope.Date, e.Conflicting)
}

// Is makes errors.Is(err, ErrOverlap) hold for *OverlapError.
func (e *OverlapError) Is(target error) bool {
	return target == ErrOverlap
}

// CheckNoOverlap returns nil when candidate can be booked next to existing.
// The entry whose id equals excludeID is skipped so an edit does not collide
// with itself. Back-to-back bookings are accepted. The first conflict in
// input order is reported.
func CheckNoOverlap[E Entry](scope Scope, candidate timeofday.Interval, excludeID string, existing []E) error {
	if err := candidate.Validate(); err != nil {
		return err
	}

	for _, e := range existing {
		if excludeID != "" && e.EntryID() == excludeID {
			continue
		}
		span := e.Span()
		if span.Start < candidate.End && span.End > candidate.Start {
			return &OverlapError{
				Scope:       scope,
				Candidate:   candidate,
				ConflictID:  e.EntryID(),
				Conflicting: span,
			}
		}
	}
	return nil
}
