package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"salonbook/internal/timeofday"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInUse rejects deleting a row that appointments still refer to.
	ErrInUse = errors.New("still referenced by appointments")
)

// DateLayout is the wire and storage format of calendar dates.
const DateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q; expected YYYY-MM-DD", s)
	}
	return d, nil
}

// ISOWeekday maps time.Weekday to 1=Mon .. 7=Sun.
func ISOWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// Status of an appointment.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusAttended  Status = "attended"
	StatusNoShow    Status = "no_show"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusAttended, StatusNoShow:
		return true
	}
	return false
}

// Appointment is a booked interval on one day of a workspace.
type Appointment struct {
	ID          string              `json:"id"`
	WorkspaceID string              `json:"workspace_id"`
	ClientID    string              `json:"client_id"`
	ServiceID   string              `json:"service_id,omitempty"`
	Category    string              `json:"category"`
	Date        string              `json:"date"`
	Start       timeofday.TimeOfDay `json:"start"`
	End         timeofday.TimeOfDay `json:"end"`
	Price       *float64            `json:"price,omitempty"`
	Note        string              `json:"note,omitempty"`
	Status      Status              `json:"status"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

func (a Appointment) EntryID() string { return a.ID }

func (a Appointment) Span() timeofday.Interval {
	return timeofday.Interval{Start: a.Start, End: a.End}
}

// City is a location the workspace works from on given ISO weekdays.
type City struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
	Days  []int  `json:"days"`
}

// Workspace is a tenant: one salon with its own hours, services and clients.
type Workspace struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	WorkStart string    `json:"work_start,omitempty"` // HH:MM[:SS], empty means default
	WorkEnd   string    `json:"work_end,omitempty"`
	Cities    []City    `json:"cities,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// WorkWindow resolves the workspace hours. Each bound that is empty or
// unparsable falls back to the matching bound of fallback; if the result
// is still not a valid interval the whole fallback is used.
func (w Workspace) WorkWindow(fallback timeofday.Interval) timeofday.Interval {
	win := fallback
	if t, err := timeofday.Parse(w.WorkStart); err == nil {
		win.Start = t
	}
	if t, err := timeofday.Parse(w.WorkEnd); err == nil {
		win.End = t
	}
	if win.Validate() != nil {
		return fallback
	}
	return win
}

// Validate checks settings submitted for a workspace. Empty hours are
// allowed and fall back to the configured default.
func (w Workspace) Validate() error {
	if strings.TrimSpace(w.Name) == "" {
		return errors.New("name is required")
	}
	for _, raw := range []string{w.WorkStart, w.WorkEnd} {
		if raw == "" {
			continue
		}
		if _, err := timeofday.Parse(raw); err != nil {
			return err
		}
	}
	if w.WorkStart != "" && w.WorkEnd != "" {
		if _, err := timeofday.ParseInterval(w.WorkStart, w.WorkEnd); err != nil {
			return err
		}
	}
	for _, c := range w.Cities {
		for _, d := range c.Days {
			if d < 1 || d > 7 {
				return fmt.Errorf("city %q: invalid day %d, must be 1-7 (1=Mon, 7=Sun)", c.Name, d)
			}
		}
	}
	return nil
}

// HoursConflictError rejects working hours that would leave stored
// appointments outside the work window.
type HoursConflictError struct {
	Window       timeofday.Interval
	Appointments []Appointment
}

func (e *HoursConflictError) Error() string {
	return fmt.Sprintf("%d appointment(s) fall outside working hours %s", len(e.Appointments), e.Window)
}

// CityFor returns the city scheduled for date, or nil.
func (w Workspace) CityFor(date time.Time) *City {
	wd := ISOWeekday(date)
	for i := range w.Cities {
		for _, d := range w.Cities[i].Days {
			if d == wd {
				return &w.Cities[i]
			}
		}
	}
	return nil
}

// Service is a priced offering. A row with an empty Name carries the
// default price of its whole category.
type Service struct {
	ID           string   `json:"id"`
	WorkspaceID  string   `json:"workspace_id"`
	Category     string   `json:"category"`
	Name         string   `json:"name,omitempty"`
	DefaultPrice *float64 `json:"default_price,omitempty"`
	Color        string   `json:"color,omitempty"`
}

// IsCategoryRow reports whether s holds a category default.
func (s Service) IsCategoryRow() bool { return strings.TrimSpace(s.Name) == "" }

// Client of a workspace.
type Client struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	Name        string    `json:"name"`
	Phone       string    `json:"phone,omitempty"`
	Email       string    `json:"email,omitempty"`
	Gender      string    `json:"gender,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
