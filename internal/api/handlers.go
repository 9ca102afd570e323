package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"salonbook/internal/booking"
	"salonbook/internal/export"
	"salonbook/internal/models"
	"salonbook/internal/schedule"
	"salonbook/internal/timeofday"
)

type segmentResponse struct {
	Kind        schedule.SegmentKind `json:"kind"`
	Start       timeofday.TimeOfDay  `json:"start"`
	End         timeofday.TimeOfDay  `json:"end"`
	Minutes     int                  `json:"minutes"`
	Appointment *models.Appointment  `json:"appointment,omitempty"`
}

// DayResponse is the body of GET .../days/{date}.
type DayResponse struct {
	WorkspaceID   string              `json:"workspace_id"`
	Date          string              `json:"date"`
	WorkStart     timeofday.TimeOfDay `json:"work_start"`
	WorkEnd       timeofday.TimeOfDay `json:"work_end"`
	City          *models.City        `json:"city,omitempty"`
	BookedMinutes int                 `json:"booked_minutes"`
	FreeMinutes   int                 `json:"free_minutes"`
	Segments      []segmentResponse   `json:"segments"`
}

func newDayResponse(view *booking.DayView) DayResponse {
	resp := DayResponse{
		WorkspaceID: view.WorkspaceID,
		Date:        view.Date,
		WorkStart:   view.Window.Start,
		WorkEnd:     view.Window.End,
		City:        view.City,
		Segments:    make([]segmentResponse, 0, len(view.Segments)),
	}
	for _, seg := range view.Segments {
		sr := segmentResponse{
			Kind:    seg.Kind,
			Start:   seg.Interval.Start,
			End:     seg.Interval.End,
			Minutes: seg.Interval.Duration(),
		}
		if seg.IsFree() {
			resp.FreeMinutes += sr.Minutes
		} else {
			a := seg.Entry
			sr.Appointment = &a
			resp.BookedMinutes += sr.Minutes
		}
		resp.Segments = append(resp.Segments, sr)
	}
	return resp
}

// handleDay returns the booked/free partition of one day.
// GET /api/v1/workspaces/{ws}/days/{date}
func (s *Server) handleDay(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.Day(r.Context(), r.PathValue("ws"), r.PathValue("date"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newDayResponse(view))
}

// handleDayExport streams the day as an xlsx agenda.
// GET /api/v1/workspaces/{ws}/days/{date}/export
func (s *Server) handleDayExport(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.Day(r.Context(), r.PathValue("ws"), r.PathValue("date"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteDayAgenda(&buf, view); err != nil {
		s.writeServiceError(w, r, fmt.Errorf("export agenda: %w", err))
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="agenda_%s.xlsx"`, view.Date))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func decodeInput(r *http.Request) (booking.AppointmentInput, error) {
	var in booking.AppointmentInput
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&in); err != nil {
		return in, err
	}
	return in, nil
}

// POST /api/v1/workspaces/{ws}/appointments
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	in, err := decodeInput(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	appt, err := s.svc.Create(r.Context(), r.PathValue("ws"), in)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, appt)
}

// PUT /api/v1/workspaces/{ws}/appointments/{id}
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	in, err := decodeInput(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	appt, err := s.svc.Update(r.Context(), r.PathValue("ws"), r.PathValue("id"), in)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// DELETE /api/v1/workspaces/{ws}/appointments/{id}
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Delete(r.Context(), r.PathValue("ws"), r.PathValue("id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type statusRequest struct {
	Status models.Status `json:"status"`
}

// POST /api/v1/workspaces/{ws}/appointments/{id}/status
func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	appt, err := s.svc.SetStatus(r.Context(), r.PathValue("ws"), r.PathValue("id"), req.Status)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// writeServiceError maps domain errors onto status codes. Anything
// unrecognised is logged and hidden behind a 500.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr    *booking.ValidationError
		perr    *timeofday.ParseError
		ierr    *timeofday.InvalidIntervalError
		overlap *schedule.OverlapError
		precond *schedule.PreconditionError
		hours   *models.HoursConflictError
	)

	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Reason, Field: verr.Field})
	case errors.As(err, &perr), errors.As(err, &ierr), errors.Is(err, booking.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, booking.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.As(err, &overlap):
		writeJSON(w, http.StatusConflict, errorResponse{
			Error: overlap.Error(),
			Conflict: &conflictResponse{
				AppointmentID: overlap.ConflictID,
				Start:         overlap.Conflicting.Start.String(),
				End:           overlap.Conflicting.End.String(),
			},
		})
	case errors.Is(err, schedule.ErrOverlap):
		writeError(w, http.StatusConflict, schedule.ErrOverlap.Error())
	case errors.As(err, &hours):
		writeJSON(w, http.StatusConflict, errorResponse{Error: hours.Error(), Appointments: hours.Appointments})
	case errors.Is(err, models.ErrInUse):
		writeError(w, http.StatusConflict, "still referenced by appointments; delete or reassign them first")
	case errors.As(err, &precond):
		writeError(w, http.StatusInternalServerError, "stored appointments are inconsistent with working hours")
	default:
		s.logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
