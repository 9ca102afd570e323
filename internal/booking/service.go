// Package booking validates appointment writes and assembles day views.
package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"salonbook/internal/events"
	"salonbook/internal/metrics"
	"salonbook/internal/models"
	"salonbook/internal/schedule"
	"salonbook/internal/timeofday"
)

// Store persists appointments. CreateAppointment and UpdateAppointment must
// run schedule.CheckNoOverlap against the target day inside the same write
// transaction as the insert or update.
type Store interface {
	ListDay(ctx context.Context, workspaceID, date string) ([]models.Appointment, error)
	GetAppointment(ctx context.Context, workspaceID, id string) (*models.Appointment, error)
	CreateAppointment(ctx context.Context, a *models.Appointment) error
	UpdateAppointment(ctx context.Context, a *models.Appointment) error
	DeleteAppointment(ctx context.Context, workspaceID, id string) error
	SetAppointmentStatus(ctx context.Context, workspaceID, id string, status models.Status) error
	GetWorkspace(ctx context.Context, id string) (*models.Workspace, error)
	UpsertWorkspace(ctx context.Context, ws *models.Workspace, window timeofday.Interval) error
	GetClient(ctx context.Context, workspaceID, id string) (*models.Client, error)
	GetService(ctx context.Context, workspaceID, id string) (*models.Service, error)
	GetCategoryDefault(ctx context.Context, workspaceID, category string) (*models.Service, error)
}

// DayCache holds day listings. GetDay reports a generation on a miss and
// SetDay must drop the write if the day was invalidated since.
type DayCache interface {
	GetDay(ctx context.Context, workspaceID, date string) ([]models.Appointment, int64, bool)
	SetDay(ctx context.Context, workspaceID, date string, gen int64, appts []models.Appointment)
	Invalidate(ctx context.Context, workspaceID string, dates ...string)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// AppointmentInput is the booking form as submitted.
type AppointmentInput struct {
	ClientID  string   `json:"client_id"`
	ServiceID string   `json:"service_id"`
	Category  string   `json:"category"`
	Date      string   `json:"date"`
	Start     string   `json:"start"`
	End       string   `json:"end"`
	Price     *float64 `json:"price"`
	Note      string   `json:"note"`
}

// DayView is everything needed to render one day of a workspace.
type DayView struct {
	WorkspaceID  string
	Date         string
	Window       timeofday.Interval
	City         *models.City
	Appointments []models.Appointment
	Segments     []schedule.Segment[models.Appointment]
}

type Service struct {
	store    Store
	cache    DayCache
	events   EventPublisher
	fallback timeofday.Interval
	logger   *zerolog.Logger
}

// NewService wires the booking service. cache and events may be nil.
func NewService(store Store, cache DayCache, bus EventPublisher, fallback timeofday.Interval, logger *zerolog.Logger) *Service {
	l := logger.With().Str("component", "booking").Logger()
	return &Service{
		store:    store,
		cache:    cache,
		events:   bus,
		fallback: fallback,
		logger:   &l,
	}
}

// Day loads the appointments of date and partitions the work window.
func (s *Service) Day(ctx context.Context, workspaceID, date string) (*DayView, error) {
	defer metrics.ObserveSchedule(time.Now())

	day, err := models.ParseDate(date)
	if err != nil {
		return nil, invalid("date", err.Error())
	}
	date = day.Format(models.DateLayout)

	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("get workspace %s: %w", workspaceID, err)
	}

	appts, err := s.listDay(ctx, workspaceID, date)
	if err != nil {
		return nil, err
	}

	window := ws.WorkWindow(s.fallback)
	segments, err := schedule.ComputeSegments(window, appts)
	if err != nil {
		metrics.IncPreconditionViolation()
		s.logger.Error().Err(err).
			Str("workspace", workspaceID).
			Str("date", date).
			Str("window", window.String()).
			Msg("stored appointments do not fit the day schedule")
		return nil, fmt.Errorf("compute day %s: %w", date, err)
	}

	return &DayView{
		WorkspaceID:  workspaceID,
		Date:         date,
		Window:       window,
		City:         ws.CityFor(day),
		Appointments: appts,
		Segments:     segments,
	}, nil
}

func (s *Service) listDay(ctx context.Context, workspaceID, date string) ([]models.Appointment, error) {
	var gen int64
	if s.cache != nil {
		appts, g, ok := s.cache.GetDay(ctx, workspaceID, date)
		if ok {
			metrics.IncDayCache(true)
			return appts, nil
		}
		metrics.IncDayCache(false)
		gen = g
	}

	appts, err := s.store.ListDay(ctx, workspaceID, date)
	if err != nil {
		return nil, fmt.Errorf("list day %s: %w", date, err)
	}
	if s.cache != nil {
		s.cache.SetDay(ctx, workspaceID, date, gen, appts)
	}
	return appts, nil
}

// SaveWorkspace creates a workspace or replaces its settings. New hours
// that would leave booked appointments outside the work window are
// rejected with a *models.HoursConflictError.
func (s *Service) SaveWorkspace(ctx context.Context, ws *models.Workspace) error {
	if err := ws.Validate(); err != nil {
		return invalid("workspace", err.Error())
	}
	window := ws.WorkWindow(s.fallback)
	if err := s.store.UpsertWorkspace(ctx, ws, window); err != nil {
		var herr *models.HoursConflictError
		if errors.As(err, &herr) {
			s.logger.Info().
				Str("workspace", ws.ID).
				Str("window", window.String()).
				Int("outside", len(herr.Appointments)).
				Msg("working hours change rejected")
			return err
		}
		return fmt.Errorf("save workspace %s: %w", ws.ID, err)
	}
	return nil
}

// Create validates the form, resolves the default price and books it.
func (s *Service) Create(ctx context.Context, workspaceID string, in AppointmentInput) (*models.Appointment, error) {
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("get workspace %s: %w", workspaceID, err)
	}

	appt, err := s.buildAppointment(ctx, ws, in)
	if err != nil {
		return nil, err
	}
	appt.ID = uuid.NewString()
	appt.Status = models.StatusScheduled

	if err := s.store.CreateAppointment(ctx, appt); err != nil {
		return nil, s.writeFailed("create", appt, err)
	}

	metrics.IncAppointmentWritten("created")
	s.invalidate(ctx, workspaceID, appt.Date)
	s.publish(events.AppointmentCreated, appt, "")
	s.logger.Info().
		Str("workspace", workspaceID).
		Str("appointment", appt.ID).
		Str("date", appt.Date).
		Str("interval", appt.Span().String()).
		Msg("appointment created")
	return appt, nil
}

// Update replaces the editable fields of an appointment. The overlap check
// runs against the other appointments of the (possibly new) date.
func (s *Service) Update(ctx context.Context, workspaceID, id string, in AppointmentInput) (*models.Appointment, error) {
	existing, err := s.store.GetAppointment(ctx, workspaceID, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment %s: %w", id, err)
	}
	ws, err := s.store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("get workspace %s: %w", workspaceID, err)
	}

	appt, err := s.buildAppointment(ctx, ws, in)
	if err != nil {
		return nil, err
	}
	appt.ID = existing.ID
	appt.Status = existing.Status
	appt.CreatedAt = existing.CreatedAt

	if err := s.store.UpdateAppointment(ctx, appt); err != nil {
		return nil, s.writeFailed("update", appt, err)
	}

	metrics.IncAppointmentWritten("updated")
	s.invalidate(ctx, workspaceID, existing.Date, appt.Date)
	previous := ""
	if existing.Date != appt.Date {
		previous = existing.Date
	}
	s.publish(events.AppointmentUpdated, appt, previous)
	return appt, nil
}

// Delete removes an appointment.
func (s *Service) Delete(ctx context.Context, workspaceID, id string) error {
	existing, err := s.store.GetAppointment(ctx, workspaceID, id)
	if err != nil {
		return fmt.Errorf("get appointment %s: %w", id, err)
	}
	if err := s.store.DeleteAppointment(ctx, workspaceID, id); err != nil {
		return fmt.Errorf("delete appointment %s: %w", id, err)
	}

	metrics.IncAppointmentWritten("deleted")
	s.invalidate(ctx, workspaceID, existing.Date)
	s.publish(events.AppointmentDeleted, existing, "")
	return nil
}

// SetStatus marks an appointment attended, no-show or back to scheduled.
func (s *Service) SetStatus(ctx context.Context, workspaceID, id string, status models.Status) (*models.Appointment, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if err := s.store.SetAppointmentStatus(ctx, workspaceID, id, status); err != nil {
		return nil, fmt.Errorf("set status of %s: %w", id, err)
	}
	appt, err := s.store.GetAppointment(ctx, workspaceID, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment %s: %w", id, err)
	}

	metrics.IncAppointmentWritten("status_changed")
	s.invalidate(ctx, workspaceID, appt.Date)
	s.publish(events.AppointmentStatusChanged, appt, "")
	return appt, nil
}

func (s *Service) buildAppointment(ctx context.Context, ws *models.Workspace, in AppointmentInput) (*models.Appointment, error) {
	if strings.TrimSpace(in.ClientID) == "" {
		return nil, invalid("client_id", "select or create a client")
	}
	category := strings.TrimSpace(in.Category)
	if category == "" {
		return nil, invalid("category", "select a category")
	}

	day, err := models.ParseDate(in.Date)
	if err != nil {
		return nil, invalid("date", err.Error())
	}

	span, err := timeofday.ParseInterval(in.Start, in.End)
	if err != nil {
		var ierr *timeofday.InvalidIntervalError
		if errors.As(err, &ierr) {
			return nil, invalid("end", "end must be later than start")
		}
		return nil, invalid("time", err.Error())
	}

	window := ws.WorkWindow(s.fallback)
	if !window.Contains(span) {
		return nil, invalid("time", fmt.Sprintf("%s is outside working hours %s", span, window))
	}

	if in.Price != nil && *in.Price < 0 {
		return nil, invalid("price", "price cannot be negative")
	}

	appt := &models.Appointment{
		WorkspaceID: ws.ID,
		ClientID:    strings.TrimSpace(in.ClientID),
		ServiceID:   strings.TrimSpace(in.ServiceID),
		Category:    category,
		Date:        day.Format(models.DateLayout),
		Start:       span.Start,
		End:         span.End,
		Price:       in.Price,
		Note:        strings.TrimSpace(in.Note),
	}

	if _, err := s.store.GetClient(ctx, ws.ID, appt.ClientID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, invalid("client_id", "unknown client")
		}
		return nil, fmt.Errorf("get client %s: %w", appt.ClientID, err)
	}

	if appt.Price == nil {
		price, err := s.defaultPrice(ctx, ws.ID, appt.ServiceID, category)
		if err != nil {
			return nil, err
		}
		appt.Price = price
	}
	return appt, nil
}

// defaultPrice prefers the chosen service, then the category row.
func (s *Service) defaultPrice(ctx context.Context, workspaceID, serviceID, category string) (*float64, error) {
	if serviceID != "" {
		svc, err := s.store.GetService(ctx, workspaceID, serviceID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, invalid("service_id", "unknown service")
			}
			return nil, fmt.Errorf("get service %s: %w", serviceID, err)
		}
		if svc.DefaultPrice != nil {
			return svc.DefaultPrice, nil
		}
	}

	row, err := s.store.GetCategoryDefault(ctx, workspaceID, category)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get category default %s: %w", category, err)
	}
	return row.DefaultPrice, nil
}

func (s *Service) writeFailed(action string, appt *models.Appointment, err error) error {
	if errors.Is(err, schedule.ErrOverlap) {
		metrics.IncOverlapRejected()
		s.logger.Info().
			Str("workspace", appt.WorkspaceID).
			Str("date", appt.Date).
			Str("interval", appt.Span().String()).
			Msg("overlapping booking rejected")
		return err
	}
	return fmt.Errorf("%s appointment: %w", action, err)
}

func (s *Service) invalidate(ctx context.Context, workspaceID string, dates ...string) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, workspaceID, dates...)
	}
}

func (s *Service) publish(eventType string, appt *models.Appointment, previousDate string) {
	if s.events == nil {
		return
	}
	payload := events.AppointmentPayload{
		WorkspaceID:   appt.WorkspaceID,
		AppointmentID: appt.ID,
		Date:          appt.Date,
		PreviousDate:  previousDate,
		Start:         appt.Start.String(),
		End:           appt.End.String(),
		Status:        string(appt.Status),
	}
	if err := s.events.PublishJSON(eventType, payload); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("publish event failed")
	}
}
