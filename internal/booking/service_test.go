package booking

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"salonbook/internal/events"
	"salonbook/internal/models"
	"salonbook/internal/schedule"
	"salonbook/internal/timeofday"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) ListDay(ctx context.Context, ws, date string) ([]models.Appointment, error) {
	args := m.Called(ctx, ws, date)
	return args.Get(0).([]models.Appointment), args.Error(1)
}
func (m *mockStore) GetAppointment(ctx context.Context, ws, id string) (*models.Appointment, error) {
	args := m.Called(ctx, ws, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Appointment), args.Error(1)
}
func (m *mockStore) CreateAppointment(ctx context.Context, a *models.Appointment) error {
	return m.Called(ctx, a).Error(0)
}
func (m *mockStore) UpdateAppointment(ctx context.Context, a *models.Appointment) error {
	return m.Called(ctx, a).Error(0)
}
func (m *mockStore) DeleteAppointment(ctx context.Context, ws, id string) error {
	return m.Called(ctx, ws, id).Error(0)
}
func (m *mockStore) SetAppointmentStatus(ctx context.Context, ws, id string, s models.Status) error {
	return m.Called(ctx, ws, id, s).Error(0)
}
func (m *mockStore) GetWorkspace(ctx context.Context, id string) (*models.Workspace, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Workspace), args.Error(1)
}
func (m *mockStore) UpsertWorkspace(ctx context.Context, ws *models.Workspace, window timeofday.Interval) error {
	return m.Called(ctx, ws, window).Error(0)
}
func (m *mockStore) GetClient(ctx context.Context, ws, id string) (*models.Client, error) {
	args := m.Called(ctx, ws, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Client), args.Error(1)
}
func (m *mockStore) GetService(ctx context.Context, ws, id string) (*models.Service, error) {
	args := m.Called(ctx, ws, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Service), args.Error(1)
}
func (m *mockStore) GetCategoryDefault(ctx context.Context, ws, category string) (*models.Service, error) {
	args := m.Called(ctx, ws, category)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Service), args.Error(1)
}

type mockCache struct {
	mock.Mock
}

func (m *mockCache) GetDay(ctx context.Context, ws, date string) ([]models.Appointment, int64, bool) {
	args := m.Called(ctx, ws, date)
	gen := args.Get(1).(int64)
	if args.Get(0) == nil {
		return nil, gen, args.Bool(2)
	}
	return args.Get(0).([]models.Appointment), gen, args.Bool(2)
}
func (m *mockCache) SetDay(ctx context.Context, ws, date string, gen int64, appts []models.Appointment) {
	m.Called(ctx, ws, date, gen, appts)
}
func (m *mockCache) Invalidate(ctx context.Context, ws string, dates ...string) {
	m.Called(ctx, ws, dates)
}

type mockEventBus struct {
	mock.Mock
}

func (m *mockEventBus) PublishJSON(et string, p interface{}) error { return m.Called(et, p).Error(0) }

func price(v float64) *float64 { return &v }

var fallback = timeofday.Interval{Start: timeofday.MustParse("09:00"), End: timeofday.MustParse("19:00")}

func appt(id, from, to string) models.Appointment {
	return models.Appointment{
		ID:          id,
		WorkspaceID: "ws",
		Date:        "2025-03-10",
		Start:       timeofday.MustParse(from),
		End:         timeofday.MustParse(to),
		Status:      models.StatusScheduled,
	}
}

func newTestService(t *testing.T) (*Service, *mockStore, *mockCache, *mockEventBus) {
	t.Helper()
	store := new(mockStore)
	cache := new(mockCache)
	bus := new(mockEventBus)
	logger := zerolog.New(io.Discard)
	return NewService(store, cache, bus, fallback, &logger), store, cache, bus
}

func TestService_Day(t *testing.T) {
	ctx := context.Background()
	ws := &models.Workspace{
		ID:     "ws",
		Cities: []models.City{{Name: "Vilnius", Days: []int{1}}},
	}

	t.Run("cache miss fills cache", func(t *testing.T) {
		svc, store, cache, _ := newTestService(t)
		day := []models.Appointment{appt("c", "14:00", "14:45"), appt("a", "09:15", "10:00"), appt("b", "10:00", "11:30")}

		store.On("GetWorkspace", ctx, "ws").Return(ws, nil)
		cache.On("GetDay", ctx, "ws", "2025-03-10").Return(nil, int64(3), false)
		store.On("ListDay", ctx, "ws", "2025-03-10").Return(day, nil)
		cache.On("SetDay", ctx, "ws", "2025-03-10", int64(3), day).Return()

		view, err := svc.Day(ctx, "ws", "2025-03-10")
		require.NoError(t, err)

		assert.Equal(t, fallback, view.Window)
		require.NotNil(t, view.City)
		assert.Equal(t, "Vilnius", view.City.Name)
		require.Len(t, view.Segments, 6)
		assert.True(t, view.Segments[0].IsFree())
		assert.Equal(t, "a", view.Segments[1].Entry.ID)
		assert.Equal(t, "14:45–19:00", view.Segments[5].Interval.String())
		store.AssertExpectations(t)
		cache.AssertExpectations(t)
	})

	t.Run("cache hit skips store", func(t *testing.T) {
		svc, store, cache, _ := newTestService(t)
		store.On("GetWorkspace", ctx, "ws").Return(&models.Workspace{ID: "ws", WorkStart: "10:00", WorkEnd: "12:00"}, nil)
		cache.On("GetDay", ctx, "ws", "2025-03-11").Return([]models.Appointment{}, int64(0), true)

		view, err := svc.Day(ctx, "ws", "2025-03-11")
		require.NoError(t, err)
		require.Len(t, view.Segments, 1)
		assert.Equal(t, "10:00–12:00", view.Segments[0].Interval.String())
		assert.Nil(t, view.City)
		store.AssertNotCalled(t, "ListDay", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("stored appointment outside window", func(t *testing.T) {
		svc, store, cache, _ := newTestService(t)
		store.On("GetWorkspace", ctx, "ws").Return(&models.Workspace{ID: "ws", WorkStart: "10:00", WorkEnd: "12:00"}, nil)
		cache.On("GetDay", ctx, "ws", "2025-03-10").Return([]models.Appointment{appt("x", "09:00", "10:30")}, int64(0), true)

		_, err := svc.Day(ctx, "ws", "2025-03-10")
		var perr *schedule.PreconditionError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, "x", perr.EntryID)
	})

	t.Run("bad date", func(t *testing.T) {
		svc, _, _, _ := newTestService(t)
		_, err := svc.Day(ctx, "ws", "10/03/2025")
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)
	})

	t.Run("unknown workspace", func(t *testing.T) {
		svc, store, _, _ := newTestService(t)
		store.On("GetWorkspace", ctx, "nope").Return(nil, ErrNotFound)
		_, err := svc.Day(ctx, "nope", "2025-03-10")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestService_Create(t *testing.T) {
	ctx := context.Background()
	ws := &models.Workspace{ID: "ws"}
	input := AppointmentInput{
		ClientID:  "client-1",
		ServiceID: "svc-1",
		Category:  "Nails",
		Date:      "2025-03-10",
		Start:     "09:15",
		End:       "10:00:00",
	}

	t.Run("uses service default price", func(t *testing.T) {
		svc, store, cache, bus := newTestService(t)
		store.On("GetWorkspace", ctx, "ws").Return(ws, nil)
		store.On("GetClient", ctx, "ws", "client-1").Return(&models.Client{ID: "client-1", WorkspaceID: "ws"}, nil)
		store.On("GetService", ctx, "ws", "svc-1").Return(&models.Service{ID: "svc-1", DefaultPrice: price(35)}, nil)
		store.On("CreateAppointment", ctx, mock.MatchedBy(func(a *models.Appointment) bool {
			return a.ID != "" && a.Status == models.StatusScheduled && a.Span().String() == "09:15–10:00"
		})).Return(nil)
		cache.On("Invalidate", ctx, "ws", []string{"2025-03-10"}).Return()
		bus.On("PublishJSON", events.AppointmentCreated, mock.AnythingOfType("events.AppointmentPayload")).Return(nil)

		got, err := svc.Create(ctx, "ws", input)
		require.NoError(t, err)
		require.NotNil(t, got.Price)
		assert.Equal(t, 35.0, *got.Price)
		store.AssertNotCalled(t, "GetCategoryDefault", mock.Anything, mock.Anything, mock.Anything)
		store.AssertExpectations(t)
		cache.AssertExpectations(t)
		bus.AssertExpectations(t)
	})

	t.Run("falls back to category price", func(t *testing.T) {
		svc, store, cache, bus := newTestService(t)
		store.On("GetWorkspace", ctx, "ws").Return(ws, nil)
		store.On("GetClient", ctx, "ws", "client-1").Return(&models.Client{ID: "client-1", WorkspaceID: "ws"}, nil)
		store.On("GetService", ctx, "ws", "svc-1").Return(&models.Service{ID: "svc-1"}, nil)
		store.On("GetCategoryDefault", ctx, "ws", "Nails").Return(&models.Service{DefaultPrice: price(20)}, nil)
		store.On("CreateAppointment", ctx, mock.Anything).Return(nil)
		cache.On("Invalidate", ctx, "ws", mock.Anything).Return()
		bus.On("PublishJSON", mock.Anything, mock.Anything).Return(errors.New("bus down"))

		got, err := svc.Create(ctx, "ws", input)
		require.NoError(t, err, "publish failures are not fatal")
		assert.Equal(t, 20.0, *got.Price)
	})

	t.Run("explicit price wins", func(t *testing.T) {
		svc, store, cache, bus := newTestService(t)
		store.On("GetWorkspace", ctx, "ws").Return(ws, nil)
		store.On("GetClient", ctx, "ws", "client-1").Return(&models.Client{ID: "client-1", WorkspaceID: "ws"}, nil)
		store.On("CreateAppointment", ctx, mock.Anything).Return(nil)
		cache.On("Invalidate", ctx, "ws", mock.Anything).Return()
		bus.On("PublishJSON", mock.Anything, mock.Anything).Return(nil)

		in := input
		in.Price = price(0)
		got, err := svc.Create(ctx, "ws", in)
		require.NoError(t, err)
		assert.Equal(t, 0.0, *got.Price)
		store.AssertNotCalled(t, "GetService", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("no default anywhere", func(t *testing.T) {
		svc, store, cache, bus := newTestService(t)
		store.On("GetWorkspace", ctx, "ws").Return(ws, nil)
		store.On("GetClient", ctx, "ws", "client-1").Return(&models.Client{ID: "client-1", WorkspaceID: "ws"}, nil)
		store.On("GetCategoryDefault", ctx, "ws", "Nails").Return(nil, ErrNotFound)
		store.On("CreateAppointment", ctx, mock.Anything).Return(nil)
		cache.On("Invalidate", ctx, "ws", mock.Anything).Return()
		bus.On("PublishJSON", mock.Anything, mock.Anything).Return(nil)

		in := input
		in.ServiceID = ""
		got, err := svc.Create(ctx, "ws", in)
		require.NoError(t, err)
		assert.Nil(t, got.Price)
	})

	t.Run("overlap rejected", func(t *testing.T) {
		svc, store, _, bus := newTestService(t)
		conflict := &schedule.OverlapError{
			Scope:       schedule.Scope{WorkspaceID: "ws", Date: "2025-03-10"},
			Candidate:   timeofday.Interval{Start: timeofday.MustParse("09:15"), End: timeofday.MustParse("10:00")},
			ConflictID:  "other",
			Conflicting: timeofday.Interval{Start: timeofday.MustParse("09:00"), End: timeofday.MustParse("09:30")},
		}
		store.On("GetWorkspace", ctx, "ws").Return(ws, nil)
		store.On("GetClient", ctx, "ws", "client-1").Return(&models.Client{ID: "client-1", WorkspaceID: "ws"}, nil)
		store.On("GetService", ctx, "ws", "svc-1").Return(&models.Service{DefaultPrice: price(10)}, nil)
		store.On("CreateAppointment", ctx, mock.Anything).Return(conflict)

		_, err := svc.Create(ctx, "ws", input)
		assert.ErrorIs(t, err, schedule.ErrOverlap)
		bus.AssertNotCalled(t, "PublishJSON", mock.Anything, mock.Anything)
	})

	t.Run("validation", func(t *testing.T) {
		tests := []struct {
			name  string
			edit  func(*AppointmentInput)
			field string
		}{
			{name: "missing client", edit: func(in *AppointmentInput) { in.ClientID = " " }, field: "client_id"},
			{name: "missing category", edit: func(in *AppointmentInput) { in.Category = "" }, field: "category"},
			{name: "end before start", edit: func(in *AppointmentInput) { in.End = "09:00" }, field: "end"},
			{name: "zero length", edit: func(in *AppointmentInput) { in.End = in.Start }, field: "end"},
			{name: "bad time", edit: func(in *AppointmentInput) { in.Start = "9am" }, field: "time"},
			{name: "bad date", edit: func(in *AppointmentInput) { in.Date = "2025-13-01" }, field: "date"},
			{name: "negative price", edit: func(in *AppointmentInput) { in.Price = price(-1) }, field: "price"},
			{name: "outside hours", edit: func(in *AppointmentInput) { in.Start, in.End = "18:30", "19:30" }, field: "time"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				svc, store, _, _ := newTestService(t)
				store.On("GetWorkspace", ctx, "ws").Return(ws, nil)

				in := input
				tt.edit(&in)
				_, err := svc.Create(ctx, "ws", in)

				var verr *ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Equal(t, tt.field, verr.Field)
				store.AssertNotCalled(t, "CreateAppointment", mock.Anything, mock.Anything)
			})
		}
	})

	t.Run("unknown service", func(t *testing.T) {
		svc, store, _, _ := newTestService(t)
		store.On("GetWorkspace", ctx, "ws").Return(ws, nil)
		store.On("GetClient", ctx, "ws", "client-1").Return(&models.Client{ID: "client-1", WorkspaceID: "ws"}, nil)
		store.On("GetService", ctx, "ws", "svc-1").Return(nil, ErrNotFound)

		_, err := svc.Create(ctx, "ws", input)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "service_id", verr.Field)
	})

	t.Run("client not in workspace", func(t *testing.T) {
		svc, store, _, _ := newTestService(t)
		store.On("GetWorkspace", ctx, "ws").Return(ws, nil)
		store.On("GetClient", ctx, "ws", "client-1").Return(nil, ErrNotFound)

		_, err := svc.Create(ctx, "ws", input)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "client_id", verr.Field)
		store.AssertNotCalled(t, "GetService", mock.Anything, mock.Anything, mock.Anything)
		store.AssertNotCalled(t, "CreateAppointment", mock.Anything, mock.Anything)
	})

	t.Run("client lookup fails", func(t *testing.T) {
		svc, store, _, _ := newTestService(t)
		store.On("GetWorkspace", ctx, "ws").Return(ws, nil)
		store.On("GetClient", ctx, "ws", "client-1").Return(nil, errors.New("db closed"))

		_, err := svc.Create(ctx, "ws", input)
		require.Error(t, err)
		var verr *ValidationError
		assert.False(t, errors.As(err, &verr))
		store.AssertNotCalled(t, "CreateAppointment", mock.Anything, mock.Anything)
	})
}

func TestService_Update(t *testing.T) {
	ctx := context.Background()
	ws := &models.Workspace{ID: "ws"}

	t.Run("moves to another date", func(t *testing.T) {
		svc, store, cache, bus := newTestService(t)
		existing := appt("a1", "09:00", "10:00")
		existing.Status = models.StatusAttended

		store.On("GetAppointment", ctx, "ws", "a1").Return(&existing, nil)
		store.On("GetWorkspace", ctx, "ws").Return(ws, nil)
		store.On("GetClient", ctx, "ws", "c").Return(&models.Client{ID: "c", WorkspaceID: "ws"}, nil)
		store.On("UpdateAppointment", ctx, mock.MatchedBy(func(a *models.Appointment) bool {
			return a.ID == "a1" && a.Date == "2025-03-11" && a.Status == models.StatusAttended
		})).Return(nil)
		cache.On("Invalidate", ctx, "ws", []string{"2025-03-10", "2025-03-11"}).Return()
		bus.On("PublishJSON", events.AppointmentUpdated, mock.MatchedBy(func(p events.AppointmentPayload) bool {
			return p.PreviousDate == "2025-03-10" && p.Date == "2025-03-11"
		})).Return(nil)

		_, err := svc.Update(ctx, "ws", "a1", AppointmentInput{
			ClientID: "c", Category: "Hair", Date: "2025-03-11", Start: "09:00", End: "10:00", Price: price(15),
		})
		require.NoError(t, err)
		store.AssertExpectations(t)
		cache.AssertExpectations(t)
		bus.AssertExpectations(t)
	})

	t.Run("client of another workspace", func(t *testing.T) {
		svc, store, _, _ := newTestService(t)
		existing := appt("a1", "09:00", "10:00")
		store.On("GetAppointment", ctx, "ws", "a1").Return(&existing, nil)
		store.On("GetWorkspace", ctx, "ws").Return(ws, nil)
		store.On("GetClient", ctx, "ws", "foreign").Return(nil, ErrNotFound)

		_, err := svc.Update(ctx, "ws", "a1", AppointmentInput{
			ClientID: "foreign", Category: "Hair", Date: "2025-03-10", Start: "09:00", End: "10:00",
		})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "client_id", verr.Field)
		store.AssertNotCalled(t, "UpdateAppointment", mock.Anything, mock.Anything)
	})

	t.Run("missing appointment", func(t *testing.T) {
		svc, store, _, _ := newTestService(t)
		store.On("GetAppointment", ctx, "ws", "gone").Return(nil, ErrNotFound)

		_, err := svc.Update(ctx, "ws", "gone", AppointmentInput{})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestService_DeleteAndStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("delete", func(t *testing.T) {
		svc, store, cache, bus := newTestService(t)
		existing := appt("a1", "09:00", "10:00")
		store.On("GetAppointment", ctx, "ws", "a1").Return(&existing, nil)
		store.On("DeleteAppointment", ctx, "ws", "a1").Return(nil)
		cache.On("Invalidate", ctx, "ws", []string{"2025-03-10"}).Return()
		bus.On("PublishJSON", events.AppointmentDeleted, mock.Anything).Return(nil)

		require.NoError(t, svc.Delete(ctx, "ws", "a1"))
		store.AssertExpectations(t)
	})

	t.Run("set status", func(t *testing.T) {
		svc, store, cache, bus := newTestService(t)
		updated := appt("a1", "09:00", "10:00")
		updated.Status = models.StatusNoShow
		store.On("SetAppointmentStatus", ctx, "ws", "a1", models.StatusNoShow).Return(nil)
		store.On("GetAppointment", ctx, "ws", "a1").Return(&updated, nil)
		cache.On("Invalidate", ctx, "ws", []string{"2025-03-10"}).Return()
		bus.On("PublishJSON", events.AppointmentStatusChanged, mock.Anything).Return(nil)

		got, err := svc.SetStatus(ctx, "ws", "a1", models.StatusNoShow)
		require.NoError(t, err)
		assert.Equal(t, models.StatusNoShow, got.Status)
	})

	t.Run("invalid status", func(t *testing.T) {
		svc, store, _, _ := newTestService(t)
		_, err := svc.SetStatus(ctx, "ws", "a1", models.Status("cancelled"))
		assert.ErrorIs(t, err, ErrInvalidStatus)
		store.AssertNotCalled(t, "SetAppointmentStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestService_SaveWorkspace(t *testing.T) {
	ctx := context.Background()

	t.Run("passes resolved window", func(t *testing.T) {
		svc, store, _, _ := newTestService(t)
		ws := &models.Workspace{ID: "ws", Name: "Studio", WorkStart: "10:00", WorkEnd: "18:00"}
		window := timeofday.Interval{Start: timeofday.MustParse("10:00"), End: timeofday.MustParse("18:00")}
		store.On("UpsertWorkspace", ctx, ws, window).Return(nil)

		require.NoError(t, svc.SaveWorkspace(ctx, ws))
		store.AssertExpectations(t)
	})

	t.Run("empty hours use fallback", func(t *testing.T) {
		svc, store, _, _ := newTestService(t)
		ws := &models.Workspace{ID: "ws", Name: "Studio"}
		store.On("UpsertWorkspace", ctx, ws, fallback).Return(nil)

		require.NoError(t, svc.SaveWorkspace(ctx, ws))
		store.AssertExpectations(t)
	})

	t.Run("invalid settings", func(t *testing.T) {
		svc, store, _, _ := newTestService(t)
		err := svc.SaveWorkspace(ctx, &models.Workspace{ID: "ws", Name: "Studio", WorkStart: "18:00", WorkEnd: "10:00"})

		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "workspace", verr.Field)
		store.AssertNotCalled(t, "UpsertWorkspace", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("hours conflict passes through", func(t *testing.T) {
		svc, store, _, _ := newTestService(t)
		ws := &models.Workspace{ID: "ws", Name: "Studio", WorkStart: "10:00", WorkEnd: "18:00"}
		conflict := &models.HoursConflictError{Appointments: []models.Appointment{appt("early", "09:00", "10:00")}}
		store.On("UpsertWorkspace", ctx, ws, mock.Anything).Return(conflict)

		err := svc.SaveWorkspace(ctx, ws)
		var herr *models.HoursConflictError
		require.ErrorAs(t, err, &herr)
		assert.Equal(t, "early", herr.Appointments[0].ID)
	})
}
