package postgres

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"salonbook/internal/models"
	"salonbook/internal/schedule"
	"salonbook/internal/timeofday"
)

func TestTranslate(t *testing.T) {
	exclusion := &pgconn.PgError{Code: "23P01", ConstraintName: "appointments_no_overlap"}

	assert.True(t, IsConflict(exclusion))
	assert.True(t, IsConflict(fmt.Errorf("insert: %w", exclusion)))
	assert.False(t, IsConflict(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsConflict(errors.New("boom")))

	assert.NoError(t, translate(nil))
	assert.ErrorIs(t, translate(exclusion), schedule.ErrOverlap)
	assert.ErrorIs(t, translate(pgx.ErrNoRows), models.ErrNotFound)

	other := errors.New("connection reset")
	assert.Equal(t, other, translate(other))
}

func TestOptional(t *testing.T) {
	assert.Nil(t, optional(""))
	require.NotNil(t, optional("svc"))
	assert.Equal(t, "svc", *optional("svc"))
}

// TestStore_Integration runs against a scratch database named by
// SALONBOOK_TEST_PG_DSN.
func TestStore_Integration(t *testing.T) {
	dsn := os.Getenv("SALONBOOK_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("SALONBOOK_TEST_PG_DSN not set")
	}

	ctx := context.Background()
	logger := zerolog.New(io.Discard)
	store, err := Open(ctx, dsn, &logger)
	require.NoError(t, err)
	defer store.Close()

	ws := &models.Workspace{Name: "Studio " + uuid.NewString()}
	hours := timeofday.Interval{Start: timeofday.MustParse("09:00"), End: timeofday.MustParse("19:00")}
	require.NoError(t, store.UpsertWorkspace(ctx, ws, hours))
	client := &models.Client{WorkspaceID: ws.ID, Name: "Ona"}
	require.NoError(t, store.CreateClient(ctx, client))

	mk := func(from, to string) *models.Appointment {
		return &models.Appointment{
			ID:          uuid.NewString(),
			WorkspaceID: ws.ID,
			ClientID:    client.ID,
			Category:    "Nails",
			Date:        "2025-03-10",
			Start:       timeofday.MustParse(from),
			End:         timeofday.MustParse(to),
		}
	}

	first := mk("09:00", "10:00")
	require.NoError(t, store.CreateAppointment(ctx, first))
	require.NoError(t, store.CreateAppointment(ctx, mk("10:00", "11:00")))
	assert.ErrorIs(t, store.CreateAppointment(ctx, mk("09:30", "10:30")), schedule.ErrOverlap)

	first.End = timeofday.MustParse("09:45")
	require.NoError(t, store.UpdateAppointment(ctx, first))

	day, err := store.ListDay(ctx, ws.ID, "2025-03-10")
	require.NoError(t, err)
	require.Len(t, day, 2)
	assert.Equal(t, "09:00–09:45", day[0].Span().String())
	assert.Equal(t, "2025-03-10", day[0].Date)

	// The constraint alone must reject a conflicting row written around the guard.
	_, err = store.pool.Exec(ctx, `
		INSERT INTO appointments (id, workspace_id, client_id, category, date, start_min, end_min)
		VALUES ($1, $2, $3, 'Nails', '2025-03-10', 600, 630)
	`, uuid.NewString(), ws.ID, client.ID)
	assert.True(t, IsConflict(err))

	ws.WorkStart, ws.WorkEnd = "09:30", "19:00"
	err = store.UpsertWorkspace(ctx, ws, timeofday.Interval{Start: timeofday.MustParse("09:30"), End: hours.End})
	var herr *models.HoursConflictError
	require.ErrorAs(t, err, &herr)
	require.Len(t, herr.Appointments, 1)
	assert.Equal(t, first.ID, herr.Appointments[0].ID)
	got, err := store.GetWorkspace(ctx, ws.ID)
	require.NoError(t, err)
	assert.Empty(t, got.WorkStart)

	_, err = store.GetClient(ctx, uuid.NewString(), client.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	history, err := store.ClientAppointments(ctx, ws.ID, client.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
	assert.ErrorIs(t, store.DeleteClient(ctx, ws.ID, client.ID), models.ErrInUse)

	require.NoError(t, store.SetAppointmentStatus(ctx, ws.ID, first.ID, models.StatusAttended))
	require.NoError(t, store.DeleteAppointment(ctx, ws.ID, first.ID))
	_, err = store.GetAppointment(ctx, ws.ID, first.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestStore_DirectoryIntegration(t *testing.T) {
	dsn := os.Getenv("SALONBOOK_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("SALONBOOK_TEST_PG_DSN not set")
	}

	ctx := context.Background()
	logger := zerolog.New(io.Discard)
	store, err := Open(ctx, dsn, &logger)
	require.NoError(t, err)
	defer store.Close()

	ws := &models.Workspace{Name: "Studio " + uuid.NewString()}
	require.NoError(t, store.UpsertWorkspace(ctx, ws, timeofday.Interval{Start: timeofday.MustParse("09:00"), End: timeofday.MustParse("19:00")}))

	svc := &models.Service{WorkspaceID: ws.ID, Category: "Hair", Name: "Cut"}
	require.NoError(t, store.CreateService(ctx, svc))
	svc.Name = "Long cut"
	require.NoError(t, store.UpdateService(ctx, svc))
	services, err := store.ListServices(ctx, ws.ID)
	require.NoError(t, err)
	require.Len(t, services, 1)
	assert.Equal(t, "Long cut", services[0].Name)
	require.NoError(t, store.DeleteService(ctx, ws.ID, svc.ID))
	assert.ErrorIs(t, store.DeleteService(ctx, ws.ID, svc.ID), models.ErrNotFound)

	for _, name := range []string{"Rasa", "onute", "50% Ona"} {
		require.NoError(t, store.CreateClient(ctx, &models.Client{WorkspaceID: ws.ID, Name: name}))
	}
	clients, err := store.ListClients(ctx, ws.ID, "ON")
	require.NoError(t, err)
	require.Len(t, clients, 2)
	clients, err = store.ListClients(ctx, ws.ID, "%")
	require.NoError(t, err)
	require.Len(t, clients, 1)
	assert.Equal(t, "50% Ona", clients[0].Name)

	require.NoError(t, store.DeleteClient(ctx, ws.ID, clients[0].ID))
	_, err = store.GetClient(ctx, ws.ID, clients[0].ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}
