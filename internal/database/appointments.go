package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"salonbook/internal/models"
	"salonbook/internal/schedule"
	"salonbook/internal/timeofday"
)

const appointmentColumns = `id, workspace_id, client_id, service_id, category, date,
	start_min, end_min, price, note, status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAppointment(row rowScanner) (models.Appointment, error) {
	var (
		a                models.Appointment
		serviceID        sql.NullString
		price            sql.NullFloat64
		startMin, endMin int
		status           string
	)
	err := row.Scan(
		&a.ID, &a.WorkspaceID, &a.ClientID, &serviceID, &a.Category, &a.Date,
		&startMin, &endMin, &price, &a.Note, &status, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return models.Appointment{}, err
	}
	a.ServiceID = serviceID.String
	if price.Valid {
		p := price.Float64
		a.Price = &p
	}
	a.Start = timeofday.TimeOfDay(startMin)
	a.End = timeofday.TimeOfDay(endMin)
	a.Status = models.Status(status)
	return a, nil
}

func queryAppointments(ctx context.Context, q queryer, query string, args ...any) ([]models.Appointment, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	appts := make([]models.Appointment, 0)
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, a)
	}
	return appts, rows.Err()
}

func listDay(ctx context.Context, q queryer, workspaceID, date string) ([]models.Appointment, error) {
	return queryAppointments(ctx, q, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE workspace_id = ? AND date = ?
		ORDER BY start_min, end_min`,
		workspaceID, date,
	)
}

// ListDay returns the appointments of one workspace day ordered by start.
func (db *DB) ListDay(ctx context.Context, workspaceID, date string) ([]models.Appointment, error) {
	return listDay(ctx, db, workspaceID, date)
}

// GetAppointment returns models.ErrNotFound for an unknown id.
func (db *DB) GetAppointment(ctx context.Context, workspaceID, id string) (*models.Appointment, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE workspace_id = ? AND id = ?`,
		workspaceID, id,
	)
	a, err := scanAppointment(row)
	if err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

// guardDay loads the target day inside tx and rejects a conflicting slot.
func guardDay(ctx context.Context, tx *sql.Tx, a *models.Appointment) error {
	day, err := listDay(ctx, tx, a.WorkspaceID, a.Date)
	if err != nil {
		return fmt.Errorf("load day for overlap check: %w", err)
	}
	scope := schedule.Scope{WorkspaceID: a.WorkspaceID, Date: a.Date}
	return schedule.CheckNoOverlap(scope, a.Span(), a.ID, day)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

// CreateAppointment inserts a after checking it against the rest of its day
// in the same transaction.
func (db *DB) CreateAppointment(ctx context.Context, a *models.Appointment) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer rollback(tx)

	if err := guardDay(ctx, tx, a); err != nil {
		return err
	}

	now := time.Now().UTC()
	if a.Status == "" {
		a.Status = models.StatusScheduled
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.WorkspaceID, a.ClientID, nullString(a.ServiceID), a.Category, a.Date,
		int(a.Start), int(a.End), nullFloat(a.Price), a.Note, string(a.Status), now, now,
	)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	a.CreatedAt, a.UpdatedAt = now, now
	db.logger.Debug().Str("appointment", a.ID).Str("date", a.Date).Msg("appointment inserted")
	return nil
}

// UpdateAppointment rewrites the editable fields of a. The overlap check
// excludes a itself and runs against a.Date, which may differ from the
// stored date.
func (db *DB) UpdateAppointment(ctx context.Context, a *models.Appointment) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer rollback(tx)

	if err := guardDay(ctx, tx, a); err != nil {
		return err
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE appointments
		SET client_id = ?, service_id = ?, category = ?, date = ?,
		    start_min = ?, end_min = ?, price = ?, note = ?, updated_at = ?
		WHERE workspace_id = ? AND id = ?`,
		a.ClientID, nullString(a.ServiceID), a.Category, a.Date,
		int(a.Start), int(a.End), nullFloat(a.Price), a.Note, now,
		a.WorkspaceID, a.ID,
	)
	if err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	if err := expectOne(res); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	a.UpdatedAt = now
	return nil
}

func (db *DB) DeleteAppointment(ctx context.Context, workspaceID, id string) error {
	res, err := db.ExecContext(ctx,
		`DELETE FROM appointments WHERE workspace_id = ? AND id = ?`,
		workspaceID, id,
	)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func (db *DB) SetAppointmentStatus(ctx context.Context, workspaceID, id string, status models.Status) error {
	res, err := db.ExecContext(ctx,
		`UPDATE appointments SET status = ?, updated_at = ? WHERE workspace_id = ? AND id = ?`,
		string(status), time.Now().UTC(), workspaceID, id,
	)
	if err != nil {
		return err
	}
	return expectOne(res)
}
