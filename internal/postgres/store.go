// Package postgres implements the booking store on PostgreSQL. An exclusion
// constraint backs the in-transaction overlap check.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"salonbook/internal/models"
	"salonbook/internal/schedule"
	"salonbook/internal/timeofday"
)

type Store struct {
	pool   *pgxpool.Pool
	logger *zerolog.Logger
}

func Open(ctx context.Context, databaseURL string, logger *zerolog.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	l := logger.With().Str("component", "postgres").Logger()
	s := &Store{pool: pool, logger: &l}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

var migrations = []string{
	`CREATE EXTENSION IF NOT EXISTS btree_gist`,
	`CREATE TABLE IF NOT EXISTS workspaces (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		work_start TEXT NOT NULL DEFAULT '',
		work_end TEXT NOT NULL DEFAULT '',
		cities JSONB NOT NULL DEFAULT '[]',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS services (
		id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
		category TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		default_price DOUBLE PRECISION,
		color TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		gender TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS appointments (
		id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL REFERENCES workspaces(id) ON DELETE CASCADE,
		client_id TEXT NOT NULL REFERENCES clients(id),
		service_id TEXT REFERENCES services(id) ON DELETE SET NULL,
		category TEXT NOT NULL,
		date DATE NOT NULL,
		start_min INTEGER NOT NULL,
		end_min INTEGER NOT NULL,
		price DOUBLE PRECISION,
		note TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'scheduled'
			CHECK (status IN ('scheduled', 'attended', 'no_show')),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		CHECK (start_min >= 0 AND start_min < end_min AND end_min < 1440),
		CONSTRAINT appointments_no_overlap EXCLUDE USING gist (
			workspace_id WITH =,
			date WITH =,
			int4range(start_min, end_min, '[)') WITH &&
		)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_appointments_day ON appointments(workspace_id, date, start_min)`,
}

func (s *Store) migrate(ctx context.Context) error {
	for _, q := range migrations {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// IsConflict reports an exclusion_violation raised by appointments_no_overlap.
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

// translate maps driver errors onto the errors the booking layer understands.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return models.ErrNotFound
	case IsConflict(err):
		return fmt.Errorf("%w: %v", schedule.ErrOverlap, err)
	}
	return err
}

const appointmentColumns = `id, workspace_id, client_id, service_id, category, to_char(date, 'YYYY-MM-DD'),
	start_min, end_min, price, note, status, created_at, updated_at`

func scanAppointment(row pgx.Row) (models.Appointment, error) {
	var (
		a                models.Appointment
		serviceID        *string
		startMin, endMin int32
		status           string
	)
	err := row.Scan(
		&a.ID, &a.WorkspaceID, &a.ClientID, &serviceID, &a.Category, &a.Date,
		&startMin, &endMin, &a.Price, &a.Note, &status, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return models.Appointment{}, err
	}
	if serviceID != nil {
		a.ServiceID = *serviceID
	}
	a.Start = timeofday.TimeOfDay(startMin)
	a.End = timeofday.TimeOfDay(endMin)
	a.Status = models.Status(status)
	return a, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryAppointments(ctx context.Context, q querier, query string, args ...any) ([]models.Appointment, error) {
	rows, err := q.Query(ctx, query, args...)
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

func listDay(ctx context.Context, q querier, workspaceID, date string) ([]models.Appointment, error) {
	return queryAppointments(ctx, q, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE workspace_id = $1 AND date = $2::text::date
		ORDER BY start_min, end_min
	`, workspaceID, date)
}

func (s *Store) ListDay(ctx context.Context, workspaceID, date string) ([]models.Appointment, error) {
	return listDay(ctx, s.pool, workspaceID, date)
}

func (s *Store) GetAppointment(ctx context.Context, workspaceID, id string) (*models.Appointment, error) {
	a, err := scanAppointment(s.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE workspace_id = $1 AND id = $2
	`, workspaceID, id))
	if err != nil {
		return nil, translate(err)
	}
	return &a, nil
}

// lockDay serialises writers of one workspace day for the rest of tx.
func lockDay(ctx context.Context, tx pgx.Tx, workspaceID, date string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, workspaceID+"|"+date)
	return err
}

func guardDay(ctx context.Context, tx pgx.Tx, a *models.Appointment) error {
	if err := lockDay(ctx, tx, a.WorkspaceID, a.Date); err != nil {
		return fmt.Errorf("lock day: %w", err)
	}
	day, err := listDay(ctx, tx, a.WorkspaceID, a.Date)
	if err != nil {
		return fmt.Errorf("load day for overlap check: %w", err)
	}
	scope := schedule.Scope{WorkspaceID: a.WorkspaceID, Date: a.Date}
	return schedule.CheckNoOverlap(scope, a.Span(), a.ID, day)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *Store) CreateAppointment(ctx context.Context, a *models.Appointment) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := guardDay(ctx, tx, a); err != nil {
		return err
	}
	if a.Status == "" {
		a.Status = models.StatusScheduled
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO appointments
			(id, workspace_id, client_id, service_id, category, date, start_min, end_min, price, note, status)
		VALUES ($1, $2, $3, $4, $5, $6::text::date, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`, a.ID, a.WorkspaceID, a.ClientID, optional(a.ServiceID), a.Category, a.Date,
		int32(a.Start), int32(a.End), a.Price, a.Note, string(a.Status),
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return translate(err)
	}
	return translate(tx.Commit(ctx))
}

func (s *Store) UpdateAppointment(ctx context.Context, a *models.Appointment) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := guardDay(ctx, tx, a); err != nil {
		return err
	}

	err = tx.QueryRow(ctx, `
		UPDATE appointments
		SET client_id = $3, service_id = $4, category = $5, date = $6::text::date,
			start_min = $7, end_min = $8, price = $9, note = $10, updated_at = now()
		WHERE workspace_id = $1 AND id = $2
		RETURNING updated_at
	`, a.WorkspaceID, a.ID, a.ClientID, optional(a.ServiceID), a.Category, a.Date,
		int32(a.Start), int32(a.End), a.Price, a.Note,
	).Scan(&a.UpdatedAt)
	if err != nil {
		return translate(err)
	}
	return translate(tx.Commit(ctx))
}

func expectOne(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return translate(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteAppointment(ctx context.Context, workspaceID, id string) error {
	return expectOne(s.pool.Exec(ctx,
		`DELETE FROM appointments WHERE workspace_id = $1 AND id = $2`, workspaceID, id))
}

func (s *Store) SetAppointmentStatus(ctx context.Context, workspaceID, id string, status models.Status) error {
	return expectOne(s.pool.Exec(ctx,
		`UPDATE appointments SET status = $3, updated_at = now() WHERE workspace_id = $1 AND id = $2`,
		workspaceID, id, string(status)))
}

func (s *Store) GetWorkspace(ctx context.Context, id string) (*models.Workspace, error) {
	var (
		ws     models.Workspace
		cities []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, work_start, work_end, cities, created_at
		FROM workspaces WHERE id = $1
	`, id).Scan(&ws.ID, &ws.Name, &ws.WorkStart, &ws.WorkEnd, &cities, &ws.CreatedAt)
	if err != nil {
		return nil, translate(err)
	}
	if err := json.Unmarshal(cities, &ws.Cities); err != nil {
		return nil, fmt.Errorf("decode cities of workspace %s: %w", id, err)
	}
	return &ws, nil
}

// UpsertWorkspace creates the workspace or replaces its settings, unless a
// stored appointment falls outside window. The workspace row is locked
// first, which waits out appointment inserts holding a key share on it.
func (s *Store) UpsertWorkspace(ctx context.Context, ws *models.Workspace, window timeofday.Interval) error {
	if ws.ID == "" {
		ws.ID = uuid.NewString()
	}
	cities := ws.Cities
	if cities == nil {
		cities = []models.City{}
	}
	data, err := json.Marshal(cities)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT 1 FROM workspaces WHERE id = $1 FOR UPDATE`, ws.ID); err != nil {
		return translate(err)
	}
	outside, err := queryAppointments(ctx, tx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE workspace_id = $1 AND (start_min < $2 OR end_min > $3)
		ORDER BY date, start_min
	`, ws.ID, int32(window.Start), int32(window.End))
	if err != nil {
		return fmt.Errorf("check hours: %w", err)
	}
	if len(outside) > 0 {
		return &models.HoursConflictError{Window: window, Appointments: outside}
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO workspaces (id, name, work_start, work_end, cities)
		VALUES ($1, $2, $3, $4, $5::jsonb)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			work_start = EXCLUDED.work_start,
			work_end = EXCLUDED.work_end,
			cities = EXCLUDED.cities
		RETURNING created_at
	`, ws.ID, ws.Name, ws.WorkStart, ws.WorkEnd, string(data)).Scan(&ws.CreatedAt)
	if err != nil {
		return translate(err)
	}
	return translate(tx.Commit(ctx))
}

const serviceColumns = `id, workspace_id, category, name, default_price, color`

func scanService(row pgx.Row) (*models.Service, error) {
	var svc models.Service
	if err := row.Scan(&svc.ID, &svc.WorkspaceID, &svc.Category, &svc.Name, &svc.DefaultPrice, &svc.Color); err != nil {
		return nil, translate(err)
	}
	return &svc, nil
}

func (s *Store) GetService(ctx context.Context, workspaceID, id string) (*models.Service, error) {
	return scanService(s.pool.QueryRow(ctx,
		`SELECT `+serviceColumns+` FROM services WHERE workspace_id = $1 AND id = $2`, workspaceID, id))
}

func (s *Store) GetCategoryDefault(ctx context.Context, workspaceID, category string) (*models.Service, error) {
	return scanService(s.pool.QueryRow(ctx, `
		SELECT `+serviceColumns+` FROM services
		WHERE workspace_id = $1 AND category = $2 AND btrim(name) = ''
		ORDER BY id LIMIT 1
	`, workspaceID, category))
}

func (s *Store) ListServices(ctx context.Context, workspaceID string) ([]models.Service, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+serviceColumns+` FROM services
		WHERE workspace_id = $1
		ORDER BY category, name, id
	`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	services := make([]models.Service, 0)
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		services = append(services, *svc)
	}
	return services, rows.Err()
}

func (s *Store) CreateService(ctx context.Context, svc *models.Service) error {
	if svc.ID == "" {
		svc.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO services (`+serviceColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		svc.ID, svc.WorkspaceID, svc.Category, svc.Name, svc.DefaultPrice, svc.Color)
	return err
}

func (s *Store) UpdateService(ctx context.Context, svc *models.Service) error {
	return expectOne(s.pool.Exec(ctx, `
		UPDATE services SET category = $3, name = $4, default_price = $5, color = $6
		WHERE workspace_id = $1 AND id = $2
	`, svc.WorkspaceID, svc.ID, svc.Category, svc.Name, svc.DefaultPrice, svc.Color))
}

func (s *Store) DeleteService(ctx context.Context, workspaceID, id string) error {
	return s.deleteUnreferenced(ctx, "services", "service_id", workspaceID, id)
}

// deleteUnreferenced deletes row id of table unless an appointment points at
// it through column. The row lock blocks inserts that would reference it.
func (s *Store) deleteUnreferenced(ctx context.Context, table, column, workspaceID, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var locked int
	err = tx.QueryRow(ctx,
		`SELECT 1 FROM `+table+` WHERE workspace_id = $1 AND id = $2 FOR UPDATE`, workspaceID, id,
	).Scan(&locked)
	if err != nil {
		return translate(err)
	}

	var booked int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM appointments WHERE workspace_id = $1 AND `+column+` = $2`, workspaceID, id,
	).Scan(&booked); err != nil {
		return err
	}
	if booked > 0 {
		return models.ErrInUse
	}

	if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE workspace_id = $1 AND id = $2`, workspaceID, id); err != nil {
		return translate(err)
	}
	return translate(tx.Commit(ctx))
}

const clientColumns = `id, workspace_id, name, phone, email, gender, created_at`

func scanClient(row pgx.Row) (*models.Client, error) {
	var c models.Client
	if err := row.Scan(&c.ID, &c.WorkspaceID, &c.Name, &c.Phone, &c.Email, &c.Gender, &c.CreatedAt); err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

func (s *Store) GetClient(ctx context.Context, workspaceID, id string) (*models.Client, error) {
	return scanClient(s.pool.QueryRow(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE workspace_id = $1 AND id = $2`, workspaceID, id))
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ListClients returns clients ordered by name, filtered by a
// case-insensitive substring of the name when query is set.
func (s *Store) ListClients(ctx context.Context, workspaceID, query string) ([]models.Client, error) {
	pattern := "%" + likeEscaper.Replace(strings.TrimSpace(query)) + "%"
	rows, err := s.pool.Query(ctx, `
		SELECT `+clientColumns+` FROM clients
		WHERE workspace_id = $1 AND name ILIKE $2
		ORDER BY name, id
	`, workspaceID, pattern)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	clients := make([]models.Client, 0)
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, *c)
	}
	return clients, rows.Err()
}

func (s *Store) CreateClient(ctx context.Context, c *models.Client) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return s.pool.QueryRow(ctx, `
		INSERT INTO clients (id, workspace_id, name, phone, email, gender)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, c.ID, c.WorkspaceID, c.Name, c.Phone, c.Email, c.Gender).Scan(&c.CreatedAt)
}

func (s *Store) DeleteClient(ctx context.Context, workspaceID, id string) error {
	return s.deleteUnreferenced(ctx, "clients", "client_id", workspaceID, id)
}

func (s *Store) ClientAppointments(ctx context.Context, workspaceID, clientID string) ([]models.Appointment, error) {
	return queryAppointments(ctx, s.pool, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE workspace_id = $1 AND client_id = $2
		ORDER BY date DESC, start_min DESC
	`, workspaceID, clientID)
}
