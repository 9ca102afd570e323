package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"salonbook/internal/models"
	"salonbook/internal/timeofday"
)

func (db *DB) GetWorkspace(ctx context.Context, id string) (*models.Workspace, error) {
	var (
		ws     models.Workspace
		cities string
	)
	err := db.QueryRowContext(ctx, `
		SELECT id, name, work_start, work_end, cities, created_at
		FROM workspaces WHERE id = ?`, id,
	).Scan(&ws.ID, &ws.Name, &ws.WorkStart, &ws.WorkEnd, &cities, &ws.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	if err := json.Unmarshal([]byte(cities), &ws.Cities); err != nil {
		return nil, fmt.Errorf("decode cities of workspace %s: %w", id, err)
	}
	return &ws, nil
}

// UpsertWorkspace creates the workspace or replaces its settings. window is
// the resolved work window of ws; if any stored appointment of the
// workspace falls outside it nothing is written and a
// *models.HoursConflictError lists them.
func (db *DB) UpsertWorkspace(ctx context.Context, ws *models.Workspace, window timeofday.Interval) error {
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

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer rollback(tx)

	outside, err := queryAppointments(ctx, tx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE workspace_id = ? AND (start_min < ? OR end_min > ?)
		ORDER BY date, start_min`,
		ws.ID, int(window.Start), int(window.End),
	)
	if err != nil {
		return fmt.Errorf("check hours: %w", err)
	}
	if len(outside) > 0 {
		return &models.HoursConflictError{Window: window, Appointments: outside}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workspaces (id, name, work_start, work_end, cities, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			work_start = excluded.work_start,
			work_end = excluded.work_end,
			cities = excluded.cities`,
		ws.ID, ws.Name, ws.WorkStart, ws.WorkEnd, string(data), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert workspace: %w", err)
	}
	if err := tx.QueryRowContext(ctx,
		`SELECT created_at FROM workspaces WHERE id = ?`, ws.ID,
	).Scan(&ws.CreatedAt); err != nil {
		return err
	}
	return tx.Commit()
}

const serviceColumns = `id, workspace_id, category, name, default_price, color`

func scanService(row rowScanner) (*models.Service, error) {
	var (
		s     models.Service
		price sql.NullFloat64
	)
	if err := row.Scan(&s.ID, &s.WorkspaceID, &s.Category, &s.Name, &price, &s.Color); err != nil {
		return nil, notFound(err)
	}
	if price.Valid {
		p := price.Float64
		s.DefaultPrice = &p
	}
	return &s, nil
}

func (db *DB) GetService(ctx context.Context, workspaceID, id string) (*models.Service, error) {
	return scanService(db.QueryRowContext(ctx,
		`SELECT `+serviceColumns+` FROM services WHERE workspace_id = ? AND id = ?`,
		workspaceID, id,
	))
}

// GetCategoryDefault returns the nameless row of category.
func (db *DB) GetCategoryDefault(ctx context.Context, workspaceID, category string) (*models.Service, error) {
	return scanService(db.QueryRowContext(ctx, `
		SELECT `+serviceColumns+` FROM services
		WHERE workspace_id = ? AND category = ? AND TRIM(name) = ''
		ORDER BY id LIMIT 1`,
		workspaceID, category,
	))
}

// ListServices returns the services of a workspace by category, with each
// category row ahead of its named services.
func (db *DB) ListServices(ctx context.Context, workspaceID string) ([]models.Service, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+serviceColumns+` FROM services
		WHERE workspace_id = ?
		ORDER BY category, name, id`,
		workspaceID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	services := make([]models.Service, 0)
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		services = append(services, *s)
	}
	return services, rows.Err()
}

func (db *DB) CreateService(ctx context.Context, s *models.Service) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO services (`+serviceColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID, s.WorkspaceID, s.Category, s.Name, nullFloat(s.DefaultPrice), s.Color,
	)
	return err
}

func (db *DB) UpdateService(ctx context.Context, s *models.Service) error {
	res, err := db.ExecContext(ctx, `
		UPDATE services SET category = ?, name = ?, default_price = ?, color = ?
		WHERE workspace_id = ? AND id = ?`,
		s.Category, s.Name, nullFloat(s.DefaultPrice), s.Color, s.WorkspaceID, s.ID,
	)
	if err != nil {
		return err
	}
	return expectOne(res)
}

// DeleteService removes a service no appointment refers to. A booked
// service gives models.ErrInUse.
func (db *DB) DeleteService(ctx context.Context, workspaceID, id string) error {
	return db.deleteUnreferenced(ctx, "services", "service_id", workspaceID, id)
}

// deleteUnreferenced deletes row id of table unless an appointment points
// at it through column.
func (db *DB) deleteUnreferenced(ctx context.Context, table, column, workspaceID, id string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer rollback(tx)

	var booked int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM appointments WHERE workspace_id = ? AND `+column+` = ?`,
		workspaceID, id,
	).Scan(&booked); err != nil {
		return err
	}
	if booked > 0 {
		return models.ErrInUse
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM `+table+` WHERE workspace_id = ? AND id = ?`, workspaceID, id)
	if err != nil {
		return err
	}
	if err := expectOne(res); err != nil {
		return err
	}
	return tx.Commit()
}

const clientColumns = `id, workspace_id, name, phone, email, gender, created_at`

func scanClient(row rowScanner) (*models.Client, error) {
	var c models.Client
	if err := row.Scan(&c.ID, &c.WorkspaceID, &c.Name, &c.Phone, &c.Email, &c.Gender, &c.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func (db *DB) GetClient(ctx context.Context, workspaceID, id string) (*models.Client, error) {
	return scanClient(db.QueryRowContext(ctx,
		`SELECT `+clientColumns+` FROM clients WHERE workspace_id = ? AND id = ?`,
		workspaceID, id,
	))
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ListClients returns clients ordered by name. A non-empty query keeps
// only names containing it, ignoring ASCII case.
func (db *DB) ListClients(ctx context.Context, workspaceID, query string) ([]models.Client, error) {
	pattern := "%" + likeEscaper.Replace(strings.TrimSpace(query)) + "%"
	rows, err := db.QueryContext(ctx, `
		SELECT `+clientColumns+` FROM clients
		WHERE workspace_id = ? AND name LIKE ? ESCAPE '\'
		ORDER BY name, id`,
		workspaceID, pattern,
	)
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

func (db *DB) CreateClient(ctx context.Context, c *models.Client) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO clients (`+clientColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.WorkspaceID, c.Name, c.Phone, c.Email, c.Gender, c.CreatedAt,
	)
	return err
}

// DeleteClient removes a client without appointments. A client that is
// still booked gives models.ErrInUse.
func (db *DB) DeleteClient(ctx context.Context, workspaceID, id string) error {
	return db.deleteUnreferenced(ctx, "clients", "client_id", workspaceID, id)
}

// ClientAppointments returns the booking history of a client, latest first.
func (db *DB) ClientAppointments(ctx context.Context, workspaceID, clientID string) ([]models.Appointment, error) {
	return queryAppointments(ctx, db, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE workspace_id = ? AND client_id = ?
		ORDER BY date DESC, start_min DESC`,
		workspaceID, clientID,
	)
}
