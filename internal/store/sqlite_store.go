package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/reservd/reservd/internal/model"
	"github.com/reservd/reservd/internal/persistence/sqlite"
)

const schemaVersion = 1

// SqliteStore implements Store using SQLite.
type SqliteStore struct {
	DB *sql.DB
}

// NewSqliteStore initializes a new SQLite lease store.
func NewSqliteStore(dbPath string) (*SqliteStore, error) {
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}

	s := &SqliteStore{DB: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("lease store: migration failed: %w", err)
	}

	return s, nil
}

func (s *SqliteStore) Close() error {
	return s.DB.Close()
}

func (s *SqliteStore) migrate() error {
	var currentVersion int
	if err := s.DB.QueryRow("PRAGMA user_version").Scan(&currentVersion); err != nil {
		return err
	}
	if currentVersion >= schemaVersion {
		return nil
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS leases (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		project_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		trust_id TEXT NOT NULL,
		start_ms INTEGER NOT NULL,
		end_ms INTEGER NOT NULL,
		before_end_ms INTEGER,
		status TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS reservations (
		id TEXT PRIMARY KEY,
		lease_id TEXT NOT NULL REFERENCES leases(id) ON DELETE CASCADE,
		resource_type TEXT NOT NULL,
		resource_id TEXT,
		start_ms INTEGER NOT NULL,
		end_ms INTEGER NOT NULL,
		status TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reservations_lease ON reservations(lease_id);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		lease_id TEXT NOT NULL REFERENCES leases(id) ON DELETE CASCADE,
		event_type TEXT NOT NULL,
		time_ms INTEGER NOT NULL,
		status TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_lease ON events(lease_id);
	CREATE INDEX IF NOT EXISTS idx_events_status_time ON events(status, time_ms);
	`

	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Lease CRUD ---

func (s *SqliteStore) CreateLease(ctx context.Context, l *model.Lease) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO leases (id, name, project_id, user_id, trust_id, start_ms, end_ms, before_end_ms, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.Name, l.ProjectID, l.UserID, l.TrustID,
		t2ms(l.StartDate), t2ms(l.EndDate), optT2ms(l.BeforeEndDate), l.Status,
	)
	if err != nil && isUniqueViolation(err) {
		return ErrDuplicateName
	}
	return err
}

func (s *SqliteStore) GetLease(ctx context.Context, id string) (*model.Lease, error) {
	l, err := scanLease(s.DB.QueryRowContext(ctx,
		"SELECT id, name, project_id, user_id, trust_id, start_ms, end_ms, before_end_ms, status FROM leases WHERE id = ?", id))
	if err != nil {
		return nil, err
	}
	if err := s.loadChildren(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

func (s *SqliteStore) loadChildren(ctx context.Context, l *model.Lease) error {
	rows, err := s.DB.QueryContext(ctx,
		"SELECT id, lease_id, resource_type, resource_id, start_ms, end_ms, status FROM reservations WHERE lease_id = ? ORDER BY id", l.ID)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return err
		}
		l.Reservations = append(l.Reservations, r)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	events, err := s.ListEvents(ctx, EventFilter{LeaseID: l.ID})
	if err != nil {
		return err
	}
	l.Events = events
	return nil
}

func (s *SqliteStore) ListLeases(ctx context.Context, projectID string) ([]*model.Lease, error) {
	query := "SELECT id, name, project_id, user_id, trust_id, start_ms, end_ms, before_end_ms, status FROM leases"
	args := []interface{}{}
	if projectID != "" {
		query += " WHERE project_id = ?"
		args = append(args, projectID)
	}
	query += " ORDER BY start_ms"

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []*model.Lease
	for rows.Next() {
		l, err := scanLease(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, l := range results {
		if err := s.loadChildren(ctx, l); err != nil {
			return nil, err
		}
	}
	return results, nil
}

func (s *SqliteStore) UpdateLease(ctx context.Context, id string, fn func(*model.Lease) error) (*model.Lease, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	l, err := scanLease(tx.QueryRowContext(ctx,
		"SELECT id, name, project_id, user_id, trust_id, start_ms, end_ms, before_end_ms, status FROM leases WHERE id = ?", id))
	if err != nil {
		return nil, err
	}

	if err := fn(l); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE leases SET name = ?, project_id = ?, user_id = ?, trust_id = ?,
			start_ms = ?, end_ms = ?, before_end_ms = ?, status = ?
		WHERE id = ?`,
		l.Name, l.ProjectID, l.UserID, l.TrustID,
		t2ms(l.StartDate), t2ms(l.EndDate), optT2ms(l.BeforeEndDate), l.Status, l.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateName
		}
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return l, nil
}

func (s *SqliteStore) LeaseStatusCAS(ctx context.Context, id string, to model.LeaseStatus, from ...model.LeaseStatus) (bool, error) {
	query := "UPDATE leases SET status = ? WHERE id = ?"
	args := []interface{}{to, id}
	if len(from) > 0 {
		query += " AND status IN (" + placeholders(len(from)) + ")"
		for _, f := range from {
			args = append(args, f)
		}
	}
	res, err := s.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SqliteStore) DeleteLease(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, "DELETE FROM leases WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Reservation CRUD ---

func (s *SqliteStore) CreateReservation(ctx context.Context, r *model.Reservation) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO reservations (id, lease_id, resource_type, resource_id, start_ms, end_ms, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.LeaseID, r.ResourceType, r.ResourceID, t2ms(r.StartDate), t2ms(r.EndDate), r.Status,
	)
	return err
}

func (s *SqliteStore) UpdateReservation(ctx context.Context, id string, fn func(*model.Reservation) error) (*model.Reservation, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	r, err := scanReservation(tx.QueryRowContext(ctx,
		"SELECT id, lease_id, resource_type, resource_id, start_ms, end_ms, status FROM reservations WHERE id = ?", id))
	if err != nil {
		return nil, err
	}

	if err := fn(r); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE reservations SET resource_type = ?, resource_id = ?, start_ms = ?, end_ms = ?, status = ?
		WHERE id = ?`,
		r.ResourceType, r.ResourceID, t2ms(r.StartDate), t2ms(r.EndDate), r.Status, r.ID,
	)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return r, nil
}

// --- Event CRUD ---

func (s *SqliteStore) CreateEvent(ctx context.Context, e *model.Event) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO events (id, lease_id, event_type, time_ms, status)
		VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.LeaseID, e.Type, t2ms(e.Time), e.Status,
	)
	return err
}

func (s *SqliteStore) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	return scanEvent(s.DB.QueryRowContext(ctx,
		"SELECT id, lease_id, event_type, time_ms, status FROM events WHERE id = ?", id))
}

func (s *SqliteStore) ListEvents(ctx context.Context, f EventFilter) ([]*model.Event, error) {
	query := "SELECT id, lease_id, event_type, time_ms, status FROM events WHERE 1=1"
	args := []interface{}{}
	if f.LeaseID != "" {
		query += " AND lease_id = ?"
		args = append(args, f.LeaseID)
	}
	if f.Type != "" {
		query += " AND event_type = ?"
		args = append(args, f.Type)
	}
	if f.Status != "" {
		query += " AND status = ?"
		args = append(args, f.Status)
	}
	if !f.NotAfter.IsZero() {
		query += " AND time_ms <= ?"
		args = append(args, t2ms(f.NotAfter))
	}
	query += " ORDER BY time_ms ASC, id ASC"

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []*model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

func (s *SqliteStore) FirstEvent(ctx context.Context, f EventFilter) (*model.Event, error) {
	events, err := s.ListEvents(ctx, f)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, ErrNotFound
	}
	return events[0], nil
}

func (s *SqliteStore) UpdateEvent(ctx context.Context, id string, fn func(*model.Event) error) (*model.Event, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	e, err := scanEvent(tx.QueryRowContext(ctx,
		"SELECT id, lease_id, event_type, time_ms, status FROM events WHERE id = ?", id))
	if err != nil {
		return nil, err
	}

	if err := fn(e); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE events SET event_type = ?, time_ms = ?, status = ? WHERE id = ?",
		e.Type, t2ms(e.Time), e.Status, e.ID,
	)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *SqliteStore) EventStatusCAS(ctx context.Context, id string, from, to model.EventStatus) (bool, error) {
	res, err := s.DB.ExecContext(ctx,
		"UPDATE events SET status = ? WHERE id = ? AND status = ?", to, id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// --- Helpers ---

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLease(sc rowScanner) (*model.Lease, error) {
	var l model.Lease
	var beforeEnd sql.NullInt64
	var start, end int64
	err := sc.Scan(&l.ID, &l.Name, &l.ProjectID, &l.UserID, &l.TrustID, &start, &end, &beforeEnd, &l.Status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	l.StartDate = ms2t(start)
	l.EndDate = ms2t(end)
	if beforeEnd.Valid {
		l.BeforeEndDate = ms2t(beforeEnd.Int64)
	}
	return &l, nil
}

func scanReservation(sc rowScanner) (*model.Reservation, error) {
	var r model.Reservation
	var resourceID sql.NullString
	var start, end int64
	err := sc.Scan(&r.ID, &r.LeaseID, &r.ResourceType, &resourceID, &start, &end, &r.Status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	r.ResourceID = resourceID.String
	r.StartDate = ms2t(start)
	r.EndDate = ms2t(end)
	return &r, nil
}

func scanEvent(sc rowScanner) (*model.Event, error) {
	var e model.Event
	var ts int64
	err := sc.Scan(&e.ID, &e.LeaseID, &e.Type, &ts, &e.Status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	e.Time = ms2t(ts)
	return &e, nil
}

func t2ms(t time.Time) int64 { return t.UnixMilli() }

func optT2ms(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func ms2t(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// modernc.org/sqlite surfaces constraint failures as plain errors; the
// UNIQUE message text is the only stable discriminator available.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

var _ Store = (*SqliteStore)(nil)
