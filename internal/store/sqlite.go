package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"missioncontrol/internal/domain"
)

var ErrNotFound = domain.ErrNotFound

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore is the persistence collaborator behind the monitoring core.
// Only the aggregate queries and the thin writes the core needs live here.
type SQLiteStore struct{ db *sql.DB }

// Open opens (creating if needed) the SQLite database at path and applies
// pending migrations.
func Open(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite single writer

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return New(db), nil
}

func New(db *sql.DB) *SQLiteStore { return &SQLiteStore{db: db} }

// Migrate applies the embedded schema migrations.
func Migrate(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	drv, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// DB returns the underlying database connection.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) Close() error { return s.db.Close() }

func newID(prefix string) string { return prefix + uuid.NewString() }

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func mustAffect(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullTime(p *time.Time) sql.NullTime {
	if p == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: p.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

const taskColumns = `id,title,description,status,priority,assignee_id,created_at,updated_at`

func scanTask(row interface{ Scan(...any) error }) (domain.Task, error) {
	var t domain.Task
	var desc, assignee sql.NullString
	if err := row.Scan(&t.ID, &t.Title, &desc, &t.Status, &t.Priority, &assignee, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return domain.Task{}, err
	}
	t.Description = stringPtr(desc)
	t.AssigneeID = stringPtr(assignee)
	return t, nil
}

func (s *SQLiteStore) CreateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	if t.ID == "" {
		t.ID = newID("tsk_")
	}
	if t.Status == "" {
		t.Status = domain.StatusInbox
	}
	if t.Priority == "" {
		t.Priority = domain.PriorityNormal
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO tasks (`+taskColumns+`)
VALUES (?,?,?,?,?,?,?,?)`,
		t.ID, t.Title, nullString(t.Description), t.Status, t.Priority, nullString(t.AssigneeID), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (s *SQLiteStore) GetTask(ctx context.Context, id string) (domain.Task, error) {
	t, err := scanTask(s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
	if err != nil {
		return domain.Task{}, notFound(err)
	}
	return t, nil
}

// UpdateTaskStatus sets the status and refreshes updated_at.
func (s *SQLiteStore) UpdateTaskStatus(ctx context.Context, id string, status domain.TaskStatus, at time.Time) error {
	return mustAffect(s.db.ExecContext(ctx,
		`UPDATE tasks SET status=?, updated_at=? WHERE id=?`, status, at.UTC(), id))
}

const stuckPredicate = `
FROM tasks
WHERE status IN ('INBOX','ASSIGNED')
  AND ((priority = 'URGENT' AND updated_at < ?) OR (priority <> 'URGENT' AND updated_at < ?))`

// CountStuck counts waiting tasks last updated before the cutoff of their
// priority tier.
func (s *SQLiteStore) CountStuck(ctx context.Context, normalCutoff, urgentCutoff time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*)`+stuckPredicate, urgentCutoff.UTC(), normalCutoff.UTC()).Scan(&n)
	return n, err
}

func (s *SQLiteStore) ListStuck(ctx context.Context, normalCutoff, urgentCutoff time.Time) ([]domain.StuckTask, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, priority, updated_at`+stuckPredicate+` ORDER BY updated_at`,
		urgentCutoff.UTC(), normalCutoff.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.StuckTask
	for rows.Next() {
		var st domain.StuckTask
		if err := rows.Scan(&st.ID, &st.Priority, &st.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AddComment(ctx context.Context, c domain.Comment) (domain.Comment, error) {
	if c.ID == "" {
		c.ID = newID("cmt_")
	}
	c.CreatedAt = c.CreatedAt.UTC()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO comments (id,task_id,agent_id,content,created_at) VALUES (?,?,?,?,?)`,
		c.ID, c.TaskID, c.AgentID, c.Content, c.CreatedAt)
	return c, err
}

func (s *SQLiteStore) AddDeliverable(ctx context.Context, d domain.Deliverable) (domain.Deliverable, error) {
	if d.ID == "" {
		d.ID = newID("dlv_")
	}
	if d.Status == "" {
		d.Status = "PENDING"
	}
	d.CreatedAt = d.CreatedAt.UTC()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO deliverables (id,task_id,title,description,status,created_at) VALUES (?,?,?,?,?,?)`,
		d.ID, d.TaskID, d.Title, nullString(d.Description), d.Status, d.CreatedAt)
	return d, err
}

func (s *SQLiteStore) AddTaskActivity(ctx context.Context, a domain.TaskActivity) (domain.TaskActivity, error) {
	if a.ID == "" {
		a.ID = newID("act_")
	}
	a.Timestamp = a.Timestamp.UTC()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO task_activity (id,task_id,agent_id,message,timestamp) VALUES (?,?,?,?,?)`,
		a.ID, a.TaskID, nullString(a.AgentID), a.Message, a.Timestamp)
	return a, err
}

func (s *SQLiteStore) CreateAnnouncement(ctx context.Context, a domain.Announcement) (domain.Announcement, error) {
	if a.ID == "" {
		a.ID = newID("ann_")
	}
	if a.Priority == "" {
		a.Priority = domain.PriorityNormal
	}
	if a.CreatedBy == "" {
		a.CreatedBy = "human"
	}
	a.CreatedAt = a.CreatedAt.UTC()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO announcements (id,title,message,priority,created_at,created_by) VALUES (?,?,?,?,?,?)`,
		a.ID, nullString(a.Title), a.Message, a.Priority, a.CreatedAt, a.CreatedBy)
	return a, err
}
