package store

import (
	"context"
	"database/sql"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"missioncontrol/internal/domain"
)

const recurringColumns = `id,title,description,assignee_id,schedule_type,schedule_value,schedule_time,last_run,next_run,is_active,run_count,created_at`

func scanRecurring(row interface{ Scan(...any) error }) (domain.RecurringTask, error) {
	var (
		rt                    domain.RecurringTask
		desc, assignee, value sql.NullString
		lastRun               sql.NullTime
		active                int
	)
	err := row.Scan(&rt.ID, &rt.Title, &desc, &assignee, &rt.ScheduleType, &value, &rt.ScheduleTime,
		&lastRun, &rt.NextRun, &active, &rt.RunCount, &rt.CreatedAt)
	if err != nil {
		return domain.RecurringTask{}, err
	}
	rt.Description = stringPtr(desc)
	rt.AssigneeID = stringPtr(assignee)
	rt.ScheduleValue = value.String
	rt.LastRun = timePtr(lastRun)
	rt.IsActive = active != 0
	return rt, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *SQLiteStore) CreateRecurring(ctx context.Context, rt domain.RecurringTask) (domain.RecurringTask, error) {
	if rt.ID == "" {
		rt.ID = newID("rec_")
	}
	rt.CreatedAt = rt.CreatedAt.UTC()
	rt.NextRun = rt.NextRun.UTC()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO recurring_tasks (`+recurringColumns+`)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		rt.ID, rt.Title, nullString(rt.Description), nullString(rt.AssigneeID), rt.ScheduleType,
		sql.NullString{String: rt.ScheduleValue, Valid: rt.ScheduleValue != ""}, rt.ScheduleTime,
		nullTime(rt.LastRun), rt.NextRun, boolInt(rt.IsActive), rt.RunCount, rt.CreatedAt)
	if err != nil {
		return domain.RecurringTask{}, err
	}
	return rt, nil
}

func (s *SQLiteStore) GetRecurring(ctx context.Context, id string) (domain.RecurringTask, error) {
	rt, err := scanRecurring(s.db.QueryRowContext(ctx, `SELECT `+recurringColumns+` FROM recurring_tasks WHERE id=?`, id))
	if err != nil {
		return domain.RecurringTask{}, notFound(err)
	}
	return rt, nil
}

func (s *SQLiteStore) ListRecurring(ctx context.Context) ([]domain.RecurringTask, error) {
	return s.queryRecurring(ctx, `SELECT `+recurringColumns+` FROM recurring_tasks ORDER BY created_at DESC`)
}

// DueRecurring returns active definitions whose next_run is at or before now.
func (s *SQLiteStore) DueRecurring(ctx context.Context, now time.Time) ([]domain.RecurringTask, error) {
	return s.queryRecurring(ctx, `
SELECT `+recurringColumns+` FROM recurring_tasks
WHERE is_active=1 AND next_run <= ?
ORDER BY next_run`, now.UTC())
}

func (s *SQLiteStore) queryRecurring(ctx context.Context, q string, args ...any) ([]domain.RecurringTask, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RecurringTask
	for rows.Next() {
		rt, err := scanRecurring(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rt)
	}
	return out, rows.Err()
}

// RecordRecurringRun stores a run record and advances last_run/next_run in
// the same transaction. run_count only counts successful runs.
func (s *SQLiteStore) RecordRecurringRun(ctx context.Context, run domain.RecurringTaskRun, nextRun time.Time) (domain.RecurringTaskRun, error) {
	if run.ID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return domain.RecurringTaskRun{}, err
		}
		run.ID = "run_" + id
	}
	run.RunAt = run.RunAt.UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.RecurringTaskRun{}, err
	}
	defer tx.Rollback() //nolint:errcheck

	err = mustAffect(tx.ExecContext(ctx, `
UPDATE recurring_tasks SET last_run=?, next_run=?, run_count=run_count+? WHERE id=?`,
		run.RunAt, nextRun.UTC(), boolInt(run.Status == domain.RunSuccess), run.RecurringTaskID))
	if err != nil {
		return domain.RecurringTaskRun{}, err
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO recurring_task_runs (id,recurring_task_id,run_at,task_id,status,error) VALUES (?,?,?,?,?,?)`,
		run.ID, run.RecurringTaskID, run.RunAt, nullString(run.TaskID), run.Status,
		sql.NullString{String: run.Error, Valid: run.Error != ""})
	if err != nil {
		return domain.RecurringTaskRun{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.RecurringTaskRun{}, err
	}
	return run, nil
}

// SetRecurringActive flips is_active and stores the next_run to use from now on.
func (s *SQLiteStore) SetRecurringActive(ctx context.Context, id string, active bool, nextRun time.Time) error {
	return mustAffect(s.db.ExecContext(ctx,
		`UPDATE recurring_tasks SET is_active=?, next_run=? WHERE id=?`, boolInt(active), nextRun.UTC(), id))
}

func (s *SQLiteStore) DeleteRecurring(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM recurring_task_runs WHERE recurring_task_id=?`, id); err != nil {
		return err
	}
	if err := mustAffect(tx.ExecContext(ctx, `DELETE FROM recurring_tasks WHERE id=?`, id)); err != nil {
		return err
	}
	return tx.Commit()
}

// ListRecurringRuns returns the most recent runs first.
func (s *SQLiteStore) ListRecurringRuns(ctx context.Context, id string, limit int) ([]domain.RecurringTaskRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id,recurring_task_id,run_at,task_id,status,error
FROM recurring_task_runs WHERE recurring_task_id=?
ORDER BY run_at DESC LIMIT ?`, id, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RecurringTaskRun
	for rows.Next() {
		var (
			run       domain.RecurringTaskRun
			taskID    sql.NullString
			errString sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.RecurringTaskID, &run.RunAt, &taskID, &run.Status, &errString); err != nil {
			return nil, err
		}
		run.TaskID = stringPtr(taskID)
		run.Error = errString.String
		out = append(out, run)
	}
	return out, rows.Err()
}
