package db

import (
	"context"
	"time"
)

const taskColumns = `id, name, cron_expression, enabled, last_run_at, next_run_at`

func scanTask(row interface{ Scan(...interface{}) error }) (ScheduledTask, error) {
	var t ScheduledTask
	err := row.Scan(&t.ID, &t.Name, &t.CronExpression, &t.Enabled, &t.LastRunAt, &t.NextRunAt)
	return t, err
}

// ListDueScheduledTasks returns enabled tasks whose next run time has passed.
func (q *Queries) ListDueScheduledTasks(ctx context.Context) ([]ScheduledTask, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM scheduled_tasks
		WHERE enabled = TRUE AND next_run_at <= now()
		ORDER BY next_run_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScheduledTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListScheduledTasks returns every task schedule.
func (q *Queries) ListScheduledTasks(ctx context.Context) ([]ScheduledTask, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM scheduled_tasks ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScheduledTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpsertScheduledTask registers a task schedule. An existing row keeps its
// enabled flag and run history; only the cron expression is refreshed, so
// operator toggles survive restarts.
func (q *Queries) UpsertScheduledTask(ctx context.Context, name, cronExpression string) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO scheduled_tasks (name, cron_expression)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET cron_expression = EXCLUDED.cron_expression`,
		name, cronExpression)
	return err
}

// UpdateScheduledTaskRun records a completed run and schedules the next one.
func (q *Queries) UpdateScheduledTaskRun(ctx context.Context, id int32, nextRun time.Time) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE scheduled_tasks SET last_run_at = now(), next_run_at = $2 WHERE id = $1`,
		id, nextRun)
	return err
}

// SetScheduledTaskEnabled toggles one task.
func (q *Queries) SetScheduledTaskEnabled(ctx context.Context, name string, enabled bool) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE scheduled_tasks SET enabled = $2 WHERE name = $1`, name, enabled)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
