package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"conti/internal/core"
)

const scheduleColumns = `id, owner_id, account_id, kind, description, amount_minor, currency, cadence,
	interval_days, start_date, end_date, next_execution, active, automatic_execution, email_notification,
	notification_lead_days, timezone, deleted_at, created_at, updated_at`

const scheduleCategoriesQuery = `SELECT category_id FROM schedule_categories WHERE schedule_id = ? ORDER BY category_id`

func scanSchedule(row rowScanner) (core.RecurringSchedule, error) {
	var (
		s                               core.RecurringSchedule
		kind, currency, cadence, start  string
		amount, createdAt, updatedAt    int64
		endDate                         sql.NullString
		next, leadDays, deletedAt       sql.NullInt64
		active, automatic, notification int
	)
	if err := row.Scan(&s.ID, &s.OwnerID, &s.AccountID, &kind, &s.Description, &amount, &currency, &cadence,
		&s.IntervalDays, &start, &endDate, &next, &active, &automatic, &notification,
		&leadDays, &s.Timezone, &deletedAt, &createdAt, &updatedAt); err != nil {
		return core.RecurringSchedule{}, err
	}
	s.Kind = core.ScheduleKind(kind)
	s.Amount = core.NewMoney(amount, core.Currency(currency))
	s.Cadence = core.Cadence(cadence)

	startDate, err := core.ParseDate(start)
	if err != nil {
		return core.RecurringSchedule{}, err
	}
	s.StartDate = startDate
	if s.EndDate, err = datePtr(endDate); err != nil {
		return core.RecurringSchedule{}, err
	}

	s.NextExecution = timePtr(next)
	s.Active = active == 1
	s.AutomaticExecution = automatic == 1
	s.EmailNotification = notification == 1
	if leadDays.Valid {
		d := int(leadDays.Int64)
		s.NotificationLeadDays = &d
	}
	s.DeletedAt = timePtr(deletedAt)
	s.CreatedAt = fromMillis(createdAt)
	s.UpdatedAt = fromMillis(updatedAt)
	return s, nil
}

func nullLeadDays(d *int) sql.NullInt64 {
	if d == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*d), Valid: true}
}

// CreateSchedule inserts s and its category links.
func (r *SQLiteRepository) CreateSchedule(ctx context.Context, s core.RecurringSchedule) (core.RecurringSchedule, error) {
	now := r.timestamp()
	var id int64
	err := r.WithTx(ctx, func(q DBTX) error {
		res, err := q.ExecContext(ctx, `
INSERT INTO recurring_schedules (owner_id, account_id, kind, description, amount_minor, currency, cadence,
	interval_days, start_date, end_date, next_execution, active, automatic_execution, email_notification,
	notification_lead_days, timezone, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			s.OwnerID, s.AccountID, string(s.Kind), s.Description, s.Amount.Minor, string(s.Amount.Currency),
			string(s.Cadence), s.IntervalDays, s.StartDate.String(), nullDate(s.EndDate), nullMillis(s.NextExecution),
			boolInt(s.Active), boolInt(s.AutomaticExecution), boolInt(s.EmailNotification),
			nullLeadDays(s.NotificationLeadDays), s.Timezone, now, now)
		if err != nil {
			return fmt.Errorf("insert schedule: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
		return replaceCategoryIDs(ctx, q, "schedule_categories", "schedule_id", id, s.CategoryIDs)
	})
	if err != nil {
		return core.RecurringSchedule{}, wrap("create schedule", err)
	}
	return r.GetSchedule(ctx, s.OwnerID, id)
}

// GetSchedule returns a live schedule owned by ownerID.
func (r *SQLiteRepository) GetSchedule(ctx context.Context, ownerID, id int64) (core.RecurringSchedule, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+`
FROM recurring_schedules WHERE id = ? AND owner_id = ? AND deleted_at IS NULL`, id, ownerID)
	s, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.RecurringSchedule{}, core.ErrScheduleNotFound
	}
	if err != nil {
		return core.RecurringSchedule{}, wrap("get schedule", err)
	}
	if s.CategoryIDs, err = loadCategoryIDs(ctx, r.db, scheduleCategoriesQuery, s.ID); err != nil {
		return core.RecurringSchedule{}, wrap("get schedule categories", err)
	}
	return s, nil
}

// ListSchedules returns the live schedules of ownerID ordered by id.
func (r *SQLiteRepository) ListSchedules(ctx context.Context, ownerID int64) ([]core.RecurringSchedule, error) {
	return r.querySchedules(ctx, `SELECT `+scheduleColumns+`
FROM recurring_schedules WHERE owner_id = ? AND deleted_at IS NULL ORDER BY id`, ownerID)
}

// ListDueSchedules selects every active, automatically executed schedule
// whose next execution is at or before now.
func (r *SQLiteRepository) ListDueSchedules(ctx context.Context, now time.Time) ([]core.RecurringSchedule, error) {
	return r.querySchedules(ctx, `SELECT `+scheduleColumns+`
FROM recurring_schedules
WHERE active = 1 AND deleted_at IS NULL AND automatic_execution = 1
  AND next_execution IS NOT NULL AND next_execution <= ?
ORDER BY id`, toMillis(now))
}

// ListReminderCandidates selects every active schedule that asked for email
// reminders and has a pending occurrence.
func (r *SQLiteRepository) ListReminderCandidates(ctx context.Context) ([]core.RecurringSchedule, error) {
	return r.querySchedules(ctx, `SELECT `+scheduleColumns+`
FROM recurring_schedules
WHERE active = 1 AND deleted_at IS NULL AND email_notification = 1 AND next_execution IS NOT NULL
ORDER BY id`)
}

func (r *SQLiteRepository) querySchedules(ctx context.Context, query string, args ...any) ([]core.RecurringSchedule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("list schedules", err)
	}
	schedules := []core.RecurringSchedule{}
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			rows.Close()
			return nil, wrap("scan schedule", err)
		}
		schedules = append(schedules, s)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, wrap("list schedules", err)
	}
	rows.Close()

	for i := range schedules {
		ids, err := loadCategoryIDs(ctx, r.db, scheduleCategoriesQuery, schedules[i].ID)
		if err != nil {
			return nil, wrap("list schedule categories", err)
		}
		schedules[i].CategoryIDs = ids
	}
	return schedules, nil
}

// UpdateScheduleSettings writes the user-controlled fields of s: active,
// automatic execution, email notification, lead days and description. The
// next execution is owned by the engine and only guards the write: when it
// no longer matches s.NextExecution the schedule ran or finished since s was
// read, and the update fails with core.ErrConcurrentUpdate.
func (r *SQLiteRepository) UpdateScheduleSettings(ctx context.Context, s core.RecurringSchedule) (core.RecurringSchedule, error) {
	res, err := r.db.ExecContext(ctx, `
UPDATE recurring_schedules
SET active = ?, automatic_execution = ?, email_notification = ?, notification_lead_days = ?,
    description = ?, updated_at = ?
WHERE id = ? AND owner_id = ? AND deleted_at IS NULL AND next_execution IS ?`,
		boolInt(s.Active), boolInt(s.AutomaticExecution), boolInt(s.EmailNotification),
		nullLeadDays(s.NotificationLeadDays), s.Description,
		r.timestamp(), s.ID, s.OwnerID, nullMillis(s.NextExecution))
	if err != nil {
		return core.RecurringSchedule{}, wrap("update schedule", err)
	}
	n, err := affected(res)
	if err != nil {
		return core.RecurringSchedule{}, wrap("update schedule", err)
	}
	if n == 0 {
		if _, err := r.GetSchedule(ctx, s.OwnerID, s.ID); err != nil {
			return core.RecurringSchedule{}, err
		}
		return core.RecurringSchedule{}, core.ErrConcurrentUpdate
	}
	return r.GetSchedule(ctx, s.OwnerID, s.ID)
}

// SoftDeleteSchedule deactivates and hides a schedule.
func (r *SQLiteRepository) SoftDeleteSchedule(ctx context.Context, ownerID, id int64) error {
	now := r.timestamp()
	res, err := r.db.ExecContext(ctx, `
UPDATE recurring_schedules SET active = 0, deleted_at = ?, updated_at = ?
WHERE id = ? AND owner_id = ? AND deleted_at IS NULL`, now, now, id, ownerID)
	if err != nil {
		return wrap("delete schedule", err)
	}
	n, err := affected(res)
	if err != nil {
		return wrap("delete schedule", err)
	}
	if n == 0 {
		return core.ErrScheduleNotFound
	}
	return nil
}

// RecordRun stores the outcome of an occurrence that did not commit a
// movement. Successful runs are written by RecordMovement.
func (r *SQLiteRepository) RecordRun(ctx context.Context, run core.ScheduleRun) error {
	if run.CreatedAt.IsZero() {
		run.CreatedAt = r.now().UTC()
	}
	return wrap("record schedule run", insertRun(ctx, r.db, run))
}

func insertRun(ctx context.Context, q DBTX, run core.ScheduleRun) error {
	_, err := q.ExecContext(ctx, `
INSERT INTO schedule_runs (schedule_id, due_at, outcome, transaction_id, error, created_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		run.ScheduleID, toMillis(run.DueAt), string(run.Outcome), nullInt64(run.TransactionID),
		run.Error, toMillis(run.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return core.ErrAlreadyExecuted
		}
		return fmt.Errorf("insert schedule run: %w", err)
	}
	return nil
}

// ListRuns returns the newest runs of a schedule owned by ownerID.
func (r *SQLiteRepository) ListRuns(ctx context.Context, ownerID, scheduleID int64, limit int) ([]core.ScheduleRun, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT sr.id, sr.schedule_id, sr.due_at, sr.outcome, sr.transaction_id, sr.error, sr.created_at
FROM schedule_runs sr
JOIN recurring_schedules s ON s.id = sr.schedule_id
WHERE sr.schedule_id = ? AND s.owner_id = ?
ORDER BY sr.created_at DESC, sr.id DESC
LIMIT ?`, scheduleID, ownerID, limit)
	if err != nil {
		return nil, wrap("list schedule runs", err)
	}
	defer rows.Close()

	runs := []core.ScheduleRun{}
	for rows.Next() {
		var (
			run            core.ScheduleRun
			outcome        string
			dueAt, created int64
			txID           sql.NullInt64
		)
		if err := rows.Scan(&run.ID, &run.ScheduleID, &dueAt, &outcome, &txID, &run.Error, &created); err != nil {
			return nil, wrap("scan schedule run", err)
		}
		run.DueAt = fromMillis(dueAt)
		run.Outcome = core.RunOutcome(outcome)
		run.TransactionID = int64Ptr(txID)
		run.CreatedAt = fromMillis(created)
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list schedule runs", err)
	}
	return runs, nil
}
