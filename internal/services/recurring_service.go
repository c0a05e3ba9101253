package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"conti/internal/core"
	"conti/internal/storage"
)

// ScheduleUpdate carries the user-controlled settings of a schedule. Nil
// fields are left as they are.
type ScheduleUpdate struct {
	Description          *string
	Active               *bool
	AutomaticExecution   *bool
	EmailNotification    *bool
	NotificationLeadDays *int
	// ClearLeadDays reverts the reminder lead to the cadence default.
	ClearLeadDays bool
}

// RecurringService manages recurring schedules. Executing them is the job of
// RecurringEngine.
type RecurringService struct {
	storage  *storage.SQLiteRepository
	location *time.Location
}

// NewRecurringService creates a schedule service. loc is the timezone used
// for schedules that do not carry their own.
func NewRecurringService(storage *storage.SQLiteRepository, loc *time.Location) *RecurringService {
	if loc == nil {
		loc = time.UTC
	}
	return &RecurringService{storage: storage, location: loc}
}

// CreateSchedule validates s and stores it as active. The first occurrence
// is midnight of the start date in the schedule's timezone.
func (s *RecurringService) CreateSchedule(ctx context.Context, sched core.RecurringSchedule) (core.RecurringSchedule, error) {
	sched.Description = strings.TrimSpace(sched.Description)
	sched.Timezone = strings.TrimSpace(sched.Timezone)
	sched.Active = true
	if err := sched.Validate(); err != nil {
		return core.RecurringSchedule{}, err
	}
	if _, err := s.storage.GetAccount(ctx, sched.OwnerID, sched.AccountID); err != nil {
		return core.RecurringSchedule{}, err
	}

	first := sched.FirstExecution(s.location)
	sched.NextExecution = &first

	created, err := s.storage.CreateSchedule(ctx, sched)
	if err != nil {
		return core.RecurringSchedule{}, fmt.Errorf("create schedule: %w", err)
	}
	slog.InfoContext(ctx, "Recurring schedule created",
		"schedule_id", created.ID,
		"owner_id", created.OwnerID,
		"cadence", created.Cadence,
		"next_execution", first.Format(time.RFC3339))
	return created, nil
}

func (s *RecurringService) GetSchedule(ctx context.Context, ownerID, id int64) (core.RecurringSchedule, error) {
	return s.storage.GetSchedule(ctx, ownerID, id)
}

func (s *RecurringService) ListSchedules(ctx context.Context, ownerID int64) ([]core.RecurringSchedule, error) {
	return s.storage.ListSchedules(ctx, ownerID)
}

func (s *RecurringService) ListRuns(ctx context.Context, ownerID, scheduleID int64, limit int) ([]core.ScheduleRun, error) {
	if _, err := s.storage.GetSchedule(ctx, ownerID, scheduleID); err != nil {
		return nil, err
	}
	return s.storage.ListRuns(ctx, ownerID, scheduleID, limit)
}

// UpdateSchedule pauses, resumes or reconfigures a schedule. A schedule
// whose occurrences are exhausted cannot be resumed.
func (s *RecurringService) UpdateSchedule(ctx context.Context, ownerID, id int64, upd ScheduleUpdate) (core.RecurringSchedule, error) {
	// A tick that advanced or finished the schedule after the read fails the
	// write with ErrConcurrentUpdate; apply upd once more to the fresh row.
	var (
		updated core.RecurringSchedule
		err     error
	)
	for attempt := 0; attempt < 2; attempt++ {
		updated, err = s.applyUpdate(ctx, ownerID, id, upd)
		if !errors.Is(err, core.ErrConcurrentUpdate) {
			break
		}
	}
	return updated, err
}

func (s *RecurringService) applyUpdate(ctx context.Context, ownerID, id int64, upd ScheduleUpdate) (core.RecurringSchedule, error) {
	sched, err := s.storage.GetSchedule(ctx, ownerID, id)
	if err != nil {
		return core.RecurringSchedule{}, err
	}

	if upd.Description != nil {
		sched.Description = strings.TrimSpace(*upd.Description)
	}
	if upd.Active != nil {
		if *upd.Active && !sched.Active && sched.NextExecution == nil {
			return core.RecurringSchedule{}, core.Validationf("schedule has no pending occurrence to resume")
		}
		sched.Active = *upd.Active
	}
	if upd.AutomaticExecution != nil {
		sched.AutomaticExecution = *upd.AutomaticExecution
	}
	if upd.EmailNotification != nil {
		sched.EmailNotification = *upd.EmailNotification
	}
	if upd.ClearLeadDays {
		sched.NotificationLeadDays = nil
	} else if upd.NotificationLeadDays != nil {
		d := *upd.NotificationLeadDays
		sched.NotificationLeadDays = &d
	}

	if err := sched.Validate(); err != nil {
		return core.RecurringSchedule{}, err
	}
	return s.storage.UpdateScheduleSettings(ctx, sched)
}

// DeleteSchedule deactivates and soft-deletes a schedule. It is never
// resurrected by the engine.
func (s *RecurringService) DeleteSchedule(ctx context.Context, ownerID, id int64) error {
	if err := s.storage.SoftDeleteSchedule(ctx, ownerID, id); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Recurring schedule deleted", "schedule_id", id, "owner_id", ownerID)
	return nil
}
