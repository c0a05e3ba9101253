package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"conti/internal/core"
	"conti/internal/storage"
)

// ReminderReport summarises one reminder scan.
type ReminderReport struct {
	Checked int `json:"checked"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}

// ReminderService emails upcoming-payment reminders. It only reads schedules;
// balances and next executions are never touched.
type ReminderService struct {
	storage   *storage.SQLiteRepository
	notifier  Notifier
	location  *time.Location
	sendDelay time.Duration
}

func NewReminderService(storage *storage.SQLiteRepository, notifier Notifier, loc *time.Location, sendDelay time.Duration) *ReminderService {
	if loc == nil {
		loc = time.UTC
	}
	if sendDelay < 0 {
		sendDelay = 0
	}
	return &ReminderService{
		storage:   storage,
		notifier:  notifier,
		location:  loc,
		sendDelay: sendDelay,
	}
}

// RunOnce sends a reminder for every schedule whose reminder day, in its own
// timezone, is the day of now. Failed sends are counted and the scan goes on.
func (s *ReminderService) RunOnce(ctx context.Context, now time.Time) (ReminderReport, error) {
	if s.notifier == nil {
		return ReminderReport{}, fmt.Errorf("reminder service has no notifier")
	}
	ctx, span := tracer.Start(ctx, "reminders.run_once")
	defer span.End()

	candidates, err := s.storage.ListReminderCandidates(ctx)
	if err != nil {
		return ReminderReport{}, fmt.Errorf("list reminder candidates: %w", err)
	}

	report := ReminderReport{Checked: len(candidates)}
	sent := 0
	for _, sched := range candidates {
		if !sched.ReminderDue(now, s.location) {
			continue
		}
		if sent > 0 && s.sendDelay > 0 {
			select {
			case <-ctx.Done():
				return report, ctx.Err()
			case <-time.After(s.sendDelay):
			}
		}
		sent++

		due := core.DateOf(*sched.NextExecution, sched.Location(s.location))
		if err := s.notifier.SendReminder(ctx, sched, due); err != nil {
			report.Failed++
			slog.WarnContext(ctx, "Failed to send reminder",
				"schedule_id", sched.ID,
				"due_date", due.String(),
				"error", err)
			continue
		}
		report.Sent++
		slog.InfoContext(ctx, "Reminder sent",
			"schedule_id", sched.ID,
			"due_date", due.String(),
			"lead_days", sched.LeadDays())
	}

	span.SetAttributes(
		attribute.Int("reminders.checked", report.Checked),
		attribute.Int("reminders.sent", report.Sent),
		attribute.Int("reminders.failed", report.Failed),
	)
	slog.InfoContext(ctx, "Reminder scan complete",
		"checked", report.Checked,
		"sent", report.Sent,
		"failed", report.Failed)
	return report, nil
}
