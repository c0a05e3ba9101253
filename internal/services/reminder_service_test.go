package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"conti/internal/core"
)

func TestReminderServiceLeadDays(t *testing.T) {
	tests := []struct {
		name     string
		now      time.Time
		wantSent int
	}{
		{"one day early", time.Date(2024, 2, 26, 8, 0, 0, 0, time.UTC), 0},
		{"reminder day", time.Date(2024, 2, 27, 8, 0, 0, 0, time.UTC), 1},
		{"reminder day late evening", time.Date(2024, 2, 27, 23, 59, 0, 0, time.UTC), 1},
		{"one day late", time.Date(2024, 2, 28, 8, 0, 0, 0, time.UTC), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := openRepo(t)
			recur := NewRecurringService(repo, time.UTC)
			notifier := &fakeNotifier{}
			svc := NewReminderService(repo, notifier, time.UTC, 0)

			acct := mustAccount(t, repo, 1, "Checking", "EUR")
			sched := mustSchedule(t, recur, core.RecurringSchedule{
				AccountID:         acct.ID,
				Amount:            core.NewMoney(90000, "EUR"),
				EmailNotification: true,
			})

			report, err := svc.RunOnce(context.Background(), tt.now)
			if err != nil {
				t.Fatalf("RunOnce: %v", err)
			}
			if report.Sent != tt.wantSent {
				t.Fatalf("sent = %d, want %d", report.Sent, tt.wantSent)
			}
			if tt.wantSent == 1 {
				got := notifier.reminders[0]
				if got.scheduleID != sched.ID || got.due.String() != "2024-03-01" {
					t.Errorf("reminder = %+v, want schedule %d due 2024-03-01", got, sched.ID)
				}
			}
		})
	}
}

func TestReminderServiceSkipsOptOutsAndInactive(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t)
	recur := NewRecurringService(repo, time.UTC)
	notifier := &fakeNotifier{}
	svc := NewReminderService(repo, notifier, time.UTC, 0)
	acct := mustAccount(t, repo, 1, "Checking", "EUR")

	mustSchedule(t, recur, core.RecurringSchedule{
		AccountID: acct.ID, Amount: core.NewMoney(100, "EUR"), EmailNotification: false,
	})
	paused := mustSchedule(t, recur, core.RecurringSchedule{
		AccountID: acct.ID, Amount: core.NewMoney(100, "EUR"), EmailNotification: true,
	})
	off := false
	if _, err := recur.UpdateSchedule(ctx, 1, paused.ID, ScheduleUpdate{Active: &off}); err != nil {
		t.Fatalf("UpdateSchedule: %v", err)
	}
	deleted := mustSchedule(t, recur, core.RecurringSchedule{
		AccountID: acct.ID, Amount: core.NewMoney(100, "EUR"), EmailNotification: true,
	})
	if err := recur.DeleteSchedule(ctx, 1, deleted.ID); err != nil {
		t.Fatalf("DeleteSchedule: %v", err)
	}

	report, err := svc.RunOnce(ctx, time.Date(2024, 2, 27, 8, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if report.Sent != 0 || len(notifier.reminders) != 0 {
		t.Errorf("report = %+v, want nothing sent", report)
	}
}

func TestReminderServiceCountsFailures(t *testing.T) {
	repo := openRepo(t)
	recur := NewRecurringService(repo, time.UTC)
	notifier := &fakeNotifier{reminderErr: errors.New("provider returned 503")}
	svc := NewReminderService(repo, notifier, time.UTC, time.Millisecond)
	acct := mustAccount(t, repo, 1, "Checking", "EUR")

	for i := 0; i < 3; i++ {
		mustSchedule(t, recur, core.RecurringSchedule{
			AccountID:         acct.ID,
			Amount:            core.NewMoney(100, "EUR"),
			Cadence:           core.Weekly,
			StartDate:         core.NewDate(2024, 3, 4),
			EmailNotification: true,
		})
	}

	// Weekly default lead is two days.
	report, err := svc.RunOnce(context.Background(), time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if report.Failed != 3 || report.Sent != 0 || report.Checked != 3 {
		t.Errorf("report = %+v, want 3 failures", report)
	}
	if len(notifier.reminders) != 3 {
		t.Errorf("attempts = %d, want 3", len(notifier.reminders))
	}
}

func TestReminderServiceUsesScheduleTimezone(t *testing.T) {
	repo := openRepo(t)
	recur := NewRecurringService(repo, time.UTC)
	notifier := &fakeNotifier{}
	svc := NewReminderService(repo, notifier, time.UTC, 0)
	acct := mustAccount(t, repo, 1, "Checking", "EUR")

	lead := 1
	mustSchedule(t, recur, core.RecurringSchedule{
		AccountID:            acct.ID,
		Amount:               core.NewMoney(100, "EUR"),
		EmailNotification:    true,
		NotificationLeadDays: &lead,
		Timezone:             "Pacific/Auckland",
	})

	// 2024-02-29 11:00 UTC is already 2024-03-01 in Auckland.
	report, err := svc.RunOnce(context.Background(), time.Date(2024, 2, 29, 11, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if report.Sent != 0 {
		t.Errorf("sent = %d on the due day itself, want 0", report.Sent)
	}

	report, err = svc.RunOnce(context.Background(), time.Date(2024, 2, 28, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if report.Sent != 1 {
		t.Errorf("sent = %d on the eve in Auckland, want 1", report.Sent)
	}
}

func TestReminderServiceCancelledBetweenSends(t *testing.T) {
	repo := openRepo(t)
	recur := NewRecurringService(repo, time.UTC)
	notifier := &fakeNotifier{}
	svc := NewReminderService(repo, notifier, time.UTC, time.Hour)
	acct := mustAccount(t, repo, 1, "Checking", "EUR")
	for i := 0; i < 2; i++ {
		mustSchedule(t, recur, core.RecurringSchedule{
			AccountID: acct.ID, Amount: core.NewMoney(100, "EUR"), EmailNotification: true,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	report, err := svc.RunOnce(ctx, time.Date(2024, 2, 27, 8, 0, 0, 0, time.UTC))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want deadline exceeded", err)
	}
	if report.Sent != 1 {
		t.Errorf("sent = %d before cancellation, want 1", report.Sent)
	}
}
