package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"conti/internal/core"
	"conti/internal/storage"
)

// Notifier delivers schedule emails.
type Notifier interface {
	SendExecutionConfirmation(ctx context.Context, s core.RecurringSchedule, tx core.Transaction) error
	SendReminder(ctx context.Context, s core.RecurringSchedule, due core.Date) error
}

// EngineConfig tunes the automatic execution engine.
type EngineConfig struct {
	// Location is the timezone of schedules that do not carry their own.
	Location *time.Location
	// Concurrency is how many schedules run at once (default: 1)
	Concurrency int
	// MailTimeout bounds each confirmation email (default: 10s)
	MailTimeout time.Duration
}

// DefaultEngineConfig returns sensible defaults
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Location:    time.UTC,
		Concurrency: 1,
		MailTimeout: 10 * time.Second,
	}
}

// RunDetail is the outcome of one schedule in a tick.
type RunDetail struct {
	ScheduleID        int64           `json:"schedule_id"`
	Outcome           core.RunOutcome `json:"outcome"`
	DueAt             time.Time       `json:"due_at"`
	TransactionID     int64           `json:"transaction_id,omitempty"`
	NextExecution     *time.Time      `json:"next_execution,omitempty"`
	Error             string          `json:"error,omitempty"`
	NotificationError string          `json:"notification_error,omitempty"`
}

// RunReport summarises one tick of the engine.
type RunReport struct {
	Processed int         `json:"processed"`
	Failed    int         `json:"failed"`
	Skipped   int         `json:"skipped"`
	Details   []RunDetail `json:"details"`
}

// RecurringEngine executes due schedules through the ledger.
type RecurringEngine struct {
	storage  *storage.SQLiteRepository
	ledger   *LedgerService
	notifier Notifier
	config   EngineConfig
}

func NewRecurringEngine(storage *storage.SQLiteRepository, ledger *LedgerService, notifier Notifier, config EngineConfig) *RecurringEngine {
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	if config.MailTimeout <= 0 {
		config.MailTimeout = 10 * time.Second
	}
	return &RecurringEngine{
		storage:  storage,
		ledger:   ledger,
		notifier: notifier,
		config:   config,
	}
}

// SelectDue returns the schedules whose next execution is at or before now.
// It has no side effects.
func (e *RecurringEngine) SelectDue(ctx context.Context, now time.Time) ([]core.RecurringSchedule, error) {
	return e.storage.ListDueSchedules(ctx, now)
}

// RunOnce executes every schedule due at now. One schedule failing never
// stops the others; the returned error is only set when the due set could
// not be read.
func (e *RecurringEngine) RunOnce(ctx context.Context, now time.Time) (RunReport, error) {
	if e.storage == nil || e.ledger == nil {
		return RunReport{}, fmt.Errorf("engine not properly initialized")
	}
	ctx, span := tracer.Start(ctx, "recurring.run_once")
	defer span.End()

	due, err := e.SelectDue(ctx, now)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return RunReport{}, fmt.Errorf("select due schedules: %w", err)
	}

	slog.InfoContext(ctx, "Processing recurring schedules",
		"due", len(due),
		"processing_time", now.Format(time.RFC3339),
		"concurrency", e.config.Concurrency)

	details := make([]RunDetail, len(due))
	var g errgroup.Group
	g.SetLimit(e.config.Concurrency)
	for i, s := range due {
		g.Go(func() error {
			details[i] = e.execute(ctx, s)
			return nil
		})
	}
	_ = g.Wait()

	report := RunReport{Details: details}
	for _, d := range details {
		switch d.Outcome {
		case core.RunSucceeded:
			report.Processed++
		case core.RunFailed:
			report.Failed++
		case core.RunSkipped:
			report.Skipped++
		}
	}
	span.SetAttributes(
		attribute.Int("run.processed", report.Processed),
		attribute.Int("run.failed", report.Failed),
		attribute.Int("run.skipped", report.Skipped),
	)

	slog.InfoContext(ctx, "Recurring schedule processing complete",
		"processed", report.Processed,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"total_checked", len(due))

	return report, nil
}

func (e *RecurringEngine) execute(ctx context.Context, s core.RecurringSchedule) RunDetail {
	ctx, span := tracer.Start(ctx, "recurring.execute", trace.WithAttributes(
		attribute.Int64("schedule.id", s.ID),
		attribute.String("schedule.cadence", string(s.Cadence)),
	))
	defer span.End()

	detail := RunDetail{ScheduleID: s.ID}
	if s.NextExecution == nil {
		detail.Outcome = core.RunSkipped
		return detail
	}
	dueAt := *s.NextExecution
	detail.DueAt = dueAt

	next, active := s.Advance(e.config.Location)
	m := Movement{
		OwnerID:     s.OwnerID,
		Type:        s.Kind.MovementType(),
		Amount:      s.Amount,
		CategoryIDs: s.CategoryIDs,
		Description: s.Description,
		ScheduleID:  s.ID,
		Advance: &storage.ScheduleAdvance{
			ScheduleID: s.ID,
			Expected:   dueAt,
			Next:       next,
			Active:     active,
		},
	}
	if m.Type == core.TransactionIncome {
		m.ToAccountID = s.AccountID
	} else {
		m.FromAccountID = s.AccountID
	}

	tx, err := e.ledger.ApplyMovement(ctx, m)
	switch {
	case errors.Is(err, core.ErrAlreadyExecuted):
		detail.Outcome = core.RunSkipped
		slog.InfoContext(ctx, "Recurring occurrence already executed",
			"schedule_id", s.ID,
			"due_at", dueAt.Format(time.RFC3339))
		return detail
	case err != nil:
		detail.Outcome = core.RunFailed
		detail.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.ErrorContext(ctx, "Failed to execute recurring schedule",
			"schedule_id", s.ID,
			"description", s.Description,
			"error", err)
		e.recordFailure(ctx, s.ID, dueAt, err)
		return detail
	}

	detail.Outcome = core.RunSucceeded
	detail.TransactionID = tx.ID
	if active {
		detail.NextExecution = &next
	}
	slog.InfoContext(ctx, "Executed recurring schedule",
		"schedule_id", s.ID,
		"transaction_id", tx.ID,
		"amount", s.Amount.String(),
		"cadence", s.Cadence,
		"still_active", active)

	if err := e.confirm(ctx, s, tx); err != nil {
		detail.NotificationError = err.Error()
		slog.WarnContext(ctx, "Failed to send execution confirmation",
			"schedule_id", s.ID,
			"transaction_id", tx.ID,
			"error", err)
	}
	return detail
}

// recordFailure stores a failed run outside the rolled-back unit. Losing it
// only loses history, so errors are logged.
func (e *RecurringEngine) recordFailure(ctx context.Context, scheduleID int64, dueAt time.Time, cause error) {
	run := core.ScheduleRun{
		ScheduleID: scheduleID,
		DueAt:      dueAt,
		Outcome:    core.RunFailed,
		Error:      cause.Error(),
	}
	if err := e.storage.RecordRun(ctx, run); err != nil {
		slog.ErrorContext(ctx, "Failed to record schedule run",
			"schedule_id", scheduleID,
			"error", err)
	}
}

func (e *RecurringEngine) confirm(ctx context.Context, s core.RecurringSchedule, tx core.Transaction) error {
	if e.notifier == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, e.config.MailTimeout)
	defer cancel()
	return e.notifier.SendExecutionConfirmation(ctx, s, tx)
}
