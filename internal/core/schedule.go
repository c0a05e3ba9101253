package core

import (
	"strings"
	"time"
)

const (
	ScheduleBill   ScheduleKind = "bill"
	ScheduleIncome ScheduleKind = "income"
)

const (
	RunSucceeded RunOutcome = "succeeded"
	RunFailed    RunOutcome = "failed"
	RunSkipped   RunOutcome = "skipped"
)

type (
	ScheduleKind string
	RunOutcome   string

	RecurringSchedule struct {
		ID                   int64
		OwnerID              int64
		AccountID            int64
		Kind                 ScheduleKind
		Description          string
		Amount               Money
		Cadence              Cadence
		IntervalDays         int
		StartDate            Date
		EndDate              *Date
		NextExecution        *time.Time
		Active               bool
		AutomaticExecution   bool
		EmailNotification    bool
		NotificationLeadDays *int
		Timezone             string
		CategoryIDs          []int64
		DeletedAt            *time.Time
		CreatedAt            time.Time
		UpdatedAt            time.Time
	}

	// ScheduleRun records the outcome of one attempted occurrence.
	ScheduleRun struct {
		ID            int64
		ScheduleID    int64
		DueAt         time.Time
		Outcome       RunOutcome
		TransactionID *int64
		Error         string
		CreatedAt     time.Time
	}
)

func (k ScheduleKind) Validate() error {
	switch k {
	case ScheduleBill, ScheduleIncome:
		return nil
	}
	return Validationf("invalid schedule kind %q", k)
}

// MovementType is the ledger movement an occurrence produces.
func (k ScheduleKind) MovementType() TransactionType {
	if k == ScheduleIncome {
		return TransactionIncome
	}
	return TransactionExpense
}

func (s RecurringSchedule) Validate() error {
	if s.AccountID <= 0 {
		return ErrAccountNotFound
	}
	if err := s.Kind.Validate(); err != nil {
		return err
	}
	if len(strings.TrimSpace(s.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(s.Description) > 200 {
		return Validationf("description too long (max 200 characters)")
	}
	if err := s.Amount.Validate(); err != nil {
		return err
	}
	if err := s.Cadence.Validate(); err != nil {
		return err
	}
	if s.Cadence == Custom && s.IntervalDays < 1 {
		return Validationf("custom cadence requires an interval of at least one day")
	}
	if err := s.StartDate.Validate(); err != nil {
		return Validationf("invalid start date: %v", err)
	}
	if s.EndDate != nil {
		if err := s.EndDate.Validate(); err != nil {
			return Validationf("invalid end date: %v", err)
		}
		if s.EndDate.Before(s.StartDate.Time) {
			return Validationf("end date must not be before start date")
		}
	}
	if s.NotificationLeadDays != nil && (*s.NotificationLeadDays < 0 || *s.NotificationLeadDays > 365) {
		return Validationf("notification lead days must be between 0 and 365")
	}
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return ErrInvalidTimezone
		}
	}
	return nil
}

// Location returns the schedule's own timezone, or fallback when unset or
// unknown.
func (s RecurringSchedule) Location(fallback *time.Location) *time.Location {
	if s.Timezone != "" {
		if loc, err := time.LoadLocation(s.Timezone); err == nil {
			return loc
		}
	}
	if fallback == nil {
		return time.UTC
	}
	return fallback
}

// LeadDays returns the configured reminder lead or the cadence default.
func (s RecurringSchedule) LeadDays() int {
	if s.NotificationLeadDays != nil {
		return *s.NotificationLeadDays
	}
	return DefaultLeadDays(s.Cadence)
}

// FirstExecution is midnight of the start date in the schedule's timezone.
func (s RecurringSchedule) FirstExecution(fallback *time.Location) time.Time {
	return s.StartDate.At(s.Location(fallback))
}

// Advance computes the occurrence that follows the current next execution.
// active is false when the schedule has no further occurrence, either because
// the cadence is exhausted or the next one falls after the end date.
func (s RecurringSchedule) Advance(fallback *time.Location) (next time.Time, active bool) {
	if s.NextExecution == nil {
		return time.Time{}, false
	}
	loc := s.Location(fallback)
	prev := s.NextExecution.In(loc)
	next, ok := s.Cadence.Next(prev, s.StartDate.Day(), s.IntervalDays)
	if !ok {
		return time.Time{}, false
	}
	if s.EndDate != nil && DateOf(next, loc).After(s.EndDate.Time) {
		return time.Time{}, false
	}
	return next, true
}

// ReminderDate is the calendar day on which the reminder for the pending
// occurrence is due.
func (s RecurringSchedule) ReminderDate(fallback *time.Location) (Date, bool) {
	if s.NextExecution == nil {
		return Date{}, false
	}
	due := DateOf(*s.NextExecution, s.Location(fallback))
	return due.AddDays(-s.LeadDays()), true
}

// ReminderDue reports whether today, in the schedule's timezone, is the
// reminder day for the pending occurrence.
func (s RecurringSchedule) ReminderDue(now time.Time, fallback *time.Location) bool {
	day, ok := s.ReminderDate(fallback)
	if !ok {
		return false
	}
	return day.Equal(DateOf(now, s.Location(fallback)).Time)
}
