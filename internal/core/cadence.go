// This file implements the Strategy Pattern for advancing recurring schedules.
// Each cadence has its own stepper that computes the next occurrence from the
// previous one.

package core

import (
	"time"
)

const (
	Daily     Cadence = "daily"
	Weekly    Cadence = "weekly"
	Biweekly  Cadence = "biweekly"
	Monthly   Cadence = "monthly"
	Quarterly Cadence = "quarterly"
	Yearly    Cadence = "yearly"
	Once      Cadence = "once"
	Custom    Cadence = "custom"
)

// Cadence is the repetition period of a recurring schedule.
type Cadence string

// CadenceStepper computes the occurrence following prev. anchorDay is the
// day of month the schedule was started on; calendar cadences clamp it to the
// last day of shorter months. ok is false when the cadence has no further
// occurrence.
type CadenceStepper interface {
	Next(prev time.Time, anchorDay, intervalDays int) (next time.Time, ok bool)
}

// DayStepper advances by a fixed number of calendar days.
type DayStepper struct {
	Days int
}

func (s DayStepper) Next(prev time.Time, _, _ int) (time.Time, bool) {
	return prev.AddDate(0, 0, s.Days), true
}

// MonthStepper advances by whole months, keeping the anchor day where the
// target month has it.
type MonthStepper struct {
	Months int
}

func (s MonthStepper) Next(prev time.Time, anchorDay, _ int) (time.Time, bool) {
	if anchorDay < 1 {
		anchorDay = prev.Day()
	}
	first := time.Date(prev.Year(), prev.Month()+time.Month(s.Months), 1,
		prev.Hour(), prev.Minute(), prev.Second(), prev.Nanosecond(), prev.Location())
	lastDay := time.Date(first.Year(), first.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
	day := anchorDay
	if day > lastDay {
		day = lastDay
	}
	return first.AddDate(0, 0, day-1), true
}

// IntervalStepper advances by the schedule's own interval in days.
type IntervalStepper struct{}

func (IntervalStepper) Next(prev time.Time, _, intervalDays int) (time.Time, bool) {
	if intervalDays < 1 {
		return time.Time{}, false
	}
	return prev.AddDate(0, 0, intervalDays), true
}

// OnceStepper never produces a further occurrence.
type OnceStepper struct{}

func (OnceStepper) Next(time.Time, int, int) (time.Time, bool) {
	return time.Time{}, false
}

var cadenceSteppers = map[Cadence]CadenceStepper{
	Daily:     DayStepper{Days: 1},
	Weekly:    DayStepper{Days: 7},
	Biweekly:  DayStepper{Days: 14},
	Monthly:   MonthStepper{Months: 1},
	Quarterly: MonthStepper{Months: 3},
	Yearly:    MonthStepper{Months: 12},
	Once:      OnceStepper{},
	Custom:    IntervalStepper{},
}

// defaultLeadDays is how many days before an occurrence a reminder goes out
// when the schedule does not set its own lead.
var defaultLeadDays = map[Cadence]int{
	Daily:     1,
	Weekly:    2,
	Biweekly:  3,
	Monthly:   3,
	Quarterly: 7,
	Yearly:    14,
	Once:      3,
	Custom:    3,
}

func (c Cadence) Validate() error {
	if _, ok := cadenceSteppers[c]; !ok {
		return ErrInvalidCadence
	}
	return nil
}

// Next returns the occurrence after prev, evaluated on the wall clock of
// prev's location.
func (c Cadence) Next(prev time.Time, anchorDay, intervalDays int) (time.Time, bool) {
	s, ok := cadenceSteppers[c]
	if !ok {
		return time.Time{}, false
	}
	return s.Next(prev, anchorDay, intervalDays)
}

// DefaultLeadDays returns the reminder lead for c.
func DefaultLeadDays(c Cadence) int {
	if d, ok := defaultLeadDays[c]; ok {
		return d
	}
	return 3
}
