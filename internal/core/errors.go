package core

import (
	"errors"
	"fmt"
)

// ErrorKind groups domain errors by how callers must react to them.
type ErrorKind string

const (
	KindValidation   ErrorKind = "validation_error"
	KindNotFound     ErrorKind = "not_found_error"
	KindRate         ErrorKind = "rate_unavailable"
	KindPersistence  ErrorKind = "database_error"
	KindConflict     ErrorKind = "conflict_error"
	KindNotification ErrorKind = "notification_error"
)

// Error is the domain error type. Code identifies a specific failure; Kind
// identifies its category.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches by code when the target has one, otherwise by kind. This lets
// callers test either errors.Is(err, ErrAccountNotFound) or the broader
// errors.Is(err, ErrNotFound).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != "" {
		return e.Code == t.Code
	}
	return e.Kind == t.Kind
}

// Kind sentinels.
var (
	ErrValidation  = &Error{Kind: KindValidation, Message: "validation failed"}
	ErrNotFound    = &Error{Kind: KindNotFound, Message: "not found"}
	ErrPersistence = &Error{Kind: KindPersistence, Message: "persistence failure"}
	ErrConflict    = &Error{Kind: KindConflict, Message: "conflict"}
)

var (
	ErrInvalidAmount      = &Error{Kind: KindValidation, Code: "INVALID_AMOUNT", Message: "invalid amount"}
	ErrInvalidCurrency    = &Error{Kind: KindValidation, Code: "INVALID_CURRENCY", Message: "invalid currency"}
	ErrSameAccount        = &Error{Kind: KindValidation, Code: "SAME_ACCOUNT", Message: "source and destination account must differ"}
	ErrInvalidMovement    = &Error{Kind: KindValidation, Code: "INVALID_MOVEMENT", Message: "invalid movement"}
	ErrInvalidCadence     = &Error{Kind: KindValidation, Code: "INVALID_CADENCE", Message: "invalid cadence"}
	ErrInvalidDay         = &Error{Kind: KindValidation, Code: "INVALID_DAY", Message: "invalid day"}
	ErrInvalidMonth       = &Error{Kind: KindValidation, Code: "INVALID_MONTH", Message: "invalid month"}
	ErrEmptyDescription   = &Error{Kind: KindValidation, Code: "EMPTY_DESCRIPTION", Message: "empty description"}
	ErrEmptyName          = &Error{Kind: KindValidation, Code: "EMPTY_NAME", Message: "empty name"}
	ErrInvalidAccountKind = &Error{Kind: KindValidation, Code: "INVALID_ACCOUNT_KIND", Message: "invalid account kind"}
	ErrInvalidTimezone    = &Error{Kind: KindValidation, Code: "INVALID_TIMEZONE", Message: "invalid timezone"}

	ErrAccountNotFound  = &Error{Kind: KindNotFound, Code: "ACCOUNT_NOT_FOUND", Message: "account not found"}
	ErrBudgetNotFound   = &Error{Kind: KindNotFound, Code: "BUDGET_NOT_FOUND", Message: "budget not found"}
	ErrScheduleNotFound = &Error{Kind: KindNotFound, Code: "SCHEDULE_NOT_FOUND", Message: "schedule not found"}
	ErrUserNotFound     = &Error{Kind: KindNotFound, Code: "USER_NOT_FOUND", Message: "user not found"}

	ErrRateUnavailable = &Error{Kind: KindRate, Code: "RATE_UNAVAILABLE", Message: "exchange rate unavailable"}

	ErrAlreadyExecuted  = &Error{Kind: KindConflict, Code: "ALREADY_EXECUTED", Message: "schedule occurrence already executed"}
	ErrConcurrentUpdate = &Error{Kind: KindConflict, Code: "CONCURRENT_UPDATE", Message: "record changed concurrently"}
)

// Validationf returns a validation error with a formatted message.
func Validationf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Code: "VALIDATION", Message: fmt.Sprintf(format, args...)}
}

// RateUnavailable reports that code is missing from a rate table.
func RateUnavailable(code Currency) error {
	return &Error{
		Kind:    KindRate,
		Code:    ErrRateUnavailable.Code,
		Message: fmt.Sprintf("exchange rate unavailable for %s", code),
	}
}

// Persistence wraps a storage failure.
func Persistence(op string, err error) error {
	return &Error{Kind: KindPersistence, Code: "PERSISTENCE", Message: op, Err: err}
}

// KindOf returns the kind of the first domain error in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return "", false
}
