package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"conti/internal/core"
	"conti/internal/log"
)

type moneyJSON struct {
	Amount   string `json:"amount"`
	Minor    int64  `json:"minor"`
	Currency string `json:"currency"`
}

func toMoneyJSON(m core.Money) moneyJSON {
	return moneyJSON{
		Amount:   m.Decimal().StringFixed(m.Currency.Scale()),
		Minor:    m.Minor,
		Currency: string(m.Currency),
	}
}

func optionalMoney(m *core.Money) *moneyJSON {
	if m == nil {
		return nil
	}
	j := toMoneyJSON(*m)
	return &j
}

func optionalDate(d *core.Date) string {
	if d == nil {
		return ""
	}
	return d.String()
}

type accountJSON struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	Currency        string     `json:"currency"`
	Kind            string     `json:"kind"`
	Balance         moneyJSON  `json:"balance"`
	SavingsTarget   *moneyJSON `json:"savings_target,omitempty"`
	TargetDate      string     `json:"target_date,omitempty"`
	GoalReached     bool       `json:"goal_reached"`
	GoalCompletedAt *time.Time `json:"goal_completed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func toAccountJSON(a core.Account) accountJSON {
	return accountJSON{
		ID:              a.ID,
		Name:            a.Name,
		Currency:        string(a.Currency),
		Kind:            string(a.Kind),
		Balance:         toMoneyJSON(a.Balance),
		SavingsTarget:   optionalMoney(a.SavingsTarget),
		TargetDate:      optionalDate(a.TargetDate),
		GoalReached:     a.GoalReached(),
		GoalCompletedAt: a.GoalCompletedAt,
		CreatedAt:       a.CreatedAt,
	}
}

type transactionJSON struct {
	ID            int64     `json:"id"`
	Type          string    `json:"type"`
	Amount        moneyJSON `json:"amount"`
	FromAccountID *int64    `json:"from_account_id,omitempty"`
	ToAccountID   *int64    `json:"to_account_id,omitempty"`
	CategoryIDs   []int64   `json:"category_ids,omitempty"`
	ScheduleID    *int64    `json:"schedule_id,omitempty"`
	Description   string    `json:"description,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func toTransactionJSON(t core.Transaction) transactionJSON {
	return transactionJSON{
		ID:            t.ID,
		Type:          string(t.Type),
		Amount:        toMoneyJSON(t.Amount),
		FromAccountID: t.FromAccountID,
		ToAccountID:   t.ToAccountID,
		CategoryIDs:   t.CategoryIDs,
		ScheduleID:    t.ScheduleID,
		Description:   t.Description,
		CreatedAt:     t.CreatedAt,
	}
}

type budgetJSON struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Limit       moneyJSON `json:"limit"`
	Spent       moneyJSON `json:"spent"`
	CategoryIDs []int64   `json:"category_ids"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toBudgetJSON(b core.Budget) budgetJSON {
	ids := b.CategoryIDs
	if ids == nil {
		ids = []int64{}
	}
	return budgetJSON{
		ID:          b.ID,
		Name:        b.Name,
		Limit:       toMoneyJSON(b.Limit),
		Spent:       toMoneyJSON(b.Spent),
		CategoryIDs: ids,
		UpdatedAt:   b.UpdatedAt,
	}
}

type scheduleJSON struct {
	ID                   int64      `json:"id"`
	AccountID            int64      `json:"account_id"`
	Kind                 string     `json:"kind"`
	Description          string     `json:"description"`
	Amount               moneyJSON  `json:"amount"`
	Cadence              string     `json:"cadence"`
	IntervalDays         int        `json:"interval_days,omitempty"`
	StartDate            string     `json:"start_date"`
	EndDate              string     `json:"end_date,omitempty"`
	NextExecution        *time.Time `json:"next_execution"`
	Active               bool       `json:"active"`
	AutomaticExecution   bool       `json:"automatic_execution"`
	EmailNotification    bool       `json:"email_notification"`
	NotificationLeadDays int        `json:"notification_lead_days"`
	Timezone             string     `json:"timezone,omitempty"`
	CategoryIDs          []int64    `json:"category_ids,omitempty"`
}

func toScheduleJSON(s core.RecurringSchedule) scheduleJSON {
	return scheduleJSON{
		ID:                   s.ID,
		AccountID:            s.AccountID,
		Kind:                 string(s.Kind),
		Description:          s.Description,
		Amount:               toMoneyJSON(s.Amount),
		Cadence:              string(s.Cadence),
		IntervalDays:         s.IntervalDays,
		StartDate:            s.StartDate.String(),
		EndDate:              optionalDate(s.EndDate),
		NextExecution:        s.NextExecution,
		Active:               s.Active,
		AutomaticExecution:   s.AutomaticExecution,
		EmailNotification:    s.EmailNotification,
		NotificationLeadDays: s.LeadDays(),
		Timezone:             s.Timezone,
		CategoryIDs:          s.CategoryIDs,
	}
}

type runJSON struct {
	ID            int64     `json:"id"`
	DueAt         time.Time `json:"due_at"`
	Outcome       string    `json:"outcome"`
	TransactionID *int64    `json:"transaction_id,omitempty"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func toRunJSON(r core.ScheduleRun) runJSON {
	return runJSON{
		ID:            r.ID,
		DueAt:         r.DueAt,
		Outcome:       string(r.Outcome),
		TransactionID: r.TransactionID,
		Error:         r.Error,
		CreatedAt:     r.CreatedAt,
	}
}

func mapSlice[T, R any](in []T, f func(T) R) []R {
	out := make([]R, 0, len(in))
	for _, v := range in {
		out = append(out, f(v))
	}
	return out
}

// errorJSON is the body of every non-2xx API response.
type errorJSON struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps an error to its HTTP status: validation 422, not found 404,
// missing exchange rate 424, conflict 409, anything else 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errMissingUser):
		return http.StatusUnauthorized
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, errUnknownJob):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	kind, ok := core.KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case core.KindValidation:
		return http.StatusUnprocessableEntity
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindRate:
		return http.StatusFailedDependency
	case core.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err as JSON. Internal failures are logged and their
// details withheld from the client.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	body := errorJSON{Error: err.Error(), RequestID: w.Header().Get("X-Request-ID")}
	var de *core.Error
	if errors.As(err, &de) {
		body.Code = de.Code
	}
	if status >= http.StatusInternalServerError {
		s.structured.LogError(r.Context(), "Request failed", err, log.ComponentHTTP, op,
			log.NewFields().WithErrorCode(body.Code).WithRequestID(body.RequestID))
		body.Error = http.StatusText(status)
	}
	writeJSON(w, status, body)
}
