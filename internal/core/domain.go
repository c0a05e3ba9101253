package core

import (
	"strings"
	"time"
)

const (
	AccountDefault AccountKind = "default"
	AccountSavings AccountKind = "savings"
)

const (
	TransactionIncome   TransactionType = "income"
	TransactionExpense  TransactionType = "expense"
	TransactionTransfer TransactionType = "transfer"
)

type (
	Currency        string
	AccountKind     string
	TransactionType string

	Date struct {
		time.Time
	}

	Money struct {
		Minor    int64
		Currency Currency
	}

	User struct {
		ID    int64
		Email string
		Name  string
	}

	Account struct {
		ID              int64
		OwnerID         int64
		Name            string
		Currency        Currency
		Balance         Money
		Kind            AccountKind
		SavingsTarget   *Money
		TargetDate      *Date
		GoalCompletedAt *time.Time
		DeletedAt       *time.Time
		CreatedAt       time.Time
		UpdatedAt       time.Time
	}

	Transaction struct {
		ID            int64
		OwnerID       int64
		Type          TransactionType
		Amount        Money
		FromAccountID *int64
		ToAccountID   *int64
		CategoryIDs   []int64
		ScheduleID    *int64
		Description   string
		CreatedAt     time.Time
	}

	Budget struct {
		ID          int64
		OwnerID     int64
		Name        string
		Limit       Money
		Spent       Money
		CategoryIDs []int64
		DeletedAt   *time.Time
		CreatedAt   time.Time
		UpdatedAt   time.Time
	}
)

func (d Date) Validate() error {
	if d.IsZero() {
		return Validationf("date cannot be zero")
	}
	_, month, day := d.Date()
	if day < 1 || day > 31 {
		return ErrInvalidDay
	}
	if month < 1 || month > 12 {
		return ErrInvalidMonth
	}
	return nil
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	y, m, d := t.In(loc).Date()
	return NewDate(y, int(m), d)
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	if err != nil {
		return Date{}, Validationf("invalid date %q", s)
	}
	return Date{Time: t}, nil
}

func (d Date) String() string {
	return d.Format(time.DateOnly)
}

// AddDays returns the date n calendar days later.
func (d Date) AddDays(n int) Date {
	return Date{Time: d.AddDate(0, 0, n)}
}

// At returns the instant of midnight of d in loc.
func (d Date) At(loc *time.Location) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
}

func (k AccountKind) Validate() error {
	switch k {
	case AccountDefault, AccountSavings:
		return nil
	}
	return ErrInvalidAccountKind
}

func (a Account) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return ErrEmptyName
	}
	if len(a.Name) > 100 {
		return Validationf("name too long (max 100 characters)")
	}
	if err := a.Currency.Validate(); err != nil {
		return err
	}
	if err := a.Kind.Validate(); err != nil {
		return err
	}
	if a.SavingsTarget != nil {
		if a.Kind != AccountSavings {
			return Validationf("savings target requires a savings account")
		}
		if err := a.SavingsTarget.Validate(); err != nil {
			return err
		}
		if a.SavingsTarget.Currency != a.Currency {
			return Validationf("savings target must be in the account currency")
		}
	}
	return nil
}

// GoalReached reports whether a savings account has met its target.
func (a Account) GoalReached() bool {
	return a.Kind == AccountSavings && a.SavingsTarget != nil && a.Balance.Minor >= a.SavingsTarget.Minor
}

// Currency returns the currency the budget's limit and spend are expressed in.
func (b Budget) Currency() Currency {
	return b.Limit.Currency
}

func (b Budget) Validate() error {
	if strings.TrimSpace(b.Name) == "" {
		return ErrEmptyName
	}
	if len(b.Name) > 100 {
		return Validationf("name too long (max 100 characters)")
	}
	if err := b.Limit.Validate(); err != nil {
		return err
	}
	if b.Spent.Currency != "" && b.Spent.Currency != b.Limit.Currency {
		return Validationf("budget spend must be in the budget currency")
	}
	return nil
}

// Validate checks the shape of a movement: which accounts each kind carries.
func (t Transaction) Validate() error {
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if len(t.Description) > 200 {
		return Validationf("description too long (max 200 characters)")
	}
	switch t.Type {
	case TransactionTransfer:
		if t.FromAccountID == nil || t.ToAccountID == nil {
			return ErrInvalidMovement
		}
		if *t.FromAccountID == *t.ToAccountID {
			return ErrSameAccount
		}
	case TransactionIncome:
		if t.FromAccountID != nil || t.ToAccountID == nil {
			return ErrInvalidMovement
		}
	case TransactionExpense:
		if t.FromAccountID == nil || t.ToAccountID != nil {
			return ErrInvalidMovement
		}
	default:
		return ErrInvalidMovement
	}
	return nil
}
