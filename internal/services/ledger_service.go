// Package services provides business logic and orchestration services.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"conti/internal/core"
	"conti/internal/currency"
	"conti/internal/storage"
)

var tracer = otel.Tracer("conti/internal/services")

// EventPublisher announces committed ledger movements.
type EventPublisher interface {
	PublishTransactionCreated(ctx context.Context, tx core.Transaction) error
}

// Movement describes one money movement. Zero account ids mean "none".
type Movement struct {
	OwnerID       int64
	Type          core.TransactionType
	Amount        core.Money
	FromAccountID int64
	ToAccountID   int64
	CategoryIDs   []int64
	Description   string
	ScheduleID    int64
	// Advance, when set, moves the originating schedule forward in the same
	// unit of work as the movement.
	Advance *storage.ScheduleAdvance
}

func (m Movement) transaction() core.Transaction {
	t := core.Transaction{
		OwnerID:     m.OwnerID,
		Type:        m.Type,
		Amount:      m.Amount,
		CategoryIDs: m.CategoryIDs,
		Description: m.Description,
	}
	if m.FromAccountID != 0 {
		id := m.FromAccountID
		t.FromAccountID = &id
	}
	if m.ToAccountID != 0 {
		id := m.ToAccountID
		t.ToAccountID = &id
	}
	if m.ScheduleID != 0 {
		id := m.ScheduleID
		t.ScheduleID = &id
	}
	return t
}

// LedgerService is the only writer of account balances and budget spend.
type LedgerService struct {
	storage   *storage.SQLiteRepository
	rates     currency.Provider
	publisher EventPublisher
}

func NewLedgerService(storage *storage.SQLiteRepository, rates currency.Provider, publisher EventPublisher) *LedgerService {
	return &LedgerService{
		storage:   storage,
		rates:     rates,
		publisher: publisher,
	}
}

// CreateTransfer moves amount from one account of ownerID to another.
func (s *LedgerService) CreateTransfer(ctx context.Context, ownerID int64, amount core.Money, fromID, toID int64, description string) (core.Transaction, error) {
	return s.ApplyMovement(ctx, Movement{
		OwnerID:       ownerID,
		Type:          core.TransactionTransfer,
		Amount:        amount,
		FromAccountID: fromID,
		ToAccountID:   toID,
		Description:   description,
	})
}

// CreateExpense takes amount out of an account and charges matching budgets.
func (s *LedgerService) CreateExpense(ctx context.Context, ownerID int64, amount core.Money, fromID int64, categoryIDs []int64, description string) (core.Transaction, error) {
	return s.ApplyMovement(ctx, Movement{
		OwnerID:       ownerID,
		Type:          core.TransactionExpense,
		Amount:        amount,
		FromAccountID: fromID,
		CategoryIDs:   categoryIDs,
		Description:   description,
	})
}

// CreateIncome adds amount to an account.
func (s *LedgerService) CreateIncome(ctx context.Context, ownerID int64, amount core.Money, toID int64, categoryIDs []int64, description string) (core.Transaction, error) {
	return s.ApplyMovement(ctx, Movement{
		OwnerID:     ownerID,
		Type:        core.TransactionIncome,
		Amount:      amount,
		ToAccountID: toID,
		CategoryIDs: categoryIDs,
		Description: description,
	})
}

func (s *LedgerService) ListTransactions(ctx context.Context, ownerID int64, limit int) ([]core.Transaction, error) {
	return s.storage.ListTransactions(ctx, ownerID, limit)
}

// ApplyMovement validates m, converts the amount into each affected
// account and budget currency, and commits every change as one unit.
// Nothing is written when an error is returned.
func (s *LedgerService) ApplyMovement(ctx context.Context, m Movement) (core.Transaction, error) {
	ctx, span := tracer.Start(ctx, "ledger.apply_movement", trace.WithAttributes(
		attribute.String("movement.type", string(m.Type)),
		attribute.String("movement.currency", string(m.Amount.Currency)),
		attribute.Int64("owner.id", m.OwnerID),
	))
	defer span.End()

	tx := m.transaction()
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}

	// A budget whose currency changed between planning and commit makes the
	// unit fail with ErrConcurrentUpdate; plan again once with fresh state.
	var (
		created core.Transaction
		err     error
	)
	for attempt := 0; attempt < 2; attempt++ {
		var write storage.MovementWrite
		write, err = s.plan(ctx, m, tx)
		if err != nil {
			break
		}
		created, err = s.storage.RecordMovement(ctx, write)
		if !errors.Is(err, core.ErrConcurrentUpdate) {
			break
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return core.Transaction{}, err
	}

	slog.InfoContext(ctx, "Movement applied",
		"transaction_id", created.ID,
		"type", created.Type,
		"amount", created.Amount.String(),
		"owner_id", created.OwnerID)

	if err := s.publish(ctx, created); err != nil {
		slog.ErrorContext(ctx, "Failed to publish transaction event",
			"transaction_id", created.ID, "error", err)
		// Don't fail the movement - it is committed
	}
	return created, nil
}

// plan reads the affected accounts and budgets and computes every balance
// change and budget charge. Rates are fetched here, before the unit of work
// begins, and one snapshot serves every conversion of the movement.
func (s *LedgerService) plan(ctx context.Context, m Movement, tx core.Transaction) (storage.MovementWrite, error) {
	var from, to *core.Account
	if m.FromAccountID != 0 {
		a, err := s.storage.GetAccount(ctx, m.OwnerID, m.FromAccountID)
		if err != nil {
			return storage.MovementWrite{}, err
		}
		from = &a
	}
	if m.ToAccountID != 0 {
		a, err := s.storage.GetAccount(ctx, m.OwnerID, m.ToAccountID)
		if err != nil {
			return storage.MovementWrite{}, err
		}
		to = &a
	}

	var budgets []core.Budget
	if m.Type == core.TransactionExpense && len(m.CategoryIDs) > 0 {
		var err error
		budgets, err = s.storage.ListBudgetsForCategories(ctx, m.OwnerID, m.CategoryIDs)
		if err != nil {
			return storage.MovementWrite{}, err
		}
	}

	needsRates := (from != nil && from.Currency != m.Amount.Currency) ||
		(to != nil && to.Currency != m.Amount.Currency)
	for _, b := range budgets {
		if b.Currency() != m.Amount.Currency {
			needsRates = true
		}
	}
	var table currency.Table
	if needsRates {
		var err error
		if table, err = s.snapshot(ctx); err != nil {
			return storage.MovementWrite{}, err
		}
	}

	write := storage.MovementWrite{Transaction: tx, Advance: m.Advance}
	if from != nil {
		amt, err := currency.ConvertMoney(m.Amount, from.Currency, table)
		if err != nil {
			return storage.MovementWrite{}, err
		}
		write.Balances = append(write.Balances, storage.BalanceChange{AccountID: from.ID, Delta: -amt.Minor})
	}
	if to != nil {
		amt, err := currency.ConvertMoney(m.Amount, to.Currency, table)
		if err != nil {
			return storage.MovementWrite{}, err
		}
		write.Balances = append(write.Balances, storage.BalanceChange{AccountID: to.ID, Delta: amt.Minor})
	}
	for _, b := range budgets {
		amt, err := currency.ConvertMoney(m.Amount, b.Currency(), table)
		if err != nil {
			return storage.MovementWrite{}, err
		}
		write.BudgetCharges = append(write.BudgetCharges, storage.BudgetCharge{BudgetID: b.ID, Amount: amt})
	}
	return write, nil
}

func (s *LedgerService) snapshot(ctx context.Context) (currency.Table, error) {
	return rateSnapshot(ctx, s.rates)
}

func rateSnapshot(ctx context.Context, rates currency.Provider) (currency.Table, error) {
	if rates == nil {
		return currency.Table{}, core.ErrRateUnavailable
	}
	t, err := rates.Rates(ctx)
	if err != nil {
		if errors.Is(err, core.ErrRateUnavailable) {
			return currency.Table{}, err
		}
		return currency.Table{}, &core.Error{
			Kind:    core.KindRate,
			Code:    core.ErrRateUnavailable.Code,
			Message: "load exchange rates",
			Err:     err,
		}
	}
	return t, nil
}

func (s *LedgerService) publish(ctx context.Context, tx core.Transaction) error {
	if s.publisher == nil {
		slog.DebugContext(ctx, "Event publisher not available, skipping transaction event")
		return nil
	}
	if err := s.publisher.PublishTransactionCreated(ctx, tx); err != nil {
		return fmt.Errorf("publish transaction %d: %w", tx.ID, err)
	}
	return nil
}
