package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"conti/internal/core"
	"conti/internal/currency"
	"conti/internal/storage"
)

// BudgetUpdate carries the fields a caller wants to change. Nil fields are
// left as they are.
type BudgetUpdate struct {
	Name     *string
	Limit    *core.Money
	Currency *core.Currency
	// CategoryIDs, when non-nil, replaces every category link.
	CategoryIDs []int64
}

type BudgetService struct {
	storage *storage.SQLiteRepository
	rates   currency.Provider
}

func NewBudgetService(storage *storage.SQLiteRepository, rates currency.Provider) *BudgetService {
	return &BudgetService{storage: storage, rates: rates}
}

func (s *BudgetService) CreateBudget(ctx context.Context, b core.Budget) (core.Budget, error) {
	b.Name = strings.TrimSpace(b.Name)
	b.Spent = core.NewMoney(0, b.Limit.Currency)
	if err := b.Validate(); err != nil {
		return core.Budget{}, err
	}
	return s.storage.CreateBudget(ctx, b)
}

func (s *BudgetService) GetBudget(ctx context.Context, ownerID, id int64) (core.Budget, error) {
	return s.storage.GetBudget(ctx, ownerID, id)
}

func (s *BudgetService) ListBudgets(ctx context.Context, ownerID int64) ([]core.Budget, error) {
	return s.storage.ListBudgets(ctx, ownerID)
}

func (s *BudgetService) DeleteBudget(ctx context.Context, ownerID, id int64) error {
	return s.storage.SoftDeleteBudget(ctx, ownerID, id)
}

// UpdateBudget applies upd. A currency change re-expresses the accumulated
// spend, and the limit unless a new one is given, in the new currency; when
// no rate is available the update is rejected and nothing changes.
func (s *BudgetService) UpdateBudget(ctx context.Context, ownerID, id int64, upd BudgetUpdate) (core.Budget, error) {
	// A charge committed between the read and the write fails the write
	// with ErrConcurrentUpdate; recompute once from fresh state.
	var (
		updated core.Budget
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

func (s *BudgetService) applyUpdate(ctx context.Context, ownerID, id int64, upd BudgetUpdate) (core.Budget, error) {
	b, err := s.storage.GetBudget(ctx, ownerID, id)
	if err != nil {
		return core.Budget{}, err
	}
	prior := b.Spent

	if upd.Name != nil {
		b.Name = strings.TrimSpace(*upd.Name)
	}

	target := b.Currency()
	if upd.Currency != nil {
		target = *upd.Currency
	}
	if upd.Limit != nil && upd.Limit.Currency != target {
		return core.Budget{}, core.Validationf("limit must be expressed in %s", target)
	}

	if target != b.Currency() {
		table, err := rateSnapshot(ctx, s.rates)
		if err != nil {
			return core.Budget{}, err
		}
		reconciled, err := ReconcileCurrency(b, target, table)
		if err != nil {
			return core.Budget{}, err
		}
		slog.InfoContext(ctx, "Budget currency reconciled",
			"budget_id", b.ID,
			"from", b.Currency(),
			"to", target,
			"spent_before", b.Spent.String(),
			"spent_after", reconciled.Spent.String())
		b = reconciled
	}
	if upd.Limit != nil {
		b.Limit = *upd.Limit
	}

	if err := b.Validate(); err != nil {
		return core.Budget{}, err
	}
	return s.storage.UpdateBudget(ctx, b, prior, upd.CategoryIDs)
}

// ReconcileCurrency returns b with its limit and accumulated spend converted
// into to using one rate snapshot.
func ReconcileCurrency(b core.Budget, to core.Currency, table currency.Table) (core.Budget, error) {
	if err := to.Validate(); err != nil {
		return core.Budget{}, err
	}
	spent, err := currency.ConvertMoney(b.Spent, to, table)
	if err != nil {
		return core.Budget{}, err
	}
	limit, err := currency.ConvertMoney(b.Limit, to, table)
	if err != nil {
		return core.Budget{}, err
	}
	b.Spent = spent
	b.Limit = limit
	return b, nil
}
