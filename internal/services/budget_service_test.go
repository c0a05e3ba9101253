package services

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"conti/internal/core"
	"conti/internal/currency"
)

func TestReconcileCurrencyPreservesValue(t *testing.T) {
	table := eurTable()
	tests := []struct {
		name      string
		spent     core.Money
		limit     core.Money
		to        core.Currency
		wantSpent int64
		wantLimit int64
	}{
		{"USD to EUR", core.NewMoney(10000, "USD"), core.NewMoney(50000, "USD"), "EUR", 9000, 45000},
		{"EUR to USD", core.NewMoney(9000, "EUR"), core.NewMoney(45000, "EUR"), "USD", 10000, 50000},
		{"zero spend", core.NewMoney(0, "EUR"), core.NewMoney(100, "EUR"), "USD", 0, 111},
		{"same currency", core.NewMoney(1234, "EUR"), core.NewMoney(5000, "EUR"), "EUR", 1234, 5000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := core.Budget{Name: "Food", Limit: tt.limit, Spent: tt.spent}
			got, err := ReconcileCurrency(b, tt.to, table)
			if err != nil {
				t.Fatalf("ReconcileCurrency: %v", err)
			}
			if got.Spent.Minor != tt.wantSpent || got.Spent.Currency != tt.to {
				t.Errorf("spent = %s, want %d %s", got.Spent, tt.wantSpent, tt.to)
			}
			if got.Limit.Minor != tt.wantLimit || got.Limit.Currency != tt.to {
				t.Errorf("limit = %s, want %d %s", got.Limit, tt.wantLimit, tt.to)
			}

			// Value in the base currency survives within one minor unit.
			before, _ := table.Rate(tt.spent.Currency)
			after, _ := table.Rate(tt.to)
			valueBefore := tt.spent.Decimal().Mul(before)
			valueAfter := got.Spent.Decimal().Mul(after)
			if valueBefore.Sub(valueAfter).Abs().GreaterThan(decimal.RequireFromString("0.01")) {
				t.Errorf("value drifted: %s -> %s", valueBefore, valueAfter)
			}
		})
	}
}

func TestReconcileCurrencyMissingRate(t *testing.T) {
	b := core.Budget{Name: "Food", Limit: core.NewMoney(100, "EUR"), Spent: core.NewMoney(50, "EUR")}
	if _, err := ReconcileCurrency(b, "GBP", eurTable()); !errors.Is(err, core.ErrRateUnavailable) {
		t.Fatalf("error = %v, want rate unavailable", err)
	}
}

func TestUpdateBudget(t *testing.T) {
	ctx := context.Background()

	newBudget := func(t *testing.T, svc *BudgetService) core.Budget {
		t.Helper()
		b, err := svc.CreateBudget(ctx, core.Budget{
			OwnerID:     1,
			Name:        "Food",
			Limit:       core.NewMoney(50000, "USD"),
			CategoryIDs: []int64{3},
		})
		if err != nil {
			t.Fatalf("CreateBudget: %v", err)
		}
		return b
	}

	t.Run("currency change converts spend and limit", func(t *testing.T) {
		repo := openRepo(t)
		svc := NewBudgetService(repo, &fakeRates{table: eurTable()})
		ledger := NewLedgerService(repo, nil, nil)
		acct := mustAccount(t, repo, 1, "Card", "USD")
		b := newBudget(t, svc)
		if _, err := ledger.CreateExpense(ctx, 1, core.NewMoney(10000, "USD"), acct.ID, []int64{3}, "food"); err != nil {
			t.Fatalf("CreateExpense: %v", err)
		}

		eur := core.Currency("EUR")
		got, err := svc.UpdateBudget(ctx, 1, b.ID, BudgetUpdate{Currency: &eur})
		if err != nil {
			t.Fatalf("UpdateBudget: %v", err)
		}
		if got.Spent != core.NewMoney(9000, "EUR") {
			t.Errorf("spent = %s, want 90.00 EUR", got.Spent)
		}
		if got.Limit != core.NewMoney(45000, "EUR") {
			t.Errorf("limit = %s, want 450.00 EUR", got.Limit)
		}
		if len(got.CategoryIDs) != 1 || got.CategoryIDs[0] != 3 {
			t.Errorf("categories = %v, want [3]", got.CategoryIDs)
		}
	})

	t.Run("explicit limit wins over conversion", func(t *testing.T) {
		repo := openRepo(t)
		svc := NewBudgetService(repo, &fakeRates{table: eurTable()})
		b := newBudget(t, svc)

		eur := core.Currency("EUR")
		limit := core.NewMoney(30000, "EUR")
		got, err := svc.UpdateBudget(ctx, 1, b.ID, BudgetUpdate{Currency: &eur, Limit: &limit})
		if err != nil {
			t.Fatalf("UpdateBudget: %v", err)
		}
		if got.Limit != limit {
			t.Errorf("limit = %s, want %s", got.Limit, limit)
		}
	})

	t.Run("limit in wrong currency", func(t *testing.T) {
		repo := openRepo(t)
		svc := NewBudgetService(repo, &fakeRates{table: eurTable()})
		b := newBudget(t, svc)

		limit := core.NewMoney(30000, "EUR")
		if _, err := svc.UpdateBudget(ctx, 1, b.ID, BudgetUpdate{Limit: &limit}); !errors.Is(err, core.ErrValidation) {
			t.Fatalf("error = %v, want validation", err)
		}
	})

	t.Run("missing rate aborts the whole update", func(t *testing.T) {
		repo := openRepo(t)
		svc := NewBudgetService(repo, &fakeRates{table: eurTable()})
		b := newBudget(t, svc)

		gbp := core.Currency("GBP")
		name := "Groceries"
		_, err := svc.UpdateBudget(ctx, 1, b.ID, BudgetUpdate{
			Name:        &name,
			Currency:    &gbp,
			CategoryIDs: []int64{9},
		})
		if !errors.Is(err, core.ErrRateUnavailable) {
			t.Fatalf("error = %v, want rate unavailable", err)
		}

		got, err := svc.GetBudget(ctx, 1, b.ID)
		if err != nil {
			t.Fatalf("GetBudget: %v", err)
		}
		if got.Name != "Food" || got.Currency() != "USD" {
			t.Errorf("budget changed: %+v", got)
		}
		if len(got.CategoryIDs) != 1 || got.CategoryIDs[0] != 3 {
			t.Errorf("categories = %v, want [3]", got.CategoryIDs)
		}
	})

	t.Run("category change needs no rates", func(t *testing.T) {
		repo := openRepo(t)
		rates := &fakeRates{}
		svc := NewBudgetService(repo, rates)
		b := newBudget(t, svc)

		got, err := svc.UpdateBudget(ctx, 1, b.ID, BudgetUpdate{CategoryIDs: []int64{4, 5}})
		if err != nil {
			t.Fatalf("UpdateBudget: %v", err)
		}
		if len(got.CategoryIDs) != 2 {
			t.Errorf("categories = %v, want [4 5]", got.CategoryIDs)
		}
		if rates.calls != 0 {
			t.Errorf("rate provider called %d times", rates.calls)
		}
	})

	t.Run("foreign budget", func(t *testing.T) {
		repo := openRepo(t)
		svc := NewBudgetService(repo, &fakeRates{table: eurTable()})
		b := newBudget(t, svc)

		name := "Mine"
		if _, err := svc.UpdateBudget(ctx, 2, b.ID, BudgetUpdate{Name: &name}); !errors.Is(err, core.ErrBudgetNotFound) {
			t.Fatalf("error = %v, want budget not found", err)
		}
	})
}

// interleavingRates runs hook on its first call, between the budget read and
// the budget write of a currency change.
type interleavingRates struct {
	table currency.Table
	hook  func()
	calls int
}

func (r *interleavingRates) Rates(ctx context.Context) (currency.Table, error) {
	r.calls++
	if r.calls == 1 && r.hook != nil {
		r.hook()
	}
	return r.table, nil
}

func TestUpdateBudgetKeepsConcurrentCharge(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t)
	ledger := NewLedgerService(repo, nil, nil)
	acct := mustAccount(t, repo, 1, "Card", "USD")

	rates := &interleavingRates{table: eurTable()}
	svc := NewBudgetService(repo, rates)
	b, err := svc.CreateBudget(ctx, core.Budget{
		OwnerID:     1,
		Name:        "Food",
		Limit:       core.NewMoney(50000, "USD"),
		CategoryIDs: []int64{3},
	})
	if err != nil {
		t.Fatalf("CreateBudget: %v", err)
	}
	if _, err := ledger.CreateExpense(ctx, 1, core.NewMoney(10000, "USD"), acct.ID, []int64{3}, "food"); err != nil {
		t.Fatalf("CreateExpense: %v", err)
	}
	rates.hook = func() {
		if _, err := ledger.CreateExpense(ctx, 1, core.NewMoney(900, "USD"), acct.ID, []int64{3}, "snack"); err != nil {
			t.Errorf("concurrent CreateExpense: %v", err)
		}
	}

	eur := core.Currency("EUR")
	got, err := svc.UpdateBudget(ctx, 1, b.ID, BudgetUpdate{Currency: &eur})
	if err != nil {
		t.Fatalf("UpdateBudget: %v", err)
	}
	// (100.00 + 9.00) USD at 0.90
	if got.Spent != core.NewMoney(9810, "EUR") {
		t.Errorf("spent = %s, want 98.10 EUR", got.Spent)
	}
	if rates.calls != 2 {
		t.Errorf("rate provider called %d times, want 2", rates.calls)
	}
}
