package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"conti/internal/core"
	"conti/internal/currency"
	"conti/internal/storage"
)

type fakeRates struct {
	table currency.Table
	err   error
	calls int
}

func (f *fakeRates) Rates(ctx context.Context) (currency.Table, error) {
	f.calls++
	if f.err != nil {
		return currency.Table{}, f.err
	}
	return f.table, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []core.Transaction
	err    error
}

func (f *fakePublisher) PublishTransactionCreated(ctx context.Context, tx core.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, tx)
	return f.err
}

// eurTable values one USD at 0.90 EUR. GBP is deliberately absent.
func eurTable() currency.Table {
	return currency.NewTable("EUR", map[core.Currency]decimal.Decimal{
		"USD": decimal.RequireFromString("0.9"),
	}, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
}

func openRepo(t *testing.T) *storage.SQLiteRepository {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "conti.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() {
		_ = repo.Close()
	})
	return repo
}

func mustAccount(t *testing.T, repo *storage.SQLiteRepository, owner int64, name string, c core.Currency) core.Account {
	t.Helper()
	a, err := repo.CreateAccount(context.Background(), core.Account{
		OwnerID:  owner,
		Name:     name,
		Currency: c,
		Kind:     core.AccountDefault,
	})
	if err != nil {
		t.Fatalf("create account %s: %v", name, err)
	}
	return a
}

func balanceOf(t *testing.T, repo *storage.SQLiteRepository, owner, id int64) int64 {
	t.Helper()
	a, err := repo.GetAccount(context.Background(), owner, id)
	if err != nil {
		t.Fatalf("get account %d: %v", id, err)
	}
	return a.Balance.Minor
}

func txCount(t *testing.T, repo *storage.SQLiteRepository, owner int64) int {
	t.Helper()
	txs, err := repo.ListTransactions(context.Background(), owner, 500)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	return len(txs)
}

func TestLedgerTransferConservesBalances(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t)
	pub := &fakePublisher{}
	ledger := NewLedgerService(repo, &fakeRates{table: eurTable()}, pub)

	a := mustAccount(t, repo, 1, "Checking", "EUR")
	b := mustAccount(t, repo, 1, "Cash", "EUR")

	if _, err := ledger.CreateIncome(ctx, 1, core.NewMoney(10000, "EUR"), a.ID, nil, "Salary"); err != nil {
		t.Fatalf("CreateIncome: %v", err)
	}

	transfers := []int64{2500, 1, 7499}
	for _, amt := range transfers {
		if _, err := ledger.CreateTransfer(ctx, 1, core.NewMoney(amt, "EUR"), a.ID, b.ID, "move"); err != nil {
			t.Fatalf("CreateTransfer(%d): %v", amt, err)
		}
		total := balanceOf(t, repo, 1, a.ID) + balanceOf(t, repo, 1, b.ID)
		if total != 10000 {
			t.Fatalf("total after transfer of %d = %d, want 10000", amt, total)
		}
	}
	if got := balanceOf(t, repo, 1, b.ID); got != 10000 {
		t.Errorf("destination balance = %d, want 10000", got)
	}
	if len(pub.events) != 4 {
		t.Errorf("published %d events, want 4", len(pub.events))
	}
}

func TestLedgerSingleAccountMovements(t *testing.T) {
	tests := []struct {
		name      string
		apply     func(l *LedgerService, acct int64) (core.Transaction, error)
		wantDelta int64
	}{
		{
			name: "expense",
			apply: func(l *LedgerService, acct int64) (core.Transaction, error) {
				return l.CreateExpense(context.Background(), 1, core.NewMoney(1250, "EUR"), acct, nil, "Groceries")
			},
			wantDelta: -1250,
		},
		{
			name: "income",
			apply: func(l *LedgerService, acct int64) (core.Transaction, error) {
				return l.CreateIncome(context.Background(), 1, core.NewMoney(300000, "EUR"), acct, nil, "Salary")
			},
			wantDelta: 300000,
		},
		{
			name: "expense in foreign currency",
			apply: func(l *LedgerService, acct int64) (core.Transaction, error) {
				return l.CreateExpense(context.Background(), 1, core.NewMoney(1000, "USD"), acct, nil, "Book")
			},
			wantDelta: -900,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := openRepo(t)
			ledger := NewLedgerService(repo, &fakeRates{table: eurTable()}, nil)
			acct := mustAccount(t, repo, 1, "Checking", "EUR")
			other := mustAccount(t, repo, 1, "Untouched", "EUR")

			tx, err := tt.apply(ledger, acct.ID)
			if err != nil {
				t.Fatalf("apply: %v", err)
			}
			if tx.ID == 0 {
				t.Error("expected transaction id")
			}
			if got := balanceOf(t, repo, 1, acct.ID); got != tt.wantDelta {
				t.Errorf("balance = %d, want %d", got, tt.wantDelta)
			}
			if got := balanceOf(t, repo, 1, other.ID); got != 0 {
				t.Errorf("other balance = %d, want 0", got)
			}
			if got := txCount(t, repo, 1); got != 1 {
				t.Errorf("transactions = %d, want 1", got)
			}
		})
	}
}

func TestLedgerRejectsWithoutSideEffects(t *testing.T) {
	tests := []struct {
		name    string
		rates   *fakeRates
		apply   func(l *LedgerService, a, b int64) error
		wantErr error
	}{
		{
			name:  "zero amount",
			rates: &fakeRates{table: eurTable()},
			apply: func(l *LedgerService, a, b int64) error {
				_, err := l.CreateExpense(context.Background(), 1, core.NewMoney(0, "EUR"), a, nil, "x")
				return err
			},
			wantErr: core.ErrInvalidAmount,
		},
		{
			name:  "negative amount",
			rates: &fakeRates{table: eurTable()},
			apply: func(l *LedgerService, a, b int64) error {
				_, err := l.CreateTransfer(context.Background(), 1, core.NewMoney(-5, "EUR"), a, b, "x")
				return err
			},
			wantErr: core.ErrInvalidAmount,
		},
		{
			name:  "transfer to same account",
			rates: &fakeRates{table: eurTable()},
			apply: func(l *LedgerService, a, b int64) error {
				_, err := l.CreateTransfer(context.Background(), 1, core.NewMoney(100, "EUR"), a, a, "x")
				return err
			},
			wantErr: core.ErrSameAccount,
		},
		{
			name:  "account of another owner",
			rates: &fakeRates{table: eurTable()},
			apply: func(l *LedgerService, a, b int64) error {
				_, err := l.CreateTransfer(context.Background(), 2, core.NewMoney(100, "EUR"), a, b, "x")
				return err
			},
			wantErr: core.ErrAccountNotFound,
		},
		{
			name:  "unknown account",
			rates: &fakeRates{table: eurTable()},
			apply: func(l *LedgerService, a, b int64) error {
				_, err := l.CreateTransfer(context.Background(), 1, core.NewMoney(100, "EUR"), a, 9999, "x")
				return err
			},
			wantErr: core.ErrAccountNotFound,
		},
		{
			name:  "currency missing from table",
			rates: &fakeRates{table: eurTable()},
			apply: func(l *LedgerService, a, b int64) error {
				_, err := l.CreateExpense(context.Background(), 1, core.NewMoney(100, "GBP"), a, nil, "x")
				return err
			},
			wantErr: core.ErrRateUnavailable,
		},
		{
			name:  "rate provider down",
			rates: &fakeRates{err: errors.New("connection refused")},
			apply: func(l *LedgerService, a, b int64) error {
				_, err := l.CreateExpense(context.Background(), 1, core.NewMoney(100, "USD"), a, nil, "x")
				return err
			},
			wantErr: core.ErrRateUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := openRepo(t)
			pub := &fakePublisher{}
			ledger := NewLedgerService(repo, tt.rates, pub)
			a := mustAccount(t, repo, 1, "A", "EUR")
			b := mustAccount(t, repo, 1, "B", "EUR")

			err := tt.apply(ledger, a.ID, b.ID)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if balanceOf(t, repo, 1, a.ID) != 0 || balanceOf(t, repo, 1, b.ID) != 0 {
				t.Error("balances changed on failed movement")
			}
			if got := txCount(t, repo, 1); got != 0 {
				t.Errorf("transactions = %d, want 0", got)
			}
			if len(pub.events) != 0 {
				t.Errorf("published %d events for a failed movement", len(pub.events))
			}
		})
	}
}

func TestLedgerSameCurrencySkipsRates(t *testing.T) {
	repo := openRepo(t)
	rates := &fakeRates{err: errors.New("must not be called")}
	ledger := NewLedgerService(repo, rates, nil)
	a := mustAccount(t, repo, 1, "A", "EUR")

	if _, err := ledger.CreateIncome(context.Background(), 1, core.NewMoney(100, "EUR"), a.ID, nil, "x"); err != nil {
		t.Fatalf("CreateIncome: %v", err)
	}
	if rates.calls != 0 {
		t.Errorf("rate provider called %d times", rates.calls)
	}
}

func TestLedgerCompletesSavingsGoal(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t)
	ledger := NewLedgerService(repo, &fakeRates{table: eurTable()}, nil)

	target := core.NewMoney(100000, "EUR")
	savings, err := repo.CreateAccount(ctx, core.Account{
		OwnerID:       1,
		Name:          "Holiday",
		Currency:      "EUR",
		Kind:          core.AccountSavings,
		SavingsTarget: &target,
	})
	if err != nil {
		t.Fatalf("create savings account: %v", err)
	}
	checking := mustAccount(t, repo, 1, "Checking", "EUR")

	if _, err := ledger.CreateIncome(ctx, 1, core.NewMoney(90000, "EUR"), savings.ID, nil, "deposit"); err != nil {
		t.Fatalf("CreateIncome: %v", err)
	}
	got, _ := repo.GetAccount(ctx, 1, savings.ID)
	if got.GoalCompletedAt != nil {
		t.Fatal("goal completed below target")
	}

	if _, err := ledger.CreateIncome(ctx, 1, core.NewMoney(200000, "EUR"), checking.ID, nil, "salary"); err != nil {
		t.Fatalf("CreateIncome: %v", err)
	}
	if _, err := ledger.CreateTransfer(ctx, 1, core.NewMoney(15000, "EUR"), checking.ID, savings.ID, "top up"); err != nil {
		t.Fatalf("CreateTransfer: %v", err)
	}

	got, err = repo.GetAccount(ctx, 1, savings.ID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if got.Balance.Minor != 105000 {
		t.Errorf("balance = %d, want 105000", got.Balance.Minor)
	}
	if got.GoalCompletedAt == nil {
		t.Error("expected goal to be marked completed")
	}
}

func TestLedgerChargesLinkedBudgets(t *testing.T) {
	ctx := context.Background()
	repo := openRepo(t)
	ledger := NewLedgerService(repo, &fakeRates{table: eurTable()}, nil)
	budgets := NewBudgetService(repo, &fakeRates{table: eurTable()})

	acct := mustAccount(t, repo, 1, "Card", "USD")
	food, err := budgets.CreateBudget(ctx, core.Budget{
		OwnerID:     1,
		Name:        "Food",
		Limit:       core.NewMoney(50000, "EUR"),
		CategoryIDs: []int64{7},
	})
	if err != nil {
		t.Fatalf("CreateBudget: %v", err)
	}
	travel, err := budgets.CreateBudget(ctx, core.Budget{
		OwnerID:     1,
		Name:        "Travel",
		Limit:       core.NewMoney(50000, "EUR"),
		CategoryIDs: []int64{8},
	})
	if err != nil {
		t.Fatalf("CreateBudget: %v", err)
	}

	if _, err := ledger.CreateExpense(ctx, 1, core.NewMoney(2000, "USD"), acct.ID, []int64{7}, "Dinner"); err != nil {
		t.Fatalf("CreateExpense: %v", err)
	}
	if _, err := ledger.CreateIncome(ctx, 1, core.NewMoney(2000, "USD"), acct.ID, []int64{7}, "Refund"); err != nil {
		t.Fatalf("CreateIncome: %v", err)
	}

	gotFood, _ := budgets.GetBudget(ctx, 1, food.ID)
	if gotFood.Spent.Minor != 1800 || gotFood.Spent.Currency != "EUR" {
		t.Errorf("food spent = %s, want 18.00 EUR", gotFood.Spent)
	}
	gotTravel, _ := budgets.GetBudget(ctx, 1, travel.ID)
	if gotTravel.Spent.Minor != 0 {
		t.Errorf("travel spent = %s, want 0", gotTravel.Spent)
	}
	if got := balanceOf(t, repo, 1, acct.ID); got != 0 {
		t.Errorf("card balance = %d, want 0", got)
	}
}

func TestLedgerPublishFailureIsNotFatal(t *testing.T) {
	repo := openRepo(t)
	pub := &fakePublisher{err: errors.New("broker down")}
	ledger := NewLedgerService(repo, nil, pub)
	a := mustAccount(t, repo, 1, "A", "EUR")

	tx, err := ledger.CreateIncome(context.Background(), 1, core.NewMoney(100, "EUR"), a.ID, nil, "x")
	if err != nil {
		t.Fatalf("CreateIncome: %v", err)
	}
	if tx.ID == 0 {
		t.Error("expected committed transaction")
	}
	if got := balanceOf(t, repo, 1, a.ID); got != 100 {
		t.Errorf("balance = %d, want 100", got)
	}
}
