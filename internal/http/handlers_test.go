package http

import (
	"fmt"
	"net/http"
	"testing"
)

const (
	alice = int64(1)
	bob   = int64(2)
)

func (ts *testServer) createAccount(t *testing.T, owner int64, name, currency string) accountJSON {
	t.Helper()
	var a accountJSON
	rr := ts.do(t, http.MethodPost, "/api/accounts", owner, map[string]any{
		"name": name, "currency": currency,
	}, &a)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create account: status=%d body=%s", rr.Code, rr.Body.String())
	}
	return a
}

func (ts *testServer) getAccount(t *testing.T, owner, id int64) accountJSON {
	t.Helper()
	var a accountJSON
	rr := ts.do(t, http.MethodGet, fmt.Sprintf("/api/accounts/%d", id), owner, nil, &a)
	if rr.Code != http.StatusOK {
		t.Fatalf("get account %d: status=%d body=%s", id, rr.Code, rr.Body.String())
	}
	return a
}

func TestAccountLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)

	created := ts.createAccount(t, alice, "  Checking  ", "eur")
	if created.ID == 0 || created.Name != "Checking" || created.Currency != "EUR" || created.Kind != "default" {
		t.Fatalf("unexpected account: %+v", created)
	}
	if created.Balance.Minor != 0 || created.Balance.Amount != "0.00" {
		t.Errorf("new balance = %+v, want zero", created.Balance)
	}

	var list []accountJSON
	ts.do(t, http.MethodGet, "/api/accounts", alice, nil, &list)
	if len(list) != 1 || list[0].ID != created.ID {
		t.Errorf("alice accounts = %+v", list)
	}
	var others []accountJSON
	ts.do(t, http.MethodGet, "/api/accounts", bob, nil, &others)
	if len(others) != 0 {
		t.Errorf("bob sees %d accounts, want 0", len(others))
	}

	path := fmt.Sprintf("/api/accounts/%d", created.ID)
	if rr := ts.do(t, http.MethodGet, path, bob, nil, nil); rr.Code != http.StatusNotFound {
		t.Errorf("foreign account status=%d, want 404", rr.Code)
	}
	if rr := ts.do(t, http.MethodDelete, path, alice, nil, nil); rr.Code != http.StatusNoContent {
		t.Fatalf("delete status=%d body=%s", rr.Code, rr.Body.String())
	}
	if rr := ts.do(t, http.MethodGet, path, alice, nil, nil); rr.Code != http.StatusNotFound {
		t.Errorf("deleted account status=%d, want 404", rr.Code)
	}
}

func TestCreateAccountValidation(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		name     string
		body     any
		wantCode int
		wantErr  string
	}{
		{"malformed json", `{"name":`, http.StatusBadRequest, ""},
		{"unknown field", `{"name":"A","currency":"EUR","colour":"red"}`, http.StatusBadRequest, ""},
		{"empty name", map[string]any{"name": " ", "currency": "EUR"}, http.StatusUnprocessableEntity, "EMPTY_NAME"},
		{"bad currency", map[string]any{"name": "A", "currency": "EURO"}, http.StatusUnprocessableEntity, "INVALID_CURRENCY"},
		{"bad kind", map[string]any{"name": "A", "currency": "EUR", "kind": "brokerage"}, http.StatusUnprocessableEntity, "INVALID_ACCOUNT_KIND"},
		{"target on default account", map[string]any{"name": "A", "currency": "EUR", "savings_target": "100"}, http.StatusUnprocessableEntity, ""},
		{"bad target date", map[string]any{"name": "A", "currency": "EUR", "kind": "savings", "target_date": "2025-13-01"}, http.StatusUnprocessableEntity, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body errorJSON
			rr := ts.do(t, http.MethodPost, "/api/accounts", alice, tt.body, &body)
			if rr.Code != tt.wantCode {
				t.Fatalf("status=%d, want %d (body=%s)", rr.Code, tt.wantCode, rr.Body.String())
			}
			if tt.wantErr != "" && body.Code != tt.wantErr {
				t.Errorf("code=%q, want %q", body.Code, tt.wantErr)
			}
			if body.RequestID == "" {
				t.Error("error body has no request_id")
			}
		})
	}
}

func TestSavingsAccount(t *testing.T) {
	ts := newTestServer(t, nil)

	var a accountJSON
	rr := ts.do(t, http.MethodPost, "/api/accounts", alice, map[string]any{
		"name": "Holiday", "currency": "EUR", "kind": "savings",
		"savings_target": "1500.50", "target_date": "2026-07-01",
	}, &a)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if a.SavingsTarget == nil || a.SavingsTarget.Minor != 150050 || a.TargetDate != "2026-07-01" {
		t.Errorf("unexpected savings fields: %+v", a)
	}
	if a.GoalReached {
		t.Error("new savings account reports its goal as reached")
	}

	rr = ts.do(t, http.MethodPost, "/api/incomes", alice, map[string]any{
		"amount": "1500.50", "currency": "EUR", "account_id": a.ID, "description": "Bonus",
	}, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("income status=%d body=%s", rr.Code, rr.Body.String())
	}
	got := ts.getAccount(t, alice, a.ID)
	if !got.GoalReached || got.GoalCompletedAt == nil {
		t.Errorf("funded account: goal_reached=%v goal_completed_at=%v", got.GoalReached, got.GoalCompletedAt)
	}
}

func TestTransfer(t *testing.T) {
	ts := newTestServer(t, nil)
	checking := ts.createAccount(t, alice, "Checking", "EUR")
	savings := ts.createAccount(t, alice, "Savings", "EUR")
	dollars := ts.createAccount(t, alice, "Dollars", "USD")
	foreign := ts.createAccount(t, bob, "Bob", "EUR")

	var tx transactionJSON
	rr := ts.do(t, http.MethodPost, "/api/transfers", alice, map[string]any{
		"amount": "12.34", "currency": "EUR",
		"from_account_id": checking.ID, "to_account_id": savings.ID,
		"description": "Monthly saving",
	}, &tx)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if tx.Type != "transfer" || tx.Amount.Minor != 1234 || *tx.FromAccountID != checking.ID || *tx.ToAccountID != savings.ID {
		t.Errorf("unexpected transaction: %+v", tx)
	}
	if got := ts.getAccount(t, alice, checking.ID).Balance.Minor; got != -1234 {
		t.Errorf("checking balance = %d, want -1234", got)
	}
	if got := ts.getAccount(t, alice, savings.ID).Balance.Minor; got != 1234 {
		t.Errorf("savings balance = %d, want 1234", got)
	}

	// 10.00 EUR is 12.50 USD.
	rr = ts.do(t, http.MethodPost, "/api/transfers", alice, map[string]any{
		"amount": "10", "currency": "EUR",
		"from_account_id": checking.ID, "to_account_id": dollars.ID,
	}, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("cross-currency status=%d body=%s", rr.Code, rr.Body.String())
	}
	if got := ts.getAccount(t, alice, dollars.ID).Balance; got.Minor != 1250 || got.Currency != "USD" {
		t.Errorf("dollar balance = %+v, want 1250 USD", got)
	}

	tests := []struct {
		name     string
		body     map[string]any
		wantCode int
	}{
		{"same account", map[string]any{"amount": "1", "currency": "EUR", "from_account_id": checking.ID, "to_account_id": checking.ID}, http.StatusUnprocessableEntity},
		{"zero amount", map[string]any{"amount": "0", "currency": "EUR", "from_account_id": checking.ID, "to_account_id": savings.ID}, http.StatusUnprocessableEntity},
		{"negative amount", map[string]any{"amount": "-5", "currency": "EUR", "from_account_id": checking.ID, "to_account_id": savings.ID}, http.StatusUnprocessableEntity},
		{"unknown account", map[string]any{"amount": "1", "currency": "EUR", "from_account_id": checking.ID, "to_account_id": 9999}, http.StatusNotFound},
		{"other owner's account", map[string]any{"amount": "1", "currency": "EUR", "from_account_id": checking.ID, "to_account_id": foreign.ID}, http.StatusNotFound},
		{"missing rate", map[string]any{"amount": "1", "currency": "GBP", "from_account_id": checking.ID, "to_account_id": savings.ID}, http.StatusFailedDependency},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := ts.do(t, http.MethodPost, "/api/transfers", alice, tt.body, nil)
			if rr.Code != tt.wantCode {
				t.Errorf("status=%d, want %d (body=%s)", rr.Code, tt.wantCode, rr.Body.String())
			}
		})
	}

	// Rejected movements leave balances untouched.
	if got := ts.getAccount(t, alice, checking.ID).Balance.Minor; got != -2234 {
		t.Errorf("checking balance after rejections = %d, want -2234", got)
	}
}

func TestIncomeAndExpense(t *testing.T) {
	ts := newTestServer(t, nil)
	acc := ts.createAccount(t, alice, "Main", "EUR")

	// 100.00 USD at 0.80 EUR per dollar.
	var income transactionJSON
	rr := ts.do(t, http.MethodPost, "/api/incomes", alice, map[string]any{
		"amount": "100.00", "currency": "USD", "account_id": acc.ID, "description": "Freelance",
	}, &income)
	if rr.Code != http.StatusCreated {
		t.Fatalf("income status=%d body=%s", rr.Code, rr.Body.String())
	}
	if income.Type != "income" || income.Amount.Currency != "USD" || income.Amount.Minor != 10000 || income.FromAccountID != nil {
		t.Errorf("unexpected income: %+v", income)
	}
	if got := ts.getAccount(t, alice, acc.ID).Balance.Minor; got != 8000 {
		t.Errorf("balance after income = %d, want 8000", got)
	}

	rr = ts.do(t, http.MethodPost, "/api/expenses", alice, map[string]any{
		"amount": "30.5", "currency": "EUR", "account_id": acc.ID, "category_ids": []int64{4},
	}, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expense status=%d body=%s", rr.Code, rr.Body.String())
	}
	if got := ts.getAccount(t, alice, acc.ID).Balance.Minor; got != 4950 {
		t.Errorf("balance after expense = %d, want 4950", got)
	}

	if rr := ts.do(t, http.MethodPost, "/api/expenses", alice, map[string]any{"amount": "1", "currency": "EUR"}, nil); rr.Code != http.StatusUnprocessableEntity {
		t.Errorf("expense without account status=%d, want 422", rr.Code)
	}

	var txs []transactionJSON
	ts.do(t, http.MethodGet, "/api/transactions?limit=1", alice, nil, &txs)
	if len(txs) != 1 {
		t.Fatalf("got %d transactions, want 1", len(txs))
	}
	ts.do(t, http.MethodGet, "/api/transactions", alice, nil, &txs)
	if len(txs) != 2 {
		t.Errorf("got %d transactions, want 2", len(txs))
	}
	ts.do(t, http.MethodGet, "/api/transactions", bob, nil, &txs)
	if len(txs) != 0 {
		t.Errorf("bob sees %d transactions, want 0", len(txs))
	}
}

func TestBudgets(t *testing.T) {
	ts := newTestServer(t, nil)
	acc := ts.createAccount(t, alice, "Main", "EUR")

	var b budgetJSON
	rr := ts.do(t, http.MethodPost, "/api/budgets", alice, map[string]any{
		"name": "Groceries", "limit": "100", "currency": "EUR", "category_ids": []int64{3},
	}, &b)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", rr.Code, rr.Body.String())
	}
	if b.Limit.Minor != 10000 || b.Spent.Minor != 0 || len(b.CategoryIDs) != 1 {
		t.Fatalf("unexpected budget: %+v", b)
	}
	path := fmt.Sprintf("/api/budgets/%d", b.ID)

	// Only expenses tagged with a linked category are charged.
	for _, cats := range [][]int64{{3}, {8}} {
		rr := ts.do(t, http.MethodPost, "/api/expenses", alice, map[string]any{
			"amount": "25", "currency": "EUR", "account_id": acc.ID, "category_ids": cats,
		}, nil)
		if rr.Code != http.StatusCreated {
			t.Fatalf("expense status=%d body=%s", rr.Code, rr.Body.String())
		}
	}
	ts.do(t, http.MethodGet, path, alice, nil, &b)
	if b.Spent.Minor != 2500 {
		t.Errorf("spent = %d, want 2500", b.Spent.Minor)
	}

	// Switching to USD converts spend and limit.
	rr = ts.do(t, http.MethodPatch, path, alice, map[string]any{"currency": "USD", "name": "Food"}, &b)
	if rr.Code != http.StatusOK {
		t.Fatalf("patch status=%d body=%s", rr.Code, rr.Body.String())
	}
	if b.Name != "Food" || b.Spent.Currency != "USD" || b.Spent.Minor != 3125 || b.Limit.Minor != 12500 {
		t.Errorf("reconciled budget: %+v", b)
	}

	// A bare limit is read in the current currency.
	rr = ts.do(t, http.MethodPatch, path, alice, map[string]any{"limit": "200", "category_ids": []int64{}}, &b)
	if rr.Code != http.StatusOK {
		t.Fatalf("patch limit status=%d body=%s", rr.Code, rr.Body.String())
	}
	if b.Limit.Minor != 20000 || b.Limit.Currency != "USD" || len(b.CategoryIDs) != 0 {
		t.Errorf("updated budget: %+v", b)
	}

	if rr := ts.do(t, http.MethodPatch, path, alice, map[string]any{"currency": "GBP"}, nil); rr.Code != http.StatusFailedDependency {
		t.Errorf("currency without rate status=%d, want 424", rr.Code)
	}
	ts.do(t, http.MethodGet, path, alice, nil, &b)
	if b.Spent.Currency != "USD" {
		t.Errorf("failed reconciliation changed the budget: %+v", b)
	}

	if rr := ts.do(t, http.MethodGet, path, bob, nil, nil); rr.Code != http.StatusNotFound {
		t.Errorf("foreign budget status=%d, want 404", rr.Code)
	}
	if rr := ts.do(t, http.MethodDelete, path, alice, nil, nil); rr.Code != http.StatusNoContent {
		t.Fatalf("delete status=%d", rr.Code)
	}
	var list []budgetJSON
	ts.do(t, http.MethodGet, "/api/budgets", alice, nil, &list)
	if len(list) != 0 {
		t.Errorf("deleted budget still listed: %+v", list)
	}
}

func TestSchedules(t *testing.T) {
	ts := newTestServer(t, nil)
	acc := ts.createAccount(t, alice, "Main", "EUR")

	var s scheduleJSON
	rr := ts.do(t, http.MethodPost, "/api/schedules", alice, map[string]any{
		"account_id": acc.ID, "kind": "bill", "description": "Rent",
		"amount": "750", "currency": "EUR", "cadence": "monthly",
		"start_date": "2025-01-31", "email_notification": true,
	}, &s)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", rr.Code, rr.Body.String())
	}
	if !s.Active || !s.AutomaticExecution || s.NextExecution == nil || s.StartDate != "2025-01-31" {
		t.Errorf("unexpected schedule: %+v", s)
	}
	if s.NotificationLeadDays != 3 {
		t.Errorf("monthly lead days = %d, want 3", s.NotificationLeadDays)
	}
	path := fmt.Sprintf("/api/schedules/%d", s.ID)

	rr = ts.do(t, http.MethodPatch, path, alice, map[string]any{
		"active": false, "automatic_execution": false, "notification_lead_days": 7,
	}, &s)
	if rr.Code != http.StatusOK {
		t.Fatalf("patch status=%d body=%s", rr.Code, rr.Body.String())
	}
	if s.Active || s.AutomaticExecution || s.NotificationLeadDays != 7 {
		t.Errorf("patched schedule: %+v", s)
	}
	ts.do(t, http.MethodPatch, path, alice, map[string]any{"clear_lead_days": true, "active": true}, &s)
	if !s.Active || s.NotificationLeadDays != 3 {
		t.Errorf("resumed schedule: %+v", s)
	}

	var runs []runJSON
	if rr := ts.do(t, http.MethodGet, path+"/runs", alice, nil, &runs); rr.Code != http.StatusOK || len(runs) != 0 {
		t.Errorf("runs status=%d len=%d", rr.Code, len(runs))
	}

	var list []scheduleJSON
	ts.do(t, http.MethodGet, "/api/schedules", alice, nil, &list)
	if len(list) != 1 {
		t.Errorf("got %d schedules, want 1", len(list))
	}
	if rr := ts.do(t, http.MethodGet, path, bob, nil, nil); rr.Code != http.StatusNotFound {
		t.Errorf("foreign schedule status=%d, want 404", rr.Code)
	}
	if rr := ts.do(t, http.MethodDelete, path, alice, nil, nil); rr.Code != http.StatusNoContent {
		t.Fatalf("delete status=%d", rr.Code)
	}
	if rr := ts.do(t, http.MethodGet, path, alice, nil, nil); rr.Code != http.StatusNotFound {
		t.Errorf("deleted schedule status=%d, want 404", rr.Code)
	}
}

func TestCreateScheduleValidation(t *testing.T) {
	ts := newTestServer(t, nil)
	acc := ts.createAccount(t, alice, "Main", "EUR")

	base := func(overrides map[string]any) map[string]any {
		body := map[string]any{
			"account_id": acc.ID, "kind": "income", "description": "Salary",
			"amount": "2000", "currency": "EUR", "cadence": "monthly", "start_date": "2025-03-01",
		}
		for k, v := range overrides {
			body[k] = v
		}
		return body
	}

	tests := []struct {
		name     string
		body     map[string]any
		wantCode int
	}{
		{"valid", base(nil), http.StatusCreated},
		{"unknown kind", base(map[string]any{"kind": "gift"}), http.StatusUnprocessableEntity},
		{"unknown cadence", base(map[string]any{"cadence": "fortnightly"}), http.StatusUnprocessableEntity},
		{"custom without interval", base(map[string]any{"cadence": "custom"}), http.StatusUnprocessableEntity},
		{"custom with interval", base(map[string]any{"cadence": "custom", "interval_days": 10}), http.StatusCreated},
		{"end before start", base(map[string]any{"end_date": "2025-02-01"}), http.StatusUnprocessableEntity},
		{"bad start date", base(map[string]any{"start_date": "01/03/2025"}), http.StatusUnprocessableEntity},
		{"bad timezone", base(map[string]any{"timezone": "Mars/Olympus"}), http.StatusUnprocessableEntity},
		{"lead days out of range", base(map[string]any{"notification_lead_days": 400}), http.StatusUnprocessableEntity},
		{"missing account", base(map[string]any{"account_id": 9999}), http.StatusNotFound},
		{"empty description", base(map[string]any{"description": "  "}), http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := ts.do(t, http.MethodPost, "/api/schedules", alice, tt.body, nil)
			if rr.Code != tt.wantCode {
				t.Errorf("status=%d, want %d (body=%s)", rr.Code, tt.wantCode, rr.Body.String())
			}
		})
	}
}

func TestInvalidPathID(t *testing.T) {
	ts := newTestServer(t, nil)
	for _, path := range []string{"/api/accounts/abc", "/api/budgets/-1", "/api/schedules/0/runs"} {
		if rr := ts.do(t, http.MethodGet, path, alice, nil, nil); rr.Code != http.StatusBadRequest {
			t.Errorf("GET %s status=%d, want 400", path, rr.Code)
		}
	}
}
