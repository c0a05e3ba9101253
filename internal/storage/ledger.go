package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"conti/internal/core"
)

// BalanceChange adds Delta minor units, in the account's own currency, to
// an account balance.
type BalanceChange struct {
	AccountID int64
	Delta     int64
}

// BudgetCharge adds Amount to the spend of a budget. Amount must be in the
// budget currency the caller observed; a budget whose currency changed in
// the meantime fails the whole movement with core.ErrConcurrentUpdate.
type BudgetCharge struct {
	BudgetID int64
	Amount   core.Money
}

// ScheduleAdvance moves a schedule from the occurrence being executed to the
// following one. The move only happens when the stored next execution still
// equals Expected. An inactive advance clears the next execution.
type ScheduleAdvance struct {
	ScheduleID int64
	Expected   time.Time
	Next       time.Time
	Active     bool
}

// MovementWrite is everything one money movement changes.
type MovementWrite struct {
	Transaction   core.Transaction
	Balances      []BalanceChange
	BudgetCharges []BudgetCharge
	Advance       *ScheduleAdvance
}

// RecordMovement applies w atomically: the transaction row, its category
// links, every balance change, savings-goal completion, budget charges and
// the optional schedule advance either all commit or none do.
func (r *SQLiteRepository) RecordMovement(ctx context.Context, w MovementWrite) (core.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return core.Transaction{}, err
	}
	t := w.Transaction
	if t.CreatedAt.IsZero() {
		t.CreatedAt = r.now().UTC()
	}
	now := r.timestamp()

	err := r.WithTx(ctx, func(q DBTX) error {
		if w.Advance != nil {
			if err := advanceSchedule(ctx, q, *w.Advance, now); err != nil {
				return err
			}
		}

		id, err := insertTransaction(ctx, q, t)
		if err != nil {
			return err
		}
		t.ID = id

		for _, b := range w.Balances {
			if err := applyBalanceDelta(ctx, q, t.OwnerID, b.AccountID, b.Delta, now); err != nil {
				return err
			}
			if b.Delta > 0 {
				if err := markGoalCompleted(ctx, q, b.AccountID, now); err != nil {
					return err
				}
			}
		}

		for _, c := range w.BudgetCharges {
			if err := chargeBudget(ctx, q, t.OwnerID, c, now); err != nil {
				return err
			}
		}

		if w.Advance != nil {
			return insertRun(ctx, q, core.ScheduleRun{
				ScheduleID:    w.Advance.ScheduleID,
				DueAt:         w.Advance.Expected,
				Outcome:       core.RunSucceeded,
				TransactionID: &t.ID,
				CreatedAt:     fromMillis(now),
			})
		}
		return nil
	})
	if err != nil {
		return core.Transaction{}, wrap("record movement", err)
	}
	return t, nil
}

func insertTransaction(ctx context.Context, q DBTX, t core.Transaction) (int64, error) {
	res, err := q.ExecContext(ctx, `
INSERT INTO transactions (owner_id, type, amount_minor, currency, from_account_id, to_account_id, schedule_id, description, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.OwnerID, string(t.Type), t.Amount.Minor, string(t.Amount.Currency),
		nullInt64(t.FromAccountID), nullInt64(t.ToAccountID), nullInt64(t.ScheduleID),
		t.Description, toMillis(t.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("insert transaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert transaction: %w", err)
	}
	for _, c := range t.CategoryIDs {
		if _, err := q.ExecContext(ctx,
			`INSERT OR IGNORE INTO transaction_categories (transaction_id, category_id) VALUES (?, ?)`, id, c); err != nil {
			return 0, fmt.Errorf("link transaction category: %w", err)
		}
	}
	return id, nil
}

func advanceSchedule(ctx context.Context, q DBTX, a ScheduleAdvance, now int64) error {
	var next *time.Time
	if a.Active {
		next = &a.Next
	}
	res, err := q.ExecContext(ctx, `
UPDATE recurring_schedules SET next_execution = ?, active = ?, updated_at = ?
WHERE id = ? AND next_execution = ? AND active = 1 AND deleted_at IS NULL`,
		nullMillis(next), boolInt(a.Active), now, a.ScheduleID, toMillis(a.Expected))
	if err != nil {
		return fmt.Errorf("advance schedule %d: %w", a.ScheduleID, err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrAlreadyExecuted
	}
	return nil
}

const transactionColumns = `id, owner_id, type, amount_minor, currency, from_account_id, to_account_id,
	schedule_id, description, created_at`

func scanTransaction(row rowScanner) (core.Transaction, error) {
	var (
		t               core.Transaction
		typ, currency   string
		amount, created int64
		from, to, sched sql.NullInt64
	)
	if err := row.Scan(&t.ID, &t.OwnerID, &typ, &amount, &currency, &from, &to, &sched, &t.Description, &created); err != nil {
		return core.Transaction{}, err
	}
	t.Type = core.TransactionType(typ)
	t.Amount = core.NewMoney(amount, core.Currency(currency))
	t.FromAccountID = int64Ptr(from)
	t.ToAccountID = int64Ptr(to)
	t.ScheduleID = int64Ptr(sched)
	t.CreatedAt = fromMillis(created)
	return t, nil
}

const transactionCategoriesQuery = `SELECT category_id FROM transaction_categories WHERE transaction_id = ? ORDER BY category_id`

// GetTransaction loads a transaction by id regardless of owner. It serves
// internal consumers of the ledger event stream.
func (r *SQLiteRepository) GetTransaction(ctx context.Context, id int64) (core.Transaction, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, &core.Error{Kind: core.KindNotFound, Code: "TRANSACTION_NOT_FOUND", Message: "transaction not found"}
	}
	if err != nil {
		return core.Transaction{}, wrap("get transaction", err)
	}
	t.CategoryIDs, err = loadCategoryIDs(ctx, r.db, transactionCategoriesQuery, t.ID)
	if err != nil {
		return core.Transaction{}, wrap("get transaction categories", err)
	}
	return t, nil
}

// ListTransactions returns the newest transactions of ownerID.
func (r *SQLiteRepository) ListTransactions(ctx context.Context, ownerID int64, limit int) ([]core.Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+transactionColumns+`
FROM transactions WHERE owner_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, ownerID, limit)
	if err != nil {
		return nil, wrap("list transactions", err)
	}
	txs := []core.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			rows.Close()
			return nil, wrap("scan transaction", err)
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, wrap("list transactions", err)
	}
	rows.Close()

	// Links are read after the cursor is closed; the pool has one connection.
	for i := range txs {
		ids, err := loadCategoryIDs(ctx, r.db, transactionCategoriesQuery, txs[i].ID)
		if err != nil {
			return nil, wrap("list transaction categories", err)
		}
		txs[i].CategoryIDs = ids
	}
	return txs, nil
}
