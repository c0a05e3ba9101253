package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"conti/internal/core"
)

const accountColumns = `id, owner_id, name, currency, balance_minor, kind, target_minor, target_date,
	goal_completed_at, deleted_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (core.Account, error) {
	var (
		a                             core.Account
		currency, kind                string
		target                        sql.NullInt64
		targetDate                    sql.NullString
		goalAt, deletedAt             sql.NullInt64
		createdAt, updatedAt, balance int64
	)
	if err := row.Scan(&a.ID, &a.OwnerID, &a.Name, &currency, &balance, &kind, &target, &targetDate,
		&goalAt, &deletedAt, &createdAt, &updatedAt); err != nil {
		return core.Account{}, err
	}
	a.Currency = core.Currency(currency)
	a.Balance = core.NewMoney(balance, a.Currency)
	a.Kind = core.AccountKind(kind)
	if target.Valid {
		m := core.NewMoney(target.Int64, a.Currency)
		a.SavingsTarget = &m
	}
	d, err := datePtr(targetDate)
	if err != nil {
		return core.Account{}, err
	}
	a.TargetDate = d
	a.GoalCompletedAt = timePtr(goalAt)
	a.DeletedAt = timePtr(deletedAt)
	a.CreatedAt = fromMillis(createdAt)
	a.UpdatedAt = fromMillis(updatedAt)
	return a, nil
}

// CreateAccount inserts a with a zero balance.
func (r *SQLiteRepository) CreateAccount(ctx context.Context, a core.Account) (core.Account, error) {
	if err := ctx.Err(); err != nil {
		return core.Account{}, err
	}
	now := r.timestamp()
	var target sql.NullInt64
	if a.SavingsTarget != nil {
		target = sql.NullInt64{Int64: a.SavingsTarget.Minor, Valid: true}
	}
	res, err := r.db.ExecContext(ctx, `
INSERT INTO accounts (owner_id, name, currency, balance_minor, kind, target_minor, target_date, created_at, updated_at)
VALUES (?, ?, ?, 0, ?, ?, ?, ?, ?)`,
		a.OwnerID, a.Name, string(a.Currency), string(a.Kind), target, nullDate(a.TargetDate), now, now)
	if err != nil {
		return core.Account{}, wrap("create account", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return core.Account{}, wrap("create account", err)
	}
	return r.GetAccount(ctx, a.OwnerID, id)
}

// GetAccount returns a live account owned by ownerID.
func (r *SQLiteRepository) GetAccount(ctx context.Context, ownerID, id int64) (core.Account, error) {
	return getAccount(ctx, r.db, ownerID, id)
}

func getAccount(ctx context.Context, q DBTX, ownerID, id int64) (core.Account, error) {
	row := q.QueryRowContext(ctx, `SELECT `+accountColumns+`
FROM accounts WHERE id = ? AND owner_id = ? AND deleted_at IS NULL`, id, ownerID)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Account{}, core.ErrAccountNotFound
	}
	if err != nil {
		return core.Account{}, wrap("get account", err)
	}
	return a, nil
}

// ListAccounts returns the live accounts of ownerID ordered by id.
func (r *SQLiteRepository) ListAccounts(ctx context.Context, ownerID int64) ([]core.Account, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+accountColumns+`
FROM accounts WHERE owner_id = ? AND deleted_at IS NULL ORDER BY id`, ownerID)
	if err != nil {
		return nil, wrap("list accounts", err)
	}
	defer rows.Close()

	accounts := []core.Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, wrap("scan account", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list accounts", err)
	}
	return accounts, nil
}

// SoftDeleteAccount hides an account. Transactions that reference it keep
// their ids.
func (r *SQLiteRepository) SoftDeleteAccount(ctx context.Context, ownerID, id int64) error {
	now := r.timestamp()
	res, err := r.db.ExecContext(ctx, `
UPDATE accounts SET deleted_at = ?, updated_at = ?
WHERE id = ? AND owner_id = ? AND deleted_at IS NULL`, now, now, id, ownerID)
	if err != nil {
		return wrap("delete account", err)
	}
	n, err := affected(res)
	if err != nil {
		return wrap("delete account", err)
	}
	if n == 0 {
		return core.ErrAccountNotFound
	}
	return nil
}

// applyBalanceDelta adds delta minor units to an account balance. The
// update only matches a live account of ownerID.
func applyBalanceDelta(ctx context.Context, q DBTX, ownerID, accountID, delta, now int64) error {
	res, err := q.ExecContext(ctx, `
UPDATE accounts SET balance_minor = balance_minor + ?, updated_at = ?
WHERE id = ? AND owner_id = ? AND deleted_at IS NULL`, delta, now, accountID, ownerID)
	if err != nil {
		return fmt.Errorf("update balance of account %d: %w", accountID, err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrAccountNotFound
	}
	return nil
}

// markGoalCompleted stamps a savings account whose balance has reached its
// target. It is a no-op for every other account.
func markGoalCompleted(ctx context.Context, q DBTX, accountID, now int64) error {
	_, err := q.ExecContext(ctx, `
UPDATE accounts SET goal_completed_at = ?
WHERE id = ? AND kind = 'savings' AND target_minor IS NOT NULL
  AND goal_completed_at IS NULL AND balance_minor >= target_minor`, now, accountID)
	if err != nil {
		return fmt.Errorf("mark savings goal of account %d: %w", accountID, err)
	}
	return nil
}
