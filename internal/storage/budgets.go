package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"conti/internal/core"
)

const budgetColumns = `id, owner_id, name, currency, limit_minor, spent_minor, deleted_at, created_at, updated_at`

const budgetCategoriesQuery = `SELECT category_id FROM budget_categories WHERE budget_id = ? ORDER BY category_id`

func scanBudget(row rowScanner) (core.Budget, error) {
	var (
		b                    core.Budget
		currency             string
		limit, spent         int64
		deletedAt            sql.NullInt64
		createdAt, updatedAt int64
	)
	if err := row.Scan(&b.ID, &b.OwnerID, &b.Name, &currency, &limit, &spent, &deletedAt, &createdAt, &updatedAt); err != nil {
		return core.Budget{}, err
	}
	c := core.Currency(currency)
	b.Limit = core.NewMoney(limit, c)
	b.Spent = core.NewMoney(spent, c)
	b.DeletedAt = timePtr(deletedAt)
	b.CreatedAt = fromMillis(createdAt)
	b.UpdatedAt = fromMillis(updatedAt)
	return b, nil
}

// CreateBudget inserts b and its category links.
func (r *SQLiteRepository) CreateBudget(ctx context.Context, b core.Budget) (core.Budget, error) {
	now := r.timestamp()
	var id int64
	err := r.WithTx(ctx, func(q DBTX) error {
		res, err := q.ExecContext(ctx, `
INSERT INTO budgets (owner_id, name, currency, limit_minor, spent_minor, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
			b.OwnerID, b.Name, string(b.Limit.Currency), b.Limit.Minor, b.Spent.Minor, now, now)
		if err != nil {
			return fmt.Errorf("insert budget: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
		return replaceCategoryIDs(ctx, q, "budget_categories", "budget_id", id, b.CategoryIDs)
	})
	if err != nil {
		return core.Budget{}, wrap("create budget", err)
	}
	return r.GetBudget(ctx, b.OwnerID, id)
}

func (r *SQLiteRepository) GetBudget(ctx context.Context, ownerID, id int64) (core.Budget, error) {
	return getBudget(ctx, r.db, ownerID, id)
}

func getBudget(ctx context.Context, q DBTX, ownerID, id int64) (core.Budget, error) {
	row := q.QueryRowContext(ctx, `SELECT `+budgetColumns+`
FROM budgets WHERE id = ? AND owner_id = ? AND deleted_at IS NULL`, id, ownerID)
	b, err := scanBudget(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Budget{}, core.ErrBudgetNotFound
	}
	if err != nil {
		return core.Budget{}, wrap("get budget", err)
	}
	if b.CategoryIDs, err = loadCategoryIDs(ctx, q, budgetCategoriesQuery, b.ID); err != nil {
		return core.Budget{}, wrap("get budget categories", err)
	}
	return b, nil
}

// ListBudgets returns the live budgets of ownerID ordered by id.
func (r *SQLiteRepository) ListBudgets(ctx context.Context, ownerID int64) ([]core.Budget, error) {
	return r.queryBudgets(ctx, `SELECT `+budgetColumns+`
FROM budgets WHERE owner_id = ? AND deleted_at IS NULL ORDER BY id`, ownerID)
}

// ListBudgetsForCategories returns the live budgets of ownerID linked to at
// least one of categoryIDs.
func (r *SQLiteRepository) ListBudgetsForCategories(ctx context.Context, ownerID int64, categoryIDs []int64) ([]core.Budget, error) {
	if len(categoryIDs) == 0 {
		return []core.Budget{}, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(categoryIDs)), ",")
	args := make([]any, 0, len(categoryIDs)+1)
	args = append(args, ownerID)
	for _, id := range categoryIDs {
		args = append(args, id)
	}
	return r.queryBudgets(ctx, `SELECT `+budgetColumns+`
FROM budgets WHERE owner_id = ? AND deleted_at IS NULL
  AND id IN (SELECT budget_id FROM budget_categories WHERE category_id IN (`+placeholders+`))
ORDER BY id`, args...)
}

func (r *SQLiteRepository) queryBudgets(ctx context.Context, query string, args ...any) ([]core.Budget, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("list budgets", err)
	}
	budgets := []core.Budget{}
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			rows.Close()
			return nil, wrap("scan budget", err)
		}
		budgets = append(budgets, b)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, wrap("list budgets", err)
	}
	rows.Close()

	for i := range budgets {
		ids, err := loadCategoryIDs(ctx, r.db, budgetCategoriesQuery, budgets[i].ID)
		if err != nil {
			return nil, wrap("list budget categories", err)
		}
		budgets[i].CategoryIDs = ids
	}
	return budgets, nil
}

// UpdateBudget writes the name, limit, spend and currency of b. The write
// only lands while the stored spend still equals prior, so a charge committed
// since b was read fails it with core.ErrConcurrentUpdate. When categoryIDs
// is non-nil the category links are replaced after the field update, in the
// same transaction.
func (r *SQLiteRepository) UpdateBudget(ctx context.Context, b core.Budget, prior core.Money, categoryIDs []int64) (core.Budget, error) {
	now := r.timestamp()
	err := r.WithTx(ctx, func(q DBTX) error {
		res, err := q.ExecContext(ctx, `
UPDATE budgets SET name = ?, currency = ?, limit_minor = ?, spent_minor = ?, updated_at = ?
WHERE id = ? AND owner_id = ? AND deleted_at IS NULL AND spent_minor = ? AND currency = ?`,
			b.Name, string(b.Limit.Currency), b.Limit.Minor, b.Spent.Minor, now, b.ID, b.OwnerID,
			prior.Minor, string(prior.Currency))
		if err != nil {
			return fmt.Errorf("update budget: %w", err)
		}
		n, err := affected(res)
		if err != nil {
			return err
		}
		if n == 0 {
			if _, err := getBudget(ctx, q, b.OwnerID, b.ID); err != nil {
				return err
			}
			return core.ErrConcurrentUpdate
		}
		if categoryIDs == nil {
			return nil
		}
		return replaceCategoryIDs(ctx, q, "budget_categories", "budget_id", b.ID, categoryIDs)
	})
	if err != nil {
		return core.Budget{}, wrap("update budget", err)
	}
	return r.GetBudget(ctx, b.OwnerID, b.ID)
}

func (r *SQLiteRepository) SoftDeleteBudget(ctx context.Context, ownerID, id int64) error {
	now := r.timestamp()
	res, err := r.db.ExecContext(ctx, `
UPDATE budgets SET deleted_at = ?, updated_at = ?
WHERE id = ? AND owner_id = ? AND deleted_at IS NULL`, now, now, id, ownerID)
	if err != nil {
		return wrap("delete budget", err)
	}
	n, err := affected(res)
	if err != nil {
		return wrap("delete budget", err)
	}
	if n == 0 {
		return core.ErrBudgetNotFound
	}
	return nil
}

func chargeBudget(ctx context.Context, q DBTX, ownerID int64, c BudgetCharge, now int64) error {
	res, err := q.ExecContext(ctx, `
UPDATE budgets SET spent_minor = spent_minor + ?, updated_at = ?
WHERE id = ? AND owner_id = ? AND currency = ? AND deleted_at IS NULL`,
		c.Amount.Minor, now, c.BudgetID, ownerID, string(c.Amount.Currency))
	if err != nil {
		return fmt.Errorf("charge budget %d: %w", c.BudgetID, err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrConcurrentUpdate
	}
	return nil
}
