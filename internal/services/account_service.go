package services

import (
	"context"
	"log/slog"
	"strings"

	"conti/internal/core"
	"conti/internal/storage"
)

// AccountService manages accounts. Balances are never written here: an
// account opens at zero and is funded through the ledger.
type AccountService struct {
	storage *storage.SQLiteRepository
}

func NewAccountService(storage *storage.SQLiteRepository) *AccountService {
	return &AccountService{storage: storage}
}

func (s *AccountService) CreateAccount(ctx context.Context, a core.Account) (core.Account, error) {
	a.Name = strings.TrimSpace(a.Name)
	if a.Kind == "" {
		a.Kind = core.AccountDefault
	}
	if err := a.Validate(); err != nil {
		return core.Account{}, err
	}
	created, err := s.storage.CreateAccount(ctx, a)
	if err != nil {
		return core.Account{}, err
	}
	slog.InfoContext(ctx, "Account created",
		"account_id", created.ID,
		"owner_id", created.OwnerID,
		"currency", created.Currency,
		"kind", created.Kind)
	return created, nil
}

func (s *AccountService) GetAccount(ctx context.Context, ownerID, id int64) (core.Account, error) {
	return s.storage.GetAccount(ctx, ownerID, id)
}

func (s *AccountService) ListAccounts(ctx context.Context, ownerID int64) ([]core.Account, error) {
	return s.storage.ListAccounts(ctx, ownerID)
}

func (s *AccountService) DeleteAccount(ctx context.Context, ownerID, id int64) error {
	return s.storage.SoftDeleteAccount(ctx, ownerID, id)
}
