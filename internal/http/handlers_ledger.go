package http

import (
	"net/http"

	"conti/internal/core"
	"conti/internal/log"
)

type transferRequest struct {
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	FromAccountID int64  `json:"from_account_id"`
	ToAccountID   int64  `json:"to_account_id"`
	Description   string `json:"description"`
}

// movementRequest is the body of expense and income requests.
type movementRequest struct {
	Amount      string  `json:"amount"`
	Currency    string  `json:"currency"`
	AccountID   int64   `json:"account_id"`
	CategoryIDs []int64 `json:"category_ids"`
	Description string  `json:"description"`
}

func (s *Server) handleCreateTransfer(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}
	var req transferRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}
	amount, err := parseMoney(req.Amount, req.Currency)
	if err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}

	tx, err := s.ledger.CreateTransfer(r.Context(), owner, amount, req.FromAccountID, req.ToAccountID, sanitizeInput(req.Description))
	s.writeTransaction(w, r, tx, err)
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	s.handleMovement(w, r, core.TransactionExpense)
}

func (s *Server) handleCreateIncome(w http.ResponseWriter, r *http.Request) {
	s.handleMovement(w, r, core.TransactionIncome)
}

func (s *Server) handleMovement(w http.ResponseWriter, r *http.Request, kind core.TransactionType) {
	owner, err := ownerID(r)
	if err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}
	var req movementRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}
	amount, err := parseMoney(req.Amount, req.Currency)
	if err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}

	desc := sanitizeInput(req.Description)
	var tx core.Transaction
	if kind == core.TransactionExpense {
		tx, err = s.ledger.CreateExpense(r.Context(), owner, amount, req.AccountID, req.CategoryIDs, desc)
	} else {
		tx, err = s.ledger.CreateIncome(r.Context(), owner, amount, req.AccountID, req.CategoryIDs, desc)
	}
	s.writeTransaction(w, r, tx, err)
}

func (s *Server) writeTransaction(w http.ResponseWriter, r *http.Request, tx core.Transaction, err error) {
	if err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}
	s.structured.LogTransactionCreated(r.Context(), tx.OwnerID, tx.ID, string(tx.Type), tx.Amount.Minor, string(tx.Amount.Currency))
	writeJSON(w, http.StatusCreated, toTransactionJSON(tx))
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		s.writeError(w, r, log.OpList, err)
		return
	}
	txs, err := s.ledger.ListTransactions(r.Context(), owner, parseLimit(r))
	if err != nil {
		s.writeError(w, r, log.OpList, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(txs, toTransactionJSON))
}
