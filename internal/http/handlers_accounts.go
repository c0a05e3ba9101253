package http

import (
	"net/http"

	"conti/internal/core"
	"conti/internal/log"
)

type createAccountRequest struct {
	Name          string `json:"name"`
	Currency      string `json:"currency"`
	Kind          string `json:"kind"`
	SavingsTarget string `json:"savings_target"`
	TargetDate    string `json:"target_date"`
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}
	var req createAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}

	c, err := core.ParseCurrency(req.Currency)
	if err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}
	a := core.Account{
		OwnerID:  owner,
		Name:     sanitizeInput(req.Name),
		Currency: c,
		Kind:     core.AccountKind(req.Kind),
	}
	if req.SavingsTarget != "" {
		target, err := core.ParseMoney(req.SavingsTarget, c)
		if err != nil {
			s.writeError(w, r, log.OpCreate, err)
			return
		}
		a.SavingsTarget = &target
	}
	if a.TargetDate, err = parseOptionalDate(req.TargetDate); err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}

	created, err := s.accounts.CreateAccount(r.Context(), a)
	if err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAccountJSON(created))
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		s.writeError(w, r, log.OpList, err)
		return
	}
	accounts, err := s.accounts.ListAccounts(r.Context(), owner)
	if err != nil {
		s.writeError(w, r, log.OpList, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(accounts, toAccountJSON))
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	owner, id, err := ownerAndID(r)
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}
	a, err := s.accounts.GetAccount(r.Context(), owner, id)
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountJSON(a))
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	owner, id, err := ownerAndID(r)
	if err != nil {
		s.writeError(w, r, log.OpDelete, err)
		return
	}
	if err := s.accounts.DeleteAccount(r.Context(), owner, id); err != nil {
		s.writeError(w, r, log.OpDelete, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ownerAndID reads the caller and the {id} path value.
func ownerAndID(r *http.Request) (owner, id int64, err error) {
	if owner, err = ownerID(r); err != nil {
		return 0, 0, err
	}
	if id, err = pathID(r, "id"); err != nil {
		return 0, 0, err
	}
	return owner, id, nil
}
