package http

import (
	"net/http"

	"conti/internal/core"
	"conti/internal/log"
	"conti/internal/services"
)

type createBudgetRequest struct {
	Name        string  `json:"name"`
	Limit       string  `json:"limit"`
	Currency    string  `json:"currency"`
	CategoryIDs []int64 `json:"category_ids"`
}

// updateBudgetRequest leaves absent fields untouched. A new limit is read in
// the new currency when one is given, else in the budget's current one.
type updateBudgetRequest struct {
	Name        *string  `json:"name"`
	Limit       *string  `json:"limit"`
	Currency    *string  `json:"currency"`
	CategoryIDs *[]int64 `json:"category_ids"`
}

func (s *Server) handleCreateBudget(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}
	var req createBudgetRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}
	limit, err := parseMoney(req.Limit, req.Currency)
	if err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}

	b, err := s.budgets.CreateBudget(r.Context(), core.Budget{
		OwnerID:     owner,
		Name:        sanitizeInput(req.Name),
		Limit:       limit,
		CategoryIDs: req.CategoryIDs,
	})
	if err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBudgetJSON(b))
}

func (s *Server) handleListBudgets(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		s.writeError(w, r, log.OpList, err)
		return
	}
	budgets, err := s.budgets.ListBudgets(r.Context(), owner)
	if err != nil {
		s.writeError(w, r, log.OpList, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(budgets, toBudgetJSON))
}

func (s *Server) handleGetBudget(w http.ResponseWriter, r *http.Request) {
	owner, id, err := ownerAndID(r)
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}
	b, err := s.budgets.GetBudget(r.Context(), owner, id)
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, toBudgetJSON(b))
}

func (s *Server) handleUpdateBudget(w http.ResponseWriter, r *http.Request) {
	owner, id, err := ownerAndID(r)
	if err != nil {
		s.writeError(w, r, log.OpUpdate, err)
		return
	}
	var req updateBudgetRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, log.OpUpdate, err)
		return
	}

	var upd services.BudgetUpdate
	if req.Name != nil {
		name := sanitizeInput(*req.Name)
		upd.Name = &name
	}
	if req.Currency != nil {
		c, err := core.ParseCurrency(*req.Currency)
		if err != nil {
			s.writeError(w, r, log.OpUpdate, err)
			return
		}
		upd.Currency = &c
	}
	if req.Limit != nil {
		c := upd.Currency
		if c == nil {
			current, err := s.budgets.GetBudget(r.Context(), owner, id)
			if err != nil {
				s.writeError(w, r, log.OpUpdate, err)
				return
			}
			cur := current.Currency()
			c = &cur
		}
		limit, err := core.ParseMoney(*req.Limit, *c)
		if err != nil {
			s.writeError(w, r, log.OpUpdate, err)
			return
		}
		upd.Limit = &limit
	}
	if req.CategoryIDs != nil {
		upd.CategoryIDs = *req.CategoryIDs
		if upd.CategoryIDs == nil {
			upd.CategoryIDs = []int64{}
		}
	}

	b, err := s.budgets.UpdateBudget(r.Context(), owner, id, upd)
	if err != nil {
		s.writeError(w, r, log.OpUpdate, err)
		return
	}
	writeJSON(w, http.StatusOK, toBudgetJSON(b))
}

func (s *Server) handleDeleteBudget(w http.ResponseWriter, r *http.Request) {
	owner, id, err := ownerAndID(r)
	if err != nil {
		s.writeError(w, r, log.OpDelete, err)
		return
	}
	if err := s.budgets.DeleteBudget(r.Context(), owner, id); err != nil {
		s.writeError(w, r, log.OpDelete, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
