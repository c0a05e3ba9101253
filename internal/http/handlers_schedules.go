package http

import (
	"net/http"

	"conti/internal/core"
	"conti/internal/log"
	"conti/internal/services"
)

type createScheduleRequest struct {
	AccountID            int64   `json:"account_id"`
	Kind                 string  `json:"kind"`
	Description          string  `json:"description"`
	Amount               string  `json:"amount"`
	Currency             string  `json:"currency"`
	Cadence              string  `json:"cadence"`
	IntervalDays         int     `json:"interval_days"`
	StartDate            string  `json:"start_date"`
	EndDate              string  `json:"end_date"`
	AutomaticExecution   *bool   `json:"automatic_execution"`
	EmailNotification    bool    `json:"email_notification"`
	NotificationLeadDays *int    `json:"notification_lead_days"`
	Timezone             string  `json:"timezone"`
	CategoryIDs          []int64 `json:"category_ids"`
}

type updateScheduleRequest struct {
	Description          *string `json:"description"`
	Active               *bool   `json:"active"`
	AutomaticExecution   *bool   `json:"automatic_execution"`
	EmailNotification    *bool   `json:"email_notification"`
	NotificationLeadDays *int    `json:"notification_lead_days"`
	ClearLeadDays        bool    `json:"clear_lead_days"`
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}
	var req createScheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}

	amount, err := parseMoney(req.Amount, req.Currency)
	if err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}
	start, err := core.ParseDate(req.StartDate)
	if err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}
	end, err := parseOptionalDate(req.EndDate)
	if err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}
	// Schedules book automatically unless the caller opts out.
	automatic := true
	if req.AutomaticExecution != nil {
		automatic = *req.AutomaticExecution
	}

	created, err := s.schedules.CreateSchedule(r.Context(), core.RecurringSchedule{
		OwnerID:              owner,
		AccountID:            req.AccountID,
		Kind:                 core.ScheduleKind(req.Kind),
		Description:          sanitizeInput(req.Description),
		Amount:               amount,
		Cadence:              core.Cadence(req.Cadence),
		IntervalDays:         req.IntervalDays,
		StartDate:            start,
		EndDate:              end,
		AutomaticExecution:   automatic,
		EmailNotification:    req.EmailNotification,
		NotificationLeadDays: req.NotificationLeadDays,
		Timezone:             req.Timezone,
		CategoryIDs:          req.CategoryIDs,
	})
	if err != nil {
		s.writeError(w, r, log.OpCreate, err)
		return
	}
	writeJSON(w, http.StatusCreated, toScheduleJSON(created))
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerID(r)
	if err != nil {
		s.writeError(w, r, log.OpList, err)
		return
	}
	scheds, err := s.schedules.ListSchedules(r.Context(), owner)
	if err != nil {
		s.writeError(w, r, log.OpList, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(scheds, toScheduleJSON))
}

func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	owner, id, err := ownerAndID(r)
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}
	sched, err := s.schedules.GetSchedule(r.Context(), owner, id)
	if err != nil {
		s.writeError(w, r, log.OpRead, err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleJSON(sched))
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	owner, id, err := ownerAndID(r)
	if err != nil {
		s.writeError(w, r, log.OpUpdate, err)
		return
	}
	var req updateScheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, log.OpUpdate, err)
		return
	}
	if req.Description != nil {
		d := sanitizeInput(*req.Description)
		req.Description = &d
	}

	sched, err := s.schedules.UpdateSchedule(r.Context(), owner, id, services.ScheduleUpdate{
		Description:          req.Description,
		Active:               req.Active,
		AutomaticExecution:   req.AutomaticExecution,
		EmailNotification:    req.EmailNotification,
		NotificationLeadDays: req.NotificationLeadDays,
		ClearLeadDays:        req.ClearLeadDays,
	})
	if err != nil {
		s.writeError(w, r, log.OpUpdate, err)
		return
	}
	writeJSON(w, http.StatusOK, toScheduleJSON(sched))
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	owner, id, err := ownerAndID(r)
	if err != nil {
		s.writeError(w, r, log.OpDelete, err)
		return
	}
	if err := s.schedules.DeleteSchedule(r.Context(), owner, id); err != nil {
		s.writeError(w, r, log.OpDelete, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	owner, id, err := ownerAndID(r)
	if err != nil {
		s.writeError(w, r, log.OpList, err)
		return
	}
	runs, err := s.schedules.ListRuns(r.Context(), owner, id, parseLimit(r))
	if err != nil {
		s.writeError(w, r, log.OpList, err)
		return
	}
	writeJSON(w, http.StatusOK, mapSlice(runs, toRunJSON))
}
