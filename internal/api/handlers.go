package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/roach88/listburn/internal/burn"
	"github.com/roach88/listburn/internal/engine"
	"github.com/roach88/listburn/internal/rewards"
)

// ErrorBody is the JSON body of every non-2xx response.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// RejectResponse acknowledges a rejection.
type RejectResponse struct {
	Slug   string `json:"slug"`
	Status string `json:"status"`
}

const defaultPostLimit = 20

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) summary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.svc.Summary(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) approvals(w http.ResponseWriter, r *http.Request) {
	pending, err := s.svc.PendingApprovals(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if pending == nil {
		pending = []engine.PendingApproval{}
	}
	writeJSON(w, http.StatusOK, pending)
}

func (s *Server) approve(w http.ResponseWriter, r *http.Request) {
	slug := mux.Vars(r)["slug"]
	sb, err := s.svc.Approve(r.Context(), slug)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sb)
}

func (s *Server) reject(w http.ResponseWriter, r *http.Request) {
	slug := mux.Vars(r)["slug"]
	if err := s.svc.Reject(r.Context(), slug); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RejectResponse{Slug: slug, Status: string(burn.StageRejected)})
}

func (s *Server) payout(w http.ResponseWriter, r *http.Request) {
	execute := false
	if v := r.URL.Query().Get("execute"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_execute", "execute must be a boolean")
			return
		}
		execute = b
	}
	report, err := s.svc.Payout(r.Context(), execute)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) posts(w http.ResponseWriter, r *http.Request) {
	limit := defaultPostLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}
	posts, err := s.svc.UpcomingPosts(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, posts)
}

// fail maps domain errors onto status codes.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, burn.ErrNotPending):
		writeError(w, http.StatusNotFound, "not_pending", err.Error())
	case errors.Is(err, burn.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", err.Error())
	case rewards.IsInsufficientFunds(err):
		writeError(w, http.StatusConflict, "insufficient_funds", err.Error())
	case errors.Is(err, engine.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, "stopping", err.Error())
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorBody{Error: code, Message: msg})
}
