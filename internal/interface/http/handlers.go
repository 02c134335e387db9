package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lfmcagency/fitness-tracker-sub001/internal/application/command"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/application/query"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/achievement"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/progress"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/domain/xprules"
	"github.com/lfmcagency/fitness-tracker-sub001/internal/interface/http/handlers"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	status := s.deps.Health.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, status)
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// COMMANDS
// ══════════════════════════════════════════════════════════════════════════════

// EventRequest is the body of POST /api/v1/events. The user comes from the
// X-User-ID header.
type EventRequest struct {
	Token     string          `json:"token"`
	Source    string          `json:"source"`
	Action    string          `json:"action"`
	Context   xprules.Context `json:"context"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
}

func (s *Server) handleProcessEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if !s.decode(w, r, &req) {
		return
	}

	cmd := command.ProcessEventCommand{
		Token:         req.Token,
		UserID:        handlers.UserID(r.Context()),
		Source:        req.Source,
		Action:        req.Action,
		Context:       req.Context,
		CorrelationID: middleware.GetReqID(r.Context()),
	}
	if req.Timestamp != nil {
		cmd.Timestamp = *req.Timestamp
	}

	res, err := s.deps.ProcessEvent.Handle(r.Context(), cmd)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, r, status, res)
}

func (s *Server) handleRevertAward(w http.ResponseWriter, r *http.Request) {
	var data command.ReversalData
	if !s.decode(w, r, &data) {
		return
	}

	res, err := s.deps.RevertAward.Handle(r.Context(), command.RevertAwardCommand{
		UserID:        handlers.UserID(r.Context()),
		Data:          data,
		CorrelationID: middleware.GetReqID(r.Context()),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// ClaimRequest is the optional body of POST /api/v1/achievements/{id}/claim.
type ClaimRequest struct {
	Signals progress.Signals `json:"signals,omitempty"`
}

func (s *Server) handleClaimAchievement(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequest
	if !s.decodeOptional(w, r, &req) {
		return
	}

	res, err := s.deps.Claim.Handle(r.Context(), command.ClaimAchievementCommand{
		UserID:        handlers.UserID(r.Context()),
		AchievementID: chi.URLParam(r, "id"),
		Signals:       req.Signals,
		CorrelationID: middleware.GetReqID(r.Context()),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	status := http.StatusOK
	if res.Outcome == achievement.ClaimOutcomeRequirementsNotMet {
		status = http.StatusConflict
	}
	writeJSON(w, r, status, res)
}

// ══════════════════════════════════════════════════════════════════════════════
// QUERIES
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) handleGetOverview(w http.ResponseWriter, r *http.Request) {
	fresh, _ := strconv.ParseBool(r.URL.Query().Get("fresh"))
	res, err := s.deps.Overview.Handle(r.Context(), query.GetProgressOverviewQuery{
		UserID:    handlers.UserID(r.Context()),
		SkipCache: fresh,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

func (s *Server) handleGetRanks(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Ranks.Handle(r.Context(), query.GetRankReportQuery{
		UserID: handlers.UserID(r.Context()),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	q := query.GetHistoryQuery{
		UserID: handlers.UserID(r.Context()),
		Source: params.Get("source"),
	}

	var err error
	if q.From, err = parseTimeParam(params.Get("from")); err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "validation_error", "from: "+err.Error())
		return
	}
	if q.To, err = parseTimeParam(params.Get("to")); err != nil {
		writeJSONError(w, r, http.StatusBadRequest, "validation_error", "to: "+err.Error())
		return
	}
	if v := params.Get("limit"); v != "" {
		if q.Limit, err = strconv.Atoi(v); err != nil {
			writeJSONError(w, r, http.StatusBadRequest, "validation_error", "limit must be an integer")
			return
		}
	}

	res, err := s.deps.History.Handle(r.Context(), q)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

func (s *Server) handleGetAchievements(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Achievements.Handle(r.Context(), query.GetAchievementBoardQuery{
		UserID: handlers.UserID(r.Context()),
		State:  achievement.State(r.URL.Query().Get("state")),
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// decode reads a JSON body into dst, writing a 400 or 413 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	return s.decodeBody(w, r, dst, false)
}

// decodeOptional is decode for endpoints whose body may be empty.
func (s *Server) decodeOptional(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	return s.decodeBody(w, r, dst, true)
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}, optional bool) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}

	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		writeJSONError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", "request body too large")
	case errors.Is(err, io.EOF):
		writeJSONError(w, r, http.StatusBadRequest, "validation_error", "request body is empty")
	default:
		writeJSONError(w, r, http.StatusBadRequest, "validation_error", "invalid JSON: "+err.Error())
	}
	return false
}

// parseTimeParam accepts RFC 3339 timestamps and YYYY-MM-DD dates (UTC).
func parseTimeParam(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("expected RFC 3339 time or YYYY-MM-DD, got %q", v)
}
