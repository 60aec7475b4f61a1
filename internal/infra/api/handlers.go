package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"sharktank-agent/internal/domain"
	"sharktank-agent/internal/domain/model"
	"sharktank-agent/internal/infra/logging"
	"sharktank-agent/internal/usecase"
)

type submitResponse struct {
	Success   bool      `json:"success"`
	JobID     string    `json:"jobId"`
	Message   string    `json:"message"`
	StatusURL string    `json:"statusUrl"`
	ResultURL string    `json:"resultUrl,omitempty"`
	Count     int       `json:"messageCount,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "timestamp": time.Now().UTC()})
}

func (s *Server) mintToken(w http.ResponseWriter, r *http.Request) {
	if !s.auth.Enabled() {
		writeJSON(w, http.StatusForbidden, errorBody{Error: "admin access is not configured"})
		return
	}
	if !s.auth.CheckKey(r.Header.Get("X-Admin-Key")) {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "invalid admin key"})
		return
	}
	tok, exp, err := s.auth.Mint()
	if err != nil {
		logging.With(r.Context(), s.log).Error().Err(err).Msg("mint admin token")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "could not mint token"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": tok, "expiresAt": exp.UTC()})
}

func (s *Server) submitChat(w http.ResponseWriter, r *http.Request) {
	var req usecase.ChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.UserID == "" {
		req.UserID = r.Header.Get("X-User-Id")
	}
	id, err := s.gw.Submit(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	status, result := s.jobURLs(id)
	writeJSON(w, http.StatusOK, submitResponse{
		Success:   true,
		JobID:     id,
		Message:   "Chat job queued successfully",
		StatusURL: status,
		ResultURL: result,
		Timestamp: time.Now().UTC(),
	})
}

func (s *Server) submitBatch(w http.ResponseWriter, r *http.Request) {
	var req usecase.BatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	id, n, err := s.gw.SubmitBatch(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	status, _ := s.jobURLs(id)
	writeJSON(w, http.StatusOK, submitResponse{
		Success:   true,
		JobID:     id,
		Message:   "Batch chat job queued successfully",
		StatusURL: status,
		Count:     n,
		Timestamp: time.Now().UTC(),
	})
}

func (s *Server) chatSync(w http.ResponseWriter, r *http.Request) {
	var req usecase.ChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.UserID == "" {
		req.UserID = r.Header.Get("X-User-Id")
	}

	res, err := s.gw.SubmitAndWait(r.Context(), req, usecase.WaitOptions{})
	var (
		timeout *usecase.WaitTimeoutError
		failed  *usecase.JobFailedError
	)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{
			"success":        true,
			"response":       res.Response,
			"sessionId":      res.SessionID,
			"toolsUsed":      res.ToolsUsed,
			"processingTime": res.ProcessingTime,
			"timestamp":      res.Timestamp,
		})
	case errors.As(err, &timeout):
		status, _ := s.jobURLs(timeout.JobID)
		writeJSON(w, http.StatusRequestTimeout, map[string]any{
			"success":   false,
			"error":     "Request timeout - job is still processing",
			"jobId":     timeout.JobID,
			"statusUrl": status,
		})
	case errors.As(err, &failed):
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: failed.Reason})
	default:
		writeError(w, err)
	}
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.gw.Session(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "session": sess})
}

func (s *Server) clearSession(w http.ResponseWriter, r *http.Request) {
	if err := s.gw.ClearSession(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Session deleted"})
}

func (s *Server) jobStatus(w http.ResponseWriter, r *http.Request) {
	info, err := s.gw.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "job": info})
}

func (s *Server) jobResult(w http.ResponseWriter, r *http.Request) {
	view, err := s.gw.Result(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	switch view.State {
	case usecase.ResultReady:
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "result": view.Result})
	case usecase.ResultFailed:
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "status": "failed", "error": view.Reason})
	default:
		writeJSON(w, http.StatusAccepted, map[string]any{"success": false, "status": "processing", "state": view.Status})
	}
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	ok, err := s.gw.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "cancelled": false, "error": "Job not found or cannot be cancelled"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "cancelled": true})
}

func (s *Server) retryJob(w http.ResponseWriter, r *http.Request) {
	ok, err := s.gw.Retry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "retried": false, "error": "Job not found or cannot be retried"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "retried": true})
}

func (s *Server) queueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.gw.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "stats": stats, "timestamp": time.Now().UTC()})
}

func (s *Server) recentJobs(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	jobs, err := s.gw.Recent(r.Context(), model.JobStatus(r.URL.Query().Get("status")), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "jobs": jobs, "count": len(jobs)})
}

func (s *Server) queueHealth(w http.ResponseWriter, r *http.Request) {
	h, err := s.gw.Health(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"success": false, "status": "unhealthy", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) cleanQueue(w http.ResponseWriter, r *http.Request) {
	hours := 24.0
	if v := r.URL.Query().Get("olderThanHours"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(w, domain.ErrInvalidArgument)
			return
		}
		hours = f
	}
	n, err := s.gw.Clean(r.Context(), time.Duration(hours*float64(time.Hour)))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "removed": n})
}

func (s *Server) pauseQueue(w http.ResponseWriter, r *http.Request) {
	if err := s.gw.Pause(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "paused": true})
}

func (s *Server) resumeQueue(w http.ResponseWriter, r *http.Request) {
	if err := s.gw.Resume(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "paused": false})
}
