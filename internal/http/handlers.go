package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"feedbackd/internal/core"
	"feedbackd/internal/log"
)

const (
	defaultQueueLimit   = 50
	maxQueueLimit       = 500
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

type requestFeedbackResponse struct {
	Success   bool   `json:"success"`
	RequestID string `json:"requestId"`
}

type pendingFeedbackResponse struct {
	Transaction *core.FeedbackRequest `json:"transaction"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type feedbackResultResponse struct {
	Success  bool   `json:"success"`
	Feedback string `json:"feedback"`
}

type feedbackQueueResponse struct {
	Transactions []core.FeedbackRequest `json:"transactions"`
	Total        int64                  `json:"total"`
}

type feedbackHistoryResponse struct {
	Feedback []core.ArchivedFeedback `json:"feedback"`
}

type categoriesResponse struct {
	Categories []string `json:"categories"`
}

// handleRequestFeedback enqueues a transaction for review.
func (s *Server) handleRequestFeedback(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var p requestFeedbackPayload
	if err := decodeJSON(w, r, &p); err != nil {
		fail(w, r, log.OpEnqueue, err, "")
		return
	}

	id, err := s.queue.Enqueue(r.Context(), *p.Merchant, *p.Charge)
	if err != nil {
		fail(w, r, log.OpEnqueue, err, "")
		return
	}
	writeJSON(w, http.StatusOK, requestFeedbackResponse{Success: true, RequestID: id})
}

// handlePendingFeedback returns the oldest pending request or null.
func (s *Server) handlePendingFeedback(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	req, ok, err := s.queue.PeekOldestPending(r.Context())
	if err != nil {
		fail(w, r, log.OpPeek, err, "")
		return
	}

	resp := pendingFeedbackResponse{}
	if ok {
		resp.Transaction = &req
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSubmitFeedback(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var p submitFeedbackPayload
	if err := decodeJSON(w, r, &p); err != nil {
		fail(w, r, log.OpResolve, err, "")
		return
	}

	if err := s.queue.Resolve(r.Context(), string(p.TransactionID), *p.Feedback); err != nil {
		fail(w, r, log.OpResolve, err, "Transaction not found")
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// handleGetFeedbackResult delivers a completed answer once.
func (s *Server) handleGetFeedbackResult(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	id := strings.TrimSpace(r.URL.Query().Get("requestId"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "Missing requestId parameter")
		return
	}

	result, err := s.queue.FetchResult(r.Context(), id)
	if err != nil {
		fail(w, r, log.OpFetch, err, "Feedback not found or still pending")
		return
	}
	writeJSON(w, http.StatusOK, feedbackResultResponse{Success: true, Feedback: result.Feedback})
}

func (s *Server) handleFeedbackQueue(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	limit, err := parseLimit(r, defaultQueueLimit, maxQueueLimit)
	if err != nil {
		fail(w, r, log.OpList, err, "")
		return
	}

	reqs, stats, err := s.queue.ListPending(r.Context(), limit)
	if err != nil {
		fail(w, r, log.OpList, err, "")
		return
	}
	if reqs == nil {
		reqs = []core.FeedbackRequest{}
	}
	writeJSON(w, http.StatusOK, feedbackQueueResponse{Transactions: reqs, Total: stats.Pending})
}

// handleFeedbackHistory lists archived answers. Without an archive the list
// is empty rather than an error.
func (s *Server) handleFeedbackHistory(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	limit, err := parseLimit(r, defaultHistoryLimit, maxHistoryLimit)
	if err != nil {
		fail(w, r, log.OpList, err, "")
		return
	}

	items := []core.ArchivedFeedback{}
	if s.history != nil {
		recent, err := s.history.Recent(r.Context(), limit)
		if err != nil {
			fail(w, r, log.OpList, err, "")
			return
		}
		if recent != nil {
			items = recent
		}
	}
	writeJSON(w, http.StatusOK, feedbackHistoryResponse{Feedback: items})
}

func (s *Server) handleFeedbackCategories(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, categoriesResponse{Categories: append([]string(nil), core.Categories...)})
}

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.startedAt).Round(time.Second).String(),
	})
}

// handleReady checks the queue store and, when configured, the archive.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := map[string]string{}

	check := func(name string, ping func(context.Context) error) {
		if err := ping(ctx); err != nil {
			log.FromContext(r.Context()).WarnContext(r.Context(), "Readiness check failed",
				"check", name, log.FieldError, err)
			checks[name] = "failed: " + err.Error()
			status = "not_ready"
			httpStatus = http.StatusServiceUnavailable
			return
		}
		checks[name] = "ok"
	}

	check("queue", s.queue.Ping)
	if s.history != nil {
		check("archive", s.history.Ping)
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	})
}
