package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"feedbackd/internal/core"
	"feedbackd/internal/log"
)

const maxBodyBytes = 64 << 10

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Success: false, Error: msg})
}

// allowMethod rejects requests whose method is not one of methods.
func allowMethod(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	return false
}

// fail maps a queue error to a status code and writes it. notFound is the
// message used for core.ErrNotFound.
func fail(w http.ResponseWriter, r *http.Request, op string, err error, notFound string) {
	logger := log.FromContext(r.Context())

	switch {
	case errors.Is(err, core.ErrInvalidInput):
		logger.WarnContext(r.Context(), "Invalid request", log.FieldOperation, op, log.FieldError, err)
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, core.ErrNotFound):
		writeError(w, http.StatusNotFound, notFound)
	case errors.Is(err, core.ErrQueueFull):
		w.Header().Set("Retry-After", "30")
		writeError(w, http.StatusServiceUnavailable, "Feedback queue is full")
	default:
		log.NewStructuredLogger(logger).LogError(r.Context(), "Request failed", err, op,
			log.LogFields{log.FieldPath: r.URL.Path})
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (s *Server) handleRateLimited(w http.ResponseWriter, r *http.Request) {
	log.FromContext(r.Context()).WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldClientIP, s.detector.ExtractClientIP(r),
		log.FieldPath, r.URL.Path)
	writeError(w, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "Not found")
}
