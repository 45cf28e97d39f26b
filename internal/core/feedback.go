package core

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

type (
	Status string

	// FeedbackRequest is a transaction the classifier could not categorise
	// and hands to a human reviewer.
	FeedbackRequest struct {
		ID        string          `json:"id"`
		Merchant  string          `json:"merchant"`
		Charge    decimal.Decimal `json:"charge"`
		Status    Status          `json:"status"`
		CreatedAt time.Time       `json:"created_at"`
	}

	// FeedbackResult is the reviewer's answer, waiting for the submitter.
	FeedbackResult struct {
		Feedback    string          `json:"feedback"`
		Request     FeedbackRequest `json:"request"`
		CompletedAt time.Time       `json:"completed_at"`
	}
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrQueueFull    = errors.New("feedback queue full")
)

// Categories are the quick labels offered to the reviewer.
var Categories = []string{
	"Grocery",
	"Fun",
	"Utilities",
	"Investment",
	"Miscellaneous",
	"Payments",
}

// NewFeedbackRequest builds a pending request.
func NewFeedbackRequest(id, merchant string, charge decimal.Decimal, at time.Time) FeedbackRequest {
	return FeedbackRequest{
		ID:        id,
		Merchant:  merchant,
		Charge:    charge,
		Status:    StatusPending,
		CreatedAt: at,
	}
}

func (r FeedbackRequest) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("empty id")
	}
	if r.Status != StatusPending && r.Status != StatusCompleted {
		return errors.New("invalid status")
	}
	return nil
}

// Resolve returns the result of answering r with feedback.
func (r FeedbackRequest) Resolve(feedback string, at time.Time) FeedbackResult {
	r.Status = StatusCompleted
	return FeedbackResult{
		Feedback:    feedback,
		Request:     r,
		CompletedAt: at,
	}
}

// MarshalJSON writes charge as a JSON number instead of decimal's quoted string.
func (r FeedbackRequest) MarshalJSON() ([]byte, error) {
	type alias FeedbackRequest
	return json.Marshal(struct {
		alias
		Charge json.Number `json:"charge"`
	}{
		alias:  alias(r),
		Charge: json.Number(r.Charge.String()),
	})
}

// IsCategory reports whether label is one of the quick labels, ignoring case.
func IsCategory(label string) bool {
	for _, c := range Categories {
		if strings.EqualFold(c, strings.TrimSpace(label)) {
			return true
		}
	}
	return false
}

// ArchivedFeedback is a resolved request kept for history and export.
type ArchivedFeedback struct {
	ID           string          `json:"id"`
	Merchant     string          `json:"merchant"`
	Charge       decimal.Decimal `json:"charge"`
	Feedback     string          `json:"feedback"`
	CreatedAt    time.Time       `json:"created_at"`
	CompletedAt  time.Time       `json:"completed_at"`
	SyncedAt     *time.Time      `json:"synced_at,omitempty"`
	SyncAttempts int             `json:"sync_attempts"`
	SheetsRef    string          `json:"sheets_ref,omitempty"`
}

// Archive flattens a result for storage.
func (r FeedbackResult) Archive() ArchivedFeedback {
	return ArchivedFeedback{
		ID:          r.Request.ID,
		Merchant:    r.Request.Merchant,
		Charge:      r.Request.Charge,
		Feedback:    r.Feedback,
		CreatedAt:   r.Request.CreatedAt,
		CompletedAt: r.CompletedAt,
	}
}

func (a ArchivedFeedback) MarshalJSON() ([]byte, error) {
	type alias ArchivedFeedback
	return json.Marshal(struct {
		alias
		Charge json.Number `json:"charge"`
	}{
		alias:  alias(a),
		Charge: json.Number(a.Charge.String()),
	})
}
