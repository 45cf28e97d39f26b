package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"

	"feedbackd/internal/core"
)

// FeedbackRequestMessage asks for a reviewer's feedback on a transaction.
// It carries the same fields as the HTTP request-feedback body.
type FeedbackRequestMessage struct {
	Merchant *string          `json:"merchant"`
	Charge   *decimal.Decimal `json:"charge"`
}

func (m FeedbackRequestMessage) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Merchant, validation.NotNil),
		validation.Field(&m.Charge, validation.NotNil),
	)
}

// FeedbackRequestMessageFromJSON decodes and validates an intake message.
func FeedbackRequestMessageFromJSON(data []byte) (*FeedbackRequestMessage, error) {
	var msg FeedbackRequestMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidInput, err)
	}
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidInput, err)
	}
	return &msg, nil
}

// FeedbackResolvedMessage announces that a reviewer answered a request.
// The result still waits for one fetch by the submitter.
type FeedbackResolvedMessage struct {
	RequestID   string      `json:"requestId"`
	Merchant    string      `json:"merchant"`
	Charge      json.Number `json:"charge"`
	Feedback    string      `json:"feedback"`
	CompletedAt time.Time   `json:"completed_at"`
	Timestamp   time.Time   `json:"timestamp"`
}

// NewFeedbackResolvedMessage builds the event for result.
func NewFeedbackResolvedMessage(result core.FeedbackResult) *FeedbackResolvedMessage {
	return &FeedbackResolvedMessage{
		RequestID:   result.Request.ID,
		Merchant:    result.Request.Merchant,
		Charge:      json.Number(result.Request.Charge.String()),
		Feedback:    result.Feedback,
		CompletedAt: result.CompletedAt,
		Timestamp:   time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *FeedbackResolvedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}
