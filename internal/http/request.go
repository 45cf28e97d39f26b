package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"

	"feedbackd/internal/core"
)

type requestFeedbackPayload struct {
	Merchant *string          `json:"merchant"`
	Charge   *decimal.Decimal `json:"charge"`
}

func (p requestFeedbackPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Merchant, validation.NotNil),
		validation.Field(&p.Charge, validation.NotNil),
	)
}

type submitFeedbackPayload struct {
	TransactionID transactionID `json:"transactionId"`
	Feedback      *string       `json:"feedback"`
}

func (p submitFeedbackPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.TransactionID, validation.Required),
		validation.Field(&p.Feedback, validation.NotNil),
	)
}

// transactionID accepts both "1000" and 1000; dashboards have sent either.
type transactionID string

func (t *transactionID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*t = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = transactionID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("transactionId must be a string or a number")
	}
	*t = transactionID(n.String())
	return nil
}

// decodeJSON reads a size-limited JSON body into v and validates it.
// Failures wrap core.ErrInvalidInput.
func decodeJSON(w http.ResponseWriter, r *http.Request, v validation.Validatable) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty request body", core.ErrInvalidInput)
		}
		return fmt.Errorf("%w: %v", core.ErrInvalidInput, err)
	}
	if err := v.Validate(); err != nil {
		return fmt.Errorf("%w: %v", core.ErrInvalidInput, err)
	}
	return nil
}

// parseLimit reads ?limit=, falling back to def and capping at max.
func parseLimit(r *http.Request, def, max int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: limit must be a positive integer", core.ErrInvalidInput)
	}
	if n > max {
		n = max
	}
	return n, nil
}
