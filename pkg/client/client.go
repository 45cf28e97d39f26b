// Package client is a Go client for the feedbackd HTTP API.
//
// Submitters call RequestFeedback and later WaitForResult; reviewers call
// PendingFeedback and SubmitFeedback.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned for unknown transactions and for results that are
// still pending or were already fetched.
var ErrNotFound = errors.New("not found")

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
	// RetryAfter is the server's Retry-After hint, zero when absent.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("feedbackd: %d %s", e.StatusCode, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Transaction is a request waiting for a reviewer.
type Transaction struct {
	ID        string          `json:"id"`
	Merchant  string          `json:"merchant"`
	Charge    decimal.Decimal `json:"charge"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

// ArchivedFeedback is a resolved request from the history endpoint.
type ArchivedFeedback struct {
	ID          string          `json:"id"`
	Merchant    string          `json:"merchant"`
	Charge      decimal.Decimal `json:"charge"`
	Feedback    string          `json:"feedback"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt time.Time       `json:"completed_at"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client

	pollInitial time.Duration
	pollMax     time.Duration
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithPollInterval bounds the backoff used by WaitForResult.
func WithPollInterval(initial, max time.Duration) Option {
	return func(c *Client) {
		c.pollInitial = initial
		c.pollMax = max
	}
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		pollInitial: 500 * time.Millisecond,
		pollMax:     10 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RequestFeedback queues a transaction for review and returns its id.
func (c *Client) RequestFeedback(ctx context.Context, merchant string, charge decimal.Decimal) (string, error) {
	body := map[string]any{"merchant": merchant, "charge": json.Number(charge.String())}
	var out struct {
		RequestID string `json:"requestId"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/transactions/request-feedback", body, &out); err != nil {
		return "", err
	}
	return out.RequestID, nil
}

// PendingFeedback returns the oldest pending transaction, or nil.
func (c *Client) PendingFeedback(ctx context.Context) (*Transaction, error) {
	var out struct {
		Transaction *Transaction `json:"transaction"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/transactions/pending-feedback", nil, &out); err != nil {
		return nil, err
	}
	return out.Transaction, nil
}

// ListPending returns up to limit pending transactions and the total pending.
func (c *Client) ListPending(ctx context.Context, limit int) ([]Transaction, int64, error) {
	path := "/api/transactions/feedback-queue"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Transactions []Transaction `json:"transactions"`
		Total        int64         `json:"total"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, 0, err
	}
	return out.Transactions, out.Total, nil
}

// SubmitFeedback answers a pending transaction.
func (c *Client) SubmitFeedback(ctx context.Context, transactionID, feedback string) error {
	body := map[string]string{"transactionId": transactionID, "feedback": feedback}
	return c.do(ctx, http.MethodPost, "/api/transactions/submit-feedback", body, nil)
}

// FeedbackResult fetches a completed answer. The server hands it out once;
// later calls return ErrNotFound.
func (c *Client) FeedbackResult(ctx context.Context, requestID string) (string, error) {
	var out struct {
		Feedback string `json:"feedback"`
	}
	path := "/api/transactions/get-feedback-result?requestId=" + url.QueryEscape(requestID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return "", err
	}
	return out.Feedback, nil
}

// WaitForResult polls FeedbackResult with exponential backoff until the
// answer arrives or ctx is done. Not-found, rate-limited, server and
// transport errors are retried; a 429 waits at least its Retry-After.
// Other client errors stop the wait.
func (c *Client) WaitForResult(ctx context.Context, requestID string) (string, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.pollInitial
	exp.MaxInterval = c.pollMax
	exp.MaxElapsedTime = 0
	b := &retryAfterBackOff{BackOff: exp}

	op := func() (string, error) {
		fb, err := c.FeedbackResult(ctx, requestID)
		if err == nil {
			return fb, nil
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			switch {
			case apiErr.StatusCode == http.StatusTooManyRequests:
				b.hint = apiErr.RetryAfter
			case apiErr.StatusCode != http.StatusNotFound && apiErr.StatusCode < 500:
				return "", backoff.Permanent(err)
			}
		}
		return "", err
	}

	fb, err := backoff.RetryWithData(op, backoff.WithContext(b, ctx))
	if err != nil && ctx.Err() != nil {
		return "", ctx.Err()
	}
	return fb, err
}

// retryAfterBackOff stretches the next interval to a server supplied hint.
type retryAfterBackOff struct {
	backoff.BackOff
	hint time.Duration
}

func (b *retryAfterBackOff) NextBackOff() time.Duration {
	next := b.BackOff.NextBackOff()
	if next != backoff.Stop && b.hint > next {
		next = b.hint
	}
	b.hint = 0
	return next
}

// parseRetryAfter reads either delay-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

// Categories returns the quick labels offered to reviewers.
func (c *Client) Categories(ctx context.Context) ([]string, error) {
	var out struct {
		Categories []string `json:"categories"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/transactions/feedback-categories", nil, &out); err != nil {
		return nil, err
	}
	return out.Categories, nil
}

// History returns up to limit archived answers, newest first.
func (c *Client) History(ctx context.Context, limit int) ([]ArchivedFeedback, error) {
	path := "/api/transactions/feedback-history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Feedback []ArchivedFeedback `json:"feedback"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Feedback, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		msg := http.StatusText(resp.StatusCode)
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    msg,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
