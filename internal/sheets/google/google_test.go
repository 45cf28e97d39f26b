package google

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	goption "google.golang.org/api/option"

	"feedbackd/internal/core"
)

const appendURL = `=~^https://sheets\.googleapis\.com/v4/spreadsheets/sheet-123/values/.+:append`

func newMockedClient(t *testing.T) *Client {
	t.Helper()
	httpClient := &http.Client{}
	httpmock.ActivateNonDefault(httpClient)
	t.Cleanup(httpmock.DeactivateAndReset)

	c, err := New(context.Background(), "sheet-123", "Feedback", goption.WithHTTPClient(httpClient))
	require.NoError(t, err)
	return c
}

func archived() core.ArchivedFeedback {
	return core.ArchivedFeedback{
		ID:          "1000",
		Merchant:    "Acme Co",
		Charge:      decimal.RequireFromString("42.50"),
		Feedback:    "Grocery",
		CompletedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestAppendFeedback(t *testing.T) {
	c := newMockedClient(t)

	var body map[string]any
	var query string
	httpmock.RegisterResponder(http.MethodPost, appendURL,
		func(req *http.Request) (*http.Response, error) {
			query = req.URL.RawQuery
			raw, _ := io.ReadAll(req.Body)
			_ = json.Unmarshal(raw, &body)
			return httpmock.NewJsonResponse(200, map[string]any{
				"spreadsheetId": "sheet-123",
				"updates": map[string]any{
					"updatedRange": "Feedback!A7:E7",
					"updatedRows":  1,
				},
			})
		})

	ref, err := c.AppendFeedback(context.Background(), archived())
	require.NoError(t, err)
	assert.Equal(t, "Feedback!A7:E7", ref)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())

	assert.Contains(t, query, "valueInputOption=RAW")
	assert.Contains(t, query, "insertDataOption=INSERT_ROWS")
	values := body["values"].([]any)
	require.Len(t, values, 1)
	assert.Equal(t, []any{"2025-06-01 12:00:00", "1000", "Acme Co", 42.5, "Grocery"}, values[0])
}

func TestAppendFeedbackAPIError(t *testing.T) {
	c := newMockedClient(t)
	httpmock.RegisterResponder(http.MethodPost, appendURL,
		httpmock.NewStringResponder(429, `{"error":{"code":429,"message":"quota exceeded"}}`))

	_, err := c.AppendFeedback(context.Background(), archived())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append to sheet Feedback")
}

func TestAppendFeedbackRejectsEmptyID(t *testing.T) {
	c := newMockedClient(t)
	f := archived()
	f.ID = ""

	_, err := c.AppendFeedback(context.Background(), f)
	assert.True(t, errors.Is(err, core.ErrInvalidInput))
	assert.Zero(t, httpmock.GetTotalCallCount())
}

func TestNew_MissingSpreadsheetID(t *testing.T) {
	_, err := New(context.Background(), " ", "Feedback")
	require.Error(t, err)
	assert.Equal(t, "missing GOOGLE_SPREADSHEET_ID", err.Error())
}

func TestNewFromEnv_MissingCredentials(t *testing.T) {
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_JSON", "")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_FILE", "")
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")

	_, err := NewFromEnv(context.Background(), "sheet-123", "Feedback")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "missing service account credentials"))
}

func TestNewFromEnv_MissingCredentialsFile(t *testing.T) {
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_JSON", "")
	t.Setenv("GOOGLE_SERVICE_ACCOUNT_FILE", filepath.Join(t.TempDir(), "absent.json"))

	_, err := NewFromEnv(context.Background(), "sheet-123", "Feedback")
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestAppendFeedbackSendsFormulasAsText(t *testing.T) {
	c := newMockedClient(t)

	var query, raw string
	httpmock.RegisterResponder(http.MethodPost, appendURL,
		func(req *http.Request) (*http.Response, error) {
			query = req.URL.RawQuery
			b, _ := io.ReadAll(req.Body)
			raw = string(b)
			return httpmock.NewJsonResponse(200, map[string]any{
				"updates": map[string]any{"updatedRange": "Feedback!A2:E2"},
			})
		})

	f := archived()
	f.Merchant = `=HYPERLINK("http://evil.example","x")`
	f.Feedback = "+1"
	_, err := c.AppendFeedback(context.Background(), f)
	require.NoError(t, err)

	assert.Contains(t, query, "valueInputOption=RAW")
	assert.Contains(t, raw, `=HYPERLINK(`)
}

func TestAuthorizedClientUsesPooledTransport(t *testing.T) {
	creds := []byte(`{
		"type": "service_account",
		"client_email": "feedbackd@example.iam.gserviceaccount.com",
		"private_key_id": "k1",
		"private_key": "not-a-real-key",
		"token_uri": "https://oauth2.googleapis.com/token"
	}`)

	hc, err := authorizedClient(context.Background(), creds)
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, hc.Timeout)

	tr, ok := hc.Transport.(*oauth2.Transport)
	require.True(t, ok, "expected an oauth2 transport, got %T", hc.Transport)
	base, ok := tr.Base.(*http.Transport)
	require.True(t, ok, "expected the pooled transport underneath, got %T", tr.Base)
	assert.Equal(t, 50, base.MaxConnsPerHost)
}

func TestAuthorizedClientRejectsBadJSON(t *testing.T) {
	_, err := authorizedClient(context.Background(), []byte(`not json`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse service account credentials")
}

func TestNewHTTPClientWithPooling(t *testing.T) {
	c := NewHTTPClientWithPooling()
	assert.Equal(t, 60*time.Second, c.Timeout)
	tr, ok := c.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, 10, tr.MaxIdleConnsPerHost)
}
