package sheets

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"feedbackd/internal/core"
)

func TestRow(t *testing.T) {
	row := Row(core.ArchivedFeedback{
		ID:          "1000",
		Merchant:    "Acme Co",
		Charge:      decimal.RequireFromString("-42.50"),
		Feedback:    "Grocery",
		CompletedAt: time.Date(2025, 2, 3, 4, 5, 6, 0, time.FixedZone("CET", 3600)),
	})

	assert.Equal(t, []any{"2025-02-03 03:05:06", "1000", "Acme Co", -42.5, "Grocery"}, row)
}
