package sheets

import (
	"context"

	"feedbackd/internal/core"
)

// Ports for outbound adapters.
type (
	// FeedbackWriter exports one archived answer and returns a reference to
	// where it landed (a sheet range, a row number).
	FeedbackWriter interface {
		AppendFeedback(ctx context.Context, f core.ArchivedFeedback) (rowRef string, err error)
	}
)

// Row is the column layout of an exported answer:
// completed at, request id, merchant, charge, feedback.
func Row(f core.ArchivedFeedback) []any {
	return []any{
		f.CompletedAt.UTC().Format("2006-01-02 15:04:05"),
		f.ID,
		f.Merchant,
		f.Charge.InexactFloat64(),
		f.Feedback,
	}
}
