package feedback

import (
	"context"

	"feedbackd/internal/core"
)

// ResolveListener is notified after a request is resolved. A failing
// listener is logged; the resolution itself stands.
type ResolveListener interface {
	FeedbackResolved(ctx context.Context, result core.FeedbackResult) error
}

// ListenerFunc adapts a function to ResolveListener.
type ListenerFunc func(ctx context.Context, result core.FeedbackResult) error

func (f ListenerFunc) FeedbackResolved(ctx context.Context, result core.FeedbackResult) error {
	return f(ctx, result)
}
