package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"feedbackd/internal/core"
	"feedbackd/internal/sheets"
)

// Store keeps exported rows in memory. Used by the worker when no
// spreadsheet is configured and by tests.
type Store struct {
	mu   sync.Mutex
	rows [][]any
	ids  []string
}

var _ sheets.FeedbackWriter = (*Store)(nil)

func New() *Store {
	return &Store{}
}

// AppendFeedback stores the row and returns a synthetic row reference.
func (s *Store) AppendFeedback(_ context.Context, f core.ArchivedFeedback) (string, error) {
	if strings.TrimSpace(f.ID) == "" {
		return "", fmt.Errorf("%w: feedback without id", core.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, sheets.Row(f))
	s.ids = append(s.ids, f.ID)
	return fmt.Sprintf("mem:%d", len(s.rows)), nil
}

// Rows returns a copy of the appended rows in order.
func (s *Store) Rows() [][]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]any(nil), s.rows...)
}

// IDs returns the request ids appended so far.
func (s *Store) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ids...)
}
