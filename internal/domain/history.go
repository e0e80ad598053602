package domain

import "context"

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// ListHistory pages through the owner's completion log, newest first. The
// returned cursor is nil on the last page.
func (e *Engine) ListHistory(ctx context.Context, ownerID string, cursor *HistoryCursor, limit int) ([]CompletionHistoryEntry, *HistoryCursor, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return e.history.ListByOwner(ctx, ownerID, cursor, limit)
}
