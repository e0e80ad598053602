// Package persistence contains helpers shared by repository implementations.
package persistence

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"example.com/scheduling/internal/domain"
)

// EncodeCursor serialises a history cursor to an opaque token.
func EncodeCursor(c *domain.HistoryCursor) string {
	if c == nil {
		return ""
	}
	raw := fmt.Sprintf("%s|%s", c.CompletedAt.UTC().Format(time.RFC3339Nano), c.ID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor parses a token produced by EncodeCursor. An empty token yields a nil cursor.
func DecodeCursor(token string) (*domain.HistoryCursor, error) {
	if strings.TrimSpace(token) == "" {
		return nil, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}
	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return nil, fmt.Errorf("invalid cursor format")
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return nil, err
	}
	return &domain.HistoryCursor{CompletedAt: ts, ID: parts[1]}, nil
}

// After reports whether entry (completedAt, id) sorts strictly after the
// cursor in newest-first order.
func After(c *domain.HistoryCursor, completedAt time.Time, id string) bool {
	if c == nil {
		return true
	}
	if completedAt.Before(c.CompletedAt) {
		return true
	}
	return completedAt.Equal(c.CompletedAt) && id < c.ID
}
