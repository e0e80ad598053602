package persistence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/scheduling/internal/domain"
)

func TestCursorRoundTrip(t *testing.T) {
	in := &domain.HistoryCursor{CompletedAt: time.Date(2025, 3, 4, 10, 30, 0, 123, time.UTC), ID: "h-1"}
	token := EncodeCursor(in)
	require.NotEmpty(t, token)

	out, err := DecodeCursor(token)
	require.NoError(t, err)
	require.True(t, in.CompletedAt.Equal(out.CompletedAt))
	require.Equal(t, "h-1", out.ID)
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	c, err := DecodeCursor("")
	require.NoError(t, err)
	require.Nil(t, c)

	_, err = DecodeCursor("%%%")
	require.Error(t, err)

	_, err = DecodeCursor(EncodeCursor(&domain.HistoryCursor{CompletedAt: time.Now()})[:4])
	require.Error(t, err)
}

func TestAfterOrdersNewestFirst(t *testing.T) {
	ts := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)
	c := &domain.HistoryCursor{CompletedAt: ts, ID: "m"}

	require.True(t, After(nil, ts, "z"))
	require.True(t, After(c, ts.Add(-time.Second), "z"))
	require.True(t, After(c, ts, "a"))
	require.False(t, After(c, ts, "m"))
	require.False(t, After(c, ts.Add(time.Second), "a"))
}
