package httptransport

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/scheduling/internal/logger"
)

func TestServeStopsOnCancel(t *testing.T) {
	cfg := DefaultServerConfig("127.0.0.1:0")
	srv := NewServer(cfg, http.NotFoundHandler())
	require.Equal(t, 10*time.Second, srv.ReadTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, srv, cfg.ShutdownTimeout, logger.Nop()) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestServeReturnsListenError(t *testing.T) {
	srv := NewServer(DefaultServerConfig("bad-address"), http.NotFoundHandler())
	err := Serve(context.Background(), srv, time.Second, logger.Nop())
	require.Error(t, err)
}
