package runtime

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/livecap/livecapd/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestShutdownToleratesUnstartedComponents(t *testing.T) {
	r := New(config.Default(), testLogger())
	// Nothing was started; shutdown must not panic on absent components.
	r.shutdown()
}

func TestStartFailureCleansUp(t *testing.T) {
	cfg := config.Default()
	cfg.Bus.Enabled = false
	cfg.Transcript.Path = ""
	cfg.Capture.Backend = "bogus"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := New(cfg, testLogger())
	// The capture backend fails after the store and filter are open; the
	// failure path runs the same shutdown as a normal stop.
	if err := r.Start(ctx); err == nil {
		t.Fatal("expected start failure for unknown capture backend")
	}
}
