package filter

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/livecap/livecapd/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestDisabledFilterIsIdentity(t *testing.T) {
	ctx := context.Background()
	f, err := Open(ctx, config.FilterConfig{}, newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = f.Close(ctx) })

	if got := f.Transform(ctx, "hello world"); got != "hello world" {
		t.Fatalf("expected passthrough, got %q", got)
	}
	if got := f.Transform(ctx, ""); got != "" {
		t.Fatalf("expected empty passthrough, got %q", got)
	}
}

func TestOpenFailsOnMissingModule(t *testing.T) {
	ctx := context.Background()
	cfg := config.FilterConfig{Enabled: true, Module: filepath.Join(t.TempDir(), "missing.wasm")}
	if _, err := Open(ctx, cfg, newLogger()); err == nil {
		t.Fatal("expected error for missing module file")
	}
}

func TestNilFilterIsIdentity(t *testing.T) {
	var f *Filter
	if got := f.Transform(context.Background(), "text"); got != "text" {
		t.Fatalf("expected passthrough on nil filter, got %q", got)
	}
}
