package transcript

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/livecap/livecapd/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestMemoryAppendAndExport(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, config.TranscriptConfig{}, newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	captured := time.Date(2026, 8, 25, 10, 30, 0, 0, time.UTC)
	if err := s.Append(ctx, Entry{SessionID: "s1", Language: "en-US", Text: "hello world", CapturedAt: captured}); err != nil {
		t.Fatalf("append: %v", err)
	}

	var buf bytes.Buffer
	if err := s.Export(ctx, &buf); err != nil {
		t.Fatalf("export: %v", err)
	}
	want := "[en-US] 2026-08-25T10:30:00Z — hello world\n"
	if buf.String() != want {
		t.Fatalf("unexpected export:\n got %q\nwant %q", buf.String(), want)
	}
}

func TestAppendRejectsEmptyText(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, config.TranscriptConfig{}, newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Append(ctx, Entry{SessionID: "s1", Language: "en-US"}); err == nil {
		t.Fatal("expected empty text to be rejected")
	}
}

func TestSQLiteAppendListCount(t *testing.T) {
	ctx := context.Background()
	cfg := config.TranscriptConfig{Path: filepath.Join(t.TempDir(), "transcript.db")}
	s, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	for _, text := range []string{"first", "second", "third"} {
		if err := s.Append(ctx, Entry{SessionID: "s1", Language: "en-US", Text: text}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	entries, err := s.List(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Text != "first" || entries[2].Text != "third" {
		t.Fatalf("unexpected capture order: %+v", entries)
	}

	n, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected count 3, got %d", n)
	}
}

func TestPruneByDaysAndMaxEntries(t *testing.T) {
	ctx := context.Background()
	cfg := config.TranscriptConfig{Path: filepath.Join(t.TempDir(), "transcript.db"), RetentionDays: 1, MaxEntries: 2}
	s, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	s.clock = func() time.Time { return time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC) }
	if err := s.Append(ctx, Entry{SessionID: "old", Language: "en-US", Text: "stale"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	s.clock = func() time.Time { return time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC) }
	for _, text := range []string{"a", "b", "c"} {
		if err := s.Append(ctx, Entry{SessionID: "new", Language: "en-US", Text: text}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := s.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	entries, err := s.List(ctx, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries after prune, got %d", len(entries))
	}
	for _, e := range entries {
		if e.Text == "stale" {
			t.Fatal("expected stale entry pruned")
		}
	}
}

func TestExportMultipleLinesInOrder(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, config.TranscriptConfig{}, newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	for i, text := range []string{"one", "two"} {
		if err := s.Append(ctx, Entry{SessionID: "s", Language: "sv-SE", Text: text, CapturedAt: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	var buf bytes.Buffer
	if err := s.Export(ctx, &buf); err != nil {
		t.Fatalf("export: %v", err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if !strings.HasSuffix(lines[0], "one") || !strings.HasSuffix(lines[1], "two") {
		t.Fatalf("unexpected line order: %v", lines)
	}
}
