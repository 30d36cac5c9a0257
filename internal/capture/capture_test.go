package capture

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestMockSourceGrantsAndReleases(t *testing.T) {
	src := NewMockSource()
	h, err := src.Acquire(context.Background(), Constraints{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	mh := h.(*MockHandle)
	if mh.Released() {
		t.Fatal("handle released before Release")
	}
	h.Release()
	if !mh.Released() {
		t.Fatal("expected handle released")
	}
	if _, ok := <-h.Frames(); ok {
		t.Fatal("expected frames channel closed after release")
	}
	// Release is idempotent.
	h.Release()
}

func TestMockSourceDenies(t *testing.T) {
	src := NewMockSource()
	src.DenyWith(ErrPermissionDenied)
	if _, err := src.Acquire(context.Background(), Constraints{}); err == nil {
		t.Fatal("expected denial")
	}
}

func TestRecorderWritesWav(t *testing.T) {
	dir := t.TempDir()
	rec, err := NewRecorder(dir, "abc123", 16000, 1, newLogger())
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}

	frames := make(chan []int16, 4)
	frames <- []int16{0, 100, -100, 200}
	frames <- []int16{1, 2, 3, 4}
	close(frames)
	rec.Consume(frames, 16000, 1)
	rec.Wait()

	path := filepath.Join(dir, "session-abc123.wav")
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("expected recording file: %v", err)
	}
	if info.Size() <= 44 {
		t.Fatalf("expected wav payload beyond header, got %d bytes", info.Size())
	}
}
