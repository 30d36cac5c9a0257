package engine

import (
	"io"
	"log/slog"
	"testing"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestClassify(t *testing.T) {
	permission := []string{KindNotAllowed, KindPermissionDenied}
	for _, kind := range permission {
		if Classify(kind) != ClassPermission {
			t.Fatalf("expected %q to classify as permission", kind)
		}
	}
	restartable := []string{KindNetwork, KindNoSpeech, KindAudioCapture, KindAborted, KindServiceNotAllowed, "some-future-code", ""}
	for _, kind := range restartable {
		if Classify(kind) != ClassRestartable {
			t.Fatalf("expected %q to classify as restartable", kind)
		}
	}
}

func TestAdapterCreateDiscardsPrevious(t *testing.T) {
	var instances []*Mock
	factory := NewMockFactory(MockOptions{}, func(m *Mock) { instances = append(instances, m) })
	a := NewAdapter(factory, newLogger())

	if err := a.Create("en-US", Events{}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if !a.HasInstance() || a.Generation() != 1 {
		t.Fatalf("expected one live instance at generation 1")
	}

	if err := a.Create("de-DE", Events{}); err != nil {
		t.Fatalf("recreate: %v", err)
	}
	if len(instances) != 2 {
		t.Fatalf("expected 2 instances, got %d", len(instances))
	}
	if !instances[0].Closed() {
		t.Fatal("expected first instance to be closed on recreate")
	}
	if a.Generation() != 2 {
		t.Fatalf("expected generation 2, got %d", a.Generation())
	}
	if instances[1].Language() != "de-DE" {
		t.Fatalf("expected new instance bound to de-DE, got %q", instances[1].Language())
	}
}

func TestAdapterDropsEventsFromDiscardedInstance(t *testing.T) {
	var instances []*Mock
	factory := NewMockFactory(MockOptions{}, func(m *Mock) { instances = append(instances, m) })
	a := NewAdapter(factory, newLogger())

	var started int
	ev := Events{Started: func() { started++ }}
	if err := a.Create("en-US", ev); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := a.Create("en-US", ev); err != nil {
		t.Fatalf("recreate: %v", err)
	}

	instances[0].FireStarted()
	if started != 0 {
		t.Fatal("expected event from discarded instance to be dropped")
	}
	instances[1].FireStarted()
	if started != 1 {
		t.Fatalf("expected event from current instance to be delivered, got %d", started)
	}
}

func TestAdapterRecreateWhileRunning(t *testing.T) {
	var instances []*Mock
	factory := NewMockFactory(MockOptions{Announce: true}, func(m *Mock) { instances = append(instances, m) })
	a := NewAdapter(factory, newLogger())

	var ended int
	ev := Events{Ended: func() { ended++ }}
	if err := a.Create("en-US", ev); err != nil {
		t.Fatalf("create: %v", err)
	}
	if !a.Start() {
		t.Fatal("expected start accepted")
	}

	// Recreating over a running announce-mode instance makes its Stop emit
	// Ended synchronously from inside Create; the call must complete and the
	// event must be dropped as stale.
	if err := a.Create("en-US", ev); err != nil {
		t.Fatalf("recreate: %v", err)
	}
	if ended != 0 {
		t.Fatalf("expected ended from discarded instance dropped, got %d", ended)
	}
	if !instances[0].Closed() {
		t.Fatal("expected discarded instance closed")
	}
	if !a.Start() {
		t.Fatal("expected fresh instance to accept start")
	}

	// Close over a running instance takes the same re-entrant path.
	a.Close()
	if ended != 0 {
		t.Fatalf("expected ended during close dropped, got %d", ended)
	}
	if a.HasInstance() {
		t.Fatal("expected no instance after close")
	}
}

func TestAdapterStartIsBestEffort(t *testing.T) {
	var inst *Mock
	factory := NewMockFactory(MockOptions{FailStarts: 1}, func(m *Mock) { inst = m })
	a := NewAdapter(factory, newLogger())

	if a.Start() {
		t.Fatal("expected start without an instance to report failure")
	}
	if err := a.Create("en-US", Events{}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if a.Start() {
		t.Fatal("expected rejected start to report failure, not panic or propagate")
	}
	if !a.Start() {
		t.Fatal("expected second start to be accepted")
	}
	// Double start is rejected by the engine but swallowed by the adapter.
	if a.Start() {
		t.Fatal("expected double start to report failure")
	}
	if !inst.Running() {
		t.Fatal("expected engine running after accepted start")
	}
}

func TestAdapterStopIgnoresErrors(t *testing.T) {
	factory := NewMockFactory(MockOptions{}, nil)
	a := NewAdapter(factory, newLogger())
	a.Stop() // no instance

	if err := a.Create("en-US", Events{}); err != nil {
		t.Fatalf("create: %v", err)
	}
	a.Stop() // not running; engine rejects, adapter swallows
}

func TestAdapterSetLanguageInPlace(t *testing.T) {
	var inst *Mock
	factory := NewMockFactory(MockOptions{}, func(m *Mock) { inst = m })
	a := NewAdapter(factory, newLogger())
	if err := a.Create("en-US", Events{}); err != nil {
		t.Fatalf("create: %v", err)
	}
	gen := a.Generation()

	a.SetLanguage("sv-SE")
	if inst.Language() != "sv-SE" {
		t.Fatalf("expected in-place language change, got %q", inst.Language())
	}
	if a.Generation() != gen {
		t.Fatal("expected language change without recreation")
	}
}
