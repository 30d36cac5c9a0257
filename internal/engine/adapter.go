package engine

import (
	"fmt"
	"log/slog"
	"sync"
)

// Adapter owns at most one live engine instance and exposes best-effort
// start/stop semantics over it. Engine faults never propagate as errors from
// Start or Stop; failures surface only through the Error event.
type Adapter struct {
	factory Factory
	log     *slog.Logger

	mu       sync.Mutex
	inst     Engine
	gen      uint64
	language string
}

func NewAdapter(factory Factory, log *slog.Logger) *Adapter {
	return &Adapter{
		factory: factory,
		log:     log.With(slog.String("component", "engine-adapter")),
	}
}

// Create discards any previous instance (best-effort stop, events
// unsubscribed) and constructs a fresh one bound to language. Exactly one
// live instance exists after a successful call.
func (a *Adapter) Create(language string, ev Events) error {
	a.mu.Lock()
	old := a.inst
	a.inst = nil
	a.gen++
	gen := a.gen
	a.mu.Unlock()

	// The generation is already advanced, so anything the discarded
	// instance emits while stopping fails the currency check. Stopping
	// outside the lock keeps a synchronous Ended callback from re-entering
	// the adapter against a held mutex.
	if old != nil {
		_ = old.Stop()
		_ = old.Close()
	}

	ev = ev.ensure()

	// Events from a discarded instance must not reach the subscriber; each
	// callback checks that its instance is still current.
	wrapped := Events{
		Started: func() {
			if a.current(gen) {
				ev.Started()
			}
		},
		Ended: func() {
			if a.current(gen) {
				ev.Ended()
			}
		},
		Error: func(kind string) {
			if a.current(gen) {
				ev.Error(kind)
			}
		},
		Result: func(res ResultEvent) {
			if a.current(gen) {
				ev.Result(res)
			}
		},
	}

	inst, err := a.factory(language, wrapped)
	if err != nil {
		return fmt.Errorf("create engine instance: %w", err)
	}

	a.mu.Lock()
	a.inst = inst
	a.language = language
	a.mu.Unlock()
	return nil
}

func (a *Adapter) current(gen uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.gen == gen && a.inst != nil
}

// Start issues start on the current instance. A synchronous rejection (for
// example, the engine is already running) is swallowed; the return value
// reports whether the call was accepted so restart paths can fall back to
// recreation.
func (a *Adapter) Start() bool {
	a.mu.Lock()
	inst := a.inst
	a.mu.Unlock()
	if inst == nil {
		return false
	}
	if err := inst.Start(); err != nil {
		a.log.Debug("engine start rejected", slog.String("error", err.Error()))
		return false
	}
	return true
}

// Stop issues stop on the current instance; errors are ignored since the
// engine may already be stopped.
func (a *Adapter) Stop() {
	a.mu.Lock()
	inst := a.inst
	a.mu.Unlock()
	if inst == nil {
		return
	}
	if err := inst.Stop(); err != nil {
		a.log.Debug("engine stop rejected", slog.String("error", err.Error()))
	}
}

// SetLanguage changes the current instance's language in place. It takes
// effect on the next started session, not the current one.
func (a *Adapter) SetLanguage(tag string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.language = tag
	if a.inst != nil {
		a.inst.SetLanguage(tag)
	}
}

// Language returns the language the current instance is bound to.
func (a *Adapter) Language() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.language
}

// Generation identifies the current instance; it increments on every Create.
// Deferred actions compare against it to detect a superseded instance.
func (a *Adapter) Generation() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.gen
}

// HasInstance reports whether a live instance exists.
func (a *Adapter) HasInstance() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inst != nil
}

// Close discards the current instance during teardown. As in Create, the
// instance is stopped outside the lock so its final events cannot re-enter
// the adapter while the mutex is held.
func (a *Adapter) Close() {
	a.mu.Lock()
	old := a.inst
	a.inst = nil
	a.mu.Unlock()

	if old != nil {
		_ = old.Stop()
		_ = old.Close()
	}
}
