package engine

import (
	"fmt"
	"sync"
)

// Mock is a scriptable in-process engine. Tests drive it by firing events
// directly; the runtime's mock mode uses Announce so a started session
// immediately reports itself live.
type Mock struct {
	mu        sync.Mutex
	ev        Events
	language  string
	running   bool
	closed    bool
	announce  bool
	failNext  int
	startCnt  int
	stopCnt   int
}

// MockOptions controls mock behavior at creation time.
type MockOptions struct {
	// Announce makes Start fire the Started event synchronously and Stop
	// fire Ended, approximating a well-behaved engine.
	Announce bool
	// FailStarts rejects this many Start calls before accepting one.
	FailStarts int
}

// NewMockFactory returns a factory producing mocks with the given options.
// onCreate, when non-nil, receives every created instance so tests can drive
// the latest one.
func NewMockFactory(opts MockOptions, onCreate func(*Mock)) Factory {
	return func(language string, ev Events) (Engine, error) {
		m := &Mock{
			ev:       ev.ensure(),
			language: language,
			announce: opts.Announce,
			failNext: opts.FailStarts,
		}
		if onCreate != nil {
			onCreate(m)
		}
		return m, nil
	}
}

func (m *Mock) Start() error {
	m.mu.Lock()
	m.startCnt++
	if m.failNext > 0 {
		m.failNext--
		m.mu.Unlock()
		return fmt.Errorf("mock engine: start rejected")
	}
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("mock engine: already started")
	}
	m.running = true
	announce := m.announce
	ev := m.ev
	m.mu.Unlock()
	if announce {
		ev.Started()
	}
	return nil
}

func (m *Mock) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return fmt.Errorf("mock engine: not running")
	}
	m.running = false
	m.stopCnt++
	announce := m.announce
	ev := m.ev
	m.mu.Unlock()
	if announce {
		ev.Ended()
	}
	return nil
}

func (m *Mock) SetLanguage(tag string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.language = tag
}

func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.running = false
	return nil
}

// FailNextStarts rejects the next n Start calls.
func (m *Mock) FailNextStarts(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
}

func (m *Mock) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Mock) Language() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.language
}

func (m *Mock) StartCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startCnt
}

func (m *Mock) StopCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopCnt
}

// FireStarted delivers a started event, marking the engine running.
func (m *Mock) FireStarted() {
	m.mu.Lock()
	m.running = true
	ev := m.ev
	m.mu.Unlock()
	ev.Started()
}

// FireEnded delivers an ended event, marking the engine stopped.
func (m *Mock) FireEnded() {
	m.mu.Lock()
	m.running = false
	ev := m.ev
	m.mu.Unlock()
	ev.Ended()
}

// FireError delivers an error event of the given kind.
func (m *Mock) FireError(kind string) {
	m.mu.Lock()
	ev := m.ev
	m.mu.Unlock()
	ev.Error(kind)
}

// FireResult delivers a result event.
func (m *Mock) FireResult(res ResultEvent) {
	m.mu.Lock()
	ev := m.ev
	m.mu.Unlock()
	ev.Result(res)
}
