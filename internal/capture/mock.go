package capture

import (
	"context"
	"sync"
)

// MockSource grants or denies microphone access without touching hardware.
type MockSource struct {
	mu      sync.Mutex
	denyErr error
	handles []*MockHandle
}

func NewMockSource() *MockSource {
	return &MockSource{}
}

// DenyWith makes subsequent Acquire calls fail with err.
func (s *MockSource) DenyWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.denyErr = err
}

func (s *MockSource) Acquire(_ context.Context, _ Constraints) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.denyErr != nil {
		return nil, s.denyErr
	}
	h := &MockHandle{frames: make(chan []int16)}
	s.handles = append(s.handles, h)
	return h, nil
}

// Handles returns every handle granted so far.
func (s *MockSource) Handles() []*MockHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*MockHandle(nil), s.handles...)
}

type MockHandle struct {
	mu       sync.Mutex
	frames   chan []int16
	released bool
}

func (h *MockHandle) Frames() <-chan []int16 {
	return h.frames
}

func (h *MockHandle) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return
	}
	h.released = true
	close(h.frames)
}

func (h *MockHandle) Released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

// Push feeds a PCM frame to consumers; used to exercise recording.
func (h *MockHandle) Push(frame []int16) {
	h.mu.Lock()
	released := h.released
	h.mu.Unlock()
	if released {
		return
	}
	h.frames <- frame
}
