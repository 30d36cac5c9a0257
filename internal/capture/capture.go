package capture

import (
	"context"
	"errors"

	"github.com/livecap/livecapd/internal/config"
)

// ErrPermissionDenied is returned by Acquire when the microphone cannot be
// opened for permission reasons. It is terminal for the session that
// requested it.
var ErrPermissionDenied = errors.New("microphone permission denied")

// Constraints requested when acquiring the microphone.
type Constraints struct {
	Device           string
	SampleRate       int
	Channels         int
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// ConstraintsFromConfig builds acquisition constraints from capture config.
func ConstraintsFromConfig(cfg config.CaptureConfig) Constraints {
	return Constraints{
		Device:           cfg.Device,
		SampleRate:       cfg.SampleRate,
		Channels:         cfg.Channels,
		EchoCancellation: cfg.EchoCancellation,
		NoiseSuppression: cfg.NoiseSuppression,
		AutoGainControl:  cfg.AutoGainControl,
	}
}

// Handle is a revocable grant on the microphone. Frames yields captured PCM
// frames until Release closes it. Release stops the underlying tracks and is
// mandatory on every exit path from a listening session.
type Handle interface {
	Frames() <-chan []int16
	Release()
}

// Source acquires the microphone. Acquire is the only suspending operation
// in the session path; everything else is immediate.
type Source interface {
	Acquire(ctx context.Context, c Constraints) (Handle, error)
}
