package capture

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Recorder tees captured PCM frames into a 16-bit WAV file, one file per
// captioning session.
type Recorder struct {
	file *os.File
	enc  *wav.Encoder
	log  *slog.Logger
	done chan struct{}
}

// NewRecorder opens <dir>/session-<id>.wav for writing.
func NewRecorder(dir, sessionID string, sampleRate, channels int, log *slog.Logger) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create record dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("session-%s.wav", sessionID))
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create session recording: %w", err)
	}
	return &Recorder{
		file: file,
		enc:  wav.NewEncoder(file, sampleRate, 16, channels, 1),
		log:  log.With(slog.String("component", "recorder"), slog.String("path", path)),
		done: make(chan struct{}),
	}, nil
}

// Consume drains frames until the channel closes, then finalizes the file.
// It is meant to run in its own goroutine; Wait blocks until it finishes.
func (r *Recorder) Consume(frames <-chan []int16, sampleRate, channels int) {
	defer close(r.done)
	format := &audio.Format{NumChannels: channels, SampleRate: sampleRate}
	for frame := range frames {
		buf := &audio.IntBuffer{Format: format, Data: make([]int, len(frame))}
		for i, s := range frame {
			buf.Data[i] = int(s)
		}
		if err := r.enc.Write(buf); err != nil {
			r.log.Warn("failed to write recording frame", slog.String("error", err.Error()))
		}
	}
	if err := r.enc.Close(); err != nil {
		r.log.Warn("failed to finalize recording", slog.String("error", err.Error()))
	}
	if err := r.file.Close(); err != nil {
		r.log.Warn("failed to close recording file", slog.String("error", err.Error()))
	}
	r.log.Info("session recording written")
}

// Wait blocks until Consume has finalized the file.
func (r *Recorder) Wait() {
	<-r.done
}
