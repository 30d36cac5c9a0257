package capture

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"
)

const framesPerBuffer = 512

// PortAudioSource opens the microphone through PortAudio. Software
// constraints (echo cancellation, noise suppression, auto gain) have no
// PortAudio equivalent; they are recorded for diagnostics only.
type PortAudioSource struct {
	log *slog.Logger
}

func NewPortAudioSource(log *slog.Logger) *PortAudioSource {
	return &PortAudioSource{log: log.With(slog.String("component", "capture"))}
}

func (s *PortAudioSource) Acquire(ctx context.Context, c Constraints) (Handle, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}

	buffer := make([]int16, framesPerBuffer*c.Channels)
	stream, err := s.openStream(c, buffer)
	if err != nil {
		_ = portaudio.Terminate()
		// Device-level open failures on an input device are permission
		// faults from the session's point of view.
		return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}

	s.log.Info("microphone acquired",
		slog.String("device", c.Device),
		slog.Int("sample_rate", c.SampleRate),
		slog.Int("channels", c.Channels),
		slog.Bool("echo_cancellation", c.EchoCancellation),
		slog.Bool("noise_suppression", c.NoiseSuppression),
		slog.Bool("auto_gain_control", c.AutoGainControl))

	h := &portAudioHandle{
		stream: stream,
		buffer: buffer,
		frames: make(chan []int16, 16),
		done:   make(chan struct{}),
		log:    s.log,
	}
	go h.pump()
	return h, nil
}

func (s *PortAudioSource) openStream(c Constraints, buffer []int16) (*portaudio.Stream, error) {
	if c.Device == "" || c.Device == "default" {
		return portaudio.OpenDefaultStream(c.Channels, 0, float64(c.SampleRate), framesPerBuffer, buffer)
	}
	device, err := findInputDevice(c.Device)
	if err != nil {
		s.log.Warn("requested device not found, using default", slog.String("device", c.Device))
		return portaudio.OpenDefaultStream(c.Channels, 0, float64(c.SampleRate), framesPerBuffer, buffer)
	}
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: c.Channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      float64(c.SampleRate),
		FramesPerBuffer: framesPerBuffer,
	}
	return portaudio.OpenStream(params, buffer)
}

func findInputDevice(name string) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.MaxInputChannels > 0 && strings.Contains(strings.ToLower(d.Name), strings.ToLower(name)) {
			return d, nil
		}
	}
	return nil, fmt.Errorf("input device %q not found", name)
}

type portAudioHandle struct {
	stream *portaudio.Stream
	buffer []int16
	frames chan []int16
	done   chan struct{}
	once   sync.Once
	log    *slog.Logger
}

func (h *portAudioHandle) pump() {
	defer close(h.frames)
	for {
		select {
		case <-h.done:
			return
		default:
		}
		if err := h.stream.Read(); err != nil {
			select {
			case <-h.done:
			default:
				h.log.Warn("microphone read failed", slog.String("error", err.Error()))
			}
			return
		}
		frame := append([]int16(nil), h.buffer...)
		select {
		case h.frames <- frame:
		case <-h.done:
			return
		default:
			// Drop the frame rather than stall capture when no consumer
			// keeps up; frames only feed the optional session recorder.
		}
	}
}

func (h *portAudioHandle) Frames() <-chan []int16 {
	return h.frames
}

func (h *portAudioHandle) Release() {
	h.once.Do(func() {
		close(h.done)
		if err := h.stream.Stop(); err != nil {
			h.log.Warn("microphone stop failed", slog.String("error", err.Error()))
		}
		if err := h.stream.Close(); err != nil {
			h.log.Warn("microphone close failed", slog.String("error", err.Error()))
		}
		if err := portaudio.Terminate(); err != nil {
			h.log.Warn("portaudio terminate failed", slog.String("error", err.Error()))
		}
		h.log.Info("microphone released")
	})
}
