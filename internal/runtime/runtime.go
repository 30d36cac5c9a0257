package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/livecap/livecapd/internal/bus"
	"github.com/livecap/livecapd/internal/capture"
	"github.com/livecap/livecapd/internal/config"
	"github.com/livecap/livecapd/internal/engine"
	"github.com/livecap/livecapd/internal/filter"
	"github.com/livecap/livecapd/internal/natsserver"
	"github.com/livecap/livecapd/internal/protocol"
	"github.com/livecap/livecapd/internal/session"
	"github.com/livecap/livecapd/internal/transcript"
)

// version is stamped at build time via -ldflags.
var version = "0.1.0-dev"

// Version reports the daemon version.
func Version() string { return version }

// Runtime assembles the captioning daemon: telemetry, the message bus, the
// transcript store, the capture source, the recognition engine and the
// session controller, plus the HTTP surface.
type Runtime struct {
	cfg    config.Config
	logger *slog.Logger

	httpServer     *http.Server
	telemetryClose func(context.Context) error
	embedded       *natsserver.EmbeddedServer
	busClient      *bus.Client
	store          *transcript.Store
	captionFilter  *filter.Filter
	controller     *session.Controller
	subs           []*nats.Subscription

	ready atomic.Bool
	wg    sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings up all components and blocks until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetryClose = shutdownTelemetry

	// Any failure past this point tears down whatever came up already;
	// shutdown tolerates components that never started.
	if r.cfg.Bus.Enabled {
		embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			r.shutdown()
			return fmt.Errorf("start embedded bus: %w", err)
		}
		r.embedded = embedded

		busCfg := r.cfg.Bus
		if busCfg.Embedded {
			busCfg.Servers = []string{fmt.Sprintf("nats://127.0.0.1:%d", busCfg.Port)}
		}
		client, err := bus.Connect(busCfg, r.logger)
		if err != nil {
			r.shutdown()
			return fmt.Errorf("connect to bus: %w", err)
		}
		r.busClient = client
	}

	store, err := transcript.Open(ctx, r.cfg.Transcript, r.logger)
	if err != nil {
		r.shutdown()
		return fmt.Errorf("open transcript store: %w", err)
	}
	r.store = store

	captionFilter, err := filter.Open(ctx, r.cfg.Filter, r.logger)
	if err != nil {
		r.shutdown()
		return fmt.Errorf("open caption filter: %w", err)
	}
	r.captionFilter = captionFilter

	source, err := r.buildCaptureSource()
	if err != nil {
		r.shutdown()
		return err
	}
	factory, err := r.buildEngineFactory()
	if err != nil {
		r.shutdown()
		return err
	}

	adapter := engine.NewAdapter(factory, r.logger)
	r.controller = session.New(ctx, session.ConfigFrom(r.cfg), session.Deps{
		Log:     r.logger,
		Adapter: adapter,
		Source:  source,
		Store:   store,
		Filter:  captionFilter.Transform,
		Hooks:   r.sessionHooks(),
	})
	r.controller.Run()

	if err := r.subscribeControl(); err != nil {
		r.shutdown()
		return fmt.Errorf("subscribe control subjects: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/status", r.handleStatus)
	mux.HandleFunc("/transcript", r.handleTranscript)
	mux.HandleFunc("/start", r.handleStart)
	mux.HandleFunc("/stop", r.handleStop)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("engine_mode", r.cfg.Engine.Mode),
		slog.String("capture_backend", r.cfg.Capture.Backend))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)
	r.shutdown()
	return nil
}

// shutdown releases components in reverse start order. It is also the
// cleanup path for failed starts, so every step tolerates a component that
// never came up.
func (r *Runtime) shutdown() {
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if r.httpServer != nil {
		if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	for _, sub := range r.subs {
		_ = sub.Drain()
	}
	// Closing the controller releases the microphone, which ends any
	// recorder goroutine counted in the wait group.
	if r.controller != nil {
		r.controller.Close()
	}
	r.wg.Wait()
	if err := r.captionFilter.Close(shutdownCtx); err != nil {
		r.logger.Error("filter shutdown error", slog.String("error", err.Error()))
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Error("transcript store close error", slog.String("error", err.Error()))
		}
	}
	r.busClient.Close()
	r.embedded.Shutdown()

	if r.telemetryClose != nil {
		if err := r.telemetryClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}

func (r *Runtime) buildCaptureSource() (capture.Source, error) {
	switch r.cfg.Capture.Backend {
	case "portaudio":
		return capture.NewPortAudioSource(r.logger), nil
	case "mock":
		return capture.NewMockSource(), nil
	default:
		return nil, fmt.Errorf("unknown capture backend %q", r.cfg.Capture.Backend)
	}
}

func (r *Runtime) buildEngineFactory() (engine.Factory, error) {
	switch r.cfg.Engine.Mode {
	case "exec":
		return engine.NewExecFactory(r.cfg.Engine, r.logger)
	case "mock":
		return engine.NewMockFactory(engine.MockOptions{Announce: true}, nil), nil
	default:
		return nil, fmt.Errorf("unknown engine mode %q", r.cfg.Engine.Mode)
	}
}

func (r *Runtime) sessionHooks() session.Hooks {
	return session.Hooks{
		StatusChanged: func(snap session.Snapshot) {
			r.publish(protocol.SubjectSessionStatus, protocol.Status{
				SessionID: snap.SessionID,
				State:     string(snap.Status),
				Error:     snap.Error,
				Timestamp: time.Now().UTC(),
			})
		},
		Interim: func(sessionID, language, text string) {
			r.publish(protocol.SubjectCaptionInterim, protocol.Caption{
				SessionID: sessionID,
				Text:      text,
				Language:  language,
				Interim:   true,
				Timestamp: time.Now().UTC(),
			})
		},
		Final: func(entry transcript.Entry) {
			r.publish(protocol.SubjectCaptionFinal, protocol.Caption{
				SessionID: entry.SessionID,
				Text:      entry.Text,
				Language:  entry.Language,
				Timestamp: entry.CapturedAt,
			})
		},
		Acquired: func(sessionID string, h capture.Handle) {
			r.recordSession(sessionID, h)
		},
	}
}

// recordSession tees the session's audio into a WAV file when a record
// directory is configured.
func (r *Runtime) recordSession(sessionID string, h capture.Handle) {
	dir := r.cfg.Capture.RecordDir
	if dir == "" {
		return
	}
	rec, err := capture.NewRecorder(dir, sessionID, r.cfg.Capture.SampleRate, r.cfg.Capture.Channels, r.logger)
	if err != nil {
		r.logger.Warn("failed to start session recording", slog.String("error", err.Error()))
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		rec.Consume(h.Frames(), r.cfg.Capture.SampleRate, r.cfg.Capture.Channels)
	}()
}

func (r *Runtime) publish(subject string, payload any) {
	if !r.busClient.Healthy() {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		r.logger.Warn("failed to encode bus message", slog.String("subject", subject), slog.String("error", err.Error()))
		return
	}
	if err := r.busClient.Conn().Publish(subject, data); err != nil {
		r.logger.Warn("failed to publish bus message", slog.String("subject", subject), slog.String("error", err.Error()))
	}
}

func (r *Runtime) subscribeControl() error {
	if !r.busClient.Healthy() {
		return nil
	}
	conn := r.busClient.Conn()

	subscribe := func(subject string, handler nats.MsgHandler) error {
		sub, err := conn.Subscribe(subject, handler)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		r.subs = append(r.subs, sub)
		return nil
	}

	if err := subscribe(protocol.SubjectCtrlStart, func(msg *nats.Msg) {
		var cmd protocol.StartCommand
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &cmd); err != nil {
				r.logger.Warn("invalid start command", slog.String("error", err.Error()))
				return
			}
		}
		if err := r.controller.StartSession(cmd.Language); err != nil {
			r.logger.Warn("start command failed", slog.String("error", err.Error()))
		}
	}); err != nil {
		return err
	}

	if err := subscribe(protocol.SubjectCtrlStop, func(*nats.Msg) {
		r.controller.StopSession()
	}); err != nil {
		return err
	}

	if err := subscribe(protocol.SubjectCtrlLanguage, func(msg *nats.Msg) {
		var cmd protocol.LanguageCommand
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			r.logger.Warn("invalid language command", slog.String("error", err.Error()))
			return
		}
		r.controller.SetLanguage(cmd.Language)
	}); err != nil {
		return err
	}

	if err := subscribe(protocol.SubjectCtrlAutoRestart, func(msg *nats.Msg) {
		var cmd protocol.AutoRestartCommand
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			r.logger.Warn("invalid autorestart command", slog.String("error", err.Error()))
			return
		}
		r.controller.SetAutoRestart(cmd.Enabled)
	}); err != nil {
		return err
	}

	return subscribe(protocol.SubjectCtrlVisibility, func(msg *nats.Msg) {
		var cmd protocol.VisibilityCommand
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			r.logger.Warn("invalid visibility command", slog.String("error", err.Error()))
			return
		}
		r.controller.SetHidden(cmd.Hidden)
	})
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && (!r.cfg.Bus.Enabled || r.busClient.Healthy()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleStatus(w http.ResponseWriter, _ *http.Request) {
	snap := r.controller.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(protocol.Status{
		SessionID: snap.SessionID,
		State:     string(snap.Status),
		Error:     snap.Error,
		Timestamp: time.Now().UTC(),
	})
}

// handleTranscript serves the plain-text transcript download.
func (r *Runtime) handleTranscript(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="transcript.txt"`)
	if err := r.store.Export(req.Context(), w); err != nil {
		r.logger.Error("transcript export failed", slog.String("error", err.Error()))
	}
}

func (r *Runtime) handleStart(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	language := req.URL.Query().Get("language")
	if err := r.controller.StartSession(language); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (r *Runtime) handleStop(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	r.controller.StopSession()
	w.WriteHeader(http.StatusAccepted)
}
