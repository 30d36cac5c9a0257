package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/livecap/livecapd/internal/capture"
	"github.com/livecap/livecapd/internal/config"
	"github.com/livecap/livecapd/internal/engine"
	"github.com/livecap/livecapd/internal/transcript"
)

// Status is the session state exposed to consumers.
type Status string

const (
	StatusIdle         Status = "Idle"
	StatusInitializing Status = "Initializing microphone…"
	StatusListening    Status = "Listening…"
	StatusRestarting   Status = "Restarting…"
	StatusStopped      Status = "Stopped"
)

// Snapshot is a point-in-time view of the session.
type Snapshot struct {
	SessionID           string
	Status              Status
	Error               string
	Language            string
	Interim             string
	Listening           bool
	AutoRestart         bool
	ConsecutiveFailures int
}

// Hooks receive session output. All hooks are invoked from the controller's
// event loop and must not block.
type Hooks struct {
	StatusChanged func(Snapshot)
	Interim       func(sessionID, language, text string)
	Final         func(entry transcript.Entry)
	Acquired      func(sessionID string, h capture.Handle)
}

// Config tunes one controller.
type Config struct {
	Language                string
	AutoRestart             bool
	Policy                  Policy
	ActivityTimeout         time.Duration
	ActivityCheckInterval   time.Duration
	PeriodicRefreshInterval time.Duration
	ResumeDelay             time.Duration
	AcquireTimeout          time.Duration
	Constraints             capture.Constraints
}

// ConfigFrom builds controller config from the application config.
func ConfigFrom(app config.Config) Config {
	s := app.Session
	return Config{
		Language:                app.Engine.Language,
		AutoRestart:             s.AutoRestart,
		Policy:                  PolicyFromConfig(s),
		ActivityTimeout:         time.Duration(s.ActivityTimeoutMS) * time.Millisecond,
		ActivityCheckInterval:   time.Duration(s.ActivityCheckIntervalMS) * time.Millisecond,
		PeriodicRefreshInterval: time.Duration(s.PeriodicRefreshIntervalMS) * time.Millisecond,
		ResumeDelay:             time.Duration(s.ResumeDelayMS) * time.Millisecond,
		AcquireTimeout:          10 * time.Second,
		Constraints:             capture.ConstraintsFromConfig(app.Capture),
	}
}

// Deps are the controller's collaborators.
type Deps struct {
	Log     *slog.Logger
	Adapter *engine.Adapter
	Source  capture.Source
	Store   *transcript.Store
	Filter  func(ctx context.Context, text string) string
	Hooks   Hooks
	Clock   func() time.Time
}

// Controller owns the listening intent and maps it onto a sequence of engine
// instances. All state below the deps is owned by the event loop: engine
// callbacks, timers and commands are serialized onto one channel, so handlers
// never overlap and no locking is needed.
type Controller struct {
	cfg     Config
	log     *slog.Logger
	adapter *engine.Adapter
	source  capture.Source
	store   *transcript.Store
	filter  func(ctx context.Context, text string) string
	hooks   Hooks
	clock   func() time.Time

	activity *ActivityTracker
	metrics  *sessionMetrics

	events chan any
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Loop-owned session state.
	listening      bool
	autoRestart    bool
	restartPending bool
	failures       int
	language       string
	sessionID      string
	hidden         bool
	wasHidden      bool
	status         Status
	lastError      string
	interim        string
	mic            capture.Handle
}

type cmdStart struct {
	language string
	done     chan error
}

type cmdStop struct {
	done chan struct{}
}

type cmdSetLanguage struct{ language string }
type cmdSetAutoRestart struct{ enabled bool }
type cmdSetHidden struct{ hidden bool }
type cmdSnapshot struct{ reply chan Snapshot }

type evStarted struct{}
type evEnded struct{}
type evError struct{ kind string }
type evResult struct{ res engine.ResultEvent }

type evRestartTimer struct {
	gen      uint64
	recreate bool
}

type evResumeTimer struct{ gen uint64 }

func New(parent context.Context, cfg Config, deps Deps) *Controller {
	ctx, cancel := context.WithCancel(parent)
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	c := &Controller{
		cfg:         cfg,
		log:         deps.Log.With(slog.String("component", "session-controller")),
		adapter:     deps.Adapter,
		source:      deps.Source,
		store:       deps.Store,
		filter:      deps.Filter,
		hooks:       deps.Hooks,
		clock:       clock,
		activity:    NewActivityTracker(clock),
		metrics:     newSessionMetrics(deps.Log),
		events:      make(chan any, 128),
		ctx:         ctx,
		cancel:      cancel,
		autoRestart: cfg.AutoRestart,
		language:    cfg.Language,
		status:      StatusIdle,
	}
	return c
}

// Run starts the event loop.
func (c *Controller) Run() {
	c.wg.Add(1)
	go c.loop()
}

// Close stops the loop and releases the microphone and engine.
func (c *Controller) Close() {
	c.cancel()
	c.wg.Wait()
	c.adapter.Close()
	if c.mic != nil {
		c.mic.Release()
		c.mic = nil
	}
}

// StartSession begins listening in the given language (empty keeps the
// current selection). The returned error reports microphone denial; engine
// trouble is handled internally and never surfaces here.
func (c *Controller) StartSession(language string) error {
	done := make(chan error, 1)
	c.post(cmdStart{language: language, done: done})
	select {
	case err := <-done:
		return err
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
}

// StopSession clears the listening intent and releases the microphone.
func (c *Controller) StopSession() {
	done := make(chan struct{})
	c.post(cmdStop{done: done})
	select {
	case <-done:
	case <-c.ctx.Done():
	}
}

// SetLanguage selects the recognition locale. While listening, the current
// engine session is stopped and the natural end-handling resumes under the
// new language.
func (c *Controller) SetLanguage(tag string) {
	c.post(cmdSetLanguage{language: tag})
}

// SetAutoRestart toggles automatic recovery.
func (c *Controller) SetAutoRestart(enabled bool) {
	c.post(cmdSetAutoRestart{enabled: enabled})
}

// SetHidden feeds the visibility signal. Hiding pauses recognition without
// clearing the listening intent; restoring resumes it after a short delay.
func (c *Controller) SetHidden(hidden bool) {
	c.post(cmdSetHidden{hidden: hidden})
}

// Snapshot returns the current session state.
func (c *Controller) Snapshot() Snapshot {
	reply := make(chan Snapshot, 1)
	c.post(cmdSnapshot{reply: reply})
	select {
	case s := <-reply:
		return s
	case <-c.ctx.Done():
		return Snapshot{Status: StatusStopped}
	}
}

func (c *Controller) post(ev any) {
	select {
	case c.events <- ev:
	case <-c.ctx.Done():
	}
}

func (c *Controller) loop() {
	defer c.wg.Done()

	activityTicker := time.NewTicker(c.cfg.ActivityCheckInterval)
	defer activityTicker.Stop()
	refreshTicker := time.NewTicker(c.cfg.PeriodicRefreshInterval)
	defer refreshTicker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case ev := <-c.events:
			c.handle(ev)
		case <-activityTicker.C:
			c.handleActivityTick()
		case <-refreshTicker.C:
			c.handleRefreshTick()
		}
	}
}

func (c *Controller) handle(ev any) {
	switch ev := ev.(type) {
	case cmdStart:
		ev.done <- c.handleStart(ev.language)
	case cmdStop:
		c.handleStop()
		close(ev.done)
	case cmdSetLanguage:
		c.handleSetLanguage(ev.language)
	case cmdSetAutoRestart:
		c.autoRestart = ev.enabled
		c.publishStatus()
	case cmdSetHidden:
		c.handleSetHidden(ev.hidden)
	case cmdSnapshot:
		ev.reply <- c.snapshot()
	case evStarted:
		c.handleStarted()
	case evEnded:
		c.handleEnded()
	case evError:
		c.handleError(ev.kind)
	case evResult:
		c.handleResult(ev.res)
	case evRestartTimer:
		c.executeRestart(ev.recreate, ev.gen)
	case evResumeTimer:
		c.handleResume(ev.gen)
	}
}

func (c *Controller) engineEvents() engine.Events {
	return engine.Events{
		Started: func() { c.post(evStarted{}) },
		Ended:   func() { c.post(evEnded{}) },
		Error:   func(kind string) { c.post(evError{kind: kind}) },
		Result:  func(res engine.ResultEvent) { c.post(evResult{res: res}) },
	}
}

func (c *Controller) handleStart(language string) error {
	if c.listening {
		return nil
	}
	if language == "" {
		language = c.language
	}

	c.transition(StatusInitializing)

	acquireCtx, cancel := context.WithTimeout(c.ctx, c.cfg.AcquireTimeout)
	mic, err := c.source.Acquire(acquireCtx, c.cfg.Constraints)
	cancel()
	if err != nil {
		c.lastError = fmt.Sprintf("microphone unavailable: %v", err)
		c.transition(StatusIdle)
		c.publishStatus()
		return err
	}

	c.mic = mic
	c.sessionID = uuid.NewString()
	c.language = language
	c.listening = true
	c.setFailures(0)
	c.wasHidden = false
	c.interim = ""
	c.activity.MarkActivity()

	if c.hooks.Acquired != nil {
		c.hooks.Acquired(c.sessionID, mic)
	}

	if !c.adapter.HasInstance() {
		c.recreateEngine()
	} else {
		c.adapter.SetLanguage(language)
	}
	if !c.adapter.Start() {
		c.recreateEngine()
		if !c.adapter.Start() {
			c.log.Warn("engine did not accept start; waiting for events")
		}
	}

	c.log.Info("captioning session started",
		slog.String("session_id", c.sessionID),
		slog.String("language", c.language))
	c.publishStatus()
	return nil
}

func (c *Controller) handleStop() {
	if !c.listening && c.mic == nil && (c.status == StatusStopped || c.status == StatusIdle) {
		return
	}
	c.listening = false
	c.setFailures(0)
	c.wasHidden = false
	c.restartPending = false
	c.interim = ""
	c.adapter.Stop()
	if c.mic != nil {
		c.mic.Release()
		c.mic = nil
	}
	c.transition(StatusStopped)
	c.log.Info("captioning session stopped", slog.String("session_id", c.sessionID))
}

func (c *Controller) handleStarted() {
	if !c.listening {
		return
	}
	c.lastError = ""
	c.setFailures(0)
	c.restartPending = false
	c.activity.MarkActivity()
	c.transition(StatusListening)
	c.publishStatus()
}

func (c *Controller) handleEnded() {
	if !c.listening {
		return
	}
	if c.wasHidden {
		// Paused for hiding; resume is driven by the visibility signal.
		return
	}
	if c.restartPending {
		// The error handler already scheduled a restart for this cycle.
		return
	}
	d := c.cfg.Policy.Decide(TriggerEnded, "", c.failures, c.listening, c.autoRestart)
	if d.Action != ActionRestart {
		c.handleStop()
		return
	}
	c.setFailures(c.failures + 1)
	c.transition(StatusRestarting)
	c.scheduleRestart(TriggerEnded, d)
}

func (c *Controller) handleError(kind string) {
	c.lastError = kind
	c.metrics.engineError(kind)

	d := c.cfg.Policy.Decide(TriggerError, kind, c.failures, c.listening, c.autoRestart)
	switch d.Action {
	case ActionStop:
		c.log.Warn("permission error from engine; stopping session", slog.String("kind", kind))
		c.handleStop()
		c.publishStatus()
	case ActionRestart:
		if c.restartPending {
			return
		}
		c.setFailures(c.failures + 1)
		c.transition(StatusRestarting)
		c.scheduleRestart(TriggerError, d)
	default:
		c.publishStatus()
	}
}

func (c *Controller) handleResult(res engine.ResultEvent) {
	if !c.listening {
		return
	}
	c.activity.MarkActivity()

	var finals, interims []string
	for _, seg := range res.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if seg.Final {
			finals = append(finals, text)
		} else {
			interims = append(interims, text)
		}
	}

	if finalText := strings.Join(finals, " "); finalText != "" {
		out := finalText
		if c.filter != nil {
			out = c.filter(c.ctx, finalText)
		}
		if out != "" {
			entry := transcript.Entry{
				SessionID:  c.sessionID,
				Language:   c.language,
				Text:       out,
				CapturedAt: c.clock().UTC(),
			}
			if err := c.store.Append(c.ctx, entry); err != nil {
				c.log.Warn("failed to store transcript entry", slog.String("error", err.Error()))
			}
			if c.hooks.Final != nil {
				c.hooks.Final(entry)
			}
			c.metrics.caption(true)
		}
		// A final result always clears the interim display in the same
		// event cycle.
		c.interim = ""
		if c.hooks.Interim != nil {
			c.hooks.Interim(c.sessionID, c.language, "")
		}
		return
	}

	if len(interims) == 0 {
		return
	}
	c.interim = strings.Join(interims, " ")
	c.metrics.caption(false)
	if c.hooks.Interim != nil {
		c.hooks.Interim(c.sessionID, c.language, c.interim)
	}
}

func (c *Controller) handleSetLanguage(tag string) {
	if tag == "" || tag == c.language {
		return
	}
	c.language = tag
	c.adapter.SetLanguage(tag)
	if c.listening {
		// Soft restart: the stop produces a natural ended event and the
		// normal end-handling starts a session under the new language.
		c.adapter.Stop()
	}
	c.publishStatus()
}

func (c *Controller) handleSetHidden(hidden bool) {
	if hidden == c.hidden {
		return
	}
	c.hidden = hidden

	if hidden {
		if c.listening {
			c.wasHidden = true
			c.adapter.Stop()
		}
		return
	}

	if c.listening && c.wasHidden {
		c.wasHidden = false
		c.activity.MarkActivity()
		gen := c.adapter.Generation()
		if c.cfg.ResumeDelay > 0 {
			time.AfterFunc(c.cfg.ResumeDelay, func() {
				c.post(evResumeTimer{gen: gen})
			})
		} else {
			c.post(evResumeTimer{gen: gen})
		}
	}
}

func (c *Controller) handleResume(gen uint64) {
	if !c.listening || c.hidden {
		return
	}
	if gen != c.adapter.Generation() {
		return
	}
	c.transition(StatusRestarting)
	c.metrics.restart(TriggerVisibilityRestored)
	c.startWithFallback()
}

func (c *Controller) handleActivityTick() {
	if !c.listening || c.wasHidden {
		return
	}
	idle := c.activity.IdleDuration()
	if idle <= c.cfg.ActivityTimeout {
		return
	}
	c.log.Info("no recognition activity, forcing engine recreation",
		slog.Duration("idle", idle))
	// Reset the clock before restarting so the check cannot re-fire ahead
	// of the new instance's first activity.
	c.activity.MarkActivity()
	d := c.cfg.Policy.Decide(TriggerActivityTimeout, "", c.failures, c.listening, c.autoRestart)
	if d.Action == ActionRestart {
		c.transition(StatusRestarting)
		c.scheduleRestart(TriggerActivityTimeout, d)
	}
}

func (c *Controller) handleRefreshTick() {
	if !c.listening || c.wasHidden {
		return
	}
	c.log.Info("periodic engine refresh")
	d := c.cfg.Policy.Decide(TriggerPeriodicRefresh, "", c.failures, c.listening, c.autoRestart)
	if d.Action == ActionRestart {
		c.transition(StatusRestarting)
		c.scheduleRestart(TriggerPeriodicRefresh, d)
	}
}

func (c *Controller) scheduleRestart(trigger Trigger, d Decision) {
	c.metrics.restart(trigger)
	c.restartPending = true
	gen := c.adapter.Generation()
	if d.Delay <= 0 {
		c.executeRestart(d.Recreate, gen)
		return
	}
	time.AfterFunc(d.Delay, func() {
		c.post(evRestartTimer{gen: gen, recreate: d.Recreate})
	})
}

// executeRestart performs a (possibly deferred) restart. Deferred actions
// re-validate the listening intent and the engine generation at fire time;
// this re-validation is the only cancellation mechanism for restart timers.
func (c *Controller) executeRestart(recreate bool, gen uint64) {
	c.restartPending = false
	if !c.listening || c.wasHidden {
		return
	}
	if gen != c.adapter.Generation() {
		return
	}
	if recreate {
		c.recreateEngine()
	}
	c.startWithFallback()
}

func (c *Controller) startWithFallback() {
	if c.adapter.Start() {
		return
	}
	c.recreateEngine()
	if !c.adapter.Start() {
		c.log.Warn("engine restart failed after recreation; awaiting next trigger")
	}
}

func (c *Controller) recreateEngine() {
	if err := c.adapter.Create(c.language, c.engineEvents()); err != nil {
		c.log.Warn("engine recreation failed", slog.String("error", err.Error()))
		return
	}
	c.metrics.recreate()
}

func (c *Controller) setFailures(n int) {
	c.failures = n
	c.metrics.setFailures(n)
}

func (c *Controller) snapshot() Snapshot {
	return Snapshot{
		SessionID:           c.sessionID,
		Status:              c.status,
		Error:               c.lastError,
		Language:            c.language,
		Interim:             c.interim,
		Listening:           c.listening,
		AutoRestart:         c.autoRestart,
		ConsecutiveFailures: c.failures,
	}
}

func (c *Controller) transition(status Status) {
	if c.status == status {
		return
	}
	c.status = status
	c.publishStatus()
}

func (c *Controller) publishStatus() {
	if c.hooks.StatusChanged != nil {
		c.hooks.StatusChanged(c.snapshot())
	}
}
