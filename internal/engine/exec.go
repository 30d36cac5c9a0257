package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/livecap/livecapd/internal/config"
	"github.com/mattn/go-shellwords"
)

// execEngine drives an external recognizer process. Each Start spawns one
// process (one recognizer session); the process streams JSON event lines on
// stdout and its exit is observed as the session's natural end.
type execEngine struct {
	cmd       []string
	modelPath string
	ev        Events
	log       *slog.Logger

	mu        sync.Mutex
	language  string
	proc      *exec.Cmd
	cancel    context.CancelFunc
	endedSent bool
}

type execEventLine struct {
	Event    string `json:"event"` // started, result, error, ended
	Kind     string `json:"kind,omitempty"`
	Index    int    `json:"index,omitempty"`
	Segments []struct {
		Text  string `json:"text"`
		Final bool   `json:"final"`
	} `json:"segments,omitempty"`
}

// NewExecFactory builds engine instances that spawn cfg.Command. The command
// string is parsed once; instances append per-session flags for language,
// continuous operation and interim results.
func NewExecFactory(cfg config.EngineConfig, log *slog.Logger) (Factory, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse engine command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("engine command is empty")
	}
	logger := log.With(slog.String("component", "exec-engine"))
	return func(language string, ev Events) (Engine, error) {
		return &execEngine{
			cmd:       args,
			modelPath: cfg.ModelPath,
			ev:        ev.ensure(),
			log:       logger,
			language:  language,
		}, nil
	}, nil
}

func (e *execEngine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.proc != nil {
		return fmt.Errorf("engine already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	base := e.cmd[0]
	args := append([]string{}, e.cmd[1:]...)
	args = append(args, "--language", e.language, "--continuous", "--interim")
	if e.modelPath != "" {
		args = append(args, "--model", e.modelPath)
	}

	cmd := exec.CommandContext(ctx, base, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("engine stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("spawn recognizer: %w", err)
	}

	e.proc = cmd
	e.cancel = cancel
	e.endedSent = false
	go e.readEvents(cmd, stdout)
	return nil
}

func (e *execEngine) readEvents(cmd *exec.Cmd, stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var evt execEventLine
		if err := json.Unmarshal(line, &evt); err != nil {
			e.log.Warn("failed to decode recognizer event", slog.String("error", err.Error()))
			continue
		}
		switch evt.Event {
		case "started":
			e.ev.Started()
		case "result":
			res := ResultEvent{Index: evt.Index}
			for _, seg := range evt.Segments {
				res.Segments = append(res.Segments, Segment{Text: seg.Text, Final: seg.Final})
			}
			e.ev.Result(res)
		case "error":
			e.ev.Error(evt.Kind)
		case "ended":
			e.markEnded()
			e.ev.Ended()
		default:
			e.log.Warn("unknown recognizer event", slog.String("event", evt.Event))
		}
	}

	_ = cmd.Wait()

	// The recognizer is session-bounded: process exit without an explicit
	// ended line still terminates the session.
	e.mu.Lock()
	sendEnded := !e.endedSent
	e.endedSent = true
	if e.proc == cmd {
		e.proc = nil
	}
	e.mu.Unlock()
	if sendEnded {
		e.ev.Ended()
	}
}

func (e *execEngine) markEnded() {
	e.mu.Lock()
	e.endedSent = true
	e.mu.Unlock()
}

func (e *execEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.proc == nil {
		return fmt.Errorf("engine not running")
	}
	if e.cancel != nil {
		e.cancel()
	}
	e.proc = nil
	return nil
}

func (e *execEngine) SetLanguage(tag string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.language = tag
}

func (e *execEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.proc = nil
	return nil
}
