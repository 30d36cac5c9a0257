package protocol

import "time"

// Caption is a transcription update broadcast on the bus. Interim captions
// are provisional and overwritten by the next update; final captions are
// immutable transcript entries.
type Caption struct {
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	Language  string    `json:"language"`
	Interim   bool      `json:"interim"`
	Timestamp time.Time `json:"timestamp"`
}

// Status reports a session state transition.
type Status struct {
	SessionID string    `json:"session_id,omitempty"`
	State     string    `json:"state"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Control commands accepted on the ctrl.caption.* subjects.
type StartCommand struct {
	Language string `json:"language,omitempty"`
}

type LanguageCommand struct {
	Language string `json:"language"`
}

type AutoRestartCommand struct {
	Enabled bool `json:"enabled"`
}

type VisibilityCommand struct {
	Hidden bool `json:"hidden"`
}

const (
	SubjectCaptionInterim = "caption.text.interim"
	SubjectCaptionFinal   = "caption.text.final"
	SubjectSessionStatus  = "caption.session.status"

	SubjectCtrlStart       = "ctrl.caption.start"
	SubjectCtrlStop        = "ctrl.caption.stop"
	SubjectCtrlLanguage    = "ctrl.caption.language"
	SubjectCtrlAutoRestart = "ctrl.caption.autorestart"
	SubjectCtrlVisibility  = "ctrl.caption.visibility"
)
