package engine

// Error kinds reported by recognition engines. The set mirrors what real
// recognition services emit; unknown kinds are treated as restartable so new
// service-side codes never wedge a session.
const (
	KindNetwork           = "network"
	KindNoSpeech          = "no-speech"
	KindAudioCapture      = "audio-capture"
	KindAborted           = "aborted"
	KindServiceNotAllowed = "service-not-allowed"
	KindNotAllowed        = "not-allowed"
	KindPermissionDenied  = "permission-denied"
)

// Class partitions error kinds by recoverability.
type Class int

const (
	// ClassRestartable errors are transient; the session may restart.
	ClassRestartable Class = iota
	// ClassPermission errors are terminal for the session and never retried.
	ClassPermission
)

// Classify maps an error kind to its recovery class.
func Classify(kind string) Class {
	switch kind {
	case KindNotAllowed, KindPermissionDenied:
		return ClassPermission
	default:
		return ClassRestartable
	}
}

// Segment is one recognition alternative within a result event.
type Segment struct {
	Text  string
	Final bool
}

// ResultEvent carries the segments of one recognizer result callback. Index
// marks the first entry that changed since the previous event.
type ResultEvent struct {
	Index    int
	Segments []Segment
}

// Events holds the callbacks an engine instance invokes. Callbacks are
// invoked sequentially per instance; a nil callback is replaced by a no-op.
type Events struct {
	Started func()
	Ended   func()
	Error   func(kind string)
	Result  func(ev ResultEvent)
}

func (e Events) ensure() Events {
	if e.Started == nil {
		e.Started = func() {}
	}
	if e.Ended == nil {
		e.Ended = func() {}
	}
	if e.Error == nil {
		e.Error = func(string) {}
	}
	if e.Result == nil {
		e.Result = func(ResultEvent) {}
	}
	return e
}

// Engine is one session-bounded instance of the external recognizer. Start
// and Stop may be rejected by the underlying service; callers treat both as
// best effort. SetLanguage takes effect on the next started session.
type Engine interface {
	Start() error
	Stop() error
	SetLanguage(tag string)
	Close() error
}

// Factory constructs a fresh engine instance bound to one language and one
// set of event subscriptions.
type Factory func(language string, ev Events) (Engine, error)
