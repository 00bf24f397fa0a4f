package domain

import "time"

// TurnState models who currently holds the audio floor.
type TurnState string

const (
	TurnStateIdle        TurnState = "idle"
	TurnStateSpeaking    TurnState = "speaking"
	TurnStateListening   TurnState = "listening"
	TurnStateRecovering  TurnState = "recovering"
	TurnStateAnalyzing   TurnState = "analyzing"
	TurnStateUnavailable TurnState = "unavailable"
)

// TurnReason provides a structured reason for turn transitions.
type TurnReason string

const (
	TurnReasonSessionStarted    TurnReason = "session_started"
	TurnReasonSessionStopped    TurnReason = "session_stopped"
	TurnReasonListening         TurnReason = "listening"
	TurnReasonNotListening      TurnReason = "not_listening"
	TurnReasonSpeaking          TurnReason = "speaking"
	TurnReasonRetryScheduled    TurnReason = "retry_scheduled"
	TurnReasonSpeechUnavailable TurnReason = "speech_unavailable"
	TurnReasonStartFailed       TurnReason = "speech_start_failed"
	TurnReasonAnalysisStarted   TurnReason = "analysis_started"
)

// ErrorCode identifies non-fatal and fatal recognizer errors.
type ErrorCode string

const (
	ErrorCodeStartup     ErrorCode = "startup"
	ErrorCodePermission  ErrorCode = "permission"
	ErrorCodeStartFailed ErrorCode = "start_failed"
	ErrorCodeRuntime     ErrorCode = "runtime"
	ErrorCodeHang        ErrorCode = "hang"
	ErrorCodeExhausted   ErrorCode = "exhausted"
	ErrorCodeSpeech      ErrorCode = "speech_output"
)

// Backend identifies which recognizer family produced a result.
type Backend string

const (
	BackendNative   Backend = "native"
	BackendPlatform Backend = "platform"
)

// Recognition is one transcript delivered by a recognizer backend.
// Native results are always final and carry no confidence.
type Recognition struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	IsFinal    bool    `json:"isFinal"`
	Backend    Backend `json:"backend"`
}

// CommandKind tags a CommandEvent.
type CommandKind string

const (
	CommandNone          CommandKind = "none"
	CommandStartAnalysis CommandKind = "start_analysis"
	CommandStopSession   CommandKind = "stop_session"
	CommandHeard         CommandKind = "heard"
)

// CommandEvent is the classification of one recognized utterance.
// Raw is set for StartAnalysis, Text holds the normalized utterance.
type CommandEvent struct {
	Kind CommandKind `json:"kind"`
	Raw  string      `json:"raw,omitempty"`
	Text string      `json:"text,omitempty"`
}

// ListenGate is the flag/counter set that guards the recognizer.
// Starting and Active are never both true.
type ListenGate struct {
	Enabled  bool `json:"enabled"`
	Starting bool `json:"starting"`
	Active   bool `json:"active"`
	Retries  int  `json:"retries"`
}

// TryBeginStart marks a start as requested. It refuses when an attempt is
// already starting or in flight.
func (g *ListenGate) TryBeginStart() bool {
	if g.Starting || g.Active {
		return false
	}
	g.Starting = true
	return true
}

// MarkActive records that the backend acknowledged the start.
func (g *ListenGate) MarkActive() {
	g.Starting = false
	g.Active = true
}

// Settle clears the in-flight flags after an attempt finished or failed.
func (g *ListenGate) Settle() {
	g.Starting = false
	g.Active = false
}

// Busy reports whether an attempt is starting or active.
func (g *ListenGate) Busy() bool {
	return g.Starting || g.Active
}

// Reset hard-resets every flag and the retry counter.
func (g *ListenGate) Reset() {
	*g = ListenGate{}
}

// Indicators are the status dots shown by the UI.
type Indicators struct {
	Mic     bool `json:"mic"`
	Camera  bool `json:"camera"`
	Session bool `json:"session"`
}

// DebugRecord is one structured entry for the debug log sink.
type DebugRecord struct {
	Time   time.Time      `json:"time"`
	Type   string         `json:"type"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Status summarizes the coordinator for the UI.
type Status struct {
	State       TurnState  `json:"state"`
	Running     bool       `json:"running"`
	Speaking    bool       `json:"speaking"`
	Unavailable bool       `json:"unavailable"`
	Gate        ListenGate `json:"gate"`
	SessionID   string     `json:"sessionId,omitempty"`
	Message     string     `json:"message,omitempty"`
}
