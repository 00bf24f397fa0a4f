package ports

import (
	"context"
	"errors"
	"io"

	"coachmic/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live capture session.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// StreamingConfig describes provider-agnostic streaming settings.
type StreamingConfig struct {
	SampleRate     int
	Channels       int
	Encoding       string
	InterimResults bool
}

// StreamingSession is an active provider websocket session.
type StreamingSession interface {
	SendAudio(chunk []byte) error
	CloseSend() error
	Events() <-chan domain.Recognition
	Wait() error
	Close() error
}

// TranscriptionProvider starts streaming transcription sessions.
type TranscriptionProvider interface {
	StartStreaming(ctx context.Context, cfg StreamingConfig) (StreamingSession, error)
}

// ClipTranscriber transcribes a finished recording in one request.
type ClipTranscriber interface {
	TranscribeClip(ctx context.Context, pcm []byte, cfg StreamingConfig) (domain.Recognition, error)
}

// ContinuousHandlers receives callbacks from a continuous engine. Callbacks
// may arrive on any goroutine.
type ContinuousHandlers struct {
	OnStart  func()
	OnResult func(domain.Recognition)
	OnError  func(error)
	OnEnd    func()
}

// ContinuousEngine is a self-restarting recognizer that streams
// confidence-scored results until the current segment ends.
type ContinuousEngine interface {
	// Begin starts one segment. A returned error means the start failed
	// synchronously and no handler will fire.
	Begin(ctx context.Context, handlers ContinuousHandlers) error
	End() error
}

// ListenRequest configures one single-shot listen call.
type ListenRequest struct {
	Language      string
	PartialResult bool
}

// ListenEngine performs single-shot listen attempts. Each call listens once and
// reports through exactly one of onResult or onError, unless it hangs.
type ListenEngine interface {
	Listen(ctx context.Context, req ListenRequest, onResult func(text string), onError func(error)) error
	ForceStop() error
}

// PermissionStatus is the outcome of a microphone permission probe.
type PermissionStatus string

const (
	PermissionGranted PermissionStatus = "granted"
	PermissionDenied  PermissionStatus = "denied"
	PermissionUnknown PermissionStatus = "unknown"
)

// Permissions checks and requests microphone access without blocking the caller.
type Permissions interface {
	Check(ctx context.Context, done func(PermissionStatus, error))
	Request(ctx context.Context, done func(PermissionStatus, error))
}

// Recognizer is the backend-agnostic contract the coordinator drives. Bind is
// called once before the first Start; the gate is owned by the host.
type Recognizer interface {
	Bind(host RecognizerHost, gate *domain.ListenGate)
	Start()
	Stop()
	Abort()
	Backend() domain.Backend
}

// RecognizerHost is the coordinator side of a Recognizer.
type RecognizerHost interface {
	CanListen() bool
	Deliver(result domain.Recognition)
	Failed(code domain.ErrorCode, err error)
	Record(recordType string, fields map[string]any)
}

// ErrSpeechBusy is returned by SpeechOutput.Speak while earlier playback is
// still running.
var ErrSpeechBusy = errors.New("speech output is already playing")

// SpeechOutput produces spoken feedback. done is called once when playback
// finishes or fails; it is not called when Speak returns an error. Stop
// releases the output so the next Speak can start right away.
type SpeechOutput interface {
	Speak(ctx context.Context, text string, done func(error)) error
	Stop() error
}

// AnalysisPipeline consumes StartAnalysis commands.
type AnalysisPipeline interface {
	Trigger(raw string, normalized string)
	InProgress() bool
}

// EventSink emits coordinator state/events to the UI.
type EventSink interface {
	TurnStateChanged(state domain.TurnState, reason domain.TurnReason)
	Heard(text string)
	Indicators(ind domain.Indicators)
	SessionError(code domain.ErrorCode, detail string)
}

// DebugSink receives structured debug records.
type DebugSink interface {
	Record(record domain.DebugRecord)
}
