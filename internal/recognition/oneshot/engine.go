// Package oneshot is the single-shot recognizer: each Listen records one
// bounded clip and transcribes it in a single request.
package oneshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"coachmic/internal/logger"
	"coachmic/internal/ports"
)

var ErrBusy = errors.New("a listen call is already in progress")

// ClipCapture records a bounded amount of microphone audio.
type ClipCapture interface {
	StartClip(ctx context.Context, cfg ports.AudioConfig, limit time.Duration) (ports.AudioSession, error)
}

// Config controls the recording window.
type Config struct {
	Audio     ports.AudioConfig
	Streaming ports.StreamingConfig
	Window    time.Duration
	// MinBytes is the shortest clip worth uploading.
	MinBytes int
}

// Engine implements ports.ListenEngine.
type Engine struct {
	capture     ClipCapture
	transcriber ports.ClipTranscriber
	cfg         Config

	mu      sync.Mutex
	cancel  context.CancelFunc
	session ports.AudioSession
	seq     uint64
}

func NewEngine(capture ClipCapture, transcriber ports.ClipTranscriber, cfg Config) *Engine {
	if cfg.Window <= 0 {
		cfg.Window = 5 * time.Second
	}
	if cfg.MinBytes <= 0 {
		cfg.MinBytes = 3200
	}
	if cfg.Streaming.SampleRate <= 0 {
		cfg.Streaming.SampleRate = cfg.Audio.SampleRate
	}
	if cfg.Streaming.Channels <= 0 {
		cfg.Streaming.Channels = cfg.Audio.Channels
	}
	return &Engine{capture: capture, transcriber: transcriber, cfg: cfg}
}

// Listen starts recording and returns once the microphone is open. Exactly
// one of onResult or onError fires later, unless the call is force-stopped.
func (e *Engine) Listen(ctx context.Context, req ports.ListenRequest, onResult func(string), onError func(error)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return ErrBusy
	}

	listenCtx, cancel := context.WithCancel(ctx)
	session, err := e.capture.StartClip(listenCtx, e.cfg.Audio, e.cfg.Window)
	if err != nil {
		cancel()
		return fmt.Errorf("start clip capture: %w", err)
	}

	e.seq++
	e.cancel = cancel
	e.session = session
	logger.Debug("oneshot listen", "seq", e.seq, "language", req.Language, "window", e.cfg.Window)

	go e.run(listenCtx, e.seq, session, onResult, onError)
	return nil
}

// ForceStop abandons the current call. Its callbacks never fire.
func (e *Engine) ForceStop() error {
	e.mu.Lock()
	cancel := e.cancel
	session := e.session
	e.cancel = nil
	e.session = nil
	e.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	return session.Stop()
}

func (e *Engine) run(ctx context.Context, seq uint64, session ports.AudioSession, onResult func(string), onError func(error)) {
	pcm, readErr := io.ReadAll(session)
	stopErr := session.Stop()

	text, err := e.transcribe(ctx, pcm, readErr, stopErr)
	if ctx.Err() != nil || !e.release(seq) {
		return
	}
	if err != nil {
		onError(err)
		return
	}
	onResult(text)
}

func (e *Engine) transcribe(ctx context.Context, pcm []byte, readErr error, stopErr error) (string, error) {
	if readErr != nil && ctx.Err() == nil {
		return "", fmt.Errorf("read clip: %w", readErr)
	}
	if stopErr != nil && len(pcm) == 0 {
		return "", fmt.Errorf("capture failed: %w", stopErr)
	}
	// Silence is a successful attempt with nothing said.
	if len(pcm) < e.cfg.MinBytes {
		return "", nil
	}

	result, err := e.transcriber.TranscribeClip(ctx, pcm, e.cfg.Streaming)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(result.Text), nil
}

// release clears the in-flight call if seq is still current.
func (e *Engine) release(seq uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.seq != seq || e.cancel == nil {
		return false
	}
	e.cancel()
	e.cancel = nil
	e.session = nil
	return true
}
