// Package live is the continuous recognizer: microphone audio is streamed to a
// transcription provider and one segment lasts until the first final result.
package live

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"coachmic/internal/domain"
	"coachmic/internal/logger"
	"coachmic/internal/ports"
)

var ErrSegmentActive = errors.New("a recognition segment is already running")

// Config controls capture and streaming for one segment.
type Config struct {
	Audio        ports.AudioConfig
	Streaming    ports.StreamingConfig
	ChunkSize    int
	CloseTimeout time.Duration
}

// Engine implements ports.ContinuousEngine.
type Engine struct {
	audio    ports.AudioCapture
	provider ports.TranscriptionProvider
	cfg      Config

	mu      sync.Mutex
	current *segment
}

func NewEngine(audio ports.AudioCapture, provider ports.TranscriptionProvider, cfg Config) *Engine {
	if cfg.ChunkSize < 256 {
		cfg.ChunkSize = 4096
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = 4 * time.Second
	}
	cfg.Streaming.InterimResults = true
	return &Engine{audio: audio, provider: provider, cfg: cfg}
}

// Begin opens the stream and the microphone. Handlers fire from the
// segment's goroutines; OnEnd always comes last.
func (e *Engine) Begin(ctx context.Context, handlers ports.ContinuousHandlers) error {
	e.mu.Lock()
	if e.current != nil {
		e.mu.Unlock()
		return ErrSegmentActive
	}
	e.mu.Unlock()

	segCtx, cancel := context.WithCancel(ctx)
	stream, err := e.provider.StartStreaming(segCtx, e.cfg.Streaming)
	if err != nil {
		cancel()
		return fmt.Errorf("start streaming: %w", err)
	}

	audio, err := e.audio.Start(segCtx, e.cfg.Audio)
	if err != nil {
		_ = stream.Close()
		cancel()
		return fmt.Errorf("start capture: %w", err)
	}

	seg := &segment{
		cancel:     cancel,
		audio:      audio,
		stream:     stream,
		handlers:   handlers,
		chunkSize:  e.cfg.ChunkSize,
		eventsDone: make(chan struct{}),
		audioDone:  make(chan struct{}),
	}

	e.mu.Lock()
	if e.current != nil {
		e.mu.Unlock()
		seg.shutdown()
		return ErrSegmentActive
	}
	e.current = seg
	e.mu.Unlock()

	notify(handlers.OnStart)
	go seg.consume()
	go seg.pump()
	go e.supervise(seg)
	return nil
}

// End stops the running segment without waiting for it to drain. Its
// trailing OnEnd still fires.
func (e *Engine) End() error {
	e.mu.Lock()
	seg := e.current
	e.current = nil
	e.mu.Unlock()

	if seg == nil {
		return nil
	}
	seg.ended.Store(true)
	go seg.shutdown()
	return nil
}

func (e *Engine) supervise(seg *segment) {
	<-seg.audioDone
	streamErr := waitForStream(seg.stream, e.cfg.CloseTimeout)
	<-seg.eventsDone
	seg.cancel()
	_ = seg.audio.Stop()

	e.mu.Lock()
	if e.current == seg {
		e.current = nil
	}
	e.mu.Unlock()

	err := seg.failure()
	if err == nil {
		err = streamErr
	}
	if err != nil && !seg.ended.Load() {
		logger.Warn("live segment failed", "error", err)
		if seg.handlers.OnError != nil {
			seg.handlers.OnError(err)
		}
	}
	notify(seg.handlers.OnEnd)
}

type segment struct {
	cancel    context.CancelFunc
	audio     ports.AudioSession
	stream    ports.StreamingSession
	handlers  ports.ContinuousHandlers
	chunkSize int

	eventsDone chan struct{}
	audioDone  chan struct{}

	ended     atomic.Bool
	finishing atomic.Bool

	errMu sync.Mutex
	err   error
}

// consume forwards results and closes the segment after the first final one.
// The microphone stops when the stream does.
func (s *segment) consume() {
	defer close(s.eventsDone)
	defer s.finish()

	for result := range s.stream.Events() {
		result.Text = strings.TrimSpace(result.Text)
		if result.Text == "" || s.ended.Load() {
			continue
		}
		result.Backend = domain.BackendPlatform
		if s.handlers.OnResult != nil {
			s.handlers.OnResult(result)
		}
		if result.IsFinal {
			s.finish()
		}
	}
}

// pump copies microphone audio into the stream until capture ends.
func (s *segment) pump() {
	defer close(s.audioDone)
	defer func() { _ = s.stream.CloseSend() }()

	buf := make([]byte, s.chunkSize)
	for {
		n, err := s.audio.Read(buf)
		if n > 0 {
			if sendErr := s.stream.SendAudio(buf[:n]); sendErr != nil {
				if !s.finishing.Load() {
					s.fail(fmt.Errorf("failed to stream audio: %w", sendErr))
				}
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !s.finishing.Load() && !s.ended.Load() {
				s.fail(fmt.Errorf("audio capture error: %w", err))
			}
			return
		}
	}
}

// finish stops the microphone so the provider flushes and closes the stream.
func (s *segment) finish() {
	if s.finishing.Swap(true) {
		return
	}
	go func() { _ = s.audio.Stop() }()
}

func (s *segment) shutdown() {
	s.finishing.Store(true)
	s.cancel()
	_ = s.audio.Stop()
	_ = s.stream.Close()
}

func (s *segment) fail(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *segment) failure() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func waitForStream(session ports.StreamingSession, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		_ = session.Close()
		return <-done
	}
}

func notify(fn func()) {
	if fn != nil {
		fn()
	}
}
