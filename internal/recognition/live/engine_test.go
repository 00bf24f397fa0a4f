package live

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"coachmic/internal/domain"
	"coachmic/internal/ports"
)

func TestEngineSegmentEndsAfterFinalResult(t *testing.T) {
	t.Parallel()

	audio := newFakeAudioSession([]byte("pcm"))
	stream := newFakeStreamingSession()
	engine := NewEngine(&fakeAudioCapture{session: audio}, &fakeProvider{session: stream}, Config{})
	rec := newRecorder()

	if err := engine.Begin(context.Background(), rec.handlers()); err != nil {
		t.Fatalf("begin: %v", err)
	}
	stream.events <- domain.Recognition{Text: " lets ", Confidence: 0.3}
	stream.events <- domain.Recognition{Text: "lets go", Confidence: 0.8, IsFinal: true}

	rec.waitEnd(t)

	results := rec.snapshot()
	if len(results) != 2 || results[1].Text != "lets go" || !results[1].IsFinal {
		t.Fatalf("unexpected results: %+v", results)
	}
	if results[0].Text != "lets" || results[0].Backend != domain.BackendPlatform {
		t.Fatalf("expected trimmed platform result, got %+v", results[0])
	}
	if !rec.started() {
		t.Fatalf("expected OnStart")
	}
	if rec.errorCount() != 0 {
		t.Fatalf("clean segment must not report an error")
	}
	if !stream.closeSendCalled() {
		t.Fatalf("expected the stream to be half-closed after the final result")
	}
	if string(stream.sent()) != "pcm" {
		t.Fatalf("expected captured audio to be streamed, got %q", stream.sent())
	}

	// A new segment may begin once the previous one ended.
	next := newFakeStreamingSession()
	engine.provider = &fakeProvider{session: next}
	engine.audio = &fakeAudioCapture{session: newFakeAudioSession(nil)}
	if err := engine.Begin(context.Background(), newRecorder().handlers()); err != nil {
		t.Fatalf("second begin: %v", err)
	}
	_ = engine.End()
}

func TestEngineRejectsOverlappingSegments(t *testing.T) {
	t.Parallel()

	engine := NewEngine(
		&fakeAudioCapture{session: newFakeAudioSession(nil)},
		&fakeProvider{session: newFakeStreamingSession()},
		Config{},
	)
	rec := newRecorder()
	if err := engine.Begin(context.Background(), rec.handlers()); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := engine.Begin(context.Background(), newRecorder().handlers()); !errors.Is(err, ErrSegmentActive) {
		t.Fatalf("expected ErrSegmentActive, got %v", err)
	}

	if err := engine.End(); err != nil {
		t.Fatalf("end: %v", err)
	}
	rec.waitEnd(t)
	if rec.errorCount() != 0 {
		t.Fatalf("an ended segment must not report errors")
	}
	if err := engine.End(); err != nil {
		t.Fatalf("second end: %v", err)
	}
}

func TestEngineReportsStreamFailure(t *testing.T) {
	t.Parallel()

	stream := newFakeStreamingSession()
	stream.waitErr = errors.New("provider dropped")
	engine := NewEngine(&fakeAudioCapture{session: newFakeAudioSession(nil)}, &fakeProvider{session: stream}, Config{})
	rec := newRecorder()

	if err := engine.Begin(context.Background(), rec.handlers()); err != nil {
		t.Fatalf("begin: %v", err)
	}
	stream.fail()

	rec.waitEnd(t)
	if rec.errorCount() != 1 {
		t.Fatalf("expected one error, got %d", rec.errorCount())
	}
}

func TestEngineBeginFailures(t *testing.T) {
	t.Parallel()

	engine := NewEngine(&fakeAudioCapture{}, &fakeProvider{err: errors.New("dial failed")}, Config{})
	if err := engine.Begin(context.Background(), ports.ContinuousHandlers{}); err == nil {
		t.Fatalf("expected provider error")
	}

	stream := newFakeStreamingSession()
	engine = NewEngine(&fakeAudioCapture{err: errors.New("no mic")}, &fakeProvider{session: stream}, Config{})
	if err := engine.Begin(context.Background(), ports.ContinuousHandlers{}); err == nil {
		t.Fatalf("expected capture error")
	}
	if !stream.closed() {
		t.Fatalf("expected stream closed after capture failure")
	}
}

type recorder struct {
	mu      sync.Mutex
	results []domain.Recognition
	errs    []error
	start   bool
	end     chan struct{}
}

func newRecorder() *recorder {
	return &recorder{end: make(chan struct{})}
}

func (r *recorder) handlers() ports.ContinuousHandlers {
	return ports.ContinuousHandlers{
		OnStart: func() {
			r.mu.Lock()
			r.start = true
			r.mu.Unlock()
		},
		OnResult: func(result domain.Recognition) {
			r.mu.Lock()
			r.results = append(r.results, result)
			r.mu.Unlock()
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		},
		OnEnd: func() { close(r.end) },
	}
}

func (r *recorder) waitEnd(t *testing.T) {
	t.Helper()
	select {
	case <-r.end:
	case <-time.After(5 * time.Second):
		t.Fatalf("segment did not end")
	}
}

func (r *recorder) snapshot() []domain.Recognition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Recognition(nil), r.results...)
}

func (r *recorder) started() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.start
}

func (r *recorder) errorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}

type fakeAudioCapture struct {
	session ports.AudioSession
	err     error
}

func (f *fakeAudioCapture) Start(_ context.Context, _ ports.AudioConfig) (ports.AudioSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

// fakeAudioSession yields its chunks and then blocks until stopped.
type fakeAudioSession struct {
	mu      sync.Mutex
	chunks  [][]byte
	stopped chan struct{}
	once    sync.Once
}

func newFakeAudioSession(chunk []byte) *fakeAudioSession {
	s := &fakeAudioSession{stopped: make(chan struct{})}
	if chunk != nil {
		s.chunks = [][]byte{chunk}
	}
	return s
}

func (s *fakeAudioSession) Read(p []byte) (int, error) {
	s.mu.Lock()
	if len(s.chunks) > 0 {
		chunk := s.chunks[0]
		s.chunks = s.chunks[1:]
		s.mu.Unlock()
		return copy(p, chunk), nil
	}
	s.mu.Unlock()
	<-s.stopped
	return 0, io.EOF
}

func (s *fakeAudioSession) Close() error { return s.Stop() }

func (s *fakeAudioSession) Stop() error {
	s.once.Do(func() { close(s.stopped) })
	return nil
}

type fakeProvider struct {
	session ports.StreamingSession
	err     error
}

func (f *fakeProvider) StartStreaming(_ context.Context, _ ports.StreamingConfig) (ports.StreamingSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

// fakeStreamingSession closes its event channel once sending is closed,
// like a provider flushing its last result.
type fakeStreamingSession struct {
	mu        sync.Mutex
	events    chan domain.Recognition
	audio     []byte
	closeSent bool
	isClosed  bool
	waitErr   error
	done      chan struct{}
	doneOnce  sync.Once
}

func newFakeStreamingSession() *fakeStreamingSession {
	return &fakeStreamingSession{
		events: make(chan domain.Recognition, 8),
		done:   make(chan struct{}),
	}
}

func (s *fakeStreamingSession) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio = append(s.audio, chunk...)
	return nil
}

func (s *fakeStreamingSession) CloseSend() error {
	s.mu.Lock()
	s.closeSent = true
	s.mu.Unlock()
	s.finish()
	return nil
}

func (s *fakeStreamingSession) Events() <-chan domain.Recognition { return s.events }

func (s *fakeStreamingSession) Wait() error {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waitErr
}

func (s *fakeStreamingSession) Close() error {
	s.mu.Lock()
	s.isClosed = true
	s.mu.Unlock()
	s.finish()
	return nil
}

// fail ends the stream from the provider side.
func (s *fakeStreamingSession) fail() { s.finish() }

func (s *fakeStreamingSession) finish() {
	s.doneOnce.Do(func() {
		close(s.events)
		close(s.done)
	})
}

func (s *fakeStreamingSession) sent() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.audio...)
}

func (s *fakeStreamingSession) closeSendCalled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeSent
}

func (s *fakeStreamingSession) closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isClosed
}
