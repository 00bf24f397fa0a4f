package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"coachmic/internal/domain"
	"coachmic/internal/ports"
	"coachmic/internal/scheduler"
	"coachmic/internal/trigger"
)

var testEpoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type listenCall struct {
	ctx      context.Context
	onResult func(string)
	onError  func(error)
}

type fakeListenEngine struct {
	mu         sync.Mutex
	calls      []listenCall
	syncErr    error
	panicValue any
	forceStops int
}

func (f *fakeListenEngine) Listen(ctx context.Context, _ ports.ListenRequest, onResult func(string), onError func(error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicValue != nil {
		panic(f.panicValue)
	}
	if f.syncErr != nil {
		return f.syncErr
	}
	f.calls = append(f.calls, listenCall{ctx: ctx, onResult: onResult, onError: onError})
	return nil
}

func (f *fakeListenEngine) ForceStop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forceStops++
	return nil
}

func (f *fakeListenEngine) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeListenEngine) call(i int) listenCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[i]
}

func (f *fakeListenEngine) forceStopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forceStops
}

type fakeContinuousEngine struct {
	mu      sync.Mutex
	begins  []ports.ContinuousHandlers
	ends    int
	syncErr error
}

func (f *fakeContinuousEngine) Begin(_ context.Context, handlers ports.ContinuousHandlers) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.syncErr != nil {
		return f.syncErr
	}
	f.begins = append(f.begins, handlers)
	return nil
}

func (f *fakeContinuousEngine) End() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ends++
	return nil
}

func (f *fakeContinuousEngine) beginCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.begins)
}

func (f *fakeContinuousEngine) segment(i int) ports.ContinuousHandlers {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.begins[i]
}

type fakePermissions struct {
	mu       sync.Mutex
	status   ports.PermissionStatus
	checks   int
	requests int
	// panicOn names the step ("check" or "request") that panics.
	panicOn string
}

func (f *fakePermissions) Check(_ context.Context, done func(ports.PermissionStatus, error)) {
	f.mu.Lock()
	f.checks++
	status := f.status
	panicking := f.panicOn == "check"
	f.mu.Unlock()
	if panicking {
		panic("permission backend crashed")
	}
	done(status, nil)
}

func (f *fakePermissions) Request(_ context.Context, done func(ports.PermissionStatus, error)) {
	f.mu.Lock()
	f.requests++
	panicking := f.panicOn == "request"
	f.mu.Unlock()
	if panicking {
		panic("permission backend crashed")
	}
	done(ports.PermissionGranted, nil)
}

type fakeSpeech struct {
	mu      sync.Mutex
	spoken  []string
	pending []func(error)
	stops   int
	syncErr error

	// exclusive rejects a new utterance while another plays, like the
	// command speaker. stuck makes Stop leave the output busy.
	exclusive bool
	stuck     bool
	playing   bool
}

func (f *fakeSpeech) Speak(_ context.Context, text string, done func(error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.syncErr != nil {
		return f.syncErr
	}
	if f.exclusive && f.playing {
		return ports.ErrSpeechBusy
	}
	f.playing = true
	f.spoken = append(f.spoken, text)
	f.pending = append(f.pending, done)
	return nil
}

func (f *fakeSpeech) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	if !f.stuck {
		f.playing = false
	}
	return nil
}

// finish completes the oldest utterance still playing.
func (f *fakeSpeech) finish(err error) {
	f.mu.Lock()
	if len(f.pending) == 0 {
		f.mu.Unlock()
		return
	}
	done := f.pending[0]
	f.pending = f.pending[1:]
	f.playing = f.playing && len(f.pending) > 0
	f.mu.Unlock()
	done(err)
}

type analysisTrigger struct {
	raw        string
	normalized string
}

type fakeAnalysis struct {
	mu       sync.Mutex
	running  bool
	triggers []analysisTrigger
}

func (f *fakeAnalysis) Trigger(raw string, normalized string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = true
	f.triggers = append(f.triggers, analysisTrigger{raw: raw, normalized: normalized})
}

func (f *fakeAnalysis) InProgress() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeAnalysis) finish() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
}

type stateEvent struct {
	state  domain.TurnState
	reason domain.TurnReason
}

type sessionErrorEvent struct {
	code   domain.ErrorCode
	detail string
}

type fakeEventSink struct {
	mu         sync.Mutex
	states     []stateEvent
	heard      []string
	indicators []domain.Indicators
	errors     []sessionErrorEvent
}

func (f *fakeEventSink) TurnStateChanged(state domain.TurnState, reason domain.TurnReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, stateEvent{state: state, reason: reason})
}

func (f *fakeEventSink) Heard(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.heard = append(f.heard, text)
}

func (f *fakeEventSink) Indicators(ind domain.Indicators) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indicators = append(f.indicators, ind)
}

func (f *fakeEventSink) SessionError(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, sessionErrorEvent{code: code, detail: detail})
}

func (f *fakeEventSink) countState(state domain.TurnState, reason domain.TurnReason) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ev := range f.states {
		if ev.state == state && ev.reason == reason {
			n++
		}
	}
	return n
}

func (f *fakeEventSink) countErrors(code domain.ErrorCode) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, ev := range f.errors {
		if ev.code == code {
			n++
		}
	}
	return n
}

func (f *fakeEventSink) lastIndicators() domain.Indicators {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.indicators) == 0 {
		return domain.Indicators{}
	}
	return f.indicators[len(f.indicators)-1]
}

func (f *fakeEventSink) heardTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.heard...)
}

type fakeDebugSink struct {
	mu      sync.Mutex
	records []domain.DebugRecord
}

func (f *fakeDebugSink) Record(record domain.DebugRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, record)
}

func (f *fakeDebugSink) count(recordType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.records {
		if r.Type == recordType {
			n++
		}
	}
	return n
}

// panickingRecognizer blows up on Start to exercise the coordinator's guard.
type panickingRecognizer struct {
	gate *domain.ListenGate
}

func (p *panickingRecognizer) Bind(_ ports.RecognizerHost, gate *domain.ListenGate) { p.gate = gate }
func (p *panickingRecognizer) Start()                                                { panic("boom") }
func (p *panickingRecognizer) Stop()                                                 {}
func (p *panickingRecognizer) Abort()                                                {}
func (p *panickingRecognizer) Backend() domain.Backend                               { return domain.BackendNative }

type harness struct {
	sched    *scheduler.Virtual
	speech   *fakeSpeech
	analysis *fakeAnalysis
	events   *fakeEventSink
	debug    *fakeDebugSink
	coord    *TurnCoordinator
}

func noJitter() float64 { return 0 }

func newHarness(recognizer func(*scheduler.Virtual) ports.Recognizer) *harness {
	sched := scheduler.NewVirtual(testEpoch)
	h := &harness{
		sched:    sched,
		speech:   &fakeSpeech{},
		analysis: &fakeAnalysis{},
		events:   &fakeEventSink{},
		debug:    &fakeDebugSink{},
	}
	h.coord = NewTurnCoordinator(
		sched,
		recognizer(sched),
		trigger.NewParser(trigger.DefaultPolicy(), nil),
		h.speech,
		h.analysis,
		h.events,
		h.debug,
		Config{Retry: RetryPolicy{Random: noJitter}},
	)
	return h
}

type nativeHarness struct {
	*harness
	engine *fakeListenEngine
	native *NativeRecognizer
}

func newNativeHarness() *nativeHarness {
	nh := &nativeHarness{engine: &fakeListenEngine{}}
	nh.harness = newHarness(func(sched *scheduler.Virtual) ports.Recognizer {
		nh.native = NewNativeRecognizer(sched, nh.engine, nil, Timing{}, ports.ListenRequest{Language: "en-US"})
		return nh.native
	})
	return nh
}

// startListening starts a session and waits until the first listen call is issued.
func (nh *nativeHarness) startListening() {
	nh.coord.StartSession()
	nh.sched.RunPending()
	nh.sched.Advance(DefaultTiming().PreRoll)
}

type platformHarness struct {
	*harness
	engine   *fakeContinuousEngine
	platform *PlatformRecognizer
}

func newPlatformHarness() *platformHarness {
	ph := &platformHarness{engine: &fakeContinuousEngine{}}
	ph.harness = newHarness(func(sched *scheduler.Virtual) ports.Recognizer {
		ph.platform = NewPlatformRecognizer(sched, ph.engine, Timing{})
		return ph.platform
	})
	return ph
}

var errBackend = errors.New("backend error")
