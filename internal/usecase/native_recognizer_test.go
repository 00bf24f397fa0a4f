package usecase

import (
	"errors"
	"testing"
	"time"

	"coachmic/internal/domain"
	"coachmic/internal/ports"
	"coachmic/internal/scheduler"
)

func TestNativeFirstListenWaitsForPreRoll(t *testing.T) {
	t.Parallel()

	h := newNativeHarness()
	h.coord.StartSession()
	h.sched.RunPending()

	h.sched.Advance(549 * time.Millisecond)
	if got := h.engine.callCount(); got != 0 {
		t.Fatalf("expected no listen before pre-roll, got %d", got)
	}
	if gate := h.coord.Status().Gate; !gate.Starting || gate.Active {
		t.Fatalf("expected starting gate during pre-roll, got %+v", gate)
	}

	h.sched.Advance(time.Millisecond)
	if got := h.engine.callCount(); got != 1 {
		t.Fatalf("expected one listen call, got %d", got)
	}
	gate := h.coord.Status().Gate
	if gate.Starting || !gate.Active || !gate.Enabled {
		t.Fatalf("unexpected gate after listen: %+v", gate)
	}
	if !h.native.Pending() || !h.native.WatchdogArmed() {
		t.Fatalf("expected pending attempt under watchdog")
	}
}

func TestNativeNeverListensTwiceConcurrently(t *testing.T) {
	t.Parallel()

	h := newNativeHarness()
	h.startListening()

	h.sched.Post(h.native.Start)
	h.sched.Post(h.native.Start)
	h.coord.StartSession()
	h.sched.Advance(5 * time.Second)

	if got := h.engine.callCount(); got != 1 {
		t.Fatalf("expected a single in-flight listen call, got %d", got)
	}
	gate := h.coord.Status().Gate
	if gate.Starting && gate.Active {
		t.Fatalf("starting and active must not both be set: %+v", gate)
	}
	if h.debug.count("native_start_ignored") != 2 {
		t.Fatalf("expected both extra starts to be ignored")
	}
}

func TestNativeSuccessRearmsAfterInterAttemptDelay(t *testing.T) {
	t.Parallel()

	h := newNativeHarness()
	h.startListening()

	h.engine.call(0).onResult("Keep your back straight")
	h.sched.RunPending()

	if heard := h.events.heardTexts(); len(heard) != 1 || heard[0] != "keep your back straight" {
		t.Fatalf("unexpected heard events: %v", heard)
	}
	if h.native.Pending() || h.native.WatchdogArmed() {
		t.Fatalf("expected attempt to be settled after result")
	}

	h.sched.Advance(419 * time.Millisecond)
	if got := h.engine.callCount(); got != 1 {
		t.Fatalf("expected re-arm to wait, got %d calls", got)
	}
	h.sched.Advance(time.Millisecond)
	if got := h.engine.callCount(); got != 2 {
		t.Fatalf("expected second listen after inter-attempt delay, got %d", got)
	}
	if h.coord.Status().Gate.Retries != 0 {
		t.Fatalf("expected retries reset after success")
	}
}

func TestNativeSilentAttemptResetsRetries(t *testing.T) {
	t.Parallel()

	h := newNativeHarness()
	h.startListening()
	h.engine.call(0).onError(errBackend)
	h.sched.RunPending()
	h.sched.Advance(700 * time.Millisecond)
	if got := h.engine.callCount(); got != 2 {
		t.Fatalf("expected a retry, got %d calls", got)
	}

	h.engine.call(1).onResult("")
	h.sched.RunPending()
	if status := h.coord.Status(); status.Gate.Retries != 0 || status.State != domain.TurnStateListening {
		t.Fatalf("expected silence to count as a clean attempt, got %+v", status)
	}
	if heard := h.events.heardTexts(); len(heard) != 0 {
		t.Fatalf("silence must not be reported as heard, got %v", heard)
	}
	h.sched.Advance(420 * time.Millisecond)
	if got := h.engine.callCount(); got != 3 {
		t.Fatalf("expected re-arm after silence, got %d calls", got)
	}
}

func TestNativeWatchdogReclaimsHungAttempt(t *testing.T) {
	t.Parallel()

	h := newNativeHarness()
	h.startListening()
	first := h.engine.call(0)

	h.sched.Advance(7499 * time.Millisecond)
	if h.coord.Status().Gate.Retries != 0 {
		t.Fatalf("watchdog fired early")
	}

	h.sched.Advance(time.Millisecond)
	status := h.coord.Status()
	if status.Gate.Retries != 1 {
		t.Fatalf("expected retries=1 after watchdog, got %d", status.Gate.Retries)
	}
	if status.Gate.Active || status.Gate.Starting {
		t.Fatalf("expected gate cleared after hang, got %+v", status.Gate)
	}
	if status.State != domain.TurnStateRecovering {
		t.Fatalf("expected recovering state, got %s", status.State)
	}
	if h.engine.forceStopCount() != 1 {
		t.Fatalf("expected backend force-stop on hang")
	}
	if first.ctx.Err() == nil {
		t.Fatalf("expected hung attempt context to be cancelled")
	}
	if h.events.countErrors(domain.ErrorCodeHang) != 1 {
		t.Fatalf("expected hang error event")
	}

	h.sched.Advance(699 * time.Millisecond)
	if got := h.engine.callCount(); got != 1 {
		t.Fatalf("retry fired before backoff elapsed")
	}
	h.sched.Advance(time.Millisecond)
	if got := h.engine.callCount(); got != 2 {
		t.Fatalf("expected new attempt after backoff, got %d", got)
	}

	// The hung attempt answering late must not be delivered.
	first.onResult("let's go")
	h.sched.RunPending()
	if len(h.analysis.triggers) != 0 {
		t.Fatalf("stale result triggered analysis")
	}
	if h.debug.count("native_stale_result") != 1 {
		t.Fatalf("expected stale result to be recorded")
	}
	if !h.native.Pending() {
		t.Fatalf("stale result must not settle the current attempt")
	}
}

func TestNativeBackendErrorSchedulesRetry(t *testing.T) {
	t.Parallel()

	h := newNativeHarness()
	h.startListening()

	h.engine.call(0).onError(errBackend)
	h.sched.RunPending()

	status := h.coord.Status()
	if status.Gate.Retries != 1 || status.State != domain.TurnStateRecovering {
		t.Fatalf("unexpected status after error: %+v", status)
	}
	if h.native.WatchdogArmed() {
		t.Fatalf("watchdog must be cancelled on error")
	}
	if h.engine.forceStopCount() != 0 {
		t.Fatalf("force-stop is reserved for hangs")
	}

	h.sched.Advance(700 * time.Millisecond)
	if got := h.engine.callCount(); got != 2 {
		t.Fatalf("expected retry attempt, got %d calls", got)
	}

	h.engine.call(1).onResult("hello")
	h.sched.RunPending()
	if h.coord.Status().Gate.Retries != 0 {
		t.Fatalf("expected successful result to reset retries")
	}
}

func TestNativeSynchronousErrorAndPanicAreRecoverable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		setup func(*fakeListenEngine)
	}{
		{name: "error", setup: func(e *fakeListenEngine) { e.syncErr = errors.New("recognizer busy") }},
		{name: "panic", setup: func(e *fakeListenEngine) { e.panicValue = "native crash" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h := newNativeHarness()
			tc.setup(h.engine)
			h.startListening()

			status := h.coord.Status()
			if status.Gate.Retries != 1 {
				t.Fatalf("expected retries=1, got %d", status.Gate.Retries)
			}
			if status.Gate.Active || status.Gate.Starting || h.native.Pending() {
				t.Fatalf("expected flags cleared, got %+v", status.Gate)
			}
			if h.native.WatchdogArmed() {
				t.Fatalf("watchdog must not outlive a failed start")
			}
			if h.events.countState(domain.TurnStateRecovering, domain.TurnReasonStartFailed) != 1 {
				t.Fatalf("expected start-failed transition")
			}
		})
	}
}

func TestNativeExhaustsAfterFiveFailures(t *testing.T) {
	t.Parallel()

	h := newNativeHarness()
	h.engine.syncErr = errors.New("no recognizer")
	h.coord.StartSession()
	h.sched.RunPending()
	h.sched.Advance(time.Minute)

	status := h.coord.Status()
	if !status.Unavailable || status.State != domain.TurnStateUnavailable {
		t.Fatalf("expected unavailable session, got %+v", status)
	}
	if status.Gate.Enabled {
		t.Fatalf("listening must be deactivated after exhaustion")
	}
	if status.Gate.Retries != 5 {
		t.Fatalf("expected 5 retries, got %d", status.Gate.Retries)
	}
	if h.debug.count("native_listen") != 5 {
		t.Fatalf("expected exactly 5 attempts, got %d", h.debug.count("native_listen"))
	}
	if h.events.countErrors(domain.ErrorCodeExhausted) != 1 {
		t.Fatalf("expected exhaustion error event")
	}
	if h.sched.PendingTimers() != 0 {
		t.Fatalf("expected no timers after exhaustion, got %d", h.sched.PendingTimers())
	}

	// Output finishing later must not bring listening back.
	h.coord.Speak("Session paused")
	h.sched.RunPending()
	h.speech.finish(nil)
	h.sched.Advance(time.Minute)
	if h.debug.count("native_listen") != 5 {
		t.Fatalf("listening resumed after exhaustion")
	}

	// A restart clears the terminal state.
	h.engine.syncErr = nil
	h.coord.StopSession()
	h.coord.StartSession()
	h.sched.RunPending()
	h.sched.Advance(550 * time.Millisecond)
	if got := h.engine.callCount(); got != 1 {
		t.Fatalf("expected listening after restart, got %d calls", got)
	}
	if status := h.coord.Status(); status.Unavailable || status.Gate.Retries != 0 {
		t.Fatalf("expected fresh state after restart, got %+v", status)
	}
}

func TestNativePermissionProbeRequestsWhenNotGranted(t *testing.T) {
	t.Parallel()

	sched := scheduler.NewVirtual(testEpoch)
	engine := &fakeListenEngine{}
	perms := &fakePermissions{status: ports.PermissionDenied}
	native := NewNativeRecognizer(sched, engine, perms, Timing{}, ports.ListenRequest{})
	events := &fakeEventSink{}
	debug := &fakeDebugSink{}
	coord := NewTurnCoordinator(sched, native, nil, &fakeSpeech{}, &fakeAnalysis{}, events, debug, Config{})

	coord.StartSession()
	sched.RunPending()
	sched.Advance(550 * time.Millisecond)

	if perms.checks != 1 || perms.requests != 1 {
		t.Fatalf("expected one check and one request, got %d/%d", perms.checks, perms.requests)
	}
	if debug.count("mic_permission") != 2 {
		t.Fatalf("expected both permission steps recorded")
	}
	if engine.callCount() != 1 {
		t.Fatalf("permission probe must not block listening")
	}
}

func TestNativePermissionPanicDoesNotStallListening(t *testing.T) {
	t.Parallel()

	for _, step := range []string{"check", "request"} {
		step := step
		t.Run(step, func(t *testing.T) {
			t.Parallel()

			sched := scheduler.NewVirtual(testEpoch)
			engine := &fakeListenEngine{}
			perms := &fakePermissions{status: ports.PermissionDenied, panicOn: step}
			native := NewNativeRecognizer(sched, engine, perms, Timing{}, ports.ListenRequest{})
			debug := &fakeDebugSink{}
			coord := NewTurnCoordinator(sched, native, nil, &fakeSpeech{}, &fakeAnalysis{}, &fakeEventSink{}, debug, Config{})

			coord.StartSession()
			sched.RunPending()
			sched.Advance(550 * time.Millisecond)

			if debug.count("mic_permission_failed") != 1 {
				t.Fatalf("expected the %s failure to be recorded", step)
			}
			if engine.callCount() != 1 || !native.WatchdogArmed() {
				t.Fatalf("expected a supervised listen despite the permission failure, got %d calls", engine.callCount())
			}

			engine.call(0).onResult("keep going")
			sched.RunPending()
			sched.Advance(420 * time.Millisecond)
			if engine.callCount() != 2 {
				t.Fatalf("expected re-arm after success, got %d calls", engine.callCount())
			}
			if status := coord.Status(); status.State != domain.TurnStateListening || status.Gate.Retries != 0 {
				t.Fatalf("unexpected status: %+v", status)
			}
		})
	}
}

func TestNativePermissionProbeRunsOncePerSession(t *testing.T) {
	t.Parallel()

	sched := scheduler.NewVirtual(testEpoch)
	engine := &fakeListenEngine{}
	perms := &fakePermissions{status: ports.PermissionGranted}
	native := NewNativeRecognizer(sched, engine, perms, Timing{}, ports.ListenRequest{})
	coord := NewTurnCoordinator(sched, native, nil, &fakeSpeech{}, &fakeAnalysis{}, &fakeEventSink{}, &fakeDebugSink{},
		Config{Retry: RetryPolicy{Random: noJitter}})

	coord.StartSession()
	sched.RunPending()
	sched.Advance(550 * time.Millisecond)
	engine.call(0).onResult("nice")
	sched.RunPending()
	sched.Advance(420 * time.Millisecond)
	engine.call(1).onError(errBackend)
	sched.RunPending()
	sched.Advance(time.Second)

	if engine.callCount() != 3 {
		t.Fatalf("expected re-armed and retried attempts, got %d calls", engine.callCount())
	}
	if perms.checks != 1 {
		t.Fatalf("expected a single probe per session, got %d", perms.checks)
	}

	coord.StopSession()
	coord.StartSession()
	sched.RunPending()
	if perms.checks != 2 {
		t.Fatalf("expected a fresh probe for the new session, got %d", perms.checks)
	}
}

func TestNativeStopIsIdempotent(t *testing.T) {
	t.Parallel()

	h := newNativeHarness()
	h.startListening()
	call := h.engine.call(0)

	h.sched.Post(h.native.Stop)
	h.sched.Post(h.native.Stop)
	h.sched.Post(h.native.Abort)
	h.sched.RunPending()

	if gate := h.coord.Status().Gate; gate != (domain.ListenGate{}) {
		t.Fatalf("expected gate reset, got %+v", gate)
	}
	if h.native.Pending() || h.native.WatchdogArmed() {
		t.Fatalf("expected attempt torn down")
	}
	if call.ctx.Err() == nil {
		t.Fatalf("expected attempt context cancelled")
	}

	call.onError(errBackend)
	h.sched.RunPending()
	if h.events.countErrors(domain.ErrorCodeRuntime) != 0 {
		t.Fatalf("error from a stopped attempt must be ignored")
	}
}
