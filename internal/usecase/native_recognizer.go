package usecase

import (
	"context"
	"fmt"
	"time"

	"coachmic/internal/domain"
	"coachmic/internal/ports"
	"coachmic/internal/scheduler"
)

// NativeRecognizer drives a single-shot listen engine. Every attempt listens
// once and has to be re-armed; a watchdog reclaims attempts whose callback
// never arrives.
type NativeRecognizer struct {
	sched   scheduler.Scheduler
	engine  ports.ListenEngine
	perms   ports.Permissions
	timing  Timing
	request ports.ListenRequest

	host ports.RecognizerHost
	gate *domain.ListenGate

	watchdog *watchdog
	next     scheduler.Timer
	cancel   context.CancelFunc

	// attempt invalidates callbacks from attempts that were stopped or timed out.
	attempt uint64
	pending bool
	primed  bool
}

func NewNativeRecognizer(
	sched scheduler.Scheduler,
	engine ports.ListenEngine,
	perms ports.Permissions,
	timing Timing,
	request ports.ListenRequest,
) *NativeRecognizer {
	timing = timing.withDefaults()
	return &NativeRecognizer{
		sched:    sched,
		engine:   engine,
		perms:    perms,
		timing:   timing,
		request:  request,
		watchdog: newWatchdog(sched, timing.Watchdog),
	}
}

func (n *NativeRecognizer) Bind(host ports.RecognizerHost, gate *domain.ListenGate) {
	n.host = host
	n.gate = gate
}

func (n *NativeRecognizer) Backend() domain.Backend {
	return domain.BackendNative
}

// Start arms a listen attempt. It is a no-op while an attempt is in flight.
func (n *NativeRecognizer) Start() {
	n.gate.Enabled = true
	if n.gate.Active || n.pending {
		n.gate.Starting = false
		n.host.Record("native_start_ignored", map[string]any{"pending": n.pending, "active": n.gate.Active})
		return
	}
	n.gate.Starting = true

	if !n.primed {
		// The microphone probe runs once per session, inside the pre-roll,
		// so it never contends with a clip capture.
		n.primed = true
		n.checkPermission()
		n.arm(n.timing.PreRoll)
		return
	}
	n.arm(0)
}

// Stop tears the adapter down from any state. Callbacks still in flight are
// ignored when they arrive.
func (n *NativeRecognizer) Stop() {
	n.teardown("native_stop")
}

// Abort is Stop for the single-shot engine, which has no graceful drain.
func (n *NativeRecognizer) Abort() {
	n.teardown("native_abort")
}

func (n *NativeRecognizer) teardown(recordType string) {
	n.attempt++
	n.watchdog.Cancel()
	n.next = scheduler.Stop(n.next)
	wasPending := n.pending
	n.pending = false
	n.primed = false
	if n.gate != nil {
		n.gate.Reset()
	}
	n.cancelAttempt()
	n.forceStop()
	if n.host != nil {
		n.host.Record(recordType, map[string]any{"was_pending": wasPending})
	}
}

// Pending reports whether a listen call is awaiting its callback.
func (n *NativeRecognizer) Pending() bool {
	return n.pending
}

// WatchdogArmed reports whether the current attempt is supervised.
func (n *NativeRecognizer) WatchdogArmed() bool {
	return n.watchdog.Armed()
}

func (n *NativeRecognizer) arm(delay time.Duration) {
	n.next = scheduler.Stop(n.next)
	if delay <= 0 {
		n.issue()
		return
	}
	n.next = n.sched.AfterFunc(delay, n.issue)
}

func (n *NativeRecognizer) checkPermission() {
	if n.perms == nil {
		return
	}
	ctx := context.Background()
	n.callPermissions("check", func() {
		n.perms.Check(ctx, func(status ports.PermissionStatus, err error) {
			n.sched.Post(func() {
				n.permissionChecked(ctx, "check", status, err)
			})
		})
	})
}

// callPermissions isolates the permission backend. Its outcome never gates an
// attempt, so a failure is only recorded.
func (n *NativeRecognizer) callPermissions(step string, fn func()) {
	err := callSafely(func() error { fn(); return nil })
	if err != nil {
		n.host.Record("mic_permission_failed", map[string]any{"step": step, "error": err.Error()})
	}
}

func (n *NativeRecognizer) permissionChecked(ctx context.Context, step string, status ports.PermissionStatus, err error) {
	fields := map[string]any{"step": step, "status": string(status)}
	if err != nil {
		fields["error"] = err.Error()
	}
	n.host.Record("mic_permission", fields)

	if step == "check" && status != ports.PermissionGranted {
		n.callPermissions("request", func() {
			n.perms.Request(ctx, func(status ports.PermissionStatus, err error) {
				n.sched.Post(func() {
					n.permissionChecked(ctx, "request", status, err)
				})
			})
		})
	}
}

func (n *NativeRecognizer) issue() {
	n.next = nil
	if !n.gate.Enabled || !n.host.CanListen() {
		n.gate.Starting = false
		n.host.Record("native_listen_skipped", map[string]any{"enabled": n.gate.Enabled})
		return
	}
	if n.pending || n.gate.Active {
		n.gate.Starting = false
		return
	}

	n.attempt++
	attempt := n.attempt
	n.pending = true
	n.gate.Starting = true

	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	n.watchdog.Arm(attempt, n.expired)
	n.host.Record("native_listen", map[string]any{"attempt": attempt, "deadline": n.watchdog.Deadline()})

	err := callSafely(func() error {
		return n.engine.Listen(ctx, n.request,
			func(text string) {
				n.sched.Post(func() { n.succeeded(attempt, text) })
			},
			func(err error) {
				n.sched.Post(func() { n.failed(attempt, domain.ErrorCodeRuntime, err) })
			},
		)
	})
	if err != nil {
		n.failed(attempt, domain.ErrorCodeStartFailed, err)
		return
	}
	if attempt == n.attempt && n.pending {
		n.gate.MarkActive()
		n.host.Record("native_active", map[string]any{"attempt": attempt})
	}
}

func (n *NativeRecognizer) succeeded(attempt uint64, text string) {
	if attempt != n.attempt || !n.pending {
		n.host.Record("native_stale_result", map[string]any{"attempt": attempt})
		return
	}
	n.finishAttempt()
	n.gate.Retries = 0

	n.host.Deliver(domain.Recognition{Text: text, IsFinal: true, Backend: domain.BackendNative})

	if n.gate.Enabled {
		n.next = scheduler.Stop(n.next)
		n.next = n.sched.AfterFunc(n.timing.InterAttempt, func() {
			n.next = nil
			if !n.gate.TryBeginStart() {
				return
			}
			n.arm(0)
		})
	}
}

func (n *NativeRecognizer) failed(attempt uint64, code domain.ErrorCode, err error) {
	if attempt != n.attempt || !n.pending {
		n.host.Record("native_stale_error", map[string]any{"attempt": attempt, "code": string(code)})
		return
	}
	n.finishAttempt()
	if code == domain.ErrorCodeHang {
		n.forceStop()
	}
	n.host.Failed(code, err)
}

func (n *NativeRecognizer) expired(attempt uint64) {
	n.host.Record("native_watchdog_expired", map[string]any{"attempt": attempt})
	n.failed(attempt, domain.ErrorCodeHang, ErrListenTimeout)
}

// finishAttempt clears the attempt flags. It runs before any follow-up is
// scheduled.
func (n *NativeRecognizer) finishAttempt() {
	n.pending = false
	n.gate.Settle()
	n.watchdog.Cancel()
	n.cancelAttempt()
}

func (n *NativeRecognizer) cancelAttempt() {
	if n.cancel != nil {
		n.cancel()
		n.cancel = nil
	}
}

func (n *NativeRecognizer) forceStop() {
	err := callSafely(n.engine.ForceStop)
	if err != nil && n.host != nil {
		n.host.Record("native_force_stop_failed", map[string]any{"error": err.Error()})
	}
}

// callSafely runs a backend call and converts a panic into an error.
func callSafely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recognizer backend panicked: %v", r)
		}
	}()
	return fn()
}
