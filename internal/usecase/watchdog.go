package usecase

import (
	"time"

	"coachmic/internal/scheduler"
)

// watchdog supervises a single listen attempt. Arming again replaces the
// previous deadline.
type watchdog struct {
	sched   scheduler.Scheduler
	timeout time.Duration

	timer    scheduler.Timer
	attempt  uint64
	deadline time.Time
}

func newWatchdog(sched scheduler.Scheduler, timeout time.Duration) *watchdog {
	return &watchdog{sched: sched, timeout: timeout}
}

func (w *watchdog) Arm(attempt uint64, onExpire func(attempt uint64)) {
	w.Cancel()
	w.attempt = attempt
	w.deadline = w.sched.Now().Add(w.timeout)
	w.timer = w.sched.AfterFunc(w.timeout, func() {
		if w.attempt != attempt || w.timer == nil {
			return
		}
		w.timer = nil
		onExpire(attempt)
	})
}

func (w *watchdog) Cancel() {
	w.timer = scheduler.Stop(w.timer)
	w.deadline = time.Time{}
}

func (w *watchdog) Armed() bool {
	return w.timer != nil
}

func (w *watchdog) Deadline() time.Time {
	return w.deadline
}
