package scheduler

import (
	"sort"
	"sync"
	"time"
)

// Virtual is a deterministic Scheduler driven by Advance. Timers due at the
// same instant fire in the order they were created.
type Virtual struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	timers []*virtualTimer
	queue  []func()
}

// NewVirtual returns a virtual clock starting at start.
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start}
}

func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

func (v *Virtual) Post(fn func()) {
	if fn == nil {
		return
	}
	v.mu.Lock()
	v.queue = append(v.queue, fn)
	v.mu.Unlock()
}

func (v *Virtual) AfterFunc(d time.Duration, fn func()) Timer {
	if d < 0 {
		d = 0
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.seq++
	t := &virtualTimer{owner: v, due: v.now.Add(d), seq: v.seq, fn: fn}
	v.timers = append(v.timers, t)
	return t
}

// RunPending drains the posted queue, including work posted while draining.
// It returns how many functions ran.
func (v *Virtual) RunPending() int {
	ran := 0
	for {
		v.mu.Lock()
		if len(v.queue) == 0 {
			v.mu.Unlock()
			return ran
		}
		fn := v.queue[0]
		v.queue = v.queue[1:]
		v.mu.Unlock()

		fn()
		ran++
	}
}

// Advance moves the clock forward by d, firing every timer that comes due
// and draining posted work after each one.
func (v *Virtual) Advance(d time.Duration) {
	v.mu.Lock()
	target := v.now.Add(d)
	v.mu.Unlock()

	for {
		v.RunPending()

		v.mu.Lock()
		next := v.nextDueLocked(target)
		if next == nil {
			v.now = target
			v.mu.Unlock()
			break
		}
		v.removeLocked(next)
		if next.due.After(v.now) {
			v.now = next.due
		}
		next.fired = true
		v.mu.Unlock()

		next.fn()
	}
	v.RunPending()
}

// PendingTimers reports how many timers are armed and not yet fired.
func (v *Virtual) PendingTimers() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.timers)
}

// NextDeadline returns the due time of the earliest armed timer.
func (v *Virtual) NextDeadline() (time.Time, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	next := v.nextDueLocked(time.Time{})
	if next == nil {
		return time.Time{}, false
	}
	return next.due, true
}

// nextDueLocked returns the earliest timer due at or before limit. A zero
// limit means no limit.
func (v *Virtual) nextDueLocked(limit time.Time) *virtualTimer {
	if len(v.timers) == 0 {
		return nil
	}
	sort.SliceStable(v.timers, func(i, j int) bool {
		if v.timers[i].due.Equal(v.timers[j].due) {
			return v.timers[i].seq < v.timers[j].seq
		}
		return v.timers[i].due.Before(v.timers[j].due)
	})
	first := v.timers[0]
	if !limit.IsZero() && first.due.After(limit) {
		return nil
	}
	return first
}

func (v *Virtual) removeLocked(t *virtualTimer) bool {
	for i, candidate := range v.timers {
		if candidate == t {
			v.timers = append(v.timers[:i], v.timers[i+1:]...)
			return true
		}
	}
	return false
}

type virtualTimer struct {
	owner *Virtual
	due   time.Time
	seq   uint64
	fn    func()
	fired bool
}

func (t *virtualTimer) Stop() bool {
	t.owner.mu.Lock()
	defer t.owner.mu.Unlock()
	if t.fired {
		return false
	}
	return t.owner.removeLocked(t)
}
