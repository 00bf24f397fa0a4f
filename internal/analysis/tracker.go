// Package analysis tracks whether a triggered analysis is still running.
package analysis

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"coachmic/internal/logger"
)

// Request is one analysis run handed to the host.
type Request struct {
	ID         string    `json:"id"`
	Raw        string    `json:"raw"`
	Normalized string    `json:"normalized"`
	StartedAt  time.Time `json:"startedAt"`
}

// Tracker implements ports.AnalysisPipeline. The host does the analysis and
// reports back through Finish; a run that never reports is abandoned after
// the timeout.
type Tracker struct {
	handler   func(Request)
	onExpired func(Request)
	timeout   time.Duration
	now       func() time.Time

	mu      sync.Mutex
	current *Request
	timer   *time.Timer
}

// NewTracker builds a tracker. onExpired may be nil; a zero timeout disables
// abandonment.
func NewTracker(handler func(Request), onExpired func(Request), timeout time.Duration) *Tracker {
	return &Tracker{handler: handler, onExpired: onExpired, timeout: timeout, now: time.Now}
}

// Trigger starts a run unless one is already in progress.
func (t *Tracker) Trigger(raw string, normalized string) {
	t.mu.Lock()
	if t.current != nil {
		id := t.current.ID
		t.mu.Unlock()
		logger.Debug("analysis already running", "id", id)
		return
	}
	req := Request{ID: uuid.NewString(), Raw: raw, Normalized: normalized, StartedAt: t.now()}
	t.current = &req
	if t.timeout > 0 {
		t.timer = time.AfterFunc(t.timeout, func() { t.expire(req.ID) })
	}
	t.mu.Unlock()

	logger.Info("analysis triggered", "id", req.ID, "utterance", normalized)
	if t.handler != nil {
		t.handler(req)
	}
}

func (t *Tracker) InProgress() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current != nil
}

// Current returns the running request, if any.
func (t *Tracker) Current() (Request, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return Request{}, false
	}
	return *t.current, true
}

// Finish ends the run. It reports false when nothing was running.
func (t *Tracker) Finish() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return false
	}
	logger.Info("analysis finished", "id", t.current.ID, "elapsed", t.now().Sub(t.current.StartedAt))
	t.clearLocked()
	return true
}

func (t *Tracker) expire(id string) {
	t.mu.Lock()
	if t.current == nil || t.current.ID != id {
		t.mu.Unlock()
		return
	}
	req := *t.current
	t.clearLocked()
	t.mu.Unlock()

	logger.Warn("analysis abandoned", "id", id, "timeout", t.timeout)
	if t.onExpired != nil {
		t.onExpired(req)
	}
}

func (t *Tracker) clearLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.current = nil
}
