package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"coachmic/internal/domain"
	"coachmic/internal/ports"
	"coachmic/internal/scheduler"
	"coachmic/internal/trigger"
)

// Config controls coordinator timings and recovery.
type Config struct {
	Timing Timing
	Retry  RetryPolicy
}

// TurnCoordinator arbitrates between speech output and speech input. All of
// its state is touched only from the scheduler's task; exported methods post
// onto it and return immediately.
type TurnCoordinator struct {
	sched      scheduler.Scheduler
	recognizer ports.Recognizer
	parser     *trigger.Parser
	output     ports.SpeechOutput
	analysis   ports.AnalysisPipeline
	events     ports.EventSink
	debug      ports.DebugSink
	timing     Timing
	retry      RetryPolicy

	ctx    context.Context
	cancel context.CancelFunc

	gate        domain.ListenGate
	state       domain.TurnState
	reason      domain.TurnReason
	running     bool
	speaking    bool
	unavailable bool
	sessionID   string
	speechGen   uint64
	indicators  domain.Indicators

	resumeTimer scheduler.Timer
	retryTimer  scheduler.Timer

	statusMu sync.Mutex
	status   domain.Status
}

func NewTurnCoordinator(
	sched scheduler.Scheduler,
	recognizer ports.Recognizer,
	parser *trigger.Parser,
	output ports.SpeechOutput,
	analysis ports.AnalysisPipeline,
	events ports.EventSink,
	debug ports.DebugSink,
	cfg Config,
) *TurnCoordinator {
	if parser == nil {
		parser = trigger.NewParser(trigger.DefaultPolicy(), nil)
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &TurnCoordinator{
		sched:      sched,
		recognizer: recognizer,
		parser:     parser,
		output:     output,
		analysis:   analysis,
		events:     events,
		debug:      debug,
		timing:     cfg.Timing.withDefaults(),
		retry:      cfg.Retry.withDefaults(),
		ctx:        ctx,
		cancel:     cancel,
		state:      domain.TurnStateIdle,
	}
	recognizer.Bind(c, &c.gate)
	c.publish()
	return c
}

// StartSession begins listening once the host finished camera/model setup.
func (c *TurnCoordinator) StartSession() {
	c.sched.Post(c.startSession)
}

// StopSession returns to Idle from any state.
func (c *TurnCoordinator) StopSession() {
	c.sched.Post(func() { c.stopSession(domain.TurnReasonSessionStopped) })
}

// Speak stops listening and then plays text through the speech output.
func (c *TurnCoordinator) Speak(text string) {
	c.sched.Post(func() { c.speak(text) })
}

// AnalysisSettled tells the coordinator the analysis pipeline finished
// without spoken feedback, so listening may resume.
func (c *TurnCoordinator) AnalysisSettled() {
	c.sched.Post(c.analysisSettled)
}

// Close stops the session and cancels in-flight speech output.
func (c *TurnCoordinator) Close() {
	c.sched.Post(func() {
		c.stopSession(domain.TurnReasonSessionStopped)
		c.cancel()
	})
}

// Status returns the last published snapshot. Safe from any goroutine.
func (c *TurnCoordinator) Status() domain.Status {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	return c.status
}

// CanListen reports whether a listen attempt may be made right now.
func (c *TurnCoordinator) CanListen() bool {
	return c.running && !c.speaking && !c.unavailable && !c.analysisInProgress()
}

// Deliver routes a recognized utterance through the trigger parser.
func (c *TurnCoordinator) Deliver(result domain.Recognition) {
	defer c.publish()
	if !c.running {
		c.record("recognition_ignored", map[string]any{"text": result.Text})
		return
	}

	event := c.parser.Parse(result)
	c.record("recognized", map[string]any{
		"backend":    string(result.Backend),
		"text":       result.Text,
		"confidence": result.Confidence,
		"final":      result.IsFinal,
		"command":    string(event.Kind),
	})

	switch event.Kind {
	case domain.CommandStopSession:
		c.stopSession(domain.TurnReasonSessionStopped)
	case domain.CommandStartAnalysis:
		if c.analysisInProgress() {
			c.record("analysis_already_running", nil)
			return
		}
		c.stopListening()
		c.setState(domain.TurnStateAnalyzing, domain.TurnReasonAnalysisStarted)
		if c.analysis != nil {
			c.analysis.Trigger(event.Raw, event.Text)
		}
	case domain.CommandHeard:
		c.events.Heard(event.Text)
	}
}

// Failed applies the retry policy after a hang, runtime error or failed start.
// The recognizer has already cleared its attempt flags.
func (c *TurnCoordinator) Failed(code domain.ErrorCode, err error) {
	defer c.publish()
	if err == nil {
		err = errors.New(string(code))
	}
	if !c.running {
		c.record("listen_failed_after_stop", map[string]any{"code": string(code), "error": err.Error()})
		return
	}
	c.gate.Settle()
	c.gate.Retries++
	retries := c.gate.Retries

	c.record("listen_failed", map[string]any{"code": string(code), "error": err.Error(), "retries": retries})
	c.events.SessionError(code, err.Error())

	if c.retry.Exhausted(retries) {
		c.gate.Enabled = false
		c.unavailable = true
		c.retryTimer = scheduler.Stop(c.retryTimer)
		c.record("listen_unavailable", map[string]any{"retries": retries})
		c.events.SessionError(domain.ErrorCodeExhausted, ErrRetriesExhausted.Error())
		c.setState(domain.TurnStateUnavailable, domain.TurnReasonSpeechUnavailable)
		return
	}

	delay := c.retry.Delay(retries)
	reason := domain.TurnReasonRetryScheduled
	if code == domain.ErrorCodeStartFailed {
		reason = domain.TurnReasonStartFailed
	}
	c.record("retry_scheduled", map[string]any{"retries": retries, "delay_ms": delay.Milliseconds()})
	c.setState(domain.TurnStateRecovering, reason)

	c.retryTimer = scheduler.Stop(c.retryTimer)
	c.retryTimer = c.sched.AfterFunc(delay, c.retryListening)
}

// Record forwards a recognizer debug record. Adapters record after every
// gate change, so this also refreshes the status snapshot.
func (c *TurnCoordinator) Record(recordType string, fields map[string]any) {
	defer c.publish()
	if fields == nil {
		fields = map[string]any{}
	}
	fields["backend"] = string(c.recognizer.Backend())
	c.record(recordType, fields)
}

func (c *TurnCoordinator) startSession() {
	defer c.publish()
	if c.running {
		c.record("session_already_running", nil)
		return
	}
	c.running = true
	c.unavailable = false
	c.gate.Reset()
	c.sessionID = uuid.NewString()
	c.record("session_start", nil)
	c.setState(domain.TurnStateListening, domain.TurnReasonSessionStarted)
	if !c.startListening() && c.state == domain.TurnStateListening {
		c.setState(c.restingState(), domain.TurnReasonNotListening)
	}
}

// stopSession is idempotent and safe mid-attempt.
func (c *TurnCoordinator) stopSession(reason domain.TurnReason) {
	defer c.publish()
	wasRunning := c.running
	c.running = false

	c.stopListening()
	c.resumeTimer = scheduler.Stop(c.resumeTimer)
	if c.speaking {
		c.speaking = false
		c.speechGen++
		if c.output != nil {
			if err := callSafely(c.output.Stop); err != nil {
				c.record("speech_stop_failed", map[string]any{"error": err.Error()})
			}
		}
	}
	c.unavailable = false
	c.gate.Reset()

	c.record("session_stop", map[string]any{"was_running": wasRunning})
	c.setState(domain.TurnStateIdle, reason)
	c.setIndicators(domain.Indicators{})
	c.sessionID = ""
}

func (c *TurnCoordinator) startListening() bool {
	if !c.CanListen() {
		c.record("listen_suppressed", map[string]any{
			"running":     c.running,
			"speaking":    c.speaking,
			"unavailable": c.unavailable,
			"analysis":    c.analysisInProgress(),
		})
		return false
	}
	if !c.gate.TryBeginStart() {
		c.record("listen_start_ignored", map[string]any{"starting": c.gate.Starting, "active": c.gate.Active})
		return false
	}
	c.gate.Enabled = true
	c.setState(domain.TurnStateListening, domain.TurnReasonListening)

	if err := callSafely(func() error { c.recognizer.Start(); return nil }); err != nil {
		c.gate.Settle()
		c.Failed(domain.ErrorCodeStartFailed, err)
		return false
	}
	return true
}

// stopListening forces a clean reset of the gate before anything else runs.
func (c *TurnCoordinator) stopListening() {
	c.retryTimer = scheduler.Stop(c.retryTimer)
	if err := callSafely(func() error { c.recognizer.Stop(); return nil }); err != nil {
		c.record("recognizer_stop_failed", map[string]any{"error": err.Error()})
	}
	c.gate.Reset()
}

func (c *TurnCoordinator) retryListening() {
	defer c.publish()
	c.retryTimer = nil
	if !c.gate.Enabled {
		c.record("retry_skipped", nil)
		return
	}
	c.gate.Enabled = false
	if !c.startListening() {
		c.setState(c.restingState(), domain.TurnReasonNotListening)
	}
}

func (c *TurnCoordinator) speak(text string) {
	defer c.publish()
	text = strings.TrimSpace(text)
	if text == "" || c.output == nil {
		return
	}

	c.stopListening()
	c.resumeTimer = scheduler.Stop(c.resumeTimer)

	previous := c.speechGen
	interrupted := c.speaking
	if interrupted {
		if err := callSafely(c.output.Stop); err != nil {
			c.record("speech_stop_failed", map[string]any{"error": err.Error()})
		}
	}
	c.speaking = true
	c.speechGen++
	gen := c.speechGen
	c.setState(domain.TurnStateSpeaking, domain.TurnReasonSpeaking)
	c.record("speak_start", map[string]any{"generation": gen, "chars": len(text), "interrupted": interrupted})

	err := callSafely(func() error {
		return c.output.Speak(c.ctx, text, func(err error) {
			c.sched.Post(func() { c.speechFinished(gen, err) })
		})
	})
	if err == nil {
		return
	}
	if interrupted && errors.Is(err, ports.ErrSpeechBusy) {
		// The earlier playback still owns the output; its done callback ends
		// the speaking turn.
		c.speechGen = previous
		c.record("speak_rejected", map[string]any{"generation": gen, "error": err.Error()})
		return
	}
	c.speechFinished(gen, err)
}

func (c *TurnCoordinator) speechFinished(gen uint64, err error) {
	defer c.publish()
	if gen != c.speechGen || !c.speaking {
		return
	}
	c.speaking = false

	fields := map[string]any{"generation": gen}
	if err != nil {
		fields["error"] = err.Error()
		c.events.SessionError(domain.ErrorCodeSpeech, fmt.Sprintf("speech output failed: %v", err))
	}
	c.record("speak_end", fields)
	c.armResume()
}

func (c *TurnCoordinator) analysisSettled() {
	defer c.publish()
	c.record("analysis_settled", map[string]any{"speaking": c.speaking})
	if c.speaking || !c.running {
		return
	}
	c.armResume()
}

func (c *TurnCoordinator) armResume() {
	c.resumeTimer = scheduler.Stop(c.resumeTimer)
	c.resumeTimer = c.sched.AfterFunc(c.timing.Resume, c.resume)
}

// resume restarts listening after speech output, unless anything took the
// floor again during the handoff delay.
func (c *TurnCoordinator) resume() {
	defer c.publish()
	c.resumeTimer = nil
	if !c.CanListen() {
		c.record("resume_skipped", map[string]any{
			"running":     c.running,
			"speaking":    c.speaking,
			"unavailable": c.unavailable,
			"analysis":    c.analysisInProgress(),
		})
		c.setState(c.restingState(), domain.TurnReasonNotListening)
		return
	}
	if c.gate.Busy() {
		c.record("resume_skipped_busy", map[string]any{"starting": c.gate.Starting, "active": c.gate.Active})
		return
	}
	c.startListening()
}

func (c *TurnCoordinator) restingState() domain.TurnState {
	switch {
	case !c.running:
		return domain.TurnStateIdle
	case c.speaking:
		return domain.TurnStateSpeaking
	case c.unavailable:
		return domain.TurnStateUnavailable
	case c.analysisInProgress():
		return domain.TurnStateAnalyzing
	case c.retryTimer != nil:
		return domain.TurnStateRecovering
	default:
		return domain.TurnStateListening
	}
}

func (c *TurnCoordinator) analysisInProgress() bool {
	return c.analysis != nil && c.analysis.InProgress()
}

func (c *TurnCoordinator) setState(state domain.TurnState, reason domain.TurnReason) {
	if state == c.state && reason == c.reason {
		c.setIndicators(c.indicatorsFor(state))
		return
	}
	previous := c.state
	c.state = state
	c.reason = reason
	c.record("turn", map[string]any{"from": string(previous), "to": string(state), "reason": string(reason)})
	c.events.TurnStateChanged(state, reason)
	c.setIndicators(c.indicatorsFor(state))
}

func (c *TurnCoordinator) indicatorsFor(state domain.TurnState) domain.Indicators {
	return domain.Indicators{
		Mic:     state == domain.TurnStateListening && c.gate.Enabled,
		Camera:  c.running,
		Session: c.running,
	}
}

func (c *TurnCoordinator) setIndicators(ind domain.Indicators) {
	if ind == c.indicators {
		return
	}
	c.indicators = ind
	c.events.Indicators(ind)
}

func (c *TurnCoordinator) record(recordType string, fields map[string]any) {
	if c.debug == nil {
		return
	}
	if fields == nil {
		fields = map[string]any{}
	}
	if c.sessionID != "" {
		fields["session"] = c.sessionID
	}
	c.debug.Record(domain.DebugRecord{Time: c.sched.Now(), Type: recordType, Fields: fields})
}

func (c *TurnCoordinator) publish() {
	status := domain.Status{
		State:       c.state,
		Running:     c.running,
		Speaking:    c.speaking,
		Unavailable: c.unavailable,
		Gate:        c.gate,
		SessionID:   c.sessionID,
	}
	if c.unavailable {
		status.Message = ErrRetriesExhausted.Error()
	}
	c.statusMu.Lock()
	c.status = status
	c.statusMu.Unlock()
}
