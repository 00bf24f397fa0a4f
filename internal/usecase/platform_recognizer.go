package usecase

import (
	"context"

	"coachmic/internal/domain"
	"coachmic/internal/ports"
	"coachmic/internal/scheduler"
)

// PlatformRecognizer drives a continuous engine that streams
// confidence-scored results and ends a segment on its own. Segments are
// restarted after a settle delay; errors are left to the host's recovery.
type PlatformRecognizer struct {
	sched  scheduler.Scheduler
	engine ports.ContinuousEngine
	timing Timing

	host ports.RecognizerHost
	gate *domain.ListenGate

	settle  scheduler.Timer
	segment uint64
	running bool
}

func NewPlatformRecognizer(sched scheduler.Scheduler, engine ports.ContinuousEngine, timing Timing) *PlatformRecognizer {
	return &PlatformRecognizer{
		sched:  sched,
		engine: engine,
		timing: timing.withDefaults(),
	}
}

func (p *PlatformRecognizer) Bind(host ports.RecognizerHost, gate *domain.ListenGate) {
	p.host = host
	p.gate = gate
}

func (p *PlatformRecognizer) Backend() domain.Backend {
	return domain.BackendPlatform
}

func (p *PlatformRecognizer) Start() {
	p.gate.Enabled = true
	if p.gate.Active || p.running {
		p.gate.Starting = false
		p.host.Record("platform_start_ignored", map[string]any{"active": p.gate.Active})
		return
	}
	p.settle = scheduler.Stop(p.settle)

	p.segment++
	segment := p.segment
	p.running = true
	p.gate.Starting = true
	p.host.Record("platform_begin", map[string]any{"segment": segment})

	err := callSafely(func() error {
		return p.engine.Begin(context.Background(), ports.ContinuousHandlers{
			OnStart: func() {
				p.sched.Post(func() { p.started(segment) })
			},
			OnResult: func(result domain.Recognition) {
				p.sched.Post(func() { p.result(segment, result) })
			},
			OnError: func(err error) {
				p.sched.Post(func() { p.errored(segment, err) })
			},
			OnEnd: func() {
				p.sched.Post(func() { p.ended(segment) })
			},
		})
	})
	if err != nil {
		p.segment++
		p.running = false
		p.gate.Starting = false
		p.host.Failed(domain.ErrorCodeStartFailed, err)
	}
}

func (p *PlatformRecognizer) Stop() {
	p.teardown("platform_stop")
}

func (p *PlatformRecognizer) Abort() {
	p.teardown("platform_abort")
}

func (p *PlatformRecognizer) teardown(recordType string) {
	p.segment++
	p.settle = scheduler.Stop(p.settle)
	wasRunning := p.running
	p.running = false
	if p.gate != nil {
		p.gate.Reset()
	}
	if err := callSafely(p.engine.End); err != nil && p.host != nil {
		p.host.Record("platform_end_failed", map[string]any{"error": err.Error()})
	}
	if p.host != nil {
		p.host.Record(recordType, map[string]any{"was_running": wasRunning})
	}
}

func (p *PlatformRecognizer) started(segment uint64) {
	if segment != p.segment {
		return
	}
	p.gate.MarkActive()
	p.host.Record("platform_started", map[string]any{"segment": segment})
}

func (p *PlatformRecognizer) result(segment uint64, result domain.Recognition) {
	if segment != p.segment {
		return
	}
	result.Backend = domain.BackendPlatform
	if result.IsFinal {
		p.gate.Retries = 0
	}
	p.host.Deliver(result)
}

func (p *PlatformRecognizer) ended(segment uint64) {
	if segment != p.segment {
		return
	}
	p.running = false
	p.gate.Settle()
	p.host.Record("platform_segment_end", map[string]any{"segment": segment})

	if !p.gate.Enabled || !p.host.CanListen() {
		return
	}
	p.settle = scheduler.Stop(p.settle)
	p.settle = p.sched.AfterFunc(p.timing.Settle, func() {
		p.settle = nil
		if !p.gate.Enabled || !p.host.CanListen() {
			return
		}
		if !p.gate.TryBeginStart() {
			return
		}
		p.Start()
	})
}

// errored invalidates the segment so its trailing end does not restart it.
func (p *PlatformRecognizer) errored(segment uint64, err error) {
	if segment != p.segment {
		return
	}
	p.segment++
	p.running = false
	p.gate.Settle()
	_ = callSafely(p.engine.End)
	p.host.Failed(domain.ErrorCodeRuntime, err)
}
