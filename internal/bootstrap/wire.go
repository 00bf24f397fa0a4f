package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/afero"

	"coachmic/internal/analysis"
	"coachmic/internal/audio"
	"coachmic/internal/config"
	"coachmic/internal/debuglog"
	"coachmic/internal/logger"
	"coachmic/internal/metrics"
	"coachmic/internal/ports"
	"coachmic/internal/providers/deepgram"
	"coachmic/internal/recognition/live"
	"coachmic/internal/recognition/oneshot"
	"coachmic/internal/scheduler"
	"coachmic/internal/speech"
	"coachmic/internal/trigger"
	"coachmic/internal/usecase"
)

const drainTimeout = 2 * time.Second

// Services is the assembled runtime graph.
type Services struct {
	Config      config.Config
	Loop        *scheduler.Loop
	Coordinator *usecase.TurnCoordinator
	Analysis    *analysis.Tracker
	DebugLog    *debuglog.Ring
	Metrics     *metrics.Recorder
	// Exporter is nil unless COACHMIC_METRICS_ADDR is set.
	Exporter *metrics.Exporter
}

// Options supplies the host side of the graph.
type Options struct {
	Events ports.EventSink
	// OnAnalysis receives each triggered analysis run. The host reports back
	// through Services.FinishAnalysis.
	OnAnalysis func(analysis.Request)
	// Filesystem for aliases; nil uses the OS.
	Fs afero.Fs
	// Output overrides the TTS command speaker.
	Output ports.SpeechOutput
}

// Build loads configuration and wires all backend dependencies.
func Build(opts Options) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}
	return BuildWithConfig(cfg, opts)
}

// BuildWithConfig wires the graph from an already resolved configuration.
func BuildWithConfig(cfg config.Config, opts Options) (Services, error) {
	if opts.Events == nil {
		return Services{}, errors.New("bootstrap: event sink is required")
	}
	fsys := opts.Fs
	if fsys == nil {
		fsys = afero.NewOsFs()
	}

	aliases, err := trigger.LoadAliases(fsys, cfg.Trigger.AliasesPath)
	if err != nil {
		return Services{}, err
	}
	parser := trigger.NewParser(cfg.Tuning.Trigger, aliases)

	loop := scheduler.NewLoop()
	timing := timingFrom(cfg.Tuning.Timing)
	recognizer, err := buildRecognizer(cfg, loop, timing)
	if err != nil {
		return Services{}, err
	}

	output := opts.Output
	if output == nil {
		output = speech.NewCommandSpeaker(cfg.Speech.Command, cfg.Speech.Args...)
	}

	ring := debuglog.NewRing(debuglog.DefaultCapacity)
	recorder := metrics.NewRecorder()
	var exporter *metrics.Exporter
	if cfg.Metrics.Addr != "" {
		exporter = metrics.NewExporter(cfg.Metrics.Addr, recorder)
	}

	var coordinator *usecase.TurnCoordinator
	tracker := analysis.NewTracker(opts.OnAnalysis, func(analysis.Request) {
		coordinator.AnalysisSettled()
	}, cfg.Analysis.Timeout)

	coordinator = usecase.NewTurnCoordinator(
		loop,
		recognizer,
		parser,
		output,
		tracker,
		opts.Events,
		debuglog.Fanout{ring, recorder, debuglog.LogSink{}},
		usecase.Config{Timing: timing, Retry: retryFrom(cfg.Tuning.Retry)},
	)

	logger.Info("voice coordinator wired",
		"backend", recognizer.Backend(),
		"aliases", aliases.Len(),
		"tuning", cfg.Tuning.Path,
		"metrics", cfg.Metrics.Addr,
	)

	return Services{
		Config:      cfg,
		Loop:        loop,
		Coordinator: coordinator,
		Analysis:    tracker,
		DebugLog:    ring,
		Metrics:     recorder,
		Exporter:    exporter,
	}, nil
}

// Start runs the scheduler loop and, when configured, the metrics exporter.
func (s Services) Start(ctx context.Context) {
	s.Loop.Start(ctx)
	if s.Exporter == nil {
		return
	}
	go func() {
		if err := s.Exporter.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics exporter stopped", "addr", s.Config.Metrics.Addr, "error", err)
		}
	}()
}

// FinishAnalysis marks the running analysis done. When the host will not
// speak feedback it should pass spoke=false so listening resumes.
func (s Services) FinishAnalysis(spoke bool) bool {
	finished := s.Analysis.Finish()
	if finished && !spoke {
		s.Coordinator.AnalysisSettled()
	}
	return finished
}

// Close stops the session, the exporter and the loop. The session stop runs
// on the loop, so Close waits for it before shutting the loop down.
func (s Services) Close(ctx context.Context) {
	s.Coordinator.Close()
	drained := make(chan struct{})
	s.Loop.Post(func() { close(drained) })
	select {
	case <-drained:
	case <-ctx.Done():
	case <-time.After(drainTimeout):
		logger.Warn("scheduler did not drain before shutdown")
	}

	if s.Exporter != nil {
		if err := s.Exporter.Shutdown(ctx); err != nil {
			logger.Warn("metrics exporter shutdown failed", "error", err)
		}
	}
	s.Loop.Close()
}

func buildRecognizer(cfg config.Config, sched scheduler.Scheduler, timing usecase.Timing) (ports.Recognizer, error) {
	provider := deepgram.NewProvider(deepgram.Config{
		APIKey:        cfg.Deepgram.APIKey,
		APIBaseURL:    cfg.Deepgram.APIBaseURL,
		Model:         cfg.Deepgram.Model,
		Language:      cfg.Deepgram.Language,
		SmartFormat:   cfg.Deepgram.SmartFormat,
		EndpointingMS: cfg.Deepgram.EndpointingMS,
	})
	capture := audio.NewFFMPEGCapture(cfg.Audio.RecorderCommand)
	audioCfg := ports.AudioConfig{
		SampleRate:  cfg.Audio.SampleRate,
		Channels:    cfg.Audio.Channels,
		InputFormat: cfg.Audio.InputFormat,
		InputDevice: cfg.Audio.InputDevice,
	}
	streaming := ports.StreamingConfig{
		SampleRate: cfg.Audio.SampleRate,
		Channels:   cfg.Audio.Channels,
		Encoding:   "linear16",
	}

	switch cfg.Recognizer.Backend {
	case config.BackendPlatform:
		engine := live.NewEngine(capture, provider, live.Config{
			Audio:        audioCfg,
			Streaming:    streaming,
			ChunkSize:    cfg.Recognizer.ChunkSize,
			CloseTimeout: cfg.Recognizer.CloseTimeout,
		})
		return usecase.NewPlatformRecognizer(sched, engine, timing), nil
	case config.BackendNative:
		engine := oneshot.NewEngine(capture, provider, oneshot.Config{
			Audio:     audioCfg,
			Streaming: streaming,
			Window:    cfg.Recognizer.ClipWindow,
		})
		probe := audio.NewPermissionProbe(cfg.Audio.RecorderCommand, audioCfg)
		return usecase.NewNativeRecognizer(sched, engine, probe, timing, ports.ListenRequest{
			Language: cfg.Recognizer.Language,
		}), nil
	default:
		return nil, fmt.Errorf("%w %q", config.ErrUnknownBackend, cfg.Recognizer.Backend)
	}
}

func timingFrom(t config.TimingTuning) usecase.Timing {
	return usecase.Timing{
		PreRoll:      t.PreRoll,
		InterAttempt: t.InterAttempt,
		Settle:       t.Settle,
		Watchdog:     t.Watchdog,
		Resume:       t.Resume,
	}
}

func retryFrom(r config.RetryTuning) usecase.RetryPolicy {
	policy := usecase.DefaultRetryPolicy()
	if r.Base > 0 {
		policy.Base = r.Base
	}
	if r.Factor >= 1 {
		policy.Factor = r.Factor
	}
	if r.MaxJitter > 0 {
		policy.MaxJitter = r.MaxJitter
	}
	if r.MaxRetries > 0 {
		policy.MaxRetries = r.MaxRetries
	}
	return policy
}
