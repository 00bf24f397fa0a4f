package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"coachmic/internal/analysis"
	"coachmic/internal/bootstrap"
	"coachmic/internal/config"
	"coachmic/internal/domain"
)

type listenOptions struct {
	backend       string
	feedback      string
	analysisDelay time.Duration
	metricsAddr   string
}

func newListenCommand() *cobra.Command {
	opts := listenOptions{}
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Run a coaching session in the terminal",
		Long: `Start a session and print turn changes, heard utterances and errors.

Saying a start phrase ("let's go", "ready") triggers an analysis run; after
--analysis-delay the feedback text is spoken and listening resumes. Saying
"stop" ends the session. Ctrl-C exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runListen(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.backend, "backend", "", "recognizer backend override (native|platform)")
	cmd.Flags().StringVar(&opts.feedback, "feedback", "Nice rep. Keep your chest up.", "feedback spoken after each analysis (empty to skip)")
	cmd.Flags().DurationVar(&opts.analysisDelay, "analysis-delay", 2*time.Second, "simulated analysis time")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

func runListen(cmd *cobra.Command, opts listenOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if opts.backend != "" {
		cfg.Recognizer.Backend = strings.ToLower(opts.backend)
	}
	if opts.metricsAddr != "" {
		cfg.Metrics.Addr = opts.metricsAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sink := newTerminalSink(cmd.OutOrStdout())
	var services bootstrap.Services
	services, err = bootstrap.BuildWithConfig(cfg, bootstrap.Options{
		Events: sink,
		OnAnalysis: func(req analysis.Request) {
			sink.line("analysis", fmt.Sprintf("%s (%s)", req.Raw, req.ID))
			time.AfterFunc(opts.analysisDelay, func() {
				finishAnalysis(services, opts.feedback)
			})
		},
	})
	if err != nil {
		return err
	}
	// The loop outlives the signal context so Close can still drain the stop.
	services.Start(context.Background())
	services.Coordinator.StartSession()
	sink.line("session", fmt.Sprintf("backend=%s; ctrl-c to quit", cfg.Recognizer.Backend))

	select {
	case <-ctx.Done():
	case <-sink.stopped:
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	services.Close(closeCtx)
	return nil
}

func finishAnalysis(services bootstrap.Services, feedback string) {
	spoke := strings.TrimSpace(feedback) != ""
	if !services.FinishAnalysis(spoke) {
		return
	}
	if spoke {
		services.Coordinator.Speak(feedback)
	}
}

// terminalSink prints coordinator events. It is called from the scheduler
// goroutine.
type terminalSink struct {
	mu      sync.Mutex
	out     io.Writer
	stopped chan struct{}
	started bool
	once    sync.Once
}

func newTerminalSink(out io.Writer) *terminalSink {
	return &terminalSink{out: out, stopped: make(chan struct{})}
}

func (s *terminalSink) line(label string, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.out, labelStyle.Render(label)+text)
}

func (s *terminalSink) TurnStateChanged(state domain.TurnState, reason domain.TurnReason) {
	s.line("turn", stateStyle(state).Render(string(state))+mutedStyle.Render(" "+string(reason)))

	s.mu.Lock()
	defer s.mu.Unlock()
	if state != domain.TurnStateIdle {
		s.started = true
		return
	}
	if s.started {
		s.once.Do(func() { close(s.stopped) })
	}
}

func (s *terminalSink) Heard(text string) {
	s.line("heard", text)
}

func (s *terminalSink) Indicators(ind domain.Indicators) {
	s.line("indicators", fmt.Sprintf("mic %s  camera %s  session %s", dot(ind.Mic), dot(ind.Camera), dot(ind.Session)))
}

func (s *terminalSink) SessionError(code domain.ErrorCode, detail string) {
	s.line("error", errorStyle.Render(string(code))+" "+detail)
}
