// Package metrics turns coordinator debug records into Prometheus metrics.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"coachmic/internal/domain"
)

const namespace = "coachmic"

// Recorder implements ports.DebugSink. Each Recorder owns its collectors so
// several can coexist in tests.
type Recorder struct {
	turnTransitions *prometheus.CounterVec
	turnState       *prometheus.GaugeVec
	listenAttempts  *prometheus.CounterVec
	listenFailures  *prometheus.CounterVec
	retryDelay      prometheus.Histogram
	unavailable     prometheus.Counter
	recognitions    *prometheus.CounterVec
	confidence      *prometheus.HistogramVec
	utterances      prometheus.Counter
	sessionsActive  prometheus.Gauge
}

func NewRecorder() *Recorder {
	return &Recorder{
		turnTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_transitions_total",
			Help:      "Turn state transitions by target state and reason",
		}, []string{"state", "reason"}),
		turnState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "turn_state",
			Help:      "1 for the current turn state, 0 otherwise",
		}, []string{"state"}),
		listenAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listen_attempts_total",
			Help:      "Recognizer starts issued by backend",
		}, []string{"backend"}),
		listenFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listen_failures_total",
			Help:      "Failed listen attempts by error code",
		}, []string{"code"}),
		retryDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retry_delay_seconds",
			Help:      "Backoff delay before each listen retry",
			Buckets:   []float64{.5, .75, 1, 1.5, 2, 3, 4, 6},
		}),
		unavailable: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listen_unavailable_total",
			Help:      "Sessions where listening was given up after repeated failures",
		}),
		recognitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognitions_total",
			Help:      "Recognized utterances by backend and resulting command",
		}, []string{"backend", "command"}),
		confidence: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recognition_confidence",
			Help:      "Confidence reported with recognized utterances",
			Buckets:   []float64{.1, .2, .3, .45, .6, .8, .9, 1},
		}, []string{"backend"}),
		utterances: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speech_output_total",
			Help:      "Feedback utterances sent to speech output",
		}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Coaching sessions currently running",
		}),
	}
}

// Collectors lists everything the recorder exports.
func (r *Recorder) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		r.turnTransitions, r.turnState, r.listenAttempts, r.listenFailures, r.retryDelay,
		r.unavailable, r.recognitions, r.confidence, r.utterances, r.sessionsActive,
	}
}

func (r *Recorder) Record(record domain.DebugRecord) {
	//exhaustive:ignore
	switch record.Type {
	case "turn":
		state := str(record.Fields["to"])
		r.turnTransitions.WithLabelValues(state, str(record.Fields["reason"])).Inc()
		r.setState(state)
	case "native_listen":
		r.listenAttempts.WithLabelValues(string(domain.BackendNative)).Inc()
	case "platform_begin":
		r.listenAttempts.WithLabelValues(string(domain.BackendPlatform)).Inc()
	case "listen_failed":
		r.listenFailures.WithLabelValues(str(record.Fields["code"])).Inc()
	case "retry_scheduled":
		if ms, ok := number(record.Fields["delay_ms"]); ok {
			r.retryDelay.Observe(ms / 1000)
		}
	case "listen_unavailable":
		r.unavailable.Inc()
	case "recognized":
		backend := str(record.Fields["backend"])
		r.recognitions.WithLabelValues(backend, str(record.Fields["command"])).Inc()
		if conf, ok := number(record.Fields["confidence"]); ok && backend == string(domain.BackendPlatform) {
			r.confidence.WithLabelValues(backend).Observe(conf)
		}
	case "speak_start":
		r.utterances.Inc()
	case "session_start":
		r.sessionsActive.Inc()
	case "session_stop":
		if running, _ := record.Fields["was_running"].(bool); running {
			r.sessionsActive.Dec()
		}
	default:
	}
}

var allStates = []domain.TurnState{
	domain.TurnStateIdle,
	domain.TurnStateSpeaking,
	domain.TurnStateListening,
	domain.TurnStateRecovering,
	domain.TurnStateAnalyzing,
	domain.TurnStateUnavailable,
}

func (r *Recorder) setState(current string) {
	for _, state := range allStates {
		value := 0.0
		if string(state) == current {
			value = 1
		}
		r.turnState.WithLabelValues(string(state)).Set(value)
	}
}

func str(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func number(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint64:
		return float64(t), true
	default:
		return 0, false
	}
}
