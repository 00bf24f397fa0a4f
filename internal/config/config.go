package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"coachmic/internal/trigger"
)

const (
	BackendPlatform = "platform"
	BackendNative   = "native"
)

var ErrUnknownBackend = errors.New("unknown recognizer backend")

// Config stores runtime configuration for the coach.
type Config struct {
	Deepgram   DeepgramConfig
	Audio      AudioConfig
	Recognizer RecognizerConfig
	Speech     SpeechConfig
	Trigger    TriggerConfig
	Analysis   AnalysisConfig
	Metrics    MetricsConfig
	Tuning     Tuning
}

type DeepgramConfig struct {
	APIKey        string
	APIBaseURL    string
	Model         string
	Language      string
	SmartFormat   bool
	EndpointingMS int
}

type AudioConfig struct {
	RecorderCommand string
	InputFormat     string
	InputDevice     string
	SampleRate      int
	Channels        int
}

type RecognizerConfig struct {
	// Backend is "platform" (continuous streaming) or "native" (clip per attempt).
	Backend      string
	Language     string
	ChunkSize    int
	CloseTimeout time.Duration
	ClipWindow   time.Duration
}

type SpeechConfig struct {
	Command string
	Args    []string
}

type TriggerConfig struct {
	AliasesPath string
}

type AnalysisConfig struct {
	// Timeout abandons an analysis run the host never finished. Zero disables it.
	Timeout time.Duration
}

type MetricsConfig struct {
	// Addr enables the Prometheus exporter when non-empty.
	Addr string
}

// Tuning is the optional YAML file named by COACHMIC_TUNING_FILE. Zero
// values keep the built-in defaults.
type Tuning struct {
	Path    string         `yaml:"-"`
	Timing  TimingTuning   `yaml:"timing"`
	Retry   RetryTuning    `yaml:"retry"`
	Trigger trigger.Policy `yaml:"trigger"`
}

type TimingTuning struct {
	PreRoll      time.Duration `yaml:"pre_roll"`
	InterAttempt time.Duration `yaml:"inter_attempt"`
	Settle       time.Duration `yaml:"settle"`
	Watchdog     time.Duration `yaml:"watchdog"`
	Resume       time.Duration `yaml:"resume"`
}

type RetryTuning struct {
	Base       time.Duration `yaml:"base"`
	Factor     float64       `yaml:"factor"`
	MaxJitter  time.Duration `yaml:"max_jitter"`
	MaxRetries int           `yaml:"max_retries"`
}

// Load reads an optional .env file, then resolves configuration from the
// environment and the OS filesystem.
func Load() (Config, error) {
	if err := loadDotEnv(); err != nil {
		return Config{}, err
	}
	return LoadFS(afero.NewOsFs())
}

// LoadFS resolves configuration from environment variables and sensible
// defaults, reading files through fsys.
func LoadFS(fsys afero.Fs) (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("could not determine home directory")
	}
	configDir := filepath.Join(home, ".config", "coachmic")

	aliasesPath := strings.TrimSpace(os.Getenv("COACHMIC_ALIASES_FILE"))
	if aliasesPath == "" {
		aliasesPath = firstExisting(fsys, filepath.Join(configDir, "triggers.aliases"))
	}
	tuningPath := strings.TrimSpace(os.Getenv("COACHMIC_TUNING_FILE"))
	if tuningPath == "" {
		tuningPath = firstExisting(fsys, filepath.Join(configDir, "tuning.yaml"), filepath.Join(configDir, "tuning.yml"))
	}

	language := envOrDefault("COACHMIC_LANGUAGE", "en-US")
	cfg := Config{
		Deepgram: DeepgramConfig{
			APIKey:        strings.TrimSpace(os.Getenv("DEEPGRAM_API_KEY")),
			APIBaseURL:    envOrDefault("DEEPGRAM_API_BASE", "https://api.deepgram.com/v1"),
			Model:         envOrDefault("DEEPGRAM_MODEL", "nova-2"),
			Language:      envOrDefault("DEEPGRAM_LANGUAGE", language),
			SmartFormat:   envOrDefaultBool("DEEPGRAM_SMART_FORMAT", true),
			EndpointingMS: envOrDefaultInt("DEEPGRAM_ENDPOINTING_MS", 300),
		},
		Audio: AudioConfig{
			RecorderCommand: envOrDefault("COACHMIC_FFMPEG_COMMAND", "ffmpeg"),
			InputFormat:     envOrDefault("COACHMIC_AUDIO_INPUT_FORMAT", "pulse"),
			InputDevice: firstNonEmpty(
				os.Getenv("COACHMIC_AUDIO_INPUT_DEVICE"),
				os.Getenv("DEEPGRAM_PULSE_SOURCE"),
				"default",
			),
			SampleRate: envOrDefaultInt("COACHMIC_SAMPLE_RATE", 16000),
			Channels:   envOrDefaultInt("COACHMIC_CHANNELS", 1),
		},
		Recognizer: RecognizerConfig{
			Backend:      strings.ToLower(envOrDefault("COACHMIC_RECOGNIZER", BackendPlatform)),
			Language:     language,
			ChunkSize:    envOrDefaultInt("COACHMIC_AUDIO_CHUNK_SIZE", 4096),
			CloseTimeout: envOrDefaultDuration("COACHMIC_STREAM_CLOSE_MS", 4*time.Second),
			ClipWindow:   envOrDefaultDuration("COACHMIC_CLIP_WINDOW_MS", 5*time.Second),
		},
		Speech: SpeechConfig{
			Command: strings.TrimSpace(os.Getenv("COACHMIC_TTS_COMMAND")),
			Args:    strings.Fields(os.Getenv("COACHMIC_TTS_ARGS")),
		},
		Trigger:  TriggerConfig{AliasesPath: aliasesPath},
		Analysis: AnalysisConfig{Timeout: envOrDefaultDuration("COACHMIC_ANALYSIS_TIMEOUT_MS", 0)},
		Metrics:  MetricsConfig{Addr: strings.TrimSpace(os.Getenv("COACHMIC_METRICS_ADDR"))},
	}

	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Recognizer.ChunkSize < 256 {
		cfg.Recognizer.ChunkSize = 4096
	}
	if cfg.Deepgram.EndpointingMS < 0 {
		cfg.Deepgram.EndpointingMS = 0
	}
	switch cfg.Recognizer.Backend {
	case BackendPlatform, BackendNative:
	default:
		return Config{}, fmt.Errorf("%w %q (want %q or %q)", ErrUnknownBackend, cfg.Recognizer.Backend, BackendPlatform, BackendNative)
	}

	tuning, err := LoadTuning(fsys, tuningPath)
	if err != nil {
		return Config{}, err
	}
	cfg.Tuning = tuning
	return cfg, nil
}

// LoadTuning reads and validates a tuning file. A blank path or a missing
// file yields zero tuning.
func LoadTuning(fsys afero.Fs, path string) (Tuning, error) {
	if path == "" {
		return Tuning{}, nil
	}
	contents, err := afero.ReadFile(fsys, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Tuning{}, nil
		}
		return Tuning{}, fmt.Errorf("failed to read tuning file %q: %w", path, err)
	}

	var tuning Tuning
	if err := yaml.Unmarshal(contents, &tuning); err != nil {
		return Tuning{}, fmt.Errorf("failed to parse tuning file %q: %w", path, err)
	}
	if err := tuning.validate(); err != nil {
		return Tuning{}, fmt.Errorf("invalid tuning file %q: %w", path, err)
	}
	tuning.Path = path
	return tuning, nil
}

func (t Tuning) validate() error {
	durations := map[string]time.Duration{
		"timing.pre_roll":      t.Timing.PreRoll,
		"timing.inter_attempt": t.Timing.InterAttempt,
		"timing.settle":        t.Timing.Settle,
		"timing.watchdog":      t.Timing.Watchdog,
		"timing.resume":        t.Timing.Resume,
		"retry.base":           t.Retry.Base,
		"retry.max_jitter":     t.Retry.MaxJitter,
	}
	for key, value := range durations {
		if value < 0 {
			return fmt.Errorf("%s must not be negative", key)
		}
	}
	if t.Retry.Factor != 0 && t.Retry.Factor < 1 {
		return fmt.Errorf("retry.factor must be at least 1, got %g", t.Retry.Factor)
	}
	if t.Retry.MaxRetries < 0 {
		return errors.New("retry.max_retries must not be negative")
	}
	for key, value := range map[string]float64{
		"trigger.short_confidence": t.Trigger.ShortConfidence,
		"trigger.long_confidence":  t.Trigger.LongConfidence,
	} {
		if value < 0 || value > 1 {
			return fmt.Errorf("%s must be within [0, 1], got %g", key, value)
		}
	}
	return nil
}

func loadDotEnv() error {
	path := strings.TrimSpace(os.Getenv("COACHMIC_ENV_FILE"))
	if path == "" {
		// godotenv never overrides variables already set in the environment.
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %q: %w", path, err)
	}
	return nil
}

func firstExisting(fsys afero.Fs, paths ...string) string {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := fsys.Stat(p); err == nil {
			return p
		}
	}
	if len(paths) == 0 {
		return ""
	}
	return paths[0]
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// envOrDefaultDuration reads a millisecond count; negative or malformed
// values fall back.
func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	ms := envOrDefaultInt(key, -1)
	if ms < 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
