// Package deepgram talks to Deepgram's listen API, both as a live websocket
// stream and as a one-request clip upload.
package deepgram

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"coachmic/internal/ports"
)

const defaultBaseURL = "https://api.deepgram.com/v1"

var ErrMissingAPIKey = errors.New("DEEPGRAM_API_KEY is not configured")

// Config controls Deepgram settings.
type Config struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	Language    string
	SmartFormat bool
	// EndpointingMS is the silence that closes an utterance. Zero leaves the
	// provider default.
	EndpointingMS int
}

// Provider implements ports.TranscriptionProvider and ports.ClipTranscriber.
type Provider struct {
	cfg    Config
	client *http.Client
}

// WithHTTPClient overrides the client used for clip uploads.
func (p *Provider) WithHTTPClient(client *http.Client) *Provider {
	p.client = client
	return p
}

func NewProvider(cfg Config) *Provider {
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		cfg.APIBaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	return &Provider{cfg: cfg}
}

func (p *Provider) authHeader() (string, error) {
	key := strings.TrimSpace(p.cfg.APIKey)
	if key == "" {
		return "", ErrMissingAPIKey
	}
	return "Token " + key, nil
}

// listenURL builds the /listen endpoint. With websocketScheme the http(s)
// base is rewritten to ws(s).
func listenURL(providerCfg Config, audio ports.StreamingConfig, websocketScheme bool) (*url.URL, error) {
	base := strings.TrimSpace(providerCfg.APIBaseURL)
	if base == "" {
		base = defaultBaseURL
	}
	if websocketScheme {
		switch {
		case strings.HasPrefix(base, "https://"):
			base = "wss://" + strings.TrimPrefix(base, "https://")
		case strings.HasPrefix(base, "http://"):
			base = "ws://" + strings.TrimPrefix(base, "http://")
		}
	}
	base = strings.TrimRight(base, "/")

	u, err := url.Parse(base + "/listen")
	if err != nil {
		return nil, fmt.Errorf("invalid Deepgram API base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid Deepgram API base URL: %q", providerCfg.APIBaseURL)
	}

	query := u.Query()
	query.Set("model", providerCfg.Model)
	query.Set("smart_format", fmt.Sprintf("%t", providerCfg.SmartFormat))
	if providerCfg.Language != "" {
		query.Set("language", providerCfg.Language)
	}
	if websocketScheme {
		// Raw streamed audio has no header, so the format travels in the query.
		if audio.Encoding == "" {
			audio.Encoding = "linear16"
		}
		if audio.SampleRate <= 0 {
			audio.SampleRate = 16000
		}
		if audio.Channels <= 0 {
			audio.Channels = 1
		}
		query.Set("encoding", audio.Encoding)
		query.Set("sample_rate", fmt.Sprintf("%d", audio.SampleRate))
		query.Set("channels", fmt.Sprintf("%d", audio.Channels))
		query.Set("interim_results", fmt.Sprintf("%t", audio.InterimResults))
		if providerCfg.EndpointingMS > 0 {
			query.Set("endpointing", fmt.Sprintf("%d", providerCfg.EndpointingMS))
		}
	}
	u.RawQuery = query.Encode()
	return u, nil
}

type alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

// best returns the first alternative with text.
func best(alternatives []alternative) (alternative, bool) {
	if len(alternatives) == 0 {
		return alternative{}, false
	}
	alt := alternatives[0]
	alt.Transcript = strings.TrimSpace(alt.Transcript)
	if alt.Transcript == "" {
		return alternative{}, false
	}
	return alt, true
}
