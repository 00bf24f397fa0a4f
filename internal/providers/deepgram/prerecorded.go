package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"coachmic/internal/audio"
	"coachmic/internal/domain"
	"coachmic/internal/ports"
)

const maxErrorBody = 4 << 10

// TranscribeClip uploads a finished PCM recording as WAV and returns the best
// transcript. An empty transcript is not an error.
func (p *Provider) TranscribeClip(ctx context.Context, pcm []byte, cfg ports.StreamingConfig) (domain.Recognition, error) {
	auth, err := p.authHeader()
	if err != nil {
		return domain.Recognition{}, err
	}
	if len(pcm) == 0 {
		return domain.Recognition{Backend: domain.BackendNative, IsFinal: true}, nil
	}

	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	wav, err := audio.EncodeWAV(pcm, cfg.SampleRate, cfg.Channels)
	if err != nil {
		return domain.Recognition{}, fmt.Errorf("encode clip: %w", err)
	}

	endpoint, err := listenURL(p.cfg, cfg, false)
	if err != nil {
		return domain.Recognition{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(wav))
	if err != nil {
		return domain.Recognition{}, fmt.Errorf("build Deepgram request: %w", err)
	}
	req.Header.Set("Authorization", auth)
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := p.httpClient().Do(req)
	if err != nil {
		return domain.Recognition{}, fmt.Errorf("deepgram request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return domain.Recognition{}, fmt.Errorf("deepgram returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var decoded prerecordedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return domain.Recognition{}, fmt.Errorf("decode Deepgram response: %w", err)
	}
	return decoded.recognition()
}

func (p *Provider) httpClient() *http.Client {
	if p.client != nil {
		return p.client
	}
	return &http.Client{Timeout: 30 * time.Second}
}

type prerecordedResponse struct {
	ErrCode string `json:"err_code"`
	ErrMsg  string `json:"err_msg"`

	Results struct {
		Channels []struct {
			Alternatives []alternative `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func (r prerecordedResponse) recognition() (domain.Recognition, error) {
	if r.ErrCode != "" || r.ErrMsg != "" {
		return domain.Recognition{}, errors.New(strings.TrimSpace(r.ErrCode + " " + r.ErrMsg))
	}
	result := domain.Recognition{Backend: domain.BackendNative, IsFinal: true}
	if len(r.Results.Channels) == 0 {
		return result, nil
	}
	if alt, ok := best(r.Results.Channels[0].Alternatives); ok {
		result.Text = alt.Transcript
		result.Confidence = alt.Confidence
	}
	return result, nil
}
