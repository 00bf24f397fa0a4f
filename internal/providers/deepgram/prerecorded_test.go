package deepgram

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"coachmic/internal/domain"
	"coachmic/internal/ports"
)

func TestTranscribeClipUploadsWAV(t *testing.T) {
	t.Parallel()

	var (
		gotPath   string
		gotQuery  string
		gotType   string
		gotAuth   string
		gotHeader []byte
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotType = r.Header.Get("Content-Type")
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		if len(body) >= 12 {
			gotHeader = body[:12]
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"results":{"channels":[{"alternatives":[{"transcript":"Let's go","confidence":0.93}]}]}}`)
	}))
	defer server.Close()

	p := NewProvider(Config{APIKey: "k", APIBaseURL: server.URL + "/v1", Language: "en-US"}).WithHTTPClient(server.Client())
	pcm := bytes.Repeat([]byte{0x10, 0x00}, 800)

	result, err := p.TranscribeClip(context.Background(), pcm, ports.StreamingConfig{SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}

	if result.Text != "Let's go" || result.Confidence != 0.93 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if !result.IsFinal || result.Backend != domain.BackendNative {
		t.Fatalf("clip results are final native results: %+v", result)
	}
	if gotPath != "/v1/listen" {
		t.Fatalf("unexpected path: %s", gotPath)
	}
	if !strings.Contains(gotQuery, "language=en-US") || strings.Contains(gotQuery, "encoding=") {
		t.Fatalf("unexpected query: %s", gotQuery)
	}
	if gotType != "audio/wav" || gotAuth != "Token k" {
		t.Fatalf("unexpected headers: type=%q auth=%q", gotType, gotAuth)
	}
	if !bytes.HasPrefix(gotHeader, []byte("RIFF")) || !bytes.Equal(gotHeader[8:12], []byte("WAVE")) {
		t.Fatalf("expected a WAV upload, got header %q", gotHeader)
	}
}

func TestTranscribeClipSurfacesHTTPErrors(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"err_code":"INVALID_AUTH"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	p := NewProvider(Config{APIKey: "bad", APIBaseURL: server.URL}).WithHTTPClient(server.Client())
	_, err := p.TranscribeClip(context.Background(), []byte{0, 0}, ports.StreamingConfig{})
	if err == nil || !strings.Contains(err.Error(), "401") || !strings.Contains(err.Error(), "INVALID_AUTH") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestTranscribeClipEmptyAudio(t *testing.T) {
	t.Parallel()

	p := NewProvider(Config{APIKey: "k"})
	result, err := p.TranscribeClip(context.Background(), nil, ports.StreamingConfig{})
	if err != nil || result.Text != "" || !result.IsFinal {
		t.Fatalf("expected empty final result, got %+v err=%v", result, err)
	}
}

func TestTranscribeClipRequiresAPIKey(t *testing.T) {
	t.Parallel()

	_, err := NewProvider(Config{}).TranscribeClip(context.Background(), []byte{1}, ports.StreamingConfig{})
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected missing key error, got %v", err)
	}
}

func TestPrerecordedResponseErrors(t *testing.T) {
	t.Parallel()

	_, err := prerecordedResponse{ErrCode: "Bad Request", ErrMsg: "unsupported"}.recognition()
	if err == nil || err.Error() != "Bad Request unsupported" {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := prerecordedResponse{}.recognition()
	if err != nil || result.Text != "" {
		t.Fatalf("expected empty result, got %+v err=%v", result, err)
	}
}
