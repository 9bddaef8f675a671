package synth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/airwavelabs/aria/internal/config"
)

func TestElevenLabsSynthesizeWritesArtifact(t *testing.T) {
	var captured elevenRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/text-to-speech/voice-abc" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("output_format"); got != elevenOutputFormat {
			t.Errorf("unexpected output_format %q", got)
		}
		if got := r.Header.Get("xi-api-key"); got != "el-key" {
			t.Errorf("unexpected api key header %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("eleven-mp3"))
	}))
	t.Cleanup(server.Close)

	s, err := NewElevenLabs(config.ElevenLabsProviderConfig{
		APIKey:  "el-key",
		BaseURL: server.URL,
		ModelID: "eleven_multilingual_v2",
		Voice:   "voice-abc",
	}, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	art, err := s.Synthesize(context.Background(), Request{Text: "up next"})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	t.Cleanup(func() { _ = os.Remove(art.Path) })

	if captured.Text != "up next" || captured.ModelID != "eleven_multilingual_v2" {
		t.Fatalf("unexpected request body: %#v", captured)
	}
	if captured.VoiceSettings.Stability == 0 || captured.VoiceSettings.SimilarityBoost == 0 {
		t.Fatalf("voice settings not sent: %#v", captured.VoiceSettings)
	}
	if art.Format != FormatMP3 {
		t.Fatalf("expected mp3 artifact, got %s", art.Format)
	}
	data, err := os.ReadFile(art.Path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(data) != "eleven-mp3" {
		t.Fatalf("unexpected artifact contents: %q", data)
	}
}

func TestElevenLabsUnknownVoice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"detail":{"status":"voice_not_found","message":"A voice with that voice_id was not found"}}`))
	}))
	t.Cleanup(server.Close)

	s, err := NewElevenLabs(config.ElevenLabsProviderConfig{APIKey: "k", BaseURL: server.URL}, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = s.Synthesize(context.Background(), Request{Text: "hi", Voice: "nope"})
	if !errors.Is(err, ErrInvalidVoice) {
		t.Fatalf("expected ErrInvalidVoice, got %v", err)
	}
	if IsRetryable(err) {
		t.Fatal("404 must not be retryable")
	}
	var serr *Error
	if !errors.As(err, &serr) || serr.Code != "voice_not_found" {
		t.Fatalf("detail status not preserved: %v", err)
	}
}

func TestElevenLabsRateLimitIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"detail":{"status":"too_many_concurrent_requests","message":"slow down"}}`))
	}))
	t.Cleanup(server.Close)

	s, err := NewElevenLabs(config.ElevenLabsProviderConfig{APIKey: "k", BaseURL: server.URL}, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.Synthesize(context.Background(), Request{Text: "hi"}); !IsRetryable(err) || !errors.Is(err, ErrRateLimited) {
		t.Fatalf("429 must map to retryable rate limit, got %v", err)
	}
}

func TestElevenLabsRequiresAPIKey(t *testing.T) {
	if _, err := NewElevenLabs(config.ElevenLabsProviderConfig{}, newLogger()); err == nil {
		t.Fatal("expected error for missing api key")
	}
}
