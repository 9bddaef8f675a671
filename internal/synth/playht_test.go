package synth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/airwavelabs/aria/internal/config"
)

func TestPlayHTFollowsAudioURL(t *testing.T) {
	var captured playhtRequest
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	mux.HandleFunc("/tts", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer ph-key" {
			t.Errorf("unexpected auth header %q", got)
		}
		if got := r.Header.Get("X-User-Id"); got != "user-1" {
			t.Errorf("unexpected user header %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(playhtResponse{ID: "job-1", AudioURL: server.URL + "/audio/job-1"})
	})
	mux.HandleFunc("/audio/job-1", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("unexpected method %s", r.Method)
		}
		w.Write([]byte("playht-mp3"))
	})

	s, err := NewPlayHT(config.PlayHTProviderConfig{
		APIKey:     "ph-key",
		UserID:     "user-1",
		BaseURL:    server.URL,
		Voice:      "larry",
		Format:     "mp3",
		SampleRate: 24000,
	}, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	art, err := s.Synthesize(context.Background(), Request{Text: "coming up"})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	t.Cleanup(func() { _ = os.Remove(art.Path) })

	if captured.Voice != "larry" || captured.OutputFormat != "mp3" || captured.SampleRate != 24000 {
		t.Fatalf("unexpected request body: %#v", captured)
	}
	if art.Format != FormatMP3 {
		t.Fatalf("expected mp3 artifact, got %s", art.Format)
	}
	data, err := os.ReadFile(art.Path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(data) != "playht-mp3" {
		t.Fatalf("unexpected artifact contents: %q", data)
	}
}

func TestPlayHTRejectsMissingAudioURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(playhtResponse{ID: "job-2"})
	}))
	t.Cleanup(server.Close)

	s, err := NewPlayHT(config.PlayHTProviderConfig{APIKey: "k", UserID: "u", BaseURL: server.URL}, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.Synthesize(context.Background(), Request{Text: "hi"}); err == nil {
		t.Fatal("expected error for missing audio url")
	}
}

func TestPlayHTErrorMapping(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error_message":"too many requests","error_id":"RATE_LIMITED"}`))
	}))
	t.Cleanup(server.Close)

	s, err := NewPlayHT(config.PlayHTProviderConfig{APIKey: "k", UserID: "u", BaseURL: server.URL}, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.Synthesize(context.Background(), Request{Text: "hi"}); !IsRetryable(err) {
		t.Fatalf("429 must be retryable, got %v", err)
	}
}

func TestPlayHTRequiresCredentials(t *testing.T) {
	if _, err := NewPlayHT(config.PlayHTProviderConfig{APIKey: "k"}, newLogger()); err == nil {
		t.Fatal("expected error for missing user id")
	}
	if _, err := NewPlayHT(config.PlayHTProviderConfig{UserID: "u"}, newLogger()); err == nil {
		t.Fatal("expected error for missing api key")
	}
}
