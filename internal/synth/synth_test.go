package synth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/airwavelabs/aria/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNewSelectsMock(t *testing.T) {
	s, err := New(config.NarrationConfig{Provider: "mock"}, config.ProvidersConfig{}, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Name() != "mock" {
		t.Fatalf("expected mock backend, got %q", s.Name())
	}
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	if _, err := New(config.NarrationConfig{Provider: "chipmunk"}, config.ProvidersConfig{}, newLogger()); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestNewFailsFastOnMissingCredentials(t *testing.T) {
	cases := []string{"openai", "elevenlabs", "gemini", "playht", "local"}
	for _, provider := range cases {
		if _, err := New(config.NarrationConfig{Provider: provider}, config.ProvidersConfig{}, newLogger()); err == nil {
			t.Fatalf("expected construction error for %s without credentials", provider)
		}
	}
}

func TestMockSynthesizeWritesWAV(t *testing.T) {
	m := NewMock()

	art, err := m.Synthesize(context.Background(), Request{Text: "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = os.Remove(art.Path) })

	if art.Format != FormatWAV {
		t.Fatalf("expected wav artifact, got %s", art.Format)
	}
	data, err := os.ReadFile(art.Path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if len(data) < 44 || string(data[:4]) != "RIFF" {
		t.Fatalf("artifact is not a wav container")
	}
	if art.Duration <= 0 {
		t.Fatalf("expected positive duration, got %v", art.Duration)
	}
}

func TestMockRejectsEmptyText(t *testing.T) {
	if _, err := NewMock().Synthesize(context.Background(), Request{Text: "   "}); !errors.Is(err, ErrEmptyText) {
		t.Fatalf("expected ErrEmptyText, got %v", err)
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(newError("x", "", "boom", nil, false)) {
		t.Fatal("permanent error reported retryable")
	}
	if !IsRetryable(newError("x", "", "boom", nil, true)) {
		t.Fatal("retryable error not recognized")
	}
	if IsRetryable(errors.New("plain")) {
		t.Fatal("plain error reported retryable")
	}
}

func TestPacerSpacesCalls(t *testing.T) {
	p := NewPacer(30 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	if err := p.Wait(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.Wait(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Fatalf("second call not paced: %v", elapsed)
	}
}

func TestPacerZeroIntervalNeverBlocks(t *testing.T) {
	p := NewPacer(0)
	start := time.Now()
	for i := 0; i < 100; i++ {
		if err := p.Wait(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("no-op pacer blocked for %v", elapsed)
	}
}
