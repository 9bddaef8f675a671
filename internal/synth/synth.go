// Package synth defines the speech synthesis contract and the adapters
// that fulfil it: a local CLI engine plus REST backends for OpenAI,
// ElevenLabs, Gemini and Play.ht. Adapters turn text into audio files on
// disk and know nothing about caching or playback.
package synth

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/airwavelabs/aria/internal/config"
	"github.com/airwavelabs/aria/internal/dialogue"
)

// Format identifies the audio container of a synthesized artifact.
type Format string

const (
	FormatWAV  Format = "wav"
	FormatMP3  Format = "mp3"
	FormatOpus Format = "opus"
)

// KnownFormats lists every container a backend can produce, in cache
// probe order.
func KnownFormats() []Format {
	return []Format{FormatWAV, FormatMP3, FormatOpus}
}

// Request carries one utterance to a backend. Voice is a provider-native
// identifier; empty means the adapter default.
type Request struct {
	Text  string
	Voice string
}

// Artifact is a synthesized audio file on disk. Duration is zero when the
// container does not expose it cheaply.
type Artifact struct {
	Path     string
	Format   Format
	Duration time.Duration
}

// LineResult pairs one dialogue line with its synthesis outcome. Exactly
// one of Artifact and Err is set.
type LineResult struct {
	Line     dialogue.Line
	Artifact *Artifact
	Err      error
}

// Synthesizer is one speech backend. Implementations must be safe for
// concurrent use and must honor ctx cancellation on every call.
type Synthesizer interface {
	Name() string
	DefaultVoice() string
	SupportsDialogue() bool
	Synthesize(ctx context.Context, req Request) (*Artifact, error)
}

// DialogueSynthesizer is implemented by backends that can voice a whole
// multi-speaker script natively, one result per input line in order.
type DialogueSynthesizer interface {
	Synthesizer
	SynthesizeDialogue(ctx context.Context, lines []dialogue.Line) []LineResult
}

// VoiceDesigner is implemented by backends that can enroll new voices at
// runtime, either cloned from a reference sample or designed from a style
// prompt. Enrolled voices are addressed by label.
type VoiceDesigner interface {
	CloneVoice(ctx context.Context, label, samplePath string) (string, error)
	DesignVoice(ctx context.Context, label, samplePath, stylePrompt string) (string, error)
	CustomVoice(label string) (string, bool)
	CustomVoiceLabels() []string
}

// New constructs the backend named by cfg.Provider. Construction fails
// fast on missing credentials or an unparseable command so the daemon can
// degrade narration at startup instead of on the first request.
func New(cfg config.NarrationConfig, providers config.ProvidersConfig, logger *slog.Logger) (Synthesizer, error) {
	switch cfg.Provider {
	case "mock":
		return NewMock(), nil
	case "local":
		return NewLocalEngine(providers.Local, logger)
	case "openai":
		return NewOpenAI(providers.OpenAI, logger)
	case "elevenlabs":
		return NewElevenLabs(providers.ElevenLabs, logger)
	case "gemini":
		return NewGemini(providers.Gemini, time.Duration(cfg.LineDelayMS)*time.Millisecond, logger)
	case "playht":
		return NewPlayHT(providers.PlayHT, logger)
	default:
		return nil, fmt.Errorf("unknown narration provider %q", cfg.Provider)
	}
}

// tempArtifactPath names a fresh synthesis output under the OS temp dir.
// Artifacts are never deleted by adapters; the cache copies what it wants
// to keep and the sweeper owns retention.
func tempArtifactPath(provider string, format Format) string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("%s-%d.%s", provider, time.Now().UnixNano(), format))
}

// writeArtifact streams audio bytes into a fresh artifact file, removing
// the partial file on failure.
func writeArtifact(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}
