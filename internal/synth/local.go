package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/airwavelabs/aria/internal/config"
)

// LocalEngine shells out to an on-device text-to-speech CLI. One request
// runs at a time: local engines keep a model resident per process and
// concurrent invocations thrash the accelerator.
//
// Synthesis protocol: the request is written to stdin as JSON and the
// tool writes a WAV file to the path given by --out, exiting zero on
// success. Voice enrollment reuses the same binary with --clone/--design
// flags; the new voice id is the tool's last stdout line.
type LocalEngine struct {
	cmd        []string
	voice      string
	sampleRate int
	log        *slog.Logger

	mu sync.Mutex

	customMu     sync.RWMutex
	customVoices map[string]string
}

type localRequest struct {
	Text       string `json:"text"`
	Voice      string `json:"voice,omitempty"`
	SampleRate int    `json:"sample_rate"`
}

type localDesignRequest struct {
	StylePrompt string `json:"style_prompt"`
}

func NewLocalEngine(cfg config.LocalProviderConfig, logger *slog.Logger) (*LocalEngine, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, errors.New("local provider requires providers.local.command")
	}
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse local synth command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("local synth command empty")
	}
	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 24000
	}
	return &LocalEngine{
		cmd:          args,
		voice:        cfg.Voice,
		sampleRate:   sampleRate,
		log:          logger.With(slog.String("component", "synth-local")),
		customVoices: make(map[string]string),
	}, nil
}

func (e *LocalEngine) Name() string { return "local" }

func (e *LocalEngine) DefaultVoice() string { return e.voice }

func (e *LocalEngine) SupportsDialogue() bool { return false }

func (e *LocalEngine) Synthesize(ctx context.Context, req Request) (*Artifact, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	payload, err := json.Marshal(localRequest{
		Text:       req.Text,
		Voice:      req.Voice,
		SampleRate: e.sampleRate,
	})
	if err != nil {
		return nil, err
	}

	out := tempArtifactPath("local", FormatWAV)
	base := e.cmd[0]
	args := append([]string{}, e.cmd[1:]...)
	args = append(args, "--out", out)

	cmd := exec.CommandContext(ctx, base, args...)
	cmd.Stdin = bytes.NewReader(payload)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, newError("local", "", stderrTail(&stderr, err), err, false)
	}
	if _, err := os.Stat(out); err != nil {
		return nil, newError("local", "", "synth command exited cleanly but wrote no audio", err, false)
	}
	return &Artifact{Path: out, Format: FormatWAV, Duration: wavDuration(out)}, nil
}

// CloneVoice enrolls a new voice from a reference sample alone.
func (e *LocalEngine) CloneVoice(ctx context.Context, label, samplePath string) (string, error) {
	return e.enroll(ctx, label, samplePath, "")
}

// DesignVoice enrolls a new voice shaped by a style prompt, seeded from
// the reference sample.
func (e *LocalEngine) DesignVoice(ctx context.Context, label, samplePath, stylePrompt string) (string, error) {
	if strings.TrimSpace(stylePrompt) == "" {
		return "", errors.New("voice design requires a style prompt")
	}
	return e.enroll(ctx, label, samplePath, stylePrompt)
}

func (e *LocalEngine) enroll(ctx context.Context, label, samplePath, stylePrompt string) (string, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return "", errors.New("voice label is empty")
	}
	if _, err := os.Stat(samplePath); err != nil {
		return "", fmt.Errorf("reference sample: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	mode := "--clone"
	var stdin io.Reader
	if stylePrompt != "" {
		mode = "--design"
		payload, err := json.Marshal(localDesignRequest{StylePrompt: stylePrompt})
		if err != nil {
			return "", err
		}
		stdin = bytes.NewReader(payload)
	}

	base := e.cmd[0]
	args := append([]string{}, e.cmd[1:]...)
	args = append(args, mode, "--sample", samplePath, "--label", label)

	cmd := exec.CommandContext(ctx, base, args...)
	cmd.Stdin = stdin
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", newError("local", "", stderrTail(&stderr, err), err, false)
	}
	id := lastLine(stdout.String())
	if id == "" {
		return "", errors.New("voice tool printed no voice id")
	}

	e.customMu.Lock()
	e.customVoices[strings.ToLower(label)] = id
	e.customMu.Unlock()
	e.log.Info("enrolled custom voice", slog.String("label", label), slog.String("voice_id", id))
	return id, nil
}

func (e *LocalEngine) CustomVoice(label string) (string, bool) {
	e.customMu.RLock()
	defer e.customMu.RUnlock()
	id, ok := e.customVoices[strings.ToLower(strings.TrimSpace(label))]
	return id, ok
}

func (e *LocalEngine) CustomVoiceLabels() []string {
	e.customMu.RLock()
	defer e.customMu.RUnlock()
	labels := make([]string, 0, len(e.customVoices))
	for label := range e.customVoices {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// stderrTail condenses a failed run into one error message, preferring
// the last lines the tool printed over Go's generic exit error.
func stderrTail(stderr *bytes.Buffer, runErr error) string {
	text := strings.TrimSpace(stderr.String())
	if text == "" {
		return runErr.Error()
	}
	lines := strings.Split(text, "\n")
	if len(lines) > 4 {
		lines = lines[len(lines)-4:]
	}
	return strings.Join(lines, "; ")
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return strings.TrimSpace(lines[len(lines)-1])
}
