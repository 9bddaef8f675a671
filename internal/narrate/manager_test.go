package narrate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/airwavelabs/aria/internal/cache"
	"github.com/airwavelabs/aria/internal/config"
	"github.com/airwavelabs/aria/internal/dialogue"
	"github.com/airwavelabs/aria/internal/playback"
	"github.com/airwavelabs/aria/internal/synth"
	"github.com/airwavelabs/aria/internal/voice"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeSynth records every call and writes tiny artifacts on demand.
type fakeSynth struct {
	dir      string
	dialogue bool
	failures int
	failErr  error

	mu            sync.Mutex
	calls         []synth.Request
	dialogueCalls int
}

func (f *fakeSynth) Name() string           { return "fake" }
func (f *fakeSynth) DefaultVoice() string   { return "fake-voice" }
func (f *fakeSynth) SupportsDialogue() bool { return f.dialogue }

func (f *fakeSynth) Synthesize(ctx context.Context, req synth.Request) (*synth.Artifact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.failures > 0 {
		f.failures--
		return nil, f.failErr
	}
	path := filepath.Join(f.dir, fmt.Sprintf("fake-%d.wav", len(f.calls)))
	if err := os.WriteFile(path, []byte("RIFFaudio"), 0o644); err != nil {
		return nil, err
	}
	return &synth.Artifact{Path: path, Format: synth.FormatWAV}, nil
}

func (f *fakeSynth) SynthesizeDialogue(_ context.Context, lines []dialogue.Line) []synth.LineResult {
	f.mu.Lock()
	f.dialogueCalls++
	n := f.dialogueCalls
	f.mu.Unlock()

	results := make([]synth.LineResult, 0, len(lines))
	for i, line := range lines {
		path := filepath.Join(f.dir, fmt.Sprintf("fake-batch-%d-%d.wav", n, i))
		if err := os.WriteFile(path, []byte("RIFFaudio"), 0o644); err != nil {
			results = append(results, synth.LineResult{Line: line, Err: err})
			continue
		}
		results = append(results, synth.LineResult{
			Line:     line,
			Artifact: &synth.Artifact{Path: path, Format: synth.FormatWAV},
		})
	}
	return results
}

func (f *fakeSynth) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeSynth) dialogueCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dialogueCalls
}

func (f *fakeSynth) requests() []synth.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]synth.Request{}, f.calls...)
}

// recordingObserver captures Manager outcome callbacks.
type recordingObserver struct {
	mu     sync.Mutex
	synths []Outcome
	played []playback.Item
}

func (r *recordingObserver) Synthesized(_ context.Context, out Outcome) {
	r.mu.Lock()
	r.synths = append(r.synths, out)
	r.mu.Unlock()
}

func (r *recordingObserver) Played(item playback.Item, _ error) {
	r.mu.Lock()
	r.played = append(r.played, item)
	r.mu.Unlock()
}

func (r *recordingObserver) playedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.played)
}

func stubPlayer(t *testing.T) (script, logFile string) {
	t.Helper()
	dir := t.TempDir()
	logFile = filepath.Join(dir, "played.log")
	script = filepath.Join(dir, "player.sh")
	body := fmt.Sprintf("#!/bin/sh\necho \"$1\" >> %s\n", logFile)
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return script, logFile
}

func newTestManager(t *testing.T, backend synth.Synthesizer) (*Manager, string) {
	t.Helper()
	logger := newLogger()

	store, err := cache.New(filepath.Join(t.TempDir(), "cache"), logger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	script, logFile := stubPlayer(t)
	queue := playback.NewQueue(context.Background(), &playback.Player{Path: "/bin/sh", Args: []string{script}}, logger)
	t.Cleanup(queue.Close)

	m := &Manager{
		cfg: config.NarrationConfig{
			Enabled:          true,
			Provider:         "mock",
			CacheMaxAgeDays:  7,
			RequestTimeoutMS: 5000,
			MaxRetries:       1,
			RetryDelayMS:     5,
			LineDelayMS:      1,
		},
		synth: backend,
		cache: store,
		queue: queue,
		pacer: synth.NewPacer(time.Millisecond),
		log:   logger,
	}
	m.resolveCapabilities()
	m.resolver = voice.NewResolver(nil, "mock", backend.DefaultVoice(), m.customVoices())
	queue.SetOnDone(m.playbackDone)
	return m, logFile
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func waitIdle(t *testing.T, m *Manager) {
	t.Helper()
	waitFor(t, func() bool { return m.QueueDepth() == 0 && !m.Playing() })
}

func playedLines(t *testing.T, logFile string) []string {
	t.Helper()
	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return strings.Fields(strings.TrimSpace(string(data)))
}

func TestGenerateSpeechIdempotentPerKey(t *testing.T) {
	fake := &fakeSynth{dir: t.TempDir()}
	m, _ := newTestManager(t, fake)

	first, err := m.GenerateSpeech(context.Background(), "hello there", "greeting")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := m.GenerateSpeech(context.Background(), "hello there", "greeting")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := fake.callCount(); got != 1 {
		t.Fatalf("expected a single synthesis call, got %d", got)
	}
	if first.Path != second.Path {
		t.Fatalf("expected identical artifact paths, got %q and %q", first.Path, second.Path)
	}
}

func TestGenerateSpeechWithoutKeySkipsCache(t *testing.T) {
	fake := &fakeSynth{dir: t.TempDir()}
	m, _ := newTestManager(t, fake)

	if _, err := m.GenerateSpeech(context.Background(), "hello", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := m.GenerateSpeech(context.Background(), "hello", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := fake.callCount(); got != 2 {
		t.Fatalf("expected two synthesis calls without a key, got %d", got)
	}
}

func TestQueueDialoguePlaysInOrder(t *testing.T) {
	fake := &fakeSynth{dir: t.TempDir()}
	m, logFile := newTestManager(t, fake)

	lines := []dialogue.Line{
		{Speaker: "Host 1", Text: "A"},
		{Speaker: "Host 2", Text: "B"},
		{Speaker: "Host 1", Text: "C"},
	}
	if err := m.QueueDialogue(context.Background(), lines, "show"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitIdle(t, m)

	played := playedLines(t, logFile)
	if len(played) != 3 {
		t.Fatalf("expected 3 played items, got %d: %v", len(played), played)
	}
	for i, path := range played {
		want := fmt.Sprintf("show_line_%d.wav", i)
		if filepath.Base(path) != want {
			t.Fatalf("position %d: played %q, want %q", i, filepath.Base(path), want)
		}
	}
}

func TestQueueDialogueFallbackIsSequential(t *testing.T) {
	fake := &fakeSynth{dir: t.TempDir()}
	m, _ := newTestManager(t, fake)

	lines := []dialogue.Line{
		{Speaker: "Host 1", Text: "A"},
		{Speaker: "Host 2", Text: "B"},
		{Speaker: "Host 1", Text: "C"},
	}
	if err := m.QueueDialogue(context.Background(), lines, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := fake.callCount(); got != 3 {
		t.Fatalf("expected 3 single-utterance calls, got %d", got)
	}
	if got := fake.dialogueCallCount(); got != 0 {
		t.Fatalf("expected no batch delegation, got %d", got)
	}

	reqs := fake.requests()
	wantVoices := []string{"mock-host-1", "mock-host-2", "mock-host-1"}
	for i, want := range wantVoices {
		if reqs[i].Voice != want {
			t.Fatalf("line %d voice = %q, want %q", i, reqs[i].Voice, want)
		}
	}
	waitIdle(t, m)
}

func TestQueueDialogueNativeBatch(t *testing.T) {
	fake := &fakeSynth{dir: t.TempDir(), dialogue: true}
	m, _ := newTestManager(t, fake)

	lines := []dialogue.Line{
		{Speaker: "Host 1", Text: "A"},
		{Speaker: "Host 2", Text: "B"},
	}
	if err := m.QueueDialogue(context.Background(), lines, "duo"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := fake.dialogueCallCount(); got != 1 {
		t.Fatalf("expected one batch delegation, got %d", got)
	}
	if got := fake.callCount(); got != 0 {
		t.Fatalf("expected no single-utterance calls, got %d", got)
	}
	for i := range lines {
		key := fmt.Sprintf("duo_line_%d", i)
		if m.cache.Lookup(key) == nil {
			t.Fatalf("expected cache entry for %s", key)
		}
	}
	waitIdle(t, m)
}

func TestQueueLongSpeechChunks(t *testing.T) {
	fake := &fakeSynth{dir: t.TempDir()}
	m, logFile := newTestManager(t, fake)

	if err := m.QueueLongSpeech(context.Background(), "One. Two! Three?", "story"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	reqs := fake.requests()
	wantTexts := []string{"One.", "Two!", "Three?"}
	if len(reqs) != len(wantTexts) {
		t.Fatalf("expected %d chunks, got %d", len(wantTexts), len(reqs))
	}
	for i, want := range wantTexts {
		if reqs[i].Text != want {
			t.Fatalf("chunk %d text = %q, want %q", i, reqs[i].Text, want)
		}
	}
	for i := range wantTexts {
		key := fmt.Sprintf("story_chunk_%d", i)
		if m.cache.Lookup(key) == nil {
			t.Fatalf("expected cache entry for %s", key)
		}
	}
	waitIdle(t, m)
	if played := playedLines(t, logFile); len(played) != 3 {
		t.Fatalf("expected 3 played chunks, got %d", len(played))
	}
}

func TestQueueLongSpeechRejectsEmptyText(t *testing.T) {
	fake := &fakeSynth{dir: t.TempDir()}
	m, _ := newTestManager(t, fake)

	if err := m.QueueLongSpeech(context.Background(), "   ", "key"); err == nil {
		t.Fatal("expected error for empty text")
	}
	if got := fake.callCount(); got != 0 {
		t.Fatalf("expected no synthesis calls, got %d", got)
	}
}

func TestSplitSentences(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want []string
	}{
		{"terminators kept", "One. Two! Three?", []string{"One.", "Two!", "Three?"}},
		{"ellipsis stays with sentence", "Wait... what?", []string{"Wait...", "what?"}},
		{"only terminators", "...", nil},
		{"no terminator", "no terminator here", []string{"no terminator here"}},
		{"blank chunks skipped", "First.   . Second.", []string{"First.", "Second."}},
		{"empty", "", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := splitSentences(tc.in)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("splitSentences(%q) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestSynthesisRetriesRetryableFailure(t *testing.T) {
	fake := &fakeSynth{
		dir:      t.TempDir(),
		failures: 1,
		failErr:  &synth.Error{Provider: "fake", Code: "unavailable", Message: "try later", Retryable: true},
	}
	m, _ := newTestManager(t, fake)

	if _, err := m.GenerateSpeech(context.Background(), "flaky", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := fake.callCount(); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}

func TestSynthesisDoesNotRetryPermanentFailure(t *testing.T) {
	fake := &fakeSynth{
		dir:      t.TempDir(),
		failures: 2,
		failErr:  &synth.Error{Provider: "fake", Code: "bad_voice", Message: "no such voice"},
	}
	m, _ := newTestManager(t, fake)

	if _, err := m.GenerateSpeech(context.Background(), "nope", ""); err == nil {
		t.Fatal("expected synthesis error")
	}
	if got := fake.callCount(); got != 1 {
		t.Fatalf("expected a single attempt, got %d", got)
	}
}

func TestObserverSeesSynthesisAndPlayback(t *testing.T) {
	fake := &fakeSynth{dir: t.TempDir()}
	m, _ := newTestManager(t, fake)
	obs := &recordingObserver{}
	m.SetObserver(obs)

	if err := m.QueueSpeech(context.Background(), "hello", "obs-key"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitIdle(t, m)
	waitFor(t, func() bool { return obs.playedCount() == 1 })

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.synths) != 1 {
		t.Fatalf("expected 1 synthesis outcome, got %d", len(obs.synths))
	}
	out := obs.synths[0]
	if out.Cached || out.CacheKey != "obs-key" || out.Voice != "fake-voice" || out.Err != nil {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if obs.played[0].Key != "obs-key" {
		t.Fatalf("played item key = %q, want obs-key", obs.played[0].Key)
	}
}

func TestSetPersona(t *testing.T) {
	fake := &fakeSynth{dir: t.TempDir()}
	m, _ := newTestManager(t, fake)

	if err := m.SetPersona(context.Background(), "midnight"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.SetPersona(context.Background(), "nobody"); err == nil {
		t.Fatal("expected error for unknown persona")
	}
	if err := m.SetPersona(context.Background(), ""); err != nil {
		t.Fatalf("unexpected error clearing persona: %v", err)
	}
}

func TestCloneVoiceUnsupportedBackend(t *testing.T) {
	fake := &fakeSynth{dir: t.TempDir()}
	m, _ := newTestManager(t, fake)

	if _, err := m.CloneVoice(context.Background(), "guest", "sample.wav"); !errors.Is(err, ErrVoiceDesignUnsupported) {
		t.Fatalf("expected ErrVoiceDesignUnsupported, got %v", err)
	}
	if _, err := m.DesignVoice(context.Background(), "guest", "sample.wav", "raspy"); !errors.Is(err, ErrVoiceDesignUnsupported) {
		t.Fatalf("expected ErrVoiceDesignUnsupported, got %v", err)
	}
	if m.SupportsVoiceDesign() {
		t.Fatal("fake backend must not report voice design support")
	}
}

func TestNilManagerIsUnavailable(t *testing.T) {
	var m *Manager
	if m.IsAvailable() {
		t.Fatal("nil manager must not be available")
	}
	if _, err := m.GenerateSpeech(context.Background(), "x", ""); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if err := m.QueueSpeech(context.Background(), "x", ""); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if m.SupportsDialogue() || m.Playing() || m.QueueDepth() != 0 {
		t.Fatal("nil manager must report idle state")
	}
	m.Stop()
	m.Close()
}
