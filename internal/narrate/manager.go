// Package narrate wires synthesis, caching, voice resolution and
// playback into the narration facade the rest of the runtime talks to,
// plus the bus service that exposes it.
package narrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/airwavelabs/aria/internal/cache"
	"github.com/airwavelabs/aria/internal/config"
	"github.com/airwavelabs/aria/internal/dialogue"
	"github.com/airwavelabs/aria/internal/playback"
	"github.com/airwavelabs/aria/internal/synth"
	"github.com/airwavelabs/aria/internal/voice"
)

var (
	// ErrUnavailable is returned when narration is disabled or its
	// backend failed to construct.
	ErrUnavailable = errors.New("narration unavailable")

	// ErrVoiceDesignUnsupported is returned when the active backend
	// cannot enroll voices.
	ErrVoiceDesignUnsupported = errors.New("voice design not supported by provider")
)

// Outcome describes one synthesis attempt: what was asked for and what
// came back. Exactly one of Artifact and Err is set.
type Outcome struct {
	CacheKey string
	Voice    string
	Text     string
	Artifact *synth.Artifact
	Cached   bool
	Err      error
}

// Observer receives synthesis and playback outcomes. The bus service
// implements it to record history and publish events.
type Observer interface {
	Synthesized(ctx context.Context, out Outcome)
	Played(item playback.Item, err error)
}

// Manager is the narration facade: generate speech, queue it for
// playback, switch personas, enroll voices, sweep the cache. All
// failures degrade: a broken narration never interferes with anything
// outside this package.
type Manager struct {
	cfg             config.NarrationConfig
	referenceSample string
	synth           synth.Synthesizer
	dialogue        synth.DialogueSynthesizer
	designer        synth.VoiceDesigner
	cache           *cache.Store
	queue           *playback.Queue
	resolver        *voice.Resolver
	pacer           *synth.Pacer
	log             *slog.Logger

	mu       sync.Mutex
	observer Observer
}

// NewManager builds the full pipeline for the configured provider.
// Construction fails on missing credentials, an unusable cache dir, or
// no audio player; callers treat that as narration-unavailable, not as
// a daemon failure.
func NewManager(parent context.Context, cfg config.Config, log *slog.Logger) (*Manager, error) {
	logger := log.With(slog.String("component", "narrate"))

	backend, err := synth.New(cfg.Narration, cfg.Providers, logger)
	if err != nil {
		return nil, err
	}
	store, err := cache.New(cfg.Narration.CacheDir, logger)
	if err != nil {
		return nil, err
	}
	player, err := playback.DiscoverPlayer(cfg.Narration.PlayerCommand)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:             cfg.Narration,
		referenceSample: cfg.Providers.Local.ReferenceSample,
		synth:           backend,
		cache:           store,
		queue:           playback.NewQueue(parent, player, logger),
		pacer:           synth.NewPacer(time.Duration(cfg.Narration.LineDelayMS) * time.Millisecond),
		log:             logger,
	}
	m.resolveCapabilities()
	m.resolver = voice.NewResolver(cfg.Personas, cfg.Narration.Provider, backend.DefaultVoice(), m.customVoices())
	m.queue.SetOnDone(m.playbackDone)

	if cfg.Narration.Persona != "" {
		if err := m.SetPersona(parent, cfg.Narration.Persona); err != nil {
			logger.Warn("configured persona not usable",
				slog.String("persona", cfg.Narration.Persona),
				slogError(err))
		}
	}
	return m, nil
}

// resolveCapabilities pins down what the backend can do once, at
// construction. Dispatch later never type-switches: a backend with the
// dialogue method but the flag off stays on the generic path.
func (m *Manager) resolveCapabilities() {
	if ds, ok := m.synth.(synth.DialogueSynthesizer); ok && m.synth.SupportsDialogue() {
		m.dialogue = ds
	}
	if designer, ok := m.synth.(synth.VoiceDesigner); ok {
		m.designer = designer
	}
}

func (m *Manager) customVoices() voice.CustomVoices {
	if m.designer == nil {
		return nil
	}
	return m.designer
}

// IsAvailable reports whether the pipeline was constructed. Safe on a
// nil Manager so callers can hold one unconditionally.
func (m *Manager) IsAvailable() bool {
	return m != nil && m.synth != nil
}

// SetObserver registers the sink for synthesis and playback outcomes.
func (m *Manager) SetObserver(obs Observer) {
	m.mu.Lock()
	m.observer = obs
	m.mu.Unlock()
}

func (m *Manager) notify(ctx context.Context, out Outcome) {
	m.mu.Lock()
	obs := m.observer
	m.mu.Unlock()
	if obs != nil {
		obs.Synthesized(ctx, out)
	}
}

func (m *Manager) playbackDone(item playback.Item, err error) {
	if err != nil {
		m.log.Warn("playback failed", slog.String("path", item.Path), slogError(err))
	}
	m.mu.Lock()
	obs := m.observer
	m.mu.Unlock()
	if obs != nil {
		obs.Played(item, err)
	}
}

// GenerateSpeech synthesizes text without queueing playback. With a
// cache key the call is idempotent: a second identical call returns the
// same artifact path without touching the backend.
func (m *Manager) GenerateSpeech(ctx context.Context, text, cacheKey string) (*synth.Artifact, error) {
	if !m.IsAvailable() {
		return nil, ErrUnavailable
	}
	out := m.generate(ctx, text, "", cacheKey)
	if out.Err != nil {
		return nil, out.Err
	}
	return out.Artifact, nil
}

// QueueSpeech generates one utterance and enqueues it for playback.
func (m *Manager) QueueSpeech(ctx context.Context, text, cacheKey string) error {
	if !m.IsAvailable() {
		return ErrUnavailable
	}
	out := m.generate(ctx, text, "", cacheKey)
	if out.Err != nil {
		return out.Err
	}
	m.queue.Enqueue(playback.Item{Path: out.Artifact.Path, Key: out.CacheKey})
	return nil
}

// QueueLongSpeech splits text into sentence chunks and queues each in
// order. A chunk that fails synthesis is logged and skipped so the rest
// of the narration still plays.
func (m *Manager) QueueLongSpeech(ctx context.Context, text, cacheKey string) error {
	if !m.IsAvailable() {
		return ErrUnavailable
	}
	chunks := splitSentences(text)
	if len(chunks) == 0 {
		return errors.New("no narratable text")
	}
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		key := suffixKey(cacheKey, "chunk", i)
		out := m.generate(ctx, chunk, "", key)
		if out.Err != nil {
			m.log.Warn("skipping failed chunk", slog.Int("chunk", i), slogError(out.Err))
			continue
		}
		m.queue.Enqueue(playback.Item{Path: out.Artifact.Path, Key: key})
	}
	return nil
}

// QueueDialogue voices a compiled script. Dialogue-capable backends get
// the whole batch in one delegation; everything else runs line by line
// through the generic path with pacing between provider calls. Either
// way playback order equals line order.
func (m *Manager) QueueDialogue(ctx context.Context, lines []dialogue.Line, cacheKey string) error {
	if !m.IsAvailable() {
		return ErrUnavailable
	}
	if len(lines) == 0 {
		return errors.New("no dialogue lines")
	}
	if m.dialogue != nil {
		return m.queueNativeDialogue(ctx, lines, cacheKey)
	}
	for i, line := range lines {
		if i > 0 {
			if err := m.pacer.Wait(ctx); err != nil {
				return err
			}
		}
		key := suffixKey(cacheKey, "line", i)
		out := m.generate(ctx, line.Text, line.Speaker, key)
		if out.Err != nil {
			m.log.Warn("skipping failed dialogue line",
				slog.Int("line", i), slog.String("speaker", line.Speaker), slogError(out.Err))
			continue
		}
		m.queue.Enqueue(playback.Item{Path: out.Artifact.Path, Key: key})
	}
	return nil
}

func (m *Manager) queueNativeDialogue(ctx context.Context, lines []dialogue.Line, cacheKey string) error {
	results := m.dialogue.SynthesizeDialogue(ctx, lines)
	for i, res := range results {
		key := suffixKey(cacheKey, "line", i)
		out := Outcome{CacheKey: key, Text: res.Line.Text, Voice: m.resolver.Resolve(res.Line.Speaker)}
		if res.Err != nil {
			out.Err = res.Err
			m.notify(ctx, out)
			m.log.Warn("skipping failed dialogue line",
				slog.Int("line", i), slog.String("speaker", res.Line.Speaker), slogError(res.Err))
			continue
		}
		if key != "" {
			if err := m.cache.Store(key, res.Artifact); err != nil {
				m.log.Warn("failed to cache narration", slog.String("key", key), slogError(err))
			}
		}
		out.Artifact = res.Artifact
		m.notify(ctx, out)
		m.queue.Enqueue(playback.Item{Path: res.Artifact.Path, Key: key})
	}
	return nil
}

// generate is the single synthesis path: cache lookup, backend call
// with retry, cache store. speaker is resolved to a voice first; the
// empty speaker resolves through the active persona.
func (m *Manager) generate(ctx context.Context, text, speaker, key string) Outcome {
	out := Outcome{CacheKey: key, Text: text, Voice: m.resolver.Resolve(speaker)}

	if key != "" {
		if art := m.cache.Lookup(key); art != nil {
			out.Artifact = art
			out.Cached = true
			m.notify(ctx, out)
			return out
		}
	}

	art, err := m.synthesizeWithRetry(ctx, synth.Request{Text: text, Voice: out.Voice})
	if err != nil {
		out.Err = err
		m.notify(ctx, out)
		return out
	}

	if key != "" {
		if err := m.cache.Store(key, art); err != nil {
			m.log.Warn("failed to cache narration", slog.String("key", key), slogError(err))
		} else if cached := m.cache.Lookup(key); cached != nil {
			// Hand playback the durable copy so repeated calls return
			// the identical path.
			cached.Duration = art.Duration
			art = cached
		}
	}
	out.Artifact = art
	m.notify(ctx, out)
	return out
}

func (m *Manager) synthesizeWithRetry(ctx context.Context, req synth.Request) (*synth.Artifact, error) {
	attempts := m.cfg.MaxRetries + 1
	delay := time.Duration(m.cfg.RetryDelayMS) * time.Millisecond

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		callCtx, cancel := context.WithTimeout(ctx, time.Duration(m.cfg.RequestTimeoutMS)*time.Millisecond)
		art, err := m.synth.Synthesize(callCtx, req)
		cancel()
		if err == nil {
			return art, nil
		}
		lastErr = err
		if !synth.IsRetryable(err) {
			break
		}
		m.log.Warn("synthesis attempt failed", slog.Int("attempt", attempt+1), slogError(err))
	}
	return nil, lastErr
}

// Stop discards pending playback. The currently playing process is left
// to finish; only daemon shutdown kills it.
func (m *Manager) Stop() {
	if !m.IsAvailable() {
		return
	}
	discarded := m.queue.Stop()
	m.log.Info("narration stopped", slog.Int("discarded", discarded))
}

// ClearQueue empties pending playback and reports how many items were
// discarded. The current item keeps playing.
func (m *Manager) ClearQueue() int {
	if !m.IsAvailable() {
		return 0
	}
	return m.queue.Clear()
}

// CleanCache sweeps cached artifacts older than maxAge. A non-positive
// maxAge uses the configured retention.
func (m *Manager) CleanCache(maxAge time.Duration) (int, error) {
	if !m.IsAvailable() {
		return 0, ErrUnavailable
	}
	if maxAge <= 0 {
		maxAge = time.Duration(m.cfg.CacheMaxAgeDays) * 24 * time.Hour
	}
	return m.cache.Sweep(maxAge)
}

// SetPersona activates a persona. On a design-capable backend with a
// configured reference sample, a persona without a pinned voice gets
// one designed from its style prompt and bound under the persona name;
// a failed design keeps the persona active on preset voices.
func (m *Manager) SetPersona(ctx context.Context, name string) error {
	if !m.IsAvailable() {
		return ErrUnavailable
	}
	if err := m.resolver.SetPersona(name); err != nil {
		return err
	}
	persona, ok := m.resolver.ActivePersona()
	if !ok || persona.Voice != "" {
		return nil
	}
	if m.designer == nil || m.referenceSample == "" {
		return nil
	}
	if _, exists := m.designer.CustomVoice(persona.Name); exists {
		return nil
	}
	if _, err := m.designer.DesignVoice(ctx, persona.Name, m.referenceSample, persona.StylePrompt()); err != nil {
		m.log.Warn("persona voice design failed", slog.String("persona", persona.Name), slogError(err))
	}
	return nil
}

// CloneVoice enrolls a voice cloned from a reference sample.
func (m *Manager) CloneVoice(ctx context.Context, label, samplePath string) (string, error) {
	if !m.IsAvailable() {
		return "", ErrUnavailable
	}
	if m.designer == nil {
		return "", ErrVoiceDesignUnsupported
	}
	return m.designer.CloneVoice(ctx, label, samplePath)
}

// DesignVoice enrolls a voice built from a reference sample plus a
// free-text style prompt.
func (m *Manager) DesignVoice(ctx context.Context, label, samplePath, stylePrompt string) (string, error) {
	if !m.IsAvailable() {
		return "", ErrUnavailable
	}
	if m.designer == nil {
		return "", ErrVoiceDesignUnsupported
	}
	return m.designer.DesignVoice(ctx, label, samplePath, stylePrompt)
}

// Provider names the active backend.
func (m *Manager) Provider() string {
	if !m.IsAvailable() {
		return ""
	}
	return m.synth.Name()
}

// SupportsDialogue reports whether the backend voices scripts natively.
func (m *Manager) SupportsDialogue() bool {
	return m.IsAvailable() && m.dialogue != nil
}

// SupportsVoiceDesign reports whether the backend can enroll voices.
func (m *Manager) SupportsVoiceDesign() bool {
	return m.IsAvailable() && m.designer != nil
}

// Personas lists the persona catalog.
func (m *Manager) Personas() []voice.Persona {
	if !m.IsAvailable() {
		return nil
	}
	return m.resolver.Personas()
}

// Labels lists the speaker labels the dialogue compiler accepts.
func (m *Manager) Labels() []string {
	if !m.IsAvailable() {
		return dialogue.DefaultLabels()
	}
	return m.resolver.Labels()
}

// QueueDepth reports pending playback items.
func (m *Manager) QueueDepth() int {
	if !m.IsAvailable() {
		return 0
	}
	return m.queue.Depth()
}

// Playing reports whether the worker is draining.
func (m *Manager) Playing() bool {
	return m.IsAvailable() && m.queue.Playing()
}

// Close shuts the playback queue down, killing any in-flight player.
func (m *Manager) Close() {
	if m == nil || m.queue == nil {
		return
	}
	m.queue.Close()
}

// splitSentences breaks text into sentence chunks on '.', '!' and '?'.
// Terminator runs stay with their sentence; chunks with no speakable
// content are dropped.
func splitSentences(text string) []string {
	var chunks []string
	runes := []rune(text)
	start := 0
	for i := 0; i < len(runes); i++ {
		if !isTerminator(runes[i]) {
			continue
		}
		for i+1 < len(runes) && isTerminator(runes[i+1]) {
			i++
		}
		appendChunk(&chunks, string(runes[start:i+1]))
		start = i + 1
	}
	if start < len(runes) {
		appendChunk(&chunks, string(runes[start:]))
	}
	return chunks
}

func appendChunk(chunks *[]string, raw string) {
	chunk := strings.TrimSpace(raw)
	if chunk == "" || onlyTerminators(chunk) {
		return
	}
	*chunks = append(*chunks, chunk)
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func onlyTerminators(s string) bool {
	for _, r := range s {
		if !isTerminator(r) {
			return false
		}
	}
	return true
}

func suffixKey(key, kind string, i int) string {
	if key == "" {
		return ""
	}
	return fmt.Sprintf("%s_%s_%d", key, kind, i)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
