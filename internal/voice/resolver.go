package voice

import (
	"fmt"
	"strings"
	"sync"

	"github.com/airwavelabs/aria/internal/config"
)

// CustomVoices exposes voices enrolled at runtime by a design-capable
// backend. A nil source means the active backend cannot enroll voices.
type CustomVoices interface {
	CustomVoice(label string) (string, bool)
}

// hostVoices maps the generic dialogue labels to per-provider presets so
// a two-host script always gets two distinct voices.
var hostVoices = map[string]map[string]string{
	"openai":     {"host 1": "onyx", "host 2": "nova"},
	"elevenlabs": {"host 1": "ErXwobaYiN019PkySvjV", "host 2": "21m00Tcm4TlvDq8ikWAM"},
	"gemini":     {"host 1": "charon", "host 2": "kore"},
	"playht":     {"host 1": "larry", "host 2": "jennifer"},
	"local":      {"host 1": "am_adam", "host 2": "af_heart"},
	"mock":       {"host 1": "mock-host-1", "host 2": "mock-host-2"},
}

// Resolver turns speaker labels into concrete voice identifiers for one
// provider. Resolution is deterministic: the steps are tried strictly in
// order and never combined.
type Resolver struct {
	provider     string
	defaultVoice string
	custom       CustomVoices

	mu       sync.RWMutex
	personas map[string]Persona
	order    []string
	active   string
}

// NewResolver builds the persona catalog from the builtins plus config
// overrides and binds it to the named provider. custom may be nil.
func NewResolver(overrides []config.PersonaConfig, provider, defaultVoice string, custom CustomVoices) *Resolver {
	r := &Resolver{
		provider:     provider,
		defaultVoice: defaultVoice,
		custom:       custom,
		personas:     make(map[string]Persona),
	}
	for _, p := range Builtins() {
		r.put(p)
	}
	for _, o := range overrides {
		r.put(Persona{
			Name:   o.Name,
			Prompt: o.Prompt,
			Pacing: o.Pacing,
			Pitch:  o.Pitch,
			Tone:   o.Tone,
			Voice:  o.Voice,
		})
	}
	return r
}

func (r *Resolver) put(p Persona) {
	key := strings.ToLower(strings.TrimSpace(p.Name))
	if key == "" {
		return
	}
	if _, exists := r.personas[key]; !exists {
		r.order = append(r.order, key)
	}
	r.personas[key] = p
}

// SetPersona activates a catalog persona by name. An empty name clears
// the active persona.
func (r *Resolver) SetPersona(name string) error {
	key := strings.ToLower(strings.TrimSpace(name))
	r.mu.Lock()
	defer r.mu.Unlock()
	if key == "" {
		r.active = ""
		return nil
	}
	if _, ok := r.personas[key]; !ok {
		return fmt.Errorf("unknown persona %q", name)
	}
	r.active = key
	return nil
}

// ActivePersona returns the currently active persona, if any.
func (r *Resolver) ActivePersona() (Persona, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.active == "" {
		return Persona{}, false
	}
	p, ok := r.personas[r.active]
	return p, ok
}

// Persona looks up a catalog persona by name, case-insensitively.
func (r *Resolver) Persona(name string) (Persona, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.personas[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// Personas lists the catalog in declaration order, builtins first.
func (r *Resolver) Personas() []Persona {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Persona, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.personas[key])
	}
	return out
}

// Resolve maps a speaker label to a voice identifier. The empty label
// aliases to the active persona so designed voices enrolled under the
// persona name are found. Order: custom enrollment, persona pin, generic
// host preset, adapter default. First match wins.
func (r *Resolver) Resolve(label string) string {
	key := strings.ToLower(strings.TrimSpace(label))

	r.mu.RLock()
	if key == "" {
		key = r.active
	}
	persona, hasPersona := r.personas[key]
	r.mu.RUnlock()

	if key == "" {
		return r.defaultVoice
	}
	if r.custom != nil {
		if id, ok := r.custom.CustomVoice(key); ok {
			return id
		}
	}
	if hasPersona && persona.Voice != "" {
		return persona.Voice
	}
	if presets, ok := hostVoices[r.provider]; ok {
		if voice, ok := presets[key]; ok {
			return voice
		}
	}
	return r.defaultVoice
}

// Labels returns the closed speaker label set the dialogue compiler
// accepts: the generic hosts, every catalog persona, and any enrolled
// custom voices.
func (r *Resolver) Labels() []string {
	labels := []string{"Host 1", "Host 2"}
	r.mu.RLock()
	for _, key := range r.order {
		labels = append(labels, r.personas[key].Name)
	}
	r.mu.RUnlock()
	if lister, ok := r.custom.(interface{ CustomVoiceLabels() []string }); ok {
		labels = append(labels, lister.CustomVoiceLabels()...)
	}
	return labels
}
