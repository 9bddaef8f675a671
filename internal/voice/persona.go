// Package voice maps speaker labels and narration personas to the
// concrete voice identifiers a synthesis backend understands.
package voice

import "strings"

// Persona is a named narration style. Prompt and the delivery hints feed
// design-capable backends; Voice, when set, pins a provider-native preset
// and skips voice design entirely.
type Persona struct {
	Name   string
	Prompt string
	Pacing string
	Pitch  string
	Tone   string
	Voice  string
}

// StylePrompt flattens the persona into one free-text descriptor for
// voice-design backends.
func (p Persona) StylePrompt() string {
	parts := make([]string, 0, 4)
	if s := strings.TrimSpace(p.Prompt); s != "" {
		parts = append(parts, s)
	}
	if p.Pacing != "" {
		parts = append(parts, "pacing: "+p.Pacing)
	}
	if p.Pitch != "" {
		parts = append(parts, "pitch: "+p.Pitch)
	}
	if p.Tone != "" {
		parts = append(parts, "tone: "+p.Tone)
	}
	return strings.Join(parts, "; ")
}

// Builtins returns the stock persona catalog. Config persona entries
// override or extend these by name.
func Builtins() []Persona {
	return []Persona{
		{
			Name:   "midnight",
			Prompt: "A late-night radio host with a low, unhurried delivery that sits just above a whisper",
			Pacing: "slow",
			Pitch:  "low",
			Tone:   "warm",
		},
		{
			Name:   "drivetime",
			Prompt: "An upbeat drive-time DJ, quick and bright, always half a beat from laughing",
			Pacing: "fast",
			Pitch:  "medium",
			Tone:   "energetic",
		},
		{
			Name:   "archivist",
			Prompt: "A measured music historian who savors liner-note detail and lets pauses breathe",
			Pacing: "measured",
			Pitch:  "medium-low",
			Tone:   "reflective",
		},
	}
}
