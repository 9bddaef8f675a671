// Package dialogue turns free-form multi-speaker scripts into ordered,
// attributed lines that the synthesis pipeline can voice.
package dialogue

import "strings"

// Line is one utterance of a compiled script, in source order.
type Line struct {
	Speaker string
	Text    string
}

// DefaultLabels is the generic two-host speaker set accepted when no
// persona or enrolled voice extends the catalog.
func DefaultLabels() []string {
	return []string{"Host 1", "Host 2"}
}

// Compile segments a raw script into dialogue lines. A line is kept only
// when it reads "<Label>: <utterance>" with Label in the closed label set;
// matching is case-insensitive and the canonical label spelling is
// preserved in the result. Anything else (narration asides, stage
// directions, blank lines) is dropped. Compilation is deterministic and
// performs no network or model calls.
func Compile(script string, labels []string) []Line {
	known := make(map[string]string, len(labels))
	for _, label := range labels {
		trimmed := strings.TrimSpace(label)
		if trimmed == "" {
			continue
		}
		known[strings.ToLower(trimmed)] = trimmed
	}

	var lines []Line
	for _, raw := range strings.Split(script, "\n") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		idx := strings.Index(raw, ":")
		if idx <= 0 {
			continue
		}
		speaker, ok := known[strings.ToLower(strings.TrimSpace(raw[:idx]))]
		if !ok {
			continue
		}
		text := strings.TrimSpace(raw[idx+1:])
		if text == "" {
			continue
		}
		lines = append(lines, Line{Speaker: speaker, Text: text})
	}
	return lines
}
