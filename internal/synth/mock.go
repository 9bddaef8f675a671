package synth

import (
	"context"
	"strings"
)

// Mock writes a short silent WAV without touching the network or any
// external binary. It is the default provider so a fresh checkout runs
// end to end, and it backs tests that need real artifact files.
type Mock struct {
	voice string
}

func NewMock() *Mock {
	return &Mock{voice: "mock-voice"}
}

func (m *Mock) Name() string { return "mock" }

func (m *Mock) DefaultVoice() string { return m.voice }

func (m *Mock) SupportsDialogue() bool { return false }

func (m *Mock) Synthesize(ctx context.Context, req Request) (*Artifact, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 100ms of silence at 16kHz mono.
	out := tempArtifactPath("mock", FormatWAV)
	if err := writePCM16WAV(out, make([]byte, 3200), 16000, 1); err != nil {
		return nil, newError("mock", "", "write artifact", err, false)
	}
	return &Artifact{Path: out, Format: FormatWAV, Duration: wavDuration(out)}, nil
}
