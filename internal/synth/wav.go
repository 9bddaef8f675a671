package synth

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// writePCM16WAV wraps raw little-endian 16-bit PCM samples in a WAV
// container at path. Backends that return bare PCM (Gemini) use this so
// every artifact on disk is playable by a stock audio player.
func writePCM16WAV(path string, pcm []byte, sampleRate, channels int) error {
	if len(pcm)%2 != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	buffer := &audio.IntBuffer{Format: &audio.Format{NumChannels: channels, SampleRate: sampleRate}}
	samples := make([]int, len(pcm)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buffer.Data = samples

	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// wavDuration probes a WAV header for its play length. Unknown or
// unreadable headers read as zero; duration is advisory only.
func wavDuration(path string) time.Duration {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	d, err := wav.NewDecoder(f).Duration()
	if err != nil {
		return 0
	}
	return d
}
