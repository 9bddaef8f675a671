package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/airwavelabs/aria/internal/config"
)

// elevenOutputFormat is the fixed container requested from ElevenLabs.
const elevenOutputFormat = "mp3_44100_128"

// ElevenLabs synthesizes speech through the ElevenLabs text-to-speech
// API. The voice identifier is part of the request path and the response
// body is inline MP3 audio.
type ElevenLabs struct {
	cfg    config.ElevenLabsProviderConfig
	client *http.Client
	log    *slog.Logger
}

type elevenRequest struct {
	Text          string              `json:"text"`
	ModelID       string              `json:"model_id"`
	VoiceSettings elevenVoiceSettings `json:"voice_settings"`
}

type elevenVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type elevenErrorResponse struct {
	Detail struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"detail"`
}

func NewElevenLabs(cfg config.ElevenLabsProviderConfig, logger *slog.Logger) (*ElevenLabs, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("elevenlabs provider requires providers.elevenlabs.api_key")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.elevenlabs.io/v1"
	}
	if cfg.ModelID == "" {
		cfg.ModelID = "eleven_multilingual_v2"
	}
	if cfg.Voice == "" {
		cfg.Voice = "21m00Tcm4TlvDq8ikWAM"
	}
	return &ElevenLabs{
		cfg:    cfg,
		client: &http.Client{},
		log:    logger.With(slog.String("component", "synth-elevenlabs")),
	}, nil
}

func (s *ElevenLabs) Name() string { return "elevenlabs" }

func (s *ElevenLabs) DefaultVoice() string { return s.cfg.Voice }

func (s *ElevenLabs) SupportsDialogue() bool { return false }

func (s *ElevenLabs) Synthesize(ctx context.Context, req Request) (*Artifact, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}
	voice := req.Voice
	if voice == "" {
		voice = s.cfg.Voice
	}

	payload, err := json.Marshal(elevenRequest{
		Text:    req.Text,
		ModelID: s.cfg.ModelID,
		VoiceSettings: elevenVoiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
		},
	})
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/text-to-speech/%s?output_format=%s",
		s.cfg.BaseURL, url.PathEscape(voice), elevenOutputFormat)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("xi-api-key", s.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/mpeg")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, newError("elevenlabs", "", "request failed", err, true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.decodeError(resp)
	}

	out := tempArtifactPath("elevenlabs", FormatMP3)
	if err := writeArtifact(out, resp.Body); err != nil {
		return nil, newError("elevenlabs", "", "write artifact", err, false)
	}
	return &Artifact{Path: out, Format: FormatMP3}, nil
}

func (s *ElevenLabs) decodeError(resp *http.Response) error {
	retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500

	var body elevenErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return newError("elevenlabs", strconv.Itoa(resp.StatusCode), "unexpected provider response", err, retryable)
	}

	var cause error
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		cause = ErrRateLimited
	case http.StatusNotFound:
		cause = ErrInvalidVoice
	}
	code := body.Detail.Status
	if code == "" {
		code = strconv.Itoa(resp.StatusCode)
	}
	message := body.Detail.Message
	if message == "" {
		message = fmt.Sprintf("provider returned status %d", resp.StatusCode)
	}
	return newError("elevenlabs", code, message, cause, retryable)
}
