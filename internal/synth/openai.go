package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/airwavelabs/aria/internal/config"
)

// OpenAI synthesizes speech through the OpenAI audio API. The response
// body is the audio bytes themselves in the requested container.
type OpenAI struct {
	cfg    config.OpenAIProviderConfig
	client *http.Client
	log    *slog.Logger
}

type openaiRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format,omitempty"`
	Speed          float64 `json:"speed,omitempty"`
}

type openaiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func NewOpenAI(cfg config.OpenAIProviderConfig, logger *slog.Logger) (*OpenAI, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai provider requires providers.openai.api_key")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "tts-1"
	}
	if cfg.Voice == "" {
		cfg.Voice = "alloy"
	}
	if cfg.Format == "" {
		cfg.Format = "mp3"
	}
	return &OpenAI{
		cfg:    cfg,
		client: &http.Client{},
		log:    logger.With(slog.String("component", "synth-openai")),
	}, nil
}

func (s *OpenAI) Name() string { return "openai" }

func (s *OpenAI) DefaultVoice() string { return s.cfg.Voice }

func (s *OpenAI) SupportsDialogue() bool { return false }

func (s *OpenAI) Synthesize(ctx context.Context, req Request) (*Artifact, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}
	voice := req.Voice
	if voice == "" {
		voice = s.cfg.Voice
	}

	payload, err := json.Marshal(openaiRequest{
		Model:          s.cfg.Model,
		Input:          req.Text,
		Voice:          voice,
		ResponseFormat: s.cfg.Format,
		Speed:          s.cfg.Speed,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/audio/speech", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, newError("openai", "", "request failed", err, true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.decodeError(resp)
	}

	format := Format(s.cfg.Format)
	out := tempArtifactPath("openai", format)
	if err := writeArtifact(out, resp.Body); err != nil {
		return nil, newError("openai", "", "write artifact", err, false)
	}
	art := &Artifact{Path: out, Format: format}
	if format == FormatWAV {
		art.Duration = wavDuration(out)
	}
	return art, nil
}

func (s *OpenAI) decodeError(resp *http.Response) error {
	retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500

	var body openaiErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return newError("openai", strconv.Itoa(resp.StatusCode), "unexpected provider response", err, retryable)
	}

	var cause error
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		cause = ErrRateLimited
	case resp.StatusCode == http.StatusBadRequest && strings.Contains(strings.ToLower(body.Error.Message), "voice"):
		cause = ErrInvalidVoice
	}
	code := body.Error.Code
	if code == "" {
		code = strconv.Itoa(resp.StatusCode)
	}
	message := body.Error.Message
	if message == "" {
		message = fmt.Sprintf("provider returned status %d", resp.StatusCode)
	}
	return newError("openai", code, message, cause, retryable)
}
