package synth

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/airwavelabs/aria/internal/config"
	"github.com/airwavelabs/aria/internal/dialogue"
)

// geminiDialogueVoices maps the generic host labels to prebuilt Gemini
// voices so two-host scripts come out with two distinct speakers.
var geminiDialogueVoices = map[string]string{
	"host 1": "charon",
	"host 2": "kore",
}

// Gemini synthesizes speech through the Gemini TTS API. Responses carry
// base64 PCM16 which is wrapped into a WAV container on disk. Gemini is
// the one backend with native multi-speaker support: SynthesizeDialogue
// voices each line with a per-host prebuilt voice, paced to stay under
// the API rate limit.
type Gemini struct {
	cfg    config.GeminiProviderConfig
	client *http.Client
	pacer  *Pacer
	log    *slog.Logger
}

type geminiRequest struct {
	Model      string `json:"model"`
	Text       string `json:"text"`
	Voice      string `json:"voice"`
	SampleRate int    `json:"sample_rate"`
}

type geminiResponse struct {
	AudioContent string `json:"audio_content"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func NewGemini(cfg config.GeminiProviderConfig, lineDelay time.Duration, logger *slog.Logger) (*Gemini, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gemini provider requires providers.gemini.api_key")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash-preview-tts"
	}
	if cfg.Voice == "" {
		cfg.Voice = "kore"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 24000
	}
	return &Gemini{
		cfg:    cfg,
		client: &http.Client{},
		pacer:  NewPacer(lineDelay),
		log:    logger.With(slog.String("component", "synth-gemini")),
	}, nil
}

func (s *Gemini) Name() string { return "gemini" }

func (s *Gemini) DefaultVoice() string { return s.cfg.Voice }

func (s *Gemini) SupportsDialogue() bool { return true }

func (s *Gemini) Synthesize(ctx context.Context, req Request) (*Artifact, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}
	voice := req.Voice
	if voice == "" {
		voice = s.cfg.Voice
	}

	payload, err := json.Marshal(geminiRequest{
		Model:      s.cfg.Model,
		Text:       req.Text,
		Voice:      voice,
		SampleRate: s.cfg.SampleRate,
	})
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/models/%s:synthesize", s.cfg.BaseURL, s.cfg.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("x-goog-api-key", s.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, newError("gemini", "", "request failed", err, true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.decodeError(resp)
	}

	var body geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, newError("gemini", "", "decode provider response", err, false)
	}
	pcm, err := base64.StdEncoding.DecodeString(body.AudioContent)
	if err != nil {
		return nil, newError("gemini", "", "decode audio content", err, false)
	}
	if len(pcm) == 0 {
		return nil, newError("gemini", "", "provider returned no audio", nil, false)
	}

	out := tempArtifactPath("gemini", FormatWAV)
	if err := writePCM16WAV(out, pcm, s.cfg.SampleRate, 1); err != nil {
		return nil, newError("gemini", "", "wrap pcm in wav", err, false)
	}
	return &Artifact{Path: out, Format: FormatWAV, Duration: wavDuration(out)}, nil
}

// SynthesizeDialogue voices a script line by line, one result per line in
// order. A failed line does not abort the rest.
func (s *Gemini) SynthesizeDialogue(ctx context.Context, lines []dialogue.Line) []LineResult {
	results := make([]LineResult, 0, len(lines))
	for i, line := range lines {
		if i > 0 {
			if err := s.pacer.Wait(ctx); err != nil {
				results = append(results, LineResult{Line: line, Err: err})
				continue
			}
		}
		voice := geminiDialogueVoices[strings.ToLower(line.Speaker)]
		art, err := s.Synthesize(ctx, Request{Text: line.Text, Voice: voice})
		results = append(results, LineResult{Line: line, Artifact: art, Err: err})
	}
	return results
}

func (s *Gemini) decodeError(resp *http.Response) error {
	retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500

	var body geminiErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return newError("gemini", strconv.Itoa(resp.StatusCode), "unexpected provider response", err, retryable)
	}

	var cause error
	if resp.StatusCode == http.StatusTooManyRequests {
		cause = ErrRateLimited
	}
	code := body.Error.Status
	if code == "" {
		code = strconv.Itoa(resp.StatusCode)
	}
	message := body.Error.Message
	if message == "" {
		message = fmt.Sprintf("provider returned status %d", resp.StatusCode)
	}
	return newError("gemini", code, message, cause, retryable)
}
