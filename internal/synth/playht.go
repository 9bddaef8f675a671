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

// PlayHT synthesizes speech through the Play.ht API. Unlike the inline
// backends, the job response carries a signed audio URL which is fetched
// in a follow-up request before the artifact lands on disk.
type PlayHT struct {
	cfg    config.PlayHTProviderConfig
	client *http.Client
	log    *slog.Logger
}

type playhtRequest struct {
	Text         string `json:"text"`
	Voice        string `json:"voice"`
	OutputFormat string `json:"output_format"`
	SampleRate   int    `json:"sample_rate"`
}

type playhtResponse struct {
	ID       string `json:"id"`
	AudioURL string `json:"audio_url"`
}

type playhtErrorResponse struct {
	ErrorMessage string `json:"error_message"`
	ErrorID      string `json:"error_id"`
}

func NewPlayHT(cfg config.PlayHTProviderConfig, logger *slog.Logger) (*PlayHT, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("playht provider requires providers.playht.api_key")
	}
	if strings.TrimSpace(cfg.UserID) == "" {
		return nil, errors.New("playht provider requires providers.playht.user_id")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.play.ht/api/v2"
	}
	if cfg.Format == "" {
		cfg.Format = "mp3"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 24000
	}
	return &PlayHT{
		cfg:    cfg,
		client: &http.Client{},
		log:    logger.With(slog.String("component", "synth-playht")),
	}, nil
}

func (s *PlayHT) Name() string { return "playht" }

func (s *PlayHT) DefaultVoice() string { return s.cfg.Voice }

func (s *PlayHT) SupportsDialogue() bool { return false }

func (s *PlayHT) Synthesize(ctx context.Context, req Request) (*Artifact, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}
	voice := req.Voice
	if voice == "" {
		voice = s.cfg.Voice
	}

	payload, err := json.Marshal(playhtRequest{
		Text:         req.Text,
		Voice:        voice,
		OutputFormat: s.cfg.Format,
		SampleRate:   s.cfg.SampleRate,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/tts", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	httpReq.Header.Set("X-User-Id", s.cfg.UserID)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, newError("playht", "", "request failed", err, true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, s.decodeError(resp)
	}

	var body playhtResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, newError("playht", "", "decode provider response", err, false)
	}
	if body.AudioURL == "" {
		return nil, newError("playht", "", "provider returned no audio url", nil, false)
	}

	return s.fetchAudio(ctx, body.AudioURL)
}

// fetchAudio downloads the signed audio URL from the job response.
func (s *PlayHT) fetchAudio(ctx context.Context, audioURL string) (*Artifact, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, newError("playht", "", "fetch audio url", err, true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newError("playht", strconv.Itoa(resp.StatusCode),
			fmt.Sprintf("audio url returned status %d", resp.StatusCode), nil, resp.StatusCode >= 500)
	}

	format := Format(s.cfg.Format)
	out := tempArtifactPath("playht", format)
	if err := writeArtifact(out, resp.Body); err != nil {
		return nil, newError("playht", "", "write artifact", err, false)
	}
	art := &Artifact{Path: out, Format: format}
	if format == FormatWAV {
		art.Duration = wavDuration(out)
	}
	return art, nil
}

func (s *PlayHT) decodeError(resp *http.Response) error {
	retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500

	var body playhtErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return newError("playht", strconv.Itoa(resp.StatusCode), "unexpected provider response", err, retryable)
	}

	var cause error
	if resp.StatusCode == http.StatusTooManyRequests {
		cause = ErrRateLimited
	}
	code := body.ErrorID
	if code == "" {
		code = strconv.Itoa(resp.StatusCode)
	}
	message := body.ErrorMessage
	if message == "" {
		message = fmt.Sprintf("provider returned status %d", resp.StatusCode)
	}
	return newError("playht", code, message, cause, retryable)
}
