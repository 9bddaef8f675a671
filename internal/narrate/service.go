package narrate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/airwavelabs/aria/internal/bus"
	"github.com/airwavelabs/aria/internal/config"
	"github.com/airwavelabs/aria/internal/dialogue"
	"github.com/airwavelabs/aria/internal/history"
	"github.com/airwavelabs/aria/internal/playback"
	"github.com/airwavelabs/aria/internal/protocol"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Service exposes the Manager on the bus: narration requests in, stage
// events out, every outcome recorded in history. It also owns the
// periodic cache sweep and history prune.
type Service struct {
	cfg     config.NarrationConfig
	bus     *bus.Client
	manager *Manager
	history *history.Store
	logger  *slog.Logger
	subs    []*nats.Subscription
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewService wires the bus-facing narration service. manager may be nil
// or unavailable; requests then fail with an event instead of crashing
// the daemon.
func NewService(parent context.Context, cfg config.NarrationConfig, busClient *bus.Client, manager *Manager, hist *history.Store, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:     cfg,
		bus:     busClient,
		manager: manager,
		history: hist,
		logger:  log.With(slog.String("component", "narrate-service")),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	if s.manager.IsAvailable() {
		s.manager.SetObserver(s)
	}

	handlers := []struct {
		subject string
		handler nats.MsgHandler
	}{
		{protocol.SubjectSpeak, s.handleSpeak},
		{protocol.SubjectDialogue, s.handleDialogue},
		{protocol.SubjectCtrlStop, s.handleStop},
		{protocol.SubjectCtrlClear, s.handleClear},
		{protocol.SubjectPersona, s.handlePersona},
		{protocol.SubjectVoiceEnroll, s.handleEnroll},
	}
	for _, h := range handlers {
		sub, err := s.bus.Conn().Subscribe(h.subject, h.handler)
		if err != nil {
			s.drainSubs()
			return err
		}
		s.subs = append(s.subs, sub)
	}

	if s.cfg.SweepIntervalMin > 0 {
		s.wg.Add(1)
		go s.runMaintenance()
	}
	return nil
}

func (s *Service) Close() {
	s.cancel()
	s.drainSubs()
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || len(s.subs) > 0
}

func (s *Service) drainSubs() {
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.subs = nil
}

func (s *Service) runMaintenance() {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Duration(s.cfg.SweepIntervalMin) * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if s.manager.IsAvailable() {
				if removed, err := s.manager.CleanCache(0); err != nil {
					s.logger.Warn("cache sweep failed", slogError(err))
				} else if removed > 0 {
					s.logger.Info("cache sweep removed entries", slog.Int("removed", removed))
				}
			}
			if err := s.history.Prune(s.ctx); err != nil {
				s.logger.Warn("history prune failed", slogError(err))
			}
		}
	}
}

// dispatch runs one request handler on a tracked goroutine with the
// correlation id in ctx. Requests without an id get one.
func (s *Service) dispatch(requestID string, fn func(ctx context.Context, requestID string)) {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(WithRequestID(s.ctx, requestID), requestID)
	}()
}

func (s *Service) handleSpeak(msg *nats.Msg) {
	var req protocol.SpeakRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode speak request", slogError(err))
		return
	}
	s.dispatch(req.RequestID, func(ctx context.Context, id string) {
		if !s.manager.IsAvailable() {
			s.publishFailure(id, req.CacheKey, ErrUnavailable)
			return
		}
		if err := s.manager.QueueLongSpeech(ctx, req.Text, req.CacheKey); err != nil {
			s.publishFailure(id, req.CacheKey, err)
			return
		}
		s.publishEvent(protocol.NarrationEvent{RequestID: id, Stage: protocol.StageQueued, CacheKey: req.CacheKey})
	})
}

func (s *Service) handleDialogue(msg *nats.Msg) {
	var req protocol.DialogueRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode dialogue request", slogError(err))
		return
	}
	s.dispatch(req.RequestID, func(ctx context.Context, id string) {
		if !s.manager.IsAvailable() {
			s.publishFailure(id, req.CacheKey, ErrUnavailable)
			return
		}
		lines := dialogue.Compile(req.Script, s.manager.Labels())
		if len(lines) == 0 {
			s.publishFailure(id, req.CacheKey, fmt.Errorf("no speakable lines in script"))
			return
		}
		if err := s.manager.QueueDialogue(ctx, lines, req.CacheKey); err != nil {
			s.publishFailure(id, req.CacheKey, err)
			return
		}
		s.publishEvent(protocol.NarrationEvent{
			RequestID: id,
			Stage:     protocol.StageQueued,
			CacheKey:  req.CacheKey,
			Detail:    fmt.Sprintf("%d lines", len(lines)),
		})
	})
}

func (s *Service) handleStop(msg *nats.Msg) {
	var req protocol.ControlRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode stop request", slogError(err))
		return
	}
	s.dispatch(req.RequestID, func(ctx context.Context, id string) {
		if !s.manager.IsAvailable() {
			s.publishFailure(id, "", ErrUnavailable)
			return
		}
		s.manager.Stop()
		s.publishEvent(protocol.NarrationEvent{RequestID: id, Stage: protocol.StageStopped})
	})
}

func (s *Service) handleClear(msg *nats.Msg) {
	var req protocol.ControlRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode clear request", slogError(err))
		return
	}
	s.dispatch(req.RequestID, func(ctx context.Context, id string) {
		if !s.manager.IsAvailable() {
			s.publishFailure(id, "", ErrUnavailable)
			return
		}
		discarded := s.manager.ClearQueue()
		s.publishEvent(protocol.NarrationEvent{
			RequestID: id,
			Stage:     protocol.StageCleared,
			Detail:    fmt.Sprintf("discarded %d", discarded),
		})
	})
}

func (s *Service) handlePersona(msg *nats.Msg) {
	var req protocol.PersonaRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode persona request", slogError(err))
		return
	}
	s.dispatch(req.RequestID, func(ctx context.Context, id string) {
		if !s.manager.IsAvailable() {
			s.publishFailure(id, "", ErrUnavailable)
			return
		}
		if err := s.manager.SetPersona(ctx, req.Name); err != nil {
			s.publishFailure(id, "", err)
			return
		}
		s.publishEvent(protocol.NarrationEvent{RequestID: id, Stage: protocol.StagePersona, Detail: req.Name})
	})
}

func (s *Service) handleEnroll(msg *nats.Msg) {
	var req protocol.VoiceEnrollRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode voice enroll request", slogError(err))
		return
	}
	s.dispatch(req.RequestID, func(ctx context.Context, id string) {
		if !s.manager.IsAvailable() {
			s.publishFailure(id, "", ErrUnavailable)
			return
		}
		var (
			voiceID string
			err     error
		)
		if req.StylePrompt == "" {
			voiceID, err = s.manager.CloneVoice(ctx, req.Label, req.SamplePath)
		} else {
			voiceID, err = s.manager.DesignVoice(ctx, req.Label, req.SamplePath, req.StylePrompt)
		}
		if err != nil {
			s.publishFailure(id, "", err)
			return
		}
		s.publishEvent(protocol.NarrationEvent{
			RequestID: id,
			Stage:     protocol.StageEnrolled,
			Detail:    fmt.Sprintf("%s -> %s", req.Label, voiceID),
		})
	})
}

func (s *Service) publishFailure(requestID, cacheKey string, err error) {
	s.publishEvent(protocol.NarrationEvent{
		RequestID: requestID,
		Stage:     protocol.StageFailed,
		CacheKey:  cacheKey,
		Error:     err.Error(),
	})
}

func (s *Service) publishEvent(event protocol.NarrationEvent) {
	event.Timestamp = time.Now().UTC()
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn("failed to marshal narration event", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectEvent, data); err != nil {
		s.logger.Warn("failed to publish narration event", slogError(err))
	}
}

// Synthesized records one synthesis outcome in the history store.
func (s *Service) Synthesized(ctx context.Context, out Outcome) {
	entry := history.Entry{
		RequestID: RequestIDFrom(ctx),
		CacheKey:  out.CacheKey,
		Provider:  s.manager.Provider(),
		Voice:     out.Voice,
		TextHash:  history.TextHash(out.Text),
		Cached:    out.Cached,
	}
	if out.Artifact != nil {
		entry.ArtifactPath = out.Artifact.Path
		entry.Format = string(out.Artifact.Format)
		entry.DurationMS = out.Artifact.Duration.Milliseconds()
	}
	if out.Err != nil {
		entry.Error = out.Err.Error()
	}
	if err := s.history.Record(ctx, entry); err != nil {
		s.logger.Warn("failed to record narration", slogError(err))
	}
}

// Played publishes the playback outcome and marks the history row.
func (s *Service) Played(item playback.Item, err error) {
	event := protocol.NarrationEvent{Stage: protocol.StagePlayed, CacheKey: item.Key}
	if err != nil {
		event.Stage = protocol.StageFailed
		event.Error = err.Error()
	}
	s.publishEvent(event)
	if herr := s.history.MarkPlayed(s.ctx, item.Path, err); herr != nil {
		s.logger.Warn("failed to mark narration played", slogError(herr))
	}
}
