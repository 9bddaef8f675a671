package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/airwavelabs/aria/internal/bus"
	"github.com/airwavelabs/aria/internal/capability"
	"github.com/airwavelabs/aria/internal/config"
	"github.com/airwavelabs/aria/internal/history"
	"github.com/airwavelabs/aria/internal/narrate"
	"github.com/airwavelabs/aria/internal/natsserver"
)

// Runtime owns the daemon lifecycle: telemetry, the bus, the narration
// pipeline, the capability registry, and the health endpoints. Start
// blocks until ctx is cancelled, then tears everything down in reverse
// order.
type Runtime struct {
	cfg           config.Config
	logger        *slog.Logger
	httpServer    *http.Server
	metricsServer *http.Server
	tracerClose   func(context.Context) error

	embedded  *natsserver.EmbeddedServer
	busClient *bus.Client
	hist      *history.Store
	manager   *narrate.Manager
	service   *narrate.Service
	registry  *capability.Registry

	ready atomic.Bool
	wg    sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry
	r.startMetricsServer(metricsHandler)

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded NATS server: %w", err)
	}
	r.embedded = embedded

	busClient, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	r.busClient = busClient

	hist, err := history.Open(ctx, r.cfg.History, r.logger)
	if err != nil {
		// Narration still works without a log.
		r.logger.Warn("history store unavailable", slog.String("error", err.Error()))
		hist = nil
	}
	r.hist = hist

	if r.cfg.Narration.Enabled {
		manager, err := narrate.NewManager(ctx, r.cfg, r.logger)
		if err != nil {
			r.logger.Warn("narration unavailable", slog.String("error", err.Error()))
		} else {
			r.manager = manager
		}
	}

	r.service = narrate.NewService(ctx, r.cfg.Narration, busClient, r.manager, hist, r.logger)
	if err := r.service.Start(); err != nil {
		return fmt.Errorf("failed to start narration service: %w", err)
	}

	registry, err := capability.NewRegistry(ctx, r.cfg.Node, busClient, r.localCapabilities, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start capability registry: %w", err)
	}
	r.registry = registry

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.Bool("narration", r.manager.IsAvailable()),
		slog.String("provider", r.cfg.Narration.Provider))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}

	r.registry.Close()
	r.service.Close()
	r.manager.Close()
	if err := r.hist.Close(); err != nil {
		r.logger.Error("history close error", slog.String("error", err.Error()))
	}
	r.busClient.Close()
	r.embedded.Shutdown()

	if r.metricsServer != nil {
		if err := r.metricsServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("metrics shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) startMetricsServer(handler http.Handler) {
	if handler == nil || r.cfg.Telemetry.PrometheusBind == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	r.metricsServer = &http.Server{
		Addr:              r.cfg.Telemetry.PrometheusBind,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("metrics server failed", slog.String("error", err.Error()))
		}
	}()
	r.logger.Info("metrics server started", slog.String("addr", r.cfg.Telemetry.PrometheusBind))
}

// localCapabilities reflects the live narration manager so announce
// messages advertise what this node can actually do right now.
func (r *Runtime) localCapabilities() []capability.Capability {
	if !r.manager.IsAvailable() {
		return nil
	}
	caps := []capability.Capability{
		{Name: "narrate.queue", Attributes: map[string]string{"provider": r.manager.Provider()}},
	}
	if r.manager.SupportsDialogue() {
		caps = append(caps, capability.Capability{Name: "narrate.dialogue"})
	}
	if r.manager.SupportsVoiceDesign() {
		caps = append(caps, capability.Capability{Name: "voice.design"})
	}
	return caps
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.busClient.Healthy() && r.service.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
