// Package runtime assembles the daemon: broker, device catalog, pipeline
// stages, orchestrator and the HTTP surface, and tears them down in reverse
// order on shutdown.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vmiclabs/vmic-core/internal/bus"
	"github.com/vmiclabs/vmic-core/internal/config"
	"github.com/vmiclabs/vmic-core/internal/device"
	"github.com/vmiclabs/vmic-core/internal/history"
	"github.com/vmiclabs/vmic-core/internal/natsserver"
	"github.com/vmiclabs/vmic-core/internal/orchestrator"
	"github.com/vmiclabs/vmic-core/internal/player"
	"github.com/vmiclabs/vmic-core/internal/recorder"
	"github.com/vmiclabs/vmic-core/internal/transcribe"
)

type Runtime struct {
	cfg    config.Config
	logger *slog.Logger

	httpServer  *http.Server
	tracerClose func(context.Context) error
	broker      *bus.Client
	catalog     device.Catalog
	journal     *history.Store
	pipeline    *orchestrator.Service

	ready atomic.Bool
	wg    sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start runs the daemon until ctx is cancelled.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := startTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded broker: %w", err)
	}
	defer embedded.Shutdown()

	busClient, err := bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	defer busClient.Close()
	r.broker = busClient

	catalog, err := r.buildCatalog()
	if err != nil {
		return err
	}
	r.catalog = catalog

	journal, err := history.Open(ctx, r.cfg.History, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open run journal: %w", err)
	}
	r.journal = journal
	defer journal.Close()

	deps := orchestrator.Deps{
		Catalog:    catalog,
		Player:     player.New(catalog, r.buildSink(), r.logger),
		Recorder:   r.buildRecorder(catalog),
		Recognizer: transcribe.NewLazy(func() (transcribe.Recognizer, error) {
			return transcribe.New(r.cfg.Transcription)
		}),
		History: journal,
	}
	r.pipeline = orchestrator.NewService(ctx, &r.cfg, busClient, deps, r.logger)
	if err := r.pipeline.Start(); err != nil {
		return fmt.Errorf("failed to start orchestrator: %w", err)
	}
	defer r.pipeline.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/v1/devices", r.handleDevices)
	mux.HandleFunc("/v1/runs", r.handleRuns)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}

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
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) buildCatalog() (device.Catalog, error) {
	switch r.cfg.Devices.Mode {
	case "exec":
		return device.NewExecCatalog(r.cfg.Devices.ListCommand)
	case "mock":
		return device.NewMockCatalog(device.DefaultMockSet()...), nil
	default:
		return nil, fmt.Errorf("unknown devices mode %q", r.cfg.Devices.Mode)
	}
}

func (r *Runtime) buildSink() player.Sink {
	if r.cfg.Devices.Mode == "exec" {
		return player.NewExecSink(r.cfg.Devices.PlayCommand)
	}
	return player.NewMockSink()
}

func (r *Runtime) buildRecorder(catalog device.Catalog) recorder.Recorder {
	if r.cfg.Devices.Mode == "exec" {
		return recorder.NewExecRecorder(r.cfg.Devices.RecordCommand, catalog,
			r.cfg.Transcription.SampleRate, r.cfg.Transcription.Channels)
	}
	return recorder.NewMockRecorder(r.cfg.Transcription.SampleRate, r.cfg.Transcription.Channels)
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && r.broker.Healthy() && r.pipeline.Healthy() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

// handleDevices dumps the current catalog. Enumeration happens per request,
// so the response always reflects what is plugged in right now.
func (r *Runtime) handleDevices(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(req.Context(), 10*time.Second)
	defer cancel()

	outputs, err := r.catalog.List(ctx, device.DirectionOutput)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	inputs, err := r.catalog.List(ctx, device.DirectionInput)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string][]device.Descriptor{
		"outputs": outputs,
		"inputs":  inputs,
	})
}

func (r *Runtime) handleRuns(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := 50
	if raw := req.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	runs, err := r.journal.ListRecentRuns(req.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"runs": runs})
}
