package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucahttp/morti/internal/bus"
	"github.com/lucahttp/morti/internal/capability"
	"github.com/lucahttp/morti/internal/history"
	"github.com/lucahttp/morti/internal/natsserver"
	"github.com/lucahttp/morti/internal/pipeline"
	"github.com/lucahttp/morti/internal/telemetry"
)

func newServeCmd() *cobra.Command {
	var preload bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the voice pipeline as a bus service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), preload)
		},
	}

	cmd.Flags().BoolVar(&preload, "preload", false, "Warm all capabilities before accepting turns")

	return cmd
}

func runServe(parent context.Context, preload bool) error {
	cfg := activeCfg
	log := slog.Default()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetryShutdown, metricsHandler, err := telemetry.Setup(ctx, telemetry.Config{
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	}, log)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetryShutdown(shutdownCtx); err != nil {
			log.Warn("telemetry shutdown", "error", err)
		}
	}()

	servers := cfg.Bus.Servers
	if cfg.Bus.Embedded {
		srv, err := natsserver.Start(cfg.Bus.Port, log)
		if err != nil {
			return err
		}
		defer srv.Shutdown()
		servers = []string{srv.ClientURL()}
	}

	client, err := bus.Connect(bus.ClientConfig{
		Servers:        servers,
		ConnectTimeout: time.Duration(cfg.Bus.ConnectTimeout) * time.Millisecond,
	}, log)
	if err != nil {
		return err
	}
	defer client.Close()

	if metricsHandler != nil && cfg.Telemetry.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			if !client.Healthy() {
				http.Error(w, "bus disconnected", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		})
		srv := &http.Server{Addr: cfg.Telemetry.MetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn("metrics server", "error", err)
			}
		}()
		defer srv.Close()
		log.Info("metrics endpoint up", "addr", cfg.Telemetry.MetricsAddr)
	}

	turnLog, err := history.Open(ctx, history.Config{
		Path:          cfg.History.Path,
		RetentionMode: cfg.History.RetentionMode,
		RetentionDays: cfg.History.RetentionDays,
	}, log)
	if err != nil {
		return fmt.Errorf("turn log: %w", err)
	}
	defer turnLog.Close()

	settings, err := ortSettings(cfg)
	if err != nil {
		log.Warn("onnx runtime not detected, native sessions will fail to open", "error", err)
	}

	arbiter := capability.NewArbiter(log, func(kind capability.Kind, phase capability.Phase) {
		log.Info("capability "+phase.String(), "kind", kind.String())
	})

	interrupt := new(atomic.Bool)
	emit := recordingEmitter(ctx, bus.NewEmitter(client, log), turnLog, log)

	orch, err := pipeline.NewOrchestrator(arbiter, capabilitySetups(cfg, settings, interrupt), emit, interrupt, log)
	if err != nil {
		return err
	}

	if preload {
		if err := orch.Preload(ctx); err != nil {
			log.Warn("preload failed", "error", err)
		}
	}

	svc, err := bus.NewService(client, orch, log)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer svc.Stop()

	log.Info("serving", "embedded_bus", cfg.Bus.Embedded)
	<-ctx.Done()
	log.Info("shutting down")
	arbiter.Release()
	return nil
}

// recordingEmitter forwards events to the bus emitter and persists each
// finished turn in the turn log.
func recordingEmitter(ctx context.Context, next pipeline.Emitter, turnLog *history.Store, log *slog.Logger) pipeline.Emitter {
	transcripts := make(map[string]string)

	return func(e pipeline.Event) {
		next(e)

		switch e.Type {
		case pipeline.EventProgress:
			if e.State == pipeline.StateGenerating {
				transcripts[e.TurnID] = e.Text
			}
		case pipeline.EventComplete, pipeline.EventError:
			state := "complete"
			if e.Type == pipeline.EventError {
				state = "error"
			}
			turn := history.Turn{
				TurnID:     e.TurnID,
				Transcript: transcripts[e.TurnID],
				Reply:      e.Text,
				State:      state,
			}
			delete(transcripts, e.TurnID)
			if err := turnLog.Append(ctx, turn); err != nil {
				log.Warn("record turn", "error", err)
			}
		}
	}
}
