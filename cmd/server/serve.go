package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/servo-bridge/backend/internal/api"
	"github.com/servo-bridge/backend/internal/config"
	"github.com/servo-bridge/backend/internal/device"
	"github.com/servo-bridge/backend/internal/gateway"
	"github.com/servo-bridge/backend/internal/hub"
	"github.com/servo-bridge/backend/internal/journal"
	"github.com/servo-bridge/backend/internal/logger"
	"github.com/servo-bridge/backend/internal/metrics"
	"github.com/servo-bridge/backend/internal/models"
	"github.com/servo-bridge/backend/internal/poller"
	"github.com/servo-bridge/backend/internal/state"
	"github.com/servo-bridge/backend/internal/web"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the bridge server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		log, err := logger.New(&cfg.Log)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		defer log.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg, log)
	},
}

// serve builds every component, runs until ctx is cancelled and then shuts
// down in order: HTTP, stream clients, loops, journal, park, hardware.
func serve(ctx context.Context, cfg *config.AppConfig, log *zap.Logger) error {
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	hw := device.Open(cfg, log)
	for kind, status := range hw.Status {
		m.DeviceStatus(kind, status)
	}

	store := state.New(hw.Actuator, state.Options{
		Channels: cfg.Actuator.Channels,
		Range:    models.Range{Min: cfg.Actuator.MinDegrees, Max: cfg.Actuator.MaxDegrees},
		Initial:  cfg.Actuator.InitialDegrees,
		Safe:     cfg.Actuator.SafeDegrees,
		Speed:    state.DefaultSpeed,
		Status:   hw.Status,
	})
	if err := store.Home(); err != nil {
		log.Warn("failed to home actuator channels", zap.Error(err))
	}

	var (
		sink   journal.Sink = journal.Discard{}
		reader api.EventReader
		journ  *journal.Journal
	)
	if cfg.Journal.Enabled {
		j, err := journal.Open(journal.Options{
			Driver:        cfg.Journal.Driver,
			Path:          cfg.Journal.Path,
			BufferSize:    cfg.Journal.BufferSize,
			FlushInterval: time.Duration(cfg.Journal.FlushMs) * time.Millisecond,
		}, m, log)
		if err != nil {
			log.Warn("journal disabled", zap.Error(err))
		} else {
			journ, sink, reader = j, j, j
		}
	}

	registry := hub.NewRegistry(store, hub.Options{
		SendQueue:    cfg.Broadcast.SendQueue,
		WriteTimeout: time.Duration(cfg.Broadcast.WriteTimeoutMs) * time.Millisecond,
		IdleTimeout:  time.Duration(cfg.Broadcast.IdleTimeoutSeconds) * time.Second,
	}, sink, m, log)
	broadcaster := hub.NewBroadcaster(store, registry, cfg.BroadcastInterval(), m, log)
	gw := gateway.New(store, broadcaster, sink, m, log)

	poll := poller.New(poller.Config{
		Interval:         cfg.PollInterval(),
		ReadTimeout:      cfg.SensorReadTimeout(),
		FailureThreshold: cfg.Sensor.FailureThreshold,
		NudgeStep:        cfg.Controller.NudgeStepDegrees,
	}, poller.Deps{
		Store:      store,
		Sensor:     hw.Sensor,
		Controller: hw.Controller,
		Gateway:    gw,
		Journal:    sink,
		Metrics:    m,
		Logger:     log,
	})

	e := echo.New()
	api.SetupMiddleware(e, cfg.Server, log)
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	api.RegisterRoutes(e, api.NewHandlers(&api.Dependencies{
		State:    store,
		Gateway:  gw,
		Journal:  reader,
		Registry: registry,
		Metrics:  m,
		Stream:   api.StreamOptions{MaxMessageSize: int64(cfg.Broadcast.MaxMessageSizeKB) * 1024},
		Logger:   log,
		Version:  Version,
	}), metricsPath)
	if web.HasEmbeddedFiles() {
		if err := web.RegisterStaticRoutes(e); err != nil {
			log.Warn("failed to register static routes", zap.Error(err))
		}
	}

	read, write, idle := api.ServerTimeouts(cfg.Server)
	srv := &http.Server{
		Addr:         cfg.GetServerAddr(),
		Handler:      e,
		ReadTimeout:  read,
		WriteTimeout: write,
		IdleTimeout:  idle,
	}

	log.Info("servo bridge starting",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("listen", cfg.GetServerAddr()),
		zap.Int("channels", cfg.Actuator.Channels),
		zap.String("actuator", string(hw.Status[models.DeviceActuator])),
		zap.String("sensor", string(hw.Status[models.DeviceSensor])),
		zap.String("controller", string(hw.Status[models.DeviceController])))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return poll.Run(gctx) })
	g.Go(func() error { return broadcaster.Run(gctx) })
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		registry.CloseAll()
		return err
	})
	runErr := g.Wait()

	if journ != nil {
		if err := journ.Close(); err != nil {
			log.Warn("failed to close journal", zap.Error(err))
		}
	}

	if cfg.Actuator.ReleaseOnShutdown {
		parkCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := store.Park(parkCtx); err != nil {
			log.Warn("failed to park actuator", zap.Error(err))
		}
		cancel()
	}

	if err := hw.Close(); err != nil {
		log.Warn("failed to close hardware", zap.Error(err))
	}
	log.Info("servo bridge stopped")
	return runErr
}
