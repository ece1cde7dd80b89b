package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tamtap/internal/cache"
	"tamtap/internal/capture"
	"tamtap/internal/clock"
	"tamtap/internal/config"
	"tamtap/internal/httpapi"
	"tamtap/internal/logging"
	"tamtap/internal/machine"
	"tamtap/internal/records"
	"tamtap/internal/remote"
	"tamtap/internal/schedule"
	"tamtap/internal/syncer"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		os.Stderr.WriteString("logger init failed: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Sync()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal("tamtapd failed", zap.Error(err))
	}
}

func run(cfg config.App, logger *zap.Logger) error {
	clk := clock.Real()

	guard := cache.NewGuard(cache.New(cfg.CachePath, logger.Named("cache")))

	var dial syncer.Dialer
	if cfg.RemoteBackend == "memory" {
		// Dev backend: one in-process store shared across reconnects.
		mem := remote.NewMemory()
		dial = func(ctx context.Context) (remote.Client, error) {
			return mem, nil
		}
	} else {
		dial = func(ctx context.Context) (remote.Client, error) {
			return remote.DialPostgres(ctx, cfg.RemoteURI, cfg.RemoteNamespace, cfg.RemoteTimeout)
		}
	}

	engine := syncer.NewEngine(guard, clk, cfg.RemoteTimeout, logger.Named("sync"))
	sup := syncer.NewSupervisor(dial, engine, clk, cfg.ReconnectInterval, cfg.RemoteTimeout, logger.Named("supervisor"))
	sup.Start()
	defer sup.Stop()

	store := records.NewStore(guard, sup, clk, cfg.RemoteTimeout, logger.Named("records"))
	classifier := schedule.NewClassifier(
		schedule.NewClient(cfg.ScheduleAPIBase, cfg.ScheduleTimeout),
		logger.Named("schedule"),
	)
	verifier := capture.NewHTTPVerifier(cfg.CaptureURL, cfg.CaptureTimeout, cfg.CaptureSkip)
	m := machine.New(store, verifier, classifier, clk, logger.Named("machine"))

	today := func() string { return clk.Now().Format("2006-01-02") }
	api := httpapi.NewServer(cfg, store, m, sup, today, logger.Named("http"))

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      api.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("tamtapd listening", zap.String("addr", srv.Addr), zap.String("cache", cfg.CachePath))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutdown signal received", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server forced shutdown", zap.Error(err))
	}

	logger.Info("tamtapd stopped")
	return nil
}
