package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	protocol "marginpool/config"
	"marginpool/observability/logging"
	"marginpool/services/liquidatord/config"
	"marginpool/services/liquidatord/server"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/liquidatord/config.yaml", "path to liquidatord config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	env := strings.TrimSpace(os.Getenv("MARGINPOOL_ENV"))
	if env == "" {
		env = cfg.Environment
	}
	opts := []logging.Option{logging.WithLevel(logLevel(cfg.Log.Level))}
	if cfg.Log.FilePath != "" {
		opts = append(opts, logging.WithRotatingFile(cfg.Log.FilePath, cfg.Log.MaxSizeMB, cfg.Log.MaxBackups))
	}
	logger := logging.Setup("liquidatord", env, opts...)

	protocolCfg, err := protocol.Load(cfg.ProtocolPath)
	if err != nil {
		log.Fatalf("load protocol config: %v", err)
	}
	runtime, err := server.BuildRuntime(protocolCfg)
	if err != nil {
		log.Fatalf("build runtime: %v", err)
	}
	logger.Info("runtime assembled",
		slog.Int("pools", len(runtime.Pools)),
		slog.String("executor", runtime.Executor.String()))

	srv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.New(runtime, logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("liquidatord listening", slog.String("address", cfg.ListenAddress))
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", slog.String("error", err.Error()))
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
