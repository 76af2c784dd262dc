package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	mcpadapter "github.com/chenziqing0111/agent-core-2/internal/adapters/mcp"
	"github.com/chenziqing0111/agent-core-2/internal/bootstrap"
	"github.com/chenziqing0111/agent-core-2/internal/config"
	"github.com/chenziqing0111/agent-core-2/internal/observability/logging"
)

const (
	serviceName = "evidence-mcp"
	version     = "0.1.0"
)

func main() {
	cfg, err := config.Load()
	// stdout carries the MCP stream.
	logger := logging.NewJSONLoggerTo(os.Stderr, serviceName, cfg.LogLevel)
	slog.SetDefault(logger)
	if err != nil {
		logger.Error("config_load_failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Logger: logger})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}

	srv := mcpadapter.NewServer(app.Evidence, version, logger)
	serveErr := srv.ServeStdio()
	if err := app.Close(); err != nil {
		logger.Error("app_close_failed", "error", err)
	}
	if serveErr != nil {
		logger.Error("mcp_serve_failed", "error", serveErr)
		os.Exit(1)
	}
}
