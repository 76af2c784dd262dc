package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/chenziqing0111/agent-core-2/internal/adapters/cli"
	"github.com/chenziqing0111/agent-core-2/internal/bootstrap"
	"github.com/chenziqing0111/agent-core-2/internal/config"
	natsqueue "github.com/chenziqing0111/agent-core-2/internal/infrastructure/queue/nats"
	"github.com/chenziqing0111/agent-core-2/internal/observability/logging"
)

const serviceName = "evidencectl"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCommand(load)
	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func load(ctx context.Context) (*cli.Services, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger := logging.NewJSONLoggerTo(os.Stderr, serviceName, cfg.LogLevel)

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{Logger: logger})
	if err != nil {
		return nil, nil, err
	}
	release := func() {
		if err := app.Close(); err != nil {
			logger.Error("app_close_failed", "error", err)
		}
	}

	svc := &cli.Services{
		Evidence:  app.Evidence,
		Citations: app.Citations,
		CacheKey:  app.Cache.Key,
	}

	// Remote retrieval only when a broker is named explicitly.
	if os.Getenv("NATS_URL") != "" {
		queue, err := natsqueue.NewWithOptions(cfg.NATSURL, cfg.NATSSubject, natsqueue.Options{
			ResilienceExecutor: app.Executor,
			Defaults:           app.Evidence.DefaultOptions(),
			Logger:             logger,
		})
		if err != nil {
			release()
			return nil, nil, err
		}
		svc.Remote = queue.RequestEvidence
		closeApp := release
		release = func() {
			queue.Close()
			closeApp()
		}
	}
	return svc, release, nil
}
