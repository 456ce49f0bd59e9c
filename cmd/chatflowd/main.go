// Command chatflowd serves the flow engine over HTTP.
//
// Usage:
//
//	chatflowd -config chatflow.yaml -env .env
//
// Every setting can also be given as a CHATFLOW_* environment variable,
// e.g. CHATFLOW_STORE_DRIVER=sqlite CHATFLOW_STORE_DSN=chatflow.db.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/petrijr/chatflow"
	"github.com/petrijr/chatflow/internal/config"
	"github.com/petrijr/chatflow/internal/engine"
	"github.com/petrijr/chatflow/internal/gateway"
	"github.com/petrijr/chatflow/internal/httpapi"
	"github.com/petrijr/chatflow/internal/notify"
	"github.com/petrijr/chatflow/pkg/api"
	"github.com/petrijr/chatflow/pkg/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "chatflowd: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("chatflowd", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to the YAML config file")
	envFile := fs.String("env", ".env", "dotenv file loaded before the environment is read")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := config.LoadDotEnv(*envFile); err != nil {
		return err
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger, err := config.NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b := newBackends(cfg, logger)
	defer b.Close()

	p, err := b.persistence(ctx)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}

	observers := []api.Observer{api.NewLoggingObserver(logger)}
	if cfg.Redis.EventsChannelPrefix != "" {
		observers = append(observers, notify.NewRedisPublisher(b.redisClient(), cfg.Redis.EventsChannelPrefix, logger))
	}

	var gw api.MessagingGateway
	if cfg.Gateway.BaseURL != "" {
		hg, err := gateway.NewHTTPGateway(gateway.Config{
			BaseURL: cfg.Gateway.BaseURL,
			Token:   cfg.Gateway.Token,
			Timeout: cfg.Gateway.Timeout,
			Logger:  logger,
		})
		if err != nil {
			return err
		}
		gw = hg
	} else {
		logger.Warn("gateway_disabled", slog.String("reason", "gateway.base_url is empty"))
	}

	eng := engine.NewEngineWithConfig(engine.Config{
		Persistence: p,
		Gateway:     gw,
		Observer:    api.NewCompositeObserver(observers...),
		Logger:      logger,
		Engine:      cfg.Engine,
	})

	if cfg.Flows.Dir != "" {
		graphs, err := chatflow.LoadGraphs(cfg.Flows.Dir)
		if err != nil {
			return fmt.Errorf("flows: %w", err)
		}
		for _, g := range graphs {
			if err := eng.RegisterFlow(g); err != nil {
				return fmt.Errorf("flows: register %s: %w", g.ID, err)
			}
		}
		logger.Info("flows_registered", slog.Int("count", len(graphs)), slog.String("dir", cfg.Flows.Dir))
	}

	eng.StartSweeper(ctx)

	queue, err := b.queue(ctx)
	if err != nil {
		return fmt.Errorf("queue: %w", err)
	}
	w := worker.NewWithConfig(eng, queue, worker.Config{Logger: logger})

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	var workers sync.WaitGroup
	if cfg.Worker.Concurrency > 0 {
		workers.Go(func() { w.Run(workerCtx, cfg.Worker.Concurrency) })
	}

	apiCfg := httpapi.Config{Engine: eng, Events: p.Events, Logger: logger}
	if cfg.HTTP.AsyncResume {
		apiCfg.Queue = w
	}
	srv := httpapi.NewServer(apiCfg).HTTPServer(cfg.HTTP.Addr)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http_listening",
			slog.String("addr", cfg.HTTP.Addr),
			slog.String("store", cfg.Store.Driver),
			slog.String("queue", cfg.Worker.Queue),
			slog.Bool("async_resume", cfg.HTTP.AsyncResume),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown_requested")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http_shutdown_failed", slog.Any("error", err))
	}
	// Workers hand unfinished tasks back to the queue when cancelled.
	stopWorkers()
	workers.Wait()
	if err := eng.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("engine shutdown: %w", err)
	}
	logger.Info("shutdown_complete")
	return nil
}
