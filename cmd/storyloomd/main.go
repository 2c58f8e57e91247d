// Command storyloomd runs the generation orchestration daemon: a SQLite-backed
// run store and event log, a model-backed phase executor, the run engine, and
// the HTTP/SSE control surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/storyloom/storyloom/config"
	"github.com/storyloom/storyloom/engine"
	"github.com/storyloom/storyloom/executor"
	anthropicexec "github.com/storyloom/storyloom/executor/anthropic"
	openaiexec "github.com/storyloom/storyloom/executor/openai"
	"github.com/storyloom/storyloom/logging"
	"github.com/storyloom/storyloom/server"
	"github.com/storyloom/storyloom/store"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "storyloomd: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(&logging.Config{
		Level:     logging.ParseLevel(cfg.LogLevel),
		Format:    cfg.LogFormat,
		Output:    os.Stdout,
		Component: "storyloomd",
	})

	if err := run(cfg, logger); err != nil {
		logger.Error("daemon exited with error", "error", err.Error())
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger logging.Logger) error {
	db, err := store.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	exec, err := buildExecutor(cfg)
	if err != nil {
		return err
	}

	eng := engine.New(db, db, exec, func(o *engine.Options) {
		o.MaxAttempts = cfg.MaxAttempts
		o.MaxModelCalls = cfg.MaxModelCalls
		o.SceneConcurrency = cfg.SceneConcurrency
		o.Logger = logger
	})

	// Runs persisted as in-flight belong to a previous process; mark them
	// interrupted so clients can resume them explicitly.
	recovered, err := eng.RecoverInterrupted(context.Background())
	if err != nil {
		return fmt.Errorf("recover interrupted runs: %w", err)
	}
	for _, id := range recovered {
		logger.Info("marked run interrupted", "run_id", id)
	}

	srv := server.New(eng, func(o *server.Options) {
		o.Logger = logger
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Addr, "provider", cfg.Provider)
		if err := srv.Start(cfg.Addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Echo().Shutdown(shutdownCtx)
}

func buildExecutor(cfg *config.Config) (executor.PhaseExecutor, error) {
	switch cfg.Provider {
	case "anthropic":
		return anthropicexec.New(func(o *anthropicexec.Options) {
			if cfg.Model != "" {
				o.Model = anthropic.Model(cfg.Model)
			}
			o.Temperature = cfg.Temperature
			o.MaxTokens = cfg.MaxTokens
		}), nil
	case "openai":
		return openaiexec.New(func(o *openaiexec.Options) {
			if cfg.Model != "" {
				o.Model = cfg.Model
			}
			o.Temperature = cfg.Temperature
			o.MaxCompletionTokens = cfg.MaxTokens
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider %q (want anthropic or openai)", cfg.Provider)
	}
}
