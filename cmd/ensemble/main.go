// Package main is the entry point for the ensemble group-chat orchestrator.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ensemblechat/ensemble/internal/app"
	"github.com/ensemblechat/ensemble/internal/config"
	"github.com/ensemblechat/ensemble/internal/llm"
	"github.com/ensemblechat/ensemble/internal/logger"
	"github.com/ensemblechat/ensemble/internal/voice"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	log.Info("configuration loaded", "log_level", cfg.Log.Level, "model", cfg.LLM.Model)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := llm.NewGeminiClient(ctx, llm.GeminiConfig{
		APIKey:            cfg.LLM.APIKey,
		DefaultModel:      cfg.LLM.Model,
		MaxRetries:        cfg.LLM.MaxRetries,
		RetryDelaySeconds: cfg.LLM.RetryDelaySeconds,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to create model client: %w", err)
	}

	application, err := app.New(ctx, cfg, log, client, noopSynthesizer{log: log})
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	return application.Run(ctx)
}

// noopSynthesizer stands in for the speech-synthesis capability when no
// voice backend is attached. It logs what would have been spoken.
type noopSynthesizer struct {
	log *slog.Logger
}

func (n noopSynthesizer) Synthesize(_ context.Context, text string, opts voice.SynthesisOptions) error {
	n.log.Debug("speech synthesis skipped, no backend attached", "voice", opts.Voice, "length", len(text))
	return nil
}
