// Package app wires the orchestration core together and manages component
// lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/errgroup"

	"github.com/ensemblechat/ensemble/internal/archive"
	"github.com/ensemblechat/ensemble/internal/chat"
	"github.com/ensemblechat/ensemble/internal/config"
	"github.com/ensemblechat/ensemble/internal/llm"
	"github.com/ensemblechat/ensemble/internal/model"
	"github.com/ensemblechat/ensemble/internal/pipeline"
	"github.com/ensemblechat/ensemble/internal/registry"
	"github.com/ensemblechat/ensemble/internal/scheduler"
	"github.com/ensemblechat/ensemble/internal/store"
	"github.com/ensemblechat/ensemble/internal/telegram"
	"github.com/ensemblechat/ensemble/internal/tools"
	"github.com/ensemblechat/ensemble/internal/voice"
)

const persistTimeout = 5 * time.Second

// App holds the wired components.
type App struct {
	logger      *slog.Logger
	cfg         *config.Config
	db          *sqlx.DB
	archive     *archive.Archive
	registry    *registry.Registry
	store       *store.Store
	coordinator *chat.Coordinator
	bridge      *voice.Bridge
	scheduler   *scheduler.Scheduler
	adapter     *telegram.Adapter
}

// New builds the application from configuration: database and archive, bot
// registry seeded from the archive plus configured bots, tool registry,
// pipeline, coordinator, voice bridge, scheduler, and the optional
// Telegram adapter.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, client llm.Client, synth voice.Synthesizer) (*App, error) {
	db, err := archive.NewDB(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	arch := archive.New(db, logger)
	reg := registry.New(logger)

	persisted, err := arch.LoadBots(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load persisted bots: %w", err)
	}
	for _, bot := range persisted {
		reg.Add(bot)
	}
	for _, bot := range cfg.InitialBots() {
		if _, exists := reg.Get(bot.ID); !exists {
			reg.Add(bot)
		}
	}

	// The archive observes registry changes; ghosts and other transient
	// clones are not persisted.
	reg.AddListener(func(kind registry.ChangeKind, bot model.Bot) {
		if bot.Transient {
			return
		}
		pctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		var err error
		switch kind {
		case registry.ChangeRemoved:
			err = arch.DeleteBot(pctx, bot.ID)
		default:
			err = arch.SaveBot(pctx, bot)
		}
		if err != nil {
			logger.Error("failed to persist registry change", "kind", string(kind), "bot_id", bot.ID, "error", err)
		}
	})

	st := store.New(logger)
	st.AddListener(func(msg model.Message) {
		pctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := arch.SaveMessage(pctx, msg); err != nil {
			logger.Error("failed to archive message", "message_id", msg.ID, "error", err)
		}
	})

	searchTool := tools.NewWebSearch(cfg.Tools.SearchEndpoint, cfg.Tools.SearchTimeout, logger)
	toolReg, err := tools.NewRegistry(logger,
		searchTool.Definition(),
		tools.CurrentTime(),
		tools.Calculator(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build tool registry: %w", err)
	}

	pipe := pipeline.New(client, toolReg, logger)
	coordinator := chat.New(reg, st, pipe, cfg.Settings(), logger)
	bridge := voice.New(coordinator, reg, synth, logger)

	// Assistant messages emitted during a voice session are synthesized as
	// they land in the store.
	st.AddListener(func(msg model.Message) {
		bctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		bridge.HandleAssistantMessage(bctx, msg)
	})

	jobs := []scheduler.Job{
		{
			Name:     "db_maintenance",
			Interval: cfg.Scheduler.MaintenanceInterval,
			Run:      arch.Maintenance,
		},
		{
			Name:     "voice_idle_sweep",
			Interval: cfg.Scheduler.VoiceSweepInterval,
			Run: func(ctx context.Context) error {
				bridge.SweepIdle(ctx, cfg.Voice.IdleTimeout)
				return nil
			},
		},
	}
	sched, err := scheduler.New(logger, jobs)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	app := &App{
		logger:      logger.With("component", "app"),
		cfg:         cfg,
		db:          db,
		archive:     arch,
		registry:    reg,
		store:       st,
		coordinator: coordinator,
		bridge:      bridge,
		scheduler:   sched,
	}

	if cfg.Telegram.Token != "" {
		adapter, err := telegram.New(cfg.Telegram.Token, coordinator, cfg.Telegram.AllowedChatIDs, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create telegram adapter: %w", err)
		}
		st.AddListener(func(msg model.Message) {
			rctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
			defer cancel()
			adapter.RelayAssistantMessage(rctx, msg)
		})
		app.adapter = adapter
	}

	return app, nil
}

// Coordinator exposes the chat coordinator to embedding callers.
func (a *App) Coordinator() *chat.Coordinator { return a.coordinator }

// Bridge exposes the voice bridge to embedding callers.
func (a *App) Bridge() *voice.Bridge { return a.bridge }

// Run starts all components and blocks until ctx is cancelled or a
// component fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting ensemble")

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		<-gCtx.Done()
		if err := a.scheduler.Stop(); err != nil {
			a.logger.Error("error stopping scheduler", "error", err)
		}
		return nil
	})

	if a.adapter != nil {
		g.Go(func() error {
			a.adapter.Run(gCtx)
			return nil
		})
	}

	err := g.Wait()

	if closeErr := a.db.Close(); closeErr != nil {
		a.logger.Error("error closing database", "error", closeErr)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		a.logger.Error("ensemble stopped due to error", "error", err)
		return err
	}
	a.logger.Info("ensemble stopped gracefully")
	return nil
}
