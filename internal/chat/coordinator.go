// Package chat implements the group chat coordinator: it drives the prompt
// processing pipeline across all active bots for one user turn, in
// sequential or parallel response mode, and owns the conversation settings.
package chat

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ensemblechat/ensemble/internal/model"
	"github.com/ensemblechat/ensemble/internal/pipeline"
	"github.com/ensemblechat/ensemble/internal/registry"
	"github.com/ensemblechat/ensemble/internal/store"
)

// Coordinator is the public surface the UI and collaborators talk to.
type Coordinator struct {
	logger   *slog.Logger
	registry *registry.Registry
	store    *store.Store
	pipe     *pipeline.Pipeline

	// settings mutations go through settingsMu, held only for
	// copy-in/copy-out; pipeline runs keep the snapshot they started with.
	settingsMu sync.Mutex
	settings   model.Settings
}

// New creates a coordinator with fully defaulted settings.
func New(reg *registry.Registry, st *store.Store, pipe *pipeline.Pipeline, settings model.Settings, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		logger:   logger.With("component", "coordinator"),
		registry: reg,
		store:    st,
		pipe:     pipe,
		settings: settings,
	}
}

// SendMessage appends the user message immediately and then runs one full
// turn across all active bots. The user message is in the store before any
// bot processing starts, so history reflects the user's turn even if every
// bot fails. The call returns when the turn is complete.
func (c *Coordinator) SendMessage(ctx context.Context, content string, msgType model.MessageType) {
	settings := c.Settings()
	userMsg := model.NewUserMessage(content, msgType)
	c.store.Append(userMsg)

	gen := c.store.Generation()

	if len(settings.ActiveBotIDs) == 0 {
		c.logger.WarnContext(ctx, "no active bots configured, turn ends after user message")
		return
	}

	bots := c.registry.Snapshot(settings.ActiveBotIDs)
	if len(bots) == 0 {
		c.logger.WarnContext(ctx, "no usable bots among active ids, turn ends after user message",
			"active_bot_ids", settings.ActiveBotIDs)
		return
	}

	c.store.SetProcessing(true)
	defer c.store.SetProcessing(false)

	opts := pipeline.Options{IncludeToolCalls: true}

	switch settings.ResponseMode {
	case model.ResponseParallel:
		c.runParallel(ctx, userMsg, bots, settings, gen, opts)
	default:
		c.runSequential(ctx, userMsg, bots, settings, gen, opts)
	}
}

// runSequential processes one bot fully before starting the next. Each bot
// reads history fresh from the store, so it sees the responses of the bots
// that answered before it within the same turn.
func (c *Coordinator) runSequential(ctx context.Context, userMsg model.Message, bots []model.Bot, settings model.Settings, gen uint64, opts pipeline.Options) {
	for _, bot := range bots {
		c.processBot(ctx, userMsg, bot, settings, c.historyBefore(userMsg), gen, opts)
	}
}

// runParallel dispatches every bot concurrently from a single frozen view
// of history taken at turn start. Emission order depends on completion time.
func (c *Coordinator) runParallel(ctx context.Context, userMsg model.Message, bots []model.Bot, settings model.Settings, gen uint64, opts pipeline.Options) {
	frozen := c.historyBefore(userMsg)

	g := new(errgroup.Group)
	for _, bot := range bots {
		g.Go(func() error {
			c.processBot(ctx, userMsg, bot, settings, frozen, gen, opts)
			return nil
		})
	}
	// processBot never returns an error; Wait only synchronizes completion.
	_ = g.Wait()
}

// processBot runs the pipeline for one bot with guaranteed typing-indicator
// cleanup. Pipeline failures surface as a fallback message, never as an
// error here.
func (c *Coordinator) processBot(ctx context.Context, userMsg model.Message, bot model.Bot, settings model.Settings, history []model.Message, gen uint64, opts pipeline.Options) {
	c.store.SetTyping(bot.ID, true)
	defer c.store.SetTyping(bot.ID, false)

	pctx := pipeline.Context{
		Settings: settings,
		History:  history,
		Depth:    0,
	}

	c.pipe.ProcessMessage(ctx, userMsg, bot, pctx, func(msg model.Message) {
		if !c.store.AppendIfCurrent(gen, msg) {
			c.logger.Debug("dropped assistant message for reset conversation",
				"bot_id", bot.ID, "message_id", msg.ID)
		}
	}, opts)
}

// historyBefore returns the current log minus the in-flight user message,
// which the pipeline appends to its prompt itself.
func (c *Coordinator) historyBefore(userMsg model.Message) []model.Message {
	all := c.store.Messages()
	history := make([]model.Message, 0, len(all))
	for _, m := range all {
		if m.ID == userMsg.ID {
			continue
		}
		history = append(history, m)
	}
	return history
}

// ResetChat discards the conversation. In-flight model calls are not
// cancelled; their late results are detected as stale via the store
// generation and dropped.
func (c *Coordinator) ResetChat() {
	c.store.Reset()
}

// UpdateSettings applies a partial settings patch. Changes take effect on
// the next turn; an in-progress pipeline run keeps the snapshot it started
// with.
func (c *Coordinator) UpdateSettings(patch model.SettingsPatch) {
	c.settingsMu.Lock()
	c.settings = c.settings.Apply(patch)
	c.settingsMu.Unlock()
}

// Settings returns a copy of the current conversation settings.
func (c *Coordinator) Settings() model.Settings {
	c.settingsMu.Lock()
	defer c.settingsMu.Unlock()
	s := c.settings
	ids := make([]string, len(s.ActiveBotIDs))
	copy(ids, s.ActiveBotIDs)
	s.ActiveBotIDs = ids
	return s
}

// Messages returns the conversation log.
func (c *Coordinator) Messages() []model.Message {
	return c.store.Messages()
}

// TypingBotIDs returns the bots currently marked as typing.
func (c *Coordinator) TypingBotIDs() []string {
	return c.store.TypingBotIDs()
}

// IsProcessing reports whether a turn is in flight.
func (c *Coordinator) IsProcessing() bool {
	return c.store.IsProcessing()
}

// ClearProcessing force-clears the turn-level processing flag. Used by the
// voice bridge during mode transitions.
func (c *Coordinator) ClearProcessing() {
	c.store.SetProcessing(false)
}
