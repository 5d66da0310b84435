// Package registry holds the canonical set of configured bot definitions.
// It is a pure state container: lookup, partial-patch update, add/remove,
// and bulk replacement, with no behavior beyond the in-memory collection.
// Durability is an external concern; a listener hook lets a wrapping layer
// observe changes and persist them.
package registry

import (
	"log/slog"
	"sync"

	"github.com/ensemblechat/ensemble/internal/model"
)

// ChangeKind identifies what happened to a bot entry.
type ChangeKind string

const (
	ChangeUpserted ChangeKind = "upserted"
	ChangeRemoved  ChangeKind = "removed"
)

// ChangeListener receives a notification after the registry has been
// mutated. It is called outside the registry lock.
type ChangeListener func(kind ChangeKind, bot model.Bot)

// Registry is a mutex-guarded bot collection. All reads return copies; the
// pipeline never observes a half-applied update.
type Registry struct {
	mu        sync.RWMutex
	logger    *slog.Logger
	bots      map[string]model.Bot
	order     []string
	listeners []ChangeListener
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	return &Registry{
		logger: logger.With("component", "bot_registry"),
		bots:   make(map[string]model.Bot),
	}
}

// AddListener registers a change listener. Listeners are invoked
// synchronously after each mutation, in registration order.
func (r *Registry) AddListener(l ChangeListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

func (r *Registry) notify(kind ChangeKind, bot model.Bot) {
	r.mu.RLock()
	listeners := make([]ChangeListener, len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.RUnlock()

	for _, l := range listeners {
		l(kind, bot)
	}
}

// Get returns the bot with the given id, if present.
func (r *Registry) Get(id string) (model.Bot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bot, ok := r.bots[id]
	return bot, ok
}

// Add inserts a bot. An existing entry with the same id is replaced in
// place, preserving its position.
func (r *Registry) Add(bot model.Bot) {
	r.mu.Lock()
	if _, exists := r.bots[bot.ID]; !exists {
		r.order = append(r.order, bot.ID)
	}
	r.bots[bot.ID] = bot
	r.mu.Unlock()

	r.logger.Debug("bot added", "bot_id", bot.ID, "name", bot.Name)
	r.notify(ChangeUpserted, bot)
}

// Update applies a partial patch to the bot with the given id. Unspecified
// fields retain their prior values. Updating an unknown id is a no-op with
// a logged warning.
func (r *Registry) Update(id string, patch model.BotPatch) {
	r.mu.Lock()
	bot, ok := r.bots[id]
	if !ok {
		r.mu.Unlock()
		r.logger.Warn("update for unknown bot ignored", "bot_id", id)
		return
	}
	bot = bot.Apply(patch)
	r.bots[id] = bot
	r.mu.Unlock()

	r.notify(ChangeUpserted, bot)
}

// Remove deletes a bot from the collection. Conversation history referring
// to the bot is untouched; removal only excludes it from future turns.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	bot, ok := r.bots[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.bots, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	r.logger.Debug("bot removed", "bot_id", id)
	r.notify(ChangeRemoved, bot)
}

// SetAvailableBots replaces the whole collection.
func (r *Registry) SetAvailableBots(bots []model.Bot) {
	r.mu.Lock()
	r.bots = make(map[string]model.Bot, len(bots))
	r.order = make([]string, 0, len(bots))
	for _, bot := range bots {
		if _, dup := r.bots[bot.ID]; !dup {
			r.order = append(r.order, bot.ID)
		}
		r.bots[bot.ID] = bot
	}
	r.mu.Unlock()

	r.logger.Debug("bot list replaced", "count", len(bots))
	for _, bot := range bots {
		r.notify(ChangeUpserted, bot)
	}
}

// All returns a copy of every bot in insertion order.
func (r *Registry) All() []model.Bot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Bot, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.bots[id])
	}
	return out
}

// Snapshot returns read-only copies of the bots with the given ids, in the
// given order. Dangling ids are skipped with a warning; they are a
// configuration smell, not an error. Disabled bots are skipped silently:
// listing a disabled bot as active is a deliberate way to bench it without
// editing the active list.
func (r *Registry) Snapshot(ids []string) []model.Bot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Bot, 0, len(ids))
	for _, id := range ids {
		bot, ok := r.bots[id]
		if !ok {
			r.logger.Warn("active bot not found in registry, skipping", "bot_id", id)
			continue
		}
		if !bot.Enabled {
			r.logger.Debug("skipping disabled bot", "bot_id", id)
			continue
		}
		out = append(out, bot)
	}
	return out
}
