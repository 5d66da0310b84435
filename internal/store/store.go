// Package store owns the ordered, append-only conversation log along with
// the ephemeral UI state attached to it: which bots are typing and whether
// a turn is currently being processed.
//
// Every mutation goes through the store's mutex, so concurrent bot turns
// never read-modify-write shared state directly; the store is the single
// serialization point the rest of the core relies on.
package store

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/ensemblechat/ensemble/internal/model"
)

// Listener receives every message after it has been appended. Listeners are
// invoked synchronously, outside the store lock, in registration order.
type Listener func(msg model.Message)

// Store is the in-memory conversation log. Messages are totally ordered by
// insertion and never mutated after finalization.
type Store struct {
	mu         sync.Mutex
	logger     *slog.Logger
	messages   []model.Message
	typing     map[string]struct{}
	processing bool
	generation uint64
	listeners  []Listener
}

// New creates an empty store.
func New(logger *slog.Logger) *Store {
	return &Store{
		logger: logger.With("component", "message_store"),
		typing: make(map[string]struct{}),
	}
}

// AddListener registers an append listener.
func (s *Store) AddListener(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Append adds a message to the end of the log.
func (s *Store) Append(msg model.Message) {
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, l := range listeners {
		l(msg)
	}
}

// AppendIfCurrent appends the message only if the store's generation still
// matches gen. It returns false when the result is stale, i.e. the chat was
// reset while the producing call was in flight.
func (s *Store) AppendIfCurrent(gen uint64, msg model.Message) bool {
	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		s.logger.Debug("discarding stale message from superseded generation",
			"message_id", msg.ID, "sender", msg.Sender, "generation", gen)
		return false
	}
	s.messages = append(s.messages, msg)
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, l := range listeners {
		l(msg)
	}
	return true
}

// Messages returns a copy of the full log in insertion order.
func (s *Store) Messages() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of messages in the log.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// SetTyping marks or clears the typing indicator for one bot.
func (s *Store) SetTyping(botID string, typing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if typing {
		s.typing[botID] = struct{}{}
	} else {
		delete(s.typing, botID)
	}
}

// TypingBotIDs returns the ids of all bots currently marked as typing,
// sorted for deterministic output.
func (s *Store) TypingBotIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.typing))
	for id := range s.typing {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// SetProcessing sets the turn-level processing flag.
func (s *Store) SetProcessing(processing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processing = processing
}

// IsProcessing reports whether a user turn is currently in flight.
func (s *Store) IsProcessing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing
}

// Generation returns the current reset generation. Callers capture it at
// turn start and pass it back to AppendIfCurrent.
func (s *Store) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Reset discards the log and bumps the generation so in-flight results are
// detected as stale. In-flight calls themselves are not cancelled.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.typing = make(map[string]struct{})
	s.processing = false
	s.generation++
	s.logger.Info("conversation reset", "generation", s.generation)
}
