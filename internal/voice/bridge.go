// Package voice implements the voice/text mode bridge: an explicit state
// machine that converts finalized transcriptions into user messages,
// forwards finalized assistant messages to speech synthesis, and manages
// the hand-off when switching between voice and text modes.
package voice

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ensemblechat/ensemble/internal/model"
)

// State enumerates the bridge's states. ERROR always resolves back to IDLE;
// the system is never stranded there.
type State int

const (
	StateIdle State = iota
	StateInitializing
	StateActive
	StateTransitioningToText
	StateError
)

// String returns the state's name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateInitializing:
		return "INITIALIZING"
	case StateActive:
		return "ACTIVE"
	case StateTransitioningToText:
		return "TRANSITIONING_TO_TEXT"
	case StateError:
		return "ERROR"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// SynthesisOptions select the voice and speed for one synthesis call.
type SynthesisOptions struct {
	Voice string
	Speed float64
}

// Synthesizer is the speech-synthesis capability consumed by the bridge.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, opts SynthesisOptions) error
}

// Session is the voice transport session the bridge drives. Start and Stop
// wrap the external WebRTC/VAD plumbing; the bridge only cares that they
// succeed or fail.
type Session interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Chat is what the bridge needs from the group chat coordinator.
type Chat interface {
	SendMessage(ctx context.Context, content string, msgType model.MessageType)
	UpdateSettings(patch model.SettingsPatch)
	Settings() model.Settings
	ClearProcessing()
}

// Registry is what the bridge needs from the bot registry to manage ghost
// clones.
type Registry interface {
	Get(id string) (model.Bot, bool)
	Add(bot model.Bot)
	Remove(id string)
}

// Bridge is the voice/text mode bridge.
type Bridge struct {
	logger *slog.Logger
	chat   Chat
	reg    Registry
	synth  Synthesizer

	mu             sync.Mutex
	state          State
	session        Session
	ghostIDs       []string
	suspendedHooks *model.ProcessingSettings
	spoken         map[string]struct{}
	lastFinalAt    time.Time
}

// New creates a bridge in the IDLE state.
func New(chat Chat, reg Registry, synth Synthesizer, logger *slog.Logger) *Bridge {
	return &Bridge{
		logger: logger.With("component", "voice_bridge"),
		chat:   chat,
		reg:    reg,
		synth:  synth,
		state:  StateIdle,
		spoken: make(map[string]struct{}),
	}
}

// State returns the current state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Activate starts a voice session for the given bot: IDLE -> INITIALIZING
// -> ACTIVE. A transient ghost clone of the bot, pointed at the configured
// realtime model, is registered for the duration of the session without
// mutating the original registry entry. Pre/post-processing hooks are
// suspended for latency and restored on deactivation.
//
// On any failure the bridge goes through ERROR, runs the full cleanup, and
// settles in IDLE.
func (b *Bridge) Activate(ctx context.Context, botID string, session Session) error {
	b.mu.Lock()
	if b.state != StateIdle {
		state := b.state
		b.mu.Unlock()
		return fmt.Errorf("cannot activate voice from state %s", state)
	}
	b.state = StateInitializing
	b.session = session
	b.mu.Unlock()

	b.logger.Info("voice session initializing", "bot_id", botID)

	bot, ok := b.reg.Get(botID)
	if !ok {
		b.fail(ctx, fmt.Errorf("bot %q not found in registry", botID))
		return fmt.Errorf("voice activation failed: bot %q not found", botID)
	}

	if session != nil {
		if err := session.Start(ctx); err != nil {
			b.fail(ctx, fmt.Errorf("session start: %w", err))
			return fmt.Errorf("voice activation failed: %w", err)
		}
	}

	settings := b.chat.Settings()

	ghost := bot
	ghost.ID = bot.ID + "-voice-" + uuid.NewString()[:8]
	ghost.Name = bot.Name + " (voice)"
	ghost.Transient = true
	if settings.Voice.Model != "" {
		ghost.Model = settings.Voice.Model
	}
	b.reg.Add(ghost)

	// Suspend the processing hooks for latency; remember what to restore.
	suspended := settings.Processing
	off := false
	b.chat.UpdateSettings(model.SettingsPatch{
		EnablePreProcessing:  &off,
		EnablePostProcessing: &off,
	})

	b.mu.Lock()
	if b.state != StateInitializing {
		state := b.state
		b.mu.Unlock()
		// An interrupt landed while the session was starting and its error
		// path has already cleaned up and settled the bridge. Undo this
		// activation's half-applied work instead of overriding that.
		b.reg.Remove(ghost.ID)
		b.chat.UpdateSettings(model.SettingsPatch{
			EnablePreProcessing:  &suspended.EnablePreProcessing,
			EnablePostProcessing: &suspended.EnablePostProcessing,
		})
		b.logger.Warn("voice activation interrupted during session start",
			"bot_id", botID, "state", state.String())
		return fmt.Errorf("voice activation interrupted in state %s", state)
	}
	b.state = StateActive
	b.ghostIDs = append(b.ghostIDs, ghost.ID)
	b.suspendedHooks = &suspended
	b.lastFinalAt = time.Now()
	b.mu.Unlock()

	b.logger.Info("voice session active", "bot_id", botID, "ghost_id", ghost.ID)
	return nil
}

// Deactivate ends the voice session: ACTIVE -> TRANSITIONING_TO_TEXT ->
// IDLE, restoring suspended hooks, destroying ghost clones, and clearing
// the processing flag. Messages generated during the session stay in the
// store untouched.
func (b *Bridge) Deactivate(ctx context.Context) error {
	b.mu.Lock()
	if b.state != StateActive {
		state := b.state
		b.mu.Unlock()
		return fmt.Errorf("cannot deactivate voice from state %s", state)
	}
	b.state = StateTransitioningToText
	session := b.session
	b.mu.Unlock()

	b.logger.Info("voice session transitioning to text")

	if session != nil {
		if err := session.Stop(ctx); err != nil {
			// Stop failures are logged but do not block the transition; the
			// cleanup below must run regardless.
			b.logger.Error("voice session stop failed", "error", err)
		}
	}

	b.cleanup()

	b.mu.Lock()
	b.state = StateIdle
	b.session = nil
	b.mu.Unlock()

	b.logger.Info("voice session ended, back in text mode")
	return nil
}

// Interrupt handles an unrecoverable session failure from ACTIVE: the
// bridge transitions through ERROR with full cleanup and settles in IDLE.
func (b *Bridge) Interrupt(ctx context.Context, reason error) {
	b.mu.Lock()
	if b.state != StateActive && b.state != StateInitializing {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	b.fail(ctx, reason)
}

// fail moves to ERROR, runs the same cleanup as a normal transition, and
// resolves to IDLE.
func (b *Bridge) fail(ctx context.Context, reason error) {
	b.mu.Lock()
	b.state = StateError
	session := b.session
	b.mu.Unlock()

	b.logger.Error("voice session failed", "reason", reason)

	if session != nil {
		if err := session.Stop(ctx); err != nil {
			b.logger.Error("voice session stop failed during error handling", "error", err)
		}
	}

	b.cleanup()

	b.mu.Lock()
	b.state = StateIdle
	b.session = nil
	b.mu.Unlock()
}

// cleanup is the single cleanup path shared by deactivation, interruption,
// and initialization failure: restore suspended hooks, destroy ghosts, drop
// the spoken-message set, clear the processing flag. Voice-session history
// is preserved.
func (b *Bridge) cleanup() {
	b.mu.Lock()
	ghosts := b.ghostIDs
	b.ghostIDs = nil
	hooks := b.suspendedHooks
	b.suspendedHooks = nil
	b.spoken = make(map[string]struct{})
	b.mu.Unlock()

	for _, id := range ghosts {
		b.reg.Remove(id)
		b.logger.Debug("voice ghost removed", "ghost_id", id)
	}

	if hooks != nil {
		b.chat.UpdateSettings(model.SettingsPatch{
			EnablePreProcessing:  &hooks.EnablePreProcessing,
			EnablePostProcessing: &hooks.EnablePostProcessing,
		})
	}

	b.chat.ClearProcessing()
}

// HandleTranscription receives transcription events from the voice
// plumbing. Only finalized, non-empty transcriptions become user messages;
// interim results are never persisted.
func (b *Bridge) HandleTranscription(ctx context.Context, text string, isFinal bool) {
	if !isFinal {
		return
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return
	}

	b.mu.Lock()
	if b.state != StateActive {
		b.mu.Unlock()
		b.logger.Debug("dropping transcription outside active voice session")
		return
	}
	b.lastFinalAt = time.Now()
	b.mu.Unlock()

	b.logger.Debug("finalized transcription received", "length", len(trimmed))
	b.chat.SendMessage(ctx, trimmed, model.TypeVoice)
}

// HandleAssistantMessage forwards a finalized assistant message to speech
// synthesis, at most once per message id. It is safe to call from multiple
// observation passes; repeats are no-ops.
func (b *Bridge) HandleAssistantMessage(ctx context.Context, msg model.Message) {
	if msg.Role != model.RoleAssistant || msg.Content == "" {
		return
	}

	b.mu.Lock()
	if b.state != StateActive {
		b.mu.Unlock()
		return
	}
	if _, done := b.spoken[msg.ID]; done {
		b.mu.Unlock()
		return
	}
	b.spoken[msg.ID] = struct{}{}
	b.mu.Unlock()

	settings := b.chat.Settings()
	err := b.synth.Synthesize(ctx, msg.Content, SynthesisOptions{
		Voice: settings.Voice.Voice,
		Speed: settings.Voice.Speed,
	})
	if err != nil {
		b.logger.Error("speech synthesis failed", "message_id", msg.ID, "error", err)
	}
}

// SweepIdle force-transitions an ACTIVE session back to text when no
// finalized transcription has arrived within maxIdle. Used as a scheduled
// maintenance job.
func (b *Bridge) SweepIdle(ctx context.Context, maxIdle time.Duration) {
	b.mu.Lock()
	active := b.state == StateActive
	idle := time.Since(b.lastFinalAt)
	b.mu.Unlock()

	if !active || idle < maxIdle {
		return
	}

	b.logger.Info("voice session idle, transitioning to text", "idle", idle)
	if err := b.Deactivate(ctx); err != nil {
		b.logger.Error("idle sweep deactivation failed", "error", err)
	}
}
