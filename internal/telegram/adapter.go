// Package telegram is an optional reference transport: it feeds Telegram
// group messages into the group chat coordinator and relays emitted
// assistant messages back to the chat. The orchestration core does not
// depend on it; it is one consumer of the core's public surface.
package telegram

import (
	"context"
	"log/slog"
	"sync"

	tgbot "github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/ensemblechat/ensemble/internal/model"
)

// Chat is what the adapter needs from the coordinator.
type Chat interface {
	SendMessage(ctx context.Context, content string, msgType model.MessageType)
	Messages() []model.Message
}

// Adapter bridges one Telegram bot to the coordinator.
type Adapter struct {
	bot     *tgbot.Bot
	chat    Chat
	logger  *slog.Logger
	allowed map[int64]struct{}

	mu         sync.Mutex
	activeChat int64
}

// New creates the adapter. An empty allowedChatIDs list accepts all chats.
func New(token string, chat Chat, allowedChatIDs []int64, logger *slog.Logger) (*Adapter, error) {
	a := &Adapter{
		chat:   chat,
		logger: logger.With("component", "telegram_adapter"),
	}
	if len(allowedChatIDs) > 0 {
		a.allowed = make(map[int64]struct{}, len(allowedChatIDs))
		for _, id := range allowedChatIDs {
			a.allowed[id] = struct{}{}
		}
	}

	b, err := tgbot.New(token, tgbot.WithDefaultHandler(a.handleUpdate))
	if err != nil {
		return nil, err
	}
	a.bot = b
	return a, nil
}

// Run starts the long-polling listener and blocks until ctx is cancelled.
func (a *Adapter) Run(ctx context.Context) {
	a.logger.Info("telegram adapter listening")
	a.bot.Start(ctx)
	a.logger.Info("telegram adapter stopped")
}

// RelayAssistantMessage sends an emitted assistant message to the chat the
// current turn originated from. Wire it as a message store listener.
func (a *Adapter) RelayAssistantMessage(ctx context.Context, msg model.Message) {
	if msg.Role != model.RoleAssistant {
		return
	}

	a.mu.Lock()
	chatID := a.activeChat
	a.mu.Unlock()
	if chatID == 0 {
		return
	}

	text := msg.Content
	if msg.SenderName != "" {
		text = msg.SenderName + ":\n" + msg.Content
	}
	if _, err := a.bot.SendMessage(ctx, &tgbot.SendMessageParams{ChatID: chatID, Text: text}); err != nil {
		a.logger.ErrorContext(ctx, "failed to relay assistant message", "error", err, "chat_id", chatID)
	}
}

func (a *Adapter) handleUpdate(ctx context.Context, b *tgbot.Bot, update *tgmodels.Update) {
	msg := update.Message
	if msg == nil || msg.Text == "" || msg.From == nil {
		return
	}

	chatID := msg.Chat.ID
	if a.allowed != nil {
		if _, ok := a.allowed[chatID]; !ok {
			a.logger.DebugContext(ctx, "ignoring message from disallowed chat", "chat_id", chatID)
			return
		}
	}

	a.mu.Lock()
	a.activeChat = chatID
	a.mu.Unlock()

	_, _ = b.SendChatAction(ctx, &tgbot.SendChatActionParams{ChatID: chatID, Action: tgmodels.ChatActionTyping})

	// SendMessage blocks until the whole turn completes; assistant messages
	// reach Telegram through RelayAssistantMessage as they are emitted.
	a.chat.SendMessage(ctx, msg.Text, model.TypeText)
}
