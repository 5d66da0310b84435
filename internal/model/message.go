// Package model contains the data structures shared by the orchestration
// core: messages, tool results, processing metadata, bot definitions, and
// conversation settings.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
)

// MessageType distinguishes how a message entered the conversation.
type MessageType string

const (
	TypeText       MessageType = "text"
	TypeVoice      MessageType = "voice"
	TypeToolResult MessageType = "tool_result"
)

// UserSender is the sentinel sender value for messages authored by the human
// user rather than a bot.
const UserSender = "user"

// ToolResult records a single tool invocation attached to an assistant
// message. Output and Error are mutually exclusive.
type ToolResult struct {
	ToolName      string         `json:"tool_name"`
	Input         map[string]any `json:"input,omitempty"`
	Output        any            `json:"output,omitempty"`
	Error         string         `json:"error,omitempty"`
	ExecutionTime time.Duration  `json:"execution_time_ms"`
}

// Succeeded reports whether the tool call produced an output rather than an
// error.
func (r ToolResult) Succeeded() bool {
	return r.Error == ""
}

// ProcessingMetadata records the signal chain for one assistant message:
// every transformation between the content the pipeline received and the
// content that was finally emitted.
type ProcessingMetadata struct {
	PreProcessed      bool          `json:"pre_processed"`
	PostProcessed     bool          `json:"post_processed"`
	ReprocessingDepth int           `json:"reprocessing_depth"`
	ProcessingTime    time.Duration `json:"processing_time_ms"`
	OriginalContent   string        `json:"original_content,omitempty"`
	ModifiedContent   string        `json:"modified_content,omitempty"`
	NeedsReprocessing bool          `json:"needs_reprocessing,omitempty"`
	FromVoiceMode     bool          `json:"from_voice_mode,omitempty"`
}

// Message is a single entry in the conversation log. Once appended to the
// store it is treated as immutable.
type Message struct {
	ID         string              `json:"id"`
	Content    string              `json:"content"`
	Role       Role                `json:"role"`
	Sender     string              `json:"sender"`
	SenderName string              `json:"sender_name"`
	Timestamp  time.Time           `json:"timestamp"`
	Type       MessageType         `json:"type"`
	ToolResults []ToolResult       `json:"tool_results,omitempty"`
	Processing *ProcessingMetadata `json:"processing,omitempty"`
}

// NewUserMessage builds a user message of the given type. Voice messages
// carry FromVoiceMode provenance in their processing metadata.
func NewUserMessage(content string, msgType MessageType) Message {
	msg := Message{
		ID:         uuid.NewString(),
		Content:    content,
		Role:       RoleUser,
		Sender:     UserSender,
		SenderName: "You",
		Timestamp:  time.Now().UTC(),
		Type:       msgType,
	}
	if msgType == TypeVoice {
		msg.Processing = &ProcessingMetadata{FromVoiceMode: true}
	}
	return msg
}

// NewSystemMessage builds a system-role status message, used for
// user-visible degradation notices.
func NewSystemMessage(content string) Message {
	return Message{
		ID:         uuid.NewString(),
		Content:    content,
		Role:       RoleSystem,
		Sender:     "system",
		SenderName: "System",
		Timestamp:  time.Now().UTC(),
		Type:       TypeText,
	}
}
