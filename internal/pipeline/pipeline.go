// Package pipeline implements the prompt processing pipeline: given a user
// message and a target bot it produces assistant messages, applying
// pre-processing, primary generation with optional tool calling,
// post-processing, and bounded reprocessing.
//
// Reprocessing is an explicit loop carrying a depth counter; the bound is
// checked before each iteration and the pipeline fails open at the limit,
// emitting whatever answer exists at that point. Nothing escapes
// ProcessMessage as a panic or error: any model-invocation failure degrades
// to a single fallback assistant message.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ensemblechat/ensemble/internal/llm"
	"github.com/ensemblechat/ensemble/internal/model"
	"github.com/ensemblechat/ensemble/internal/tools"
)

// FallbackContent is the apologetic assistant message emitted when a model
// invocation fails mid-turn.
const FallbackContent = "I apologize, but I encountered an error while processing your message. Please try again."

// Context carries the conversation state for one ProcessMessage call.
type Context struct {
	Settings model.Settings
	History  []model.Message
	Depth    int
}

// Options tune one ProcessMessage call.
type Options struct {
	// IncludeToolCalls passes the tool manifest to the model when the bot
	// has tools enabled.
	IncludeToolCalls bool
	// EmitSuperseded emits intermediate candidate answers that failed the
	// reprocessing criteria instead of suppressing them.
	EmitSuperseded bool
}

// OnMessage receives each finalized assistant message as soon as it is
// ready.
type OnMessage func(msg model.Message)

// Pipeline orchestrates the per-bot processing steps. It depends only on
// the model-invocation capability and the tool registry.
type Pipeline struct {
	llm    llm.Client
	tools  *tools.Registry
	logger *slog.Logger
}

// New creates a pipeline.
func New(client llm.Client, registry *tools.Registry, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		llm:    client,
		tools:  registry,
		logger: logger.With("component", "pipeline"),
	}
}

// ProcessMessage runs the full processing chain for one bot and emits the
// resulting assistant message through onMessage. It never returns an error
// and never panics: failures degrade to a fallback message for this bot
// only.
func (p *Pipeline) ProcessMessage(ctx context.Context, userMsg model.Message, bot model.Bot, pctx Context, onMessage OnMessage, opts Options) {
	start := time.Now()
	log := p.logger.With("bot_id", bot.ID)

	defer func() {
		if rec := recover(); rec != nil {
			log.ErrorContext(ctx, "panic in pipeline, emitting fallback", "panic", rec)
			onMessage(p.fallbackMessage(bot))
		}
	}()

	meta := model.ProcessingMetadata{
		OriginalContent: userMsg.Content,
	}
	if userMsg.Processing != nil && userMsg.Processing.FromVoiceMode {
		meta.FromVoiceMode = true
	}

	// Step 1: pre-processing. Runs once; the transformed text becomes the
	// effective input for every generation pass, while the original user
	// content stays untouched in the metadata.
	effective := userMsg.Content
	if bot.PreProcessingPrompt != "" && pctx.Settings.Processing.EnablePreProcessing {
		transformed, err := p.transform(ctx, bot, bot.PreProcessingPrompt, userMsg.Content)
		if err != nil {
			log.ErrorContext(ctx, "pre-processing failed", "error", err)
			onMessage(p.fallbackMessage(bot))
			return
		}
		effective = transformed
		meta.PreProcessed = true
		log.DebugContext(ctx, "pre-processing applied")
	}

	// Steps 2-5 as an explicit regeneration loop. depth counts completed
	// regenerations; extraGuidance carries the reprocessing instructions
	// into the next generation pass.
	depth := pctx.Depth
	var extraGuidance string
	var content string
	var toolResults []model.ToolResult

	for {
		var err error
		content, toolResults, err = p.generate(ctx, bot, pctx, effective, extraGuidance, opts)
		if err != nil {
			log.ErrorContext(ctx, "generation failed", "error", err, "depth", depth)
			onMessage(p.fallbackMessage(bot))
			return
		}

		// Step 4: post-processing.
		if bot.PostProcessingPrompt != "" && pctx.Settings.Processing.EnablePostProcessing {
			meta.ModifiedContent = content
			transformed, err := p.transform(ctx, bot, bot.PostProcessingPrompt, content)
			if err != nil {
				log.ErrorContext(ctx, "post-processing failed", "error", err, "depth", depth)
				onMessage(p.fallbackMessage(bot))
				return
			}
			content = transformed
			meta.PostProcessed = true
		}

		// Step 5: reprocessing decision. The bound is checked before the
		// evaluation; at the limit the current answer is emitted as-is.
		if !bot.EnableReprocessing || bot.ReprocessingCriteria == "" || depth >= pctx.Settings.MaxReprocessingDepth {
			break
		}

		needs, err := p.evaluate(ctx, bot, content)
		if err != nil {
			log.ErrorContext(ctx, "reprocessing evaluation failed", "error", err, "depth", depth)
			onMessage(p.fallbackMessage(bot))
			return
		}
		if !needs {
			break
		}

		meta.NeedsReprocessing = true
		if opts.EmitSuperseded {
			superseded := meta
			superseded.ReprocessingDepth = depth
			superseded.ProcessingTime = time.Since(start)
			onMessage(p.assistantMessage(bot, content, toolResults, &superseded))
		}

		depth++
		extraGuidance = bot.ReprocessingInstructions
		log.DebugContext(ctx, "answer failed reprocessing criteria, regenerating", "depth", depth)
	}

	// Step 6: emission with the complete signal chain.
	meta.NeedsReprocessing = false
	meta.ReprocessingDepth = depth
	meta.ProcessingTime = time.Since(start)
	onMessage(p.assistantMessage(bot, content, toolResults, &meta))

	log.DebugContext(ctx, "pipeline completed",
		"depth", depth,
		"pre_processed", meta.PreProcessed,
		"post_processed", meta.PostProcessed,
		"tool_calls", len(toolResults),
		"duration", meta.ProcessingTime)
}

// generate runs the primary generation step, including the tool-calling
// sub-loop when the model requests tool calls.
func (p *Pipeline) generate(ctx context.Context, bot model.Bot, pctx Context, effective, extraGuidance string, opts Options) (string, []model.ToolResult, error) {
	messages := p.buildMessages(bot, pctx, effective, extraGuidance)

	req := llm.Request{
		Model:       bot.Model,
		Temperature: bot.Temperature,
		MaxTokens:   bot.MaxTokens,
		Messages:    messages,
	}
	useTools := opts.IncludeToolCalls && bot.UseTools && p.tools != nil
	if useTools {
		req.Tools = p.tools.Manifest()
	}

	resp, err := p.llm.Invoke(ctx, req)
	if err != nil {
		return "", nil, fmt.Errorf("primary generation: %w", err)
	}

	if len(resp.ToolCalls) == 0 {
		return resp.Content, nil, nil
	}

	// Step 3: tool-calling sub-loop. Each requested call is executed and
	// its result, success or error, is fed back to the model so it can
	// acknowledge failures in the final answer.
	toolResults := make([]model.ToolResult, 0, len(resp.ToolCalls))
	followUp := messages
	for _, call := range resp.ToolCalls {
		result := p.tools.Invoke(ctx, call.Name, call.Args)
		toolResults = append(toolResults, result)
		followUp = append(followUp, llm.ChatMessage{
			Role:    llm.RoleTool,
			Name:    result.ToolName,
			Content: formatToolResult(result),
		})
	}

	final, err := p.llm.Invoke(ctx, llm.Request{
		Model:       bot.Model,
		Temperature: bot.Temperature,
		MaxTokens:   bot.MaxTokens,
		Messages:    followUp,
	})
	if err != nil {
		return "", nil, fmt.Errorf("tool follow-up generation: %w", err)
	}

	return final.Content, toolResults, nil
}

// buildMessages assembles [system, ...history, effective user message].
func (p *Pipeline) buildMessages(bot model.Bot, pctx Context, effective, extraGuidance string) []llm.ChatMessage {
	var messages []llm.ChatMessage

	var systemParts []string
	if pctx.Settings.SystemPrompt != "" {
		systemParts = append(systemParts, pctx.Settings.SystemPrompt)
	}
	if bot.SystemPrompt != "" {
		systemParts = append(systemParts, bot.SystemPrompt)
	}
	if extraGuidance != "" {
		systemParts = append(systemParts, "Additional guidance for this response:\n"+extraGuidance)
	}
	if len(systemParts) > 0 {
		messages = append(messages, llm.ChatMessage{
			Role:    llm.RoleSystem,
			Content: strings.Join(systemParts, "\n\n"),
		})
	}

	for _, m := range pctx.History {
		switch m.Role {
		case model.RoleUser:
			messages = append(messages, llm.ChatMessage{Role: llm.RoleUser, Content: m.Content})
		case model.RoleAssistant:
			messages = append(messages, llm.ChatMessage{Role: llm.RoleAssistant, Content: m.Content})
		}
	}

	messages = append(messages, llm.ChatMessage{Role: llm.RoleUser, Content: effective})
	return messages
}

// transform runs one LLM transformation (pre- or post-processing) over the
// given content.
func (p *Pipeline) transform(ctx context.Context, bot model.Bot, prompt, content string) (string, error) {
	resp, err := p.llm.Invoke(ctx, llm.Request{
		Model:       bot.Model,
		Temperature: bot.Temperature,
		MaxTokens:   bot.MaxTokens,
		Messages: []llm.ChatMessage{
			{Role: llm.RoleSystem, Content: prompt},
			{Role: llm.RoleUser, Content: content},
		},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// evaluate asks the model whether the answer fails the bot's reprocessing
// criteria. Only an affirmative answer triggers regeneration.
func (p *Pipeline) evaluate(ctx context.Context, bot model.Bot, answer string) (bool, error) {
	resp, err := p.llm.Invoke(ctx, llm.Request{
		Model:       bot.Model,
		Temperature: 0,
		MaxTokens:   bot.MaxTokens,
		Messages: []llm.ChatMessage{
			{Role: llm.RoleSystem, Content: "You are a strict quality evaluator. Answer with a single word: yes or no."},
			{Role: llm.RoleUser, Content: fmt.Sprintf(
				"Criteria: %s\n\nResponse:\n%s\n\nDoes the response meet the condition described by the criteria (i.e. does it need to be regenerated)? Answer yes or no.",
				bot.ReprocessingCriteria, answer)},
		},
	})
	if err != nil {
		return false, err
	}

	verdict := strings.ToLower(strings.TrimSpace(resp.Content))
	return strings.HasPrefix(verdict, "yes"), nil
}

func (p *Pipeline) assistantMessage(bot model.Bot, content string, toolResults []model.ToolResult, meta *model.ProcessingMetadata) model.Message {
	return model.Message{
		ID:          uuid.NewString(),
		Content:     content,
		Role:        model.RoleAssistant,
		Sender:      bot.ID,
		SenderName:  bot.Name,
		Timestamp:   time.Now().UTC(),
		Type:        model.TypeText,
		ToolResults: toolResults,
		Processing:  meta,
	}
}

// fallbackMessage is the single apologetic message a failed turn produces.
// It carries no processing metadata.
func (p *Pipeline) fallbackMessage(bot model.Bot) model.Message {
	return model.Message{
		ID:         uuid.NewString(),
		Content:    FallbackContent,
		Role:       model.RoleAssistant,
		Sender:     bot.ID,
		SenderName: bot.Name,
		Timestamp:  time.Now().UTC(),
		Type:       model.TypeText,
	}
}

func formatToolResult(r model.ToolResult) string {
	if r.Error != "" {
		return fmt.Sprintf(`{"error": %q}`, r.Error)
	}
	data, err := json.Marshal(r.Output)
	if err != nil {
		return fmt.Sprintf("%v", r.Output)
	}
	return string(data)
}
