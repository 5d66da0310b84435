package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/ensemblechat/ensemble/internal/llm"
	"github.com/ensemblechat/ensemble/internal/llm/llmtest"
	"github.com/ensemblechat/ensemble/internal/model"
	"github.com/ensemblechat/ensemble/internal/pipeline"
	"github.com/ensemblechat/ensemble/internal/tools"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testBot() model.Bot {
	return model.Bot{
		ID:          "alpha",
		Name:        "Alpha",
		Model:       "test-model",
		Temperature: 0.7,
		MaxTokens:   1024,
		Enabled:     true,
	}
}

func collect(out *[]model.Message) pipeline.OnMessage {
	return func(msg model.Message) { *out = append(*out, msg) }
}

// isEvaluation reports whether a recorded request is a reprocessing
// evaluation rather than a generation or transformation pass.
func isEvaluation(req llm.Request) bool {
	return len(req.Messages) > 0 &&
		strings.Contains(req.Messages[0].Content, "strict quality evaluator")
}

func TestPlainGeneration(t *testing.T) {
	t.Parallel()

	client := llmtest.NewClient(llmtest.Text("hello there"))
	p := pipeline.New(client, nil, discard())

	userMsg := model.NewUserMessage("hi", model.TypeText)
	var got []model.Message
	p.ProcessMessage(context.Background(), userMsg, testBot(),
		pipeline.Context{Settings: model.DefaultSettings()}, collect(&got), pipeline.Options{})

	if len(got) != 1 {
		t.Fatalf("emitted %d messages, want 1", len(got))
	}
	msg := got[0]
	if msg.Content != "hello there" {
		t.Errorf("Content = %q", msg.Content)
	}
	if msg.Role != model.RoleAssistant || msg.Sender != "alpha" {
		t.Errorf("Role/Sender = %v/%v", msg.Role, msg.Sender)
	}
	if msg.Processing == nil {
		t.Fatal("assistant message must carry processing metadata")
	}
	if msg.Processing.PreProcessed || msg.Processing.PostProcessed {
		t.Error("no processing steps should be marked for a bot without prompts")
	}
	if msg.Processing.ReprocessingDepth != 0 || msg.Processing.NeedsReprocessing {
		t.Errorf("depth/needs = %d/%v, want 0/false",
			msg.Processing.ReprocessingDepth, msg.Processing.NeedsReprocessing)
	}
	if msg.Processing.OriginalContent != "hi" {
		t.Errorf("OriginalContent = %q, want the raw user input", msg.Processing.OriginalContent)
	}
	if msg.Processing.ProcessingTime <= 0 {
		t.Error("ProcessingTime must be measured")
	}
	if client.CallCount() != 1 {
		t.Errorf("LLM calls = %d, want 1", client.CallCount())
	}
}

func TestPreProcessingTransformsEffectiveInput(t *testing.T) {
	t.Parallel()

	client := llmtest.NewClient(
		llmtest.Text("REFINED QUESTION"),
		llmtest.Text("the answer"),
	)
	p := pipeline.New(client, nil, discard())

	bot := testBot()
	bot.PreProcessingPrompt = "Rewrite the user's question to be precise."

	userMsg := model.NewUserMessage("whats that thing", model.TypeText)
	var got []model.Message
	p.ProcessMessage(context.Background(), userMsg, bot,
		pipeline.Context{Settings: model.DefaultSettings()}, collect(&got), pipeline.Options{})

	if len(got) != 1 {
		t.Fatalf("emitted %d messages, want 1", len(got))
	}
	if !got[0].Processing.PreProcessed {
		t.Error("PreProcessed flag not set")
	}
	if got[0].Processing.OriginalContent != "whats that thing" {
		t.Errorf("OriginalContent = %q, want the raw user input", got[0].Processing.OriginalContent)
	}

	calls := client.Calls()
	if len(calls) != 2 {
		t.Fatalf("LLM calls = %d, want 2", len(calls))
	}
	// The generation pass sees the transformed text, not the original.
	gen := calls[1]
	last := gen.Messages[len(gen.Messages)-1]
	if last.Content != "REFINED QUESTION" {
		t.Errorf("generation input = %q, want the pre-processed text", last.Content)
	}
}

func TestPreProcessingMasterSwitchOff(t *testing.T) {
	t.Parallel()

	client := llmtest.NewClient(llmtest.Text("the answer"))
	p := pipeline.New(client, nil, discard())

	bot := testBot()
	bot.PreProcessingPrompt = "Rewrite the user's question."

	settings := model.DefaultSettings()
	settings.Processing.EnablePreProcessing = false

	var got []model.Message
	p.ProcessMessage(context.Background(), model.NewUserMessage("hi", model.TypeText), bot,
		pipeline.Context{Settings: settings}, collect(&got), pipeline.Options{})

	if client.CallCount() != 1 {
		t.Errorf("LLM calls = %d, want 1 when the master switch is off", client.CallCount())
	}
	if got[0].Processing.PreProcessed {
		t.Error("PreProcessed must stay false when the master switch is off")
	}
}

func TestPostProcessingRecordsModifiedContent(t *testing.T) {
	t.Parallel()

	client := llmtest.NewClient(
		llmtest.Text("raw draft"),
		llmtest.Text("polished answer"),
	)
	p := pipeline.New(client, nil, discard())

	bot := testBot()
	bot.PostProcessingPrompt = "Polish the draft."

	var got []model.Message
	p.ProcessMessage(context.Background(), model.NewUserMessage("hi", model.TypeText), bot,
		pipeline.Context{Settings: model.DefaultSettings()}, collect(&got), pipeline.Options{})

	if len(got) != 1 {
		t.Fatalf("emitted %d messages, want 1", len(got))
	}
	if got[0].Content != "polished answer" {
		t.Errorf("Content = %q, want the post-processed text", got[0].Content)
	}
	if !got[0].Processing.PostProcessed {
		t.Error("PostProcessed flag not set")
	}
	if got[0].Processing.ModifiedContent != "raw draft" {
		t.Errorf("ModifiedContent = %q, want the pre-post-processing draft",
			got[0].Processing.ModifiedContent)
	}
}

func TestReprocessingFailsOpenAtDepthLimit(t *testing.T) {
	t.Parallel()

	client := llmtest.NewClient()
	gen := 0
	client.Fallback = func(req llm.Request) (*llm.Response, error) {
		if isEvaluation(req) {
			return &llm.Response{Content: "yes"}, nil
		}
		gen++
		return &llm.Response{Content: "attempt"}, nil
	}
	p := pipeline.New(client, nil, discard())

	bot := testBot()
	bot.EnableReprocessing = true
	bot.ReprocessingCriteria = "the response is vague"
	bot.ReprocessingInstructions = "Be specific."

	settings := model.DefaultSettings()
	settings.MaxReprocessingDepth = 2

	var got []model.Message
	p.ProcessMessage(context.Background(), model.NewUserMessage("hi", model.TypeText), bot,
		pipeline.Context{Settings: settings}, collect(&got), pipeline.Options{})

	// Evaluator always says yes: the loop regenerates until the bound and
	// then emits the current answer anyway.
	if len(got) != 1 {
		t.Fatalf("emitted %d messages, want 1", len(got))
	}
	if got[0].Content != "attempt" {
		t.Errorf("Content = %q, the depth-limited answer must still be emitted", got[0].Content)
	}
	if got[0].Processing.ReprocessingDepth != 2 {
		t.Errorf("ReprocessingDepth = %d, want 2", got[0].Processing.ReprocessingDepth)
	}
	if got[0].Processing.NeedsReprocessing {
		t.Error("the emitted message must have NeedsReprocessing cleared")
	}
	if gen != 3 {
		t.Errorf("generation passes = %d, want 3 (initial + 2 regenerations)", gen)
	}
	// No evaluation happens once the bound is reached.
	evals := 0
	for _, req := range client.Calls() {
		if isEvaluation(req) {
			evals++
		}
	}
	if evals != 2 {
		t.Errorf("evaluation passes = %d, want 2", evals)
	}
}

func TestReprocessingStopsOnNegativeVerdict(t *testing.T) {
	t.Parallel()

	client := llmtest.NewClient(
		llmtest.Text("first answer"),
		llmtest.Text("no"),
	)
	p := pipeline.New(client, nil, discard())

	bot := testBot()
	bot.EnableReprocessing = true
	bot.ReprocessingCriteria = "the response is vague"

	var got []model.Message
	p.ProcessMessage(context.Background(), model.NewUserMessage("hi", model.TypeText), bot,
		pipeline.Context{Settings: model.DefaultSettings()}, collect(&got), pipeline.Options{})

	if len(got) != 1 {
		t.Fatalf("emitted %d messages, want 1", len(got))
	}
	if got[0].Content != "first answer" || got[0].Processing.ReprocessingDepth != 0 {
		t.Errorf("got %q at depth %d, want the first answer at depth 0",
			got[0].Content, got[0].Processing.ReprocessingDepth)
	}
}

func TestReprocessingCarriesGuidance(t *testing.T) {
	t.Parallel()

	client := llmtest.NewClient(
		llmtest.Text("vague"),
		llmtest.Text("yes"),
		llmtest.Text("specific"),
		llmtest.Text("no"),
	)
	p := pipeline.New(client, nil, discard())

	bot := testBot()
	bot.EnableReprocessing = true
	bot.ReprocessingCriteria = "the response is vague"
	bot.ReprocessingInstructions = "Cite at least one concrete example."

	var got []model.Message
	p.ProcessMessage(context.Background(), model.NewUserMessage("hi", model.TypeText), bot,
		pipeline.Context{Settings: model.DefaultSettings()}, collect(&got), pipeline.Options{})

	calls := client.Calls()
	if len(calls) != 4 {
		t.Fatalf("LLM calls = %d, want 4", len(calls))
	}
	// The regeneration pass must carry the bot's reprocessing instructions
	// in its system message; the initial pass must not.
	if strings.Contains(calls[0].Messages[0].Content, bot.ReprocessingInstructions) {
		t.Error("initial generation must not carry reprocessing instructions")
	}
	regen := calls[2]
	if regen.Messages[0].Role != llm.RoleSystem ||
		!strings.Contains(regen.Messages[0].Content, bot.ReprocessingInstructions) {
		t.Error("regeneration must carry the reprocessing instructions in the system message")
	}
}

func TestEmitSupersededCandidates(t *testing.T) {
	t.Parallel()

	client := llmtest.NewClient(
		llmtest.Text("draft one"),
		llmtest.Text("yes"),
		llmtest.Text("draft two"),
		llmtest.Text("no"),
	)
	p := pipeline.New(client, nil, discard())

	bot := testBot()
	bot.EnableReprocessing = true
	bot.ReprocessingCriteria = "the response is vague"

	var got []model.Message
	p.ProcessMessage(context.Background(), model.NewUserMessage("hi", model.TypeText), bot,
		pipeline.Context{Settings: model.DefaultSettings()}, collect(&got),
		pipeline.Options{EmitSuperseded: true})

	if len(got) != 2 {
		t.Fatalf("emitted %d messages, want 2", len(got))
	}
	if got[0].Content != "draft one" || !got[0].Processing.NeedsReprocessing {
		t.Errorf("superseded candidate = %q (needs=%v), want draft one flagged for reprocessing",
			got[0].Content, got[0].Processing.NeedsReprocessing)
	}
	if got[1].Content != "draft two" || got[1].Processing.NeedsReprocessing {
		t.Errorf("final = %q (needs=%v), want draft two with the flag cleared",
			got[1].Content, got[1].Processing.NeedsReprocessing)
	}
	if got[1].Processing.ReprocessingDepth != 1 {
		t.Errorf("final depth = %d, want 1", got[1].Processing.ReprocessingDepth)
	}
}

func TestToolCallingSubLoop(t *testing.T) {
	t.Parallel()

	reg, err := tools.NewRegistry(discard(), tools.Definition{
		Name:        "search_knowledge_base",
		Description: "Search the internal knowledge base.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{"type": "string"},
			},
			"required": []string{"query"},
		},
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			return map[string]any{"hits": []string{"doc-42"}}, nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	client := llmtest.NewClient(
		llmtest.Step{Response: &llm.Response{
			ToolCalls: []llm.ToolCall{{
				Name: "search_knowledge_base",
				Args: map[string]any{"query": "release date"},
			}},
		}},
		llmtest.Text("According to doc-42, it shipped in March."),
	)
	p := pipeline.New(client, reg, discard())

	bot := testBot()
	bot.UseTools = true

	var got []model.Message
	p.ProcessMessage(context.Background(), model.NewUserMessage("when did it ship?", model.TypeText), bot,
		pipeline.Context{Settings: model.DefaultSettings()}, collect(&got),
		pipeline.Options{IncludeToolCalls: true})

	if len(got) != 1 {
		t.Fatalf("emitted %d messages, want 1", len(got))
	}
	msg := got[0]
	if msg.Content != "According to doc-42, it shipped in March." {
		t.Errorf("Content = %q", msg.Content)
	}
	if len(msg.ToolResults) != 1 {
		t.Fatalf("ToolResults = %d, want 1", len(msg.ToolResults))
	}
	tr := msg.ToolResults[0]
	if tr.ToolName != "search_knowledge_base" || !tr.Succeeded() {
		t.Errorf("tool result = %+v, want a successful search_knowledge_base call", tr)
	}
	if tr.ExecutionTime <= 0 {
		t.Error("tool ExecutionTime must be measured")
	}

	calls := client.Calls()
	if len(calls) != 2 {
		t.Fatalf("LLM calls = %d, want 2", len(calls))
	}
	if len(calls[0].Tools) != 1 {
		t.Errorf("first pass carried %d tools, want the manifest", len(calls[0].Tools))
	}
	if len(calls[1].Tools) != 0 {
		t.Error("follow-up pass must not re-offer tools")
	}
	followLast := calls[1].Messages[len(calls[1].Messages)-1]
	if followLast.Role != llm.RoleTool || followLast.Name != "search_knowledge_base" {
		t.Errorf("follow-up tail = %+v, want the tool result message", followLast)
	}
}

func TestUnknownToolFedBackToModel(t *testing.T) {
	t.Parallel()

	reg, err := tools.NewRegistry(discard())
	if err != nil {
		t.Fatal(err)
	}

	client := llmtest.NewClient(
		llmtest.Step{Response: &llm.Response{
			ToolCalls: []llm.ToolCall{{Name: "hallucinated_tool", Args: nil}},
		}},
		llmtest.Text("I could not look that up."),
	)
	p := pipeline.New(client, reg, discard())

	bot := testBot()
	bot.UseTools = true

	var got []model.Message
	p.ProcessMessage(context.Background(), model.NewUserMessage("hi", model.TypeText), bot,
		pipeline.Context{Settings: model.DefaultSettings()}, collect(&got),
		pipeline.Options{IncludeToolCalls: true})

	if len(got) != 1 {
		t.Fatalf("emitted %d messages, want 1", len(got))
	}
	if len(got[0].ToolResults) != 1 || got[0].ToolResults[0].Error != "Unknown function" {
		t.Errorf("ToolResults = %+v, want one Unknown function error", got[0].ToolResults)
	}
	// The error is surfaced to the model, not thrown: the final answer is a
	// normal assistant message.
	if got[0].Content != "I could not look that up." {
		t.Errorf("Content = %q", got[0].Content)
	}
}

func TestGenerationFailureEmitsFallback(t *testing.T) {
	t.Parallel()

	client := llmtest.NewClient(llmtest.Fail(errors.New("rate limited")))
	p := pipeline.New(client, nil, discard())

	var got []model.Message
	p.ProcessMessage(context.Background(), model.NewUserMessage("hi", model.TypeText), testBot(),
		pipeline.Context{Settings: model.DefaultSettings()}, collect(&got), pipeline.Options{})

	if len(got) != 1 {
		t.Fatalf("emitted %d messages, want 1", len(got))
	}
	if got[0].Content != pipeline.FallbackContent {
		t.Errorf("Content = %q, want the fallback text", got[0].Content)
	}
	if got[0].Role != model.RoleAssistant || got[0].Sender != "alpha" {
		t.Errorf("fallback Role/Sender = %v/%v", got[0].Role, got[0].Sender)
	}
	if got[0].Processing != nil {
		t.Error("fallback message must not carry processing metadata")
	}
}

func TestVoiceProvenancePropagates(t *testing.T) {
	t.Parallel()

	client := llmtest.NewClient(llmtest.Text("spoken reply"))
	p := pipeline.New(client, nil, discard())

	var got []model.Message
	p.ProcessMessage(context.Background(), model.NewUserMessage("hello", model.TypeVoice), testBot(),
		pipeline.Context{Settings: model.DefaultSettings()}, collect(&got), pipeline.Options{})

	if len(got) != 1 {
		t.Fatalf("emitted %d messages, want 1", len(got))
	}
	if !got[0].Processing.FromVoiceMode {
		t.Error("FromVoiceMode must propagate from a voice-typed user message")
	}
}

func TestSystemPromptComposition(t *testing.T) {
	t.Parallel()

	client := llmtest.NewClient(llmtest.Text("ok"))
	p := pipeline.New(client, nil, discard())

	bot := testBot()
	bot.SystemPrompt = "You are Alpha, the historian."

	settings := model.DefaultSettings()
	settings.SystemPrompt = "This is a group conversation."

	history := []model.Message{
		model.NewUserMessage("earlier question", model.TypeText),
		{Role: model.RoleAssistant, Sender: "beta", Content: "earlier answer"},
		model.NewSystemMessage("a bot joined"),
	}

	var got []model.Message
	p.ProcessMessage(context.Background(), model.NewUserMessage("new question", model.TypeText), bot,
		pipeline.Context{Settings: settings, History: history}, collect(&got), pipeline.Options{})

	calls := client.Calls()
	msgs := calls[0].Messages
	if msgs[0].Role != llm.RoleSystem {
		t.Fatal("first message must be the composed system prompt")
	}
	if !strings.Contains(msgs[0].Content, settings.SystemPrompt) ||
		!strings.Contains(msgs[0].Content, bot.SystemPrompt) {
		t.Error("system message must contain both the conversation and bot prompts")
	}
	// History keeps user and assistant turns only; the status message is
	// dropped. The effective user message comes last.
	if len(msgs) != 4 {
		t.Fatalf("request carried %d messages, want 4", len(msgs))
	}
	if msgs[1].Content != "earlier question" || msgs[2].Content != "earlier answer" {
		t.Errorf("history = %q, %q", msgs[1].Content, msgs[2].Content)
	}
	if msgs[3].Role != llm.RoleUser || msgs[3].Content != "new question" {
		t.Errorf("tail = %+v, want the effective user message", msgs[3])
	}
}
