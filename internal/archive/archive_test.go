package archive_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ensemblechat/ensemble/internal/archive"
	"github.com/ensemblechat/ensemble/internal/model"
)

func newTestArchive(t *testing.T) *archive.Archive {
	t.Helper()

	db, err := archive.NewDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return archive.New(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSaveAndLoadMessages(t *testing.T) {
	t.Parallel()

	a := newTestArchive(t)
	ctx := context.Background()

	user := model.NewUserMessage("what happened in 1969?", model.TypeText)
	reply := model.Message{
		ID:         "reply-1",
		Content:    "The moon landing.",
		Role:       model.RoleAssistant,
		Sender:     "historian",
		SenderName: "Historian",
		Timestamp:  time.Now().UTC(),
		Type:       model.TypeText,
		ToolResults: []model.ToolResult{{
			ToolName:      "web_search",
			Input:         map[string]any{"query": "1969 events"},
			Output:        "Apollo 11",
			ExecutionTime: 120 * time.Millisecond,
		}},
		Processing: &model.ProcessingMetadata{
			PostProcessed:     true,
			ReprocessingDepth: 1,
			OriginalContent:   "what happened in 1969?",
		},
	}

	require.NoError(t, a.SaveMessage(ctx, user))
	require.NoError(t, a.SaveMessage(ctx, reply))
	// Saving the same message again is a no-op, not an error.
	require.NoError(t, a.SaveMessage(ctx, user))

	msgs, err := a.RecentMessages(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, user.Content, msgs[0].Content)
	got := msgs[1]
	assert.Equal(t, "historian", got.Sender)
	require.Len(t, got.ToolResults, 1)
	assert.Equal(t, "web_search", got.ToolResults[0].ToolName)
	require.NotNil(t, got.Processing)
	assert.True(t, got.Processing.PostProcessed)
	assert.Equal(t, 1, got.Processing.ReprocessingDepth)
}

func TestRecentMessagesLimit(t *testing.T) {
	t.Parallel()

	a := newTestArchive(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		msg := model.NewUserMessage("msg", model.TypeText)
		msg.Timestamp = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, a.SaveMessage(ctx, msg))
	}

	msgs, err := a.RecentMessages(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, msgs, 3)
	// The newest messages win, returned oldest-first.
	assert.True(t, msgs[0].Timestamp.Before(msgs[2].Timestamp))
}

func TestBotRoundTrip(t *testing.T) {
	t.Parallel()

	a := newTestArchive(t)
	ctx := context.Background()

	bot := model.Bot{
		ID:                   "critic",
		Name:                 "Critic",
		Model:                "gemini-2.5-pro",
		Temperature:          1.1,
		MaxTokens:            2048,
		SystemPrompt:         "You critique answers.",
		PostProcessingPrompt: "Sharpen the critique.",
		Enabled:              true,
		EnableReprocessing:   true,
		ReprocessingCriteria: "the critique is toothless",
	}
	require.NoError(t, a.SaveBot(ctx, bot))

	// Upsert: a second save with changed fields overwrites.
	bot.Name = "Critic v2"
	require.NoError(t, a.SaveBot(ctx, bot))

	bots, err := a.LoadBots(ctx)
	require.NoError(t, err)
	require.Len(t, bots, 1)
	assert.Equal(t, "Critic v2", bots[0].Name)
	assert.Equal(t, bot.ReprocessingCriteria, bots[0].ReprocessingCriteria)
	assert.True(t, bots[0].EnableReprocessing)

	require.NoError(t, a.DeleteBot(ctx, "critic"))
	bots, err = a.LoadBots(ctx)
	require.NoError(t, err)
	assert.Empty(t, bots)
}

func TestMaintenance(t *testing.T) {
	t.Parallel()

	a := newTestArchive(t)
	assert.NoError(t, a.Maintenance(context.Background()))
}
