package model_test

import (
	"testing"

	"github.com/ensemblechat/ensemble/internal/model"
)

func TestDefaultSettingsFullyPopulated(t *testing.T) {
	t.Parallel()

	s := model.DefaultSettings()
	if s.ResponseMode != model.ResponseSequential {
		t.Errorf("ResponseMode = %v", s.ResponseMode)
	}
	if s.MaxReprocessingDepth != 3 {
		t.Errorf("MaxReprocessingDepth = %d", s.MaxReprocessingDepth)
	}
	if s.ActiveBotIDs == nil {
		t.Error("ActiveBotIDs must be an empty slice, not nil")
	}
	if !s.Processing.EnablePreProcessing || !s.Processing.EnablePostProcessing {
		t.Error("processing switches default to enabled")
	}
	if s.Voice.Speed != 1.0 || s.Voice.Model == "" {
		t.Errorf("voice defaults = %+v", s.Voice)
	}
}

func TestSettingsApplyPartial(t *testing.T) {
	t.Parallel()

	s := model.DefaultSettings()
	mode := model.ResponseParallel
	depth := 1
	off := false

	got := s.Apply(model.SettingsPatch{
		ResponseMode:         &mode,
		MaxReprocessingDepth: &depth,
		EnablePreProcessing:  &off,
	})

	if got.ResponseMode != model.ResponseParallel || got.MaxReprocessingDepth != 1 {
		t.Errorf("patched fields = %v/%d", got.ResponseMode, got.MaxReprocessingDepth)
	}
	if got.Processing.EnablePreProcessing {
		t.Error("EnablePreProcessing should be off")
	}
	// Untouched fields survive.
	if !got.Processing.EnablePostProcessing {
		t.Error("EnablePostProcessing must be unchanged")
	}
	if s.ResponseMode != model.ResponseSequential {
		t.Error("Apply must not mutate the receiver")
	}
}

func TestSettingsApplyCopiesActiveBotIDs(t *testing.T) {
	t.Parallel()

	ids := []string{"a", "b"}
	got := model.DefaultSettings().Apply(model.SettingsPatch{ActiveBotIDs: &ids})

	ids[0] = "mutated"
	if got.ActiveBotIDs[0] != "a" {
		t.Error("Apply must copy the ActiveBotIDs slice")
	}
}

func TestNewUserMessage(t *testing.T) {
	t.Parallel()

	text := model.NewUserMessage("hello", model.TypeText)
	if text.Role != model.RoleUser || text.Sender != model.UserSender {
		t.Errorf("Role/Sender = %v/%v", text.Role, text.Sender)
	}
	if text.ID == "" {
		t.Error("messages must get an id on construction")
	}
	if text.Processing != nil {
		t.Error("text messages carry no processing metadata at construction")
	}

	voice := model.NewUserMessage("hello", model.TypeVoice)
	if voice.Processing == nil || !voice.Processing.FromVoiceMode {
		t.Error("voice messages must carry FromVoiceMode provenance")
	}
}

func TestBotApplyPartial(t *testing.T) {
	t.Parallel()

	bot := model.Bot{ID: "a", Name: "A", Model: "m1", Temperature: 0.5, Enabled: true}
	name := "A2"
	temp := float32(1.5)

	got := bot.Apply(model.BotPatch{Name: &name, Temperature: &temp})
	if got.Name != "A2" || got.Temperature != 1.5 {
		t.Errorf("patched = %q/%v", got.Name, got.Temperature)
	}
	if got.Model != "m1" || !got.Enabled {
		t.Error("unpatched fields must be preserved")
	}
}
