package model

// ResponseMode selects how active bots are dispatched for one user turn.
type ResponseMode string

const (
	// ResponseSequential processes one bot fully before starting the next,
	// in ActiveBotIDs order.
	ResponseSequential ResponseMode = "sequential"
	// ResponseParallel dispatches all active bots concurrently from a frozen
	// view of history.
	ResponseParallel ResponseMode = "parallel"
)

// ProcessingSettings are the conversation-level master switches for the
// pre/post-processing steps. Both the bot's own prompt and the matching
// switch must be set for a step to run.
type ProcessingSettings struct {
	EnablePreProcessing  bool `json:"enable_pre_processing"`
	EnablePostProcessing bool `json:"enable_post_processing"`
}

// UISettings are the handful of flags the UI layer reads from the core.
type UISettings struct {
	ShowDebugInfo bool `json:"show_debug_info"`
	EnableVoice   bool `json:"enable_voice"`
}

// VoiceSettings configure the speech capabilities consumed by the voice
// bridge. The VAD fields are forwarded to the transcription plumbing as-is;
// the core does not interpret them.
type VoiceSettings struct {
	Model        string  `json:"model"`
	Voice        string  `json:"voice"`
	Speed        float64 `json:"speed"`
	VADMode      string  `json:"vad_mode"`
	VADThreshold float64 `json:"vad_threshold"`
}

// Settings is the per-conversation configuration shared by the coordinator
// and the pipeline. It is always constructed fully defaulted; no component
// re-defaults individual fields at use sites.
type Settings struct {
	ResponseMode         ResponseMode       `json:"response_mode"`
	MaxReprocessingDepth int                `json:"max_reprocessing_depth"`
	ActiveBotIDs         []string           `json:"active_bot_ids"`
	Processing           ProcessingSettings `json:"processing"`
	UI                   UISettings         `json:"ui"`
	SystemPrompt         string             `json:"system_prompt,omitempty"`
	Voice                VoiceSettings      `json:"voice"`
}

// DefaultSettings returns a Settings value with every field explicitly
// defaulted.
func DefaultSettings() Settings {
	return Settings{
		ResponseMode:         ResponseSequential,
		MaxReprocessingDepth: 3,
		ActiveBotIDs:         []string{},
		Processing: ProcessingSettings{
			EnablePreProcessing:  true,
			EnablePostProcessing: true,
		},
		UI: UISettings{
			ShowDebugInfo: false,
			EnableVoice:   false,
		},
		Voice: VoiceSettings{
			Model:        "gemini-2.0-flash-live-001",
			Voice:        "default",
			Speed:        1.0,
			VADMode:      "auto",
			VADThreshold: 0.5,
		},
	}
}

// SettingsPatch carries a partial settings update. Nil fields leave the
// prior value untouched.
type SettingsPatch struct {
	ResponseMode         *ResponseMode `json:"response_mode,omitempty"`
	MaxReprocessingDepth *int          `json:"max_reprocessing_depth,omitempty"`
	ActiveBotIDs         *[]string     `json:"active_bot_ids,omitempty"`
	EnablePreProcessing  *bool         `json:"enable_pre_processing,omitempty"`
	EnablePostProcessing *bool         `json:"enable_post_processing,omitempty"`
	ShowDebugInfo        *bool         `json:"show_debug_info,omitempty"`
	EnableVoice          *bool         `json:"enable_voice,omitempty"`
	SystemPrompt         *string       `json:"system_prompt,omitempty"`
	VoiceModel           *string       `json:"voice_model,omitempty"`
	VoiceName            *string       `json:"voice_name,omitempty"`
	VoiceSpeed           *float64      `json:"voice_speed,omitempty"`
}

// Apply returns a copy of the settings with every non-nil patch field
// applied. The ActiveBotIDs slice is copied so callers cannot alias the
// stored value.
func (s Settings) Apply(p SettingsPatch) Settings {
	if p.ResponseMode != nil {
		s.ResponseMode = *p.ResponseMode
	}
	if p.MaxReprocessingDepth != nil {
		s.MaxReprocessingDepth = *p.MaxReprocessingDepth
	}
	if p.ActiveBotIDs != nil {
		ids := make([]string, len(*p.ActiveBotIDs))
		copy(ids, *p.ActiveBotIDs)
		s.ActiveBotIDs = ids
	}
	if p.EnablePreProcessing != nil {
		s.Processing.EnablePreProcessing = *p.EnablePreProcessing
	}
	if p.EnablePostProcessing != nil {
		s.Processing.EnablePostProcessing = *p.EnablePostProcessing
	}
	if p.ShowDebugInfo != nil {
		s.UI.ShowDebugInfo = *p.ShowDebugInfo
	}
	if p.EnableVoice != nil {
		s.UI.EnableVoice = *p.EnableVoice
	}
	if p.SystemPrompt != nil {
		s.SystemPrompt = *p.SystemPrompt
	}
	if p.VoiceModel != nil {
		s.Voice.Model = *p.VoiceModel
	}
	if p.VoiceName != nil {
		s.Voice.Voice = *p.VoiceName
	}
	if p.VoiceSpeed != nil {
		s.Voice.Speed = *p.VoiceSpeed
	}
	return s
}
