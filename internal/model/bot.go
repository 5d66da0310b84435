package model

// Bot is the configuration for one independently configured assistant in the
// group chat. Empty PreProcessingPrompt or PostProcessingPrompt disables the
// corresponding step; empty ReprocessingCriteria disables reprocessing
// regardless of EnableReprocessing.
type Bot struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Model       string  `json:"model"`
	Temperature float32 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`

	SystemPrompt         string `json:"system_prompt,omitempty"`
	PreProcessingPrompt  string `json:"pre_processing_prompt,omitempty"`
	PostProcessingPrompt string `json:"post_processing_prompt,omitempty"`

	Enabled            bool `json:"enabled"`
	UseTools           bool `json:"use_tools"`
	EnableReprocessing bool `json:"enable_reprocessing"`

	ReprocessingCriteria     string `json:"reprocessing_criteria,omitempty"`
	ReprocessingInstructions string `json:"reprocessing_instructions,omitempty"`

	// Transient marks non-persisted clones such as voice ghosts. The
	// archive skips them.
	Transient bool `json:"-"`
}

// BotPatch carries a partial update for a bot. Nil fields leave the prior
// value untouched.
type BotPatch struct {
	Name        *string  `json:"name,omitempty"`
	Description *string  `json:"description,omitempty"`
	Model       *string  `json:"model,omitempty"`
	Temperature *float32 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`

	SystemPrompt         *string `json:"system_prompt,omitempty"`
	PreProcessingPrompt  *string `json:"pre_processing_prompt,omitempty"`
	PostProcessingPrompt *string `json:"post_processing_prompt,omitempty"`

	Enabled            *bool `json:"enabled,omitempty"`
	UseTools           *bool `json:"use_tools,omitempty"`
	EnableReprocessing *bool `json:"enable_reprocessing,omitempty"`

	ReprocessingCriteria     *string `json:"reprocessing_criteria,omitempty"`
	ReprocessingInstructions *string `json:"reprocessing_instructions,omitempty"`
}

// Apply returns a copy of the bot with every non-nil patch field applied.
func (b Bot) Apply(p BotPatch) Bot {
	if p.Name != nil {
		b.Name = *p.Name
	}
	if p.Description != nil {
		b.Description = *p.Description
	}
	if p.Model != nil {
		b.Model = *p.Model
	}
	if p.Temperature != nil {
		b.Temperature = *p.Temperature
	}
	if p.MaxTokens != nil {
		b.MaxTokens = *p.MaxTokens
	}
	if p.SystemPrompt != nil {
		b.SystemPrompt = *p.SystemPrompt
	}
	if p.PreProcessingPrompt != nil {
		b.PreProcessingPrompt = *p.PreProcessingPrompt
	}
	if p.PostProcessingPrompt != nil {
		b.PostProcessingPrompt = *p.PostProcessingPrompt
	}
	if p.Enabled != nil {
		b.Enabled = *p.Enabled
	}
	if p.UseTools != nil {
		b.UseTools = *p.UseTools
	}
	if p.EnableReprocessing != nil {
		b.EnableReprocessing = *p.EnableReprocessing
	}
	if p.ReprocessingCriteria != nil {
		b.ReprocessingCriteria = *p.ReprocessingCriteria
	}
	if p.ReprocessingInstructions != nil {
		b.ReprocessingInstructions = *p.ReprocessingInstructions
	}
	return b
}
