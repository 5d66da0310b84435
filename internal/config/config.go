// Package config provides configuration loading, validation, and defaults
// for the ensemble orchestration core. It reads config.yaml and
// ENSEMBLE_* environment variables over a fully defaulted base, then
// validates the result once; no component re-defaults fields at use sites.
package config

import (
	"time"

	"github.com/ensemblechat/ensemble/internal/model"
)

// LogConfig controls structured logging output.
type LogConfig struct {
	Level  string `mapstructure:"level"  validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

// LLMConfig configures the model-invocation capability.
type LLMConfig struct {
	APIKey            string `mapstructure:"api_key"`
	Model             string `mapstructure:"model"               validate:"required"`
	MaxRetries        int    `mapstructure:"max_retries"         validate:"min=0,max=10"`
	RetryDelaySeconds int    `mapstructure:"retry_delay_seconds" validate:"min=0,max=60"`
}

// ChatConfig seeds the per-conversation settings.
type ChatConfig struct {
	ResponseMode         string   `mapstructure:"response_mode"          validate:"oneof=sequential parallel"`
	MaxReprocessingDepth int      `mapstructure:"max_reprocessing_depth" validate:"min=0,max=10"`
	SystemPrompt         string   `mapstructure:"system_prompt"`
	ActiveBotIDs         []string `mapstructure:"active_bot_ids"`
	EnablePreProcessing  bool     `mapstructure:"enable_pre_processing"`
	EnablePostProcessing bool     `mapstructure:"enable_post_processing"`
	ShowDebugInfo        bool     `mapstructure:"show_debug_info"`
	EnableVoice          bool     `mapstructure:"enable_voice"`
}

// VoiceConfig configures the speech capabilities and the idle sweep.
type VoiceConfig struct {
	Model        string        `mapstructure:"model"`
	Voice        string        `mapstructure:"voice"`
	Speed        float64       `mapstructure:"speed"         validate:"min=0.25,max=4"`
	VADMode      string        `mapstructure:"vad_mode"      validate:"oneof=auto manual"`
	VADThreshold float64       `mapstructure:"vad_threshold" validate:"min=0,max=1"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"  validate:"min=10s,max=1h"`
}

// DatabaseConfig configures the archive store.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// ToolsConfig configures the tool invocation layer.
type ToolsConfig struct {
	SearchEndpoint string        `mapstructure:"search_endpoint" validate:"omitempty,url"`
	SearchTimeout  time.Duration `mapstructure:"search_timeout"  validate:"min=1s,max=2m"`
}

// TelegramConfig configures the optional reference transport adapter. An
// empty token disables it.
type TelegramConfig struct {
	Token          string  `mapstructure:"token"`
	AllowedChatIDs []int64 `mapstructure:"allowed_chat_ids"`
}

// SchedulerConfig configures the maintenance jobs.
type SchedulerConfig struct {
	MaintenanceInterval time.Duration `mapstructure:"maintenance_interval" validate:"min=1m"`
	VoiceSweepInterval  time.Duration `mapstructure:"voice_sweep_interval" validate:"min=10s"`
}

// BotConfig is one initial bot definition loaded at startup.
type BotConfig struct {
	ID          string  `mapstructure:"id"   validate:"required"`
	Name        string  `mapstructure:"name" validate:"required"`
	Description string  `mapstructure:"description"`
	Model       string  `mapstructure:"model"`
	Temperature float32 `mapstructure:"temperature" validate:"min=0,max=2"`
	MaxTokens   int     `mapstructure:"max_tokens"  validate:"min=0,max=200000"`

	SystemPrompt         string `mapstructure:"system_prompt"`
	PreProcessingPrompt  string `mapstructure:"pre_processing_prompt"`
	PostProcessingPrompt string `mapstructure:"post_processing_prompt"`

	Enabled            bool `mapstructure:"enabled"`
	UseTools           bool `mapstructure:"use_tools"`
	EnableReprocessing bool `mapstructure:"enable_reprocessing"`

	ReprocessingCriteria     string `mapstructure:"reprocessing_criteria"`
	ReprocessingInstructions string `mapstructure:"reprocessing_instructions"`
}

// Config is the full application configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Voice     VoiceConfig     `mapstructure:"voice"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Tools     ToolsConfig     `mapstructure:"tools"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Bots      []BotConfig     `mapstructure:"bots" validate:"dive"`
}

// Settings builds the per-conversation runtime settings from the loaded
// configuration, with every field explicitly populated.
func (c *Config) Settings() model.Settings {
	s := model.DefaultSettings()
	s.ResponseMode = model.ResponseMode(c.Chat.ResponseMode)
	s.MaxReprocessingDepth = c.Chat.MaxReprocessingDepth
	s.SystemPrompt = c.Chat.SystemPrompt
	s.Processing.EnablePreProcessing = c.Chat.EnablePreProcessing
	s.Processing.EnablePostProcessing = c.Chat.EnablePostProcessing
	s.UI.ShowDebugInfo = c.Chat.ShowDebugInfo
	s.UI.EnableVoice = c.Chat.EnableVoice
	s.Voice.Model = c.Voice.Model
	s.Voice.Voice = c.Voice.Voice
	s.Voice.Speed = c.Voice.Speed
	s.Voice.VADMode = c.Voice.VADMode
	s.Voice.VADThreshold = c.Voice.VADThreshold

	ids := make([]string, len(c.Chat.ActiveBotIDs))
	copy(ids, c.Chat.ActiveBotIDs)
	s.ActiveBotIDs = ids
	return s
}

// InitialBots converts the configured bot definitions into model bots,
// filling per-bot blanks from the LLM defaults.
func (c *Config) InitialBots() []model.Bot {
	bots := make([]model.Bot, 0, len(c.Bots))
	for _, bc := range c.Bots {
		bot := model.Bot{
			ID:                       bc.ID,
			Name:                     bc.Name,
			Description:              bc.Description,
			Model:                    bc.Model,
			Temperature:              bc.Temperature,
			MaxTokens:                bc.MaxTokens,
			SystemPrompt:             bc.SystemPrompt,
			PreProcessingPrompt:      bc.PreProcessingPrompt,
			PostProcessingPrompt:     bc.PostProcessingPrompt,
			Enabled:                  bc.Enabled,
			UseTools:                 bc.UseTools,
			EnableReprocessing:       bc.EnableReprocessing,
			ReprocessingCriteria:     bc.ReprocessingCriteria,
			ReprocessingInstructions: bc.ReprocessingInstructions,
		}
		if bot.Model == "" {
			bot.Model = c.LLM.Model
		}
		bots = append(bots, bot)
	}
	return bots
}
