package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load loads and validates configuration from:
// 1. Default values
// 2. config.yaml in the working directory (optional)
// 3. ENSEMBLE_* environment variables
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("ENSEMBLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Missing config file is fine; defaults plus env cover it.
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("llm.model", "gemini-2.0-flash")
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("llm.retry_delay_seconds", 2)

	v.SetDefault("chat.response_mode", "sequential")
	v.SetDefault("chat.max_reprocessing_depth", 3)
	v.SetDefault("chat.enable_pre_processing", true)
	v.SetDefault("chat.enable_post_processing", true)
	v.SetDefault("chat.show_debug_info", false)
	v.SetDefault("chat.enable_voice", false)

	v.SetDefault("voice.model", "gemini-2.0-flash-live-001")
	v.SetDefault("voice.voice", "default")
	v.SetDefault("voice.speed", 1.0)
	v.SetDefault("voice.vad_mode", "auto")
	v.SetDefault("voice.vad_threshold", 0.5)
	v.SetDefault("voice.idle_timeout", 5*time.Minute)

	v.SetDefault("database.path", "ensemble.db")

	v.SetDefault("tools.search_endpoint", "https://api.search.brave.com/res/v1/web/search")
	v.SetDefault("tools.search_timeout", 15*time.Second)

	v.SetDefault("scheduler.maintenance_interval", 6*time.Hour)
	v.SetDefault("scheduler.voice_sweep_interval", 30*time.Second)
}
