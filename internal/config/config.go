// Package config loads process-wide configuration for reel from the
// environment, applying defaults and validation the same way the rest of the
// pipeline's ambient stack does: viper for binding, validator for enforcing
// required fields.
package config

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the full set of recognized options: the pipeline tunables plus
// the store and collaborator credentials needed to run.
type Config struct {
	// Pipeline timing and sampling.
	MaxStreamDuration     float64 `mapstructure:"MAX_STREAM_DURATION"`
	VideoFrameSampleRate  float64 `mapstructure:"VIDEO_FRAME_SAMPLE_RATE"`
	AudioChunkSeconds     float64 `mapstructure:"AUDIO_CHUNK"`
	TargetSampleRate      int     `mapstructure:"TARGET_SAMPLE_RATE"`
	CandidateSlice        float64 `mapstructure:"CANDIDATE_SLICE"`
	HighlightChunk        int     `mapstructure:"HIGHLIGHT_CHUNK"`
	HighlightMinLen       float64 `mapstructure:"HIGHLIGHT_MIN_LEN"`
	HighlightMaxLen       float64 `mapstructure:"HIGHLIGHT_MAX_LEN"`
	MaxEdgeShiftSeconds   float64 `mapstructure:"MAX_EDGE_SHIFT_SECONDS"`
	AgenticRefinementOn   bool    `mapstructure:"AGENTIC_REFINEMENT_ENABLED"`
	TextTilingBlock       int     `mapstructure:"TEXT_TILING_BLOCK"`
	TextTilingStep        int     `mapstructure:"TEXT_TILING_STEP"`
	TextTilingSmooth      int     `mapstructure:"TEXT_TILING_SMOOTH"`
	TextTilingCutoffStd   float64 `mapstructure:"TEXT_TILING_CUTOFF_STD"`

	// Storage.
	BaseDir     string `mapstructure:"BASE_DIR" validate:"required"`
	DatabaseDSN string `mapstructure:"DATABASE_DSN" validate:"required"`
	DBRetries   int    `mapstructure:"DATABASE_RETRIES"`

	// Collaborators.
	AnthropicAPIKey string `mapstructure:"ANTHROPIC_API_KEY" validate:"required"`
	AnthropicModel  string `mapstructure:"ANTHROPIC_MODEL"`
	STTEndpoint     string `mapstructure:"STT_ENDPOINT" validate:"required"`
	STTAPIKey       string `mapstructure:"STT_API_KEY"`
	STTLanguageCode string `mapstructure:"STT_LANGUAGE_CODE"`

	// Observability.
	MetricsAddr string `mapstructure:"METRICS_ADDR"`

	// Job intake.
	Job string `mapstructure:"REEL_JOB"`
}

// bindEnv walks Config's mapstructure tags via reflection and registers each
// one with viper, so AutomaticEnv picks it up even before any default is set.
func bindEnv(c Config) {
	val := reflect.ValueOf(c)
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := typ.Field(i)
		fieldVal := val.Field(i)
		tag := field.Tag.Get("mapstructure")

		if tag != "" {
			viper.BindEnv(tag)
		}

		if field.Type.Kind() == reflect.Struct && tag == "" {
			nestedTyp := fieldVal.Type()
			for j := 0; j < fieldVal.NumField(); j++ {
				nestedField := nestedTyp.Field(j)
				nestedTag := nestedField.Tag.Get("mapstructure")
				if nestedTag != "" {
					viper.BindEnv(nestedTag)
				}
			}
		}
	}
	slog.Debug("environment variables bound", "config", c)
}

// Load builds a Config from the environment, applying defaults and failing
// validation if a required collaborator credential is absent.
func Load(ctx context.Context) (*Config, error) {
	bindEnv(Config{})
	viper.AutomaticEnv()

	viper.SetDefault("MAX_STREAM_DURATION", 1800.0)
	viper.SetDefault("VIDEO_FRAME_SAMPLE_RATE", 1.0)
	viper.SetDefault("AUDIO_CHUNK", 5.0)
	viper.SetDefault("TARGET_SAMPLE_RATE", 16000)
	viper.SetDefault("CANDIDATE_SLICE", 5.0)
	viper.SetDefault("HIGHLIGHT_CHUNK", 300)
	viper.SetDefault("HIGHLIGHT_MIN_LEN", 4.0)
	viper.SetDefault("HIGHLIGHT_MAX_LEN", 12.0)
	viper.SetDefault("MAX_EDGE_SHIFT_SECONDS", 3.0)
	viper.SetDefault("AGENTIC_REFINEMENT_ENABLED", true)
	viper.SetDefault("TEXT_TILING_BLOCK", 20)
	viper.SetDefault("TEXT_TILING_STEP", 10)
	viper.SetDefault("TEXT_TILING_SMOOTH", 2)
	viper.SetDefault("TEXT_TILING_CUTOFF_STD", 0.5)
	viper.SetDefault("BASE_DIR", "./data")
	viper.SetDefault("DATABASE_RETRIES", 15)
	viper.SetDefault("ANTHROPIC_MODEL", "claude-sonnet-4-5")
	viper.SetDefault("STT_LANGUAGE_CODE", "en-US")

	cfg := Config{}
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}
