// Package config provides the configuration structure for the voiceover-service.
package config

import (
	"fmt"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// Defaults applied to zero-valued settings.
const (
	DefaultCommandSubject = "voiceover.cmd"
	DefaultEventSubject   = "voiceover.events"
	DefaultScriptModel    = "gemini-3-flash-preview"
	DefaultSpeechModel    = "gemini-2.5-flash-preview-tts"
	DefaultTimeoutSeconds = 120
	DefaultSampleRate     = 24000
	DefaultEventHistory   = 500
	DefaultOutputDir      = "."
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                    string `toml:"url"`
	CommandSubject         string `toml:"command_subject"`
	EventSubject           string `toml:"event_subject"`
	AudioObjectStoreBucket string `toml:"audio_object_store_bucket"`
}

// GeminiConfig holds the generation backend settings.
type GeminiConfig struct {
	APIKey      string `toml:"api_key"`
	ScriptModel string `toml:"script_model"`
	SpeechModel string `toml:"speech_model"`
}

// PipelineConfig holds the orchestration settings.
type PipelineConfig struct {
	TimeoutSeconds int `toml:"timeout_seconds"`
	SampleRate     int `toml:"sample_rate"`
	EventHistory   int `toml:"event_history"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
	StateDir    string `toml:"state_dir"`
	OutputDir   string `toml:"output_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS     NATSConfig     `toml:"nats"`
	Gemini   GeminiConfig   `toml:"gemini"`
	Pipeline PipelineConfig `toml:"pipeline"`
	Paths    PathsConfig    `toml:"paths"`
}

// Load loads the configuration for the voiceover-service.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	cfg.ApplyDefaults()

	return &cfg, nil
}

// ApplyDefaults fills in zero-valued settings.
func (c *Config) ApplyDefaults() {
	if c.NATS.CommandSubject == "" {
		c.NATS.CommandSubject = DefaultCommandSubject
	}

	if c.NATS.EventSubject == "" {
		c.NATS.EventSubject = DefaultEventSubject
	}

	if c.Gemini.ScriptModel == "" {
		c.Gemini.ScriptModel = DefaultScriptModel
	}

	if c.Gemini.SpeechModel == "" {
		c.Gemini.SpeechModel = DefaultSpeechModel
	}

	if c.Pipeline.TimeoutSeconds <= 0 {
		c.Pipeline.TimeoutSeconds = DefaultTimeoutSeconds
	}

	if c.Pipeline.SampleRate <= 0 {
		c.Pipeline.SampleRate = DefaultSampleRate
	}

	if c.Pipeline.EventHistory <= 0 {
		c.Pipeline.EventHistory = DefaultEventHistory
	}

	if c.Paths.OutputDir == "" {
		c.Paths.OutputDir = DefaultOutputDir
	}
}

// Timeout returns the bound applied to each remote call.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Pipeline.TimeoutSeconds) * time.Second
}
