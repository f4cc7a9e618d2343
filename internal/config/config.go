package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	HTTP          HTTPConfig          `yaml:"http"`
	Media         MediaConfig         `yaml:"media"`
	Audio         AudioConfig         `yaml:"audio"`
	Capture       CaptureConfig       `yaml:"capture"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Storage       StorageConfig       `yaml:"storage"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// MediaConfig contains the UDP frame transport configuration
type MediaConfig struct {
	Port        int    `yaml:"port"`
	BindAddress string `yaml:"bind_address"`
	BufferSize  int    `yaml:"buffer_size"` // socket read buffer, bytes
	QueueSize   int    `yaml:"queue_size"`  // per-speaker frame queue depth
	Codec       string `yaml:"codec"`       // "opus" or "pcm"
}

// HTTPConfig contains the control/monitoring API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// AudioConfig contains audio format parameters for the decode chain
type AudioConfig struct {
	InputSampleRate    int `yaml:"input_sample_rate"`    // Hz, rate of decoded speaker audio
	Channels           int `yaml:"channels"`             // mono capture per speaker
	ProviderSampleRate int `yaml:"provider_sample_rate"` // Hz, rate uploaded to the provider
}

// CaptureConfig contains per-speaker segmentation and recovery parameters
type CaptureConfig struct {
	SilenceThresholdMs  int `yaml:"silence_threshold_ms"`  // silence run that ends an utterance
	StallTimeoutMs      int `yaml:"stall_timeout_ms"`      // no-frames window before recovery
	WatchdogIntervalMs  int `yaml:"watchdog_interval_ms"`  // watchdog poll interval
	MinUtteranceBytes   int `yaml:"min_utterance_bytes"`   // utterances below this are dropped as noise
	RecoveryCooldownMs  int `yaml:"recovery_cooldown_ms"`  // base delay before a recovery attempt
	MaxRecoveryAttempts int `yaml:"max_recovery_attempts"` // attempts before the pipeline is disabled
}

// TranscriptionConfig contains transcription provider configuration
type TranscriptionConfig struct {
	Endpoint       string `yaml:"endpoint"`
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	Timeout        int    `yaml:"timeout"` // seconds
	MaxConcurrent  int    `yaml:"max_concurrent"`
	ResponseFormat string `yaml:"response_format"`
}

// StorageConfig contains transcript persistence configuration
type StorageConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs validation of the full configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Media.Validate(); err != nil {
		return fmt.Errorf("media config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates media transport configuration
func (m *MediaConfig) Validate() error {
	if m.Port < 1 || m.Port > 65535 {
		return fmt.Errorf("media port must be between 1 and 65535, got %d", m.Port)
	}

	if m.BufferSize < 1024 {
		return fmt.Errorf("buffer_size must be at least 1024, got %d", m.BufferSize)
	}

	if m.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", m.QueueSize)
	}

	validCodecs := map[string]bool{"opus": true, "pcm": true}
	if !validCodecs[m.Codec] {
		return fmt.Errorf("codec must be 'opus' or 'pcm', got '%s'", m.Codec)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.InputSampleRate <= 0 {
		return fmt.Errorf("input_sample_rate must be positive, got %d", a.InputSampleRate)
	}

	if a.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono per-speaker capture), got %d", a.Channels)
	}

	if a.ProviderSampleRate <= 0 {
		return fmt.Errorf("provider_sample_rate must be positive, got %d", a.ProviderSampleRate)
	}

	if a.ProviderSampleRate > a.InputSampleRate {
		return fmt.Errorf("provider_sample_rate (%d) cannot exceed input_sample_rate (%d)",
			a.ProviderSampleRate, a.InputSampleRate)
	}

	return nil
}

// Validate validates capture configuration
func (c *CaptureConfig) Validate() error {
	if c.SilenceThresholdMs < 100 {
		return fmt.Errorf("silence_threshold_ms must be at least 100, got %d", c.SilenceThresholdMs)
	}

	if c.StallTimeoutMs < 1000 {
		return fmt.Errorf("stall_timeout_ms must be at least 1000, got %d", c.StallTimeoutMs)
	}

	if c.WatchdogIntervalMs < 100 {
		return fmt.Errorf("watchdog_interval_ms must be at least 100, got %d", c.WatchdogIntervalMs)
	}

	if c.WatchdogIntervalMs > c.StallTimeoutMs {
		return fmt.Errorf("watchdog_interval_ms (%d) cannot exceed stall_timeout_ms (%d)",
			c.WatchdogIntervalMs, c.StallTimeoutMs)
	}

	if c.MinUtteranceBytes < 0 {
		return fmt.Errorf("min_utterance_bytes cannot be negative, got %d", c.MinUtteranceBytes)
	}

	if c.RecoveryCooldownMs < 0 {
		return fmt.Errorf("recovery_cooldown_ms cannot be negative, got %d", c.RecoveryCooldownMs)
	}

	if c.MaxRecoveryAttempts < 1 {
		return fmt.Errorf("max_recovery_attempts must be at least 1, got %d", c.MaxRecoveryAttempts)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[t.ResponseFormat] {
		return fmt.Errorf("response_format must be 'json' or 'text', got '%s'", t.ResponseFormat)
	}

	return nil
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	if s.Enabled && s.Path == "" {
		return fmt.Errorf("path cannot be empty when storage is enabled")
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetSilenceThreshold returns the silence threshold as a time.Duration
func (c *CaptureConfig) GetSilenceThreshold() time.Duration {
	return time.Duration(c.SilenceThresholdMs) * time.Millisecond
}

// GetStallTimeout returns the stall timeout as a time.Duration
func (c *CaptureConfig) GetStallTimeout() time.Duration {
	return time.Duration(c.StallTimeoutMs) * time.Millisecond
}

// GetWatchdogInterval returns the watchdog poll interval as a time.Duration
func (c *CaptureConfig) GetWatchdogInterval() time.Duration {
	return time.Duration(c.WatchdogIntervalMs) * time.Millisecond
}

// GetRecoveryCooldown returns the recovery cooldown as a time.Duration
func (c *CaptureConfig) GetRecoveryCooldown() time.Duration {
	return time.Duration(c.RecoveryCooldownMs) * time.Millisecond
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}
