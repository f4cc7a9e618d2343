package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		HTTP: HTTPConfig{Port: 8080, Address: "0.0.0.0", Enabled: true},
		Media: MediaConfig{
			Port:        9999,
			BindAddress: "0.0.0.0",
			BufferSize:  65536,
			QueueSize:   256,
			Codec:       "opus",
		},
		Audio: AudioConfig{
			InputSampleRate:    48000,
			Channels:           1,
			ProviderSampleRate: 16000,
		},
		Capture: CaptureConfig{
			SilenceThresholdMs:  2000,
			StallTimeoutMs:      60000,
			WatchdogIntervalMs:  10000,
			MinUtteranceBytes:   1000,
			RecoveryCooldownMs:  1000,
			MaxRecoveryAttempts: 5,
		},
		Transcription: TranscriptionConfig{
			Endpoint:       "http://localhost:9000/transcribe",
			Model:          "whisper-1",
			Timeout:        60,
			MaxConcurrent:  10,
			ResponseFormat: "json",
		},
		Storage: StorageConfig{Enabled: true, Path: "data/transcripts.db"},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

func TestValidateAcceptsValidConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Expected valid config to pass validation: %v", err)
	}
}

func TestValidateRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"http port zero", func(c *Config) { c.HTTP.Port = 0 }},
		{"http address empty", func(c *Config) { c.HTTP.Address = "" }},
		{"media port out of range", func(c *Config) { c.Media.Port = 70000 }},
		{"media buffer too small", func(c *Config) { c.Media.BufferSize = 512 }},
		{"media queue zero", func(c *Config) { c.Media.QueueSize = 0 }},
		{"unknown codec", func(c *Config) { c.Media.Codec = "mp3" }},
		{"zero input sample rate", func(c *Config) { c.Audio.InputSampleRate = 0 }},
		{"stereo capture", func(c *Config) { c.Audio.Channels = 2 }},
		{"upsampling to provider", func(c *Config) { c.Audio.ProviderSampleRate = 96000 }},
		{"silence threshold too low", func(c *Config) { c.Capture.SilenceThresholdMs = 50 }},
		{"stall timeout too low", func(c *Config) { c.Capture.StallTimeoutMs = 500 }},
		{"watchdog slower than stall", func(c *Config) { c.Capture.WatchdogIntervalMs = 120000 }},
		{"negative utterance floor", func(c *Config) { c.Capture.MinUtteranceBytes = -1 }},
		{"zero recovery attempts", func(c *Config) { c.Capture.MaxRecoveryAttempts = 0 }},
		{"empty transcription endpoint", func(c *Config) { c.Transcription.Endpoint = "" }},
		{"zero transcription timeout", func(c *Config) { c.Transcription.Timeout = 0 }},
		{"bad response format", func(c *Config) { c.Transcription.ResponseFormat = "xml" }},
		{"storage enabled without path", func(c *Config) { c.Storage.Path = "" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "yaml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error but got none")
			}
		})
	}
}

func TestDurationGetters(t *testing.T) {
	cfg := validConfig()

	if got := cfg.Capture.GetSilenceThreshold(); got != 2*time.Second {
		t.Errorf("Expected 2s silence threshold, got %v", got)
	}
	if got := cfg.Capture.GetStallTimeout(); got != time.Minute {
		t.Errorf("Expected 60s stall timeout, got %v", got)
	}
	if got := cfg.Capture.GetWatchdogInterval(); got != 10*time.Second {
		t.Errorf("Expected 10s watchdog interval, got %v", got)
	}
	if got := cfg.Capture.GetRecoveryCooldown(); got != time.Second {
		t.Errorf("Expected 1s recovery cooldown, got %v", got)
	}
	if got := cfg.Transcription.GetTimeoutDuration(); got != time.Minute {
		t.Errorf("Expected 60s transcription timeout, got %v", got)
	}
}

func TestLoad(t *testing.T) {
	content := `
http:
  enabled: true
  address: "127.0.0.1"
  port: 8080
media:
  port: 9999
  bind_address: "0.0.0.0"
  buffer_size: 65536
  queue_size: 64
  codec: "pcm"
audio:
  input_sample_rate: 48000
  channels: 1
  provider_sample_rate: 16000
capture:
  silence_threshold_ms: 2000
  stall_timeout_ms: 60000
  watchdog_interval_ms: 10000
  min_utterance_bytes: 1000
  recovery_cooldown_ms: 1000
  max_recovery_attempts: 5
transcription:
  endpoint: "http://localhost:9000/transcribe"
  timeout: 30
  max_concurrent: 4
  response_format: "text"
storage:
  enabled: false
logging:
  level: "debug"
  format: "text"
  output: "stderr"
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Media.Codec != "pcm" {
		t.Errorf("Expected codec pcm, got %s", cfg.Media.Codec)
	}
	if cfg.Capture.SilenceThresholdMs != 2000 {
		t.Errorf("Expected silence threshold 2000, got %d", cfg.Capture.SilenceThresholdMs)
	}
	if cfg.Storage.Enabled {
		t.Error("Expected storage to be disabled")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("{not yaml"), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Expected error for invalid YAML")
	}
}
