// Package config provides the configuration structure for the voiceclone-service.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/book-expert/voiceclone-service/internal/core"
	"github.com/pelletier/go-toml/v2"
)

// Defaults applied when a value is absent from the configuration file.
const (
	defaultSynthesizerDir      = "base_speakers/EN"
	defaultConverterDir        = "converter"
	defaultEmbeddingsDir       = "base_speakers/EN"
	defaultDevice              = "cpu"
	defaultLanguage            = "English"
	defaultTau                 = 0.3
	defaultMaxDurationSeconds  = 60.0
	defaultInferenceTimeout    = 120
	defaultMaxConcurrent       = 2
	defaultRequestTimeout      = 300
	defaultConversionSubject   = "voice.conversion.requested"
	defaultObjectStoreBucket   = "VOICE_AUDIO"
	defaultScratchDirName      = "voiceclone-scratch"
	defaultStyleDefaultFile    = "en_default_se"
	defaultStyleExpressiveFile = "en_style_se"
)

var (
	// ErrCheckpointRootEmpty indicates that models.checkpoint_root is missing.
	ErrCheckpointRootEmpty = errors.New("models.checkpoint_root cannot be empty")
	// ErrServiceURLEmpty indicates that inference.service_url is missing.
	ErrServiceURLEmpty = errors.New("inference.service_url cannot be empty")
	// ErrMaxDuration indicates a non-positive extraction duration limit.
	ErrMaxDuration = errors.New("extraction.max_duration_seconds must be positive")
	// ErrStyleUnmapped indicates a declared style without an embedding file.
	ErrStyleUnmapped = errors.New("style has no embedding mapping")
	// ErrTauRange indicates tau outside [0.0, 1.0].
	ErrTauRange = errors.New("models.tau must be between 0.0 and 1.0")
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                        string `toml:"url"`
	ConversionRequestedSubject string `toml:"conversion_requested_subject"`
	ObjectStoreBucket          string `toml:"object_store_bucket"`
}

// ModelsConfig locates checkpoints and style embeddings.
type ModelsConfig struct {
	CheckpointRoot   string            `toml:"checkpoint_root"`
	SynthesizerDir   string            `toml:"synthesizer_dir"`
	ConverterDir     string            `toml:"converter_dir"`
	EmbeddingsDir    string            `toml:"embeddings_dir"`
	// RemoteBaseURL points at a mirror serving msgpack .se files. Empty means
	// every style embedding must already be cached locally.
	RemoteBaseURL    string            `toml:"remote_base_url"`
	Device           string            `toml:"device"`
	EnableWatermark  bool              `toml:"enable_watermark"`
	WatermarkMessage string            `toml:"watermark_message"`
	Language         string            `toml:"language"`
	Tau              float64           `toml:"tau"`
	Styles           map[string]string `toml:"styles"`
}

// ExtractionConfig controls reference-audio embedding extraction.
type ExtractionConfig struct {
	MaxDurationSeconds float64 `toml:"max_duration_seconds"`
	// UseVAD defaults to true when omitted.
	UseVAD *bool `toml:"use_vad"`
}

// InferenceConfig locates the inference sidecar.
type InferenceConfig struct {
	ServiceURL     string `toml:"service_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
	ScratchRoot string `toml:"scratch_root"`
}

// WorkerConfig bounds request handling.
type WorkerConfig struct {
	MaxConcurrent         int `toml:"max_concurrent"`
	RequestTimeoutSeconds int `toml:"request_timeout_seconds"`
}

// Config is the root configuration structure.
type Config struct {
	NATS       NATSConfig       `toml:"nats"`
	Models     ModelsConfig     `toml:"models"`
	Extraction ExtractionConfig `toml:"extraction"`
	Inference  InferenceConfig  `toml:"inference"`
	Paths      PathsConfig      `toml:"paths"`
	Worker     WorkerConfig     `toml:"worker"`
}

// Load loads the configuration for the voiceclone-service.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return finalize(&cfg)
}

// LoadFile reads a TOML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	return Parse(data)
}

// Parse decodes TOML configuration, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config

	err := toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	return finalize(&cfg)
}

func finalize(cfg *Config) (*Config, error) {
	cfg.applyDefaults()

	err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.NATS.ConversionRequestedSubject == "" {
		c.NATS.ConversionRequestedSubject = defaultConversionSubject
	}

	if c.NATS.ObjectStoreBucket == "" {
		c.NATS.ObjectStoreBucket = defaultObjectStoreBucket
	}

	c.Models.applyDefaults()

	if c.Extraction.MaxDurationSeconds == 0 {
		c.Extraction.MaxDurationSeconds = defaultMaxDurationSeconds
	}

	if c.Extraction.UseVAD == nil {
		useVAD := true
		c.Extraction.UseVAD = &useVAD
	}

	if c.Inference.TimeoutSeconds <= 0 {
		c.Inference.TimeoutSeconds = defaultInferenceTimeout
	}

	if c.Paths.BaseLogsDir == "" {
		c.Paths.BaseLogsDir = os.TempDir()
	}

	if c.Paths.ScratchRoot == "" {
		c.Paths.ScratchRoot = filepath.Join(os.TempDir(), defaultScratchDirName)
	}

	if c.Worker.MaxConcurrent <= 0 {
		c.Worker.MaxConcurrent = defaultMaxConcurrent
	}

	if c.Worker.RequestTimeoutSeconds <= 0 {
		c.Worker.RequestTimeoutSeconds = defaultRequestTimeout
	}
}

func (m *ModelsConfig) applyDefaults() {
	if m.SynthesizerDir == "" {
		m.SynthesizerDir = defaultSynthesizerDir
	}

	if m.ConverterDir == "" {
		m.ConverterDir = defaultConverterDir
	}

	if m.EmbeddingsDir == "" {
		m.EmbeddingsDir = defaultEmbeddingsDir
	}

	if m.Device == "" {
		m.Device = defaultDevice
	}

	if m.Language == "" {
		m.Language = defaultLanguage
	}

	if m.Tau == 0 {
		m.Tau = defaultTau
	}

	if len(m.Styles) == 0 {
		m.Styles = map[string]string{
			string(core.StyleDefault): defaultStyleDefaultFile,
			string(core.StyleStyle):   defaultStyleExpressiveFile,
		}
	}
}

// Validate ensures that the configuration is complete and consistent.
func (c *Config) Validate() error {
	if c.Models.CheckpointRoot == "" {
		return ErrCheckpointRootEmpty
	}

	if c.Inference.ServiceURL == "" {
		return ErrServiceURLEmpty
	}

	if c.Extraction.MaxDurationSeconds <= 0 {
		return fmt.Errorf("%w: got %f", ErrMaxDuration, c.Extraction.MaxDurationSeconds)
	}

	if c.Models.Tau < 0.0 || c.Models.Tau > 1.0 {
		return fmt.Errorf("%w: got %f", ErrTauRange, c.Models.Tau)
	}

	for _, style := range core.Styles() {
		if c.Models.Styles[string(style)] == "" {
			return fmt.Errorf("%w: '%s'", ErrStyleUnmapped, style)
		}
	}

	return nil
}

// BundleConfig derives the immutable model bundle key.
func (c *Config) BundleConfig() core.BundleConfig {
	return core.BundleConfig{
		CheckpointRoot: c.Models.CheckpointRoot,
		SynthesizerDir: c.Models.SynthesizerDir,
		ConverterDir:   c.Models.ConverterDir,
		Device:         c.Models.Device,
		Watermark: core.WatermarkPolicy{
			Enabled: c.Models.EnableWatermark,
			Message: c.Models.WatermarkMessage,
		},
	}
}

// MaxDuration returns the reference-audio duration limit.
func (c *Config) MaxDuration() time.Duration {
	return time.Duration(c.Extraction.MaxDurationSeconds * float64(time.Second))
}

// VADEnabled reports whether extraction trims silence first.
func (c *Config) VADEnabled() bool {
	return c.Extraction.UseVAD == nil || *c.Extraction.UseVAD
}

// InferenceTimeout returns the per-call sidecar timeout.
func (c *Config) InferenceTimeout() time.Duration {
	return time.Duration(c.Inference.TimeoutSeconds) * time.Second
}

// RequestTimeout returns the per-request worker timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Worker.RequestTimeoutSeconds) * time.Second
}
