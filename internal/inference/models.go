package inference

import (
	"context"
	"fmt"
	"os"

	"github.com/book-expert/logger"
	"github.com/book-expert/voiceclone-service/internal/core"
	"github.com/book-expert/voiceclone-service/internal/registry"
)

const filePermissions = 0o600

// Loader constructs sidecar-hosted models for the registry.
type Loader struct {
	client *Client
	log    *logger.Logger
}

// NewLoader creates a Loader backed by client.
func NewLoader(client *Client, log *logger.Logger) *Loader {
	return &Loader{client: client, log: log}
}

// LoadSynthesizer implements registry.Loader.
func (l *Loader) LoadSynthesizer(ctx context.Context, cfg core.BundleConfig) (core.Synthesizer, error) {
	modelID, err := l.load(ctx, KindSynthesizer, cfg, cfg.SynthesizerDir)
	if err != nil {
		return nil, err
	}

	return &Synthesizer{client: l.client, modelID: modelID}, nil
}

// LoadConverter implements registry.Loader.
func (l *Loader) LoadConverter(ctx context.Context, cfg core.BundleConfig) (core.ToneConverter, error) {
	modelID, err := l.load(ctx, KindConverter, cfg, cfg.ConverterDir)
	if err != nil {
		return nil, err
	}

	return &Converter{client: l.client, modelID: modelID, watermark: cfg.Watermark}, nil
}

func (l *Loader) load(ctx context.Context, kind string, cfg core.BundleConfig, dir string) (string, error) {
	configPath, checkpointPath := registry.ModelPaths(cfg, dir)

	modelID, err := l.client.LoadModel(ctx, LoadModelRequest{
		Kind:            kind,
		ConfigPath:      configPath,
		CheckpointPath:  checkpointPath,
		Device:          cfg.Device,
		EnableWatermark: cfg.Watermark.Enabled,
	})
	if err != nil {
		return "", err
	}

	l.log.Info("Loaded %s model %s from %s", kind, modelID, checkpointPath)

	return modelID, nil
}

// Synthesizer is the sidecar's base speaker model.
type Synthesizer struct {
	client  *Client
	modelID string
}

// Synthesize implements core.Synthesizer.
func (s *Synthesizer) Synthesize(ctx context.Context, params core.SynthesisParams) error {
	audioData, err := s.client.Synthesize(ctx, SynthesizeRequest{
		ModelID:  s.modelID,
		Text:     params.Text,
		Speaker:  params.Speaker,
		Language: params.Language,
	})
	if err != nil {
		return err
	}

	return writeAudio(params.OutputPath, audioData)
}

// Converter is the sidecar's tone-color converter. It also extracts embeddings.
type Converter struct {
	client    *Client
	modelID   string
	watermark core.WatermarkPolicy
}

// ExtractEmbedding implements core.Extractor.
func (c *Converter) ExtractEmbedding(ctx context.Context, params core.ExtractParams) (core.Embedding, error) {
	values, err := c.client.ExtractEmbedding(ctx, ExtractRequest{
		ModelID:            c.modelID,
		AudioPath:          params.AudioPath,
		MaxDurationSeconds: params.MaxDuration.Seconds(),
		VAD:                params.UseVAD,
		WorkDir:            params.WorkDir,
	})
	if err != nil {
		return core.Embedding{}, err
	}

	return core.NewEmbedding(params.Name, values), nil
}

// ConvertTone implements core.Converter. The watermark policy fixed at load
// time takes precedence over the one carried by params.
func (c *Converter) ConvertTone(ctx context.Context, params core.ConvertParams) error {
	audioData, err := c.client.Convert(ctx, ConvertRequest{
		ModelID:         c.modelID,
		AudioSrcPath:    params.BaseAudioPath,
		SourceEmbedding: params.Source.Values(),
		TargetEmbedding: params.Target.Values(),
		Tau:             params.Tau,
		Message:         c.watermark.Message,
		EnableWatermark: c.watermark.Enabled,
	})
	if err != nil {
		return err
	}

	return writeAudio(params.OutputPath, audioData)
}

func writeAudio(path string, data []byte) error {
	err := os.WriteFile(path, data, filePermissions)
	if err != nil {
		return fmt.Errorf("failed to write audio file: %w", err)
	}

	return nil
}
