// Package core defines the domain types and collaborator interfaces for the voice conversion service.
package core

import (
	"context"
	"time"
)

// ObjectStore defines the interface for interacting with a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
	Upload(ctx context.Context, key string, data []byte) error
}

// SynthesisParams describes one base synthesis call.
type SynthesisParams struct {
	Text       string
	Speaker    string
	Language   string
	OutputPath string
}

// Synthesizer renders text in a preset voice and writes WAV audio to OutputPath.
type Synthesizer interface {
	Synthesize(ctx context.Context, params SynthesisParams) error
}

// ExtractParams describes one speaker-embedding extraction.
type ExtractParams struct {
	AudioPath   string
	MaxDuration time.Duration
	UseVAD      bool
	// WorkDir receives the voice-activity segments when UseVAD is set.
	WorkDir string
	// Name is assigned to the returned embedding.
	Name string
}

// Extractor derives a speaker embedding from reference audio.
type Extractor interface {
	ExtractEmbedding(ctx context.Context, params ExtractParams) (Embedding, error)
}

// ConvertParams describes one tone-color conversion.
type ConvertParams struct {
	BaseAudioPath string
	Source        Embedding
	Target        Embedding
	OutputPath    string
	Tau           float64
	Watermark     WatermarkPolicy
}

// WatermarkPolicy is fixed when the converter is constructed.
type WatermarkPolicy struct {
	Enabled bool
	Message string
}

// Converter re-voices base audio from a source embedding to a target embedding.
type Converter interface {
	ConvertTone(ctx context.Context, params ConvertParams) error
}

// ToneConverter is the converter model, which also hosts embedding extraction.
type ToneConverter interface {
	Extractor
	Converter
}

// BundleConfig identifies a model bundle. It is comparable and used as the registry key.
type BundleConfig struct {
	CheckpointRoot string
	SynthesizerDir string
	ConverterDir   string
	Device         string
	Watermark      WatermarkPolicy
}
