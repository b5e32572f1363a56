// Package registry constructs inference model bundles once per process and shares them.
package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/book-expert/logger"
	"github.com/book-expert/voiceclone-service/internal/core"
)

// Checkpoint file names expected in every model directory.
const (
	ConfigFile     = "config.json"
	CheckpointFile = "checkpoint.pth"
)

// Loader builds the heavy inference models.
type Loader interface {
	LoadSynthesizer(ctx context.Context, cfg core.BundleConfig) (core.Synthesizer, error)
	LoadConverter(ctx context.Context, cfg core.BundleConfig) (core.ToneConverter, error)
}

// Bundle is a constructed, read-only pair of models.
type Bundle struct {
	config      core.BundleConfig
	synthesizer core.Synthesizer
	converter   core.ToneConverter
}

// Config returns the configuration the bundle was built with.
func (b *Bundle) Config() core.BundleConfig {
	return b.config
}

// Synthesizer returns the base speech model.
func (b *Bundle) Synthesizer() core.Synthesizer {
	return b.synthesizer
}

// Converter returns the tone-color converter, which also extracts embeddings.
func (b *Bundle) Converter() core.ToneConverter {
	return b.converter
}

// Device returns the execution device.
func (b *Bundle) Device() string {
	return b.config.Device
}

// Watermark returns the watermark policy fixed at construction.
func (b *Bundle) Watermark() core.WatermarkPolicy {
	return b.config.Watermark
}

type entry struct {
	done   chan struct{}
	bundle *Bundle
	err    error
}

// Registry caches one bundle per configuration for the lifetime of the process.
type Registry struct {
	loader Loader
	log    *logger.Logger

	mu      sync.Mutex
	entries map[core.BundleConfig]*entry

	constructions atomic.Int32
}

// New creates an empty registry.
func New(loader Loader, log *logger.Logger) *Registry {
	return &Registry{
		loader:  loader,
		log:     log,
		entries: make(map[core.BundleConfig]*entry),
	}
}

// GetBundle returns the bundle for cfg, constructing it on the first call.
// Concurrent first callers wait for a single construction. A failed construction
// is remembered and returned to every later caller.
func (r *Registry) GetBundle(ctx context.Context, cfg core.BundleConfig) (*Bundle, error) {
	r.mu.Lock()
	current, ok := r.entries[cfg]

	if !ok {
		current = &entry{done: make(chan struct{})}
		r.entries[cfg] = current
	}
	r.mu.Unlock()

	if !ok {
		r.fill(ctx, cfg, current)

		return current.bundle, current.err
	}

	select {
	case <-current.done:
		return current.bundle, current.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: waiting for model bundle: %w", core.ErrCanceled, ctx.Err())
	}
}

// fill constructs the bundle for a new entry and always releases its waiters.
// A panicking loader leaves a sticky ErrModelLoad behind.
func (r *Registry) fill(ctx context.Context, cfg core.BundleConfig, current *entry) {
	defer close(current.done)

	defer func() {
		recovered := recover()
		if recovered != nil {
			r.log.Error("Model bundle construction panicked: %v", recovered)

			current.bundle = nil
			current.err = fmt.Errorf("%w: construction panicked: %v", core.ErrModelLoad, recovered)
		}
	}()

	// The first caller's cancellation must not poison the shared entry.
	current.bundle, current.err = r.construct(context.WithoutCancel(ctx), cfg)
}

// Constructions reports how many bundles were constructed.
func (r *Registry) Constructions() int {
	return int(r.constructions.Load())
}

func (r *Registry) construct(ctx context.Context, cfg core.BundleConfig) (*Bundle, error) {
	r.constructions.Add(1)
	r.log.Info("Constructing model bundle (device: %s, watermark: %t)", cfg.Device, cfg.Watermark.Enabled)

	err := checkCheckpoints(cfg)
	if err != nil {
		r.log.Error("Model bundle checkpoints unavailable: %v", err)

		return nil, err
	}

	synthesizer, err := r.loader.LoadSynthesizer(ctx, cfg)
	if err != nil {
		r.log.Error("Failed to load synthesizer: %v", err)

		return nil, fmt.Errorf("%w: synthesizer: %w", core.ErrModelLoad, err)
	}

	converter, err := r.loader.LoadConverter(ctx, cfg)
	if err != nil {
		r.log.Error("Failed to load converter: %v", err)

		return nil, fmt.Errorf("%w: converter: %w", core.ErrModelLoad, err)
	}

	if synthesizer == nil || converter == nil {
		return nil, fmt.Errorf("%w: loader returned no model", core.ErrModelLoad)
	}

	r.log.System("Model bundle ready on device %s", cfg.Device)

	return &Bundle{config: cfg, synthesizer: synthesizer, converter: converter}, nil
}

func checkCheckpoints(cfg core.BundleConfig) error {
	if cfg.CheckpointRoot == "" {
		return fmt.Errorf("%w: checkpoint root is empty", core.ErrModelLoad)
	}

	for _, dir := range []string{cfg.SynthesizerDir, cfg.ConverterDir} {
		for _, name := range []string{ConfigFile, CheckpointFile} {
			path := filepath.Join(cfg.CheckpointRoot, dir, name)

			info, err := os.Stat(path)
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("%w: missing %s", core.ErrModelLoad, filepath.Join(dir, name))
			}

			if err != nil {
				return fmt.Errorf("%w: %w", core.ErrModelLoad, err)
			}

			if info.IsDir() || info.Size() == 0 {
				return fmt.Errorf("%w: %s is not a usable file", core.ErrModelLoad, filepath.Join(dir, name))
			}
		}
	}

	return nil
}

// ModelPaths returns the config and checkpoint paths of a model directory.
func ModelPaths(cfg core.BundleConfig, dir string) (configPath, checkpointPath string) {
	base := filepath.Join(cfg.CheckpointRoot, dir)

	return filepath.Join(base, ConfigFile), filepath.Join(base, CheckpointFile)
}
