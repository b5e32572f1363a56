// Package app assembles the conversion components from a loaded configuration.
package app

import (
	"fmt"
	"path/filepath"

	"github.com/book-expert/logger"
	"github.com/book-expert/voiceclone-service/internal/config"
	"github.com/book-expert/voiceclone-service/internal/embedding"
	"github.com/book-expert/voiceclone-service/internal/inference"
	"github.com/book-expert/voiceclone-service/internal/pipeline"
	"github.com/book-expert/voiceclone-service/internal/registry"
	"github.com/book-expert/voiceclone-service/internal/scratch"
)

// Components are the long-lived collaborators shared by every request.
type Components struct {
	Inference  *inference.Client
	Registry   *registry.Registry
	Embeddings *embedding.Store
	Scratch    *scratch.Manager
	Pipeline   *pipeline.Pipeline
}

// Assemble wires the components described by cfg. Nothing is loaded or fetched yet.
func Assemble(cfg *config.Config, log *logger.Logger) (*Components, error) {
	client := inference.NewClient(cfg.Inference.ServiceURL, cfg.InferenceTimeout())
	models := registry.New(inference.NewLoader(client, log), log)

	var fetcher *embedding.Fetcher
	if cfg.Models.RemoteBaseURL != "" {
		fetcher = embedding.NewFetcher(cfg.Models.RemoteBaseURL, cfg.InferenceTimeout())
	}

	embeddings, err := embedding.NewStore(embedding.Options{
		Root:        filepath.Join(cfg.Models.CheckpointRoot, cfg.Models.EmbeddingsDir),
		RemoteDir:   cfg.Models.EmbeddingsDir,
		Files:       cfg.Models.Styles,
		MaxDuration: cfg.MaxDuration(),
		UseVAD:      cfg.VADEnabled(),
	}, fetcher, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding store: %w", err)
	}

	scratchManager, err := scratch.New(cfg.Paths.ScratchRoot, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch root: %w", err)
	}

	pipe := pipeline.New(models, embeddings, scratchManager, pipeline.Options{
		Bundle:   cfg.BundleConfig(),
		Language: cfg.Models.Language,
		Tau:      cfg.Models.Tau,
	}, log)

	return &Components{
		Inference:  client,
		Registry:   models,
		Embeddings: embeddings,
		Scratch:    scratchManager,
		Pipeline:   pipe,
	}, nil
}
