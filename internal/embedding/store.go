// Package embedding resolves named speaker embeddings and extracts new ones from reference audio.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voiceclone-service/internal/core"
	"golang.org/x/sync/singleflight"
)

// ErrMaxDurationRequired indicates an extraction policy without a duration limit.
var ErrMaxDurationRequired = errors.New("max duration must be positive")

// Options configures a Store.
type Options struct {
	// Root is the local cache directory holding embedding files.
	Root string
	// RemoteDir is the path of the embedding files below the remote base URL.
	RemoteDir string
	// Files maps each registered embedding name to its file stem.
	Files map[string]string
	// MaxDuration caps the reference audio consumed by extraction.
	MaxDuration time.Duration
	UseVAD      bool
}

// Store holds named embeddings and fetches missing ones on first use.
type Store struct {
	root        string
	remoteDir   string
	files       map[string]string
	maxDuration time.Duration
	useVAD      bool
	fetcher     *Fetcher
	log         *logger.Logger

	fetches singleflight.Group

	mu     sync.RWMutex
	loaded map[string]core.Embedding
}

// NewStore creates a store. fetcher may be nil when every file is already local.
func NewStore(opts Options, fetcher *Fetcher, log *logger.Logger) (*Store, error) {
	if opts.Root == "" {
		return nil, errors.New("embedding root cannot be empty")
	}

	if opts.MaxDuration <= 0 {
		return nil, ErrMaxDurationRequired
	}

	files := make(map[string]string, len(opts.Files))
	for name, stem := range opts.Files {
		files[name] = stem
	}

	return &Store{
		root:        opts.Root,
		remoteDir:   opts.RemoteDir,
		files:       files,
		maxDuration: opts.MaxDuration,
		useVAD:      opts.UseVAD,
		fetcher:     fetcher,
		log:         log,
		loaded:      make(map[string]core.Embedding),
	}, nil
}

// Names lists the registered embedding names.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.files))
	for name := range s.files {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}

// Has reports whether name is registered.
func (s *Store) Has(name string) bool {
	_, ok := s.files[name]

	return ok
}

// LocalPath returns the cache path for name.
func (s *Store) LocalPath(name string) (string, error) {
	stem, ok := s.files[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", core.ErrUnknownEmbedding, name)
	}

	return filepath.Join(s.root, stem+FileExt), nil
}

// EnsureLocal fetches the embedding file for name unless it is already cached.
// Concurrent callers for the same name share one download.
func (s *Store) EnsureLocal(ctx context.Context, name string) (string, error) {
	localPath, err := s.LocalPath(name)
	if err != nil {
		return "", err
	}

	_, err = os.Stat(localPath)
	if err == nil {
		return localPath, nil
	}

	if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: stat '%s': %w", core.ErrFetch, name, err)
	}

	if s.fetcher == nil {
		return "", fmt.Errorf("%w: '%s' is not cached and no remote source is configured", core.ErrFetch, name)
	}

	// The download is shared, so it runs detached from any single caller.
	results := s.fetches.DoChan(name, func() (any, error) {
		s.log.Info("Fetching embedding '%s'", name)

		relPath := filepath.Join(s.remoteDir, filepath.Base(localPath))

		return nil, s.fetcher.Fetch(context.WithoutCancel(ctx), relPath, localPath)
	})

	select {
	case result := <-results:
		if result.Err != nil {
			s.log.Error("Failed to fetch embedding '%s': %v", name, result.Err)

			return "", result.Err
		}

		return localPath, nil
	case <-ctx.Done():
		return "", fmt.Errorf("%w: waiting for embedding '%s': %w", core.ErrCanceled, name, ctx.Err())
	}
}

// Resolve returns the registered embedding for name, loading it on first use.
func (s *Store) Resolve(ctx context.Context, name string) (core.Embedding, error) {
	s.mu.RLock()
	embedding, ok := s.loaded[name]
	s.mu.RUnlock()

	if ok {
		return embedding, nil
	}

	localPath, err := s.EnsureLocal(ctx, name)
	if err != nil {
		return core.Embedding{}, err
	}

	data, err := os.ReadFile(localPath)
	if err != nil {
		return core.Embedding{}, fmt.Errorf("%w: read '%s': %w", core.ErrFetch, name, err)
	}

	decoded, err := Decode(data)
	if err != nil {
		return core.Embedding{}, fmt.Errorf("%w: '%s': %w", core.ErrFetch, name, err)
	}

	embedding = core.NewEmbedding(name, decoded.Values())

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.loaded[name]; ok {
		return existing, nil
	}

	s.loaded[name] = embedding

	return embedding, nil
}

// Extract derives a target embedding from the reference audio at audioPath.
// workDir receives voice-activity segments and is owned by the caller.
func (s *Store) Extract(
	ctx context.Context,
	extractor core.Extractor,
	name, audioPath, workDir string,
) (core.Embedding, error) {
	if s.Has(name) {
		return core.Embedding{}, fmt.Errorf("%w: '%s' collides with a registered embedding", core.ErrExtraction, name)
	}

	embedding, err := extractor.ExtractEmbedding(ctx, core.ExtractParams{
		AudioPath:   audioPath,
		MaxDuration: s.maxDuration,
		UseVAD:      s.useVAD,
		WorkDir:     workDir,
		Name:        name,
	})
	if err != nil {
		return core.Embedding{}, fmt.Errorf("%w: %w", core.ErrExtraction, err)
	}

	if embedding.IsZero() {
		return core.Embedding{}, fmt.Errorf("%w: extractor returned an empty embedding", core.ErrExtraction)
	}

	if embedding.Name() != name {
		embedding = core.NewEmbedding(name, embedding.Values())
	}

	return embedding, nil
}

// Loaded lists the names currently held in memory.
func (s *Store) Loaded() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.loaded))
	for name := range s.loaded {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}
