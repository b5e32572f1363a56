// Package pipeline orchestrates a voice conversion request through embedding
// extraction, base synthesis and tone-color conversion.
//
// Stages run strictly in order:
//
//	Validating -> ExtractingEmbedding -> Synthesizing -> Converting -> Done
//
// Any stage may fail; the request then ends as a *core.StageError naming that
// stage. Every scratch artifact allocated for the request is released on both
// paths before Submit returns.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voiceclone-service/internal/audio"
	"github.com/book-expert/voiceclone-service/internal/core"
	"github.com/book-expert/voiceclone-service/internal/registry"
	"github.com/book-expert/voiceclone-service/internal/scratch"
	"github.com/book-expert/voiceclone-service/internal/text"
	"github.com/google/uuid"
)

const (
	filePermissions = 0o600
	dirPermissions  = 0o750

	targetEmbeddingPrefix = "target-"
)

// Field names reported by validation.
const (
	fieldReferenceAudio = "reference_audio"
	fieldText           = "text"
	fieldStyle          = "style"
	fieldID             = "id"
)

var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// BundleSource hands out the shared model bundle.
type BundleSource interface {
	GetBundle(ctx context.Context, cfg core.BundleConfig) (*registry.Bundle, error)
}

// EmbeddingStore resolves registered embeddings and extracts new ones.
type EmbeddingStore interface {
	Resolve(ctx context.Context, name string) (core.Embedding, error)
	Extract(ctx context.Context, extractor core.Extractor, name, audioPath, workDir string) (core.Embedding, error)
}

// Options holds per-deployment synthesis settings.
type Options struct {
	Bundle   core.BundleConfig
	Language string
	Tau      float64
}

// Pipeline runs conversion requests. It is safe for concurrent use.
type Pipeline struct {
	bundles    BundleSource
	embeddings EmbeddingStore
	scratch    *scratch.Manager
	normalizer *text.Normalizer
	opts       Options
	log        *logger.Logger
}

// New wires a pipeline.
func New(
	bundles BundleSource,
	embeddings EmbeddingStore,
	scratchManager *scratch.Manager,
	opts Options,
	log *logger.Logger,
) *Pipeline {
	return &Pipeline{
		bundles:    bundles,
		embeddings: embeddings,
		scratch:    scratchManager,
		normalizer: text.NewNormalizer(),
		opts:       opts,
		log:        log,
	}
}

// run carries the state of one request between stages.
type run struct {
	id     string
	req    core.ConversionRequest
	style  core.Style
	scope  *scratch.Scope
	bundle *registry.Bundle
	stages []core.Stage

	source core.Embedding
	target core.Embedding
	base   scratch.Artifact
	output scratch.Artifact
}

// Submit executes req and returns either a result or a *core.StageError, never both.
func (p *Pipeline) Submit(ctx context.Context, req core.ConversionRequest) (*core.ConversionResult, error) {
	started := time.Now()

	state := &run{id: req.ID, req: req}
	if state.id == "" {
		state.id = uuid.NewString()
	}

	result, stage, err := p.execute(ctx, state)
	if state.scope != nil {
		// Release failures are logged by the scope and never fail the request.
		_ = state.scope.Close()
	}

	if err != nil {
		p.log.Error("Request %s failed at %s: %v", state.id, stage, err)

		return nil, &core.StageError{RequestID: state.id, Stage: stage, Err: err}
	}

	result.Elapsed = time.Since(started)
	p.log.Info("Request %s done in %s (source: %s, target: %s)",
		state.id, result.Elapsed, result.SourceEmbedding, result.TargetEmbedding)

	return result, nil
}

func (p *Pipeline) execute(ctx context.Context, state *run) (*core.ConversionResult, core.Stage, error) {
	steps := []struct {
		stage core.Stage
		fn    func(context.Context, *run) error
	}{
		{core.StageValidating, p.validate},
		{core.StageExtractingEmbedding, p.extractEmbedding},
		{core.StageSynthesizing, p.synthesize},
		{core.StageConverting, p.convert},
	}

	for _, step := range steps {
		err := ctx.Err()
		if err != nil {
			return nil, step.stage, fmt.Errorf("%w: %w", core.ErrCanceled, err)
		}

		p.log.Info("Request %s entering %s", state.id, step.stage)
		state.stages = append(state.stages, step.stage)

		err = step.fn(ctx, state)
		if err != nil {
			if ctx.Err() != nil && !errors.Is(err, core.ErrCanceled) {
				err = fmt.Errorf("%w: %w", core.ErrCanceled, err)
			}

			return nil, step.stage, err
		}
	}

	result, err := p.finish(state)
	if err != nil {
		return nil, core.StageConverting, err
	}

	state.stages = append(state.stages, core.StageDone)
	result.Stages = state.stages

	return result, core.StageDone, nil
}

func (p *Pipeline) validate(_ context.Context, state *run) error {
	var fields []string

	if !requestIDPattern.MatchString(state.id) {
		fields = append(fields, fieldID+" may only contain letters, digits, '.', '_' and '-'")
	}

	if len(state.req.ReferenceAudio) == 0 {
		fields = append(fields, fieldReferenceAudio+" is required")
	} else if info, err := audio.Probe(state.req.ReferenceAudio); err != nil {
		fields = append(fields, fieldReferenceAudio+" is not a readable WAV file")
	} else if err := audio.ValidateReference(info); err != nil {
		fields = append(fields, fieldReferenceAudio+" has an unsupported format")
	}

	if strings.TrimSpace(state.req.Text) == "" {
		fields = append(fields, fieldText+" is required")
	}

	style, err := core.ParseStyle(state.req.Style)
	if err != nil {
		fields = append(fields, fmt.Sprintf("%s must be one of %v", fieldStyle, core.Styles()))
	}

	if len(fields) > 0 {
		return &core.InvalidInputError{Fields: fields}
	}

	state.style = style

	return nil
}

func (p *Pipeline) extractEmbedding(ctx context.Context, state *run) error {
	bundle, err := p.bundles.GetBundle(ctx, p.opts.Bundle)
	if err != nil {
		return err
	}

	state.bundle = bundle

	scope, err := p.scratch.NewScope(state.id)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrExtraction, err)
	}

	state.scope = scope

	reference, err := scope.Allocate(scratch.KindReference)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrExtraction, err)
	}

	err = os.WriteFile(reference.Path, state.req.ReferenceAudio, filePermissions)
	if err != nil {
		return fmt.Errorf("%w: write reference audio: %w", core.ErrExtraction, err)
	}

	segments, err := scope.Allocate(scratch.KindSegments)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrExtraction, err)
	}

	target, err := p.embeddings.Extract(ctx, bundle.Converter(), targetEmbeddingPrefix+state.id,
		reference.Path, segments.Path)

	releaseErr := scope.Release(segments)
	if releaseErr != nil {
		p.log.Warn("Request %s: %v", state.id, releaseErr)
	}

	if err != nil {
		return err
	}

	// The source always comes from the selected style, never from the upload.
	source, err := p.embeddings.Resolve(ctx, state.style.String())
	if err != nil {
		return err
	}

	state.source = source
	state.target = target

	return nil
}

func (p *Pipeline) synthesize(ctx context.Context, state *run) error {
	base, err := state.scope.Allocate(scratch.KindBase)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrSynthesis, err)
	}

	state.base = base

	prepared := p.normalizer.Normalize(state.req.Text)
	if prepared == "" {
		return fmt.Errorf("%w: text is empty after normalization", core.ErrSynthesis)
	}

	err = state.bundle.Synthesizer().Synthesize(ctx, core.SynthesisParams{
		Text:       prepared,
		Speaker:    state.style.Speaker(),
		Language:   p.opts.Language,
		OutputPath: base.Path,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrSynthesis, err)
	}

	err = requireAudio(base.Path)
	if err != nil {
		return fmt.Errorf("%w: base audio: %w", core.ErrSynthesis, err)
	}

	return nil
}

func (p *Pipeline) convert(ctx context.Context, state *run) error {
	if state.source.Dim() != state.target.Dim() {
		return fmt.Errorf("%w: embedding dimension mismatch: source %d, target %d",
			core.ErrConversion, state.source.Dim(), state.target.Dim())
	}

	output, err := state.scope.Allocate(scratch.KindOutput)
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrConversion, err)
	}

	state.output = output

	err = state.bundle.Converter().ConvertTone(ctx, core.ConvertParams{
		BaseAudioPath: state.base.Path,
		Source:        state.source,
		Target:        state.target,
		OutputPath:    output.Path,
		Tau:           p.opts.Tau,
		Watermark:     state.bundle.Watermark(),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", core.ErrConversion, err)
	}

	err = requireAudio(output.Path)
	if err != nil {
		return fmt.Errorf("%w: converted audio: %w", core.ErrConversion, err)
	}

	return nil
}

// finish reads the final artifact into the result and delivers the optional copy.
func (p *Pipeline) finish(state *run) (*core.ConversionResult, error) {
	data, err := os.ReadFile(state.output.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: read converted audio: %w", core.ErrConversion, err)
	}

	result := &core.ConversionResult{
		RequestID:       state.id,
		Audio:           data,
		SourceEmbedding: state.source.Name(),
		TargetEmbedding: state.target.Name(),
	}

	if state.req.OutputPath != "" {
		err = deliver(state.req.OutputPath, data)
		if err != nil {
			return nil, fmt.Errorf("%w: deliver output: %w", core.ErrConversion, err)
		}

		result.OutputPath = state.req.OutputPath
	}

	return result, nil
}

func requireAudio(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("not produced: %w", err)
	}

	if info.Size() == 0 {
		return errors.New("empty file")
	}

	return nil
}

// deliver writes data to path via a sibling temp file and rename.
func deliver(path string, data []byte) error {
	dir := filepath.Dir(path)

	err := os.MkdirAll(dir, dirPermissions)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".voiceclone-*.wav")
	if err != nil {
		return err
	}

	_, writeErr := tmp.Write(data)
	closeErr := tmp.Close()

	err = errors.Join(writeErr, closeErr)
	if err == nil {
		err = os.Rename(tmp.Name(), path)
	}

	if err != nil {
		_ = os.Remove(tmp.Name())

		return err
	}

	return nil
}
