package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/voiceclone-service/internal/core"
	"github.com/book-expert/voiceclone-service/internal/embedding"
	"github.com/book-expert/voiceclone-service/internal/pipeline"
	"github.com/book-expert/voiceclone-service/internal/registry"
	"github.com/book-expert/voiceclone-service/internal/scratch"
	"github.com/book-expert/voiceclone-service/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errCollaborator = errors.New("collaborator exploded")

type testEnv struct {
	pipeline *pipeline.Pipeline
	loader   *testutil.FakeLoader
	registry *registry.Registry
	scratch  *scratch.Manager
	root     string
}

type envOption func(*envSettings)

type envSettings struct {
	skipCheckpoints bool
	skipEmbeddings  bool
	watermark       core.WatermarkPolicy
}

func withoutCheckpoints() envOption {
	return func(s *envSettings) { s.skipCheckpoints = true }
}

func withoutEmbeddings() envOption {
	return func(s *envSettings) { s.skipEmbeddings = true }
}

func newEnv(t *testing.T, options ...envOption) *testEnv {
	t.Helper()

	var settings envSettings
	for _, option := range options {
		option(&settings)
	}

	root := t.TempDir()
	log := testutil.NewLogger(t)

	if !settings.skipCheckpoints {
		testutil.WriteCheckpoints(t, root, "base_speakers/EN", "converter")
	}

	embeddingsDir := filepath.Join(root, "base_speakers/EN")
	if !settings.skipEmbeddings {
		testutil.WriteEmbedding(t, embeddingsDir, "en_default_se", testutil.Vector(1))
		testutil.WriteEmbedding(t, embeddingsDir, "en_style_se", testutil.Vector(2))
	}

	store, err := embedding.NewStore(embedding.Options{
		Root:        embeddingsDir,
		RemoteDir:   "base_speakers/EN",
		Files:       map[string]string{"default": "en_default_se", "style": "en_style_se"},
		MaxDuration: 60 * time.Second,
		UseVAD:      true,
	}, nil, log)
	require.NoError(t, err)

	scratchManager, err := scratch.New(filepath.Join(t.TempDir(), "scratch"), log)
	require.NoError(t, err)

	loader := testutil.NewFakeLoader()
	reg := registry.New(loader, log)

	pipe := pipeline.New(reg, store, scratchManager, pipeline.Options{
		Bundle: core.BundleConfig{
			CheckpointRoot: root,
			SynthesizerDir: "base_speakers/EN",
			ConverterDir:   "converter",
			Device:         "cpu",
			Watermark:      settings.watermark,
		},
		Language: "English",
		Tau:      0.3,
	}, log)

	return &testEnv{pipeline: pipe, loader: loader, registry: reg, scratch: scratchManager, root: root}
}

func (e *testEnv) assertNoScratchLeft(t *testing.T) {
	t.Helper()

	entries, err := os.ReadDir(e.scratch.Root())
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch root should be empty after the request terminates")
}

func (e *testEnv) modelCalls() int {
	return int(e.loader.Synthesizer.Calls.Load() +
		e.loader.Converter.ExtractCalls.Load() +
		e.loader.Converter.ConvertCalls.Load())
}

func validRequest(t *testing.T) core.ConversionRequest {
	t.Helper()

	return core.ConversionRequest{
		ReferenceAudio: testutil.WAV(t, 2*time.Second, 440),
		Text:           "Hello there",
		Style:          "style",
	}
}

func requireStageError(t *testing.T, err error, stage core.Stage, category error) *core.StageError {
	t.Helper()

	var stageErr *core.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, stage, stageErr.Stage)
	require.ErrorIs(t, stageErr.Category(), category)

	return stageErr
}

func TestSubmit_EmptyTextRejectedWithoutModelWork(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	req := validRequest(t)
	req.Text = "   "

	result, err := env.pipeline.Submit(context.Background(), req)
	require.Nil(t, result)

	stageErr := requireStageError(t, err, core.StageValidating, core.ErrInvalidInput)
	assert.Contains(t, stageErr.UserMessage(), "text is required")

	assert.Equal(t, 0, env.registry.Constructions())
	assert.Equal(t, int32(0), env.loader.SynthesizerLoads.Load())
	assert.Equal(t, 0, env.modelCalls())
	env.assertNoScratchLeft(t)
}

func TestSubmit_ValidationListsEveryField(t *testing.T) {
	t.Parallel()

	env := newEnv(t)

	_, err := env.pipeline.Submit(context.Background(), core.ConversionRequest{
		ID:             "../escape",
		ReferenceAudio: []byte("not audio"),
		Style:          "whisper",
	})

	var invalid *core.InvalidInputError
	require.ErrorAs(t, err, &invalid)
	require.ErrorIs(t, err, core.ErrInvalidInput)
	require.Len(t, invalid.Fields, 4)

	joined := strings.Join(invalid.Fields, "|")
	assert.Contains(t, joined, "id")
	assert.Contains(t, joined, "reference_audio")
	assert.Contains(t, joined, "text")
	assert.Contains(t, joined, "style")
	assert.Equal(t, 0, env.registry.Constructions())
}

func TestSubmit_Success(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	req := validRequest(t)
	req.ID = "req-success"

	result, err := env.pipeline.Submit(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, []core.Stage{
		core.StageValidating,
		core.StageExtractingEmbedding,
		core.StageSynthesizing,
		core.StageConverting,
		core.StageDone,
	}, result.Stages)
	assert.Equal(t, "req-success", result.RequestID)
	assert.Equal(t, "style", result.SourceEmbedding)
	assert.Equal(t, "target-req-success", result.TargetEmbedding)
	assert.NotEmpty(t, result.Audio)
	assert.Empty(t, result.OutputPath)

	synth := env.loader.Synthesizer.LastParams()
	assert.Equal(t, "Hello there.", synth.Text)
	assert.Equal(t, "style", synth.Speaker)
	assert.Equal(t, "English", synth.Language)

	extract := env.loader.Converter.LastExtractParams()
	assert.Equal(t, 60*time.Second, extract.MaxDuration)
	assert.True(t, extract.UseVAD)

	convert := env.loader.Converter.LastConvertParams()
	assert.Equal(t, "style", convert.Source.Name())
	assert.Equal(t, testutil.Vector(2), convert.Source.Values())
	assert.Equal(t, "target-req-success", convert.Target.Name())
	assert.InDelta(t, 0.3, convert.Tau, 1e-9)
	assert.False(t, convert.Watermark.Enabled)

	assert.Equal(t, int32(1), env.loader.Synthesizer.Calls.Load())
	assert.Equal(t, int32(1), env.loader.Converter.ExtractCalls.Load())
	assert.Equal(t, int32(1), env.loader.Converter.ConvertCalls.Load())
	env.assertNoScratchLeft(t)
}

func TestSubmit_DeliversOutputPath(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	req := validRequest(t)
	req.OutputPath = filepath.Join(t.TempDir(), "out", "converted.wav")

	result, err := env.pipeline.Submit(context.Background(), req)
	require.NoError(t, err)

	delivered, err := os.ReadFile(req.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, result.Audio, delivered)
	assert.Equal(t, req.OutputPath, result.OutputPath)
	env.assertNoScratchLeft(t)
}

func TestSubmit_ExtractionFailure(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	env.loader.Converter.ExtractErr = errCollaborator

	result, err := env.pipeline.Submit(context.Background(), validRequest(t))
	require.Nil(t, result)

	stageErr := requireStageError(t, err, core.StageExtractingEmbedding, core.ErrExtraction)
	require.ErrorIs(t, err, errCollaborator)
	assert.NotContains(t, stageErr.UserMessage(), "exploded")

	assert.Equal(t, int32(0), env.loader.Synthesizer.Calls.Load())
	assert.Equal(t, int32(0), env.loader.Converter.ConvertCalls.Load())
	env.assertNoScratchLeft(t)
}

func TestSubmit_SynthesisFailure(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	env.loader.Synthesizer.Err = errCollaborator

	_, err := env.pipeline.Submit(context.Background(), validRequest(t))
	requireStageError(t, err, core.StageSynthesizing, core.ErrSynthesis)

	assert.Equal(t, int32(0), env.loader.Converter.ConvertCalls.Load())
	env.assertNoScratchLeft(t)
}

func TestSubmit_ConversionFailure(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	env.loader.Converter.ConvertErr = errCollaborator

	_, err := env.pipeline.Submit(context.Background(), validRequest(t))
	requireStageError(t, err, core.StageConverting, core.ErrConversion)
	env.assertNoScratchLeft(t)
}

func TestSubmit_DimensionMismatch(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	env.loader.Converter.Dim = testutil.EmbeddingDim / 2

	_, err := env.pipeline.Submit(context.Background(), validRequest(t))
	requireStageError(t, err, core.StageConverting, core.ErrConversion)

	assert.Equal(t, int32(0), env.loader.Converter.ConvertCalls.Load())
	env.assertNoScratchLeft(t)
}

func TestSubmit_MissingStyleEmbedding(t *testing.T) {
	t.Parallel()

	env := newEnv(t, withoutEmbeddings())

	_, err := env.pipeline.Submit(context.Background(), validRequest(t))
	requireStageError(t, err, core.StageExtractingEmbedding, core.ErrFetch)

	assert.Equal(t, int32(0), env.loader.Synthesizer.Calls.Load())
	env.assertNoScratchLeft(t)
}

func TestSubmit_ModelLoadFailure(t *testing.T) {
	t.Parallel()

	env := newEnv(t, withoutCheckpoints())

	_, err := env.pipeline.Submit(context.Background(), validRequest(t))
	stageErr := requireStageError(t, err, core.StageExtractingEmbedding, core.ErrModelLoad)
	assert.NotContains(t, stageErr.UserMessage(), env.root)

	_, err = env.pipeline.Submit(context.Background(), validRequest(t))
	requireStageError(t, err, core.StageExtractingEmbedding, core.ErrModelLoad)

	assert.Equal(t, 1, env.registry.Constructions())
	assert.Equal(t, 0, env.modelCalls())
	env.assertNoScratchLeft(t)
}

func TestSubmit_CanceledBeforeStart(t *testing.T) {
	t.Parallel()

	env := newEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := env.pipeline.Submit(ctx, validRequest(t))
	requireStageError(t, err, core.StageValidating, core.ErrCanceled)
	assert.Equal(t, 0, env.registry.Constructions())
}

func TestSubmit_CanceledBetweenStages(t *testing.T) {
	t.Parallel()

	env := newEnv(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env.loader.Converter.Hook = func(context.Context) error {
		cancel()

		return nil
	}

	_, err := env.pipeline.Submit(ctx, validRequest(t))
	requireStageError(t, err, core.StageSynthesizing, core.ErrCanceled)

	assert.Equal(t, int32(0), env.loader.Synthesizer.Calls.Load())
	env.assertNoScratchLeft(t)
}

func TestSubmit_SelfConversion(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	env.loader.Converter.Vector = testutil.Vector(1)

	req := validRequest(t)
	req.Style = "default"

	result, err := env.pipeline.Submit(context.Background(), req)
	require.NoError(t, err)

	convert := env.loader.Converter.LastConvertParams()
	assert.Equal(t, convert.Source.Values(), convert.Target.Values())
	assert.Equal(t, testutil.WAV(t, time.Second, 220), result.Audio)
}

func TestSubmit_ConcurrentRequestsAreIndependent(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	env.loader.Delay = 20 * time.Millisecond

	requests := []core.ConversionRequest{
		{ID: "alpha", ReferenceAudio: testutil.WAV(t, time.Second, 300), Text: "First voice", Style: "default"},
		{ID: "beta", ReferenceAudio: testutil.WAV(t, 3*time.Second, 500), Text: "Second voice", Style: "style"},
	}

	results := make([]*core.ConversionResult, len(requests))
	errs := make([]error, len(requests))

	var waitGroup sync.WaitGroup

	for i, req := range requests {
		waitGroup.Add(1)

		go func() {
			defer waitGroup.Done()

			results[i], errs[i] = env.pipeline.Submit(context.Background(), req)
		}()
	}

	waitGroup.Wait()

	for i := range requests {
		require.NoError(t, errs[i])
		assert.Equal(t, requests[i].ID, results[i].RequestID)
		assert.Equal(t, "target-"+requests[i].ID, results[i].TargetEmbedding)
		assert.Equal(t, requests[i].Style, results[i].SourceEmbedding)
	}

	assert.Equal(t, 1, env.registry.Constructions())
	assert.Equal(t, int32(2), env.loader.Converter.ConvertCalls.Load())
	env.assertNoScratchLeft(t)
}

func TestSubmit_DuplicateIDsRunSideBySide(t *testing.T) {
	t.Parallel()

	env := newEnv(t)
	env.loader.Delay = 20 * time.Millisecond

	const copies = 4

	req := validRequest(t)
	req.ID = "replayed-event"

	errs := make([]error, copies)

	var waitGroup sync.WaitGroup

	for i := range copies {
		waitGroup.Add(1)

		go func() {
			defer waitGroup.Done()

			_, errs[i] = env.pipeline.Submit(context.Background(), req)
		}()
	}

	waitGroup.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, int32(copies), env.loader.Converter.ConvertCalls.Load())
	env.assertNoScratchLeft(t)
}
