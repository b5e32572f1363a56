// Package testutil provides fixtures and fake inference collaborators for tests.
package testutil

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voiceclone-service/internal/core"
	"github.com/book-expert/voiceclone-service/internal/embedding"
	"github.com/cwbudde/wav"
	goaudio "github.com/go-audio/audio"
	"github.com/stretchr/testify/require"
)

// Fixture audio format.
const (
	SampleRate = 22050
	BitDepth   = 16
	Channels   = 1
)

// EmbeddingDim is the dimension used by fixture embeddings.
const EmbeddingDim = 8

// NewLogger creates a logger writing below the test's temp dir.
func NewLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	return log
}

// WAV renders a mono sine tone of the given length.
func WAV(t *testing.T, duration time.Duration, frequency float64) []byte {
	t.Helper()

	path := filepath.Join(t.TempDir(), "tone.wav")
	require.NoError(t, writeWAV(path, toneSamples(duration, frequency)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	return data
}

func writeWAV(path string, samples []float32) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}

	enc := wav.NewEncoder(file, SampleRate, BitDepth, Channels, 1)

	writeErr := enc.Write(&goaudio.Float32Buffer{
		Data:           samples,
		Format:         &goaudio.Format{SampleRate: SampleRate, NumChannels: Channels},
		SourceBitDepth: BitDepth,
	})

	return errors.Join(writeErr, enc.Close(), file.Close())
}

// Vector builds a deterministic fixture vector seeded by seed.
func Vector(seed float32) []float32 {
	values := make([]float32, EmbeddingDim)
	for i := range values {
		values[i] = seed + float32(i)/10
	}

	return values
}

// WriteEmbedding stores an embedding file named stem under dir.
func WriteEmbedding(t *testing.T, dir, stem string, values []float32) string {
	t.Helper()

	data, err := embedding.Encode(core.NewEmbedding(stem, values))
	require.NoError(t, err)

	require.NoError(t, os.MkdirAll(dir, 0o750))

	path := filepath.Join(dir, stem+embedding.FileExt)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	return path
}

// WriteCheckpoints creates the config and checkpoint files the registry looks for.
func WriteCheckpoints(t *testing.T, root string, dirs ...string) {
	t.Helper()

	for _, dir := range dirs {
		full := filepath.Join(root, dir)
		require.NoError(t, os.MkdirAll(full, 0o750))
		require.NoError(t, os.WriteFile(filepath.Join(full, "config.json"), []byte("{}"), 0o600))
		require.NoError(t, os.WriteFile(filepath.Join(full, "checkpoint.pth"), []byte("ckpt"), 0o600))
	}
}

// FakeSynthesizer writes a fixed tone for every call.
type FakeSynthesizer struct {
	Err   error
	Calls atomic.Int32

	mu   sync.Mutex
	Last core.SynthesisParams
}

// Synthesize implements core.Synthesizer.
func (f *FakeSynthesizer) Synthesize(_ context.Context, params core.SynthesisParams) error {
	f.Calls.Add(1)

	f.mu.Lock()
	f.Last = params
	f.mu.Unlock()

	if f.Err != nil {
		return f.Err
	}

	return writeWAV(params.OutputPath, toneSamples(time.Second, 220))
}

// LastParams returns the parameters of the most recent call.
func (f *FakeSynthesizer) LastParams() core.SynthesisParams {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.Last
}

// FakeConverter extracts a vector derived from the reference audio size and
// copies base audio to the output on conversion.
type FakeConverter struct {
	ExtractErr error
	ConvertErr error
	// Dim overrides the extracted dimension when non-zero.
	Dim int
	// Vector, when set, is returned by every extraction.
	Vector []float32
	// Hook runs before extraction; used to block or observe.
	Hook func(ctx context.Context) error

	ExtractCalls atomic.Int32
	ConvertCalls atomic.Int32

	mu          sync.Mutex
	LastExtract core.ExtractParams
	LastConvert core.ConvertParams
}

// ExtractEmbedding implements core.Extractor.
func (f *FakeConverter) ExtractEmbedding(ctx context.Context, params core.ExtractParams) (core.Embedding, error) {
	f.ExtractCalls.Add(1)

	f.mu.Lock()
	f.LastExtract = params
	f.mu.Unlock()

	if f.Hook != nil {
		err := f.Hook(ctx)
		if err != nil {
			return core.Embedding{}, err
		}
	}

	if f.ExtractErr != nil {
		return core.Embedding{}, f.ExtractErr
	}

	info, err := os.Stat(params.AudioPath)
	if err != nil {
		return core.Embedding{}, err
	}

	if params.UseVAD {
		segment := filepath.Join(params.WorkDir, "segment_0.wav")

		err = os.WriteFile(segment, []byte("segment"), 0o600)
		if err != nil {
			return core.Embedding{}, err
		}
	}

	if f.Vector != nil {
		return core.NewEmbedding(params.Name, f.Vector), nil
	}

	dim := EmbeddingDim
	if f.Dim != 0 {
		dim = f.Dim
	}

	values := make([]float32, dim)
	for i := range values {
		values[i] = float32(info.Size()%97) + float32(i)
	}

	return core.NewEmbedding(params.Name, values), nil
}

// ConvertTone implements core.Converter.
func (f *FakeConverter) ConvertTone(_ context.Context, params core.ConvertParams) error {
	f.ConvertCalls.Add(1)

	f.mu.Lock()
	f.LastConvert = params
	f.mu.Unlock()

	if f.ConvertErr != nil {
		return f.ConvertErr
	}

	if params.Source.Dim() != params.Target.Dim() {
		return errors.New("embedding dimension mismatch")
	}

	data, err := os.ReadFile(params.BaseAudioPath)
	if err != nil {
		return err
	}

	return os.WriteFile(params.OutputPath, data, 0o600)
}

// LastConvertParams returns the parameters of the most recent conversion.
func (f *FakeConverter) LastConvertParams() core.ConvertParams {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.LastConvert
}

// LastExtractParams returns the parameters of the most recent extraction.
func (f *FakeConverter) LastExtractParams() core.ExtractParams {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.LastExtract
}

// FakeLoader hands out the same fake models and counts constructions.
type FakeLoader struct {
	Synthesizer *FakeSynthesizer
	Converter   *FakeConverter
	Err         error
	// Delay slows construction to widen race windows.
	Delay time.Duration

	SynthesizerLoads atomic.Int32
	ConverterLoads   atomic.Int32
}

// NewFakeLoader creates a loader with fresh fakes.
func NewFakeLoader() *FakeLoader {
	return &FakeLoader{
		Synthesizer: &FakeSynthesizer{},
		Converter:   &FakeConverter{},
	}
}

// LoadSynthesizer implements registry.Loader.
func (f *FakeLoader) LoadSynthesizer(ctx context.Context, _ core.BundleConfig) (core.Synthesizer, error) {
	f.SynthesizerLoads.Add(1)

	err := f.wait(ctx)
	if err != nil {
		return nil, err
	}

	return f.Synthesizer, f.Err
}

// LoadConverter implements registry.Loader.
func (f *FakeLoader) LoadConverter(ctx context.Context, _ core.BundleConfig) (core.ToneConverter, error) {
	f.ConverterLoads.Add(1)

	err := f.wait(ctx)
	if err != nil {
		return nil, err
	}

	return f.Converter, f.Err
}

func (f *FakeLoader) wait(ctx context.Context) error {
	if f.Delay == 0 {
		return nil
	}

	select {
	case <-time.After(f.Delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func toneSamples(duration time.Duration, frequency float64) []float32 {
	frames := int(duration.Seconds() * SampleRate)
	samples := make([]float32, frames)

	for i := range samples {
		samples[i] = float32(0.3 * math.Sin(2*math.Pi*frequency*float64(i)/SampleRate))
	}

	return samples
}
